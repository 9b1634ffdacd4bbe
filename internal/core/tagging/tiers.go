package tagging

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/file-annotator/internal/core/domain"
	"github.com/kirillkom/file-annotator/internal/core/ports"
)

// VisualTier sends image bytes to the visual-label service.
type VisualTier struct {
	classifier ports.VisualClassifier
	minScore   float64
	maxLabels  int
}

func NewVisualTier(classifier ports.VisualClassifier, minScore float64, maxLabels int) *VisualTier {
	if maxLabels <= 0 {
		maxLabels = 5
	}
	return &VisualTier{classifier: classifier, minScore: minScore, maxLabels: maxLabels}
}

func (t *VisualTier) Name() domain.Tier { return domain.TierVisual }

func (t *VisualTier) Applicable(in Input) bool {
	return in.Content.Kind == domain.ContentImageBytes && len(in.Content.ImageBytes) > 0
}

func (t *VisualTier) Run(ctx context.Context, in Input) (Output, error) {
	if t.classifier == nil || !t.classifier.Available() {
		return Output{}, domain.ErrClassifierUnavailable
	}
	annotation, err := t.classifier.Annotate(ctx, in.Content.ImageBytes, in.MediaType)
	if err != nil {
		return Output{}, fmt.Errorf("annotate image: %w", err)
	}

	labels := make([]string, 0, t.maxLabels)
	for _, label := range annotation.Labels {
		text := normalizeTag(label.Text)
		if text == "" || label.Score < t.minScore {
			continue
		}
		labels = append(labels, text)
		if len(labels) == t.maxLabels {
			break
		}
	}

	tags := append([]string{}, labels...)
	words := len(strings.Fields(annotation.OCRText))
	if words > 0 {
		tags = append(tags, "text", "ocr")
	}

	var summary string
	switch {
	case len(labels) > 0 && words > 0:
		summary = fmt.Sprintf("Image showing %s. Contains text (%d words).", joinFirst(labels, 3), words)
	case len(labels) > 0:
		summary = fmt.Sprintf("Image showing %s.", joinFirst(labels, 3))
	case words > 0:
		summary = fmt.Sprintf("Image containing text (%d words).", words)
	}
	return Output{Tags: tags, Summary: summary}, nil
}

// ZeroShotTier scores the excerpt against the candidate vocabulary.
type ZeroShotTier struct {
	classifier ports.TextClassifier
	labels     []string
	minChars   int
	promptMax  int
	minScore   float64
	topK       int
}

type ZeroShotOptions struct {
	MinChars  int
	PromptMax int
	MinScore  float64
	TopK      int
}

func NewZeroShotTier(classifier ports.TextClassifier, candidateLabels []string, opts ZeroShotOptions) *ZeroShotTier {
	if opts.MinChars <= 0 {
		opts.MinChars = 50
	}
	if opts.PromptMax <= 0 {
		opts.PromptMax = 1000
	}
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	return &ZeroShotTier{
		classifier: classifier,
		labels:     candidateLabels,
		minChars:   opts.MinChars,
		promptMax:  opts.PromptMax,
		minScore:   opts.MinScore,
		topK:       opts.TopK,
	}
}

func (t *ZeroShotTier) Name() domain.Tier { return domain.TierZeroShot }

func (t *ZeroShotTier) Applicable(in Input) bool {
	return len(t.labels) > 0 && utf8.RuneCountInString(strings.TrimSpace(in.Content.Excerpt)) >= t.minChars
}

func (t *ZeroShotTier) Run(ctx context.Context, in Input) (Output, error) {
	if t.classifier == nil || !t.classifier.Available() {
		return Output{}, domain.ErrClassifierUnavailable
	}
	prompt := domain.TruncateRunes(in.Content.Excerpt, t.promptMax)
	scores, err := t.classifier.ClassifyZeroShot(ctx, prompt, t.labels)
	if err != nil {
		return Output{}, fmt.Errorf("zero-shot classify: %w", err)
	}
	if len(scores.Labels) != len(scores.Scores) {
		return Output{}, domain.WrapError(
			domain.ErrMalformedResponse,
			"zero-shot classify",
			fmt.Errorf("labels/scores mismatch: %d/%d", len(scores.Labels), len(scores.Scores)),
		)
	}

	type scored struct {
		label string
		score float64
	}
	candidates := make([]scored, 0, len(scores.Labels))
	for i, label := range scores.Labels {
		label = normalizeTag(label)
		if label == "" || scores.Scores[i] < t.minScore {
			continue
		}
		candidates = append(candidates, scored{label: label, score: scores.Scores[i]})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > t.topK {
		candidates = candidates[:t.topK]
	}

	tags := make([]string, 0, len(candidates))
	for _, c := range candidates {
		tags = append(tags, c.label)
	}
	return Output{Tags: tags}, nil
}

// KeywordTier ranks local token frequency. It makes no external call.
type KeywordTier struct {
	tokenizer *Tokenizer
	topN      int
}

func NewKeywordTier(tokenizer *Tokenizer, topN int) *KeywordTier {
	if topN <= 0 {
		topN = 5
	}
	return &KeywordTier{tokenizer: tokenizer, topN: topN}
}

func (t *KeywordTier) Name() domain.Tier { return domain.TierKeyword }

func (t *KeywordTier) Applicable(in Input) bool {
	return strings.TrimSpace(in.Content.Excerpt) != ""
}

func (t *KeywordTier) Run(_ context.Context, in Input) (Output, error) {
	return Output{Tags: TopKeywords(t.tokenizer, in.Content.Excerpt, t.topN)}, nil
}

// TopKeywords returns the n most frequent tokens; ties keep first-seen order.
func TopKeywords(tokenizer *Tokenizer, text string, n int) []string {
	counts := make(map[string]int)
	order := make([]string, 0, 64)
	for _, token := range tokenizer.Tokenize(text) {
		if _, seen := counts[token]; !seen {
			order = append(order, token)
		}
		counts[token]++
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > n {
		order = order[:n]
	}
	return order
}

// StaticTier maps media type and file name to fixed tags. It needs no content
// and always yields at least one tag.
type StaticTier struct {
	vocab *Vocabulary
}

func NewStaticTier(vocab *Vocabulary) *StaticTier {
	return &StaticTier{vocab: vocab}
}

func (t *StaticTier) Name() domain.Tier { return domain.TierStatic }

func (t *StaticTier) Applicable(Input) bool { return true }

func (t *StaticTier) Run(_ context.Context, in Input) (Output, error) {
	return Output{Tags: t.Tags(in.MediaType, in.Filename)}, nil
}

func (t *StaticTier) Tags(mediaType, filename string) []string {
	rule, matched := t.vocab.MatchMediaType(mediaType)
	tags := append([]string{}, rule.Tags...)
	if !matched {
		if ext := extensionTag(filename); ext != "" {
			tags = append(tags, ext)
		}
	}
	tags = append(tags, t.vocab.FilenameTags(filename)...)
	if len(tags) == 0 {
		tags = []string{fallbackTag}
	}
	return tags
}

func extensionTag(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if ext == "" || len(ext) > 8 {
		return ""
	}
	for _, r := range ext {
		if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') {
			return ""
		}
	}
	return ext
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.Join(strings.Fields(tag), " "))
}

func joinFirst(items []string, n int) string {
	if len(items) > n {
		items = items[:n]
	}
	return strings.Join(items, ", ")
}
