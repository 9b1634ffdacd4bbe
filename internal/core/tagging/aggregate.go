package tagging

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kirillkom/file-annotator/internal/core/domain"
)

const DefaultMaxTags = 10

// aggregationRank orders tier output in the merged tag list. Static tags lead
// because they are the only deterministic ones.
var aggregationRank = map[domain.Tier]int{
	domain.TierStatic:   0,
	domain.TierVisual:   1,
	domain.TierZeroShot: 2,
	domain.TierKeyword:  3,
}

type Aggregator struct {
	vocab   *Vocabulary
	maxTags int
}

func NewAggregator(vocab *Vocabulary, maxTags int) *Aggregator {
	if maxTags <= 0 {
		maxTags = DefaultMaxTags
	}
	return &Aggregator{vocab: vocab, maxTags: maxTags}
}

// Aggregate merges successful tier results into deduplicated, bounded tags and
// a one-line summary. The returned annotation carries no processing state.
func (a *Aggregator) Aggregate(results []domain.ClassificationResult, mediaType, filename string) domain.Annotation {
	ordered := make([]domain.ClassificationResult, 0, len(results))
	for _, r := range results {
		if r.Succeeded {
			ordered = append(ordered, r)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return rankOf(ordered[i].Tier) < rankOf(ordered[j].Tier)
	})

	var merged []string
	for _, r := range ordered {
		merged = append(merged, r.Tags...)
	}
	tags := MergeTags(merged, a.maxTags)

	return domain.Annotation{
		Tags:    tags,
		Summary: a.summarize(ordered, tags, mediaType, filename),
	}
}

// MergeTags lowercases, drops blanks, deduplicates keeping first-seen order and
// truncates to limit.
func MergeTags(tags []string, limit int) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		norm := normalizeTag(tag)
		if norm == "" {
			continue
		}
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (a *Aggregator) summarize(ordered []domain.ClassificationResult, tags []string, mediaType, filename string) string {
	for _, r := range ordered {
		if s := strings.TrimSpace(r.Summary); s != "" {
			return s
		}
	}

	family := a.vocab.Family(mediaType)
	format := formatLabel(mediaType, filename)
	named := contentTags(tags, a.vocab, mediaType)
	if len(named) == 0 {
		return fmt.Sprintf("This %s file has no recognizable content. Format: %s", family, format)
	}
	return fmt.Sprintf("This %s file contains %s content. Format: %s", family, joinFirst(named, 3), format)
}

// contentTags prefers tags that say something beyond the media type itself.
func contentTags(tags []string, vocab *Vocabulary, mediaType string) []string {
	rule, _ := vocab.MatchMediaType(mediaType)
	generic := make(map[string]struct{}, len(rule.Tags))
	for _, t := range rule.Tags {
		generic[normalizeTag(t)] = struct{}{}
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if _, skip := generic[t]; !skip {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return tags
	}
	return out
}

func formatLabel(mediaType, filename string) string {
	if ext := strings.TrimPrefix(filepath.Ext(filename), "."); ext != "" {
		return strings.ToUpper(ext)
	}
	mt := normalizeMediaType(mediaType)
	if idx := strings.LastIndex(mt, "/"); idx >= 0 && idx < len(mt)-1 {
		sub := mt[idx+1:]
		if dot := strings.LastIndex(sub, "."); dot >= 0 {
			sub = sub[dot+1:]
		}
		return strings.ToUpper(sub)
	}
	return "UNKNOWN"
}

func rankOf(tier domain.Tier) int {
	if rank, ok := aggregationRank[tier]; ok {
		return rank
	}
	return len(aggregationRank)
}
