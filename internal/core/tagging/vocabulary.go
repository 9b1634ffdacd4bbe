package tagging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// MediaTypeRule maps a media type to a family and its static tags.
// Match is either an exact media type or a prefix ending in "/".
type MediaTypeRule struct {
	Match  []string `yaml:"match"`
	Family string   `yaml:"family"`
	Tags   []string `yaml:"tags"`
}

// FilenameRule appends Tags when any keyword occurs in the file name.
type FilenameRule struct {
	Keywords []string `yaml:"keywords"`
	Tags     []string `yaml:"tags"`
}

type Vocabulary struct {
	CandidateLabels []string        `yaml:"candidate_labels"`
	StopWords       []string        `yaml:"stop_words"`
	MediaTypes      []MediaTypeRule `yaml:"media_types"`
	FilenameRules   []FilenameRule  `yaml:"filename_rules"`
}

const (
	fallbackFamily = "file"
	fallbackTag    = "file"
)

func DefaultVocabulary() *Vocabulary {
	return &Vocabulary{
		CandidateLabels: []string{
			"finance", "legal", "marketing", "technology", "healthcare", "education",
			"human resources", "sales", "research", "personal",
			"invoice", "contract", "report", "presentation", "resume",
			"meeting notes", "manual", "correspondence",
		},
		StopWords: defaultStopWords(),
		MediaTypes: []MediaTypeRule{
			{Match: []string{"application/pdf"}, Family: "document", Tags: []string{"pdf", "document"}},
			{
				Match: []string{
					"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
					"application/msword",
					"application/vnd.oasis.opendocument.text",
					"application/rtf",
				},
				Family: "document",
				Tags:   []string{"document"},
			},
			{
				Match: []string{
					"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
					"application/vnd.ms-excel",
					"application/vnd.oasis.opendocument.spreadsheet",
					"text/csv",
				},
				Family: "spreadsheet",
				Tags:   []string{"spreadsheet", "data"},
			},
			{
				Match: []string{
					"application/vnd.openxmlformats-officedocument.presentationml.presentation",
					"application/vnd.ms-powerpoint",
				},
				Family: "presentation",
				Tags:   []string{"presentation"},
			},
			{Match: []string{"image/"}, Family: "image", Tags: []string{"image"}},
			{Match: []string{"video/"}, Family: "video", Tags: []string{"video"}},
			{Match: []string{"audio/"}, Family: "audio", Tags: []string{"audio"}},
			{Match: []string{"text/html"}, Family: "web", Tags: []string{"web", "html"}},
			{Match: []string{"application/json", "application/xml", "text/xml"}, Family: "data", Tags: []string{"data"}},
			{Match: []string{"text/"}, Family: "text", Tags: []string{"text"}},
			{
				Match:  []string{"application/zip", "application/x-tar", "application/gzip", "application/x-7z-compressed"},
				Family: "archive",
				Tags:   []string{"archive"},
			},
		},
		FilenameRules: []FilenameRule{
			{Keywords: []string{"report"}, Tags: []string{"report"}},
			{Keywords: []string{"invoice", "receipt", "bill"}, Tags: []string{"invoice", "finance"}},
			{Keywords: []string{"resume", "cv"}, Tags: []string{"resume"}},
			{Keywords: []string{"contract", "agreement", "nda"}, Tags: []string{"contract", "legal"}},
			{Keywords: []string{"budget", "forecast", "payroll"}, Tags: []string{"finance"}},
			{Keywords: []string{"meeting", "minutes"}, Tags: []string{"meeting"}},
			{Keywords: []string{"proposal"}, Tags: []string{"proposal"}},
			{Keywords: []string{"slides", "deck"}, Tags: []string{"presentation"}},
			{Keywords: []string{"manual", "guide", "handbook"}, Tags: []string{"documentation"}},
			{Keywords: []string{"screenshot"}, Tags: []string{"screenshot"}},
			{Keywords: []string{"photo", "img", "dsc"}, Tags: []string{"photo"}},
			{Keywords: []string{"notes"}, Tags: []string{"notes"}},
		},
	}
}

// LoadVocabulary reads a YAML vocabulary file. Sections left empty keep the
// built-in defaults.
func LoadVocabulary(path string) (*Vocabulary, error) {
	vocab := DefaultVocabulary()
	if strings.TrimSpace(path) == "" {
		return vocab, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}
	var override Vocabulary
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return nil, fmt.Errorf("parse vocabulary yaml: %w", err)
	}

	if len(override.CandidateLabels) > 0 {
		vocab.CandidateLabels = override.CandidateLabels
	}
	if len(override.StopWords) > 0 {
		vocab.StopWords = override.StopWords
	}
	if len(override.MediaTypes) > 0 {
		vocab.MediaTypes = override.MediaTypes
	}
	if len(override.FilenameRules) > 0 {
		vocab.FilenameRules = override.FilenameRules
	}
	return vocab, nil
}

// MatchMediaType returns the first matching rule, or the fallback rule that
// every media type satisfies.
func (v *Vocabulary) MatchMediaType(mediaType string) (MediaTypeRule, bool) {
	mt := normalizeMediaType(mediaType)
	for _, rule := range v.MediaTypes {
		for _, match := range rule.Match {
			match = strings.ToLower(strings.TrimSpace(match))
			if match == "" {
				continue
			}
			if strings.HasSuffix(match, "/") && strings.HasPrefix(mt, match) {
				return rule, true
			}
			if mt == match {
				return rule, true
			}
		}
	}
	return MediaTypeRule{Family: fallbackFamily, Tags: []string{fallbackTag}}, false
}

func (v *Vocabulary) Family(mediaType string) string {
	rule, _ := v.MatchMediaType(mediaType)
	if rule.Family == "" {
		return fallbackFamily
	}
	return rule.Family
}

// FilenameTags returns the tags of every rule whose keyword occurs in the
// file's base name. Keywords shorter than four characters must match a whole
// token so that "cv" does not fire on arbitrary substrings.
func (v *Vocabulary) FilenameTags(filename string) []string {
	base := strings.ToLower(strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename)))
	if base == "" || base == "." {
		return nil
	}
	tokens := make(map[string]struct{})
	for _, token := range splitAlphaNum(base) {
		tokens[token] = struct{}{}
	}

	var out []string
	for _, rule := range v.FilenameRules {
		for _, keyword := range rule.Keywords {
			keyword = strings.ToLower(strings.TrimSpace(keyword))
			if keyword == "" {
				continue
			}
			matched := false
			if len(keyword) < 4 {
				_, matched = tokens[keyword]
			} else {
				matched = strings.Contains(base, keyword)
			}
			if matched {
				out = append(out, rule.Tags...)
				break
			}
		}
	}
	return out
}

func normalizeMediaType(mediaType string) string {
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	if idx := strings.Index(mt, ";"); idx >= 0 {
		mt = strings.TrimSpace(mt[:idx])
	}
	return mt
}

func defaultStopWords() []string {
	return []string{
		"a", "an", "and", "are", "as", "at", "be", "by", "for", "from", "has", "he", "in", "is", "it",
		"its", "of", "on", "or", "that", "the", "to", "was", "were", "will", "with",
		"about", "above", "after", "again", "against", "also", "among", "because", "been", "before",
		"being", "below", "between", "both", "could", "does", "doing", "down", "during", "each",
		"even", "every", "further", "have", "having", "here", "hers", "herself", "himself", "into",
		"just", "like", "made", "make", "many", "more", "most", "much", "must", "myself", "once",
		"only", "onto", "other", "ours", "ourselves", "over", "same", "shall", "should", "some",
		"such", "than", "their", "theirs", "them", "themselves", "then", "there", "these", "they",
		"this", "those", "through", "under", "until", "upon", "used", "using", "very",
		"what", "when", "where", "which", "while", "whom", "within", "without", "would", "your",
		"yours", "yourself", "page", "http", "https", "www",
	}
}
