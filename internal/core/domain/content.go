package domain

type ContentKind string

const (
	ContentText       ContentKind = "text"
	ContentImageBytes ContentKind = "image-bytes"
	ContentNone       ContentKind = "none"
)

// ExtractedContent is the per-job intermediate produced by the extractor.
// Excerpt is already capped; ImageBytes is only set for ContentImageBytes.
type ExtractedContent struct {
	Excerpt    string
	Kind       ContentKind
	ImageBytes []byte
}

func NoContent() ExtractedContent {
	return ExtractedContent{Kind: ContentNone}
}

// TruncateRunes cuts s to at most limit runes.
func TruncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if len(s) <= limit {
		return s
	}
	count := 0
	for idx := range s {
		if count == limit {
			return s[:idx]
		}
		count++
	}
	return s
}
