package multiformat

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/kirillkom/file-annotator/internal/core/domain"
	"github.com/kirillkom/file-annotator/internal/core/ports"
)

const (
	DefaultMaxChars       = 5000
	DefaultMaxSourceBytes = 32 << 20
	DefaultMaxImageBytes  = 10 << 20
)

type Options struct {
	MaxChars       int
	MaxSourceBytes int64
	MaxImageBytes  int64
}

// Extractor reads stored bytes and dispatches to a format decoder by media type.
type Extractor struct {
	storage ports.ObjectStorage
	opts    Options
}

func NewExtractor(storage ports.ObjectStorage, opts Options) *Extractor {
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultMaxChars
	}
	if opts.MaxSourceBytes <= 0 {
		opts.MaxSourceBytes = DefaultMaxSourceBytes
	}
	if opts.MaxImageBytes <= 0 {
		opts.MaxImageBytes = DefaultMaxImageBytes
	}
	return &Extractor{storage: storage, opts: opts}
}

func (e *Extractor) Extract(ctx context.Context, contentLocation, mediaType string) (domain.ExtractedContent, error) {
	reader, err := e.storage.Open(ctx, contentLocation)
	if err != nil {
		return domain.ExtractedContent{}, domain.WrapError(domain.ErrContentUnavailable, "open content", err)
	}
	defer reader.Close()

	mt := normalizeMediaType(mediaType)
	family := familyOf(mt)

	if family == familyAudioVideo {
		// Nothing to analyze, but the bytes must still be readable.
		if _, err := reader.Read(make([]byte, 1)); err != nil && err != io.EOF {
			return domain.ExtractedContent{}, domain.WrapError(domain.ErrContentUnavailable, "read content", err)
		}
		return domain.NoContent(), nil
	}

	limit := e.opts.MaxSourceBytes
	if family == familyImage {
		limit = e.opts.MaxImageBytes
	}
	raw, err := io.ReadAll(io.LimitReader(reader, limit+1))
	if err != nil {
		return domain.ExtractedContent{}, domain.WrapError(domain.ErrContentUnavailable, "read content", err)
	}
	truncated := int64(len(raw)) > limit
	if truncated {
		raw = raw[:limit]
	}

	if family == familyImage {
		if truncated || len(raw) == 0 {
			slog.Warn("extract_image_skipped", "location", contentLocation, "bytes", len(raw), "truncated", truncated)
			return domain.NoContent(), nil
		}
		return domain.ExtractedContent{Kind: domain.ContentImageBytes, ImageBytes: raw}, nil
	}

	decode, ok := decoderFor(mt)
	if !ok {
		return domain.NoContent(), nil
	}
	text, err := safeDecode(decode, raw, e.opts.MaxChars)
	if err != nil {
		slog.Warn("extract_decode_failed", "location", contentLocation, "media_type", mt, "error", err)
		return domain.NoContent(), nil
	}

	excerpt := domain.TruncateRunes(collapseWhitespace(text), e.opts.MaxChars)
	if excerpt == "" {
		return domain.NoContent(), nil
	}
	return domain.ExtractedContent{Excerpt: excerpt, Kind: domain.ContentText}, nil
}

// safeDecode turns decoder panics into errors; some format libraries panic on
// malformed input.
func safeDecode(decode decoderFunc, raw []byte, maxChars int) (text string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			text = ""
			err = fmt.Errorf("decoder panic: %v", recovered)
		}
	}()
	return decode(raw, maxChars)
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func normalizeMediaType(mediaType string) string {
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	if idx := strings.Index(mt, ";"); idx >= 0 {
		mt = strings.TrimSpace(mt[:idx])
	}
	return mt
}

// budgetWriter stops accepting text once roughly maxChars have been collected.
type budgetWriter struct {
	buf   bytes.Buffer
	limit int
}

func newBudgetWriter(maxChars int) *budgetWriter {
	// Whitespace collapse can shrink the text, so collect some slack.
	return &budgetWriter{limit: maxChars*4 + 1024}
}

func (w *budgetWriter) WriteString(s string) {
	if w.Full() {
		return
	}
	w.buf.WriteString(s)
}

func (w *budgetWriter) Full() bool {
	return w.buf.Len() >= w.limit
}

func (w *budgetWriter) String() string {
	return w.buf.String()
}
