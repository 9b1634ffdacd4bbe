package tagging

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/kirillkom/file-annotator/internal/core/domain"
)

type visualFake struct {
	available  bool
	annotation domain.VisualAnnotation
	err        error
}

func (f *visualFake) Available() bool { return f.available }

func (f *visualFake) Annotate(context.Context, []byte, string) (domain.VisualAnnotation, error) {
	return f.annotation, f.err
}

type textFake struct {
	available bool
	scores    domain.ZeroShotScores
	err       error
	gotText   string
	gotLabels []string
}

func (f *textFake) Available() bool { return f.available }

func (f *textFake) ClassifyZeroShot(_ context.Context, text string, labels []string) (domain.ZeroShotScores, error) {
	f.gotText = text
	f.gotLabels = labels
	return f.scores, f.err
}

func imageInput() Input {
	return Input{
		Content:   domain.ExtractedContent{Kind: domain.ContentImageBytes, ImageBytes: []byte{0x89, 'P', 'N', 'G'}},
		MediaType: "image/png",
		Filename:  "pet.png",
	}
}

func TestVisualTierFiltersLowConfidenceLabels(t *testing.T) {
	tier := NewVisualTier(&visualFake{
		available: true,
		annotation: domain.VisualAnnotation{Labels: []domain.Label{
			{Text: "Cat", Score: 0.97},
			{Text: "Indoor", Score: 0.81},
			{Text: "Furniture", Score: 0.42},
		}},
	}, 0.7, 5)

	out, err := tier.Run(context.Background(), imageInput())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.Join(out.Tags, ",") != "cat,indoor" {
		t.Fatalf("unexpected tags: %v", out.Tags)
	}
	if !strings.Contains(out.Summary, "cat, indoor") {
		t.Fatalf("expected summary to name labels, got %q", out.Summary)
	}
}

func TestVisualTierAddsOCRMarkers(t *testing.T) {
	tier := NewVisualTier(&visualFake{
		available:  true,
		annotation: domain.VisualAnnotation{OCRText: "Total due 42 EUR"},
	}, 0.7, 5)

	out, err := tier.Run(context.Background(), imageInput())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.Join(out.Tags, ",") != "text,ocr" {
		t.Fatalf("unexpected tags: %v", out.Tags)
	}
	if !strings.Contains(out.Summary, "4 words") {
		t.Fatalf("expected word count in summary, got %q", out.Summary)
	}
}

func TestVisualTierUnavailable(t *testing.T) {
	tier := NewVisualTier(&visualFake{available: false}, 0.7, 5)
	if !tier.Applicable(imageInput()) {
		t.Fatalf("expected tier to accept image bytes")
	}
	_, err := tier.Run(context.Background(), imageInput())
	if !errors.Is(err, domain.ErrClassifierUnavailable) {
		t.Fatalf("expected ErrClassifierUnavailable, got %v", err)
	}
	if tier.Applicable(Input{Content: domain.ExtractedContent{Kind: domain.ContentText, Excerpt: "x"}}) {
		t.Fatalf("visual tier must skip non-image content")
	}
}

func TestZeroShotTierKeepsTopLabelsAboveThreshold(t *testing.T) {
	classifier := &textFake{
		available: true,
		scores: domain.ZeroShotScores{
			Labels: []string{"Finance", "Legal", "Report", "Sales", "Personal"},
			Scores: []float64{0.62, 0.05, 0.71, 0.31, 0.29},
		},
	}
	tier := NewZeroShotTier(classifier, []string{"finance", "legal"}, ZeroShotOptions{MinScore: 0.3, TopK: 3, PromptMax: 1000})
	excerpt := strings.Repeat("quarterly revenue grew strongly ", 60)

	out, err := tier.Run(context.Background(), Input{Content: domain.ExtractedContent{Kind: domain.ContentText, Excerpt: excerpt}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.Join(out.Tags, ",") != "report,finance,sales" {
		t.Fatalf("unexpected tags: %v", out.Tags)
	}
	if got := utf8.RuneCountInString(classifier.gotText); got != 1000 {
		t.Fatalf("expected prompt truncated to 1000 chars, got %d", got)
	}
}

func TestZeroShotTierRejectsMismatchedArrays(t *testing.T) {
	tier := NewZeroShotTier(&textFake{
		available: true,
		scores:    domain.ZeroShotScores{Labels: []string{"a", "b"}, Scores: []float64{0.9}},
	}, []string{"a", "b"}, ZeroShotOptions{})

	_, err := tier.Run(context.Background(), Input{Content: domain.ExtractedContent{Excerpt: strings.Repeat("x", 80)}})
	if !errors.Is(err, domain.ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestZeroShotTierSkipsShortExcerpt(t *testing.T) {
	tier := NewZeroShotTier(&textFake{available: true}, []string{"a"}, ZeroShotOptions{MinChars: 50})
	if tier.Applicable(Input{Content: domain.ExtractedContent{Excerpt: "too short"}}) {
		t.Fatalf("expected short excerpt to be skipped")
	}
}

func TestTopKeywordsCountsAndBreaksTiesByFirstSeen(t *testing.T) {
	tokenizer := NewTokenizer(defaultStopWords(), 4)
	text := "Budget review: the budget covers marketing and hiring. Marketing budget 2024, hiring plan."

	got := TopKeywords(tokenizer, text, 3)
	if strings.Join(got, ",") != "budget,marketing,hiring" {
		t.Fatalf("unexpected keywords: %v", got)
	}
}

func TestKeywordTierDropsStopWordsShortTokensAndNumbers(t *testing.T) {
	tier := NewKeywordTier(NewTokenizer(defaultStopWords(), 4), 10)
	out, err := tier.Run(context.Background(), Input{Content: domain.ExtractedContent{Excerpt: "this is 2024 and the cat sat with invoices"}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.Join(out.Tags, ",") != "invoices" {
		t.Fatalf("unexpected tags: %v", out.Tags)
	}
	if tier.Applicable(Input{Content: domain.ExtractedContent{Excerpt: "  "}}) {
		t.Fatalf("keyword tier must skip empty excerpt")
	}
}

func TestStaticTierMediaTypeAndFilename(t *testing.T) {
	tier := NewStaticTier(DefaultVocabulary())

	got := tier.Tags("application/pdf", "Q3-report.pdf")
	if strings.Join(got, ",") != "pdf,document,report" {
		t.Fatalf("unexpected pdf tags: %v", got)
	}

	got = tier.Tags("application/x-unknown", "archive.bin")
	if strings.Join(got, ",") != "file,bin" {
		t.Fatalf("unexpected fallback tags: %v", got)
	}

	got = tier.Tags("", "")
	if len(got) == 0 {
		t.Fatalf("static tier must always produce a tag")
	}
}

func TestStaticTierShortKeywordsMatchWholeTokens(t *testing.T) {
	tier := NewStaticTier(DefaultVocabulary())
	if got := tier.Tags("application/pdf", "cvs-export.pdf"); strings.Contains(strings.Join(got, ","), "resume") {
		t.Fatalf("cv must not match inside cvs: %v", got)
	}
	if got := tier.Tags("application/pdf", "john_cv.pdf"); !strings.Contains(strings.Join(got, ","), "resume") {
		t.Fatalf("expected resume tag for cv token: %v", got)
	}
}
