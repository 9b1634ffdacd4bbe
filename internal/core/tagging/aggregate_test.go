package tagging

import (
	"fmt"
	"strings"
	"testing"

	"github.com/kirillkom/file-annotator/internal/core/domain"
)

func ok(tier domain.Tier, tags ...string) domain.ClassificationResult {
	return domain.ClassificationResult{Tier: tier, Tags: tags, Succeeded: true}
}

func TestAggregateDeduplicatesCaseInsensitively(t *testing.T) {
	agg := NewAggregator(DefaultVocabulary(), 10)
	ann := agg.Aggregate([]domain.ClassificationResult{
		ok(domain.TierStatic, "pdf", "document"),
		ok(domain.TierZeroShot, "Finance", "DOCUMENT"),
		ok(domain.TierKeyword, "finance", "  Budget ", "budget"),
	}, "application/pdf", "plan.pdf")

	seen := map[string]bool{}
	for _, tag := range ann.Tags {
		key := strings.ToLower(tag)
		if seen[key] {
			t.Fatalf("duplicate tag %q in %v", tag, ann.Tags)
		}
		seen[key] = true
	}
	if strings.Join(ann.Tags, ",") != "pdf,document,finance,budget" {
		t.Fatalf("unexpected tags: %v", ann.Tags)
	}
}

func TestAggregateBoundsCardinality(t *testing.T) {
	agg := NewAggregator(DefaultVocabulary(), 8)
	var many []string
	for i := 0; i < 40; i++ {
		many = append(many, fmt.Sprintf("tag%02d", i))
	}
	ann := agg.Aggregate([]domain.ClassificationResult{
		ok(domain.TierStatic, "text"),
		ok(domain.TierKeyword, many...),
		ok(domain.TierZeroShot, many...),
	}, "text/plain", "notes.txt")

	if len(ann.Tags) != 8 {
		t.Fatalf("expected 8 tags, got %d", len(ann.Tags))
	}
	if ann.Tags[0] != "text" {
		t.Fatalf("expected static tag first, got %v", ann.Tags)
	}
}

func TestAggregateIgnoresFailedTiers(t *testing.T) {
	agg := NewAggregator(DefaultVocabulary(), 10)
	failed := domain.ClassificationResult{Tier: domain.TierVisual, Tags: []string{"leak"}, Succeeded: false}
	ann := agg.Aggregate([]domain.ClassificationResult{failed, ok(domain.TierStatic, "image")}, "image/png", "a.png")
	if strings.Join(ann.Tags, ",") != "image" {
		t.Fatalf("unexpected tags: %v", ann.Tags)
	}
}

func TestAggregateImageWithVisualLabels(t *testing.T) {
	agg := NewAggregator(DefaultVocabulary(), 10)
	visual := ok(domain.TierVisual, "cat", "indoor")
	visual.Summary = "Image showing cat, indoor."

	ann := agg.Aggregate([]domain.ClassificationResult{
		visual,
		domain.FailedResult(domain.TierZeroShot, domain.TierErrorSkipped),
		domain.FailedResult(domain.TierKeyword, domain.TierErrorSkipped),
		ok(domain.TierStatic, "image"),
	}, "image/png", "pet.png")

	if strings.Join(ann.Tags, ",") != "image,cat,indoor" {
		t.Fatalf("unexpected tags: %v", ann.Tags)
	}
	if !strings.Contains(ann.Summary, "cat, indoor") {
		t.Fatalf("expected summary to name labels, got %q", ann.Summary)
	}
}

func TestAggregateTemplatedSummary(t *testing.T) {
	agg := NewAggregator(DefaultVocabulary(), 10)
	ann := agg.Aggregate([]domain.ClassificationResult{
		ok(domain.TierStatic, "pdf", "document", "report"),
	}, "application/pdf", "Q3-report.pdf")

	want := "This document file contains report content. Format: PDF"
	if ann.Summary != want {
		t.Fatalf("expected %q, got %q", want, ann.Summary)
	}
}

func TestAggregateIsDeterministic(t *testing.T) {
	agg := NewAggregator(DefaultVocabulary(), 10)
	results := []domain.ClassificationResult{
		ok(domain.TierKeyword, "budget", "hiring"),
		ok(domain.TierStatic, "spreadsheet", "data"),
		ok(domain.TierZeroShot, "finance"),
	}
	first := agg.Aggregate(results, "text/csv", "budget.csv")
	for i := 0; i < 20; i++ {
		again := agg.Aggregate(results, "text/csv", "budget.csv")
		if strings.Join(again.Tags, ",") != strings.Join(first.Tags, ",") || again.Summary != first.Summary {
			t.Fatalf("aggregate output changed between runs")
		}
	}
	if strings.Join(first.Tags, ",") != "spreadsheet,data,finance,budget,hiring" {
		t.Fatalf("unexpected tag order: %v", first.Tags)
	}
}
