package zeroshot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/kirillkom/file-annotator/internal/core/domain"
)

func TestParseScoresKeepsCandidateOrder(t *testing.T) {
	raw := "Sure! ```json\n{\"scores\": {\"Report\": 0.71, \"finance\": 0.62, \"sales\": 1.4}}\n```"

	got, err := ParseScores(raw, []string{"finance", "legal", "report", "sales"})
	if err != nil {
		t.Fatalf("ParseScores() error = %v", err)
	}
	if strings.Join(got.Labels, ",") != "finance,legal,report,sales" {
		t.Fatalf("unexpected labels: %v", got.Labels)
	}
	want := []float64{0.62, 0, 0.71, 1}
	for i := range want {
		if got.Scores[i] != want[i] {
			t.Fatalf("score %d: expected %v, got %v", i, want[i], got.Scores[i])
		}
	}
}

func TestParseScoresAcceptsFlatObject(t *testing.T) {
	got, err := ParseScores(`{"legal": 0.9}`, []string{"finance", "legal"})
	if err != nil {
		t.Fatalf("ParseScores() error = %v", err)
	}
	if got.Scores[1] != 0.9 {
		t.Fatalf("unexpected scores: %v", got.Scores)
	}
}

func TestParseScoresRejectsUnrelatedReply(t *testing.T) {
	if _, err := ParseScores(`not json at all`, []string{"finance"}); !errors.Is(err, domain.ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
	if _, err := ParseScores(`{"scores": {"cooking": 0.8}}`, []string{"finance"}); !errors.Is(err, domain.ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse for unknown labels, got %v", err)
	}
}

func TestBuildPromptListsLabels(t *testing.T) {
	prompt := BuildPrompt("quarterly numbers", []string{"finance", "legal"})
	if !strings.Contains(prompt, "finance, legal") || !strings.Contains(prompt, "quarterly numbers") {
		t.Fatalf("unexpected prompt: %s", prompt)
	}
}

func TestClassifyHTTPError(t *testing.T) {
	cases := []struct {
		err    error
		record bool
	}{
		{err: &HTTPStatusError{StatusCode: 503}, record: true},
		{err: fmt.Errorf("wrapped: %w", &HTTPStatusError{StatusCode: 400}), record: false},
		{err: context.Canceled, record: false},
		{err: errors.New("eof"), record: true},
	}
	for i, tc := range cases {
		if got := ClassifyHTTPError(tc.err).RecordFailure; got != tc.record {
			t.Fatalf("case %d: expected RecordFailure=%v, got %v", i, tc.record, got)
		}
	}
}
