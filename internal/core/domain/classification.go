package domain

type Tier string

const (
	TierVisual   Tier = "visual"
	TierZeroShot Tier = "zero_shot"
	TierKeyword  Tier = "keyword"
	TierStatic   Tier = "static"
)

// TierErrorKind explains why a tier did not contribute.
type TierErrorKind string

const (
	TierErrorNone        TierErrorKind = ""
	TierErrorSkipped     TierErrorKind = "skipped"
	TierErrorUnavailable TierErrorKind = "unavailable"
	TierErrorTimeout     TierErrorKind = "timeout"
	TierErrorTransport   TierErrorKind = "transport"
	TierErrorMalformed   TierErrorKind = "malformed"
	TierErrorCircuitOpen TierErrorKind = "circuit_open"
	TierErrorPanic       TierErrorKind = "panic"
)

// ClassificationResult is the single result shape every tier reports through.
// A failed or skipped tier carries no tags.
type ClassificationResult struct {
	Tier      Tier          `json:"tier"`
	Tags      []string      `json:"tags"`
	Summary   string        `json:"summary,omitempty"`
	Succeeded bool          `json:"succeeded"`
	ErrorKind TierErrorKind `json:"error_kind,omitempty"`
}

func FailedResult(tier Tier, kind TierErrorKind) ClassificationResult {
	return ClassificationResult{Tier: tier, Tags: []string{}, ErrorKind: kind}
}

type Label struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// VisualAnnotation is what the visual-label service returns for one image.
type VisualAnnotation struct {
	Labels  []Label
	OCRText string
}

// ZeroShotScores mirrors the parallel-array response of a zero-shot classifier.
type ZeroShotScores struct {
	Labels []string  `json:"labels"`
	Scores []float64 `json:"scores"`
}
