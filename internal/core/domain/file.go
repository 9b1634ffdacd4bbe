package domain

import "time"

type ProcessingState string

const (
	StatePending    ProcessingState = "pending"
	StateProcessing ProcessingState = "processing"
	StateComplete   ProcessingState = "complete"
	StateFailed     ProcessingState = "failed"
)

// IsTerminal reports whether no further transition may leave the state.
func (s ProcessingState) IsTerminal() bool {
	return s == StateComplete || s == StateFailed
}

// CanTransition encodes pending -> processing -> {complete, failed}.
func CanTransition(from, to ProcessingState) bool {
	switch from {
	case StatePending:
		return to == StateProcessing
	case StateProcessing:
		return to == StateComplete || to == StateFailed
	default:
		return false
	}
}

type FileRecord struct {
	ID              string          `json:"id"`
	Filename        string          `json:"filename"`
	MediaType       string          `json:"media_type"`
	ByteSize        int64           `json:"byte_size"`
	ContentLocation string          `json:"content_location"`
	Tags            []string        `json:"tags"`
	Summary         string          `json:"summary,omitempty"`
	ProcessingState ProcessingState `json:"processing_state"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Annotation is the sub-record written exclusively by the annotation pipeline.
type Annotation struct {
	Tags            []string        `json:"tags"`
	Summary         string          `json:"summary"`
	ProcessingState ProcessingState `json:"processing_state"`
}

func (f *FileRecord) Annotation() Annotation {
	return Annotation{
		Tags:            f.Tags,
		Summary:         f.Summary,
		ProcessingState: f.ProcessingState,
	}
}
