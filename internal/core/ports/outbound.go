package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/file-annotator/internal/core/domain"
)

// FileRepository is the persistence collaborator for file records.
type FileRepository interface {
	Create(ctx context.Context, file *domain.FileRecord) error
	GetByID(ctx context.Context, id string) (*domain.FileRecord, error)
	// UpdateAnnotation writes ann only if the stored state still equals expected.
	// A mismatch returns domain.ErrStateConflict and writes nothing.
	UpdateAnnotation(ctx context.Context, id string, ann domain.Annotation, expected domain.ProcessingState) error
}

// ObjectStorage stores uploaded bytes.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes an object; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// JobQueue carries analysis jobs from intake to workers.
type JobQueue interface {
	Publish(ctx context.Context, job domain.FileAnalysisJob) error
	Subscribe(ctx context.Context, handler func(context.Context, domain.FileAnalysisJob) error) error
}

// ContentExtractor turns stored bytes into a bounded excerpt. Only an unreadable
// source is returned as an error (domain.ErrContentUnavailable); decode failures
// degrade to domain.NoContent().
type ContentExtractor interface {
	Extract(ctx context.Context, contentLocation, mediaType string) (domain.ExtractedContent, error)
}

// VisualClassifier labels images and reads text from them.
type VisualClassifier interface {
	Available() bool
	Annotate(ctx context.Context, image []byte, mediaType string) (domain.VisualAnnotation, error)
}

// TextClassifier scores text against a fixed candidate vocabulary.
type TextClassifier interface {
	Available() bool
	ClassifyZeroShot(ctx context.Context, text string, candidateLabels []string) (domain.ZeroShotScores, error)
}

// StateCache remembers terminal states to drop duplicate triggers early.
type StateCache interface {
	GetState(ctx context.Context, fileID string) (domain.ProcessingState, error)
	SetState(ctx context.Context, fileID string, state domain.ProcessingState, ttl time.Duration) error
}

// TierObserver receives one call per tier per job.
type TierObserver interface {
	ObserveTier(tier domain.Tier, result domain.ClassificationResult, duration time.Duration)
}

// ClassifierChain runs every classification tier for one job's content.
type ClassifierChain interface {
	Classify(ctx context.Context, content domain.ExtractedContent, mediaType, filename string) []domain.ClassificationResult
}

// TagAggregator merges tier results into the persisted tags and summary.
type TagAggregator interface {
	Aggregate(results []domain.ClassificationResult, mediaType, filename string) domain.Annotation
}

// JobObserver receives one call per finished job with its terminal outcome.
type JobObserver interface {
	ObserveJob(state domain.ProcessingState, duration time.Duration)
}
