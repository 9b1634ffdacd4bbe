package ports

import (
	"context"
	"io"

	"github.com/kirillkom/file-annotator/internal/core/domain"
)

// FileIntake is the inbound contract for upload commit orchestration.
type FileIntake interface {
	Upload(ctx context.Context, filename, mediaType string, body io.Reader) (*domain.FileRecord, error)
}

// FileReader is the inbound read model for file records and their annotation.
type FileReader interface {
	GetByID(ctx context.Context, id string) (*domain.FileRecord, error)
}

// AnnotationSubmitter hands a job to the background pipeline. Fire-and-forget.
type AnnotationSubmitter interface {
	Submit(ctx context.Context, job domain.FileAnalysisJob)
}

// FileAnnotator runs the whole pipeline for one job.
type FileAnnotator interface {
	Process(ctx context.Context, job domain.FileAnalysisJob) error
}
