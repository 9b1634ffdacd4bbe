package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kirillkom/file-annotator/internal/core/domain"
)

// FileRepository keeps records in process memory. The state check and the
// write happen under one lock, which gives the same compare-and-set guarantee
// as the SQL repository.
type FileRepository struct {
	mu    sync.RWMutex
	files map[string]domain.FileRecord
}

func NewFileRepository() *FileRepository {
	return &FileRepository{files: make(map[string]domain.FileRecord)}
}

func (r *FileRepository) Create(_ context.Context, file *domain.FileRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.files[file.ID]; exists {
		return domain.WrapError(domain.ErrInvalidInput, "create file", fmt.Errorf("duplicate id %s", file.ID))
	}
	r.files[file.ID] = cloneRecord(*file)
	return nil
}

func (r *FileRepository) GetByID(_ context.Context, id string) (*domain.FileRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	file, ok := r.files[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrFileNotFound, "get file", fmt.Errorf("id=%s", id))
	}
	out := cloneRecord(file)
	return &out, nil
}

func (r *FileRepository) UpdateAnnotation(
	_ context.Context,
	id string,
	ann domain.Annotation,
	expected domain.ProcessingState,
) error {
	if !domain.CanTransition(expected, ann.ProcessingState) {
		return domain.WrapError(
			domain.ErrInvalidInput,
			"update annotation",
			fmt.Errorf("transition %s -> %s is not allowed", expected, ann.ProcessingState),
		)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	file, ok := r.files[id]
	if !ok {
		return domain.WrapError(domain.ErrFileNotFound, "update annotation", fmt.Errorf("id=%s", id))
	}
	if file.ProcessingState != expected {
		return domain.WrapError(
			domain.ErrStateConflict,
			"update annotation",
			fmt.Errorf("expected %s, found %s", expected, file.ProcessingState),
		)
	}

	file.Tags = append([]string{}, ann.Tags...)
	file.Summary = ann.Summary
	file.ProcessingState = ann.ProcessingState
	file.UpdatedAt = time.Now().UTC()
	r.files[id] = file
	return nil
}

func cloneRecord(file domain.FileRecord) domain.FileRecord {
	file.Tags = append([]string{}, file.Tags...)
	return file
}
