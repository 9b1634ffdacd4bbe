package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/file-annotator/internal/core/domain"
	"github.com/kirillkom/file-annotator/internal/core/ports"
)

// officeMediaTypes covers extensions missing from the builtin mime table.
var officeMediaTypes = map[string]string{
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".odt":  "application/vnd.oasis.opendocument.text",
	".ods":  "application/vnd.oasis.opendocument.spreadsheet",
	".doc":  "application/msword",
	".xls":  "application/vnd.ms-excel",
	".ppt":  "application/vnd.ms-powerpoint",
	".csv":  "text/csv",
	".md":   "text/markdown",
	".txt":  "text/plain",
	".mp3":  "audio/mpeg",
	".mp4":  "video/mp4",
	".zip":  "application/zip",
}

const discardTimeout = 10 * time.Second

type FileIntakeUseCase struct {
	repo      ports.FileRepository
	storage   ports.ObjectStorage
	submitter ports.AnnotationSubmitter
}

func NewFileIntakeUseCase(
	repo ports.FileRepository,
	storage ports.ObjectStorage,
	submitter ports.AnnotationSubmitter,
) *FileIntakeUseCase {
	return &FileIntakeUseCase{
		repo:      repo,
		storage:   storage,
		submitter: submitter,
	}
}

// Upload stores the bytes, commits a pending record and submits the analysis
// job. The response does not wait for annotation.
func (uc *FileIntakeUseCase) Upload(
	ctx context.Context,
	filename, mediaType string,
	body io.Reader,
) (*domain.FileRecord, error) {
	if strings.TrimSpace(filename) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload file", errors.New("filename is required"))
	}

	id := uuid.NewString()
	storageKey := fmt.Sprintf("%s_%s", id, sanitizeFilename(filename))
	now := time.Now().UTC()

	counter := &countingReader{reader: body}
	if err := uc.storage.Save(ctx, storageKey, counter); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	file := &domain.FileRecord{
		ID:              id,
		Filename:        filename,
		MediaType:       resolveMediaType(mediaType, filename),
		ByteSize:        counter.n,
		ContentLocation: storageKey,
		Tags:            []string{},
		ProcessingState: domain.StatePending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := uc.repo.Create(ctx, file); err != nil {
		uc.discardObject(ctx, storageKey)
		return nil, fmt.Errorf("create file record: %w", err)
	}

	uc.submitter.Submit(ctx, domain.NewFileAnalysisJob(file))
	return file, nil
}

// discardObject removes bytes that no record points at. Failure leaves an
// orphaned object, which is logged with its key for manual cleanup.
func (uc *FileIntakeUseCase) discardObject(ctx context.Context, key string) {
	deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), discardTimeout)
	defer cancel()
	if err := uc.storage.Delete(deleteCtx, key); err != nil {
		slog.Warn("upload_object_orphaned", "storage_key", key, "error", err)
	}
}

func (uc *FileIntakeUseCase) GetByID(ctx context.Context, id string) (*domain.FileRecord, error) {
	file, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch file by id: %w", err)
	}
	return file, nil
}

type countingReader struct {
	reader io.Reader
	n      int64
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.n += int64(n)
	return n, err
}

// resolveMediaType trusts the declared type unless it is missing or generic.
func resolveMediaType(declared, filename string) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if mt, ok := officeMediaTypes[ext]; ok {
		return mt
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		return mt
	}
	return "application/octet-stream"
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "file.bin"
	}
	return base
}
