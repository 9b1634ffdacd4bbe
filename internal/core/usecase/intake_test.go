package usecase

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kirillkom/file-annotator/internal/core/domain"
)

func TestUploadCommitsPendingRecordAndSubmits(t *testing.T) {
	repo := newFileRepoFake()
	storage := &storageFake{}
	submitter := &submitterFake{}
	uc := NewFileIntakeUseCase(repo, storage, submitter)

	file, err := uc.Upload(context.Background(), "report 1.txt", "text/plain", bytes.NewBufferString("hello"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if file.ID == "" {
		t.Fatalf("expected file id")
	}
	if file.ProcessingState != domain.StatePending {
		t.Fatalf("expected pending, got %s", file.ProcessingState)
	}
	if file.ByteSize != 5 {
		t.Fatalf("expected byte size 5, got %d", file.ByteSize)
	}
	if file.Tags == nil || len(file.Tags) != 0 {
		t.Fatalf("expected empty tags, got %#v", file.Tags)
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected repo.Create call")
	}
	if !strings.HasSuffix(storage.savedKey, "_report_1.txt") || file.ContentLocation != storage.savedKey {
		t.Fatalf("unexpected storage key %q / location %q", storage.savedKey, file.ContentLocation)
	}
	if storage.savedBody != "hello" {
		t.Fatalf("expected saved body hello, got %s", storage.savedBody)
	}
	if len(submitter.jobs) != 1 || submitter.jobs[0].FileID != file.ID || submitter.jobs[0].ContentLocation != storage.savedKey {
		t.Fatalf("unexpected submitted jobs: %+v", submitter.jobs)
	}
}

func TestUploadInfersMediaTypeFromExtension(t *testing.T) {
	cases := map[string]string{
		"scan.pdf":   "application/pdf",
		"table.xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"blob":       "application/octet-stream",
	}
	for name, want := range cases {
		repo := newFileRepoFake()
		uc := NewFileIntakeUseCase(repo, &storageFake{}, &submitterFake{})

		file, err := uc.Upload(context.Background(), name, "application/octet-stream", strings.NewReader("x"))
		if err != nil {
			t.Fatalf("%s: Upload() error = %v", name, err)
		}
		if file.MediaType != want {
			t.Fatalf("%s: expected %s, got %s", name, want, file.MediaType)
		}
	}
}

func TestUploadStorageErrorSkipsRecordAndJob(t *testing.T) {
	repo := newFileRepoFake()
	submitter := &submitterFake{}
	uc := NewFileIntakeUseCase(repo, &storageFake{err: errors.New("disk full")}, submitter)

	_, err := uc.Upload(context.Background(), "a.txt", "text/plain", strings.NewReader("x"))
	if err == nil || !strings.Contains(err.Error(), "save to object storage") {
		t.Fatalf("expected storage error, got %v", err)
	}
	if len(repo.created) != 0 || len(submitter.jobs) != 0 {
		t.Fatalf("expected no record and no job")
	}
}

func TestUploadRecordErrorDiscardsStoredObject(t *testing.T) {
	repo := newFileRepoFake()
	repo.createErr = errors.New("db down")
	storage := &storageFake{deleteErr: errors.New("bucket gone")}
	submitter := &submitterFake{}
	uc := NewFileIntakeUseCase(repo, storage, submitter)

	_, err := uc.Upload(context.Background(), "a.txt", "text/plain", strings.NewReader("x"))
	if err == nil || !strings.Contains(err.Error(), "create file record") {
		t.Fatalf("expected create error, got %v", err)
	}
	if storage.savedKey == "" || storage.deletedKey != storage.savedKey {
		t.Fatalf("expected saved object %q to be deleted, deleted %q", storage.savedKey, storage.deletedKey)
	}
	if len(submitter.jobs) != 0 {
		t.Fatalf("expected no job, got %+v", submitter.jobs)
	}
}

func TestUploadRequiresFilename(t *testing.T) {
	uc := NewFileIntakeUseCase(newFileRepoFake(), &storageFake{}, &submitterFake{})

	_, err := uc.Upload(context.Background(), "  ", "text/plain", strings.NewReader("x"))
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	uc := NewFileIntakeUseCase(newFileRepoFake(), &storageFake{}, &submitterFake{})

	_, err := uc.GetByID(context.Background(), "missing")
	if !errors.Is(err, domain.ErrFileNotFound) {
		t.Fatalf("expected ErrFileNotFound, got %v", err)
	}
}
