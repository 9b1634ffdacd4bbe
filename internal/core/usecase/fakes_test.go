package usecase

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kirillkom/file-annotator/internal/core/domain"
)

type updateCall struct {
	id       string
	ann      domain.Annotation
	expected domain.ProcessingState
}

// fileRepoFake mirrors the conditional-update contract of the real repositories.
type fileRepoFake struct {
	mu        sync.Mutex
	files     map[string]*domain.FileRecord
	created   []*domain.FileRecord
	updates   []updateCall
	createErr error
	updateErr error
}

func newFileRepoFake(files ...*domain.FileRecord) *fileRepoFake {
	repo := &fileRepoFake{files: make(map[string]*domain.FileRecord)}
	for _, f := range files {
		copyFile := *f
		repo.files[f.ID] = &copyFile
	}
	return repo
}

func (f *fileRepoFake) Create(_ context.Context, file *domain.FileRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	copyFile := *file
	f.files[file.ID] = &copyFile
	f.created = append(f.created, &copyFile)
	return nil
}

func (f *fileRepoFake) GetByID(_ context.Context, id string) (*domain.FileRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[id]
	if !ok {
		return nil, domain.ErrFileNotFound
	}
	copyFile := *file
	return &copyFile, nil
}

func (f *fileRepoFake) UpdateAnnotation(_ context.Context, id string, ann domain.Annotation, expected domain.ProcessingState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil && ann.ProcessingState.IsTerminal() {
		return f.updateErr
	}
	file, ok := f.files[id]
	if !ok {
		return domain.ErrFileNotFound
	}
	if file.ProcessingState != expected {
		return domain.ErrStateConflict
	}
	f.updates = append(f.updates, updateCall{id: id, ann: ann, expected: expected})
	file.Tags = ann.Tags
	file.Summary = ann.Summary
	file.ProcessingState = ann.ProcessingState
	return nil
}

func (f *fileRepoFake) state(id string) domain.ProcessingState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.files[id].ProcessingState
}

type extractorFake struct {
	content domain.ExtractedContent
	err     error
	calls   atomic.Int32
}

func (f *extractorFake) Extract(context.Context, string, string) (domain.ExtractedContent, error) {
	f.calls.Add(1)
	return f.content, f.err
}

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
}

func (f *textFake) Available() bool { return f.available }

func (f *textFake) ClassifyZeroShot(context.Context, string, []string) (domain.ZeroShotScores, error) {
	return f.scores, f.err
}

type queueFake struct {
	mu        sync.Mutex
	published []domain.FileAnalysisJob
	ctxErr    error
	err       error
}

func (f *queueFake) Publish(ctx context.Context, job domain.FileAnalysisJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxErr = ctx.Err()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, job)
	return nil
}

func (f *queueFake) Subscribe(context.Context, func(context.Context, domain.FileAnalysisJob) error) error {
	return errors.New("not implemented")
}

type cacheFake struct {
	mu     sync.Mutex
	states map[string]domain.ProcessingState
}

func newCacheFake() *cacheFake {
	return &cacheFake{states: make(map[string]domain.ProcessingState)}
}

func (f *cacheFake) GetState(_ context.Context, id string) (domain.ProcessingState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.states[id]
	if !ok {
		return "", errors.New("cache miss")
	}
	return state, nil
}

func (f *cacheFake) SetState(_ context.Context, id string, state domain.ProcessingState, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[id] = state
	return nil
}

type jobObserverFake struct {
	mu     sync.Mutex
	states []domain.ProcessingState
}

func (f *jobObserverFake) ObserveJob(state domain.ProcessingState, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, state)
}

type storageFake struct {
	savedKey   string
	savedBody  string
	deletedKey string
	err        error
	deleteErr  error
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.err != nil {
		return f.err
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.savedKey = key
	f.savedBody = string(raw)
	return nil
}

func (f *storageFake) Open(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (f *storageFake) Delete(_ context.Context, key string) error {
	f.deletedKey = key
	return f.deleteErr
}

type submitterFake struct {
	jobs []domain.FileAnalysisJob
}

func (f *submitterFake) Submit(_ context.Context, job domain.FileAnalysisJob) {
	f.jobs = append(f.jobs, job)
}
