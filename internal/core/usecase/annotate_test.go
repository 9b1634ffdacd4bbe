package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/file-annotator/internal/core/domain"
	"github.com/kirillkom/file-annotator/internal/core/tagging"
)

const quarterlyExcerpt = "Quarterly revenue report. Revenue grew in every region while expenses stayed flat. " +
	"Revenue targets for the next quarter are set by the finance team."

func pendingFile(id, filename, mediaType string) *domain.FileRecord {
	return &domain.FileRecord{
		ID:              id,
		Filename:        filename,
		MediaType:       mediaType,
		ContentLocation: id + "_" + filename,
		Tags:            []string{},
		ProcessingState: domain.StatePending,
	}
}

func newPipeline(
	repo *fileRepoFake,
	extractor *extractorFake,
	visual *visualFake,
	text *textFake,
) *AnnotateFileUseCase {
	vocab := tagging.DefaultVocabulary()
	chain := tagging.NewChain(nil).
		Add(tagging.NewVisualTier(visual, 0.7, 5), time.Second).
		Add(tagging.NewZeroShotTier(text, vocab.CandidateLabels, tagging.ZeroShotOptions{MinScore: 0.3}), time.Second).
		Add(tagging.NewKeywordTier(tagging.NewTokenizer(vocab.StopWords, 4), 5), time.Second).
		Add(tagging.NewStaticTier(vocab), time.Second)
	return NewAnnotateFileUseCase(repo, extractor, chain, tagging.NewAggregator(vocab, tagging.DefaultMaxTags), &queueFake{})
}

func TestProcessPDFWithZeroShotTags(t *testing.T) {
	repo := newFileRepoFake(pendingFile("f-1", "Q3-report.pdf", "application/pdf"))
	extractor := &extractorFake{content: domain.ExtractedContent{Kind: domain.ContentText, Excerpt: quarterlyExcerpt}}
	text := &textFake{available: true, scores: domain.ZeroShotScores{
		Labels: []string{"Finance", "Legal", "Report", "Sales"},
		Scores: []float64{0.62, 0.05, 0.71, 0.31},
	}}
	uc := newPipeline(repo, extractor, &visualFake{}, text)

	job := domain.NewFileAnalysisJob(repo.files["f-1"])
	if err := uc.Process(context.Background(), job); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	file, _ := repo.GetByID(context.Background(), "f-1")
	if file.ProcessingState != domain.StateComplete {
		t.Fatalf("expected complete, got %s", file.ProcessingState)
	}
	if len(file.Tags) < 5 || strings.Join(file.Tags[:5], ",") != "pdf,document,report,finance,sales" {
		t.Fatalf("unexpected tags: %v", file.Tags)
	}
	if !containsTag(file.Tags, "revenue") {
		t.Fatalf("expected keyword tag revenue, got %v", file.Tags)
	}
	if file.Summary != "This document file contains report, finance, sales content. Format: PDF" {
		t.Fatalf("unexpected summary: %q", file.Summary)
	}
	if len(repo.updates) != 2 || repo.updates[0].ann.ProcessingState != domain.StateProcessing {
		t.Fatalf("expected claim then commit, got %+v", repo.updates)
	}
}

func TestProcessAllServicesFailingStillCompletes(t *testing.T) {
	repo := newFileRepoFake(pendingFile("f-1", "scan.pdf", "application/pdf"))
	extractor := &extractorFake{content: domain.ExtractedContent{Kind: domain.ContentText, Excerpt: quarterlyExcerpt}}
	text := &textFake{available: true, err: errors.New("connection refused")}
	uc := newPipeline(repo, extractor, &visualFake{err: errors.New("down")}, text)

	if err := uc.Process(context.Background(), domain.NewFileAnalysisJob(repo.files["f-1"])); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	file, _ := repo.GetByID(context.Background(), "f-1")
	if file.ProcessingState != domain.StateComplete {
		t.Fatalf("expected complete, got %s", file.ProcessingState)
	}
	if file.Tags[0] != "pdf" || !containsTag(file.Tags, "revenue") {
		t.Fatalf("expected static and keyword tags, got %v", file.Tags)
	}
}

func TestProcessNoContentFallsBackToStaticTags(t *testing.T) {
	repo := newFileRepoFake(pendingFile("f-1", "scan.pdf", "application/pdf"))
	uc := newPipeline(repo, &extractorFake{content: domain.NoContent()}, &visualFake{}, &textFake{})

	if err := uc.Process(context.Background(), domain.NewFileAnalysisJob(repo.files["f-1"])); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	file, _ := repo.GetByID(context.Background(), "f-1")
	if file.ProcessingState != domain.StateComplete {
		t.Fatalf("expected complete, got %s", file.ProcessingState)
	}
	if strings.Join(file.Tags, ",") != "pdf,document" {
		t.Fatalf("unexpected tags: %v", file.Tags)
	}
	if file.Summary == "" {
		t.Fatalf("expected templated summary")
	}
}

func TestProcessUnreadableContentMarksFailed(t *testing.T) {
	repo := newFileRepoFake(pendingFile("f-1", "broken.jpg", "image/jpeg"))
	extractor := &extractorFake{err: domain.WrapError(domain.ErrContentUnavailable, "open content", errors.New("no such object"))}
	observer := &jobObserverFake{}
	uc := newPipeline(repo, extractor, &visualFake{available: true}, &textFake{}).WithJobObserver(observer)

	if err := uc.Process(context.Background(), domain.NewFileAnalysisJob(repo.files["f-1"])); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	file, _ := repo.GetByID(context.Background(), "f-1")
	if file.ProcessingState != domain.StateFailed {
		t.Fatalf("expected failed, got %s", file.ProcessingState)
	}
	if file.Tags == nil || len(file.Tags) != 0 {
		t.Fatalf("expected empty non-nil tags, got %#v", file.Tags)
	}
	if len(observer.states) != 1 || observer.states[0] != domain.StateFailed {
		t.Fatalf("unexpected observed states: %v", observer.states)
	}
}

func TestProcessAlreadyClaimedPerformsNoWrites(t *testing.T) {
	file := pendingFile("f-1", "a.txt", "text/plain")
	file.ProcessingState = domain.StateProcessing
	repo := newFileRepoFake(file)
	extractor := &extractorFake{content: domain.NoContent()}
	uc := newPipeline(repo, extractor, &visualFake{}, &textFake{})

	err := uc.Process(context.Background(), domain.NewFileAnalysisJob(file))
	if !errors.Is(err, ErrClaimLost) || !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("expected ErrClaimLost wrapping ErrStateConflict, got %v", err)
	}
	if len(repo.updates) != 0 {
		t.Fatalf("expected no writes, got %+v", repo.updates)
	}
	if extractor.calls.Load() != 0 {
		t.Fatalf("extractor must not run for a lost claim")
	}
}

func TestProcessConcurrentTriggersClaimOnce(t *testing.T) {
	repo := newFileRepoFake(pendingFile("f-1", "notes.txt", "text/plain"))
	extractor := &extractorFake{content: domain.ExtractedContent{Kind: domain.ContentText, Excerpt: quarterlyExcerpt}}
	uc := newPipeline(repo, extractor, &visualFake{}, &textFake{})
	job := domain.NewFileAnalysisJob(repo.files["f-1"])

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = uc.Process(context.Background(), job)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrClaimLost):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one winner, got %d", succeeded)
	}
	if extractor.calls.Load() != 1 {
		t.Fatalf("expected one extraction, got %d", extractor.calls.Load())
	}
	if repo.state("f-1") != domain.StateComplete {
		t.Fatalf("expected complete, got %s", repo.state("f-1"))
	}
}

func TestProcessCommitFailureReturnsError(t *testing.T) {
	repo := newFileRepoFake(pendingFile("f-1", "a.txt", "text/plain"))
	repo.updateErr = errors.New("db down")
	uc := newPipeline(repo, &extractorFake{content: domain.NoContent()}, &visualFake{}, &textFake{})

	err := uc.Process(context.Background(), domain.NewFileAnalysisJob(repo.files["f-1"]))
	if err == nil || !strings.Contains(err.Error(), "commit annotation") {
		t.Fatalf("expected commit error, got %v", err)
	}
	if repo.state("f-1") != domain.StateProcessing {
		t.Fatalf("expected record left in processing, got %s", repo.state("f-1"))
	}
}

func TestProcessCommitConflictIsNotALostClaim(t *testing.T) {
	repo := newFileRepoFake(pendingFile("f-1", "a.txt", "text/plain"))
	repo.updateErr = domain.WrapError(domain.ErrStateConflict, "update annotation", errors.New("state is failed"))
	uc := newPipeline(repo, &extractorFake{content: domain.NoContent()}, &visualFake{}, &textFake{})

	err := uc.Process(context.Background(), domain.NewFileAnalysisJob(repo.files["f-1"]))
	if !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("expected commit conflict, got %v", err)
	}
	if errors.Is(err, ErrClaimLost) {
		t.Fatalf("commit conflict must not be reported as a lost claim: %v", err)
	}
}

func TestProcessCachedTerminalStateIsDropped(t *testing.T) {
	repo := newFileRepoFake(pendingFile("f-1", "a.txt", "text/plain"))
	cache := newCacheFake()
	cache.states["f-1"] = domain.StateComplete
	extractor := &extractorFake{content: domain.NoContent()}
	uc := newPipeline(repo, extractor, &visualFake{}, &textFake{}).WithStateCache(cache, time.Minute)

	if err := uc.Process(context.Background(), domain.NewFileAnalysisJob(repo.files["f-1"])); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(repo.updates) != 0 || extractor.calls.Load() != 0 {
		t.Fatalf("cached terminal job must not touch the pipeline")
	}
}

func TestProcessWritesTerminalStateToCache(t *testing.T) {
	repo := newFileRepoFake(pendingFile("f-1", "a.txt", "text/plain"))
	cache := newCacheFake()
	uc := newPipeline(repo, &extractorFake{content: domain.NoContent()}, &visualFake{}, &textFake{}).WithStateCache(cache, time.Minute)

	if err := uc.Process(context.Background(), domain.NewFileAnalysisJob(repo.files["f-1"])); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if cache.states["f-1"] != domain.StateComplete {
		t.Fatalf("expected cached complete state, got %q", cache.states["f-1"])
	}
}

func TestSubmitOutlivesCanceledRequest(t *testing.T) {
	queue := &queueFake{}
	uc := NewAnnotateFileUseCase(newFileRepoFake(), &extractorFake{}, tagging.NewChain(nil), tagging.NewAggregator(tagging.DefaultVocabulary(), 0), queue)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	uc.Submit(ctx, domain.FileAnalysisJob{FileID: "f-1"})

	if len(queue.published) != 1 || queue.published[0].FileID != "f-1" {
		t.Fatalf("expected published job, got %+v", queue.published)
	}
	if queue.ctxErr != nil {
		t.Fatalf("publish context must not inherit cancellation: %v", queue.ctxErr)
	}
}

func TestSubmitSwallowsPublishError(t *testing.T) {
	queue := &queueFake{err: errors.New("nats down")}
	uc := NewAnnotateFileUseCase(newFileRepoFake(), &extractorFake{}, tagging.NewChain(nil), tagging.NewAggregator(tagging.DefaultVocabulary(), 0), queue)

	uc.Submit(context.Background(), domain.FileAnalysisJob{FileID: "f-1"})
}

func containsTag(tags []string, want string) bool {
	for _, tag := range tags {
		if tag == want {
			return true
		}
	}
	return false
}
