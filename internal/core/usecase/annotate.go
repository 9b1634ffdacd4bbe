package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/file-annotator/internal/core/domain"
	"github.com/kirillkom/file-annotator/internal/core/ports"
)

// ErrClaimLost marks a job whose file was already claimed by another run. It
// wraps domain.ErrStateConflict; conflicts at commit time do not carry it.
var ErrClaimLost = errors.New("claim lost")

const (
	defaultPublishTimeout = 5 * time.Second
	defaultStateCacheTTL  = 24 * time.Hour
)

// AnnotateFileUseCase is the job runner: it claims a pending file, extracts
// content, runs the classifier chain and commits the aggregated annotation.
type AnnotateFileUseCase struct {
	repo       ports.FileRepository
	extractor  ports.ContentExtractor
	chain      ports.ClassifierChain
	aggregator ports.TagAggregator
	queue      ports.JobQueue

	cache          ports.StateCache
	cacheTTL       time.Duration
	observer       ports.JobObserver
	publishTimeout time.Duration
}

func NewAnnotateFileUseCase(
	repo ports.FileRepository,
	extractor ports.ContentExtractor,
	chain ports.ClassifierChain,
	aggregator ports.TagAggregator,
	queue ports.JobQueue,
) *AnnotateFileUseCase {
	return &AnnotateFileUseCase{
		repo:           repo,
		extractor:      extractor,
		chain:          chain,
		aggregator:     aggregator,
		queue:          queue,
		cacheTTL:       defaultStateCacheTTL,
		publishTimeout: defaultPublishTimeout,
	}
}

// WithStateCache enables the terminal-state fast path for duplicate triggers.
func (uc *AnnotateFileUseCase) WithStateCache(cache ports.StateCache, ttl time.Duration) *AnnotateFileUseCase {
	uc.cache = cache
	if ttl > 0 {
		uc.cacheTTL = ttl
	}
	return uc
}

func (uc *AnnotateFileUseCase) WithJobObserver(observer ports.JobObserver) *AnnotateFileUseCase {
	uc.observer = observer
	return uc
}

func (uc *AnnotateFileUseCase) WithPublishTimeout(timeout time.Duration) *AnnotateFileUseCase {
	if timeout > 0 {
		uc.publishTimeout = timeout
	}
	return uc
}

// Submit publishes the job and returns immediately. Publishing outlives the
// caller's request context; failures are only logged.
func (uc *AnnotateFileUseCase) Submit(ctx context.Context, job domain.FileAnalysisJob) {
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uc.publishTimeout)
	defer cancel()

	if err := uc.queue.Publish(publishCtx, job); err != nil {
		slog.Error("annotation_submit_failed", "file_id", job.FileID, "error", err)
		return
	}
	slog.Debug("annotation_submitted", "file_id", job.FileID, "media_type", job.MediaType)
}

func (uc *AnnotateFileUseCase) Process(ctx context.Context, job domain.FileAnalysisJob) error {
	started := time.Now()

	if uc.cachedTerminal(ctx, job.FileID) {
		slog.Info("annotation_job_dropped", "file_id", job.FileID, "reason", "terminal_state_cached")
		return nil
	}

	file, err := uc.repo.GetByID(ctx, job.FileID)
	if err != nil {
		return fmt.Errorf("fetch file by id: %w", err)
	}

	if err := uc.claim(ctx, file); err != nil {
		if errors.Is(err, ErrClaimLost) {
			slog.Info("annotation_job_dropped", "file_id", job.FileID, "reason", "already_claimed")
		}
		return err
	}

	mediaType := firstNonEmpty(job.MediaType, file.MediaType)
	location := firstNonEmpty(job.ContentLocation, file.ContentLocation)

	content, err := uc.extractor.Extract(ctx, location, mediaType)
	if err != nil {
		return uc.fail(ctx, file.ID, started, err)
	}

	results := uc.chain.Classify(ctx, content, mediaType, file.Filename)
	annotation := uc.aggregator.Aggregate(results, mediaType, file.Filename)
	annotation.ProcessingState = domain.StateComplete
	if annotation.Tags == nil {
		annotation.Tags = []string{}
	}

	if err := uc.repo.UpdateAnnotation(ctx, file.ID, annotation, domain.StateProcessing); err != nil {
		slog.Error("annotation_commit_failed", "file_id", file.ID, "error", err)
		return fmt.Errorf("commit annotation: %w", err)
	}
	uc.finish(ctx, file.ID, domain.StateComplete, started)

	slog.Info(
		"annotation_completed",
		"file_id", file.ID,
		"media_type", mediaType,
		"content_kind", string(content.Kind),
		"tags", len(annotation.Tags),
		"tiers_succeeded", countSucceeded(results),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return nil
}

// claim moves the record pending -> processing. Losing the race surfaces as
// domain.ErrStateConflict from the repository.
func (uc *AnnotateFileUseCase) claim(ctx context.Context, file *domain.FileRecord) error {
	if file.ProcessingState != domain.StatePending {
		conflict := domain.WrapError(domain.ErrStateConflict, "check state", fmt.Errorf("state is %s", file.ProcessingState))
		return domain.WrapError(ErrClaimLost, "claim file", conflict)
	}
	claimed := file.Annotation()
	claimed.ProcessingState = domain.StateProcessing
	if err := uc.repo.UpdateAnnotation(ctx, file.ID, claimed, domain.StatePending); err != nil {
		if domain.IsKind(err, domain.ErrStateConflict) {
			return domain.WrapError(ErrClaimLost, "claim file", err)
		}
		return fmt.Errorf("claim file: %w", err)
	}
	return nil
}

func (uc *AnnotateFileUseCase) fail(ctx context.Context, fileID string, started time.Time, cause error) error {
	slog.Warn("annotation_content_unavailable", "file_id", fileID, "error", cause)

	failed := domain.Annotation{Tags: []string{}, ProcessingState: domain.StateFailed}
	if err := uc.repo.UpdateAnnotation(ctx, fileID, failed, domain.StateProcessing); err != nil {
		slog.Error("annotation_commit_failed", "file_id", fileID, "error", err)
		return fmt.Errorf("%w; mark failed: %v", cause, err)
	}
	uc.finish(ctx, fileID, domain.StateFailed, started)
	return nil
}

func (uc *AnnotateFileUseCase) finish(ctx context.Context, fileID string, state domain.ProcessingState, started time.Time) {
	if uc.observer != nil {
		uc.observer.ObserveJob(state, time.Since(started))
	}
	if uc.cache == nil {
		return
	}
	if err := uc.cache.SetState(ctx, fileID, state, uc.cacheTTL); err != nil {
		slog.Warn("state_cache_write_failed", "file_id", fileID, "error", err)
	}
}

func (uc *AnnotateFileUseCase) cachedTerminal(ctx context.Context, fileID string) bool {
	if uc.cache == nil {
		return false
	}
	state, err := uc.cache.GetState(ctx, fileID)
	if err != nil {
		return false
	}
	return state.IsTerminal()
}

func countSucceeded(results []domain.ClassificationResult) int {
	count := 0
	for _, result := range results {
		if result.Succeeded {
			count++
		}
	}
	return count
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
