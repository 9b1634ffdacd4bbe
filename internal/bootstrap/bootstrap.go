package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/file-annotator/internal/config"
	"github.com/kirillkom/file-annotator/internal/core/domain"
	"github.com/kirillkom/file-annotator/internal/core/ports"
	"github.com/kirillkom/file-annotator/internal/core/tagging"
	"github.com/kirillkom/file-annotator/internal/core/usecase"
	rediscache "github.com/kirillkom/file-annotator/internal/infrastructure/cache/redis"
	"github.com/kirillkom/file-annotator/internal/infrastructure/extractor/multiformat"
	memoryqueue "github.com/kirillkom/file-annotator/internal/infrastructure/queue/memory"
	natsqueue "github.com/kirillkom/file-annotator/internal/infrastructure/queue/nats"
	"github.com/kirillkom/file-annotator/internal/infrastructure/queue/rabbitmq"
	memoryrepo "github.com/kirillkom/file-annotator/internal/infrastructure/repository/memory"
	"github.com/kirillkom/file-annotator/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/file-annotator/internal/infrastructure/resilience"
	"github.com/kirillkom/file-annotator/internal/infrastructure/storage/localfs"
	miniostorage "github.com/kirillkom/file-annotator/internal/infrastructure/storage/minio"
	"github.com/kirillkom/file-annotator/internal/infrastructure/vision"
	"github.com/kirillkom/file-annotator/internal/infrastructure/zeroshot/huggingface"
	"github.com/kirillkom/file-annotator/internal/infrastructure/zeroshot/ollama"
	"github.com/kirillkom/file-annotator/internal/infrastructure/zeroshot/openaicompat"
	"github.com/kirillkom/file-annotator/internal/observability/metrics"
)

const (
	defaultOllamaURL = "http://localhost:11434"
	jobTimeout       = 5 * time.Minute
	keywordTimeout   = 2 * time.Second
	staticTimeout    = time.Second
)

type App struct {
	Config config.Config

	Queue      ports.JobQueue
	Repo       ports.FileRepository
	IntakeUC   *usecase.FileIntakeUseCase
	AnnotateUC *usecase.AnnotateFileUseCase
	Metrics    *metrics.WorkerMetrics

	closers []func()
}

func New(ctx context.Context, cfg config.Config, service string) (*App, error) {
	app := &App{Config: cfg, Metrics: metrics.NewWorkerMetrics(service)}
	fail := func(err error) (*App, error) {
		app.Close()
		return nil, err
	}

	repo, err := app.buildRepository(ctx)
	if err != nil {
		return fail(err)
	}
	storage, err := buildStorage(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	queue, err := app.buildQueue()
	if err != nil {
		return fail(err)
	}

	vocab, err := tagging.LoadVocabulary(cfg.VocabularyPath)
	if err != nil {
		return fail(fmt.Errorf("load vocabulary: %w", err))
	}

	policy := resilience.ClassifierConfig()
	if cfg.BreakerMinRequests > 0 {
		policy.BreakerMinRequests = uint32(cfg.BreakerMinRequests)
	}
	if cfg.BreakerFailureRatio > 0 {
		policy.BreakerFailureRatio = cfg.BreakerFailureRatio
	}
	if cfg.BreakerOpenTimeout > 0 {
		policy.BreakerOpenTimeout = cfg.BreakerOpenTimeout
	}
	executor := resilience.NewExecutor(policy)

	visual, err := buildVisualClassifier(ctx, cfg, executor)
	if err != nil {
		return fail(err)
	}
	text := buildTextClassifier(cfg, executor)

	chain := tagging.NewChain(app.Metrics).
		Add(tagging.NewVisualTier(visual, cfg.VisionMinScore, cfg.VisionMaxLabels), cfg.VisionTimeout).
		Add(tagging.NewZeroShotTier(text, vocab.CandidateLabels, tagging.ZeroShotOptions{
			MinChars:  cfg.TextMinChars,
			PromptMax: cfg.PromptMaxChars,
			MinScore:  cfg.ZeroShotMinScore,
			TopK:      cfg.ZeroShotTopK,
		}), cfg.ZeroShotTimeout).
		Add(tagging.NewKeywordTier(tagging.NewTokenizer(vocab.StopWords, cfg.KeywordMinLen), cfg.KeywordTopN), keywordTimeout).
		Add(tagging.NewStaticTier(vocab), staticTimeout)
	aggregator := tagging.NewAggregator(vocab, cfg.MaxTags)

	extractor := multiformat.NewExtractor(storage, multiformat.Options{
		MaxChars:       cfg.ExcerptMaxChars,
		MaxSourceBytes: cfg.MaxSourceBytes,
	})

	annotateUC := usecase.NewAnnotateFileUseCase(repo, extractor, chain, aggregator, queue).
		WithJobObserver(app.Metrics).
		WithPublishTimeout(cfg.PublishTimeout)
	if cache := app.buildStateCache(ctx); cache != nil {
		annotateUC.WithStateCache(cache, cfg.StateCacheTTL)
	}

	app.Queue = queue
	app.Repo = repo
	app.AnnotateUC = annotateUC
	app.IntakeUC = usecase.NewFileIntakeUseCase(repo, storage, annotateUC)
	return app, nil
}

// InProcessQueue reports whether jobs never leave this process, in which case
// the API binary has to run the workers itself.
func (a *App) InProcessQueue() bool {
	_, ok := a.Queue.(*memoryqueue.Queue)
	return ok
}

// Drain finishes every accepted job of an in-process queue.
func (a *App) Drain(ctx context.Context) error {
	q, ok := a.Queue.(*memoryqueue.Queue)
	if !ok {
		return nil
	}
	return q.Drain(ctx)
}

// HandleJob is the queue handler shared by every backend. Handler errors are
// logged by the queue and acknowledged. A lost claim is not an error; a state
// conflict at commit time is.
func (a *App) HandleJob(ctx context.Context, job domain.FileAnalysisJob) error {
	if !job.SubmittedAt.IsZero() {
		a.Metrics.ObserveQueueLag(time.Since(job.SubmittedAt))
	}
	a.Metrics.StartJob()
	defer a.Metrics.FinishJob()

	processCtx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	err := a.AnnotateUC.Process(processCtx, job)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, usecase.ErrClaimLost):
		a.Metrics.RecordDropped("claimed")
		return nil
	case domain.IsKind(err, domain.ErrFileNotFound):
		a.Metrics.RecordDropped("not_found")
		slog.Warn("annotation_job_skipped", "file_id", job.FileID, "reason", err.Error())
		return nil
	default:
		return err
	}
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) buildRepository(ctx context.Context) (ports.FileRepository, error) {
	switch strings.ToLower(a.Config.FileStore) {
	case "memory":
		return memoryrepo.NewFileRepository(), nil
	case "", "postgres":
		db, err := postgres.OpenDB(a.Config.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, func() { closeDB(db) })
		repo := postgres.NewFileRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown FILE_STORE %q", a.Config.FileStore)
	}
}

func buildStorage(ctx context.Context, cfg config.Config) (ports.ObjectStorage, error) {
	switch strings.ToLower(cfg.StorageBackend) {
	case "", "localfs":
		storage, err := localfs.New(cfg.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("init object storage: %w", err)
		}
		return storage, nil
	case "minio":
		storage, err := miniostorage.New(ctx, miniostorage.Config{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			Region:    cfg.MinIORegion,
			UseSSL:    cfg.MinIOUseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("init minio storage: %w", err)
		}
		return storage, nil
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.StorageBackend)
	}
}

func (a *App) buildQueue() (ports.JobQueue, error) {
	cfg := a.Config
	queueExecutor := resilience.NewExecutor(resilience.DefaultConfig())

	switch strings.ToLower(cfg.QueueBackend) {
	case "", "nats":
		queue, err := natsqueue.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, natsqueue.Options{
			QueueGroup:         cfg.NATSQueueGroup,
			Concurrency:        cfg.WorkerConcurrency,
			ResilienceExecutor: queueExecutor,
		})
		if err != nil {
			return nil, fmt.Errorf("init nats queue: %w", err)
		}
		a.closers = append(a.closers, queue.Close)
		return queue, nil
	case "rabbitmq":
		queue, err := rabbitmq.New(cfg.RabbitMQURL, cfg.RabbitMQQueue, rabbitmq.Options{
			Prefetch:           cfg.RabbitMQPrefetch,
			ResilienceExecutor: queueExecutor,
		})
		if err != nil {
			return nil, fmt.Errorf("init rabbitmq queue: %w", err)
		}
		a.closers = append(a.closers, func() { _ = queue.Close() })
		return queue, nil
	case "memory":
		return memoryqueue.New(0, cfg.WorkerConcurrency), nil
	default:
		return nil, fmt.Errorf("unknown QUEUE_BACKEND %q", cfg.QueueBackend)
	}
}

// buildStateCache returns nil when Redis is not configured or unreachable;
// the cache is an optimisation and never blocks startup.
func (a *App) buildStateCache(ctx context.Context) ports.StateCache {
	if strings.TrimSpace(a.Config.RedisAddr) == "" {
		return nil
	}
	cache, err := rediscache.New(ctx, a.Config.RedisAddr, a.Config.RedisPassword, a.Config.RedisDB)
	if err != nil {
		slog.Warn("state_cache_disabled", "addr", a.Config.RedisAddr, "error", err)
		return nil
	}
	a.closers = append(a.closers, func() { _ = cache.Close() })
	return cache
}

func buildVisualClassifier(ctx context.Context, cfg config.Config, executor *resilience.Executor) (ports.VisualClassifier, error) {
	if strings.TrimSpace(cfg.VisionAPIKey) == "" {
		slog.Info("visual_classifier_disabled", "reason", "VISION_API_KEY is empty")
		return vision.Unavailable{}, nil
	}
	client, err := vision.NewCloudVision(ctx, vision.Config{
		APIKey:    cfg.VisionAPIKey,
		Endpoint:  cfg.VisionEndpoint,
		MaxLabels: int64(cfg.VisionMaxLabels),
	}, executor)
	if err != nil {
		return nil, fmt.Errorf("init vision client: %w", err)
	}
	return client, nil
}

func buildTextClassifier(cfg config.Config, executor *resilience.Executor) ports.TextClassifier {
	var classifier ports.TextClassifier
	switch strings.ToLower(cfg.ZeroShotProvider) {
	case "openai":
		classifier = openaicompat.New(cfg.ZeroShotURL, cfg.ZeroShotAPIKey, cfg.ZeroShotModel, executor)
	case "ollama":
		baseURL := cfg.ZeroShotURL
		if baseURL == "" {
			baseURL = defaultOllamaURL
		}
		classifier = ollama.New(baseURL, cfg.ZeroShotModel, cfg.ZeroShotTimeout, executor)
	default:
		classifier = huggingface.New(cfg.ZeroShotURL, cfg.ZeroShotModel, cfg.ZeroShotAPIKey, cfg.ZeroShotTimeout, executor)
	}
	if !classifier.Available() {
		slog.Info("text_classifier_disabled", "provider", cfg.ZeroShotProvider, "reason", "ZEROSHOT_MODEL is empty")
	}
	return classifier
}

func closeDB(db *sql.DB) {
	if err := db.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		slog.Warn("postgres_close_failed", "error", err)
	}
}
