package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/file-annotator/internal/core/domain"
	"github.com/kirillkom/file-annotator/internal/infrastructure/resilience"
)

const (
	DefaultQueueGroup   = "annotators"
	DefaultConcurrency  = 4
	defaultDrainTimeout = 30 * time.Second
)

type Queue struct {
	conn         *nats.Conn
	subject      string
	queueGroup   string
	concurrency  int
	drainTimeout time.Duration
	executor     *resilience.Executor
}

type Options struct {
	QueueGroup           string
	Concurrency          int
	DrainTimeout         time.Duration
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	queueGroup := options.QueueGroup
	if queueGroup == "" {
		queueGroup = DefaultQueueGroup
	}
	concurrency := options.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	drainTimeout := options.DrainTimeout
	if drainTimeout <= 0 {
		drainTimeout = defaultDrainTimeout
	}

	conn, err := nats.Connect(
		url,
		nats.Name("file-annotator"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:         conn,
		subject:      subject,
		queueGroup:   queueGroup,
		concurrency:  concurrency,
		drainTimeout: drainTimeout,
		executor:     options.ResilienceExecutor,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) Publish(ctx context.Context, job domain.FileAnalysisJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	call := func(_ context.Context) error {
		if err := q.conn.Publish(q.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

// Subscribe joins the queue group so each job goes to exactly one worker, and
// blocks until ctx is done. Messages run on at most concurrency goroutines.
// On shutdown the subscription is drained: messages already delivered to this
// worker are still handled, and Subscribe returns after the last one finishes.
func (q *Queue) Subscribe(ctx context.Context, handler func(context.Context, domain.FileAnalysisJob) error) error {
	d := newDispatcher(context.WithoutCancel(ctx), q.concurrency, handler)

	sub, err := q.conn.QueueSubscribe(q.subject, q.queueGroup, func(msg *nats.Msg) {
		d.dispatch(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := waitUntilClosed(sub, q.drainTimeout); err != nil {
		slog.Warn("nats_drain_incomplete", "subject", q.subject, "error", err)
	}
	d.wait()
	return nil
}

// dispatcher runs job handlers on a bounded set of goroutines. dispatch blocks
// while every slot is busy, which holds back the subscription's callback.
type dispatcher struct {
	ctx      context.Context
	slots    chan struct{}
	inFlight sync.WaitGroup
	handler  func(context.Context, domain.FileAnalysisJob) error
}

func newDispatcher(ctx context.Context, concurrency int, handler func(context.Context, domain.FileAnalysisJob) error) *dispatcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &dispatcher{
		ctx:     ctx,
		slots:   make(chan struct{}, concurrency),
		handler: handler,
	}
}

func (d *dispatcher) dispatch(subject string, data []byte) {
	job, err := decodeJob(data)
	if err != nil {
		slog.Error("job_decode_failed", "subject", subject, "error", err)
		return
	}

	d.slots <- struct{}{}
	d.inFlight.Add(1)
	go func() {
		defer func() {
			<-d.slots
			d.inFlight.Done()
		}()
		if err := d.handler(d.ctx, job); err != nil {
			slog.Error("job_handler_failed", "file_id", job.FileID, "error", err)
		}
	}()
}

func (d *dispatcher) wait() {
	d.inFlight.Wait()
}

func waitUntilClosed(sub *nats.Subscription, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for sub.IsValid() {
		if time.Now().After(deadline) {
			return errors.New("subscription still draining")
		}
		time.Sleep(50 * time.Millisecond)
	}
	return nil
}

func decodeJob(data []byte) (domain.FileAnalysisJob, error) {
	var job domain.FileAnalysisJob
	if err := json.Unmarshal(data, &job); err != nil {
		return domain.FileAnalysisJob{}, fmt.Errorf("unmarshal job: %w", err)
	}
	if job.FileID == "" {
		return domain.FileAnalysisJob{}, domain.WrapError(domain.ErrInvalidInput, "decode job", errors.New("file_id is empty"))
	}
	return job, nil
}
