package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kirillkom/file-annotator/internal/core/domain"
	"github.com/kirillkom/file-annotator/internal/infrastructure/resilience"
)

type Options struct {
	Prefetch           int
	DialAttempts       int
	DialDelay          time.Duration
	ResilienceExecutor *resilience.Executor
}

// Queue publishes jobs to a durable queue; every consumer on that queue
// competes for deliveries, so each job reaches one worker.
type Queue struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	queueName string
	prefetch  int
	executor  *resilience.Executor

	publishMu sync.Mutex
}

func New(url, queueName string, options Options) (*Queue, error) {
	attempts := options.DialAttempts
	if attempts <= 0 {
		attempts = 10
	}
	delay := options.DialDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}
	prefetch := options.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}

	conn, err := dialWithRetry(url, attempts, delay)
	if err != nil {
		return nil, err
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if _, err := channel.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare amqp queue: %w", err)
	}
	if err := channel.Qos(prefetch, 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set amqp qos: %w", err)
	}

	return &Queue{
		conn:      conn,
		channel:   channel,
		queueName: queueName,
		prefetch:  prefetch,
		executor:  options.ResilienceExecutor,
	}, nil
}

func dialWithRetry(url string, attempts int, delay time.Duration) (*amqp.Connection, error) {
	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, err := amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		slog.Warn("amqp_dial_failed", "attempt", i, "max_attempts", attempts, "error", err)
		if i < attempts {
			time.Sleep(delay)
		}
	}
	return nil, fmt.Errorf("connect amqp after %d attempts: %w", attempts, lastErr)
}

func (q *Queue) Close() error {
	if q.channel != nil {
		_ = q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

func (q *Queue) Publish(ctx context.Context, job domain.FileAnalysisJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	call := func(callCtx context.Context) error {
		q.publishMu.Lock()
		defer q.publishMu.Unlock()
		err := q.channel.PublishWithContext(callCtx, "", q.queueName, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    job.FileID,
			Timestamp:    job.SubmittedAt,
			Body:         body,
		})
		if err != nil {
			return fmt.Errorf("amqp publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "amqp.publish", call, classifyAMQPError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		if classifyAMQPError(err).Retryable || domain.IsKind(err, domain.ErrCircuitOpen) {
			return domain.WrapError(domain.ErrTemporary, "amqp publish", err)
		}
		return err
	}
	return nil
}

// Subscribe consumes with manual acks until ctx is done. Handler errors are
// logged and acked: redelivery would not change the outcome of a job whose
// claim already moved the record out of pending.
func (q *Queue) Subscribe(ctx context.Context, handler func(context.Context, domain.FileAnalysisJob) error) error {
	deliveries, err := q.channel.ConsumeWithContext(ctx, q.queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("amqp consume: %w", err)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, q.prefetch)
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("amqp delivery channel closed")
			}
			sem <- struct{}{}
			wg.Add(1)
			go func(d amqp.Delivery) {
				defer wg.Done()
				defer func() { <-sem }()
				q.handleDelivery(context.WithoutCancel(ctx), d, handler)
			}(delivery)
		}
	}
}

func (q *Queue) handleDelivery(ctx context.Context, d amqp.Delivery, handler func(context.Context, domain.FileAnalysisJob) error) {
	var job domain.FileAnalysisJob
	if err := json.Unmarshal(d.Body, &job); err != nil || job.FileID == "" {
		slog.Error("job_decode_failed", "message_id", d.MessageId, "error", err)
		_ = d.Nack(false, false)
		return
	}
	if err := handler(ctx, job); err != nil {
		slog.Error("job_handler_failed", "file_id", job.FileID, "error", err)
	}
	if err := d.Ack(false); err != nil {
		slog.Warn("amqp_ack_failed", "file_id", job.FileID, "error", err)
	}
}

func classifyAMQPError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if resilience.CallerCanceled(err) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if errors.Is(err, amqp.ErrClosed) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) && amqpErr.Recover {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}
