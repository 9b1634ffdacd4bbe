package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestClassifyAMQPError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
		record    bool
	}{
		{name: "closed", err: fmt.Errorf("amqp publish: %w", amqp.ErrClosed), retryable: true, record: true},
		{name: "recoverable", err: &amqp.Error{Code: amqp.ResourceError, Recover: true}, retryable: true, record: true},
		{name: "hard", err: &amqp.Error{Code: amqp.AccessRefused}, retryable: false, record: true},
		{name: "canceled", err: context.Canceled, retryable: false, record: false},
		{name: "other", err: errors.New("boom"), retryable: false, record: true},
	}
	for _, tc := range cases {
		got := classifyAMQPError(tc.err)
		if got.Retryable != tc.retryable || got.RecordFailure != tc.record {
			t.Fatalf("%s: unexpected classification %+v", tc.name, got)
		}
	}
}
