package tagging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/file-annotator/internal/core/domain"
	"github.com/kirillkom/file-annotator/internal/core/ports"
)

// Input is what every tier sees for one job.
type Input struct {
	Content   domain.ExtractedContent
	MediaType string
	Filename  string
}

// Output is a tier's contribution before the chain wraps it into a result.
type Output struct {
	Tags    []string
	Summary string
}

// Tier is one classification strategy. Applicable reports whether the tier's
// required input is present; a tier that is not applicable is skipped.
type Tier interface {
	Name() domain.Tier
	Applicable(in Input) bool
	Run(ctx context.Context, in Input) (Output, error)
}

type chainEntry struct {
	tier    Tier
	timeout time.Duration
}

// Chain runs tiers sequentially in registration order. Every tier error is
// converted to a failed result at the tier boundary.
type Chain struct {
	entries  []chainEntry
	observer ports.TierObserver
}

func NewChain(observer ports.TierObserver) *Chain {
	return &Chain{observer: observer}
}

// Add registers a tier with its own timeout. A zero timeout means the tier is
// bounded only by the caller's context.
func (c *Chain) Add(tier Tier, timeout time.Duration) *Chain {
	c.entries = append(c.entries, chainEntry{tier: tier, timeout: timeout})
	return c
}

// Classify runs every registered tier against one job's content and returns
// one result per tier in execution order.
func (c *Chain) Classify(ctx context.Context, content domain.ExtractedContent, mediaType, filename string) []domain.ClassificationResult {
	in := Input{Content: content, MediaType: mediaType, Filename: filename}
	results := make([]domain.ClassificationResult, 0, len(c.entries))
	for _, entry := range c.entries {
		start := time.Now()
		result := c.runTier(ctx, entry, in)
		if c.observer != nil {
			c.observer.ObserveTier(entry.tier.Name(), result, time.Since(start))
		}
		results = append(results, result)
	}
	return results
}

func (c *Chain) runTier(ctx context.Context, entry chainEntry, in Input) (result domain.ClassificationResult) {
	name := entry.tier.Name()
	if !entry.tier.Applicable(in) {
		return domain.FailedResult(name, domain.TierErrorSkipped)
	}

	tierCtx := ctx
	if entry.timeout > 0 {
		var cancel context.CancelFunc
		tierCtx, cancel = context.WithTimeout(ctx, entry.timeout)
		defer cancel()
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			slog.Error("tier_panic", "tier", string(name), "panic", fmt.Sprint(recovered))
			result = domain.FailedResult(name, domain.TierErrorPanic)
		}
	}()

	out, err := entry.tier.Run(tierCtx, in)
	if err != nil {
		kind := classifyTierError(tierCtx, err)
		slog.Warn("tier_failed", "tier", string(name), "error_kind", string(kind), "error", err)
		return domain.FailedResult(name, kind)
	}

	tags := out.Tags
	if tags == nil {
		tags = []string{}
	}
	return domain.ClassificationResult{
		Tier:      name,
		Tags:      tags,
		Summary:   out.Summary,
		Succeeded: true,
	}
}

func classifyTierError(ctx context.Context, err error) domain.TierErrorKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return domain.TierErrorTimeout
	case errors.Is(err, domain.ErrCircuitOpen):
		return domain.TierErrorCircuitOpen
	case errors.Is(err, domain.ErrClassifierUnavailable):
		return domain.TierErrorUnavailable
	case errors.Is(err, domain.ErrMalformedResponse):
		return domain.TierErrorMalformed
	default:
		return domain.TierErrorTransport
	}
}
