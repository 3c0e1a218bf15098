package trustpub

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	// DefaultConcurrency bounds in-flight registry calls per phase.
	DefaultConcurrency = 4
	// DefaultRequestTimeout bounds each registry call.
	DefaultRequestTimeout = 30 * time.Second
	// DefaultRequestInterval spaces registry calls within a phase, matching the crates.io crawler policy
	// of one request per second.
	DefaultRequestInterval = time.Second
)

// ExecutionSettings controls how per-package registry calls are scheduled. A zero RequestInterval
// leaves calls unpaced.
type ExecutionSettings struct {
	Concurrency     int
	RequestTimeout  time.Duration
	RequestInterval time.Duration
}

func (settings ExecutionSettings) normalized() ExecutionSettings {
	normalizedSettings := settings
	if normalizedSettings.Concurrency <= 0 {
		normalizedSettings.Concurrency = DefaultConcurrency
	}
	if normalizedSettings.RequestTimeout <= 0 {
		normalizedSettings.RequestTimeout = DefaultRequestTimeout
	}
	if normalizedSettings.RequestInterval < 0 {
		normalizedSettings.RequestInterval = 0
	}
	return normalizedSettings
}

// newRequestPacer returns a limiter releasing one registry call per interval.
func newRequestPacer(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// fanOut runs work for every item with at most limit calls in flight and returns once all
// of them have finished. Outcomes arrive in completion order.
func fanOut[Item any, Outcome any](executionContext context.Context, limit int, items []Item, work func(context.Context, Item) Outcome) []Outcome {
	outcomeChannel := make(chan Outcome, len(items))

	var workGroup errgroup.Group
	workGroup.SetLimit(limit)
	for _, item := range items {
		workGroup.Go(func() error {
			outcomeChannel <- work(executionContext, item)
			return nil
		})
	}
	_ = workGroup.Wait()
	close(outcomeChannel)

	outcomes := make([]Outcome, 0, len(items))
	for outcome := range outcomeChannel {
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}
