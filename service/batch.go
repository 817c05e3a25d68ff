package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
)

const (
	defaultItemRetries  = 3
	defaultRetryBackoff = time.Second
)

// BatchItem is one unit of work in a bulk job
type BatchItem struct {
	Name string
	Work func(ctx context.Context) error
}

// BatchProcessor runs bulk jobs (e.g. persisting many document extractions
// for one case) with at-least-once, bounded-retry semantics: each item
// retries independently up to the max, completed items are never rolled
// back, and the aggregate job fails if any item exhausts its retries.
type BatchProcessor struct {
	maxRetries int
	backoff    time.Duration
}

// BatchOption is a functional option for BatchProcessor
type BatchOption func(*BatchProcessor)

// BatchWithMaxRetries sets the per-item retry cap
func BatchWithMaxRetries(max int) BatchOption {
	return func(p *BatchProcessor) {
		p.maxRetries = max
	}
}

// BatchWithBackoff sets the initial retry backoff
func BatchWithBackoff(backoff time.Duration) BatchOption {
	return func(p *BatchProcessor) {
		p.backoff = backoff
	}
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(opts ...BatchOption) *BatchProcessor {
	p := &BatchProcessor{
		maxRetries: defaultItemRetries,
		backoff:    defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// BatchError reports the items that exhausted their retries
type BatchError struct {
	Failed []string
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch failed for items: %s", strings.Join(e.Failed, ", "))
}

// Process runs every item sequentially. A failed item is retried with
// backoff up to the cap; items that already completed stay completed
// regardless of later failures.
func (p *BatchProcessor) Process(ctx context.Context, items []BatchItem) error {
	var failed []string

	for _, item := range items {
		if err := p.processItem(ctx, item); err != nil {
			log.Printf("Warning: batch item %s exhausted retries: %v", item.Name, err)
			failed = append(failed, item.Name)
		}
	}

	if len(failed) > 0 {
		return &BatchError{Failed: failed}
	}
	return nil
}

func (p *BatchProcessor) processItem(ctx context.Context, item BatchItem) error {
	backoff := p.backoff
	var err error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}

		err = item.Work(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}
