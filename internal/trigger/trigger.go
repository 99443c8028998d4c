// Package trigger fans events from every match-evaluation source (webhooks,
// scheduled sweeps) into one queue consumed by the evaluator, decoupling
// trigger cadence from evaluation throughput.
package trigger

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dwiprasetyo/job-portal/internal/usecase"
)

type Kind string

const (
	KindJobPublished    Kind = "job_published"
	KindResumeActivated Kind = "resume_activated"
	KindPairRequested   Kind = "pair_requested"
	KindSweep           Kind = "sweep"
)

// Event is one match-evaluation request.
type Event struct {
	Kind     Kind
	ResumeID uuid.UUID
	JobID    uuid.UUID
	attempt  int
}

// ErrBusFull is returned when the inbound queue is saturated. Callers may
// retry; the scheduler simply reports it and moves on to the next tick.
var ErrBusFull = errors.New("trigger bus full")

const maxDeferrals = 5

// Bus buffers trigger events and drives a small pool of evaluator workers.
type Bus struct {
	events     chan Event
	evaluator  *usecase.MatchUsecase
	retryDelay time.Duration
	wg         sync.WaitGroup
}

func NewBus(evaluator *usecase.MatchUsecase, buffer int, retryDelay time.Duration) *Bus {
	if buffer <= 0 {
		buffer = 256
	}
	return &Bus{
		events:     make(chan Event, buffer),
		evaluator:  evaluator,
		retryDelay: retryDelay,
	}
}

// Publish enqueues an event without blocking the caller.
func (b *Bus) Publish(ev Event) error {
	select {
	case b.events <- ev:
		return nil
	default:
		return ErrBusFull
	}
}

// Start launches n consumer goroutines. They drain the bus until ctx is
// cancelled; Wait blocks until they exit.
func (b *Bus) Start(ctx context.Context, n int) {
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.consume(ctx)
		}()
	}
}

func (b *Bus) Wait() {
	b.wg.Wait()
}

func (b *Bus) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.events:
			b.handle(ctx, ev)
		}
	}
}

func (b *Bus) handle(ctx context.Context, ev Event) {
	var err error
	switch ev.Kind {
	case KindJobPublished:
		err = b.evaluator.EvaluateJob(ctx, ev.JobID)
	case KindResumeActivated:
		err = b.evaluator.EvaluateResume(ctx, ev.ResumeID)
	case KindPairRequested:
		err = b.evaluator.EvaluatePair(ctx, ev.ResumeID, ev.JobID)
	case KindSweep:
		_, err = b.evaluator.Sweep(ctx)
	default:
		log.Printf("[trigger] unknown event kind %q, dropping", ev.Kind)
		return
	}

	if err == nil {
		return
	}

	// A missing embedding means the provider was down; defer the event
	// instead of dropping it. Everything else is logged and dropped, the
	// sweep will pick the pair up again.
	if errors.Is(err, usecase.ErrEmbeddingUnavailable) && ev.attempt < maxDeferrals {
		ev.attempt++
		log.Printf("[trigger] %s deferred (attempt %d/%d): %v", ev.Kind, ev.attempt, maxDeferrals, err)
		go func(ev Event) {
			select {
			case <-ctx.Done():
			case <-time.After(b.retryDelay):
				if err := b.Publish(ev); err != nil {
					log.Printf("[trigger] requeue %s: %v", ev.Kind, err)
				}
			}
		}(ev)
		return
	}
	log.Printf("[trigger] %s failed: %v", ev.Kind, err)
}
