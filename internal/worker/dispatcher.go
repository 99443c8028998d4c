// Package worker contains the dispatch worker pool that drains the
// notification queue and hands messages to the delivery transport.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dwiprasetyo/job-portal/internal/model"
	"github.com/dwiprasetyo/job-portal/internal/queue"
	"github.com/dwiprasetyo/job-portal/internal/service"
)

// Dispatcher runs a fixed pool of workers, each looping: claim a batch,
// render, send, record the outcome. Job outcomes are isolated; one malformed
// job never blocks the rest of its batch.
type Dispatcher struct {
	queue    queue.Store
	renderer service.TemplateServiceInterface
	mailer   service.MailerServiceInterface

	workerCount       int
	batchSize         int
	pollInterval      time.Duration
	visibilityTimeout time.Duration

	wg sync.WaitGroup
}

func NewDispatcher(
	q queue.Store,
	renderer service.TemplateServiceInterface,
	mailer service.MailerServiceInterface,
	workerCount, batchSize int,
	pollInterval, visibilityTimeout time.Duration,
) *Dispatcher {
	if workerCount <= 0 {
		workerCount = 1
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Dispatcher{
		queue:             q,
		renderer:          renderer,
		mailer:            mailer,
		workerCount:       workerCount,
		batchSize:         batchSize,
		pollInterval:      pollInterval,
		visibilityTimeout: visibilityTimeout,
	}
}

// Start launches the worker pool plus the visibility-timeout sweeper and
// returns immediately. Wait blocks until every goroutine exited after ctx
// cancellation.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workerCount; i++ {
		workerID := fmt.Sprintf("worker-%d", i+1)
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.runWorker(ctx, workerID)
		}()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runSweeper(ctx)
	}()

	log.Printf("[worker] dispatcher started with %d worker(s)", d.workerCount)
}

func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) runWorker(ctx context.Context, workerID string) {
	for {
		processed, err := d.runOnce(ctx, workerID)
		if err != nil {
			log.Printf("[worker] %s: claim error: %v", workerID, err)
		}
		if processed > 0 {
			continue // keep draining while jobs are available
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.pollInterval):
		}
	}
}

// runOnce claims and processes one batch, returning how many jobs it handled.
func (d *Dispatcher) runOnce(ctx context.Context, workerID string) (int, error) {
	jobs, err := d.queue.Claim(ctx, workerID, d.batchSize)
	if err != nil {
		return 0, err
	}
	for i := range jobs {
		d.processJob(ctx, &jobs[i])
	}
	return len(jobs), nil
}

func (d *Dispatcher) processJob(ctx context.Context, job *model.NotificationJob) {
	msg, err := d.renderer.Render(job.Type, job.Payload)
	if err != nil {
		// rendering problems are permanent, retrying cannot fix them
		log.Printf("[worker] job %s: render failed, dead-lettering: %v", job.ID, err)
		if dlErr := d.queue.DeadLetter(ctx, job.ID, err); dlErr != nil {
			log.Printf("[worker] job %s: dead-letter: %v", job.ID, dlErr)
		}
		return
	}

	receipt, err := d.mailer.Send(ctx, job.Recipient, *msg)
	if err != nil {
		if service.IsTemporaryTransportError(err) || errors.Is(err, context.DeadlineExceeded) {
			log.Printf("[worker] job %s: transient send failure (attempt %d/%d): %v",
				job.ID, job.Attempts+1, job.MaxAttempts, err)
			if failErr := d.queue.Fail(ctx, job.ID, err); failErr != nil {
				log.Printf("[worker] job %s: fail: %v", job.ID, failErr)
			}
			return
		}
		log.Printf("[worker] job %s: permanent send failure, dead-lettering: %v", job.ID, err)
		if dlErr := d.queue.DeadLetter(ctx, job.ID, err); dlErr != nil {
			log.Printf("[worker] job %s: dead-letter: %v", job.ID, dlErr)
		}
		return
	}

	if err := d.queue.Complete(ctx, job.ID); err != nil {
		log.Printf("[worker] job %s: complete: %v", job.ID, err)
		return
	}
	log.Printf("[worker] job %s sent (provider message %s)", job.ID, receipt)
}

// runSweeper periodically returns stuck in-flight jobs to pending so a
// crashed worker cannot strand its batch forever.
func (d *Dispatcher) runSweeper(ctx context.Context) {
	interval := d.visibilityTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			released, err := d.queue.ReleaseStuck(ctx, d.visibilityTimeout)
			if err != nil {
				log.Printf("[worker] visibility sweep: %v", err)
				continue
			}
			if released > 0 {
				log.Printf("[worker] visibility sweep released %d stuck job(s)", released)
			}
		}
	}
}
