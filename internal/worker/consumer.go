package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/ai-stream/internal/chat"
	"github.com/suPer8Hu/ai-stream/internal/delivery"
	"github.com/suPer8Hu/ai-stream/internal/store/rabbitmq"
)

// SinkFactory hands out one sink per job.
type SinkFactory interface {
	SinkFor(jobID, sessionID string) delivery.Sink
}

// Consumer answers queued jobs through the same Service, and therefore the
// same gate, as the streaming endpoint. Run it inside the process that
// serves HTTP; a second generating process would get its own gate.
type Consumer struct {
	repo    *chat.Repo
	svc     *chat.Service
	updates SinkFactory
}

func NewConsumer(repo *chat.Repo, svc *chat.Service, updates SinkFactory) *Consumer {
	return &Consumer{repo: repo, svc: svc, updates: updates}
}

// Run feeds deliveries to concurrency workers until ctx is done or msgs is
// closed, then waits for in-flight jobs.
func (c *Consumer) Run(ctx context.Context, msgs <-chan amqp.Delivery, concurrency int) {
	if concurrency <= 0 {
		concurrency = 1
	}
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				c.handleDelivery(ctx, workerID, d)
			}
		}(i)
	}

	defer func() {
		close(jobs)
		wg.Wait()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[worker] shutting down")
			return
		case d, ok := <-msgs:
			if !ok {
				log.Printf("[worker] delivery channel closed")
				return
			}
			jobs <- d
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, workerID int, d amqp.Delivery) {
	var m rabbitmq.JobMessage
	if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
		log.Printf("[worker] worker=%d bad message: %v", workerID, err)
		_ = d.Nack(false, false)
		return
	}

	start := time.Now()
	if err := c.HandleJob(ctx, m.JobID); err != nil {
		log.Printf("[worker] worker=%d job %s failed cost=%s err=%v", workerID, m.JobID, time.Since(start), err)
		_ = d.Nack(false, false)
		return
	}
	if err := d.Ack(false); err != nil {
		log.Printf("[worker] worker=%d ack failed job=%s err=%v", workerID, m.JobID, err)
	}
}

// HandleJob runs one job and records its outcome. A nil error means the
// delivery can be acked.
func (c *Consumer) HandleJob(ctx context.Context, jobID string) error {
	jobStart := time.Now()

	_ = c.repo.UpdateJobStatusRunning(ctx, jobID)
	j, err := c.repo.GetJobByID(ctx, jobID)
	if err != nil {
		return err
	}

	t0 := time.Now()
	out, err := c.svc.Reply(ctx, j.UserID, j.SessionID, j.Prompt, j.SentAt, c.updates.SinkFor(j.ID, j.SessionID))
	genCost := time.Since(t0)

	if err != nil {
		_ = c.repo.MarkJobFailed(ctx, jobID, err.Error())
		log.Printf("job_timing_failed job=%s gen=%s total=%s err=%v", jobID, genCost, time.Since(jobStart), err)
		// Validation and configuration errors fail the same way on redelivery.
		if errors.Is(err, chat.ErrMessageTooLong) || errors.Is(err, chat.ErrRoleNotFound) {
			return nil
		}
		return err
	}

	if out.Status != chat.StatusAnswered {
		if err := c.repo.MarkJobIgnored(ctx, jobID, string(out.Status)); err != nil {
			return fmt.Errorf("mark ignored: %w", err)
		}
		log.Printf("job_ignored job=%s uid=%d reason=%s", jobID, j.UserID, out.Status)
		return nil
	}

	if err := c.repo.MarkJobSucceeded(ctx, jobID, out.MessageID); err != nil {
		return fmt.Errorf("mark succeeded: %w", err)
	}
	if total := time.Since(jobStart); total > 2*time.Second {
		log.Printf("job_timing job=%s gen=%s provider=%s attempts=%d fallback=%v total=%s",
			jobID, genCost, out.Result.Provider, len(out.Result.Attempts), out.Result.Fallback, total,
		)
	}
	return nil
}
