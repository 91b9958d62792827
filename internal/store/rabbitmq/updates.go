package rabbitmq

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/ai-stream/internal/delivery"
)

// Update is one edit of a job's reply message. Seq 0 is the placeholder;
// consumers keep the highest Seq they have seen per job.
type Update struct {
	JobID     string `json:"job_id"`
	SessionID string `json:"session_id"`
	Seq       int    `json:"seq"`
	Phase     string `json:"phase"`
	Final     bool   `json:"final"`
	Text      string `json:"text"`
}

// UpdatePublisher sends paced reply edits to the queue the chat transport
// consumes.
type UpdatePublisher struct {
	mu    sync.Mutex
	ch    *amqp.Channel
	queue string
}

func NewUpdatePublisher(ch *amqp.Channel, queue string) (*UpdatePublisher, error) {
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, err
	}
	return &UpdatePublisher{ch: ch, queue: queue}, nil
}

func (p *UpdatePublisher) Publish(ctx context.Context, u Update) error {
	body, err := json.Marshal(u)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(cctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Timestamp:    time.Now(),
	})
}

// SinkFor returns a delivery.Sink that publishes the edits of one job.
func (p *UpdatePublisher) SinkFor(jobID, sessionID string) delivery.Sink {
	return &jobSink{pub: p, jobID: jobID, sessionID: sessionID}
}

type jobSink struct {
	pub       *UpdatePublisher
	jobID     string
	sessionID string
}

func (s *jobSink) Flush(ctx context.Context, text string, meta delivery.FlushMeta) error {
	return s.pub.Publish(ctx, Update{
		JobID:     s.jobID,
		SessionID: s.sessionID,
		Seq:       meta.Seq,
		Phase:     string(meta.Phase),
		Final:     meta.Final,
		Text:      text,
	})
}
