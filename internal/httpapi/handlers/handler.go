package handlers

import (
	"context"

	"github.com/suPer8Hu/ai-stream/internal/chat"
	"github.com/suPer8Hu/ai-stream/internal/gate"
)

// JobQueue hands queued chat jobs to the job consumer.
type JobQueue interface {
	PublishJob(ctx context.Context, jobID string) error
}

type Handler struct {
	ChatSvc *chat.Service
	Jobs    JobQueue
	Gate    *gate.Gate
}

func NewHandler(svc *chat.Service, jobs JobQueue, g *gate.Gate) *Handler {
	return &Handler{ChatSvc: svc, Jobs: jobs, Gate: g}
}
