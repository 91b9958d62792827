package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ai-stream/internal/ai"
	"github.com/suPer8Hu/ai-stream/internal/chat"
	"github.com/suPer8Hu/ai-stream/internal/common"
	"github.com/suPer8Hu/ai-stream/internal/httpapi/middleware"
	"gorm.io/gorm"
)

const heartbeatEvery = 15 * time.Second

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

type createSessionReq struct {
	QualityMode   string `json:"quality_mode"`
	RoleID        string `json:"role_id"`
	ContextSource string `json:"context_source"`
}

func (h *Handler) CreateChatSession(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req createSessionReq
	_ = c.ShouldBindJSON(&req) // allow empty {}

	sess, err := h.ChatSvc.CreateSession(c.Request.Context(), uid, req.QualityMode, req.RoleID, req.ContextSource)
	if err != nil {
		log.Printf("[CreateChatSession] failed uid=%d err=%v", uid, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to create session")
		return
	}

	common.OK(c, gin.H{
		"session_id":   sess.SessionID,
		"quality_mode": sess.QualityMode,
		"role_id":      sess.RoleID,
	})
}

func (h *Handler) ListChatMessages(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	sessionID := c.Param("session_id")

	limit, _ := strconv.Atoi(c.Query("limit"))
	var beforeID uint64
	if s := c.Query("before_id"); s != "" {
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			beforeID = n
		}
	}

	msgs, err := h.ChatSvc.ListMessages(c.Request.Context(), uid, sessionID, limit, beforeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40004, "session not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list messages")
		return
	}

	var nextBeforeID uint64
	if len(msgs) > 0 {
		nextBeforeID = msgs[len(msgs)-1].ID
	}

	common.OK(c, gin.H{
		"messages":       msgs,
		"next_before_id": nextBeforeID,
	})
}

type sendMessageReq struct {
	SessionID string `json:"session_id" binding:"required"`
	Message   string `json:"message" binding:"required"`
	// SentAtMs is when the client sent the message; defaults to arrival.
	SentAtMs int64 `json:"sent_at_ms"`
}

func (r sendMessageReq) sentAt() time.Time {
	if r.SentAtMs > 0 {
		return time.UnixMilli(r.SentAtMs)
	}
	return time.Now()
}

// bindMessage parses the request and checks everything that can fail
// before a stream is opened.
func (h *Handler) bindMessage(c *gin.Context) (uint64, sendMessageReq, bool) {
	var req sendMessageReq
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return 0, req, false
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return 0, req, false
	}
	if strings.TrimSpace(req.Message) == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "message required")
		return 0, req, false
	}
	if utf8.RuneCountInString(req.Message) > chat.MaxMessageRunes {
		common.Fail(c, http.StatusBadRequest, 4002, "message too long")
		return 0, req, false
	}
	if err := h.ChatSvc.ValidateSessionOwner(c.Request.Context(), uid, req.SessionID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "session not found")
			return 0, req, false
		}
		log.Printf("[bindMessage] ValidateSessionOwner failed uid=%d session_id=%s err=%v", uid, req.SessionID, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return 0, req, false
	}
	return uid, req, true
}

// SendChatMessageStream answers over SSE. Each "update" event carries the
// whole reply so far, paced by the throttler.
func (h *Handler) SendChatMessageStream(c *gin.Context) {
	uid, req, okk := h.bindMessage(c)
	if !okk {
		return
	}

	sse, okk := newSSEWriter(c)
	if !okk {
		common.Fail(c, http.StatusInternalServerError, 50003, "streaming not supported")
		return
	}

	ctx := c.Request.Context()
	stopHeartbeat := sse.startHeartbeat(ctx, heartbeatEvery)

	out, err := h.ChatSvc.Reply(ctx, uid, req.SessionID, req.Message, req.sentAt(), sse)
	stopHeartbeat()

	switch {
	case err == nil:
	case ctx.Err() != nil:
		log.Printf("[SendChatMessageStream] client gone uid=%d session_id=%s", uid, req.SessionID)
		return
	case errors.Is(err, ai.ErrNoProviders):
		_ = sse.write("error", gin.H{"type": "error", "message": "no ai provider available"})
		return
	default:
		log.Printf("[SendChatMessageStream] reply failed uid=%d session_id=%s err=%v", uid, req.SessionID, err)
		_ = sse.write("error", gin.H{"type": "error", "message": "internal error"})
		return
	}

	if out.Status != chat.StatusAnswered {
		_ = sse.write("ignored", gin.H{"type": "ignored", "reason": out.Status})
		return
	}
	_ = sse.write("done", gin.H{
		"type":       "done",
		"message_id": out.MessageID,
		"provider":   out.Result.Provider,
		"attempts":   len(out.Result.Attempts),
		"fallback":   out.Result.Fallback,
		"truncated":  out.Result.Stop.Truncated(),
	})
}

func (h *Handler) SendChatMessageAsync(c *gin.Context) {
	uid, req, okk := h.bindMessage(c)
	if !okk {
		return
	}

	// read idempotency key
	idempoKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(idempoKey) > 128 {
		common.Fail(c, http.StatusBadRequest, 10003, "idempotency key too long")
		return
	}

	j, created, err := h.ChatSvc.CreateJob(c.Request.Context(), uid, req.SessionID, req.Message, idempoKey, req.sentAt())
	if err != nil {
		log.Printf("[SendChatMessageAsync] CreateJob failed uid=%d session_id=%s key=%s err=%v", uid, req.SessionID, idempoKey, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	// Enqueue only when a new job was created
	if created {
		if err := h.Jobs.PublishJob(c.Request.Context(), j.ID); err != nil {
			log.Printf("[SendChatMessageAsync] PublishJob failed uid=%d session_id=%s job_id=%s err=%v", uid, req.SessionID, j.ID, err)
			common.Fail(c, http.StatusInternalServerError, 50002, "enqueue failed")
			return
		}
	}

	common.OK(c, gin.H{"job_id": j.ID})
}

func (h *Handler) GetChatJob(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	j, err := h.ChatSvc.GetJob(c.Request.Context(), uid, c.Param("job_id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "job not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	common.OK(c, gin.H{
		"job": gin.H{
			"id":                j.ID,
			"session_id":        j.SessionID,
			"status":            j.Status,
			"result_message_id": j.ResultMessageID,
			"error":             j.Error,
			"created_at":        j.CreatedAt,
			"updated_at":        j.UpdatedAt,
		},
	})
}
