package chat

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/suPer8Hu/ai-stream/internal/ai"
	"github.com/suPer8Hu/ai-stream/internal/common"
	"github.com/suPer8Hu/ai-stream/internal/delivery"
	"github.com/suPer8Hu/ai-stream/internal/generate"
	"gorm.io/gorm"
)

const MaxMessageRunes = 10000

var (
	ErrMessageTooLong = errors.New("message too long")
	ErrRoleNotFound   = errors.New("role not found")
)

// HistoryCache keeps recent conversation history close to the pipeline.
// A miss is reported with ok=false.
type HistoryCache interface {
	Load(ctx context.Context, sessionID string, limit int) (msgs []ai.Message, ok bool, err error)
	Store(ctx context.Context, sessionID string, msgs []ai.Message) error
	Append(ctx context.Context, sessionID string, msgs ...ai.Message) error
	Invalidate(ctx context.Context, sessionID string) error
}

type Service struct {
	repo              *Repo
	cache             HistoryCache
	roles             RoleCatalog
	pipeline          *Pipeline
	contextWindowSize int
}

func NewService(repo *Repo, cache HistoryCache, roles RoleCatalog, pipeline *Pipeline, contextWindowSize int) *Service {
	if contextWindowSize <= 0 || contextWindowSize > 100 {
		contextWindowSize = 20
	}
	return &Service{
		repo:              repo,
		cache:             cache,
		roles:             roles,
		pipeline:          pipeline,
		contextWindowSize: contextWindowSize,
	}
}

const defaultQualityMode = "default"

func (s *Service) CreateSession(ctx context.Context, userID uint64, qualityMode, roleID, contextSource string) (*Session, error) {
	if qualityMode == "" {
		qualityMode = defaultQualityMode
	}
	if roleID == "" {
		roleID = DefaultRoleID
	}

	sid, err := common.NewULID()
	if err != nil {
		return nil, err
	}

	session := &Session{
		SessionID:     sid,
		UserID:        userID,
		QualityMode:   qualityMode,
		RoleID:        roleID,
		ContextSource: contextSource,
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Service) ownedSession(ctx context.Context, userID uint64, sessionID string) (*Session, error) {
	sess, err := s.repo.GetSessionBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	return sess, nil
}

func (s *Service) ValidateSessionOwner(ctx context.Context, userID uint64, sessionID string) error {
	_, err := s.ownedSession(ctx, userID, sessionID)
	return err
}

func (s *Service) ListMessages(ctx context.Context, userID uint64, sessionID string, limit int, beforeID uint64) ([]Message, error) {
	if err := s.ValidateSessionOwner(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.ListMessages(ctx, userID, sessionID, limit, beforeID)
}

// Reply answers content through sink and stores the exchange. Messages the
// gate drops are not stored. Fallback replies are shown but not stored, so
// they never become part of the model's history.
func (s *Service) Reply(ctx context.Context, userID uint64, sessionID, content string, sentAt time.Time, sink delivery.Sink) (Outcome, error) {
	if utf8.RuneCountInString(content) > MaxMessageRunes {
		return Outcome{}, ErrMessageTooLong
	}

	sess, err := s.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return Outcome{}, err
	}

	role, err := s.roleFor(ctx, sess)
	if err != nil {
		return Outcome{}, err
	}

	history, err := s.history(ctx, userID, sessionID)
	if err != nil {
		return Outcome{}, err
	}

	out, err := s.pipeline.Handle(ctx, Inbound{
		UserID:      strconv.FormatUint(userID, 10),
		SentAt:      sentAt,
		Context:     role,
		History:     history,
		UserInput:   content,
		QualityMode: sess.QualityMode,
	}, sink)
	if err != nil || out.Status != StatusAnswered {
		return out, err
	}

	userMsg := &Message{SessionID: sessionID, UserID: userID, Role: ai.RoleUser, Content: content}
	var assistantMsg *Message
	if !out.Result.Fallback && out.Text != "" {
		assistantMsg = &Message{
			SessionID: sessionID,
			UserID:    userID,
			Role:      ai.RoleAssistant,
			Content:   out.Text,
			Provider:  out.Result.Provider,
		}
	}
	// The user already saw the reply; storage must not depend on the
	// request context still being alive.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.repo.InsertExchange(storeCtx, userMsg, assistantMsg); err != nil {
		log.Printf("[Reply] InsertExchange failed uid=%d session_id=%s err=%v", userID, sessionID, err)
		return out, err
	}

	appended := []ai.Message{{Role: ai.RoleUser, Content: content}}
	if assistantMsg != nil {
		out.MessageID = assistantMsg.ID
		appended = append(appended, ai.Message{Role: ai.RoleAssistant, Content: assistantMsg.Content})
	}
	if s.cache != nil {
		if err := s.cache.Append(storeCtx, sessionID, appended...); err != nil {
			// A stale list would hide this exchange until it expires.
			log.Printf("[Reply] history cache append failed session_id=%s err=%v", sessionID, err)
			if err := s.cache.Invalidate(storeCtx, sessionID); err != nil {
				log.Printf("[Reply] history cache invalidate failed session_id=%s err=%v", sessionID, err)
			}
		}
	}
	return out, nil
}

// roleFor falls back to the default role when the session's role is
// missing from the catalog.
func (s *Service) roleFor(ctx context.Context, sess *Session) (generate.RoleContext, error) {
	var rc generate.RoleContext
	if s.roles != nil {
		var ok bool
		rc, ok = s.roles.Role(ctx, sess.RoleID)
		if !ok && sess.RoleID != DefaultRoleID {
			log.Printf("[Reply] role not found role_id=%s session_id=%s, using default", sess.RoleID, sess.SessionID)
			rc, ok = s.roles.Role(ctx, DefaultRoleID)
		}
		if !ok {
			return rc, ErrRoleNotFound
		}
	}
	rc.Source = sess.ContextSource
	return rc, nil
}

// history returns the last contextWindowSize messages, oldest first.
func (s *Service) history(ctx context.Context, userID uint64, sessionID string) ([]ai.Message, error) {
	if s.cache != nil {
		msgs, ok, err := s.cache.Load(ctx, sessionID, s.contextWindowSize)
		if err != nil {
			log.Printf("[Reply] history cache load failed session_id=%s err=%v", sessionID, err)
		} else if ok {
			return msgs, nil
		}
	}

	desc, err := s.repo.ListRecentMessagesDesc(ctx, userID, sessionID, s.contextWindowSize)
	if err != nil {
		return nil, err
	}
	msgs := make([]ai.Message, 0, len(desc))
	for i := len(desc) - 1; i >= 0; i-- {
		msgs = append(msgs, ai.Message{Role: desc[i].Role, Content: desc[i].Content})
	}

	if s.cache != nil {
		if err := s.cache.Store(ctx, sessionID, msgs); err != nil {
			log.Printf("[Reply] history cache store failed session_id=%s err=%v", sessionID, err)
		}
	}
	return msgs, nil
}

// CreateJob queues content for the job consumer. A repeated idempotency key
// returns the job created the first time.
func (s *Service) CreateJob(ctx context.Context, userID uint64, sessionID, content, idemKey string, sentAt time.Time) (*Job, bool, error) {
	if utf8.RuneCountInString(content) > MaxMessageRunes {
		return nil, false, ErrMessageTooLong
	}
	if err := s.ValidateSessionOwner(ctx, userID, sessionID); err != nil {
		return nil, false, err
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, false, err
	}
	job := &Job{
		ID:        id,
		UserID:    userID,
		SessionID: sessionID,
		Prompt:    content,
		SentAt:    sentAt,
		Status:    JobQueued,
	}
	if idemKey != "" {
		job.IdempotencyKey = &idemKey
	}
	return s.repo.CreateJobOrGetExisting(ctx, job)
}

func (s *Service) GetJob(ctx context.Context, userID uint64, jobID string) (*Job, error) {
	j, err := s.repo.GetJobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	return j, nil
}
