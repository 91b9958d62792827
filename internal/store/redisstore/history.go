package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/suPer8Hu/ai-stream/internal/ai"
)

// maxHistory bounds the cached list; readers take the tail they need.
const maxHistory = 100

func historyKey(sessionID string) string {
	return fmt.Sprintf("session:%s:messages", sessionID)
}

// Load returns the last limit messages of the session, oldest first.
// ok is false when the session is not cached.
func (s *Store) Load(ctx context.Context, sessionID string, limit int) ([]ai.Message, bool, error) {
	key := historyKey(sessionID)
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return nil, false, err
	}
	if n == 0 {
		return nil, false, nil
	}

	raw, err := s.rdb.LRange(ctx, key, int64(-limit), -1).Result()
	if err != nil {
		return nil, false, err
	}
	msgs, err := decodeMessages(raw)
	if err != nil {
		return nil, false, err
	}
	return msgs, true, nil
}

// Store replaces the cached history. Redis has no empty lists, so an empty
// history stays uncached.
func (s *Store) Store(ctx context.Context, sessionID string, msgs []ai.Message) error {
	key := historyKey(sessionID)
	vals, err := encodeMessages(msgs)
	if err != nil {
		return err
	}

	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		if len(vals) > 0 {
			p.RPush(ctx, key, vals...)
			p.LTrim(ctx, key, -maxHistory, -1)
			if s.historyTTL > 0 {
				p.Expire(ctx, key, s.historyTTL)
			}
		}
		return nil
	})
	return err
}

// Append adds msgs to a cached history. Uncached sessions are left alone
// so the next Load reads the full history from the database.
func (s *Store) Append(ctx context.Context, sessionID string, msgs ...ai.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	key := historyKey(sessionID)
	vals, err := encodeMessages(msgs)
	if err != nil {
		return err
	}

	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPushX(ctx, key, vals...)
		p.LTrim(ctx, key, -maxHistory, -1)
		if s.historyTTL > 0 {
			p.Expire(ctx, key, s.historyTTL)
		}
		return nil
	})
	return err
}

// Invalidate drops the cached history; the next Load misses.
func (s *Store) Invalidate(ctx context.Context, sessionID string) error {
	return s.rdb.Del(ctx, historyKey(sessionID)).Err()
}

func encodeMessages(msgs []ai.Message) ([]any, error) {
	out := make([]any, 0, len(msgs))
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		out = append(out, string(b))
	}
	return out, nil
}

func decodeMessages(raw []string) ([]ai.Message, error) {
	out := make([]ai.Message, 0, len(raw))
	for _, r := range raw {
		var m ai.Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("decode cached message: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}
