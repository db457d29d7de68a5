package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/techfriendly/xpider-huelva/internal/agent/model"
	errx "github.com/techfriendly/xpider-huelva/internal/core/error"
	logx "github.com/techfriendly/xpider-huelva/pkg/logger"
)

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)

type RedisSessionRepository struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisSessionRepository(rdb redis.Cmdable, ttl time.Duration) *RedisSessionRepository {
	return &RedisSessionRepository{rdb: rdb, ttl: ttl}
}

func (r *RedisSessionRepository) sessionKey(sessionID string) string {
	return fmt.Sprintf("conversation:%s:session", sessionID)
}

func (r *RedisSessionRepository) lockKey(sessionID string) string {
	return fmt.Sprintf("conversation:%s:lock", sessionID)
}

func (r *RedisSessionRepository) Load(ctx context.Context, sessionID string) (*model.Session, error) {
	key := r.sessionKey(sessionID)
	raw, err := r.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.NewSession(sessionID), nil
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to load session from redis")
		return nil, errx.WrapRedis(err)
	}
	var s model.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		// a corrupt blob must not wedge the conversation
		logx.Warn().Err(err).Str("session_id", sessionID).Msg("discarding unreadable session")
		return model.NewSession(sessionID), nil
	}
	s.ID = sessionID
	if s.History == nil {
		s.History = []model.Turn{}
	}
	return &s, nil
}

func (r *RedisSessionRepository) Save(ctx context.Context, s *model.Session) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("session without id")
	}
	b, err := json.Marshal(s)
	if err != nil {
		logx.Error().Err(err).Str("session_id", s.ID).Msg("failed to marshal session")
		return fmt.Errorf("marshal session: %w", err)
	}
	key := r.sessionKey(s.ID)
	if err := r.rdb.Set(ctx, key, b, r.ttl).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to save session to redis")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisSessionRepository) Delete(ctx context.Context, sessionID string) error {
	key := r.sessionKey(sessionID)
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to delete session from redis")
		return errx.WrapRedis(err)
	}
	return nil
}

// Lock takes the per-session turn lock with SET NX. A held lock yields errx.Busy.
func (r *RedisSessionRepository) Lock(ctx context.Context, sessionID string, ttl time.Duration) (func(), error) {
	key := r.lockKey(sessionID)
	token := uuid.NewString()
	ok, err := r.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to acquire session lock")
		return nil, errx.WrapRedis(err)
	}
	if !ok {
		logx.Warn().Str("session_id", sessionID).Msg("session already has a turn in flight")
		return nil, errx.Busy(sessionID)
	}
	return func() {
		// release must survive a cancelled request context
		if err := releaseScript.Run(context.WithoutCancel(ctx), r.rdb, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			logx.Warn().Err(err).Str("key", key).Msg("failed to release session lock")
		}
	}, nil
}

var _ model.SessionRepository = (*RedisSessionRepository)(nil)
