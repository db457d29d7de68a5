package repo

import (
	"context"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/techfriendly/xpider-huelva/internal/agent/model"
	errx "github.com/techfriendly/xpider-huelva/internal/core/error"
)

// MemorySessionRepository keeps sessions in process, for the CLI and tests.
type MemorySessionRepository struct {
	sessions *gocache.Cache
	locks    *gocache.Cache
}

// NewMemorySessionRepository expires sessions after ttl of inactivity; zero keeps them forever.
func NewMemorySessionRepository(ttl time.Duration) *MemorySessionRepository {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &MemorySessionRepository{
		sessions: gocache.New(ttl, 10*time.Minute),
		locks:    gocache.New(gocache.NoExpiration, time.Minute),
	}
}

func (m *MemorySessionRepository) Load(_ context.Context, sessionID string) (*model.Session, error) {
	if v, ok := m.sessions.Get(sessionID); ok {
		// callers get their own copy
		return v.(*model.Session).Clone(), nil
	}
	return model.NewSession(sessionID), nil
}

func (m *MemorySessionRepository) Save(_ context.Context, s *model.Session) error {
	if s == nil || s.ID == "" {
		return errx.New(nil, http.StatusBadRequest, "session without id")
	}
	m.sessions.Set(s.ID, s.Clone(), gocache.DefaultExpiration)
	return nil
}

func (m *MemorySessionRepository) Delete(_ context.Context, sessionID string) error {
	m.sessions.Delete(sessionID)
	return nil
}

// Lock relies on Cache.Add failing while the key exists and has not expired.
func (m *MemorySessionRepository) Lock(_ context.Context, sessionID string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	token := new(int)
	if err := m.locks.Add(sessionID, token, ttl); err != nil {
		return nil, errx.Busy(sessionID)
	}
	return func() {
		if v, ok := m.locks.Get(sessionID); ok && v == token {
			m.locks.Delete(sessionID)
		}
	}, nil
}

var _ model.SessionRepository = (*MemorySessionRepository)(nil)
