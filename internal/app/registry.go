package app

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/streamrelay/internal/core"
	"github.com/dkeye/streamrelay/internal/domain"
)

const maxCodeAttempts = 16

var ErrCodeSpaceExhausted = errors.New("could not allocate a unique stream code")

type streamSession struct {
	mu      sync.RWMutex
	code    domain.StreamCode
	host    domain.ConnID
	viewers map[domain.ConnID]struct{}
	closed  bool
}

// SessionRegistry is the authoritative table of active streams.
//
// The map lock is only held for O(1) insert/delete/lookup. Lifecycle
// operations that must not interleave on one code take Lock(code) first;
// operations on different codes never contend beyond the map lock.
type SessionRegistry struct {
	codes core.CodeGenerator
	locks *keyLock

	mu       sync.RWMutex
	sessions map[domain.StreamCode]*streamSession
	hosts    map[domain.ConnID]domain.StreamCode
}

func NewSessionRegistry(codes core.CodeGenerator) *SessionRegistry {
	return &SessionRegistry{
		codes:    codes,
		locks:    newKeyLock(),
		sessions: make(map[domain.StreamCode]*streamSession),
		hosts:    make(map[domain.ConnID]domain.StreamCode),
	}
}

// Lock enters the critical section for code and returns its release func.
func (r *SessionRegistry) Lock(code domain.StreamCode) (unlock func()) {
	return r.locks.Lock(code)
}

func (r *SessionRegistry) CreateSession(host domain.ConnID) (domain.StreamCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.hosts[host]; ok {
		return "", domain.ErrAlreadyHosting
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := r.codes.Generate()
		if err != nil {
			return "", fmt.Errorf("generate stream code: %w", err)
		}
		if _, taken := r.sessions[code]; taken {
			log.Debug().Str("module", "app.registry").Int("attempt", attempt).Msg("stream code collision, redrawing")
			continue
		}
		r.sessions[code] = &streamSession{
			code:    code,
			host:    host,
			viewers: make(map[domain.ConnID]struct{}),
		}
		r.hosts[host] = code
		log.Info().Str("module", "app.registry").Str("conn", string(host)).Str("code", string(code)).Msg("session created")
		return code, nil
	}
	return "", ErrCodeSpaceExhausted
}

func (r *SessionRegistry) lookup(code domain.StreamCode) *streamSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[code]
}

func (r *SessionRegistry) GetSession(code domain.StreamCode) (domain.Stream, error) {
	s := r.lookup(code)
	if s == nil {
		return domain.Stream{}, domain.ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return domain.Stream{}, domain.ErrNotFound
	}
	out := domain.Stream{
		Code:    s.code,
		Host:    s.host,
		Viewers: make([]domain.ConnID, 0, len(s.viewers)),
	}
	for v := range s.viewers {
		out.Viewers = append(out.Viewers, v)
	}
	return out, nil
}

// Host returns the owner of code, if the session is active.
func (r *SessionRegistry) Host(code domain.StreamCode) (domain.ConnID, bool) {
	s := r.lookup(code)
	if s == nil {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", false
	}
	return s.host, true
}

func (r *SessionRegistry) HasViewer(code domain.StreamCode, viewer domain.ConnID) bool {
	s := r.lookup(code)
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.viewers[viewer]
	return ok && !s.closed
}

func (r *SessionRegistry) AddViewer(code domain.StreamCode, viewer domain.ConnID) error {
	s := r.lookup(code)
	if s == nil {
		return domain.ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrNotFound
	}
	s.viewers[viewer] = struct{}{}
	log.Info().Str("module", "app.registry").Str("conn", string(viewer)).Str("code", string(code)).Int("viewers", len(s.viewers)).Msg("viewer added")
	return nil
}

func (r *SessionRegistry) RemoveViewer(code domain.StreamCode, viewer domain.ConnID) {
	s := r.lookup(code)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.viewers[viewer]; !ok {
		return
	}
	delete(s.viewers, viewer)
	log.Info().Str("module", "app.registry").Str("conn", string(viewer)).Str("code", string(code)).Int("viewers", len(s.viewers)).Msg("viewer removed")
}

// DestroySession drops code and returns the viewers it still had.
func (r *SessionRegistry) DestroySession(code domain.StreamCode) []domain.ConnID {
	r.mu.Lock()
	s, ok := r.sessions[code]
	if ok {
		delete(r.sessions, code)
		if r.hosts[s.host] == code {
			delete(r.hosts, s.host)
		}
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	viewers := make([]domain.ConnID, 0, len(s.viewers))
	for v := range s.viewers {
		viewers = append(viewers, v)
	}
	clear(s.viewers)
	log.Info().Str("module", "app.registry").Str("code", string(code)).Int("evicted", len(viewers)).Msg("session destroyed")
	return viewers
}

// Codes lists active stream codes.
func (r *SessionRegistry) Codes() []domain.StreamCode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.StreamCode, 0, len(r.sessions))
	for code := range r.sessions {
		out = append(out, code)
	}
	return out
}

func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
