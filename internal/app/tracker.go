package app

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/streamrelay/internal/core"
	"github.com/dkeye/streamrelay/internal/domain"
)

const trackerShards = 32

type connEntry struct {
	peer   domain.Peer
	signal core.SignalConnection
	cancel context.CancelFunc
}

type trackerShard struct {
	mu    sync.RWMutex
	conns map[domain.ConnID]*connEntry
}

// ConnectionTracker maps live connections to their role and stream code.
// It knows nothing about session membership.
type ConnectionTracker struct {
	shards [trackerShards]trackerShard
}

func NewConnectionTracker() *ConnectionTracker {
	t := &ConnectionTracker{}
	for i := range t.shards {
		t.shards[i].conns = make(map[domain.ConnID]*connEntry)
	}
	return t
}

func (t *ConnectionTracker) shard(id domain.ConnID) *trackerShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &t.shards[h.Sum32()%trackerShards]
}

func (t *ConnectionTracker) Register(id domain.ConnID, sig core.SignalConnection, cancel context.CancelFunc) {
	s := t.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[id] = &connEntry{
		peer:   domain.Peer{ID: id, Role: domain.RoleUnassigned},
		signal: sig,
		cancel: cancel,
	}
	log.Info().Str("module", "app.tracker").Str("conn", string(id)).Msg("registered")
}

func (t *ConnectionTracker) SetHost(id domain.ConnID, code domain.StreamCode) error {
	return t.assign(id, domain.RoleHost, code)
}

func (t *ConnectionTracker) SetViewer(id domain.ConnID, code domain.StreamCode) error {
	return t.assign(id, domain.RoleViewer, code)
}

func (t *ConnectionTracker) assign(id domain.ConnID, role domain.Role, code domain.StreamCode) error {
	s := t.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.conns[id]
	if !ok {
		return domain.ErrNotFound
	}
	if e.peer.Role != domain.RoleUnassigned {
		return domain.ErrAlreadyAssigned
	}
	e.peer.Role = role
	e.peer.Code = code
	log.Info().Str("module", "app.tracker").Str("conn", string(id)).Str("role", role.String()).Str("code", string(code)).Msg("role assigned")
	return nil
}

// Reset demotes id back to unassigned, but only while it still points at code.
func (t *ConnectionTracker) Reset(id domain.ConnID, code domain.StreamCode) bool {
	s := t.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.conns[id]
	if !ok || e.peer.Role == domain.RoleUnassigned || e.peer.Code != code {
		return false
	}
	e.peer.Role = domain.RoleUnassigned
	e.peer.Code = ""
	log.Info().Str("module", "app.tracker").Str("conn", string(id)).Str("code", string(code)).Msg("role cleared")
	return true
}

func (t *ConnectionTracker) Lookup(id domain.ConnID) (domain.Peer, error) {
	s := t.shard(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.conns[id]
	if !ok {
		return domain.Peer{}, domain.ErrNotFound
	}
	return e.peer, nil
}

// Unregister removes id and hands back the role it had.
func (t *ConnectionTracker) Unregister(id domain.ConnID) (domain.Peer, error) {
	s := t.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.conns[id]
	if !ok {
		return domain.Peer{}, domain.ErrNotFound
	}
	delete(s.conns, id)
	log.Info().Str("module", "app.tracker").Str("conn", string(id)).Str("role", e.peer.Role.String()).Msg("unregistered")
	return e.peer, nil
}

// Signal returns the transport of a live connection.
func (t *ConnectionTracker) Signal(id domain.ConnID) (core.SignalConnection, bool) {
	s := t.shard(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.conns[id]
	if !ok {
		return nil, false
	}
	return e.signal, true
}

// Kick cancels the connection context; the adapter tears the socket down and
// the regular disconnect path does the cleanup.
func (t *ConnectionTracker) Kick(id domain.ConnID) bool {
	s := t.shard(id)
	s.mu.RLock()
	e, ok := s.conns[id]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	if e.cancel != nil {
		e.cancel()
	}
	log.Info().Str("module", "app.tracker").Str("conn", string(id)).Msg("kicked")
	return true
}

func (t *ConnectionTracker) Count() int {
	n := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.RLock()
		n += len(s.conns)
		s.mu.RUnlock()
	}
	return n
}
