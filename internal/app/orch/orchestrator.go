package orch

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/streamrelay/internal/app"
	"github.com/dkeye/streamrelay/internal/core"
	"github.com/dkeye/streamrelay/internal/domain"
)

// Orchestrator owns every role transition of a connection. Session and
// connection state change together only here, always under the registry's
// per-code lock.
type Orchestrator struct {
	Sessions *app.SessionRegistry
	Conns    *app.ConnectionTracker
	Router   *app.Router
}

func New(sessions *app.SessionRegistry, conns *app.ConnectionTracker, router *app.Router) *Orchestrator {
	return &Orchestrator{Sessions: sessions, Conns: conns, Router: router}
}

func (o *Orchestrator) OnConnect(id domain.ConnID, sig core.SignalConnection, cancel context.CancelFunc) {
	o.Conns.Register(id, sig, cancel)
}

// OnDisconnect runs the same cleanup no matter how far the handshake got.
func (o *Orchestrator) OnDisconnect(id domain.ConnID) {
	peer, err := o.Conns.Unregister(id)
	if err != nil {
		return
	}
	log.Info().Str("module", "orch").Str("conn", string(id)).Str("role", peer.Role.String()).Str("code", string(peer.Code)).Msg("disconnect")

	switch peer.Role {
	case domain.RoleHost:
		o.teardown(peer.Code, id, false)
	case domain.RoleViewer:
		o.dropViewer(peer.Code, id)
	case domain.RoleUnassigned:
	}
}

// Stream returns a snapshot of an active stream.
func (o *Orchestrator) Stream(code domain.StreamCode) (domain.Stream, error) {
	return o.Sessions.GetSession(code)
}

type Stats struct {
	Streams     int `json:"streams"`
	Connections int `json:"connections"`
}

func (o *Orchestrator) Stats() Stats {
	return Stats{Streams: o.Sessions.Count(), Connections: o.Conns.Count()}
}
