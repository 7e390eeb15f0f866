package orch

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/streamrelay/internal/domain"
)

func (o *Orchestrator) OnJoinStream(id domain.ConnID, code domain.StreamCode) error {
	peer, err := o.Conns.Lookup(id)
	if err != nil {
		return err
	}
	if peer.Role != domain.RoleUnassigned {
		return domain.ErrAlreadyAssigned
	}

	unlock := o.Sessions.Lock(code)
	defer unlock()

	host, ok := o.Sessions.Host(code)
	if !ok {
		return domain.ErrInvalidCode
	}
	if err := o.Sessions.AddViewer(code, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrInvalidCode
		}
		return err
	}
	if err := o.Conns.SetViewer(id, code); err != nil {
		o.Sessions.RemoveViewer(code, id)
		return err
	}

	o.Router.NotifyStreamJoined(id, code, host)
	o.Router.NotifyViewerJoined(host, id)
	log.Info().Str("module", "orch").Str("conn", string(id)).Str("code", string(code)).Msg("viewer joined")
	return nil
}

// OnLeaveStream detaches a viewer without closing its connection.
func (o *Orchestrator) OnLeaveStream(id domain.ConnID) error {
	peer, err := o.Conns.Lookup(id)
	if err != nil {
		return err
	}
	if peer.Role != domain.RoleViewer {
		return domain.ErrNotViewing
	}

	unlock := o.Sessions.Lock(peer.Code)
	defer unlock()

	if !o.Conns.Reset(id, peer.Code) {
		// The stream ended while we waited; stream_ended is already queued.
		return domain.ErrNotViewing
	}
	o.removeViewer(peer.Code, id)
	o.Router.NotifyLeft(id)
	return nil
}

func (o *Orchestrator) dropViewer(code domain.StreamCode, id domain.ConnID) {
	unlock := o.Sessions.Lock(code)
	defer unlock()
	o.removeViewer(code, id)
}

// removeViewer must run under Lock(code).
func (o *Orchestrator) removeViewer(code domain.StreamCode, id domain.ConnID) {
	o.Sessions.RemoveViewer(code, id)
	if host, ok := o.Sessions.Host(code); ok {
		o.Router.NotifyViewerLeft(host, id)
	}
	log.Info().Str("module", "orch").Str("conn", string(id)).Str("code", string(code)).Msg("viewer left")
}
