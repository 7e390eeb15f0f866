package orch

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/streamrelay/internal/domain"
)

func (o *Orchestrator) OnStartStream(id domain.ConnID) (domain.StreamCode, error) {
	peer, err := o.Conns.Lookup(id)
	if err != nil {
		return "", err
	}
	switch peer.Role {
	case domain.RoleHost:
		return "", domain.ErrAlreadyHosting
	case domain.RoleViewer:
		return "", domain.ErrAlreadyAssigned
	}

	code, err := o.Sessions.CreateSession(id)
	if err != nil {
		return "", err
	}

	unlock := o.Sessions.Lock(code)
	defer unlock()
	if err := o.Conns.SetHost(id, code); err != nil {
		o.destroy(code)
		return "", err
	}
	o.Router.NotifyStreamStarted(id, code)
	log.Info().Str("module", "orch").Str("conn", string(id)).Str("code", string(code)).Msg("stream started")
	return code, nil
}

// OnEndStream lets a host close its stream and stay connected. Viewers get
// the same treatment as on host disconnect; the host may start again.
func (o *Orchestrator) OnEndStream(id domain.ConnID) (domain.StreamCode, error) {
	peer, err := o.Conns.Lookup(id)
	if err != nil {
		return "", err
	}
	if peer.Role != domain.RoleHost {
		return "", domain.ErrNotHosting
	}
	o.teardown(peer.Code, id, true)
	return peer.Code, nil
}

func (o *Orchestrator) teardown(code domain.StreamCode, host domain.ConnID, explicit bool) {
	unlock := o.Sessions.Lock(code)
	defer unlock()

	if explicit && !o.Conns.Reset(host, code) {
		// Lost a race with our own disconnect; nothing left to end.
		return
	}
	n := o.destroy(code)
	if explicit {
		o.Router.NotifyStreamEnded(code, []domain.ConnID{host})
	}
	log.Info().Str("module", "orch").Str("conn", string(host)).Str("code", string(code)).Int("viewers", n).Bool("explicit", explicit).Msg("stream ended")
}

// destroy must run under Lock(code).
func (o *Orchestrator) destroy(code domain.StreamCode) int {
	viewers := o.Sessions.DestroySession(code)
	for _, v := range viewers {
		o.Conns.Reset(v, code)
	}
	o.Router.NotifyStreamEnded(code, viewers)
	return len(viewers)
}
