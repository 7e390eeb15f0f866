package app

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/streamrelay/internal/core"
	"github.com/dkeye/streamrelay/internal/domain"
)

// Router relays signaling payloads between the two ends of a stream and
// delivers lifecycle notifications. Every delivery is best effort: a
// recipient that is gone or full never turns into an error for the sender.
type Router struct {
	Sessions *SessionRegistry
	Conns    *ConnectionTracker
	Policy   Policy
}

func NewRouter(sessions *SessionRegistry, conns *ConnectionTracker, policy Policy) *Router {
	return &Router{Sessions: sessions, Conns: conns, Policy: policy}
}

// Route forwards payload from sender to target when they are the host and a
// joined viewer of the same active stream. The payload is never inspected.
func (r *Router) Route(sender domain.ConnID, t core.EventType, target domain.ConnID, payload json.RawMessage) error {
	if !t.IsRelay() {
		return fmt.Errorf("%w: %s is not a relay message", domain.ErrBadPayload, t)
	}
	from, err := r.Conns.Lookup(sender)
	if err != nil || from.Role == domain.RoleUnassigned || sender == target {
		return r.reject(sender, t, target, "sender has no stream")
	}

	unlock := r.Sessions.Lock(from.Code)
	defer unlock()

	// Teardown may have cleared the sender while we waited for the lock.
	from, err = r.Conns.Lookup(sender)
	if err != nil || from.Role == domain.RoleUnassigned {
		return r.reject(sender, t, target, "sender left its stream")
	}
	if !r.counterparts(from, target) {
		return r.reject(sender, t, target, "target is not the counterpart")
	}

	frame, err := core.EncodeRelay(t, sender, payload)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBadPayload, err)
	}
	if r.deliver(target, frame) {
		log.Debug().Str("module", "app.router").Str("type", string(t)).Str("from", string(sender)).Str("to", string(target)).Msg("relayed")
	}
	return nil
}

func (r *Router) counterparts(from domain.Peer, target domain.ConnID) bool {
	host, ok := r.Sessions.Host(from.Code)
	if !ok {
		return false
	}
	switch from.Role {
	case domain.RoleHost:
		if host != from.ID || !r.Sessions.HasViewer(from.Code, target) {
			return false
		}
		to, err := r.Conns.Lookup(target)
		return err == nil && to.Role == domain.RoleViewer && to.Code == from.Code
	case domain.RoleViewer:
		return target == host && r.Sessions.HasViewer(from.Code, from.ID)
	}
	return false
}

func (r *Router) reject(sender domain.ConnID, t core.EventType, target domain.ConnID, reason string) error {
	log.Warn().
		Str("module", "app.router").
		Str("type", string(t)).
		Str("from", string(sender)).
		Str("to", string(target)).
		Str("reason", reason).
		Msg("relay rejected")
	return domain.ErrUnauthorizedRelay
}

// deliver enqueues frame for to. It reports whether the frame was accepted.
func (r *Router) deliver(to domain.ConnID, frame core.Frame) bool {
	sig, ok := r.Conns.Signal(to)
	if !ok {
		log.Debug().Str("module", "app.router").Str("to", string(to)).Msg("recipient gone, dropping")
		return false
	}
	err := sig.TrySend(frame)
	if err == nil {
		return true
	}
	if errors.Is(err, core.ErrBackpressure) && r.Policy != nil {
		switch r.Policy.OnBackpressure(to) {
		case KickConnection:
			log.Warn().Str("module", "app.router").Str("to", string(to)).Msg("send buffer full, kicking")
			r.Conns.Kick(to)
		case DropFrame:
			log.Warn().Str("module", "app.router").Str("to", string(to)).Msg("send buffer full, dropping frame")
		}
		return false
	}
	log.Debug().Err(err).Str("module", "app.router").Str("to", string(to)).Msg("send failed")
	return false
}

// Send encodes v and delivers it to one connection.
func (r *Router) Send(to domain.ConnID, v any) bool {
	frame, err := core.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.router").Msg("encode")
		return false
	}
	return r.deliver(to, frame)
}

func (r *Router) NotifyStreamStarted(host domain.ConnID, code domain.StreamCode) {
	r.Send(host, struct {
		Type       core.EventType    `json:"type"`
		StreamCode domain.StreamCode `json:"stream_code"`
	}{core.EventStreamStarted, code})
}

func (r *Router) NotifyStreamJoined(viewer domain.ConnID, code domain.StreamCode, host domain.ConnID) {
	r.Send(viewer, struct {
		Type       core.EventType    `json:"type"`
		StreamCode domain.StreamCode `json:"stream_code"`
		HostID     domain.ConnID     `json:"host_id"`
	}{core.EventStreamJoined, code, host})
}

func (r *Router) NotifyViewerJoined(host, viewer domain.ConnID) {
	r.Send(host, viewerEvent{core.EventViewerJoined, viewer})
}

func (r *Router) NotifyViewerLeft(host, viewer domain.ConnID) {
	r.Send(host, viewerEvent{core.EventViewerLeft, viewer})
}

// NotifyStreamEnded sends one stream_ended to each recipient.
func (r *Router) NotifyStreamEnded(code domain.StreamCode, recipients []domain.ConnID) {
	frame, err := core.Encode(struct {
		Type       core.EventType    `json:"type"`
		StreamCode domain.StreamCode `json:"stream_code"`
	}{core.EventStreamEnded, code})
	if err != nil {
		log.Error().Err(err).Str("module", "app.router").Msg("encode")
		return
	}
	for _, to := range recipients {
		r.deliver(to, frame)
	}
}

func (r *Router) NotifyLeft(viewer domain.ConnID) {
	r.Send(viewer, struct {
		Type core.EventType `json:"type"`
	}{core.EventLeft})
}

func (r *Router) NotifyError(to domain.ConnID, message string) {
	r.Send(to, ErrorEvent{Type: core.EventError, Message: message})
}

type viewerEvent struct {
	Type     core.EventType `json:"type"`
	ViewerID domain.ConnID  `json:"viewer_id"`
}

type ErrorEvent struct {
	Type    core.EventType `json:"type"`
	Message string         `json:"message"`
}
