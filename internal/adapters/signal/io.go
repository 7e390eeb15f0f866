package signal

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/streamrelay/internal/core"
	"github.com/dkeye/streamrelay/internal/domain"
)

func (ctl *SignalWSController) writePump(ctx context.Context, id domain.ConnID, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.settings.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", string(id)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("conn", string(id)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.settings.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.settings.WriteWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("writePump ping error")
				return
			}
		}
	}
}

// readPump owns the disconnect: whatever ends the loop, cleanup runs once.
func (ctl *SignalWSController) readPump(id domain.ConnID, c *WsSignalConn, cancel func()) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(id)).Msg("readPump closing")
		ctl.Orch.OnDisconnect(id)
		cancel()
		c.Close()
	}()

	c.conn.SetReadLimit(ctl.settings.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.settings.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.settings.PongWait))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("readPump read error")
			}
			return
		}
		if msgType != websocket.TextMessage {
			ctl.sendError(c, domain.ErrBadPayload)
			continue
		}
		ctl.handleSignal(id, c, data)
	}
}

func (ctl *SignalWSController) handleSignal(id domain.ConnID, c *WsSignalConn, data []byte) {
	env, err := core.DecodeEnvelope(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("bad json")
		ctl.sendError(c, domain.ErrBadPayload)
		return
	}

	switch env.Type {
	case core.EventStartStream:
		ctl.handleStartStream(id, c)
	case core.EventJoinStream:
		ctl.handleJoinStream(id, c, env)
	case core.EventEndStream:
		ctl.handleEndStream(id, c)
	case core.EventLeaveStream:
		ctl.handleLeaveStream(id, c)
	case core.EventOffer, core.EventAnswer, core.EventICECandidate:
		ctl.handleRelay(id, c, env)
	case core.EventPing:
		ctl.handlePing(c)
	case core.EventWhoAmI:
		ctl.handleWhoAmI(id, c)
	default:
		log.Warn().Str("module", "signal").Str("conn", string(id)).Str("type", string(env.Type)).Msg("unknown signal")
		ctl.sendErrorMessage(c, "unknown message type")
	}
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := core.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

// userFacing are the errors whose text may reach a client as-is.
var userFacing = []error{
	domain.ErrAlreadyHosting,
	domain.ErrAlreadyAssigned,
	domain.ErrInvalidCode,
	domain.ErrNotHosting,
	domain.ErrNotViewing,
	domain.ErrRateLimited,
	domain.ErrBadPayload,
}

func errorMessage(err error) string {
	if errors.Is(err, domain.ErrUnauthorizedRelay) {
		return "unable to relay message"
	}
	for _, target := range userFacing {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return "internal error"
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, err error) {
	ctl.sendErrorMessage(c, errorMessage(err))
}

func (ctl *SignalWSController) sendErrorMessage(c *WsSignalConn, msg string) {
	ctl.sendJSON(c, struct {
		Type    core.EventType `json:"type"`
		Message string         `json:"message"`
	}{core.EventError, msg})
}
