package signal

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/streamrelay/internal/core"
	"github.com/dkeye/streamrelay/internal/domain"
)

// Success replies (stream_started, stream_joined, left, stream_ended) are
// queued by the orchestrator under the stream lock, so handlers here only
// report failures.

func (ctl *SignalWSController) handleStartStream(id domain.ConnID, conn *WsSignalConn) {
	if _, err := ctl.Orch.OnStartStream(id); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("start_stream failed")
		ctl.sendError(conn, err)
	}
}

func (ctl *SignalWSController) handleJoinStream(id domain.ConnID, conn *WsSignalConn, env core.Envelope) {
	if !ctl.limiter.Allow(conn.client) {
		log.Warn().Str("module", "signal").Str("conn", string(id)).Str("client", conn.client).Msg("join rate limit")
		ctl.sendError(conn, domain.ErrRateLimited)
		return
	}
	code, err := domain.NormalizeCode(env.StreamCode)
	if err != nil {
		ctl.sendError(conn, err)
		return
	}
	if err := ctl.Orch.OnJoinStream(id, code); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Str("code", string(code)).Msg("join_stream failed")
		ctl.sendError(conn, err)
	}
}

func (ctl *SignalWSController) handleEndStream(id domain.ConnID, conn *WsSignalConn) {
	if _, err := ctl.Orch.OnEndStream(id); err != nil {
		ctl.sendError(conn, err)
	}
}

func (ctl *SignalWSController) handleLeaveStream(id domain.ConnID, conn *WsSignalConn) {
	if err := ctl.Orch.OnLeaveStream(id); err != nil {
		ctl.sendError(conn, err)
	}
}
