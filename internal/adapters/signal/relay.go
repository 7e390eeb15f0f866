package signal

import (
	"github.com/dkeye/streamrelay/internal/core"
	"github.com/dkeye/streamrelay/internal/domain"
)

func (ctl *SignalWSController) handleRelay(id domain.ConnID, conn *WsSignalConn, env core.Envelope) {
	if env.To == "" {
		ctl.sendError(conn, domain.ErrBadPayload)
		return
	}
	if err := ctl.Orch.Router.Route(id, env.Type, env.To, env.Payload()); err != nil {
		ctl.sendError(conn, err)
	}
}
