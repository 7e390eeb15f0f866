package signal

import (
	"github.com/dkeye/streamrelay/internal/core"
	"github.com/dkeye/streamrelay/internal/domain"
)

func (ctl *SignalWSController) handlePing(
	conn *WsSignalConn,
) {
	resp := struct {
		Type core.EventType `json:"type"`
	}{
		Type: core.EventPong,
	}
	ctl.sendJSON(conn, resp)
}

func (ctl *SignalWSController) handleWhoAmI(id domain.ConnID, conn *WsSignalConn) {
	peer, err := ctl.Orch.Conns.Lookup(id)
	if err != nil {
		ctl.sendError(conn, err)
		return
	}
	ctl.sendJSON(conn, struct {
		Type       core.EventType    `json:"type"`
		ID         domain.ConnID     `json:"id"`
		Role       string            `json:"role"`
		StreamCode domain.StreamCode `json:"stream_code,omitempty"`
	}{core.EventWhoAmI, peer.ID, peer.Role.String(), peer.Code})
}
