package signal

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/streamrelay/internal/app/orch"
	"github.com/dkeye/streamrelay/internal/config"
	"github.com/dkeye/streamrelay/internal/core"
	"github.com/dkeye/streamrelay/internal/domain"
)

// Settings are the per-connection transport limits.
type Settings struct {
	ReadLimit      int64
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	SendBuffer     int
	JoinAttempts   int
	JoinWindow     time.Duration
	AllowedOrigins []string
}

func SettingsFrom(cfg *config.Config) Settings {
	return Settings{
		ReadLimit:      cfg.ReadLimit,
		PingPeriod:     cfg.PingPeriod,
		PongWait:       cfg.PongWait,
		WriteWait:      cfg.WriteWait,
		SendBuffer:     cfg.SendBuffer,
		JoinAttempts:   cfg.JoinAttempts,
		JoinWindow:     cfg.JoinWindow,
		AllowedOrigins: cfg.AllowedOrigins,
	}
}

func (s Settings) WithDefaults() Settings {
	if s.ReadLimit <= 0 {
		s.ReadLimit = 64 * 1024
	}
	if s.PongWait <= 0 {
		s.PongWait = 60 * time.Second
	}
	if s.PingPeriod <= 0 || s.PingPeriod >= s.PongWait {
		s.PingPeriod = s.PongWait * 9 / 10
	}
	if s.WriteWait <= 0 {
		s.WriteWait = 5 * time.Second
	}
	if s.SendBuffer <= 0 {
		s.SendBuffer = 64
	}
	if s.JoinAttempts <= 0 {
		s.JoinAttempts = 10
	}
	if s.JoinWindow <= 0 {
		s.JoinWindow = time.Minute
	}
	return s
}

type SignalWSController struct {
	Orch     *orch.Orchestrator
	settings Settings
	limiter  *JoinRateLimiter
	upgrader websocket.Upgrader
}

func NewSignalWSController(o *orch.Orchestrator, s Settings) *SignalWSController {
	s = s.WithDefaults()
	return &SignalWSController{
		Orch:     o,
		settings: s,
		limiter:  NewJoinRateLimiter(s.JoinAttempts, s.JoinWindow),
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(s.AllowedOrigins),
		},
	}
}

// originChecker allows any origin when the list is empty; the pages that
// talk to the relay are usually served from somewhere else.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return slices.ContainsFunc(allowed, func(a string) bool {
			return strings.EqualFold(a, origin) || strings.EqualFold(a, u.Host)
		})
	}
}

type WsSignalConn struct {
	conn   *websocket.Conn
	send   chan core.Frame
	// client keys per-client limits; the connection id when no token came in.
	client string

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	id := domain.ConnID(uuid.NewString())
	client := c.GetString("client_token")
	if client == "" {
		client = string(id)
	}
	log.Info().Str("module", "signal").Str("conn", string(id)).Str("client", client).Msg("new WS connection")

	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn:   ws,
		send:   make(chan core.Frame, ctl.settings.SendBuffer),
		client: client,
	}

	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.OnConnect(id, conn, cancel)

	go ctl.writePump(ctx, id, conn)
	go ctl.readPump(id, conn, cancel)
}
