package http

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/streamrelay/internal/adapters/rtc"
	"github.com/dkeye/streamrelay/internal/adapters/signal"
	"github.com/dkeye/streamrelay/internal/app/orch"
	"github.com/dkeye/streamrelay/internal/config"
	"github.com/dkeye/streamrelay/internal/domain"
	"github.com/dkeye/streamrelay/web"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// servePage prefers a copy under staticPath and falls back to the built-in page.
func servePage(c *gin.Context, staticPath, name string) {
	p := filepath.Join(staticPath, name)
	if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
		c.File(p)
		return
	}
	c.FileFromFS(name, http.FS(web.FS))
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Use /host or /viewer.")
	})
	r.GET("/host", func(c *gin.Context) {
		servePage(c, cfg.StaticPath, "host.html")
	})
	r.GET("/viewer", func(c *gin.Context) {
		servePage(c, cfg.StaticPath, "viewer.html")
	})
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	iceServers := rtc.Configuration(cfg).ICEServers
	api.GET("/ice-servers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"iceServers": iceServers})
	})

	api.GET("/streams/:code", func(c *gin.Context) {
		code, err := domain.NormalizeCode(c.Param("code"))
		if err == nil {
			var s domain.Stream
			if s, err = o.Stream(code); err == nil {
				c.JSON(http.StatusOK, gin.H{"stream_code": s.Code, "viewers": len(s.Viewers)})
				return
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"error": domain.ErrInvalidCode.Error()})
	})

	api.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, o.Stats())
	})

	ctrl := signal.NewSignalWSController(o, signal.SettingsFrom(cfg))
	api.GET("/ws", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("client", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	return r
}
