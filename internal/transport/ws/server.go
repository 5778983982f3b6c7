package ws

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/mailroom/internal/config"
	"github.com/vovakirdan/mailroom/internal/core"
)

// NewServer builds the HTTP server carrying the chat bridge and the
// read-only operational surface.
func NewServer(cfg config.Config, reg *core.Registry, bridge stdhttp.Handler, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logger))

	engine.GET("/healthz", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})
	engine.GET("/rooms", func(c *gin.Context) {
		c.JSON(stdhttp.StatusOK, gin.H{"rooms": reg.Snapshot()})
	})
	engine.GET("/ws", gin.WrapH(bridge))

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func requestLogger(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		// WebSocket upgrades stay open for the whole session; logging
		// them on completion would be noise on top of the bridge logs.
		if c.Request.URL.Path == "/ws" {
			return
		}
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}
