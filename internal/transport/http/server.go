package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-realtime/internal/auth"
	"github.com/vovakirdan/wirechat-realtime/internal/config"
	"github.com/vovakirdan/wirechat-realtime/internal/core"
)

// NewServer builds the HTTP server: health, the WebSocket endpoint and the
// authenticated REST API.
func NewServer(hub *core.Hub, authService *auth.Service, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(hub, authService, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewRouter mounts /ws on a plain mux and everything else on gin. The
// WebSocket handler hijacks the connection, which gin's response writer
// refuses once the upgrade headers are out.
func NewRouter(hub *core.Hub, authService *auth.Service, cfg *config.Config, logger *zerolog.Logger) stdhttp.Handler {
	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", NewWSHandler(hub, logger, WSHandlerOptions{
		HandshakeTimeout: cfg.HandshakeTimeout,
		RateLimit:        cfg.WSRateLimit,
	}))
	mux.Handle("/", newAPIRouter(hub, authService, logger))
	return mux
}

func newAPIRouter(hub *core.Hub, authService *auth.Service, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	api := NewAPIHandlers(hub, logger)
	protected := router.Group("/api")
	protected.Use(AuthMiddleware(authService, logger))
	protected.GET("/online", api.Online)
	protected.GET("/history", api.History)

	return router
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
