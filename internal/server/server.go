package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/machioali/LanguageHelp-sub000/internal/config"
	"github.com/machioali/LanguageHelp-sub000/internal/dispatch"
	"github.com/machioali/LanguageHelp-sub000/internal/errors"
	"github.com/machioali/LanguageHelp-sub000/internal/lifecycle"
	"github.com/machioali/LanguageHelp-sub000/internal/presence"
	"github.com/machioali/LanguageHelp-sub000/internal/relay"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/singleflight"
)

const maxConnectionsPerIP = 32

// Server exposes the websocket endpoints and the small operational API.
type Server struct {
	echo       *echo.Echo
	config     *config.Config
	hub        *ConnHub
	registry   *presence.Registry
	dispatcher *dispatch.Dispatcher
	sessions   *lifecycle.Manager
	relay      *relay.Relay
	clock      clockwork.Clock
	limits     *ConnectionLimits
	upgrader   websocket.Upgrader

	// rejoinGroup collapses concurrent rebind attempts for the same
	// participant, so two racing reconnects produce one relay join.
	rejoinGroup singleflight.Group
}

// NewServer wires the HTTP surface over the core components.
func NewServer(cfg *config.Config, hub *ConnHub, registry *presence.Registry, dispatcher *dispatch.Dispatcher, sessions *lifecycle.Manager, rl *relay.Relay, clock clockwork.Clock) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(errors.Middleware())

	srv := &Server{
		echo:       e,
		config:     cfg,
		hub:        hub,
		registry:   registry,
		dispatcher: dispatcher,
		sessions:   sessions,
		relay:      rl,
		clock:      clock,
		limits:     NewConnectionLimits(int64(cfg.MaxWebSocketConnections), maxConnectionsPerIP),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	srv.registerRoutes()
	return srv
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.echo.GET("/ws/client", s.handleClientWS)
	s.echo.GET("/ws/interpreter", s.handleInterpreterWS)

	api := s.echo.Group("/api")
	api.GET("/interpreters", s.handleListEligible)
	api.GET("/requests/:id", s.handleGetRequest)
	api.GET("/sessions/:id", s.handleGetSession)
}

// Start begins serving. Blocks until shutdown.
func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

// Shutdown stops the HTTP server and closes all websocket connections.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.echo.Shutdown(ctx)
	s.hub.Stop()
	return err
}
