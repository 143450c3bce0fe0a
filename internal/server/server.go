// Package server exposes the council over HTTP: expert and session management,
// discussion start and interventions, and a WebSocket feed of session events.
package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/emilixs/Aicouncil/internal/broadcast"
	"github.com/emilixs/Aicouncil/internal/orchestrator"
	"github.com/emilixs/Aicouncil/pkg/blackboard"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Engine is the slice of the discussion engine the API drives.
type Engine interface {
	Prepare(ctx context.Context, sessionID string) (*orchestrator.Run, error)
	Cancel(ctx context.Context, sessionID string) (*blackboard.Session, error)
	QueueIntervention(ctx context.Context, sessionID, content, submitterID string) (bool, error)
	ActiveRuns() []string
}

// Observers attaches WebSocket clients to session event streams.
type Observers interface {
	Observe(ctx context.Context, sessionID string) (*broadcast.Observer, error)
	Observers() map[string]int
}

// Options configures the API surface.
type Options struct {
	APIToken           string        // Empty disables authentication
	DefaultMaxMessages int           // Used when a create request omits max_messages
	PingInterval       time.Duration // WebSocket keepalive
	ReadTimeout        time.Duration // WebSocket read deadline, refreshed by pongs
	WriteTimeout       time.Duration
	MaxMessageSize     int64
	AccessLog          bool
}

// DefaultOptions returns the production settings.
func DefaultOptions() Options {
	return Options{
		DefaultMaxMessages: 20,
		PingInterval:       30 * time.Second,
		ReadTimeout:        60 * time.Second,
		WriteTimeout:       10 * time.Second,
		MaxMessageSize:     4096,
		AccessLog:          true,
	}
}

// Server holds the HTTP handlers. Discussions started through the API run on
// runCtx, so they outlive the request that started them.
type Server struct {
	store     blackboard.Store
	engine    Engine
	observers Observers
	opts      Options
	runCtx    context.Context
	upgrader  websocket.Upgrader
}

// New creates a server. runCtx bounds every discussion started in the background.
func New(runCtx context.Context, store blackboard.Store, engine Engine, observers Observers, opts Options) *Server {
	defaults := DefaultOptions()
	if opts.DefaultMaxMessages <= 0 {
		opts.DefaultMaxMessages = defaults.DefaultMaxMessages
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaults.PingInterval
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaults.ReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaults.MaxMessageSize
	}

	return &Server{
		store:     store,
		engine:    engine,
		observers: observers,
		opts:      opts,
		runCtx:    runCtx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Echo builds the router with middleware and every route registered.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	if s.opts.AccessLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.GET("/healthz", s.Health)

	api := e.Group("/api")
	ws := e.Group("/ws")
	if s.opts.APIToken != "" {
		auth := middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
			KeyLookup:  "header:" + echo.HeaderAuthorization + ",query:token",
			AuthScheme: "Bearer",
			Validator:  s.validateToken,
		})
		api.Use(auth)
		ws.Use(auth)
	}

	api.GET("/experts", s.ListExperts)
	api.GET("/experts/:id", s.GetExpert)
	api.PUT("/experts/:id", s.PutExpert)

	api.POST("/sessions", s.CreateSession)
	api.GET("/sessions", s.ListSessions)
	api.GET("/sessions/:id", s.GetSession)
	api.GET("/sessions/:id/messages", s.ListMessages)
	api.POST("/sessions/:id/start", s.StartSession)
	api.POST("/sessions/:id/cancel", s.CancelSession)
	api.POST("/sessions/:id/interventions", s.SubmitIntervention)

	ws.GET("/sessions/:id", s.WatchSession)

	return e
}

func (s *Server) validateToken(key string, _ echo.Context) (bool, error) {
	return subtle.ConstantTimeCompare([]byte(key), []byte(s.opts.APIToken)) == 1, nil
}

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status     string         `json:"status"`
	Store      string         `json:"store"`
	ActiveRuns []string       `json:"active_runs"`
	Observers  map[string]int `json:"observers"`
	Error      string         `json:"error,omitempty"`
}

// Health reports store connectivity and the discussions running here.
// GET /healthz
func (s *Server) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:     "healthy",
		Store:      "ok",
		ActiveRuns: s.engine.ActiveRuns(),
		Observers:  s.observers.Observers(),
	}
	if err := s.store.Ping(ctx); err != nil {
		resp.Status = "unhealthy"
		resp.Store = "unreachable"
		resp.Error = err.Error()
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}
