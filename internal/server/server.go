// Package server exposes the bridge over HTTP and a websocket event stream.
//
// Sessions are started with POST /api/v1/sessions and run for the lifetime
// of the request. Their chunks and permission requests are broadcast to
// every client connected to /api/v1/events; answers come back either as a
// websocket "permission-response" message or POST /api/v1/permissions/:id.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/thoughttree/agentbridge"
	"github.com/thoughttree/agentbridge/bridge"
	"github.com/thoughttree/agentbridge/internal/config"
	"github.com/thoughttree/agentbridge/internal/logger"
	"github.com/thoughttree/agentbridge/provider"
)

const shutdownTimeout = 10 * time.Second

// Backend is the part of bridge.Bridge the server calls.
type Backend interface {
	RunSession(ctx context.Context, req bridge.SessionRequest) (agentbridge.StopReason, error)
	RespondToPermission(id, optionID string) error
	CheckAvailable(ctx context.Context, tag string) (provider.Command, error)
	Providers() []string
	Settings() bridge.Settings
	SetNotesDirectory(dir string) error
	SetProviderPath(ctx context.Context, tag, path string) error
	SetModel(tag, model string) error
}

// Server serves the HTTP API.
type Server struct {
	cfg     config.ServerConfig
	backend Backend
	hub     *Hub
	origins *originPolicy
	router  *gin.Engine
	logger  *logger.Logger
	ctx     context.Context

	upgrader websocket.Upgrader
}

// New builds a Server. The hub must be the emitter the backend was built
// with so that session events reach websocket clients.
func New(cfg config.ServerConfig, backend Backend, hub *Hub, log *logger.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		backend: backend,
		hub:     hub,
		origins: newOriginPolicy(cfg.AllowedOrigins),
		logger:  log.WithFields(zap.String("component", "http_server")),
		ctx:     context.Background(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.allow,
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": s.hub.ClientCount()})
	})

	api := router.Group("/api/v1", s.originGuard())
	api.GET("/events", s.handleEvents)
	api.POST("/sessions", requireJSON(), s.handleRunSession)
	api.POST("/permissions/:id", requireJSON(), s.handleRespond)
	api.GET("/providers", s.handleListProviders)
	api.GET("/providers/:tag/check", s.handleCheckProvider)
	api.GET("/settings", s.handleGetSettings)
	api.PUT("/settings/notes-directory", requireJSON(), s.handleSetNotesDirectory)
	api.PUT("/settings/providers/:tag/path", requireJSON(), s.handleSetProviderPath)
	api.PUT("/settings/providers/:tag/model", requireJSON(), s.handleSetModel)
	return router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.ctx = ctx
	srv := &http.Server{
		Handler:     s.router,
		ReadTimeout: s.cfg.ReadTimeout,
		// No WriteTimeout: POST /sessions lasts as long as the agent works.
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func (s *Server) handleEvents(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	client := newClient(uuid.New().String(), conn, s.hub, s.hub.logger)
	s.hub.register(client)
	s.logger.Debug("websocket connection established", zap.String("client_id", client.ID))

	go client.writePump()
	go client.readPump(s.ctx)
}

type runSessionResponse struct {
	StopReason agentbridge.StopReason `json:"stop_reason"`
}

func (s *Server) handleRunSession(c *gin.Context) {
	var req bridge.SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	reason, err := s.backend.RunSession(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, runSessionResponse{StopReason: reason})
}

type permissionBody struct {
	OptionID string `json:"option_id" binding:"required"`
}

func (s *Server) handleRespond(c *gin.Context) {
	var body permissionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if err := s.backend.RespondToPermission(c.Param("id"), body.OptionID); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": s.backend.Providers()})
}

func (s *Server) handleCheckProvider(c *gin.Context) {
	cmd, err := s.backend.CheckAvailable(c.Request.Context(), c.Param("tag"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"provider": cmd.Provider.Tag, "path": cmd.Path, "available": true})
}

func (s *Server) handleGetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, s.backend.Settings())
}

type pathBody struct {
	Path string `json:"path"`
}

func (s *Server) handleSetNotesDirectory(c *gin.Context) {
	var body pathBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if err := s.backend.SetNotesDirectory(body.Path); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.backend.Settings())
}

func (s *Server) handleSetProviderPath(c *gin.Context) {
	var body pathBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if err := s.backend.SetProviderPath(c.Request.Context(), c.Param("tag"), body.Path); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.backend.Settings())
}

type modelBody struct {
	Model string `json:"model"`
}

func (s *Server) handleSetModel(c *gin.Context) {
	var body modelBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if err := s.backend.SetModel(c.Param("tag"), body.Model); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.backend.Settings())
}
