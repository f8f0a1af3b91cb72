package relay

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/duet/core/dialogue"
	"github.com/koscakluka/duet/core/store"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	streamBuffer   = 64
	pingInterval   = 30 * time.Second
	writeTimeout   = 10 * time.Second
	shutdownBudget = 5 * time.Second
)

type Server struct {
	backend  store.Backend
	engine   *gin.Engine
	upgrader websocket.Upgrader
}

func NewServer(backend store.Backend) *Server {
	s := &Server{
		backend: backend,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	v1 := engine.Group("/v1")
	v1.POST("/sessions", s.createSession)
	// Segments after /sessions share one wildcard name; it holds a date key
	// for the plain GET and a session id everywhere else.
	v1.GET("/sessions/:key", s.loadSession)
	v1.POST("/sessions/:key/turns", s.appendTurn)
	v1.GET("/sessions/:key/stream", s.stream)
	v1.GET("/history", s.listSessions)
	v1.GET("/history/:key/turns", s.sessionTurns)

	s.engine = engine
	return s
}

func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.engine, "relay")
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	server := &http.Server{Addr: addr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("relay listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down relay")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownBudget)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.DebugContext(c.Request.Context(), "request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	if _, err := time.Parse(dialogue.DateKeyLayout, req.DateKey); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	id, err := s.backend.GetOrCreateSession(c.Request.Context(), req.DateKey, req.Topic)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, createSessionResponse{ID: id})
}

func (s *Server) loadSession(c *gin.Context) {
	session, turns, err := s.backend.LoadSession(c.Request.Context(), c.Param("key"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionResponse{Session: *session, Turns: nonNil(turns)})
}

func (s *Server) appendTurn(c *gin.Context) {
	var turn dialogue.Turn
	if err := c.ShouldBindJSON(&turn); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	if turn.Order < 1 || !turn.Speaker.Valid() {
		abort(c, http.StatusBadRequest, errors.New("turn needs a positive order and a known speaker"))
		return
	}

	if err := s.backend.AppendTurn(c.Request.Context(), c.Param("key"), turn); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

func (s *Server) listSessions(c *gin.Context) {
	sessions, err := s.backend.ListSessions(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	if sessions == nil {
		sessions = []dialogue.Session{}
	}
	c.JSON(http.StatusOK, sessionsResponse{Sessions: sessions})
}

func (s *Server) sessionTurns(c *gin.Context) {
	turns, err := s.backend.SessionTurns(c.Request.Context(), c.Param("key"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, turnsResponse{Turns: nonNil(turns)})
}

// stream subscribes before upgrading so that a client whose handshake
// completed never misses a turn appended afterwards.
func (s *Server) stream(c *gin.Context) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	turns := make(chan dialogue.Turn, streamBuffer)
	lost := make(chan error, 1)
	unsubscribe, err := s.backend.Subscribe(ctx, c.Param("key"), func(turn dialogue.Turn) {
		select {
		case turns <- turn:
		case <-ctx.Done():
		}
	}, func(err error) {
		lost <- err
	})
	if err != nil {
		handleError(c, err)
		return
	}
	defer func() {
		cancel()
		unsubscribe()
	}()

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.WarnContext(ctx, "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	write := func(fn func() error) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return fn()
	}

	for {
		select {
		case <-readerDone:
			return
		case <-ctx.Done():
			_ = write(func() error {
				return conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			})
			return
		case err := <-lost:
			logger.WarnContext(ctx, "backend stream lost, closing client stream", "error", err)
			_ = write(func() error {
				return conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "stream lost"))
			})
			return
		case <-ticker.C:
			if err := write(func() error { return conn.WriteMessage(websocket.PingMessage, nil) }); err != nil {
				return
			}
		case turn := <-turns:
			if err := write(func() error { return conn.WriteJSON(turn) }); err != nil {
				logger.DebugContext(ctx, "stream write failed", "error", err)
				return
			}
		}
	}
}

func handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		abort(c, http.StatusNotFound, err)
	case errors.Is(err, store.ErrConflict):
		abort(c, http.StatusConflict, err)
	default:
		logger.ErrorContext(c.Request.Context(), "relay request failed", "path", c.FullPath(), "error", err)
		abort(c, http.StatusInternalServerError, err)
	}
}

func abort(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, errorResponse{Error: err.Error()})
}

func nonNil(turns []dialogue.Turn) []dialogue.Turn {
	if turns == nil {
		return []dialogue.Turn{}
	}
	return turns
}
