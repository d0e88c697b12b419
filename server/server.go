// Package server exposes an assistant session over HTTP and websockets.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xhad/prepbot/internal/logger"
	"github.com/xhad/prepbot/internal/models"
	"github.com/xhad/prepbot/internal/types"
	"github.com/xhad/prepbot/pkg/assistant"
)

// Assistant is the session the server drives.
type Assistant interface {
	LoadKnowledge(ctx context.Context, src assistant.Sources) (*assistant.IngestReport, error)
	Ask(ctx context.Context, question string) (*assistant.Reply, error)
	ClearHistory()
	SetStyle(mode, length string) error
	Style() (models.AnswerMode, models.AnswerLength)
	SetEvaluation(on bool)
	Namespace() string
	Stats() models.Stats
}

type Server struct {
	assistant      Assistant
	router         *gin.Engine
	allowedOrigins map[string]bool
}

type Option func(*Server)

// WithAllowedOrigins lets browser pages from origins call the API and open
// websockets. "*" allows any origin. By default only same-origin and
// non-browser clients are served.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		for _, o := range origins {
			s.allowedOrigins[strings.TrimRight(o, "/")] = true
		}
	}
}

func New(a Assistant, opts ...Option) *Server {
	s := &Server{assistant: a, router: gin.New(), allowedOrigins: map[string]bool{}}
	for _, opt := range opts {
		opt(s)
	}
	s.router.Use(gin.Recovery(), s.cors)

	s.router.GET("/health", s.health)
	s.router.GET("/ws", s.handleWebSocket)

	api := s.router.Group("/api/v1")
	{
		api.POST("/knowledge", s.loadKnowledge)
		api.POST("/ask", s.ask)
		api.DELETE("/history", s.clearHistory)
		api.PUT("/style", s.setStyle)
		api.GET("/stats", s.stats)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) originAllowed(origin string) bool {
	return s.allowedOrigins["*"] || s.allowedOrigins[strings.TrimRight(origin, "/")]
}

func (s *Server) cors(c *gin.Context) {
	if origin := c.GetHeader("Origin"); origin != "" && s.originAllowed(origin) {
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Vary", "Origin")
	}
	if c.Request.Method == http.MethodOptions {
		c.AbortWithStatus(http.StatusNoContent)
		return
	}
	c.Next()
}

// knowledgeRequest is the HTTP form of assistant.Sources. Server-side file
// paths are refused; documents arrive as text or as URLs to fetch.
type knowledgeRequest struct {
	Text    string   `json:"text"`
	URLs    []string `json:"urls"`
	Files   []string `json:"files"`
	CVFiles []string `json:"cv_files"`
}

type askRequest struct {
	Question string `json:"question" binding:"required"`
}

type styleRequest struct {
	Mode     string `json:"mode"`
	Length   string `json:"length"`
	Evaluate *bool  `json:"evaluate"`
}

func (s *Server) health(c *gin.Context) {
	mode, length := s.assistant.Style()
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"namespace": s.assistant.Namespace(),
		"mode":      mode,
		"length":    length,
	})
}

func (s *Server) loadKnowledge(c *gin.Context) {
	var req knowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if len(req.Files) > 0 || len(req.CVFiles) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file paths are not accepted over HTTP; send the document text instead"})
		return
	}
	src := assistant.Sources{PastedText: req.Text, URLs: req.URLs}
	if src.Empty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one of text or urls is required"})
		return
	}

	report, err := s.assistant.LoadKnowledge(c.Request.Context(), src)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "report": report})
		return
	}
	c.JSON(http.StatusCreated, report)
}

func (s *Server) ask(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	reply, err := s.assistant.Ask(c.Request.Context(), req.Question)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (s *Server) clearHistory(c *gin.Context) {
	s.assistant.ClearHistory()
	c.Status(http.StatusNoContent)
}

func (s *Server) setStyle(c *gin.Context) {
	var req styleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	mode, length := s.assistant.Style()
	if req.Mode == "" {
		req.Mode = string(mode)
	}
	if req.Length == "" {
		req.Length = string(length)
	}
	if err := s.assistant.SetStyle(req.Mode, req.Length); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if req.Evaluate != nil {
		s.assistant.SetEvaluation(*req.Evaluate)
	}

	mode, length = s.assistant.Style()
	c.JSON(http.StatusOK, gin.H{"mode": mode, "length": length})
}

func (s *Server) stats(c *gin.Context) {
	c.JSON(http.StatusOK, s.assistant.Stats())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrInvalidInput), errors.Is(err, types.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, types.ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, types.ErrProviderUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
