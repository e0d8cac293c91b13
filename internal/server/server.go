// Package server exposes story exploration over HTTP. A client uploads a
// story file and receives the run report once the exploration finishes.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"storywalk/internal/config"
	"storywalk/internal/crawl"
	"storywalk/internal/explore"
	"storywalk/internal/metrics"
	"storywalk/internal/report"
	"storywalk/internal/story"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine readable error code.
	Code string `json:"code"`

	// Details carries validation output when there is any.
	Details string `json:"details,omitempty"`
}

// UploadResponse is returned by POST /upload.
type UploadResponse struct {
	RunID    string         `json:"runId"`
	Outcome  string         `json:"outcome"`
	Warnings []string       `json:"warnings,omitempty"`
	Report   *report.Report `json:"report"`
}

type Options struct {
	Settings *config.Config
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	// ScratchDir holds upload run directories while they explore. Empty
	// uses the system temp dir.
	ScratchDir string
}

// Server explores uploaded stories one at a time. Explorations share the
// process heap, so running them concurrently would defeat the memory guard.
type Server struct {
	settings *config.Config
	metrics  *metrics.Metrics
	log      *slog.Logger
	scratch  string
	mu       sync.Mutex
}

func New(opts Options) *Server {
	s := &Server{
		settings: opts.Settings,
		metrics:  opts.Metrics,
		log:      opts.Logger,
		scratch:  opts.ScratchDir,
	}
	if s.settings == nil {
		s.settings = config.Default()
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.log == nil {
		s.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s
}

// Router registers the routes:
//
//	POST /upload   explore the multipart "file" field
//	GET  /healthz  liveness
//	GET  /metrics  Prometheus exposition
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())
	r.POST("/upload", s.handleUpload)
	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	return r
}

// HTTPServer wraps the router for addr.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleUpload(c *gin.Context) {
	limit := int64(s.settings.Server.MaxUploadMB) << 20
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	header, err := c.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "upload too large", Code: "too_large"})
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "no file uploaded", Code: "missing_file", Details: err.Error()})
		return
	}
	if header.Size > limit {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "upload too large", Code: "too_large"})
		return
	}
	src, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "cannot read upload", Code: "bad_upload", Details: err.Error()})
		return
	}
	body, err := io.ReadAll(src)
	src.Close()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "cannot read upload", Code: "bad_upload", Details: err.Error()})
		return
	}

	_, diags, err := story.LoadBytes(body)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: "story is invalid", Code: "invalid_story", Details: err.Error()})
		return
	}
	var warnings []string
	for _, d := range diags {
		if d.Level == story.LevelWarning {
			warnings = append(warnings, d.Message)
		}
	}

	res, err := s.explore(c.Request.Context(), header.Filename, body)
	if res == nil || res.Report == nil {
		s.log.Error("upload exploration failed", "file", header.Filename, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "exploration failed", Code: "exploration_failed", Details: errString(err)})
		return
	}
	if err != nil && errors.Is(err, explore.ErrUnexpectedFault) {
		s.log.Error("upload exploration faulted", "run_id", res.RunID, "error", err)
	}
	c.JSON(http.StatusOK, UploadResponse{
		RunID:    res.RunID,
		Outcome:  string(res.Outcome),
		Warnings: warnings,
		Report:   res.Report,
	})
}

// explore writes the upload into a scratch runs dir and explores it there.
// Everything under the scratch dir is removed afterwards.
func (s *Server) explore(ctx context.Context, filename string, body []byte) (*crawl.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	root, err := os.MkdirTemp(s.scratch, "storywalk-upload-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(root)

	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = "story.dot"
	}
	storyPath := filepath.Join(root, name)
	if err := os.WriteFile(storyPath, body, 0o644); err != nil {
		return nil, err
	}

	settings := *s.settings
	settings.MetricsFile = ""
	return crawl.RunStory(ctx, crawl.RunConfig{
		StoryPath: storyPath,
		Runsdir:   filepath.Join(root, "runs"),
		RunID:     "upload-" + uuid.NewString(),
		Settings:  &settings,
		Metrics:   s.metrics,
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
