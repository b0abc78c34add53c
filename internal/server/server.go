// Package server exposes the pipeline service over HTTP and mounts the
// simulation hub.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jamicool/PPD/internal/core"
	"github.com/jamicool/PPD/internal/core/model"
	"github.com/jamicool/PPD/internal/observability"
	"github.com/jamicool/PPD/internal/progress"
)

const (
	APIPrefix = "/api/pipeline"

	defaultMaxUpload = 10 << 20
)

type Server struct {
	Pipeline *core.Pipeline
	Hub      http.Handler
	Metrics  *observability.Metrics

	// MaxUploadBytes bounds the import upload.
	MaxUploadBytes int64

	logger *slog.Logger
}

func NewServer(p *core.Pipeline, hub http.Handler, metrics *observability.Metrics, logger *slog.Logger) *Server {
	return &Server{
		Pipeline:       p,
		Hub:            hub,
		Metrics:        metrics,
		MaxUploadBytes: defaultMaxUpload,
		logger:         observability.OrDiscard(logger),
	}
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), s.requestMetrics())

	r.GET("/", s.Root)
	r.GET("/health", s.Health)
	r.GET("/db-health", s.DBHealth)
	if s.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.Metrics.Handler()))
	}
	if s.Hub != nil {
		r.GET(progress.HubPath, gin.WrapH(s.Hub))
	}

	api := r.Group(APIPrefix)
	api.GET("/projects", s.ListProjects)
	api.GET("/projects/:id", s.GetProject)
	api.POST("/projects", s.CreateProject)
	api.PUT("/projects/:id", s.ReplaceProject)
	api.DELETE("/projects/:id", s.DeleteProject)
	api.POST("/projects/:id/export", s.ExportProject)
	api.POST("/projects/import", s.ImportProject)
	api.POST("/validate", s.ValidateProject)
	api.POST("/simulate", s.SimulateProject)

	return r
}

// fail maps the error taxonomy onto HTTP status codes.
func (s *Server) fail(c *gin.Context, err error, msg string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, context.Canceled):
		// client went away; nobody reads the body
		status = 499
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, "error", err, "path", c.Request.URL.Path)
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) Root(c *gin.Context) {
	c.String(http.StatusOK, "Pipeline Designer API is running!")
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "Healthy", "timestamp": time.Now().UTC()})
}

// DBHealth always answers 200; the body says whether the store is usable.
func (s *Server) DBHealth(c *gin.Context) {
	count, err := s.Pipeline.Health(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "Unhealthy", "error": err.Error(), "timestamp": time.Now().UTC()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        "Healthy",
		"database":      "Connected",
		"projectsCount": count,
		"timestamp":     time.Now().UTC(),
	})
}

func (s *Server) ListProjects(c *gin.Context) {
	c.JSON(http.StatusOK, s.Pipeline.List(c.Request.Context()))
}

func (s *Server) GetProject(c *gin.Context) {
	p, err := s.Pipeline.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, model.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
		return
	}
	if err != nil {
		s.fail(c, err, "Internal server error")
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) CreateProject(c *gin.Context) {
	var p model.Project
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid project: " + err.Error()})
		return
	}
	created, err := s.Pipeline.Create(c.Request.Context(), &p)
	if err != nil {
		s.fail(c, err, "Failed to create project")
		return
	}
	c.JSON(http.StatusOK, created)
}

func (s *Server) ReplaceProject(c *gin.Context) {
	var p model.Project
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid project: " + err.Error()})
		return
	}
	saved, err := s.Pipeline.Replace(c.Request.Context(), c.Param("id"), &p)
	if err != nil {
		s.fail(c, err, "Failed to update project")
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (s *Server) DeleteProject(c *gin.Context) {
	err := s.Pipeline.Delete(c.Request.Context(), c.Param("id"))
	if errors.Is(err, model.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
		return
	}
	if err != nil {
		s.fail(c, err, "Failed to delete project")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Project deleted successfully"})
}

func (s *Server) ValidateProject(c *gin.Context) {
	var p model.Project
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid project: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.Pipeline.Validate(c.Request.Context(), &p))
}

func (s *Server) SimulateProject(c *gin.Context) {
	var req model.SimulationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid simulation request: " + err.Error()})
		return
	}
	res, err := s.Pipeline.Simulate(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err, "Simulation failed")
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) ExportProject(c *gin.Context) {
	data, name, err := s.Pipeline.Export(c.Request.Context(), c.Param("id"))
	if errors.Is(err, model.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
		return
	}
	if err != nil {
		s.fail(c, err, "Failed to export project")
		return
	}
	c.Header("Content-Disposition", mimeAttachment(name))
	c.Data(http.StatusOK, "application/json", data)
}

func (s *Server) ImportProject(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil || fh.Size == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}
	if fh.Size > s.MaxUploadBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Project file is too large"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		s.fail(c, err, "Failed to import project")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, s.MaxUploadBytes))
	if err != nil {
		s.fail(c, err, "Failed to import project")
		return
	}

	p, err := s.Pipeline.Import(c.Request.Context(), data)
	if errors.Is(err, model.ErrValidation) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid project file"})
		return
	}
	if err != nil {
		s.fail(c, err, "Failed to import project")
		return
	}
	c.JSON(http.StatusOK, p)
}
