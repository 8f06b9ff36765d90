package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"boardscan/pkg/common"
	"boardscan/pkg/export"
	"boardscan/pkg/ledger"
	"boardscan/pkg/pipeline"
)

const maxUploadBytes = 20 << 20

var allowedUploadExt = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".webp": true, ".tif": true, ".tiff": true,
}

// imageProcessor runs one saved upload through the pipeline.
type imageProcessor interface {
	ProcessImage(ctx context.Context, path string) pipeline.ImageSummary
}

type server struct {
	ledger     *ledger.Ledger
	pipe       imageProcessor
	export     *export.Service
	uploadBase string
	jwtSecret  []byte
	logger     *slog.Logger
}

func (s *server) setupRoutes(r *gin.Engine) {
	r.Use(requestID())
	r.GET("/healthz", s.healthHandler)
	r.GET("/images", s.listImagesHandler)
	r.GET("/jobs", s.listJobsHandler)
	r.GET("/jobs/:id/stats", s.jobStatsHandler)
	r.GET("/detections", s.listDetectionsHandler)
	r.GET("/extractions", s.listExtractionsHandler)
	r.GET("/stats", s.globalStatsHandler)
	r.GET("/export.xlsx", s.exportHandler)
	authGroup := r.Group("")
	authGroup.Use(jwtAuthMiddleware(s.jwtSecret))
	authGroup.POST("/process", s.processHandler)
}

// writeError maps failure kinds onto HTTP status codes.
func (s *server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, common.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, common.ErrInvalidInput):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// optionalID parses the named query parameter; absent means nil.
func optionalID(c *gin.Context, name string) (*uint, bool) {
	v := c.Query(name)
	if v == "" {
		return nil, true
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil || n == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return nil, false
	}
	id := uint(n)
	return &id, true
}

func (s *server) healthHandler(c *gin.Context) {
	if err := s.ledger.Ping(c.Request.Context(), 2*time.Second); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *server) listImagesHandler(c *gin.Context) {
	images, err := s.ledger.ListImages(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, images)
}

func (s *server) listJobsHandler(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	jobs, err := s.ledger.ListJobs(c.Request.Context(), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobs)
}

func (s *server) jobStatsHandler(c *gin.Context) {
	n, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || n == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}
	stats, err := s.ledger.JobStatistics(c.Request.Context(), uint(n))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *server) listDetectionsHandler(c *gin.Context) {
	jobID, ok := optionalID(c, "job_id")
	if !ok {
		return
	}
	dets, err := s.ledger.ListDetections(c.Request.Context(), jobID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dets)
}

func (s *server) listExtractionsHandler(c *gin.Context) {
	jobID, ok := optionalID(c, "job_id")
	if !ok {
		return
	}
	rows, err := s.ledger.ListExtractions(c.Request.Context(), jobID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (s *server) globalStatsHandler(c *gin.Context) {
	stats, err := s.ledger.GlobalStatistics(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *server) exportHandler(c *gin.Context) {
	data, err := s.export.Workbook(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	name := "boardscan_" + time.Now().UTC().Format("20060102_150405") + ".xlsx"
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

// processHandler saves a multipart upload under UPLOAD_BASE/<request id>/
// and runs the pipeline on it synchronously.
func (s *server) processHandler(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file missing"})
		return
	}
	if file.Size > maxUploadBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file too large (max 20MB)"})
		return
	}
	name := filepath.Base(file.Filename)
	if !allowedUploadExt[strings.ToLower(filepath.Ext(name))] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported image type"})
		return
	}
	reqID := common.RunIDFromContext(c.Request.Context())
	if reqID == "" {
		reqID = uuid.NewString()
	}
	dir := filepath.Join(s.uploadBase, reqID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "mkdir failed"})
		return
	}
	fullPath := filepath.Join(dir, name)
	if err := c.SaveUploadedFile(file, fullPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save failed"})
		return
	}

	sum := s.pipe.ProcessImage(c.Request.Context(), fullPath)
	if !sum.OK() {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": sum.Error, "summary": sum})
		return
	}
	c.JSON(http.StatusOK, sum)
}
