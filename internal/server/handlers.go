package server

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"artvault/internal/metrics"
	"artvault/internal/models"
	"artvault/internal/validate"
)

var allowedMIMEs = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

func (s *Server) handleUpload(c *gin.Context) {
	const op = "server.handleUpload"

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)
	file, err := c.FormFile("image")
	if err != nil {
		metrics.RecordUpload("unknown", "rejected")
		status := http.StatusBadRequest
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	src, err := file.Open()
	if err != nil {
		s.fail(c, op, err)
		return
	}
	defer src.Close()

	mt, err := mimetype.DetectReader(src)
	if err != nil {
		s.fail(c, op, err)
		return
	}
	if !allowedMIMEs[mt.String()] {
		metrics.RecordUpload(mt.String(), "rejected")
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported mime type " + mt.String()})
		return
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		s.fail(c, op, err)
		return
	}

	// the sniffed type decides the extension, whatever the client named it
	name := strings.TrimSuffix(filepath.Base(file.Filename), filepath.Ext(file.Filename)) + mt.Extension()
	rec, err := s.svc.Ingest(c.Request.Context(), name, src)
	if err != nil {
		metrics.RecordUpload(mt.String(), "error")
		s.fail(c, op, err)
		return
	}
	metrics.RecordUpload(mt.String(), "ok")

	c.JSON(http.StatusCreated, gin.H{"record": rec})
}

func (s *Server) handleListRecords(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"records": s.svc.List()})
}

func (s *Server) handleGetRecord(c *gin.Context) {
	const op = "server.handleGetRecord"

	rec, err := s.svc.Get(c.Param("slug"))
	if err != nil {
		s.fail(c, op, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": rec})
}

func (s *Server) handleRecordEvents(c *gin.Context) {
	const op = "server.handleRecordEvents"

	events, err := s.svc.History(c.Request.Context(), c.Param("slug"))
	if err != nil {
		s.fail(c, op, err)
		return
	}
	if events == nil {
		events = []models.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *Server) handleAnalysis(c *gin.Context) {
	const op = "server.handleAnalysis"

	var analysis models.Analysis
	if err := c.ShouldBindJSON(&analysis); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := s.svc.Analyse(c.Request.Context(), c.Param("slug"), analysis)
	if err != nil {
		s.fail(c, op, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": rec})
}

func (s *Server) handleMockups(c *gin.Context) {
	const op = "server.handleMockups"

	res, err := s.svc.Mockups(c.Request.Context(), c.Param("slug"))
	if err != nil {
		s.fail(c, op, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mockups": res})
}

func (s *Server) handleFinalise(c *gin.Context) {
	const op = "server.handleFinalise"

	// an empty body finalises from the analysis alone
	var in models.Listing
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	listing, err := s.svc.Finalise(c.Request.Context(), c.Param("slug"), in)
	if err != nil {
		s.fail(c, op, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listing": listing})
}

func (s *Server) handleLock(c *gin.Context) {
	const op = "server.handleLock"

	rec, err := s.svc.Lock(c.Request.Context(), c.Param("slug"))
	if err != nil {
		s.fail(c, op, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": rec})
}

func (s *Server) handleDeleteRecord(c *gin.Context) {
	const op = "server.handleDeleteRecord"

	if err := s.svc.Delete(c.Request.Context(), c.Param("slug")); err != nil {
		s.fail(c, op, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleValidate(c *gin.Context) {
	const op = "server.handleValidate"

	stage := c.Query("stage")
	problems, err := validate.Stage(s.paths.Root, stage)
	if err != nil {
		if errors.Is(err, validate.ErrUnknownStage) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.fail(c, op, err)
		return
	}
	if stage == "" {
		metrics.RecordValidation(len(problems))
	}
	if problems == nil {
		problems = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"ok": len(problems) == 0, "problems": problems})
}
