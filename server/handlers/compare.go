package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/scalpsense/scalp-cv/server/cache"
	"github.com/scalpsense/scalp-cv/server/models"
	"go.uber.org/zap"
)

// ComparisonRunner drives one comparison and emits its event frames.
// Implemented by pipeline.Orchestrator.
type ComparisonRunner interface {
	Run(ctx context.Context, req *models.CompareRequest, emit func(models.Event))
}

type CompareHandler struct {
	runner      ComparisonRunner
	resultCache cache.Cache
	logger      *zap.Logger
	stats       *SystemStats
	statsMutex  sync.Mutex
}

type SystemStats struct {
	TotalComparisons int64     `json:"total_comparisons"`
	CompletedOK      int64     `json:"completed_ok"`
	Failed           int64     `json:"failed"`
	AvgDurationMS    float64   `json:"avg_duration_ms"`
	LastUpdated      time.Time `json:"last_updated"`
}

// compareJSONRequest is the non-multipart request body: images as raw base64
// or browser data URLs.
type compareJSONRequest struct {
	Before string `json:"before" binding:"required"`
	After  string `json:"after" binding:"required"`
}

func NewCompareHandler(runner ComparisonRunner, resultCache cache.Cache, logger *zap.Logger) *CompareHandler {
	return &CompareHandler{
		runner:      runner,
		resultCache: resultCache,
		logger:      logger,
		stats:       &SystemStats{LastUpdated: time.Now()},
	}
}

// Compare runs the full pipeline and streams newline-delimited JSON event
// frames, flushing after each one. Exactly one terminal frame (complete or
// error) ends the stream.
func (h *CompareHandler) Compare(c *gin.Context) {
	request, err := h.parseRequest(c)
	if err != nil {
		h.logger.Error("invalid comparison request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	start := time.Now()
	encoder := json.NewEncoder(c.Writer)
	var terminal models.EventType

	h.runner.Run(c.Request.Context(), request, func(ev models.Event) {
		if ev.Type != models.EventProgress {
			terminal = ev.Type
		}
		if err := encoder.Encode(ev); err != nil {
			h.logger.Warn("failed to write event frame", zap.Error(err))
			return
		}
		c.Writer.Flush()
	})

	h.recordOutcome(terminal, time.Since(start))
}

func (h *CompareHandler) GetStats(c *gin.Context) {
	h.statsMutex.Lock()
	stats := *h.stats
	h.statsMutex.Unlock()

	var successRate float64
	if stats.TotalComparisons > 0 {
		successRate = float64(stats.CompletedOK) / float64(stats.TotalComparisons) * 100
	}

	response := gin.H{
		"system": stats,
		"metrics": gin.H{
			"success_rate": successRate,
		},
	}
	if h.resultCache != nil {
		response["cache"] = h.resultCache.Stats()
	}

	c.JSON(http.StatusOK, response)
}

// parseRequest accepts either a multipart form with "before"/"after" file
// fields or a JSON body with base64 payloads.
func (h *CompareHandler) parseRequest(c *gin.Context) (*models.CompareRequest, error) {
	contentType := c.GetHeader("Content-Type")

	if strings.Contains(contentType, "multipart/form-data") {
		before, err := readFormFile(c, "before")
		if err != nil {
			return nil, err
		}
		after, err := readFormFile(c, "after")
		if err != nil {
			return nil, err
		}
		return &models.CompareRequest{Before: before, After: after}, nil
	}

	var body compareJSONRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}

	before, err := extractImageData(body.Before)
	if err != nil {
		return nil, fmt.Errorf("invalid before image: %w", err)
	}
	after, err := extractImageData(body.After)
	if err != nil {
		return nil, fmt.Errorf("invalid after image: %w", err)
	}
	return &models.CompareRequest{Before: before, After: after}, nil
}

func readFormFile(c *gin.Context, field string) ([]byte, error) {
	file, _, err := c.Request.FormFile(field)
	if err != nil {
		return nil, fmt.Errorf("missing %s image: %w", field, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s image: %w", field, err)
	}
	return data, nil
}

// extractImageData decodes a raw base64 string or a browser data URL
// ("data:image/png;base64,....").
func extractImageData(payload string) ([]byte, error) {
	if idx := strings.Index(payload, ","); idx >= 0 {
		payload = payload[idx+1:]
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 image data: %w", err)
	}
	return data, nil
}

func (h *CompareHandler) recordOutcome(terminal models.EventType, duration time.Duration) {
	h.statsMutex.Lock()
	defer h.statsMutex.Unlock()

	h.stats.TotalComparisons++
	if terminal == models.EventComplete {
		h.stats.CompletedOK++
	} else {
		h.stats.Failed++
	}
	h.stats.LastUpdated = time.Now()

	ms := float64(duration.Milliseconds())
	if h.stats.AvgDurationMS == 0 {
		h.stats.AvgDurationMS = ms
	} else {
		alpha := 0.1
		h.stats.AvgDurationMS = alpha*ms + (1-alpha)*h.stats.AvgDurationMS
	}
}
