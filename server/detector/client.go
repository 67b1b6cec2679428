package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/scalpsense/scalp-cv/server/models"
	"go.uber.org/zap"
)

// Detector issues one inference call at a given confidence threshold.
// Implemented by Client; fakes implement it in tests and the descent
// controller only depends on this surface.
type Detector interface {
	Detect(ctx context.Context, imageB64 string, confidence float64) (*Extraction, error)
}

// Extraction is the uniform result of one detector call after the raw
// response shape has been normalized.
type Extraction struct {
	Predictions []models.Prediction
	MaskImage   string
	ImageWidth  float64
	ImageHeight float64
}

type Client struct {
	endpointURL string
	apiKey      string
	targetClass string
	httpClient  *http.Client
	logger      *zap.Logger
}

type ClientConfig struct {
	EndpointURL string
	APIKey      string
	TargetClass string
	Timeout     time.Duration
}

type inferenceRequest struct {
	APIKey     string  `json:"api_key"`
	Image      string  `json:"image"`
	Confidence float64 `json:"confidence"`
	Prompt     string  `json:"prompt,omitempty"`
}

func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		endpointURL: cfg.EndpointURL,
		apiKey:      cfg.APIKey,
		targetClass: cfg.TargetClass,
		logger:      logger,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:       10,
				IdleConnTimeout:    30 * time.Second,
				DisableCompression: true,
			},
		},
	}
}

// Detect performs one inference round trip and normalizes the response.
// A non-success status maps to ErrDetectorUnavailable with the response body
// as diagnostic detail; an unparseable body maps to ErrMalformedResponse.
func (c *Client) Detect(ctx context.Context, imageB64 string, confidence float64) (*Extraction, error) {
	requestData, err := json.Marshal(&inferenceRequest{
		APIKey:     c.apiKey,
		Image:      imageB64,
		Confidence: confidence,
		Prompt:     c.targetClass,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal inference request: %w", err)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL, bytes.NewBuffer(requestData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("User-Agent", "scalp-cv/1.0")

	response, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetectorUnavailable, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read detector response: %w", err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrDetectorUnavailable, response.StatusCode, string(body))
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	extraction := normalizeResponse(raw)
	c.logger.Debug("detector call completed",
		zap.Float64("confidence", confidence),
		zap.Int("predictions", len(extraction.Predictions)),
		zap.Float64("image_width", extraction.ImageWidth),
		zap.Float64("image_height", extraction.ImageHeight))

	return extraction, nil
}

// HealthCheck probes the detector endpoint. Used at startup as a warning-only
// liveness signal; never load-bearing for a comparison.
func (c *Client) HealthCheck(ctx context.Context) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpointURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("detector health check failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode >= 500 {
		return fmt.Errorf("detector unhealthy (status %d)", response.StatusCode)
	}
	return nil
}
