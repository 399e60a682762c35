package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// RemoteEngine sends page images to an OCR service that returns
// EasyOCR-style quadrilaterals.
type RemoteEngine struct {
	baseURL    string
	httpClient *http.Client
}

type remoteResult struct {
	Box        [][2]float64 `json:"box"`
	Text       string       `json:"text"`
	Confidence float64      `json:"confidence"`
}

type remoteResponse struct {
	Success bool           `json:"success"`
	Results []remoteResult `json:"results"`
	Error   string         `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

func NewRemoteEngine(baseURL string, timeout time.Duration) *RemoteEngine {
	if baseURL == "" {
		baseURL = "http://localhost:8001"
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &RemoteEngine{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Ping checks if the OCR service is healthy
func (e *RemoteEngine) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("OCR service unhealthy: status %d", resp.StatusCode)
	}
	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("failed to decode health response: %w", err)
	}
	if health.Status != "healthy" || !health.ModelLoaded {
		return fmt.Errorf("OCR service not ready: status=%q model_loaded=%v", health.Status, health.ModelLoaded)
	}
	return nil
}

func (e *RemoteEngine) Recognize(ctx context.Context, img image.Image) ([]Detection, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "page.png")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if err := png.Encode(part, img); err != nil {
		return nil, fmt.Errorf("encode page: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/ocr/detect", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create OCR request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("OCR request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("OCR request failed with status %d: %s", resp.StatusCode, body)
	}
	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode OCR response: %w", err)
	}
	if !out.Success {
		return nil, fmt.Errorf("OCR processing failed: %s", out.Error)
	}

	dets := make([]Detection, 0, len(out.Results))
	for _, r := range out.Results {
		dets = append(dets, Detection{Points: r.Box, Text: r.Text, Confidence: r.Confidence})
	}
	return dets, nil
}

func (e *RemoteEngine) Close() error {
	e.httpClient.CloseIdleConnections()
	return nil
}
