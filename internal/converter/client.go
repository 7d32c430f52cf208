package converter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/docjob-queue/internal/domain"
	"github.com/cuongbtq/docjob-queue/internal/executor"
)

// Config holds conversion backend settings
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client calls the conversion backend over HTTP. Inputs and outputs live in
// the job's artifact namespace, which the backend reads from shared storage.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

type convertResponse struct {
	OutputFile string `json:"output_file"`
}

type errorResponse struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// NewClient creates a new conversion backend client
func NewClient(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// Convert posts the settings to /v1/convert/{operation} and returns the output file name
func (c *Client) Convert(ctx context.Context, settings executor.Settings) (string, error) {
	body, err := json.Marshal(settings)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settings: %w", err)
	}

	url := fmt.Sprintf("%s/v1/convert/%s", c.baseURL, settings.Operation())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("conversion request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("Conversion backend responded",
		slog.String("job_id", settings.Namespace()),
		slog.String("operation", string(settings.Operation())),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read conversion response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return "", decodeError(resp.StatusCode, payload)
	}

	var out convertResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", fmt.Errorf("failed to decode conversion response: %w", err)
	}
	if out.OutputFile == "" {
		return "", fmt.Errorf("conversion backend returned no output file")
	}
	return out.OutputFile, nil
}

func decodeError(status int, payload []byte) error {
	var body errorResponse
	if err := json.Unmarshal(payload, &body); err != nil || (body.Reason == "" && body.Message == "") {
		text := strings.TrimSpace(string(payload))
		if text == "" {
			text = http.StatusText(status)
		}
		return fmt.Errorf("conversion backend returned %d: %s", status, text)
	}

	return &domain.ConversionError{
		Reason:  domain.FailureReason(body.Reason),
		Message: body.Message,
	}
}
