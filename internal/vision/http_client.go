package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/prescription-ai-platform/pkg/logging"
)

const defaultInferenceTimeout = 120 * time.Second

// HTTPConfig configures the remote VQA endpoint client.
type HTTPConfig struct {
	Endpoint   string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// HTTPClient posts an image reference and question to a VQA server.
type HTTPClient struct {
	endpoint   string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	logger     *logging.Logger
}

var _ Analyzer = (*HTTPClient)(nil)

// NewHTTPClient validates the configuration and returns a ready-to-use client.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("vision: endpoint required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultInferenceTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// the per-call context carries the deadline
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &HTTPClient{
		endpoint:   endpoint,
		apiKey:     cfg.APIKey,
		timeout:    timeout,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type inferenceRequest struct {
	ImagePath      string `json:"image_path"`
	Question       string `json:"question"`
	PrescriptionID int64  `json:"prescription_id,omitempty"`
}

type inferenceResponse struct {
	InferenceResult string `json:"inference_result"`
	ResultText      string `json:"result_text"`
	Prediction      string `json:"prediction"`
	Error           string `json:"error"`
	Detail          string `json:"detail"`
}

func (r inferenceResponse) text() string {
	for _, candidate := range []string{r.InferenceResult, r.ResultText, r.Prediction} {
		if s := strings.TrimSpace(candidate); s != "" {
			return s
		}
	}
	return ""
}

// Analyze performs exactly one inference call bounded by the configured timeout.
func (c *HTTPClient) Analyze(ctx context.Context, req Request) (string, error) {
	imagePath := req.Image.URL
	if imagePath == "" {
		imagePath = req.Image.Key
	}
	if imagePath == "" {
		return "", errors.New("vision: image reference required")
	}
	body, err := json.Marshal(inferenceRequest{
		ImagePath:      imagePath,
		Question:       req.Question,
		PrescriptionID: req.PrescriptionID,
	})
	if err != nil {
		return "", fmt.Errorf("vision: encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("vision: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.apiKey) != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", c.classify(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", c.classify(ctx, err)
	}
	c.logger.Debug("vision inference finished",
		"prescription_id", req.PrescriptionID,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	var decoded inferenceResponse
	decodeErr := json.Unmarshal(data, &decoded)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reason := strings.TrimSpace(string(data))
		if decodeErr == nil {
			if decoded.Error != "" {
				reason = decoded.Error
			} else if decoded.Detail != "" {
				reason = decoded.Detail
			}
		}
		return "", &UpstreamError{StatusCode: resp.StatusCode, Reason: reason}
	}
	if decodeErr != nil {
		return "", &UpstreamError{StatusCode: resp.StatusCode, Reason: "malformed response: " + decodeErr.Error()}
	}
	text := decoded.text()
	if text == "" {
		return "", &UpstreamError{StatusCode: resp.StatusCode, Reason: "empty inference result"}
	}
	return text, nil
}

func (c *HTTPClient) classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return &UpstreamError{Reason: err.Error()}
}
