package genservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kiranshivaraju/meshforge/pkg/models"
)

// Sentinel errors for Generation Service client failures.
var (
	ErrServiceUnreachable = errors.New("generation service unreachable")
	ErrServiceTimeout     = errors.New("generation service timeout")
	ErrRequestFailed      = errors.New("generation service request failed")
	ErrInvalidResponse    = errors.New("generation service returned invalid response")
)

// APIError is a non-2xx response from the service. Message is the body's
// "error" field (or "details" when only that is present) and may be empty.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: status %d: %s", ErrRequestFailed, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: status %d", ErrRequestFailed, e.StatusCode)
}

func (e *APIError) Unwrap() error { return ErrRequestFailed }

// ServiceMessage returns the message the service attached to err, if any.
func ServiceMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return ""
}

// Client is the interface for talking to the Generation Service.
type Client interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	Refine(ctx context.Context, req RefineRequest) (string, error)
	Status(ctx context.Context, taskID string) (*models.TaskStatus, error)
	ProxyURL(raw string) string
}

// GenerateRequest starts a preview job. ArtStyle and NegativePrompt are
// optional and omitted from the body when empty.
type GenerateRequest struct {
	Prompt         string `json:"prompt"`
	ArtStyle       string `json:"art_style,omitempty"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
}

// RefineRequest starts a refine job for a finished preview.
type RefineRequest struct {
	PreviewTaskID  string `json:"preview_task_id"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
}

// HTTPClient implements Client using the service's HTTP API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a new Generation Service client. A zero timeout
// leaves requests bounded only by the transport and the caller's context.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the service base URL without a trailing slash.
func (c *HTTPClient) BaseURL() string { return c.baseURL }

func (c *HTTPClient) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	return c.startTask(ctx, "/api/generate", req)
}

func (c *HTTPClient) Refine(ctx context.Context, req RefineRequest) (string, error) {
	return c.startTask(ctx, "/api/refine", req)
}

func (c *HTTPClient) Status(ctx context.Context, taskID string) (*models.TaskStatus, error) {
	u := fmt.Sprintf("%s/api/status/%s", c.baseURL, url.PathEscape(taskID))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeAPIError(resp)
	}

	var status models.TaskStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("%w: decoding status response: %v", ErrInvalidResponse, err)
	}
	return &status, nil
}

// ProxyURL wraps a raw asset URL so the service fetches and relays the binary.
func (c *HTTPClient) ProxyURL(raw string) string {
	return c.baseURL + "/api/proxy-glb?" + url.Values{"url": {raw}}.Encode()
}

func (c *HTTPClient) startTask(ctx context.Context, path string, body any) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", decodeAPIError(resp)
	}

	var out taskResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decoding task response: %v", ErrInvalidResponse, err)
	}
	if strings.TrimSpace(out.TaskID) == "" {
		return "", fmt.Errorf("%w: missing task_id", ErrInvalidResponse)
	}
	return out.TaskID, nil
}

// decodeAPIError reads an error body. Bodies that are not JSON still yield
// an APIError carrying only the status code.
func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || len(raw) == 0 {
		return apiErr
	}
	var body errorResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return apiErr
	}
	apiErr.Message = body.Error
	if apiErr.Message == "" {
		apiErr.Message = body.Details
	}
	return apiErr
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrServiceTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrServiceUnreachable, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrServiceTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrServiceUnreachable, err)
}

// --- service wire types ---

type taskResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
