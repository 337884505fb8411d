package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sync"
	"time"
)

const userAgent = "ScribbleSense/1.0"

// Client performs single-shot HTTP requests against one remote service.
// It never retries: a failure is reported once to the caller.
type Client struct {
	config     Config
	httpClient *http.Client
	semaphore  chan struct{} // bounds in-flight requests across sessions

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Config contains remote client configuration
type Config struct {
	Service       string // used in errors, logs and metrics
	Endpoint      string
	APIKey        string
	Timeout       time.Duration // 0 leaves the request bounded only by its context
	MaxConcurrent int
	Observer      Observer
	HTTPClient    *http.Client
}

// Observer is notified once per finished request.
type Observer interface {
	ObserveRequest(service string, elapsed time.Duration, err error)
}

// FilePart is a file field of a multipart request.
type FilePart struct {
	Field       string
	FileName    string
	ContentType string
	Data        []byte
}

// ClientStats represents client statistics
type ClientStats struct {
	Service         string        `json:"service"`
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// NewClient creates a new remote service client
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Service == "" {
		config.Service = "remote"
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
	}, nil
}

// Service returns the service name the client was configured with.
func (c *Client) Service() string {
	return c.config.Service
}

// PostMultipart sends fields and files as multipart/form-data and decodes
// the JSON response into out.
func (c *Client) PostMultipart(ctx context.Context, fields map[string]string, files []FilePart, out interface{}) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for _, f := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, f.Field, f.FileName))
		contentType := f.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header.Set("Content-Type", contentType)

		part, err := writer.CreatePart(header)
		if err != nil {
			return fmt.Errorf("failed to create form file %s: %w", f.Field, err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return fmt.Errorf("failed to write form file %s: %w", f.Field, err)
		}
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return c.do(ctx, &buf, writer.FormDataContentType(), out)
}

// PostJSON sends payload as JSON and decodes the JSON response into out.
func (c *Client) PostJSON(ctx context.Context, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	return c.do(ctx, bytes.NewReader(body), "application/json", out)
}

func (c *Client) do(ctx context.Context, body io.Reader, contentType string, out interface{}) error {
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return &Error{Service: c.config.Service, Kind: KindNetwork, Err: ctx.Err()}
	}

	startTime := time.Now()
	c.incrementTotalRequests()

	err := c.doRequest(ctx, body, contentType, out)

	elapsed := time.Since(startTime)
	if err != nil {
		c.incrementFailedRequests()
	} else {
		c.incrementSuccessRequests()
		c.updateAvgResponseTime(elapsed)
	}
	if c.config.Observer != nil {
		c.config.Observer.ObserveRequest(c.config.Service, elapsed, err)
	}
	return err
}

// doRequest performs a single HTTP request to the service
func (c *Client) doRequest(ctx context.Context, body io.Reader, contentType string, out interface{}) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &Error{Service: c.config.Service, Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Service: c.config.Service, Kind: KindNetwork, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{
			Service:    c.config.Service,
			Kind:       KindStatus,
			StatusCode: resp.StatusCode,
			Message:    statusMessage(respBody),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &Error{Service: c.config.Service, Kind: KindDecode, Err: fmt.Errorf("failed to parse response JSON: %w", err)}
	}
	return nil
}

// statusMessage prefers the envelope's message over the raw body.
func statusMessage(body []byte) string {
	var envelope struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil {
		if envelope.Message != "" {
			return envelope.Message
		}
		if envelope.Error != "" {
			return envelope.Error
		}
	}
	const max = 256
	if len(body) > max {
		body = body[:max]
	}
	return string(bytes.TrimSpace(body))
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		Service:         c.config.Service,
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  len(c.semaphore),
	}
}

// Close waits for in-flight requests to finish
func (c *Client) Close() error {
	for i := 0; i < c.config.MaxConcurrent; i++ {
		c.semaphore <- struct{}{}
	}
	return nil
}
