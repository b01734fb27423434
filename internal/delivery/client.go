// Package delivery posts normalized payloads to the golden and scheme
// ingestion endpoints.
package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ingest-connector/internal/logging"
	"ingest-connector/internal/mapping"
	"ingest-connector/internal/payload"
	"ingest-connector/internal/util"

	"github.com/klauspost/compress/gzip"
)

// HTTPStatusException is reported when no HTTP response was received.
const HTTPStatusException = "EXCEPTION"

const (
	goldenPath = "/ingest"
	schemePath = "/scheme/ingest"

	defaultTimeout = 30 * time.Second

	// maxResponseBytes bounds the response text kept for the audit trail.
	maxResponseBytes = 1 << 20
)

// ImportResult is the outcome of one delivery. Failures are data: a transport
// error yields Success=false with HTTPStatus "EXCEPTION".
type ImportResult struct {
	Success      bool
	HTTPStatus   string
	ResponseText string
}

// Options configures a Client.
type Options struct {
	BaseURL string
	APIKey  string
	// Gzip compresses request bodies and sets Content-Encoding.
	Gzip bool
	// Timeout bounds each call. Zero means 30 seconds.
	Timeout time.Duration
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client sends one payload per request.
type Client struct {
	baseURL string
	apiKey  string
	gzip    bool
	timeout time.Duration
	http    *http.Client
}

// NewClient validates opts and returns a Client.
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("delivery client requires a base URL")
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return nil, fmt.Errorf("delivery base URL '%s' must use http or https", base)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{baseURL: base, apiKey: opts.APIKey, gzip: opts.Gzip, timeout: timeout, http: hc}, nil
}

// Endpoint returns the URL payloads for target are posted to.
func (c *Client) Endpoint(target mapping.Target) string {
	if target == mapping.Scheme {
		return c.baseURL + schemePath
	}
	return c.baseURL + goldenPath
}

// Send posts p and reports the outcome. Cancelling ctx aborts the in-flight request.
func (c *Client) Send(ctx context.Context, p *payload.Payload) ImportResult {
	body, err := payload.Marshal(p)
	if err != nil {
		return exception(fmt.Errorf("failed to serialize payload: %w", err))
	}

	var reader io.Reader = bytes.NewReader(body)
	if c.gzip {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(body); err != nil {
			return exception(fmt.Errorf("gzip error: %w", err))
		}
		if err := gz.Close(); err != nil {
			return exception(fmt.Errorf("gzip close error: %w", err))
		}
		reader = &buf
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := c.Endpoint(p.Target)
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, reader)
	if err != nil {
		return exception(fmt.Errorf("create request error: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if c.gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	logging.Logf(logging.Debug, "POST %s (unique value '%s', api key %s)", url, p.FirstUniqueValue(), util.MaskSecret(c.apiKey))
	resp, err := c.http.Do(req)
	if err != nil {
		return exception(err)
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		logging.Logf(logging.Warning, "Failed to read response body from %s: %v", url, err)
	}
	return ImportResult{
		Success:      resp.StatusCode >= 200 && resp.StatusCode < 300,
		HTTPStatus:   strconv.Itoa(resp.StatusCode),
		ResponseText: string(text),
	}
}

func exception(err error) ImportResult {
	return ImportResult{Success: false, HTTPStatus: HTTPStatusException, ResponseText: err.Error()}
}
