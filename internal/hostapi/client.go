package hostapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/gaby/plexscanner/internal/metrics"
)

// Client is the HTTP binding of API.
//
// Endpoints live under {BaseURL}/api/v1/plugin/{Plugin}/{endpoint}.
type Client struct {
	BaseURL string
	Plugin  string
	Token   string

	HTTP *http.Client
}

func NewClient(baseURL, plugin, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Plugin:  strings.Trim(strings.TrimSpace(plugin), "/"),
		Token:   strings.TrimSpace(token),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) endpointURL(endpoint string, params map[string]string) (string, error) {
	u, err := url.Parse(c.BaseURL + "/api/v1/plugin/" + url.PathEscape(c.Plugin) + "/" + url.PathEscape(endpoint))
	if err != nil {
		return "", err
	}
	if len(params) > 0 {
		q := u.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) Get(ctx context.Context, endpoint string, params map[string]string) (json.RawMessage, error) {
	u, err := c.endpointURL(endpoint, params)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return c.do(endpoint, req)
}

func (c *Client) Post(ctx context.Context, endpoint string, body any) (json.RawMessage, error) {
	u, err := c.endpointURL(endpoint, nil)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s body: %w", endpoint, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(endpoint, req)
}

func (c *Client) do(endpoint string, req *http.Request) (json.RawMessage, error) {
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	start := time.Now()
	defer func() {
		metrics.HostRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	resp, err := c.HTTP.Do(req)
	if err != nil {
		metrics.HostRequests.WithLabelValues(endpoint, "transport").Inc()
		return nil, fmt.Errorf("%s %s: %w", req.Method, endpoint, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		metrics.HostRequests.WithLabelValues(endpoint, "transport").Inc()
		return nil, fmt.Errorf("%s %s: read body: %w", req.Method, endpoint, err)
	}
	// Hosts answer business failures with an envelope on 4xx too; only give up
	// on the status when the body is not an envelope.
	data, err := Unwrap(endpoint, b)
	if err != nil {
		if IsHostError(err) {
			metrics.HostRequests.WithLabelValues(endpoint, "rejected").Inc()
			return nil, err
		}
		metrics.HostRequests.WithLabelValues(endpoint, "transport").Inc()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("%s %s: status=%d", req.Method, endpoint, resp.StatusCode)
		}
		return nil, err
	}
	metrics.HostRequests.WithLabelValues(endpoint, "ok").Inc()
	return data, nil
}
