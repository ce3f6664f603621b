// Package hostapi talks to the host application's generic plugin API.
//
// Every call answers with an envelope {success, data, message}. A false
// success flag comes back as *HostError; anything else that goes wrong
// (network, status code, decoding) is a plain error. Callers tell the two
// apart with errors.As.
package hostapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// Plugin API endpoints.
const (
	EndpointServers  = "related_plex_servers"
	EndpointServer   = "related_plex_server"
	EndpointSections = "related_plex_sections"
	EndpointConfig   = "config"
)

// API is the host's plugin API.
type API interface {
	Get(ctx context.Context, endpoint string, params map[string]string) (json.RawMessage, error)
	Post(ctx context.Context, endpoint string, body any) (json.RawMessage, error)
}

// Envelope is the uniform host response.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// HostError is a failure the host reported with success=false.
type HostError struct {
	Endpoint string
	Message  string
}

func (e *HostError) Error() string {
	return fmt.Sprintf("host %s: %s", e.Endpoint, e.Message)
}

// IsHostError reports whether err carries a host-reported failure.
func IsHostError(err error) bool {
	var he *HostError
	return errors.As(err, &he)
}

// Unwrap decodes an envelope body into its data payload.
func Unwrap(endpoint string, body []byte) (json.RawMessage, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode %s envelope: %w", endpoint, err)
	}
	if !env.Success {
		return nil, &HostError{Endpoint: endpoint, Message: env.Message}
	}
	return env.Data, nil
}
