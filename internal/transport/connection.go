// Package transport owns the outbound HTTP channel to the service:
// one retrying client, the per-request header set and the transport
// error taxonomy. All calls happen on the network thread.
package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"connect-agent/pkg/models"
)

// ConnectionTimeout bounds every HTTP call. Expiry surfaces as a
// generic request failure, never as a hang.
const ConnectionTimeout = 10 * time.Second

const (
	endpointRegister  = "/p/register"
	endpointTelemetry = "/p/telemetry"
	endpointEvents    = "/p/events"
)

// Connection is the device side of the channel. The network thread is
// the sole writer of the token; producers may concurrently ask
// HasToken, so access is guarded.
type Connection struct {
	server     string
	httpClient *http.Client
	clock      *ClockWatcher

	mu          sync.RWMutex
	token       string
	fingerprint string
}

// NewConnection creates a client with bounded retries, following the
// same retry envelope the rest of the fleet tooling uses.
func NewConnection(server, fingerprint string) *Connection {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 2
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.Logger = nil
	retryClient.HTTPClient.Timeout = ConnectionTimeout

	return &Connection{
		server:      server,
		fingerprint: fingerprint,
		httpClient:  retryClient.StandardClient(),
		clock:       NewClockWatcher(),
	}
}

// ConnectURL formats a server base URL from settings values.
func ConnectURL(host string, tls bool, port int) string {
	protocol := "http"
	if tls {
		protocol = "https"
	}
	if port != 0 {
		return fmt.Sprintf("%s://%s:%d", protocol, host, port)
	}
	return fmt.Sprintf("%s://%s", protocol, host)
}

// Server returns the configured base URL, empty when unset.
func (c *Connection) Server() string {
	return c.server
}

// Fingerprint returns the client-generated stable identifier sent on
// every request.
func (c *Connection) Fingerprint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fingerprint
}

// SetFingerprint installs the identifier. The write-once rule is
// enforced by the printer identity layer, not here.
func (c *Connection) SetFingerprint(fingerprint string) {
	c.mu.Lock()
	c.fingerprint = fingerprint
	c.mu.Unlock()
}

// Token returns the current bearer token, empty when unregistered.
func (c *Connection) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// HasToken reports whether a bearer token is set.
func (c *Connection) HasToken() bool {
	return c.Token() != ""
}

// SetToken installs a bearer token obtained from registration or
// configuration.
func (c *Connection) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// MakeHeaders builds the header set carried on every call. The
// Clock-Adjusted marker is emitted once per detected host-clock jump
// and the watcher reset, so the service sees each jump exactly once.
func (c *Connection) MakeHeaders(timestamp float64) http.Header {
	if timestamp == 0 {
		timestamp = models.Timestamp()
	}
	headers := http.Header{}
	headers.Set("Fingerprint", c.Fingerprint())
	headers.Set("Timestamp", strconv.FormatFloat(timestamp, 'f', 1, 64))
	if token := c.Token(); token != "" {
		headers.Set("Token", token)
	}
	if c.clock.Adjusted() {
		headers.Set("Clock-Adjusted", "1")
		c.clock.Reset()
	}
	return headers
}

// PostTelemetry sends one telemetry sample.
func (c *Connection) PostTelemetry(timestamp float64, payload any) (*http.Response, error) {
	return c.post(endpointTelemetry, c.MakeHeaders(timestamp), payload)
}

// PostEvent sends one event.
func (c *Connection) PostEvent(timestamp float64, payload any) (*http.Response, error) {
	return c.post(endpointEvents, c.MakeHeaders(timestamp), payload)
}

// PostRegister starts the registration handshake. A 200 response
// carries the Temporary-Code header.
func (c *Connection) PostRegister(payload any) (*http.Response, error) {
	return c.post(endpointRegister, c.MakeHeaders(0), payload)
}

// GetRegister polls a pending registration. 200 carries the Token
// header, 202 means still pending.
func (c *Connection) GetRegister(code string) (*http.Response, error) {
	headers := c.MakeHeaders(0)
	headers.Set("Temporary-Code", code)

	req, err := http.NewRequest(http.MethodGet, c.server+endpointRegister, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = headers
	return c.httpClient.Do(req)
}

func (c *Connection) post(endpoint string, headers http.Header, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.server+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = headers
	req.Header.Set("Content-Type", "application/json")

	return c.httpClient.Do(req)
}
