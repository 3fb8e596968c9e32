// Package client talks to a running aclsync daemon over its HTTP API.
package client

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"grimm.is/aclsync/internal/acl"
	"grimm.is/aclsync/internal/errors"
	"grimm.is/aclsync/internal/logging"
	"grimm.is/aclsync/internal/state"
)

// Status mirrors the API status response.
// Defined locally to avoid importing the heavy internal/api package.
type Status struct {
	Status          string     `json:"status"`
	Version         string     `json:"version"`
	Backend         string     `json:"backend"`
	StartedAt       time.Time  `json:"started_at"`
	Uptime          string     `json:"uptime"`
	Deferrals       bool       `json:"deferrals"`
	CommitPending   bool       `json:"commit_pending"`
	Groups          int        `json:"groups"`
	GroupsPublished int        `json:"groups_published"`
	Points          int        `json:"points"`
	Links           int        `json:"links"`
	LastTxn         *state.Txn `json:"last_txn,omitempty"`
}

// Point mirrors one attach point.
type Point struct {
	Type     string              `json:"type"`
	Name     string              `json:"name"`
	Up       bool                `json:"up"`
	Rulesets map[string][]string `json:"rulesets"`
}

// Link mirrors one monitored link.
type Link struct {
	Name    string `json:"name"`
	Index   int    `json:"index"`
	Up      bool   `json:"up"`
	Enabled bool   `json:"fal_enabled"`
}

// ReloadResult mirrors a reload response.
type ReloadResult struct {
	Txn     state.Txn `json:"txn"`
	Changes []string  `json:"changes"`
}

// Message is one websocket message.
type Message struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// APIError is a non-2xx API response.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
	Details    string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	return msg
}

func kindForStatus(code int) errors.Kind {
	switch code {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return errors.KindValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.KindValidation
	case http.StatusNotFound:
		return errors.KindNotFound
	case http.StatusBadGateway:
		return errors.KindHardware
	case http.StatusServiceUnavailable:
		return errors.KindUnavailable
	}
	return errors.KindInternal
}

// APIClient is the daemon API as the CLI uses it.
type APIClient interface {
	GetStatus(ctx context.Context) (*Status, error)
	GetCounters(ctx context.Context, f acl.Filter) (*acl.CountersReport, error)
	ClearCounters(ctx context.Context, f acl.Filter) error
	GetDump(ctx context.Context) (string, error)
	GetGroups(ctx context.Context) ([]acl.GroupStatus, error)
	GetPoints(ctx context.Context) ([]Point, error)
	GetLinks(ctx context.Context) ([]Link, error)
	GetJournal(ctx context.Context, limit int) ([]state.Txn, error)
	Reload(ctx context.Context) (*ReloadResult, error)
	GetLogs(ctx context.Context, q logging.Query) ([]logging.Record, error)
}

// HTTPClient is an HTTP-based implementation of APIClient.
type HTTPClient struct {
	baseURL             string
	apiKey              string
	httpClient          *http.Client
	expectedFingerprint string
	SeenFingerprint     string
}

// ClientOption configures the HTTPClient.
type ClientOption func(*HTTPClient)

// WithAPIKey sets the API key for authentication.
func WithAPIKey(key string) ClientOption {
	return func(c *HTTPClient) {
		c.apiKey = key
	}
}

// WithFingerprint sets the expected server certificate fingerprint (SHA-256 hex).
func WithFingerprint(fp string) ClientOption {
	return func(c *HTTPClient) {
		c.expectedFingerprint = fp
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.httpClient.Timeout = d
	}
}

// NewHTTPClient creates a new HTTPClient for the given base URL. HTTPS
// servers with self-signed certificates are accepted unless a fingerprint
// is pinned.
func NewHTTPClient(baseURL string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.httpClient.Transport = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true, // verified by fingerprint below
			VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
				if len(rawCerts) == 0 {
					return nil
				}
				hash := sha256.Sum256(rawCerts[0])
				fingerprint := hex.EncodeToString(hash[:])
				c.SeenFingerprint = fingerprint

				if c.expectedFingerprint != "" && c.expectedFingerprint != fingerprint {
					return fmt.Errorf("certificate fingerprint mismatch! Expected %s, got %s", c.expectedFingerprint, fingerprint)
				}
				return nil
			},
		},
	}
	return c
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	return req, nil
}

// do performs a request and returns the body of a 2xx response.
func (c *HTTPClient) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(respBody, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return nil, errors.Wrap(apiErr, kindForStatus(resp.StatusCode), method+" "+path)
	}
	return respBody, nil
}

// doJSON performs a request and decodes the JSON response into result.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body, result any) error {
	respBody, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func filterQuery(f acl.Filter) string {
	q := url.Values{}
	if f.Interface != "" {
		q.Set("interface", f.Interface)
	}
	if f.Direction != "" {
		q.Set("direction", f.Direction)
	}
	if f.Group != "" {
		q.Set("group", f.Group)
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// GetStatus retrieves the daemon status.
func (c *HTTPClient) GetStatus(ctx context.Context) (*Status, error) {
	var st Status
	if err := c.doJSON(ctx, http.MethodGet, "/api/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// GetCounters retrieves the counters matching f.
func (c *HTTPClient) GetCounters(ctx context.Context, f acl.Filter) (*acl.CountersReport, error) {
	var rep acl.CountersReport
	if err := c.doJSON(ctx, http.MethodGet, "/api/counters"+filterQuery(f), nil, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

// ClearCounters zeroes the counters matching f.
func (c *HTTPClient) ClearCounters(ctx context.Context, f acl.Filter) error {
	return c.doJSON(ctx, http.MethodPost, "/api/counters/clear"+filterQuery(f), nil, nil)
}

// GetDump retrieves the engine's text dump.
func (c *HTTPClient) GetDump(ctx context.Context) (string, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/dump", nil)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// GetGroups retrieves the status of every attached group.
func (c *HTTPClient) GetGroups(ctx context.Context) ([]acl.GroupStatus, error) {
	var groups []acl.GroupStatus
	if err := c.doJSON(ctx, http.MethodGet, "/api/groups", nil, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// GetPoints retrieves the attach points.
func (c *HTTPClient) GetPoints(ctx context.Context) ([]Point, error) {
	var points []Point
	if err := c.doJSON(ctx, http.MethodGet, "/api/points", nil, &points); err != nil {
		return nil, err
	}
	return points, nil
}

// GetLinks retrieves the monitored links.
func (c *HTTPClient) GetLinks(ctx context.Context) ([]Link, error) {
	var links []Link
	if err := c.doJSON(ctx, http.MethodGet, "/api/links", nil, &links); err != nil {
		return nil, err
	}
	return links, nil
}

// GetJournal retrieves the most recent transactions, newest first. A
// limit of 0 uses the server default.
func (c *HTTPClient) GetJournal(ctx context.Context, limit int) ([]state.Txn, error) {
	path := "/api/journal"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var txns []state.Txn
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &txns); err != nil {
		return nil, err
	}
	return txns, nil
}

// Reload asks the daemon to re-read and apply its configuration.
func (c *HTTPClient) Reload(ctx context.Context) (*ReloadResult, error) {
	var res ReloadResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/reload", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetLogs retrieves recent daemon log lines matching q.
func (c *HTTPClient) GetLogs(ctx context.Context, q logging.Query) ([]logging.Record, error) {
	params := url.Values{}
	for key, v := range map[string]string{
		"source": q.Source,
		"ifname": q.Interface,
		"group":  q.Group,
		"level":  q.MinLevel,
	} {
		if v != "" {
			params.Set(key, v)
		}
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	path := "/api/logs"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var entries []logging.Record
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// TailEvents streams websocket messages on the given topics to fn until
// ctx is done or the connection drops.
func (c *HTTPClient) TailEvents(ctx context.Context, topics []string, fn func(Message)) error {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/api/ws/events?topics=" + url.QueryEscape(strings.Join(topics, ","))

	headers := http.Header{}
	if c.apiKey != "" {
		headers.Set("X-API-Key", c.apiKey)
	}
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 45 * time.Second,
	}
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		dialer.TLSClientConfig = transport.TLSClientConfig
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return errors.Wrapf(err, kindForStatus(resp.StatusCode), "websocket refused (status %d)", resp.StatusCode)
		}
		return errors.Wrap(err, errors.KindUnavailable, "failed to dial websocket")
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read error: %w", err)
		}
		fn(msg)
	}
}
