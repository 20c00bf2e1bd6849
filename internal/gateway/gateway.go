// Package gateway issues backend API calls on behalf of console screens.
//
// Every authenticated call reads the token from the credential store, sends uniform
// JSON headers and funnels 401 responses into a single expiry path: the persisted
// credentials are purged and the expiry handler runs once per rejected token, no
// matter how many overlapping calls observe the rejection. Rejected calls that carried
// no token notify once until a token is sent again.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"shop-admin/internal/domain"
	"shop-admin/internal/observability"
	"shop-admin/internal/session"

	"github.com/google/uuid"
)

const (
	jsonMediaType   = "application/json"
	maxResponseSize = 10 << 20
)

var emptyBody = json.RawMessage(`{}`)

// Request describes one API call. Path is relative to the gateway base URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	Header http.Header
}

// Response is a successful API response. Body is the JSON payload as sent by the
// server, or {} when the server sent nothing parseable.
type Response struct {
	StatusCode int
	Body       json.RawMessage
}

// Decode unmarshals the response body into v
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// ExpiryHandler is told when the API rejected the stored session
type ExpiryHandler func(ctx context.Context)

// Gateway handles requests to the shop admin API
type Gateway struct {
	baseURL    string
	httpClient *http.Client
	store      domain.CredentialStore

	expiryMu  sync.Mutex
	onExpired ExpiryHandler

	// set once an expiry was delivered and cleared when a call carries a token again
	expiredAnonymous atomic.Bool
}

// Option configures a Gateway
type Option func(*Gateway)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		g.httpClient = c
	}
}

// WithTimeout sets the per-request timeout of the default client
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		g.httpClient.Timeout = d
	}
}

// New creates a Gateway for the API rooted at baseURL
func New(baseURL string, store domain.CredentialStore, opts ...Option) *Gateway {
	g := &Gateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		store: store,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// OnExpired sets the handler run after a 401 purged the stored credentials
func (g *Gateway) OnExpired(fn ExpiryHandler) {
	g.expiryMu.Lock()
	defer g.expiryMu.Unlock()
	g.onExpired = fn
}

// Call issues an authenticated request. A 401 response yields
// domain.ErrSessionExpired, any other failure status a *domain.APIError.
func (g *Gateway) Call(ctx context.Context, req Request) (*Response, error) {
	token, _ := g.store.Get(ctx, domain.KeyToken)
	if token != "" {
		g.expiredAnonymous.Store(false)
	}

	resp, err := g.do(ctx, req, token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		observability.GatewayRequestsTotal.WithLabelValues(req.Method, "expired").Inc()
		g.expire(ctx, token)
		return nil, domain.ErrSessionExpired
	}
	return g.finish(req, resp)
}

// CallPublic issues a request without credentials or expiry handling, as used by
// the login exchange
func (g *Gateway) CallPublic(ctx context.Context, req Request) (*Response, error) {
	resp, err := g.do(ctx, req, "")
	if err != nil {
		return nil, err
	}
	return g.finish(req, resp)
}

// Get issues an authenticated GET
func (g *Gateway) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return g.Call(ctx, Request{Method: http.MethodGet, Path: path, Query: query})
}

// Post issues an authenticated POST with a JSON body
func (g *Gateway) Post(ctx context.Context, path string, body any) (*Response, error) {
	return g.Call(ctx, Request{Method: http.MethodPost, Path: path, Body: body})
}

// Put issues an authenticated PUT with a JSON body
func (g *Gateway) Put(ctx context.Context, path string, body any) (*Response, error) {
	return g.Call(ctx, Request{Method: http.MethodPut, Path: path, Body: body})
}

// Patch issues an authenticated PATCH with a JSON body
func (g *Gateway) Patch(ctx context.Context, path string, body any) (*Response, error) {
	return g.Call(ctx, Request{Method: http.MethodPatch, Path: path, Body: body})
}

// Delete issues an authenticated DELETE
func (g *Gateway) Delete(ctx context.Context, path string) (*Response, error) {
	return g.Call(ctx, Request{Method: http.MethodDelete, Path: path})
}

type rawResponse struct {
	StatusCode int
	Body       json.RawMessage
}

func (g *Gateway) do(ctx context.Context, req Request, token string) (*rawResponse, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, g.url(req), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header = buildHeader(ctx, req.Header, token)

	start := time.Now()
	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		observability.GatewayRequestsTotal.WithLabelValues(req.Method, "transport_error").Inc()
		return nil, fmt.Errorf("%s %s failed: %w", req.Method, req.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		observability.GatewayRequestsTotal.WithLabelValues(req.Method, "transport_error").Inc()
		return nil, fmt.Errorf("failed to read response of %s %s: %w", req.Method, req.Path, err)
	}

	observability.GatewayRequestDuration.WithLabelValues(
		req.Method,
		strconv.Itoa(resp.StatusCode),
	).Observe(time.Since(start).Seconds())

	observability.FromContext(ctx).Debug("api call",
		slog.String("method", req.Method),
		slog.String("path", req.Path),
		slog.Int("status", resp.StatusCode))

	return &rawResponse{StatusCode: resp.StatusCode, Body: parseBody(data)}, nil
}

func (g *Gateway) finish(req Request, resp *rawResponse) (*Response, error) {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		observability.GatewayRequestsTotal.WithLabelValues(req.Method, "api_error").Inc()
		return nil, &domain.APIError{
			Status:  resp.StatusCode,
			Message: errorMessage(resp.Body, resp.StatusCode),
		}
	}
	observability.GatewayRequestsTotal.WithLabelValues(req.Method, "ok").Inc()
	return &Response{StatusCode: resp.StatusCode, Body: resp.Body}, nil
}

// expire purges the credentials that were rejected. Calls carrying a token that is
// no longer the stored one were already handled, or were overtaken by a new login.
// Calls made without a token have nothing to purge and notify at most once until a
// token is sent again.
func (g *Gateway) expire(ctx context.Context, token string) {
	logger := observability.FromContext(ctx)

	g.expiryMu.Lock()
	if token == "" {
		if !g.expiredAnonymous.CompareAndSwap(false, true) {
			g.expiryMu.Unlock()
			return
		}
		logger.Warn("api rejected call made without credentials")
	} else {
		detached := context.WithoutCancel(ctx)
		current, _ := g.store.Get(detached, domain.KeyToken)
		if current != token {
			g.expiryMu.Unlock()
			return
		}
		session.RemoveCredentials(detached, g.store)
		g.expiredAnonymous.Store(true)
		logger.Warn("api rejected session, credentials purged")
	}
	handler := g.onExpired
	g.expiryMu.Unlock()

	observability.SessionExpiriesTotal.Inc()

	if handler != nil {
		handler(ctx)
	}
}

func (g *Gateway) url(req Request) string {
	u := g.baseURL + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}
	return u
}

func buildHeader(ctx context.Context, caller http.Header, token string) http.Header {
	h := caller.Clone()
	if h == nil {
		h = make(http.Header)
	}
	if h.Get("Content-Type") == "" {
		h.Set("Content-Type", jsonMediaType)
	}
	if h.Get("Accept") == "" {
		h.Set("Accept", jsonMediaType)
	}
	if token != "" && h.Get("Authorization") == "" {
		h.Set("Authorization", "Bearer "+token)
	}
	if h.Get("X-Request-ID") == "" {
		reqID := observability.RequestID(ctx)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		h.Set("X-Request-ID", reqID)
	}
	return h
}

func encodeBody(body any) (io.Reader, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return bytes.NewReader(b), nil
	case []byte:
		return bytes.NewReader(b), nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, err
		}
		return bytes.NewReader(data), nil
	}
}

func parseBody(data []byte) json.RawMessage {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || !json.Valid(data) {
		return emptyBody
	}
	return json.RawMessage(data)
}

func errorMessage(body json.RawMessage, status int) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return fmt.Sprintf("Request failed with status %d", status)
}

// IsExpired reports whether err means the session is no longer valid
func IsExpired(err error) bool {
	return errors.Is(err, domain.ErrSessionExpired)
}
