// Package apiclient is the authenticated client for the backend REST API.
package apiclient

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
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/edo-homes/portal/internal/model"
	"github.com/edo-homes/portal/internal/tokenstore"
	"github.com/edo-homes/portal/pkg/logger"
	"github.com/edo-homes/portal/pkg/metrics"
	"github.com/edo-homes/portal/pkg/tracing"
)

const (
	// DefaultBaseURL is the local development backend.
	DefaultBaseURL = "http://localhost:8000/api/v1"

	// DefaultTimeout bounds every attempt.
	DefaultTimeout = 30 * time.Second

	// SignInPath is where an expired session is sent.
	SignInPath = "/auth/signin"

	LoginEndpoint    = "/auth/login/"
	RegisterEndpoint = "/auth/register/"
	RefreshEndpoint  = "/token/refresh/"
)

// RequestOptions describes one backend call.
type RequestOptions struct {
	Method string
	Header http.Header
	// Body is a pre-serialized JSON document, or a form payload when
	// FormContentType is set.
	Body []byte
	// FormContentType is the content type of a binary form body, such as
	// the value of multipart.Writer.FormDataContentType.
	FormContentType string
}

// Client performs authenticated calls against the backend.
type Client struct {
	baseURL          string
	httpClient       *http.Client
	store            tokenstore.Store
	timeout          time.Duration
	logger           *logger.Logger
	tracer           trace.Tracer
	onSessionExpired func(ctx context.Context)

	// refreshMu keeps a single refresh in flight.
	refreshMu sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the transport client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout overrides the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithSessionExpiredHandler registers the hook that sends the user back to
// the sign-in surface once the session could not be recovered.
func WithSessionExpiredHandler(fn func(ctx context.Context)) Option {
	return func(c *Client) { c.onSessionExpired = fn }
}

// New creates a client for the backend at baseURL.
func New(baseURL string, store tokenstore.Store, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if store == nil {
		store = tokenstore.NoopStore{}
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		store:      store,
		timeout:    DefaultTimeout,
		logger:     logger.Global(),
		tracer:     tracing.Tracer("github.com/edo-homes/portal/internal/apiclient"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("apiclient")
	return c
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Store returns the token store backing the client.
func (c *Client) Store() tokenstore.Store {
	return c.store
}

// IsAuthEndpoint reports whether endpoint is anonymous and must not carry
// credentials.
func IsAuthEndpoint(endpoint string) bool {
	return strings.Contains(endpoint, LoginEndpoint) ||
		strings.Contains(endpoint, RegisterEndpoint) ||
		strings.Contains(endpoint, RefreshEndpoint)
}

// Request calls endpoint and returns the decoded body. A token-expired 401
// is recovered by refreshing the access token and retrying once; the retry
// itself never refreshes.
func (c *Client) Request(ctx context.Context, endpoint string, opts RequestOptions) (json.RawMessage, error) {
	body, sentToken, err := c.attempt(ctx, endpoint, opts)
	if err == nil {
		return body, nil
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.tokenExpired() || IsAuthEndpoint(endpoint) {
		return nil, err
	}

	if _, rerr := c.refreshAfter(ctx, sentToken); rerr != nil {
		// A caller that went away did not prove the refresh token bad.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.expireSession(ctx, rerr)
		return nil, fmt.Errorf("%w: %w", ErrSessionExpired, rerr)
	}

	body, _, err = c.attempt(ctx, endpoint, opts)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// RefreshAccessToken exchanges the stored refresh token for a new access
// token and stores it. The refresh token is never cleared here.
func (c *Client) RefreshAccessToken(ctx context.Context) (string, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	return c.refresh(ctx)
}

// refreshAfter refreshes unless another caller already replaced the token
// that was rejected.
func (c *Client) refreshAfter(ctx context.Context, rejected string) (string, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	if current := c.store.AccessToken(); current != "" && current != rejected {
		return current, nil
	}
	return c.refresh(ctx)
}

func (c *Client) refresh(ctx context.Context) (string, error) {
	refresh := c.store.RefreshToken()
	if refresh == "" {
		metrics.TokenRefreshesTotal.WithLabelValues("no_token").Inc()
		return "", ErrNoRefreshToken
	}

	payload, err := json.Marshal(map[string]string{"refresh": refresh})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	data, _, err := c.attempt(ctx, RefreshEndpoint, RequestOptions{
		Method: http.MethodPost,
		Body:   payload,
	})
	if err != nil {
		metrics.TokenRefreshesTotal.WithLabelValues("failed").Inc()
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	var resp model.RefreshResponse
	if err := json.Unmarshal(data, &resp); err != nil || resp.Access == "" {
		metrics.TokenRefreshesTotal.WithLabelValues("failed").Inc()
		return "", fmt.Errorf("%w: no access token in refresh response", ErrRefreshFailed)
	}

	if err := c.store.SetAccessToken(resp.Access); err != nil {
		metrics.TokenRefreshesTotal.WithLabelValues("failed").Inc()
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	metrics.TokenRefreshesTotal.WithLabelValues("success").Inc()
	c.logger.Debug("access token refreshed")
	return resp.Access, nil
}

func (c *Client) expireSession(ctx context.Context, cause error) {
	metrics.SessionsExpiredTotal.Inc()
	if err := c.store.Clear(); err != nil {
		c.logger.Error("failed to clear token store", zap.Error(err))
	}
	c.logger.Warn("session expired, redirecting to sign-in",
		zap.String("redirect", SignInPath),
		zap.Error(cause),
	)
	if c.onSessionExpired != nil {
		c.onSessionExpired(ctx)
	}
}

// attempt performs exactly one round trip. It returns the access token it
// sent so a refresh can tell whether the token has moved on since.
func (c *Client) attempt(ctx context.Context, endpoint string, opts RequestOptions) (json.RawMessage, string, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	ctx, span := c.tracer.Start(ctx, method+" "+metrics.EndpointLabel(endpoint),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("backend.endpoint", endpoint),
		),
	)
	defer span.End()

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var token string
	if !IsAuthEndpoint(endpoint) {
		token = c.store.AccessToken()
	}

	var body io.Reader
	if opts.Body != nil {
		body = bytes.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, token, fmt.Errorf("failed to build request: %w", err)
	}

	for k, vs := range opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if opts.FormContentType != "" {
		req.Header.Set("Content-Type", opts.FormContentType)
	} else {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	otel.GetTextMapPropagator().Inject(attemptCtx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = c.transportError(ctx, attemptCtx, endpoint, err)
		c.finish(span, method, endpoint, outcomeOf(err), start, err)
		return nil, token, err
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		err = c.transportError(ctx, attemptCtx, endpoint, err)
		c.finish(span, method, endpoint, outcomeOf(err), start, err)
		return nil, token, err
	}

	data := decodeBody(text, resp.StatusCode)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Body: data}
		c.finish(span, method, endpoint, fmt.Sprintf("%d", resp.StatusCode), start, apiErr)
		return nil, token, apiErr
	}

	c.finish(span, method, endpoint, "ok", start, nil)
	return data, token, nil
}

func (c *Client) finish(span trace.Span, method, endpoint, outcome string, start time.Time, err error) {
	elapsed := time.Since(start)
	metrics.RecordBackendCall(method, endpoint, outcome, elapsed.Seconds())

	fields := []zap.Field{
		zap.String("method", method),
		zap.String("endpoint", endpoint),
		zap.String("outcome", outcome),
		zap.Duration("duration", elapsed),
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		c.logger.Debug("backend call failed", append(fields, zap.Error(err))...)
		return
	}
	c.logger.Debug("backend call completed", fields...)
}

// transportError classifies a failure that produced no HTTP response.
func (c *Client) transportError(parent, attemptCtx context.Context, endpoint string, err error) error {
	if parent.Err() != nil && !errors.Is(parent.Err(), context.DeadlineExceeded) {
		return parent.Err()
	}

	var ne net.Error
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &ne) && ne.Timeout()) {
		c.logger.Error("request timed out",
			zap.String("endpoint", endpoint),
			zap.Duration("timeout", c.timeout),
		)
		return fmt.Errorf("%s: %w after %s", endpoint, ErrTimeout, c.timeout)
	}

	netErr := &NetworkError{
		BaseURL: c.baseURL,
		Refused: errors.Is(err, syscall.ECONNREFUSED),
		Err:     err,
	}
	c.logger.Error("could not reach backend",
		zap.String("base_url", c.baseURL),
		zap.Bool("refused", netErr.Refused),
		zap.Error(err),
	)
	return netErr
}

func outcomeOf(err error) string {
	var netErr *NetworkError
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.As(err, &netErr):
		return "network"
	default:
		return "canceled"
	}
}

// decodeBody returns text when it is JSON and a sentinel document
// otherwise, so callers always get something to decode.
func decodeBody(text []byte, status int) json.RawMessage {
	if len(bytes.TrimSpace(text)) == 0 {
		return json.RawMessage(`{"message":"Empty response from server"}`)
	}
	if json.Valid(text) {
		return json.RawMessage(text)
	}
	wrapped, _ := json.Marshal(struct {
		Message string `json:"message"`
		Raw     string `json:"raw"`
		Status  int    `json:"status"`
	}{
		Message: "Server returned non-JSON response",
		Raw:     string(text),
		Status:  status,
	})
	return wrapped
}

// do sends in as JSON and decodes the response into out. Either may be nil.
func (c *Client) do(ctx context.Context, method, endpoint string, in, out interface{}) error {
	opts := RequestOptions{Method: method}
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		opts.Body = payload
	}

	data, err := c.Request(ctx, endpoint, opts)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return nil
}
