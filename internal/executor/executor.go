// Package executor is the HTTP client for the remote command service: the
// executor that runs a natural-language command and the parser that previews
// its structured intent.
//
// The client separates two kinds of failure. A business rejection (the
// service ran and said no) comes back as an [types.ExecutionResult] with
// Success=false and a nil error. Anything that prevented the service from
// answering (connection errors, timeouts, 5xx, rate limiting, an open circuit
// breaker) is returned as an error wrapping [ErrTransport], which the command
// queue treats as "try again later".
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voicecmd/internal/observe"
	"github.com/MrWong99/voicecmd/internal/resilience"
	"github.com/MrWong99/voicecmd/pkg/types"
)

// ErrTransport marks failures where the remote service could not be reached
// or could not answer. Commands failing this way are retryable.
var ErrTransport = errors.New("executor: transport failure")

const (
	executePath = "/commands/execute"
	parsePath   = "/commands/parse"
	healthPath  = "/health"

	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 1 << 20
	userAgent      = "voicecmd/1"
)

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithToken sets the bearer token sent in the Authorization header.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithTimeout sets the per-request timeout. Default: 15s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBreaker configures the circuit breaker guarding Execute and Parse.
func WithBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(c *Client) { c.breakerCfg = cfg }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client talks to the remote command service over HTTP/JSON.
type Client struct {
	base       string
	token      string
	timeout    time.Duration
	http       *http.Client
	breakerCfg resilience.CircuitBreakerConfig
	breaker    *resilience.CircuitBreaker
	metrics    *observe.Metrics
}

// New creates a [Client] for the service rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("executor: invalid base URL %q", baseURL)
	}
	c := &Client{
		base:    strings.TrimRight(baseURL, "/"),
		timeout: defaultTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}

	cfg := c.breakerCfg
	if cfg.Name == "" {
		cfg.Name = "executor"
	}
	cfg.IsFailure = isTransportFailure
	userHook := cfg.OnStateChange
	cfg.OnStateChange = func(name string, from, to resilience.State) {
		c.metrics.RecordBreakerTransition(context.Background(), name, to.String())
		if userHook != nil {
			userHook(name, from, to)
		}
	}
	c.breaker = resilience.NewCircuitBreaker(cfg)
	return c, nil
}

func isTransportFailure(err error) bool {
	return errors.Is(err, ErrTransport) && !errors.Is(err, context.Canceled)
}

// Breaker exposes the circuit breaker for health reporting.
func (c *Client) Breaker() *resilience.CircuitBreaker { return c.breaker }

// Execute asks the remote service to run req. See the package documentation
// for how failures are split between the result and the error.
func (c *Client) Execute(ctx context.Context, req types.ExecutionRequest) (*types.ExecutionResult, error) {
	var res *types.ExecutionResult
	err := c.guarded(ctx, "execute", func(ctx context.Context) error {
		status, body, err := c.do(ctx, http.MethodPost, executePath, req)
		if err != nil {
			return err
		}
		res, err = decodeExecution(status, body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Parse asks the remote parser for the structured intent of command without
// executing it.
func (c *Client) Parse(ctx context.Context, command string, cmdCtx types.CommandContext) (*types.Intent, error) {
	var intent *types.Intent
	err := c.guarded(ctx, "parse", func(ctx context.Context) error {
		status, body, err := c.do(ctx, http.MethodPost, parsePath, types.ExecutionRequest{Command: command, Context: cmdCtx})
		if err != nil {
			return err
		}
		if status < 200 || status > 299 {
			return fmt.Errorf("executor: parse: %s", describeStatus(status, body))
		}
		intent, err = decodeIntent(body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return intent, nil
}

// Ping checks that the remote service answers its health endpoint. It
// bypasses the circuit breaker so that it reports raw reachability.
func (c *Client) Ping(ctx context.Context) error {
	start := time.Now()
	status, body, err := c.do(ctx, http.MethodGet, healthPath, nil)
	c.metrics.RecordExecutorCall(ctx, "ping", time.Since(start).Seconds())
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return fmt.Errorf("%w: health: %s", ErrTransport, describeStatus(status, body))
	}
	return nil
}

// guarded runs fn behind the breaker inside a client span, recording latency.
func (c *Client) guarded(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, span := observe.StartSpan(ctx, "executor."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("executor.base", c.base)),
	)

	start := time.Now()
	err := c.breaker.Execute(func() error { return fn(ctx) })
	c.metrics.RecordExecutorCall(ctx, op, time.Since(start).Seconds())

	if errors.Is(err, resilience.ErrCircuitOpen) {
		err = fmt.Errorf("%w: %w", ErrTransport, err)
	}
	observe.EndSpan(span, err)
	return err
}

// do performs one HTTP round-trip and returns the status and a bounded body.
// Network-level failures and 5xx/408/429 responses wrap [ErrTransport].
func (c *Client) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("executor: marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("executor: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	observe.InjectHeaders(ctx, req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %s %s: %w", ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("%w: read response: %w", ErrTransport, err)
	}
	if retryableStatus(resp.StatusCode) {
		return resp.StatusCode, data, fmt.Errorf("%w: %s", ErrTransport, describeStatus(resp.StatusCode, data))
	}
	return resp.StatusCode, data, nil
}

func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

// decodeExecution maps a non-retryable response onto an ExecutionResult.
// A 2xx whose body cannot be decoded still counts as executed: the command
// ran remotely and must not be replayed.
func decodeExecution(status int, body []byte) (*types.ExecutionResult, error) {
	var res types.ExecutionResult
	decodeErr := json.Unmarshal(body, &res)

	if status >= 200 && status <= 299 {
		if decodeErr != nil {
			return &types.ExecutionResult{Success: true}, nil
		}
		return &res, nil
	}

	// Remaining 4xx: business rejection.
	res.Success = false
	if res.Message == "" {
		res.Message = errorMessage(body)
	}
	if res.Message == "" {
		res.Message = http.StatusText(status)
	}
	return &res, nil
}

func decodeIntent(body []byte) (*types.Intent, error) {
	var wrapped struct {
		Intent *types.Intent `json:"intent"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("executor: decode intent: %w", err)
	}
	if wrapped.Intent != nil {
		return wrapped.Intent, nil
	}
	var intent types.Intent
	if err := json.Unmarshal(body, &intent); err != nil {
		return nil, fmt.Errorf("executor: decode intent: %w", err)
	}
	return &intent, nil
}

// errorMessage extracts a human-readable message from a JSON error body of
// the shape {"error": "..."} or {"message": "..."}.
func errorMessage(body []byte) string {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) != nil {
		return strings.TrimSpace(string(body))
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

func describeStatus(code int, body []byte) string {
	msg := errorMessage(body)
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		return fmt.Sprintf("status %d", code)
	}
	return fmt.Sprintf("status %d: %s", code, msg)
}
