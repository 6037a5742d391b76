package resilience

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
)

var (
	// ErrCircuitOpen is returned without calling upstream while the breaker is open
	// or a half-open probe is already in flight.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrBodyNotRewindable is returned for a request body that cannot be replayed on retry.
	ErrBodyNotRewindable = errors.New("request body cannot be replayed")
)

// gobreaker's own default when Settings.Timeout is zero.
const defaultBreakerTimeout = 60 * time.Second

// ClientConfig holds configuration for the resilient HTTP client.
type ClientConfig struct {
	// Name identifies the upstream in breaker logs and the registry.
	Name string

	// Timeout bounds a single attempt. Default: 10s.
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt. Default: 3.
	MaxRetries uint64

	// InitialInterval and MaxInterval shape the exponential backoff between
	// attempts. Defaults: 100ms and 5s.
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// CircuitBreaker defaults to DefaultCircuitBreakerConfig(Name).
	CircuitBreaker *CircuitBreakerConfig

	// Registry receives the client and its request outcomes for health reporting (optional).
	Registry *Registry

	// OnRetry is called before each retry with the failed attempt number (optional).
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultClientConfig returns the settings used for the upstream routing service.
func DefaultClientConfig(name string) ClientConfig {
	cbConfig := DefaultCircuitBreakerConfig(name)
	return ClientConfig{
		Name:            name,
		Timeout:         10 * time.Second,
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		CircuitBreaker:  &cbConfig,
	}
}

// Client is an HTTP client that retries transient failures behind a circuit breaker.
// 5xx responses and transport errors count as failures; other responses are
// returned to the caller as they are.
type Client struct {
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker[*http.Response]
	breakerTimeout time.Duration
	config         ClientConfig
}

// NewClient creates a client and registers it with cfg.Registry, if set.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 5 * time.Second
	}

	cbConfig := DefaultCircuitBreakerConfig(cfg.Name)
	if cfg.CircuitBreaker != nil {
		cbConfig = *cfg.CircuitBreaker
	}
	if cfg.Registry != nil {
		cbConfig.OnStateChange = chainStateChange(cbConfig.OnStateChange, cfg.Registry)
	}

	client := &Client{
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		circuitBreaker: NewCircuitBreaker[*http.Response](cbConfig), //nolint:bodyclose // type param, not response
		breakerTimeout: cbConfig.Timeout,
		config:         cfg,
	}
	if client.breakerTimeout <= 0 {
		client.breakerTimeout = defaultBreakerTimeout
	}
	if cfg.Registry != nil {
		cfg.Registry.Register(cfg.Name, client)
	}
	return client
}

func chainStateChange(next func(string, gobreaker.State, gobreaker.State), registry *Registry) func(string, gobreaker.State, gobreaker.State) {
	return func(name string, from, to gobreaker.State) {
		registry.RecordStateChange(name, to)
		if next != nil {
			next(name, from, to)
		}
	}
}

// Do executes req with the request's own context.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.DoWithContext(req.Context(), req)
}

// DoWithContext executes req, retrying 5xx responses and transport errors with
// exponential backoff. When retries run out on a 5xx, that last response is
// returned with a nil error so the caller can read the upstream's message.
// ErrCircuitOpen is returned immediately while the breaker is open.
func (c *Client) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	start := time.Now()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.config.InitialInterval
	bo.MaxInterval = c.config.MaxInterval
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, c.config.MaxRetries), ctx)

	var (
		lastResp *http.Response
		attempt  int
	)
	keep := func(resp *http.Response) {
		if lastResp != nil {
			lastResp.Body.Close()
		}
		lastResp = resp
	}

	operation := func() error {
		attempt++
		resp, err := c.circuitBreaker.Execute(func() (*http.Response, error) { //nolint:bodyclose // returned to the caller
			return c.attempt(ctx, req)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(ErrCircuitOpen)
		}
		if resp != nil {
			keep(resp)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		if c.config.OnRetry != nil {
			c.config.OnRetry(attempt, err, wait)
		}
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		c.recordFailure(err)
		if lastResp != nil {
			return lastResp, nil
		}
		return nil, err
	}

	c.recordSuccess(time.Since(start))
	return lastResp, nil
}

// attempt sends one copy of req. A 5xx response is returned together with a
// *ServerError so that the breaker counts it.
func (c *Client) attempt(ctx context.Context, req *http.Request) (*http.Response, error) {
	clone, err := cloneRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(clone)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return resp, &ServerError{StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// cloneRequest copies req for one attempt, rewinding its body so POSTs can be retried.
func cloneRequest(ctx context.Context, req *http.Request) (*http.Request, error) {
	clone := req.Clone(ctx)
	if req.Body == nil || req.Body == http.NoBody {
		return clone, nil
	}
	if req.GetBody == nil {
		return nil, backoff.Permanent(ErrBodyNotRewindable)
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	clone.Body = body
	return clone, nil
}

func (c *Client) recordSuccess(latency time.Duration) {
	if c.config.Registry != nil {
		c.config.Registry.RecordSuccess(c.config.Name, latency)
	}
}

func (c *Client) recordFailure(err error) {
	if c.config.Registry != nil {
		c.config.Registry.RecordFailure(c.config.Name, err)
	}
}

// ServerError is a 5xx answer from upstream.
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return "server error: " + http.StatusText(e.StatusCode)
}

// Name returns the name the client was configured with.
func (c *Client) Name() string {
	return c.config.Name
}

// CircuitBreakerState returns the current state of the circuit breaker.
func (c *Client) CircuitBreakerState() gobreaker.State {
	return c.circuitBreaker.State()
}

// CircuitBreakerCounts returns the current counts of the circuit breaker.
func (c *Client) CircuitBreakerCounts() gobreaker.Counts {
	return c.circuitBreaker.Counts()
}

func (c *Client) cooldown() time.Duration {
	return c.breakerTimeout
}
