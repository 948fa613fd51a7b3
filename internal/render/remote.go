package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/vizflow/vizflow/pkg/schema"
)

// RemoteConfig configures the remote render engine.
type RemoteConfig struct {
	// BaseURL is the render service root, e.g. "https://kroki.internal".
	BaseURL string
	// Kind is the server-side diagram kind appended to the URL path.
	Kind string
	// Token is an optional bearer token.
	Token string
	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration
	// MaxElapsed bounds the whole retry sequence for one render.
	MaxElapsed time.Duration
	// RetryInitialInterval seeds the exponential backoff between attempts.
	RetryInitialInterval time.Duration
	// RequestsPerSecond paces outgoing requests; zero disables pacing.
	RequestsPerSecond float64
	Breaker           BreakerConfig
}

const (
	defaultRemoteTimeout    = 30 * time.Second
	defaultRemoteMaxElapsed = 15 * time.Second
	maxRemoteResponseBody   = 10 * 1024 * 1024 // 10MB
)

// RemoteEngine renders diagrams through a Kroki-style HTTP service: the
// source is POSTed as text and SVG comes back. Transient failures retry with
// exponential backoff; sustained failures open a circuit breaker so a dead
// service fails fast instead of stalling every placeholder.
type RemoteEngine struct {
	cfg     RemoteConfig
	client  *http.Client
	limiter *rate.Limiter
	breaker *breaker
	logger  *slog.Logger
}

// NewRemoteEngine creates a remote engine from config.
func NewRemoteEngine(cfg RemoteConfig, logger *slog.Logger) (*RemoteEngine, error) {
	if cfg.BaseURL == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "remote engine base URL is empty")
	}
	if cfg.Kind == "" {
		cfg.Kind = "graphviz"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRemoteTimeout
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = defaultRemoteMaxElapsed
	}
	if cfg.Breaker.FailureThreshold <= 0 {
		cfg.Breaker = DefaultBreakerConfig()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &RemoteEngine{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		breaker: newBreaker(cfg.Breaker),
		logger:  logger,
	}, nil
}

// Name returns the engine identifier.
func (e *RemoteEngine) Name() string { return "remote" }

// BreakerState exposes the circuit state for logging and tests.
func (e *RemoteEngine) BreakerState() CircuitState { return e.breaker.State() }

// Render posts the source to the render service and returns the SVG fragment.
func (e *RemoteEngine) Render(ctx context.Context, id, sourceCode string, opts Options) (*Fragment, error) {
	if err := e.breaker.allow(); err != nil {
		return nil, err
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, schema.NewError(schema.ErrCodeEngineRender, "rate limit wait interrupted").WithDiagram(id).WithCause(err)
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = e.cfg.MaxElapsed
	if e.cfg.RetryInitialInterval > 0 {
		policy.InitialInterval = e.cfg.RetryInitialInterval
	}

	fragment, err := backoff.RetryWithData(func() (*Fragment, error) {
		return e.doRender(ctx, id, sourceCode, opts)
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		// A typed error here is the 4xx rejection path: the service is healthy
		// and the source is bad, so it does not count against the breaker.
		var vErr *schema.VizError
		if errors.As(err, &vErr) {
			e.breaker.recordSuccess()
			return nil, vErr
		}
		state := e.breaker.recordFailure()
		e.logger.Warn("remote render failed",
			slog.String("diagram_id", id),
			slog.String("breaker_state", state.String()),
			slog.String("error", err.Error()),
		)
		return nil, schema.NewErrorf(schema.ErrCodeEngineRender, "render service unavailable: %v", err).WithDiagram(id).WithCause(err)
	}

	e.breaker.recordSuccess()
	return fragment, nil
}

// doRender performs a single HTTP attempt. Network errors and 5xx responses
// are retryable; 4xx means the source itself was rejected and retrying cannot
// help.
func (e *RemoteEngine) doRender(ctx context.Context, id, sourceCode string, opts Options) (*Fragment, error) {
	url := fmt.Sprintf("%s/%s/svg", strings.TrimRight(e.cfg.BaseURL, "/"), e.cfg.Kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(sourceCode))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Accept", "image/svg+xml")
	if e.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.Token)
	}
	if opts.Theme != "" {
		req.Header.Set("X-Diagram-Theme", opts.Theme)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteResponseBody))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("render service %s: %s", resp.Status, trimBody(body))
	case resp.StatusCode >= 400:
		return nil, backoff.Permanent(
			schema.NewErrorf(schema.ErrCodeEngineRender, "render service rejected source: %s", trimBody(body)).WithDiagram(id))
	}

	markup := string(body)
	width, height := parseSVGSize(markup)
	return &Fragment{Markup: markup, Width: width, Height: height}, nil
}

func trimBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
