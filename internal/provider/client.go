package provider

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
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/punchamoorthee/freightbank/internal/domain"
	"github.com/punchamoorthee/freightbank/internal/metrics"
)

const maxResponseBytes = 1 << 20

// ClientConfig tunes the transport. Zero values fall back to defaults.
type ClientConfig struct {
	BaseURL string
	// Timeout bounds each individual attempt.
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	HTTPClient     *http.Client
}

// Client executes signed, retried calls against the provider API.
type Client struct {
	baseURL        string
	http           *http.Client
	tokens         TokenSource
	timeout        time.Duration
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *slog.Logger
}

// Response is a successful provider reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// RequestOptions carries optional per-call settings.
type RequestOptions struct {
	IdempotencyKey string
	Query          url.Values
}

func NewClient(cfg ClientConfig, tokens TokenSource, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		http:           cfg.HTTPClient,
		tokens:         tokens,
		timeout:        cfg.Timeout,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		logger:         logger,
	}
}

// Do sends one logical request. A 401 triggers a single re-authentication,
// transient failures are retried with jittered exponential backoff, and
// any other 4xx fails at once.
func (c *Client) Do(ctx context.Context, op, method, path string, body any, opts RequestOptions) (*Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, &domain.ProviderError{Kind: domain.ErrValidation, Op: op, Message: "encode request", Err: err}
		}
	}

	timer := metrics.NewProviderTimer(op)
	defer timer.ObserveDuration()

	reauthenticated := false
	operation := func() (*Response, error) {
		for {
			resp, err := c.send(ctx, method, path, payload, opts)
			if err != nil {
				return nil, c.transportError(ctx, op, err)
			}
			if resp.StatusCode == http.StatusUnauthorized && !reauthenticated {
				reauthenticated = true
				c.tokens.Invalidate()
				c.logger.WarnContext(ctx, "provider rejected credentials, re-signing", "op", op)
				continue
			}
			return classify(op, resp)
		}
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.initialBackoff
	eb.MaxInterval = c.maxBackoff
	eb.RandomizationFactor = 0.5
	eb.Multiplier = 2

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(c.maxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.WarnContext(ctx, "provider call failed, retrying", "op", op, "error", err, "backoff", next)
		}),
	)
	if err != nil {
		err = normalize(op, err)
		metrics.ProviderRequests.WithLabelValues(op, outcome(err)).Inc()
		return nil, err
	}
	metrics.ProviderRequests.WithLabelValues(op, "ok").Inc()
	return resp, nil
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, opts RequestOptions) (*Response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.baseURL + path
	if len(opts.Query) > 0 {
		target += "?" + opts.Query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, target, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if opts.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", opts.IdempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// transportError decides whether a failure before any HTTP status is worth
// another attempt.
func (c *Client) transportError(ctx context.Context, op string, err error) error {
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		if errors.Is(pe, domain.ErrProviderUnavailable) {
			return err
		}
		return backoff.Permanent(err)
	}
	if ctx.Err() != nil {
		return backoff.Permanent(&domain.ProviderError{Kind: domain.ErrProviderUnavailable, Op: op, Message: "request cancelled", Err: ctx.Err()})
	}
	return &domain.ProviderError{Kind: domain.ErrProviderUnavailable, Op: op, Err: err}
}

func classify(op string, resp *Response) (*Response, error) {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return resp, nil
	case code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout:
		return nil, providerError(domain.ErrProviderUnavailable, op, resp)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return nil, backoff.Permanent(providerError(domain.ErrAuth, op, resp))
	case code == http.StatusNotFound:
		return nil, backoff.Permanent(providerError(domain.ErrNotFound, op, resp))
	case code == http.StatusConflict:
		return nil, backoff.Permanent(providerError(domain.ErrDuplicate, op, resp))
	default:
		return nil, backoff.Permanent(providerError(domain.ErrValidation, op, resp))
	}
}

func providerError(kind error, op string, resp *Response) *domain.ProviderError {
	pe := &domain.ProviderError{Kind: kind, Op: op, StatusCode: resp.StatusCode, Body: resp.Body}
	var eb errorBody
	if err := json.Unmarshal(resp.Body, &eb); err == nil {
		pe.Code = eb.Code
		pe.Message = eb.message()
	}
	if pe.Message == "" {
		pe.Message = http.StatusText(resp.StatusCode)
	}
	return pe
}

// normalize guarantees callers only ever see a *domain.ProviderError.
func normalize(op string, err error) error {
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return &domain.ProviderError{Kind: domain.ErrProviderUnavailable, Op: op, Err: err}
}

func outcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrAuth):
		return "auth_error"
	case errors.Is(err, domain.ErrValidation):
		return "validation_error"
	case errors.Is(err, domain.ErrDuplicate):
		return "duplicate"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "unavailable"
	}
}
