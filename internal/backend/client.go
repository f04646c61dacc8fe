package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mahesararslan/merge-communication-server/internal/metrics"
	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned without calling the backend while it is
// considered unhealthy.
var ErrCircuitOpen = errors.New("backend unavailable")

type Config struct {
	BaseURL string
	Timeout time.Duration
	// consecutive temporary failures before calls fail fast; 0 disables the breaker
	MaxFailures uint32
	OpenTimeout time.Duration
	Name        string
}

// Request is one call to the backend REST API.
type Request struct {
	Method string
	Path   string // relative to the base URL, query included
	Token  string // forwarded as a bearer credential when set
	Body   any    // JSON-encoded when non-nil
}

// Client calls the backend with a bounded timeout and no retries.
type Client struct {
	http    *http.Client
	baseURL string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
	name    string
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	name := cfg.Name
	if name == "" {
		name = "backend"
	}

	c := &Client{
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: timeout,
		logger:  logger.With(slog.String("component", name+"_client")),
		name:    name,
	}

	if cfg.MaxFailures > 0 {
		openTimeout := cfg.OpenTimeout
		if openTimeout <= 0 {
			openTimeout = 30 * time.Second
		}
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     openTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.MaxFailures
			},
			// 4xx answers are the caller's problem, not a sign of backend trouble.
			IsSuccessful: func(err error) bool {
				var be *BackendError
				if errors.As(err, &be) {
					return !be.Temporary()
				}
				return err == nil
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				c.logger.Warn("Circuit breaker state changed", slog.String("from", from.String()), slog.String("to", to.String()))
			},
		})
	}
	return c
}

// Do performs the request and returns the response body of a 2xx answer.
// Every failure is a *BackendError.
func (c *Client) Do(ctx context.Context, req Request) ([]byte, error) {
	if c.breaker == nil {
		return c.do(ctx, req)
	}
	out, err := c.breaker.Execute(func() (any, error) {
		return c.do(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &BackendError{Err: ErrCircuitOpen}
	}
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

func (c *Client) do(ctx context.Context, req Request) (body []byte, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	status := 0
	defer func() {
		metrics.BackendDuration.WithLabelValues(c.name, req.Method, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	}()

	var reader io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, &BackendError{Err: fmt.Errorf("encode request: %w", err)}
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, reader)
	if err != nil {
		return nil, &BackendError{Err: fmt.Errorf("build request: %w", err)}
	}
	httpReq.Header.Set("Accept", "application/json")
	if reader != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+strings.TrimSpace(req.Token))
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Warn("Backend request failed",
			slog.String("method", req.Method),
			slog.String("path", req.Path),
			slog.Any("error", err),
		)
		return nil, &BackendError{Err: err}
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, &BackendError{Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		be := &BackendError{Status: resp.StatusCode, Message: errorMessage(body)}
		c.logger.Warn("Backend rejected request",
			slog.String("method", req.Method),
			slog.String("path", req.Path),
			slog.Int("status", resp.StatusCode),
			slog.String("message", be.Message),
		)
		return nil, be
	}
	return body, nil
}
