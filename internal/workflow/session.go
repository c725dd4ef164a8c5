// Package workflow talks to a Camunda-compatible workflow engine over its REST API.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/JakeFAU/snapshotter/internal/logging"
	"github.com/JakeFAU/snapshotter/internal/metrics"
)

// Session defaults.
const (
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 5 * time.Second
	DefaultTimeout       = 30 * time.Second
)

// SessionConfig controls the engine connection.
type SessionConfig struct {
	// URL is the engine root, optionally with basic auth user-info.
	URL string
	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration
	// RetryAttempts is the number of retries after the first transport failure.
	RetryAttempts int
	RetryDelay    time.Duration
}

// Session is the single process-wide connection to the engine. Transport failures rebuild the
// underlying client and are retried with a constant delay; HTTP responses of any status are
// returned as-is. Redirects are never followed.
type Session struct {
	baseURL  string
	username string
	password string
	timeout  time.Duration
	retries  uint64
	delay    time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	client *resty.Client
}

// NewSession parses the engine URL, moves user-info credentials into basic auth and builds
// the HTTP client.
func NewSession(cfg SessionConfig, logger *zap.Logger) (*Session, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("workflow url is required")
	}
	parsed, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse workflow url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("workflow url scheme must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("workflow url must have a host, got %q", cfg.URL)
	}
	if cfg.RetryAttempts < 0 {
		return nil, fmt.Errorf("retry attempts must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Session{
		timeout: cfg.Timeout,
		retries: uint64(cfg.RetryAttempts),
		delay:   cfg.RetryDelay,
		logger:  logger,
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	if s.delay <= 0 {
		s.delay = DefaultRetryDelay
	}
	if parsed.User != nil {
		if password, ok := parsed.User.Password(); ok && parsed.User.Username() != "" {
			s.username = parsed.User.Username()
			s.password = password
		}
		parsed.User = nil
	}
	s.baseURL = strings.TrimRight(parsed.String(), "/")
	s.client = s.newClient()
	return s, nil
}

// BaseURL returns the engine root without credentials.
func (s *Session) BaseURL() string {
	return s.baseURL
}

func (s *Session) newClient() *resty.Client {
	client := resty.New().
		SetBaseURL(s.baseURL).
		SetTimeout(s.timeout).
		SetHeader("Accept", "application/json")
	// Keep 3xx visible so an expired auth redirect surfaces as an engine error.
	client.GetClient().CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	if s.username != "" {
		client.SetBasicAuth(s.username, s.password)
	}
	return client
}

func (s *Session) current() *resty.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// rebuild swaps in a fresh client unless another caller already replaced stale.
func (s *Session) rebuild(stale *resty.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == stale {
		s.client = s.newClient()
	}
}

// Get issues a GET request.
func (s *Session) Get(ctx context.Context, path string, query url.Values) (*resty.Response, error) {
	return s.do(ctx, http.MethodGet, path, query, nil)
}

// Post issues a POST request with an optional JSON body.
func (s *Session) Post(ctx context.Context, path string, body any) (*resty.Response, error) {
	return s.do(ctx, http.MethodPost, path, nil, body)
}

// Put issues a PUT request with a JSON body.
func (s *Session) Put(ctx context.Context, path string, body any) (*resty.Response, error) {
	return s.do(ctx, http.MethodPut, path, nil, body)
}

func (s *Session) do(ctx context.Context, method, path string, query url.Values, body any) (*resty.Response, error) {
	logger := logging.FromContextOr(ctx, s.logger)
	attempts := 0
	var resp *resty.Response

	backoff := retry.WithMaxRetries(s.retries, retry.NewConstant(s.delay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		client := s.current()
		req := client.R().SetContext(ctx)
		if len(query) > 0 {
			req.SetQueryParamsFromValues(query)
		}
		if body != nil {
			req.SetHeader("Content-Type", "application/json").SetBody(body)
		}
		r, execErr := req.Execute(method, path)
		if execErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			metrics.ObserveEngineTransportFault()
			logger.Warn("workflow engine connection error, rebuilding client",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("attempt", attempts),
				zap.Duration("retry_delay", s.delay),
				zap.Error(execErr),
			)
			s.rebuild(client)
			return retry.RetryableError(execErr)
		}
		resp = r
		return nil
	})
	if err != nil {
		logger.Error("workflow engine call failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return nil, &TransportError{Method: method, Path: path, Attempts: attempts, Err: err}
	}
	return resp, nil
}
