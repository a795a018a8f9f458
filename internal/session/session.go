// Package session owns pooled HTTP clients and per-provider credential
// lifecycle: OAuth-style token refresh and cookie/CSRF login handshakes.
// Every upstream request in the system goes through Manager.Request, which
// applies default headers, bounded retries with jittered backoff, and a
// structured error classification.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"
	cleanhttp "github.com/hashicorp/go-cleanhttp"
	"k8s.io/utils/clock"

	"keywordforge/internal/logging"
)

const maxResponseBytes = 2 << 20 // 2MB cap on upstream payloads

// AuthKind selects the credential lifecycle for a provider.
type AuthKind int

const (
	AuthNone   AuthKind = iota
	AuthOAuth           // client-credentials token with expiry refresh
	AuthCookie          // login handshake, session cookie + CSRF token
)

// Config holds the manager-wide HTTP defaults.
type Config struct {
	UserAgent      string            `yaml:"user_agent"`
	DefaultHeaders map[string]string `yaml:"default_headers"`
	Proxy          string            `yaml:"proxy"`
	Timeout        time.Duration     `yaml:"-"`
	MaxAttempts    int               `yaml:"max_attempts"`
	RetryBaseDelay time.Duration     `yaml:"-"`
	RefreshMargin  time.Duration     `yaml:"-"` // re-auth when token expires within this margin
}

// DefaultConfig returns the standard HTTP defaults.
func DefaultConfig() Config {
	return Config{
		UserAgent:      "keywordforge/1.0",
		Timeout:        15 * time.Second,
		MaxAttempts:    3,
		RetryBaseDelay: 250 * time.Millisecond,
		RefreshMargin:  5 * time.Minute,
	}
}

// ProviderConfig describes one provider's endpoint credentials.
type ProviderConfig struct {
	Auth    AuthKind          `yaml:"-"`
	Headers map[string]string `yaml:"headers"`

	// OAuth (client credentials)
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`

	// Cookie/CSRF handshake
	LoginURL  string `yaml:"login_url"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	CSRFField string `yaml:"csrf_field"` // form field name, default "csrf_token"
}

// Response is the normalized upstream reply.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// providerSession is the mutable per-provider state: its client (with cookie
// jar for handshake providers) and credential material. Guarded by its own
// lock so providers never serialize each other.
type providerSession struct {
	name   string
	cfg    ProviderConfig
	client *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
	loggedIn    bool
	csrfToken   string
}

// Manager is the process-wide HTTP session manager.
type Manager struct {
	cfg   Config
	clock clock.PassiveClock

	mu       sync.RWMutex
	sessions map[string]*providerSession
}

// NewManager builds a session manager with the real clock.
func NewManager(cfg Config) *Manager {
	return NewManagerWithClock(cfg, clock.RealClock{})
}

// NewManagerWithClock injects a clock for deterministic expiry tests.
func NewManagerWithClock(cfg Config, c clock.PassiveClock) *Manager {
	def := DefaultConfig()
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = def.RetryBaseDelay
	}
	if cfg.RefreshMargin <= 0 {
		cfg.RefreshMargin = def.RefreshMargin
	}
	return &Manager{
		cfg:      cfg,
		clock:    c,
		sessions: make(map[string]*providerSession),
	}
}

// Register declares a provider's credential configuration. Unregistered
// providers get an unauthenticated session on first use.
func (m *Manager) Register(provider string, cfg ProviderConfig) error {
	ps, err := m.newSession(provider, cfg)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.sessions[provider] = ps
	m.mu.Unlock()
	return nil
}

func (m *Manager) newSession(provider string, cfg ProviderConfig) (*providerSession, error) {
	transport := cleanhttp.DefaultPooledTransport()
	if m.cfg.Proxy != "" {
		proxyURL, err := url.Parse(m.cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy for %s: %w", provider, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   m.cfg.Timeout,
	}
	if cfg.Auth == AuthCookie {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("cookie jar for %s: %w", provider, err)
		}
		client.Jar = jar
	}
	if cfg.CSRFField == "" {
		cfg.CSRFField = "csrf_token"
	}

	return &providerSession{name: provider, cfg: cfg, client: client}, nil
}

func (m *Manager) session(provider string) *providerSession {
	m.mu.RLock()
	ps, ok := m.sessions[provider]
	m.mu.RUnlock()
	if ok {
		return ps
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if ps, ok := m.sessions[provider]; ok {
		return ps
	}
	ps, _ = m.newSession(provider, ProviderConfig{})
	m.sessions[provider] = ps
	return ps
}

// Close releases idle network resources across all sessions.
func (m *Manager) Close() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ps := range m.sessions {
		ps.client.CloseIdleConnections()
	}
}

// Request performs an upstream call for the provider. It ensures credentials
// are fresh, applies default headers, retries transient failures with
// exponential backoff and jitter (bounded by MaxAttempts), and re-auths once
// on a 401/403 before surfacing auth_expired.
func (m *Manager) Request(ctx context.Context, provider, method, rawURL string, params url.Values, body []byte) (*Response, error) {
	ps := m.session(provider)

	if err := m.ensureAuth(ctx, ps); err != nil {
		return nil, err
	}

	reqURL := rawURL
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		reqURL = rawURL + sep + params.Encode()
	}

	var (
		resp     *Response
		reauthed bool
	)
	err := retry.Do(
		func() error {
			r, attemptErr := m.attempt(ctx, ps, method, reqURL, body)
			if attemptErr == nil {
				resp = r
				return nil
			}

			kind, _ := KindOf(attemptErr)
			if kind == KindAuthExpired {
				if reauthed {
					return retry.Unrecoverable(attemptErr)
				}
				reauthed = true
				if err := m.reauth(ctx, ps); err != nil {
					return retry.Unrecoverable(err)
				}
				return attemptErr // retry with fresh credentials
			}
			if !kind.IsTransient() {
				return retry.Unrecoverable(attemptErr)
			}
			return attemptErr
		},
		retry.Context(ctx),
		retry.Attempts(uint(m.cfg.MaxAttempts)),
		retry.Delay(m.cfg.RetryBaseDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(m.cfg.RetryBaseDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			logging.Get(logging.CategorySession).Debugw("retrying request",
				"provider", provider, "attempt", attempt+1, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// attempt runs one HTTP round trip and classifies the outcome.
func (m *Manager) attempt(ctx context.Context, ps *providerSession, method, reqURL string, body []byte) (*Response, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, &Error{Kind: KindBadResponse, Provider: ps.name, Err: err}
	}

	req.Header.Set("User-Agent", m.cfg.UserAgent)
	for k, v := range m.cfg.DefaultHeaders {
		req.Header.Set(k, v)
	}
	for k, v := range ps.cfg.Headers {
		req.Header.Set(k, v)
	}
	ps.applyCredentials(req)

	httpResp, err := ps.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: classifyTransportError(err), Provider: ps.name, Err: err}
	}
	defer httpResp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, &Error{Kind: classifyTransportError(err), Provider: ps.name, Err: err}
	}

	switch {
	case httpResp.StatusCode >= 200 && httpResp.StatusCode < 300:
		return &Response{Status: httpResp.StatusCode, Header: httpResp.Header, Body: payload}, nil
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{Kind: KindRateLimited, Provider: ps.name, Status: httpResp.StatusCode,
			Err: errors.New("upstream throttled")}
	case httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden:
		return nil, &Error{Kind: KindAuthExpired, Provider: ps.name, Status: httpResp.StatusCode,
			Err: errors.New("credentials rejected")}
	case httpResp.StatusCode >= 500:
		return nil, &Error{Kind: KindUpstream, Provider: ps.name, Status: httpResp.StatusCode,
			Err: fmt.Errorf("upstream error: %s", strings.TrimSpace(string(truncate(payload, 200))))}
	default:
		return nil, &Error{Kind: KindBadResponse, Provider: ps.name, Status: httpResp.StatusCode,
			Err: fmt.Errorf("unexpected status")}
	}
}

// applyCredentials attaches the current token/CSRF material. Token reads are
// under the session lock; cookie state lives in the client jar.
func (ps *providerSession) applyCredentials(req *http.Request) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.cfg.Auth == AuthOAuth && ps.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+ps.accessToken)
	}
	if ps.cfg.Auth == AuthCookie && ps.csrfToken != "" {
		req.Header.Set("X-CSRF-Token", ps.csrfToken)
	}
}

func classifyTransportError(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
