package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"keywordforge/internal/logging"
)

// ensureAuth refreshes credentials when they are missing or about to expire.
// No-op for unauthenticated providers.
func (m *Manager) ensureAuth(ctx context.Context, ps *providerSession) error {
	switch ps.cfg.Auth {
	case AuthOAuth:
		ps.mu.Lock()
		fresh := ps.accessToken != "" && m.clock.Now().Add(m.cfg.RefreshMargin).Before(ps.tokenExpiry)
		ps.mu.Unlock()
		if fresh {
			return nil
		}
		return m.refreshToken(ctx, ps)
	case AuthCookie:
		ps.mu.Lock()
		loggedIn := ps.loggedIn
		ps.mu.Unlock()
		if loggedIn {
			return nil
		}
		return m.handshake(ctx, ps)
	default:
		return nil
	}
}

// reauth discards current credentials and authenticates again. Invoked once
// per Request after a 401/403.
func (m *Manager) reauth(ctx context.Context, ps *providerSession) error {
	logging.Get(logging.CategorySession).Infow("re-authenticating", "provider", ps.name)
	ps.mu.Lock()
	ps.accessToken = ""
	ps.loggedIn = false
	ps.csrfToken = ""
	ps.mu.Unlock()
	return m.ensureAuth(ctx, ps)
}

// refreshToken performs the client-credentials grant and stores the token
// with its expiry.
func (m *Manager) refreshToken(ctx context.Context, ps *providerSession) error {
	if ps.cfg.TokenURL == "" {
		return &Error{Kind: KindAuthExpired, Provider: ps.name, Err: errors.New("no token URL configured")}
	}

	cc := &clientcredentials.Config{
		ClientID:     ps.cfg.ClientID,
		ClientSecret: ps.cfg.ClientSecret,
		TokenURL:     ps.cfg.TokenURL,
		Scopes:       ps.cfg.Scopes,
	}
	// The grant must ride the provider client so proxy and timeout settings
	// apply; oauth2 falls back to http.DefaultClient otherwise.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, ps.client)
	tok, err := cc.Token(ctx)
	if err != nil {
		return &Error{Kind: KindAuthExpired, Provider: ps.name, Err: fmt.Errorf("token grant: %w", err)}
	}

	ps.mu.Lock()
	ps.accessToken = tok.AccessToken
	ps.tokenExpiry = tok.Expiry
	ps.mu.Unlock()

	logging.Get(logging.CategorySession).Debugw("token refreshed",
		"provider", ps.name, "expires", tok.Expiry)
	return nil
}

// handshake performs the cookie/CSRF login: fetch the login page, lift the
// CSRF token from the form, post credentials. The session cookie lands in
// the client's jar.
func (m *Manager) handshake(ctx context.Context, ps *providerSession) error {
	if ps.cfg.LoginURL == "" {
		return &Error{Kind: KindAuthExpired, Provider: ps.name, Err: errors.New("no login URL configured")}
	}

	csrf, err := m.fetchCSRFToken(ctx, ps)
	if err != nil {
		return err
	}

	form := url.Values{
		"username":       {ps.cfg.Username},
		"password":       {ps.cfg.Password},
		ps.cfg.CSRFField: {csrf},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ps.cfg.LoginURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return &Error{Kind: KindAuthExpired, Provider: ps.name, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", m.cfg.UserAgent)

	resp, err := ps.client.Do(req)
	if err != nil {
		return &Error{Kind: classifyTransportError(err), Provider: ps.name, Err: fmt.Errorf("login post: %w", err)}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode >= 400 {
		return &Error{Kind: KindAuthExpired, Provider: ps.name, Status: resp.StatusCode,
			Err: errors.New("login rejected")}
	}

	ps.mu.Lock()
	ps.loggedIn = true
	ps.csrfToken = csrf
	ps.mu.Unlock()

	logging.Get(logging.CategorySession).Debugw("handshake complete", "provider", ps.name)
	return nil
}

// fetchCSRFToken loads the login page and extracts the hidden CSRF input.
func (m *Manager) fetchCSRFToken(ctx context.Context, ps *providerSession) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ps.cfg.LoginURL, nil)
	if err != nil {
		return "", &Error{Kind: KindAuthExpired, Provider: ps.name, Err: err}
	}
	req.Header.Set("User-Agent", m.cfg.UserAgent)

	resp, err := ps.client.Do(req)
	if err != nil {
		return "", &Error{Kind: classifyTransportError(err), Provider: ps.name, Err: fmt.Errorf("login page: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &Error{Kind: KindAuthExpired, Provider: ps.name, Status: resp.StatusCode,
			Err: errors.New("login page unavailable")}
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", &Error{Kind: KindBadResponse, Provider: ps.name, Err: fmt.Errorf("login page parse: %w", err)}
	}

	selector := fmt.Sprintf(`input[name=%q]`, ps.cfg.CSRFField)
	token, ok := doc.Find(selector).First().Attr("value")
	if !ok || token == "" {
		return "", &Error{Kind: KindBadResponse, Provider: ps.name,
			Err: fmt.Errorf("csrf field %q not found in login page", ps.cfg.CSRFField)}
	}
	return token, nil
}
