package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 3
	cfg.RetryBaseDelay = time.Millisecond
	return cfg
}

func TestRequestAppliesHeadersAndParams(t *testing.T) {
	var gotUA, gotCustom, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotCustom = r.Header.Get("X-Client")
		gotQuery = r.URL.Query().Get("q")
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	cfg := fastConfig()
	cfg.DefaultHeaders = map[string]string{"X-Client": "kwforge"}
	m := NewManager(cfg)

	resp, err := m.Request(context.Background(), "test", http.MethodGet, srv.URL,
		url.Values{"q": {"marketing digital"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
	assert.Equal(t, "keywordforge/1.0", gotUA)
	assert.Equal(t, "kwforge", gotCustom)
	assert.Equal(t, "marketing digital", gotQuery)
}

func TestRequestRetriesTransientThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	m := NewManager(fastConfig())
	resp, err := m.Request(context.Background(), "test", http.MethodGet, srv.URL, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp.Body))
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestRequestSurfacesRateLimitedAfterAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	m := NewManager(fastConfig())
	_, err := m.Request(context.Background(), "test", http.MethodGet, srv.URL, nil, nil)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindRateLimited, kind)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestRequestDoesNotRetryBadResponse(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	m := NewManager(fastConfig())
	_, err := m.Request(context.Background(), "test", http.MethodGet, srv.URL, nil, nil)
	require.Error(t, err)
	kind, _ := KindOf(err)
	assert.Equal(t, KindBadResponse, kind)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "4xx must not be retried")
}

func TestOAuthReauthOnceOn401(t *testing.T) {
	var tokenGrants, apiCalls int32

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&tokenGrants, 1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"tok-%d","token_type":"bearer","expires_in":3600}`, n)
	})
	mux.HandleFunc("/api", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&apiCalls, 1)
		// The first token is treated as stale by the upstream; the refreshed
		// one is accepted.
		if r.Header.Get("Authorization") == "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, "authorized")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	m := NewManager(fastConfig())
	require.NoError(t, m.Register("oauthy", ProviderConfig{
		Auth:         AuthOAuth,
		TokenURL:     srv.URL + "/token",
		ClientID:     "id",
		ClientSecret: "secret",
	}))

	resp, err := m.Request(context.Background(), "oauthy", http.MethodGet, srv.URL+"/api", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "authorized", string(resp.Body))
	assert.EqualValues(t, 2, atomic.LoadInt32(&tokenGrants), "initial grant plus one re-auth")
	assert.EqualValues(t, 2, atomic.LoadInt32(&apiCalls), "one 401 then one retry")
}

func TestTokenGrantUsesProviderClient(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"tok","token_type":"bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/api", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := fastConfig()
	cfg.Timeout = 50 * time.Millisecond
	m := NewManager(cfg)
	require.NoError(t, m.Register("oauthy", ProviderConfig{
		Auth:     AuthOAuth,
		TokenURL: srv.URL + "/token",
		ClientID: "id", ClientSecret: "secret",
	}))

	_, err := m.Request(context.Background(), "oauthy", http.MethodGet, srv.URL+"/api", nil, nil)
	require.Error(t, err, "grant must honor the client timeout, not hang on the default client")
	kind, _ := KindOf(err)
	assert.Equal(t, KindAuthExpired, kind)
}

func TestOAuthSecond401IsAuthExpired(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"tok","token_type":"bearer","expires_in":3600}`)
	})
	var apiCalls int32
	mux.HandleFunc("/api", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&apiCalls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	m := NewManager(fastConfig())
	require.NoError(t, m.Register("oauthy", ProviderConfig{
		Auth:     AuthOAuth,
		TokenURL: srv.URL + "/token",
		ClientID: "id", ClientSecret: "secret",
	}))

	_, err := m.Request(context.Background(), "oauthy", http.MethodGet, srv.URL+"/api", nil, nil)
	require.Error(t, err)
	kind, _ := KindOf(err)
	assert.Equal(t, KindAuthExpired, kind)
	assert.EqualValues(t, 2, atomic.LoadInt32(&apiCalls), "exactly one re-auth retry")
}

func TestCookieHandshake(t *testing.T) {
	const csrf = "csrf-abc123"
	var loginPosts int32

	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprintf(w, `<html><form><input type="hidden" name="csrf_token" value=%q></form></html>`, csrf)
			return
		}
		atomic.AddInt32(&loginPosts, 1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "operator", r.FormValue("username"))
		assert.Equal(t, csrf, r.FormValue("csrf_token"))
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "s3cret", Path: "/"})
	})
	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("session")
		if err != nil || cookie.Value != "s3cret" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		assert.Equal(t, csrf, r.Header.Get("X-CSRF-Token"))
		fmt.Fprint(w, "members only")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	m := NewManager(fastConfig())
	require.NoError(t, m.Register("forum", ProviderConfig{
		Auth:     AuthCookie,
		LoginURL: srv.URL + "/login",
		Username: "operator",
		Password: "hunter2",
	}))

	resp, err := m.Request(context.Background(), "forum", http.MethodGet, srv.URL+"/data", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "members only", string(resp.Body))

	// Second request reuses the session without another handshake.
	_, err = m.Request(context.Background(), "forum", http.MethodGet, srv.URL+"/data", nil, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&loginPosts))
}

func TestRequestHonorsContextDeadline(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	m := NewManager(fastConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := m.Request(ctx, "slow", http.MethodGet, srv.URL, nil, nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
