// SPDX-License-Identifier: MIT
package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// authServer scripts the /auth/login and /auth/token endpoints and counts calls.
type authServer struct {
	t *testing.T

	logins    atomic.Int64
	refreshes atomic.Int64

	mu            sync.Mutex
	loginStatus   int
	refreshStatus int
	loginBody     map[string]any
	tokenBody     map[string]any
}

func newAuthServer(t *testing.T) (*authServer, *httptest.Server) {
	t.Helper()
	s := &authServer{
		t:             t,
		loginStatus:   http.StatusOK,
		refreshStatus: http.StatusOK,
		loginBody:     map[string]any{"refreshToken": "R1"},
		tokenBody:     map[string]any{"token": "A1", "expires_in": 300},
	}
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	return s, ts
}

func (s *authServer) set(loginStatus, refreshStatus int, loginBody, tokenBody map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loginStatus = loginStatus
	s.refreshStatus = refreshStatus
	if loginBody != nil {
		s.loginBody = loginBody
	}
	if tokenBody != nil {
		s.tokenBody = tokenBody
	}
}

func (s *authServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	loginStatus, refreshStatus := s.loginStatus, s.refreshStatus
	loginBody, tokenBody := s.loginBody, s.tokenBody
	s.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/auth/login":
		s.logins.Add(1)
		if got := r.Header.Get("X-Requested-With"); got != "XMLHttpRequest" {
			s.t.Errorf("login missing X-Requested-With header, got %q", got)
		}
		var creds map[string]string
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			s.t.Errorf("login body not JSON: %v", err)
		}
		w.WriteHeader(loginStatus)
		_ = json.NewEncoder(w).Encode(loginBody)
	case r.Method == http.MethodGet && r.URL.Path == "/auth/token":
		s.refreshes.Add(1)
		if got := r.Header.Get("Authorization"); !strings.HasPrefix(got, "Bearer ") {
			s.t.Errorf("refresh without bearer header, got %q", got)
		}
		w.WriteHeader(refreshStatus)
		_ = json.NewEncoder(w).Encode(tokenBody)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func testCredentials() Credentials {
	return Credentials{Username: "u", Password: "p"}
}

func TestGetAccessToken_CachesUntilSkewWindow(t *testing.T) {
	srv, ts := newAuthServer(t)
	clk := newFakeClock()
	a := NewAuthority(ts.URL, testCredentials(), WithClock(clk))

	tok, err := a.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A1", tok)
	assert.EqualValues(t, 1, srv.logins.Load())
	assert.EqualValues(t, 1, srv.refreshes.Load())

	// 250s later: still more than 60s from the 300s expiry, cache must hold.
	clk.Advance(250 * time.Second)
	tok, err = a.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A1", tok)
	assert.EqualValues(t, 1, srv.logins.Load())
	assert.EqualValues(t, 1, srv.refreshes.Load())

	// Inside the 60s window a refresh is forced; the refresh token is still
	// valid so no second login happens.
	srv.set(http.StatusOK, http.StatusOK, nil, map[string]any{"token": "A2", "expires_in": 300})
	clk.Advance(45 * time.Second)
	tok, err = a.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A2", tok)
	assert.EqualValues(t, 1, srv.logins.Load())
	assert.EqualValues(t, 2, srv.refreshes.Load())
}

func TestGetAccessToken_ConcurrentCallersSingleCascade(t *testing.T) {
	srv, ts := newAuthServer(t)
	a := NewAuthority(ts.URL, testCredentials(), WithClock(newFakeClock()))

	var wg sync.WaitGroup
	for range 16 {
		wg.Go(func() {
			tok, err := a.GetAccessToken(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "A1", tok)
		})
	}
	wg.Wait()

	assert.EqualValues(t, 1, srv.logins.Load(), "concurrent callers must not duplicate logins")
	assert.EqualValues(t, 1, srv.refreshes.Load())
}

func TestInvalidate_ForcesFullCascade(t *testing.T) {
	srv, ts := newAuthServer(t)
	a := NewAuthority(ts.URL, testCredentials(), WithClock(newFakeClock()))

	_, err := a.GetAccessToken(context.Background())
	require.NoError(t, err)

	a.Invalidate()
	a.Invalidate() // idempotent

	_, err = a.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, srv.logins.Load())
	assert.EqualValues(t, 2, srv.refreshes.Load())
}

func TestRefreshRejection_TriggersOneRelogin(t *testing.T) {
	for _, code := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(fmt.Sprintf("status_%d", code), func(t *testing.T) {
			srv, ts := newAuthServer(t)
			a := NewAuthority(ts.URL, testCredentials(), WithClock(newFakeClock()))

			// Seed a refresh token that the server will reject on first use.
			srv.set(http.StatusOK, code, nil, nil)
			_, err := a.GetAccessToken(context.Background())
			require.Error(t, err)
			// First pass: login, rejected refresh, relogin, rejected refresh.
			assert.EqualValues(t, 2, srv.logins.Load())
			assert.EqualValues(t, 2, srv.refreshes.Load())

			// Once the server accepts again, one login and one refresh suffice.
			srv.set(http.StatusOK, http.StatusOK, nil, nil)
			tok, err := a.GetAccessToken(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "A1", tok)
			assert.EqualValues(t, 3, srv.logins.Load())
			assert.EqualValues(t, 3, srv.refreshes.Load())
		})
	}
}

func TestLoginFailure_IsFatalForTheCall(t *testing.T) {
	srv, ts := newAuthServer(t)
	srv.set(http.StatusInternalServerError, http.StatusOK, nil, nil)
	a := NewAuthority(ts.URL, testCredentials())

	_, err := a.GetAccessToken(context.Background())
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "login", se.Op)
	assert.Equal(t, http.StatusInternalServerError, se.Code)
	assert.EqualValues(t, 0, srv.refreshes.Load())
}

func TestRefreshServerError_IsNotRetried(t *testing.T) {
	srv, ts := newAuthServer(t)
	srv.set(http.StatusOK, http.StatusBadGateway, nil, nil)
	a := NewAuthority(ts.URL, testCredentials())

	_, err := a.GetAccessToken(context.Background())
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "refresh", se.Op)
	assert.EqualValues(t, 1, srv.logins.Load(), "5xx on refresh must not re-login")
	assert.EqualValues(t, 1, srv.refreshes.Load())
}

func TestFieldSpellings_SnakeCase(t *testing.T) {
	srv, ts := newAuthServer(t)
	srv.set(http.StatusOK, http.StatusOK,
		map[string]any{"refresh_token": "R-snake"},
		map[string]any{"access_token": "A-snake", "expires_in": 120})
	a := NewAuthority(ts.URL, testCredentials())

	tok, err := a.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A-snake", tok)
}

func TestMissingRefreshToken_IsFatal(t *testing.T) {
	srv, ts := newAuthServer(t)
	srv.set(http.StatusOK, http.StatusOK, map[string]any{"unrelated": true}, nil)
	a := NewAuthority(ts.URL, testCredentials())

	_, err := a.GetAccessToken(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no refresh token")
}

func TestExpiresInAbsent_DefaultsTo300s(t *testing.T) {
	srv, ts := newAuthServer(t)
	srv.set(http.StatusOK, http.StatusOK, nil, map[string]any{"token": "A-nolife"})
	clk := newFakeClock()
	a := NewAuthority(ts.URL, testCredentials(), WithClock(clk))

	_, err := a.GetAccessToken(context.Background())
	require.NoError(t, err)

	// 239s later the default 300s lifetime is still outside the skew window.
	clk.Advance(239 * time.Second)
	_, err = a.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, srv.refreshes.Load())

	// Past the window a refresh happens.
	clk.Advance(2 * time.Second)
	_, err = a.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, srv.refreshes.Load())
}

// unsignedJWT builds an unsigned JWT carrying the given exp claim.
func unsignedJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payload, err := json.Marshal(map[string]any{"exp": exp.Unix(), "sub": "u"})
	require.NoError(t, err)
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + "."
}

func TestExpiresInAbsent_JWTExpClaimWins(t *testing.T) {
	exp := time.Now().Add(10 * time.Minute).Truncate(time.Second)
	srv, ts := newAuthServer(t)
	srv.set(http.StatusOK, http.StatusOK, nil, map[string]any{"token": unsignedJWT(t, exp)})
	a := NewAuthority(ts.URL, testCredentials())

	_, err := a.GetAccessToken(context.Background())
	require.NoError(t, err)

	a.mu.Lock()
	defer a.mu.Unlock()
	assert.True(t, a.expiry.Equal(exp), "expiry %v should come from the exp claim %v", a.expiry, exp)
}
