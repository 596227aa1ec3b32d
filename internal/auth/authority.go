// SPDX-License-Identifier: MIT

// Package auth manages the refresh/access token pair used to authenticate
// against the Cyoda platform.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/cyoda-platform/calcnode/internal/log"
	"github.com/cyoda-platform/calcnode/internal/metrics"
)

// TokenSource produces a currently-valid access token on demand and supports
// forced invalidation when a caller observes a downstream auth failure.
type TokenSource interface {
	GetAccessToken(ctx context.Context) (string, error)
	Invalidate()
}

// Credentials are the static login credentials, loaded once from configuration.
type Credentials struct {
	Username string
	Password string
}

const (
	// expirySkew is how close to expiry an access token may get before a
	// refresh is forced.
	expirySkew = 60 * time.Second

	// defaultExpiresIn applies when the token endpoint reports no lifetime.
	defaultExpiresIn = 300 * time.Second
)

// StatusError reports a non-200 response from the auth service.
type StatusError struct {
	Op   string // "login" or "refresh"
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("auth: %s returned HTTP %d", e.Op, e.Code)
}

// clock abstracts time operations for testability.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Authority caches a refresh token and a short-lived access token, logging in
// and refreshing transparently. The check-and-refresh critical section is
// serialized so concurrent callers cannot trigger duplicate logins.
type Authority struct {
	baseURL string
	creds   Credentials
	http    *http.Client
	clock   clock
	logger  zerolog.Logger

	mu           sync.Mutex
	refreshToken string
	accessToken  string
	expiry       time.Time
}

// Option configures an Authority.
type Option func(*Authority)

// WithHTTPClient overrides the HTTP client used for auth-service calls.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Authority) { a.http = c }
}

// WithClock overrides the time source.
func WithClock(c clock) Option {
	return func(a *Authority) { a.clock = c }
}

// NewAuthority creates an Authority for the given API base URL.
func NewAuthority(baseURL string, creds Credentials, opts ...Option) *Authority {
	a := &Authority{
		baseURL: baseURL,
		creds:   creds,
		http:    &http.Client{Timeout: 30 * time.Second},
		clock:   realClock{},
		logger:  log.WithComponent("auth"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var _ TokenSource = (*Authority)(nil)

// GetAccessToken returns the cached access token, refreshing first when the
// cache is empty or the token expires within the skew window.
func (a *Authority) GetAccessToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.staleLocked() {
		if err := a.renewLocked(ctx); err != nil {
			return "", err
		}
	}
	return a.accessToken, nil
}

// Invalidate wipes all cached tokens so the next request performs a full
// re-login. It performs no network I/O and is idempotent.
func (a *Authority) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logger.Info().Msg("invalidating cached tokens")
	a.clearLocked()
}

func (a *Authority) staleLocked() bool {
	if a.accessToken == "" || a.expiry.IsZero() {
		return true
	}
	return !a.clock.Now().Before(a.expiry.Add(-expirySkew))
}

func (a *Authority) clearLocked() {
	a.refreshToken = ""
	a.accessToken = ""
	a.expiry = time.Time{}
}

// renewLocked performs the login+refresh cascade. A 401/403 from the refresh
// endpoint wipes both tokens and retries exactly once through a fresh login;
// any other failure surfaces to the caller.
func (a *Authority) renewLocked(ctx context.Context) error {
	if a.refreshToken == "" {
		if err := a.login(ctx); err != nil {
			return err
		}
	}
	err := a.refresh(ctx)
	if isAuthStatus(err) {
		a.logger.Warn().Err(err).Msg("refresh token rejected, re-authenticating")
		a.clearLocked()
		if err := a.login(ctx); err != nil {
			return err
		}
		if err := a.refresh(ctx); err != nil {
			if isAuthStatus(err) {
				// Even a fresh login does not satisfy the token endpoint;
				// drop everything so the next call starts from scratch.
				a.clearLocked()
			}
			return err
		}
		return nil
	}
	return err
}

type loginResponse struct {
	RefreshToken      string `json:"refreshToken"`
	RefreshTokenSnake string `json:"refresh_token"`
}

// login exchanges the static credentials for a refresh token.
func (a *Authority) login(ctx context.Context) (err error) {
	defer func() { metrics.RecordTokenRequest("login", err) }()

	body, err := json.Marshal(map[string]string{
		"username": a.creds.Username,
		"password": a.creds.Password,
	})
	if err != nil {
		return fmt.Errorf("auth: encode login body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("auth: build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	res, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("auth: login: %w", err)
	}
	defer drainAndClose(res.Body)

	if res.StatusCode != http.StatusOK {
		return &StatusError{Op: "login", Code: res.StatusCode}
	}

	var p loginResponse
	if err := json.NewDecoder(res.Body).Decode(&p); err != nil {
		return fmt.Errorf("auth: decode login response: %w", err)
	}
	token := p.RefreshToken
	if token == "" {
		token = p.RefreshTokenSnake
	}
	if token == "" {
		return errors.New("auth: login response carries no refresh token")
	}
	a.refreshToken = token
	a.logger.Info().Msg("obtained refresh token")
	return nil
}

type tokenResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
	ExpiresIn   *int64 `json:"expires_in"`
}

// refresh exchanges the cached refresh token for a new access token.
func (a *Authority) refresh(ctx context.Context) (err error) {
	defer func() { metrics.RecordTokenRequest("refresh", err) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/auth/token", nil)
	if err != nil {
		return fmt.Errorf("auth: build token request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.refreshToken)

	res, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("auth: refresh: %w", err)
	}
	defer drainAndClose(res.Body)

	if res.StatusCode != http.StatusOK {
		return &StatusError{Op: "refresh", Code: res.StatusCode}
	}

	var p tokenResponse
	if err := json.NewDecoder(res.Body).Decode(&p); err != nil {
		return fmt.Errorf("auth: decode token response: %w", err)
	}
	token := p.Token
	if token == "" {
		token = p.AccessToken
	}
	if token == "" {
		return errors.New("auth: token response carries no access token")
	}

	a.accessToken = token
	a.expiry = a.tokenExpiry(token, p.ExpiresIn)
	a.logger.Info().Time("expiry", a.expiry).Msg("obtained access token")
	return nil
}

// tokenExpiry derives the access-token expiry. The server-reported lifetime
// wins; without one, a JWT exp claim is trusted before the fixed default.
func (a *Authority) tokenExpiry(token string, expiresIn *int64) time.Time {
	if expiresIn != nil {
		return a.clock.Now().Add(time.Duration(*expiresIn) * time.Second)
	}
	if exp, ok := jwtExpiry(token); ok {
		return exp
	}
	return a.clock.Now().Add(defaultExpiresIn)
}

// jwtExpiry extracts the exp claim from an unverified JWT, if token is one.
func jwtExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// isAuthStatus reports whether err is a 401/403 from the auth service.
func isAuthStatus(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
