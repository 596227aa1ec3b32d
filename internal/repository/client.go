// SPDX-License-Identifier: MIT

// Package repository is a thin client for the Cyoda entity REST API. It
// authenticates through the token authority and retries a request exactly
// once after invalidating tokens when the API answers 401.
package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cyoda-platform/calcnode/internal/auth"
	"github.com/cyoda-platform/calcnode/internal/log"
	"github.com/cyoda-platform/calcnode/internal/metrics"
)

// UpdateTransition is the default workflow transition applied on update.
const UpdateTransition = "UPDATE"

// Meta addresses one entity model.
type Meta struct {
	Model   string
	Version string
}

// APIError reports a non-2xx answer from the entity API.
type APIError struct {
	Method string
	Path   string
	Code   int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("repository: %s %s returned HTTP %d", e.Method, e.Path, e.Code)
}

// Client talks to the entity API.
type Client struct {
	base   string
	http   *http.Client
	tokens auth.TokenSource
	logger zerolog.Logger

	pollInterval  time.Duration
	searchTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Client) { r.http = c }
}

// WithSearchPolling overrides the snapshot-status poll interval and the
// overall search timeout.
func WithSearchPolling(interval, timeout time.Duration) Option {
	return func(r *Client) {
		r.pollInterval = interval
		r.searchTimeout = timeout
	}
}

// New creates a repository client for the given API base URL.
func New(base string, tokens auth.TokenSource, opts ...Option) *Client {
	c := &Client{
		base:          strings.TrimRight(base, "/"),
		http:          &http.Client{Timeout: 30 * time.Second},
		tokens:        tokens,
		logger:        log.WithComponent("repository"),
		pollInterval:  300 * time.Millisecond,
		searchTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do issues one authenticated request, retrying once with fresh tokens when
// the API answers 401. The response body is decoded into out when out is
// non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	res, err := c.attempt(ctx, method, path, body)
	if err != nil {
		return err
	}
	if res.StatusCode == http.StatusUnauthorized {
		drainAndClose(res.Body)
		c.logger.Warn().Str(log.FieldPath, path).Msg("request unauthorized, invalidating tokens and retrying")
		c.tokens.Invalidate()
		if res, err = c.attempt(ctx, method, path, body); err != nil {
			return err
		}
	}
	defer drainAndClose(res.Body)

	metrics.RepositoryRequests.WithLabelValues(method, strconv.Itoa(res.StatusCode/100)+"xx").Inc()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &APIError{Method: method, Path: path, Code: res.StatusCode}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("repository: decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *Client) attempt(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("repository: encode %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+"/"+path, reader)
	if err != nil {
		return nil, fmt.Errorf("repository: build %s %s request: %w", method, path, err)
	}
	token, err := c.tokens.GetAccessToken(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("repository: %s %s: %w", method, path, err)
	}
	return res, nil
}

type saveResult []struct {
	EntityIDs []string `json:"entityIds"`
}

func (r saveResult) firstID() string {
	if len(r) == 0 || len(r[0].EntityIDs) == 0 {
		return ""
	}
	return r[0].EntityIDs[0]
}

// Save creates one entity and returns its technical id.
func (c *Client) Save(ctx context.Context, meta Meta, entity any) (string, error) {
	var result saveResult
	path := fmt.Sprintf("entity/JSON/%s/%s", url.PathEscape(meta.Model), url.PathEscape(meta.Version))
	if err := c.do(ctx, http.MethodPost, path, entity, &result); err != nil {
		return "", err
	}
	return result.firstID(), nil
}

// SaveAll creates a batch of entities and returns the first technical id.
func (c *Client) SaveAll(ctx context.Context, meta Meta, entities []any) (string, error) {
	var result saveResult
	path := fmt.Sprintf("entity/JSON/%s/%s", url.PathEscape(meta.Model), url.PathEscape(meta.Version))
	if err := c.do(ctx, http.MethodPost, path, entities, &result); err != nil {
		return "", err
	}
	return result.firstID(), nil
}

// FindByID fetches one entity, merging its workflow state and technical id
// into the returned document.
func (c *Client) FindByID(ctx context.Context, technicalID string) (map[string]any, error) {
	var payload struct {
		Data map[string]any `json:"data"`
		Meta struct {
			State string `json:"state"`
		} `json:"meta"`
	}
	if err := c.do(ctx, http.MethodGet, "entity/"+url.PathEscape(technicalID), nil, &payload); err != nil {
		return nil, err
	}
	if payload.Data == nil {
		payload.Data = map[string]any{}
	}
	payload.Data["current_state"] = payload.Meta.State
	payload.Data["technical_id"] = technicalID
	return payload.Data, nil
}

// FindAll lists all entities of one model.
func (c *Client) FindAll(ctx context.Context, meta Meta) ([]map[string]any, error) {
	var out []map[string]any
	path := fmt.Sprintf("entity/%s/%s", url.PathEscape(meta.Model), url.PathEscape(meta.Version))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Update applies entity data through the given workflow transition and
// returns the technical id. An empty transition uses UpdateTransition.
func (c *Client) Update(ctx context.Context, technicalID, transition string, entity any) (string, error) {
	if transition == "" {
		transition = UpdateTransition
	}
	path := fmt.Sprintf("entity/JSON/%s/%s?transactional=true&waitForConsistencyAfter=true",
		url.PathEscape(technicalID), url.PathEscape(transition))
	var result struct {
		EntityIDs []string `json:"entityIds"`
	}
	if err := c.do(ctx, http.MethodPut, path, entity, &result); err != nil {
		return "", err
	}
	if len(result.EntityIDs) == 0 {
		return "", nil
	}
	return result.EntityIDs[0], nil
}

// DeleteByID removes one entity.
func (c *Client) DeleteByID(ctx context.Context, technicalID string) error {
	return c.do(ctx, http.MethodDelete, "entity/"+url.PathEscape(technicalID), nil, nil)
}

// DeleteAll removes every entity of one model.
func (c *Client) DeleteAll(ctx context.Context, meta Meta) error {
	path := fmt.Sprintf("entity/%s/%s", url.PathEscape(meta.Model), url.PathEscape(meta.Version))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
