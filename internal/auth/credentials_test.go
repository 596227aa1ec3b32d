// SPDX-License-Identifier: MIT
package auth

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedSource struct {
	tokens      []string
	errs        []error
	calls       atomic.Int64
	invalidates atomic.Int64
}

func (s *scriptedSource) GetAccessToken(context.Context) (string, error) {
	i := int(s.calls.Add(1)) - 1
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i < len(s.tokens) {
		return s.tokens[i], nil
	}
	return "", errors.New("script exhausted")
}

func (s *scriptedSource) Invalidate() { s.invalidates.Add(1) }

func TestStreamCredentials_AttachesBearer(t *testing.T) {
	src := &scriptedSource{tokens: []string{"tok-1"}}
	creds := NewStreamCredentials(src, true)

	md, err := creds.GetRequestMetadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"authorization": "Bearer tok-1"}, md)
	assert.EqualValues(t, 0, src.invalidates.Load())
	assert.True(t, creds.RequireTransportSecurity())
}

func TestStreamCredentials_InvalidatesAndRetriesOnce(t *testing.T) {
	src := &scriptedSource{
		errs:   []error{errors.New("stale"), nil},
		tokens: []string{"", "tok-2"},
	}
	creds := NewStreamCredentials(src, false)

	md, err := creds.GetRequestMetadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-2", md["authorization"])
	assert.EqualValues(t, 1, src.invalidates.Load())
	assert.EqualValues(t, 2, src.calls.Load())
	assert.False(t, creds.RequireTransportSecurity())
}

func TestStreamCredentials_GivesUpAfterSecondFailure(t *testing.T) {
	src := &scriptedSource{errs: []error{errors.New("down"), errors.New("still down")}}
	creds := NewStreamCredentials(src, true)

	_, err := creds.GetRequestMetadata(context.Background())
	require.Error(t, err)
	assert.EqualValues(t, 1, src.invalidates.Load())
	assert.EqualValues(t, 2, src.calls.Load())
}
