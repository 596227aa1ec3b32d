// SPDX-License-Identifier: MIT

package auth

import (
	"context"

	"google.golang.org/grpc/credentials"
)

// StreamCredentials attaches a bearer token from a TokenSource to every RPC.
// If the token fetch fails, the source is invalidated once and the fetch
// retried exactly once before the attempt is given up.
type StreamCredentials struct {
	source TokenSource
	secure bool
}

var _ credentials.PerRPCCredentials = (*StreamCredentials)(nil)

// NewStreamCredentials creates per-RPC credentials backed by source. secure
// must be true whenever the channel uses TLS.
func NewStreamCredentials(source TokenSource, secure bool) *StreamCredentials {
	return &StreamCredentials{source: source, secure: secure}
}

// GetRequestMetadata implements credentials.PerRPCCredentials.
func (c *StreamCredentials) GetRequestMetadata(ctx context.Context, _ ...string) (map[string]string, error) {
	token, err := c.source.GetAccessToken(ctx)
	if err != nil {
		c.source.Invalidate()
		token, err = c.source.GetAccessToken(ctx)
		if err != nil {
			return nil, err
		}
	}
	return map[string]string{"authorization": "Bearer " + token}, nil
}

// RequireTransportSecurity implements credentials.PerRPCCredentials.
func (c *StreamCredentials) RequireTransportSecurity() bool {
	return c.secure
}
