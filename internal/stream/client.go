// SPDX-License-Identifier: MIT

// Package stream maintains the long-lived bidirectional event stream against
// the calculation-node service: it joins the processing group, answers
// keep-alives and calculation requests, and reconnects with exponential
// backoff on any channel or auth failure.
package stream

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/cyoda-platform/calcnode/internal/auth"
	"github.com/cyoda-platform/calcnode/internal/cloudevents"
	"github.com/cyoda-platform/calcnode/internal/log"
	"github.com/cyoda-platform/calcnode/internal/metrics"
	"github.com/cyoda-platform/calcnode/internal/processor"
)

// Config holds the stream client settings.
type Config struct {
	// Address is the host:port of the event service.
	Address string
	// Owner and Source are stamped on every outbound event.
	Owner  string
	Source string
	// Tags identify this client's processing-node group in the join event.
	Tags []string
	// BackoffInitial and BackoffMax bound the reconnect schedule.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// Insecure disables TLS. Local development and tests only.
	Insecure bool
}

// Client is the event-stream client. Construct with New and drive with Run.
type Client struct {
	cfg      Config
	tokens   auth.TokenSource
	registry *processor.Registry
	logger   zerolog.Logger
	dialOpts []grpc.DialOption

	connected atomic.Bool
}

// Option configures a Client.
type Option func(*Client)

// WithDialOptions appends extra gRPC dial options. Tests use this to point the
// client at an in-process listener.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *Client) { c.dialOpts = append(c.dialOpts, opts...) }
}

// New creates a stream client. tokens supplies per-RPC bearer tokens and is
// invalidated when the stream reports UNAUTHENTICATED.
func New(cfg Config, tokens auth.TokenSource, registry *processor.Registry, opts ...Option) *Client {
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	c := &Client{
		cfg:      cfg,
		tokens:   tokens,
		registry: registry,
		logger:   log.WithComponent("stream"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connected reports whether a stream session is currently open.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Run connects and serves the event stream, reconnecting with exponential
// backoff until the server closes the stream cleanly or ctx ends. Calculation
// handlers spawned for in-flight events are not drained on shutdown.
func (c *Client) Run(ctx context.Context) error {
	bo := newBackoff(c.cfg.BackoffInitial, c.cfg.BackoffMax)
	attempt := 0
	for {
		err := c.serve(ctx)
		if err == nil {
			c.logger.Info().Msg("stream closed cleanly, stopping")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		reason := "transport"
		if status.Code(err) == codes.Unauthenticated {
			reason = "unauthenticated"
			c.logger.Warn().Err(err).Msg("stream unauthenticated, invalidating tokens")
			c.tokens.Invalidate()
		}
		metrics.StreamReconnects.WithLabelValues(reason).Inc()

		attempt++
		delay := bo.NextBackOff()
		c.logger.Warn().
			Err(err).
			Int(log.FieldAttempt, attempt).
			Dur(log.FieldBackoff, delay).
			Msg("stream failed, reconnecting")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// serve runs one stream session: dial, join, then pump inbound events until
// the stream ends. A nil return means the server closed the stream cleanly.
func (c *Client) serve(ctx context.Context) error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	st, err := cloudevents.NewClient(conn).StartStreaming(sctx)
	if err != nil {
		return err
	}

	c.connected.Store(true)
	metrics.StreamConnected.Set(1)
	defer func() {
		c.connected.Store(false)
		metrics.StreamConnected.Set(0)
	}()

	out := newOutbox()
	defer out.Close()

	join, err := c.joinEvent()
	if err != nil {
		return err
	}
	go c.sendLoop(sctx, st, join, out)

	for {
		ev, err := st.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		c.dispatch(sctx, ev, out)
	}
}

func (c *Client) dial() (*grpc.ClientConn, error) {
	var tcreds credentials.TransportCredentials
	if c.cfg.Insecure {
		tcreds = insecure.NewCredentials()
	} else {
		tcreds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(tcreds),
		grpc.WithPerRPCCredentials(auth.NewStreamCredentials(c.tokens, !c.cfg.Insecure)),
	}
	opts = append(opts, c.dialOpts...)
	return grpc.NewClient(c.cfg.Address, opts...)
}

// sendLoop emits the join event and then drains the outbox onto the stream.
// Send failures surface on the receive side as well, which owns error
// handling for the session.
func (c *Client) sendLoop(ctx context.Context, st cloudevents.Stream, join *cloudevents.Event, out *outbox) {
	if err := st.Send(join); err != nil {
		c.logger.Debug().Err(err).Msg("join send failed")
		return
	}
	metrics.EventsSent.WithLabelValues(join.Type).Inc()

	for {
		ev, err := out.Get(ctx)
		if errors.Is(err, errOutboxClosed) {
			_ = st.CloseSend()
			return
		}
		if err != nil {
			return
		}
		if err := st.Send(ev); err != nil {
			c.logger.Debug().Err(err).Str(log.FieldEventType, ev.Type).Msg("event send failed")
			return
		}
		metrics.EventsSent.WithLabelValues(ev.Type).Inc()
	}
}

// dispatch routes one inbound event. Calculation and keep-alive work runs in
// spawned goroutines so slow handlers never block the receive loop; reply
// ordering across concurrent events is therefore best-effort.
func (c *Client) dispatch(ctx context.Context, ev *cloudevents.Event, out *outbox) {
	metrics.EventsReceived.WithLabelValues(ev.Type).Inc()

	switch ev.Type {
	case TypeKeepAlive:
		go c.acknowledge(ev.ID, out)
	case TypeEventAck:
		c.logger.Debug().Str(log.FieldEventID, ev.ID).Msg("event acknowledged")
	case TypeCalcRequest, TypeCriteriaRequest:
		var request map[string]any
		if err := json.Unmarshal([]byte(ev.TextData), &request); err != nil {
			c.logger.Error().Err(err).
				Str(log.FieldEventID, ev.ID).
				Str(log.FieldEventType, ev.Type).
				Msg("calculation request payload is not valid JSON")
			return
		}
		cctx := log.ContextWithEventID(ctx, ev.ID)
		if rid, ok := request["requestId"].(string); ok {
			cctx = log.ContextWithRequestID(cctx, rid)
		}
		go c.calculate(cctx, ev.Type, request, out)
	case TypeGreet:
		c.logger.Info().Str(log.FieldEventID, ev.ID).Msg("greet event received")
	default:
		c.logger.Error().
			Str(log.FieldEventID, ev.ID).
			Str(log.FieldEventType, ev.Type).
			Msg("unhandled event type")
	}
}

func (c *Client) acknowledge(sourceEventID string, out *outbox) {
	ack, err := c.ackEvent(sourceEventID)
	if err != nil {
		c.logger.Error().Err(err).Msg("building keep-alive ack failed")
		return
	}
	out.Put(ack)
}

// calculate runs the registered handler for one calculation request and
// enqueues the reply. A reply is sent even when no handler ran or the handler
// failed, so the remote side is never left waiting.
func (c *Client) calculate(ctx context.Context, eventType string, request map[string]any, out *outbox) {
	name, _ := request["processorName"].(string)
	logger := log.WithContext(ctx, c.logger)
	start := time.Now()

	var reply *cloudevents.Event
	var err error
	switch eventType {
	case TypeCalcRequest:
		herr := c.registry.Handle(ctx, name, request)
		metrics.ObserveHandler(name, start, herr)
		reply, err = c.calcResponse(request)
	case TypeCriteriaRequest:
		matches := c.registry.Evaluate(ctx, name, request)
		metrics.ObserveHandler(name, start, nil)
		reply, err = c.criteriaResponse(request, matches)
	}
	if err != nil {
		logger.Error().Err(err).Str(log.FieldProcessor, name).Msg("building calculation reply failed")
		return
	}
	out.Put(reply)
}
