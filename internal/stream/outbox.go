// SPDX-License-Identifier: MIT

package stream

import (
	"context"
	"errors"
	"sync"

	"github.com/cyoda-platform/calcnode/internal/cloudevents"
)

var errOutboxClosed = errors.New("stream: outbox closed")

// outbox is the unbounded FIFO of events awaiting transmission. One outbox
// belongs to exactly one stream session; Put never blocks, Get waits for the
// next event. Close signals graceful end of the queue to the sender.
type outbox struct {
	mu     sync.Mutex
	items  []*cloudevents.Event
	closed bool
	signal chan struct{}
}

func newOutbox() *outbox {
	return &outbox{signal: make(chan struct{}, 1)}
}

// Put appends an event. Events put after Close are dropped.
func (o *outbox) Put(e *cloudevents.Event) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.items = append(o.items, e)
	o.mu.Unlock()
	o.wake()
}

// Get returns the next event in FIFO order, blocking until one is available,
// the outbox is closed, or ctx ends.
func (o *outbox) Get(ctx context.Context) (*cloudevents.Event, error) {
	for {
		o.mu.Lock()
		if len(o.items) > 0 {
			e := o.items[0]
			o.items = o.items[1:]
			o.mu.Unlock()
			return e, nil
		}
		closed := o.closed
		o.mu.Unlock()
		if closed {
			return nil, errOutboxClosed
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-o.signal:
		}
	}
}

// Close marks the queue finished. Pending events are discarded; a blocked Get
// unblocks with errOutboxClosed.
func (o *outbox) Close() {
	o.mu.Lock()
	o.closed = true
	o.items = nil
	o.mu.Unlock()
	o.wake()
}

func (o *outbox) wake() {
	select {
	case o.signal <- struct{}{}:
	default:
	}
}
