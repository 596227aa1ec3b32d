// SPDX-License-Identifier: MIT
package stream

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyoda-platform/calcnode/internal/cloudevents"
)

func TestOutbox_FIFO(t *testing.T) {
	o := newOutbox()
	for i := range 5 {
		o.Put(&cloudevents.Event{ID: fmt.Sprintf("evt-%d", i)})
	}
	for i := range 5 {
		ev, err := o.Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("evt-%d", i), ev.ID)
	}
}

func TestOutbox_GetBlocksUntilPut(t *testing.T) {
	o := newOutbox()
	got := make(chan *cloudevents.Event, 1)

	go func() {
		ev, err := o.Get(context.Background())
		if err == nil {
			got <- ev
		}
	}()

	time.Sleep(10 * time.Millisecond)
	o.Put(&cloudevents.Event{ID: "late"})

	select {
	case ev := <-got:
		assert.Equal(t, "late", ev.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("Get did not observe the Put")
	}
}

func TestOutbox_CloseUnblocksGet(t *testing.T) {
	o := newOutbox()
	errCh := make(chan error, 1)

	go func() {
		_, err := o.Get(context.Background())
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	o.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, errOutboxClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("Get did not unblock on Close")
	}
}

func TestOutbox_PutAfterCloseIsDropped(t *testing.T) {
	o := newOutbox()
	o.Close()
	o.Put(&cloudevents.Event{ID: "too-late"})

	_, err := o.Get(context.Background())
	assert.ErrorIs(t, err, errOutboxClosed)
}

func TestOutbox_GetHonoursContext(t *testing.T) {
	o := newOutbox()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Get(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
