package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_FanOut(t *testing.T) {
	d := NewDispatcher[ConnectivityChanged]()
	a, cancelA := d.Subscribe()
	b, cancelB := d.Subscribe()
	defer cancelB()

	ev := ConnectivityChanged{Online: true, At: time.Now()}
	require.NoError(t, d.Publish(context.Background(), ev))

	assert.Equal(t, ev, <-a)
	assert.Equal(t, ev, <-b)

	cancelA()
	cancelA()
	_, open := <-a
	assert.False(t, open)
	assert.Equal(t, 1, d.Subscribers())
}

func TestDispatcher_PublishRespectsContext(t *testing.T) {
	d := NewDispatcher[BackgroundSync]()
	_, cancel := d.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer; i++ {
		require.NoError(t, d.Publish(context.Background(), BackgroundSync{Tag: "sync-transactions"}))
	}

	ctx, stop := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer stop()
	assert.ErrorIs(t, d.Publish(ctx, BackgroundSync{Tag: "sync-reminders"}), context.DeadlineExceeded)
}
