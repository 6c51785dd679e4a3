package notify_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Draegerwerk/sdc11073-sub000/internal/notify"
)

func Test_Hub_Delivers_To_All_Subscribers(t *testing.T) {
	t.Parallel()

	hub := notify.NewHub[int]()
	a := hub.Subscribe(4)
	b := hub.Subscribe(4)

	hub.Publish(7)

	assert.Equal(t, 7, <-a.C())
	assert.Equal(t, 7, <-b.C())
	assert.Equal(t, 2, hub.Len())
}

func Test_Hub_Counts_Drops_When_Subscriber_Full(t *testing.T) {
	t.Parallel()

	hub := notify.NewHub[int]()
	sub := hub.Subscribe(1)

	hub.Publish(1)
	hub.Publish(2)
	hub.Publish(3)

	assert.Equal(t, uint64(2), sub.Dropped())
	assert.Equal(t, 1, <-sub.C())
}

func Test_Subscription_Close_Stops_Delivery_And_Closes_Channel(t *testing.T) {
	t.Parallel()

	hub := notify.NewHub[string]()
	sub := hub.Subscribe(2)

	sub.Close()
	sub.Close()

	hub.Publish("ignored")

	_, ok := <-sub.C()
	assert.False(t, ok, "channel should be closed")
	assert.Equal(t, 0, hub.Len())
}

func Test_Hub_Publish_Is_Safe_When_Closing_Concurrently(t *testing.T) {
	t.Parallel()

	hub := notify.NewHub[int]()

	var wg sync.WaitGroup

	for range 8 {
		sub := hub.Subscribe(1)

		wg.Add(2)

		go func() {
			defer wg.Done()

			for i := range 100 {
				hub.Publish(i)
			}
		}()

		go func() {
			defer wg.Done()

			sub.Close()
		}()
	}

	wg.Wait()
	hub.CloseAll()

	assert.Equal(t, 0, hub.Len())
}

func Test_Monitor_Wakes_Waiter_When_Notified(t *testing.T) {
	t.Parallel()

	m := notify.NewMonitor()
	update := m.NotifyChannel()

	go m.Notify()

	select {
	case <-update:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "waiter was not woken")
	}

	// a fresh channel is handed out after notify
	select {
	case <-m.NotifyChannel():
		require.FailNow(t, "new channel should still be open")
	default:
	}
}
