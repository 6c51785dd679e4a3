package notify

import "sync"

// Monitor is a broadcast wake-up: every call to [Monitor.Notify] closes the
// channel handed out by [Monitor.NotifyChannel] and replaces it.
//
// Typical use is a wait loop that grabs the channel, checks its condition,
// and then waits on the channel:
//
//	for {
//	    update := m.NotifyChannel()
//	    if done() {
//	        return
//	    }
//	    select {
//	    case <-update:
//	    case <-ctx.Done():
//	        return ctx.Err()
//	    }
//	}
type Monitor struct {
	mu     sync.Mutex
	update chan struct{}
}

// NewMonitor returns a monitor ready for use.
func NewMonitor() *Monitor {
	return &Monitor{
		update: make(chan struct{}),
	}
}

// NotifyChannel returns the channel closed by the next Notify.
func (m *Monitor) NotifyChannel() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.update
}

// Notify wakes all current waiters.
func (m *Monitor) Notify() {
	m.mu.Lock()
	defer m.mu.Unlock()

	close(m.update)
	m.update = make(chan struct{})
}
