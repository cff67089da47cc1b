package queue

import "sync"

// RequestManager lets one drain run at a time. Callers arriving while a drain is in
// flight are parked and notified when it finishes.
type RequestManager struct {
	mu        sync.Mutex
	running   bool
	callbacks []func()
}

func NewRequestManager() *RequestManager {
	return &RequestManager{}
}

// StartRequest registers onComplete. It returns false when the caller must start the
// drain itself and true when a drain is already running and will call onComplete.
func (m *RequestManager) StartRequest(onComplete func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if onComplete != nil {
		m.callbacks = append(m.callbacks, onComplete)
	}
	if m.running {
		return true
	}
	m.running = true
	return false
}

// RequestComplete clears the running flag and fires every parked callback. State is
// swapped out under the lock first, so a StartRequest racing with the callbacks begins
// a fresh drain instead of being lost.
func (m *RequestManager) RequestComplete() {
	m.mu.Lock()
	callbacks := m.callbacks
	m.callbacks = nil
	m.running = false
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}

// IsRunning reports whether a drain is in flight.
func (m *RequestManager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
