package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestManagerSingleFlight(t *testing.T) {
	m := NewRequestManager()
	var first, second int

	assert.False(t, m.StartRequest(func() { first++ }))
	assert.True(t, m.IsRunning())
	assert.True(t, m.StartRequest(func() { second++ }))
	assert.True(t, m.StartRequest(nil))

	m.RequestComplete()
	assert.False(t, m.IsRunning())
	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)

	// callbacks are not replayed
	assert.False(t, m.StartRequest(nil))
	m.RequestComplete()
	assert.Equal(t, 1, first)
}

func TestRequestManagerCallbackMayStartNewRequest(t *testing.T) {
	m := NewRequestManager()
	var restarted bool
	m.StartRequest(func() {
		restarted = !m.StartRequest(nil)
	})
	m.RequestComplete()
	assert.True(t, restarted, "callback should own a fresh request")
	assert.True(t, m.IsRunning())
}
