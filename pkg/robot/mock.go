package robot

import (
	"sync"
)

// MockVelocity implements VelocityPublisher for testing.
// It records every published command.
type MockVelocity struct {
	// PublishFunc is called for each publish when set.
	PublishFunc func(cmd Twist) error

	mu   sync.Mutex
	sent []Twist
}

// PublishVelocity records cmd.
func (m *MockVelocity) PublishVelocity(cmd Twist) error {
	m.mu.Lock()
	m.sent = append(m.sent, cmd)
	fn := m.PublishFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(cmd)
	}
	return nil
}

// Sent returns a copy of all published commands in order.
func (m *MockVelocity) Sent() []Twist {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Twist, len(m.sent))
	copy(out, m.sent)
	return out
}

// Count returns the number of published commands.
func (m *MockVelocity) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// Last returns the most recent command and whether any was published.
func (m *MockVelocity) Last() (Twist, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return Twist{}, false
	}
	return m.sent[len(m.sent)-1], true
}
