package chat

import (
	"context"
	"sync"
)

// Mock is an in-memory Transport for tests. Inject inbound traffic with
// Receive and inspect outbound lines with Sent.
type Mock struct {
	mu        sync.Mutex
	onMessage func(msg Message)
	onConnect func()
	sent      []string
	connected bool
	done      chan struct{}
}

// NewMock returns an unconnected mock transport.
func NewMock() *Mock {
	return &Mock{done: make(chan struct{})}
}

func (m *Mock) OnMessage(fn func(msg Message)) {
	m.mu.Lock()
	m.onMessage = fn
	m.mu.Unlock()
}

func (m *Mock) OnConnect(fn func()) {
	m.mu.Lock()
	m.onConnect = fn
	m.mu.Unlock()
}

func (m *Mock) Say(_ context.Context, text string) error {
	m.mu.Lock()
	m.sent = append(m.sent, text)
	m.mu.Unlock()
	return nil
}

// Connect fires the connect handler and blocks until Disconnect.
func (m *Mock) Connect() error {
	m.mu.Lock()
	m.connected = true
	fn := m.onConnect
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
	<-m.done
	return nil
}

func (m *Mock) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected {
		m.connected = false
		close(m.done)
	}
	return nil
}

// Receive delivers an inbound message to the registered handler.
func (m *Mock) Receive(msg Message) {
	m.mu.Lock()
	fn := m.onMessage
	m.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

// Sent returns a copy of every line sent so far.
func (m *Mock) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	copy(out, m.sent)
	return out
}
