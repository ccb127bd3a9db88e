package websocket

import (
	"errors"
	"sync"
	"time"
)

// mockConnection is an in-memory Connection. ReadMessage blocks until a
// message is pushed or the connection is closed.
type mockConnection struct {
	mu       sync.Mutex
	written  [][]byte
	types    []int
	incoming chan []byte
	closed   chan struct{}
	once     sync.Once

	readLimit   int64
	pongHandler func(string) error
	writeErr    error
}

func newMockConnection() *mockConnection {
	return &mockConnection{
		incoming: make(chan []byte, 16),
		closed:   make(chan struct{}),
	}
}

var errMockClosed = errors.New("connection closed")

func (m *mockConnection) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.types = append(m.types, messageType)
	m.written = append(m.written, append([]byte(nil), data...))
	return nil
}

func (m *mockConnection) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-m.incoming:
		return 1, msg, nil
	case <-m.closed:
		return 0, nil, errMockClosed
	}
}

func (m *mockConnection) Close() error {
	m.once.Do(func() { close(m.closed) })
	return nil
}

func (m *mockConnection) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

func (m *mockConnection) SetReadDeadline(time.Time) error  { return nil }
func (m *mockConnection) SetWriteDeadline(time.Time) error { return nil }
func (m *mockConnection) RemoteAddr() string               { return "127.0.0.1:5555" }

func (m *mockConnection) SetReadLimit(limit int64) {
	m.mu.Lock()
	m.readLimit = limit
	m.mu.Unlock()
}

func (m *mockConnection) SetPongHandler(h func(string) error) {
	m.mu.Lock()
	m.pongHandler = h
	m.mu.Unlock()
}

// textMessages returns the text frames written so far
func (m *mockConnection) textMessages() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out [][]byte
	for i, t := range m.types {
		if t == 1 {
			out = append(out, m.written[i])
		}
	}
	return out
}
