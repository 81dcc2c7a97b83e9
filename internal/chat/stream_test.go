package chat_test

import (
	"bytes"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/omochice/chatwire/internal/chat"
)

// mockStream is a mock implementation of chat.Stream for testing.
type mockStream struct {
	readCh    chan []byte
	pending   []byte
	writtenMu sync.Mutex
	written   bytes.Buffer
	writeErr  error
	closeErr  error
	closeOnce sync.Once
	closed    chan struct{}
}

func newMockStream() *mockStream {
	return &mockStream{
		readCh: make(chan []byte, 10),
		closed: make(chan struct{}),
	}
}

func (m *mockStream) Read(p []byte) (int, error) {
	if len(m.pending) == 0 {
		select {
		case <-m.closed:
			return 0, net.ErrClosed
		case data, ok := <-m.readCh:
			if !ok {
				return 0, io.EOF
			}
			m.pending = data
		}
	}
	n := copy(p, m.pending)
	m.pending = m.pending[n:]
	return n, nil
}

func (m *mockStream) Write(p []byte) (int, error) {
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	return m.written.Write(p)
}

func (m *mockStream) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return m.closeErr
}

func (m *mockStream) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1234}
}

func (m *mockStream) Written() []byte {
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	return append([]byte(nil), m.written.Bytes()...)
}

// Compile-time checks that the stream implementations satisfy chat.Stream.
var (
	_ chat.Stream = (*mockStream)(nil)
	_ chat.Stream = (net.Conn)(nil)
)

// syncBuffer is a bytes.Buffer safe for use as a log sink across goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// tcpPair returns both ends of a loopback TCP connection.
func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer listener.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- conn
	}()

	local, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}

	var remote net.Conn
	select {
	case c, ok := <-accepted:
		if !ok {
			t.Fatal("failed to accept connection")
		}
		remote = c
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for accept")
	}

	t.Cleanup(func() {
		local.Close()
		remote.Close()
	})
	return local, remote
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}
