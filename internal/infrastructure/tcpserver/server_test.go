package tcpserver

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"slimcast/internal/core/domain"
	"slimcast/internal/core/ports"
)

// recordingHandler collects callbacks for assertions.
type recordingHandler struct {
	mu     sync.Mutex
	opened []domain.ConnID
	closed []domain.ConnID
	data   map[domain.ConnID][]byte
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{data: make(map[domain.ConnID][]byte)}
}

func (h *recordingHandler) OnOpen(conn ports.Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.opened = append(h.opened, conn.ID())
}

func (h *recordingHandler) OnData(conn ports.Connection, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.data[conn.ID()] = append(h.data[conn.ID()], data...)
}

func (h *recordingHandler) OnClose(conn ports.Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = append(h.closed, conn.ID())
}

func (h *recordingHandler) openCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.opened)
}

func (h *recordingHandler) closeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.closed)
}

func (h *recordingHandler) received(id domain.ConnID) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]byte(nil), h.data[id]...)
}

func startTestServer(t *testing.T, handler ports.ConnHandler) *Server {
	t.Helper()
	server := NewServer(Config{
		Name:           "test",
		Address:        "127.0.0.1:0",
		ReadBufferSize: 1024,
		WriteTimeout:   time.Second,
	}, handler, zaptest.NewLogger(t).Sugar())
	require.NoError(t, server.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	})
	return server
}

func TestServer_DeliversLifecycleAndData(t *testing.T) {
	handler := newRecordingHandler()
	server := startTestServer(t, handler)

	client, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return handler.openCount() == 1 },
		2*time.Second, 5*time.Millisecond)

	_, err = client.Write([]byte("hello stream"))
	require.NoError(t, err)

	var id domain.ConnID
	handler.mu.Lock()
	id = handler.opened[0]
	handler.mu.Unlock()

	require.Eventually(t, func() bool { return string(handler.received(id)) == "hello stream" },
		2*time.Second, 5*time.Millisecond)

	require.NoError(t, client.Close())
	require.Eventually(t, func() bool { return handler.closeCount() == 1 },
		2*time.Second, 5*time.Millisecond)
}

// stopOnOpen closes every connection as soon as it opens.
type stopOnOpen struct{ *recordingHandler }

func (h *stopOnOpen) OnOpen(conn ports.Connection) {
	h.recordingHandler.OnOpen(conn)
	conn.Stop()
}

func TestServer_HandlerMayStopConnection(t *testing.T) {
	handler := &stopOnOpen{newRecordingHandler()}
	server := startTestServer(t, handler)

	client, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	// The peer observes the close as EOF.
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = client.Read(buf)
	assert.Error(t, err)

	require.Eventually(t, func() bool { return handler.closeCount() == 1 },
		2*time.Second, 5*time.Millisecond)
}

func TestServer_ShutdownClosesActiveConnections(t *testing.T) {
	handler := newRecordingHandler()
	server := NewServer(Config{
		Name:           "test",
		Address:        "127.0.0.1:0",
		ReadBufferSize: 1024,
		WriteTimeout:   time.Second,
	}, handler, zaptest.NewLogger(t).Sugar())
	require.NoError(t, server.Start())

	client, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	require.Eventually(t, func() bool { return handler.openCount() == 1 },
		2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, server.Shutdown(ctx))
	assert.Equal(t, 1, handler.closeCount(), "shutdown drains the read loops")

	_, err = net.Dial("tcp", server.Addr().String())
	assert.Error(t, err, "listener must be closed after shutdown")
}

func TestConnection_WriteAfterStopFails(t *testing.T) {
	handler := newRecordingHandler()
	server := startTestServer(t, handler)

	client, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	require.Eventually(t, func() bool { return handler.openCount() == 1 },
		2*time.Second, 5*time.Millisecond)

	// Reach into the server to grab the live connection handle.
	server.mu.Lock()
	var conn *tcpConnection
	for _, c := range server.conns {
		conn = c
	}
	server.mu.Unlock()
	require.NotNil(t, conn)

	require.NoError(t, conn.Stop())
	require.NoError(t, conn.Stop(), "stopping twice is harmless")

	_, err = conn.Write([]byte("late"))
	assert.ErrorIs(t, err, domain.ErrConnectionClosed)
}
