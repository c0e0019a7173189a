package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"slimcast/internal/core/domain"
	"slimcast/internal/core/ports"
)

func newStreamingSessionForTest(t *testing.T, factory ports.EncoderFactory) (*StreamingSession, *fakeConn) {
	t.Helper()
	conn := newFakeConn("audio-1")
	session, err := NewStreamingSession(conn, factory, "aabbcc001122", 2, 44100, 32, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	return session, conn
}

func TestStreamingSession_RequestStartsStreaming(t *testing.T) {
	session, conn := newStreamingSessionForTest(t, passthroughFactory)

	session.OnRequest(getRequest("/stream?player=aabbcc001122"))

	assert.True(t, session.IsStreaming())
	head := string(conn.written())
	assert.True(t, strings.HasPrefix(head, "HTTP/1.0 200 OK\r\n"))
	assert.Contains(t, head, "Content-Type: audio/x-test\r\n")
	assert.NotContains(t, head, "Content-Length", "streaming body must not carry a length")
}

func TestStreamingSession_RequestSplitAcrossReads(t *testing.T) {
	session, _ := newStreamingSessionForTest(t, passthroughFactory)

	request := getRequest("/stream?player=aabbcc001122")
	half := len(request) / 2

	session.OnRequest(request[:half])
	assert.False(t, session.IsStreaming())

	session.OnRequest(request[half:])
	assert.True(t, session.IsStreaming())
}

func TestStreamingSession_MismatchedIdentityCloses(t *testing.T) {
	session, conn := newStreamingSessionForTest(t, passthroughFactory)

	session.OnRequest(getRequest("/stream?player=deadbeef0000"))

	assert.False(t, session.IsStreaming())
	assert.True(t, conn.stopped())
}

func TestStreamingSession_MissingIdentityCloses(t *testing.T) {
	session, conn := newStreamingSessionForTest(t, passthroughFactory)

	session.OnRequest(getRequest("/stream"))

	assert.False(t, session.IsStreaming())
	assert.True(t, conn.stopped())
}

func TestStreamingSession_OversizedHeadCloses(t *testing.T) {
	session, conn := newStreamingSessionForTest(t, passthroughFactory)

	session.OnRequest([]byte("GET /stream?player=aabbcc001122 HTTP/1.0\r\n"))
	junk := []byte("X-Filler: " + strings.Repeat("a", 4096) + "\r\n")
	session.OnRequest(junk)
	session.OnRequest(junk)

	assert.False(t, session.IsStreaming())
	assert.True(t, conn.stopped())
}

func TestStreamingSession_ChunksFlowThroughEncoder(t *testing.T) {
	session, conn := newStreamingSessionForTest(t, passthroughFactory)
	session.OnRequest(getRequest("/stream?player=aabbcc001122"))

	headerLen := len(conn.written())

	var chunk domain.Chunk
	chunk.Reset(32)
	copy(chunk.Buffer(), "0123456789abcdef")
	chunk.SetSize(16)

	session.OnChunk(&chunk, 44100)

	body := conn.written()[headerLen:]
	assert.Equal(t, []byte("0123456789abcdef"), body)
	assert.Equal(t, uint64(2), session.SamplesEncoded(), "16 bytes of 2ch 32-bit PCM is 2 frames")
}

func TestStreamingSession_ChunkBeforeRequestIsDropped(t *testing.T) {
	session, conn := newStreamingSessionForTest(t, passthroughFactory)

	var chunk domain.Chunk
	chunk.Reset(8)
	chunk.SetSize(8)
	session.OnChunk(&chunk, 44100)

	assert.Empty(t, conn.written())
}

func TestStreamingSession_EncoderErrorFailsOnlyThisSession(t *testing.T) {
	session, conn := newStreamingSessionForTest(t, failingFactory(1))
	session.OnRequest(getRequest("/stream?player=aabbcc001122"))

	var chunk domain.Chunk
	chunk.Reset(8)
	chunk.SetSize(8)

	session.OnChunk(&chunk, 44100) // first encode succeeds
	assert.True(t, session.IsStreaming())

	session.OnChunk(&chunk, 44100) // second one fails
	assert.False(t, session.IsStreaming())
	assert.True(t, conn.stopped())
}

func TestParseClientID(t *testing.T) {
	tests := []struct {
		name string
		buf  string
		want domain.ClientID
	}{
		{"well-formed", "GET /stream?player=aabbcc001122 HTTP/1.0\r\nHost: x\r\n\r\n", "aabbcc001122"},
		{"extra query params", "GET /stream?rate=48000&player=ff0011223344 HTTP/1.0\r\n\r\n", "ff0011223344"},
		{"missing player", "GET /stream HTTP/1.0\r\n\r\n", ""},
		{"not a GET", "POST /stream?player=aabbcc001122 HTTP/1.0\r\n\r\n", ""},
		{"bare opcode", "GET", ""},
		{"unparseable target", "GET :// HTTP/1.0\r\n\r\n", ""},
		{"empty buffer", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseClientID([]byte(tt.buf)))
		})
	}
}
