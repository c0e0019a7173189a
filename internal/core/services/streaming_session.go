package services

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"slimcast/internal/core/domain"
	"slimcast/internal/core/ports"
	apperrors "slimcast/pkg/errors"
)

type streamingState int

const (
	streamingAwaitingRequest streamingState = iota
	streamingActive
	streamingClosed
)

// maxRequestHead bounds how many bytes a client may send before completing
// its request head.
const maxRequestHead = 8 * 1024

var headTerminator = []byte("\r\n\r\n")

// StreamingSession is the per-client actor on the HTTP audio connection. It
// parses the GET request, answers with a streaming response header, and
// pushes every accepted chunk through its encoder onto the wire.
//
// All methods must be called from the processor; the session has no
// internal locking.
type StreamingSession struct {
	conn ports.Connection
	log  *zap.SugaredLogger

	state  streamingState
	reqBuf []byte

	clientID      domain.ClientID
	channels      int
	sampleRate    int
	bitsPerSample int
	encoder       ports.Encoder
}

// NewStreamingSession builds a session bound to the stream parameters the
// dispatcher committed to. The encoder writes straight to the connection.
func NewStreamingSession(
	conn ports.Connection,
	factory ports.EncoderFactory,
	clientID domain.ClientID,
	channels, sampleRate, bitsPerSample int,
	log *zap.SugaredLogger,
) (*StreamingSession, error) {
	s := &StreamingSession{
		conn:          conn,
		log:           log.With("conn_id", conn.ID(), "client_id", clientID),
		state:         streamingAwaitingRequest,
		clientID:      clientID,
		channels:      channels,
		sampleRate:    sampleRate,
		bitsPerSample: bitsPerSample,
	}

	encoder, err := factory(channels, bitsPerSample, bitsPerSample, sampleRate, func(p []byte) error {
		_, err := conn.Write(p)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}
	s.encoder = encoder
	return s, nil
}

// OnRequest feeds raw bytes received on the audio connection. Bytes are
// accumulated until the request head is complete, then answered with the
// streaming response header.
func (s *StreamingSession) OnRequest(data []byte) {
	switch s.state {
	case streamingClosed:
		return
	case streamingActive:
		// A streaming client has nothing more to say.
		s.log.Debugw("ignoring bytes on established audio connection", "size", len(data))
		return
	}

	s.reqBuf = append(s.reqBuf, data...)
	if !bytes.Contains(s.reqBuf, headTerminator) {
		if len(s.reqBuf) > maxRequestHead {
			s.log.Warnw("closing audio session",
				"error", apperrors.NewProtocolError("request head too large").
					WithContext("size", len(s.reqBuf)))
			s.Close()
		}
		return
	}

	requested := ParseClientID(s.reqBuf)
	if requested == "" || requested != s.clientID {
		s.log.Warnw("closing audio session",
			"error", apperrors.NewCorrelationError("audio request does not match session identity").
				WithContext("requested", string(requested)))
		s.Close()
		return
	}

	header := fmt.Sprintf(
		"HTTP/1.0 200 OK\r\nServer: slimcast\r\nConnection: close\r\nContent-Type: %s\r\n\r\n",
		s.encoder.MIME(),
	)
	if _, err := s.conn.Write([]byte(header)); err != nil {
		s.log.Warnw("response header write failed, closing session", "error", err)
		s.Close()
		return
	}

	s.reqBuf = nil
	s.state = streamingActive
	s.log.Infow("audio streaming started", "sample_rate", s.sampleRate)
}

// OnChunk pushes one PCM chunk through the encoder. An encoder error fails
// only this session.
func (s *StreamingSession) OnChunk(chunk *domain.Chunk, sampleRate int) {
	if s.state != streamingActive {
		return
	}
	if err := s.encoder.Encode(chunk.Bytes()); err != nil {
		s.log.Errorw("chunk encoding failed, closing session",
			"error", apperrors.NewEncoderError(err))
		s.Close()
	}
}

// Close tears the session down and asks the network layer to drop the
// connection. Idempotent.
func (s *StreamingSession) Close() {
	if s.state == streamingClosed {
		return
	}
	s.state = streamingClosed
	s.reqBuf = nil
	if err := s.conn.Stop(); err != nil {
		s.log.Debugw("connection stop failed", "error", err)
	}
}

// ClientID returns the identity this session claims.
func (s *StreamingSession) ClientID() domain.ClientID {
	return s.clientID
}

// SampleRate returns the rate this session was opened for.
func (s *StreamingSession) SampleRate() int {
	return s.sampleRate
}

// IsStreaming reports whether the response header has been sent.
func (s *StreamingSession) IsStreaming() bool {
	return s.state == streamingActive
}

// SamplesEncoded exposes the encoder progress counter.
func (s *StreamingSession) SamplesEncoded() uint64 {
	return s.encoder.SamplesEncoded()
}

// ParseClientID extracts the client identity from a raw HTTP request
// buffer. Returns "" when the request is malformed or the identity
// parameter is missing.
func ParseClientID(buf []byte) domain.ClientID {
	line, _, found := bytes.Cut(buf, []byte("\r\n"))
	if !found {
		line = buf
	}

	fields := strings.Fields(string(line))
	if len(fields) < 2 || fields[0] != "GET" {
		return ""
	}

	target, err := url.ParseRequestURI(fields[1])
	if err != nil {
		return ""
	}
	return domain.ClientID(target.Query().Get("player"))
}
