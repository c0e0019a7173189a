package services

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"slimcast/internal/core/domain"
	"slimcast/internal/core/ports"
	"slimcast/internal/infrastructure/slimproto"
	apperrors "slimcast/pkg/errors"
)

type commandState int

const (
	commandInit commandState = iota
	commandReady
	commandClosed
)

// CommandSession is the per-client actor on the SlimProto control
// connection. It frames the raw byte stream into messages, completes the
// HELO handshake, and carries the stream commands and latency probes for
// its client.
//
// All methods must be called from the processor; the session has no
// internal locking.
type CommandSession struct {
	conn ports.Connection
	log  *zap.SugaredLogger

	state commandState
	buf   []byte

	hello       slimproto.Hello
	clientID    domain.ClientID
	connectedAt time.Time

	lastPingAt time.Time
	latency    time.Duration

	// pending holds outbound frames queued before the handshake completed.
	pending [][]byte

	// onReady fires once when the handshake completes.
	onReady func(*CommandSession)
	// onLatency fires for every measured round trip.
	onLatency func(*CommandSession, time.Duration)
}

func NewCommandSession(conn ports.Connection, log *zap.SugaredLogger) *CommandSession {
	return &CommandSession{
		conn:        conn,
		log:         log.With("conn_id", conn.ID()),
		state:       commandInit,
		connectedAt: time.Now(),
	}
}

// OnReady registers the handshake-completion hook.
func (s *CommandSession) OnReady(fn func(*CommandSession)) {
	s.onReady = fn
}

// OnLatency registers the round-trip measurement hook.
func (s *CommandSession) OnLatency(fn func(*CommandSession, time.Duration)) {
	s.onLatency = fn
}

// OnRequest feeds raw bytes received on the control connection. Byte runs
// are re-framed into messages; any framing error tears the connection down.
func (s *CommandSession) OnRequest(data []byte) {
	if s.state == commandClosed {
		return
	}

	s.buf = append(s.buf, data...)
	for {
		frame, rest, err := slimproto.DecodeFrame(s.buf)
		if errors.Is(err, slimproto.ErrShortFrame) {
			return
		}
		if err != nil {
			s.fail(apperrors.WrapProtocolError(err, "control framing error"))
			return
		}
		s.handleFrame(frame)
		if len(rest) == 0 {
			s.buf = nil
		} else {
			s.buf = append([]byte(nil), rest...)
		}
		if s.state == commandClosed {
			return
		}
	}
}

func (s *CommandSession) handleFrame(frame slimproto.Frame) {
	if s.state == commandInit && frame.Op != slimproto.OpHello {
		s.fail(apperrors.NewProtocolError("message before handshake: " + frame.Op))
		return
	}

	switch frame.Op {
	case slimproto.OpHello:
		s.handleHello(frame.Payload)
	case slimproto.OpPong:
		s.handlePong(frame.Payload)
	case slimproto.OpBye:
		s.log.Infow("client said goodbye", "client_id", s.clientID)
		s.Close()
	default:
		s.log.Debugw("ignoring control message", "op", frame.Op)
	}
}

func (s *CommandSession) handleHello(payload []byte) {
	if s.state != commandInit {
		s.log.Debugw("duplicate HELO ignored", "client_id", s.clientID)
		return
	}

	hello, err := slimproto.ParseHello(payload)
	if err != nil {
		s.fail(apperrors.WrapProtocolError(err, "malformed HELO"))
		return
	}

	s.hello = hello
	s.clientID = slimproto.ClientIDFromMAC(hello.MAC)
	s.state = commandReady
	s.log = s.log.With("client_id", s.clientID)
	s.log.Infow("handshake completed",
		"device_id", hello.DeviceID,
		"revision", hello.Revision,
		"capabilities", hello.Capabilities,
	)

	s.flushPending()
	if s.onReady != nil {
		s.onReady(s)
	}
}

func (s *CommandSession) handlePong(payload []byte) {
	sent, err := slimproto.ParsePong(payload)
	if err != nil {
		s.fail(apperrors.WrapProtocolError(err, "malformed PONG"))
		return
	}

	rtt := time.Duration(time.Now().UnixNano() - int64(sent))
	if rtt < 0 {
		s.log.Debugw("discarding pong with future timestamp")
		return
	}
	s.latency = rtt
	if s.onLatency != nil {
		s.onLatency(s, rtt)
	}
}

func (s *CommandSession) flushPending() {
	for _, frame := range s.pending {
		if _, err := s.conn.Write(frame); err != nil {
			s.log.Warnw("flush of queued command failed", "error", err)
			s.Close()
			return
		}
	}
	s.pending = nil
}

// send writes a frame, queueing it while the handshake is outstanding.
// Returns ErrSessionClosed once the session is torn down.
func (s *CommandSession) send(frame []byte) error {
	switch s.state {
	case commandClosed:
		return domain.ErrSessionClosed
	case commandInit:
		s.pending = append(s.pending, frame)
		return nil
	default:
		if _, err := s.conn.Write(frame); err != nil {
			s.log.Warnw("command write failed, closing session", "error", err)
			s.Close()
			return err
		}
		return nil
	}
}

// SendStream issues a strm command to the client. On Start the client is
// expected to open an HTTP audio connection to the given URL.
func (s *CommandSession) SendStream(sel slimproto.Selection, sampleRate int, bitsPerSample uint8, streamURL string) error {
	return s.send(slimproto.EncodeStream(slimproto.StreamCommand{
		Selection:  sel,
		Format:     slimproto.FormatPCM,
		SampleSize: bitsPerSample,
		SampleRate: sampleRate,
		URL:        streamURL,
	}))
}

// Ping sends a timestamped probe; the echoed PONG yields the round-trip
// latency.
func (s *CommandSession) Ping() error {
	s.lastPingAt = time.Now()
	return s.send(slimproto.EncodePing(uint64(s.lastPingAt.UnixNano())))
}

// fail records a terminal protocol failure and tears the session down.
func (s *CommandSession) fail(err *apperrors.AppError) {
	s.log.Warnw("closing control session", "error", err)
	s.Close()
}

// Close tears the session down and asks the network layer to drop the
// connection. Idempotent.
func (s *CommandSession) Close() {
	if s.state == commandClosed {
		return
	}
	s.state = commandClosed
	s.pending = nil
	if err := s.conn.Stop(); err != nil {
		s.log.Debugw("connection stop failed", "error", err)
	}
}

// ClientID returns the identity parsed from the handshake; empty until the
// session is ready.
func (s *CommandSession) ClientID() domain.ClientID {
	return s.clientID
}

// Hello returns the parsed handshake.
func (s *CommandSession) Hello() slimproto.Hello {
	return s.hello
}

// ConnectedAt returns when the control connection was first seen.
func (s *CommandSession) ConnectedAt() time.Time {
	return s.connectedAt
}

// Latency returns the last measured round trip, zero before the first pong.
func (s *CommandSession) Latency() time.Duration {
	return s.latency
}

// IsReady reports whether the handshake has completed.
func (s *CommandSession) IsReady() bool {
	return s.state == commandReady
}
