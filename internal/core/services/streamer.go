package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"slimcast/internal/core/domain"
	"slimcast/internal/core/ports"
	"slimcast/internal/infrastructure/slimproto"
	apperrors "slimcast/pkg/errors"
	"slimcast/pkg/retry"
	"slimcast/pkg/tracing"
)

// StreamerConfig carries the stream parameters and timing tunables of the
// dispatcher.
type StreamerConfig struct {
	Channels      int
	BitsPerSample int
	StreamPath    string

	// PingTick is the timer resolution; every PingEveryTick-th tick all
	// control sessions are pinged.
	PingTick      time.Duration
	PingEveryTick int

	// DeferSleep is slept inside OnChunk while audio sessions reconnect;
	// DeferWindow caps the total time one chunk may be deferred.
	DeferSleep  time.Duration
	DeferWindow time.Duration
}

// DefaultStreamerConfig returns the production defaults.
func DefaultStreamerConfig() StreamerConfig {
	return StreamerConfig{
		Channels:      2,
		BitsPerSample: 32,
		StreamPath:    "/stream",
		PingTick:      200 * time.Millisecond,
		PingEveryTick: 25,
		DeferSleep:    20 * time.Millisecond,
		DeferWindow:   100 * time.Millisecond,
	}
}

// Streamer is the protocol-aware dispatcher at the center of the server. It
// correlates the SlimProto control connections with the HTTP audio
// connections of the same clients, fans PCM chunks out to every compatible
// audio session, forces clients to reconnect when the upstream sampling
// rate changes, and probes round-trip latency.
//
// Session maps and rate state are owned by the processor worker: network
// callbacks submit tasks, the pump invokes OnChunk from a processor task,
// and the ping timer submits its sweep. Nothing mutates directly from
// another goroutine.
type Streamer struct {
	cfg  StreamerConfig
	proc *Processor
	log  *zap.SugaredLogger

	encoders ports.EncoderFactory
	players  ports.PlayerRepository
	metrics  ports.MetricsCollector
	retryCfg retry.Config

	commandSessions   map[domain.ConnID]*CommandSession
	streamingSessions map[domain.ConnID]*StreamingSession

	// sampleRate is the committed rate; zero while renegotiating.
	sampleRate int
	// deferStarted marks the start of the current deferred-delivery window;
	// zero when the previous chunk went out.
	deferStarted time.Time

	timerRunning atomic.Bool
	timerWG      sync.WaitGroup
}

// StreamerOption configures optional collaborators.
type StreamerOption func(*Streamer)

// WithPlayerRepository records handshaken players and their measured
// latency in the given registry.
func WithPlayerRepository(repo ports.PlayerRepository) StreamerOption {
	return func(s *Streamer) { s.players = repo }
}

// WithMetrics publishes dispatcher counters through the given collector.
func WithMetrics(collector ports.MetricsCollector) StreamerOption {
	return func(s *Streamer) { s.metrics = collector }
}

func NewStreamer(
	cfg StreamerConfig,
	proc *Processor,
	encoders ports.EncoderFactory,
	log *zap.SugaredLogger,
	opts ...StreamerOption,
) *Streamer {
	s := &Streamer{
		cfg:               cfg,
		proc:              proc,
		log:               log,
		encoders:          encoders,
		retryCfg:          retry.DefaultConfig(),
		commandSessions:   make(map[domain.ConnID]*CommandSession),
		streamingSessions: make(map[domain.ConnID]*StreamingSession),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the ping timer.
func (s *Streamer) Start() {
	if !s.timerRunning.CompareAndSwap(false, true) {
		return
	}
	s.timerWG.Add(1)
	go s.pingLoop()
}

// Stop shuts the ping timer down and waits for it.
func (s *Streamer) Stop() {
	if s.timerRunning.CompareAndSwap(true, false) {
		s.timerWG.Wait()
	}
}

func (s *Streamer) pingLoop() {
	defer s.timerWG.Done()
	s.log.Debugw("ping timer started")

	ticker := time.NewTicker(s.cfg.PingTick)
	defer ticker.Stop()

	for counter := 0; s.timerRunning.Load(); {
		<-ticker.C
		if counter++; counter < s.cfg.PingEveryTick {
			continue
		}
		counter = 0
		s.proc.Submit(func() {
			for _, session := range s.commandSessions {
				if err := session.Ping(); err != nil {
					s.log.Debugw("ping not delivered",
						"client_id", session.ClientID(), "error", err)
				}
			}
		})
	}

	s.log.Debugw("ping timer stopped")
}

// OnSlimProtoOpen is an inform-only hook.
func (s *Streamer) OnSlimProtoOpen(conn ports.Connection) {
	s.log.Debugw("control connection opened", "conn_id", conn.ID(), "remote", conn.RemoteAddr())
}

// OnSlimProtoData routes control bytes to the session for conn, creating
// one on a valid handshake prefix. Any other traffic on an unknown
// connection closes it.
func (s *Streamer) OnSlimProtoData(conn ports.Connection, data []byte) {
	buf := append([]byte(nil), data...)
	s.proc.Submit(func() { s.slimProtoData(conn, buf) })
}

func (s *Streamer) slimProtoData(conn ports.Connection, buf []byte) {
	if session, ok := s.commandSessions[conn.ID()]; ok {
		session.OnRequest(buf)
		return
	}

	if !bytes.HasPrefix(buf, []byte(slimproto.OpHello)) {
		s.log.Infow("closing control connection",
			"conn_id", conn.ID(), "remote", conn.RemoteAddr(),
			"error", apperrors.NewProtocolError("incorrect handshake message received"))
		conn.Stop()
		return
	}

	session := NewCommandSession(conn, s.log)
	session.OnReady(s.commandSessionReady)
	session.OnLatency(s.latencyMeasured)
	session.OnRequest(buf)
	s.addCommandSession(conn, session)
	if s.metrics != nil {
		s.metrics.CommandSessionOpened()
	}
}

// OnSlimProtoClose removes the control session. Audio sessions of the same
// client survive until their own connection closes.
func (s *Streamer) OnSlimProtoClose(conn ports.Connection) {
	s.proc.Submit(func() {
		session, ok := s.commandSessions[conn.ID()]
		if !ok {
			return
		}
		delete(s.commandSessions, conn.ID())
		s.log.Debugw("control session removed",
			"conn_id", conn.ID(), "sessions", len(s.commandSessions))
		if s.metrics != nil {
			s.metrics.CommandSessionClosed()
		}

		// The registry tracks connected players; evict the record with the
		// session. Sessions that never completed a handshake have no record.
		if s.players == nil || session.ClientID() == "" {
			return
		}
		clientID := session.ClientID()
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			ctx, span := tracing.TraceRepositoryOperation(ctx, "remove")
			defer span.End()
			err := retry.Do(ctx, s.retryCfg, func() error {
				return s.players.Remove(ctx, clientID)
			})
			if err != nil && !errors.Is(err, domain.ErrPlayerNotFound) {
				tracing.RecordError(ctx, err)
				s.log.Warnw("player registry eviction failed", "client_id", clientID, "error", err)
			}
		}()
	})
}

func (s *Streamer) commandSessionReady(session *CommandSession) {
	// A client that arrives mid-stream is told to connect right away.
	if s.sampleRate != 0 {
		if err := session.SendStream(slimproto.SelectionStart, s.sampleRate,
			uint8(s.cfg.BitsPerSample), s.streamURL(session.ClientID())); err != nil {
			s.log.Debugw("stream command not delivered",
				"client_id", session.ClientID(), "error", err)
		}
	}

	if s.players == nil {
		return
	}
	hello := session.Hello()
	player := &domain.Player{
		ID:           session.ClientID(),
		MAC:          hello.MAC.String(),
		DeviceID:     hello.DeviceID,
		Revision:     hello.Revision,
		Capabilities: hello.Capabilities,
		ConnectedAt:  session.ConnectedAt(),
		LastSeen:     time.Now(),
	}
	// Registry writes may hit the network; keep them off the processor.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ctx, span := tracing.TraceRepositoryOperation(ctx, "save")
		defer span.End()
		if err := retry.Do(ctx, s.retryCfg, func() error {
			return s.players.Save(ctx, player)
		}); err != nil {
			tracing.RecordError(ctx, err)
			s.log.Warnw("player registry save failed", "client_id", player.ID, "error", err)
		}
	}()
}

func (s *Streamer) latencyMeasured(session *CommandSession, rtt time.Duration) {
	s.log.Debugw("round trip measured", "client_id", session.ClientID(), "rtt", rtt)
	if s.metrics != nil {
		s.metrics.PingRTT(rtt)
	}
	if s.players == nil {
		return
	}
	clientID := session.ClientID()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ctx, span := tracing.TraceRepositoryOperation(ctx, "update_latency")
		defer span.End()
		if err := retry.Do(ctx, s.retryCfg, func() error {
			return s.players.UpdateLatency(ctx, clientID, rtt)
		}); err != nil {
			tracing.RecordError(ctx, err)
			s.log.Warnw("player latency update failed", "client_id", clientID, "error", err)
		}
	}()
}

// OnHTTPOpen is an inform-only hook.
func (s *Streamer) OnHTTPOpen(conn ports.Connection) {
	s.log.Debugw("audio connection opened", "conn_id", conn.ID(), "remote", conn.RemoteAddr())
}

// OnHTTPData routes audio-connection bytes to the session for conn,
// creating one when a GET can be correlated with a handshaken control
// session. Uncorrelated requests close the connection.
func (s *Streamer) OnHTTPData(conn ports.Connection, data []byte) {
	buf := append([]byte(nil), data...)
	s.proc.Submit(func() { s.httpData(conn, buf) })
}

func (s *Streamer) httpData(conn ports.Connection, buf []byte) {
	if session, ok := s.streamingSessions[conn.ID()]; ok {
		session.OnRequest(buf)
		return
	}

	if !bytes.HasPrefix(buf, []byte("GET")) {
		s.log.Infow("closing audio connection",
			"conn_id", conn.ID(), "remote", conn.RemoteAddr(),
			"error", apperrors.NewProtocolError("audio connection opened without GET"))
		conn.Stop()
		return
	}

	clientID := ParseClientID(buf)
	var command *CommandSession
	if clientID != "" {
		s.log.Debugw("client identity parsed from audio request", "client_id", clientID)
		for _, candidate := range s.commandSessions {
			if candidate.ClientID() == clientID {
				command = candidate
				break
			}
		}
	}

	if command == nil {
		s.log.Errorw("closing audio connection", "conn_id", conn.ID(),
			"error", apperrors.NewCorrelationError("no control session for audio request").
				WithContext("client_id", string(clientID)))
		conn.Stop()
		return
	}

	session, err := NewStreamingSession(conn, s.encoders, clientID,
		s.cfg.Channels, s.sampleRate, s.cfg.BitsPerSample, s.log)
	if err != nil {
		s.log.Errorw("failed to build audio session", "client_id", clientID, "error", err)
		conn.Stop()
		return
	}
	session.OnRequest(buf)
	s.addStreamingSession(conn, session)
	if s.metrics != nil {
		s.metrics.StreamingSessionOpened()
	}
}

// OnHTTPClose removes the audio session.
func (s *Streamer) OnHTTPClose(conn ports.Connection) {
	s.proc.Submit(func() {
		if _, ok := s.streamingSessions[conn.ID()]; !ok {
			return
		}
		delete(s.streamingSessions, conn.ID())
		s.log.Debugw("audio session removed",
			"conn_id", conn.ID(), "sessions", len(s.streamingSessions))
		if s.metrics != nil {
			s.metrics.StreamingSessionClosed()
		}
	})
}

// OnChunk dispatches one PCM chunk to every compatible audio session.
// Returns true when the chunk is done with (dispatched or intentionally
// dropped); false asks the caller to redeliver the same chunk after a
// pause. Must run on the processor.
func (s *Streamer) OnChunk(chunk *domain.Chunk, sampleRate int) bool {
	done := true

	if sampleRate != 0 && s.sampleRate != 0 && s.sampleRate != sampleRate {
		// Rate change: drop the committed rate and force every audio
		// connection to reconnect at the new one.
		s.log.Infow("sampling rate changed", "from", s.sampleRate, "to", sampleRate)
		s.sampleRate = 0
		for _, session := range s.streamingSessions {
			session.Close()
		}
	}

	if sampleRate != 0 && s.sampleRate == 0 {
		// Commit the new rate and tell every client to open its audio
		// connection; this chunk waits until they have.
		done = false
		s.sampleRate = sampleRate
		if s.metrics != nil {
			s.metrics.RateChanged(sampleRate)
		}
		for _, session := range s.commandSessions {
			if err := session.SendStream(slimproto.SelectionStart, s.sampleRate,
				uint8(s.cfg.BitsPerSample), s.streamURL(session.ClientID())); err != nil {
				s.log.Debugw("stream command not delivered",
					"client_id", session.ClientID(), "error", err)
			}
		}
	}

	if sampleRate != 0 && s.sampleRate == sampleRate && done {
		finish := s.hasToFinish()

		if !finish {
			if len(s.streamingSessions) != len(s.commandSessions) {
				s.log.Debugw("deferring chunk, audio sessions still connecting",
					"streaming", len(s.streamingSessions), "command", len(s.commandSessions))
				done = false
				time.Sleep(s.cfg.DeferSleep)
			} else {
				for _, session := range s.streamingSessions {
					if session.SampleRate() != s.sampleRate {
						s.log.Debugw("deferring chunk, audio session reconnecting",
							"client_id", session.ClientID())
						done = false
						time.Sleep(s.cfg.DeferSleep)
						break
					}
				}
			}
		} else {
			s.log.Debugw("defer window exhausted, dispatching to ready sessions")
		}

		if done {
			totalClients := len(s.commandSessions)
			skipped := totalClients

			s.deferStarted = time.Time{}

			for _, session := range s.streamingSessions {
				if session.SampleRate() == s.sampleRate {
					session.OnChunk(chunk, s.sampleRate)
					skipped--
				}
			}

			if s.metrics != nil {
				s.metrics.ChunkDispatched(totalClients-skipped, chunk.Size())
			}
			if skipped > 0 {
				s.log.Warnw("chunk transmission skipped for clients", "count", skipped)
				if s.metrics != nil {
					s.metrics.ClientsSkipped(skipped)
				}
			}
		}
	}

	if !done && s.metrics != nil {
		s.metrics.ChunkDeferred()
	}
	return done
}

// hasToFinish tracks the elapsed time since the first deferral in the
// current streak and reports when waiting has to stop.
func (s *Streamer) hasToFinish() bool {
	if s.deferStarted.IsZero() {
		s.deferStarted = time.Now()
		return false
	}
	return time.Since(s.deferStarted) > s.cfg.DeferWindow
}

func (s *Streamer) streamURL(clientID domain.ClientID) string {
	return fmt.Sprintf("%s?player=%s", s.cfg.StreamPath, clientID)
}

func (s *Streamer) addCommandSession(conn ports.Connection, session *CommandSession) *CommandSession {
	return addSession(s.log, s.commandSessions, conn.ID(), session)
}

func (s *Streamer) addStreamingSession(conn ports.Connection, session *StreamingSession) *StreamingSession {
	return addSession(s.log, s.streamingSessions, conn.ID(), session)
}

// addSession inserts a session keyed by connection identity; inserting for
// a known connection keeps and returns the existing session.
func addSession[S any](log *zap.SugaredLogger, sessions map[domain.ConnID]*S, id domain.ConnID, session *S) *S {
	if existing, ok := sessions[id]; ok {
		log.Infow("session already exists", "conn_id", id)
		return existing
	}
	sessions[id] = session
	log.Debugw("session added", "conn_id", id, "sessions", len(sessions))
	return session
}

// Snapshot returns a point-in-time view of the dispatcher, taken on the
// processor so it is always consistent.
func (s *Streamer) Snapshot() domain.StreamStatus {
	var status domain.StreamStatus
	s.proc.Invoke(func() {
		status = domain.StreamStatus{
			SampleRate:        s.sampleRate,
			CommandSessions:   len(s.commandSessions),
			StreamingSessions: len(s.streamingSessions),
			Timestamp:         time.Now(),
		}
		for _, session := range s.commandSessions {
			if session.IsReady() {
				status.Clients = append(status.Clients, session.ClientID())
			}
		}
	})
	return status
}
