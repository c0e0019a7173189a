package services

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"slimcast/internal/core/domain"
	"slimcast/internal/core/ports"
	"slimcast/internal/infrastructure/slimproto"
)

// fakeConn is an in-memory ports.Connection recording everything written to
// it.
type fakeConn struct {
	id     domain.ConnID
	mu     sync.Mutex
	writes bytes.Buffer
	closed bool
	onStop func()
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: domain.ConnID(id)}
}

func (c *fakeConn) ID() domain.ConnID  { return c.id }
func (c *fakeConn) RemoteAddr() string { return "192.0.2.10:52000" }

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, domain.ErrConnectionClosed
	}
	return c.writes.Write(p)
}

func (c *fakeConn) Stop() error {
	c.mu.Lock()
	wasClosed := c.closed
	c.closed = true
	c.mu.Unlock()
	if !wasClosed && c.onStop != nil {
		c.onStop()
	}
	return nil
}

func (c *fakeConn) stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.writes.Bytes()...)
}

// serverFrames decodes every complete server-to-client frame written so far.
func (c *fakeConn) serverFrames() []slimproto.Frame {
	buf := c.written()
	var frames []slimproto.Frame
	for {
		frame, rest, err := slimproto.DecodeServerFrame(buf)
		if err != nil {
			return frames
		}
		frames = append(frames, frame)
		buf = rest
	}
}

// fakeEncoder is a passthrough ports.Encoder that can be told to fail.
type fakeEncoder struct {
	emit       ports.EmitFunc
	channels   int
	storage    int
	value      int
	sampleRate int
	samples    uint64
	failAfter  int // encode calls before failing; <0 never fails
	calls      int
}

func (e *fakeEncoder) Encode(p []byte) error {
	e.calls++
	if e.failAfter >= 0 && e.calls > e.failAfter {
		return errors.New("encoder exploded")
	}
	frame := e.channels * e.storage / 8
	if frame > 0 {
		e.samples += uint64(len(p) / frame)
	}
	return e.emit(p)
}

func (e *fakeEncoder) SamplesEncoded() uint64 { return e.samples }
func (e *fakeEncoder) Channels() int          { return e.channels }
func (e *fakeEncoder) BitsPerSample() int     { return e.storage }
func (e *fakeEncoder) BitsPerValue() int      { return e.value }
func (e *fakeEncoder) SampleRate() int        { return e.sampleRate }
func (e *fakeEncoder) Extension() string      { return "raw" }
func (e *fakeEncoder) MIME() string           { return "audio/x-test" }

func passthroughFactory(channels, bitsPerSample, bitsPerValue, sampleRate int, emit ports.EmitFunc) (ports.Encoder, error) {
	return &fakeEncoder{
		emit:       emit,
		channels:   channels,
		storage:    bitsPerSample,
		value:      bitsPerValue,
		sampleRate: sampleRate,
		failAfter:  -1,
	}, nil
}

func failingFactory(failAfter int) ports.EncoderFactory {
	return func(channels, bitsPerSample, bitsPerValue, sampleRate int, emit ports.EmitFunc) (ports.Encoder, error) {
		return &fakeEncoder{
			emit:       emit,
			channels:   channels,
			storage:    bitsPerSample,
			value:      bitsPerValue,
			sampleRate: sampleRate,
			failAfter:  failAfter,
		}, nil
	}
}

// fakeProducer is a scripted ports.Producer.
type fakeProducer struct {
	mu            sync.Mutex
	runningSweeps int // IsRunning() answers true this many times, then false
	available     bool
	sampleRate    int
	produceCalls  int
	pauses        []time.Duration
	chunk         domain.Chunk
}

func newFakeProducer(runningSweeps int, sampleRate int) *fakeProducer {
	p := &fakeProducer{
		runningSweeps: runningSweeps,
		available:     true,
		sampleRate:    sampleRate,
	}
	p.chunk.Reset(64)
	p.chunk.SetSize(64)
	return p
}

func (p *fakeProducer) Start() {}
func (p *fakeProducer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runningSweeps = 0
}

func (p *fakeProducer) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.runningSweeps <= 0 {
		return false
	}
	p.runningSweeps--
	return true
}

func (p *fakeProducer) IsAvailable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}

func (p *fakeProducer) Produce(consumer ports.Consumer) bool {
	p.mu.Lock()
	p.produceCalls++
	rate := p.sampleRate
	p.mu.Unlock()
	return consumer.OnChunk(&p.chunk, rate)
}

func (p *fakeProducer) Pause(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pauses = append(p.pauses, d)
}

func (p *fakeProducer) producedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.produceCalls
}

func (p *fakeProducer) pauseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pauses)
}

// fakeContainer aggregates fake producers.
type fakeContainer struct {
	mu       sync.Mutex
	children []ports.Producer
	started  bool
	stopped  bool
}

func (c *fakeContainer) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
	for _, p := range c.children {
		p.Start()
	}
}

func (c *fakeContainer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	for _, p := range c.children {
		p.Stop()
	}
}

func (c *fakeContainer) Producers() []ports.Producer { return c.children }

// fakeConsumer counts chunks and answers with a scripted verdict.
type fakeConsumer struct {
	mu      sync.Mutex
	accept  bool
	chunks  int
	started bool
	stopped bool
}

func (c *fakeConsumer) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
}

func (c *fakeConsumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
}

func (c *fakeConsumer) OnChunk(chunk *domain.Chunk, sampleRate int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks++
	return c.accept
}

func (c *fakeConsumer) chunkCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chunks
}

func heloFrame(mac byte, caps ...string) []byte {
	return slimproto.EncodeFrame(slimproto.OpHello, slimproto.EncodeHello(slimproto.Hello{
		DeviceID:     4,
		Revision:     1,
		MAC:          []byte{0xaa, 0xbb, 0xcc, 0x00, 0x11, mac},
		Capabilities: caps,
	}))
}

func getRequest(url string) []byte {
	return []byte("GET " + url + " HTTP/1.0\r\nHost: server\r\n\r\n")
}
