// Package producers provides the built-in chunk producers.
package producers

import (
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"slimcast/internal/core/domain"
	"slimcast/internal/core/ports"
)

// ToneConfig describes the synthetic sine source.
type ToneConfig struct {
	Frequency     float64
	SampleRate    int
	Channels      int
	BitsPerSample int
	ChunkDuration time.Duration
	// Amplitude scales the sine into the sample range; (0, 1].
	Amplitude float64
}

// DefaultToneConfig returns an A4 reference tone in the default stream
// format.
func DefaultToneConfig() ToneConfig {
	return ToneConfig{
		Frequency:     440.0,
		SampleRate:    44100,
		Channels:      2,
		BitsPerSample: 32,
		ChunkDuration: 100 * time.Millisecond,
		Amplitude:     0.25,
	}
}

// ToneProducer generates a continuous sine wave in real time: one chunk of
// PCM becomes available per chunk duration of wall clock. A deferred chunk
// is regenerated identically on the next produce call; the phase only
// advances when the consumer accepts.
type ToneProducer struct {
	cfg ToneConfig
	log *zap.SugaredLogger

	running atomic.Bool

	mu          sync.Mutex
	pausedUntil time.Time
	nextDue     time.Time
	phase       float64
	chunk       domain.Chunk
}

func NewTone(cfg ToneConfig, log *zap.SugaredLogger) *ToneProducer {
	if cfg.Amplitude <= 0 || cfg.Amplitude > 1 {
		cfg.Amplitude = 0.25
	}
	// only 32-bit output is implemented
	cfg.BitsPerSample = 32
	p := &ToneProducer{cfg: cfg, log: log}
	p.chunk.Reset(p.framesPerChunk() * p.frameSize())
	return p
}

func (p *ToneProducer) framesPerChunk() int {
	frames := int(float64(p.cfg.SampleRate) * p.cfg.ChunkDuration.Seconds())
	if frames < 1 {
		frames = 1
	}
	return frames
}

func (p *ToneProducer) frameSize() int {
	return p.cfg.Channels * p.cfg.BitsPerSample / 8
}

// Start arms the producer; the first chunk is due immediately.
func (p *ToneProducer) Start() {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	p.mu.Lock()
	p.nextDue = time.Now()
	p.pausedUntil = time.Time{}
	p.mu.Unlock()
	p.log.Infow("tone producer started",
		"frequency", p.cfg.Frequency, "sample_rate", p.cfg.SampleRate)
}

// Stop disarms the producer.
func (p *ToneProducer) Stop() {
	if p.running.CompareAndSwap(true, false) {
		p.log.Infow("tone producer stopped")
	}
}

// IsRunning reports whether the producer is armed.
func (p *ToneProducer) IsRunning() bool {
	return p.running.Load()
}

// IsAvailable reports whether a chunk of wall clock has elapsed and the
// producer is not paused.
func (p *ToneProducer) IsAvailable() bool {
	if !p.running.Load() {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	return now.After(p.pausedUntil) && !now.Before(p.nextDue)
}

// Pause suspends availability for the given duration.
func (p *ToneProducer) Pause(d time.Duration) {
	p.mu.Lock()
	p.pausedUntil = time.Now().Add(d)
	p.mu.Unlock()
}

// Produce synthesizes one chunk and offers it to the consumer. The pacing
// clock and the wave phase advance only on acceptance, so a deferred chunk
// is redelivered bit-identically.
func (p *ToneProducer) Produce(consumer ports.Consumer) bool {
	if !p.running.Load() {
		return true
	}

	p.mu.Lock()
	p.fillChunk()
	p.mu.Unlock()

	accepted := consumer.OnChunk(&p.chunk, p.cfg.SampleRate)

	if accepted {
		p.mu.Lock()
		p.phase += 2 * math.Pi * p.cfg.Frequency * float64(p.framesPerChunk()) / float64(p.cfg.SampleRate)
		// keep the phase small so precision does not drift over hours
		p.phase = math.Mod(p.phase, 2*math.Pi)
		if p.nextDue.IsZero() {
			p.nextDue = time.Now()
		}
		p.nextDue = p.nextDue.Add(p.cfg.ChunkDuration)
		p.mu.Unlock()
	}
	return accepted
}

// fillChunk renders one chunk of sine starting at the current phase.
// Caller holds mu.
func (p *ToneProducer) fillChunk() {
	frames := p.framesPerChunk()
	buf := p.chunk.Buffer()
	step := 2 * math.Pi * p.cfg.Frequency / float64(p.cfg.SampleRate)
	scale := p.cfg.Amplitude * float64(math.MaxInt32)

	sampleBytes := p.cfg.BitsPerSample / 8
	for i := 0; i < frames; i++ {
		value := int32(scale * math.Sin(p.phase+float64(i)*step))
		for ch := 0; ch < p.cfg.Channels; ch++ {
			offset := (i*p.cfg.Channels + ch) * sampleBytes
			binary.LittleEndian.PutUint32(buf[offset:offset+4], uint32(value))
		}
	}
	p.chunk.SetSize(frames * p.frameSize())
}
