package ports

import (
	"time"

	"slimcast/internal/core/domain"
)

// EmitFunc receives encoded bytes synchronously from within Encode. The
// receiver must not retain the slice beyond the call.
type EmitFunc func(p []byte) error

// Encoder transforms raw PCM bytes into a wire-format stream, delivering
// output through the EmitFunc it was constructed with. A non-nil error from
// Encode is fatal for the owning session; no further calls are made.
type Encoder interface {
	Encode(p []byte) error
	SamplesEncoded() uint64

	Channels() int
	BitsPerSample() int
	BitsPerValue() int
	SampleRate() int
	Extension() string
	MIME() string
}

// EncoderFactory builds an encoder bound to the given stream parameters and
// emit callback.
type EncoderFactory func(channels, bitsPerSample, bitsPerValue, sampleRate int, emit EmitFunc) (Encoder, error)

// Consumer is the sink side of the pump: OnChunk returns true when the chunk
// has been dispatched (or intentionally dropped) and the producer may
// advance, false to request redelivery of the same chunk after a pause.
type Consumer interface {
	Start()
	Stop()
	OnChunk(chunk *domain.Chunk, sampleRate int) bool
}

// Producer is a polled source of chunks. Produce delivers at most one chunk
// to the consumer and reports whether delivery was accepted.
type Producer interface {
	Start()
	Stop()
	IsRunning() bool
	IsAvailable() bool
	Produce(consumer Consumer) bool
	Pause(d time.Duration)
}

// ProducerContainer aggregates sub-producers in a stable order for the pump
// to iterate over.
type ProducerContainer interface {
	Start()
	Stop()
	Producers() []Producer
}
