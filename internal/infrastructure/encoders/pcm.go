// Package encoders provides the built-in audio encoders.
package encoders

import (
	"encoding/binary"
	"fmt"

	"slimcast/internal/core/ports"
)

// waveHeaderSize is the canonical RIFF/WAVE header length.
const waveHeaderSize = 44

// streamingSize marks RIFF chunk lengths as unbounded; players treat it as
// "read until the connection closes".
const streamingSize = 0xFFFFFFFF

// PCMEncoder passes PCM samples through unchanged, prefixed with a WAVE
// header announcing the stream format. Not safe for concurrent use; one
// encoder belongs to one session.
type PCMEncoder struct {
	channels      int
	bitsPerSample int
	bitsPerValue  int
	sampleRate    int
	emit          ports.EmitFunc

	headerSent bool
	samples    uint64
}

// NewPCM builds a passthrough encoder for the given stream parameters.
func NewPCM(channels, bitsPerSample, bitsPerValue, sampleRate int, emit ports.EmitFunc) (*PCMEncoder, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("pcm encoder: channels must be > 0, got %d", channels)
	}
	if bitsPerSample <= 0 || bitsPerSample%8 != 0 {
		return nil, fmt.Errorf("pcm encoder: bits per sample must be a positive multiple of 8, got %d", bitsPerSample)
	}
	if bitsPerValue <= 0 || bitsPerValue > bitsPerSample {
		return nil, fmt.Errorf("pcm encoder: bits per value must be in (0, %d], got %d", bitsPerSample, bitsPerValue)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("pcm encoder: sample rate must be > 0, got %d", sampleRate)
	}
	if emit == nil {
		return nil, fmt.Errorf("pcm encoder: emit callback is required")
	}
	return &PCMEncoder{
		channels:      channels,
		bitsPerSample: bitsPerSample,
		bitsPerValue:  bitsPerValue,
		sampleRate:    sampleRate,
		emit:          emit,
	}, nil
}

// Factory adapts NewPCM to the encoder factory contract.
func Factory() ports.EncoderFactory {
	return func(channels, bitsPerSample, bitsPerValue, sampleRate int, emit ports.EmitFunc) (ports.Encoder, error) {
		return NewPCM(channels, bitsPerSample, bitsPerValue, sampleRate, emit)
	}
}

// Encode emits the WAVE header on first use, then the PCM bytes unchanged.
func (e *PCMEncoder) Encode(p []byte) error {
	if !e.headerSent {
		if err := e.emit(e.waveHeader()); err != nil {
			return fmt.Errorf("wave header write failed: %w", err)
		}
		e.headerSent = true
	}

	if len(p) == 0 {
		return nil
	}
	e.samples += uint64(len(p) / e.frameSize())
	if err := e.emit(p); err != nil {
		return fmt.Errorf("pcm write failed: %w", err)
	}
	return nil
}

// SamplesEncoded returns the number of input frames consumed so far.
func (e *PCMEncoder) SamplesEncoded() uint64 { return e.samples }

func (e *PCMEncoder) Channels() int      { return e.channels }
func (e *PCMEncoder) BitsPerSample() int { return e.bitsPerSample }
func (e *PCMEncoder) BitsPerValue() int  { return e.bitsPerValue }
func (e *PCMEncoder) SampleRate() int    { return e.sampleRate }
func (e *PCMEncoder) Extension() string  { return "wav" }
func (e *PCMEncoder) MIME() string       { return "audio/x-wave" }

func (e *PCMEncoder) frameSize() int {
	return e.channels * e.bitsPerSample / 8
}

// waveHeader builds a RIFF/WAVE header with unbounded chunk sizes, the
// convention for live streams that have no known length.
func (e *PCMEncoder) waveHeader() []byte {
	header := make([]byte, waveHeaderSize)

	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], streamingSize)
	copy(header[8:12], "WAVE")

	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16) // PCM format block size
	binary.LittleEndian.PutUint16(header[20:22], 1)  // PCM, uncompressed
	binary.LittleEndian.PutUint16(header[22:24], uint16(e.channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(e.sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(e.sampleRate*e.frameSize()))
	binary.LittleEndian.PutUint16(header[32:34], uint16(e.frameSize()))
	binary.LittleEndian.PutUint16(header[34:36], uint16(e.bitsPerSample))

	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], streamingSize)

	return header
}
