package encoders

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emitRecorder struct {
	writes [][]byte
	fail   bool
}

func (r *emitRecorder) emit(p []byte) error {
	if r.fail {
		return errors.New("sink broken")
	}
	r.writes = append(r.writes, append([]byte(nil), p...))
	return nil
}

func TestNewPCM_RejectsBadParameters(t *testing.T) {
	rec := &emitRecorder{}
	tests := []struct {
		name     string
		channels int
		storage  int
		value    int
		rate     int
	}{
		{"zero channels", 0, 32, 32, 44100},
		{"odd sample width", 2, 20, 20, 44100},
		{"value wider than storage", 2, 16, 24, 44100},
		{"zero rate", 2, 32, 32, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPCM(tt.channels, tt.storage, tt.value, tt.rate, rec.emit)
			assert.Error(t, err)
		})
	}

	_, err := NewPCM(2, 32, 32, 44100, nil)
	assert.Error(t, err, "emit callback is mandatory")
}

func TestPCMEncoder_HeaderThenPassthrough(t *testing.T) {
	rec := &emitRecorder{}
	enc, err := NewPCM(2, 32, 24, 48000, rec.emit)
	require.NoError(t, err)

	pcm := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	require.NoError(t, enc.Encode(pcm))
	require.NoError(t, enc.Encode(pcm))

	// header + two data writes
	require.Len(t, rec.writes, 3)

	header := rec.writes[0]
	require.Len(t, header, 44)
	assert.Equal(t, "RIFF", string(header[0:4]))
	assert.Equal(t, "WAVE", string(header[8:12]))
	assert.Equal(t, "fmt ", string(header[12:16]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(header[20:22]), "PCM format tag")
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(header[22:24]))
	assert.Equal(t, uint32(48000), binary.LittleEndian.Uint32(header[24:28]))
	assert.Equal(t, uint32(48000*8), binary.LittleEndian.Uint32(header[28:32]), "byte rate")
	assert.Equal(t, uint16(8), binary.LittleEndian.Uint16(header[32:34]), "block align")
	assert.Equal(t, uint16(32), binary.LittleEndian.Uint16(header[34:36]))
	assert.Equal(t, "data", string(header[36:40]))
	assert.Equal(t, uint32(0xFFFFFFFF), binary.LittleEndian.Uint32(header[40:44]), "streaming length")

	assert.Equal(t, pcm, rec.writes[1])
	assert.Equal(t, pcm, rec.writes[2])
}

func TestPCMEncoder_CountsSamples(t *testing.T) {
	rec := &emitRecorder{}
	enc, err := NewPCM(2, 32, 32, 44100, rec.emit)
	require.NoError(t, err)

	assert.Zero(t, enc.SamplesEncoded())

	// 32 bytes at 8 bytes per frame
	require.NoError(t, enc.Encode(make([]byte, 32)))
	assert.Equal(t, uint64(4), enc.SamplesEncoded())

	require.NoError(t, enc.Encode(nil))
	assert.Equal(t, uint64(4), enc.SamplesEncoded(), "empty input consumes nothing")
}

func TestPCMEncoder_EmitErrorPropagates(t *testing.T) {
	rec := &emitRecorder{fail: true}
	enc, err := NewPCM(2, 32, 32, 44100, rec.emit)
	require.NoError(t, err)

	assert.Error(t, enc.Encode([]byte{1, 2, 3, 4}))
}

func TestPCMEncoder_Parameters(t *testing.T) {
	rec := &emitRecorder{}
	enc, err := NewPCM(2, 32, 24, 96000, rec.emit)
	require.NoError(t, err)

	assert.Equal(t, 2, enc.Channels())
	assert.Equal(t, 32, enc.BitsPerSample())
	assert.Equal(t, 24, enc.BitsPerValue())
	assert.Equal(t, 96000, enc.SampleRate())
	assert.Equal(t, "wav", enc.Extension())
	assert.Equal(t, "audio/x-wave", enc.MIME())
}
