// ABOUTME: PCM sample plumbing shared by both ends of the pipeline
// ABOUTME: Pure float32 little-endian transforms, no I/O
package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// Stream format constants. The whole pipeline runs mono float32 at a
// fixed rate; frames are opaque byte buffers of these samples.
const (
	SampleRate   = 44100
	Channels     = 1
	BytesPerSamp = 4

	// FrameSamples is the reference capture block size (~92.9ms).
	FrameSamples = 4096
)

// Format describes a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultFormat returns the fixed pipeline format.
func DefaultFormat() Format {
	return Format{SampleRate: SampleRate, Channels: Channels}
}

// EncodeSamples packs float32 samples as little-endian bytes.
func EncodeSamples(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSamp)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*BytesPerSamp:], math.Float32bits(s))
	}
	return out
}

// DecodeSamples unpacks little-endian float32 bytes. This is the
// decode step of the receiving pipeline; it never blocks.
func DecodeSamples(data []byte) ([]float32, error) {
	if len(data)%BytesPerSamp != 0 {
		return nil, ErrBadFrame
	}
	samples := make([]float32, len(data)/BytesPerSamp)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*BytesPerSamp:]))
	}
	return samples, nil
}

// Duration converts a sample count to wall time at the given rate.
func Duration(sampleCount, sampleRate int) time.Duration {
	return time.Duration(int64(sampleCount) * int64(time.Second) / int64(sampleRate))
}
