// ABOUTME: Audio output sink using the oto library
// ABOUTME: Deferred-start PCM playback with software volume control
package player

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog"

	"github.com/priyaanshu26/muzicynk/internal/audio"
)

// Output plays float32 PCM buffers on the system audio device at
// scheduled times. Each buffer becomes its own short-lived oto player
// armed by a timer, so PlayAt never blocks.
type Output struct {
	logger zerolog.Logger

	mu     sync.Mutex
	otoCtx *oto.Context
	format audio.Format
	volume int
	muted  bool
	ready  bool
}

// NewOutput creates an uninitialized output.
func NewOutput(logger *zerolog.Logger) *Output {
	return &Output{
		logger: logger.With().Str("component", "output").Logger(),
		volume: 100,
	}
}

// Initialize opens the playback device. This may block while the
// device comes up.
func (o *Output) Initialize(format audio.Format) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.ready {
		return nil
	}

	op := &oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return fmt.Errorf("failed to create oto context: %w", err)
	}
	<-readyChan

	o.otoCtx = ctx
	o.format = format
	o.ready = true
	o.logger.Info().
		Int("rate", format.SampleRate).
		Int("channels", format.Channels).
		Msg("audio output initialized")
	return nil
}

// PlayAt schedules a buffer to start at the given time. Buffers handed
// over are never recalled; Close lets armed ones fail quietly instead.
func (o *Output) PlayAt(samples []float32, at time.Time) {
	o.mu.Lock()
	if !o.ready {
		o.mu.Unlock()
		return
	}
	data := encodeInt16(samples, o.volume, o.muted)
	ctx := o.otoCtx
	o.mu.Unlock()

	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	time.AfterFunc(delay, func() {
		o.mu.Lock()
		ready := o.ready
		o.mu.Unlock()
		if !ready {
			return
		}
		p := ctx.NewPlayer(bytes.NewReader(data))
		p.Play()
	})
}

// SetVolume sets playback volume (0-100).
func (o *Output) SetVolume(volume int) {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}
	o.mu.Lock()
	o.volume = volume
	o.mu.Unlock()
}

// SetMuted sets the mute state.
func (o *Output) SetMuted(muted bool) {
	o.mu.Lock()
	o.muted = muted
	o.mu.Unlock()
}

// Close releases the playback device. Idempotent and safe to call
// before Initialize.
func (o *Output) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.otoCtx != nil && o.ready {
		o.otoCtx.Suspend()
	}
	o.ready = false
}

// encodeInt16 converts float32 samples to 16-bit little-endian PCM
// with volume applied.
func encodeInt16(samples []float32, volume int, muted bool) []byte {
	multiplier := float64(volume) / 100.0
	if muted {
		multiplier = 0
	}

	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := float64(s) * multiplier
		if v > 1.0 {
			v = 1.0
		} else if v < -1.0 {
			v = -1.0
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v*32767.0)))
	}
	return out
}
