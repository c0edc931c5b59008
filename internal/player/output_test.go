// ABOUTME: Tests for the output sink helpers
// ABOUTME: Covers int16 conversion, volume, and close-before-init safety
package player

import (
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestEncodeInt16FullScale(t *testing.T) {
	data := encodeInt16([]float32{1.0, -1.0, 0}, 100, false)

	if got := int16(binary.LittleEndian.Uint16(data[0:])); got != 32767 {
		t.Errorf("expected 32767 for +1.0, got %d", got)
	}
	if got := int16(binary.LittleEndian.Uint16(data[2:])); got != -32767 {
		t.Errorf("expected -32767 for -1.0, got %d", got)
	}
	if got := int16(binary.LittleEndian.Uint16(data[4:])); got != 0 {
		t.Errorf("expected 0 for silence, got %d", got)
	}
}

func TestEncodeInt16ClampsOutOfRange(t *testing.T) {
	data := encodeInt16([]float32{2.5, -2.5}, 100, false)

	if got := int16(binary.LittleEndian.Uint16(data[0:])); got != 32767 {
		t.Errorf("expected clamp to 32767, got %d", got)
	}
	if got := int16(binary.LittleEndian.Uint16(data[2:])); got != -32767 {
		t.Errorf("expected clamp to -32767, got %d", got)
	}
}

func TestEncodeInt16VolumeAndMute(t *testing.T) {
	half := encodeInt16([]float32{1.0}, 50, false)
	if got := int16(binary.LittleEndian.Uint16(half)); got < 16000 || got > 16500 {
		t.Errorf("expected ~50%% amplitude, got %d", got)
	}

	muted := encodeInt16([]float32{1.0}, 100, true)
	if got := int16(binary.LittleEndian.Uint16(muted)); got != 0 {
		t.Errorf("expected silence when muted, got %d", got)
	}
}

func TestOutputSafeBeforeInitialize(t *testing.T) {
	logger := zerolog.New(io.Discard)
	o := NewOutput(&logger)

	// None of these may panic or block on an uninitialized device.
	o.PlayAt([]float32{0.1, 0.2}, time.Now())
	o.SetVolume(150)
	o.SetMuted(true)
	o.Close()
	o.Close()
}
