// ABOUTME: Tests for the playback scheduler
// ABOUTME: Verifies gapless monotonic scheduling under arrival jitter
package player

import (
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/priyaanshu26/muzicynk/internal/audio"
)

type fakeSink struct {
	starts  []time.Time
	lengths []int
}

func (f *fakeSink) PlayAt(samples []float32, at time.Time) {
	f.starts = append(f.starts, at)
	f.lengths = append(f.lengths, len(samples))
}

func newTestScheduler(sink Sink) (*Scheduler, *time.Time) {
	logger := zerolog.New(io.Discard)
	s := NewScheduler(sink, audio.DefaultFormat(), DefaultLookahead, &logger)

	clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	return s, &clock
}

func frameBytes(samples int) []byte {
	return audio.EncodeSamples(make([]float32, samples))
}

func TestBackToBackFramesDoNotOverlap(t *testing.T) {
	sink := &fakeSink{}
	s, clock := newTestScheduler(sink)

	frameDur := audio.Duration(audio.FrameSamples, audio.SampleRate)

	// Frames arriving with non-negative jitter: sometimes early,
	// sometimes a little late, always in order.
	arrivals := []time.Duration{0, 80 * time.Millisecond, 100 * time.Millisecond, 91 * time.Millisecond, 120 * time.Millisecond}
	for _, step := range arrivals {
		*clock = clock.Add(step)
		if err := s.HandleFrame(frameBytes(audio.FrameSamples)); err != nil {
			t.Fatalf("handle frame: %v", err)
		}
	}

	if len(sink.starts) != len(arrivals) {
		t.Fatalf("expected %d scheduled buffers, got %d", len(arrivals), len(sink.starts))
	}

	for i := 1; i < len(sink.starts); i++ {
		prevEnd := sink.starts[i-1].Add(frameDur)
		if sink.starts[i].Before(prevEnd) {
			t.Errorf("frame %d overlaps: starts %v before previous end %v", i, sink.starts[i], prevEnd)
		}
		// Under bounded jitter the inserted gap never exceeds the margin.
		if gap := sink.starts[i].Sub(prevEnd); gap > DefaultLookahead {
			t.Errorf("frame %d gap %v exceeds lookahead margin", i, gap)
		}
	}
}

func TestNeverSchedulesInThePast(t *testing.T) {
	sink := &fakeSink{}
	s, clock := newTestScheduler(sink)

	// Reference scenario: a ~92.9ms frame followed by one arriving
	// 95ms late relative to the prior frame.
	s.HandleFrame(frameBytes(audio.FrameSamples))
	first := sink.starts[0]

	*clock = clock.Add(audio.Duration(audio.FrameSamples, audio.SampleRate) + 95*time.Millisecond)
	s.HandleFrame(frameBytes(audio.FrameSamples))

	second := sink.starts[1]
	if second.Before(clock.Add(DefaultLookahead)) {
		t.Errorf("late frame scheduled before now+margin: %v", second)
	}
	if second.Before(first.Add(audio.Duration(audio.FrameSamples, audio.SampleRate))) {
		t.Errorf("late frame scheduled before prior frame ended")
	}

	stats := s.Stats()
	if stats.Resets != 1 {
		t.Errorf("expected one schedule reset, got %d", stats.Resets)
	}
}

func TestScheduleTimesNonDecreasing(t *testing.T) {
	sink := &fakeSink{}
	s, clock := newTestScheduler(sink)

	steps := []time.Duration{0, 10 * time.Millisecond, 200 * time.Millisecond, 5 * time.Millisecond, 300 * time.Millisecond, 0}
	for _, step := range steps {
		*clock = clock.Add(step)
		s.HandleFrame(frameBytes(1024))
	}

	for i := 1; i < len(sink.starts); i++ {
		if sink.starts[i].Before(sink.starts[i-1]) {
			t.Errorf("schedule not monotonic at %d: %v < %v", i, sink.starts[i], sink.starts[i-1])
		}
	}
}

func TestFirstFrameHonorsLookahead(t *testing.T) {
	sink := &fakeSink{}
	s, clock := newTestScheduler(sink)

	s.HandleFrame(frameBytes(512))
	if got := sink.starts[0]; !got.Equal(clock.Add(DefaultLookahead)) {
		t.Errorf("expected first start at now+%v, got %v", DefaultLookahead, got)
	}
}

func TestStopPreventsNewSchedules(t *testing.T) {
	sink := &fakeSink{}
	s, _ := newTestScheduler(sink)

	s.HandleFrame(frameBytes(512))
	s.Stop()
	if err := s.HandleFrame(frameBytes(512)); err != nil {
		t.Fatalf("handle after stop must not error: %v", err)
	}

	if len(sink.starts) != 1 {
		t.Errorf("expected no schedules after Stop, got %d", len(sink.starts))
	}
}

func TestHandleFrameRejectsMisalignedBytes(t *testing.T) {
	sink := &fakeSink{}
	s, _ := newTestScheduler(sink)

	if err := s.HandleFrame([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for misaligned frame")
	}
	if len(sink.starts) != 0 {
		t.Error("malformed frame must not reach the sink")
	}
}

func TestEmptyFrameIgnored(t *testing.T) {
	sink := &fakeSink{}
	s, _ := newTestScheduler(sink)

	if err := s.HandleFrame(nil); err != nil {
		t.Fatalf("empty frame must be ignored, got %v", err)
	}
	if len(sink.starts) != 0 {
		t.Error("empty frame must not be scheduled")
	}
}
