// ABOUTME: Gapless playback scheduler for arriving PCM frames
// ABOUTME: Absorbs arrival jitter with a fixed lookahead margin
package player

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/priyaanshu26/muzicynk/internal/audio"
)

// DefaultLookahead is the fixed jitter margin. Each frame is scheduled
// at least this far in the future, trading that much extra latency for
// glitch-free playback under arrival jitter up to the margin.
const DefaultLookahead = 50 * time.Millisecond

// Sink accepts a decoded buffer for playback starting at a given local
// time. The call must not block; playback happens asynchronously.
type Sink interface {
	PlayAt(samples []float32, at time.Time)
}

// Stats tracks scheduler metrics.
type Stats struct {
	Received int64
	// Resets counts frames that arrived too late to extend the
	// back-to-back schedule, forcing a snap to now+lookahead. Each
	// reset is an audible gap of up to the arrival lateness.
	Resets int64
}

// Scheduler converts discretely-arriving frames into a monotonically
// increasing, non-overlapping playback schedule. It assumes in-order
// arrival (the transport is a single TCP stream); a reordered frame
// produces an audible artifact, not an error. The buffer margin is
// static and does not adapt to measured jitter.
type Scheduler struct {
	sink      Sink
	format    audio.Format
	lookahead time.Duration
	logger    zerolog.Logger

	mu      sync.Mutex
	next    time.Time
	stopped bool
	stats   Stats

	now func() time.Time
}

// NewScheduler creates a scheduler feeding the given sink.
func NewScheduler(sink Sink, format audio.Format, lookahead time.Duration, logger *zerolog.Logger) *Scheduler {
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}
	return &Scheduler{
		sink:      sink,
		format:    format,
		lookahead: lookahead,
		logger:    logger.With().Str("component", "scheduler").Logger(),
		now:       time.Now,
	}
}

// HandleFrame decodes one arriving frame and hands it to the sink at
// max(nextScheduledTime, now+lookahead). The decode is a pure format
// transform and the sink call is non-blocking, so this is safe to run
// on the transport read path.
func (s *Scheduler) HandleFrame(pcm []byte) error {
	samples, err := audio.DecodeSamples(pcm)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}

	earliest := s.now().Add(s.lookahead)
	start := s.next
	if earliest.After(start) {
		start = earliest
		if s.stats.Received > 0 {
			s.stats.Resets++
			s.logger.Debug().
				Dur("gap", earliest.Sub(s.next)).
				Msg("schedule fell behind, snapping forward")
		}
	}

	s.sink.PlayAt(samples, start)
	s.next = start.Add(audio.Duration(len(samples), s.format.SampleRate))
	s.stats.Received++
	return nil
}

// Stop prevents further schedule calls. Buffers already handed to the
// sink are left alone and play out naturally.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

// Stats returns a copy of the scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
