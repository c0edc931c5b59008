// ABOUTME: Broadcast engine for the hosting endpoint
// ABOUTME: Paces PCM frames in real time and publishes playback state
package broadcast

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/priyaanshu26/muzicynk/internal/audio"
	"github.com/priyaanshu26/muzicynk/internal/protocol"
)

// Publisher is the outbound half of the host's connection supervisor.
type Publisher interface {
	SendFrame(pcm []byte) error
	PublishState(state protocol.PlaybackState) error
}

// Engine reads fixed-size blocks from an audio source and streams them
// to the room at capture cadence. Frames are fire-and-forget; a
// transport failure stops the broadcast outright, there are no retries.
type Engine struct {
	publisher Publisher
	source    Source
	logger    zerolog.Logger

	mu       sync.Mutex
	playing  bool
	position float64 // seconds of audio sent

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewEngine creates a broadcast engine.
func NewEngine(publisher Publisher, source Source, logger *zerolog.Logger) *Engine {
	return &Engine{
		publisher: publisher,
		source:    source,
		logger:    logger.With().Str("component", "broadcast").Logger(),
		stopChan:  make(chan struct{}),
	}
}

// Start validates the source and begins streaming. A source that
// yields nothing on the priming read fails with ErrCaptureUnavailable
// after releasing the source, so the caller can roll back cleanly.
func (e *Engine) Start() error {
	if e.source == nil {
		return ErrCaptureUnavailable
	}

	prime := make([]float32, audio.FrameSamples)
	n, err := e.source.Read(prime)
	if err != nil || n == 0 {
		e.source.Close()
		if err != nil && err != io.EOF {
			return fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
		}
		return ErrCaptureUnavailable
	}

	e.mu.Lock()
	e.playing = true
	e.mu.Unlock()
	e.publishState()

	e.wg.Add(1)
	go e.run(prime[:n])

	e.logger.Info().Str("title", e.source.Title()).Msg("broadcast started")
	return nil
}

// run paces one frame per frame-duration tick.
func (e *Engine) run(primed []float32) {
	defer e.wg.Done()

	frameDur := audio.Duration(audio.FrameSamples, audio.SampleRate)
	ticker := time.NewTicker(frameDur)
	defer ticker.Stop()

	if err := e.sendSamples(primed); err != nil {
		e.logger.Error().Err(err).Msg("frame send failed, stopping broadcast")
		return
	}

	buf := make([]float32, audio.FrameSamples)
	for {
		select {
		case <-e.stopChan:
			return

		case <-ticker.C:
			if !e.Playing() {
				continue
			}

			n, err := e.source.Read(buf)
			if n > 0 {
				if sendErr := e.sendSamples(buf[:n]); sendErr != nil {
					e.logger.Error().Err(sendErr).Msg("frame send failed, stopping broadcast")
					return
				}
			}
			if err == io.EOF {
				e.logger.Info().Msg("source drained, pausing broadcast")
				e.Pause()
				return
			}
			if err != nil {
				e.logger.Error().Err(err).Msg("source read failed, stopping broadcast")
				return
			}
		}
	}
}

func (e *Engine) sendSamples(samples []float32) error {
	if err := e.publisher.SendFrame(audio.EncodeSamples(samples)); err != nil {
		return err
	}

	e.mu.Lock()
	e.position += float64(len(samples)) / float64(audio.SampleRate)
	e.mu.Unlock()
	return nil
}

// Pause halts frame sending and publishes the paused state.
func (e *Engine) Pause() {
	e.mu.Lock()
	e.playing = false
	e.mu.Unlock()
	e.publishState()
}

// Resume restarts frame sending and publishes the playing state.
func (e *Engine) Resume() {
	e.mu.Lock()
	e.playing = true
	e.mu.Unlock()
	e.publishState()
}

// Playing reports whether the engine is currently sending frames.
func (e *Engine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

// Position returns seconds of audio sent so far.
func (e *Engine) Position() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position
}

// Stop ends the broadcast and releases the source. Idempotent.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopChan)
	})
	e.wg.Wait()
	if e.source != nil {
		e.source.Close()
	}
}

// publishState sends the current playback state, last-write-wins.
// Failures are logged and dropped; state has no retry path either.
func (e *Engine) publishState() {
	e.mu.Lock()
	state := protocol.PlaybackState{IsPlaying: e.playing, Position: e.position}
	e.mu.Unlock()

	if err := e.publisher.PublishState(state); err != nil {
		e.logger.Warn().Err(err).Msg("state publish failed")
	}
}
