// ABOUTME: Tests for the broadcast engine
// ABOUTME: Covers priming failures, pacing, and state publication
package broadcast

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/priyaanshu26/muzicynk/internal/audio"
	"github.com/priyaanshu26/muzicynk/internal/protocol"
)

type capturePublisher struct {
	mu      sync.Mutex
	frames  [][]byte
	states  []protocol.PlaybackState
	sendErr error
}

func (p *capturePublisher) SendFrame(pcm []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return p.sendErr
	}
	p.frames = append(p.frames, pcm)
	return nil
}

func (p *capturePublisher) PublishState(state protocol.PlaybackState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, state)
	return nil
}

func (p *capturePublisher) frameCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

func (p *capturePublisher) lastState() (protocol.PlaybackState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.states) == 0 {
		return protocol.PlaybackState{}, false
	}
	return p.states[len(p.states)-1], true
}

// silenceSource yields a fixed number of zero samples then EOF.
type silenceSource struct {
	left   int
	closed bool
}

func (s *silenceSource) Read(samples []float32) (int, error) {
	if s.left <= 0 {
		return 0, io.EOF
	}
	n := len(samples)
	if n > s.left {
		n = s.left
	}
	s.left -= n
	if s.left == 0 {
		return n, io.EOF
	}
	return n, nil
}

func (s *silenceSource) SampleRate() int { return audio.SampleRate }
func (s *silenceSource) Title() string   { return "silence" }
func (s *silenceSource) Close() error    { s.closed = true; return nil }

func testLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

func TestStartFailsOnEmptySource(t *testing.T) {
	pub := &capturePublisher{}
	src := &silenceSource{left: 0}
	e := NewEngine(pub, src, testLogger())

	err := e.Start()
	if !errors.Is(err, ErrCaptureUnavailable) {
		t.Fatalf("expected ErrCaptureUnavailable, got %v", err)
	}
	if !src.closed {
		t.Error("source must be released when acquisition fails")
	}
	if pub.frameCount() != 0 {
		t.Error("no frames may be sent after a failed start")
	}
}

func TestStartSendsPrimedFrameAndState(t *testing.T) {
	pub := &capturePublisher{}
	e := NewEngine(pub, &silenceSource{left: audio.FrameSamples * 3}, testLogger())

	if err := e.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer e.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for pub.frameCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if pub.frameCount() == 0 {
		t.Fatal("primed frame never sent")
	}

	state, ok := pub.lastState()
	if !ok || !state.IsPlaying {
		t.Errorf("expected playing state published on start, got %+v", state)
	}
	if len(pub.frames[0]) != audio.FrameSamples*audio.BytesPerSamp {
		t.Errorf("unexpected frame size %d", len(pub.frames[0]))
	}
}

func TestPauseResumePublishState(t *testing.T) {
	pub := &capturePublisher{}
	e := NewEngine(pub, &silenceSource{left: audio.SampleRate * 10}, testLogger())

	if err := e.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer e.Stop()

	e.Pause()
	if state, _ := pub.lastState(); state.IsPlaying {
		t.Errorf("expected paused state, got %+v", state)
	}
	if e.Playing() {
		t.Error("engine must report paused")
	}

	e.Resume()
	if state, _ := pub.lastState(); !state.IsPlaying {
		t.Errorf("expected playing state, got %+v", state)
	}
}

func TestPositionTracksSamplesSent(t *testing.T) {
	pub := &capturePublisher{}
	e := NewEngine(pub, &silenceSource{left: audio.FrameSamples * 2}, testLogger())

	if err := e.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer e.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for pub.frameCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	want := float64(audio.FrameSamples) / float64(audio.SampleRate)
	if pos := e.Position(); pos < want*0.99 {
		t.Errorf("expected position >= %v after first frame, got %v", want, pos)
	}
}

func TestSendFailureStopsBroadcast(t *testing.T) {
	pub := &capturePublisher{sendErr: errors.New("transport down")}
	e := NewEngine(pub, &silenceSource{left: audio.SampleRate * 10}, testLogger())

	if err := e.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// The run goroutine must terminate on its own; Stop must not hang.
	done := make(chan struct{})
	go func() {
		e.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop after send failure")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	pub := &capturePublisher{}
	src := &silenceSource{left: audio.SampleRate}
	e := NewEngine(pub, src, testLogger())

	if err := e.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	e.Stop()
	e.Stop()
	if !src.closed {
		t.Error("source must be closed on stop")
	}
}
