// ABOUTME: Tests for the connection supervisor
// ABOUTME: Covers status transitions, join verdicts, and teardown
package client

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/priyaanshu26/muzicynk/internal/protocol"
)

// fakeRelay upgrades one connection and answers join-room with a
// scripted verdict, then replays any queued server messages.
func fakeRelay(t *testing.T, joinErr string, extra ...[]byte) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			msg, err := protocol.DecodeEnvelope(data)
			if err != nil || msg.Type != protocol.TypeJoinRoom {
				continue
			}

			if joinErr != "" {
				reply, _ := protocol.Encode(protocol.TypeError, protocol.ErrorMessage{Message: joinErr})
				ws.WriteMessage(websocket.TextMessage, reply)
			} else {
				var join protocol.JoinRoom
				protocol.DecodePayload(msg, &join)
				reply, _ := protocol.Encode(protocol.TypeRoomJoined, protocol.RoomJoined{RoomCode: join.RoomCode})
				ws.WriteMessage(websocket.TextMessage, reply)
			}
			for _, m := range extra {
				ws.WriteMessage(websocket.TextMessage, m)
			}
		}
	}))
}

func newSupervisor(t *testing.T, ts *httptest.Server) *Supervisor {
	t.Helper()
	logger := zerolog.New(io.Discard)
	s := New(Config{
		ServerAddr: strings.TrimPrefix(ts.URL, "http://"),
		Logger:     &logger,
	})
	t.Cleanup(s.Close)
	return s
}

func TestJoinRoomSuccess(t *testing.T) {
	ts := fakeRelay(t, "")
	defer ts.Close()

	s := newSupervisor(t, ts)
	if s.Status() != StatusIdle {
		t.Fatalf("expected Idle before connect, got %v", s.Status())
	}

	if err := s.Connect(); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if err := s.JoinRoom("ABCDEF"); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	if s.Status() != StatusLive {
		t.Errorf("expected Live after join, got %v", s.Status())
	}
	if s.Binding() != BindingJoined {
		t.Errorf("expected Joined binding, got %v", s.Binding())
	}
}

func TestJoinRoomNotFoundReturnsToIdle(t *testing.T) {
	ts := fakeRelay(t, "Room not found")
	defer ts.Close()

	s := newSupervisor(t, ts)
	if err := s.Connect(); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	err := s.JoinRoom("MISSING")
	if err == nil || !strings.Contains(err.Error(), "Room not found") {
		t.Fatalf("expected Room not found, got %v", err)
	}
	if s.Status() != StatusIdle {
		t.Errorf("expected forced Idle after join failure, got %v", s.Status())
	}
}

func TestRoomClosedForcesIdle(t *testing.T) {
	closed, _ := protocol.Encode(protocol.TypeRoomClosed, nil)
	ts := fakeRelay(t, "", closed)
	defer ts.Close()

	s := newSupervisor(t, ts)
	if err := s.Connect(); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if err := s.JoinRoom("ABCDEF"); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	select {
	case <-s.RoomClosed:
	case <-time.After(2 * time.Second):
		t.Fatal("never received room-closed")
	}
	if s.Status() != StatusIdle {
		t.Errorf("expected forced Idle on room-closed, got %v", s.Status())
	}
	if s.Binding() != BindingDisconnected {
		t.Errorf("expected Disconnected binding, got %v", s.Binding())
	}
}

func TestStateAndCountRouting(t *testing.T) {
	state, _ := protocol.Encode(protocol.TypeStateUpdate, protocol.PlaybackState{IsPlaying: true, Position: 3.5})
	count, _ := protocol.Encode(protocol.TypeRoomCountUpdate, protocol.RoomCount{Count: 4})
	ts := fakeRelay(t, "", state, count)
	defer ts.Close()

	s := newSupervisor(t, ts)
	if err := s.Connect(); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if err := s.JoinRoom("ABCDEF"); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	select {
	case st := <-s.StateUpdates:
		if !st.IsPlaying || st.Position != 3.5 {
			t.Errorf("unexpected state: %+v", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("never received state update")
	}

	select {
	case n := <-s.Counts:
		if n != 4 {
			t.Errorf("expected count 4, got %d", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("never received count update")
	}
}

func TestCloseIsIdempotentAndRunsReleasersInReverse(t *testing.T) {
	ts := fakeRelay(t, "")
	defer ts.Close()

	s := newSupervisor(t, ts)

	var order []string
	s.OnRelease(func() { order = append(order, "first") })
	s.OnRelease(nil) // partial-failure path: a resource never acquired
	s.OnRelease(func() { order = append(order, "second") })

	// Close before Connect must be safe.
	s.Close()
	s.Close()

	if len(order) != 2 || order[0] != "second" || order[1] != "first" {
		t.Errorf("expected reverse-order release exactly once, got %v", order)
	}
	if s.Status() != StatusIdle {
		t.Errorf("expected Idle after close, got %v", s.Status())
	}
	if s.Binding() != BindingLeft {
		t.Errorf("expected Left binding after close, got %v", s.Binding())
	}
}

func TestSendBeforeConnectFails(t *testing.T) {
	logger := zerolog.New(io.Discard)
	s := New(Config{ServerAddr: "localhost:1", Logger: &logger})

	if err := s.SendFrame([]byte{1, 2, 3, 4}); err == nil {
		t.Error("expected error sending frame while disconnected")
	}
	if err := s.PublishState(protocol.PlaybackState{}); err == nil {
		t.Error("expected error publishing state while disconnected")
	}
}
