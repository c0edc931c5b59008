// ABOUTME: Connection supervisor for room participants
// ABOUTME: Owns the websocket lifecycle and routes events to channels
package client

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/priyaanshu26/muzicynk/internal/protocol"
)

// Status is the connection status exposed to consuming layers.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusLive
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusLive:
		return "live"
	default:
		return "idle"
	}
}

// Binding tracks the connection-to-room state machine:
// Disconnected -> Joining -> Joined -> {Left, Disconnected}.
type Binding int

const (
	BindingDisconnected Binding = iota
	BindingJoining
	BindingJoined
	BindingLeft
)

const joinTimeout = 5 * time.Second

// Config holds supervisor configuration.
type Config struct {
	ServerAddr string
	Logger     *zerolog.Logger
}

// Supervisor owns one transport connection and its room binding. Status
// is available both as a pollable accessor and as a notification
// channel; incoming traffic is routed onto buffered channels so no
// consumer can stall the read loop.
type Supervisor struct {
	config Config
	logger zerolog.Logger

	mu       sync.RWMutex
	ws       *websocket.Conn
	writeMu  sync.Mutex
	status   Status
	binding  Binding
	roomCode string

	// Server-to-client event channels.
	Frames        chan []byte
	StateUpdates  chan protocol.PlaybackState
	Counts        chan int
	MemberJoined  chan string
	MemberLeft    chan string
	RoomClosed    chan struct{}
	Errors        chan string
	StatusChanges chan Status

	joinResult chan error

	releasers []func()
	closeOnce sync.Once
	done      chan struct{}
}

// New creates a supervisor in the Idle state.
func New(config Config) *Supervisor {
	return &Supervisor{
		config:        config,
		logger:        config.Logger.With().Str("component", "supervisor").Logger(),
		Frames:        make(chan []byte, 100),
		StateUpdates:  make(chan protocol.PlaybackState, 8),
		Counts:        make(chan int, 8),
		MemberJoined:  make(chan string, 8),
		MemberLeft:    make(chan string, 8),
		RoomClosed:    make(chan struct{}, 1),
		Errors:        make(chan string, 4),
		StatusChanges: make(chan Status, 8),
		joinResult:    make(chan error, 1),
		done:          make(chan struct{}),
	}
}

// Connect dials the relay server and starts the read loop.
func (s *Supervisor) Connect() error {
	s.setStatus(StatusConnecting)

	u := url.URL{Scheme: "ws", Host: s.config.ServerAddr, Path: "/ws"}
	ws, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		s.setStatus(StatusIdle)
		return fmt.Errorf("dial failed: %w", err)
	}
	ws.SetReadLimit(protocol.MaxFrameBytes)

	s.mu.Lock()
	s.ws = ws
	s.mu.Unlock()

	go s.readLoop()
	s.logger.Info().Str("server", s.config.ServerAddr).Msg("connected")
	return nil
}

// CreateRoom registers a session with this connection as host. Room
// creation is unacknowledged; a colliding code surfaces later on the
// Errors channel.
func (s *Supervisor) CreateRoom(roomCode string) error {
	if err := s.sendJSON(protocol.TypeCreateRoom, protocol.CreateRoom{RoomCode: roomCode}); err != nil {
		return err
	}

	s.mu.Lock()
	s.roomCode = roomCode
	s.binding = BindingJoined
	s.mu.Unlock()
	s.setStatus(StatusLive)
	return nil
}

// JoinRoom joins an existing session and waits for the server verdict.
// RoomNotFound is terminal: the supervisor returns to Idle and the
// caller must not retry without user action.
func (s *Supervisor) JoinRoom(roomCode string) error {
	s.mu.Lock()
	s.roomCode = roomCode
	s.binding = BindingJoining
	s.mu.Unlock()

	if err := s.sendJSON(protocol.TypeJoinRoom, protocol.JoinRoom{RoomCode: roomCode}); err != nil {
		return err
	}

	select {
	case err := <-s.joinResult:
		if err != nil {
			s.mu.Lock()
			s.binding = BindingDisconnected
			s.mu.Unlock()
			s.setStatus(StatusIdle)
			return err
		}
		s.mu.Lock()
		s.binding = BindingJoined
		s.mu.Unlock()
		s.setStatus(StatusLive)
		return nil

	case <-time.After(joinTimeout):
		s.setStatus(StatusIdle)
		return fmt.Errorf("join timed out after %v", joinTimeout)

	case <-s.done:
		return fmt.Errorf("connection closed")
	}
}

// SendFrame publishes one PCM frame to the bound room.
func (s *Supervisor) SendFrame(pcm []byte) error {
	s.mu.RLock()
	ws, roomCode := s.ws, s.roomCode
	s.mu.RUnlock()
	if ws == nil {
		return fmt.Errorf("not connected")
	}

	frame, err := protocol.EncodeAudioData(roomCode, pcm)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return ws.WriteMessage(websocket.BinaryMessage, frame)
}

// PublishState publishes host playback state to the bound room.
func (s *Supervisor) PublishState(state protocol.PlaybackState) error {
	s.mu.RLock()
	roomCode := s.roomCode
	s.mu.RUnlock()
	return s.sendJSON(protocol.TypeSyncState, protocol.SyncState{RoomCode: roomCode, State: state})
}

// Status returns the current connection status.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Binding returns the current room-binding state.
func (s *Supervisor) Binding() Binding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.binding
}

// OnRelease registers a resource-release hook run during Close, in
// reverse registration order. Hooks must tolerate partially-acquired
// resources.
func (s *Supervisor) OnRelease(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releasers = append(s.releasers, f)
}

// Close tears the connection down synchronously: release hooks first
// (capture, playback), then the transport. Idempotent and safe from
// partial-failure paths, including Close before Connect.
func (s *Supervisor) Close() {
	s.closeOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		releasers := s.releasers
		ws := s.ws
		s.binding = BindingLeft
		s.mu.Unlock()

		for i := len(releasers) - 1; i >= 0; i-- {
			if releasers[i] != nil {
				releasers[i]()
			}
		}
		if ws != nil {
			ws.Close()
		}

		s.setStatus(StatusIdle)
		s.logger.Info().Msg("connection closed")
	})
}

// readLoop routes incoming traffic until the socket dies.
func (s *Supervisor) readLoop() {
	defer func() {
		s.mu.Lock()
		if s.binding == BindingJoined || s.binding == BindingJoining {
			s.binding = BindingDisconnected
		}
		s.mu.Unlock()
		s.setStatus(StatusIdle)
	}()

	s.mu.RLock()
	ws := s.ws
	s.mu.RUnlock()

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Debug().Err(err).Msg("read error")
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			s.routeFrame(data)
		case websocket.TextMessage:
			s.routeMessage(data)
		}
	}
}

func (s *Supervisor) routeFrame(data []byte) {
	pcm, err := protocol.DecodeAudioStream(data)
	if err != nil {
		s.logger.Debug().Err(err).Msg("dropping malformed frame")
		return
	}

	select {
	case s.Frames <- pcm:
	default:
		// Consumer fell behind; drop rather than stall the transport.
	}
}

func (s *Supervisor) routeMessage(data []byte) {
	msg, err := protocol.DecodeEnvelope(data)
	if err != nil {
		s.logger.Debug().Err(err).Msg("dropping malformed message")
		return
	}

	switch msg.Type {
	case protocol.TypeRoomJoined:
		select {
		case s.joinResult <- nil:
		default:
		}

	case protocol.TypeError:
		var e protocol.ErrorMessage
		if err := protocol.DecodePayload(msg, &e); err != nil {
			return
		}
		s.mu.RLock()
		joining := s.binding == BindingJoining
		s.mu.RUnlock()
		if joining {
			select {
			case s.joinResult <- fmt.Errorf("%s", e.Message):
			default:
			}
			return
		}
		s.notifyError(e.Message)
		s.setStatus(StatusIdle)

	case protocol.TypeStateUpdate:
		var state protocol.PlaybackState
		if err := protocol.DecodePayload(msg, &state); err != nil {
			return
		}
		select {
		case s.StateUpdates <- state:
		default:
		}

	case protocol.TypeRoomCountUpdate:
		var count protocol.RoomCount
		if err := protocol.DecodePayload(msg, &count); err != nil {
			return
		}
		select {
		case s.Counts <- count.Count:
		default:
		}

	case protocol.TypeParticipantJoined:
		s.routeMember(msg, s.MemberJoined)

	case protocol.TypeParticipantLeft:
		s.routeMember(msg, s.MemberLeft)

	case protocol.TypeRoomClosed:
		s.mu.Lock()
		s.binding = BindingDisconnected
		s.mu.Unlock()
		s.setStatus(StatusIdle)
		select {
		case s.RoomClosed <- struct{}{}:
		default:
		}

	default:
		s.logger.Debug().Str("type", msg.Type).Msg("unknown message type")
	}
}

func (s *Supervisor) routeMember(msg protocol.Message, ch chan string) {
	var ev protocol.ParticipantEvent
	if err := protocol.DecodePayload(msg, &ev); err != nil {
		return
	}
	select {
	case ch <- ev.ConnectionID:
	default:
	}
}

func (s *Supervisor) notifyError(message string) {
	select {
	case s.Errors <- message:
	default:
	}
}

func (s *Supervisor) sendJSON(msgType string, payload interface{}) error {
	s.mu.RLock()
	ws := s.ws
	s.mu.RUnlock()
	if ws == nil {
		return fmt.Errorf("not connected")
	}

	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return ws.WriteMessage(websocket.TextMessage, data)
}

func (s *Supervisor) setStatus(status Status) {
	s.mu.Lock()
	if s.status == status {
		s.mu.Unlock()
		return
	}
	s.status = status
	s.mu.Unlock()

	select {
	case s.StatusChanges <- status:
	default:
	}
}
