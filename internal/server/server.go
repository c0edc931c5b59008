// ABOUTME: Relay server for Muzicynk rooms
// ABOUTME: Manages WebSocket connections, session registry, and frame fan-out
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/priyaanshu26/muzicynk/internal/discovery"
	"github.com/priyaanshu26/muzicynk/internal/protocol"
	"github.com/priyaanshu26/muzicynk/internal/registry"
)

// Config holds server configuration.
type Config struct {
	Port       int
	Name       string
	EnableMDNS bool
	Logger     *zerolog.Logger
}

// Server relays audio frames and playback state between the members of
// code-addressed rooms. It holds no audio state itself; frames are
// forwarded unmodified, at most once, never retried.
type Server struct {
	config   Config
	logger   zerolog.Logger
	registry *registry.Registry
	upgrader websocket.Upgrader

	httpServer *http.Server
	mux        *http.ServeMux

	conns   map[string]*conn
	connsMu sync.RWMutex

	mdnsManager *discovery.Manager

	stopChan   chan struct{}
	stopOnce   sync.Once
	shutdownMu sync.RWMutex
	isShutdown bool
	wg         sync.WaitGroup
}

// New creates a server instance.
func New(config Config) *Server {
	logger := config.Logger.With().Str("component", "server").Logger()

	return &Server{
		config:   config,
		logger:   logger,
		registry: registry.New(config.Logger),
		mux:      http.NewServeMux(),
		upgrader: websocket.Upgrader{
			// Trusted-LAN deployment, same stance as the browser app
			// this replaces: any origin may connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns:    make(map[string]*conn),
		stopChan: make(chan struct{}),
	}
}

// Start runs the server until Stop is called or the listener fails.
func (s *Server) Start() error {
	s.logger.Info().Str("name", s.config.Name).Int("port", s.config.Port).Msg("server starting")

	if s.config.EnableMDNS {
		s.mdnsManager = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        s.config.Port,
			Logger:      s.config.Logger,
		})
		if err := s.mdnsManager.Advertise(); err != nil {
			s.logger.Warn().Err(err).Msg("mDNS advertisement failed")
		}
	}

	s.mux.HandleFunc("/ws", s.handleWebSocket)

	addr := fmt.Sprintf(":%d", s.config.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()
	s.logger.Info().Str("addr", addr).Msg("websocket server listening")

	var serverErr error
	select {
	case <-s.stopChan:
		s.logger.Info().Msg("server shutting down")
	case err := <-errChan:
		s.logger.Error().Err(err).Msg("http server error")
		serverErr = err
	}

	s.shutdownMu.Lock()
	s.isShutdown = true
	s.shutdownMu.Unlock()

	if s.mdnsManager != nil {
		s.mdnsManager.Stop()
	}

	s.connsMu.Lock()
	for _, c := range s.conns {
		c.close()
		c.ws.Close()
	}
	s.connsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("http shutdown error")
	}

	s.wg.Wait()
	s.logger.Info().Msg("server stopped")

	if serverErr != nil {
		return fmt.Errorf("http server failed: %w", serverErr)
	}
	return nil
}

// Stop stops the server. Safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

// handleWebSocket upgrades an HTTP request into a participant session.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	s.handleConnection(ws, r.RemoteAddr)
}

// handleConnection owns one participant for its whole lifetime: it
// registers the connection, runs the read loop, and on exit runs the
// registry disconnect cascade exactly once.
func (s *Server) handleConnection(ws *websocket.Conn, remoteAddr string) {
	defer ws.Close()

	s.shutdownMu.RLock()
	if s.isShutdown {
		s.shutdownMu.RUnlock()
		return
	}
	s.shutdownMu.RUnlock()

	c := newConn(uuid.New().String(), ws, s.logger)
	s.logger.Info().Str("conn", c.id).Str("remote", remoteAddr).Msg("participant connected")

	ws.SetReadLimit(protocol.MaxFrameBytes)

	s.connsMu.Lock()
	s.conns[c.id] = c
	s.connsMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.writer()
	}()

	defer func() {
		events := s.registry.Disconnect(c.id)
		s.deliver(events)

		s.connsMu.Lock()
		delete(s.conns, c.id)
		s.connsMu.Unlock()
		c.close()
		s.logger.Info().Str("conn", c.id).Msg("participant disconnected")
	}()

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Debug().Str("conn", c.id).Err(err).Msg("read error")
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			s.handleFrame(c, data)
		case websocket.TextMessage:
			s.handleMessage(c, data)
		}
	}
}

// handleMessage dispatches one JSON request. Malformed input is a
// protocol error surfaced to the sender; it never takes the server down.
func (s *Server) handleMessage(c *conn, data []byte) {
	msg, err := protocol.DecodeEnvelope(data)
	if err != nil {
		s.sendError(c, err.Error())
		return
	}

	switch msg.Type {
	case protocol.TypeCreateRoom:
		s.handleCreateRoom(c, msg)
	case protocol.TypeJoinRoom:
		s.handleJoinRoom(c, msg)
	case protocol.TypeSyncState:
		s.handleSyncState(c, msg)
	default:
		s.logger.Debug().Str("conn", c.id).Str("type", msg.Type).Msg("unknown message type")
		s.sendError(c, "unknown message type: "+msg.Type)
	}
}

func (s *Server) handleCreateRoom(c *conn, msg protocol.Message) {
	var create protocol.CreateRoom
	if err := protocol.DecodePayload(msg, &create); err != nil {
		s.sendError(c, err.Error())
		return
	}
	if create.RoomCode == "" || len(create.RoomCode) > protocol.MaxRoomCodeLen {
		s.sendError(c, "invalid room code")
		return
	}

	if err := s.registry.Create(create.RoomCode, c.id); err != nil {
		// Collisions are rejected rather than silently replacing the
		// prior session.
		s.sendError(c, "Room code in use")
		return
	}
	// Success is unacknowledged; the host proceeds immediately.
}

func (s *Server) handleJoinRoom(c *conn, msg protocol.Message) {
	var join protocol.JoinRoom
	if err := protocol.DecodePayload(msg, &join); err != nil {
		s.sendError(c, err.Error())
		return
	}

	_, events, err := s.registry.Join(join.RoomCode, c.id)
	if err != nil {
		s.sendError(c, "Room not found")
		return
	}

	s.send(c.id, protocol.TypeRoomJoined, protocol.RoomJoined{RoomCode: join.RoomCode})
	s.deliver(events)
}

// handleSyncState applies a host playback-state write and, on
// acceptance, broadcasts it to every other member. Non-host writes are
// dropped silently by policy; the sender gets no error.
func (s *Server) handleSyncState(c *conn, msg protocol.Message) {
	var sync protocol.SyncState
	if err := protocol.DecodePayload(msg, &sync); err != nil {
		s.sendError(c, err.Error())
		return
	}

	accepted := s.registry.RecordState(sync.RoomCode, c.id, registry.PlaybackState{
		IsPlaying: sync.State.IsPlaying,
		Position:  sync.State.Position,
	})
	if !accepted {
		return
	}

	_, members, ok := s.registry.Snapshot(sync.RoomCode)
	if !ok {
		return
	}
	for _, member := range members {
		if member != c.id {
			s.send(member, protocol.TypeStateUpdate, sync.State)
		}
	}
}

// handleFrame fans an audio frame out to every other room member.
// Absent rooms and non-host senders drop the frame silently: frames
// are not request/response and surface no errors.
func (s *Server) handleFrame(c *conn, data []byte) {
	roomCode, pcm, err := protocol.DecodeAudioData(data)
	if err != nil {
		s.logger.Debug().Str("conn", c.id).Err(err).Msg("dropping malformed frame")
		return
	}

	host, members, ok := s.registry.Snapshot(roomCode)
	if !ok || host != c.id {
		return
	}

	out := protocol.EncodeAudioStream(pcm)
	for _, member := range members {
		if member == c.id {
			continue
		}
		if target := s.lookup(member); target != nil {
			target.enqueue(outMessage{binary: true, data: out})
		}
	}
}

// deliver maps registry events onto wire messages.
func (s *Server) deliver(events []registry.Event) {
	for _, ev := range events {
		switch ev.Kind {
		case registry.EventParticipantJoined:
			s.send(ev.To, protocol.TypeParticipantJoined, protocol.ParticipantEvent{ConnectionID: ev.ConnectionID})
		case registry.EventParticipantLeft:
			s.send(ev.To, protocol.TypeParticipantLeft, protocol.ParticipantEvent{ConnectionID: ev.ConnectionID})
		case registry.EventRoomCount:
			s.send(ev.To, protocol.TypeRoomCountUpdate, protocol.RoomCount{Count: ev.Count})
		case registry.EventRoomClosed:
			s.send(ev.To, protocol.TypeRoomClosed, nil)
		case registry.EventStateSnapshot:
			s.send(ev.To, protocol.TypeStateUpdate, protocol.PlaybackState{
				IsPlaying: ev.State.IsPlaying,
				Position:  ev.State.Position,
			})
		}
	}
}

// send encodes and queues a JSON message for one connection.
func (s *Server) send(connID, msgType string, payload interface{}) {
	c := s.lookup(connID)
	if c == nil {
		return
	}
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		s.logger.Error().Err(err).Str("type", msgType).Msg("encode failed")
		return
	}
	c.enqueue(outMessage{data: data})
}

func (s *Server) sendError(c *conn, message string) {
	data, err := protocol.Encode(protocol.TypeError, protocol.ErrorMessage{Message: message})
	if err != nil {
		return
	}
	c.enqueue(outMessage{data: data})
}

func (s *Server) lookup(connID string) *conn {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return s.conns[connID]
}
