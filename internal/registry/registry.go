// ABOUTME: Authoritative in-memory table of active rooms
// ABOUTME: Serializes all session mutations and emits delivery events
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrRoomCodeInUse = errors.New("room code in use")
)

// PlaybackState is the host-owned playback-control state of a session.
// Overwritten wholesale on each update, never merged.
type PlaybackState struct {
	IsPlaying bool
	Position  float64 // seconds
	UpdatedAt time.Time
}

// Session groups one broadcasting host with zero or more listeners
// under a shared code. It exists exactly as long as its host is
// connected.
type Session struct {
	Code    string
	Host    string
	Members map[string]struct{} // includes host
	State   *PlaybackState
}

// EventKind identifies a notification produced by a mutation.
type EventKind int

const (
	// EventParticipantJoined is host-directed: a listener joined.
	EventParticipantJoined EventKind = iota
	// EventParticipantLeft is host-directed: a listener left.
	EventParticipantLeft
	// EventRoomCount carries the new occupancy to every member.
	EventRoomCount
	// EventRoomClosed tells a member its session was torn down.
	EventRoomClosed
	// EventStateSnapshot delivers the current playback state to a
	// freshly joined listener.
	EventStateSnapshot
)

// Event is a pending notification for the transport layer to deliver.
// The registry never touches the network itself.
type Event struct {
	To           string // target connection ID
	Kind         EventKind
	ConnectionID string        // participant joined/left
	Count        int           // room count
	State        PlaybackState // state snapshot
}

// Registry owns the room table. Every mutation runs under one mutex,
// so a join racing a host-disconnect teardown resolves deterministically:
// teardown wins and the join observes ErrRoomNotFound.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	logger   zerolog.Logger
}

// New creates an empty registry.
func New(logger *zerolog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		logger:   logger.With().Str("component", "registry").Logger(),
	}
}

// Create registers a new session with hostID as its only member.
// A colliding room code is rejected rather than silently replaced;
// replacement would orphan the previous host's listeners.
func (r *Registry) Create(roomCode, hostID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[roomCode]; exists {
		return ErrRoomCodeInUse
	}

	r.sessions[roomCode] = &Session{
		Code:    roomCode,
		Host:    hostID,
		Members: map[string]struct{}{hostID: {}},
	}

	r.logger.Info().
		Str("room", roomCode).
		Str("host", hostID).
		Msg("room created")
	return nil
}

// Join adds connID to the session and returns the new occupancy count
// together with the notifications to deliver: participant-joined to the
// host, a count update to every member, and a state snapshot to the
// joiner when the host has already recorded one.
func (r *Registry) Join(roomCode, connID string) (int, []Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[roomCode]
	if !ok {
		return 0, nil, ErrRoomNotFound
	}

	sess.Members[connID] = struct{}{}
	count := len(sess.Members)

	events := []Event{{To: sess.Host, Kind: EventParticipantJoined, ConnectionID: connID}}
	events = append(events, countEvents(sess)...)
	if sess.State != nil {
		events = append(events, Event{To: connID, Kind: EventStateSnapshot, State: *sess.State})
	}

	r.logger.Info().
		Str("room", roomCode).
		Str("conn", connID).
		Int("count", count).
		Msg("participant joined")
	return count, events, nil
}

// Disconnect removes connID from every session it appears in. Sessions
// hosted by connID are destroyed and every remaining member is told
// room-closed; sessions where connID is merely a participant shrink and
// notify their host. The scan deliberately tolerates membership in more
// than one session even though the happy path never produces it.
func (r *Registry) Disconnect(connID string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var events []Event
	for code, sess := range r.sessions {
		if sess.Host == connID {
			for member := range sess.Members {
				if member != connID {
					events = append(events, Event{To: member, Kind: EventRoomClosed})
				}
			}
			delete(r.sessions, code)
			r.logger.Info().
				Str("room", code).
				Str("host", connID).
				Msg("host disconnected, room closed")
			continue
		}

		if _, ok := sess.Members[connID]; ok {
			delete(sess.Members, connID)
			events = append(events, Event{To: sess.Host, Kind: EventParticipantLeft, ConnectionID: connID})
			events = append(events, countEvents(sess)...)
			r.logger.Info().
				Str("room", code).
				Str("conn", connID).
				Int("count", len(sess.Members)).
				Msg("participant left")
		}
	}
	return events
}

// RecordState replaces the session's playback state. Only the recorded
// host may write; anything else is rejected silently per policy.
func (r *Registry) RecordState(roomCode, connID string, state PlaybackState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[roomCode]
	if !ok || sess.Host != connID {
		return false
	}

	state.UpdatedAt = time.Now()
	sess.State = &state
	return true
}

// Snapshot returns the host and member set of a session, for fan-out
// decisions outside the lock. The returned slice is a copy.
func (r *Registry) Snapshot(roomCode string) (host string, members []string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, found := r.sessions[roomCode]
	if !found {
		return "", nil, false
	}
	members = make([]string, 0, len(sess.Members))
	for member := range sess.Members {
		members = append(members, member)
	}
	return sess.Host, members, true
}

// Len reports the number of active sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// countEvents builds a room-count-update for every current member.
// Occupancy is always total members including the host.
func countEvents(sess *Session) []Event {
	events := make([]Event, 0, len(sess.Members))
	for member := range sess.Members {
		events = append(events, Event{To: member, Kind: EventRoomCount, Count: len(sess.Members)})
	}
	return events
}
