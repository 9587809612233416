// Package control implements ControlSession: the state machine that governs
// one accepted reliable connection from AWAIT_JOIN through ACTIVE to CLOSED
// (spec.md §4.2).
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"sfu/internal/broadcast"
	"sfu/internal/protocol"
	"sfu/internal/registry"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// readBufferSize matches spec.md §6: "the server tolerates receiving up to
// 1024 bytes per read... the reference behavior treats each receive as one
// message" — one conn.Read call is parsed as exactly one JSON object, not
// framed by a delimiter.
const readBufferSize = 1024

// MaxNameLength is the participant name limit (spec.md §3): at most 32 bytes
// of UTF-8. handshake rejects a longer name before it ever reaches
// registry.ValidateName.
const MaxNameLength = 32

// MaxChatLength bounds a single text payload to keep the wire format sane;
// the source places no hard limit, but an unbounded broadcast payload is not
// in the spirit of a low-latency chat relay. handle truncates to this length
// rather than rejecting the message outright.
const MaxChatLength = 2000

type state int

const (
	stateAwaitJoin state = iota
	stateActive
	stateClosed
)

var tracer = otel.Tracer("sfu/control")

// Session owns one accepted net.Conn for its entire lifetime and is released
// on every exit path: normal leave, read error, or write error during the
// handshake (spec.md §5).
type Session struct {
	id   string
	conn net.Conn
	reg  *registry.Registry
	bc   *broadcast.Broadcaster
	log  *zap.Logger

	mu          sync.Mutex
	state       state
	participant *registry.Participant
}

// New wraps conn as a fresh Session in AWAIT_JOIN. Call Serve to run it.
func New(conn net.Conn, reg *registry.Registry, bc *broadcast.Broadcaster, log *zap.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:    id,
		conn:  conn,
		reg:   reg,
		bc:    bc,
		log:   log.With(zap.String("session", id)),
		state: stateAwaitJoin,
	}
}

// WriteFrame implements broadcast.Writer: it writes one already-marshaled
// JSON message, newline-terminated so a reader on the other side can split
// the outbound stream into frames. Inbound parsing does not use the newline.
func (s *Session) WriteFrame(data []byte) error {
	data = append(data, '\n')
	_, err := s.conn.Write(data)
	return err
}

// Participant returns the session's bound participant, or nil before join
// completes.
func (s *Session) Participant() *registry.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participant
}

// Close closes the underlying connection, unblocking a Serve goroutine that
// is parked in conn.Read (an idle session observes ctx cancellation only
// between reads, never during one). Safe to call once Serve has already
// torn the session down itself; the resulting error is not useful and is
// left for the caller to ignore.
func (s *Session) Close() error {
	return s.conn.Close()
}

// Serve runs the session to completion: handshake, then the ACTIVE read
// loop, then teardown. It blocks until the connection closes, the peer
// disconnects, or ctx is canceled. Serve never panics the caller on a
// per-message error; failures transition to CLOSED and return.
func (s *Session) Serve(ctx context.Context) {
	defer s.teardown()

	if !s.handshake(ctx) {
		return
	}

	buf := make([]byte, readBufferSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := s.conn.Read(buf)
		if err != nil {
			s.log.Debug("control read closed", zap.Error(err))
			return
		}

		var msg protocol.Inbound
		if err := json.Unmarshal(buf[:n], &msg); err != nil {
			s.log.Debug("control unmarshal error, closing session", zap.Error(err))
			return
		}
		if s.handle(msg) {
			return // explicit leave
		}
	}
}

// handshake reads exactly one message; it must be a join. Returns true if
// the session is now ACTIVE and should proceed to the read loop.
func (s *Session) handshake(ctx context.Context) bool {
	ctx, span := tracer.Start(ctx, "control.handshake")
	defer span.End()

	buf := make([]byte, readBufferSize)
	n, err := s.conn.Read(buf)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		s.log.Debug("handshake read error", zap.Error(err))
		return false
	}

	var msg protocol.Inbound
	if err := json.Unmarshal(buf[:n], &msg); err != nil || msg.Type != protocol.TypeJoin {
		span.SetStatus(codes.Error, "malformed or wrong first message")
		reason := protocol.ReasonMalformed
		if err == nil {
			reason = protocol.ReasonJoinFirst
		}
		s.replyError(reason)
		return false
	}

	if len(msg.User) > MaxNameLength {
		span.SetStatus(codes.Error, "name too long")
		s.replyError(protocol.ReasonMalformed)
		return false
	}
	name, err := registry.ValidateName(msg.User)
	if err != nil {
		span.SetStatus(codes.Error, "invalid name")
		s.replyError(protocol.ReasonMalformed)
		return false
	}
	room := msg.Room
	if room == "" {
		room = protocol.DefaultRoom
	}
	span.SetAttributes(attribute.String("room", room))

	p, err := s.reg.Join(name, room, s)
	if err != nil {
		span.SetStatus(codes.Error, "name taken")
		s.replyError(protocol.ReasonNameTaken)
		return false
	}

	s.mu.Lock()
	s.participant = p
	s.state = stateActive
	s.mu.Unlock()

	if err := s.ToSelf(protocol.Joined{Status: "joined", Room: room}); err != nil {
		s.log.Debug("joined reply write failed", zap.Error(err))
		return false
	}

	s.log.Info("participant joined", zap.String("name", name), zap.String("room", room))
	return true
}

// ToSelf writes msg directly to this session, bypassing the registry lookup
// (used for replies that never need to resolve a peer's handle).
func (s *Session) ToSelf(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return s.WriteFrame(data)
}

func (s *Session) replyError(reason string) {
	if err := s.ToSelf(protocol.Error{ErrorText: reason}); err != nil {
		s.log.Debug("error reply write failed", zap.Error(err))
	}
}

// handle processes one decoded ACTIVE-state message. Returns true if the
// session should transition to CLOSED (explicit leave).
func (s *Session) handle(msg protocol.Inbound) bool {
	p := s.Participant()
	if p == nil {
		return false
	}

	switch msg.Type {
	case protocol.TypeText:
		payload := msg.Payload
		if len(payload) > MaxChatLength {
			payload = payload[:MaxChatLength]
		}
		out := protocol.Text{Type: protocol.TypeText, Payload: fmt.Sprintf("%s: %s", p.Name, payload)}
		s.bc.ToRoom(p.Room, p, out)

	case protocol.TypeListRooms:
		if err := s.ToSelf(protocol.RoomList{Type: protocol.TypeRoomList, Rooms: s.reg.ListRooms()}); err != nil {
			s.log.Debug("list_rooms reply failed", zap.Error(err))
		}

	case protocol.TypeListUsers:
		if err := s.ToSelf(protocol.UserList{Type: protocol.TypeUserList, Users: s.reg.ListMembers(p.Room)}); err != nil {
			s.log.Debug("list_users reply failed", zap.Error(err))
		}

	case protocol.TypeLeave:
		return true

	default:
		// Unknown types are ignored silently (spec.md §4.2).
	}
	return false
}

// teardown removes the participant from the registry (if joined) and closes
// the connection. Safe to call multiple times; Leave is idempotent.
func (s *Session) teardown() {
	s.mu.Lock()
	s.state = stateClosed
	p := s.participant
	s.mu.Unlock()

	if p != nil {
		s.reg.Leave(s)
		s.log.Info("participant left", zap.String("name", p.Name))
	}
	if err := s.conn.Close(); err != nil {
		s.log.Debug("connection close error", zap.Error(err))
	}
}
