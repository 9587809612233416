// Package protocol defines the wire schemas exchanged on the reliable
// control channel, plus the fixed layout of the unreliable media datagram.
package protocol

// Control message types recognized on the reliable channel.
const (
	TypeJoin      = "join"
	TypeText      = "text"
	TypeListRooms = "list_rooms"
	TypeListUsers = "list_users"
	TypeLeave     = "leave"

	TypeRoomList = "room_list"
	TypeUserList = "user_list"
)

// DefaultRoom is used when a join message omits "room".
const DefaultRoom = "general"

// Localized error reasons, kept verbatim from the original server for wire
// compatibility (spec.md §9 open question 4).
const (
	ReasonNameTaken = "Имя уже занято"
	ReasonJoinFirst = "Ожидался join"
	ReasonMalformed = "Некорректный JSON"
)

// Inbound is the envelope for a message received from a client. All fields
// are optional except Type; an unrecognized Type is ignored by the session.
type Inbound struct {
	Type    string `json:"type"`
	User    string `json:"user,omitempty"`
	Room    string `json:"room,omitempty"`
	Payload string `json:"payload,omitempty"`
}

// Joined is the success reply to a join request.
type Joined struct {
	Status string `json:"status"`
	Room   string `json:"room"`
}

// Error is the generic failure envelope; the structural "error" key is the
// contract (spec.md §6), the reason text may be localized or verbatim.
type Error struct {
	ErrorText string `json:"error"`
}

// Text is a chat message fanned out to a room.
type Text struct {
	Type    string `json:"type"`
	Payload string `json:"payload"`
}

// RoomList answers list_rooms.
type RoomList struct {
	Type  string   `json:"type"`
	Rooms []string `json:"rooms"`
}

// UserList answers list_users.
type UserList struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
}

// NameHeaderSize is the fixed width of the zero-padded UTF-8 name prefix on
// every media datagram (spec.md §4.4, §6).
const NameHeaderSize = 32

// MaxDatagramSize bounds a single media datagram, header included.
const MaxDatagramSize = 4096
