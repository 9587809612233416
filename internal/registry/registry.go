// Package registry is the process-wide directory of participants and rooms.
// It is the single source of truth the rest of the server consults: the
// control plane for membership and chat fan-out, the media plane for
// datagram fan-out. A single coarse lock guards all indices; snapshot reads
// are cheap because room sizes are small (spec.md §4.1).
package registry

import (
	"errors"
	"net"
	"strings"
	"sync"
)

// Sentinel errors returned by Registry operations. Registry methods never
// panic or raise — every outcome is classified and returned, per spec.md §7.
var (
	ErrNameTaken          = errors.New("name already taken")
	ErrUnknownParticipant = errors.New("unknown participant")
	ErrAlreadyBound       = errors.New("media endpoint already bound")
)

// ControlHandle identifies one reliable connection. Any comparable value
// works; the control package uses a pointer to its own session type.
type ControlHandle any

// Participant is the fundamental entity (spec.md §3).
type Participant struct {
	Name          string
	Room          string
	ControlHandle ControlHandle

	// mediaEndpoint is nil until the first valid media datagram arrives; it
	// transitions once from nil to set and is immutable thereafter for the
	// lifetime of this Participant (spec.md §9: mutate in place, no record
	// replacement).
	mediaEndpoint *net.UDPAddr
}

// Registry is the process-wide directory. Zero value is not usable; use New.
type Registry struct {
	mu sync.RWMutex

	byHandle   map[ControlHandle]*Participant
	byName     map[string]*Participant
	byEndpoint map[string]*Participant // keyed by net.UDPAddr.String()
	rooms      map[string]map[*Participant]struct{}
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		byHandle:   make(map[ControlHandle]*Participant),
		byName:     make(map[string]*Participant),
		byEndpoint: make(map[string]*Participant),
		rooms:      make(map[string]map[*Participant]struct{}),
	}
}

// Join registers a new Participant under name in room, bound to handle.
// Fails with ErrNameTaken, leaving the Registry unmodified, if name is
// already indexed.
func (r *Registry) Join(name, room string, handle ControlHandle) (*Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return nil, ErrNameTaken
	}

	p := &Participant{Name: name, Room: room, ControlHandle: handle}
	r.byHandle[handle] = p
	r.byName[name] = p
	if r.rooms[room] == nil {
		r.rooms[room] = make(map[*Participant]struct{})
	}
	r.rooms[room][p] = struct{}{}
	return p, nil
}

// BindMedia associates endpoint with the Participant named name. Fails with
// ErrUnknownParticipant if no such participant exists, or ErrAlreadyBound if
// the participant already has a media endpoint (the caller drops the
// datagram in both cases; see spec.md §4.4).
func (r *Registry) BindMedia(name string, endpoint *net.UDPAddr) (*Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byName[name]
	if !ok {
		return nil, ErrUnknownParticipant
	}
	if p.mediaEndpoint != nil {
		return nil, ErrAlreadyBound
	}
	p.mediaEndpoint = endpoint
	r.byEndpoint[endpoint.String()] = p
	return p, nil
}

// MediaEndpointOf returns p's bound media endpoint, or nil if none has been
// bound yet. Participant.mediaEndpoint is written by BindMedia under
// r.mu.Lock(), so reading it safely requires the same lock — this accessor
// lives on Registry, not Participant, for exactly that reason.
func (r *Registry) MediaEndpointOf(p *Participant) *net.UDPAddr {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return p.mediaEndpoint
}

// LookupByEndpoint returns the Participant bound to endpoint, or nil.
func (r *Registry) LookupByEndpoint(endpoint *net.UDPAddr) *Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byEndpoint[endpoint.String()]
}

// LookupByName returns the Participant named name, or nil.
func (r *Registry) LookupByName(name string) *Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

// PeersInRoom returns a snapshot of every Participant in room, excluding
// excluding (pass nil to exclude nobody). Safe to iterate without holding
// the lock.
func (r *Registry) PeersInRoom(room string, excluding *Participant) []*Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.rooms[room]
	out := make([]*Participant, 0, len(set))
	for p := range set {
		if p == excluding {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Leave removes the Participant associated with handle from all indices,
// destroying its Room if it becomes empty. Returns the removed Participant,
// or nil if handle was not registered (a second Leave on an already-closed
// handle is a no-op).
func (r *Registry) Leave(handle ControlHandle) *Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byHandle[handle]
	if !ok {
		return nil
	}

	delete(r.byHandle, handle)
	delete(r.byName, p.Name)
	if p.mediaEndpoint != nil {
		delete(r.byEndpoint, p.mediaEndpoint.String())
	}
	if set := r.rooms[p.Room]; set != nil {
		delete(set, p)
		if len(set) == 0 {
			delete(r.rooms, p.Room)
		}
	}
	return p
}

// ListRooms returns the set of rooms with at least one participant, in the
// state they held at the moment the query was serialized under the lock.
func (r *Registry) ListRooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.rooms))
	for name := range r.rooms {
		out = append(out, name)
	}
	return out
}

// ListMembers returns the names of every participant in room.
func (r *Registry) ListMembers(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.rooms[room]
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p.Name)
	}
	return out
}

// ParticipantCount returns the total number of registered participants,
// across all rooms. Used for metrics.
func (r *Registry) ParticipantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// RoomCount returns the number of non-empty rooms. Used for metrics.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// ValidateName enforces spec.md §3's name constraints: non-empty UTF-8, at
// most 32 bytes when encoded.
func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("name must not be empty")
	}
	if len(name) > 32 {
		return "", errors.New("name exceeds 32 bytes")
	}
	return name, nil
}
