// Package broadcast fans reliable control messages out to a subset of
// sessions in a room (spec.md §4.3).
package broadcast

import (
	"encoding/json"
	"fmt"

	"sfu/internal/registry"

	"go.uber.org/zap"
)

// Writer is the minimal interface a control session exposes for broadcast
// delivery — one framed write. Using an interface lets tests inject a mock.
type Writer interface {
	WriteFrame(data []byte) error
}

// WriterLookup resolves a registry.ControlHandle to the Writer that owns it.
// The control package supplies this; registry.Participant itself carries no
// transport, only the opaque handle, per spec.md's separation of concerns.
type WriterLookup func(handle registry.ControlHandle) Writer

// Broadcaster fans out JSON control messages to room members.
type Broadcaster struct {
	reg    *registry.Registry
	lookup WriterLookup
	log    *zap.Logger
}

// New returns a Broadcaster backed by reg. lookup resolves a Participant's
// ControlHandle to its live Writer; it may return nil if the session has
// already torn down, in which case that peer is silently skipped.
func New(reg *registry.Registry, lookup WriterLookup, log *zap.Logger) *Broadcaster {
	return &Broadcaster{reg: reg, lookup: lookup, log: log}
}

// ToRoom marshals msg once and writes it to every participant in room
// except excluding (pass nil to exclude nobody). Per-peer write failures are
// isolated: one slow or dead peer never affects delivery to the others, and
// broadcast never returns an error to the caller (spec.md §4.2, §4.3).
func (b *Broadcaster) ToRoom(room string, excluding *registry.Participant, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.log.Error("broadcast marshal failed", zap.Error(err))
		return
	}

	peers := b.reg.PeersInRoom(room, excluding)
	for _, p := range peers {
		w := b.lookup(p.ControlHandle)
		if w == nil {
			continue
		}
		if err := w.WriteFrame(data); err != nil {
			b.log.Debug("broadcast write failed, peer will observe independently",
				zap.String("peer", p.Name), zap.Error(err))
		}
	}
}

// ToOne writes msg directly to a single participant. Unlike ToRoom, it
// returns a marshal, lookup or write failure to the caller.
func (b *Broadcaster) ToOne(p *registry.Participant, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	w := b.lookup(p.ControlHandle)
	if w == nil {
		return fmt.Errorf("no live writer for %s", p.Name)
	}
	return w.WriteFrame(data)
}
