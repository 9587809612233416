// Package media implements MediaBinder and MediaForwarder: the SFU's
// low-latency datagram fan-out loop (spec.md §4.4, §4.5).
package media

import (
	"bytes"
	"net"
	"unicode/utf8"

	"sfu/internal/protocol"
	"sfu/internal/registry"
)

// extractName parses the fixed 32-byte name prefix from a media datagram.
// It returns ok=false if the datagram is too short or the decoded name is
// empty after stripping zero padding (spec.md §4.4 steps 1-3).
func extractName(data []byte) (name string, ok bool) {
	if len(data) < protocol.NameHeaderSize {
		return "", false
	}
	header := bytes.TrimRight(data[:protocol.NameHeaderSize], "\x00")
	if len(header) == 0 {
		return "", false
	}
	// utf8.Valid sequences decode as-is; invalid sequences are replaced,
	// matching "decodes as UTF-8 (invalid sequences replaced)" (spec.md §4.4
	// step 2). string() over arbitrary bytes keeps invalid bytes as they
	// are, so the replacement is done explicitly here: each run of invalid
	// bytes becomes one U+FFFD before the name is looked up.
	if !utf8.Valid(header) {
		header = bytes.ToValidUTF8(header, []byte(string(utf8.RuneError)))
	}
	return string(header), len(header) > 0
}

// Bind processes the first media datagram from an unknown source endpoint.
// It returns the bound Participant and true on success; false means the
// caller must drop the datagram silently (spec.md §4.4 step 4).
func Bind(reg *registry.Registry, data []byte, src *net.UDPAddr) (*registry.Participant, bool) {
	name, ok := extractName(data)
	if !ok {
		return nil, false
	}
	p, err := reg.BindMedia(name, src)
	if err != nil {
		// Unknown (race with handshake, or spoof) or AlreadyBound to another
		// endpoint (legitimate sender already owns the binding) — both drop
		// silently per spec.md §4.4 step 4.
		return nil, false
	}
	return p, true
}
