package media

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"sfu/internal/protocol"
	"sfu/internal/registry"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// breakerSettings configures the per-peer circuit breaker: after 50
// consecutive send failures the breaker opens (Interval 0: counts are not
// cleared on a timer while closed), and lets one probe through after
// Timeout. This replaces the
// teacher's hand-rolled sendHealth struct (client.go) with a real
// third-party breaker while keeping the same job — stop wasting sends on an
// unreachable peer.
var breakerSettings = func(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 50 // ~1s of voice at 50 fps
		},
	}
}

// Forwarder owns the UDP socket for the server's lifetime and runs the
// single hot loop that reads datagrams and fans them out (spec.md §4.5,
// §5). There is exactly one Forwarder per server.
type Forwarder struct {
	conn *net.UDPConn
	reg  *registry.Registry
	log  *zap.Logger

	breakersMu sync.Mutex
	breakers   map[string]*gobreaker.CircuitBreaker

	datagramsForwarded, bytesForwarded, datagramsDropped uint64
	statsMu                                              sync.Mutex
}

// NewForwarder binds a UDP socket on addr (the wildcard interface with the
// configured media port, spec.md §6) and returns a Forwarder ready to Run.
func NewForwarder(addr string, reg *registry.Registry, log *zap.Logger) (*Forwarder, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	return &Forwarder{
		conn:     conn,
		reg:      reg,
		log:      log,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}, nil
}

// Close releases the UDP socket, unblocking any in-flight ReadFromUDP.
func (f *Forwarder) Close() error {
	return f.conn.Close()
}

// Run drains the media socket until ctx is canceled or the socket is closed.
// It is the single dedicated task described in spec.md §5: serializing the
// hot loop eliminates contention on the socket and on the Registry snapshot.
func (f *Forwarder) Run(ctx context.Context) error {
	buf := make([]byte, protocol.MaxDatagramSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, src, err := f.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			f.log.Debug("media read error", zap.Error(err))
			continue
		}
		f.handleDatagram(buf[:n], src)
	}
}

// handleDatagram implements spec.md §4.5 steps 2-4 for a single datagram.
func (f *Forwarder) handleDatagram(data []byte, src *net.UDPAddr) {
	sender := f.reg.LookupByEndpoint(src)
	if sender == nil {
		p, ok := Bind(f.reg, data, src)
		if !ok {
			f.recordDrop()
			return
		}
		sender = p
	}

	peers := f.reg.PeersInRoom(sender.Room, sender)
	f.recordForward(len(data))
	for _, peer := range peers {
		endpoint := f.reg.MediaEndpointOf(peer)
		if endpoint == nil {
			continue // cannot receive yet (spec.md §4.5 tie-break policy)
		}
		f.sendTo(peer.Name, endpoint, data)
	}
}

// sendTo writes data to endpoint through peerName's circuit breaker. A send
// failure to one peer never affects sends to other peers (spec.md §4.5).
func (f *Forwarder) sendTo(peerName string, endpoint *net.UDPAddr, data []byte) {
	breaker := f.breakerFor(peerName)
	_, err := breaker.Execute(func() (any, error) {
		_, err := f.conn.WriteToUDP(data, endpoint)
		return nil, err
	})
	if err != nil {
		f.log.Debug("media send failed", zap.String("peer", peerName), zap.Error(err))
	}
}

func (f *Forwarder) breakerFor(peerName string) *gobreaker.CircuitBreaker {
	f.breakersMu.Lock()
	defer f.breakersMu.Unlock()
	b, ok := f.breakers[peerName]
	if !ok {
		b = gobreaker.NewCircuitBreaker(breakerSettings(peerName))
		f.breakers[peerName] = b
	}
	return b
}

func (f *Forwarder) recordForward(n int) {
	f.statsMu.Lock()
	f.datagramsForwarded++
	f.bytesForwarded += uint64(n)
	f.statsMu.Unlock()
}

func (f *Forwarder) recordDrop() {
	f.statsMu.Lock()
	f.datagramsDropped++
	f.statsMu.Unlock()
}

// Stats returns accumulated counters since the last call and resets them.
func (f *Forwarder) Stats() (forwarded, bytesOut, dropped uint64) {
	f.statsMu.Lock()
	defer f.statsMu.Unlock()
	forwarded, bytesOut, dropped = f.datagramsForwarded, f.bytesForwarded, f.datagramsDropped
	f.datagramsForwarded, f.bytesForwarded, f.datagramsDropped = 0, 0, 0
	return
}
