package media

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"sfu/internal/registry"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeReceiver is a standalone UDP socket standing in for a participant's
// media client, so tests can assert on bytes actually received over the
// wire rather than on an injected mock.
type fakeReceiver struct {
	conn *net.UDPConn
}

func newFakeReceiver(t *testing.T) *fakeReceiver {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	return &fakeReceiver{conn: conn}
}

func (f *fakeReceiver) addr() *net.UDPAddr { return f.conn.LocalAddr().(*net.UDPAddr) }

func (f *fakeReceiver) readOne(t *testing.T) []byte {
	t.Helper()
	buf := make([]byte, 4096)
	require.NoError(t, f.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := f.conn.Read(buf)
	require.NoError(t, err)
	out := make([]byte, n)
	copy(out, buf[:n])
	return out
}

func (f *fakeReceiver) expectSilence(t *testing.T, d time.Duration) {
	t.Helper()
	buf := make([]byte, 4096)
	require.NoError(t, f.conn.SetReadDeadline(time.Now().Add(d)))
	_, err := f.conn.Read(buf)
	require.Error(t, err)
}

func newTestForwarder(t *testing.T, reg *registry.Registry) *Forwarder {
	t.Helper()
	fwd, err := NewForwarder("127.0.0.1:0", reg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { fwd.Close() })
	return fwd
}

func sendFrom(t *testing.T, fwd *Forwarder, data []byte, srcPort int) {
	t.Helper()
	src, err := net.DialUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: srcPort}, fwd.conn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer src.Close()
	_, err = src.Write(data)
	require.NoError(t, err)
}

func TestForwardToRoomPeerVerbatim(t *testing.T) {
	reg := registry.New()
	_, err := reg.Join("alice", "general", "h1")
	require.NoError(t, err)
	_, err = reg.Join("bob", "general", "h2")
	require.NoError(t, err)

	fwd := newTestForwarder(t, reg)
	go fwd.Run(context.Background())

	bob := newFakeReceiver(t)
	defer bob.conn.Close()
	_, err = reg.BindMedia("bob", bob.addr())
	require.NoError(t, err)

	payload := append(padName("alice"), bytes.Repeat([]byte{0x42}, 2048)...)
	sendFrom(t, fwd, payload, 0)

	got := bob.readOne(t)
	require.Equal(t, payload, got)
}

func TestRoomIsolationNoCrossRoomDelivery(t *testing.T) {
	reg := registry.New()
	_, err := reg.Join("alice", "r1", "h1")
	require.NoError(t, err)
	_, err = reg.Join("bob", "r2", "h2")
	require.NoError(t, err)

	fwd := newTestForwarder(t, reg)
	go fwd.Run(context.Background())

	bob := newFakeReceiver(t)
	defer bob.conn.Close()
	_, err = reg.BindMedia("bob", bob.addr())
	require.NoError(t, err)

	payload := append(padName("alice"), bytes.Repeat([]byte{0x01}, 2048)...)
	sendFrom(t, fwd, payload, 0)

	bob.expectSilence(t, 300*time.Millisecond)
}

func TestDatagramFromUnboundUnknownNameProducesNoForward(t *testing.T) {
	reg := registry.New()
	fwd := newTestForwarder(t, reg)
	go fwd.Run(context.Background())

	bob := newFakeReceiver(t)
	defer bob.conn.Close()
	_, err := reg.Join("bob", "general", "h2")
	require.NoError(t, err)
	_, err = reg.BindMedia("bob", bob.addr())
	require.NoError(t, err)

	payload := append(padName("ghost"), bytes.Repeat([]byte{0x01}, 16)...)
	sendFrom(t, fwd, payload, 0)

	bob.expectSilence(t, 300*time.Millisecond)
}

func TestShortDatagramDroppedWithoutSideEffects(t *testing.T) {
	reg := registry.New()
	fwd := newTestForwarder(t, reg)
	go fwd.Run(context.Background())

	sendFrom(t, fwd, make([]byte, 10), 0)
	time.Sleep(100 * time.Millisecond)

	require.Equal(t, 0, reg.ParticipantCount())
}

func TestPeerWithoutMediaEndpointSkipped(t *testing.T) {
	reg := registry.New()
	_, err := reg.Join("alice", "general", "h1")
	require.NoError(t, err)
	_, err = reg.Join("bob", "general", "h2") // never binds media
	require.NoError(t, err)

	fwd := newTestForwarder(t, reg)
	go fwd.Run(context.Background())

	payload := append(padName("alice"), bytes.Repeat([]byte{0x01}, 16)...)
	// Should not panic or block despite bob having no media endpoint.
	sendFrom(t, fwd, payload, 0)
	time.Sleep(100 * time.Millisecond)
}
