package sfu

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"sfu/internal/protocol"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAcceptLoopJoinRoundTrip(t *testing.T) {
	s, err := New("127.0.0.1:0", "127.0.0.1:0", zap.NewNop())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.acceptLoop(ctx, ln)
	}()
	defer func() {
		ln.Close()
		<-done
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	msg, err := json.Marshal(protocol.Inbound{Type: protocol.TypeJoin, User: "alice", Room: "general"})
	require.NoError(t, err)
	_, err = conn.Write(msg)
	require.NoError(t, err)

	buf := make([]byte, 1024)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)

	var joined protocol.Joined
	require.NoError(t, json.Unmarshal(buf[:n-1], &joined)) // trailing '\n'
	require.Equal(t, "joined", joined.Status)

	require.Eventually(t, func() bool {
		return s.Registry().LookupByName("alice") != nil
	}, time.Second, 10*time.Millisecond)
}

func TestRunShutsDownOnContextCancel(t *testing.T) {
	s, err := New("127.0.0.1:0", "127.0.0.1:0", zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
