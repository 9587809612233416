package registry

import (
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func udpAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port}
}

func TestJoinAndLookup(t *testing.T) {
	r := New()

	p, err := r.Join("alice", "general", "handle-1")
	require.NoError(t, err)
	require.Equal(t, "alice", p.Name)
	require.Equal(t, "general", p.Room)
	require.Nil(t, r.MediaEndpointOf(p))

	require.Equal(t, p, r.LookupByName("alice"))
	require.Contains(t, r.ListRooms(), "general")
	require.ElementsMatch(t, []string{"alice"}, r.ListMembers("general"))
}

func TestJoinNameTaken(t *testing.T) {
	r := New()

	_, err := r.Join("alice", "general", "handle-1")
	require.NoError(t, err)

	_, err = r.Join("alice", "general", "handle-2")
	require.ErrorIs(t, err, ErrNameTaken)

	// Registry must still hold the original alice, untouched.
	p := r.LookupByName("alice")
	require.NotNil(t, p)
	require.Equal(t, ControlHandle("handle-1"), p.ControlHandle)
}

func TestBindMediaUnknown(t *testing.T) {
	r := New()
	_, err := r.BindMedia("ghost", udpAddr(9000))
	require.ErrorIs(t, err, ErrUnknownParticipant)
}

func TestBindMediaSuccessAndAlreadyBound(t *testing.T) {
	r := New()
	_, err := r.Join("alice", "general", "h1")
	require.NoError(t, err)

	addr := udpAddr(9000)
	p, err := r.BindMedia("alice", addr)
	require.NoError(t, err)
	require.Equal(t, addr, r.MediaEndpointOf(p))
	require.Equal(t, p, r.LookupByEndpoint(addr))

	_, err = r.BindMedia("alice", udpAddr(9001))
	require.ErrorIs(t, err, ErrAlreadyBound)
	// First binding is immutable.
	require.Equal(t, addr, r.MediaEndpointOf(p))
}

func TestLeaveRemovesAllIndices(t *testing.T) {
	r := New()
	_, err := r.Join("dave", "ephemeral", "h1")
	require.NoError(t, err)

	addr := udpAddr(9000)
	_, err = r.BindMedia("dave", addr)
	require.NoError(t, err)

	removed := r.Leave("h1")
	require.NotNil(t, removed)
	require.Equal(t, "dave", removed.Name)

	require.Nil(t, r.LookupByName("dave"))
	require.Nil(t, r.LookupByEndpoint(addr))
	require.NotContains(t, r.ListRooms(), "ephemeral")
}

func TestLeaveIsIdempotent(t *testing.T) {
	r := New()
	_, err := r.Join("dave", "ephemeral", "h1")
	require.NoError(t, err)

	require.NotNil(t, r.Leave("h1"))
	require.Nil(t, r.Leave("h1")) // second leave on an already-closed handle is a no-op
}

func TestRejoinAfterLeaveSucceeds(t *testing.T) {
	r := New()
	_, err := r.Join("alice", "general", "h1")
	require.NoError(t, err)
	r.Leave("h1")

	_, err = r.Join("alice", "general", "h2")
	require.NoError(t, err)
}

func TestConcurrentJoinSameNameExactlyOneWins(t *testing.T) {
	r := New()
	const n = 20
	var wg sync.WaitGroup
	results := make([]error, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := r.Join("contested", "general", fmt.Sprintf("h%d", i))
			results[i] = err
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		}
	}
	require.Equal(t, 1, successes)
}

func TestRoomIsolation(t *testing.T) {
	r := New()
	_, err := r.Join("alice", "r1", "h1")
	require.NoError(t, err)
	_, err = r.Join("bob", "r2", "h2")
	require.NoError(t, err)

	alice := r.LookupByName("alice")
	peers := r.PeersInRoom("r1", alice)
	require.Empty(t, peers)

	peers = r.PeersInRoom("r2", nil)
	require.Len(t, peers, 1)
	require.Equal(t, "bob", peers[0].Name)
}

func TestEmptyRoomNotObservable(t *testing.T) {
	r := New()
	_, err := r.Join("dave", "ephemeral", "h1")
	require.NoError(t, err)
	require.Contains(t, r.ListRooms(), "ephemeral")

	r.Leave("h1")
	require.NotContains(t, r.ListRooms(), "ephemeral")
}

func TestValidateName(t *testing.T) {
	_, err := ValidateName("")
	require.Error(t, err)

	_, err = ValidateName("   ")
	require.Error(t, err)

	long := make([]byte, 33)
	for i := range long {
		long[i] = 'a'
	}
	_, err = ValidateName(string(long))
	require.Error(t, err)

	name, err := ValidateName("  alice  ")
	require.NoError(t, err)
	require.Equal(t, "alice", name)
}
