package server

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// newTestClient returns a registered client without a network connection;
// its outbound frames can be read from GetSendChan.
func newTestClient(t *testing.T, hub *Hub, relay *Relay, cfg *Config) *Client {
	t.Helper()
	client := NewClient(nil, hub, relay, "127.0.0.1:12345", cfg)
	hub.attach(client)
	return client
}

func drained(t *testing.T, c *Client) int {
	t.Helper()
	n := 0
	for {
		select {
		case _, ok := <-c.GetSendChan():
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}

func TestNewHub(t *testing.T) {
	req := require.New(t)
	hub := NewHub(nil)

	req.NotNil(hub)
	req.Zero(hub.ClientCount())
	req.Zero(hub.RoomCount())
	req.Empty(hub.Members("post-1"))
}

func TestHub_JoinIsIdempotent(t *testing.T) {
	req := require.New(t)
	hub := NewHub(zaptest.NewLogger(t))
	client := newTestClient(t, hub, nil, nil)

	hub.Join("post-42", client)
	hub.Join("post-42", client)

	req.Equal([]*Client{client}, hub.Members("post-42"))
	req.Equal(1, hub.RoomCount())
}

func TestHub_JoinKeepsInsertionOrder(t *testing.T) {
	req := require.New(t)
	hub := NewHub(zaptest.NewLogger(t))
	a := newTestClient(t, hub, nil, nil)
	b := newTestClient(t, hub, nil, nil)
	c := newTestClient(t, hub, nil, nil)

	hub.Join("post-1", b)
	hub.Join("post-1", a)
	hub.Join("post-1", c)

	req.Equal([]*Client{b, a, c}, hub.Members("post-1"))
}

func TestHub_JoinAnotherRoomLeavesThePreviousOne(t *testing.T) {
	req := require.New(t)
	hub := NewHub(zaptest.NewLogger(t))
	client := newTestClient(t, hub, nil, nil)
	other := newTestClient(t, hub, nil, nil)

	hub.Join("post-1", client)
	hub.Join("post-1", other)
	hub.Join("post-2", client)

	req.Equal([]*Client{other}, hub.Members("post-1"))
	req.Equal([]*Client{client}, hub.Members("post-2"))
	roomID, ok := hub.RoomOf(client)
	req.True(ok)
	req.Equal("post-2", roomID)

	hub.Join("post-2", other)
	req.Equal(1, hub.RoomCount(), "empty post-1 should be pruned")
}

func TestHub_Leave(t *testing.T) {
	req := require.New(t)
	hub := NewHub(zaptest.NewLogger(t))
	client := newTestClient(t, hub, nil, nil)

	// Leaving an unknown room or a room the client is not in is a no-op.
	hub.Leave("post-404", client)
	hub.Join("post-1", client)
	hub.Leave("post-2", client)
	req.Equal([]*Client{client}, hub.Members("post-1"))

	hub.Leave("post-1", client)
	req.Empty(hub.Members("post-1"))
	req.Zero(hub.RoomCount())
	_, ok := hub.RoomOf(client)
	req.False(ok)
}

func TestHub_BroadcastReachesOpenMembersOnly(t *testing.T) {
	req := require.New(t)
	hub := NewHub(zaptest.NewLogger(t))

	open := make([]*Client, 3)
	for i := range open {
		open[i] = newTestClient(t, hub, nil, nil)
		hub.Join("post-7", open[i])
	}
	stale := make([]*Client, 2)
	for i := range stale {
		stale[i] = newTestClient(t, hub, nil, nil)
		hub.Join("post-7", stale[i])
		stale[i].closed = true
	}
	outsider := newTestClient(t, hub, nil, nil)
	hub.Join("post-8", outsider)

	delivered := hub.Broadcast("post-7", []byte(`{"senderId":"a","text":"hi"}`))

	req.Equal(3, delivered)
	for _, c := range open {
		req.Equal(`{"senderId":"a","text":"hi"}`, string(<-c.GetSendChan()))
	}
	for _, c := range stale {
		req.Zero(drained(t, c))
	}
	req.Zero(drained(t, outsider))
	req.Equal(open, hub.Members("post-7"), "stale members are dropped during broadcast")
}

func TestHub_BroadcastDisconnectsSlowConsumers(t *testing.T) {
	req := require.New(t)
	hub := NewHub(zaptest.NewLogger(t))
	cfg := NewConfig()
	cfg.SendBufferSize = 1

	slow := newTestClient(t, hub, nil, cfg)
	fast := newTestClient(t, hub, nil, cfg)
	hub.Join("post-1", slow)
	hub.Join("post-1", fast)

	req.Equal(2, hub.Broadcast("post-1", []byte("one")))
	req.Equal("one", string(<-fast.GetSendChan()))

	req.Equal(1, hub.Broadcast("post-1", []byte("two")))
	req.Equal([]*Client{fast}, hub.Members("post-1"))
	req.Equal(1, hub.ClientCount())

	req.Equal("one", string(<-slow.GetSendChan()))
	_, ok := <-slow.GetSendChan()
	req.False(ok, "slow consumer queue should be closed")
}

func TestHub_BroadcastToUnknownRoom(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	require.Zero(t, hub.Broadcast("post-missing", []byte("x")))
}

func TestHub_UnregisterRemovesClientEverywhere(t *testing.T) {
	req := require.New(t)
	hub := NewHub(zaptest.NewLogger(t))
	go hub.Run()
	defer func() { req.NoError(hub.Shutdown(time.Second)) }()

	client := newTestClient(t, hub, nil, nil)
	peer := newTestClient(t, hub, nil, nil)
	hub.Join("post-3", client)
	hub.Join("post-3", peer)

	hub.Unregister(client)

	req.Eventually(func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	req.Equal([]*Client{peer}, hub.Members("post-3"))
	_, ok := <-client.GetSendChan()
	req.False(ok)

	// A second unregister for the same client is ignored.
	hub.Unregister(client)
	req.Equal(1, hub.ClientCount())
}

func TestHub_UnregisterAfterShutdown(t *testing.T) {
	req := require.New(t)
	hub := NewHub(zaptest.NewLogger(t))
	go hub.Run()
	client := newTestClient(t, hub, nil, nil)
	hub.Join("post-1", client)

	req.NoError(hub.Shutdown(time.Second))
	hub.Unregister(client)

	req.Zero(hub.ClientCount())
	req.Zero(hub.RoomCount())
	req.False(hub.Register(NewClient(nil, hub, nil, "x", nil)))
}

func TestHub_SafeSendToUnregisteredClient(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	client := NewClient(nil, hub, nil, "127.0.0.1:1", nil)
	require.False(t, hub.safeSend(client, []byte("x")))
}

func TestHub_JoinRefusesEvictedClient(t *testing.T) {
	req := require.New(t)
	hub := NewHub(zaptest.NewLogger(t))
	cfg := NewConfig()
	cfg.SendBufferSize = 1

	slow := newTestClient(t, hub, nil, cfg)
	req.True(hub.Join("post-1", slow))
	req.Equal(1, hub.Broadcast("post-1", []byte("one")))
	req.Zero(hub.Broadcast("post-1", []byte("two")))
	req.Zero(hub.ClientCount())

	req.False(hub.Join("post-2", slow))
	hub.detach(slow)

	req.Empty(hub.Members("post-2"))
	req.Zero(hub.RoomCount())
	_, ok := hub.RoomOf(slow)
	req.False(ok)
}

func TestHub_BroadcastWhileMembersDisconnect(t *testing.T) {
	req := require.New(t)
	hub := NewHub(zaptest.NewLogger(t))
	go hub.Run()
	defer func() { req.NoError(hub.Shutdown(time.Second)) }()

	members := make([]*Client, 20)
	for i := range members {
		members[i] = newTestClient(t, hub, nil, nil)
		hub.Join("post-5", members[i])
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range 50 {
			hub.Broadcast("post-5", []byte("tick"))
		}
	}()
	go func() {
		defer wg.Done()
		for _, c := range members {
			hub.Unregister(c)
		}
	}()
	wg.Wait()

	req.Eventually(func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	req.Empty(hub.Members("post-5"))
	req.Zero(hub.RoomCount())
	req.Zero(hub.Broadcast("post-5", []byte("late")))
}
