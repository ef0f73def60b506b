package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/voicerelay/pkg/relay"
)

func TestManager_TracksSessionsUntilCleanup(t *testing.T) {
	m, err := NewManager(context.Background(), Options{Relay: &recordingSender{reply: relay.Reply{ResponseText: "ok"}}})
	require.NoError(t, err)

	a := newFakeSession("a", "u1")
	b := newFakeSession("b", "u2")
	require.NoError(t, m.OnSession(context.Background(), a))
	require.NoError(t, m.OnSession(context.Background(), b))

	infos := m.List()
	require.Len(t, infos, 2)
	ids := []string{infos[0].SessionID, infos[1].SessionID}
	require.ElementsMatch(t, []string{"a", "b"}, ids)
	require.Equal(t, 1, a.events.subscribers())

	a.cleanup.run()
	_, ok := m.Get("a")
	require.False(t, ok)
	require.Equal(t, 0, a.events.subscribers())
	require.Len(t, m.List(), 1)

	m.CloseAll()
	require.Empty(t, m.List())
	require.Equal(t, 0, b.events.subscribers())
}

func TestManager_ReplacesSessionWithSameID(t *testing.T) {
	m, err := NewManager(context.Background(), Options{Relay: &recordingSender{}})
	require.NoError(t, err)

	first := newFakeSession("same", "u1")
	second := newFakeSession("same", "u1")
	require.NoError(t, m.OnSession(context.Background(), first))
	old, ok := m.Get("same")
	require.True(t, ok)

	require.NoError(t, m.OnSession(context.Background(), second))
	cur, ok := m.Get("same")
	require.True(t, ok)
	require.NotSame(t, old, cur)
	require.True(t, old.Closed())
	require.Equal(t, 0, first.events.subscribers())

	// late cleanup of the replaced connection must not evict the new controller
	first.cleanup.run()
	cur2, ok := m.Get("same")
	require.True(t, ok)
	require.Same(t, cur, cur2)

	m.CloseAll()
}

func TestManager_RefusesSessionIDOfAnotherUser(t *testing.T) {
	sender := &recordingSender{reply: relay.Reply{ShouldRespond: true, ResponseText: "ok"}}
	m, err := NewManager(context.Background(), Options{Relay: sender})
	require.NoError(t, err)
	defer m.CloseAll()

	alice := newFakeSession("shared", "alice")
	bob := newFakeSession("shared", "bob")
	require.NoError(t, m.OnSession(context.Background(), alice))
	err = m.OnSession(context.Background(), bob)
	require.ErrorIs(t, err, ErrSessionInUse)
	require.Equal(t, 0, bob.events.subscribers())

	cur, ok := m.Get("shared")
	require.True(t, ok)
	require.False(t, cur.Closed())
	require.Equal(t, "alice", cur.UserID())

	alice.events.emit("My PIN is 1234", true)
	cur.Wait()
	require.Equal(t, []sentMessage{{"alice", "my pin is 1234"}}, sender.messages())
}

func TestManager_RelaysThroughRegisteredSession(t *testing.T) {
	sender := &recordingSender{reply: relay.Reply{ShouldRespond: true, ResponseText: "hi"}}
	m, err := NewManager(context.Background(), Options{Relay: sender})
	require.NoError(t, err)

	s := newFakeSession("s1", "u1")
	require.NoError(t, m.OnSession(context.Background(), s))
	s.events.emit("Hello", true)

	c, ok := m.Get("s1")
	require.True(t, ok)
	c.Wait()
	require.Equal(t, []sentMessage{{"u1", "hello"}}, sender.messages())
	m.CloseAll()
}

func TestNewManager_RequiresRelay(t *testing.T) {
	_, err := NewManager(context.Background(), Options{})
	require.Error(t, err)
}
