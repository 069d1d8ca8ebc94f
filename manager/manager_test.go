package manager

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hornwitser/yetibridge/bridge"
	"github.com/hornwitser/yetibridge/event"
	"github.com/hornwitser/yetibridge/token"
)

// recordingBridge is a bare bridge.Base embedder that records every event
// it is dispatched, for assertions — the test-bed equivalent of an
// OnEventer hook, grounded on the same pattern bridge/base_test.go uses.
type recordingBridge struct {
	bridge.Base
	received []event.Event
}

func (b *recordingBridge) OnEvent(ev event.Event) {
	b.received = append(b.received, ev)
}

func newRecordingBridge(m *Manager) *recordingBridge {
	b := &recordingBridge{}
	b.Init(b, m.NewToken())
	return b
}

func (b *recordingBridge) names() []string {
	names := make([]string, len(b.received))
	for i, ev := range b.received {
		names[i] = ev.Name
	}
	return names
}

func attach(t *testing.T, m *Manager, name string, b bridge.Bridge) {
	t.Helper()
	require.NoError(t, m.Attach(name, b))
}

// drainAll runs Once over every event currently queued, including
// follow-ups enqueued by earlier events, until the queue is empty.
func drainAll(t *testing.T, m *Manager) {
	t.Helper()
	for {
		ev, ok := m.queue.TryDequeue()
		if !ok {
			return
		}
		require.NoError(t, m.Once(ev))
	}
}

func newTestManager() *Manager {
	return New(nil)
}

// S1: a lone bridge joins a fresh channel.
func TestChannelJoinCreatesChannel(t *testing.T) {
	m := newTestManager()
	a := newRecordingBridge(m)
	attach(t, m, "a", a)

	a.SendEvent(a.Token(), event.Manager, "channel_join", "lobby")
	drainAll(t, m)

	entry, ok := m.channelsByName["lobby"]
	require.True(t, ok)
	require.True(t, entry.ch.HasParticipant(a.Token()))

	require.Contains(t, a.names(), "channel_add")
	var add event.Event
	for _, ev := range a.received {
		if ev.Name == "channel_add" {
			add = ev
		}
	}
	require.Equal(t, entry.id, add.Args[0])
	require.Equal(t, "lobby", add.Args[1])
	require.Empty(t, add.Args[2].(map[token.Token]string))
}

// S2: a second bridge joins the same channel and receives the (empty)
// current snapshot; the first bridge gets nothing extra.
func TestSecondBridgeJoinReceivesSnapshot(t *testing.T) {
	m := newTestManager()
	a := newRecordingBridge(m)
	b := newRecordingBridge(m)
	attach(t, m, "a", a)
	attach(t, m, "b", b)

	a.SendEvent(a.Token(), event.Manager, "channel_join", "lobby")
	drainAll(t, m)
	a.received = nil

	b.SendEvent(b.Token(), event.Manager, "channel_join", "lobby")
	drainAll(t, m)

	entry := m.channelsByName["lobby"]
	require.True(t, entry.ch.HasParticipant(a.Token()))
	require.True(t, entry.ch.HasParticipant(b.Token()))
	require.Len(t, b.received, 1)
	require.Equal(t, "channel_add", b.received[0].Name)
	require.Empty(t, b.received[0].Args[2].(map[token.Token]string))
	require.Empty(t, a.received)
}

// S3: a user joining through one bridge is mirrored to every bridge in
// the channel, including the one that did not originate it.
func TestUserJoinBroadcastsToChannel(t *testing.T) {
	m := newTestManager()
	a := newRecordingBridge(m)
	b := newRecordingBridge(m)
	attach(t, m, "a", a)
	attach(t, m, "b", b)

	a.SendEvent(a.Token(), event.Manager, "channel_join", "lobby")
	b.SendEvent(b.Token(), event.Manager, "channel_join", "lobby")
	drainAll(t, m)
	a.received, b.received = nil, nil

	lobby := m.channelsByName["lobby"]
	uid := m.NewToken()
	a.SendEvent(a.Token(), event.Manager, "user_join", lobby.id, uid, "alice")
	drainAll(t, m)

	u, ok := lobby.ch.User(uid)
	require.True(t, ok)
	require.Equal(t, "alice", u.Name)
	require.Equal(t, a.Token(), u.Origin)

	for _, b := range []*recordingBridge{a, b} {
		require.Contains(t, b.names(), "user_add")
	}
}

// S4: detaching a bridge removes the users it originated everywhere they
// appeared, and destroys channels it was the sole participant of.
func TestDetachRemovesOriginatedUsersAndEmptyChannels(t *testing.T) {
	m := newTestManager()
	a := newRecordingBridge(m)
	b := newRecordingBridge(m)
	attach(t, m, "a", a)
	attach(t, m, "b", b)

	a.SendEvent(a.Token(), event.Manager, "channel_join", "lobby")
	b.SendEvent(b.Token(), event.Manager, "channel_join", "lobby")
	drainAll(t, m)

	lobby := m.channelsByName["lobby"]
	uid := m.NewToken()
	a.SendEvent(a.Token(), event.Manager, "user_join", lobby.id, uid, "alice")
	drainAll(t, m)
	b.received = nil

	a.Deregister()
	drainAll(t, m)

	_, stillPresent := lobby.ch.User(uid)
	require.False(t, stillPresent)
	require.False(t, lobby.ch.HasParticipant(a.Token()))
	require.True(t, lobby.ch.HasParticipant(b.Token()))
	require.Contains(t, b.names(), "user_remove")

	ch, ok := b.Channels()[lobby.id]
	require.True(t, ok)
	_, mirrored := ch.Users[uid]
	require.False(t, mirrored)
}

// Round-trip law: channel_join then channel_leave by the sole participant
// leaves no trace of the channel.
func TestChannelJoinLeaveRoundTrip(t *testing.T) {
	m := newTestManager()
	a := newRecordingBridge(m)
	attach(t, m, "a", a)

	a.SendEvent(a.Token(), event.Manager, "channel_join", "lobby")
	drainAll(t, m)
	require.Contains(t, m.channelsByName, "lobby")

	a.SendEvent(a.Token(), event.Manager, "channel_leave", "lobby")
	drainAll(t, m)
	require.NotContains(t, m.channelsByName, "lobby")
}

// S5: an unknown target bridge name in a command produces a message back
// to the source and never reaches any bridge's Dispatch.
func TestCommandToUnknownBridgeReportsError(t *testing.T) {
	m := newTestManager()
	console := newRecordingBridge(m)
	other := newRecordingBridge(m)
	attach(t, m, "console", console)
	attach(t, m, "other", other)

	console.SendEvent(console.Token(), event.Manager, "command", []string{"nonexistent", "foo"}, "local")
	drainAll(t, m)

	require.NotContains(t, other.names(), "command")
	var found bool
	for _, ev := range console.received {
		if ev.Name == "message" {
			found = true
			require.Equal(t, "error: 'nonexistent' no such bridge", ev.Args[0])
		}
	}
	require.True(t, found, "expected a message event reporting the unknown bridge")
}

// S6: "manager shutdown" broadcasts shutdown to every bridge, each of
// which detaches in response, leaving nothing attached.
func TestManagerShutdownCommandDetachesEveryBridge(t *testing.T) {
	m := newTestManager()
	a := newRecordingBridge(m)
	b := newRecordingBridge(m)
	attach(t, m, "a", a)
	attach(t, m, "b", b)

	a.SendEvent(a.Token(), event.Manager, "command", []string{"manager", "shutdown"}, "local")
	drainAll(t, m)

	require.Contains(t, a.names(), "shutdown")
	require.Contains(t, b.names(), "shutdown")
	require.Empty(t, m.byName)
	require.False(t, m.running)
}

// Invariant 1 & 2: every channel has at least one participant, and every
// user's origin is among that channel's participants.
func TestInvariantsHoldAfterActivity(t *testing.T) {
	m := newTestManager()
	a := newRecordingBridge(m)
	b := newRecordingBridge(m)
	attach(t, m, "a", a)
	attach(t, m, "b", b)

	a.SendEvent(a.Token(), event.Manager, "channel_join", "lobby")
	b.SendEvent(b.Token(), event.Manager, "channel_join", "lobby")
	uid := m.NewToken()
	lobby := m.channelsByName["lobby"]
	a.SendEvent(a.Token(), event.Manager, "user_join", lobby.id, uid, "alice")
	drainAll(t, m)

	for _, entry := range m.channelsByToken {
		require.NotEmpty(t, entry.ch.Participants())
		for _, u := range entry.ch.Users() {
			rec, _ := entry.ch.User(u)
			require.True(t, entry.ch.HasParticipant(rec.Origin))
		}
	}
}

// An exception event is fatal and unwinds Run, terminating every
// remaining bridge.
func TestExceptionEventTerminatesTheLoop(t *testing.T) {
	m := newTestManager()
	a := newRecordingBridge(m)
	attach(t, m, "a", a)

	a.SendEvent(a.Token(), event.Manager, "exception", "transport died")

	done := make(chan error, 1)
	go func() { done <- m.Run() }()

	err := <-done
	require.Error(t, err)
	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	require.Empty(t, m.byName)
}
