package bridge

import (
	"testing"

	"github.com/hornwitser/yetibridge/event"
	"github.com/hornwitser/yetibridge/token"
)

type fakeQueue struct {
	events []event.Event
	next   token.Token
}

func (q *fakeQueue) Enqueue(ev event.Event) { q.events = append(q.events, ev) }

func (q *fakeQueue) NewToken() token.Token {
	q.next++
	return q.next
}

type testBridge struct {
	Base
	registered   bool
	deregistered bool
	terminated   int
	added        []*Channel
}

func (t *testBridge) OnRegister()          { t.registered = true }
func (t *testBridge) OnDeregister()        { t.deregistered = true }
func (t *testBridge) OnTerminate()         { t.terminated++ }
func (t *testBridge) OnChannelAdd(c *Channel) { t.added = append(t.added, c) }

func newTestBridge(id token.Token) *testBridge {
	b := &testBridge{}
	b.Init(b, id)
	return b
}

func TestRegisterInvokesHook(t *testing.T) {
	b := newTestBridge(1)
	q := &fakeQueue{}
	if err := b.Register(q); err != nil {
		t.Fatal(err)
	}
	if !b.registered {
		t.Fatal("OnRegister was not called")
	}
	if err := b.Register(q); err == nil {
		t.Fatal("registering twice should fail")
	}
}

func TestDeregisterSendsDetach(t *testing.T) {
	b := newTestBridge(1)
	q := &fakeQueue{}
	b.Register(q)
	b.Deregister()

	if !b.deregistered {
		t.Fatal("OnDeregister was not called")
	}
	if len(q.events) != 1 || q.events[0].Name != "detach" {
		t.Fatalf("expected a single detach event, got %v", q.events)
	}
	if q.events[0].Target != event.Manager {
		t.Fatalf("detach event should target the manager")
	}
}

func TestShutdownTriggersDetach(t *testing.T) {
	b := newTestBridge(1)
	q := &fakeQueue{}
	b.Register(q)
	b.Dispatch(event.New(token.Token(99), b.Token(), "shutdown"))

	if len(q.events) != 1 || q.events[0].Name != "detach" {
		t.Fatalf("shutdown should cause a detach to be sent, got %v", q.events)
	}
}

func TestChannelAddPopulatesMirror(t *testing.T) {
	b := newTestBridge(1)
	var channelID token.Token = 42
	users := map[token.Token]string{7: "alice"}
	b.Dispatch(event.New(token.Token(0), b.Token(), "channel_add", channelID, "lobby", users))

	ch, ok := b.Channels()[channelID]
	if !ok {
		t.Fatalf("channel not added to mirror")
	}
	if ch.Name != "lobby" {
		t.Fatalf("channel name = %q, want lobby", ch.Name)
	}
	if u, ok := ch.Users[7]; !ok || u.Name != "alice" {
		t.Fatalf("user mirror incorrect: %+v", ch.Users)
	}
	if len(b.added) != 1 {
		t.Fatalf("OnChannelAdd hook not invoked")
	}
}

func TestUserAddUpdateRemoveRoundTrip(t *testing.T) {
	b := newTestBridge(1)
	var channelID token.Token = 42
	b.Dispatch(event.New(token.Token(0), b.Token(), "channel_add", channelID, "lobby", map[token.Token]string{}))

	var uid token.Token = 7
	b.Dispatch(event.New(token.Token(0), channelID, "user_add", uid, "alice"))
	ch := b.Channels()[channelID]
	if _, ok := ch.Users[uid]; !ok {
		t.Fatal("user_add did not populate mirror")
	}

	b.Dispatch(event.New(token.Token(0), channelID, "user_update", uid, "alice2"))
	if ch.Users[uid].Name != "alice2" {
		t.Fatalf("user_update did not rename, got %q", ch.Users[uid].Name)
	}

	b.Dispatch(event.New(token.Token(0), channelID, "user_remove", uid))
	if _, ok := ch.Users[uid]; ok {
		t.Fatal("user_remove did not discard the mirror entry")
	}
}

func TestCustomHandlerReceivesEvent(t *testing.T) {
	b := newTestBridge(1)
	var seen string
	b.Handle("message", func(ev event.Event) {
		seen, _ = ev.Args[0].(string)
	})
	b.Dispatch(event.New(token.Token(0), b.Token(), "message", "hello"))
	if seen != "hello" {
		t.Fatalf("custom handler did not run, seen = %q", seen)
	}
}

func TestTerminateIsIdempotent(t *testing.T) {
	b := newTestBridge(1)
	b.Terminate()
	b.Terminate()
	if b.terminated != 2 {
		t.Fatalf("terminate hook called %d times, want 2 (idempotent calls still invoke the hook)", b.terminated)
	}
}

func TestNewTokenDrawsFromQueue(t *testing.T) {
	b := newTestBridge(1)
	q := &fakeQueue{}
	b.Register(q)

	first := b.NewToken()
	second := b.NewToken()
	if first == second {
		t.Fatalf("NewToken returned the same token twice: %v", first)
	}
}

func TestNewTokenPanicsBeforeRegister(t *testing.T) {
	b := newTestBridge(1)
	defer func() {
		if recover() == nil {
			t.Fatal("expected NewToken to panic before Register")
		}
	}()
	b.NewToken()
}
