package console

import (
	"bufio"
	"bytes"
	"strings"
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

func newTestBridge() (*Bridge, *bytes.Buffer, *fakeQueue) {
	b := New(1)
	var buf bytes.Buffer
	b.out = bufio.NewWriter(&buf)
	q := &fakeQueue{}
	b.Register(q)
	return b, &buf, q
}

func TestCmdBridgeSendsCommandToManager(t *testing.T) {
	b, _, q := newTestBridge()
	if _, err := b.cmdBridge([]string{"irc", "say", "hello"}); err != nil {
		t.Fatal(err)
	}
	if len(q.events) != 1 {
		t.Fatalf("expected one event, got %d", len(q.events))
	}
	ev := q.events[0]
	if ev.Name != "command" || ev.Target != event.Manager {
		t.Fatalf("expected a command event targeted at the manager, got %+v", ev)
	}
	words, _ := ev.Args[0].([]string)
	if strings.Join(words, " ") != "irc say hello" {
		t.Fatalf("words = %v, want [irc say hello]", words)
	}
	if ev.Args[1] != authority {
		t.Fatalf("authority = %v, want %q", ev.Args[1], authority)
	}
}

func TestCmdManagerPrependsManagerName(t *testing.T) {
	b, _, q := newTestBridge()
	if _, err := b.cmdManager([]string{"shutdown"}); err != nil {
		t.Fatal(err)
	}
	words, _ := q.events[0].Args[0].([]string)
	if strings.Join(words, " ") != "manager shutdown" {
		t.Fatalf("words = %v, want [manager shutdown]", words)
	}
}

func TestCmdShutdownIsManagerShutdownSugar(t *testing.T) {
	b, _, q := newTestBridge()
	if _, err := b.cmdShutdown(nil); err != nil {
		t.Fatal(err)
	}
	words, _ := q.events[0].Args[0].([]string)
	if strings.Join(words, " ") != "manager shutdown" {
		t.Fatalf("words = %v, want [manager shutdown]", words)
	}
}

func TestCmdBridgeRejectsEmptyArgs(t *testing.T) {
	b, _, q := newTestBridge()
	if _, err := b.cmdBridge(nil); err == nil {
		t.Fatal("expected an error for an empty bridge command")
	}
	if len(q.events) != 0 {
		t.Fatalf("expected no event enqueued, got %v", q.events)
	}
}

func TestUserAddUpdateRemovePrintAndTrackNames(t *testing.T) {
	b, buf, _ := newTestBridge()
	b.Dispatch(event.New(token.Token(0), token.Token(42), "user_add", token.Token(7), "alice"))
	if !strings.Contains(buf.String(), "user 'alice' joined") {
		t.Fatalf("output = %q, want a join line", buf.String())
	}
	buf.Reset()

	b.Dispatch(event.New(token.Token(0), token.Token(42), "user_update", token.Token(7), "alice2"))
	if !strings.Contains(buf.String(), "user 'alice2' updated") {
		t.Fatalf("output = %q, want an update line", buf.String())
	}
	buf.Reset()

	b.Dispatch(event.New(token.Token(0), token.Token(42), "user_remove", token.Token(7)))
	if !strings.Contains(buf.String(), "user 'alice2' left") {
		t.Fatalf("output = %q, want a leave line naming the last known display name", buf.String())
	}
}

func TestMessagePrintsSourceName(t *testing.T) {
	b, buf, _ := newTestBridge()
	b.Dispatch(event.New(event.Manager, token.Token(1), "message", "hello there"))
	if !strings.Contains(buf.String(), "Manager: hello there") {
		t.Fatalf("output = %q, want a Manager-attributed message line", buf.String())
	}
}
