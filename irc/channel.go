package irc

import (
	"context"
	"io"
	"strings"
	"sync"
)

// Channel is one IRC channel joined by a Client: either the bridge's own
// bot presence or a puppet's. Events observed on the wire are delivered
// through Receive.
type Channel struct {
	client *Client
	name   string

	// inWho accumulates RPL_WHOREPLY nicks until RPL_ENDOFWHO closes it.
	inWho chan []string

	in  chan []Event
	out chan Event

	mu sync.Mutex
	// users is the set of nicks currently believed present, maintained
	// from JOIN/PART/NICK/QUIT so callers never need their own mirror
	// just to answer "who is here".
	users map[string]bool
}

func newChannel(client *Client, name string) *Channel {
	ch := &Channel{
		client: client,
		name:   name,
		inWho:  make(chan []string, 1),
		in:     make(chan []Event, 1),
		out:    make(chan Event),
		users:  make(map[string]bool),
	}
	go func() {
		for ns := range ch.inWho {
			for _, n := range ns {
				ch.mu.Lock()
				ch.users[n] = true
				ch.mu.Unlock()
			}
		}
		for es := range ch.in {
			for _, e := range es {
				ch.out <- e
			}
		}
		close(ch.out)
	}()
	return ch
}

func (ch *Channel) Name() string { return ch.name }

// Users returns a snapshot of the nicks currently present.
func (ch *Channel) Users() []string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	out := make([]string, 0, len(ch.users))
	for n := range ch.users {
		out = append(out, n)
	}
	return out
}

// Receive blocks for the next Event, or returns ctx.Err()/io.EOF. Events
// observed before the channel's WHO reply ends (RPL_ENDOFWHO) are held
// and delivered only after it.
func (ch *Channel) Receive(ctx context.Context) (Event, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case ev, ok := <-ch.out:
		if !ok {
			return nil, io.EOF
		}
		return ev, nil
	}
}

func sendEvent(ch *Channel, ev Event) {
	select {
	case ch.in <- []Event{ev}:
	case es := <-ch.in:
		ch.in <- append(es, ev)
	}
}

// Send writes text to the channel as an ordinary PRIVMSG, one line per
// newline in text.
func (ch *Channel) Send(ctx context.Context, text string) error {
	for _, line := range strings.Split(text, "\n") {
		if err := send(ctx, ch.client, PRIVMSG, ch.name, line); err != nil {
			return err
		}
	}
	return nil
}

// SendAction writes text to the channel as a CTCP ACTION, the wire form
// real IRC clients use for "/me" commands.
func (ch *Channel) SendAction(ctx context.Context, text string) error {
	for _, line := range strings.Split(text, "\n") {
		body := actionPrefix + " " + line + actionSuffix
		if err := send(ctx, ch.client, PRIVMSG, ch.name, body); err != nil {
			return err
		}
	}
	return nil
}
