package bridge

import (
	"fmt"
	"sync"

	"github.com/hornwitser/yetibridge/event"
	"github.com/hornwitser/yetibridge/token"
)

// Optional lifecycle and mirror-state hooks. A concrete bridge embedding
// Base implements whichever of these it needs; Base checks for each via a
// type assertion on the value passed to Init, the same "ask if it
// implements the optional interface" pattern net/http uses for
// http.Hijacker/http.Flusher.
type (
	// OnRegisterer is called once Register has stored the queue, typically
	// to kick off the bridge's I/O workers and any initial channel_join.
	OnRegisterer interface{ OnRegister() }
	// OnDeregisterer is called before the detach event is sent.
	OnDeregisterer interface{ OnDeregister() }
	// OnTerminater is called by Terminate.
	OnTerminater interface{ OnTerminate() }
	// OnEventer observes every dispatched event, for tracing; it must not
	// mutate bridge state the way a real handler does.
	OnEventer interface{ OnEvent(ev event.Event) }
	// OnChannelAdder is called after a channel is added to the mirror.
	OnChannelAdder interface{ OnChannelAdd(ch *Channel) }
	// OnChannelRemover is called after a channel is removed from the mirror.
	OnChannelRemover interface{ OnChannelRemove(ch *Channel) }
	// OnUserAdder is called after a user is added to a mirrored channel.
	OnUserAdder interface{ OnUserAdd(ch *Channel, u *User) }
	// OnUserUpdater is called after a mirrored user is renamed. before is
	// a copy of the user's state prior to the rename.
	OnUserUpdater interface{ OnUserUpdate(ch *Channel, before, after User) }
	// OnUserRemover is called after a user is removed from a mirrored
	// channel.
	OnUserRemover interface{ OnUserRemove(ch *Channel, u User) }
)

// Handler is a bridge-specific event handler, registered by name with
// Base.Handle. It runs after Base's own mirror-maintenance handling for
// that name, if any.
type Handler func(ev event.Event)

// Base is an embeddable default Bridge implementation. It maintains the
// channel/user mirror described in spec.md §4.5, runs the optional hooks
// above, dispatches shutdown into a self-detach, and dispatches any other
// event name to a Handler registered with Handle.
//
// Base's mirror maps (channels) are touched only from Dispatch, which per
// spec.md §5 always runs on the single dispatcher goroutine, so no lock
// guards them. SendEvent, by contrast, may be called from any of the
// bridge's own transport worker goroutines and is guarded accordingly.
type Base struct {
	self any // the concrete bridge embedding this Base; hooks are asserted against it

	id token.Token

	mu       sync.Mutex
	queue    Queue
	detached bool

	channels map[token.Token]*Channel
	handlers map[string]Handler
}

// Init must be called by a concrete bridge's constructor before the
// bridge is attached. self is the concrete bridge value (typically a
// pointer to the struct embedding this Base); its optional hook
// interfaces are checked against self, not against Base itself, since Go
// embedding does not support virtual dispatch back into the outer type.
func (b *Base) Init(self any, id token.Token) {
	b.self = self
	b.id = id
	b.channels = make(map[token.Token]*Channel)
	b.handlers = make(map[string]Handler)
}

// Token returns the bridge's identity token.
func (b *Base) Token() token.Token { return b.id }

// Handle registers h as the handler for events named name, arriving after
// Base's own built-in handling of channel_add/channel_remove/user_add/
// user_update/user_remove/shutdown for that same name (those names may
// still be given their own Handler; Base's mirror maintenance always runs
// first).
func (b *Base) Handle(name string, h Handler) {
	b.handlers[name] = h
}

// Register implements Bridge.
func (b *Base) Register(q Queue) error {
	b.mu.Lock()
	if b.queue != nil {
		b.mu.Unlock()
		return fmt.Errorf("bridge: already registered")
	}
	b.queue = q
	b.mu.Unlock()

	if h, ok := b.self.(OnRegisterer); ok {
		h.OnRegister()
	}
	return nil
}

// Deregister implements Bridge.
func (b *Base) Deregister() {
	if h, ok := b.self.(OnDeregisterer); ok {
		h.OnDeregister()
	}
	b.SendEvent(b.id, event.Manager, "detach")
}

// Terminate implements Bridge. It is idempotent: calling it more than
// once, or on a bridge that was never registered, simply invokes the hook
// again — concrete bridges' OnTerminate implementations are expected to
// tolerate that, the same way the reference implementation's terminate()
// is documented as idempotent "at the bridge level".
func (b *Base) Terminate() {
	if h, ok := b.self.(OnTerminater); ok {
		h.OnTerminate()
	}
}

// SendEvent enqueues an event from source to target. It is safe to call
// from any goroutine, including the bridge's own transport workers, per
// spec.md §5 — enqueuing is the only interaction with the manager that is
// safe off the dispatcher goroutine.
func (b *Base) SendEvent(source, target any, name string, args ...any) {
	b.mu.Lock()
	q := b.queue
	b.mu.Unlock()
	if q == nil {
		return
	}
	q.Enqueue(event.New(source, target, name, args...))
}

// NewToken mints a fresh token from the manager's allocator, for a puppet
// identity the bridge is about to create. Safe to call from any
// goroutine; panics if the bridge has not yet been registered.
func (b *Base) NewToken() token.Token {
	b.mu.Lock()
	q := b.queue
	b.mu.Unlock()
	if q == nil {
		panic("bridge: NewToken called before Register")
	}
	return q.NewToken()
}

// Channels returns the bridge's current channel mirror, keyed by channel
// token. Callers must treat the result as read-only; it is only safe to
// call from within a Handler or hook, i.e. on the dispatcher goroutine.
func (b *Base) Channels() map[token.Token]*Channel {
	return b.channels
}

// Dispatch implements Bridge. It is invoked only by the manager's
// dispatcher.
func (b *Base) Dispatch(ev event.Event) {
	if h, ok := b.self.(OnEventer); ok {
		h.OnEvent(ev)
	}

	switch ev.Name {
	case "channel_add":
		b.evChannelAdd(ev)
	case "channel_remove":
		b.evChannelRemove(ev)
	case "user_add":
		b.evUserAdd(ev)
	case "user_update":
		b.evUserUpdate(ev)
	case "user_remove":
		b.evUserRemove(ev)
	case "shutdown":
		b.Deregister()
	}

	if h, ok := b.handlers[ev.Name]; ok {
		h(ev)
	}
}

func (b *Base) evChannelAdd(ev event.Event) {
	channelID, _ := ev.Args[0].(token.Token)
	name, _ := ev.Args[1].(string)
	users, _ := ev.Args[2].(map[token.Token]string)

	ch := &Channel{ID: channelID, Name: name, Users: make(map[token.Token]*User, len(users))}
	for uid, uname := range users {
		ch.Users[uid] = &User{ID: uid, Name: uname}
	}
	b.channels[channelID] = ch

	if h, ok := b.self.(OnChannelAdder); ok {
		h.OnChannelAdd(ch)
	}
}

func (b *Base) evChannelRemove(ev event.Event) {
	channelID, _ := ev.Args[0].(token.Token)
	ch, ok := b.channels[channelID]
	if !ok {
		return
	}
	delete(b.channels, channelID)

	if h, ok := b.self.(OnChannelRemover); ok {
		h.OnChannelRemove(ch)
	}
}

func (b *Base) evUserAdd(ev event.Event) {
	ch, ok := b.channels[ev.Target]
	if !ok {
		return
	}
	uid, _ := ev.Args[0].(token.Token)
	name, _ := ev.Args[1].(string)

	u := &User{ID: uid, Name: name}
	ch.Users[uid] = u

	if h, ok := b.self.(OnUserAdder); ok {
		h.OnUserAdd(ch, u)
	}
}

func (b *Base) evUserUpdate(ev event.Event) {
	ch, ok := b.channels[ev.Target]
	if !ok {
		return
	}
	uid, _ := ev.Args[0].(token.Token)
	name, _ := ev.Args[1].(string)

	after, ok := ch.Users[uid]
	if !ok {
		return
	}
	before := *after
	after.Name = name

	if h, ok := b.self.(OnUserUpdater); ok {
		h.OnUserUpdate(ch, before, *after)
	}
}

func (b *Base) evUserRemove(ev event.Event) {
	ch, ok := b.channels[ev.Target]
	if !ok {
		return
	}
	uid, _ := ev.Args[0].(token.Token)

	u, ok := ch.Users[uid]
	if !ok {
		return
	}
	delete(ch.Users, uid)

	if h, ok := b.self.(OnUserRemover); ok {
		h.OnUserRemove(ch, *u)
	}
}
