// Package event defines the sole unit of inter-component communication on
// the bridge bus — (source, target, name, payload) — and the well-known
// broadcast targets a manager resolves at dispatch time.
//
// Grounded on original_source/yetibridge/event.py's Event/Target, with the
// Python *args/**kwargs payload split into an ordered Args slice and a
// Kwargs map, per the "variadic event payload" design note.
package event

import "github.com/hornwitser/yetibridge/token"

// A Handle is anything with a stable Token, so an Event can be constructed
// from either a raw token.Token or an entity handle.
type Handle interface {
	Token() token.Token
}

// An Event is the sole message exchanged between the manager and its
// attached bridges. Events are immutable by convention once enqueued,
// except that a translation handler (see the manager package) may rewrite
// Target and Args/Kwargs before the event is dispatched.
type Event struct {
	Source token.Token
	Target token.Token
	Name   string
	Args   []any
	Kwargs map[string]any
}

// New builds an Event. source and target may each be a token.Token or a
// Handle; any other type panics, since it would silently produce an
// unroutable event.
func New(source, target any, name string, args ...any) Event {
	return Event{
		Source: resolve(source),
		Target: resolve(target),
		Name:   name,
		Args:   args,
	}
}

// WithKwargs attaches keyword payload to an Event built by New, mirroring
// the source's **kwargs. Returns ev for chaining.
func (ev Event) WithKwargs(kwargs map[string]any) Event {
	ev.Kwargs = kwargs
	return ev
}

func resolve(v any) token.Token {
	switch t := v.(type) {
	case token.Token:
		return t
	case Handle:
		return t.Token()
	default:
		panic("event: source/target must be a token.Token or a Handle")
	}
}

// ReservedCount is how many low token values this package reserves for
// broadcast targets (1..ReservedCount). The manager seeds its entity
// token.Allocator with token.NewAllocatorAfter(token.Token(ReservedCount))
// so no bridge, channel, or user can ever be allocated one of these.
const ReservedCount = 5

// Well-known broadcast targets. Each is a process-wide singleton token,
// allocated once at init time from the reserved range above.
var (
	// Everything resolves to every attached bridge, including the manager.
	Everything = reserved(1)
	// Manager resolves to the manager alone.
	Manager = reserved(2)
	// AllBridges resolves to every attached bridge except the manager.
	AllBridges = reserved(3)
	// AllChannels resolves to bridges participating in at least one channel.
	AllChannels = reserved(4)
	// AllUsers resolves to bridges that originated at least one present user.
	AllUsers = reserved(5)
)

// reservedTokens is the set of broadcast target tokens, used by the
// manager to recognize a target_id as a broadcast rather than an entity.
var reservedTokens = map[token.Token]bool{}

func reserved(n uint64) token.Token {
	t := token.Token(n)
	reservedTokens[t] = true
	return t
}

// IsBroadcast reports whether t names one of the well-known broadcast
// targets rather than a concrete entity.
func IsBroadcast(t token.Token) bool {
	return reservedTokens[t]
}
