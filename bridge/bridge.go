// Package bridge defines the contract the manager drives every attached
// transport through, plus Base, an embeddable default implementation of
// that contract.
//
// Grounded on original_source/yetibridge/bridge/__init__.py's BaseBridge:
// the register/deregister/detach lifecycle, the _dispatch/_hook pattern,
// and the channel/user mirror it maintains from channel_add/remove and
// user_add/update/remove events. Adapted from Python's getattr-by-name
// hook lookup to Go's idiomatic equivalent: optional interfaces checked
// with a type assertion against the concrete bridge embedding Base (the
// same "does it implement this optional interface" pattern net/http uses
// for http.Hijacker, http.Flusher, and so on), per spec.md §9's "dynamic
// event dispatch by name" note.
package bridge

import (
	"github.com/hornwitser/yetibridge/event"
	"github.com/hornwitser/yetibridge/token"
)

// A Queue is the manager's event intake, the only thing a Bridge needs a
// reference to — the "bridges hold a non-owning handle to the manager"
// design note extended to cover the one other capability a bridge needs
// from the manager: minting a fresh token for a puppet it creates (a
// remote user it represents locally). Both methods are safe for
// concurrent use: any goroutine, dispatcher or transport worker alike,
// may call them.
type Queue interface {
	Enqueue(ev event.Event)
	NewToken() token.Token
}

// A Bridge is the abstract collaborator the manager drives. Concrete
// transports (console, IRC, Discord, …) satisfy this interface, typically
// by embedding Base and adding their own event handlers and lifecycle
// hooks.
type Bridge interface {
	// Token returns the bridge's stable identity token.
	Token() token.Token

	// Register is called once by the manager's Attach, after the bridge
	// has been inserted into the bridge table. It stores q for later use
	// by SendEvent and invokes the OnRegister hook, if any.
	Register(q Queue) error

	// Deregister is called by the manager's Detach. It invokes the
	// OnDeregister hook, if any, then sends a detach event targeted at
	// the manager — the manager's own handler performs the teardown
	// cascade described in spec.md §4.6.
	Deregister()

	// Dispatch delivers ev to the bridge. It is invoked only by the
	// manager's dispatcher and must never block on external I/O.
	Dispatch(ev event.Event)

	// Terminate is called from the manager's Run unwind path for every
	// bridge still in the table. It is idempotent and may be called from
	// any lifecycle state.
	Terminate()
}

// Channel is a bridge's local mirror of one channel: what the manager has
// told this bridge about the channel's name and current users. It shares
// no storage with the manager's authoritative channel.Channel.
type Channel struct {
	ID    token.Token
	Name  string
	Users map[token.Token]*User
}

// User is a bridge's local mirror of one user present in one of its
// mirrored channels.
type User struct {
	ID   token.Token
	Name string
}
