package manager

import (
	"fmt"

	"github.com/hornwitser/yetibridge/token"
)

// UserError is malformed input from an external actor: an empty or
// unknown command, an unknown bridge name, an unmatched quote in split.
// The dispatcher never stops for one; it is turned into a message event
// addressed back to whatever sent the offending event.
type UserError struct{ Err error }

func (e *UserError) Error() string { return e.Err.Error() }
func (e *UserError) Unwrap() error { return e.Err }

// StateError is an invariant violation the core can recover from:
// attaching an already-attached name, detaching an unknown name,
// registering an already-registered bridge. Returned from the public
// Attach/Detach API; the same condition reached from inside an event
// handler is reported as a UserError instead, since nothing outside the
// loop is waiting to receive a Go error there.
type StateError struct{ Err error }

func (e *StateError) Error() string { return e.Err.Error() }
func (e *StateError) Unwrap() error { return e.Err }

// InvalidTargetError means target resolution found no recipient for an
// event's target. It is almost always a programming error in whatever
// constructed the event; it drops that one event rather than the whole
// dispatcher.
type InvalidTargetError struct{ Target token.Token }

func (e *InvalidTargetError) Error() string {
	return fmt.Sprintf("manager: invalid target %s", e.Target)
}

// FatalError terminates the dispatcher loop. It is produced only by an
// exception event; Run returns it to its caller once Terminate has run on
// every remaining bridge.
type FatalError struct{ Err error }

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }
