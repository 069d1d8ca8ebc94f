// Package manager implements the bridge manager: the event loop that owns
// the bridge table, the channel table, and the event FIFO every attached
// bridge enqueues into and is dispatched from.
//
// Grounded on original_source/yetibridge/__init__.py's BridgeManager —
// once()/run()/attach()/detach() and the _tr_/_ev_ handler lookup by event
// name — generalized per spec.md §4.6 and the "dynamic event dispatch by
// name" design note into an explicit switch rather than attribute lookup.
// Structured logging follows fenole-szmaterlok's logrus usage.
package manager

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/hornwitser/yetibridge/bridge"
	"github.com/hornwitser/yetibridge/channel"
	"github.com/hornwitser/yetibridge/cmdsys"
	"github.com/hornwitser/yetibridge/event"
	"github.com/hornwitser/yetibridge/internal/queue"
	"github.com/hornwitser/yetibridge/token"
)

// Eavesdropper observes every event once translation has run, for tracing
// only. It must not mutate manager state or enqueue events.
type Eavesdropper func(ev event.Event)

type bridgeEntry struct {
	name   string
	id     token.Token
	handle bridge.Bridge
}

type channelEntry struct {
	id token.Token
	ch *channel.Channel
}

// A Manager is the event bus described by spec.md §4.6: the bridge table,
// the channel table, and the single dispatcher loop that drains the event
// FIFO. Every field below except queue is touched only from the
// dispatcher goroutine (Run, or a caller single-stepping with Once before
// Run starts) and is therefore unguarded.
type Manager struct {
	log *logrus.Logger

	alloc     token.Allocator
	selfToken token.Token

	queue *queue.Queue[event.Event]

	byName  map[string]*bridgeEntry
	byToken map[token.Token]*bridgeEntry

	channelsByName  map[string]*channelEntry
	channelsByToken map[token.Token]*channelEntry

	commands *cmdsys.Registry

	eavesdropper Eavesdropper
	running      bool
}

// New returns a Manager ready to have bridges attached and Run called. A
// nil logger falls back to logrus's standard logger.
func New(log *logrus.Logger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	m := &Manager{
		log:             log,
		alloc:           *token.NewAllocatorAfter(token.Token(event.ReservedCount)),
		queue:           queue.New[event.Event](),
		byName:          make(map[string]*bridgeEntry),
		byToken:         make(map[token.Token]*bridgeEntry),
		channelsByName:  make(map[string]*channelEntry),
		channelsByToken: make(map[token.Token]*channelEntry),
		commands:        cmdsys.NewRegistry(),
	}
	m.selfToken = m.alloc.New()
	m.commands.Register("shutdown", m.cmdShutdown)
	return m
}

// Token returns the manager's own identity token, the source of every
// event the manager enqueues. The command translation step resolves the
// name "manager" to event.Manager, not to this token.
func (m *Manager) Token() token.Token { return m.selfToken }

// NewToken mints a fresh entity token from the manager's allocator. Code
// constructing a bridge calls this to obtain the token the bridge's Init
// is built with, before the bridge is attached; a bridge's own worker
// calls Queue.NewToken (see queueAdapter) for the same reason when it
// mints a puppet identity for a remote user.
func (m *Manager) NewToken() token.Token { return m.alloc.New() }

// SetEavesdropper installs fn as the manager's tracing observer. Pass nil
// to remove it.
func (m *Manager) SetEavesdropper(fn Eavesdropper) { m.eavesdropper = fn }

// queueAdapter is the non-owning handle a bridge's Register receives:
// enough to enqueue events and mint tokens, nothing that would let a
// bridge reach into the manager's tables directly.
type queueAdapter struct{ m *Manager }

func (q *queueAdapter) Enqueue(ev event.Event) { q.m.queue.Enqueue(ev) }
func (q *queueAdapter) NewToken() token.Token  { return q.m.alloc.New() }

// Attach inserts b into the bridge table under name and invokes Register
// on it, which typically starts the bridge's I/O workers and its initial
// channel_join events. name must be unique and is not "manager", the
// reserved name the command system uses to address the manager itself. b
// must already carry the token it was constructed with (see NewToken).
func (m *Manager) Attach(name string, b bridge.Bridge) error {
	if name == "manager" {
		return &StateError{Err: fmt.Errorf("manager: %q is a reserved bridge name", name)}
	}
	if _, exists := m.byName[name]; exists {
		return &StateError{Err: fmt.Errorf("manager: bridge %q is already attached", name)}
	}
	id := b.Token()
	if _, exists := m.byToken[id]; exists {
		return &StateError{Err: fmt.Errorf("manager: bridge %q reused an attached token", name)}
	}

	entry := &bridgeEntry{name: name, id: id, handle: b}
	m.byName[name] = entry
	m.byToken[id] = entry

	if err := b.Register(&queueAdapter{m}); err != nil {
		delete(m.byName, name)
		delete(m.byToken, id)
		return &StateError{Err: err}
	}
	m.log.WithField("bridge", name).Info("bridge attached")
	return nil
}

// Detach begins detaching the bridge named name. It invokes Deregister on
// the bridge, which enqueues a detach event targeted at the manager; the
// actual teardown cascade (channel cleanup, bridge table removal) happens
// later, when the dispatcher processes that event, per spec.md §4.6's
// attach/detach discipline.
func (m *Manager) Detach(name string) error {
	entry, ok := m.byName[name]
	if !ok {
		return &StateError{Err: fmt.Errorf("manager: no such bridge %q", name)}
	}
	entry.handle.Deregister()
	return nil
}

// Terminate closes the event queue, unblocking a pending Dequeue in Run so
// the dispatcher unwinds and calls Terminate on every still-attached
// bridge even if no detach cascade ever emptied the bridge table.
func (m *Manager) Terminate() {
	m.queue.Close()
}

// Run drains the event queue until either the bridge table empties (the
// normal shutdown path, see the "detach" handler) or the queue is closed,
// processing one event at a time with Once. It returns the FatalError
// that stopped it, if any. Whichever way Run exits, Terminate is called
// on every bridge still in the table before Run returns.
func (m *Manager) Run() error {
	m.running = true
	defer m.terminateAll()
	for m.running {
		ev, ok := m.queue.Dequeue()
		if !ok {
			return nil
		}
		if err := m.Once(ev); err != nil {
			return err
		}
	}
	return nil
}

// Once processes a single already-dequeued event: translation, the
// eavesdropper (if any), target resolution, and dispatch to every
// resolved recipient. It returns a non-nil error only for a FatalError,
// i.e. only when ev was (or a handler it triggered raised) an exception
// event. An event whose target cannot be resolved is logged and dropped;
// every other failure is absorbed as a UserError reported back to
// ev.Source.
func (m *Manager) Once(ev event.Event) error {
	if err := m.translate(&ev); err != nil {
		m.reportUserError(ev.Source, err)
		return nil
	}
	if m.eavesdropper != nil {
		m.eavesdropper(ev)
	}

	bridges, self, err := m.resolveTargets(ev.Target)
	if err != nil {
		m.log.WithError(err).WithField("event", ev.Name).Warn("dropping event with unresolvable target")
		return nil
	}

	if self {
		if err := m.dispatchSelf(ev); err != nil {
			var fatal *FatalError
			if errors.As(err, &fatal) {
				return err
			}
			m.reportUserError(ev.Source, err)
		}
	}
	for _, entry := range bridges {
		entry.handle.Dispatch(ev)
	}
	return nil
}

func (m *Manager) terminateAll() {
	for name, entry := range m.byName {
		entry.handle.Terminate()
		delete(m.byName, name)
		delete(m.byToken, entry.id)
	}
}

func (m *Manager) enqueue(source, target any, name string, args ...any) {
	m.queue.Enqueue(event.New(source, target, name, args...))
}

func (m *Manager) reportUserError(source token.Token, err error) {
	m.enqueue(m.selfToken, source, "message", errorMessage(err))
}

func errorMessage(err error) string {
	msg := err.Error()
	if strings.HasPrefix(msg, "error: ") {
		return msg
	}
	return "error: " + msg
}

func (m *Manager) cmdShutdown(args []string) (string, error) {
	m.enqueue(m.selfToken, event.AllBridges, "shutdown")
	return "", nil
}
