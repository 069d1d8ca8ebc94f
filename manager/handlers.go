package manager

import (
	"fmt"

	"github.com/hornwitser/yetibridge/channel"
	"github.com/hornwitser/yetibridge/event"
	"github.com/hornwitser/yetibridge/token"
)

// translate rewrites ev in place before it is resolved and dispatched.
// Every event name but "command" passes through unchanged — translations
// default to identity, per the "dynamic event dispatch by name" design
// note. A command's payload starts as (words []string, authority string)
// targeted at the manager; translate consumes words[0] as a bridge name
// and rewrites the target to that bridge's token, leaving the remaining
// words and the authority string as the new payload.
func (m *Manager) translate(ev *event.Event) error {
	if ev.Name != "command" {
		return nil
	}
	words, _ := ev.Args[0].([]string)
	var authority string
	if len(ev.Args) > 1 {
		authority, _ = ev.Args[1].(string)
	}
	if len(words) == 0 {
		return &UserError{Err: fmt.Errorf("error: empty command")}
	}

	name := words[0]
	var target token.Token
	if name == "manager" {
		// event.Manager, not m.selfToken: resolveTargets recognizes the
		// manager only via this reserved constant, the same way it does
		// for every other broadcast target.
		target = event.Manager
	} else {
		entry, ok := m.byName[name]
		if !ok {
			return &UserError{Err: fmt.Errorf("error: '%s' no such bridge", name)}
		}
		target = entry.id
	}

	ev.Target = target
	ev.Args = []any{words[1:], authority}
	return nil
}

// dispatchSelf runs the manager's own handler for ev.Name, the equivalent
// of a bridge's Dispatch but for the manager itself, invoked only when
// target resolution placed the manager among the recipients. Event names
// with no case here are silently ignored, the same default every other
// dispatcher in this module uses.
func (m *Manager) dispatchSelf(ev event.Event) error {
	switch ev.Name {
	case "channel_join":
		return m.handleChannelJoin(ev)
	case "channel_leave":
		return m.handleChannelLeave(ev)
	case "user_join":
		return m.handleUserJoin(ev)
	case "user_change":
		return m.handleUserChange(ev)
	case "user_leave":
		return m.handleUserLeave(ev)
	case "detach":
		return m.handleDetach(ev)
	case "command":
		return m.handleCommand(ev)
	case "exception":
		return m.handleException(ev)
	}
	return nil
}

func argToken(ev event.Event, i int) (token.Token, error) {
	if i >= len(ev.Args) {
		return 0, fmt.Errorf("event %q: missing argument %d", ev.Name, i)
	}
	t, ok := ev.Args[i].(token.Token)
	if !ok {
		return 0, fmt.Errorf("event %q: argument %d is not a token", ev.Name, i)
	}
	return t, nil
}

func argString(ev event.Event, i int) (string, error) {
	if i >= len(ev.Args) {
		return "", fmt.Errorf("event %q: missing argument %d", ev.Name, i)
	}
	s, ok := ev.Args[i].(string)
	if !ok {
		return "", fmt.Errorf("event %q: argument %d is not a string", ev.Name, i)
	}
	return s, nil
}

// handleChannelJoin implements spec.md §4.6's channel_join: create the
// channel if this is its first participant, hand the joining bridge a
// snapshot of whoever is already there, then record it as a participant.
func (m *Manager) handleChannelJoin(ev event.Event) error {
	name, err := argString(ev, 0)
	if err != nil {
		return &UserError{Err: err}
	}

	entry, ok := m.channelsByName[name]
	if !ok {
		entry = &channelEntry{id: m.alloc.New(), ch: channel.New(name)}
		m.channelsByName[name] = entry
		m.channelsByToken[entry.id] = entry
	}

	snapshot := make(map[token.Token]string, len(entry.ch.Users()))
	for _, uid := range entry.ch.Users() {
		u, _ := entry.ch.User(uid)
		snapshot[uid] = u.Name
	}
	m.enqueue(m.selfToken, ev.Source, "channel_add", entry.id, name, snapshot)

	if err := entry.ch.BridgeJoin(ev.Source); err != nil {
		return &UserError{Err: err}
	}
	return nil
}

// handleChannelLeave implements channel_leave: the requesting bridge and
// its puppeted users leave the channel, the bridge is told directly, and
// the channel is destroyed if it is now empty.
func (m *Manager) handleChannelLeave(ev event.Event) error {
	name, err := argString(ev, 0)
	if err != nil {
		return &UserError{Err: err}
	}
	entry, ok := m.channelsByName[name]
	if !ok {
		return &UserError{Err: fmt.Errorf("no such channel %q", name)}
	}

	m.bridgeLeaveChannel(entry, ev.Source)
	m.enqueue(m.selfToken, ev.Source, "channel_remove", entry.id)
	m.destroyChannelIfEmpty(entry)
	return nil
}

// bridgeLeaveChannel removes bid from entry's participants and
// broadcasts user_remove for every user it carried, shared by
// channel_leave and the per-channel portion of detach's cascade.
func (m *Manager) bridgeLeaveChannel(entry *channelEntry, bid token.Token) {
	for _, uid := range entry.ch.BridgeLeave(bid) {
		m.enqueue(m.selfToken, entry.id, "user_remove", uid)
	}
}

func (m *Manager) destroyChannelIfEmpty(entry *channelEntry) {
	if entry.ch.Empty() {
		delete(m.channelsByName, entry.ch.Name)
		delete(m.channelsByToken, entry.id)
	}
}

// handleUserJoin implements user_join: a new user_add is broadcast to the
// channel first, then the authoritative record is inserted with its
// origin set to whichever bridge reported the join.
func (m *Manager) handleUserJoin(ev event.Event) error {
	channelID, err := argToken(ev, 0)
	if err != nil {
		return &UserError{Err: err}
	}
	uid, err := argToken(ev, 1)
	if err != nil {
		return &UserError{Err: err}
	}
	name, err := argString(ev, 2)
	if err != nil {
		return &UserError{Err: err}
	}

	entry, ok := m.channelsByToken[channelID]
	if !ok {
		return &UserError{Err: fmt.Errorf("no such channel")}
	}
	m.enqueue(m.selfToken, channelID, "user_add", uid, name)
	if err := entry.ch.UserJoin(uid, name, ev.Source); err != nil {
		return &UserError{Err: err}
	}
	return nil
}

// handleUserChange implements user_change: broadcast the rename, then
// apply it.
func (m *Manager) handleUserChange(ev event.Event) error {
	channelID, err := argToken(ev, 0)
	if err != nil {
		return &UserError{Err: err}
	}
	uid, err := argToken(ev, 1)
	if err != nil {
		return &UserError{Err: err}
	}
	name, err := argString(ev, 2)
	if err != nil {
		return &UserError{Err: err}
	}

	entry, ok := m.channelsByToken[channelID]
	if !ok {
		return &UserError{Err: fmt.Errorf("no such channel")}
	}
	m.enqueue(m.selfToken, channelID, "user_update", uid, name)
	if err := entry.ch.UserUpdate(uid, name); err != nil {
		return &UserError{Err: err}
	}
	return nil
}

// handleUserLeave implements user_leave: remove first, then broadcast —
// the opposite order from user_join/user_change, per spec.md §4.6.
func (m *Manager) handleUserLeave(ev event.Event) error {
	channelID, err := argToken(ev, 0)
	if err != nil {
		return &UserError{Err: err}
	}
	uid, err := argToken(ev, 1)
	if err != nil {
		return &UserError{Err: err}
	}

	entry, ok := m.channelsByToken[channelID]
	if !ok {
		return &UserError{Err: fmt.Errorf("no such channel")}
	}
	if err := entry.ch.UserLeave(uid); err != nil {
		return &UserError{Err: err}
	}
	m.enqueue(m.selfToken, channelID, "user_remove", uid)
	return nil
}

// handleDetach implements the detach cascade: every channel the
// detaching bridge participated in loses it (and its users, via
// bridgeLeaveChannel), channels left empty are destroyed, and the bridge
// is dropped from the table. Once no bridge remains, the running flag
// clears and Run's loop exits on its next iteration.
func (m *Manager) handleDetach(ev event.Event) error {
	bid := ev.Source
	entry, ok := m.byToken[bid]
	if !ok {
		return nil
	}

	for _, centry := range m.channelsByToken {
		if centry.ch.HasParticipant(bid) {
			m.bridgeLeaveChannel(centry, bid)
		}
	}
	for _, centry := range m.channelsByToken {
		m.destroyChannelIfEmpty(centry)
	}

	delete(m.byName, entry.name)
	delete(m.byToken, bid)
	m.log.WithField("bridge", entry.name).Info("bridge detached")

	if len(m.byName) == 0 {
		m.running = false
	}
	return nil
}

// handleCommand runs only when a command's translated target resolved to
// the manager itself: look up the tagged command and invoke it, turning
// any error (including "unknown command" from the registry) into a
// message event back to whoever sent the command.
func (m *Manager) handleCommand(ev event.Event) error {
	words, _ := ev.Args[0].([]string)
	response, err := m.commands.Invoke(words)
	if err != nil {
		m.enqueue(m.selfToken, ev.Source, "message", errorMessage(err))
		return nil
	}
	if response != "" {
		m.enqueue(m.selfToken, ev.Source, "message", response)
	}
	return nil
}

// handleException implements the one documented way to crash the bus: a
// bridge's I/O worker caught something fatal and reported it via an
// exception event.
func (m *Manager) handleException(ev event.Event) error {
	msg, _ := ev.Args[0].(string)
	if msg == "" {
		msg = "unspecified exception"
	}
	return &FatalError{Err: fmt.Errorf("%s", msg)}
}
