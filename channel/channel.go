// Package channel holds the manager's authoritative notion of a chat
// room: which bridges participate in it and which users are present,
// tagged with the bridge that originated each one.
//
// Grounded on original_source/yetibridge/bridge/__init__.py's Channel/User
// (the bridge-side mirror) and on the cascade logic inlined in
// original_source/yetibridge/__init__.py's BridgeManager, generalized into
// its own package per spec.md §4.3: these operations are called only by
// the manager, never by a bridge directly.
package channel

import (
	"fmt"

	"github.com/hornwitser/yetibridge/token"
)

// A User is a channel's record of one present user: its display name and
// the bridge token that originated it.
type User struct {
	Name   string
	Origin token.Token
}

// A Channel is a named room spanning one or more bridges. The zero value
// is not useful; use New.
type Channel struct {
	Name         string
	participants map[token.Token]bool
	users        map[token.Token]User
}

// New returns a Channel named name with no participants and no users.
func New(name string) *Channel {
	return &Channel{
		Name:         name,
		participants: make(map[token.Token]bool),
		users:        make(map[token.Token]User),
	}
}

// Participants returns the bridges currently participating in c, in no
// particular order.
func (c *Channel) Participants() []token.Token {
	out := make([]token.Token, 0, len(c.participants))
	for bid := range c.participants {
		out = append(out, bid)
	}
	return out
}

// HasParticipant reports whether bid participates in c.
func (c *Channel) HasParticipant(bid token.Token) bool {
	return c.participants[bid]
}

// Empty reports whether c has no participating bridges. An empty Channel
// is invariant-invalid and must be destroyed by the caller (see spec.md
// §3 invariant (a)).
func (c *Channel) Empty() bool {
	return len(c.participants) == 0
}

// BridgeJoin adds bid as a participant. It fails if bid already
// participates.
func (c *Channel) BridgeJoin(bid token.Token) error {
	if c.participants[bid] {
		return fmt.Errorf("bridge already participates in channel %q", c.Name)
	}
	c.participants[bid] = true
	return nil
}

// BridgeLeave removes bid as a participant. Every user whose origin is
// bid is first removed, and their user_id is returned so the caller (the
// manager) can emit the corresponding user_remove events targeted at this
// channel — the Channel itself never emits events, per spec.md §4.3.
func (c *Channel) BridgeLeave(bid token.Token) (departed []token.Token) {
	for uid, u := range c.users {
		if u.Origin == bid {
			departed = append(departed, uid)
			delete(c.users, uid)
		}
	}
	delete(c.participants, bid)
	return departed
}

// UserJoin adds uid to c with the given display name and origin bridge.
// It fails if uid is already present.
func (c *Channel) UserJoin(uid token.Token, name string, origin token.Token) error {
	if _, ok := c.users[uid]; ok {
		return fmt.Errorf("user already present in channel %q", c.Name)
	}
	c.users[uid] = User{Name: name, Origin: origin}
	return nil
}

// UserUpdate renames uid's display name. It fails if uid is not present.
func (c *Channel) UserUpdate(uid token.Token, name string) error {
	u, ok := c.users[uid]
	if !ok {
		return fmt.Errorf("no such user in channel %q", c.Name)
	}
	u.Name = name
	c.users[uid] = u
	return nil
}

// UserLeave removes uid from c. It fails if uid is not present.
func (c *Channel) UserLeave(uid token.Token) error {
	if _, ok := c.users[uid]; !ok {
		return fmt.Errorf("no such user in channel %q", c.Name)
	}
	delete(c.users, uid)
	return nil
}

// User returns uid's record and whether it is present.
func (c *Channel) User(uid token.Token) (User, bool) {
	u, ok := c.users[uid]
	return u, ok
}

// Users returns every user_id present in c, in no particular order.
func (c *Channel) Users() []token.Token {
	out := make([]token.Token, 0, len(c.users))
	for uid := range c.users {
		out = append(out, uid)
	}
	return out
}
