// Package console implements a local terminal transport: a bridge whose
// remote users are whoever is typing at the process's stdin/stdout.
//
// Grounded on original_source/yetibridge/bridge/console.py's
// ConsoleBridge: the same three sugar commands (bridge/manager/shutdown),
// the same target-name-for-display lookup, the same per-event print
// lines, adapted to the canonical user_add/user_update/user_remove event
// names this module uses (see spec.md §9's note on not accepting the
// source's inconsistent older spellings).
package console

import (
	"bufio"
	"fmt"
	"os"

	"github.com/hornwitser/yetibridge/bridge"
	"github.com/hornwitser/yetibridge/cmdsys"
	"github.com/hornwitser/yetibridge/event"
	"github.com/hornwitser/yetibridge/token"
)

const authority = "console"

// reservedNames renders the well-known broadcast targets the way
// console.py's target_names table did.
var reservedNames = map[token.Token]string{
	event.Everything:  "Everything",
	event.Manager:     "Manager",
	event.AllBridges:  "AllBridges",
	event.AllChannels: "AllChannels",
	event.AllUsers:    "AllUsers",
}

// Bridge reads commands and free text from stdin and prints every event
// dispatched to it; once wired as the manager's eavesdropper (see
// Eavesdrop) it also prints a trace of every event on the bus.
type Bridge struct {
	bridge.Base

	out      *bufio.Writer
	commands *cmdsys.Registry
	users    map[token.Token]string
}

// New returns a console Bridge identified by id (obtained from the
// manager with Manager.NewToken before Attach).
func New(id token.Token) *Bridge {
	b := &Bridge{
		out:      bufio.NewWriter(os.Stdout),
		commands: cmdsys.NewRegistry(),
		users:    make(map[token.Token]string),
	}
	b.Init(b, id)
	b.commands.Register("bridge", b.cmdBridge)
	b.commands.Register("manager", b.cmdManager)
	b.commands.Register("shutdown", b.cmdShutdown)

	b.Handle("message", b.onMessage)
	b.Handle("action", b.onAction)
	b.Handle("user_add", b.onUserAdd)
	b.Handle("user_update", b.onUserUpdate)
	b.Handle("user_remove", b.onUserRemove)
	return b
}

// OnRegister starts the stdin-reading worker. It runs for the process's
// lifetime, the Go equivalent of console.py's daemon thread.
func (b *Bridge) OnRegister() {
	go b.run()
}

func (b *Bridge) run() {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		words, err := cmdsys.Split(scanner.Text())
		if err != nil {
			b.println(fmt.Sprintf("error: %s", err))
			continue
		}
		if len(words) == 0 {
			continue
		}
		response, err := b.commands.Invoke(words)
		if err != nil {
			b.println(err.Error())
		} else if response != "" {
			b.println(response)
		}
	}
}

func (b *Bridge) println(s string) {
	fmt.Fprintln(b.out, s)
	b.out.Flush()
}

// cmdBridge implements "bridge <name> <words...>": words become a command
// event targeted at the manager, which routes it on to the named bridge.
func (b *Bridge) cmdBridge(args []string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("error: empty command")
	}
	b.SendEvent(b.Token(), event.Manager, "command", append([]string{}, args...), authority)
	return "", nil
}

// cmdManager is sugar for "bridge manager <words...>".
func (b *Bridge) cmdManager(args []string) (string, error) {
	return b.cmdBridge(append([]string{"manager"}, args...))
}

// cmdShutdown is sugar for "bridge manager shutdown".
func (b *Bridge) cmdShutdown(args []string) (string, error) {
	return b.cmdManager(append([]string{"shutdown"}, args...))
}

func (b *Bridge) onMessage(ev event.Event) {
	b.println(fmt.Sprintf("%s: %s", b.name(ev.Source), argString(ev, 0)))
}

// onAction renders action(content) in IRC's traditional "* nick does a
// thing" form, distinct from onMessage's "nick: text".
func (b *Bridge) onAction(ev event.Event) {
	b.println(fmt.Sprintf("* %s %s", b.name(ev.Source), argString(ev, 0)))
}

func (b *Bridge) onUserAdd(ev event.Event) {
	uid, _ := ev.Args[0].(token.Token)
	name := argString(ev, 1)
	b.users[uid] = name
	b.println(fmt.Sprintf("%s: user '%s' joined", b.name(ev.Target), name))
}

func (b *Bridge) onUserUpdate(ev event.Event) {
	uid, _ := ev.Args[0].(token.Token)
	name := argString(ev, 1)
	b.users[uid] = name
	b.println(fmt.Sprintf("%s: user '%s' updated", b.name(ev.Target), name))
}

func (b *Bridge) onUserRemove(ev event.Event) {
	uid, _ := ev.Args[0].(token.Token)
	name := b.users[uid]
	delete(b.users, uid)
	b.println(fmt.Sprintf("%s: user '%s' left", b.name(ev.Target), name))
}

func argString(ev event.Event, i int) string {
	if i >= len(ev.Args) {
		return ""
	}
	s, _ := ev.Args[i].(string)
	return s
}

// name renders t for display: the word for a reserved broadcast target,
// a known user's display name, or the token's decimal form.
func (b *Bridge) name(t token.Token) string {
	if word, ok := reservedNames[t]; ok {
		return word
	}
	if name, ok := b.users[t]; ok {
		return name
	}
	return t.String()
}

// Eavesdrop prints a trace line for every event on the bus. Wire it up
// with Manager.SetEavesdropper(consoleBridge.Eavesdrop).
func (b *Bridge) Eavesdrop(ev event.Event) {
	b.println(fmt.Sprintf("%s -> %s: %s %v", b.name(ev.Source), b.name(ev.Target), ev.Name, ev.Args))
}
