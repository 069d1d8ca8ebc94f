package irc

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"log"
	"net"
	"strings"
	"sync"
	"time"
)

const (
	actionPrefix = "\x01ACTION"
	actionSuffix = "\x01"
)

// A Client is a single connection to an IRC server: either the bridge's
// own presence in a channel, or one puppet's connection standing in for
// a remote user. ircbridge dials one Client per identity it needs on the
// wire.
type Client struct {
	server string
	conn   net.Conn
	in     *bufio.Reader
	out    chan outMessage
	error  chan error

	sync.Mutex
	nick     string
	channels map[string]*Channel
}

// Dial connects to a remote IRC server.
func Dial(ctx context.Context, server, nick, fullname, pass string) (*Client, error) {
	var dialer net.Dialer
	c, err := dialer.DialContext(ctx, "tcp", server)
	if err != nil {
		return nil, err
	}
	return dial(ctx, c, server, nick, fullname, pass)
}

// DialSSL connects to a remote IRC server using SSL. trust disables
// certificate verification, for servers with self-signed certs.
func DialSSL(ctx context.Context, server, nick, fullname, pass string, trust bool) (*Client, error) {
	var dialer net.Dialer
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}
	config := tls.Config{InsecureSkipVerify: trust}
	c, err := tls.DialWithDialer(&dialer, "tcp", server, &config)
	if err != nil {
		return nil, err
	}
	return dial(ctx, c, server, nick, fullname, pass)
}

func dial(ctx context.Context, conn net.Conn, server, nick, fullname, pass string) (*Client, error) {
	c := &Client{
		server:   server,
		conn:     conn,
		in:       bufio.NewReader(conn),
		out:      make(chan outMessage),
		error:    make(chan error),
		nick:     nick,
		channels: make(map[string]*Channel),
	}
	go limitSends(c)
	if err := register(ctx, c, nick, fullname, pass); err != nil {
		close(c.out)
		return nil, err
	}
	go poll(c)
	return c, nil
}

func register(ctx context.Context, c *Client, nick, fullname, pass string) error {
	if pass != "" {
		if err := send(ctx, c, PASS, pass); err != nil {
			return err
		}
	}
	if err := send(ctx, c, NICK, nick); err != nil {
		return err
	}
	if err := send(ctx, c, USER, nick, "0", "*", fullname); err != nil {
		return err
	}
	for {
		msg, err := next(ctx, c)
		if err != nil {
			return err
		}
		switch msg.Command {
		case ERR_NONICKNAMEGIVEN, ERR_ERRONEUSNICKNAME,
			ERR_NICKNAMEINUSE, ERR_NICKCOLLISION,
			ERR_UNAVAILRESOURCE, ERR_RESTRICTED,
			ERR_NEEDMOREPARAMS, ERR_ALREADYREGISTRED:
			if len(msg.Arguments) > 0 {
				return errors.New(msg.Arguments[len(msg.Arguments)-1])
			}
			return errors.New(CommandNames[msg.Command])

		case RPL_WELCOME:
			return nil

		default:
			/* ignore */
		}
	}
}

// Nick returns the client's current nick.
func (c *Client) Nick() string {
	c.Lock()
	defer c.Unlock()
	return c.nick
}

// Close closes the connection.
func (c *Client) Close(ctx context.Context) error {
	send(ctx, c, QUIT)
	closeErr := c.conn.Close()
	pollErr := <-c.error
	for _, ch := range c.channels {
		close(ch.in)
	}
	close(c.out)
	if closeErr != nil {
		return closeErr
	}
	return pollErr
}

type outMessage struct {
	msgs [][]byte
	err  chan<- error
}

// limitSends rate limits messages sent to the IRC server, implementing
// the algorithm described in RFC 1459 Section 8.10.
func limitSends(c *Client) {
	var t time.Time
	for send := range c.out {
		var err error
		for _, msg := range send.msgs {
			now := time.Now()
			if t.Before(now) {
				t = now
			}
			if t.After(now.Add(10 * time.Second)) {
				time.Sleep(t.Sub(now))
			}
			t = t.Add(2 * time.Second)
			if _, err = c.conn.Write(msg); err != nil {
				break
			}
		}
		send.err <- err
	}
}

// send sends a single message to the server.
func send(ctx context.Context, c *Client, cmd string, args ...string) error {
	msg := Message{Command: cmd, Arguments: args}
	bs := msg.Bytes()
	if len(bs) > MaxBytes {
		return TooLongError{Message: bs[:MaxBytes], NTrunc: len(bs) - MaxBytes}
	}
	err := make(chan error, 1)
	go func() { c.out <- outMessage{msgs: [][]byte{bs}, err: err} }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-err:
		return err
	}
}

// sendPRIVMSGBatch sends a batch of PRIVMSGs to the same channel
// together, without any intervening send, so a multi-line message split
// across several IRC lines arrives as one unit even if ctx is canceled
// partway through.
func sendPRIVMSGBatch(ctx context.Context, c *Client, channel string, texts ...string) error {
	var msgs [][]byte
	for _, txt := range texts {
		msg := Message{Command: PRIVMSG, Arguments: []string{channel, txt}}
		bs := msg.Bytes()
		if len(bs) > MaxBytes {
			return TooLongError{Message: bs[:MaxBytes], NTrunc: len(bs) - MaxBytes}
		}
		msgs = append(msgs, bs)
	}
	err := make(chan error, 1)
	go func() { c.out <- outMessage{msgs: msgs, err: err} }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-err:
		return err
	}
}

// next returns the next message from the server. It never returns a
// PING command; the client responds to PINGs automatically.
func next(ctx context.Context, c *Client) (Message, error) {
	for {
		switch msg, err := readWithContext(ctx, c.in); {
		case err != nil:
			return Message{}, err
		case msg.Command == PING:
			if err := send(ctx, c, PONG, msg.Arguments...); err != nil {
				return Message{}, err
			}
		default:
			return msg, nil
		}
	}
}

func poll(c *Client) {
	var err error
loop:
	for {
		var msg Message
		if msg, err = next(context.Background(), c); err != nil {
			break loop
		}
		switch msg.Command {
		case JOIN:
			if len(msg.Arguments) < 1 {
				log.Printf("irc: received bad JOIN: %+v", msg)
				continue
			}
			channelName := msg.Arguments[0]

			c.Lock()
			ch, ok := c.channels[channelName]
			myNick := c.nick
			c.Unlock()
			if !ok {
				log.Printf("irc: JOIN for unknown channel %s", channelName)
				continue
			}
			if msg.Origin == myNick {
				// Our own JOIN confirmation; WHO already in flight.
				continue
			}
			ch.mu.Lock()
			ch.users[msg.Origin] = true
			ch.mu.Unlock()
			sendEvent(ch, JoinEvent{Nick: msg.Origin})

		case PART:
			if len(msg.Arguments) < 1 {
				log.Printf("irc: received bad PART: %+v", msg)
				continue
			}
			channelName := msg.Arguments[0]
			c.Lock()
			ch, ok := c.channels[channelName]
			myNick := c.nick
			c.Unlock()
			if !ok {
				log.Printf("irc: PART for unknown channel %s", channelName)
				continue
			}
			if msg.Origin == myNick {
				continue
			}
			ch.mu.Lock()
			delete(ch.users, msg.Origin)
			ch.mu.Unlock()
			sendEvent(ch, PartEvent{Nick: msg.Origin})

		case NICK:
			if len(msg.Arguments) < 1 {
				log.Printf("irc: received bad NICK: %+v", msg)
				continue
			}
			newNick := msg.Arguments[0]

			c.Lock()
			if msg.Origin == c.nick {
				c.nick = newNick
			}
			for _, ch := range c.channels {
				ch.mu.Lock()
				if ch.users[msg.Origin] {
					delete(ch.users, msg.Origin)
					ch.users[newNick] = true
					sendEvent(ch, RenameEvent{From: msg.Origin, To: newNick})
				}
				ch.mu.Unlock()
			}
			c.Unlock()

		case QUIT:
			c.Lock()
			for _, ch := range c.channels {
				ch.mu.Lock()
				if ch.users[msg.Origin] {
					delete(ch.users, msg.Origin)
					sendEvent(ch, PartEvent{Nick: msg.Origin})
				}
				ch.mu.Unlock()
			}
			c.Unlock()

		case PRIVMSG:
			if len(msg.Arguments) < 2 {
				log.Printf("irc: received bad PRIVMSG: %+v", msg)
				continue
			}
			text := msg.Arguments[1]
			chName := msg.Arguments[0]
			c.Lock()
			ch, ok := c.channels[chName]
			c.Unlock()
			if !ok {
				log.Printf("irc: PRIVMSG for unknown channel %s", chName)
				continue
			}
			if strings.HasPrefix(text, actionPrefix) {
				text = strings.TrimPrefix(text, actionPrefix)
				text = strings.TrimSuffix(text, actionSuffix)
				sendEvent(ch, ActionEvent{Nick: msg.Origin, Text: strings.TrimSpace(text)})
				continue
			}
			sendEvent(ch, MessageEvent{Nick: msg.Origin, Text: text})

		case RPL_WHOREPLY:
			if len(msg.Arguments) < 6 {
				log.Printf("irc: received bad WHOREPLY: %+v", msg)
				continue
			}
			channelName := msg.Arguments[1]
			nick := msg.Arguments[5]
			c.Lock()
			ch, ok := c.channels[channelName]
			myNick := c.nick
			c.Unlock()
			if !ok {
				log.Printf("irc: WHOREPLY for unknown channel %s", channelName)
				continue
			}
			if nick == myNick {
				continue
			}
			select {
			case ch.inWho <- []string{nick}:
			case ns := <-ch.inWho:
				ch.inWho <- append(ns, nick)
			}

		case RPL_ENDOFWHO:
			if len(msg.Arguments) < 2 {
				log.Printf("irc: received bad ENDOFWHO: %+v", msg)
				continue
			}
			channelName := msg.Arguments[1]
			c.Lock()
			ch, ok := c.channels[channelName]
			c.Unlock()
			if !ok {
				log.Printf("irc: ENDOFWHO for unknown channel %s", channelName)
				continue
			}
			close(ch.inWho)
		}
	}
	if err != nil && strings.Contains(err.Error(), "use of closed network connection") {
		// Client.Close caused this; not a real error.
		err = nil
	}
	c.error <- err
}

// Join joins channelName, issuing a WHO to learn the current members.
func (c *Client) Join(ctx context.Context, channelName string) (*Channel, error) {
	c.Lock()
	defer c.Unlock()
	if ch, ok := c.channels[channelName]; ok {
		return ch, nil
	}

	// JOIN and WHO happen with c.Lock held so nothing on c.channels is
	// ever not-yet-joined from the server's point of view.
	if err := send(ctx, c, JOIN, channelName); err != nil {
		return nil, err
	}
	if err := send(ctx, c, WHO, channelName); err != nil {
		return nil, err
	}
	ch := newChannel(c, channelName)
	c.channels[channelName] = ch
	return ch, nil
}
