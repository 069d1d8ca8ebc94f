// Package discordbridge is a Discord transport: a bridge.Bridge backed by a
// single gateway connection and a single bot identity, unlike ircbridge's
// one-puppet-per-user model. Every remote user already has a distinct
// Discord account, so there is nothing to puppet; the bridge instead
// relays outgoing messages as "<name> text" through its one bot connection
// and derives presence from Discord's own guild member events.
//
// Grounded on _examples/velour-chat/discord/client.go for the gateway op
// codes and REST conventions, and on
// original_source/yetibridge/bridge/discord.py for the member-list-driven
// user_join/user_change/user_leave flow and its 15-second leaving_users
// timeout sweep.
package discordbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/eaburns/pretty"
	"github.com/sirupsen/logrus"

	"github.com/hornwitser/yetibridge/bridge"
	"github.com/hornwitser/yetibridge/event"
	"github.com/hornwitser/yetibridge/internal/debounce"
	"github.com/hornwitser/yetibridge/token"
	ourws "github.com/hornwitser/yetibridge/websocket"
)

const (
	gatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"
	apiURL     = "https://discord.com/api/v10"

	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatACK   = 11

	// defaultGuildMemberGrace is the fallback for Config.DebounceTimeout
	// when unset, matching original_source/yetibridge/bridge/discord.py's
	// leaving_users timeout: a member who drops off the list is only
	// reported gone after this long without reappearing.
	defaultGuildMemberGrace = 30 * time.Second
	// defaultHouseKeepingTick is the fallback for Config.DebounceTick when
	// unset, mirroring discord.py's check_user_timeouts poll interval.
	defaultHouseKeepingTick = 15 * time.Second

	// intentGuilds, intentGuildMembers and intentGuildMessages are the
	// gateway intent bits this bridge identifies with: guild member
	// add/remove/update events and message content both require opting in.
	intentGuilds        = 1 << 0
	intentGuildMembers  = 1 << 1
	intentGuildMessages = 1 << 9
)

// Config is everything a Bridge needs to authenticate with Discord and
// bridge one guild text channel.
type Config struct {
	// Token is the bot token, sent as "Bot <Token>" in the Authorization
	// header and the Identify payload.
	Token string
	// GuildChannelID is the Discord snowflake of the channel to bridge.
	GuildChannelID string
	// Channel is the core channel name this bridge requests with
	// channel_join.
	Channel string
	// Debug logs every gateway frame via eaburns/pretty.
	Debug bool

	// DebounceTimeout is how long a member who drops off the guild
	// member list is kept before being reported gone. Zero uses
	// defaultGuildMemberGrace.
	DebounceTimeout time.Duration
	// DebounceTick is how often the departure table is swept. Zero uses
	// defaultHouseKeepingTick.
	DebounceTick time.Duration
}

// Bridge is a bridge.Bridge backed by a single Discord gateway connection.
type Bridge struct {
	bridge.Base

	cfg  Config
	log  *logrus.Logger
	http *http.Client

	cancel context.CancelFunc
	conn   *ourws.Conn

	leaving *debounce.Table[string] // discord member id -> pending

	mu          sync.Mutex
	channelID   token.Token
	members     map[string]token.Token // discord user id -> core uid
	uidToMember map[token.Token]string
	selfUser    string // this bot's own Discord user id, to drop echoes
}

var egressMentionRE = regexp.MustCompile(`<\[@(\d+)\]>`)
var ingressMentionRE = regexp.MustCompile(`<@!?(\d+)>`)

// New returns a Discord Bridge identified by id (obtained from the manager
// with Manager.NewToken before Attach).
func New(id token.Token, cfg Config, log *logrus.Logger) *Bridge {
	if log == nil {
		log = logrus.StandardLogger()
	}
	leaveGrace := cfg.DebounceTimeout
	if leaveGrace == 0 {
		leaveGrace = defaultGuildMemberGrace
	}
	b := &Bridge{
		cfg:         cfg,
		log:         log,
		http:        &http.Client{Timeout: 10 * time.Second},
		leaving:     debounce.New[string](leaveGrace),
		members:     make(map[string]token.Token),
		uidToMember: make(map[token.Token]string),
	}
	b.Init(b, id)
	b.Handle("message", b.onMessage)
	b.Handle("action", b.onAction)
	return b
}

// OnRegister opens the gateway connection and starts the read loop.
func (b *Bridge) OnRegister() {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	go b.connect(ctx)
}

// OnChannelAdd records the core token for the one channel this bridge
// joins, so later user_join/user_leave events can be addressed to it.
func (b *Bridge) OnChannelAdd(ch *bridge.Channel) {
	b.mu.Lock()
	b.channelID = ch.ID
	b.mu.Unlock()
}

// OnDeregister closes the gateway connection.
func (b *Bridge) OnDeregister() {
	b.teardown()
}

// OnTerminate is Terminate's hook; it must tolerate a bridge that never
// finished connecting, or being called twice.
func (b *Bridge) OnTerminate() {
	b.teardown()
}

func (b *Bridge) teardown() {
	if b.cancel != nil {
		b.cancel()
	}
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.Close(context.Background()); err != nil {
		b.log.WithError(err).Warn("discordbridge: error closing gateway connection")
	}
}

func (b *Bridge) connect(ctx context.Context) {
	u, err := url.Parse(gatewayURL)
	if err != nil {
		b.log.WithError(err).Error("discordbridge: bad gateway URL")
		return
	}
	conn, err := ourws.Dial(ctx, u)
	if err != nil {
		b.log.WithError(err).Error("discordbridge: gateway dial failed")
		b.SendEvent(b.Token(), event.Manager, "detach")
		return
	}
	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	var hello frame
	if err := conn.Recv(ctx, &hello); err != nil {
		b.log.WithError(err).Error("discordbridge: gateway handshake failed")
		b.SendEvent(b.Token(), event.Manager, "detach")
		return
	}
	if b.cfg.Debug {
		b.log.Debug(pretty.String(hello))
	}
	var helloData struct {
		HeartbeatInterval int `json:"heartbeat_interval"`
	}
	json.Unmarshal(hello.D, &helloData)
	interval := time.Duration(helloData.HeartbeatInterval) * time.Millisecond

	identify := outFrame{Op: opIdentify, D: identifyPayload{
		Token:   "Bot " + b.cfg.Token,
		Intents: intentGuilds | intentGuildMembers | intentGuildMessages,
		Properties: identifyProperties{
			OS:      "linux",
			Browser: "yetibridge",
			Device:  "yetibridge",
		},
	}}
	if err := conn.Send(ctx, identify); err != nil {
		b.log.WithError(err).Error("discordbridge: identify failed")
		b.SendEvent(b.Token(), event.Manager, "detach")
		return
	}

	tick := b.cfg.DebounceTick
	if tick == 0 {
		tick = defaultHouseKeepingTick
	}
	go b.heartbeatLoop(ctx, conn, interval)
	go b.leaving.Run(tick, ctx.Done(), b.expireMember)
	b.poll(ctx, conn)
}

func (b *Bridge) heartbeatLoop(ctx context.Context, conn *ourws.Conn, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Send(ctx, outFrame{Op: opHeartbeat, D: nil}); err != nil {
				return
			}
		}
	}
}

// poll reads gateway frames until ctx is canceled or the connection drops,
// dispatching Dispatch events by type.
func (b *Bridge) poll(ctx context.Context, conn *ourws.Conn) {
	for {
		var f frame
		if err := conn.Recv(ctx, &f); err != nil {
			return
		}
		if b.cfg.Debug {
			b.log.Debug(pretty.String(f))
		}
		switch f.Op {
		case opInvalidSession:
			b.log.Warn("discordbridge: invalid session")
			return
		case opDispatch:
			b.dispatch(f)
		}
	}
}

func (b *Bridge) dispatch(f frame) {
	switch f.T {
	case "READY":
		var ready readyEvent
		json.Unmarshal(f.D, &ready)
		b.mu.Lock()
		b.selfUser = ready.User.ID
		b.mu.Unlock()
		b.SendEvent(b.Token(), event.Manager, "channel_join", b.cfg.Channel)

	case "MESSAGE_CREATE":
		var m messageCreate
		json.Unmarshal(f.D, &m)
		b.handleMessage(m)

	case "GUILD_MEMBER_ADD":
		var mem guildMember
		json.Unmarshal(f.D, &mem)
		b.memberJoin(mem)

	case "GUILD_MEMBER_REMOVE":
		var rm struct {
			User discordUser `json:"user"`
		}
		json.Unmarshal(f.D, &rm)
		b.memberLeave(rm.User.ID)

	case "GUILD_MEMBER_UPDATE":
		var mem guildMember
		json.Unmarshal(f.D, &mem)
		b.memberUpdate(mem)
	}
}

func displayNameOf(mem guildMember) string {
	if mem.Nick != "" {
		return mem.Nick
	}
	return mem.User.Username
}

func (b *Bridge) memberJoin(mem guildMember) {
	if mem.User.Bot {
		return
	}
	id := mem.User.ID
	name := displayNameOf(mem)
	newUID := b.NewToken()

	b.mu.Lock()
	b.leaving.Cancel(id)
	uid, known := b.members[id]
	if !known {
		uid = newUID
		b.members[id] = uid
		b.uidToMember[uid] = id
	}
	channelID := b.channelID
	b.mu.Unlock()

	if known || channelID == 0 {
		return
	}
	b.SendEvent(uid, event.Manager, "user_join", channelID, uid, name)
}

func (b *Bridge) memberLeave(id string) {
	b.mu.Lock()
	_, known := b.members[id]
	b.mu.Unlock()
	if !known {
		return
	}
	b.leaving.MarkLeaving(id, time.Now())
}

func (b *Bridge) expireMember(id string) {
	b.mu.Lock()
	uid, ok := b.members[id]
	channelID := b.channelID
	if ok {
		delete(b.members, id)
		delete(b.uidToMember, uid)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	b.SendEvent(uid, event.Manager, "user_leave", channelID, uid)
}

func (b *Bridge) memberUpdate(mem guildMember) {
	id := mem.User.ID
	name := displayNameOf(mem)

	b.mu.Lock()
	uid, ok := b.members[id]
	channelID := b.channelID
	b.mu.Unlock()
	if !ok {
		return
	}
	b.SendEvent(uid, event.Manager, "user_change", channelID, uid, name)
}

func (b *Bridge) handleMessage(m messageCreate) {
	if m.Author.Bot || m.ChannelID != b.cfg.GuildChannelID {
		return
	}
	b.mu.Lock()
	uid, ok := b.members[m.Author.ID]
	channelID := b.channelID
	self := b.selfUser
	b.mu.Unlock()
	if !ok || channelID == 0 || m.Author.ID == self {
		return
	}

	name, text := "message", m.Content
	if action, ok := stripActionFraming(m.Content); ok {
		name, text = "action", action
	}
	b.SendEvent(uid, channelID, name, b.ingressMentions(text))
}

// onMessage relays a message targeted at our channel to Discord over REST,
// unless it originated from one of our own guild members (that text
// already appears in the Discord channel natively).
func (b *Bridge) onMessage(ev event.Event) {
	b.relay(ev, false)
}

// onAction is onMessage's counterpart for the action(content) event:
// Discord has no separate action framing of its own, so the reference
// bridge's *text* convention is used instead.
func (b *Bridge) onAction(ev event.Event) {
	b.relay(ev, true)
}

func (b *Bridge) relay(ev event.Event, isAction bool) {
	b.mu.Lock()
	_, isOwn := b.uidToMember[ev.Source]
	b.mu.Unlock()
	if isOwn {
		return
	}

	text := b.egressMentions(messageText(ev))
	name := b.displayName(ev.Source)
	var content string
	if isAction {
		content = fmt.Sprintf("*%s %s*", name, text)
	} else {
		content = fmt.Sprintf("<%s> %s", name, text)
	}
	if err := b.postMessage(context.Background(), content); err != nil {
		b.log.WithError(err).Warn("discordbridge: send failed")
	}
}

// stripActionFraming reports whether text carries Discord's *text* action
// framing and, if so, returns the pure body with the asterisks removed.
func stripActionFraming(text string) (string, bool) {
	if len(text) > 1 && strings.HasPrefix(text, "*") && strings.HasSuffix(text, "*") {
		return strings.TrimSuffix(strings.TrimPrefix(text, "*"), "*"), true
	}
	return text, false
}

func messageText(ev event.Event) string {
	if len(ev.Args) == 0 {
		return ""
	}
	s, _ := ev.Args[0].(string)
	return s
}

func (b *Bridge) displayName(uid token.Token) string {
	for _, ch := range b.Channels() {
		if u, ok := ch.Users[uid]; ok {
			return u.Name
		}
	}
	return uid.String()
}

func (b *Bridge) postMessage(ctx context.Context, content string) error {
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		apiURL+"/channels/"+b.cfg.GuildChannelID+"/messages", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+b.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("discordbridge: post message: %s", resp.Status)
	}
	return nil
}

// egressMentions rewrites cross-bridge mention sigils into a plain
// "@name" for whichever display name the channel mirror currently has.
// It does not produce a real Discord ping: that would require mapping the
// sigil's core uid back to a guild member id, which a user on another
// bridge entirely does not have.
func (b *Bridge) egressMentions(text string) string {
	return egressMentionRE.ReplaceAllStringFunc(text, func(m string) string {
		sub := egressMentionRE.FindStringSubmatch(m)
		var id uint64
		fmt.Sscanf(sub[1], "%d", &id)
		return "@" + b.displayName(token.Token(id))
	})
}

// ingressMentions rewrites a Discord native mention of a known guild
// member into the cross-bridge mention sigil.
func (b *Bridge) ingressMentions(text string) string {
	return ingressMentionRE.ReplaceAllStringFunc(text, func(m string) string {
		sub := ingressMentionRE.FindStringSubmatch(m)
		b.mu.Lock()
		uid, ok := b.members[sub[1]]
		b.mu.Unlock()
		if !ok {
			return m
		}
		return fmt.Sprintf("<[@%d]>", uint64(uid))
	})
}

// Gateway wire types. D is left as json.RawMessage on received frames
// since its shape depends on Op/T; outFrame carries an arbitrary payload
// for frames this bridge sends.

type frame struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
	S  int             `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

type outFrame struct {
	Op int `json:"op"`
	D  any `json:"d"`
}

type identifyPayload struct {
	Token      string             `json:"token"`
	Intents    int                `json:"intents"`
	Properties identifyProperties `json:"properties"`
}

type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type discordUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Bot      bool   `json:"bot"`
}

type readyEvent struct {
	User discordUser `json:"user"`
}

type messageCreate struct {
	ChannelID string      `json:"channel_id"`
	Author    discordUser `json:"author"`
	Content   string      `json:"content"`
}

type guildMember struct {
	User discordUser `json:"user"`
	Nick string      `json:"nick"`
}
