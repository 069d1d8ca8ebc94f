// Command yetibridge runs the bridge manager: a console transport plus
// whichever of IRC/Discord are configured, all relaying through one shared
// event bus.
package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/hornwitser/yetibridge/console"
	"github.com/hornwitser/yetibridge/discordbridge"
	"github.com/hornwitser/yetibridge/internal/config"
	"github.com/hornwitser/yetibridge/ircbridge"
	"github.com/hornwitser/yetibridge/manager"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("yetibridge: bad configuration")
	}

	log := logrus.StandardLogger()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithError(err).Warnf("yetibridge: unknown log level %q, using info", cfg.LogLevel)
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	mgr := manager.New(log)

	con := console.New(mgr.NewToken())
	if err := mgr.Attach(cfg.ConsoleName, con); err != nil {
		log.WithError(err).Fatal("yetibridge: attaching console")
	}
	mgr.SetEavesdropper(con.Eavesdrop)

	if cfg.IRCServer != "" {
		irc := ircbridge.New(mgr.NewToken(), ircbridge.Config{
			Server:          cfg.IRCServer,
			Nick:            cfg.IRCNick,
			Fullname:        cfg.IRCNick,
			IRCChannel:      cfg.IRCChannel,
			Channel:         cfg.IRCChannel,
			DebounceTimeout: cfg.DebounceTimeout,
			DebounceTick:    cfg.DebounceTick,
		}, log)
		if err := mgr.Attach(cfg.IRCName, irc); err != nil {
			log.WithError(err).Fatal("yetibridge: attaching irc")
		}
	}

	if cfg.DiscordToken != "" {
		dc := discordbridge.New(mgr.NewToken(), discordbridge.Config{
			Token:           cfg.DiscordToken,
			GuildChannelID:  cfg.DiscordChannel,
			Channel:         cfg.DiscordChannel,
			DebounceTimeout: cfg.DebounceTimeout,
			DebounceTick:    cfg.DebounceTick,
		}, log)
		if err := mgr.Attach(cfg.DiscordName, dc); err != nil {
			log.WithError(err).Fatal("yetibridge: attaching discord")
		}
	}

	if err := mgr.Run(); err != nil {
		log.WithError(err).Error("yetibridge: manager stopped")
		os.Exit(1)
	}
}
