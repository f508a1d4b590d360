package chat

import (
	"context"
	"strings"

	twitchirc "github.com/gempir/go-twitch-irc/v4"

	"github.com/avablake/emcee/logging"
)

// TwitchOptions configure a Twitch transport.
type TwitchOptions struct {
	Logger logging.Logger
}

// Twitch is a Transport over Twitch IRC for a single channel.
type Twitch struct {
	client   *twitchirc.Client
	channel  string
	botLogin string
	logger   logging.Logger
}

// NewTwitch builds a transport for the given bot account and channel. The
// token is the OAuth chat token including the "oauth:" prefix.
func NewTwitch(botLogin, token, channel string, optFns ...func(o *TwitchOptions)) *Twitch {
	opts := TwitchOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	t := &Twitch{
		client:   twitchirc.NewClient(botLogin, token),
		channel:  channel,
		botLogin: strings.ToLower(botLogin),
		logger:   opts.Logger,
	}
	t.client.Join(channel)
	return t
}

// OnMessage registers the inbound message handler.
func (t *Twitch) OnMessage(fn func(msg Message)) {
	t.client.OnPrivateMessage(func(pm twitchirc.PrivateMessage) {
		fn(Message{
			Username:      pm.User.DisplayName,
			Text:          pm.Message,
			IsSelf:        strings.EqualFold(pm.User.Name, t.botLogin),
			IsBroadcaster: pm.User.Badges["broadcaster"] >= 1,
			IsModerator:   pm.User.Badges["moderator"] >= 1,
		})
	})
}

// OnConnect registers the connected handler.
func (t *Twitch) OnConnect(fn func()) {
	t.client.OnConnect(fn)
}

// Say sends a line to the joined channel.
func (t *Twitch) Say(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.logger.Debug("sending chat line", "channel", t.channel, "chars", len(text))
	t.client.Say(t.channel, text)
	return nil
}

// Connect opens the IRC connection and blocks until Disconnect.
func (t *Twitch) Connect() error {
	return t.client.Connect()
}

// Disconnect closes the IRC connection.
func (t *Twitch) Disconnect() error {
	return t.client.Disconnect()
}
