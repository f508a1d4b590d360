// Package chat abstracts the chat platform connection. The scheduler consumes
// inbound messages and sends outbound lines through the Transport interface;
// the Twitch IRC implementation lives alongside it.
package chat

import "context"

// Message is one inbound chat line, normalized for the scheduler.
type Message struct {
	Username      string
	Text          string
	IsSelf        bool // sent by the bot's own account
	IsBroadcaster bool
	IsModerator   bool
}

// Transport is a connected chat channel. Implementations deliver inbound
// messages to the registered handler and send outbound lines with Say.
type Transport interface {
	// OnMessage registers the handler for inbound messages. Must be called
	// before Connect.
	OnMessage(fn func(msg Message))

	// OnConnect registers a handler invoked once the connection is up.
	OnConnect(fn func())

	// Say sends a line to the channel.
	Say(ctx context.Context, text string) error

	// Connect opens the connection and blocks until it closes.
	Connect() error

	// Disconnect closes the connection, unblocking Connect.
	Disconnect() error
}
