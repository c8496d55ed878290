// ABOUTME: Chat session gluing the API client, stream consumer, controller and local message set
// ABOUTME: Opening a conversation refetches history; sending inserts the server's copy immediately

package client

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"

	"github.com/marv1n-le/marvify/internal/chat"
)

// ChatOptions tunes a Chat.
type ChatOptions struct {
	Backoff   backoff.BackOff
	OnState   func(State)
	// OnMessage is called from the stream goroutine for every decoded
	// message, and from Send for the message it adds. It may run concurrently.
	OnMessage func(msg chat.ChatMessage, outcome Outcome)
	Logger    *slog.Logger
}

// Chat is one signed-in user's view of their direct messages.
type Chat struct {
	api        *Client
	view       *ConversationView
	set        *LocalMessageSet
	consumer   *Consumer
	controller *Controller
	onMessage  func(chat.ChatMessage, Outcome)
	logger     *slog.Logger
}

// NewChat creates a chat for selfID backed by api.
func NewChat(api *Client, selfID string, opts ChatOptions) *Chat {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	view := NewConversationView(selfID)
	set := NewLocalMessageSet()
	consumer := NewConsumer(view, set, logger)
	consumer.OnMessage = opts.OnMessage

	controller := NewController(ControllerConfig{
		Tokens:  api.Tokens(),
		Dial:    api.OpenStream,
		Handle:  consumer.Consume,
		Backoff: opts.Backoff,
		OnState: opts.OnState,
		Logger:  logger,
	})

	return &Chat{
		api:        api,
		view:       view,
		set:        set,
		consumer:   consumer,
		controller: controller,
		onMessage:  opts.OnMessage,
		logger:     logger.With("component", "chat"),
	}
}

// Open switches to the conversation with peer and loads its history.
// Live messages that arrive during the fetch are kept by the merge.
func (c *Chat) Open(ctx context.Context, peer string) error {
	c.view.SetPeer(peer)
	c.set.Reset()

	history, err := c.api.History(ctx, peer)
	if err != nil {
		return fmt.Errorf("loading history with %s: %w", peer, err)
	}
	c.set.Merge(history)
	c.logger.Debug("conversation opened", "peer", peer, "messages", len(history))
	return nil
}

// Send posts a message to the open conversation and adds the stored copy
// locally. OnMessage sees it as accepted exactly once, whether the reply or
// the stream echo lands first; the later copy is a duplicate.
func (c *Chat) Send(ctx context.Context, text string, att *Attachment) (*chat.ChatMessage, error) {
	peer := c.view.PeerID()
	if peer == "" {
		return nil, fmt.Errorf("no conversation open")
	}
	msg, err := c.api.Send(ctx, peer, text, att)
	if err != nil {
		return nil, err
	}
	if c.set.Insert(*msg) && c.onMessage != nil {
		c.onMessage(*msg, OutcomeAccepted)
	}
	return msg, nil
}

// Messages returns the open conversation, oldest first.
func (c *Chat) Messages() []chat.ChatMessage {
	return c.set.Messages()
}

// Peer returns the open conversation's peer.
func (c *Chat) Peer() string {
	return c.view.PeerID()
}

// State returns the live stream state.
func (c *Chat) State() State {
	return c.controller.State()
}

// Run keeps the live stream connected until ctx ends or Close is called.
func (c *Chat) Run(ctx context.Context) error {
	return c.controller.Run(ctx)
}

// Close stops the live stream.
func (c *Chat) Close() {
	c.controller.Close()
}
