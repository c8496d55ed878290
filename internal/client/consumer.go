// ABOUTME: Stream consumer that classifies frames and files relevant messages locally
// ABOUTME: Skips heartbeats and control lines, tolerates bad payloads, filters by open conversation

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/marv1n-le/marvify/internal/chat"
	"github.com/marv1n-le/marvify/internal/stream"
)

// ErrMalformedFrame is logged when a data frame does not decode as a message.
var ErrMalformedFrame = errors.New("malformed frame")

// Outcome is what the consumer did with one frame.
type Outcome int

const (
	OutcomeHeartbeat Outcome = iota // keep-alive, ignored silently
	OutcomeControl                  // server control line, logged
	OutcomeMalformed                // undecodable payload, logged
	OutcomeAccepted                 // relevant message, inserted
	OutcomeRejected                 // message for another conversation
	OutcomeDuplicate                // relevant, but its id is already held
)

func (o Outcome) String() string {
	switch o {
	case OutcomeHeartbeat:
		return "heartbeat"
	case OutcomeControl:
		return "control"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeAccepted:
		return "accepted"
	case OutcomeRejected:
		return "rejected"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// View exposes which conversation is open on this client.
type View interface {
	SelfID() string
	PeerID() string
}

// ConversationView is a View whose peer can change while streaming.
type ConversationView struct {
	self string

	mu   sync.RWMutex
	peer string
}

// NewConversationView creates a view for the signed-in user with no conversation open.
func NewConversationView(selfID string) *ConversationView {
	return &ConversationView{self: selfID}
}

// SelfID returns the signed-in user.
func (v *ConversationView) SelfID() string { return v.self }

// PeerID returns the user whose conversation is open, or "".
func (v *ConversationView) PeerID() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.peer
}

// SetPeer opens the conversation with peer.
func (v *ConversationView) SetPeer(peer string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.peer = peer
}

// Relevant reports whether msg belongs to the open conversation: the peer
// sent it to self, or self sent it to the peer. Nothing is relevant with no
// peer open.
func Relevant(selfID, peerID string, msg chat.ChatMessage) bool {
	if peerID == "" || peerID == selfID {
		return false
	}
	sender := msg.SenderID()
	receiver := msg.ReceiverID()
	return (peerID == sender && selfID == receiver) || (peerID == receiver && selfID == sender)
}

// Consumer turns stream frames into local message set updates.
type Consumer struct {
	view   View
	set    *LocalMessageSet
	logger *slog.Logger

	// OnMessage, if set, is called for every decoded message with its outcome.
	OnMessage func(msg chat.ChatMessage, outcome Outcome)
}

// NewConsumer creates a consumer filing relevant messages into set.
func NewConsumer(view View, set *LocalMessageSet, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		view:   view,
		set:    set,
		logger: logger.With("component", "consumer"),
	}
}

func isControl(payload string) bool {
	return strings.HasPrefix(payload, stream.ControlPrefix) || payload == stream.ConnectedMarker
}

// HandleFrame applies the rules in order: heartbeat, control, decode, filter.
func (c *Consumer) HandleFrame(f stream.Frame) Outcome {
	payload := f.Data

	if f.Kind == stream.KindHeartbeat || payload == "" || strings.HasPrefix(payload, ":") {
		return OutcomeHeartbeat
	}

	if f.Kind != stream.KindData || isControl(payload) {
		c.logger.Debug("control frame", "kind", f.Kind, "data", payload)
		return OutcomeControl
	}

	var msg chat.ChatMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		c.logger.Warn("skipping frame", "error", fmt.Errorf("%w: %w", ErrMalformedFrame, err))
		return OutcomeMalformed
	}

	outcome := OutcomeRejected
	if Relevant(c.view.SelfID(), c.view.PeerID(), msg) {
		outcome = OutcomeDuplicate
		if c.set.Insert(msg) {
			outcome = OutcomeAccepted
		}
	}
	if c.OnMessage != nil {
		c.OnMessage(msg, outcome)
	}
	return outcome
}

// Consume reads the stream until EOF, a read error or ctx is done, handling
// every frame. A clean EOF returns nil.
func (c *Consumer) Consume(ctx context.Context, r io.Reader) error {
	var p frameParser
	buf := make([]byte, 4096)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := r.Read(buf)
		if n > 0 {
			for _, f := range p.Feed(buf[:n]) {
				c.HandleFrame(f)
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading stream: %w", err)
		}
	}
}
