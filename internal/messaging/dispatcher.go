// ABOUTME: Message dispatcher that validates, stores and pushes new direct messages
// ABOUTME: Also serves conversation history and the recent-messages inbox

package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/marv1n-le/marvify/internal/media"
	"github.com/marv1n-le/marvify/internal/store"
	"github.com/marv1n-le/marvify/internal/stream"
)

// Dispatcher errors
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrUpload         = errors.New("upload failed")
	ErrStorage        = errors.New("storage failure")
)

// Attachment is an uploaded file accompanying a message.
type Attachment struct {
	Name string
	Data []byte
}

// SendRequest describes a message a user wants to send.
type SendRequest struct {
	FromUserID string
	ToUserID   string
	Text       string
	Media      *Attachment
}

// Dispatcher creates messages and pushes them to live streams.
type Dispatcher struct {
	store     store.Store
	uploader  media.Uploader
	registry  *stream.Registry
	delivered *deliveryLog
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher. The registry may be nil, in which
// case messages are stored but never pushed.
func NewDispatcher(st store.Store, uploader media.Uploader, registry *stream.Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:     st,
		uploader:  uploader,
		registry:  registry,
		delivered: newDeliveryLog(defaultDeliveryTTL, defaultDeliveryMaxSize),
		logger:    logger.With("component", "dispatcher"),
	}
}

// Send handles a new message.
//
// Steps:
//  1. Validate - recipient required, text or media required
//  2. Upload media - an upload failure creates no message
//  3. Persist
//  4. Re-read with the sender populated; on failure the stored record is used as is
//  5. Push to the sender's and the recipient's live streams, best effort
//
// The persisted message is returned whether or not any push succeeded.
func (d *Dispatcher) Send(ctx context.Context, req SendRequest) (*store.Message, error) {
	if req.FromUserID == "" {
		return nil, fmt.Errorf("%w: sender is required", ErrInvalidRequest)
	}
	if req.ToUserID == "" {
		return nil, fmt.Errorf("%w: to_user_id is required", ErrInvalidRequest)
	}
	hasMedia := req.Media != nil && len(req.Media.Data) > 0
	if strings.TrimSpace(req.Text) == "" && !hasMedia {
		return nil, fmt.Errorf("%w: message needs text or an image", ErrInvalidRequest)
	}

	msg := &store.Message{
		FromUserID: req.FromUserID,
		ToUserID:   req.ToUserID,
		Text:       req.Text,
		MediaType:  store.MediaTypeText,
	}

	if hasMedia {
		url, err := d.uploader.Upload(ctx, req.Media.Data, req.Media.Name)
		if err != nil {
			if errors.Is(err, media.ErrInvalidMedia) {
				return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
			}
			d.logger.Error("media upload failed", "from", req.FromUserID, "error", err)
			return nil, fmt.Errorf("%w: %w", ErrUpload, err)
		}
		msg.MediaType = store.MediaTypeImage
		msg.MediaURL = url
	}

	if err := d.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("%w: saving message: %w", ErrStorage, err)
	}

	// Already stored: a failed reload falls back to the bare record.
	populated, err := d.store.GetMessage(ctx, msg.ID)
	if err != nil {
		d.logger.Warn("failed to reload message, delivering unpopulated", "message_id", msg.ID, "error", err)
		populated = msg
	}

	d.logger.Info("message created",
		"message_id", populated.ID,
		"from", populated.FromUserID,
		"to", populated.ToUserID,
		"type", populated.MediaType,
	)

	d.push(populated)
	return populated, nil
}

// push writes the message to the live streams of both participants
// concurrently and waits for both attempts.
func (d *Dispatcher) push(msg *store.Message) {
	if d.registry == nil {
		return
	}

	frame, err := stream.DataFrame(ToChat(msg))
	if err != nil {
		d.logger.Error("failed to encode message frame", "message_id", msg.ID, "error", err)
		return
	}

	var wg sync.WaitGroup
	for _, userID := range []string{msg.FromUserID, msg.ToUserID} {
		h := d.registry.Lookup(userID)
		if h == nil {
			d.logger.Debug("no live stream", "message_id", msg.ID, "user_id", userID)
			continue
		}
		wg.Add(1)
		go func(h *stream.Handle) {
			defer wg.Done()
			d.deliver(h, msg.ID, frame)
		}(h)
	}
	wg.Wait()
}

func (d *Dispatcher) deliver(h *stream.Handle, messageID string, frame stream.Frame) {
	if !d.delivered.markFirst(messageID, h.ID()) {
		return
	}
	if err := h.Write(frame); err != nil {
		d.logger.Warn("delivery miss",
			"message_id", messageID,
			"user_id", h.UserID(),
			"handle_id", h.ID(),
			"error", err,
		)
		d.registry.Unregister(h)
		h.Close()
		return
	}
	d.logger.Debug("message pushed", "message_id", messageID, "user_id", h.UserID(), "handle_id", h.ID())
}

// History returns every message between self and peer, newest first, and
// marks the peer's messages to self as seen.
func (d *Dispatcher) History(ctx context.Context, self, peer string) ([]*store.Message, error) {
	if peer == "" {
		return nil, fmt.Errorf("%w: to_user_id is required", ErrInvalidRequest)
	}

	messages, err := d.store.ListConversation(ctx, self, peer)
	if err != nil {
		return nil, fmt.Errorf("%w: listing conversation: %w", ErrStorage, err)
	}

	if n, err := d.store.MarkSeen(ctx, peer, self); err != nil {
		d.logger.Warn("failed to mark messages seen", "from", peer, "to", self, "error", err)
	} else if n > 0 {
		d.logger.Debug("marked messages seen", "from", peer, "to", self, "count", n)
	}

	return messages, nil
}

// Inbox returns the messages addressed to self, newest first.
func (d *Dispatcher) Inbox(ctx context.Context, self string, limit int) ([]*store.Message, error) {
	messages, err := d.store.ListInbox(ctx, self, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: listing inbox: %w", ErrStorage, err)
	}
	return messages, nil
}
