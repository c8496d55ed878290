// ABOUTME: Conversion from stored messages to the wire representation
// ABOUTME: Populated participants become user objects, others stay bare ids

package messaging

import (
	"github.com/marv1n-le/marvify/internal/chat"
	"github.com/marv1n-le/marvify/internal/store"
)

// ToChat converts a stored message to its JSON wire form.
func ToChat(msg *store.Message) chat.ChatMessage {
	return chat.ChatMessage{
		ID:        msg.ID,
		From:      userRef(msg.FromUserID, msg.From),
		To:        userRef(msg.ToUserID, msg.To),
		Text:      msg.Text,
		MediaType: chat.MediaType(msg.MediaType),
		MediaURL:  msg.MediaURL,
		Seen:      msg.Seen,
		CreatedAt: msg.CreatedAt,
	}
}

// ToChatList converts a slice, preserving order.
func ToChatList(msgs []*store.Message) []chat.ChatMessage {
	out := make([]chat.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ToChat(m))
	}
	return out
}

func userRef(id string, u *store.User) chat.UserRef {
	if u == nil {
		return chat.RawID(id)
	}
	return chat.Populated(chat.Profile{
		ID:             u.ID,
		FullName:       u.FullName,
		Username:       u.Username,
		ProfilePicture: u.ProfilePicture,
	})
}
