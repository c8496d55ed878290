// ABOUTME: Wire representation of direct messages shared by the gateway and its clients
// ABOUTME: UserRef resolves raw-id and populated-user shapes to one canonical id at decode time

package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// MediaType distinguishes plain text messages from messages carrying an uploaded image.
type MediaType string

const (
	MediaText  MediaType = "text"
	MediaImage MediaType = "image"
)

// Profile is the sender/receiver data denormalized into a message for display.
type Profile struct {
	ID             string `json:"_id"`
	FullName       string `json:"full_name,omitempty"`
	Username       string `json:"username,omitempty"`
	ProfilePicture string `json:"profile_picture,omitempty"`
}

// UnmarshalJSON accepts both "_id" and "id" as the identifier field.
func (p *Profile) UnmarshalJSON(data []byte) error {
	var raw struct {
		UnderscoreID   string `json:"_id"`
		ID             string `json:"id"`
		FullName       string `json:"full_name"`
		Username       string `json:"username"`
		ProfilePicture string `json:"profile_picture"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.ID = raw.UnderscoreID
	if p.ID == "" {
		p.ID = raw.ID
	}
	p.FullName = raw.FullName
	p.Username = raw.Username
	p.ProfilePicture = raw.ProfilePicture
	return nil
}

// UserRef is either a bare user id or a populated user object. Both forms
// appear on the wire; ID() is the only way callers should read the identity.
type UserRef struct {
	id      string
	profile *Profile
}

// RawID builds a reference carrying only an id.
func RawID(id string) UserRef {
	return UserRef{id: id}
}

// Populated builds a reference carrying the full profile.
func Populated(p Profile) UserRef {
	return UserRef{id: p.ID, profile: &p}
}

// ID returns the canonical user id, or "" for an empty reference.
func (r UserRef) ID() string {
	return r.id
}

// Profile returns the populated user, or nil when only the id is known.
func (r UserRef) Profile() *Profile {
	return r.profile
}

// MarshalJSON writes the populated object when available, the bare id otherwise.
func (r UserRef) MarshalJSON() ([]byte, error) {
	if r.profile != nil {
		return json.Marshal(r.profile)
	}
	return json.Marshal(r.id)
}

// UnmarshalJSON accepts a string id, a user object, or null.
func (r *UserRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*r = UserRef{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	switch data[0] {
	case '"':
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		r.id = id
		return nil
	case '{':
		var p Profile
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		r.id = p.ID
		r.profile = &p
		return nil
	default:
		return fmt.Errorf("user reference must be a string or object, got %s", data)
	}
}

// ChatMessage is the JSON shape pushed over the stream and returned by the HTTP API.
type ChatMessage struct {
	ID        string    `json:"_id,omitempty"`
	From      UserRef   `json:"from_user_id"`
	To        UserRef   `json:"to_user_id"`
	Text      string    `json:"text"`
	MediaType MediaType `json:"message_type"`
	MediaURL  string    `json:"media_url,omitempty"`
	Seen      bool      `json:"seen"`
	CreatedAt time.Time `json:"createdAt"`
}

// SenderID returns the canonical id of the author.
func (m *ChatMessage) SenderID() string {
	return m.From.ID()
}

// ReceiverID returns the canonical id of the addressee.
func (m *ChatMessage) ReceiverID() string {
	return m.To.ID()
}

// Envelope is the response body convention used by every JSON endpoint.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}
