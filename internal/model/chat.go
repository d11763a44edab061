package model

import (
	"encoding/json"
	"slices"
	"strings"
	"time"
)

type ChatKind string

const (
	KindPrivate ChatKind = "private"
	KindGroup   ChatKind = "group"
	KindChannel ChatKind = "channel"
	KindService ChatKind = "service"
)

// Chat is a chat summary as shown in the chat list.
type Chat struct {
	ID             string    `json:"id"`
	Kind           ChatKind  `json:"type"`
	DisplayName    string    `json:"name"`
	ParticipantIDs []string  `json:"participantIds"`
	LastMessage    *Message  `json:"lastMessage,omitempty"`
	UnreadCount    int       `json:"unreadCount"`
	Pinned         bool      `json:"isPinned"`
	Muted          bool      `json:"isMuted"`
	CreatedBy      string    `json:"createdBy,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`

	// Pending is true for a local placeholder not yet confirmed by the server.
	Pending bool `json:"-"`

	pinnedSet bool
	mutedSet  bool
}

// UnmarshalJSON records whether the local-only flags were present in the
// payload, and accepts participants either as ids or as user objects.
func (c *Chat) UnmarshalJSON(p []byte) error {
	type alias Chat
	var probe struct {
		alias
		Pinned       *bool  `json:"isPinned"`
		Muted        *bool  `json:"isMuted"`
		IsGroup      *bool  `json:"isGroup"`
		Participants []User `json:"participants"`
	}
	if err := json.Unmarshal(p, &probe); err != nil {
		return err
	}

	*c = Chat(probe.alias)
	if probe.Pinned != nil {
		c.Pinned, c.pinnedSet = *probe.Pinned, true
	}
	if probe.Muted != nil {
		c.Muted, c.mutedSet = *probe.Muted, true
	}
	if len(c.ParticipantIDs) == 0 {
		for _, u := range probe.Participants {
			c.ParticipantIDs = append(c.ParticipantIDs, u.ID)
		}
	}
	if c.Kind == "" {
		c.Kind = KindPrivate
		if probe.IsGroup != nil && *probe.IsGroup {
			c.Kind = KindGroup
		}
	}
	return nil
}

// HasPinned reports whether the payload this chat was decoded from set isPinned.
func (c Chat) HasPinned() bool { return c.pinnedSet }

// HasMuted reports whether the payload this chat was decoded from set isMuted.
func (c Chat) HasMuted() bool { return c.mutedSet }

// WithLocalFlags returns a copy that explicitly carries pinned and muted,
// so that a merge applies them.
func (c Chat) WithLocalFlags(pinned, muted bool) Chat {
	c.Pinned, c.pinnedSet = pinned, true
	c.Muted, c.mutedSet = muted, true
	return c
}

func (c Chat) HasParticipant(userID string) bool {
	return slices.Contains(c.ParticipantIDs, userID)
}

// ReadOnly reports whether viewerID is not allowed to post in the chat.
func (c Chat) ReadOnly(viewerID string) bool {
	switch c.Kind {
	case KindService:
		return true
	case KindChannel:
		return c.CreatedBy != viewerID
	}
	return false
}

// ActivityAt is the time used to order the chat list.
func (c Chat) ActivityAt() time.Time {
	if c.LastMessage != nil {
		return c.LastMessage.SentAt
	}
	return c.CreatedAt
}

// ParticipantKey is the order-independent identity of a participant set.
func ParticipantKey(ids []string) string {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	return strings.Join(sorted, ":")
}

// PrivateChatID is the chat id proposed to the server for a 1:1 chat.
func PrivateChatID(a, b string) string {
	ids := []string{a, b}
	slices.Sort(ids)
	return "private_" + ids[0] + "_" + ids[1]
}
