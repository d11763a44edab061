package model

import (
	"slices"
	"time"
)

type MessageKind string

const (
	MessageText  MessageKind = "text"
	MessageImage MessageKind = "image"
	MessageFile  MessageKind = "file"
	MessageAudio MessageKind = "audio"
)

// Delivery tracks an optimistic message through confirmation.
type Delivery int

const (
	// Confirmed is the zero value: everything received from the server.
	Confirmed Delivery = iota
	Pending
	Failed
)

func (d Delivery) String() string {
	switch d {
	case Pending:
		return "pending"
	case Failed:
		return "failed"
	default:
		return "confirmed"
	}
}

// Reaction is one (emoji, user) pair on a message.
type Reaction struct {
	Emoji  string `json:"emoji"`
	UserID string `json:"userId"`
}

// ReplyRef points at the message being replied to.
type ReplyRef struct {
	ID         string `json:"id"`
	Content    string `json:"content,omitempty"`
	SenderName string `json:"senderName,omitempty"`
}

// Message is a single chat message. Body holds the envelope-encoded text
// when Encoded is true.
type Message struct {
	ID         string      `json:"id"`
	TempID     string      `json:"tempId,omitempty"`
	ChatID     string      `json:"chatId"`
	SenderID   string      `json:"senderId"`
	SenderName string      `json:"senderName"`
	Body       string      `json:"content"`
	SentAt     time.Time   `json:"timestamp"`
	Kind       MessageKind `json:"type"`
	Encoded    bool        `json:"isEncrypted"`
	ReaderIDs  []string    `json:"readBy,omitempty"`
	ReplyTo    *ReplyRef   `json:"replyTo,omitempty"`
	Reactions  []Reaction  `json:"reactions,omitempty"`
	Edited     bool        `json:"isEdited"`

	Delivery Delivery `json:"-"`
}

// HasReader reports whether userID is in the reader set.
func (m Message) HasReader(userID string) bool {
	return slices.Contains(m.ReaderIDs, userID)
}

// HasReaction reports whether the (emoji, user) pair is present.
func (m Message) HasReaction(r Reaction) bool {
	return slices.Contains(m.Reactions, r)
}

// Clone returns a copy that shares no slices with m.
func (m Message) Clone() Message {
	m.ReaderIDs = slices.Clone(m.ReaderIDs)
	m.Reactions = slices.Clone(m.Reactions)
	if m.ReplyTo != nil {
		r := *m.ReplyTo
		m.ReplyTo = &r
	}
	return m
}

// After reports whether m sorts after o by (SentAt, ID).
func (m Message) After(o Message) bool {
	if !m.SentAt.Equal(o.SentAt) {
		return m.SentAt.After(o.SentAt)
	}
	return m.ID > o.ID
}
