package model

import "encoding/json"

// Frame is one websocket text frame: {"event": name, "data": payload}.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ChatMessages answers get_messages.
type ChatMessages struct {
	ChatID   string    `json:"chatId"`
	Messages []Message `json:"messages"`
}

// Typing is carried by user_typing/typing_start and their stop variants.
type Typing struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	ChatID   string `json:"chatId"`
}

// MessagesRead marks messages of a chat as seen by UserID.
type MessagesRead struct {
	ChatID     string   `json:"chatId"`
	UserID     string   `json:"userId"`
	MessageIDs []string `json:"messageIds"`
}

// ReactionAdded announces a single reaction.
type ReactionAdded struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
	UserID    string `json:"userId"`
}

// MessageDeleted accepts either a bare id string or {"id", "chatId"}.
type MessageDeleted struct {
	ID     string `json:"id"`
	ChatID string `json:"chatId,omitempty"`
}

func (d *MessageDeleted) UnmarshalJSON(p []byte) error {
	var id string
	if err := json.Unmarshal(p, &id); err == nil {
		d.ID = id
		return nil
	}
	type alias MessageDeleted
	return json.Unmarshal(p, (*alias)(d))
}

// Outbound payloads.

type GetMessages struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

type SendMessage struct {
	ChatID      string      `json:"chatId"`
	Content     string      `json:"content"`
	Type        MessageKind `json:"type"`
	IsEncrypted bool        `json:"isEncrypted"`
	ReplyTo     string      `json:"replyTo,omitempty"`
	TempID      string      `json:"tempId"`
}

type TypingNotice struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type StopTypingNotice struct {
	ChatID string `json:"chatId"`
}

type CreatePrivateChat struct {
	UserID    string `json:"userId"`
	ChatID    string `json:"chatId"`
	CreatedBy string `json:"createdBy"`
}

type AddReaction struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
}
