// Package model defines data structure shared by the stores, the engine and
// the wire protocol.
package model

import "time"

// User holds the public profile of an account.
type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"fullName"`
	Handle      string    `json:"username"`
	Online      bool      `json:"isOnline"`
	LastSeenAt  time.Time `json:"lastSeen"`
	Verified    bool      `json:"isVerified"`
}

// ConnectionState is the lifecycle state of the persistent channel.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// TypingState marks a user as typing in a chat until ExpiresAt.
// It only ever lives in memory.
type TypingState struct {
	ChatID    string
	UserID    string
	Name      string
	ExpiresAt time.Time
}
