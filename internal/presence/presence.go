// Package presence tracks who is online and who is typing where.
package presence

import (
	"slices"
	"time"

	"github.com/johndosdos/chatter-sync/internal/model"
)

// DefaultTTL is how long a typing indicator lives without a refresh.
const DefaultTTL = 3 * time.Second

type typingKey struct {
	chatID string
	userID string
}

// Tracker holds typing indicators and online state. It is owned by a single
// goroutine and is not safe for concurrent use.
type Tracker struct {
	self   string
	ttl    time.Duration
	now    func() time.Time
	typing map[typingKey]model.TypingState
	users  map[string]model.User
}

// NewTracker returns a Tracker for the local user self.
func NewTracker(self string, ttl time.Duration, now func() time.Time) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		self:   self,
		ttl:    ttl,
		now:    now,
		typing: make(map[typingKey]model.TypingState),
		users:  make(map[string]model.User),
	}
}

// MarkTyping inserts or refreshes a typing indicator.
func (t *Tracker) MarkTyping(chatID, userID, name string) {
	if chatID == "" || userID == "" {
		return
	}
	t.typing[typingKey{chatID, userID}] = model.TypingState{
		ChatID:    chatID,
		UserID:    userID,
		Name:      name,
		ExpiresAt: t.now().Add(t.ttl),
	}
}

// StopTyping removes an indicator immediately.
func (t *Tracker) StopTyping(chatID, userID string) bool {
	k := typingKey{chatID, userID}
	if _, ok := t.typing[k]; !ok {
		return false
	}
	delete(t.typing, k)
	return true
}

// ClearChat drops every indicator of a chat.
func (t *Tracker) ClearChat(chatID string) {
	for k := range t.typing {
		if k.chatID == chatID {
			delete(t.typing, k)
		}
	}
}

// ClearAll drops every typing indicator, e.g. after the connection is lost.
func (t *Tracker) ClearAll() {
	clear(t.typing)
}

// Tick purges indicators that expired at or before now and reports how many
// were removed.
func (t *Tracker) Tick(now time.Time) int {
	n := 0
	for k, st := range t.typing {
		if !now.Before(st.ExpiresAt) {
			delete(t.typing, k)
			n++
		}
	}
	return n
}

// TypingDisplayNames lists who is typing in chatID, excluding the local user,
// sorted for stable rendering. Entries past their TTL are never returned even
// if Tick has not run yet.
func (t *Tracker) TypingDisplayNames(chatID string) []string {
	now := t.now()
	var names []string
	for k, st := range t.typing {
		if k.chatID != chatID || k.userID == t.self || !now.Before(st.ExpiresAt) {
			continue
		}
		name := st.Name
		if name == "" {
			name = st.UserID
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// SetOnline updates presence and stamps lastSeenAt with the current time.
func (t *Tracker) SetOnline(userID string, online bool) {
	u := t.users[userID]
	u.ID = userID
	u.Online = online
	u.LastSeenAt = t.now()
	t.users[userID] = u
}

// SetUsers merges a users_update batch.
func (t *Tracker) SetUsers(users []model.User) {
	for _, u := range users {
		if u.ID == "" {
			continue
		}
		if !u.Online && u.LastSeenAt.IsZero() {
			if prev, ok := t.users[u.ID]; ok && prev.Online {
				u.LastSeenAt = t.now()
			} else {
				u.LastSeenAt = prev.LastSeenAt
			}
		}
		t.users[u.ID] = u
	}
}

// User returns what is known about userID.
func (t *Tracker) User(userID string) (model.User, bool) {
	u, ok := t.users[userID]
	return u, ok
}

// IsOnline reports the last known online flag.
func (t *Tracker) IsOnline(userID string) bool {
	return t.users[userID].Online
}
