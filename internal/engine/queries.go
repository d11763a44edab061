package engine

import (
	"slices"

	"github.com/johndosdos/chatter-sync/internal/envelope"
	"github.com/johndosdos/chatter-sync/internal/model"
	"github.com/johndosdos/chatter-sync/internal/receipt"
)

// read evaluates fn on the engine goroutine. A stopped engine yields the zero
// value.
func read[T any](e *Engine, fn func(st *State) T) T {
	var v T
	_ = e.call(func() { v = fn(e.state) })
	return v
}

// Chats returns the chat list, pinned chats first, then most recent activity.
func (e *Engine) Chats() []model.Chat {
	return read(e, func(st *State) []model.Chat { return st.Chats.List() })
}

// FilterChats returns the chats whose name contains query.
func (e *Engine) FilterChats(query string) []model.Chat {
	return read(e, func(st *State) []model.Chat { return st.Chats.Filter(query) })
}

func (e *Engine) Chat(chatID string) (model.Chat, bool) {
	type result struct {
		c  model.Chat
		ok bool
	}
	r := read(e, func(st *State) result {
		c, ok := st.Chats.Get(chatID)
		return result{c, ok}
	})
	return r.c, r.ok
}

// Messages returns the log of chatID, or of the active chat if chatID is "".
func (e *Engine) Messages(chatID string) []model.Message {
	return read(e, func(st *State) []model.Message {
		if chatID == "" {
			chatID = st.Chats.Selected()
		}
		return st.Messages.Messages(st.Chats.Resolve(chatID))
	})
}

// TypingNames lists who else is typing in chatID.
func (e *Engine) TypingNames(chatID string) []string {
	return read(e, func(st *State) []string {
		return st.Presence.TypingDisplayNames(st.Chats.Resolve(chatID))
	})
}

func (e *Engine) Status() model.ConnectionState {
	return read(e, func(st *State) model.ConnectionState { return st.Status })
}

// Phase reports where the active chat is in its load cycle.
func (e *Engine) Phase() Phase {
	return read(e, func(st *State) Phase { return st.phase })
}

// Selected returns the active chat id.
func (e *Engine) Selected() string {
	return read(e, func(st *State) string { return st.Chats.Selected() })
}

func (e *Engine) SearchResults() []model.User {
	return read(e, func(st *State) []model.User { return slices.Clone(st.SearchResults) })
}

// LastError is the most recent error reported by the server.
func (e *Engine) LastError() string {
	return read(e, func(st *State) string { return st.LastError })
}

// User returns the presence record of userID.
func (e *Engine) User(userID string) (model.User, bool) {
	type result struct {
		u  model.User
		ok bool
	}
	r := read(e, func(st *State) result {
		u, ok := st.Presence.User(userID)
		return result{u, ok}
	})
	return r.u, r.ok
}

// IsRead reports whether msg has been read by everyone it is addressed to.
func (e *Engine) IsRead(msg model.Message) bool {
	return read(e, func(st *State) bool {
		c, ok := st.Chats.Get(msg.ChatID)
		if !ok {
			return false
		}
		return receipt.IsRead(msg, c, st.Self.ID)
	})
}

// Text returns the display text of a message body.
func Text(m model.Message) string {
	if m.Encoded {
		return envelope.Decode(m.Body)
	}
	return m.Body
}
