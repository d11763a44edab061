// Package chat keeps the ordered chat list.
package chat

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/johndosdos/chatter-sync/internal/model"
)

// Store is the chat list read model. It is owned by the engine loop and is
// not safe for concurrent use.
type Store struct {
	self     string
	chats    map[string]*model.Chat
	aliases  map[string]string // placeholder id -> confirmed id
	selected string
	counted  map[string]struct{}
}

// NewStore returns an empty Store for the local user self.
func NewStore(self string) *Store {
	return &Store{
		self:    self,
		chats:   make(map[string]*model.Chat),
		aliases: make(map[string]string),
		counted: make(map[string]struct{}),
	}
}

func (s *Store) resolve(id string) string {
	if to, ok := s.aliases[id]; ok {
		return to
	}
	return id
}

// UpsertMany merges chats by id. Server fields win, except pinned and muted,
// which keep their local value unless the payload carries them.
func (s *Store) UpsertMany(chats []model.Chat) {
	for _, c := range chats {
		s.upsert(c)
	}
}

func (s *Store) upsert(in model.Chat) {
	if in.ID == "" {
		return
	}
	id := s.resolve(in.ID)
	in.ID = id
	in.ParticipantIDs = slices.Clone(in.ParticipantIDs)
	if in.UnreadCount < 0 {
		in.UnreadCount = 0
	}

	cur, ok := s.chats[id]
	if !ok {
		if id == s.selected {
			in.UnreadCount = 0
		}
		s.chats[id] = &in
		return
	}

	if !in.HasPinned() {
		in.Pinned = cur.Pinned
	}
	if !in.HasMuted() {
		in.Muted = cur.Muted
	}
	if in.LastMessage == nil || (cur.LastMessage != nil && cur.LastMessage.After(*in.LastMessage)) {
		in.LastMessage = cur.LastMessage
	}
	if id == s.selected {
		in.UnreadCount = 0
	}
	in.Pending = false
	*cur = in
}

// PatchLastMessage records msg as the chat's last message if it sorts after
// the current one, and counts it as unread unless the chat is selected or the
// local user sent it. Each message id is counted at most once. Unknown chats
// are ignored.
func (s *Store) PatchLastMessage(chatID string, msg model.Message) bool {
	c, ok := s.chats[s.resolve(chatID)]
	if !ok {
		return false
	}

	if c.LastMessage == nil || c.LastMessage.ID == msg.ID || msg.After(*c.LastMessage) {
		m := msg.Clone()
		c.LastMessage = &m
	}

	if _, seen := s.counted[msg.ID]; !seen {
		s.counted[msg.ID] = struct{}{}
		if c.ID != s.selected && msg.SenderID != s.self {
			c.UnreadCount++
		}
	}
	return true
}

// ReplaceLastMessage swaps an optimistic last message for its confirmed copy.
func (s *Store) ReplaceLastMessage(chatID, oldID string, msg model.Message) {
	c, ok := s.chats[s.resolve(chatID)]
	if !ok {
		return
	}
	s.counted[msg.ID] = struct{}{}
	if c.LastMessage != nil && c.LastMessage.ID == oldID {
		m := msg.Clone()
		c.LastMessage = &m
		return
	}
	if c.LastMessage == nil || msg.After(*c.LastMessage) {
		m := msg.Clone()
		c.LastMessage = &m
	}
}

// RemoveLastMessage replaces the chat's last message id, which was deleted,
// with next. A nil next leaves the chat without a last message.
func (s *Store) RemoveLastMessage(chatID, id string, next *model.Message) bool {
	c, ok := s.chats[s.resolve(chatID)]
	if !ok || c.LastMessage == nil || c.LastMessage.ID != id {
		return false
	}
	if next == nil {
		c.LastMessage = nil
		return true
	}
	m := next.Clone()
	c.LastMessage = &m
	return true
}

// CreatePendingPrivateChat adds a local placeholder for a 1:1 chat that the
// server has not confirmed yet.
func (s *Store) CreatePendingPrivateChat(localID string, participants []string, name string, now time.Time) model.Chat {
	c := &model.Chat{
		ID:             localID,
		Kind:           model.KindPrivate,
		DisplayName:    name,
		ParticipantIDs: slices.Clone(participants),
		CreatedBy:      s.self,
		CreatedAt:      now,
		Pending:        true,
	}
	s.chats[localID] = c
	return *c
}

// Confirm replaces the placeholder localID with the server's chat. Local flags
// of the placeholder survive and lookups by localID keep resolving to the
// confirmed chat. A selected placeholder stays selected under its new id.
func (s *Store) Confirm(localID string, server model.Chat) {
	if server.ID == "" {
		return
	}
	localID = s.resolve(localID)
	placeholder, ok := s.chats[localID]
	if ok && localID != server.ID {
		delete(s.chats, localID)
		s.aliases[localID] = server.ID
		for from, to := range s.aliases {
			if to == localID {
				s.aliases[from] = server.ID
			}
		}
		if s.selected == localID {
			s.selected = server.ID
		}
		if _, exists := s.chats[server.ID]; !exists {
			keep := *placeholder
			keep.ID = server.ID
			s.chats[server.ID] = &keep
		}
	}
	s.upsert(server)
}

// MergePrivate folds every private chat with the same participant set as
// server (placeholders included) into server, leaving exactly one entry.
func (s *Store) MergePrivate(server model.Chat) {
	if server.ID == "" {
		return
	}
	key := model.ParticipantKey(server.ParticipantIDs)
	var dups []*model.Chat
	for _, c := range s.chats {
		if c.ID != server.ID && c.Kind == model.KindPrivate && model.ParticipantKey(c.ParticipantIDs) == key {
			dups = append(dups, c)
		}
	}
	// The first duplicate seeds the merged entry; placeholders go first.
	slices.SortFunc(dups, func(a, b *model.Chat) int {
		if a.Pending != b.Pending {
			if a.Pending {
				return -1
			}
			return 1
		}
		return cmp.Compare(a.ID, b.ID)
	})
	for _, c := range dups {
		s.Confirm(c.ID, server)
	}
	s.upsert(server)
}

// FindByParticipants returns the chat whose participant set equals ids.
// Confirmed chats are preferred over placeholders.
func (s *Store) FindByParticipants(ids []string) (model.Chat, bool) {
	key := model.ParticipantKey(ids)
	var found *model.Chat
	for _, c := range s.chats {
		if c.Kind != model.KindPrivate || model.ParticipantKey(c.ParticipantIDs) != key {
			continue
		}
		if found == nil || (found.Pending && !c.Pending) || (found.Pending == c.Pending && c.ID < found.ID) {
			found = c
		}
	}
	if found == nil {
		return model.Chat{}, false
	}
	return cloneChat(found), true
}

// Select marks chatID as the selected chat and resets its unread count.
func (s *Store) Select(chatID string) {
	s.selected = s.resolve(chatID)
	s.ResetUnread(s.selected)
}

// Deselect clears the selection.
func (s *Store) Deselect() { s.selected = "" }

// Selected returns the id of the selected chat, if any.
func (s *Store) Selected() string { return s.selected }

// ResetUnread zeroes the unread count of chatID.
func (s *Store) ResetUnread(chatID string) {
	if c, ok := s.chats[s.resolve(chatID)]; ok {
		c.UnreadCount = 0
	}
}

// SetPinned changes the local pinned flag.
func (s *Store) SetPinned(chatID string, pinned bool) bool {
	c, ok := s.chats[s.resolve(chatID)]
	if ok {
		c.Pinned = pinned
	}
	return ok
}

// SetMuted changes the local muted flag.
func (s *Store) SetMuted(chatID string, muted bool) bool {
	c, ok := s.chats[s.resolve(chatID)]
	if ok {
		c.Muted = muted
	}
	return ok
}

// Get returns a copy of the chat, resolving placeholder ids.
func (s *Store) Get(chatID string) (model.Chat, bool) {
	c, ok := s.chats[s.resolve(chatID)]
	if !ok {
		return model.Chat{}, false
	}
	return cloneChat(c), true
}

// Resolve maps a placeholder id to its confirmed id.
func (s *Store) Resolve(chatID string) string { return s.resolve(chatID) }

// Len returns the number of chats.
func (s *Store) Len() int { return len(s.chats) }

// List returns the chats pinned first, then by last activity, newest first.
func (s *Store) List() []model.Chat {
	out := make([]model.Chat, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, cloneChat(c))
	}
	slices.SortFunc(out, func(a, b model.Chat) int {
		if a.Pinned != b.Pinned {
			if a.Pinned {
				return -1
			}
			return 1
		}
		if c := b.ActivityAt().Compare(a.ActivityAt()); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Filter returns List restricted to chats whose name contains query,
// case-insensitively.
func (s *Store) Filter(query string) []model.Chat {
	query = strings.ToLower(strings.TrimSpace(query))
	all := s.List()
	if query == "" {
		return all
	}
	return slices.DeleteFunc(all, func(c model.Chat) bool {
		return !strings.Contains(strings.ToLower(c.DisplayName), query)
	})
}

func cloneChat(c *model.Chat) model.Chat {
	out := *c
	out.ParticipantIDs = slices.Clone(c.ParticipantIDs)
	if c.LastMessage != nil {
		m := c.LastMessage.Clone()
		out.LastMessage = &m
	}
	return out
}
