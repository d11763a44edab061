// Package message keeps per-chat ordered message logs.
package message

import (
	"slices"

	"github.com/johndosdos/chatter-sync/internal/model"
)

type entry struct {
	msg model.Message
	seq uint64
}

// Store holds one ordered log per chat. Logs are ordered by (SentAt, insertion
// sequence); ids are opaque and never compared. It is owned by the engine loop
// and is not safe for concurrent use.
type Store struct {
	logs   map[string][]*entry
	byID   map[string]string // message id -> chat id
	byTemp map[string]string // temp id -> message id
	seq    uint64
}

func NewStore() *Store {
	return &Store{
		logs:   make(map[string][]*entry),
		byID:   make(map[string]string),
		byTemp: make(map[string]string),
	}
}

func less(a, b *entry) int {
	if c := a.msg.SentAt.Compare(b.msg.SentAt); c != 0 {
		return c
	}
	switch {
	case a.seq < b.seq:
		return -1
	case a.seq > b.seq:
		return 1
	}
	return 0
}

func (s *Store) insert(chatID string, e *entry) {
	log := s.logs[chatID]
	i, _ := slices.BinarySearchFunc(log, e, less)
	s.logs[chatID] = slices.Insert(log, i, e)
	s.byID[e.msg.ID] = chatID
	if e.msg.TempID != "" {
		s.byTemp[e.msg.TempID] = e.msg.ID
	}
}

func (s *Store) find(id string) (string, int) {
	chatID, ok := s.byID[id]
	if !ok {
		return "", -1
	}
	i := slices.IndexFunc(s.logs[chatID], func(e *entry) bool { return e.msg.ID == id })
	return chatID, i
}

func (s *Store) remove(chatID string, i int) *entry {
	e := s.logs[chatID][i]
	s.logs[chatID] = slices.Delete(s.logs[chatID], i, i+1)
	delete(s.byID, e.msg.ID)
	if e.msg.TempID != "" && s.byTemp[e.msg.TempID] == e.msg.ID {
		delete(s.byTemp, e.msg.TempID)
	}
	return e
}

// reposition restores order after the entry at i changed its SentAt.
func (s *Store) reposition(chatID string, i int) {
	e := s.remove(chatID, i)
	s.insert(chatID, e)
}

// Load replaces the window of chatID with msgs. Local optimistic records of
// that chat that are still pending or failed are kept unless msgs already
// holds their confirmed copy.
func (s *Store) Load(chatID string, msgs []model.Message) {
	var keep []*entry
	for _, e := range s.logs[chatID] {
		if e.msg.Delivery != model.Confirmed {
			keep = append(keep, e)
		}
		delete(s.byID, e.msg.ID)
		if e.msg.TempID != "" {
			delete(s.byTemp, e.msg.TempID)
		}
	}
	s.logs[chatID] = nil

	confirmedTemp := make(map[string]bool)
	for _, m := range msgs {
		if m.ID == "" {
			continue
		}
		m.ChatID = chatID
		if m.TempID != "" {
			confirmedTemp[m.TempID] = true
		}
		if other, ok := s.byID[m.ID]; ok && other != chatID {
			s.MarkDeleted(other, m.ID)
		}
		if _, i := s.find(m.ID); i >= 0 {
			s.logs[chatID][i].msg = m.Clone()
			s.reposition(chatID, i)
			continue
		}
		s.seq++
		s.insert(chatID, &entry{msg: m.Clone(), seq: s.seq})
	}

	for _, e := range keep {
		if confirmedTemp[e.msg.TempID] {
			continue
		}
		s.insert(chatID, e)
	}
}

// Append inserts msg in order. If the id is already present the stored record
// is refreshed in place and Append reports false.
func (s *Store) Append(chatID string, msg model.Message) bool {
	if msg.ID == "" {
		return false
	}
	msg.ChatID = chatID
	if cur, i := s.find(msg.ID); i >= 0 {
		s.logs[cur][i].msg = msg.Clone()
		if cur != chatID {
			e := s.remove(cur, i)
			s.insert(chatID, e)
			return false
		}
		s.reposition(chatID, i)
		return false
	}

	s.seq++
	s.insert(chatID, &entry{msg: msg.Clone(), seq: s.seq})
	return true
}

// ReconcileOptimistic swaps the optimistic record tempID for serverMsg,
// keeping its insertion sequence. It reports false if tempID is unknown.
func (s *Store) ReconcileOptimistic(tempID string, serverMsg model.Message) bool {
	id, ok := s.byTemp[tempID]
	if !ok {
		return false
	}
	chatID, i := s.find(id)
	if i < 0 {
		delete(s.byTemp, tempID)
		return false
	}

	e := s.remove(chatID, i)
	if serverMsg.ChatID == "" {
		serverMsg.ChatID = chatID
	}
	serverMsg.TempID = tempID
	serverMsg.Delivery = model.Confirmed

	// The echo may already have arrived through another path.
	if dupChat, j := s.find(serverMsg.ID); j >= 0 {
		s.logs[dupChat][j].msg = serverMsg.Clone()
		s.reposition(dupChat, j)
		s.byTemp[tempID] = serverMsg.ID
		return true
	}

	e.msg = serverMsg.Clone()
	s.insert(serverMsg.ChatID, e)
	return true
}

// SetDelivery changes the delivery state of the optimistic record tempID.
func (s *Store) SetDelivery(tempID string, d model.Delivery) bool {
	id, ok := s.byTemp[tempID]
	if !ok {
		return false
	}
	chatID, i := s.find(id)
	if i < 0 {
		return false
	}
	s.logs[chatID][i].msg.Delivery = d
	return true
}

// MarkEdited applies an edited message. Unknown ids are ignored.
func (s *Store) MarkEdited(msg model.Message) bool {
	chatID, i := s.find(msg.ID)
	if i < 0 {
		return false
	}
	cur := &s.logs[chatID][i].msg
	cur.Body = msg.Body
	cur.Encoded = msg.Encoded
	cur.Edited = true
	if msg.Kind != "" {
		cur.Kind = msg.Kind
	}
	if msg.Reactions != nil {
		cur.Reactions = slices.Clone(msg.Reactions)
	}
	if msg.ReaderIDs != nil {
		cur.ReaderIDs = slices.Clone(msg.ReaderIDs)
	}
	return true
}

// MarkDeleted removes a message. An empty chatID looks the chat up by id.
func (s *Store) MarkDeleted(chatID, id string) bool {
	cur, i := s.find(id)
	if i < 0 || (chatID != "" && cur != chatID) {
		return false
	}
	s.remove(cur, i)
	return true
}

// AddReaction adds the (emoji, user) pair once.
func (s *Store) AddReaction(id string, r model.Reaction) bool {
	chatID, i := s.find(id)
	if i < 0 {
		return false
	}
	m := &s.logs[chatID][i].msg
	if m.HasReaction(r) {
		return false
	}
	m.Reactions = append(m.Reactions, r)
	return true
}

// AddReaders merges readers into the message's reader set.
func (s *Store) AddReaders(id string, readers []string) bool {
	chatID, i := s.find(id)
	if i < 0 {
		return false
	}
	m := &s.logs[chatID][i].msg
	changed := false
	for _, r := range readers {
		if !m.HasReader(r) {
			m.ReaderIDs = append(m.ReaderIDs, r)
			changed = true
		}
	}
	return changed
}

// Get returns a copy of the message with id.
func (s *Store) Get(id string) (model.Message, bool) {
	chatID, i := s.find(id)
	if i < 0 {
		return model.Message{}, false
	}
	return s.logs[chatID][i].msg.Clone(), true
}

// GetTemp returns the record currently standing for tempID.
func (s *Store) GetTemp(tempID string) (model.Message, bool) {
	id, ok := s.byTemp[tempID]
	if !ok {
		return model.Message{}, false
	}
	return s.Get(id)
}

// Messages returns a copy of chatID's log in order.
func (s *Store) Messages(chatID string) []model.Message {
	log := s.logs[chatID]
	out := make([]model.Message, len(log))
	for i, e := range log {
		out[i] = e.msg.Clone()
	}
	return out
}

// Len returns the number of messages of chatID.
func (s *Store) Len(chatID string) int { return len(s.logs[chatID]) }

// Rename moves a log to a new chat id, e.g. once a placeholder chat is confirmed.
func (s *Store) Rename(from, to string) {
	if from == to {
		return
	}
	for _, e := range s.logs[from] {
		e.msg.ChatID = to
		s.insert(to, e)
	}
	delete(s.logs, from)
}
