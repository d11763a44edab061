package engine

import (
	"cmp"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"

	"github.com/johndosdos/chatter-sync/internal/broker"
	"github.com/johndosdos/chatter-sync/internal/errs"
	"github.com/johndosdos/chatter-sync/internal/model"
	"github.com/johndosdos/chatter-sync/internal/receipt"
)

// reducer applies one inbound event to the state.
type reducer func(st *State, name string, data json.RawMessage) error

func reducerFor(name string) reducer {
	switch name {
	case broker.EventConnect:
		return reduceConnect
	case broker.EventDisconnect:
		return reduceDisconnect
	case broker.EventMyChats:
		return reduceMyChats
	case broker.EventChatMessages:
		return reduceChatMessages
	case broker.EventNewMessage:
		return reduceNewMessage
	case broker.EventMessageEdited:
		return reduceMessageEdited
	case broker.EventMessageDeleted:
		return reduceMessageDeleted
	case broker.EventUserTyping, broker.EventTypingStart:
		return reduceTyping
	case broker.EventUserStopTyping, broker.EventTypingStop:
		return reduceStopTyping
	case broker.EventUsersUpdate:
		return reduceUsersUpdate
	case broker.EventSearchResults:
		return reduceSearchResults
	case broker.EventNewPrivateChat:
		return reduceNewPrivateChat
	case broker.EventChatUpdated:
		return reduceChatUpdated
	case broker.EventMessagesRead:
		return reduceMessagesRead
	case broker.EventReactionAdded:
		return reduceReactionAdded
	case broker.EventError:
		return reduceError
	}
	return nil
}

// Apply is the single dispatch point for inbound events. Malformed payloads
// return an error wrapping errs.ErrProtocol and leave the state untouched.
func (st *State) Apply(name string, data json.RawMessage) error {
	r := reducerFor(name)
	if r == nil {
		slog.Debug("ignoring unknown event", "event", name)
		return nil
	}
	return r(st, name, data)
}

func decode[T any](name string, data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, errs.Protocol(name, errors.New("empty payload"))
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, errs.Protocol(name, err)
	}
	return v, nil
}

func (st *State) logDrop(name string, err error) {
	slog.Warn("dropping event", "event", name, "error", err)
}

func (st *State) logStale(chatID string) {
	slog.Debug("dropping stale message window", "chat_id", chatID)
}

func (st *State) logFetchFailed(chatID string, err error) {
	slog.Warn("failed to fetch messages, asking over the socket",
		"chat_id", chatID,
		"error", err)
}

// chatOf resolves the chat of an event that may only carry a message id.
func (st *State) chatOf(chatID, msgID string) string {
	if chatID != "" {
		return st.Chats.Resolve(chatID)
	}
	if m, ok := st.Messages.Get(msgID); ok {
		return m.ChatID
	}
	return ""
}

// deferred holds back an event that targets the loading chat, or whose chat
// is unknown while a load is in flight.
func (st *State) deferred(name string, data json.RawMessage, chatID string) bool {
	if st.loading(chatID) || (chatID == "" && st.phase == Loading) {
		st.hold(name, data)
		return true
	}
	return false
}

func reduceConnect(st *State, _ string, _ json.RawMessage) error {
	if st.Status != model.Connected {
		st.Status = model.Connected
		st.changed(StatusChanged, "")
	}
	st.send(broker.CmdGetMyChats, st.Self.ID)
	if sel := st.Chats.Selected(); sel != "" {
		st.beginLoad(sel)
	}
	return nil
}

func reduceDisconnect(st *State, _ string, _ json.RawMessage) error {
	// Stop events sent while offline are lost.
	st.Presence.ClearAll()
	st.changed(TypingChanged, "")
	return nil
}

func reduceMyChats(st *State, name string, data json.RawMessage) error {
	chats, err := decode[[]model.Chat](name, data)
	if err != nil {
		return err
	}
	for _, c := range chats {
		st.upsertChat(c)
	}
	st.changed(ChatsChanged, "")
	return nil
}

func (st *State) upsertChat(c model.Chat) {
	if c.ID == "" {
		return
	}
	c.DisplayName = st.clean(c.DisplayName)
	if c.LastMessage != nil {
		last := c.LastMessage.Clone()
		last.SenderName = st.clean(last.SenderName)
		if last.ReaderIDs != nil {
			last.ReaderIDs = receipt.FilterReaders(last.ReaderIDs, c, last.SenderID)
		}
		c.LastMessage = &last
	}
	if c.Kind == model.KindPrivate {
		st.confirmPrivate(c)
		return
	}
	st.Chats.UpsertMany([]model.Chat{c})
}

func reduceChatMessages(st *State, name string, data json.RawMessage) error {
	cm, err := decode[model.ChatMessages](name, data)
	if err != nil {
		return err
	}
	if !st.loading(cm.ChatID) {
		st.logStale(cm.ChatID)
		return nil
	}
	st.finishLoad(st.Chats.Resolve(cm.ChatID), cm.Messages)
	return nil
}

func reduceNewMessage(st *State, name string, data json.RawMessage) error {
	m, err := decode[model.Message](name, data)
	if err != nil {
		return err
	}
	if m.ID == "" || m.ChatID == "" {
		return errs.Protocol(name, errors.New("message without id or chat id"))
	}
	chatID := st.Chats.Resolve(m.ChatID)
	m.ChatID = chatID
	if st.deferred(name, data, chatID) {
		return nil
	}
	st.inbound(chatID, &m)
	st.changed(MessagesChanged, chatID)
	st.changed(ChatsChanged, "")

	if m.TempID != "" {
		if opt, ok := st.Messages.GetTemp(m.TempID); ok {
			st.Messages.ReconcileOptimistic(m.TempID, m)
			st.Chats.ReplaceLastMessage(chatID, opt.ID, m)
			return nil
		}
		// Already confirmed by a loaded window; the preview may still hold
		// the optimistic copy.
		st.Chats.ReplaceLastMessage(chatID, m.TempID, m)
	}

	st.Messages.Append(chatID, m)
	if st.Presence.StopTyping(chatID, m.SenderID) {
		st.changed(TypingChanged, chatID)
	}
	if !st.Chats.PatchLastMessage(chatID, m) {
		// A chat we have not heard of yet.
		st.send(broker.CmdGetMyChats, st.Self.ID)
	}
	return nil
}

func reduceMessageEdited(st *State, name string, data json.RawMessage) error {
	m, err := decode[model.Message](name, data)
	if err != nil {
		return err
	}
	if m.ID == "" {
		return errs.Protocol(name, errors.New("message without id"))
	}
	chatID := st.chatOf(m.ChatID, m.ID)
	if st.deferred(name, data, chatID) {
		return nil
	}
	if cur, ok := st.Messages.Get(m.ID); ok {
		m.SenderID = cmp.Or(m.SenderID, cur.SenderID)
		chatID = cur.ChatID
	}
	st.inbound(chatID, &m)

	if st.Messages.MarkEdited(m) {
		updated, _ := st.Messages.Get(m.ID)
		chatID = updated.ChatID
		st.Chats.ReplaceLastMessage(chatID, m.ID, updated)
		st.changed(MessagesChanged, chatID)
		st.changed(ChatsChanged, "")
		return nil
	}

	// Not in a loaded window, but it may be the preview in the chat list.
	if c, ok := st.Chats.Get(chatID); ok && c.LastMessage != nil && c.LastMessage.ID == m.ID {
		m.ChatID = c.ID
		m.Edited = true
		st.Chats.ReplaceLastMessage(c.ID, m.ID, m)
		st.changed(ChatsChanged, "")
	}
	return nil
}

func reduceMessageDeleted(st *State, name string, data json.RawMessage) error {
	d, err := decode[model.MessageDeleted](name, data)
	if err != nil {
		return err
	}
	if d.ID == "" {
		return errs.Protocol(name, errors.New("missing message id"))
	}
	chatID := st.chatOf(d.ChatID, d.ID)
	if st.deferred(name, data, chatID) {
		return nil
	}

	if st.Messages.MarkDeleted(chatID, d.ID) {
		st.changed(MessagesChanged, chatID)
	}
	if chatID == "" {
		return nil
	}

	var next *model.Message
	if log := st.Messages.Messages(chatID); len(log) > 0 {
		next = &log[len(log)-1]
	}
	if st.Chats.RemoveLastMessage(chatID, d.ID, next) {
		st.changed(ChatsChanged, "")
	}
	return nil
}

func reduceTyping(st *State, name string, data json.RawMessage) error {
	t, err := decode[model.Typing](name, data)
	if err != nil {
		return err
	}
	if t.UserID == "" || t.ChatID == "" {
		return errs.Protocol(name, errors.New("typing without user or chat"))
	}
	if t.UserID == st.Self.ID {
		return nil
	}
	chatID := st.Chats.Resolve(t.ChatID)
	st.Presence.MarkTyping(chatID, t.UserID, st.clean(t.Username))
	st.changed(TypingChanged, chatID)
	return nil
}

func reduceStopTyping(st *State, name string, data json.RawMessage) error {
	t, err := decode[model.Typing](name, data)
	if err != nil {
		return err
	}
	chatID := st.Chats.Resolve(t.ChatID)
	if st.Presence.StopTyping(chatID, t.UserID) {
		st.changed(TypingChanged, chatID)
	}
	return nil
}

func reduceUsersUpdate(st *State, name string, data json.RawMessage) error {
	users, err := decode[[]model.User](name, data)
	if err != nil {
		return err
	}
	for i := range users {
		users[i].DisplayName = st.clean(users[i].DisplayName)
		users[i].Handle = st.clean(users[i].Handle)
	}
	st.Presence.SetUsers(users)
	st.changed(ChatsChanged, "")
	return nil
}

func reduceSearchResults(st *State, name string, data json.RawMessage) error {
	users, err := decode[[]model.User](name, data)
	if err != nil {
		return err
	}
	users = slices.DeleteFunc(users, func(u model.User) bool {
		return u.ID == "" || u.ID == st.Self.ID
	})
	for i := range users {
		users[i].DisplayName = st.clean(users[i].DisplayName)
		users[i].Handle = st.clean(users[i].Handle)
	}
	st.SearchResults = users
	st.changed(SearchChanged, "")
	return nil
}

func reduceNewPrivateChat(st *State, name string, data json.RawMessage) error {
	c, err := decode[model.Chat](name, data)
	if err != nil {
		return err
	}
	if c.ID == "" {
		return errs.Protocol(name, errors.New("chat without id"))
	}
	c.Kind = model.KindPrivate
	st.upsertChat(c)
	st.changed(ChatsChanged, "")
	return nil
}

func reduceChatUpdated(st *State, name string, data json.RawMessage) error {
	c, err := decode[model.Chat](name, data)
	if err != nil {
		return err
	}
	if c.ID == "" {
		return errs.Protocol(name, errors.New("chat without id"))
	}
	st.upsertChat(c)
	st.changed(ChatsChanged, "")
	return nil
}

func reduceMessagesRead(st *State, name string, data json.RawMessage) error {
	r, err := decode[model.MessagesRead](name, data)
	if err != nil {
		return err
	}
	if r.ChatID == "" || r.UserID == "" {
		return errs.Protocol(name, errors.New("receipt without chat or user"))
	}
	chatID := st.Chats.Resolve(r.ChatID)
	if st.deferred(name, data, chatID) {
		return nil
	}
	c, ok := st.Chats.Get(chatID)
	if !ok {
		return nil
	}

	ids := r.MessageIDs
	if len(ids) == 0 {
		// No ids: everything in the chat has been seen.
		for _, m := range st.Messages.Messages(chatID) {
			ids = append(ids, m.ID)
		}
	}

	for _, id := range ids {
		m, ok := st.Messages.Get(id)
		if !ok {
			continue
		}
		readers := receipt.FilterReaders([]string{r.UserID}, c, m.SenderID)
		if !st.Messages.AddReaders(id, readers) {
			continue
		}
		st.changed(MessagesChanged, chatID)
		if c.LastMessage != nil && c.LastMessage.ID == id {
			updated, _ := st.Messages.Get(id)
			st.Chats.ReplaceLastMessage(chatID, id, updated)
			st.changed(ChatsChanged, "")
		}
	}
	return nil
}

func reduceReactionAdded(st *State, name string, data json.RawMessage) error {
	r, err := decode[model.ReactionAdded](name, data)
	if err != nil {
		return err
	}
	if r.MessageID == "" || r.Emoji == "" || r.UserID == "" {
		return errs.Protocol(name, errors.New("incomplete reaction"))
	}
	chatID := st.chatOf("", r.MessageID)
	if st.deferred(name, data, chatID) {
		return nil
	}
	if st.Messages.AddReaction(r.MessageID, model.Reaction{Emoji: r.Emoji, UserID: r.UserID}) {
		st.changed(MessagesChanged, chatID)
	}
	return nil
}

func reduceError(st *State, name string, data json.RawMessage) error {
	var msg string
	if err := json.Unmarshal(data, &msg); err != nil {
		var obj struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return errs.Protocol(name, err)
		}
		msg = cmp.Or(obj.Message, obj.Error)
	}

	slog.Warn("server reported an error", "error", msg)
	st.LastError = msg
	st.changed(ErrorReceived, "")
	return nil
}
