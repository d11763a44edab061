package engine

import (
	"time"

	"github.com/johndosdos/chatter-sync/internal/broker"
	"github.com/johndosdos/chatter-sync/internal/chat"
	"github.com/johndosdos/chatter-sync/internal/message"
	"github.com/johndosdos/chatter-sync/internal/model"
	"github.com/johndosdos/chatter-sync/internal/presence"
	"github.com/johndosdos/chatter-sync/internal/receipt"
)

// Phase is the per-selection state of the engine.
type Phase int

const (
	NoChatSelected Phase = iota
	Loading
	Ready
)

func (p Phase) String() string {
	switch p {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	default:
		return "no_chat_selected"
	}
}

type ChangeKind int

const (
	ChatsChanged ChangeKind = iota
	MessagesChanged
	TypingChanged
	StatusChanged
	SearchChanged
	ErrorReceived
)

func (k ChangeKind) String() string {
	switch k {
	case ChatsChanged:
		return "chats"
	case MessagesChanged:
		return "messages"
	case TypingChanged:
		return "typing"
	case StatusChanged:
		return "status"
	case SearchChanged:
		return "search"
	case ErrorReceived:
		return "error"
	}
	return "unknown"
}

// Change tells subscribers which part of the read model moved.
type Change struct {
	Kind   ChangeKind
	ChatID string
}

// heldEvent is an inbound event held back while its chat is loading.
type heldEvent struct {
	name string
	data []byte
}

// effect is an outbound action produced by a reducer: either a frame to send
// or a REST fetch of a message window.
type effect struct {
	event   string
	payload any

	fetch string
	seq   uint64
}

// State is everything the engine knows about a session. Reducers mutate it;
// they never perform I/O and only queue effects.
type State struct {
	Self          model.User
	Status        model.ConnectionState
	Chats         *chat.Store
	Messages      *message.Store
	Presence      *presence.Tracker
	SearchResults []model.User
	LastError     string

	phase       Phase
	loadSeq     uint64
	loadingChat string
	restLoad    bool
	buffered    []heldEvent

	// pendingChats maps a participant key to its local placeholder id.
	pendingChats map[string]string

	now       func() time.Time
	sanitizer sanitizer

	effects []effect
	changes []Change
}

func newState(self model.User, typingTTL time.Duration, now func() time.Time, s sanitizer) *State {
	return &State{
		Self:         self,
		Chats:        chat.NewStore(self.ID),
		Messages:     message.NewStore(),
		Presence:     presence.NewTracker(self.ID, typingTTL, now),
		pendingChats: make(map[string]string),
		now:          now,
		sanitizer:    s,
	}
}

func (st *State) send(event string, payload any) {
	st.effects = append(st.effects, effect{event: event, payload: payload})
}

func (st *State) changed(kind ChangeKind, chatID string) {
	for _, c := range st.changes {
		if c.Kind == kind && c.ChatID == chatID {
			return
		}
	}
	st.changes = append(st.changes, Change{Kind: kind, ChatID: chatID})
}

func (st *State) clean(s string) string {
	if st.sanitizer == nil {
		return s
	}
	return st.sanitizer.Sanitize(s)
}

// inbound normalizes a server message for chatID: the sender name is
// sanitized and readers are limited to participants other than the sender.
func (st *State) inbound(chatID string, m *model.Message) {
	m.SenderName = st.clean(m.SenderName)
	if m.ReaderIDs == nil {
		return
	}
	c, _ := st.Chats.Get(chatID)
	m.ReaderIDs = receipt.FilterReaders(m.ReaderIDs, c, m.SenderID)
}

// loading reports whether chatID is the chat whose window is being fetched.
func (st *State) loading(chatID string) bool {
	return st.phase == Loading && chatID != "" && st.Chats.Resolve(chatID) == st.loadingChat
}

func (st *State) hold(name string, data []byte) {
	st.buffered = append(st.buffered, heldEvent{name: name, data: data})
}

// beginLoad starts a new window request for the selected chat. Any response
// to an earlier request is stale from here on.
func (st *State) beginLoad(chatID string) {
	st.loadSeq++

	c, ok := st.Chats.Get(chatID)
	if ok && c.Pending {
		// Nothing to fetch before the server knows the chat.
		st.phase = Ready
		st.loadingChat = ""
		st.changed(MessagesChanged, chatID)
		st.release()
		return
	}

	st.phase = Loading
	st.loadingChat = chatID
	st.send(broker.CmdJoinChat, chatID)
	if st.restLoad {
		st.effects = append(st.effects, effect{fetch: chatID, seq: st.loadSeq})
	} else {
		st.send(broker.CmdGetMessages, model.GetMessages{ChatID: chatID, UserID: st.Self.ID})
	}
	st.release()
}

// release re-applies held events. Those still targeting the loading chat are
// held again.
func (st *State) release() {
	held := st.buffered
	st.buffered = nil
	for _, ev := range held {
		if err := st.Apply(ev.name, ev.data); err != nil {
			st.logDrop(ev.name, err)
		}
	}
}

// finishLoad installs a fetched window and replays what arrived meanwhile.
func (st *State) finishLoad(chatID string, msgs []model.Message) {
	for i := range msgs {
		st.inbound(chatID, &msgs[i])
	}
	st.Messages.Load(chatID, msgs)
	for _, m := range msgs {
		if m.TempID != "" {
			st.Chats.ReplaceLastMessage(chatID, m.TempID, m)
		}
	}
	if log := st.Messages.Messages(chatID); len(log) > 0 {
		st.Chats.PatchLastMessage(chatID, log[len(log)-1])
	}

	st.phase = Ready
	st.loadingChat = ""
	st.changed(MessagesChanged, chatID)
	st.changed(ChatsChanged, "")
	st.release()
}

func (st *State) completeFetch(seq uint64, chatID string, msgs []model.Message, err error) {
	if seq != st.loadSeq || !st.loading(chatID) {
		st.logStale(chatID)
		return
	}
	if err != nil {
		st.logFetchFailed(chatID, err)
		st.send(broker.CmdGetMessages, model.GetMessages{ChatID: chatID, UserID: st.Self.ID})
		return
	}
	st.finishLoad(chatID, msgs)
}

func (st *State) selectChat(chatID string) {
	if prev := st.Chats.Selected(); prev != "" && prev != chatID {
		st.Presence.ClearChat(prev)
		st.changed(TypingChanged, prev)
	}
	st.Chats.Select(chatID)
	st.changed(ChatsChanged, "")
	st.beginLoad(chatID)
}

func (st *State) deselect() {
	if prev := st.Chats.Selected(); prev != "" {
		st.Presence.ClearChat(prev)
		st.changed(TypingChanged, prev)
	}
	st.Chats.Deselect()
	st.loadSeq++
	st.phase = NoChatSelected
	st.loadingChat = ""
	st.release()
}

// confirmPrivate folds the server copy of a 1:1 chat into any placeholder
// for the same participants and moves the placeholder's messages over.
func (st *State) confirmPrivate(c model.Chat) {
	key := model.ParticipantKey(c.ParticipantIDs)
	st.Chats.MergePrivate(c)

	local, ok := st.pendingChats[key]
	if !ok {
		return
	}
	delete(st.pendingChats, key)
	if local == c.ID {
		return
	}
	st.Messages.Rename(local, c.ID)
	if st.loadingChat == local {
		st.loadingChat = c.ID
	}
	st.changed(MessagesChanged, c.ID)
}
