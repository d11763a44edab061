package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/johndosdos/chatter-sync/internal/broker"
	"github.com/johndosdos/chatter-sync/internal/envelope"
	"github.com/johndosdos/chatter-sync/internal/errs"
	"github.com/johndosdos/chatter-sync/internal/model"
)

// minSearchLen is the shortest query sent to the server.
const minSearchLen = 2

// do runs fn on the engine goroutine and returns its error.
func (e *Engine) do(fn func() error) error {
	var err error
	if cerr := e.call(func() { err = fn() }); cerr != nil {
		return cerr
	}
	return err
}

func (e *Engine) connected() error {
	if e.conn.Status() != model.Connected {
		return errs.ErrNotConnected
	}
	return nil
}

// writable returns chatID's chat if the local user may post in it.
func (e *Engine) writable(chatID string) (model.Chat, error) {
	if chatID == "" {
		return model.Chat{}, errs.ErrNoChatSelected
	}
	c, ok := e.state.Chats.Get(chatID)
	if !ok {
		return model.Chat{}, errs.ErrUnknownChat
	}
	if c.ReadOnly(e.state.Self.ID) {
		return model.Chat{}, errs.ErrReadOnlyChat
	}
	return c, nil
}

// SelectChat makes chatID the active chat: its unread count drops to zero,
// the chat's event scope is joined and its message window requested.
func (e *Engine) SelectChat(chatID string) error {
	return e.do(func() error {
		st := e.state
		if _, ok := st.Chats.Get(chatID); !ok {
			return fmt.Errorf("internal/engine: select %s: %w", chatID, errs.ErrUnknownChat)
		}
		st.selectChat(st.Chats.Resolve(chatID))
		return nil
	})
}

// Deselect leaves the active chat. An outstanding load is abandoned.
func (e *Engine) Deselect() error {
	return e.do(func() error {
		e.state.deselect()
		e.state.changed(ChatsChanged, "")
		return nil
	})
}

// SendMessage posts text to the active chat. The message is appended at once
// as pending and flips to failed if the server does not confirm it within the
// send timeout. Blank text, a read-only chat or a lost connection reject the
// send before anything is stored.
func (e *Engine) SendMessage(text string) (model.Message, error) {
	return e.sendText(text, "")
}

// SendReply is SendMessage quoting the message replyTo.
func (e *Engine) SendReply(replyTo, text string) (model.Message, error) {
	return e.sendText(text, replyTo)
}

func (e *Engine) sendText(text, replyTo string) (model.Message, error) {
	var out model.Message
	err := e.do(func() error {
		if strings.TrimSpace(text) == "" {
			return errs.ErrBlankMessage
		}
		c, err := e.writable(e.state.Chats.Selected())
		if err != nil {
			return err
		}

		draft := model.Message{
			Body:    envelope.Encode(text),
			Kind:    model.MessageText,
			Encoded: true,
		}
		if replyTo != "" {
			orig, ok := e.state.Messages.Get(replyTo)
			if !ok {
				return errs.ErrUnknownMessage
			}
			draft.ReplyTo = &model.ReplyRef{
				ID:         orig.ID,
				Content:    orig.Body,
				SenderName: orig.SenderName,
			}
		}

		out, err = e.sendDraft(c, draft)
		return err
	})
	if err != nil {
		return out, fmt.Errorf("internal/engine: send message: %w", err)
	}
	return out, nil
}

// sendDraft stores draft as a pending message of c and transmits it.
func (e *Engine) sendDraft(c model.Chat, draft model.Message) (model.Message, error) {
	if err := e.connected(); err != nil {
		return model.Message{}, err
	}
	st := e.state

	tempID := "tmp-" + uuid.NewString()
	msg := draft
	msg.ID = tempID
	msg.TempID = tempID
	msg.ChatID = c.ID
	msg.SenderID = st.Self.ID
	msg.SenderName = st.Self.DisplayName
	msg.SentAt = st.now()
	msg.Delivery = model.Pending

	st.Messages.Append(c.ID, msg)
	st.Chats.PatchLastMessage(c.ID, msg)
	st.changed(MessagesChanged, c.ID)
	st.changed(ChatsChanged, "")

	if err := e.transmit(msg); err != nil {
		st.Messages.SetDelivery(tempID, model.Failed)
		msg.Delivery = model.Failed
		return msg, err
	}
	return msg, nil
}

// transmit sends an optimistic message and arms its confirmation timeout.
func (e *Engine) transmit(msg model.Message) error {
	payload := model.SendMessage{
		ChatID:      msg.ChatID,
		Content:     msg.Body,
		Type:        msg.Kind,
		IsEncrypted: msg.Encoded,
		TempID:      msg.TempID,
	}
	if msg.ReplyTo != nil {
		payload.ReplyTo = msg.ReplyTo.ID
	}
	if err := e.conn.Send(broker.CmdSendMessage, payload); err != nil {
		return err
	}

	tempID := msg.TempID
	if t, ok := e.timers[tempID]; ok {
		t.Stop()
	}
	e.timers[tempID] = time.AfterFunc(e.cfg.SendTimeout, func() {
		e.post(func() { e.expire(tempID) })
	})
	return nil
}

// expire fails a message that is still unconfirmed when its timer fires.
func (e *Engine) expire(tempID string) {
	delete(e.timers, tempID)

	m, ok := e.state.Messages.GetTemp(tempID)
	if !ok || m.Delivery != model.Pending {
		return
	}
	slog.WarnContext(e.ctx, "message not confirmed in time",
		"chat_id", m.ChatID,
		"temp_id", tempID)
	e.state.Messages.SetDelivery(tempID, model.Failed)
	e.state.changed(MessagesChanged, m.ChatID)
}

// RetrySend re-sends a failed message under the same temp id. Retries only
// ever happen on request.
func (e *Engine) RetrySend(tempID string) (model.Message, error) {
	var out model.Message
	err := e.do(func() error {
		st := e.state
		m, ok := st.Messages.GetTemp(tempID)
		if !ok || m.Delivery != model.Failed {
			return fmt.Errorf("%w: no failed message %s", errs.ErrUnknownMessage, tempID)
		}
		if err := e.connected(); err != nil {
			return err
		}

		st.Messages.SetDelivery(tempID, model.Pending)
		st.changed(MessagesChanged, m.ChatID)
		m.Delivery = model.Pending
		if err := e.transmit(m); err != nil {
			st.Messages.SetDelivery(tempID, model.Failed)
			m.Delivery = model.Failed
			out = m
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return out, fmt.Errorf("internal/engine: retry send: %w", err)
	}
	return out, nil
}

// SendAttachment uploads r and posts its URL to the active chat as a message
// of the given kind.
func (e *Engine) SendAttachment(ctx context.Context, name string, r io.Reader, kind model.MessageKind) (model.Message, error) {
	if e.cfg.Uploader == nil {
		return model.Message{}, errors.New("internal/engine: send attachment: no uploader configured")
	}

	var chatID string
	err := e.do(func() error {
		c, err := e.writable(e.state.Chats.Selected())
		if err != nil {
			return err
		}
		chatID = c.ID
		return e.connected()
	})
	if err != nil {
		return model.Message{}, fmt.Errorf("internal/engine: send attachment: %w", err)
	}

	url, err := e.cfg.Uploader.Upload(ctx, name, r)
	if err != nil {
		return model.Message{}, fmt.Errorf("internal/engine: send attachment: %w", err)
	}

	var out model.Message
	err = e.do(func() error {
		c, err := e.writable(chatID)
		if err != nil {
			return err
		}
		out, err = e.sendDraft(c, model.Message{
			Body: url,
			Kind: cmp.Or(kind, model.MessageFile),
		})
		return err
	})
	if err != nil {
		return out, fmt.Errorf("internal/engine: send attachment: %w", err)
	}
	return out, nil
}

// CreatePrivateChat opens a 1:1 chat with user. An existing chat with the
// same participants is selected instead; otherwise a pending placeholder is
// added and selected until the server confirms it.
func (e *Engine) CreatePrivateChat(user model.User) (model.Chat, error) {
	var out model.Chat
	err := e.do(func() error {
		st := e.state
		if user.ID == "" || user.ID == st.Self.ID {
			return fmt.Errorf("%w: invalid peer %q", errs.ErrValidation, user.ID)
		}
		participants := []string{st.Self.ID, user.ID}
		payload := model.CreatePrivateChat{UserID: user.ID, CreatedBy: st.Self.ID}

		if c, ok := st.Chats.FindByParticipants(participants); ok {
			if c.Pending && e.connected() == nil {
				payload.ChatID = c.ID
				st.send(broker.CmdCreatePrivateChat, payload)
			}
			st.selectChat(c.ID)
			out, _ = st.Chats.Get(c.ID)
			return nil
		}

		if err := e.connected(); err != nil {
			return err
		}

		user.DisplayName = st.clean(user.DisplayName)
		user.Handle = st.clean(user.Handle)
		st.Presence.SetUsers([]model.User{user})

		localID := model.PrivateChatID(st.Self.ID, user.ID)
		name := cmp.Or(user.DisplayName, user.Handle, user.ID)
		st.Chats.CreatePendingPrivateChat(localID, participants, name, st.now())
		st.pendingChats[model.ParticipantKey(participants)] = localID

		payload.ChatID = localID
		st.send(broker.CmdCreatePrivateChat, payload)
		st.selectChat(localID)
		out, _ = st.Chats.Get(localID)
		return nil
	})
	if err != nil {
		return out, fmt.Errorf("internal/engine: create private chat: %w", err)
	}
	return out, nil
}

// AddReaction reacts to a confirmed message. The reaction shows at once; the
// server echo is deduplicated per (emoji, user).
func (e *Engine) AddReaction(messageID, emoji string) error {
	err := e.do(func() error {
		st := e.state
		emoji = strings.TrimSpace(emoji)
		if emoji == "" {
			return fmt.Errorf("%w: empty reaction", errs.ErrValidation)
		}
		m, ok := st.Messages.Get(messageID)
		if !ok {
			return errs.ErrUnknownMessage
		}
		if m.Delivery != model.Confirmed {
			return fmt.Errorf("%w: message is not delivered yet", errs.ErrValidation)
		}
		if err := e.connected(); err != nil {
			return err
		}

		err := e.conn.Send(broker.CmdAddReaction, model.AddReaction{
			MessageID: messageID,
			Emoji:     emoji,
			UserID:    st.Self.ID,
			Username:  st.Self.DisplayName,
		})
		if err != nil {
			return err
		}
		if st.Messages.AddReaction(messageID, model.Reaction{Emoji: emoji, UserID: st.Self.ID}) {
			st.changed(MessagesChanged, m.ChatID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("internal/engine: add reaction: %w", err)
	}
	return nil
}

// SearchUsers asks the server for users matching query. Queries shorter than
// two characters clear the results without a request.
func (e *Engine) SearchUsers(query string) error {
	err := e.do(func() error {
		st := e.state
		query = strings.TrimSpace(query)
		if utf8.RuneCountInString(query) < minSearchLen {
			st.SearchResults = nil
			st.changed(SearchChanged, "")
			return nil
		}
		if err := e.connected(); err != nil {
			return err
		}
		return e.conn.Send(broker.CmdSearchUsers, query)
	})
	if err != nil {
		return fmt.Errorf("internal/engine: search users: %w", err)
	}
	return nil
}

// NotifyTyping tells the active chat that the local user is typing, at most
// once per typing emit interval. It is best effort and silent while offline.
func (e *Engine) NotifyTyping() error {
	return e.do(func() error {
		st := e.state
		chatID := st.Chats.Selected()
		if chatID == "" || e.connected() != nil {
			return nil
		}
		if !e.typing.AllowAt(chatID, st.now()) {
			return nil
		}
		return e.conn.Send(broker.CmdTyping, model.TypingNotice{
			ChatID:   chatID,
			UserID:   st.Self.ID,
			Username: st.Self.DisplayName,
		})
	})
}

// StopTyping ends the typing notice of the active chat.
func (e *Engine) StopTyping() error {
	return e.do(func() error {
		chatID := e.state.Chats.Selected()
		if chatID == "" {
			return nil
		}
		e.typing.Reset(chatID)
		if e.connected() != nil {
			return nil
		}
		return e.conn.Send(broker.CmdStopTyping, model.StopTypingNotice{ChatID: chatID})
	})
}

// SetPinned changes the local pinned flag of a chat.
func (e *Engine) SetPinned(chatID string, pinned bool) error {
	return e.do(func() error {
		if !e.state.Chats.SetPinned(chatID, pinned) {
			return fmt.Errorf("internal/engine: pin %s: %w", chatID, errs.ErrUnknownChat)
		}
		e.state.changed(ChatsChanged, "")
		return nil
	})
}

// SetMuted changes the local muted flag of a chat.
func (e *Engine) SetMuted(chatID string, muted bool) error {
	return e.do(func() error {
		if !e.state.Chats.SetMuted(chatID, muted) {
			return fmt.Errorf("internal/engine: mute %s: %w", chatID, errs.ErrUnknownChat)
		}
		e.state.changed(ChatsChanged, "")
		return nil
	})
}
