// Package receipt derives per-message read state. Everything here is pure.
package receipt

import (
	"slices"

	"github.com/johndosdos/chatter-sync/internal/model"
)

// IsRead reports whether msg counts as read in chat.
//
// A chat with at most one participant (saved messages) always resolves true.
// In a 1:1 chat the counterpart of the sender must be a reader; in group and
// channel chats every participant except the sender must be.
func IsRead(msg model.Message, chat model.Chat, viewerID string) bool {
	participants := slices.Compact(slices.Sorted(slices.Values(chat.ParticipantIDs)))
	if len(participants) <= 1 {
		return true
	}

	if len(participants) == 2 && chat.Kind != model.KindGroup && chat.Kind != model.KindChannel {
		other := counterpart(participants, msg.SenderID, viewerID)
		return other == "" || msg.HasReader(other)
	}

	for _, id := range participants {
		if id == msg.SenderID {
			continue
		}
		if !msg.HasReader(id) {
			return false
		}
	}
	return true
}

// counterpart picks the participant who is not the sender. If the sender is no
// longer a participant, it falls back to the one who is not the viewer.
func counterpart(participants []string, senderID, viewerID string) string {
	exclude := senderID
	if !slices.Contains(participants, senderID) {
		exclude = viewerID
	}
	for _, id := range participants {
		if id != exclude {
			return id
		}
	}
	return ""
}

// FilterReaders keeps only ids that may appear in a reader set for a message
// sent by senderID: participants of chat, excluding the sender, without duplicates.
func FilterReaders(readers []string, chat model.Chat, senderID string) []string {
	out := make([]string, 0, len(readers))
	for _, id := range readers {
		if id == senderID || !chat.HasParticipant(id) || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}
