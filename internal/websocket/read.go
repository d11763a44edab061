package websocket

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/coder/websocket"

	"github.com/johndosdos/chatter-sync/internal/model"
)

// readLoop reads frames off conn and publishes them until the connection
// fails. Malformed frames are logged and dropped.
func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		msgType, p, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure &&
				status != websocket.StatusGoingAway &&
				status != -1 {
				slog.WarnContext(ctx, "connection closed by server", "status", status.String())
			}
			return err
		}

		// Only text frames carry events.
		if msgType != websocket.MessageText {
			continue
		}

		var f model.Frame
		if err := json.Unmarshal(p, &f); err != nil || f.Event == "" {
			slog.WarnContext(ctx, "dropping malformed frame",
				"error", err,
				"size", len(p))
			continue
		}

		m.router.Publish(f.Event, f.Data)
	}
}
