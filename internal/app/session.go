package app

import (
	"context"
	"sync"

	"github.com/johndosdos/chatter-sync/internal/engine"
	"github.com/johndosdos/chatter-sync/internal/model"
	ws "github.com/johndosdos/chatter-sync/internal/websocket"
)

// Session is one connected engine.
type Session struct {
	User    model.User
	Engine  *engine.Engine
	Changes <-chan engine.Change

	conn   *ws.Manager
	cancel context.CancelFunc
	once   sync.Once
}

// Status is the connection state of the session.
func (s *Session) Status() model.ConnectionState {
	return s.conn.Status()
}

// Err is why the session dropped on its own, or nil. A rejected token wraps
// errs.ErrAuth and means the user has to log in again.
func (s *Session) Err() error {
	return s.conn.Err()
}

// Close disconnects and stops the engine. Changes is closed afterwards.
func (s *Session) Close() {
	s.once.Do(func() {
		_ = s.conn.Close()
		s.cancel()
		<-s.Engine.Done()
	})
}
