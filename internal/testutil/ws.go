package testutil

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/johndosdos/chatter-sync/internal/model"
)

func (s *Server) handleWs(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("testutil: failed to accept websocket: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.conns[conn] = cancel
	s.upgrades++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		cancel()
		conn.CloseNow()
	}()

	for {
		var f model.Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return
		}

		s.mu.Lock()
		s.frames = append(s.frames, f)
		onFrame := s.OnFrame
		s.mu.Unlock()

		if onFrame != nil {
			onFrame(s, f)
		}
	}
}

// Push sends an event to every connected client.
func (s *Server) Push(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, c := range conns {
		if err := wsjson.Write(ctx, c, model.Frame{Event: event, Data: data}); err != nil {
			return err
		}
	}
	return nil
}

// PushRaw writes p verbatim as a text frame to every client.
func (s *Server) PushRaw(p []byte) error {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, c := range conns {
		if err := c.Write(ctx, websocket.MessageText, p); err != nil {
			return err
		}
	}
	return nil
}

// DropConnections closes every client connection abruptly.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c, cancel := range s.conns {
		cancel()
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.CloseNow()
	}
}

// Connections returns the number of open websocket connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Upgrades returns how many websocket handshakes succeeded.
func (s *Server) Upgrades() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upgrades
}

// Frames returns the frames received for event, or all frames if event is "".
func (s *Server) Frames(event string) []model.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Frame
	for _, f := range s.frames {
		if event == "" || f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

// Eventually polls cond until it holds or timeout passes.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}
