// Package testutil provides an in-memory backend speaking the REST and
// websocket protocol of the chat server.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/johndosdos/chatter-sync/internal/model"
)

// Server is a fake backend. Fields may be set before the first request.
type Server struct {
	*httptest.Server

	Token    string
	User     model.User
	Email    string
	Password string

	// OnFrame, if set, is called for every frame a client sends.
	OnFrame func(s *Server, f model.Frame)

	mu       sync.Mutex
	chats    []model.Chat
	messages map[string][]model.Message
	uploads  map[string][]byte
	conns    map[*websocket.Conn]context.CancelFunc
	frames   []model.Frame
	upgrades int
	reject   bool
}

// NewServer starts a fake backend and closes it when the test ends.
func NewServer(t *testing.T) *Server {
	t.Helper()

	s := &Server{
		Token:    "test-token",
		User:     model.User{ID: "me", DisplayName: "Me", Handle: "me"},
		Email:    "me@test.com",
		Password: "password1234",
		messages: make(map[string][]model.Message),
		uploads:  make(map[string][]byte),
		conns:    make(map[*websocket.Conn]context.CancelFunc),
	}

	r := chi.NewRouter()
	r.Post("/api/auth", s.handleAuth)
	r.Group(func(r chi.Router) {
		r.Use(s.requireBearer)
		r.Get("/api/chats", s.handleChats)
		r.Get("/api/messages/{chatID}", s.handleMessages)
		r.Post("/api/messages", s.handlePostMessage)
		r.Post("/api/upload", s.handleUpload)
		r.Get("/ws", s.handleWs)
	})

	s.Server = httptest.NewServer(r)
	t.Cleanup(func() {
		s.DropConnections()
		s.Server.Close()
	})
	return s
}

// WSURL is the websocket endpoint.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
}

// RejectAuth makes every authenticated request fail with 401.
func (s *Server) RejectAuth(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = reject
}

func (s *Server) SetChats(chats []model.Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats = chats
}

func (s *Server) SetMessages(chatID string, msgs []model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[chatID] = msgs
}

// Upload returns the bytes stored under name.
func (s *Server) Upload(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.uploads[name]
	return p, ok
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func fail(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"success": false, "error": msg})
}

func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		reject, token := s.reject, s.Token
		s.mu.Unlock()

		if reject || r.Header.Get("Authorization") != "Bearer "+token {
			fail(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action   string `json:"action"`
		Email    string `json:"email"`
		Password string `json:"password"`
		Username string `json:"username"`
		FullName string `json:"fullName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid json")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch req.Action {
	case "login":
		if req.Email != s.Email || req.Password != s.Password {
			fail(w, http.StatusUnauthorized, "invalid email or password")
			return
		}
	case "register":
		s.Email, s.Password = req.Email, req.Password
		s.User.Handle, s.User.DisplayName = req.Username, req.FullName
	case "update_username":
		if r.Header.Get("Authorization") != "Bearer "+s.Token {
			fail(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		s.User.Handle = req.Username
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": s.User})
		return
	default:
		fail(w, http.StatusBadRequest, "unknown action")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "token": s.Token, "user": s.User})
}

func (s *Server) handleChats(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "chats": s.chats})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs, ok := s.messages[chatID]
	if !ok {
		fail(w, http.StatusNotFound, "chat not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "messages": msgs})
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req model.SendMessage
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChatID == "" {
		fail(w, http.StatusBadRequest, "invalid message")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	msg := model.Message{
		ID:         fmt.Sprintf("srv-%d", len(s.messages[req.ChatID])+1),
		TempID:     req.TempID,
		ChatID:     req.ChatID,
		SenderID:   s.User.ID,
		SenderName: s.User.DisplayName,
		Body:       req.Content,
		Kind:       req.Type,
		Encoded:    req.IsEncrypted,
		SentAt:     time.Now().UTC(),
	}
	s.messages[req.ChatID] = append(s.messages[req.ChatID], msg)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": msg})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		fail(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()

	p, err := io.ReadAll(file)
	if err != nil {
		fail(w, http.StatusInternalServerError, "read failed")
		return
	}

	s.mu.Lock()
	s.uploads[header.Filename] = p
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "url": s.URL + "/uploads/" + header.Filename})
}
