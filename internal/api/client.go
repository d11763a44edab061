// Package api is the client of the backend's REST endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/johndosdos/chatter-sync/internal/auth"
	"github.com/johndosdos/chatter-sync/internal/errs"
	"github.com/johndosdos/chatter-sync/internal/model"
)

// maxBody bounds how much of a response is read.
const maxBody = 8 << 20

// Client talks to /api/*. Calls other than login and register carry the
// bearer token set with SetToken.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

// New returns a Client for baseURL. A nil hc uses a client with a 15s timeout.
func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
	}
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// AuthResult is returned by login and register.
type AuthResult struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

type RegisterParams struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
	FullName string `json:"fullName"`
}

type authRequest struct {
	Action string `json:"action"`
	RegisterParams
}

// envelope is the common response shape: {success, error, ...}.
type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Login exchanges credentials for a token. The token is kept for later calls.
func (c *Client) Login(ctx context.Context, email, password string) (AuthResult, error) {
	var res struct {
		envelope
		AuthResult
	}
	req := authRequest{Action: "login", RegisterParams: RegisterParams{Email: email, Password: password}}
	if err := c.do(ctx, "login", http.MethodPost, "/api/auth", req, false, &res); err != nil {
		return AuthResult{}, err
	}
	c.SetToken(res.Token)
	return res.AuthResult, nil
}

// Register creates an account and logs into it.
func (c *Client) Register(ctx context.Context, p RegisterParams) (AuthResult, error) {
	var res struct {
		envelope
		AuthResult
	}
	req := authRequest{Action: "register", RegisterParams: p}
	if err := c.do(ctx, "register", http.MethodPost, "/api/auth", req, false, &res); err != nil {
		return AuthResult{}, err
	}
	c.SetToken(res.Token)
	return res.AuthResult, nil
}

// UpdateUsername changes the handle of the logged in user.
func (c *Client) UpdateUsername(ctx context.Context, username string) (model.User, error) {
	var res struct {
		envelope
		User model.User `json:"user"`
	}
	req := authRequest{Action: "update_username", RegisterParams: RegisterParams{Username: username}}
	if err := c.do(ctx, "update username", http.MethodPost, "/api/auth", req, true, &res); err != nil {
		return model.User{}, err
	}
	return res.User, nil
}

func (c *Client) Chats(ctx context.Context) ([]model.Chat, error) {
	var res struct {
		envelope
		Chats []model.Chat `json:"chats"`
	}
	if err := c.do(ctx, "list chats", http.MethodGet, "/api/chats", nil, true, &res); err != nil {
		return nil, err
	}
	return res.Chats, nil
}

// Messages fetches the message window of chatID.
func (c *Client) Messages(ctx context.Context, chatID string) ([]model.Message, error) {
	var res struct {
		envelope
		Messages []model.Message `json:"messages"`
	}
	path := "/api/messages/" + url.PathEscape(chatID)
	if err := c.do(ctx, "list messages", http.MethodGet, path, nil, true, &res); err != nil {
		return nil, err
	}
	return res.Messages, nil
}

// PostMessage sends a message without the websocket.
func (c *Client) PostMessage(ctx context.Context, msg model.SendMessage) (model.Message, error) {
	var res struct {
		envelope
		Message model.Message `json:"message"`
	}
	if err := c.do(ctx, "post message", http.MethodPost, "/api/messages", msg, true, &res); err != nil {
		return model.Message{}, err
	}
	return res.Message, nil
}

// Upload stores r as a multipart "file" and returns its URL.
func (c *Client) Upload(ctx context.Context, name string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("internal/api: upload: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("internal/api: upload: read %s: %w", name, err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("internal/api: upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload", &buf)
	if err != nil {
		return "", fmt.Errorf("internal/api: upload: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	auth.SetBearer(req.Header, c.Token())

	var res struct {
		envelope
		URL string `json:"url"`
	}
	if err := c.send(req, "upload", &res); err != nil {
		return "", err
	}
	return res.URL, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body any, authed bool, out successReporter) error {
	var rd io.Reader
	if body != nil {
		p, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("internal/api: %s: encode request: %w", op, err)
		}
		rd = bytes.NewReader(p)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("internal/api: %s: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		token := c.Token()
		if token == "" {
			return fmt.Errorf("internal/api: %s: no token: %w", op, errs.ErrAuth)
		}
		auth.SetBearer(req.Header, token)
	}

	return c.send(req, op, out)
}

// successReporter is implemented by every response type through envelope.
type successReporter interface {
	result() (bool, string)
}

func (e envelope) result() (bool, string) { return e.Success, e.Error }

func (c *Client) send(req *http.Request, op string, out successReporter) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("internal/api: %s: %w: %v", op, errs.ErrNetwork, err)
	}
	defer resp.Body.Close()

	p, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("internal/api: %s: read response: %w: %v", op, errs.ErrNetwork, err)
	}

	decodeErr := json.Unmarshal(p, out)
	ok, msg := out.result()
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("internal/api: %s: %s: %w", op, msg, errs.ErrAuth)
	case resp.StatusCode >= 500:
		return fmt.Errorf("internal/api: %s: %s: %w", op, msg, errs.ErrNetwork)
	case decodeErr != nil:
		return fmt.Errorf("internal/api: %s: %w", op, errs.Protocol(op, decodeErr))
	case resp.StatusCode >= 400 || !ok:
		return fmt.Errorf("internal/api: %s: %s: %w", op, msg, errs.ErrValidation)
	}
	return nil
}
