// Package app ties the REST client, the stored session and one sync engine
// per logged in session together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/johndosdos/chatter-sync/internal/api"
	"github.com/johndosdos/chatter-sync/internal/auth"
	"github.com/johndosdos/chatter-sync/internal/config"
	"github.com/johndosdos/chatter-sync/internal/engine"
	"github.com/johndosdos/chatter-sync/internal/errs"
	"github.com/johndosdos/chatter-sync/internal/model"
	"github.com/johndosdos/chatter-sync/internal/session"
	ws "github.com/johndosdos/chatter-sync/internal/websocket"
)

// ErrNotLoggedIn is returned by Connect before Login, Register or Restore.
var ErrNotLoggedIn = fmt.Errorf("internal/app: not logged in: %w", errs.ErrAuth)

type App struct {
	cfg   config.Config
	api   *api.Client
	store *session.Store
	now   func() time.Time

	mu   sync.Mutex
	user model.User
	live *Session
}

// New returns an App persisting its session in store. A nil hc uses the
// api package default.
func New(cfg config.Config, store *session.Store, hc *http.Client) *App {
	return &App{
		cfg:   cfg,
		api:   api.New(cfg.APIURL, hc),
		store: store,
		now:   time.Now,
	}
}

// API exposes the REST client of the current session.
func (a *App) API() *api.Client { return a.api }

// User returns the logged in user.
func (a *App) User() model.User {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.user
}

// Login authenticates and stores the session.
func (a *App) Login(ctx context.Context, email, password string) (model.User, error) {
	res, err := a.api.Login(ctx, email, password)
	if err != nil {
		return model.User{}, fmt.Errorf("internal/app: login: %w", err)
	}
	return a.remember(res)
}

// Register creates an account and stores its session.
func (a *App) Register(ctx context.Context, p api.RegisterParams) (model.User, error) {
	res, err := a.api.Register(ctx, p)
	if err != nil {
		return model.User{}, fmt.Errorf("internal/app: register: %w", err)
	}
	return a.remember(res)
}

func (a *App) remember(res api.AuthResult) (model.User, error) {
	if err := a.store.Save(session.Session{Token: res.Token, User: res.User}); err != nil {
		return model.User{}, err
	}
	a.mu.Lock()
	a.user = res.User
	a.mu.Unlock()

	slog.Info("logged in", "user", res.User.ID)
	return res.User, nil
}

// Restore resumes the stored session. An expired token clears it and fails
// with errs.ErrAuth so the user logs in again.
func (a *App) Restore(ctx context.Context) (model.User, error) {
	sess, err := a.store.Load()
	if errors.Is(err, session.ErrNoSession) {
		return model.User{}, ErrNotLoggedIn
	}
	if err != nil {
		return model.User{}, err
	}

	if err := auth.CheckToken(sess.Token, a.now(), auth.DefaultLeeway); err != nil {
		slog.InfoContext(ctx, "stored session expired", "user", sess.User.ID, "error", err)
		if cerr := a.store.Clear(); cerr != nil {
			slog.WarnContext(ctx, "failed to clear session", "error", cerr)
		}
		return model.User{}, fmt.Errorf("internal/app: restore: %w", err)
	}

	// The token is the authority on who we are when it says so.
	if sub, err := auth.TokenSubject(sess.Token); err == nil && sub != "" && sub != sess.User.ID {
		sess.User.ID = sub
	}

	a.api.SetToken(sess.Token)
	a.mu.Lock()
	a.user = sess.User
	a.mu.Unlock()
	return sess.User, nil
}

// UpdateUsername renames the logged in user and updates the stored session.
func (a *App) UpdateUsername(ctx context.Context, username string) (model.User, error) {
	u, err := a.api.UpdateUsername(ctx, username)
	if err != nil {
		return model.User{}, fmt.Errorf("internal/app: update username: %w", err)
	}
	if err := a.store.Save(session.Session{Token: a.api.Token(), User: u}); err != nil {
		return model.User{}, err
	}
	a.mu.Lock()
	a.user = u
	a.mu.Unlock()
	return u, nil
}

// Connect starts the sync engine of the logged in user and opens its
// connection. A previous live session is closed first.
func (a *App) Connect(ctx context.Context) (*Session, error) {
	token := a.api.Token()
	user := a.User()
	if token == "" || user.ID == "" {
		return nil, ErrNotLoggedIn
	}
	a.closeLive()

	s := a.newSession(user)
	if err := s.conn.Connect(ctx, ws.Credentials{Token: token, UserID: user.ID}); err != nil {
		s.Close()
		return nil, fmt.Errorf("internal/app: connect: %w", err)
	}

	a.mu.Lock()
	a.live = s
	a.mu.Unlock()
	return s, nil
}

func (a *App) newSession(user model.User) *Session {
	conn := ws.NewManager(a.cfg.WSURL, ws.Options{
		HeartbeatInterval: a.cfg.HeartbeatInterval,
		MinBackoff:        a.cfg.ReconnectMin,
		MaxBackoff:        a.cfg.ReconnectMax,
		StableWindow:      a.cfg.ReconnectStable,
	}, nil)

	eng := engine.New(conn, engine.Config{
		Self:               user,
		SendTimeout:        a.cfg.SendTimeout,
		TypingTTL:          a.cfg.TypingTTL,
		TypingEmitInterval: a.cfg.TypingEmitInterval,
		Fetcher:            a.api,
		Uploader:           a.api,
	})

	conn.OnStateChange(func(st model.ConnectionState) {
		if st != model.Disconnected {
			return
		}
		if err := conn.Err(); errors.Is(err, errs.ErrAuth) {
			a.revoke(err)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		User:    user,
		Engine:  eng,
		Changes: eng.Subscribe(256),
		conn:    conn,
		cancel:  cancel,
	}
	go eng.Run(ctx)
	return s
}

// revoke forgets a session whose token the backend rejected. The live
// session stays around so its Err can be read; Connect needs a new login.
func (a *App) revoke(err error) {
	slog.Warn("session rejected by the server, log in again", "error", err)
	a.api.SetToken("")
	a.mu.Lock()
	a.user = model.User{}
	a.mu.Unlock()

	if cerr := a.store.Clear(); cerr != nil {
		slog.Warn("failed to clear session", "error", cerr)
	}
}

// Logout closes the live session and forgets the stored one.
func (a *App) Logout() error {
	a.closeLive()
	a.api.SetToken("")
	a.mu.Lock()
	a.user = model.User{}
	a.mu.Unlock()

	if err := a.store.Clear(); err != nil {
		return fmt.Errorf("internal/app: logout: %w", err)
	}
	return nil
}

// Close shuts the live session down but keeps the stored one.
func (a *App) Close() {
	a.closeLive()
}

func (a *App) closeLive() {
	a.mu.Lock()
	s := a.live
	a.live = nil
	a.mu.Unlock()

	if s != nil {
		s.Close()
	}
}

func (a *App) Settings() (session.Settings, error) {
	return a.store.LoadSettings()
}

func (a *App) SaveSettings(st session.Settings) error {
	return a.store.SaveSettings(st)
}
