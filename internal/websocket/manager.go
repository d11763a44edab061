// Package websocket owns the persistent event channel to the backend.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/johndosdos/chatter-sync/internal/auth"
	"github.com/johndosdos/chatter-sync/internal/broker"
	"github.com/johndosdos/chatter-sync/internal/errs"
	"github.com/johndosdos/chatter-sync/internal/model"
)

// Credentials authenticate the websocket handshake.
type Credentials struct {
	Token  string
	UserID string
}

type Options struct {
	HeartbeatInterval time.Duration
	MinBackoff        time.Duration
	MaxBackoff        time.Duration
	// StableWindow is how long a connection must stay up before the backoff
	// sequence starts over.
	StableWindow time.Duration
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	ReadLimit    int64
}

func DefaultOptions() Options {
	return Options{
		HeartbeatInterval: 25 * time.Second,
		MinBackoff:        time.Second,
		MaxBackoff:        30 * time.Second,
		StableWindow:      time.Minute,
		DialTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadLimit:         1 << 20,
	}
}

// Manager dials the backend, keeps the connection alive and reconnects with
// capped exponential backoff after unexpected disconnects.
type Manager struct {
	url    string
	opts   Options
	router *broker.Router

	mu        sync.Mutex
	state     model.ConnectionState
	conn      *websocket.Conn
	creds     Credentials
	cancel    context.CancelFunc
	done      chan struct{}
	listeners []func(model.ConnectionState)
	// err is why the manager last stopped on its own.
	err error

	// notifyMu keeps state notifications in transition order.
	notifyMu sync.Mutex

	backoff *backoff.ExponentialBackOff
}

// NewManager returns a Manager for the websocket endpoint url. A nil router
// gets a fresh one.
func NewManager(url string, opts Options, router *broker.Router) *Manager {
	def := DefaultOptions()
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = def.MinBackoff
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = max(def.MaxBackoff, opts.MinBackoff)
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = def.DialTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = def.ReadLimit
	}
	if router == nil {
		router = broker.NewRouter()
	}

	return &Manager{
		url:     url,
		opts:    opts,
		router:  router,
		backoff: newBackoff(opts),
	}
}

func newBackoff(opts Options) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.MinBackoff
	b.MaxInterval = opts.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Status returns the current connection state.
func (m *Manager) Status() model.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the error that left the manager Disconnected without a call to
// Close, or nil. A rejected token wraps errs.ErrAuth.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// OnStateChange registers fn to be called synchronously on every transition.
func (m *Manager) OnStateChange(fn func(model.ConnectionState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// OnEvent subscribes h to an inbound event name.
func (m *Manager) OnEvent(event string, h broker.Handler) {
	m.router.On(event, h)
}

func (m *Manager) setState(s model.ConnectionState) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	listeners := append([]func(model.ConnectionState){}, m.listeners...)
	m.mu.Unlock()

	slog.Debug("connection state changed", "state", s.String())
	for _, fn := range listeners {
		fn(s)
	}
}

// Connect dials the backend and starts the read, heartbeat and reconnect
// machinery. A rejected handshake returns an error wrapping errs.ErrAuth; a
// transport failure one wrapping errs.ErrNetwork.
func (m *Manager) Connect(ctx context.Context, creds Credentials) error {
	m.mu.Lock()
	if m.state != model.Disconnected {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("internal/websocket: connect: already %s", state)
	}
	m.creds = creds
	m.err = nil
	m.mu.Unlock()

	m.setState(model.Connecting)

	conn, err := m.dial(ctx, creds)
	if err != nil {
		m.mu.Lock()
		m.err = err
		m.mu.Unlock()
		m.setState(model.Disconnected)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.mu.Lock()
	m.conn, m.cancel, m.done = conn, cancel, done
	m.mu.Unlock()

	m.backoff.Reset()
	m.setState(model.Connected)
	m.router.Publish(broker.EventConnect, nil)

	go m.run(runCtx, conn, done)
	return nil
}

func (m *Manager) dial(ctx context.Context, creds Credentials) (*websocket.Conn, error) {
	if creds.Token == "" {
		return nil, fmt.Errorf("internal/websocket: missing token: %w", errs.ErrAuth)
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.opts.DialTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(dialCtx, m.url, &websocket.DialOptions{
		HTTPHeader: auth.BearerHeader(creds.Token),
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("internal/websocket: handshake rejected with %d: %w", resp.StatusCode, errs.ErrAuth)
		}
		return nil, fmt.Errorf("internal/websocket: dial %s: %w: %v", m.url, errs.ErrNetwork, err)
	}

	conn.SetReadLimit(m.opts.ReadLimit)
	return conn, nil
}

// run supervises one logical session: it reads until the connection drops,
// then reconnects until it succeeds, the token is rejected or Close is called.
func (m *Manager) run(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		connectedAt := time.Now()

		hbCtx, stopHeartbeat := context.WithCancel(ctx)
		go m.heartbeat(hbCtx)

		err := m.readLoop(ctx, conn)
		stopHeartbeat()
		conn.CloseNow()

		if ctx.Err() != nil {
			return
		}

		slog.WarnContext(ctx, "connection lost",
			"error", err,
			"uptime", time.Since(connectedAt).String())

		if time.Since(connectedAt) >= m.opts.StableWindow {
			m.backoff.Reset()
		}

		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()

		m.setState(model.Reconnecting)
		m.router.Publish(broker.EventDisconnect, reason(err))

		conn, err = m.reconnect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.ErrorContext(ctx, "giving up reconnect", "error", err)
			m.mu.Lock()
			m.err = fmt.Errorf("internal/websocket: reconnect: %w", err)
			m.mu.Unlock()
			m.setState(model.Disconnected)
			m.router.Publish(broker.EventError, reason(err))
			return
		}
	}
}

func (m *Manager) reconnect(ctx context.Context) (*websocket.Conn, error) {
	for {
		wait := m.backoff.NextBackOff()
		if wait == backoff.Stop {
			wait = m.opts.MaxBackoff
		}
		slog.InfoContext(ctx, "reconnecting", "in", wait.String())

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		m.mu.Lock()
		creds := m.creds
		m.mu.Unlock()

		conn, err := m.dial(ctx, creds)
		if err != nil {
			if errors.Is(err, errs.ErrAuth) {
				return nil, err
			}
			slog.WarnContext(ctx, "reconnect attempt failed", "error", err)
			continue
		}

		m.mu.Lock()
		if ctx.Err() != nil {
			m.mu.Unlock()
			conn.CloseNow()
			return nil, ctx.Err()
		}
		m.conn = conn
		m.mu.Unlock()

		m.setState(model.Connected)
		m.router.Publish(broker.EventConnect, nil)
		return conn, nil
	}
}

// heartbeat fires only while the connection is up; ticks that find it down
// are skipped, never queued.
func (m *Manager) heartbeat(ctx context.Context) {
	if m.opts.HeartbeatInterval <= 0 {
		return
	}

	ticker := time.NewTicker(m.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.Status() != model.Connected {
				continue
			}
			if err := m.Send(broker.CmdHeartbeat, nil); err != nil {
				slog.DebugContext(ctx, "heartbeat failed", "error", err)
			}
		}
	}
}

// Send writes one event frame. It never queues: while not connected it fails
// with errs.ErrNotConnected.
func (m *Manager) Send(event string, payload any) error {
	m.mu.Lock()
	conn, state := m.conn, m.state
	m.mu.Unlock()

	if state != model.Connected || conn == nil {
		return fmt.Errorf("internal/websocket: send %s: %w", event, errs.ErrNotConnected)
	}

	f := model.Frame{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("internal/websocket: encode %s: %w", event, err)
		}
		f.Data = data
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.WriteTimeout)
	defer cancel()

	if err := wsjson.Write(ctx, conn, f); err != nil {
		return fmt.Errorf("internal/websocket: send %s: %w: %v", event, errs.ErrNetwork, err)
	}
	return nil
}

// Close tears the connection down without reconnecting.
func (m *Manager) Close() error {
	m.mu.Lock()
	cancel, done, conn := m.cancel, m.done, m.conn
	wasUp := m.state == model.Connected || m.state == model.Reconnecting
	m.cancel, m.done, m.conn = nil, nil, nil
	m.mu.Unlock()

	if cancel == nil {
		m.setState(model.Disconnected)
		return nil
	}

	cancel()
	if conn != nil {
		// The cancelled read already tears the socket down; the close
		// handshake is best effort.
		_ = conn.Close(websocket.StatusNormalClosure, "client closed")
	}
	<-done

	m.setState(model.Disconnected)
	if wasUp {
		m.router.Publish(broker.EventDisconnect, reason(errors.New("client closed")))
	}
	return nil
}

func reason(err error) json.RawMessage {
	msg := "unknown"
	if err != nil {
		msg = err.Error()
	}
	p, _ := json.Marshal(msg)
	return p
}
