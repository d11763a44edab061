package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/chatter-sync/internal/broker"
	"github.com/johndosdos/chatter-sync/internal/errs"
	"github.com/johndosdos/chatter-sync/internal/model"
	"github.com/johndosdos/chatter-sync/internal/testutil"
)

type recorder struct {
	mu     sync.Mutex
	states []model.ConnectionState
	events []string
}

func (r *recorder) state(s model.ConnectionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) event(event string, _ json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) States() []model.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ConnectionState(nil), r.states...)
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.HeartbeatInterval = 0
	opts.MinBackoff = 10 * time.Millisecond
	opts.MaxBackoff = 40 * time.Millisecond
	opts.DialTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second
	return opts
}

func newTestManager(t *testing.T, srv *testutil.Server, opts Options) (*Manager, *recorder) {
	t.Helper()
	rec := &recorder{}
	m := NewManager(srv.WSURL(), opts, nil)
	m.OnStateChange(rec.state)
	m.OnEvent(broker.Wildcard, rec.event)
	t.Cleanup(func() { _ = m.Close() })
	return m, rec
}

func TestConnect(t *testing.T) {
	srv := testutil.NewServer(t)
	m, rec := newTestManager(t, srv, testOptions())

	err := m.Connect(context.Background(), Credentials{Token: srv.Token, UserID: "me"})
	require.NoError(t, err)

	assert.Equal(t, model.Connected, m.Status())
	assert.Equal(t, []model.ConnectionState{model.Connecting, model.Connected}, rec.States())
	assert.Equal(t, []string{broker.EventConnect}, rec.Events())
	assert.Equal(t, 1, srv.Upgrades())

	err = m.Connect(context.Background(), Credentials{Token: srv.Token})
	assert.Error(t, err, "second connect while connected")
}

func TestConnectAuthRejected(t *testing.T) {
	srv := testutil.NewServer(t)

	tests := []struct {
		name  string
		token string
	}{
		{name: "wrong_token", token: "stale"},
		{name: "missing_token", token: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, rec := newTestManager(t, srv, testOptions())
			err := m.Connect(context.Background(), Credentials{Token: tc.token})
			if !errors.Is(err, errs.ErrAuth) {
				t.Fatalf("Connect() error = %+v, want ErrAuth", err)
			}
			assert.Equal(t, model.Disconnected, m.Status())
			assert.NotContains(t, rec.Events(), broker.EventConnect)
		})
	}
}

func TestConnectUnreachable(t *testing.T) {
	m := NewManager("ws://127.0.0.1:1/ws", testOptions(), nil)
	err := m.Connect(context.Background(), Credentials{Token: "t"})
	if !errors.Is(err, errs.ErrNetwork) {
		t.Fatalf("Connect() error = %+v, want ErrNetwork", err)
	}
	assert.Equal(t, model.Disconnected, m.Status())
}

func TestSendWhileDisconnected(t *testing.T) {
	m := NewManager("ws://127.0.0.1:1/ws", testOptions(), nil)
	err := m.Send(broker.CmdTyping, model.TypingNotice{ChatID: "c1"})
	if !errors.Is(err, errs.ErrNotConnected) {
		t.Fatalf("Send() error = %+v, want ErrNotConnected", err)
	}
	assert.ErrorIs(t, err, errs.ErrNetwork)
}

func TestSendAndReceive(t *testing.T) {
	srv := testutil.NewServer(t)
	m, rec := newTestManager(t, srv, testOptions())
	require.NoError(t, m.Connect(context.Background(), Credentials{Token: srv.Token}))

	require.NoError(t, m.Send(broker.CmdGetMyChats, nil))
	require.NoError(t, m.Send(broker.CmdTyping, model.TypingNotice{ChatID: "c1"}))

	testutil.Eventually(t, time.Second, func() bool {
		return len(srv.Frames("")) == 2
	}, "server got both frames")

	frames := srv.Frames("")
	assert.Equal(t, broker.CmdGetMyChats, frames[0].Event)
	assert.Equal(t, broker.CmdTyping, frames[1].Event)
	assert.JSONEq(t, `{"chatId":"c1","userId":"","username":""}`, string(frames[1].Data))

	got := make(chan json.RawMessage, 1)
	m.OnEvent(broker.EventNewMessage, func(_ string, data json.RawMessage) {
		got <- data
	})

	testutil.Eventually(t, time.Second, func() bool { return srv.Connections() == 1 }, "server registered conn")
	require.NoError(t, srv.PushRaw([]byte(`{not json`)))
	require.NoError(t, srv.PushRaw([]byte(`{"data":{}}`)))
	require.NoError(t, srv.Push(broker.EventNewMessage, model.Message{ID: "m1", ChatID: "c1"}))

	select {
	case data := <-got:
		var msg model.Message
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, "m1", msg.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("new_message not delivered")
	}

	assert.Equal(t, []string{broker.EventConnect, broker.EventNewMessage}, rec.Events(),
		"malformed frames are dropped without killing the connection")
	assert.Equal(t, model.Connected, m.Status())
}

func TestHeartbeat(t *testing.T) {
	srv := testutil.NewServer(t)
	opts := testOptions()
	opts.HeartbeatInterval = 15 * time.Millisecond
	m, _ := newTestManager(t, srv, opts)
	require.NoError(t, m.Connect(context.Background(), Credentials{Token: srv.Token}))

	testutil.Eventually(t, 2*time.Second, func() bool {
		return len(srv.Frames(broker.CmdHeartbeat)) >= 3
	}, "heartbeats sent while connected")

	require.NoError(t, m.Close())
	n := len(srv.Frames(broker.CmdHeartbeat))
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, n, len(srv.Frames(broker.CmdHeartbeat)), "no heartbeats after close")
}

func TestReconnectAfterDrop(t *testing.T) {
	srv := testutil.NewServer(t)
	m, rec := newTestManager(t, srv, testOptions())
	require.NoError(t, m.Connect(context.Background(), Credentials{Token: srv.Token}))

	testutil.Eventually(t, time.Second, func() bool { return srv.Connections() == 1 }, "server registered conn")
	srv.DropConnections()

	testutil.Eventually(t, 2*time.Second, func() bool {
		return srv.Upgrades() == 2 && m.Status() == model.Connected
	}, "reconnected")

	assert.Equal(t, []model.ConnectionState{
		model.Connecting,
		model.Connected,
		model.Reconnecting,
		model.Connected,
	}, rec.States())
	assert.Equal(t, []string{
		broker.EventConnect,
		broker.EventDisconnect,
		broker.EventConnect,
	}, rec.Events())

	require.NoError(t, m.Send(broker.CmdGetMyChats, nil))
	testutil.Eventually(t, time.Second, func() bool {
		return len(srv.Frames(broker.CmdGetMyChats)) == 1
	}, "send works on the new connection")
}

func TestReconnectTokenRejected(t *testing.T) {
	srv := testutil.NewServer(t)
	m, rec := newTestManager(t, srv, testOptions())
	require.NoError(t, m.Connect(context.Background(), Credentials{Token: srv.Token}))

	testutil.Eventually(t, time.Second, func() bool { return srv.Connections() == 1 }, "server registered conn")
	srv.RejectAuth(true)
	srv.DropConnections()

	testutil.Eventually(t, 2*time.Second, func() bool {
		return m.Status() == model.Disconnected
	}, "gave up after auth rejection")

	assert.Contains(t, rec.Events(), broker.EventError)
	assert.Equal(t, 1, srv.Upgrades())
	assert.ErrorIs(t, m.Err(), errs.ErrAuth)

	// A fresh connect starts with a clean slate.
	srv.RejectAuth(false)
	require.NoError(t, m.Connect(context.Background(), Credentials{Token: srv.Token}))
	assert.NoError(t, m.Err())
}

func TestCloseStopsReconnecting(t *testing.T) {
	srv := testutil.NewServer(t)
	m, rec := newTestManager(t, srv, testOptions())
	require.NoError(t, m.Connect(context.Background(), Credentials{Token: srv.Token}))

	require.NoError(t, m.Close())
	assert.Equal(t, model.Disconnected, m.Status())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, srv.Upgrades())
	assert.Equal(t, model.Disconnected, rec.States()[len(rec.States())-1])

	err := m.Send(broker.CmdGetMyChats, nil)
	assert.ErrorIs(t, err, errs.ErrNotConnected)

	// A closed manager can be connected again.
	require.NoError(t, m.Connect(context.Background(), Credentials{Token: srv.Token}))
	assert.Equal(t, model.Connected, m.Status())
}

func TestBackoffSequence(t *testing.T) {
	opts := DefaultOptions()
	b := newBackoff(opts)

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, b.NextBackOff(), "attempt %d", i+1)
	}

	b.Reset()
	assert.Equal(t, time.Second, b.NextBackOff(), "reset after a stable connection")
}
