package api

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/chatter-sync/internal/errs"
	"github.com/johndosdos/chatter-sync/internal/model"
	"github.com/johndosdos/chatter-sync/internal/testutil"
)

func TestLogin(t *testing.T) {
	srv := testutil.NewServer(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		email    string
		password string
		wantErr  error
	}{
		{name: "valid", email: srv.Email, password: srv.Password},
		{name: "wrong_password", email: srv.Email, password: "nope", wantErr: errs.ErrAuth},
		{name: "unknown_email", email: "who@test.com", password: srv.Password, wantErr: errs.ErrAuth},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := New(srv.URL, nil)
			res, err := c.Login(ctx, tc.email, tc.password)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("Login() error = %+v, want %v", err, tc.wantErr)
				}
				assert.Empty(t, c.Token())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, srv.Token, res.Token)
			assert.Equal(t, srv.User.ID, res.User.ID)
			assert.Equal(t, srv.Token, c.Token())
		})
	}
}

func TestRegisterAndUpdateUsername(t *testing.T) {
	srv := testutil.NewServer(t)
	ctx := context.Background()
	c := New(srv.URL+"/", nil)

	res, err := c.Register(ctx, RegisterParams{
		Email:    "new@test.com",
		Password: "password1234",
		Username: "newbie",
		FullName: "New Person",
	})
	require.NoError(t, err)
	assert.Equal(t, "newbie", res.User.Handle)
	assert.Equal(t, "New Person", res.User.DisplayName)

	u, err := c.UpdateUsername(ctx, "renamed")
	require.NoError(t, err)
	assert.Equal(t, "renamed", u.Handle)
}

func TestAuthenticatedCalls(t *testing.T) {
	srv := testutil.NewServer(t)
	ctx := context.Background()

	srv.SetChats([]model.Chat{{ID: "C1", Kind: model.KindGroup, DisplayName: "team"}})
	srv.SetMessages("C1", []model.Message{{ID: "m1", ChatID: "C1", Body: "hello"}})

	c := New(srv.URL, nil)

	_, err := c.Chats(ctx)
	assert.ErrorIs(t, err, errs.ErrAuth, "no token yet")

	c.SetToken("stale")
	_, err = c.Chats(ctx)
	assert.ErrorIs(t, err, errs.ErrAuth)

	c.SetToken(srv.Token)
	chats, err := c.Chats(ctx)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "team", chats[0].DisplayName)

	msgs, err := c.Messages(ctx, "C1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Body)

	_, err = c.Messages(ctx, "missing")
	assert.ErrorIs(t, err, errs.ErrValidation)

	posted, err := c.PostMessage(ctx, model.SendMessage{ChatID: "C1", Content: "via rest", Type: model.MessageText, TempID: "tmp-1"})
	require.NoError(t, err)
	assert.Equal(t, "via rest", posted.Body)
	assert.Equal(t, "tmp-1", posted.TempID)
	assert.Equal(t, srv.User.ID, posted.SenderID)
}

func TestUpload(t *testing.T) {
	srv := testutil.NewServer(t)
	c := New(srv.URL, nil)
	c.SetToken(srv.Token)

	url, err := c.Upload(context.Background(), "notes.txt", strings.NewReader("file body"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(url, "/uploads/notes.txt"), url)

	p, ok := srv.Upload("notes.txt")
	require.True(t, ok)
	assert.Equal(t, "file body", string(p))
}

func TestNetworkFailure(t *testing.T) {
	c := New("http://127.0.0.1:1", nil)
	c.SetToken("t")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := c.Chats(ctx)
	assert.ErrorIs(t, err, errs.ErrNetwork)
}
