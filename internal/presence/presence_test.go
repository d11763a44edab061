package presence

import (
	"testing"
	"time"

	"github.com/johndosdos/chatter-sync/internal/model"
	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker() (*Tracker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)}
	return NewTracker("me", 3*time.Second, clock.Now), clock
}

func TestTypingExpires(t *testing.T) {
	tr, clock := newTestTracker()

	tr.MarkTyping("C1", "u2", "bob")
	assert.Equal(t, []string{"bob"}, tr.TypingDisplayNames("C1"))

	clock.Advance(2 * time.Second)
	assert.Equal(t, []string{"bob"}, tr.TypingDisplayNames("C1"))

	clock.Advance(time.Second)
	assert.Empty(t, tr.TypingDisplayNames("C1"), "indicator outlived its TTL")

	assert.Equal(t, 1, tr.Tick(clock.Now()))
	assert.Equal(t, 0, tr.Tick(clock.Now()))
}

func TestTypingRefresh(t *testing.T) {
	tr, clock := newTestTracker()

	tr.MarkTyping("C1", "u2", "bob")
	clock.Advance(2 * time.Second)
	tr.MarkTyping("C1", "u2", "bob")
	clock.Advance(2 * time.Second)

	assert.Equal(t, 0, tr.Tick(clock.Now()))
	assert.Equal(t, []string{"bob"}, tr.TypingDisplayNames("C1"))
}

func TestTypingDisplayNames(t *testing.T) {
	tr, _ := newTestTracker()

	tr.MarkTyping("C1", "me", "myself")
	tr.MarkTyping("C1", "u3", "carol")
	tr.MarkTyping("C1", "u2", "bob")
	tr.MarkTyping("C2", "u4", "dave")
	tr.MarkTyping("C1", "u5", "")

	assert.Equal(t, []string{"bob", "carol", "u5"}, tr.TypingDisplayNames("C1"))
	assert.Equal(t, []string{"dave"}, tr.TypingDisplayNames("C2"))
	assert.Empty(t, tr.TypingDisplayNames("C3"))
}

func TestStopAndClear(t *testing.T) {
	tr, _ := newTestTracker()

	tr.MarkTyping("C1", "u2", "bob")
	tr.MarkTyping("C1", "u3", "carol")
	tr.MarkTyping("C2", "u2", "bob")

	assert.True(t, tr.StopTyping("C1", "u2"))
	assert.False(t, tr.StopTyping("C1", "u2"))
	assert.Equal(t, []string{"carol"}, tr.TypingDisplayNames("C1"))

	tr.ClearChat("C1")
	assert.Empty(t, tr.TypingDisplayNames("C1"))
	assert.Equal(t, []string{"bob"}, tr.TypingDisplayNames("C2"))

	tr.ClearAll()
	assert.Empty(t, tr.TypingDisplayNames("C2"))
}

func TestOnline(t *testing.T) {
	tr, clock := newTestTracker()

	tr.SetOnline("u2", true)
	assert.True(t, tr.IsOnline("u2"))

	clock.Advance(time.Minute)
	tr.SetOnline("u2", false)
	u, ok := tr.User("u2")
	assert.True(t, ok)
	assert.False(t, u.Online)
	assert.Equal(t, clock.Now(), u.LastSeenAt)

	tr.SetUsers([]model.User{{ID: "u3", DisplayName: "Carol", Online: true}, {ID: ""}})
	assert.True(t, tr.IsOnline("u3"))

	clock.Advance(time.Minute)
	tr.SetUsers([]model.User{{ID: "u3", Online: false}})
	u, _ = tr.User("u3")
	assert.Equal(t, clock.Now(), u.LastSeenAt)
}
