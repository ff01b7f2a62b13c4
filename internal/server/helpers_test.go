package server

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type sentMessage struct {
	to  string
	msg ServerMessage
}

// recordingSender captures every outbound message in send order.
type recordingSender struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (r *recordingSender) Send(id string, msg ServerMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMessage{to: id, msg: msg})
}

func (r *recordingSender) messagesFor(id string) []ServerMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ServerMessage
	for _, s := range r.sent {
		if s.to == id {
			out = append(out, s.msg)
		}
	}
	return out
}

func (r *recordingSender) typesFor(id string) []string {
	var types []string
	for _, m := range r.messagesFor(id) {
		types = append(types, m.Type)
	}
	return types
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func (r *recordingSender) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testRig struct {
	gm      *GameManager
	store   RoomStore
	sender  *recordingSender
	janitor *Janitor
	clock   *fakeClock
}

// newTestRig builds a GameManager over an in-memory store with a long grace
// period, so deferred deletions never fire during a test unless it asks.
func newTestRig(t *testing.T, opts ...Option) *testRig {
	t.Helper()
	store := NewMemoryStore()
	sender := &recordingSender{}
	clock := newFakeClock()
	janitor := NewJanitor(store, time.Hour, 30*time.Minute, time.Hour, zap.NewNop())
	janitor.now = clock.Now
	t.Cleanup(janitor.Stop)

	opts = append([]Option{WithClock(clock.Now)}, opts...)
	gm := NewGameManager(store, sender, janitor, zap.NewNop(), opts...)
	return &testRig{gm: gm, store: store, sender: sender, janitor: janitor, clock: clock}
}

// room returns the live room by id, failing the test if it is gone.
func (rig *testRig) room(t *testing.T, id string) *Room {
	t.Helper()
	r, ok := rig.store.Get(id)
	if !ok {
		t.Fatalf("room %s not found", id)
	}
	return r
}

// startedGame creates a room hosted by alice, seats bob, readies him and starts.
func (rig *testRig) startedGame(t *testing.T) string {
	t.Helper()
	view, err := rig.gm.CreateAndJoin("alice", "R1", "Alice", false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := rig.gm.Join("bob", view.Code, "Bob", false); err != nil {
		t.Fatalf("join: %v", err)
	}
	rig.gm.ToggleReady("bob", view.ID)
	if !rig.gm.StartGame("alice", view.ID) {
		t.Fatalf("game did not start")
	}
	return view.ID
}
