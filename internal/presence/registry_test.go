package presence

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"realtime-chat/internal/domain"
)

type fakeHandle struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
	fail   bool
	closed bool
}

func newFakeHandle(id string) *fakeHandle {
	return &fakeHandle{id: id}
}

func (f *fakeHandle) ID() string { return f.id }

func (f *fakeHandle) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail || f.closed {
		return errors.New("send failed")
	}
	f.frames = append(f.frames, payload)
	return nil
}

func (f *fakeHandle) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeHandle) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type wireEvent struct {
	Event          string                 `json:"event"`
	UserID         string                 `json:"user_id"`
	ConnectedUsers []domain.PresenceEntry `json:"connected_users"`
	Users          []domain.PresenceEntry `json:"users"`
}

func (f *fakeHandle) events(t *testing.T) []wireEvent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wireEvent, 0, len(f.frames))
	for _, raw := range f.frames {
		var ev wireEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatalf("decode frame %s: %v", raw, err)
		}
		out = append(out, ev)
	}
	return out
}

func (f *fakeHandle) last(t *testing.T) wireEvent {
	t.Helper()
	evs := f.events(t)
	if len(evs) == 0 {
		t.Fatalf("expected at least one event on %s", f.id)
	}
	return evs[len(evs)-1]
}

type mockMirror struct {
	mu      sync.Mutex
	online  []int64
	offline []int64
}

func (m *mockMirror) Online(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online = append(m.online, userID)
	return nil
}

func (m *mockMirror) Offline(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = append(m.offline, userID)
	return nil
}

func profile(id int64, name string) domain.Profile {
	return domain.Profile{ID: id, Name: name, ExternalID: "g-" + name}
}

func snapshotIDs(entries []domain.PresenceEntry) []int64 {
	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	return ids
}

func TestRegistry_PresenceAccuracy(t *testing.T) {
	r := NewRegistry(nil)
	a := newFakeHandle("a")
	b := newFakeHandle("b")

	r.Register(1, a, profile(1, "ana"))
	r.Register(2, b, profile(2, "beto"))

	ev := b.last(t)
	if ev.Event != "user_connected" || ev.UserID != "2" {
		t.Fatalf("expected user_connected for 2, got %+v", ev)
	}
	if ids := snapshotIDs(ev.ConnectedUsers); len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("expected snapshot [1 2], got %v", ids)
	}
	if a.last(t).Event != "user_connected" {
		t.Fatalf("expected A to observe B connecting")
	}

	if !r.Disconnect(1, a) {
		t.Fatalf("expected disconnect to remove A")
	}
	ev = b.last(t)
	if ev.Event != "user_disconnected" || ev.UserID != "1" {
		t.Fatalf("expected user_disconnected for 1, got %+v", ev)
	}
	if ids := snapshotIDs(ev.ConnectedUsers); len(ids) != 1 || ids[0] != 2 {
		t.Fatalf("expected snapshot [2], got %v", ids)
	}
	if !a.isClosed() {
		t.Fatalf("expected disconnected handle closed")
	}
	if r.IsOnline(1) || !r.IsOnline(2) {
		t.Fatalf("unexpected presence after disconnect")
	}
}

func TestRegistry_RegisterReplacesAndReturnsPrevious(t *testing.T) {
	r := NewRegistry(nil)
	first := newFakeHandle("first")
	second := newFakeHandle("second")

	if prev := r.Register(1, first, profile(1, "ana")); prev != nil {
		t.Fatalf("expected no previous handle, got %v", prev)
	}
	prev := r.Register(1, second, profile(1, "ana"))
	if prev != first {
		t.Fatalf("expected previous handle returned")
	}
	if r.Count() != 1 {
		t.Fatalf("expected one session, got %d", r.Count())
	}

	if r.Disconnect(1, first) {
		t.Fatalf("stale handle must not remove the replacement session")
	}
	if !r.IsOnline(1) {
		t.Fatalf("expected replacement session to stay online")
	}
	for _, ev := range second.events(t) {
		if ev.Event == "user_disconnected" {
			t.Fatalf("replacement must not observe a disconnect")
		}
	}
}

func TestRegistry_DeregisterIsIdempotent(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(1, newFakeHandle("a"), profile(1, "ana"))
	if !r.Deregister(1) {
		t.Fatalf("expected first deregister to remove")
	}
	if r.Deregister(1) {
		t.Fatalf("expected second deregister to be a no-op")
	}
	if r.Deregister(42) {
		t.Fatalf("expected deregister of unknown user to be a no-op")
	}
}

func TestRegistry_UnicastFailureIsDisconnect(t *testing.T) {
	r := NewRegistry(nil)
	a := newFakeHandle("a")
	b := newFakeHandle("b")
	r.Register(1, a, profile(1, "ana"))
	r.Register(2, b, profile(2, "beto"))

	b.fail = true
	if r.Unicast(2, fakeEvent{}) {
		t.Fatalf("expected unicast to report failure")
	}
	if r.IsOnline(2) {
		t.Fatalf("expected failed recipient deregistered")
	}
	ev := a.last(t)
	if ev.Event != "user_disconnected" || ev.UserID != "2" {
		t.Fatalf("expected A to observe user_disconnected for 2, got %+v", ev)
	}
	if r.Unicast(99, fakeEvent{}) {
		t.Fatalf("expected unicast to offline user to fail")
	}
}

func TestRegistry_BroadcastCollectsFailuresAfterPass(t *testing.T) {
	r := NewRegistry(nil)
	handles := []*fakeHandle{newFakeHandle("a"), newFakeHandle("b"), newFakeHandle("c")}
	for i, h := range handles {
		r.Register(int64(i+1), h, profile(int64(i+1), h.id))
	}
	handles[0].fail = true
	handles[1].fail = true

	r.Broadcast(fakeEvent{})

	if r.IsOnline(1) || r.IsOnline(2) || !r.IsOnline(3) {
		t.Fatalf("expected only user 3 online, got %v", snapshotIDs(r.ListOnline()))
	}
	var gotPing, disconnects int
	for _, ev := range handles[2].events(t) {
		switch ev.Event {
		case "ping":
			gotPing++
		case "user_disconnected":
			disconnects++
		}
	}
	if gotPing != 1 || disconnects != 2 {
		t.Fatalf("expected 1 ping and 2 disconnects on survivor, got %d and %d", gotPing, disconnects)
	}
}

func TestRegistry_UpdateProfileBroadcastsUsersUpdated(t *testing.T) {
	r := NewRegistry(nil)
	a := newFakeHandle("a")
	r.Register(1, a, profile(1, "ana"))

	if !r.UpdateProfile(1, profile(1, "ana maria")) {
		t.Fatalf("expected update for online user")
	}
	ev := a.last(t)
	if ev.Event != "users_updated" || len(ev.ConnectedUsers) != 1 {
		t.Fatalf("expected users_updated, got %+v", ev)
	}
	if ev.ConnectedUsers[0].Name != "ana maria" || ev.ConnectedUsers[0].LastUpdated == nil {
		t.Fatalf("expected refreshed profile, got %+v", ev.ConnectedUsers[0])
	}
	if r.UpdateProfile(2, profile(2, "x")) {
		t.Fatalf("expected update for offline user to be ignored")
	}
}

func TestRegistry_MirrorFollowsSessions(t *testing.T) {
	mirror := &mockMirror{}
	r := NewRegistry(nil, WithMirror(mirror))
	a := newFakeHandle("a")
	r.Register(1, a, profile(1, "ana"))
	r.Touch(1)
	r.Touch(2)
	r.Disconnect(1, a)

	if len(mirror.online) != 2 || mirror.online[0] != 1 {
		t.Fatalf("expected two online writes for user 1, got %v", mirror.online)
	}
	if len(mirror.offline) != 1 || mirror.offline[0] != 1 {
		t.Fatalf("expected one offline write for user 1, got %v", mirror.offline)
	}
}

func TestRegistry_ShutdownClosesSessionsSilently(t *testing.T) {
	mirror := &mockMirror{}
	r := NewRegistry(nil, WithMirror(mirror))
	a, b := newFakeHandle("a"), newFakeHandle("b")
	r.Register(1, a, profile(1, "ana"))
	r.Register(2, b, profile(2, "beto"))

	if got := r.Shutdown(); got != 2 {
		t.Fatalf("expected 2 sessions closed, got %d", got)
	}
	if !a.isClosed() || !b.isClosed() {
		t.Fatalf("expected every handle closed")
	}
	if r.IsOnline(1) || r.IsOnline(2) {
		t.Fatalf("expected nobody online after shutdown")
	}
	if len(mirror.offline) != 2 {
		t.Fatalf("expected two offline writes, got %v", mirror.offline)
	}
	for _, ev := range a.events(t) {
		if ev.Event == "user_disconnected" {
			t.Fatalf("shutdown must not broadcast user_disconnected")
		}
	}
	if got := r.Shutdown(); got != 0 {
		t.Fatalf("expected second shutdown to be a no-op, got %d", got)
	}
}

type fakeEvent struct {
	Event string `json:"event"`
}

func (fakeEvent) Name() string { return "ping" }

func (e fakeEvent) MarshalJSON() ([]byte, error) {
	return []byte(`{"event":"ping"}`), nil
}
