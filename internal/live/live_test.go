package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/dearie-app/dearie/internal/identity"
	"github.com/dearie-app/dearie/internal/schedule"
	"github.com/dearie-app/dearie/internal/store"
)

type fakeComponent struct {
	closed atomic.Int32
}

func (f *fakeComponent) Close() { f.closed.Add(1) }

type fakeSweeper struct {
	before time.Time
}

func (f *fakeSweeper) Sweep(before time.Time) int {
	f.before = before
	return 0
}

func TestRegistryMountReplaceAndUnmount(t *testing.T) {
	reg := NewRegistry(schedule.NewFakeClock(time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC)), nil)
	k := Key{UserID: "anon_a", SessionID: "tab", Kind: KindCalendar, ID: "c1"}

	first := &fakeComponent{}
	reg.Mount(k, first)
	second := &fakeComponent{}
	reg.Mount(k, second)

	if first.closed.Load() != 1 {
		t.Fatalf("replaced component closed %d times, want 1", first.closed.Load())
	}
	got, err := reg.Get(k)
	if err != nil || got != second {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if !reg.Unmount(k) || second.closed.Load() != 1 {
		t.Fatal("Unmount did not close the component")
	}
	if reg.Unmount(k) {
		t.Fatal("second Unmount reported success")
	}
	if _, err := reg.Get(k); err != ErrNotMounted {
		t.Fatalf("Get after unmount err = %v", err)
	}
}

func TestRegistrySweepKeepsTouchedComponents(t *testing.T) {
	clock := schedule.NewFakeClock(time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC))
	reg := NewRegistry(clock, nil)
	idle := Key{UserID: "anon_a", SessionID: "tab", Kind: KindChat, ID: "chat"}
	busy := Key{UserID: "anon_a", SessionID: "tab", Kind: KindCalendar, ID: "cal"}
	idleComp, busyComp := &fakeComponent{}, &fakeComponent{}
	reg.Mount(idle, idleComp)
	reg.Mount(busy, busyComp)

	clock.Advance(20 * time.Minute)
	if _, err := reg.Get(busy); err != nil {
		t.Fatal(err)
	}
	clock.Advance(15 * time.Minute)

	if n := reg.Sweep(30 * time.Minute); n != 1 {
		t.Fatalf("Sweep = %d, want 1", n)
	}
	if idleComp.closed.Load() != 1 || busyComp.closed.Load() != 0 {
		t.Fatalf("closed idle=%d busy=%d", idleComp.closed.Load(), busyComp.closed.Load())
	}
	if reg.Len() != 1 {
		t.Fatalf("Len = %d", reg.Len())
	}
}

func TestRegistryTouchKeepsStreamingTabAlive(t *testing.T) {
	clock := schedule.NewFakeClock(time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC))
	reg := NewRegistry(clock, nil)
	watched := &fakeComponent{}
	other := &fakeComponent{}
	reg.Mount(Key{UserID: "anon_a", SessionID: "tab-1", Kind: KindCalendar, ID: "cal"}, watched)
	reg.Mount(Key{UserID: "anon_a", SessionID: "tab-2", Kind: KindCalendar, ID: "cal"}, other)

	for i := 0; i < 4; i++ {
		clock.Advance(10 * time.Minute)
		if n := reg.Touch("anon_a", "tab-1"); n != 1 {
			t.Fatalf("Touch = %d, want 1", n)
		}
	}

	if n := reg.Sweep(30 * time.Minute); n != 1 {
		t.Fatalf("Sweep = %d, want 1", n)
	}
	if watched.closed.Load() != 0 || other.closed.Load() != 1 {
		t.Fatalf("closed watched=%d other=%d", watched.closed.Load(), other.closed.Load())
	}
	if n := reg.Touch("anon_b", "tab-1"); n != 0 {
		t.Fatalf("Touch for another user = %d", n)
	}
}

func TestRegistryCloseUserAndKeys(t *testing.T) {
	reg := NewRegistry(nil, nil)
	reg.Mount(Key{UserID: "a", SessionID: "t1", Kind: KindChat, ID: "x"}, &fakeComponent{})
	reg.Mount(Key{UserID: "a", SessionID: "t2", Kind: KindChat, ID: "x"}, &fakeComponent{})
	reg.Mount(Key{UserID: "b", SessionID: "t1", Kind: KindChat, ID: "x"}, &fakeComponent{})

	if keys := reg.Keys("a", "t1"); len(keys) != 1 {
		t.Fatalf("Keys = %v", keys)
	}
	if keys := reg.Keys("a", ""); len(keys) != 2 {
		t.Fatalf("Keys across tabs = %v", keys)
	}
	if n := reg.CloseUser("a"); n != 2 {
		t.Fatalf("CloseUser = %d, want 2", n)
	}
	if reg.Len() != 1 {
		t.Fatalf("Len = %d, want 1", reg.Len())
	}
}

func TestSweepIdleUsesRegistryClock(t *testing.T) {
	now := time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC)
	reg := NewRegistry(schedule.NewFakeClock(now), nil)
	s := &fakeSweeper{}

	sweepIdle(reg, 30*time.Minute, []Sweeper{s})

	if want := now.Add(-30 * time.Minute); !s.before.Equal(want) {
		t.Fatalf("sweeper cutoff = %v, want %v", s.before, want)
	}
}

type agedSweeper struct {
	fakeSweeper
	ttl time.Duration
}

func (s *agedSweeper) IdleTTL() time.Duration { return s.ttl }

func TestSweepIdleHonorsSweeperAge(t *testing.T) {
	now := time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC)
	reg := NewRegistry(schedule.NewFakeClock(now), nil)
	s := &agedSweeper{ttl: 10 * time.Minute}

	sweepIdle(reg, 30*time.Minute, []Sweeper{s})

	if want := now.Add(-10 * time.Minute); !s.before.Equal(want) {
		t.Fatalf("sweeper cutoff = %v, want %v", s.before, want)
	}
}

func TestJanitorClosesEverythingOnShutdown(t *testing.T) {
	reg := NewRegistry(nil, nil)
	comp := &fakeComponent{}
	reg.Mount(Key{UserID: "a", SessionID: "t", Kind: KindChat, ID: "x"}, comp)

	ctx, cancel := context.WithCancel(context.Background())
	StartJanitor(ctx, reg, time.Hour)
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for comp.closed.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("janitor did not close components on shutdown")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func newLiveServer(t *testing.T, hub *store.Hub, conns *ConnManager) *httptest.Server {
	t.Helper()
	h := NewWebSocketHandler(hub, conns, nil, "*", true)
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), "anon_fan", r.URL.Query().Get("tab"))))
	}))
}

func dial(t *testing.T, srv *httptest.Server, tab string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/live?tab=" + tab
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := ws.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return msg
}

func TestWebSocketPushesStorageChanges(t *testing.T) {
	hub := store.NewHub()
	conns := NewConnManager()
	srv := newLiveServer(t, hub, conns)
	defer srv.Close()

	ws := dial(t, srv, "tab-1")
	defer ws.Close(websocket.StatusNormalClosure, "")

	if msg := readMessage(t, ws); msg["type"] != "ready" || msg["session_id"] != "tab-1" {
		t.Fatalf("first message = %v", msg)
	}

	hub.Publish(store.Change{UserID: "someone_else", Key: "favorites", Value: "[1]"})
	hub.Publish(store.Change{UserID: "anon_fan", Key: "favorites", Value: "[2]"})

	msg := readMessage(t, ws)
	if msg["type"] != "storage" || msg["key"] != "favorites" || msg["value"] != "[2]" {
		t.Fatalf("change message = %v", msg)
	}
	if _, leaked := msg["UserID"]; leaked {
		t.Fatalf("user id leaked: %v", msg)
	}
}

func TestWebSocketAnswersPing(t *testing.T) {
	hub := store.NewHub()
	srv := newLiveServer(t, hub, NewConnManager())
	defer srv.Close()

	ws := dial(t, srv, "tab-1")
	defer ws.Close(websocket.StatusNormalClosure, "")
	readMessage(t, ws)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ws.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatal(err)
	}
	if msg := readMessage(t, ws); msg["type"] != "pong" {
		t.Fatalf("reply = %v", msg)
	}
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	h := NewWebSocketHandler(store.NewHub(), NewConnManager(), nil, "https://dearie.app", false)
	req := httptest.NewRequest(http.MethodGet, "/ws/live", nil)
	req = req.WithContext(identity.WithIdentity(req.Context(), "anon_fan", "tab"))
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestConnManagerTracksSockets(t *testing.T) {
	hub := store.NewHub()
	conns := NewConnManager()
	srv := newLiveServer(t, hub, conns)
	defer srv.Close()

	ws := dial(t, srv, "tab-1")
	defer ws.Close(websocket.StatusNormalClosure, "")
	readMessage(t, ws)

	if conns.Count("anon_fan") != 1 || conns.Get("anon_fan", "tab-1") == nil {
		t.Fatalf("socket not registered")
	}
	conns.CloseUser("anon_fan")
	if conns.Count("anon_fan") != 0 {
		t.Fatalf("CloseUser left %d sockets", conns.Count("anon_fan"))
	}
}
