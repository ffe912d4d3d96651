//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dearie-app/dearie/internal/chatbot"
	"github.com/dearie-app/dearie/internal/config"
	"github.com/dearie-app/dearie/internal/domain"
	"github.com/dearie-app/dearie/internal/events"
	"github.com/dearie-app/dearie/internal/identity"
	"github.com/dearie-app/dearie/internal/schedule"
	"github.com/dearie-app/dearie/internal/store"
)

const (
	testUser    = "anon_0123456789abcdef"
	testSession = "tab-1"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) ofType(typ string) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type recordingSockets struct {
	closed []string
}

func (s *recordingSockets) CloseUser(userID string) { s.closed = append(s.closed, userID) }

type apiHarness struct {
	t       *testing.T
	handler *Handler
	router  http.Handler
	repo    *store.MemoryStore
	clock   *schedule.FakeClock
	events  *recordingPublisher
	sockets *recordingSockets
}

func testConfig() *config.Config {
	return &config.Config{
		Chat: config.ChatConfig{
			DailyQuota:        10,
			ReplyDelay:        800 * time.Millisecond,
			EmotionReplyDelay: time.Second,
		},
		Challenge: config.ChallengeConfig{
			TickInterval: time.Minute,
			FadeDelay:    2500 * time.Millisecond,
			DismissDelay: 4500 * time.Millisecond,
			BasePoints:   700,
			StreakPoints: 300,
		},
	}
}

func newAPIHarness(t *testing.T, now time.Time) *apiHarness {
	t.Helper()
	repo := store.NewMemory()
	if err := repo.UpsertUser(context.Background(), &domain.User{UserID: testUser, Username: "dearie-abcdef", CreatedAt: now}); err != nil {
		t.Fatal(err)
	}
	clock := schedule.NewFakeClock(now)
	pub := &recordingPublisher{}
	sockets := &recordingSockets{}
	h := NewHandler(Deps{
		Repo:    repo,
		Changes: store.NewHub(),
		Catalog: chatbot.NewStaticSource(chatbot.DefaultCatalog()),
		Events:  pub,
		Sockets: sockets,
		Clock:   clock,
		Config:  testConfig(),
		AppCtx:  context.Background(),
	})
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	router := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.ServeHTTP(w, req.WithContext(identity.WithIdentity(req.Context(), testUser, testSession)))
	})
	t.Cleanup(func() { h.Registry.CloseAll() })
	return &apiHarness{t: t, handler: h, router: router, repo: repo, clock: clock, events: pub, sockets: sockets}
}

func (a *apiHarness) do(method, path, body string) *httptest.ResponseRecorder {
	a.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *apiHarness) expect(method, path, body string, status int, out any) {
	a.t.Helper()
	rec := a.do(method, path, body)
	if rec.Code != status {
		a.t.Fatalf("%s %s = %d, want %d: %s", method, path, rec.Code, status, rec.Body.String())
	}
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			a.t.Fatalf("%s %s: decode %s: %v", method, path, rec.Body.String(), err)
		}
	}
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestGetMe(t *testing.T) {
	a := newAPIHarness(t, time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC))

	var me map[string]any
	a.expect(http.MethodGet, "/api/me", "", http.StatusOK, &me)
	if me["user_id"] != testUser || me["session_id"] != testSession {
		t.Fatalf("me = %v", me)
	}
}

func TestAccountFlow(t *testing.T) {
	a := newAPIHarness(t, time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC))

	var acc struct {
		LoggedIn bool   `json:"logged_in"`
		Landing  string `json:"landing"`
	}
	a.expect(http.MethodGet, "/api/account", "", http.StatusOK, &acc)
	if acc.LoggedIn || acc.Landing != "/login" {
		t.Fatalf("initial account = %+v", acc)
	}

	var visit map[string]bool
	a.expect(http.MethodPost, "/api/account/visit", `{"path":"/fan-log"}`, http.StatusOK, &visit)
	if visit["recorded"] {
		t.Fatal("visit recorded while logged out")
	}

	a.expect(http.MethodPost, "/api/account/login", "", http.StatusOK, &acc)
	if !acc.LoggedIn || acc.Landing != "/" {
		t.Fatalf("after login = %+v", acc)
	}
	a.expect(http.MethodPost, "/api/account/visit", `{"path":"/fan-log"}`, http.StatusOK, &visit)
	if !visit["recorded"] {
		t.Fatal("visit not recorded while logged in")
	}
	a.expect(http.MethodPost, "/api/account/logout", "", http.StatusOK, &acc)
	a.expect(http.MethodPost, "/api/account/login", "", http.StatusOK, &acc)
	if acc.Landing != "/fan-log" {
		t.Fatalf("landing after re-login = %q, want /fan-log", acc.Landing)
	}

	var bg struct {
		Color string `json:"color"`
	}
	a.expect(http.MethodGet, "/api/background?path=/notifications", "", http.StatusOK, &bg)
	if bg.Color != "#ffffff" {
		t.Fatalf("background = %+v", bg)
	}
}

type calendarResponse struct {
	Changed bool `json:"changed"`
	View    struct {
		ID           string             `json:"id"`
		Status       domain.Status      `json:"status"`
		Stamps       domain.StampRecord `json:"stamps"`
		ScrollLocked bool               `json:"scroll_locked"`
		Prompt       *struct {
			Consent bool `json:"consent"`
		} `json:"prompt"`
	} `json:"view"`
}

const calendarBody = `{"month":3,"cert_date":15,"window":{"start_hour":9,"end_hour":10},"show_cert_button":true,"selected_artist":"aespa"}`

func TestCalendarCertificationFlow(t *testing.T) {
	a := newAPIHarness(t, time.Date(2025, 3, 15, 9, 30, 0, 0, time.UTC))

	var mounted struct {
		ID     string        `json:"id"`
		Status domain.Status `json:"status"`
	}
	a.expect(http.MethodPost, "/api/challenge/calendars", calendarBody, http.StatusCreated, &mounted)
	if mounted.Status != domain.StatusActive {
		t.Fatalf("status = %q, want active", mounted.Status)
	}
	base := "/api/challenge/calendars/" + mounted.ID

	var resp calendarResponse
	a.expect(http.MethodPost, base+"/confirm", "", http.StatusOK, &resp)
	if resp.Changed {
		t.Fatal("confirm without prompt succeeded")
	}

	a.expect(http.MethodPost, base+"/certify", "", http.StatusOK, &resp)
	if !resp.Changed || resp.View.Prompt == nil || !resp.View.ScrollLocked {
		t.Fatalf("certify = %+v", resp)
	}
	a.expect(http.MethodPost, base+"/consent", `{"consent":true}`, http.StatusOK, &resp)
	a.expect(http.MethodPost, base+"/confirm", "", http.StatusOK, &resp)
	if !resp.Changed || resp.View.Stamps[15] != domain.OutcomeSuccess || resp.View.Status != domain.StatusDone {
		t.Fatalf("confirm = %+v", resp)
	}

	var points map[string]int
	a.expect(http.MethodGet, "/api/challenge/points", "", http.StatusOK, &points)
	if points["points"] != 700 {
		t.Fatalf("points = %v, want 700", points)
	}

	notes := a.events.ofType(events.TypeNotification)
	if len(notes) != 1 {
		t.Fatalf("notification events = %d, want 1", len(notes))
	}
	n := notes[0].Data.(domain.Notification)
	if n.Type != "AESPA" || !strings.Contains(n.Message, "3월 15일") {
		t.Fatalf("notification = %+v", n)
	}
	if len(a.events.ofType(events.TypeCalendar)) == 0 {
		t.Fatal("no calendar events streamed")
	}

	a.clock.Advance(5 * time.Second)
	a.expect(http.MethodGet, base, "", http.StatusOK, &resp)
	if resp.View.ScrollLocked {
		t.Fatal("scroll still locked after celebration")
	}

	a.expect(http.MethodDelete, base, "", http.StatusNoContent, nil)
	a.expect(http.MethodGet, base, "", http.StatusNotFound, nil)
}

func TestCalendarRejectsInvalidConfig(t *testing.T) {
	a := newAPIHarness(t, time.Date(2025, 3, 15, 9, 30, 0, 0, time.UTC))
	a.expect(http.MethodPost, "/api/challenge/calendars", `{"month":13,"window":{"start_hour":9,"end_hour":10}}`, http.StatusBadRequest, nil)
	a.expect(http.MethodPost, "/api/challenge/calendars", `{"month":3,"window":{"start_hour":9,"end_hour":10},"show_cert_button":true}`, http.StatusBadRequest, nil)
	a.expect(http.MethodPost, "/api/challenge/calendars/nope/certify", "", http.StatusNotFound, nil)
}

type chatView struct {
	Messages  []domain.ChatMessage `json:"messages"`
	Remaining int                  `json:"remaining"`
	Theme     domain.ThemeClass    `json:"theme"`
}

type chatResponse struct {
	Accepted bool     `json:"accepted"`
	View     chatView `json:"view"`
}

func TestChatFlow(t *testing.T) {
	a := newAPIHarness(t, time.Date(2025, 3, 15, 20, 0, 0, 0, time.UTC))
	a.expect(http.MethodPost, "/api/account/login", "", http.StatusOK, nil)

	var view chatView
	a.expect(http.MethodPost, "/api/chat/session", "", http.StatusCreated, &view)
	if view.Remaining != 10 || view.Theme != domain.ThemeHeart || len(view.Messages) != 0 {
		t.Fatalf("mounted chat = %+v", view)
	}

	var resp chatResponse
	a.expect(http.MethodPost, "/api/chat/session/messages", `{"text":"안녕"}`, http.StatusOK, &resp)
	if !resp.Accepted || resp.View.Remaining != 9 || len(resp.View.Messages) != 1 {
		t.Fatalf("send = %+v", resp)
	}
	a.clock.Advance(800 * time.Millisecond)
	a.expect(http.MethodGet, "/api/chat/session", "", http.StatusOK, &view)
	if len(view.Messages) != 2 || view.Messages[1].Text != "안녕하세요! 오늘 하루는 어떠셨어요? 😊" {
		t.Fatalf("after reply = %+v", view.Messages)
	}

	a.expect(http.MethodPost, "/api/chat/session/emotions", `{"emotion":"무기력한"}`, http.StatusOK, &resp)
	if resp.View.Theme != domain.ThemeFire || resp.View.Remaining != 8 {
		t.Fatalf("emotion = %+v", resp.View)
	}
	a.clock.Advance(time.Second)
	a.expect(http.MethodGet, "/api/chat/session", "", http.StatusOK, &view)
	var card domain.ChatMessage
	for _, m := range view.Messages {
		if m.ShowOptions {
			card = m
		}
	}
	if card.ID == "" || len(card.Songs) == 0 {
		t.Fatalf("no recommendation card in %+v", view.Messages)
	}

	body := `{"song_id":"` + card.Songs[0].ID + `","option_id":"` + card.ID + `"}`
	a.expect(http.MethodPost, "/api/chat/session/songs", body, http.StatusOK, &resp)
	last := resp.View.Messages[len(resp.View.Messages)-1]
	if last.Type != domain.MessageTypeMusic || last.Song == nil || last.Song.ID != card.Songs[0].ID {
		t.Fatalf("last message = %+v", last)
	}
	a.expect(http.MethodPost, "/api/chat/session/songs", `{"song_id":"missing"}`, http.StatusNotFound, nil)

	// A remount restores the persisted conversation.
	a.expect(http.MethodPost, "/api/chat/session", "", http.StatusCreated, &view)
	if view.Remaining != 8 || view.Theme != domain.ThemeFire {
		t.Fatalf("restored chat = %+v", view)
	}

	a.expect(http.MethodPost, "/api/account/logout", "", http.StatusOK, nil)
	a.expect(http.MethodGet, "/api/chat/session", "", http.StatusOK, &view)
	if view.Remaining != 10 || len(view.Messages) != 0 {
		t.Fatalf("chat after logout = %+v", view)
	}

	a.expect(http.MethodDelete, "/api/chat/session", "", http.StatusNoContent, nil)
	a.expect(http.MethodGet, "/api/chat/session", "", http.StatusNotFound, nil)
	if len(a.events.ofType(events.TypeChat)) == 0 {
		t.Fatal("no chat events streamed")
	}
}

func TestChatCatalog(t *testing.T) {
	a := newAPIHarness(t, time.Date(2025, 3, 15, 20, 0, 0, 0, time.UTC))

	var cat struct {
		Quota  int `json:"quota"`
		Groups []struct {
			Theme   domain.ThemeClass `json:"theme"`
			Replies []string          `json:"replies"`
		} `json:"groups"`
	}
	a.expect(http.MethodGet, "/api/chat/catalog", "", http.StatusOK, &cat)
	if cat.Quota != 10 || len(cat.Groups) != 3 {
		t.Fatalf("catalog = %+v", cat)
	}
	if cat.Groups[0].Replies != nil {
		t.Fatal("scripted replies leaked into the catalog response")
	}
}

func TestFeedEndpoints(t *testing.T) {
	a := newAPIHarness(t, time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC))

	var like domain.LikeState
	a.expect(http.MethodPost, "/api/feed/aespa/posts/3/likes/toggle?base=10", "", http.StatusOK, &like)
	if !like.Liked || like.Likes != 11 {
		t.Fatalf("like = %+v", like)
	}
	var liked struct {
		Posts []domain.LikedPost `json:"posts"`
	}
	a.expect(http.MethodGet, "/api/likes", "", http.StatusOK, &liked)
	if len(liked.Posts) != 1 || liked.Posts[0].ArtistKey != "aespa" || liked.Posts[0].PostIndex != 3 {
		t.Fatalf("liked = %+v", liked)
	}
	a.expect(http.MethodDelete, "/api/feed/aespa/posts/3/likes", "", http.StatusOK, &like)
	if like.Liked || like.Likes != 10 {
		t.Fatalf("unlike = %+v", like)
	}
	a.expect(http.MethodGet, "/api/feed/aespa/posts/x/likes", "", http.StatusBadRequest, nil)

	var favs struct {
		Favorites []domain.Favorite `json:"favorites"`
	}
	a.expect(http.MethodPost, "/api/favorites", `{"teamId":1,"itemId":4}`, http.StatusOK, &favs)
	a.expect(http.MethodPost, "/api/favorites", `{"teamId":1,"itemId":4}`, http.StatusOK, &favs)
	if len(favs.Favorites) != 1 {
		t.Fatalf("favorites = %+v", favs)
	}
	a.expect(http.MethodDelete, "/api/favorites/1/4", "", http.StatusOK, &favs)
	if len(favs.Favorites) != 0 {
		t.Fatalf("favorites after remove = %+v", favs)
	}

	var c struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Text        string `json:"text"`
		TimeDisplay string `json:"timeDisplay"`
		Mine        bool   `json:"mine"`
	}
	a.expect(http.MethodPost, "/api/feed/aespa/posts/3/comments", `{"text":"<b>최고</b>"}`, http.StatusCreated, &c)
	if c.Text != "최고" || c.Name != "순간의 윈터" || c.TimeDisplay != "방금 전" || !c.Mine {
		t.Fatalf("comment = %+v", c)
	}
	a.expect(http.MethodPost, "/api/feed/aespa/posts/3/comments", `{"text":"   "}`, http.StatusBadRequest, nil)
	a.expect(http.MethodPost, "/api/feed/aespa/posts/3/comments/"+c.ID+"/like", "", http.StatusOK, nil)

	var list struct {
		Comments []struct {
			ID    string `json:"id"`
			Liked bool   `json:"liked"`
		} `json:"comments"`
	}
	a.expect(http.MethodGet, "/api/feed/aespa/posts/3/comments", "", http.StatusOK, &list)
	if len(list.Comments) != 1 || !list.Comments[0].Liked {
		t.Fatalf("comments = %+v", list)
	}
	a.expect(http.MethodDelete, "/api/feed/aespa/posts/3/comments/"+c.ID, "", http.StatusNoContent, nil)
	a.expect(http.MethodDelete, "/api/feed/aespa/posts/3/comments/"+c.ID, "", http.StatusNotFound, nil)

	var profile profileResponse
	a.expect(http.MethodPut, "/api/profile", `{"name":"윈터사랑"}`, http.StatusOK, &profile)
	if profile.Name != "윈터사랑" {
		t.Fatalf("profile = %+v", profile)
	}
}

func TestNotificationEndpoints(t *testing.T) {
	a := newAPIHarness(t, time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC))

	a.expect(http.MethodPut, "/api/notifications/groups", `{"groups":[{"id":"aespa"}]}`, http.StatusOK, nil)

	var n domain.Notification
	a.expect(http.MethodPost, "/api/notifications", `{"type":"aespa","title":"새 글","message":"윈터가 글을 올렸어요"}`, http.StatusCreated, &n)
	if n.ID == "" || n.DayTime != "2025. 03. 15. 09:00" || n.Batch != 1 {
		t.Fatalf("published = %+v", n)
	}
	a.expect(http.MethodPost, "/api/notifications", `{"type":"aespa"}`, http.StatusBadRequest, nil)

	var page struct {
		Tabs   []string `json:"tabs"`
		Unread int      `json:"unread"`
		Recent []struct {
			Label string                `json:"label"`
			Items []domain.Notification `json:"items"`
		} `json:"recent"`
	}
	a.expect(http.MethodGet, "/api/notifications", "", http.StatusOK, &page)
	if strings.Join(page.Tabs, ",") != "ALL,AESPA" || page.Unread != 1 {
		t.Fatalf("page = %+v", page)
	}

	a.expect(http.MethodPost, "/api/notifications/"+n.ID+"/read", "", http.StatusOK, nil)
	a.expect(http.MethodPost, "/api/notifications/missing/read", "", http.StatusNotFound, nil)
	a.expect(http.MethodGet, "/api/notifications?tab=AESPA", "", http.StatusOK, &page)
	if page.Unread != 0 {
		t.Fatalf("unread after mark = %d", page.Unread)
	}
	if len(a.events.ofType(events.TypeNotification)) != 1 {
		t.Fatal("published notification was not streamed")
	}
}

func TestFanLogEndpoints(t *testing.T) {
	a := newAPIHarness(t, time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC))

	var v fanLogEntryView
	a.expect(http.MethodPut, "/api/fanlog/2025/3/14", `{"text":"**최고의** 하루","selectedTab":"콘서트"}`, http.StatusOK, &v)
	if !strings.Contains(v.HTML, "<strong>최고의</strong>") || v.TimeAgo != "지금" {
		t.Fatalf("saved = %+v", v)
	}

	a.clock.Advance(2 * time.Hour)
	a.expect(http.MethodGet, "/api/fanlog/2025/3/14", "", http.StatusOK, &v)
	if v.Entry.SelectedTab != "콘서트" || v.TimeAgo != "2시간 전" {
		t.Fatalf("entry = %+v", v)
	}

	var month struct {
		Entries []fanLogEntryView `json:"entries"`
	}
	a.expect(http.MethodGet, "/api/fanlog/2025/3", "", http.StatusOK, &month)
	if len(month.Entries) != 1 || month.Entries[0].Day != 14 {
		t.Fatalf("month = %+v", month)
	}
	a.expect(http.MethodGet, "/api/fanlog/posts", "", http.StatusOK, &month)
	if len(month.Entries) != 1 {
		t.Fatalf("posts = %+v", month)
	}

	a.expect(http.MethodGet, "/api/fanlog/2025/2/30", "", http.StatusBadRequest, nil)
	a.expect(http.MethodDelete, "/api/fanlog/2025/3/14", "", http.StatusNoContent, nil)
	a.expect(http.MethodGet, "/api/fanlog/2025/3", "", http.StatusOK, &month)
	if len(month.Entries) != 0 {
		t.Fatalf("month after delete = %+v", month)
	}
}

func TestStorageEndpointsAndReset(t *testing.T) {
	a := newAPIHarness(t, time.Date(2025, 3, 15, 9, 30, 0, 0, time.UTC))

	a.expect(http.MethodPut, "/api/storage/pickedGroups", `{"value":"[{\"id\":\"aespa\"}]"}`, http.StatusOK, nil)
	var got map[string]string
	a.expect(http.MethodGet, "/api/storage/pickedGroups", "", http.StatusOK, &got)
	if got["value"] != `[{"id":"aespa"}]` {
		t.Fatalf("value = %q", got["value"])
	}
	var keys map[string][]string
	a.expect(http.MethodGet, "/api/storage?prefix=picked", "", http.StatusOK, &keys)
	if len(keys["keys"]) != 1 {
		t.Fatalf("keys = %v", keys)
	}

	a.expect(http.MethodPost, "/api/challenge/calendars", calendarBody, http.StatusCreated, nil)
	if a.handler.Registry.Len() != 1 {
		t.Fatalf("registry len = %d", a.handler.Registry.Len())
	}

	a.expect(http.MethodDelete, "/api/me", "", http.StatusOK, nil)
	if a.handler.Registry.Len() != 0 {
		t.Fatal("reset left components mounted")
	}
	if len(a.sockets.closed) != 1 || a.sockets.closed[0] != testUser {
		t.Fatalf("sockets closed = %v", a.sockets.closed)
	}
	a.expect(http.MethodGet, "/api/storage/pickedGroups", "", http.StatusNotFound, nil)
	a.expect(http.MethodDelete, "/api/storage/pickedGroups", "", http.StatusNoContent, nil)
}

type pingRepo struct {
	store.Repository
	err error
}

func (p pingRepo) Ping(context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"healthy", nil, http.StatusOK},
		{"database down", errors.New("database is locked"), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := chi.NewRouter()
			NewHealthHandler(pingRepo{Repository: store.NewMemory(), err: tt.err}, time.Second).RegisterHealth(r)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}
