// Package notify is the per-device notifications center: stored
// notifications filtered by the followed artist groups, split into the
// two display batches and bucketed by age.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dearie-app/dearie/internal/domain"
	"github.com/dearie-app/dearie/internal/schedule"
	"github.com/dearie-app/dearie/internal/store"
)

// Storage keys.
const (
	NotificationsKey = "notifications"
	PickedGroupsKey  = "pickedGroups"
)

// TabAll shows every notification of a followed group.
const TabAll = "ALL"

// MaxStored bounds the stored list; the oldest entries are dropped first.
const MaxStored = 200

// Bucket labels.
const (
	BucketToday     = "오늘"
	BucketYesterday = "어제"
	BucketEarlier   = "이전"
)

var ErrNotFound = errors.New("notification not found")

// Bucket is a group of notifications of similar age.
type Bucket struct {
	Label string                `json:"label"`
	Items []domain.Notification `json:"items"`
}

// Page is the rendered notifications center.
type Page struct {
	Tabs    []string `json:"tabs"`
	Tab     string   `json:"tab"`
	Recent  []Bucket `json:"recent"`
	Earlier []Bucket `json:"earlier"`
	Unread  int      `json:"unread"`
}

// Center reads and writes the notifications of one device.
type Center struct {
	storage store.Storage
	clock   schedule.Clock
	logger  *slog.Logger
}

// New returns a Center over storage.
func New(storage store.Storage, clock schedule.Clock, logger *slog.Logger) *Center {
	if clock == nil {
		clock = schedule.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Center{storage: storage, clock: clock, logger: logger}
}

// List returns the stored notifications, newest first as stored.
func (c *Center) List(ctx context.Context) ([]domain.Notification, error) {
	var list []domain.Notification
	_, err := store.GetJSON(ctx, c.storage, NotificationsKey, &list)
	if errors.Is(err, store.ErrMalformed) {
		c.logger.Warn("Discarding malformed notifications", "error", err)
		return []domain.Notification{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read notifications: %w", err)
	}
	if list == nil {
		list = []domain.Notification{}
	}
	return list, nil
}

// PickedGroups returns the followed artist groups.
func (c *Center) PickedGroups(ctx context.Context) ([]domain.PickedGroup, error) {
	var groups []domain.PickedGroup
	_, err := store.GetJSON(ctx, c.storage, PickedGroupsKey, &groups)
	if errors.Is(err, store.ErrMalformed) {
		c.logger.Warn("Discarding malformed picked groups", "error", err)
		return []domain.PickedGroup{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read picked groups: %w", err)
	}
	if groups == nil {
		groups = []domain.PickedGroup{}
	}
	return groups, nil
}

// SetPickedGroups replaces the followed groups.
func (c *Center) SetPickedGroups(ctx context.Context, groups []domain.PickedGroup) error {
	if groups == nil {
		groups = []domain.PickedGroup{}
	}
	if err := store.SetJSON(ctx, c.storage, PickedGroupsKey, groups); err != nil {
		return fmt.Errorf("write picked groups: %w", err)
	}
	return nil
}

// Publish stores n at the head of the list. Id, creation time, display
// time and batch are filled in when missing.
func (c *Center) Publish(ctx context.Context, n domain.Notification) (domain.Notification, error) {
	list, err := c.List(ctx)
	if err != nil {
		return n, err
	}
	now := c.clock.Now()
	if n.ID == "" {
		n.ID = ulid.Make().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	if n.DayTime == "" {
		n.DayTime = n.CreatedAt.Format(domain.DayTimeLayout)
	}
	if n.Batch != 2 {
		n.Batch = 1
	}
	list = append([]domain.Notification{n}, list...)
	if len(list) > MaxStored {
		list = list[:MaxStored]
	}
	if err := store.SetJSON(ctx, c.storage, NotificationsKey, list); err != nil {
		return n, fmt.Errorf("write notifications: %w", err)
	}
	return n, nil
}

// MarkAsRead flags a notification as read.
func (c *Center) MarkAsRead(ctx context.Context, id string) error {
	list, err := c.List(ctx)
	if err != nil {
		return err
	}
	for i := range list {
		if list[i].ID != id {
			continue
		}
		if list[i].IsRead {
			return nil
		}
		list[i].IsRead = true
		if err := store.SetJSON(ctx, c.storage, NotificationsKey, list); err != nil {
			return fmt.Errorf("write notifications: %w", err)
		}
		return nil
	}
	return ErrNotFound
}

// Page renders the center for a tab. An unknown tab falls back to ALL.
func (c *Center) Page(ctx context.Context, tab string) (Page, error) {
	list, err := c.List(ctx)
	if err != nil {
		return Page{}, err
	}
	groups, err := c.PickedGroups(ctx)
	if err != nil {
		return Page{}, err
	}

	tabs := Tabs(groups)
	tab = strings.ToUpper(strings.TrimSpace(tab))
	known := false
	for _, t := range tabs {
		known = known || t == tab
	}
	if !known {
		tab = TabAll
	}

	filtered := Filter(list, groups, tab)
	batch1, batch2 := SplitBatches(filtered)
	now := c.clock.Now()
	page := Page{
		Tabs:    tabs,
		Tab:     tab,
		Recent:  BucketByAge(batch1, now),
		Earlier: BucketByAge(batch2, now),
	}
	for _, n := range filtered {
		if !n.IsRead {
			page.Unread++
		}
	}
	return page, nil
}

// Tabs returns ALL followed by the upper-cased ids of the picked groups.
func Tabs(groups []domain.PickedGroup) []string {
	tabs := make([]string, 0, len(groups)+1)
	tabs = append(tabs, TabAll)
	for _, g := range groups {
		tabs = append(tabs, strings.ToUpper(g.ID))
	}
	return tabs
}

// Filter keeps the notifications shown under tab. ALL keeps every type
// that matches a picked group; other tabs keep their own type.
func Filter(list []domain.Notification, groups []domain.PickedGroup, tab string) []domain.Notification {
	tab = strings.ToUpper(tab)
	picked := make(map[string]bool, len(groups))
	for _, g := range groups {
		picked[strings.ToUpper(g.ID)] = true
	}
	out := []domain.Notification{}
	for _, n := range list {
		t := strings.ToUpper(n.Type)
		if (tab == TabAll && picked[t]) || (tab != TabAll && t == tab) {
			out = append(out, n)
		}
	}
	return out
}

// SplitBatches separates batch 1 and batch 2, each sorted by display time
// newest first. Unparsable display times sort last.
func SplitBatches(list []domain.Notification) (batch1, batch2 []domain.Notification) {
	batch1, batch2 = []domain.Notification{}, []domain.Notification{}
	for _, n := range list {
		switch n.Batch {
		case 1:
			batch1 = append(batch1, n)
		case 2:
			batch2 = append(batch2, n)
		}
	}
	byDayTime := func(s []domain.Notification) func(i, j int) bool {
		return func(i, j int) bool {
			return dayTime(s[i]).After(dayTime(s[j]))
		}
	}
	sort.SliceStable(batch1, byDayTime(batch1))
	sort.SliceStable(batch2, byDayTime(batch2))
	return batch1, batch2
}

func dayTime(n domain.Notification) time.Time {
	t, err := time.ParseInLocation(domain.DayTimeLayout, n.DayTime, time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}

// BucketByAge groups notifications by whole days elapsed since creation:
// today, yesterday and earlier. Empty buckets are omitted and order within
// a bucket is preserved.
func BucketByAge(list []domain.Notification, now time.Time) []Bucket {
	labels := []string{BucketToday, BucketYesterday, BucketEarlier}
	grouped := make(map[string][]domain.Notification, len(labels))
	for _, n := range list {
		days := int(now.Sub(n.CreatedAt) / (24 * time.Hour))
		label := BucketEarlier
		switch days {
		case 0:
			label = BucketToday
		case 1:
			label = BucketYesterday
		}
		grouped[label] = append(grouped[label], n)
	}
	buckets := []Bucket{}
	for _, label := range labels {
		if items := grouped[label]; len(items) > 0 {
			buckets = append(buckets, Bucket{Label: label, Items: items})
		}
	}
	return buckets
}
