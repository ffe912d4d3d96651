package challenge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dearie-app/dearie/internal/domain"
	"github.com/dearie-app/dearie/internal/metrics"
	"github.com/dearie-app/dearie/internal/schedule"
	"github.com/dearie-app/dearie/internal/store"
)

// ErrClosed is returned by operations on a calendar that has been torn down.
var ErrClosed = errors.New("calendar closed")

// Celebration messages.
const (
	CelebrationMessage = "챌린지 완료 🎉 오늘도 멋지게 시작했어요!"
	promptTimeLayout   = "03:04 PM"
)

// Phase is the stage of the celebration overlay.
type Phase string

const (
	PhaseShowing Phase = "showing"
	PhaseFading  Phase = "fading"
)

// Timings are the delays driving a calendar.
type Timings struct {
	Tick    time.Duration
	Fade    time.Duration
	Dismiss time.Duration
}

// DefaultTimings are the delays used when none are configured.
var DefaultTimings = Timings{
	Tick:    time.Minute,
	Fade:    2500 * time.Millisecond,
	Dismiss: 4500 * time.Millisecond,
}

// Rewards are the points credited on a successful certification.
type Rewards struct {
	Base   int
	Streak int
}

// DefaultRewards match the celebration copy.
var DefaultRewards = Rewards{Base: 700, Streak: 300}

// Config describes one mounted calendar.
type Config struct {
	Month          int                `json:"month"`
	CertDate       int                `json:"cert_date"`
	Window         domain.Window      `json:"window"`
	InitialStamps  domain.StampRecord `json:"initial_stamps,omitempty"`
	PastStampDays  []int              `json:"past_stamp_days,omitempty"`
	VisibleDays    []int              `json:"visible_days,omitempty"`
	Folded         bool               `json:"folded"`
	DisableToggle  bool               `json:"disable_toggle,omitempty"`
	ShowCertButton bool               `json:"show_cert_button"`
	SelectedArtist string             `json:"selected_artist,omitempty"`
	Categories     []domain.Category  `json:"categories,omitempty"`
	RewardIcon     string             `json:"reward_icon,omitempty"`
}

// Validate checks the configuration contract.
func (c Config) Validate() error {
	if c.Month < 1 || c.Month > 12 {
		return fmt.Errorf("month %d out of range", c.Month)
	}
	if !c.Window.Valid() {
		return fmt.Errorf("window %d-%d out of range", c.Window.StartHour, c.Window.EndHour)
	}
	if c.CertDate < 0 || c.CertDate > 31 {
		return fmt.Errorf("cert date %d out of range", c.CertDate)
	}
	if c.ShowCertButton && !c.HasTarget() {
		return errors.New("cert button requires a cert date")
	}
	return nil
}

// HasTarget reports whether the calendar has an actionable day. A calendar
// without one is read-only.
func (c Config) HasTarget() bool {
	return c.CertDate >= 1
}

// CategoryLabel returns the label of the selected artist's category, or the
// artist key itself when no category matches.
func (c Config) CategoryLabel() string {
	for _, cat := range c.Categories {
		if cat.Key == c.SelectedArtist && cat.Label != "" {
			return cat.Label
		}
	}
	return c.SelectedArtist
}

// Viewport is the page scroll owner.
type Viewport interface {
	SetScrollLocked(locked bool)
}

// SuccessEvent is passed to the success callback.
type SuccessEvent struct {
	CalendarID string
	Month      int
	Day        int
	Category   string
	Reward     Reward
}

// Reward is the breakdown shown by the celebration.
type Reward struct {
	Base   int `json:"base"`
	Streak int `json:"streak"`
	Total  int `json:"total"`
	// Balance is the point total after crediting.
	Balance int `json:"balance"`
}

// Detail returns the point breakdown line.
func (r Reward) Detail() string {
	if r.Streak > 0 {
		return fmt.Sprintf("(기본 %dp + 연속 챌린지 %dp)", r.Base, r.Streak)
	}
	return fmt.Sprintf("(기본 %dp)", r.Base)
}

// Prompt is the confirmation dialog.
type Prompt struct {
	Time     string `json:"time"`
	Category string `json:"category"`
	Consent  bool   `json:"consent"`
}

// Celebration is the overlay shown after a successful certification. It is
// removed from the view once dismissed.
type Celebration struct {
	Phase   Phase  `json:"phase"`
	Message string `json:"message"`
	Reward  Reward `json:"reward"`
	Detail  string `json:"detail"`
}

// View is the renderable state of a calendar.
type View struct {
	ID             string             `json:"id"`
	Month          int                `json:"month"`
	CertDate       int                `json:"cert_date"`
	Status         domain.Status      `json:"status"`
	ButtonLabel    string             `json:"button_label"`
	ButtonDisabled bool               `json:"button_disabled"`
	ShowCertButton bool               `json:"show_cert_button"`
	RewardIcon     string             `json:"reward_icon,omitempty"`
	Folded         bool               `json:"folded"`
	CanToggle      bool               `json:"can_toggle"`
	Stamps         domain.StampRecord `json:"stamps"`
	Grid           Grid               `json:"grid"`
	Prompt         *Prompt            `json:"prompt,omitempty"`
	Celebration    *Celebration       `json:"celebration,omitempty"`
	ScrollLocked   bool               `json:"scroll_locked"`
	Closed         bool               `json:"closed,omitempty"`
}

// Deps are the collaborators of a calendar.
type Deps struct {
	Storage   store.Storage
	Clock     schedule.Clock
	Timings   Timings
	Rewards   Rewards
	Viewport  Viewport
	OnSuccess func(SuccessEvent)
	// Emit receives a fresh View after every state change. It must not block
	// or call back into the calendar.
	Emit    func(View)
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Calendar is a mounted check-in calendar. It owns a timer group for the
// minute tick and the celebration sequence; Close stops every timer and
// releases the scroll lock.
type Calendar struct {
	id     string
	cfg    Config
	deps   Deps
	ctx    context.Context
	stamps *StampStore
	timers *schedule.Group
	logger *slog.Logger

	mu          sync.Mutex
	record      domain.StampRecord
	folded      bool
	promptOpen  bool
	consent     bool
	celebration *Celebration
	locked      bool
	closed      bool
}

// New mounts a calendar. ctx bounds the calendar's storage writes, including
// those made from timer callbacks, and should outlive a single request.
func New(ctx context.Context, cfg Config, deps Deps) (*Calendar, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid calendar config: %w", err)
	}
	if deps.Storage == nil {
		return nil, errors.New("calendar requires storage")
	}
	if deps.Clock == nil {
		deps.Clock = schedule.RealClock{}
	}
	if deps.Timings == (Timings{}) {
		deps.Timings = DefaultTimings
	}
	if deps.Rewards == (Rewards{}) {
		deps.Rewards = DefaultRewards
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	id := ulid.Make().String()
	logger := deps.Logger.With("calendar_id", id, "month", cfg.Month)
	c := &Calendar{
		id:     id,
		cfg:    cfg,
		deps:   deps,
		ctx:    ctx,
		stamps: NewStampStore(deps.Storage, cfg.Month, logger),
		timers: schedule.NewGroup(deps.Clock),
		logger: logger,
		folded: cfg.Folded,
	}

	record, err := c.stamps.Load(ctx, cfg.InitialStamps, cfg.PastStampDays)
	if err != nil {
		return nil, err
	}
	c.record = record

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.evaluateLocked(); err != nil {
		return nil, err
	}
	c.timers.Every(deps.Timings.Tick, c.tick)
	return c, nil
}

// ID returns the calendar identifier.
func (c *Calendar) ID() string {
	return c.id
}

// View returns the current renderable state.
func (c *Calendar) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// Status returns the derived certification status.
func (c *Calendar) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// ButtonLabel returns the certification button text.
func (c *Calendar) ButtonLabel() string {
	return ButtonLabel(c.Status())
}

// Stamps returns a copy of the stamp record.
func (c *Calendar) Stamps() domain.StampRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record.Clone()
}

// RequestCertification opens the confirmation prompt with consent cleared.
// It reports false and does nothing unless the status is active.
func (c *Calendar) RequestCertification() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, ErrClosed
	}
	if c.statusLocked() != domain.StatusActive {
		return false, nil
	}
	c.promptOpen = true
	c.consent = false
	c.syncScrollLocked()
	c.emitLocked()
	return true, nil
}

// SetConsent records the prompt's consent checkbox. It is ignored while the
// prompt is closed.
func (c *Calendar) SetConsent(consent bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if !c.promptOpen {
		return nil
	}
	c.consent = consent
	c.emitLocked()
	return nil
}

// Cancel closes the prompt without changing any stamp.
func (c *Calendar) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if !c.promptOpen {
		return nil
	}
	c.promptOpen = false
	c.consent = false
	c.syncScrollLocked()
	c.emitLocked()
	return nil
}

// Confirm certifies the target day. It requires an open prompt with consent
// given; otherwise it does nothing and reports false. If the status is no
// longer active when confirming, the prompt is closed and no stamp is set.
// On success the stamp is persisted, points are credited, the success
// callback runs once and the celebration sequence starts.
func (c *Calendar) Confirm() (bool, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, ErrClosed
	}
	if !c.promptOpen || !c.consent {
		c.mu.Unlock()
		return false, nil
	}

	c.promptOpen = false
	c.consent = false
	if c.statusLocked() != domain.StatusActive {
		c.syncScrollLocked()
		c.emitLocked()
		c.mu.Unlock()
		return false, nil
	}

	c.record[c.cfg.CertDate] = domain.OutcomeSuccess
	if err := c.stamps.Save(c.ctx, c.record); err != nil {
		delete(c.record, c.cfg.CertDate)
		c.deps.Metrics.IncStorageErrors()
		c.syncScrollLocked()
		c.emitLocked()
		c.mu.Unlock()
		return false, err
	}
	c.deps.Metrics.IncStamps(string(domain.OutcomeSuccess))

	reward := c.creditLocked()
	c.celebration = &Celebration{
		Phase:   PhaseShowing,
		Message: CelebrationMessage,
		Reward:  reward,
		Detail:  reward.Detail(),
	}
	c.syncScrollLocked()
	c.timers.After(c.deps.Timings.Fade, c.fade)
	c.timers.After(c.deps.Timings.Dismiss, c.dismiss)
	c.emitLocked()

	event := SuccessEvent{
		CalendarID: c.id,
		Month:      c.cfg.Month,
		Day:        c.cfg.CertDate,
		Category:   c.cfg.CategoryLabel(),
		Reward:     reward,
	}
	c.mu.Unlock()

	c.logger.Info("Certification confirmed", "day", event.Day, "points", reward.Total)
	if c.deps.OnSuccess != nil {
		c.deps.OnSuccess(event)
	}
	return true, nil
}

// ToggleFold flips between the folded and full month view unless toggling
// is disabled.
func (c *Calendar) ToggleFold() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.cfg.DisableToggle {
		return nil
	}
	c.folded = !c.folded
	c.emitLocked()
	return nil
}

// Evaluate re-runs the auto-fail check against the current time.
func (c *Calendar) Evaluate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return c.evaluateLocked()
}

// Close tears the calendar down: every pending timer is cancelled and the
// scroll lock is released even if a prompt or celebration is showing.
func (c *Calendar) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.timers.Stop()
	c.promptOpen = false
	c.celebration = nil
	c.locked = false
	if c.deps.Viewport != nil {
		c.deps.Viewport.SetScrollLocked(false)
	}
	c.emitLocked()
}

// Closed reports whether Close has been called.
func (c *Calendar) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Calendar) tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if err := c.evaluateLocked(); err != nil {
		c.logger.Error("Auto-fail evaluation failed", "error", err)
		return
	}
	c.emitLocked()
}

func (c *Calendar) fade() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.celebration == nil {
		return
	}
	c.celebration.Phase = PhaseFading
	c.emitLocked()
}

func (c *Calendar) dismiss() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.celebration == nil {
		return
	}
	c.celebration = nil
	c.syncScrollLocked()
	c.emitLocked()
}

func (c *Calendar) evaluateLocked() error {
	now := c.deps.Clock.Now()
	if !ApplyAutoFail(c.record, c.cfg.CertDate, c.cfg.Window, now) {
		return nil
	}
	if err := c.stamps.Save(c.ctx, c.record); err != nil {
		c.deps.Metrics.IncStorageErrors()
		return err
	}
	c.deps.Metrics.IncStamps(string(domain.OutcomeFail))
	c.logger.Info("Certification window missed", "day", c.cfg.CertDate)
	return nil
}

func (c *Calendar) creditLocked() Reward {
	r := Reward{Base: c.deps.Rewards.Base}
	if c.record[c.cfg.CertDate-1] == domain.OutcomeSuccess {
		r.Streak = c.deps.Rewards.Streak
	}
	r.Total = r.Base + r.Streak

	balance, err := AddPoints(c.ctx, c.deps.Storage, r.Total)
	if err != nil {
		c.deps.Metrics.IncStorageErrors()
		c.logger.Error("Failed to credit points", "points", r.Total, "error", err)
		return r
	}
	r.Balance = balance
	return r
}

func (c *Calendar) statusLocked() domain.Status {
	return c.deriveLocked(c.deps.Clock.Now())
}

// deriveLocked pins read-only calendars to fail so certification never opens.
func (c *Calendar) deriveLocked(now time.Time) domain.Status {
	if !c.cfg.HasTarget() {
		return domain.StatusFail
	}
	return DeriveStatus(c.record[c.cfg.CertDate], c.cfg.Window, now)
}

// syncScrollLocked locks scrolling while the prompt or the overlay is shown.
func (c *Calendar) syncScrollLocked() {
	want := c.promptOpen || c.celebration != nil
	if want == c.locked {
		return
	}
	c.locked = want
	if c.deps.Viewport != nil {
		c.deps.Viewport.SetScrollLocked(want)
	}
}

func (c *Calendar) viewLocked() View {
	now := c.deps.Clock.Now()
	status := c.deriveLocked(now)
	v := View{
		ID:             c.id,
		Month:          c.cfg.Month,
		CertDate:       c.cfg.CertDate,
		Status:         status,
		ButtonLabel:    ButtonLabel(status),
		ButtonDisabled: status != domain.StatusActive,
		ShowCertButton: c.cfg.ShowCertButton,
		RewardIcon:     c.cfg.RewardIcon,
		Folded:         c.folded,
		CanToggle:      !c.cfg.DisableToggle,
		Stamps:         c.record.Clone(),
		Grid:           Render(now.Year(), c.cfg.Month, c.cfg.VisibleDays, c.folded, c.record, c.cfg.CertDate),
		ScrollLocked:   c.locked,
		Closed:         c.closed,
	}
	if c.promptOpen {
		v.Prompt = &Prompt{
			Time:     now.Format(promptTimeLayout),
			Category: c.cfg.CategoryLabel(),
			Consent:  c.consent,
		}
	}
	if c.celebration != nil {
		cel := *c.celebration
		v.Celebration = &cel
	}
	return v
}

func (c *Calendar) emitLocked() {
	if c.deps.Emit != nil {
		c.deps.Emit(c.viewLocked())
	}
}
