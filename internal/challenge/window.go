// Package challenge implements the daily check-in calendar: the
// certification window, stamp persistence, the certification state
// machine with its celebration sequence, and the calendar grid projection.
package challenge

import (
	"time"

	"github.com/dearie-app/dearie/internal/domain"
)

// IsWithinWindow reports whether now falls inside the certification window.
// Only the hour of now is considered.
func IsWithinWindow(now time.Time, w domain.Window) bool {
	h := now.Hour()
	if w.StartHour < w.EndHour {
		return h >= w.StartHour && h < w.EndHour
	}
	return h >= w.StartHour || h < w.EndHour
}

// WindowEnded reports whether today's window has closed by now. For a window
// that wraps past midnight the closed span is [EndHour, StartHour).
func WindowEnded(now time.Time, w domain.Window) bool {
	h := now.Hour()
	if !w.Wraps() {
		return h >= w.EndHour
	}
	return h >= w.EndHour && h < w.StartHour
}

// DeriveStatus computes the certification status of the target day from its
// stamp ("" when undecided), the window and the current time.
func DeriveStatus(stamp domain.Outcome, w domain.Window, now time.Time) domain.Status {
	switch {
	case !IsWithinWindow(now, w):
		return domain.StatusFail
	case stamp == domain.OutcomeSuccess:
		return domain.StatusDone
	case stamp == domain.OutcomeFail:
		return domain.StatusFail
	default:
		return domain.StatusActive
	}
}

// Button labels.
const (
	LabelDone     = "인증완료 🤲 내일 또 도전해주세요!"
	LabelActive   = "인증하기"
	LabelInactive = "지금은 인증 시간이 아니에요😥"
)

// ButtonLabel returns the certification button text for a status.
func ButtonLabel(s domain.Status) string {
	switch s {
	case domain.StatusDone:
		return LabelDone
	case domain.StatusActive:
		return LabelActive
	default:
		return LabelInactive
	}
}

// ApplyAutoFail marks certDate as failed when the window has ended and the
// day is still undecided. It reports whether stamps changed. Calling it again
// with the same inputs changes nothing.
func ApplyAutoFail(stamps domain.StampRecord, certDate int, w domain.Window, now time.Time) bool {
	if certDate <= 0 || !WindowEnded(now, w) {
		return false
	}
	if _, decided := stamps[certDate]; decided {
		return false
	}
	stamps[certDate] = domain.OutcomeFail
	return true
}
