package domain

import (
	"encoding/json"
	"sort"
	"strconv"
)

// Outcome is the recorded result of a single day's certification.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFail    Outcome = "fail"
)

// Valid reports whether o is one of the known outcomes.
func (o Outcome) Valid() bool {
	return o == OutcomeSuccess || o == OutcomeFail
}

// StampRecord maps day-of-month to outcome. A missing day is undecided.
type StampRecord map[int]Outcome

// Clone returns a copy of the record.
func (r StampRecord) Clone() StampRecord {
	out := make(StampRecord, len(r))
	for day, o := range r {
		out[day] = o
	}
	return out
}

// Days returns the recorded days in ascending order.
func (r StampRecord) Days() []int {
	days := make([]int, 0, len(r))
	for day := range r {
		days = append(days, day)
	}
	sort.Ints(days)
	return days
}

// MarshalJSON encodes the record as an object keyed by day number.
func (r StampRecord) MarshalJSON() ([]byte, error) {
	raw := make(map[string]Outcome, len(r))
	for day, o := range r {
		raw[strconv.Itoa(day)] = o
	}
	return json.Marshal(raw)
}

// UnmarshalJSON decodes an object keyed by day number. Entries with a
// non-numeric day or an unknown outcome are dropped.
func (r *StampRecord) UnmarshalJSON(data []byte) error {
	var raw map[string]Outcome
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(StampRecord, len(raw))
	for key, o := range raw {
		day, err := strconv.Atoi(key)
		if err != nil || day <= 0 || !o.Valid() {
			continue
		}
		out[day] = o
	}
	*r = out
	return nil
}

// Window is a daily certification interval in whole hours. It wraps past
// midnight when StartHour >= EndHour.
type Window struct {
	StartHour int `json:"start_hour"`
	EndHour   int `json:"end_hour"`
}

// Wraps reports whether the window spans midnight.
func (w Window) Wraps() bool {
	return w.StartHour >= w.EndHour
}

// Valid reports whether both bounds are in [0,24).
func (w Window) Valid() bool {
	return w.StartHour >= 0 && w.StartHour < 24 && w.EndHour >= 0 && w.EndHour < 24
}

// Status is the derived certification state of the target day.
type Status string

const (
	StatusActive Status = "active"
	StatusDone   Status = "done"
	StatusFail   Status = "fail"
)

// Category labels an artist key for the confirmation message.
type Category struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}
