package challenge

import (
	"strconv"
	"time"

	"github.com/dearie-app/dearie/internal/domain"
)

// Weekdays is the calendar header, starting on Sunday.
var Weekdays = []string{"일", "월", "화", "수", "목", "금", "토"}

// CellState is the visual state of a calendar day.
type CellState string

const (
	CellEmpty   CellState = "empty"
	CellSuccess CellState = "success"
	CellFail    CellState = "fail"
	CellToday   CellState = "today"
	CellFuture  CellState = "future"
)

// Day number colors.
const (
	ColorFail   = "#cccccc"
	ColorToday  = "#ff4187"
	ColorFuture = "#000000"
)

// Cell is one slot of the calendar grid.
type Cell struct {
	Day   int       `json:"day,omitempty"`
	State CellState `json:"state"`
	// NumberColor is empty when the day number is hidden.
	NumberColor string `json:"number_color,omitempty"`
	// Highlight marks the undecided target day, drawn without a white fill.
	Highlight bool `json:"highlight,omitempty"`
}

// Grid is the rendered calendar.
type Grid struct {
	MonthLabel string   `json:"month_label,omitempty"`
	Weekdays   []string `json:"weekdays"`
	Cells      []Cell   `json:"cells"`
}

// Render projects a month's stamps into calendar cells. Unfolded, it shows
// every day of the month after leading blanks up to the weekday of day 1.
// Folded, it shows only visibleDays after blanks up to the weekday of the
// first visible day.
func Render(year, month int, visibleDays []int, folded bool, stamps domain.StampRecord, certDate int) Grid {
	g := Grid{Weekdays: Weekdays}

	var days []int
	var lead int
	if folded {
		days = visibleDays
		if len(days) > 0 {
			lead = weekday(year, month, days[0])
		}
	} else {
		g.MonthLabel = strconv.Itoa(month) + "월"
		n := daysIn(year, month)
		days = make([]int, n)
		for i := range days {
			days[i] = i + 1
		}
		lead = weekday(year, month, 1)
	}

	g.Cells = make([]Cell, 0, lead+len(days))
	for i := 0; i < lead; i++ {
		g.Cells = append(g.Cells, Cell{State: CellEmpty})
	}
	for _, day := range days {
		g.Cells = append(g.Cells, renderCell(day, stamps, certDate))
	}
	return g
}

func renderCell(day int, stamps domain.StampRecord, certDate int) Cell {
	switch o, decided := stamps[day]; {
	case decided && o == domain.OutcomeSuccess:
		return Cell{Day: day, State: CellSuccess}
	case decided && o == domain.OutcomeFail:
		return Cell{Day: day, State: CellFail, NumberColor: ColorFail}
	case day == certDate:
		return Cell{Day: day, State: CellToday, NumberColor: ColorToday, Highlight: true}
	default:
		return Cell{Day: day, State: CellFuture, NumberColor: ColorFuture}
	}
}

func daysIn(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func weekday(year, month, day int) int {
	return int(time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC).Weekday())
}
