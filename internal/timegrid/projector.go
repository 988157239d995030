// Package timegrid projects a view mode and anchor date into a concrete
// visible time window with header labels and a pixel scale factor. All
// functions are pure; navigation re-derives the projection from scratch
// so repeated prev/next never accumulates drift.
package timegrid

import (
	"fmt"
	"time"
)

// ViewMode selects the granularity of the visible window.
type ViewMode string

const (
	ModeDay   ViewMode = "day"
	ModeWeek  ViewMode = "week"
	ModeMonth ViewMode = "month"
)

// Known reports whether m is a supported view mode.
func (m ViewMode) Known() bool {
	return m == ModeDay || m == ModeWeek || m == ModeMonth
}

// Header is a single label cell in the timeline header, Units wide.
type Header struct {
	Label string  `json:"label"`
	Units float64 `json:"units"`
}

// Projection is the derived description of a visible window. It is the
// single source of truth for converting timestamps to horizontal
// offsets: every other component goes through Offset / UnitsPerMinute.
type Projection struct {
	Mode        ViewMode  `json:"mode"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`

	MainHeaders []Header `json:"main_headers"`
	SubHeaders  []Header `json:"sub_headers"`

	TotalWidthUnits float64 `json:"total_width_units"`
	UnitsPerMinute  float64 `json:"units_per_minute"`

	// NowOffsetUnits is only meaningful when NowVisible is true;
	// callers must suppress the "now" indicator otherwise.
	NowOffsetUnits float64 `json:"now_offset_units"`
	NowVisible     bool    `json:"now_visible"`
}

const (
	minutesPerHour = 60
	minutesPerDay  = 24 * 60

	// Day and week views place one width unit per hour; month view
	// places one unit per day.
	unitsPerMinuteHourly = 1.0 / minutesPerHour
	unitsPerMinuteDaily  = 1.0 / minutesPerDay
)

var weekdayLetters = [7]string{"S", "M", "T", "W", "T", "F", "S"}

// Project computes the visible window for a view mode and anchor date.
// Deterministic given identical inputs; no hidden state.
func Project(mode ViewMode, anchor, now time.Time) Projection {
	switch mode {
	case ModeWeek:
		return projectWeek(anchor, now)
	case ModeMonth:
		return projectMonth(anchor, now)
	default:
		return projectDay(anchor, now)
	}
}

func projectDay(anchor, now time.Time) Projection {
	start := StartOfDay(anchor)
	end := start.AddDate(0, 0, 1)

	p := Projection{
		Mode:           ModeDay,
		WindowStart:    start,
		WindowEnd:      end,
		UnitsPerMinute: unitsPerMinuteHourly,
		MainHeaders: []Header{
			{Label: start.Format("Mon, 02 Jan 2006"), Units: 24},
		},
		SubHeaders: hourHeaders(1),
	}
	finish(&p, now)
	return p
}

func projectWeek(anchor, now time.Time) Projection {
	start := StartOfWeek(anchor)
	end := start.AddDate(0, 0, 7)

	p := Projection{
		Mode:           ModeWeek,
		WindowStart:    start,
		WindowEnd:      end,
		UnitsPerMinute: unitsPerMinuteHourly,
		SubHeaders:     hourHeaders(7),
	}
	for d := 0; d < 7; d++ {
		day := start.AddDate(0, 0, d)
		p.MainHeaders = append(p.MainHeaders, Header{
			Label: day.Format("Mon 02"),
			Units: 24,
		})
	}
	finish(&p, now)
	return p
}

func projectMonth(anchor, now time.Time) Projection {
	start := StartOfMonth(anchor)
	end := start.AddDate(0, 1, 0)
	days := int(end.Sub(start).Hours() / 24)

	p := Projection{
		Mode:           ModeMonth,
		WindowStart:    start,
		WindowEnd:      end,
		UnitsPerMinute: unitsPerMinuteDaily,
	}
	for d := 0; d < days; d++ {
		day := start.AddDate(0, 0, d)
		p.MainHeaders = append(p.MainHeaders, Header{
			Label: fmt.Sprintf("%d", day.Day()),
			Units: 1,
		})
		p.SubHeaders = append(p.SubHeaders, Header{
			Label: weekdayLetters[int(day.Weekday())],
			Units: 1,
		})
	}
	finish(&p, now)
	return p
}

func finish(p *Projection, now time.Time) {
	p.TotalWidthUnits = p.WindowEnd.Sub(p.WindowStart).Minutes() * p.UnitsPerMinute
	if !now.Before(p.WindowStart) && !now.After(p.WindowEnd) {
		p.NowVisible = true
		p.NowOffsetUnits = p.Offset(now)
	}
}

func hourHeaders(days int) []Header {
	headers := make([]Header, 0, days*24)
	for d := 0; d < days; d++ {
		for h := 0; h < 24; h++ {
			headers = append(headers, Header{
				Label: fmt.Sprintf("%02d:00", h),
				Units: 1,
			})
		}
	}
	return headers
}

// Offset converts a timestamp to a horizontal offset in width units.
// Timestamps before the window start clamp to zero; the window is
// rendered left-truncated, never with negative offsets.
func (p *Projection) Offset(t time.Time) float64 {
	minutes := t.Sub(p.WindowStart).Minutes()
	if minutes < 0 {
		minutes = 0
	}
	return minutes * p.UnitsPerMinute
}

// Contains reports whether t falls inside the half-open visible window.
func (p *Projection) Contains(t time.Time) bool {
	return !t.Before(p.WindowStart) && t.Before(p.WindowEnd)
}

// Step moves the anchor by delta units of the view granularity.
// Prev/next navigation is Step(mode, anchor, -1) / Step(mode, anchor, 1).
func Step(mode ViewMode, anchor time.Time, delta int) time.Time {
	switch mode {
	case ModeWeek:
		return anchor.AddDate(0, 0, 7*delta)
	case ModeMonth:
		return anchor.AddDate(0, delta, 0)
	default:
		return anchor.AddDate(0, 0, delta)
	}
}

// StartOfDay truncates t to midnight in its location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// StartOfWeek returns the Monday midnight at or before t.
func StartOfWeek(t time.Time) time.Time {
	day := StartOfDay(t)
	offset := int(day.Weekday()) - int(time.Monday)
	if offset < 0 {
		offset += 7
	}
	return day.AddDate(0, 0, -offset)
}

// StartOfMonth returns the first day of t's month at midnight.
func StartOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
