package model

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTime is returned when an event time is neither empty nor "HH:MM".
var ErrInvalidTime = errors.New("time must be empty or HH:MM")

// TimeLayout is the wall-clock layout of Event.Time.
const TimeLayout = "15:04"

// DateKeyLayout is the layout used to address a calendar day in URLs,
// drop targets and logs.
const DateKeyLayout = "2006-01-02"

// Event is a single calendar entry. Date carries the day only; the
// time-of-day lives in Time so that an empty Time means "all day".
type Event struct {
	// ID is a stable surrogate identifier carried through the view layer.
	ID string `json:"id"`

	Title       string `json:"title"`
	Time        string `json:"time"`
	Description string `json:"description"`

	Date time.Time `json:"date"`
}

// NewID returns a fresh random event id.
func NewID() string {
	return uuid.NewString()
}

// Match is the structural identity used by the match-based store
// operations: two events match when they fall on the same calendar day
// and share title and time. A non-empty ID narrows the match to that
// one event.
type Match struct {
	ID    string
	Date  time.Time
	Title string
	Time  string
}

// MatchOf returns the structural identity of e.
func MatchOf(e Event) Match {
	return Match{Date: e.Date, Title: e.Title, Time: e.Time}
}

// ExactMatch is MatchOf pinned to e's id.
func ExactMatch(e Event) Match {
	m := MatchOf(e)
	m.ID = e.ID
	return m
}

// Matches reports whether e has the identity m.
func (m Match) Matches(e Event) bool {
	if m.ID != "" && m.ID != e.ID {
		return false
	}
	return SameDay(m.Date, e.Date) && m.Title == e.Title && m.Time == e.Time
}

// ValidateTime checks that t is empty or a valid 24h "HH:MM" value.
func ValidateTime(t string) error {
	if t == "" {
		return nil
	}
	if len(t) != len(TimeLayout) {
		return ErrInvalidTime
	}
	if _, err := time.Parse(TimeLayout, t); err != nil {
		return ErrInvalidTime
	}
	return nil
}

// Normalize trims the text fields and truncates Date to midnight in its
// own location.
func (e Event) Normalize() Event {
	e.Title = strings.TrimSpace(e.Title)
	e.Time = strings.TrimSpace(e.Time)
	e.Description = strings.TrimSpace(e.Description)
	e.Date = StartOfDay(e.Date)
	return e
}

// DateKey formats the event's day as "2006-01-02".
func (e Event) DateKey() string {
	return e.Date.Format(DateKeyLayout)
}

// StartOfDay returns the first instant of t's calendar day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return Midnight(y, m, d, t.Location())
}

// Midnight returns the first instant of the civil date y-m-d in loc.
// Out-of-range days and months are normalized as by time.Date.
//
// Where a clock change skips midnight (America/Santiago, America/Havana)
// time.Date resolves 00:00 into the previous day; the day then starts at
// the transition instant instead.
func Midnight(y int, m time.Month, d int, loc *time.Location) time.Time {
	// Normalize the civil date on UTC, which has no gaps.
	civil := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	y, m, d = civil.Date()

	t := time.Date(y, m, d, 0, 0, 0, 0, loc)
	if ty, tm, td := t.Date(); ty == y && tm == m && td == d {
		return t
	}
	start, _ := time.Date(y, m, d, 12, 0, 0, 0, loc).ZoneBounds()
	return start.In(loc)
}

// SameDay reports whether a and b fall on the same calendar date, compared
// in a's location.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.In(a.Location()).Date()
	return ay == by && am == bm && ad == bd
}

// AddDays returns the start of the calendar day n days after t's day, in
// t's location. Stepping is done on the civil date, so days skipped or
// repeated by clock changes never shift the result.
func AddDays(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	return Midnight(y, m, d+n, t.Location())
}

// RecurrenceType names how an event repeats.
type RecurrenceType string

const (
	RecurNone    RecurrenceType = "none"
	RecurDaily   RecurrenceType = "daily"
	RecurWeekly  RecurrenceType = "weekly"
	RecurMonthly RecurrenceType = "monthly"
	RecurCustom  RecurrenceType = "custom"
)

// RecurrenceRule asks for Count occurrences, Interval days apart.
// Interval is only read for RecurCustom; the other types imply it.
type RecurrenceRule struct {
	Type     RecurrenceType `json:"type"`
	Count    int            `json:"count"`
	Interval int            `json:"interval,omitempty"`
}

// ViewMode selects the grid shape.
type ViewMode string

const (
	ViewMonth ViewMode = "month"
	ViewWeek  ViewMode = "week"
)

// DayCell is one square of the calendar grid. It is derived, never stored.
type DayCell struct {
	Date           time.Time `json:"date"`
	IsCurrentMonth bool      `json:"is_current_month"`
}
