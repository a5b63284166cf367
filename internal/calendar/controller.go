package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"

	appLog "evcal/internal/log"
	"evcal/internal/metrics"
	"evcal/internal/model"
	"evcal/internal/schedule"
	"evcal/internal/store"
)

var (
	ErrConflict      = errors.New("scheduling conflict")
	ErrNotFound      = errors.New("event not found")
	ErrEmptyTitle    = errors.New("title is required")
	ErrNoDaySelected = errors.New("no day selected")
)

// User-facing warnings.
const (
	WarnEventConflict     = "Warning: Event conflict detected."
	WarnRecurringConflict = "Warning: Recurring event conflict detected."
	WarnEditConflict      = "Event conflict: Another event is already scheduled at this time."
	WarnMoveConflict      = "Conflict detected! Cannot move event."
)

// Fixed navigation steps in days. A "month" step is 30 days, not a
// calendar-month rollover.
const (
	weekStep  = 7
	monthStep = 30
)

// Direction of a navigation step.
type Direction int

const (
	Prev Direction = -1
	Next Direction = 1
)

// Controller owns the event store and the view state of one calendar
// screen. Operations run to completion synchronously; it is not safe for
// concurrent use.
type Controller struct {
	store     *store.EventStore
	loc       *time.Location
	weekStart time.Weekday
	now       func() time.Time
	metrics   *metrics.Metrics

	ref      time.Time
	mode     model.ViewMode
	selected *time.Time
	warning  string
	search   string
}

// Options tune a Controller. Zero values give a Sunday-first month view
// anchored on today in time.Local.
type Options struct {
	Location  *time.Location
	WeekStart time.Weekday
	Mode      model.ViewMode
	Now       func() time.Time
	Metrics   *metrics.Metrics
}

// New builds a Controller on an already loaded store.
func New(s *store.EventStore, opts Options) *Controller {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Mode == "" {
		opts.Mode = model.ViewMonth
	}
	c := &Controller{
		store:     s,
		loc:       opts.Location,
		weekStart: opts.WeekStart,
		now:       opts.Now,
		metrics:   opts.Metrics,
		mode:      opts.Mode,
	}
	c.ref = c.today()
	return c
}

func (c *Controller) today() time.Time {
	return model.StartOfDay(c.now().In(c.loc))
}

func (c *Controller) day(t time.Time) time.Time {
	return model.StartOfDay(t.In(c.loc))
}

// Reference is the date anchoring the current grid.
func (c *Controller) Reference() time.Time { return c.ref }

func (c *Controller) Mode() model.ViewMode { return c.mode }

// Warning is the pending conflict warning, "" when none.
func (c *Controller) Warning() string { return c.warning }

// Selected returns the day open for editing.
func (c *Controller) Selected() (time.Time, bool) {
	if c.selected == nil {
		return time.Time{}, false
	}
	return *c.selected, true
}

func (c *Controller) Search() string { return c.search }

func (c *Controller) SetSearch(text string) { c.search = text }

func (c *Controller) WeekStart() time.Weekday { return c.weekStart }

func (c *Controller) Location() *time.Location { return c.loc }

// Navigate moves the reference date 7 days in week mode or 30 days in
// month mode.
func (c *Controller) Navigate(dir Direction) {
	step := monthStep
	if c.mode == model.ViewWeek {
		step = weekStep
	}
	c.ref = model.AddDays(c.ref, int(dir)*step)
	appLog.Debug("calendar: navigate", "mode", c.mode, "ref", c.ref.Format(model.DateKeyLayout))
}

// ToggleView flips month/week, keeping the reference date.
func (c *Controller) ToggleView() {
	if c.mode == model.ViewWeek {
		c.mode = model.ViewMonth
	} else {
		c.mode = model.ViewWeek
	}
}

// GoTo sets the reference date.
func (c *Controller) GoTo(d time.Time) {
	c.ref = c.day(d)
}

// Today resets the reference date to the current day.
func (c *Controller) Today() {
	c.ref = c.today()
}

// OpenDay selects d for editing and clears any pending warning.
func (c *Controller) OpenDay(d time.Time) {
	d = c.day(d)
	c.selected = &d
	c.warning = ""
}

// CloseDay clears the selection and any pending warning.
func (c *Controller) CloseDay() {
	c.selected = nil
	c.warning = ""
}

// SaveResult reports what SaveEvent stored.
type SaveResult struct {
	Events  []model.Event
	Warning string
}

// SaveEvent stores ev, expanded by rule when rule is recurring. Conflicts
// are advisory: every occurrence is stored and a single warning is set.
// A zero ev.Date falls back to the selected day.
func (c *Controller) SaveEvent(ctx context.Context, ev model.Event, rule *model.RecurrenceRule) (SaveResult, error) {
	ev, err := c.prepare(ev)
	if err != nil {
		return SaveResult{}, err
	}
	if err := schedule.Validate(rule); err != nil {
		return SaveResult{}, err
	}
	c.warning = ""

	pool := c.store.Events()
	var occurrences []model.Event

	if schedule.IsRecurring(rule) {
		occurrences, err = schedule.Expand(ev, rule)
		if err != nil {
			return SaveResult{}, err
		}
		for _, occ := range occurrences {
			if schedule.HasConflict(occ, pool, schedule.NoExclude) {
				c.warning = WarnRecurringConflict
				c.metrics.Conflict("recurring")
			}
		}
	} else {
		if schedule.HasConflict(ev, pool, schedule.NoExclude) {
			c.warning = WarnEventConflict
			c.metrics.Conflict("create")
		}
		occurrences = []model.Event{ev}
	}

	if c.warning != "" {
		appLog.Info("calendar: saving despite conflict",
			"title", ev.Title,
			"date", ev.DateKey(),
			"time", ev.Time,
			"occurrences", len(occurrences),
		)
	}

	if err := c.store.Append(ctx, occurrences...); err != nil {
		return SaveResult{Events: occurrences, Warning: c.warning}, err
	}
	return SaveResult{Events: occurrences, Warning: c.warning}, nil
}

func (c *Controller) prepare(ev model.Event) (model.Event, error) {
	if ev.Date.IsZero() {
		sel, ok := c.Selected()
		if !ok {
			return model.Event{}, ErrNoDaySelected
		}
		ev.Date = sel
	}
	ev.Date = c.day(ev.Date)
	ev = ev.Normalize()
	if ev.Title == "" {
		return model.Event{}, ErrEmptyTitle
	}
	if err := model.ValidateTime(ev.Time); err != nil {
		return model.Event{}, err
	}
	if ev.ID == "" {
		ev.ID = model.NewID()
	}
	return ev, nil
}

// EventFields are the user-editable parts of an event.
type EventFields struct {
	Title       string `json:"title"`
	Time        string `json:"time"`
	Description string `json:"description"`
}

// EditEvent updates title, time and description of the event with id.
// A clash with another event of the same day is a hard block: the store
// is left untouched, the warning is set and ErrConflict is returned.
func (c *Controller) EditEvent(ctx context.Context, id string, f EventFields) (model.Event, error) {
	idx := c.store.IndexOf(id)
	if idx < 0 {
		return model.Event{}, ErrNotFound
	}
	old, _ := c.store.At(idx)

	updated := old
	updated.Title = f.Title
	updated.Time = f.Time
	updated.Description = f.Description
	updated, err := c.prepare(updated)
	if err != nil {
		return model.Event{}, err
	}

	dayEvents := c.store.OnDay(old.Date)
	self := schedule.NoExclude
	for i, e := range dayEvents {
		if e.ID == id {
			self = i
			break
		}
	}
	if schedule.HasConflict(updated, dayEvents, self) {
		c.warning = WarnEditConflict
		c.metrics.Conflict("edit")
		appLog.Info("calendar: edit rejected by conflict", "id", id, "date", old.DateKey(), "time", updated.Time)
		return model.Event{}, ErrConflict
	}

	c.warning = ""
	if _, err := c.store.Replace(ctx, model.ExactMatch(old), updated); err != nil {
		return updated, err
	}
	return updated, nil
}

// DeleteEvent removes the event with id.
func (c *Controller) DeleteEvent(ctx context.Context, id string) error {
	idx := c.store.IndexOf(id)
	if idx < 0 {
		return ErrNotFound
	}
	ev, _ := c.store.At(idx)
	_, err := c.store.Remove(ctx, model.ExactMatch(ev))
	return err
}

// MoveEvent reschedules the event with id onto newDate. A clash anywhere
// in the store rejects the move with ErrConflict.
func (c *Controller) MoveEvent(ctx context.Context, id string, newDate time.Time) (model.Event, error) {
	idx := c.store.IndexOf(id)
	if idx < 0 {
		return model.Event{}, ErrNotFound
	}
	ev, _ := c.store.At(idx)
	candidate := ev
	candidate.Date = c.day(newDate)

	if schedule.HasConflict(candidate, c.store.Events(), idx) {
		c.warning = WarnMoveConflict
		c.metrics.Conflict("move")
		appLog.Info("calendar: move rejected by conflict",
			"id", id,
			"from", ev.DateKey(),
			"to", candidate.DateKey(),
			"time", ev.Time,
		)
		return model.Event{}, fmt.Errorf("%w: %s at %s", ErrConflict, candidate.DateKey(), candidate.Time)
	}

	if _, err := c.store.SetAt(ctx, idx, candidate); err != nil {
		return candidate, err
	}
	return candidate, nil
}

// Event returns the event with id.
func (c *Controller) Event(id string) (model.Event, bool) {
	idx := c.store.IndexOf(id)
	if idx < 0 {
		return model.Event{}, false
	}
	return c.store.At(idx)
}

// Events returns every stored event in store order.
func (c *Controller) Events() []model.Event {
	return c.store.Events()
}

// DayEvents lists every event on d, unfiltered.
func (c *Controller) DayEvents(d time.Time) []model.Event {
	return c.store.OnDay(c.day(d))
}

// VisibleEvents returns the events on d whose title or description
// contains search, ignoring case. An empty search matches everything.
func (c *Controller) VisibleEvents(d time.Time, search string) []model.Event {
	all := c.store.OnDay(c.day(d))
	if search == "" {
		return all
	}
	needle := fold(search)
	out := make([]model.Event, 0, len(all))
	for _, e := range all {
		if strings.Contains(fold(e.Title), needle) || strings.Contains(fold(e.Description), needle) {
			out = append(out, e)
		}
	}
	return out
}

func fold(s string) string {
	return cases.Fold().String(s)
}

// Import appends events whose id is not yet stored. Conflicts are
// advisory, as for SaveEvent.
func (c *Controller) Import(ctx context.Context, events []model.Event) (int, error) {
	pool := c.store.Events()
	seen := make(map[string]bool, len(pool))
	for _, e := range pool {
		seen[e.ID] = true
	}

	c.warning = ""
	fresh := make([]model.Event, 0, len(events))
	for _, in := range events {
		ev, err := c.prepare(in)
		if err != nil {
			appLog.Debug("calendar: skipping imported event", "title", in.Title, "reason", err.Error())
			continue
		}
		if seen[ev.ID] {
			continue
		}
		seen[ev.ID] = true
		if schedule.HasConflict(ev, pool, schedule.NoExclude) {
			c.warning = WarnEventConflict
			c.metrics.Conflict("import")
		}
		fresh = append(fresh, ev)
	}

	if err := c.store.Append(ctx, fresh...); err != nil {
		return 0, err
	}
	appLog.Info("calendar: import finished", "received", len(events), "added", len(fresh))
	return len(fresh), nil
}
