package calendar_test

import (
	"context"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"evcal/internal/blob"
	"evcal/internal/calendar"
	"evcal/internal/model"
	"evcal/internal/schedule"
	"evcal/internal/store"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type fixture struct {
	blobs *blob.MemoryStore
	store *store.EventStore
	ctrl  *calendar.Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := blob.NewMemoryStore()
	s := store.New(b, store.Options{Location: time.UTC})
	s.Load(context.Background())
	c := calendar.New(s, calendar.Options{
		Location: time.UTC,
		Now:      func() time.Time { return time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC) },
	})
	return &fixture{blobs: b, store: s, ctrl: c}
}

func (f *fixture) save(t *testing.T, title, tm string, d time.Time) calendar.SaveResult {
	t.Helper()
	res, err := f.ctrl.SaveEvent(context.Background(), model.Event{Title: title, Time: tm, Date: d}, nil)
	if err != nil {
		t.Fatalf("SaveEvent(%s): %v", title, err)
	}
	return res
}

func (f *fixture) reload(t *testing.T) []model.Event {
	t.Helper()
	s := store.New(f.blobs, store.Options{Location: time.UTC})
	s.Load(context.Background())
	return s.Events()
}

func TestCreateConflictIsAdvisory(t *testing.T) {
	f := newFixture(t)

	first := f.save(t, "Standup", "09:00", day(2024, 5, 1))
	if first.Warning != "" {
		t.Errorf("first save warning = %q", first.Warning)
	}

	second := f.save(t, "Sync", "09:00", day(2024, 5, 1))
	if second.Warning != calendar.WarnEventConflict {
		t.Errorf("second save warning = %q, want %q", second.Warning, calendar.WarnEventConflict)
	}
	if f.ctrl.Warning() != calendar.WarnEventConflict {
		t.Errorf("controller warning = %q", f.ctrl.Warning())
	}

	got := f.reload(t)
	if len(got) != 2 {
		t.Fatalf("stored %d events, want 2", len(got))
	}
	if got[0].Title != "Standup" || got[1].Title != "Sync" {
		t.Errorf("order = %q, %q", got[0].Title, got[1].Title)
	}
}

func TestEditConflictIsHardBlock(t *testing.T) {
	f := newFixture(t)
	standup := f.save(t, "Standup", "08:30", day(2024, 5, 1)).Events[0]
	f.save(t, "Sync", "09:00", day(2024, 5, 1))
	before := f.store.Events()

	f.ctrl.OpenDay(day(2024, 5, 1))
	_, err := f.ctrl.EditEvent(context.Background(), standup.ID, calendar.EventFields{Title: "Standup", Time: "09:00"})
	if !errors.Is(err, calendar.ErrConflict) {
		t.Fatalf("EditEvent err = %v, want ErrConflict", err)
	}
	if f.ctrl.Warning() != calendar.WarnEditConflict {
		t.Errorf("warning = %q", f.ctrl.Warning())
	}
	if _, ok := f.ctrl.Selected(); !ok {
		t.Error("day closed after rejected edit")
	}

	after := f.store.Events()
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("event %d changed: %+v -> %+v", i, before[i], after[i])
		}
	}
	if got := f.reload(t); got[0].Time != "08:30" {
		t.Errorf("persisted time = %q, want 08:30", got[0].Time)
	}
}

func TestEditSucceeds(t *testing.T) {
	f := newFixture(t)
	standup := f.save(t, "Standup", "08:30", day(2024, 5, 1)).Events[0]
	f.save(t, "Sync", "09:00", day(2024, 5, 1))

	updated, err := f.ctrl.EditEvent(context.Background(), standup.ID, calendar.EventFields{
		Title:       "Standup",
		Time:        "10:00",
		Description: "moved later",
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.ID != standup.ID || !updated.Date.Equal(standup.Date) {
		t.Errorf("edit changed identity: %+v", updated)
	}
	got := f.reload(t)
	if got[0].Time != "10:00" || got[0].Description != "moved later" {
		t.Errorf("persisted = %+v", got[0])
	}
}

func TestEditKeepingOwnTimeIsNotConflict(t *testing.T) {
	f := newFixture(t)
	ev := f.save(t, "Standup", "09:00", day(2024, 5, 1)).Events[0]

	if _, err := f.ctrl.EditEvent(context.Background(), ev.ID, calendar.EventFields{Title: "Daily standup", Time: "09:00"}); err != nil {
		t.Fatalf("EditEvent: %v", err)
	}
}

func TestMoveConflictIsRejected(t *testing.T) {
	f := newFixture(t)
	review := f.save(t, "Review", "14:00", day(2024, 5, 2)).Events[0]
	f.save(t, "Planning", "14:00", day(2024, 5, 3))
	before := f.store.Events()

	_, err := f.ctrl.MoveEvent(context.Background(), review.ID, day(2024, 5, 3))
	if !errors.Is(err, calendar.ErrConflict) {
		t.Fatalf("MoveEvent err = %v, want ErrConflict", err)
	}
	if f.ctrl.Warning() != calendar.WarnMoveConflict {
		t.Errorf("warning = %q", f.ctrl.Warning())
	}
	after := f.store.Events()
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("event %d changed", i)
		}
	}
}

func TestMoveSucceeds(t *testing.T) {
	f := newFixture(t)
	review := f.save(t, "Review", "14:00", day(2024, 5, 2)).Events[0]
	f.save(t, "Planning", "15:00", day(2024, 5, 3))

	moved, err := f.ctrl.MoveEvent(context.Background(), review.ID, time.Date(2024, 5, 3, 17, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if !moved.Date.Equal(day(2024, 5, 3)) {
		t.Errorf("moved date = %s", moved.Date)
	}
	got := f.reload(t)
	if got[0].ID != review.ID || !got[0].Date.Equal(day(2024, 5, 3)) {
		t.Errorf("persisted = %+v", got[0])
	}
}

func TestMoveUnknownID(t *testing.T) {
	f := newFixture(t)
	if _, err := f.ctrl.MoveEvent(context.Background(), "missing", day(2024, 5, 3)); !errors.Is(err, calendar.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteEvent(t *testing.T) {
	f := newFixture(t)
	a := f.save(t, "Dup", "08:00", day(2024, 5, 1)).Events[0]
	b := f.save(t, "Dup", "08:00", day(2024, 5, 1)).Events[0]

	if err := f.ctrl.DeleteEvent(context.Background(), b.ID); err != nil {
		t.Fatal(err)
	}
	got := f.reload(t)
	if len(got) != 1 || got[0].ID != a.ID {
		t.Errorf("after delete = %+v", got)
	}
	if err := f.ctrl.DeleteEvent(context.Background(), b.ID); !errors.Is(err, calendar.ErrNotFound) {
		t.Errorf("second delete err = %v", err)
	}
}

func TestSaveRecurringWarnsOnceAndStoresAll(t *testing.T) {
	f := newFixture(t)
	f.save(t, "Yoga", "07:00", day(2024, 5, 4))

	res, err := f.ctrl.SaveEvent(context.Background(),
		model.Event{Title: "Gym", Time: "07:00", Date: day(2024, 5, 1)},
		&model.RecurrenceRule{Type: model.RecurCustom, Interval: 3, Count: 3},
	)
	if err != nil {
		t.Fatal(err)
	}
	if res.Warning != calendar.WarnRecurringConflict {
		t.Errorf("warning = %q", res.Warning)
	}
	if len(res.Events) != 3 {
		t.Fatalf("occurrences = %d", len(res.Events))
	}
	want := []time.Time{day(2024, 5, 1), day(2024, 5, 4), day(2024, 5, 7)}
	for i, occ := range res.Events {
		if !occ.Date.Equal(want[i]) {
			t.Errorf("occurrence %d = %s, want %s", i, occ.Date, want[i])
		}
	}
	if n := len(f.reload(t)); n != 4 {
		t.Errorf("stored %d events, want 4", n)
	}
}

func TestSaveValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.ctrl.SaveEvent(ctx, model.Event{Title: "No day"}, nil); !errors.Is(err, calendar.ErrNoDaySelected) {
		t.Errorf("no date err = %v", err)
	}
	if _, err := f.ctrl.SaveEvent(ctx, model.Event{Title: "  ", Date: day(2024, 5, 1)}, nil); !errors.Is(err, calendar.ErrEmptyTitle) {
		t.Errorf("blank title err = %v", err)
	}
	if _, err := f.ctrl.SaveEvent(ctx, model.Event{Title: "x", Time: "9am", Date: day(2024, 5, 1)}, nil); !errors.Is(err, model.ErrInvalidTime) {
		t.Errorf("bad time err = %v", err)
	}
	bad := &model.RecurrenceRule{Type: model.RecurCustom, Interval: 0, Count: 2}
	if _, err := f.ctrl.SaveEvent(ctx, model.Event{Title: "x", Date: day(2024, 5, 1)}, bad); !errors.Is(err, schedule.ErrInvalidRule) {
		t.Errorf("bad rule err = %v", err)
	}
	if f.store.Len() != 0 {
		t.Errorf("store has %d events after rejected saves", f.store.Len())
	}

	f.ctrl.OpenDay(day(2024, 5, 9))
	res, err := f.ctrl.SaveEvent(ctx, model.Event{Title: "Selected day"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Events[0].Date.Equal(day(2024, 5, 9)) {
		t.Errorf("date = %s, want selected day", res.Events[0].Date)
	}
}

func TestNavigateAndToggle(t *testing.T) {
	f := newFixture(t)
	start := f.ctrl.Reference()
	if !start.Equal(day(2024, 5, 15)) {
		t.Fatalf("initial reference = %s", start)
	}

	f.ctrl.Navigate(calendar.Next)
	if want := day(2024, 6, 14); !f.ctrl.Reference().Equal(want) {
		t.Errorf("month next = %s, want %s", f.ctrl.Reference(), want)
	}
	f.ctrl.Navigate(calendar.Prev)
	if !f.ctrl.Reference().Equal(start) {
		t.Errorf("month prev = %s", f.ctrl.Reference())
	}

	f.ctrl.ToggleView()
	if f.ctrl.Mode() != model.ViewWeek || !f.ctrl.Reference().Equal(start) {
		t.Errorf("toggle: mode=%s ref=%s", f.ctrl.Mode(), f.ctrl.Reference())
	}
	f.ctrl.Navigate(calendar.Prev)
	if want := day(2024, 5, 8); !f.ctrl.Reference().Equal(want) {
		t.Errorf("week prev = %s, want %s", f.ctrl.Reference(), want)
	}
	f.ctrl.ToggleView()
	if f.ctrl.Mode() != model.ViewMonth {
		t.Errorf("mode = %s", f.ctrl.Mode())
	}
}

func TestCloseDayClearsWarning(t *testing.T) {
	f := newFixture(t)
	f.ctrl.OpenDay(day(2024, 5, 1))
	f.save(t, "Standup", "09:00", day(2024, 5, 1))
	f.save(t, "Sync", "09:00", day(2024, 5, 1))
	if f.ctrl.Warning() == "" {
		t.Fatal("expected a warning")
	}

	f.ctrl.CloseDay()
	if f.ctrl.Warning() != "" {
		t.Errorf("warning after close = %q", f.ctrl.Warning())
	}
	if _, ok := f.ctrl.Selected(); ok {
		t.Error("day still selected")
	}
}

func TestVisibleEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ctrl.SaveEvent(ctx, model.Event{Title: "Standup", Date: day(2024, 5, 1)}, nil)
	f.ctrl.SaveEvent(ctx, model.Event{Title: "Lunch", Description: "with the TEAM", Date: day(2024, 5, 1)}, nil)
	f.ctrl.SaveEvent(ctx, model.Event{Title: "Team offsite", Date: day(2024, 5, 2)}, nil)

	if got := f.ctrl.VisibleEvents(day(2024, 5, 1), ""); len(got) != 2 {
		t.Errorf("empty search = %d events, want 2", len(got))
	}
	got := f.ctrl.VisibleEvents(day(2024, 5, 1), "team")
	if len(got) != 1 || got[0].Title != "Lunch" {
		t.Errorf("search team = %+v", got)
	}
	if got := f.ctrl.VisibleEvents(day(2024, 5, 1), "STAND"); len(got) != 1 {
		t.Errorf("search STAND = %d events", len(got))
	}
}

func TestView(t *testing.T) {
	f := newFixture(t)
	f.save(t, "Standup", "09:00", day(2024, 5, 15))
	f.ctrl.OpenDay(day(2024, 5, 15))

	vs := f.ctrl.View()
	if vs.Heading != "May 2024" {
		t.Errorf("heading = %q", vs.Heading)
	}
	if len(vs.Weeks) != 5 {
		t.Errorf("weeks = %d, want 5", len(vs.Weeks))
	}
	var today *calendar.DayView
	for wi := range vs.Weeks {
		for di := range vs.Weeks[wi] {
			if vs.Weeks[wi][di].IsToday {
				today = &vs.Weeks[wi][di]
			}
		}
	}
	if today == nil || today.Key != "2024-05-15" || len(today.Events) != 1 {
		t.Errorf("today cell = %+v", today)
	}
	if vs.Selected == nil || len(vs.SelectedEvents) != 1 {
		t.Errorf("selected = %v events=%d", vs.Selected, len(vs.SelectedEvents))
	}

	f.ctrl.SetSearch("nomatch")
	vs = f.ctrl.View()
	for _, w := range vs.Weeks {
		for _, d := range w {
			if len(d.Events) != 0 {
				t.Errorf("%s shows %d events with non-matching search", d.Key, len(d.Events))
			}
		}
	}
}

func TestImportSkipsKnownIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := []model.Event{
		{ID: "feed-1", Title: "Holiday", Date: day(2024, 5, 27)},
		{ID: "feed-2", Title: "Release", Time: "12:00", Date: day(2024, 5, 28)},
		{ID: "feed-3", Title: "", Date: day(2024, 5, 29)},
	}
	n, err := f.ctrl.Import(ctx, in)
	if err != nil || n != 2 {
		t.Fatalf("first import n=%d err=%v", n, err)
	}
	n, err = f.ctrl.Import(ctx, in)
	if err != nil || n != 0 {
		t.Errorf("second import n=%d err=%v", n, err)
	}
	if f.store.Len() != 2 {
		t.Errorf("store len = %d", f.store.Len())
	}
}

func TestUnknownIDLeavesStoreUntouched(t *testing.T) {
	f := newFixture(t)
	f.save(t, "Keep", "08:00", day(2024, 5, 1))
	before, _, _ := f.blobs.Get(context.Background(), store.DefaultKey)

	if err := f.ctrl.DeleteEvent(context.Background(), "missing"); !errors.Is(err, calendar.ErrNotFound) {
		t.Errorf("delete err = %v", err)
	}
	if _, err := f.ctrl.EditEvent(context.Background(), "missing", calendar.EventFields{Title: "x"}); !errors.Is(err, calendar.ErrNotFound) {
		t.Errorf("edit err = %v", err)
	}
	if _, err := f.ctrl.MoveEvent(context.Background(), "missing", day(2024, 5, 2)); !errors.Is(err, calendar.ErrNotFound) {
		t.Errorf("move err = %v", err)
	}

	after, _, _ := f.blobs.Get(context.Background(), store.DefaultKey)
	if string(before) != string(after) || f.store.Len() != 1 {
		t.Error("addressing miss changed the store")
	}
	if f.ctrl.Warning() != "" {
		t.Errorf("warning = %q", f.ctrl.Warning())
	}
}

func TestSaveOnDayWithoutMidnight(t *testing.T) {
	loc, err := time.LoadLocation("America/Santiago")
	if err != nil {
		t.Fatal(err)
	}
	b := blob.NewMemoryStore()
	s := store.New(b, store.Options{Location: loc})
	s.Load(context.Background())
	c := calendar.New(s, calendar.Options{
		Location: loc,
		Now:      func() time.Time { return time.Date(2024, 9, 15, 10, 0, 0, 0, loc) },
	})

	res, err := c.SaveEvent(context.Background(), model.Event{
		Title: "Fiestas",
		Time:  "10:00",
		Date:  time.Date(2024, 9, 8, 12, 0, 0, 0, loc),
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := res.Events[0].DateKey(); got != "2024-09-08" {
		t.Fatalf("date key = %s, want 2024-09-08", got)
	}

	if got := c.DayEvents(time.Date(2024, 9, 8, 20, 0, 0, 0, loc)); len(got) != 1 {
		t.Errorf("events on 09-08 = %d, want 1", len(got))
	}
	if got := c.DayEvents(time.Date(2024, 9, 7, 20, 0, 0, 0, loc)); len(got) != 0 {
		t.Errorf("event leaked onto 09-07: %+v", got)
	}

	reloaded := store.New(b, store.Options{Location: loc})
	reloaded.Load(context.Background())
	if evs := reloaded.Events(); len(evs) != 1 || evs[0].DateKey() != "2024-09-08" {
		t.Errorf("reloaded = %+v", evs)
	}

	found := false
	for _, week := range c.View().Weeks {
		for _, d := range week {
			if d.Key == "2024-09-08" && len(d.Events) == 1 {
				found = true
			}
		}
	}
	if !found {
		t.Error("grid cell 2024-09-08 does not show the event")
	}
}
