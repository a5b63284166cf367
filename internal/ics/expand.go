package ics

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	appLog "evcal/internal/log"
	"evcal/internal/model"
)

const defaultMaxOccurrencesPerEvent = 5000

// importNamespace seeds deterministic ids for imported occurrences so that
// importing the same feed twice yields the same ids.
var importNamespace = uuid.MustParse("6f1d8c2e-5b0a-4f57-9a43-2c1e7d0b8e51")

// ExpandConfig bounds an import.
type ExpandConfig struct {
	// Location is where occurrence days and times are taken. Defaults to
	// time.Local.
	Location *time.Location

	// Inclusive window for recurring events. Non-recurring events are
	// always kept.
	RangeStart time.Time
	RangeEnd   time.Time

	MaxOccurrencesPerEvent int
}

// ExpandImported turns parsed VEVENTs into concrete events. RRULEs are
// expanded inside the window, EXDATEs removed and RECURRENCE-ID overrides
// applied.
func ExpandImported(events []ParsedEvent, cfg ExpandConfig) ([]model.Event, error) {
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return nil, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	overrides := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.Recurrence != nil {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
		}
	}

	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if ev.Recurrence != nil {
			continue
		}
		if ev.RawRRule == "" {
			out = append(out, toEvent(ev, ev.Start, cfg.Location))
			continue
		}
		out = append(out, expandRecurring(ev, overrides[ev.UID], cfg)...)
	}
	return out, nil
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []model.Event {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	starts := set.Between(
		cfg.RangeStart.In(ev.Start.Location()),
		cfg.RangeEnd.In(ev.Start.Location()),
		true,
	)
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		appLog.Warn("expand: occurrences truncated", "uid", ev.UID, "cap", cfg.MaxOccurrencesPerEvent)
		starts = starts[:cfg.MaxOccurrencesPerEvent]
	}

	out := make([]model.Event, 0, len(starts))
	for _, start := range starts {
		src := ev
		for _, ov := range overrides {
			if ov.Recurrence.Equal(start) {
				src = ov
				break
			}
		}
		occ := toEvent(src, src.Start, cfg.Location)
		if src.Recurrence == nil {
			occ = toEvent(src, start, cfg.Location)
		}
		// Key on the series slot so an override keeps its id.
		occ.ID = instanceID(ev.UID, start)
		out = append(out, occ)
	}
	return out
}

func toEvent(ev ParsedEvent, start time.Time, loc *time.Location) model.Event {
	e := model.Event{
		ID:          instanceID(ev.UID, start),
		Title:       ev.Summary,
		Description: ev.Description,
	}
	if ev.AllDay {
		// All-day values carry no zone; keep the calendar day as written.
		e.Date = model.Midnight(start.Year(), start.Month(), start.Day(), loc)
		return e
	}
	local := start.In(loc)
	e.Date = model.StartOfDay(local)
	e.Time = local.Format(model.TimeLayout)
	return e
}

func instanceID(uid string, start time.Time) string {
	return uuid.NewSHA1(importNamespace, []byte(uid+"|"+start.UTC().Format(time.RFC3339))).String()
}

// Decode parses body and expands it in one step.
func Decode(sourceID string, body []byte, cfg ExpandConfig) ([]model.Event, error) {
	parsed, err := ParseICS(sourceID, body)
	if err != nil {
		return nil, err
	}
	return ExpandImported(parsed, cfg)
}
