package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	"evcal/internal/model"
)

const productID = "-//evcal//Event Calendar//EN"

// Export renders events as a VCALENDAR. Timed events get a one-hour slot;
// events without a time are all-day.
func Export(events []model.Event, name string, now time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}

	for _, e := range events {
		ve := cal.AddEvent(e.ID)
		ve.SetDtStampTime(now.UTC())
		ve.SetSummary(e.Title)
		if e.Description != "" {
			ve.SetDescription(e.Description)
		}

		start, timed := StartOf(e)
		if !timed {
			ve.SetAllDayStartAt(start)
			ve.SetAllDayEndAt(model.AddDays(start, 1))
			continue
		}
		ve.SetStartAt(start)
		ve.SetEndAt(start.Add(time.Hour))
	}

	return cal.Serialize()
}

// StartOf combines an event's day and time. timed is false when the event
// has no time.
func StartOf(e model.Event) (start time.Time, timed bool) {
	day := model.StartOfDay(e.Date)
	if e.Time == "" {
		return day, false
	}
	hm, err := time.Parse(model.TimeLayout, e.Time)
	if err != nil {
		return day, false
	}
	return day.Add(time.Duration(hm.Hour())*time.Hour + time.Duration(hm.Minute())*time.Minute), true
}
