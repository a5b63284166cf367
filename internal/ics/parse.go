package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "evcal/internal/log"
)

// ParsedEvent is one VEVENT as read from a feed, before recurrence
// expansion.
type ParsedEvent struct {
	SourceID string

	UID         string
	Summary     string
	Description string

	Start  time.Time
	AllDay bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID, set on overrides
}

// ParseICS reads every VEVENT of body. Events that cannot be read are
// logged and skipped.
func ParseICS(sourceID string, body []byte) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "source", sourceID)
		return nil, err
	}

	events := make([]ParsedEvent, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(sourceID, comp)
		if perr != nil {
			appLog.Error("ics vevent skipped", perr, "source", sourceID)
			continue
		}
		events = append(events, ev)
	}

	appLog.Info("ics parse completed", "source", sourceID, "event_count", len(events))
	return events, nil
}

func parseVEvent(sourceID string, ve *ical.VEvent) (ParsedEvent, error) {
	out := ParsedEvent{SourceID: sourceID}

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if strings.TrimSpace(out.Summary) == "" {
		return out, errors.New("missing SUMMARY")
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, errors.New("missing DTSTART")
	}
	// VALUE=DATE or a bare YYYYMMDD value means all-day.
	if vs, ok := dtStart.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		out.AllDay = true
	}
	if !strings.Contains(dtStart.Value, "T") {
		out.AllDay = true
	}

	var start time.Time
	var err error
	if out.AllDay {
		start, err = ve.GetAllDayStartAt()
	} else {
		start, err = ve.GetStartAt()
	}
	if err != nil {
		return out, err
	}
	out.Start = start

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(part); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if rid := ve.GetProperty("RECURRENCE-ID"); rid != nil {
		if t, err := parseICSTime(rid.Value); err == nil {
			out.Recurrence = &t
		}
	}

	return out, nil
}

// parseICSTime handles the three bare DATE / DATE-TIME forms found in
// EXDATE and RECURRENCE-ID values.
func parseICSTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, time.Local)
	default:
		return time.ParseInLocation("20060102", v, time.Local)
	}
}
