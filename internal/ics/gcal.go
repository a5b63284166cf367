package ics

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"evcal/internal/model"
)

const googleCalendarBase = "https://calendar.google.com/calendar/render"

// GoogleCalendarURL builds an "add to Google Calendar" link. Events
// without a time default to 09:00; the slot always ends one hour later on
// the same day, in floating local time.
func GoogleCalendarURL(e model.Event) string {
	hour, minute := "09", "00"
	if h, m, ok := strings.Cut(e.Time, ":"); ok && h != "" && m != "" {
		hour, minute = h, m
	}
	endHour := hour
	if n, err := strconv.Atoi(hour); err == nil {
		endHour = fmt.Sprintf("%02d", n+1)
	}

	day := e.Date.Format("20060102")
	dates := fmt.Sprintf("%sT%s%s00/%sT%s%s00", day, hour, minute, day, endHour, minute)

	q := url.Values{}
	q.Set("action", "TEMPLATE")
	q.Set("text", e.Title)
	q.Set("dates", dates)
	if e.Description != "" {
		q.Set("details", e.Description)
	}
	return googleCalendarBase + "?" + q.Encode()
}
