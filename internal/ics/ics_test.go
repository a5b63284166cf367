package ics_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"evcal/internal/ics"
	"evcal/internal/model"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestExportDecodeRoundTrip(t *testing.T) {
	events := []model.Event{
		{ID: "a1", Title: "Standup", Time: "09:00", Description: "daily", Date: day(2024, 5, 1)},
		{ID: "b2", Title: "Holiday", Date: day(2024, 5, 27)},
	}
	body := ics.Export(events, "Team", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))

	for _, want := range []string{"BEGIN:VCALENDAR", "SUMMARY:Standup", "UID:a1", "X-WR-CALNAME:Team"} {
		if !strings.Contains(body, want) {
			t.Errorf("export missing %q", want)
		}
	}

	got, err := ics.Decode("test", []byte(body), ics.ExpandConfig{
		Location:   time.UTC,
		RangeStart: day(2024, 1, 1),
		RangeEnd:   day(2025, 1, 1),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("decoded %d events, want 2", len(got))
	}

	byTitle := map[string]model.Event{}
	for _, e := range got {
		byTitle[e.Title] = e
	}
	if s := byTitle["Standup"]; s.Time != "09:00" || !s.Date.Equal(day(2024, 5, 1)) || s.Description != "daily" {
		t.Errorf("Standup = %+v", s)
	}
	if h := byTitle["Holiday"]; h.Time != "" || !h.Date.Equal(day(2024, 5, 27)) {
		t.Errorf("Holiday = %+v", h)
	}
}

const recurringFeed = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:weekly-1\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"SUMMARY:Retro\r\n" +
	"DTSTART:20240503T150000Z\r\n" +
	"DTEND:20240503T160000Z\r\n" +
	"RRULE:FREQ=WEEKLY;COUNT=4\r\n" +
	"EXDATE:20240510T150000Z\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestDecodeRecurring(t *testing.T) {
	cfg := ics.ExpandConfig{
		Location:   time.UTC,
		RangeStart: day(2024, 5, 1),
		RangeEnd:   day(2024, 6, 30),
	}
	got, err := ics.Decode("feed", []byte(recurringFeed), cfg)
	if err != nil {
		t.Fatal(err)
	}

	want := []time.Time{day(2024, 5, 3), day(2024, 5, 17), day(2024, 5, 24)}
	if len(got) != len(want) {
		t.Fatalf("got %d occurrences, want %d: %+v", len(got), len(want), got)
	}
	for i, e := range got {
		if !e.Date.Equal(want[i]) || e.Time != "15:00" || e.Title != "Retro" {
			t.Errorf("occurrence %d = %+v", i, e)
		}
	}

	again, _ := ics.Decode("feed", []byte(recurringFeed), cfg)
	for i := range got {
		if got[i].ID != again[i].ID {
			t.Errorf("occurrence %d id not stable: %s vs %s", i, got[i].ID, again[i].ID)
		}
	}
}

func TestParseRejectsEmpty(t *testing.T) {
	if _, err := ics.ParseICS("x", nil); err == nil {
		t.Error("expected error for empty body")
	}
}

func TestGoogleCalendarURL(t *testing.T) {
	link := ics.GoogleCalendarURL(model.Event{Title: "Standup", Time: "09:30", Description: "room 4", Date: day(2024, 5, 1)})
	u, err := url.Parse(link)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	if q.Get("dates") != "20240501T093000/20240501T103000" {
		t.Errorf("dates = %q", q.Get("dates"))
	}
	if q.Get("text") != "Standup" || q.Get("details") != "room 4" || q.Get("action") != "TEMPLATE" {
		t.Errorf("query = %v", q)
	}

	allDay := ics.GoogleCalendarURL(model.Event{Title: "Offsite", Date: day(2024, 5, 2)})
	u, _ = url.Parse(allDay)
	if got := u.Query().Get("dates"); got != "20240502T090000/20240502T100000" {
		t.Errorf("untimed dates = %q", got)
	}
}

func TestFetcherCachesAndRevalidates(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(recurringFeed))
	}))
	defer srv.Close()

	f := ics.NewFetcher(t.TempDir())
	body, fromCache, err := f.Fetch(context.Background(), srv.URL+"/cal.ics?token=secret")
	if err != nil || fromCache || !strings.Contains(string(body), "Retro") {
		t.Fatalf("first fetch: fromCache=%v err=%v", fromCache, err)
	}

	body, fromCache, err = f.Fetch(context.Background(), srv.URL+"/cal.ics?token=secret")
	if err != nil || !fromCache || !strings.Contains(string(body), "Retro") {
		t.Fatalf("second fetch: fromCache=%v err=%v", fromCache, err)
	}
	if hits != 2 {
		t.Errorf("server hits = %d, want 2", hits)
	}
}

func TestFetcherRecordsUpdatedAt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(recurringFeed))
	}))
	defer srv.Close()

	dir := t.TempDir()
	before := time.Now().UTC().Add(-time.Second)
	if _, _, err := ics.NewFetcher(dir).Fetch(context.Background(), srv.URL); err != nil {
		t.Fatal(err)
	}

	metas, err := filepath.Glob(filepath.Join(dir, "*", "meta.json"))
	if err != nil || len(metas) != 1 {
		t.Fatalf("meta files = %v, err = %v", metas, err)
	}
	data, err := os.ReadFile(metas[0])
	if err != nil {
		t.Fatal(err)
	}
	var meta struct {
		UpdatedAt time.Time `json:"updated_at"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatal(err)
	}
	if meta.UpdatedAt.Before(before) {
		t.Errorf("updated_at = %v, want after %v", meta.UpdatedAt, before)
	}
}
