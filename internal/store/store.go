package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"evcal/internal/blob"
	appLog "evcal/internal/log"
	"evcal/internal/metrics"
	"evcal/internal/model"
)

// DefaultKey is the blob key holding the events array.
const DefaultKey = "calendar-events"

// EventStore is the ordered, in-memory list of events backed by a single
// blob. Every mutation rewrites the whole blob. It is not safe for
// concurrent use; callers serialize access.
type EventStore struct {
	blobs   blob.Store
	key     string
	loc     *time.Location
	metrics *metrics.Metrics

	events []model.Event
}

// Options tune an EventStore. Zero values are fine.
type Options struct {
	// Key overrides DefaultKey.
	Key string
	// Location is where loaded dates are normalized to midnight.
	// Defaults to time.Local.
	Location *time.Location
	Metrics  *metrics.Metrics
}

func New(blobs blob.Store, opts Options) *EventStore {
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &EventStore{
		blobs:   blobs,
		key:     opts.Key,
		loc:     opts.Location,
		metrics: opts.Metrics,
	}
}

// record is the persisted shape of one event. Date is kept as text so a
// single bad element can be dropped without failing the whole array.
type record struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title"`
	Time        string `json:"time"`
	Description string `json:"description"`
	Date        string `json:"date"`
}

// Load hydrates the store from its blob. A missing or unreadable blob
// yields an empty store; malformed elements are skipped.
func (s *EventStore) Load(ctx context.Context) {
	s.events = nil
	defer func() { s.metrics.SetEvents(len(s.events)) }()

	data, ok, err := s.blobs.Get(ctx, s.key)
	if err != nil {
		appLog.Error("store: blob read failed; starting empty", err, "key", s.key)
		return
	}
	if !ok || len(strings.TrimSpace(string(data))) == 0 {
		appLog.Info("store: no saved events", "key", s.key)
		return
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		appLog.Error("store: blob is not a JSON array; starting empty", err, "key", s.key)
		return
	}

	events := make([]model.Event, 0, len(raw))
	dropped := 0
	for _, r := range raw {
		ev, err := s.decode(r)
		if err != nil {
			dropped++
			appLog.Debug("store: dropping malformed event", "reason", err.Error())
			continue
		}
		events = append(events, ev)
	}
	s.events = events

	appLog.Info("store: loaded events", "key", s.key, "count", len(events), "dropped", dropped)
}

func (s *EventStore) decode(raw json.RawMessage) (model.Event, error) {
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.Event{}, err
	}
	if strings.TrimSpace(rec.Title) == "" {
		return model.Event{}, fmt.Errorf("empty title")
	}
	d, err := parseDate(rec.Date, s.loc)
	if err != nil {
		return model.Event{}, err
	}
	if err := model.ValidateTime(rec.Time); err != nil {
		return model.Event{}, err
	}
	id := rec.ID
	if id == "" {
		id = model.NewID()
	}
	return model.Event{
		ID:          id,
		Title:       rec.Title,
		Time:        rec.Time,
		Description: rec.Description,
		Date:        model.StartOfDay(d.In(s.loc)),
	}, nil
}

// parseDate accepts RFC 3339 (what Save writes) and a bare date key.
func parseDate(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t, nil
	}
	if t, err := time.Parse(model.DateKeyLayout, v); err == nil {
		y, m, d := t.Date()
		return model.Midnight(y, m, d, loc), nil
	}
	return time.Time{}, fmt.Errorf("unparsable date %q", v)
}

// Marshal encodes the current events in the persisted format.
func (s *EventStore) Marshal() ([]byte, error) {
	recs := make([]record, 0, len(s.events))
	for _, e := range s.events {
		recs = append(recs, record{
			ID:          e.ID,
			Title:       e.Title,
			Time:        e.Time,
			Description: e.Description,
			Date:        e.Date.Format(time.RFC3339),
		})
	}
	return json.Marshal(recs)
}

func (s *EventStore) persist(ctx context.Context, op string) error {
	s.metrics.Mutation(op)
	s.metrics.SetEvents(len(s.events))

	data, err := s.Marshal()
	if err != nil {
		return fmt.Errorf("store: encode: %w", err)
	}
	start := time.Now()
	if err := s.blobs.Set(ctx, s.key, data); err != nil {
		appLog.Error("store: blob write failed", err, "key", s.key, "op", op)
		return fmt.Errorf("store: write blob: %w", err)
	}
	s.metrics.ObserveBlobWrite(time.Since(start))
	return nil
}

// Flush rewrites the blob with the current contents.
func (s *EventStore) Flush(ctx context.Context) error {
	return s.persist(ctx, "flush")
}

// Events returns a copy of the events in insertion order.
func (s *EventStore) Events() []model.Event {
	return append([]model.Event(nil), s.events...)
}

func (s *EventStore) Len() int { return len(s.events) }

// At returns the event at index i.
func (s *EventStore) At(i int) (model.Event, bool) {
	if i < 0 || i >= len(s.events) {
		return model.Event{}, false
	}
	return s.events[i], true
}

// IndexOf returns the position of the event with id, or -1.
func (s *EventStore) IndexOf(id string) int {
	for i, e := range s.events {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// OnDay returns the events on d's calendar day, in store order.
func (s *EventStore) OnDay(d time.Time) []model.Event {
	out := make([]model.Event, 0)
	for _, e := range s.events {
		if model.SameDay(d, e.Date) {
			out = append(out, e)
		}
	}
	return out
}

// Append adds events at the end and persists.
func (s *EventStore) Append(ctx context.Context, events ...model.Event) error {
	if len(events) == 0 {
		return nil
	}
	s.events = append(s.events, events...)
	return s.persist(ctx, "append")
}

// Replace overwrites the first event matching old. It reports false and
// leaves the blob untouched when nothing matches.
func (s *EventStore) Replace(ctx context.Context, old model.Match, ev model.Event) (bool, error) {
	for i, e := range s.events {
		if old.Matches(e) {
			s.events[i] = ev
			return true, s.persist(ctx, "replace")
		}
	}
	appLog.Debug("store: replace matched nothing", "title", old.Title, "date", old.Date.Format(model.DateKeyLayout))
	return false, nil
}

// Remove deletes the first event matching m.
func (s *EventStore) Remove(ctx context.Context, m model.Match) (bool, error) {
	for i, e := range s.events {
		if m.Matches(e) {
			s.events = append(s.events[:i], s.events[i+1:]...)
			return true, s.persist(ctx, "remove")
		}
	}
	appLog.Debug("store: remove matched nothing", "title", m.Title, "date", m.Date.Format(model.DateKeyLayout))
	return false, nil
}

// SetAt overwrites position i. Out-of-range indexes are ignored.
func (s *EventStore) SetAt(ctx context.Context, i int, ev model.Event) (bool, error) {
	if i < 0 || i >= len(s.events) {
		appLog.Debug("store: setAt out of range", "index", i, "len", len(s.events))
		return false, nil
	}
	s.events[i] = ev
	return true, s.persist(ctx, "set_at")
}
