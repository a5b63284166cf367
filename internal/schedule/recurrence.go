package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	appLog "evcal/internal/log"
	"evcal/internal/model"
)

// MaxOccurrences is the largest count a rule may ask for.
const MaxOccurrences = 5000

// Fixed day intervals per rule type. Monthly is a 30-day step, not
// calendar-month arithmetic.
const (
	DailyInterval   = 1
	WeeklyInterval  = 7
	MonthlyInterval = 30
)

var ErrInvalidRule = errors.New("invalid recurrence rule")

// IsRecurring reports whether rule asks for more than the base event.
func IsRecurring(rule *model.RecurrenceRule) bool {
	return rule != nil && rule.Type != "" && rule.Type != model.RecurNone
}

// Interval resolves the day step for rule.
func Interval(rule model.RecurrenceRule) (int, error) {
	switch rule.Type {
	case model.RecurDaily:
		return DailyInterval, nil
	case model.RecurWeekly:
		return WeeklyInterval, nil
	case model.RecurMonthly:
		return MonthlyInterval, nil
	case model.RecurCustom:
		if rule.Interval < 1 {
			return 0, fmt.Errorf("%w: custom interval %d must be >= 1", ErrInvalidRule, rule.Interval)
		}
		return rule.Interval, nil
	default:
		return 0, fmt.Errorf("%w: unknown type %q", ErrInvalidRule, rule.Type)
	}
}

// Validate checks a recurring rule. A nil or "none" rule is always valid.
func Validate(rule *model.RecurrenceRule) error {
	if !IsRecurring(rule) {
		return nil
	}
	if rule.Count < 1 {
		return fmt.Errorf("%w: count %d must be >= 1", ErrInvalidRule, rule.Count)
	}
	if rule.Count > MaxOccurrences {
		return fmt.Errorf("%w: count %d exceeds %d", ErrInvalidRule, rule.Count, MaxOccurrences)
	}
	_, err := Interval(*rule)
	return err
}

// Expand materializes rule against base. Occurrence i lands
// i*interval days after base.Date; every other field is copied and each
// occurrence gets its own id. A nil or "none" rule yields just base.
//
// Expansion never looks at conflicts; callers check each occurrence.
func Expand(base model.Event, rule *model.RecurrenceRule) ([]model.Event, error) {
	if !IsRecurring(rule) {
		return []model.Event{base}, nil
	}
	if err := Validate(rule); err != nil {
		return nil, err
	}
	interval, _ := Interval(*rule)

	// Step on the civil date in UTC; each occurrence is then placed at the
	// start of its day in the base event's location.
	loc := base.Date.Location()
	by, bm, bd := base.Date.Date()
	r, err := rrule.NewRRule(rrule.ROption{
		Freq:     rrule.DAILY,
		Interval: interval,
		Count:    rule.Count,
		Dtstart:  time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		return nil, fmt.Errorf("recurrence: build rrule: %w", err)
	}

	dates := r.All()
	out := make([]model.Event, 0, len(dates))
	for i, d := range dates {
		occ := base
		occ.Date = model.Midnight(d.Year(), d.Month(), d.Day(), loc)
		if i > 0 || occ.ID == "" {
			occ.ID = model.NewID()
		}
		out = append(out, occ)
	}

	appLog.Debug("recurrence expanded",
		"title", base.Title,
		"type", rule.Type,
		"interval", interval,
		"count", len(out),
	)
	return out, nil
}
