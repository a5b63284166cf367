package grid

import (
	"time"

	"evcal/internal/model"
)

// Build returns the cells for the view anchored at ref.
//
//   - week:  the 7 days of the week containing ref, all flagged current.
//   - month: from the start of the week holding the 1st through the end of
//     the week holding the last day; days outside ref's month are flagged
//     not current. The length is always a multiple of 7.
//
// weekStart selects the first column (time.Sunday in the default layout).
func Build(ref time.Time, mode model.ViewMode, weekStart time.Weekday) []model.DayCell {
	ref = model.StartOfDay(ref)

	if mode == model.ViewWeek {
		start := StartOfWeek(ref, weekStart)
		cells := make([]model.DayCell, 0, 7)
		for i := 0; i < 7; i++ {
			cells = append(cells, model.DayCell{
				Date:           model.AddDays(start, i),
				IsCurrentMonth: true,
			})
		}
		return cells
	}

	first := model.Midnight(ref.Year(), ref.Month(), 1, ref.Location())
	last := model.Midnight(ref.Year(), ref.Month()+1, 0, ref.Location())

	start := StartOfWeek(first, weekStart)
	end := EndOfWeek(last, weekStart)

	cells := make([]model.DayCell, 0, 42)
	for day := start; !day.After(end); day = model.AddDays(day, 1) {
		cells = append(cells, model.DayCell{
			Date:           day,
			IsCurrentMonth: day.Month() == ref.Month() && day.Year() == ref.Year(),
		})
	}
	return cells
}

// Weeks partitions cells into rows of 7. A trailing partial row is kept.
func Weeks(cells []model.DayCell) [][]model.DayCell {
	weeks := make([][]model.DayCell, 0, (len(cells)+6)/7)
	for i := 0; i < len(cells); i += 7 {
		end := i + 7
		if end > len(cells) {
			end = len(cells)
		}
		weeks = append(weeks, cells[i:end])
	}
	return weeks
}

// StartOfWeek returns the start of the first day of t's week.
func StartOfWeek(t time.Time, weekStart time.Weekday) time.Time {
	t = model.StartOfDay(t)
	offset := (int(t.Weekday()) - int(weekStart) + 7) % 7
	return model.AddDays(t, -offset)
}

// EndOfWeek returns the start of the last day of t's week.
func EndOfWeek(t time.Time, weekStart time.Weekday) time.Time {
	return model.AddDays(StartOfWeek(t, weekStart), 6)
}

// Headers returns abbreviated weekday names in column order.
func Headers(weekStart time.Weekday) []string {
	out := make([]string, 0, 7)
	for i := 0; i < 7; i++ {
		out = append(out, time.Weekday((int(weekStart)+i)%7).String()[:3])
	}
	return out
}
