package schedule

import "evcal/internal/model"

// NoExclude disables the exclusion slot of HasConflict.
const NoExclude = -1

// HasConflict reports whether some event in pool, other than the one at
// position exclude, falls on candidate's calendar day at the same
// non-empty time with a different title. Events without a time never
// conflict. pool is not modified.
func HasConflict(candidate model.Event, pool []model.Event, exclude int) bool {
	return ConflictIndex(candidate, pool, exclude) >= 0
}

// ConflictIndex is HasConflict returning the position of the first
// clashing event, or -1.
func ConflictIndex(candidate model.Event, pool []model.Event, exclude int) int {
	if candidate.Time == "" {
		return -1
	}
	for i, e := range pool {
		if i == exclude {
			continue
		}
		if e.Time == "" || e.Time != candidate.Time {
			continue
		}
		if e.Title == candidate.Title {
			continue
		}
		if model.SameDay(candidate.Date, e.Date) {
			return i
		}
	}
	return -1
}
