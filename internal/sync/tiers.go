package sync

import "time"

// Age tiers for the incremental refresh policy. Content younger than
// FreshAgeDays is refreshed every run; content between FreshAgeDays and
// ArchiveAgeDays only on the weekly run day; anything older is refreshed
// on demand only.
const (
	FreshAgeDays   = 7
	ArchiveAgeDays = 30
)

// AgeWindow is a half-open [MinDays, MaxDays) age range in whole days,
// bound as integer query parameters.
type AgeWindow struct {
	MinDays int
	MaxDays int
}

// RefreshWindows returns the age windows due for refresh on a run at now.
func RefreshWindows(now time.Time, weeklyRunDay time.Weekday) []AgeWindow {
	windows := []AgeWindow{{MinDays: 0, MaxDays: FreshAgeDays}}
	if now.Weekday() == weeklyRunDay {
		windows = append(windows, AgeWindow{MinDays: FreshAgeDays, MaxDays: ArchiveAgeDays})
	}
	return windows
}

// ShouldRefresh decides whether one item's metrics are due, purely from its
// age. No per-item schedule is persisted anywhere.
func ShouldRefresh(postedAt, now time.Time, weeklyRunDay time.Weekday) bool {
	age := now.Sub(postedAt)
	switch {
	case age < FreshAgeDays*24*time.Hour:
		return true
	case age < ArchiveAgeDays*24*time.Hour:
		return now.Weekday() == weeklyRunDay
	default:
		return false
	}
}
