package redemption

import (
	"time"

	"github.com/badgeforge/entitlement/internal/domain/benefit"
)

// frequencyWindow pairs a scope name with its window start (nil meaning
// unbounded/overall) and declared ceiling.
type frequencyWindow struct {
	scope string
	since *time.Time
	limit int
}

// frequencyWindows expands a FrequencyConfig into the concrete windows to
// check against now, skipping scopes with no declared ceiling.
func frequencyWindows(cfg benefit.FrequencyConfig, now time.Time) []frequencyWindow {
	var windows []frequencyWindow
	if cfg.PerUser != nil {
		windows = append(windows, frequencyWindow{scope: "overall", since: nil, limit: *cfg.PerUser})
	}
	if cfg.PerDay != nil {
		start := now.Truncate(24 * time.Hour)
		windows = append(windows, frequencyWindow{scope: "day", since: &start, limit: *cfg.PerDay})
	}
	if cfg.PerWeek != nil {
		start := startOfWeek(now)
		windows = append(windows, frequencyWindow{scope: "week", since: &start, limit: *cfg.PerWeek})
	}
	if cfg.PerMonth != nil {
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		windows = append(windows, frequencyWindow{scope: "month", since: &start, limit: *cfg.PerMonth})
	}
	if cfg.PerYear != nil {
		start := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location())
		windows = append(windows, frequencyWindow{scope: "year", since: &start, limit: *cfg.PerYear})
	}
	return windows
}

// startOfWeek returns the Monday 00:00 preceding (or equal to) now, in UTC
// calendar terms.
func startOfWeek(now time.Time) time.Time {
	day := now.Truncate(24 * time.Hour)
	offset := (int(day.Weekday()) + 6) % 7 // Monday=0 ... Sunday=6
	return day.AddDate(0, 0, -offset)
}
