package hub

import (
	"context"
	"fmt"
	"path/filepath"
	"time"
)

// isoWeekBounds returns the Monday-to-Monday window of the ISO week
// containing now, matching the "weekly on Sunday night" cadence the
// scheduler's AddWeeklyTask(time.Sunday, ...) call fires on.
func isoWeekBounds(now time.Time) (from, to time.Time) {
	weekday := int(now.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	from = truncateToDay(now).AddDate(0, 0, -(weekday - 1))
	to = from.AddDate(0, 0, 7)
	return from, to
}

// previousMonthBounds returns [first-of-last-month, first-of-this-month).
func previousMonthBounds(now time.Time) (from, to time.Time) {
	firstOfThisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	firstOfLastMonth := firstOfThisMonth.AddDate(0, -1, 0)
	return firstOfLastMonth, firstOfThisMonth
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// exportPeriod dumps both collections' documents in [from, to) to
// ExportRoot/<collection>/<label>.json, per spec §4.8's weekly/monthly
// export task.
func (h *Hub) exportPeriod(ctx context.Context, from, to time.Time, label string) error {
	for _, coll := range []struct {
		name      string
		timeField string
	}{
		{cacheCollection, "archive_time"},
		{archiveCollection, "archive_time"},
	} {
		dest := filepath.Join(h.cfg.ExportRoot, coll.name, label+".json")
		if err := h.store.ExportByTimeRange(ctx, coll.name, coll.timeField, from, to, dest); err != nil {
			return fmt.Errorf("hub: export %s: %w", coll.name, err)
		}
	}
	return nil
}
