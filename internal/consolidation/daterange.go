package consolidation

import (
	"strconv"
	"strings"
	"time"
)

// ResolveDateRange computes the effective report period for a group.
//
// The end date falls back from the explicit argument to the group's stored
// end date to now. The start date falls back from the explicit argument to
// the group's stored start date; failing both, it is derived from the
// primary entity's fiscal year start when one was resolved, shifted back a
// year when the naive same-year date would land after the end date.
// Without a primary entity the start defaults to one year before the end.
//
// fiscalYearStart is the primary entity's MM-DD setting; the empty string
// means no primary entity was resolvable. Malformed values degrade to
// January 1st. The function is pure and recomputed on every call.
func ResolveDateRange(group *Group, fiscalYearStart string, start, end *time.Time, now time.Time) (time.Time, time.Time) {
	effectiveEnd := now
	switch {
	case end != nil:
		effectiveEnd = *end
	case group != nil && group.EndDate != nil:
		effectiveEnd = *group.EndDate
	}

	var effectiveStart time.Time
	switch {
	case start != nil:
		effectiveStart = *start
	case group != nil && group.StartDate != nil:
		effectiveStart = *group.StartDate
	case fiscalYearStart != "":
		month, day := parseFiscalYearStart(fiscalYearStart)
		effectiveStart = time.Date(effectiveEnd.Year(), month, day, 0, 0, 0, 0, effectiveEnd.Location())
		if effectiveStart.After(effectiveEnd) {
			effectiveStart = effectiveStart.AddDate(-1, 0, 0)
		}
	default:
		effectiveStart = effectiveEnd.AddDate(-1, 0, 0)
	}

	return effectiveStart, effectiveEnd
}

// parseFiscalYearStart reads an MM-DD value, degrading to 01-01.
func parseFiscalYearStart(value string) (time.Month, int) {
	parts := strings.SplitN(strings.TrimSpace(value), "-", 2)
	if len(parts) != 2 {
		return time.January, 1
	}
	month, err := strconv.Atoi(parts[0])
	if err != nil || month < 1 || month > 12 {
		return time.January, 1
	}
	day, err := strconv.Atoi(parts[1])
	if err != nil || day < 1 || day > 31 {
		return time.January, 1
	}
	return time.Month(month), day
}
