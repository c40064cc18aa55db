package leaderboard

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"primeboard/internal/storage"
)

// Span is the aggregation window of a leaderboard key.
type Span string

const (
	SpanAll     Span = "all"
	SpanDaily   Span = "daily"
	SpanWeekly  Span = "weekly"
	SpanMonthly Span = "monthly"
)

// Spans lists all windows, in presentation order.
var Spans = []Span{SpanAll, SpanDaily, SpanWeekly, SpanMonthly}

func ParseSpan(s string) (Span, error) {
	switch Span(strings.ToLower(strings.TrimSpace(s))) {
	case SpanAll, "alltime", "all-time":
		return SpanAll, nil
	case SpanDaily, "day", "today":
		return SpanDaily, nil
	case SpanWeekly, "week":
		return SpanWeekly, nil
	case SpanMonthly, "month":
		return SpanMonthly, nil
	default:
		return "", fmt.Errorf("unknown time span %q", s)
	}
}

// Key identifies one leaderboard: metric x window x optional faction.
type Key struct {
	Metric  string
	Span    Span
	Faction string // "" = unfiltered
}

func (k Key) String() string {
	if k.Faction == "" {
		return k.Metric + "/" + string(k.Span)
	}
	return k.Metric + "/" + string(k.Span) + "/" + k.Faction
}

// DedupKey coalesces redundant recompute jobs for the same key.
func (k Key) DedupKey() string {
	return k.Metric + "|" + string(k.Span) + "|" + k.Faction
}

func (k Key) storageKey() storage.CacheKey {
	return storage.CacheKey{Metric: k.Metric, Span: string(k.Span), Faction: k.Faction}
}

// Result is what a read yields: the latest snapshot, or an explicit
// unavailable marker when no generation exists and computing one failed.
// Unavailable lets the presentation layer render a friendly empty state
// instead of an error.
type Result struct {
	Key         Key
	Rows        []storage.AggregateRow
	Generation  int64
	ComputedAt  time.Time
	Unavailable bool
}

// PrimaryMetric is always tracked; everything else comes from the
// configured secondary metric list.
const PrimaryMetric = "ap"

var validMetric = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// windowStart returns the inclusive lower bound of a span at the given
// instant. Calendar windows, not rolling ones: daily starts at local
// midnight, weekly on Monday, monthly on the 1st.
func windowStart(span Span, now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)
	switch span {
	case SpanDaily:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	case SpanWeekly:
		wd := int(now.Weekday())
		if wd == 0 {
			wd = 7 // Sunday counts as day 7 of the week
		}
		day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
		return day.AddDate(0, 0, -(wd - 1))
	case SpanMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
	default:
		return time.Time{}
	}
}
