// pkg/toolspec/toolspec.go
// Fixed registry of the data-retrieval tools the pipeline may invoke.
// The planner, validator and executor all key off this table; nothing outside
// it is ever called.
package toolspec

import "sort"

// Tool keys. They mirror the intent names for the intents that map 1:1 onto
// a single retrieval call.
const (
	SingleDayOverview = "single_day_overview"
	RangeOverview     = "range_overview"
	FunnelTrend       = "funnel_trend"
	Retention         = "retention"
	Activity          = "activity"
	CategoryContrib   = "category_contribution"
	NewVsReturning    = "new_vs_returning_conversion"
)

const (
	DaysMin = 1
	DaysMax = 90

	// Day-count defaults injected when a question names none.
	DefaultDaysOverview  = 9
	DefaultDaysRetention = 7
)

// Tool describes one whitelisted retrieval operation.
type Tool struct {
	Key         string
	DisplayName string
	// NeedsDays / NeedsDate classify the tool's primary time parameter.
	NeedsDays   bool
	NeedsDate   bool
	DefaultDays int
	// AcceptsEndDt marks tools whose window can be anchored to an end date.
	AcceptsEndDt bool
	// TimeAxis and Columns drive mechanical plot derivation.
	TimeAxis string
	Columns  []string
}

var registry = map[string]Tool{
	SingleDayOverview: {
		Key:         SingleDayOverview,
		DisplayName: "Single-day core metrics",
		NeedsDate:   true,
		TimeAxis:    "dt",
		Columns:     []string{"pv", "uv", "buyers"},
	},
	RangeOverview: {
		Key:         RangeOverview,
		DisplayName: "Core metrics trend",
		NeedsDays:   true,
		DefaultDays: DefaultDaysOverview,
		TimeAxis:    "dt",
		Columns:     []string{"pv", "uv", "buyers"},
	},
	FunnelTrend: {
		Key:          FunnelTrend,
		DisplayName:  "Conversion funnel trend",
		NeedsDays:    true,
		DefaultDays:  DefaultDaysOverview,
		AcceptsEndDt: true,
		TimeAxis:     "dt",
		Columns:      []string{"uv_to_buyer", "uv_to_cart", "cart_to_buyer"},
	},
	Retention: {
		Key:         Retention,
		DisplayName: "Next-day retention trend",
		NeedsDays:   true,
		DefaultDays: DefaultDaysRetention,
		TimeAxis:    "dt",
		Columns:     []string{"retention_1d"},
	},
	Activity: {
		Key:         Activity,
		DisplayName: "Daily active users trend",
		NeedsDays:   true,
		DefaultDays: DefaultDaysRetention,
		TimeAxis:    "dt",
		Columns:     []string{"dau"},
	},
	CategoryContrib: {
		Key:         CategoryContrib,
		DisplayName: "Category contribution to buyer delta",
		NeedsDate:   true,
		TimeAxis:    "category_id",
		Columns:     []string{"delta"},
	},
	NewVsReturning: {
		Key:         NewVsReturning,
		DisplayName: "New vs returning conversion",
		NeedsDate:   true,
		TimeAxis:    "dt",
		Columns:     []string{"new_cvr", "old_cvr"},
	},
}

// Lookup returns the tool descriptor for key.
func Lookup(key string) (Tool, bool) {
	t, ok := registry[key]
	return t, ok
}

// IsWhitelisted reports whether key names a known tool.
func IsWhitelisted(key string) bool {
	_, ok := registry[key]
	return ok
}

// Whitelist returns the sorted tool keys, for error messages.
func Whitelist() []string {
	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NeedsDays reports whether the tool's primary parameter is a day count.
func NeedsDays(key string) bool {
	t, ok := registry[key]
	return ok && t.NeedsDays
}

// NeedsDate reports whether the tool's primary parameter is a calendar date.
func NeedsDate(key string) bool {
	t, ok := registry[key]
	return ok && t.NeedsDate
}

// ClampDays bounds a day count to [DaysMin, DaysMax].
func ClampDays(d int) int {
	if d < DaysMin {
		return DaysMin
	}
	if d > DaysMax {
		return DaysMax
	}
	return d
}
