// internal/models/slots.go
package models

// Intent is the canonical question category produced by the slot mapper.
type Intent string

const (
	IntentSingleDayOverview Intent = "single_day_overview"
	IntentRangeOverview     Intent = "range_overview"
	IntentFunnelTrend       Intent = "funnel_trend"
	IntentCategoryContrib   Intent = "category_contribution"
	IntentRetention         Intent = "retention"
	IntentActivity          Intent = "activity"
	IntentNewVsReturning    Intent = "new_vs_returning_conversion"
	IntentDiagnose          Intent = "diagnose"
	IntentUnknown           Intent = "unknown"
)

// DefaultMetricFocus is the diagnostic target assumed when neither the
// question nor the session names one.
const DefaultMetricFocus = "uv_to_buyer"

// Intents lists every valid intent value.
var Intents = []Intent{
	IntentSingleDayOverview,
	IntentRangeOverview,
	IntentFunnelTrend,
	IntentCategoryContrib,
	IntentRetention,
	IntentActivity,
	IntentNewVsReturning,
	IntentDiagnose,
	IntentUnknown,
}

// ParseIntent maps a raw string to an Intent, returning IntentUnknown for
// anything outside the enumeration.
func ParseIntent(s string) Intent {
	for _, it := range Intents {
		if string(it) == s {
			return it
		}
	}
	return IntentUnknown
}

// NotSupported is the terminal state for metrics the dataset cannot answer.
// When set it takes precedence over everything else in the slots.
type NotSupported struct {
	Metric        string `json:"metric"`
	Reason        string `json:"reason"`
	MissingFields string `json:"missing_fields,omitempty"`
	Suggestion    string `json:"suggestion,omitempty"`
}

// Slots is the canonical parsed intent plus parameters for one question.
// Zero values mean "absent": Dt/PrevDt/MetricFocus empty string, Days zero.
type Slots struct {
	Intent       Intent        `json:"intent"`
	Dt           string        `json:"dt,omitempty"`      // YYYY-MM-DD
	PrevDt       string        `json:"prev_dt,omitempty"` // PrevDt <= Dt when both set
	Days         int           `json:"days,omitempty"`    // 1..90 when set
	MetricFocus  string        `json:"metric_focus,omitempty"`
	Assumptions  []string      `json:"assumptions"`
	NotSupported *NotSupported `json:"not_supported,omitempty"`
}

// AddAssumption appends a note unless the identical note is already recorded.
// Duplicate suppression keeps merge/normalize interplay from repeating the
// default-year note.
func (s *Slots) AddAssumption(note string) {
	for _, a := range s.Assumptions {
		if a == note {
			return
		}
	}
	s.Assumptions = append(s.Assumptions, note)
}
