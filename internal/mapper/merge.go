// internal/mapper/merge.go
package mapper

import (
	"fmt"
	"strings"

	"analytics-agent/internal/models"
	"analytics-agent/pkg/toolspec"
)

var daysIntents = map[models.Intent]bool{
	models.IntentRangeOverview: true,
	models.IntentFunnelTrend:   true,
	models.IntentRetention:     true,
	models.IntentActivity:      true,
	models.IntentDiagnose:      true,
}

var changeWords = []string{
	"rose", "risen", "increase", "dropped", "drop", "fell", "fall", "declin",
	"上升", "下降", "掉", "跌",
}

// MergeContext fills absent slot fields from prior session context. It never
// overwrites a field the current question populated, records an assumption
// for every value it borrows, and is idempotent: merging already-complete
// slots changes nothing.
func MergeContext(slots models.Slots, sctx models.SessionContext, question string) models.Slots {
	if sctx.IsZero() {
		return slots
	}

	if slots.Dt == "" && sctx.LastDt != "" {
		slots.Dt = sctx.LastDt
		slots.AddAssumption(fmt.Sprintf("no date given, reusing previous date %s", sctx.LastDt))
	}
	if slots.PrevDt == "" && sctx.PrevDt != "" {
		slots.PrevDt = sctx.PrevDt
	}

	if slots.Days == 0 && daysIntents[slots.Intent] {
		switch {
		case slots.PrevDt != "":
			// A two-date comparison carries its own window; borrowing a stale
			// day count would silently widen it.
		case sctx.LastDays != 0:
			slots.Days = toolspec.ClampDays(sctx.LastDays)
			slots.AddAssumption(fmt.Sprintf("no window given, reusing previous %d days", slots.Days))
		case slots.Intent == models.IntentDiagnose:
			slots.Days = defaultDiagnoseDays
			slots.AddAssumption(assumptionDiagnoseDays)
		}
	}

	if slots.Intent == models.IntentDiagnose && slots.MetricFocus == "" &&
		!questionNamesMetric(question) {
		focus, recalled := inferMetricFocus(question, sctx)
		slots.MetricFocus = focus
		if recalled {
			slots.AddAssumption(fmt.Sprintf("no metric named, focusing on %s from the previous turn", focus))
		} else if sctx.LastMetricFocus != "" || sctx.LastAnswerSummary != "" {
			slots.AddAssumption(fmt.Sprintf("no metric named, defaulting to %s", focus))
		}
	}

	return slots
}

// inferMetricFocus recovers the diagnostic target from the previous answer.
// A follow-up like "why did it drop?" refers to whichever metric the last
// answer talked about. A focus stored on the previous turn wins outright;
// scanning the answer summary is only a recovery path when none was stored.
// The second return reports whether the value came from session recall as
// opposed to the fixed default.
func inferMetricFocus(question string, sctx models.SessionContext) (string, bool) {
	if sctx.LastMetricFocus != "" {
		return sctx.LastMetricFocus, true
	}

	if hasAny(strings.ToLower(question), changeWords) {
		summary := strings.ToLower(sctx.LastAnswerSummary)
		switch {
		case strings.Contains(summary, "uv") || strings.Contains(summary, "visitor") ||
			strings.Contains(summary, "访客"):
			return "uv", true
		case strings.Contains(summary, "buyer") || strings.Contains(summary, "买家"):
			return "buyers", true
		}
	}

	return models.DefaultMetricFocus, false
}
