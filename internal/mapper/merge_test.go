// internal/mapper/merge_test.go
package mapper

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"analytics-agent/internal/models"
)

func TestMergeContext_FillsOnlyAbsentFields(t *testing.T) {
	sctx := models.SessionContext{
		LastDt:   "2017-12-02",
		PrevDt:   "2017-12-01",
		LastDays: 14,
	}

	// Absent dt and days are borrowed, with assumptions recorded.
	merged := MergeContext(models.Slots{Intent: models.IntentSingleDayOverview}, sctx, "and the day after?")
	assert.Equal(t, "2017-12-02", merged.Dt)
	assert.Equal(t, "2017-12-01", merged.PrevDt)
	assert.NotEmpty(t, merged.Assumptions)

	// Present fields are never overwritten.
	merged = MergeContext(models.Slots{
		Intent: models.IntentRangeOverview,
		Dt:     "2017-12-03",
		Days:   7,
	}, sctx, "last 7 days ending Dec 3")
	assert.Equal(t, "2017-12-03", merged.Dt)
	assert.Equal(t, 7, merged.Days)
}

func TestMergeContext_DaysOnlyForWindowIntents(t *testing.T) {
	sctx := models.SessionContext{LastDays: 14}

	merged := MergeContext(models.Slots{Intent: models.IntentRangeOverview}, sctx, "and overall?")
	assert.Equal(t, 14, merged.Days)

	// A date-shaped intent has no use for a window.
	merged = MergeContext(models.Slots{Intent: models.IntentSingleDayOverview}, sctx, "and that day?")
	assert.Zero(t, merged.Days)
}

func TestMergeContext_PrevDtSuppressesBorrowedDays(t *testing.T) {
	sctx := models.SessionContext{LastDays: 30}

	merged := MergeContext(models.Slots{
		Intent: models.IntentDiagnose,
		Dt:     "2017-12-02",
		PrevDt: "2017-12-01",
	}, sctx, "compare those two days")
	assert.Zero(t, merged.Days, "a two-date comparison must not inherit a stale window")
}

func TestMergeContext_DiagnoseDefaultsWindow(t *testing.T) {
	merged := MergeContext(models.Slots{Intent: models.IntentDiagnose},
		models.SessionContext{LastDt: "2017-12-03"}, "why the change?")
	assert.Equal(t, defaultDiagnoseDays, merged.Days)
	assert.Contains(t, merged.Assumptions, assumptionDiagnoseDays)
}

func TestMergeContext_MetricFocusRecall(t *testing.T) {
	// An explicit focus from the previous turn is reused.
	merged := MergeContext(models.Slots{Intent: models.IntentDiagnose, Dt: "2017-12-03"},
		models.SessionContext{LastDt: "2017-12-03", LastMetricFocus: "buyers"}, "why did it fall?")
	assert.Equal(t, "buyers", merged.MetricFocus)

	// Otherwise the previous answer's subject is inferred.
	merged = MergeContext(models.Slots{Intent: models.IntentDiagnose, Dt: "2017-12-03"},
		models.SessionContext{LastDt: "2017-12-03", LastAnswerSummary: "UV fell to 21k on 2017-12-03"},
		"why did it drop?")
	assert.Equal(t, "uv", merged.MetricFocus)

	// A question that names its own target skips recall entirely.
	merged = MergeContext(models.Slots{Intent: models.IntentDiagnose, Dt: "2017-12-03"},
		models.SessionContext{LastDt: "2017-12-03", LastMetricFocus: "buyers"},
		"why did conversion drop?")
	assert.Empty(t, merged.MetricFocus)
}

func TestMergeContext_MetricFocusDefaultNotAttributedToSession(t *testing.T) {
	// A summary that names no known metric falls through to the fixed
	// default, and the recorded assumption must say so instead of claiming
	// the value was recalled.
	merged := MergeContext(models.Slots{Intent: models.IntentDiagnose, Dt: "2017-12-03"},
		models.SessionContext{LastDt: "2017-12-03", LastAnswerSummary: "orders held steady on 2017-12-03"},
		"why did it drop?")
	assert.Equal(t, models.DefaultMetricFocus, merged.MetricFocus)
	assert.Contains(t, merged.Assumptions, "no metric named, defaulting to uv_to_buyer")
	for _, a := range merged.Assumptions {
		assert.NotContains(t, a, "from the previous turn")
	}
}

func TestMergeContext_Idempotent(t *testing.T) {
	sctx := models.SessionContext{
		LastDt:          "2017-12-02",
		PrevDt:          "2017-12-01",
		LastDays:        14,
		LastMetricFocus: "buyers",
	}
	slots := models.Slots{Intent: models.IntentDiagnose}

	once := MergeContext(slots, sctx, "why the dip?")
	twice := MergeContext(once, sctx, "why the dip?")
	assert.Equal(t, once, twice)
}

func TestMergeContext_EmptySessionIsNoOp(t *testing.T) {
	slots := models.Slots{Intent: models.IntentRangeOverview, Days: 7}
	merged := MergeContext(slots, models.SessionContext{}, "last 7 days")
	assert.Equal(t, slots, merged)
}
