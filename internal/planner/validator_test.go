// internal/planner/validator_test.go
package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analytics-agent/internal/models"
	"analytics-agent/pkg/toolspec"
)

func TestValidate_WhitelistRejection(t *testing.T) {
	plan := models.Plan{Calls: []models.Call{
		{Tool: "execute_sql", Params: map[string]interface{}{"sql": "drop table ub.daily_metrics"}},
	}}

	_, errs := Validate(plan, "anything", models.Slots{Intent: models.IntentRangeOverview})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "execute_sql")
	assert.Contains(t, errs[0], "not whitelisted")
}

func TestValidate_DateCoverage(t *testing.T) {
	plan := models.Plan{Calls: []models.Call{
		{Tool: toolspec.SingleDayOverview, Params: map[string]interface{}{"dt": "2017-12-03"}},
	}}

	// A mentioned date the plan ignores is an error.
	_, errs := Validate(plan, "compare 2017-12-01 and 2017-12-03",
		models.Slots{Intent: models.IntentSingleDayOverview, Dt: "2017-12-03"})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "2017-12-01")

	// Window coverage via end_dt counts.
	plan = models.Plan{Calls: []models.Call{
		{Tool: toolspec.FunnelTrend, Params: map[string]interface{}{"days": 3, "end_dt": "2017-12-03"}},
	}}
	_, errs = Validate(plan, "funnel around 2017-12-01",
		models.Slots{Intent: models.IntentFunnelTrend, Dt: "2017-12-01"})
	assert.Empty(t, errs)
}

func TestValidate_InjectsDefaultWindow(t *testing.T) {
	plan := models.Plan{Calls: []models.Call{
		{Tool: toolspec.RangeOverview, Params: map[string]interface{}{}},
	}}

	fixed, errs := Validate(plan, "how is it going",
		models.Slots{Intent: models.IntentRangeOverview})
	require.Empty(t, errs)
	days, ok := fixed.Calls[0].DaysParam()
	require.True(t, ok)
	assert.Equal(t, toolspec.DefaultDaysOverview, days)
	assert.Contains(t, fixed.Assumptions, assumptionDefaultWindow)
}

func TestValidate_ClampsDays(t *testing.T) {
	plan := models.Plan{Calls: []models.Call{
		{Tool: toolspec.RangeOverview, Params: map[string]interface{}{"days": 500}},
		{Tool: toolspec.FunnelTrend, Params: map[string]interface{}{"days": 0}},
	}}

	fixed, errs := Validate(plan, "long trend", models.Slots{Intent: models.IntentRangeOverview})
	require.Empty(t, errs)
	days, _ := fixed.Calls[0].DaysParam()
	assert.Equal(t, 90, days)
	days, _ = fixed.Calls[1].DaysParam()
	assert.Equal(t, 1, days)
}

func TestValidate_EnforcesDiagnoseTemplate(t *testing.T) {
	slots := models.Slots{
		Intent: models.IntentDiagnose,
		Dt:     "2017-12-02",
		PrevDt: "2017-12-01",
	}

	// An improvised diagnose plan is rewritten into the canonical triple,
	// keeping at most one category call pinned to the target date.
	rogue := models.Plan{Calls: []models.Call{
		{Tool: toolspec.RangeOverview, Params: map[string]interface{}{"days": 30}},
		{Tool: toolspec.CategoryContrib, Params: map[string]interface{}{"dt": "2017-11-01"}},
		{Tool: toolspec.CategoryContrib, Params: map[string]interface{}{"dt": "2017-10-01"}},
	}}

	fixed, _ := Validate(rogue, "2017-12-01 vs 2017-12-02 why the drop, which category?", slots)
	require.Len(t, fixed.Calls, 4)
	assert.Equal(t, []string{
		toolspec.SingleDayOverview,
		toolspec.SingleDayOverview,
		toolspec.FunnelTrend,
		toolspec.CategoryContrib,
	}, fixed.ToolKeys())
	assert.Equal(t, "2017-12-01", fixed.Calls[0].StringParam("dt"))
	assert.Equal(t, "2017-12-02", fixed.Calls[1].StringParam("dt"))
	assert.Equal(t, "2017-12-02", fixed.Calls[3].StringParam("dt"), "category call is pinned to the target date")
}

func TestValidate_CanonicalDiagnosePlanUntouched(t *testing.T) {
	slots := models.Slots{Intent: models.IntentDiagnose, Dt: "2017-12-02", PrevDt: "2017-12-01"}
	plan := models.Plan{Calls: diagnoseComparisonCalls("2017-12-01", "2017-12-02")}

	fixed, errs := Validate(plan, "2017-12-01 vs 2017-12-02, why?", slots)
	assert.Empty(t, errs)
	assert.Equal(t, plan.Calls, fixed.Calls)
}

func TestValidate_NotSupportedSkipsDateCoverage(t *testing.T) {
	plan := models.Plan{NotSupported: &models.NotSupported{Metric: "GMV", Reason: "no amount fields"}}

	_, errs := Validate(plan, "GMV on 2017-12-03", models.Slots{Intent: models.IntentUnknown})
	assert.Empty(t, errs)
}

func TestValidate_RefusalNeverGainsDiagnoseCalls(t *testing.T) {
	// Two-date diagnose slots normally trigger the comparison template, but a
	// refusal must come out of validation with nothing attached.
	slots := models.Slots{Intent: models.IntentDiagnose, Dt: "2017-12-02", PrevDt: "2017-12-01"}
	plan := models.Plan{
		NotSupported: &models.NotSupported{Metric: "GMV", Reason: "no amount fields"},
		Calls: []models.Call{
			{Tool: toolspec.SingleDayOverview, Params: map[string]interface{}{"dt": "2017-12-02"}},
		},
	}

	fixed, errs := Validate(plan, "why did GMV drop from 2017-12-01 to 2017-12-02?", slots)
	assert.Empty(t, errs)
	require.NotNil(t, fixed.NotSupported)
	assert.Empty(t, fixed.Calls)
	assert.Empty(t, fixed.Plots)
}
