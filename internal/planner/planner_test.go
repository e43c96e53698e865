// internal/planner/planner_test.go
package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analytics-agent/internal/models"
	"analytics-agent/pkg/toolspec"
)

type fakeDates struct{ dt string }

func (f *fakeDates) DefaultDt(ctx context.Context) string { return f.dt }

type fakeGen struct {
	out map[string]interface{}
	err error
}

func (f *fakeGen) GeneratePlan(ctx context.Context, question string, slots models.Slots) (map[string]interface{}, error) {
	return f.out, f.err
}

func newRulePlanner() *Planner {
	return New(nil, &fakeDates{dt: "2017-12-03"}, nil)
}

func TestSynthesize_NotSupportedShortCircuits(t *testing.T) {
	p := newRulePlanner()
	slots := models.Slots{
		Intent:       models.IntentUnknown,
		NotSupported: &models.NotSupported{Metric: "GMV", Reason: "no amount fields"},
	}

	plan := p.Synthesize(context.Background(), "what was GMV?", slots)
	assert.Empty(t, plan.Calls)
	assert.Empty(t, plan.Plots)
	require.NotNil(t, plan.NotSupported)
	assert.Equal(t, "GMV", plan.NotSupported.Metric)
}

func TestSynthesize_UnknownProducesEmptyPlan(t *testing.T) {
	p := newRulePlanner()
	plan := p.Synthesize(context.Background(), "sing me a song", models.Slots{Intent: models.IntentUnknown})
	assert.Empty(t, plan.Calls)
	assert.Nil(t, plan.NotSupported)
}

func TestSynthesize_SingleDayOverview(t *testing.T) {
	p := newRulePlanner()

	plan := p.Synthesize(context.Background(), "metrics for 2017-12-02",
		models.Slots{Intent: models.IntentSingleDayOverview, Dt: "2017-12-02"})
	require.Len(t, plan.Calls, 1)
	assert.Equal(t, toolspec.SingleDayOverview, plan.Calls[0].Tool)
	assert.Equal(t, "2017-12-02", plan.Calls[0].StringParam("dt"))
	assert.Empty(t, plan.Plots, "single day results chart only on request")
}

func TestSynthesize_DateDefaultsToLatestDatasetDay(t *testing.T) {
	p := newRulePlanner()

	plan := p.Synthesize(context.Background(), "core metrics please",
		models.Slots{Intent: models.IntentSingleDayOverview})
	require.Len(t, plan.Calls, 1)
	assert.Equal(t, "2017-12-03", plan.Calls[0].StringParam("dt"))
	assert.Contains(t, plan.Assumptions, "no date given, using latest dataset date 2017-12-03")
}

func TestSynthesize_WindowDefaults(t *testing.T) {
	p := newRulePlanner()

	plan := p.Synthesize(context.Background(), "how's the recent trend",
		models.Slots{Intent: models.IntentRangeOverview})
	require.Len(t, plan.Calls, 1)
	days, ok := plan.Calls[0].DaysParam()
	require.True(t, ok)
	assert.Equal(t, 9, days)

	plan = p.Synthesize(context.Background(), "retention lately",
		models.Slots{Intent: models.IntentRetention})
	require.Len(t, plan.Calls, 1)
	days, _ = plan.Calls[0].DaysParam()
	assert.Equal(t, 7, days)
}

func TestSynthesize_ExplicitDateBeatsWindow(t *testing.T) {
	p := newRulePlanner()

	// A dated overview question routes to the single-day tool even though
	// the intent is window shaped.
	plan := p.Synthesize(context.Background(), "how did we do on 2017-12-02",
		models.Slots{Intent: models.IntentRangeOverview, Dt: "2017-12-02", Days: 9})
	require.Len(t, plan.Calls, 1)
	assert.Equal(t, toolspec.SingleDayOverview, plan.Calls[0].Tool)
	assert.Equal(t, "2017-12-02", plan.Calls[0].StringParam("dt"))

	// A dated funnel question becomes a one-day funnel ending on that date.
	plan = p.Synthesize(context.Background(), "conversion on 2017-12-02",
		models.Slots{Intent: models.IntentFunnelTrend, Dt: "2017-12-02"})
	require.Len(t, plan.Calls, 1)
	assert.Equal(t, toolspec.FunnelTrend, plan.Calls[0].Tool)
	days, _ := plan.Calls[0].DaysParam()
	assert.Equal(t, 1, days)
	assert.Equal(t, "2017-12-02", plan.Calls[0].StringParam("end_dt"))
}

func TestSynthesize_RangeWordsKeepWindow(t *testing.T) {
	p := newRulePlanner()

	plan := p.Synthesize(context.Background(), "funnel trend for the last 7 days ending 2017-12-02",
		models.Slots{Intent: models.IntentFunnelTrend, Dt: "2017-12-02", Days: 7})
	require.Len(t, plan.Calls, 1)
	assert.Equal(t, toolspec.FunnelTrend, plan.Calls[0].Tool)
	days, _ := plan.Calls[0].DaysParam()
	assert.Equal(t, 7, days)
	assert.Equal(t, "2017-12-02", plan.Calls[0].StringParam("end_dt"))
}

func TestSynthesize_DiagnoseComparison(t *testing.T) {
	p := newRulePlanner()

	plan := p.Synthesize(context.Background(),
		"Dec 1 to Dec 2, why did buyers drop, which category dragged?",
		models.Slots{Intent: models.IntentDiagnose, Dt: "2017-12-02", PrevDt: "2017-12-01"})

	require.Len(t, plan.Calls, 4)
	assert.Equal(t, []string{
		toolspec.SingleDayOverview,
		toolspec.SingleDayOverview,
		toolspec.FunnelTrend,
		toolspec.CategoryContrib,
	}, plan.ToolKeys())
	assert.Equal(t, "2017-12-01", plan.Calls[0].StringParam("dt"))
	assert.Equal(t, "2017-12-02", plan.Calls[1].StringParam("dt"))
	days, _ := plan.Calls[2].DaysParam()
	assert.Equal(t, 2, days)
	assert.Equal(t, "2017-12-02", plan.Calls[2].StringParam("end_dt"))
	assert.Equal(t, "2017-12-02", plan.Calls[3].StringParam("dt"))
}

func TestSynthesize_DiagnoseSingleDate(t *testing.T) {
	p := newRulePlanner()

	plan := p.Synthesize(context.Background(), "why did things change on 2017-12-02?",
		models.Slots{Intent: models.IntentDiagnose, Dt: "2017-12-02"})
	require.Len(t, plan.Calls, 2)
	assert.Equal(t, toolspec.SingleDayOverview, plan.Calls[0].Tool)
	assert.Equal(t, toolspec.FunnelTrend, plan.Calls[1].Tool)
	days, _ := plan.Calls[1].DaysParam()
	assert.Equal(t, 9, days)
}

func TestSynthesize_DiagnoseChainCapped(t *testing.T) {
	p := newRulePlanner()

	plan := p.Synthesize(context.Background(),
		"2017-12-01 vs 2017-12-02 why the drop, which category?",
		models.Slots{Intent: models.IntentDiagnose, Dt: "2017-12-02", PrevDt: "2017-12-01"})
	assert.LessOrEqual(t, len(plan.Calls), maxDiagnoseCalls)
}

func TestSynthesize_GeneratorProposalAccepted(t *testing.T) {
	gen := &fakeGen{out: map[string]interface{}{
		"calls": []interface{}{
			map[string]interface{}{
				"tool":   "range_overview",
				"params": map[string]interface{}{"days": float64(7)},
			},
		},
	}}
	p := New(gen, &fakeDates{dt: "2017-12-03"}, nil)

	plan := p.Synthesize(context.Background(), "trend for the last 7 days",
		models.Slots{Intent: models.IntentRangeOverview, Days: 7})
	require.Len(t, plan.Calls, 1)
	assert.Equal(t, toolspec.RangeOverview, plan.Calls[0].Tool)
	require.Len(t, plan.Plots, 1)
	assert.Equal(t, "trend", plan.Plots[0].PlotType)
}

func TestSynthesize_GeneratorRogueToolFallsBack(t *testing.T) {
	gen := &fakeGen{out: map[string]interface{}{
		"calls": []interface{}{
			map[string]interface{}{
				"tool":   "drop_tables",
				"params": map[string]interface{}{},
			},
		},
	}}
	p := New(gen, &fakeDates{dt: "2017-12-03"}, nil)

	plan := p.Synthesize(context.Background(), "recent trend",
		models.Slots{Intent: models.IntentRangeOverview})
	require.Len(t, plan.Calls, 1)
	assert.Equal(t, toolspec.RangeOverview, plan.Calls[0].Tool, "rogue proposal must be discarded wholesale")
}

func TestSynthesize_GeneratorRefusalStaysEmptyOnComparison(t *testing.T) {
	gen := &fakeGen{out: map[string]interface{}{
		"not_supported": map[string]interface{}{
			"metric": "GMV",
			"reason": "no amount fields",
		},
	}}
	p := New(gen, &fakeDates{dt: "2017-12-03"}, nil)

	// Comparison-shaped slots must not smuggle the diagnose template or a
	// plot into a refused turn.
	plan := p.Synthesize(context.Background(), "why did GMV drop from 2017-12-01 to 2017-12-02?",
		models.Slots{Intent: models.IntentDiagnose, Dt: "2017-12-02", PrevDt: "2017-12-01"})
	require.NotNil(t, plan.NotSupported)
	assert.Equal(t, "GMV", plan.NotSupported.Metric)
	assert.Empty(t, plan.Calls)
	assert.Empty(t, plan.Plots)
}

func TestSynthesize_GeneratorErrorFallsBack(t *testing.T) {
	gen := &fakeGen{err: errors.New("timeout")}
	p := New(gen, &fakeDates{dt: "2017-12-03"}, nil)

	plan := p.Synthesize(context.Background(), "recent trend",
		models.Slots{Intent: models.IntentRangeOverview})
	require.Len(t, plan.Calls, 1)
	assert.Equal(t, toolspec.RangeOverview, plan.Calls[0].Tool)
}

func TestDerivePlots(t *testing.T) {
	calls := []models.Call{
		{Tool: toolspec.SingleDayOverview, Params: map[string]interface{}{"dt": "2017-12-03"}},
		{Tool: toolspec.FunnelTrend, Params: map[string]interface{}{"days": 9}},
		{Tool: toolspec.CategoryContrib, Params: map[string]interface{}{"dt": "2017-12-03"}},
	}

	plots := derivePlots(calls, "how are things")
	require.Len(t, plots, 2)
	assert.Equal(t, "trend", plots[0].PlotType)
	assert.Equal(t, 1, plots[0].FromCall)
	assert.Equal(t, "topn_bar", plots[1].PlotType)
	assert.Equal(t, 2, plots[1].FromCall)

	// Asking for a chart includes the single-day call.
	plots = derivePlots(calls, "how are things, plot it")
	assert.Len(t, plots, 3)
}
