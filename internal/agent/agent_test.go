// internal/agent/agent_test.go
package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analytics-agent/internal/common/logger"
	"analytics-agent/internal/models"
	"analytics-agent/internal/narrator"
)

type fakeMapper struct {
	slots    models.Slots
	gotSctx  models.SessionContext
	gotQuery string
}

func (f *fakeMapper) Map(_ context.Context, question string, sctx models.SessionContext) models.Slots {
	f.gotQuery = question
	f.gotSctx = sctx
	return f.slots
}

type fakePlanner struct {
	plan models.Plan
}

func (f *fakePlanner) Synthesize(_ context.Context, _ string, _ models.Slots) models.Plan {
	return f.plan
}

type fakeExecutor struct {
	results map[int]models.CallResult
	called  bool
}

func (f *fakeExecutor) RunPlan(_ context.Context, _ []models.Call) map[int]models.CallResult {
	f.called = true
	return f.results
}

type fakeSessions struct {
	sctx     models.SessionContext
	readErr  error
	patchErr error
	patches  []map[string]interface{}
}

func (f *fakeSessions) Read(_ context.Context, _ string) (models.SessionContext, error) {
	return f.sctx, f.readErr
}

func (f *fakeSessions) Patch(_ context.Context, _ string, patch map[string]interface{}) error {
	f.patches = append(f.patches, patch)
	return f.patchErr
}

type fakeNarrator struct {
	answer narrator.Answer
}

func (f *fakeNarrator) Narrate(_ string, _ models.Plan, _ map[int]models.CallResult) narrator.Answer {
	return f.answer
}

func newTestAgent(t *testing.T, m *fakeMapper, p *fakePlanner, e *fakeExecutor, s *fakeSessions, n *fakeNarrator) *Agent {
	t.Helper()
	return New(m, p, e, s, n, logger.NewTestLogger(t))
}

func TestAnswer_FullTurn(t *testing.T) {
	m := &fakeMapper{slots: models.Slots{Intent: models.IntentSingleDayOverview, Dt: "2017-12-03"}}
	p := &fakePlanner{plan: models.Plan{Calls: []models.Call{
		{Tool: "single_day_overview", Params: map[string]interface{}{"dt": "2017-12-03"}},
	}}}
	e := &fakeExecutor{results: map[int]models.CallResult{
		0: {Tool: "single_day_overview", OK: true, Rows: []map[string]interface{}{{"pv": 100}}},
	}}
	s := &fakeSessions{}
	n := &fakeNarrator{answer: narrator.Answer{Text: "On 2017-12-03: PV 100.", Summary: "core metrics for 2017-12-03"}}

	res, err := newTestAgent(t, m, p, e, s, n).Answer(context.Background(), "sess-1", "core metrics for 2017-12-03?")
	require.NoError(t, err)

	assert.NotEmpty(t, res.TraceID)
	assert.True(t, e.called)
	assert.Equal(t, "On 2017-12-03: PV 100.", res.Answer.Text)

	require.Len(t, s.patches, 1)
	patch := s.patches[0]
	assert.Equal(t, "2017-12-03", patch["last_dt"])
	assert.Equal(t, "single_day_overview", patch["last_intent"])
	assert.Equal(t, []string{"single_day_overview"}, patch["last_tool_keys"])
	assert.Equal(t, "core metrics for 2017-12-03", patch["last_answer_summary"])
}

func TestAnswer_NotSupportedSkipsExecution(t *testing.T) {
	m := &fakeMapper{slots: models.Slots{
		Intent:       models.IntentUnknown,
		NotSupported: &models.NotSupported{Metric: "GMV", Reason: "no money fields"},
	}}
	p := &fakePlanner{plan: models.Plan{NotSupported: &models.NotSupported{Metric: "GMV", Reason: "no money fields"}}}
	e := &fakeExecutor{}
	s := &fakeSessions{}
	n := &fakeNarrator{answer: narrator.Answer{Text: "GMV is not available."}}

	_, err := newTestAgent(t, m, p, e, s, n).Answer(context.Background(), "sess-1", "what was GMV yesterday")
	require.NoError(t, err)

	assert.False(t, e.called)
	assert.Empty(t, s.patches, "refused turns must not pollute session memory")
}

func TestAnswer_SessionReadFailureIsStateless(t *testing.T) {
	m := &fakeMapper{slots: models.Slots{Intent: models.IntentSingleDayOverview, Dt: "2017-12-03"}}
	p := &fakePlanner{plan: models.Plan{Calls: []models.Call{{Tool: "single_day_overview"}}}}
	e := &fakeExecutor{results: map[int]models.CallResult{}}
	s := &fakeSessions{
		sctx:    models.SessionContext{LastDt: "2017-12-01"},
		readErr: errors.New("redis down"),
	}
	n := &fakeNarrator{}

	_, err := newTestAgent(t, m, p, e, s, n).Answer(context.Background(), "sess-1", "overview for 2017-12-03")
	require.NoError(t, err)

	assert.True(t, m.gotSctx.IsZero(), "failed read must hand the mapper empty context")
}

func TestAnswer_SessionPatchFailureIsTolerated(t *testing.T) {
	m := &fakeMapper{slots: models.Slots{Intent: models.IntentSingleDayOverview, Dt: "2017-12-03"}}
	p := &fakePlanner{plan: models.Plan{Calls: []models.Call{{Tool: "single_day_overview"}}}}
	e := &fakeExecutor{results: map[int]models.CallResult{}}
	s := &fakeSessions{patchErr: errors.New("redis down")}
	n := &fakeNarrator{answer: narrator.Answer{Text: "ok"}}

	res, err := newTestAgent(t, m, p, e, s, n).Answer(context.Background(), "sess-1", "overview for 2017-12-03")
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Answer.Text)
}

func TestAnswer_PrevDtCarryForward(t *testing.T) {
	m := &fakeMapper{slots: models.Slots{Intent: models.IntentSingleDayOverview, Dt: "2017-12-03"}}
	p := &fakePlanner{plan: models.Plan{Calls: []models.Call{{Tool: "single_day_overview"}}}}
	e := &fakeExecutor{results: map[int]models.CallResult{}}
	s := &fakeSessions{sctx: models.SessionContext{
		LastDt:     "2017-12-02",
		LastIntent: "single_day_overview",
	}}
	n := &fakeNarrator{}

	_, err := newTestAgent(t, m, p, e, s, n).Answer(context.Background(), "sess-1", "and 2017-12-03?")
	require.NoError(t, err)

	require.Len(t, s.patches, 1)
	assert.Equal(t, "2017-12-02", s.patches[0]["prev_dt"],
		"two single-day turns on different dates should remember the earlier one")
}

func TestAnswer_PrevDtNotCarriedAcrossIntents(t *testing.T) {
	m := &fakeMapper{slots: models.Slots{Intent: models.IntentSingleDayOverview, Dt: "2017-12-03"}}
	p := &fakePlanner{plan: models.Plan{Calls: []models.Call{{Tool: "single_day_overview"}}}}
	e := &fakeExecutor{results: map[int]models.CallResult{}}
	s := &fakeSessions{sctx: models.SessionContext{
		LastDt:     "2017-12-02",
		LastIntent: "funnel_trend",
	}}
	n := &fakeNarrator{}

	_, err := newTestAgent(t, m, p, e, s, n).Answer(context.Background(), "sess-1", "overview for 2017-12-03")
	require.NoError(t, err)

	require.Len(t, s.patches, 1)
	_, has := s.patches[0]["prev_dt"]
	assert.False(t, has)
}

func TestAnswer_TraceSuffix(t *testing.T) {
	m := &fakeMapper{slots: models.Slots{Intent: models.IntentSingleDayOverview, Dt: "2017-12-03"}}
	p := &fakePlanner{plan: models.Plan{Calls: []models.Call{
		{Tool: "single_day_overview", Params: map[string]interface{}{"dt": "2017-12-03"}},
	}}}
	e := &fakeExecutor{results: map[int]models.CallResult{
		0: {Tool: "single_day_overview", OK: true, Rows: []map[string]interface{}{{"pv": 100}}},
	}}
	s := &fakeSessions{}
	n := &fakeNarrator{answer: narrator.Answer{Text: "On 2017-12-03: PV 100."}}

	res, err := newTestAgent(t, m, p, e, s, n).Answer(context.Background(), "sess-1", "overview for 2017-12-03 /trace")
	require.NoError(t, err)

	assert.Equal(t, "overview for 2017-12-03", m.gotQuery, "trace suffix must not reach the mapper")
	assert.Contains(t, res.Answer.Text, "trace "+res.TraceID)
	assert.Contains(t, res.Answer.Text, "single_day_overview")
	assert.Contains(t, res.Answer.Text, "-> 1 rows")
}

func TestStripTraceSuffix(t *testing.T) {
	cases := []struct {
		in       string
		want     string
		wantFlag bool
	}{
		{"overview /trace", "overview", true},
		{"overview show trace", "overview", true},
		{"overview DEBUG", "overview", true},
		{"debug the funnel drop", "debug the funnel drop", false},
		{"overview", "overview", false},
	}
	for _, tc := range cases {
		got, flag := stripTraceSuffix(tc.in)
		assert.Equal(t, tc.want, got, tc.in)
		assert.Equal(t, tc.wantFlag, flag, tc.in)
	}
}
