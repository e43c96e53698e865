// internal/planner/validator.go
package planner

import (
	"fmt"
	"strings"
	"time"

	"analytics-agent/internal/models"
	"analytics-agent/internal/normalize"
	"analytics-agent/pkg/toolspec"
)

const assumptionDefaultWindow = "no time window given, defaulted to the last 9 days"

// Validate checks a plan against the tool whitelist and the question's
// explicit dates, patches recoverable gaps in place and returns the repaired
// plan plus any unrecoverable errors. A plan that comes back with errors must
// be discarded by the caller.
//
// Checks, in order: whitelist membership, date coverage, default-window
// injection, day-count clamping, and the diagnose comparison template.
func Validate(plan models.Plan, question string, slots models.Slots) (models.Plan, []string) {
	// A refusal stands alone. External generators sometimes attach calls to a
	// not_supported plan anyway; drop them before any repair can touch them.
	if plan.NotSupported != nil {
		plan.Calls = nil
		plan.Plots = nil
		return plan, nil
	}

	var errs []string

	for i, c := range plan.Calls {
		if c.Tool == "" {
			errs = append(errs, fmt.Sprintf("calls[%d] has no tool", i))
		} else if !toolspec.IsWhitelisted(c.Tool) {
			errs = append(errs, fmt.Sprintf("calls[%d] tool %q is not whitelisted, available: %s",
				i, c.Tool, strings.Join(toolspec.Whitelist(), ", ")))
		}
	}

	// Every date the user spelled out must be answered by some call.
	if len(plan.Calls) > 0 {
		for _, d := range normalize.Default().ExtractDates(question) {
			if !planCoversDate(plan, d) {
				errs = append(errs, fmt.Sprintf("question mentions %s but no call covers that date", d))
			}
		}
	}

	if !planHasTimeParams(plan) {
		injected := false
		for i, c := range plan.Calls {
			if !toolspec.NeedsDays(c.Tool) {
				continue
			}
			if _, ok := c.DaysParam(); !ok {
				if plan.Calls[i].Params == nil {
					plan.Calls[i].Params = map[string]interface{}{}
				}
				plan.Calls[i].Params["days"] = toolspec.DefaultDaysOverview
				injected = true
			}
		}
		if injected {
			plan.Assumptions = appendAssumption(plan.Assumptions, assumptionDefaultWindow)
		}
	}

	for i, c := range plan.Calls {
		if d, ok := c.DaysParam(); ok {
			plan.Calls[i].Params["days"] = toolspec.ClampDays(d)
		}
	}

	plan = enforceDiagnoseTemplate(plan, slots)

	return plan, errs
}

// planHasTimeParams reports whether any call already carries a time parameter.
func planHasTimeParams(plan models.Plan) bool {
	for _, c := range plan.Calls {
		for _, k := range []string{"dt", "days", "end_dt", "start", "end"} {
			if v, ok := c.Params[k]; ok && v != nil && v != "" {
				return true
			}
		}
	}
	return false
}

// planCoversDate reports whether some call's dt or window includes the date.
func planCoversDate(plan models.Plan, date string) bool {
	for _, c := range plan.Calls {
		if c.StringParam("dt") == date {
			return true
		}
		if start, end := c.StringParam("start"), c.StringParam("end"); start != "" && end != "" {
			if start <= date && date <= end {
				return true
			}
		}
		if end := c.StringParam("end_dt"); end != "" {
			days, ok := c.DaysParam()
			if !ok {
				days = 1
			}
			if start := shiftDate(end, -(days - 1)); start != "" {
				if start <= date && date <= end {
					return true
				}
			}
		}
	}
	return false
}

// enforceDiagnoseTemplate rewrites a diagnose plan for a genuine two-date
// comparison into the canonical shape: overview of each day plus a two-day
// funnel ending at the later one, with at most one trailing category call.
// External generators like to improvise here; the template is not negotiable.
func enforceDiagnoseTemplate(plan models.Plan, slots models.Slots) models.Plan {
	if slots.Intent != models.IntentDiagnose ||
		slots.Dt == "" || slots.PrevDt == "" || slots.PrevDt == slots.Dt {
		return plan
	}

	expected := diagnoseComparisonCalls(slots.PrevDt, slots.Dt)
	if len(plan.Calls) >= len(expected) && callsEqual(plan.Calls[:len(expected)], expected) {
		return plan
	}

	rebuilt := expected
	for _, c := range plan.Calls {
		if c.Tool == toolspec.CategoryContrib {
			c.Params = map[string]interface{}{"dt": slots.Dt}
			rebuilt = append(rebuilt, c)
			break
		}
	}
	plan.Calls = rebuilt
	return plan
}

func diagnoseComparisonCalls(prevDt, dt string) []models.Call {
	return []models.Call{
		{Tool: toolspec.SingleDayOverview, Params: map[string]interface{}{"dt": prevDt}},
		{Tool: toolspec.SingleDayOverview, Params: map[string]interface{}{"dt": dt}},
		{Tool: toolspec.FunnelTrend, Params: map[string]interface{}{"days": 2, "end_dt": dt}},
	}
}

func callsEqual(a, b []models.Call) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Tool != b[i].Tool || len(a[i].Params) != len(b[i].Params) {
			return false
		}
		for k, v := range b[i].Params {
			got, ok := a[i].Params[k]
			if !ok || fmt.Sprintf("%v", got) != fmt.Sprintf("%v", v) {
				return false
			}
		}
	}
	return true
}

// shiftDate moves an ISO date by n days, returning "" on parse failure.
func shiftDate(date string, n int) string {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return ""
	}
	return t.AddDate(0, 0, n).Format("2006-01-02")
}

func appendAssumption(list []string, note string) []string {
	for _, a := range list {
		if a == note {
			return list
		}
	}
	return append(list, note)
}
