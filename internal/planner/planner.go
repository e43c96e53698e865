// internal/planner/planner.go
package planner

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"analytics-agent/internal/common/logger"
	"analytics-agent/internal/common/metrics"
	"analytics-agent/internal/models"
	"analytics-agent/pkg/toolspec"
)

// FallbackDefaultDt is used when the dataset's latest date cannot be read.
const FallbackDefaultDt = "2017-12-03"

// maxDiagnoseCalls bounds the diagnose evidence chain.
const maxDiagnoseCalls = 4

// Generator proposes a plan for a question. Output has passed a structural
// schema check but remains untrusted; every value is re-validated here.
type Generator interface {
	GeneratePlan(ctx context.Context, question string, slots models.Slots) (map[string]interface{}, error)
}

// DateProvider resolves the latest date present in the dataset.
type DateProvider interface {
	DefaultDt(ctx context.Context) string
}

// Planner turns slots into an executable plan. When a generator is
// configured its proposal is preferred, but only after it survives the full
// validation pass; anything less falls back to rule synthesis.
type Planner struct {
	gen   Generator
	dates DateProvider
	log   logger.Logger
}

func New(gen Generator, dates DateProvider, log logger.Logger) *Planner {
	return &Planner{gen: gen, dates: dates, log: log}
}

// Range words allow a day-count window even when an explicit date is present.
var rangeWordsPat = regexp.MustCompile(
	`(?i)最近|近\s*\d*\s*天|近几天|趋势|过去|这几天|这周|本周|上周|近[期时日]|` +
		`\b(?:recent|recently|lately|trend|past)\b|\blast\s+\d+\s+days\b|\bthis\s+week\b`)

func hasRangeWords(question string) bool {
	return rangeWordsPat.MatchString(strings.TrimSpace(question))
}

// Synthesize builds the plan for one question.
func (p *Planner) Synthesize(ctx context.Context, question string, slots models.Slots) models.Plan {
	if slots.NotSupported != nil {
		return models.Plan{
			Assumptions:  append([]string(nil), slots.Assumptions...),
			NotSupported: slots.NotSupported,
		}
	}
	if slots.Intent == models.IntentUnknown {
		return models.Plan{Assumptions: append([]string(nil), slots.Assumptions...)}
	}

	if p.gen != nil {
		raw, err := p.gen.GeneratePlan(ctx, question, slots)
		if err == nil {
			if plan, ok := coerceExternalPlan(raw); ok {
				validated, errs := Validate(plan, question, slots)
				if len(errs) == 0 {
					validated.Assumptions = mergeAssumptions(slots.Assumptions, validated.Assumptions)
					validated.Plots = derivePlots(validated.Calls, question)
					return validated
				}
				metrics.PlansRejected.Inc()
				if p.log != nil {
					p.log.WithFields(map[string]interface{}{
						"errors": strings.Join(errs, "; "),
					}).Warn("generated plan rejected, using rule synthesis", nil)
				}
			}
		} else if p.log != nil {
			p.log.WithError(err).Warn("plan generator unusable, using rule synthesis", nil)
		}
	}

	plan := p.ruleSynthesize(ctx, question, slots)
	validated, errs := Validate(plan, question, slots)
	if len(errs) > 0 && p.log != nil {
		// Rule synthesis is the floor; log and carry on with what we have.
		p.log.WithFields(map[string]interface{}{
			"errors": strings.Join(errs, "; "),
		}).Warn("rule plan failed validation", nil)
	}
	validated.Plots = derivePlots(validated.Calls, question)
	return validated
}

// ruleSynthesize is the deterministic fallback path.
func (p *Planner) ruleSynthesize(ctx context.Context, question string, slots models.Slots) models.Plan {
	plan := models.Plan{Assumptions: append([]string(nil), slots.Assumptions...)}

	// An explicit date wins over a window unless the question also carries
	// range language: "Dec 3 metrics" means that day, not a trend ending then.
	if slots.Dt != "" && !hasRangeWords(question) {
		switch slots.Intent {
		case models.IntentFunnelTrend:
			plan.Assumptions = appendAssumption(plan.Assumptions, "explicit date takes precedence over a window")
			plan.Calls = []models.Call{{
				Tool:   toolspec.FunnelTrend,
				Params: map[string]interface{}{"days": 1, "end_dt": slots.Dt},
			}}
			return plan
		case models.IntentRangeOverview, models.IntentRetention, models.IntentActivity:
			plan.Assumptions = appendAssumption(plan.Assumptions, "explicit date takes precedence over a window")
			plan.Calls = []models.Call{{
				Tool:   toolspec.SingleDayOverview,
				Params: map[string]interface{}{"dt": slots.Dt},
			}}
			return plan
		}
	}

	switch slots.Intent {
	case models.IntentDiagnose:
		return p.diagnosePlan(ctx, question, slots, plan)

	case models.IntentSingleDayOverview, models.IntentCategoryContrib, models.IntentNewVsReturning:
		dt := slots.Dt
		if dt == "" {
			dt = p.defaultDt(ctx)
			plan.Assumptions = appendAssumption(plan.Assumptions,
				fmt.Sprintf("no date given, using latest dataset date %s", dt))
		}
		plan.Calls = []models.Call{{
			Tool:   string(slots.Intent),
			Params: map[string]interface{}{"dt": dt},
		}}

	case models.IntentRangeOverview, models.IntentFunnelTrend,
		models.IntentRetention, models.IntentActivity:
		tool, _ := toolspec.Lookup(string(slots.Intent))
		days := slots.Days
		if days == 0 {
			days = tool.DefaultDays
			plan.Assumptions = appendAssumption(plan.Assumptions,
				fmt.Sprintf("no window given, defaulted to the last %d days", days))
		}
		params := map[string]interface{}{"days": toolspec.ClampDays(days)}
		if slots.Dt != "" && tool.AcceptsEndDt {
			params["end_dt"] = slots.Dt
		}
		plan.Calls = []models.Call{{Tool: tool.Key, Params: params}}
	}

	return plan
}

// diagnosePlan builds the bounded diagnostic evidence chain. With a genuine
// two-date comparison it emits the canonical prev/target/funnel triple;
// otherwise a target-day overview plus a funnel window.
func (p *Planner) diagnosePlan(ctx context.Context, question string, slots models.Slots, plan models.Plan) models.Plan {
	targetDt := slots.Dt
	if targetDt == "" {
		targetDt = p.defaultDt(ctx)
		plan.Assumptions = appendAssumption(plan.Assumptions,
			fmt.Sprintf("no date given, using latest dataset date %s", targetDt))
	}

	if slots.PrevDt != "" && slots.PrevDt != targetDt {
		plan.Assumptions = appendAssumption(plan.Assumptions,
			fmt.Sprintf("comparing %s against %s", slots.PrevDt, targetDt))
		plan.Calls = diagnoseComparisonCalls(slots.PrevDt, targetDt)
	} else {
		days := slots.Days
		if days == 0 {
			days = toolspec.DefaultDaysOverview
			plan.Assumptions = appendAssumption(plan.Assumptions,
				fmt.Sprintf("no window given, defaulted to the last %d days", days))
		}
		plan.Calls = []models.Call{
			{Tool: toolspec.SingleDayOverview, Params: map[string]interface{}{"dt": targetDt}},
			{Tool: toolspec.FunnelTrend, Params: map[string]interface{}{"days": toolspec.ClampDays(days), "end_dt": targetDt}},
		}
	}

	q := strings.ToLower(question)
	asksCategory := strings.Contains(q, "类目") || strings.Contains(q, "品类") ||
		strings.Contains(q, "categor")
	if asksCategory && len(plan.Calls) < maxDiagnoseCalls {
		plan.Calls = append(plan.Calls, models.Call{
			Tool:   toolspec.CategoryContrib,
			Params: map[string]interface{}{"dt": targetDt},
		})
	}
	return plan
}

func (p *Planner) defaultDt(ctx context.Context) string {
	if p.dates != nil {
		if dt := p.dates.DefaultDt(ctx); dt != "" {
			return dt
		}
	}
	return FallbackDefaultDt
}

// coerceExternalPlan converts schema-checked generator output into a typed
// plan. Calls may use "tool" or "tool_key"; anything structurally off makes
// the whole proposal unusable.
func coerceExternalPlan(raw map[string]interface{}) (models.Plan, bool) {
	var plan models.Plan

	if ns, ok := raw["not_supported"].(map[string]interface{}); ok {
		coerced := &models.NotSupported{}
		coerced.Metric, _ = ns["metric"].(string)
		coerced.Reason, _ = ns["reason"].(string)
		coerced.MissingFields, _ = ns["missing_fields"].(string)
		coerced.Suggestion, _ = ns["suggestion"].(string)
		plan.NotSupported = coerced
		return plan, true
	}

	callsRaw, ok := raw["calls"].([]interface{})
	if !ok {
		return models.Plan{}, false
	}
	for _, item := range callsRaw {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return models.Plan{}, false
		}
		tool, _ := obj["tool"].(string)
		if tool == "" {
			tool, _ = obj["tool_key"].(string)
		}
		params, _ := obj["params"].(map[string]interface{})
		if params == nil {
			params = map[string]interface{}{}
		}
		plan.Calls = append(plan.Calls, models.Call{Tool: tool, Params: params})
	}

	if list, ok := raw["assumptions"].([]interface{}); ok {
		for _, item := range list {
			if s, ok := item.(string); ok {
				plan.Assumptions = appendAssumption(plan.Assumptions, s)
			}
		}
	}
	return plan, true
}

func mergeAssumptions(base, extra []string) []string {
	merged := append([]string(nil), base...)
	for _, a := range extra {
		merged = appendAssumption(merged, a)
	}
	return merged
}
