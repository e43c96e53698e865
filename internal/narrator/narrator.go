// internal/narrator/narrator.go
// Turns executed plans into short grounded prose: one headline, evidence
// bullets per call, and explicit limitations for calls that failed. Every
// number in the text comes from a result row, never from the model.
package narrator

import (
	"fmt"
	"sort"
	"strings"

	"analytics-agent/internal/models"
	"analytics-agent/pkg/toolspec"
)

// Answer is the user-facing result of one turn.
type Answer struct {
	Text     string            `json:"text"`
	Headline string            `json:"headline,omitempty"`
	Evidence []string          `json:"evidence,omitempty"`
	Charts   []models.PlotSpec `json:"charts,omitempty"`
	// Summary is the one-line recap stored in session memory for follow-ups.
	Summary string `json:"summary,omitempty"`
}

type Narrator struct{}

func New() *Narrator { return &Narrator{} }

// Narrate composes the answer for a plan and its execution results.
func (n *Narrator) Narrate(question string, plan models.Plan, results map[int]models.CallResult) Answer {
	if plan.NotSupported != nil {
		return notSupportedAnswer(plan.NotSupported)
	}
	if len(plan.Calls) == 0 {
		text := "I couldn't map that question to the available metrics. " +
			"Try core metrics (PV, UV, buyers), the conversion funnel, category contribution, or ask why a metric changed."
		return Answer{Text: text, Summary: "question not mapped"}
	}

	var (
		evidence    []string
		limitations []string
		headline    string
	)

	// Two leading single-day overviews are a comparison; say the delta first.
	if cmp := comparisonHeadline(plan, results); cmp != "" {
		headline = cmp
	}

	for i, call := range plan.Calls {
		res, ok := results[i]
		if !ok {
			continue
		}
		if !res.OK {
			limitations = append(limitations, limitationLine(call, res))
			continue
		}
		line := renderCall(call, res)
		if line == "" {
			continue
		}
		if headline == "" {
			headline = line
		} else {
			evidence = append(evidence, line)
		}
	}

	if headline == "" {
		headline = "No data was available for that question."
	}

	var b strings.Builder
	b.WriteString(headline)
	for _, ev := range evidence {
		b.WriteString("\n- ")
		b.WriteString(ev)
	}
	for _, lim := range limitations {
		b.WriteString("\nNote: ")
		b.WriteString(lim)
	}
	if len(plan.Assumptions) > 0 {
		b.WriteString("\nAssumptions: ")
		b.WriteString(strings.Join(plan.Assumptions, "; "))
	}

	return Answer{
		Text:     b.String(),
		Headline: headline,
		Evidence: evidence,
		Charts:   successfulCharts(plan, results),
		Summary:  headline,
	}
}

func notSupportedAnswer(ns *models.NotSupported) Answer {
	var b strings.Builder
	metric := ns.Metric
	if metric == "" {
		metric = "That metric"
	}
	fmt.Fprintf(&b, "%s isn't answerable here", capitalize(metric))
	if ns.Reason != "" {
		fmt.Fprintf(&b, ": %s", ns.Reason)
	}
	b.WriteString(".")
	if ns.Suggestion != "" {
		fmt.Fprintf(&b, " %s.", capitalize(ns.Suggestion))
	}
	return Answer{Text: b.String(), Summary: fmt.Sprintf("%s not supported", metric)}
}

// comparisonHeadline handles the diagnose pattern: overview(prev) then
// overview(target) as the first two calls.
func comparisonHeadline(plan models.Plan, results map[int]models.CallResult) string {
	if len(plan.Calls) < 2 ||
		plan.Calls[0].Tool != toolspec.SingleDayOverview ||
		plan.Calls[1].Tool != toolspec.SingleDayOverview {
		return ""
	}
	prev, target := results[0], results[1]
	if !prev.OK || !target.OK || len(prev.Rows) == 0 || len(target.Rows) == 0 {
		return ""
	}
	p, t := prev.Rows[0], target.Rows[0]

	parts := []string{}
	for _, m := range []string{"buyers", "uv", "pv"} {
		pv, pok := num(p[m])
		tv, tok := num(t[m])
		if !pok || !tok || pv == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %s (%s)", m, formatNum(tv), signedPct((tv-pv)/pv)))
	}
	if len(parts) == 0 {
		return ""
	}
	return fmt.Sprintf("%s vs %s: %s.", str(t["dt"]), str(p["dt"]), strings.Join(parts, ", "))
}

func renderCall(call models.Call, res models.CallResult) string {
	switch call.Tool {
	case toolspec.SingleDayOverview:
		r := res.Rows[0]
		return fmt.Sprintf("On %s: PV %s, UV %s, buyers %s.",
			str(r["dt"]), numStr(r["pv"]), numStr(r["uv"]), numStr(r["buyers"]))

	case toolspec.RangeOverview:
		latest, earliest := res.Rows[0], res.Rows[len(res.Rows)-1]
		line := fmt.Sprintf("Core metrics over %d days (%s to %s): UV %s to %s, buyers %s to %s.",
			len(res.Rows), str(earliest["dt"]), str(latest["dt"]),
			numStr(earliest["uv"]), numStr(latest["uv"]),
			numStr(earliest["buyers"]), numStr(latest["buyers"]))
		if e, eok := num(earliest["uv"]); eok && e != 0 {
			if l, lok := num(latest["uv"]); lok {
				line += fmt.Sprintf(" UV change %s.", signedPct((l-e)/e))
			}
		}
		return line

	case toolspec.FunnelTrend:
		latest := res.Rows[0]
		line := fmt.Sprintf("Funnel on %s: UV to buyer %s, UV to cart %s, cart to buyer %s.",
			str(latest["dt"]), pctStr(latest["uv_to_buyer"]), pctStr(latest["uv_to_cart"]), pctStr(latest["cart_to_buyer"]))
		if len(res.Rows) == 2 {
			prev := res.Rows[1]
			if pv, pok := num(prev["uv_to_buyer"]); pok {
				if lv, lok := num(latest["uv_to_buyer"]); lok {
					line += fmt.Sprintf(" UV to buyer moved %.2fpp versus %s.",
						(lv-pv)*100, str(prev["dt"]))
				}
			}
		}
		return line

	case toolspec.Retention:
		latest := res.Rows[0]
		return fmt.Sprintf("Next-day retention on %s: %s (%d days of data).",
			str(latest["dt"]), pctStr(latest["retention_1d"]), len(res.Rows))

	case toolspec.Activity:
		latest := res.Rows[0]
		return fmt.Sprintf("DAU on %s: %s (%d days of data).",
			str(latest["dt"]), numStr(latest["dau"]), len(res.Rows))

	case toolspec.CategoryContrib:
		return renderCategories(res.Rows)

	case toolspec.NewVsReturning:
		r := res.Rows[0]
		return fmt.Sprintf("On %s new-user conversion was %s against %s for returning users (new UV %s, returning UV %s).",
			str(r["dt"]), pctStr(r["new_cvr"]), pctStr(r["old_cvr"]), numStr(r["new_uv"]), numStr(r["old_uv"]))
	}
	return ""
}

func renderCategories(rows []map[string]interface{}) string {
	type cat struct {
		id    string
		delta float64
	}
	cats := make([]cat, 0, len(rows))
	for _, r := range rows {
		if d, ok := num(r["delta"]); ok {
			cats = append(cats, cat{id: str(r["category_id"]), delta: d})
		}
	}
	if len(cats) == 0 {
		return "No category-level movement found."
	}
	sort.SliceStable(cats, func(i, j int) bool { return cats[i].delta > cats[j].delta })

	describe := func(list []cat) string {
		parts := make([]string, 0, len(list))
		for _, c := range list {
			parts = append(parts, fmt.Sprintf("%s (%+.0f)", c.id, c.delta))
		}
		return strings.Join(parts, ", ")
	}

	var lifters, draggers []cat
	for _, c := range cats {
		if c.delta > 0 && len(lifters) < 3 {
			lifters = append(lifters, c)
		}
	}
	for i := len(cats) - 1; i >= 0 && len(draggers) < 3; i-- {
		if cats[i].delta < 0 {
			draggers = append(draggers, cats[i])
		}
	}

	var parts []string
	if len(lifters) > 0 {
		parts = append(parts, "Categories lifting buyers: "+describe(lifters)+".")
	}
	if len(draggers) > 0 {
		parts = append(parts, "Dragging: "+describe(draggers)+".")
	}
	if len(parts) == 0 {
		return "Category-level buyer counts were flat."
	}
	return strings.Join(parts, " ")
}

func limitationLine(call models.Call, res models.CallResult) string {
	tool, _ := toolspec.Lookup(call.Tool)
	name := tool.DisplayName
	if name == "" {
		name = call.Tool
	}
	if res.Error == "empty data" {
		return fmt.Sprintf("%s returned no data for the requested period.", name)
	}
	return fmt.Sprintf("%s was unavailable (%s).", name, res.Error)
}

// successfulCharts keeps only plots whose source call produced data.
func successfulCharts(plan models.Plan, results map[int]models.CallResult) []models.PlotSpec {
	var charts []models.PlotSpec
	for _, p := range plan.Plots {
		if res, ok := results[p.FromCall]; ok && res.OK {
			charts = append(charts, p)
		}
	}
	return charts
}

// ==========================
// Value helpers
// ==========================

func num(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case float32:
		return float64(t), true
	}
	return 0, false
}

func str(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func numStr(v interface{}) string {
	if f, ok := num(v); ok {
		return formatNum(f)
	}
	return str(v)
}

func formatNum(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%.2f", f)
}

func pctStr(v interface{}) string {
	if f, ok := num(v); ok {
		return fmt.Sprintf("%.2f%%", f*100)
	}
	return str(v)
}

func signedPct(ratio float64) string {
	return fmt.Sprintf("%+.1f%%", ratio*100)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
