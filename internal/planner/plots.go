// internal/planner/plots.go
package planner

import (
	"strings"

	"analytics-agent/internal/models"
	"analytics-agent/pkg/toolspec"
)

var plotRequestWords = []string{"画图", "趋势图", "plot", "chart", "graph"}

// derivePlots maps calls to chart specs mechanically from the tool registry.
// Trend tools always chart; the category ranking gets a top-N bar; a
// single-day overview charts only when the question asks for a picture.
func derivePlots(calls []models.Call, question string) []models.PlotSpec {
	q := strings.ToLower(strings.TrimSpace(question))
	wantPlot := false
	for _, w := range plotRequestWords {
		if strings.Contains(q, w) {
			wantPlot = true
			break
		}
	}

	var plots []models.PlotSpec
	for i, c := range calls {
		tool, ok := toolspec.Lookup(c.Tool)
		if !ok {
			continue
		}
		switch {
		case c.Tool == toolspec.CategoryContrib:
			plots = append(plots, models.PlotSpec{
				PlotType: "topn_bar",
				FromCall: i,
				Config: map[string]interface{}{
					"x":     tool.TimeAxis,
					"y":     tool.Columns[0],
					"n":     10,
					"title": tool.DisplayName,
				},
			})
		case c.Tool == toolspec.SingleDayOverview && !wantPlot:
			// A one-row result has nothing to chart unless asked.
		case c.Tool == toolspec.NewVsReturning:
			// Two ratios for one day; the narrator states them inline.
		default:
			plots = append(plots, models.PlotSpec{
				PlotType: "trend",
				FromCall: i,
				Config: map[string]interface{}{
					"x":     tool.TimeAxis,
					"ys":    tool.Columns,
					"title": tool.DisplayName,
				},
			})
		}
	}
	return plots
}
