// internal/models/plan.go
package models

// Call is one data-retrieval invocation. Params hold scalar values only
// (dt/end_dt strings, days ints).
type Call struct {
	Tool   string                 `json:"tool_key"`
	Params map[string]interface{} `json:"params"`
}

// DaysParam returns the days parameter as an int, handling the float64 that
// json decoding produces for numbers.
func (c Call) DaysParam() (int, bool) {
	v, ok := c.Params["days"]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// StringParam returns a string-typed parameter, "" when absent or not a string.
func (c Call) StringParam(key string) string {
	if v, ok := c.Params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// PlotSpec describes one chart derived from a call's result.
type PlotSpec struct {
	PlotType string                 `json:"plot_type"` // trend | topn_bar
	FromCall int                    `json:"from_call"` // index into Plan.Calls
	Config   map[string]interface{} `json:"config"`
}

// Plan is the sole contract handed to the execution collaborator. It is fully
// self-describing: when NotSupported is set, Calls and Plots are empty.
type Plan struct {
	Calls        []Call        `json:"calls"`
	Plots        []PlotSpec    `json:"plots"`
	Assumptions  []string      `json:"assumptions"`
	NotSupported *NotSupported `json:"not_supported,omitempty"`
}

// ToolKeys returns the ordered tool identifiers of the plan's calls.
func (p Plan) ToolKeys() []string {
	keys := make([]string, 0, len(p.Calls))
	for _, c := range p.Calls {
		keys = append(keys, c.Tool)
	}
	return keys
}

// CallResult is the per-call outcome reported by the executor. Empty result
// sets count as failures with a standard "empty data" error so the narrator
// can surface the limitation.
type CallResult struct {
	Tool   string                   `json:"tool_key"`
	Params map[string]interface{}   `json:"params"`
	OK     bool                     `json:"ok"`
	Error  string                   `json:"error,omitempty"`
	Rows   []map[string]interface{} `json:"rows,omitempty"`
}
