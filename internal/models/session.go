// internal/models/session.go
package models

// SessionContext is the prior-turn memory read at merge time. It is owned by
// the session memory collaborator; the pipeline only reads it and proposes a
// patch after a successful turn.
type SessionContext struct {
	LastDt            string   `json:"last_dt,omitempty"`
	PrevDt            string   `json:"prev_dt,omitempty"`
	LastDays          int      `json:"last_days,omitempty"`
	LastIntent        string   `json:"last_intent,omitempty"`
	LastToolKeys      []string `json:"last_tool_keys,omitempty"`
	LastMetricFocus   string   `json:"last_metric_focus,omitempty"`
	LastAnswerSummary string   `json:"last_answer_summary,omitempty"`
}

// IsZero reports whether no memory is present.
func (s SessionContext) IsZero() bool {
	return s.LastDt == "" && s.PrevDt == "" && s.LastDays == 0 &&
		s.LastIntent == "" && len(s.LastToolKeys) == 0 &&
		s.LastMetricFocus == "" && s.LastAnswerSummary == ""
}
