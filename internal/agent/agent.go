// internal/agent/agent.go
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"analytics-agent/internal/common/logger"
	"analytics-agent/internal/common/metrics"
	"analytics-agent/internal/models"
	"analytics-agent/internal/narrator"
)

// SlotMapper resolves a question into canonical slots.
type SlotMapper interface {
	Map(ctx context.Context, question string, sctx models.SessionContext) models.Slots
}

// PlanSynthesizer turns slots into an executable plan.
type PlanSynthesizer interface {
	Synthesize(ctx context.Context, question string, slots models.Slots) models.Plan
}

// PlanExecutor runs the plan's calls against the dataset.
type PlanExecutor interface {
	RunPlan(ctx context.Context, calls []models.Call) map[int]models.CallResult
}

// SessionStore is the per-session memory collaborator.
type SessionStore interface {
	Read(ctx context.Context, sessionID string) (models.SessionContext, error)
	Patch(ctx context.Context, sessionID string, patch map[string]interface{}) error
}

// AnswerWriter renders the executed plan into prose.
type AnswerWriter interface {
	Narrate(question string, plan models.Plan, results map[int]models.CallResult) narrator.Answer
}

// Result is one completed question turn.
type Result struct {
	TraceID string          `json:"trace_id"`
	Answer  narrator.Answer `json:"answer"`
	Slots   models.Slots    `json:"slots"`
	Plan    models.Plan     `json:"plan"`
}

// Agent wires the pipeline stages together. Each stage is total: a turn
// always produces an answer, degraded where a collaborator failed.
type Agent struct {
	mapper   SlotMapper
	planner  PlanSynthesizer
	executor PlanExecutor
	sessions SessionStore
	narrator AnswerWriter
	log      logger.Logger
}

func New(mapper SlotMapper, planner PlanSynthesizer, executor PlanExecutor, sessions SessionStore, narrator AnswerWriter, log logger.Logger) *Agent {
	return &Agent{
		mapper:   mapper,
		planner:  planner,
		executor: executor,
		sessions: sessions,
		narrator: narrator,
		log:      log,
	}
}

// Answer runs one full turn: session read, slot mapping, plan synthesis,
// execution, narration, session save. Session failures degrade to a
// stateless turn rather than an error.
func (a *Agent) Answer(ctx context.Context, sessionID, question string) (Result, error) {
	start := time.Now()
	defer func() {
		metrics.TurnDuration.Observe(time.Since(start).Seconds())
	}()

	traceID := uuid.NewString()
	log := a.log.WithFields(map[string]interface{}{
		"trace_id":   traceID,
		"session_id": sessionID,
	})

	question, wantTrace := stripTraceSuffix(question)

	sctx := models.SessionContext{}
	if a.sessions != nil {
		read, err := a.sessions.Read(ctx, sessionID)
		if err != nil {
			log.WithError(err).Warn("session read failed, continuing stateless", nil)
		} else {
			sctx = read
		}
	}

	slots := a.mapper.Map(ctx, question, sctx)
	metrics.QuestionsTotal.WithLabelValues(string(slots.Intent)).Inc()

	plan := a.planner.Synthesize(ctx, question, slots)

	results := map[int]models.CallResult{}
	if plan.NotSupported == nil && len(plan.Calls) > 0 {
		results = a.executor.RunPlan(ctx, plan.Calls)
	}

	answer := a.narrator.Narrate(question, plan, results)
	if wantTrace {
		answer.Text = answer.Text + "\n\n" + traceSummary(traceID, slots, plan, results)
	}

	if a.sessions != nil {
		patch := sessionPatch(sctx, slots, plan, answer)
		if len(patch) > 0 {
			if err := a.sessions.Patch(ctx, sessionID, patch); err != nil {
				log.WithError(err).Warn("session save failed", nil)
			}
		}
	}

	log.Info("turn completed", map[string]interface{}{
		"intent":     string(slots.Intent),
		"dt":         slots.Dt,
		"prev_dt":    slots.PrevDt,
		"days":       slots.Days,
		"tool_keys":  plan.ToolKeys(),
		"calls":      len(plan.Calls),
		"elapsed_ms": time.Since(start).Milliseconds(),
	})

	return Result{
		TraceID: traceID,
		Answer:  answer,
		Slots:   slots,
		Plan:    plan,
	}, nil
}

// traceSuffixes are recognized at the end of a question, case-insensitive.
var traceSuffixes = []string{"/trace", "show trace", "debug"}

func stripTraceSuffix(question string) (string, bool) {
	trimmed := strings.TrimSpace(question)
	lower := strings.ToLower(trimmed)
	for _, suffix := range traceSuffixes {
		if strings.HasSuffix(lower, suffix) {
			cut := trimmed[:len(trimmed)-len(suffix)]
			return strings.TrimSpace(cut), true
		}
	}
	return trimmed, false
}

// sessionPatch proposes the memory update for a completed turn. A turn that
// resolved a single day on a new date stashes the previous date as prev_dt so
// a follow-up "why did it drop" gets a two-point comparison.
func sessionPatch(sctx models.SessionContext, slots models.Slots, plan models.Plan, answer narrator.Answer) map[string]interface{} {
	if slots.NotSupported != nil || slots.Intent == models.IntentUnknown {
		return nil
	}

	patch := map[string]interface{}{
		"last_intent": string(slots.Intent),
	}
	if slots.Dt != "" {
		patch["last_dt"] = slots.Dt
	}
	if slots.PrevDt != "" {
		patch["prev_dt"] = slots.PrevDt
	} else if slots.Intent == models.IntentSingleDayOverview &&
		sctx.LastIntent == string(models.IntentSingleDayOverview) &&
		sctx.LastDt != "" && slots.Dt != "" && sctx.LastDt != slots.Dt {
		patch["prev_dt"] = sctx.LastDt
	}
	if slots.Days > 0 {
		patch["last_days"] = slots.Days
	}
	if slots.MetricFocus != "" {
		patch["last_metric_focus"] = slots.MetricFocus
	}
	if keys := plan.ToolKeys(); len(keys) > 0 {
		patch["last_tool_keys"] = keys
	}
	if answer.Summary != "" {
		patch["last_answer_summary"] = answer.Summary
	}
	return patch
}

func traceSummary(traceID string, slots models.Slots, plan models.Plan, results map[int]models.CallResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "trace %s\n", traceID)
	fmt.Fprintf(&b, "slots: intent=%s dt=%s prev_dt=%s days=%d focus=%s\n",
		slots.Intent, slots.Dt, slots.PrevDt, slots.Days, slots.MetricFocus)
	for _, a := range slots.Assumptions {
		fmt.Fprintf(&b, "assumed: %s\n", a)
	}

	for i, call := range plan.Calls {
		line := fmt.Sprintf("call %d: %s %v", i+1, call.Tool, call.Params)
		if res, ok := results[i]; ok {
			if res.OK {
				line += fmt.Sprintf(" -> %d rows", len(res.Rows))
			} else {
				line += fmt.Sprintf(" -> error: %s", res.Error)
			}
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
