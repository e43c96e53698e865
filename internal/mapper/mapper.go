// internal/mapper/mapper.go
package mapper

import (
	"context"
	"strings"

	"analytics-agent/internal/common/logger"
	"analytics-agent/internal/common/metrics"
	"analytics-agent/internal/models"
	"analytics-agent/internal/normalize"
	"analytics-agent/pkg/toolspec"
)

const (
	defaultDiagnoseDays = 9

	assumptionDiagnoseDays    = "no window given, diagnosing over the last 9 days"
	assumptionClassifierRules = "external classifier unusable, fell back to rules"
)

// Classifier proposes slots for a question. The returned object has passed a
// structural schema check but its values are otherwise untrusted and must be
// coerced field by field.
type Classifier interface {
	Classify(ctx context.Context, question string) (map[string]interface{}, error)
}

// Mapper turns a free-text question into normalized Slots. It prefers the
// external classifier when one is configured and silently degrades to the
// keyword cascade when the classifier errors or returns garbage.
type Mapper struct {
	classifier Classifier
	norm       *normalize.Normalizer
	log        logger.Logger
}

func New(classifier Classifier, norm *normalize.Normalizer, log logger.Logger) *Mapper {
	if norm == nil {
		norm = normalize.Default()
	}
	return &Mapper{classifier: classifier, norm: norm, log: log}
}

// Map produces slots for the question and then folds in session context.
// Both the classifier path and the rule path pass through the same override
// and merge stages, so policy cannot be bypassed by either source.
func (m *Mapper) Map(ctx context.Context, question string, sctx models.SessionContext) models.Slots {
	question = strings.TrimSpace(question)
	if question == "" {
		return models.Slots{Intent: models.IntentUnknown}
	}

	var slots models.Slots
	fromClassifier := false

	if m.classifier != nil {
		raw, err := m.classifier.Classify(ctx, question)
		if err == nil {
			if coerced, ok := m.coerceExternal(raw, question); ok {
				slots = coerced
				fromClassifier = true
			}
		} else if m.log != nil {
			m.log.WithError(err).Warn("classifier unusable, using rule fallback", nil)
		}
	}

	if !fromClassifier {
		slots = m.fallbackMap(question)
		if m.classifier != nil {
			metrics.ClassifierFallbacks.Inc()
			slots.AddAssumption(assumptionClassifierRules)
		}
	}

	applyNotSupportedOverride(&slots, question)
	applyDiagnoseCategoryOverride(&slots, question)

	slots = MergeContext(slots, sctx, question)

	if slots.Intent == models.IntentDiagnose && slots.MetricFocus == "" {
		slots.MetricFocus = models.DefaultMetricFocus
	}
	return slots
}

// coerceExternal converts the schema-checked classifier output into typed
// Slots, dropping every field that does not survive coercion. A missing or
// unparseable intent makes the whole proposal unusable.
func (m *Mapper) coerceExternal(raw map[string]interface{}, question string) (models.Slots, bool) {
	rawIntent, _ := raw["intent"].(string)
	intent := models.ParseIntent(rawIntent)
	if rawIntent == "" {
		return models.Slots{}, false
	}

	slots := models.Slots{Intent: intent}

	if dt, ok := raw["dt"].(string); ok && dt != "" && dt != "null" {
		slots.Dt = dt
	}
	if prev, ok := raw["prev_dt"].(string); ok && prev != "" && prev != "null" {
		slots.PrevDt = prev
	}
	switch v := raw["days"].(type) {
	case float64:
		slots.Days = toolspec.ClampDays(int(v))
	case int:
		slots.Days = toolspec.ClampDays(v)
	}
	if mf, ok := raw["metric_focus"].(string); ok {
		slots.MetricFocus = mf
	}
	if list, ok := raw["assumptions"].([]interface{}); ok {
		for _, item := range list {
			if s, ok := item.(string); ok {
				slots.AddAssumption(s)
			}
		}
	}
	if ns, ok := raw["not_supported"].(map[string]interface{}); ok {
		coerced := &models.NotSupported{}
		coerced.Metric, _ = ns["metric"].(string)
		coerced.Reason, _ = ns["reason"].(string)
		coerced.MissingFields, _ = ns["missing_fields"].(string)
		coerced.Suggestion, _ = ns["suggestion"].(string)
		slots.NotSupported = coerced
	}

	// Classifiers routinely miss local date formats; re-run the normalizer
	// and let its result fill anything the proposal left empty.
	n := m.norm.Normalize(question)
	if slots.Dt == "" && n.Dt != "" {
		slots.Dt = n.Dt
	}
	if slots.PrevDt == "" && n.PrevDt != "" {
		slots.PrevDt = n.PrevDt
	}
	if slots.Days == 0 && n.Days != 0 {
		slots.Days = n.Days
	}
	for _, a := range n.Assumptions {
		slots.AddAssumption(a)
	}

	return slots, true
}
