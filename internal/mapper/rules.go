// internal/mapper/rules.go
package mapper

import (
	"strings"

	"analytics-agent/internal/models"
)

// Keyword tables for the rule-based fallback cascade. Questions arrive in
// English or Chinese, so every table carries both. Evaluation order matters:
// later rules are deliberately narrower overrides of earlier general ones.

var moneyMetricWords = []string{
	"gmv", "revenue", "sales amount", "transaction amount", "order count",
	"order volume", "orders", "average order value", "aov", "roi", "arpu",
	"成交额", "销售额", "交易额", "客单价", "订单数",
}

var buyerCountWords = []string{
	"buyer count", "number of buyers", "how many buyers",
	"买家数", "买家多少",
}

var coreMetricWords = []string{
	"core metrics", "core metric", "metrics overview",
	"核心指标", "指标如何",
}

var pvUVWords = []string{"pv", "uv", "page view", "unique visitor", "访客"}

var activityWords = []string{
	"dau", "daily active", "active users", "activity",
	"日活", "活跃用户", "活跃数", "活跃度", "活跃数据",
}

var retentionHardWords = []string{
	"next-day retention", "next day retention", "retention rate", "d1 retention",
	"次日留存", "留存率", "次留",
}

var retentionSoftWords = []string{"retention", "留存"}

var diagnoseQuestionWords = []string{
	"why", "reason", "what happened", "what's going on", "fluctuat",
	"为什么", "原因", "怎么回事", "波动",
}

var diagnoseChangeWords = []string{
	"rose", "risen", "increase", "dropped", "drop", "fell", "fall", "decline",
	"slump", "worse", "diagnose",
	"上升", "下降", "掉了", "跌", "下滑", "变差", "诊断",
}

var categoryWords = []string{
	"category", "categories", "top 5", "top5", "dragged",
	"类目", "品类", "分类", "拖累", "拉动",
}

var categoryAskWords = []string{
	"which category", "which categories", "dragged",
	"哪个类目", "哪些类目", "拖累",
}

var observationWords = []string{
	"dropped", "drop", "fell", "fall", "why", "reason", "what happened",
	"掉了", "跌了", "为什么", "原因", "怎么回事",
}

var newVsOldWords = []string{
	"new vs", "new versus", "new users", "returning users", "old users",
	"new and old", "new-vs",
	"新老", "新用户", "老用户",
}

var conversionWords = []string{"conversion", "转化"}

var funnelWords = []string{
	"funnel", "conversion chain", "cart to purchase", "add-to-cart rate",
	"uv to purchase",
	"漏斗", "转化链", "加购到购买", "uv到购买", "加购率",
}

var overviewHintWords = []string{
	"core metrics", "how are the metrics", "how's the data", "data situation",
	"how did we do", "take a look", "check the data", "show me the numbers",
	"核心指标", "指标如何", "数据怎么样", "数据情况", "表现如何",
	"看下数据", "查下", "帮我看看", "uv多少", "买家多少", "pv多少",
}

var trendWords = []string{
	"trend", "recent", "past", "overall",
	"趋势", "最近", "过去", "走势", "整体情况", "整体表现",
}

var vagueWords = []string{
	"data", "how", "看一下", "数据", "怎么样", "如何",
}

var metricTargetWords = []string{
	"buyer", "uv", "conversion", "cart",
	"买家", "转化率", "转化", "加购",
}

func hasAny(q string, words []string) bool {
	for _, w := range words {
		if strings.Contains(q, w) {
			return true
		}
	}
	return false
}

// questionNamesMetric reports whether the question explicitly names a
// diagnostic target, in which case session recall of metric_focus is skipped.
func questionNamesMetric(question string) bool {
	return hasAny(strings.ToLower(strings.TrimSpace(question)), metricTargetWords)
}

// moneyMetricName picks the display name for the unsupported money metric.
func moneyMetricName(q string) string {
	switch {
	case strings.Contains(q, "gmv") || strings.Contains(q, "成交额"):
		return "GMV"
	case strings.Contains(q, "average order value") || strings.Contains(q, "aov") ||
		strings.Contains(q, "客单价") || strings.Contains(q, "arpu"):
		return "average order value"
	case strings.Contains(q, "roi"):
		return "ROI"
	case strings.Contains(q, "order") || strings.Contains(q, "订单"):
		return "order count"
	}
	return "this metric"
}

// fallbackMap is the deterministic keyword cascade used when the external
// classifier is disabled or unusable. The branch order is load-bearing; it
// was carried over as-is from the production rule set.
func (m *Mapper) fallbackMap(question string) models.Slots {
	n := m.norm.Normalize(question)
	q := strings.ToLower(strings.TrimSpace(question))

	slots := models.Slots{
		Intent:      models.IntentUnknown,
		Dt:          n.Dt,
		PrevDt:      n.PrevDt,
		Days:        n.Days,
		Assumptions: append([]string(nil), n.Assumptions...),
	}

	switch {
	// Money metrics first: the dataset has no price/amount fields at all.
	case hasAny(q, moneyMetricWords):
		slots.NotSupported = &models.NotSupported{
			Metric:        moneyMetricName(q),
			Reason:        "the dataset has no price or amount fields",
			MissingFields: "price,amount",
		}

	case hasAny(q, newVsOldWords) && hasAny(q, conversionWords):
		slots.NotSupported = &models.NotSupported{
			Metric:     "new vs returning conversion rate",
			Reason:     "not currently answerable",
			Suggestion: "core metrics and the conversion funnel are available",
		}

	case hasAny(q, buyerCountWords) && !hasAny(q, coreMetricWords):
		// Asked together with PV/UV it is a core-metrics question; in a
		// diagnostic phrasing it is answerable via overview+funnel.
		switch {
		case hasAny(q, pvUVWords):
			slots.Intent = overviewIntent(slots.Dt)
		case hasAny(q, diagnoseQuestionWords) || hasAny(q, diagnoseChangeWords):
			slots.Intent = models.IntentDiagnose
		default:
			slots.NotSupported = &models.NotSupported{
				Metric:     "buyer count",
				Reason:     "not currently answerable on its own",
				Suggestion: "core metrics include UV, buyers and PV",
			}
		}

	case hasAny(q, activityWords):
		slots.NotSupported = &models.NotSupported{
			Metric:     "daily active users",
			Reason:     "not currently answerable",
			Suggestion: "core metrics include UV",
		}

	case hasAny(q, retentionHardWords):
		slots.NotSupported = &models.NotSupported{
			Metric:     "next-day retention",
			Reason:     "not currently answerable",
			Suggestion: "core metrics and the conversion funnel are available",
		}

	case hasAny(q, diagnoseQuestionWords) ||
		(hasAny(q, diagnoseChangeWords) && !hasAny(q, categoryWords)):
		slots.Intent = models.IntentDiagnose

	case hasAny(q, categoryWords):
		slots.Intent = models.IntentCategoryContrib

	case hasAny(q, retentionSoftWords):
		slots.Intent = models.IntentRetention

	case hasAny(q, newVsOldWords):
		slots.Intent = models.IntentNewVsReturning

	case hasAny(q, funnelWords):
		slots.Intent = models.IntentFunnelTrend

	case hasAny(q, conversionWords) && !hasAny(q, newVsOldWords):
		// Plain conversion/conversion-rate questions go to the funnel, which
		// carries uv_to_buyer, uv_to_cart and cart_to_buyer.
		slots.Intent = models.IntentFunnelTrend

	case hasAny(q, overviewHintWords):
		slots.Intent = overviewIntent(slots.Dt)

	case hasAny(q, pvUVWords) && (slots.Dt != "" || strings.Contains(q, "日") || strings.Contains(q, "月")):
		slots.Intent = overviewIntent(slots.Dt)

	case hasAny(q, trendWords):
		if hasAny(q, funnelWords) || hasAny(q, conversionWords) {
			slots.Intent = models.IntentFunnelTrend
		} else {
			slots.Intent = models.IntentRangeOverview
		}

	case hasAny(q, vagueWords) && len([]rune(q)) <= 25:
		slots.Intent = overviewIntent(slots.Dt)
	}

	// Diagnose with neither a date nor a window still needs a bounded funnel.
	if slots.Intent == models.IntentDiagnose && slots.Dt == "" && slots.Days == 0 {
		slots.Days = defaultDiagnoseDays
		slots.AddAssumption(assumptionDiagnoseDays)
	}

	return slots
}

func overviewIntent(dt string) models.Intent {
	if dt != "" {
		return models.IntentSingleDayOverview
	}
	return models.IntentRangeOverview
}

// applyNotSupportedOverride enforces the business policy that certain metric
// families are unanswerable. It runs on every result, including ones the
// external classifier produced: a misclassification must not bypass it.
func applyNotSupportedOverride(slots *models.Slots, question string) {
	q := strings.ToLower(strings.TrimSpace(question))

	switch {
	case hasAny(q, newVsOldWords) && hasAny(q, conversionWords):
		slots.Intent = models.IntentUnknown
		slots.NotSupported = &models.NotSupported{
			Metric:     "new vs returning conversion rate",
			Reason:     "not currently answerable",
			Suggestion: "core metrics and the conversion funnel are available",
		}

	case hasAny(q, buyerCountWords) && !hasAny(q, coreMetricWords):
		switch {
		case hasAny(q, pvUVWords):
			slots.Intent = overviewIntent(slots.Dt)
		case hasAny(q, diagnoseQuestionWords) || hasAny(q, diagnoseChangeWords):
			slots.Intent = models.IntentDiagnose
		default:
			slots.Intent = models.IntentUnknown
			slots.NotSupported = &models.NotSupported{
				Metric:     "buyer count",
				Reason:     "not currently answerable on its own",
				Suggestion: "core metrics include UV, buyers and PV",
			}
		}

	case hasAny(q, activityWords):
		slots.Intent = models.IntentUnknown
		slots.NotSupported = &models.NotSupported{
			Metric:     "daily active users",
			Reason:     "not currently answerable",
			Suggestion: "core metrics include UV",
		}

	case hasAny(q, retentionHardWords):
		slots.Intent = models.IntentUnknown
		slots.NotSupported = &models.NotSupported{
			Metric:     "next-day retention",
			Reason:     "not currently answerable",
			Suggestion: "core metrics and the conversion funnel are available",
		}
	}
}

// applyDiagnoseCategoryOverride resolves the diagnose-vs-category ambiguity:
// a question that both observes a change and asks which category caused it is
// a diagnosis, not a plain category ranking. Pure "which categories caused X"
// framings without observation language stay category_contribution.
func applyDiagnoseCategoryOverride(slots *models.Slots, question string) {
	if slots.NotSupported != nil {
		return
	}
	q := strings.ToLower(strings.TrimSpace(question))

	hasObservation := hasAny(q, observationWords)
	hasCategoryAsk := hasAny(q, categoryAskWords)
	pureCategory := (strings.Contains(q, "which categories") || strings.Contains(q, "哪些类目")) &&
		(strings.Contains(q, "caused") || strings.Contains(q, "导致")) &&
		!hasObservation

	if hasObservation && hasCategoryAsk && !pureCategory &&
		slots.Intent == models.IntentCategoryContrib {
		slots.Intent = models.IntentDiagnose
		if slots.Days == 0 {
			slots.Days = defaultDiagnoseDays
		}
	}
}
