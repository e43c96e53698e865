// internal/tools/executor.go
// Read-only query tools over the behavior warehouse. One method per
// whitelisted tool, each with its own timeout guard; the executor never
// interpolates user text into SQL.
package tools

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	commonerrors "analytics-agent/internal/common/errors"
	"analytics-agent/internal/common/logger"
	"analytics-agent/internal/common/metrics"
	"analytics-agent/internal/models"
	"analytics-agent/pkg/toolspec"
)

// DefaultQueryTimeout guards every tool query.
const DefaultQueryTimeout = 15 * time.Second

// FallbackDefaultDt is returned when the dataset range cannot be read.
const FallbackDefaultDt = "2017-12-03"

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

type Executor struct {
	db      *sql.DB
	timeout time.Duration
	log     logger.Logger

	mu        sync.Mutex
	dateRange *[2]string // cached (min_dt, max_dt); data is immutable
}

func NewExecutor(db *sql.DB, timeout time.Duration, log logger.Logger) *Executor {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return &Executor{db: db, timeout: timeout, log: log}
}

// RunPlan executes every call and reports per-call results keyed by call
// index. One failing call never aborts the rest: the narrator degrades with
// whatever evidence survived.
func (e *Executor) RunPlan(ctx context.Context, calls []models.Call) map[int]models.CallResult {
	results := make(map[int]models.CallResult, len(calls))
	for i, call := range calls {
		start := time.Now()
		rows, err := e.runTool(ctx, call)
		metrics.ObserveToolCall(call.Tool, time.Since(start), err)

		res := models.CallResult{Tool: call.Tool, Params: call.Params, Rows: rows}
		switch {
		case err != nil:
			res.Error = err.Error()
			if e.log != nil {
				e.log.WithError(err).WithFields(map[string]interface{}{
					"tool": call.Tool,
				}).Warn("tool call failed", nil)
			}
		case len(rows) == 0:
			res.Error = commonerrors.NewEmptyDataError(call.Tool).Message
		default:
			res.OK = true
		}
		results[i] = res
	}
	return results
}

func (e *Executor) runTool(ctx context.Context, call models.Call) ([]map[string]interface{}, error) {
	if !toolspec.IsWhitelisted(call.Tool) {
		return nil, commonerrors.NewToolNotWhitelistedError(call.Tool)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var (
		rows []map[string]interface{}
		err  error
	)
	switch call.Tool {
	case toolspec.RangeOverview:
		rows, err = e.rangeOverview(ctx, e.daysParam(call, toolspec.DefaultDaysOverview))
	case toolspec.SingleDayOverview:
		rows, err = e.singleDayOverview(ctx, e.dtParam(ctx, call))
	case toolspec.FunnelTrend:
		rows, err = e.funnelTrend(ctx, e.daysParam(call, toolspec.DefaultDaysOverview), call.StringParam("end_dt"))
	case toolspec.Retention:
		rows, err = e.retention(ctx, e.daysParam(call, toolspec.DefaultDaysRetention))
	case toolspec.Activity:
		rows, err = e.activity(ctx, e.daysParam(call, toolspec.DefaultDaysRetention))
	case toolspec.CategoryContrib:
		rows, err = e.categoryContribution(ctx, e.dtParam(ctx, call))
	case toolspec.NewVsReturning:
		rows, err = e.newVsReturning(ctx, e.dtParam(ctx, call))
	}
	if err != nil {
		return nil, e.classifyQueryError(call.Tool, err)
	}
	return rows, nil
}

func (e *Executor) daysParam(call models.Call, def int) int {
	if d, ok := call.DaysParam(); ok {
		return toolspec.ClampDays(d)
	}
	return def
}

func (e *Executor) dtParam(ctx context.Context, call models.Call) string {
	dt := call.StringParam("dt")
	if dt == "" || !datePattern.MatchString(dt) {
		return e.DefaultDt(ctx)
	}
	return dt
}

func (e *Executor) classifyQueryError(tool string, err error) error {
	msg := strings.ToLower(err.Error())
	if errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(msg, "statement timeout") || strings.Contains(msg, "canceling") {
		return commonerrors.NewQueryTimeoutError(tool, e.timeout)
	}
	return commonerrors.NewQueryExecutionFailedError(tool, err)
}

// ==========================
// Tool queries
// ==========================

func (e *Executor) rangeOverview(ctx context.Context, days int) ([]map[string]interface{}, error) {
	const q = `
		SELECT dt, pv, uv, buyers
		FROM ub.daily_metrics
		ORDER BY dt DESC
		LIMIT $1`
	return e.query(ctx, q, days)
}

func (e *Executor) singleDayOverview(ctx context.Context, dt string) ([]map[string]interface{}, error) {
	const q = `
		SELECT *
		FROM ub.daily_metrics
		WHERE dt = CAST($1 AS date)
		LIMIT 1`
	return e.query(ctx, q, dt)
}

func (e *Executor) funnelTrend(ctx context.Context, days int, endDt string) ([]map[string]interface{}, error) {
	const sel = `
		SELECT dt, pv, uv, buyers, cart_users,
		  CASE WHEN uv > 0 THEN buyers::numeric / uv ELSE 0 END AS uv_to_buyer,
		  CASE WHEN uv > 0 THEN cart_users::numeric / uv ELSE 0 END AS uv_to_cart,
		  CASE WHEN cart_users > 0 THEN buyers::numeric / cart_users ELSE 0 END AS cart_to_buyer
		FROM ub.daily_metrics`
	if endDt != "" && datePattern.MatchString(endDt) {
		q := sel + `
		WHERE dt <= CAST($2 AS date)
		ORDER BY dt DESC
		LIMIT $1`
		return e.query(ctx, q, days, endDt)
	}
	q := sel + `
		ORDER BY dt DESC
		LIMIT $1`
	return e.query(ctx, q, days)
}

func (e *Executor) retention(ctx context.Context, days int) ([]map[string]interface{}, error) {
	const q = `
		WITH base AS (
		  SELECT (dt::date) AS dt, user_id
		  FROM ub.user_behavior
		  GROUP BY dt::date, user_id
		),
		ret AS (
		  SELECT
		    a.dt,
		    (COUNT(DISTINCT b.user_id)::float / NULLIF(COUNT(DISTINCT a.user_id), 0)) AS retention_1d
		  FROM base a
		  LEFT JOIN base b ON a.user_id = b.user_id AND b.dt = a.dt + 1
		  GROUP BY a.dt
		)
		SELECT * FROM ret ORDER BY dt DESC LIMIT $1`
	return e.query(ctx, q, days)
}

func (e *Executor) activity(ctx context.Context, days int) ([]map[string]interface{}, error) {
	const q = `
		SELECT dt::date AS dt, COUNT(DISTINCT user_id) AS dau
		FROM ub.user_behavior
		GROUP BY dt::date
		ORDER BY dt DESC
		LIMIT $1`
	return e.query(ctx, q, days)
}

func (e *Executor) categoryContribution(ctx context.Context, dt string) ([]map[string]interface{}, error) {
	const q = `
		WITH cur AS (
		  SELECT category_id, COUNT(DISTINCT user_id) AS buyers_cur
		  FROM ub.user_behavior
		  WHERE dt::date = CAST($1 AS date)
		    AND (behavior_type = 'buy' OR behavior_type = 'pay')
		    AND category_id IS NOT NULL
		  GROUP BY category_id
		),
		prev AS (
		  SELECT category_id, COUNT(DISTINCT user_id) AS buyers_prev
		  FROM ub.user_behavior
		  WHERE dt::date = (CAST($1 AS date) - 1)
		    AND (behavior_type = 'buy' OR behavior_type = 'pay')
		    AND category_id IS NOT NULL
		  GROUP BY category_id
		)
		SELECT
		  COALESCE(c.category_id, p.category_id) AS category_id,
		  COALESCE(c.buyers_cur, 0)::int AS buyers_cur,
		  COALESCE(p.buyers_prev, 0)::int AS buyers_prev,
		  (COALESCE(c.buyers_cur, 0) - COALESCE(p.buyers_prev, 0))::int AS delta
		FROM cur c
		FULL OUTER JOIN prev p ON c.category_id = p.category_id
		ORDER BY delta DESC NULLS LAST
		LIMIT 500`
	return e.query(ctx, q, dt)
}

func (e *Executor) newVsReturning(ctx context.Context, dt string) ([]map[string]interface{}, error) {
	const q = `
		WITH first_visit AS (
		  SELECT user_id, MIN(dt::date) AS first_dt
		  FROM ub.user_behavior
		  GROUP BY user_id
		),
		day_users AS (
		  SELECT u.dt::date AS dt, u.user_id,
		    CASE WHEN u.dt::date = f.first_dt THEN 'new' ELSE 'old' END AS segment
		  FROM ub.user_behavior u
		  JOIN first_visit f ON u.user_id = f.user_id
		  WHERE u.dt::date = CAST($1 AS date)
		),
		buyers AS (
		  SELECT user_id, dt::date AS dt FROM ub.user_behavior
		  WHERE behavior_type = 'buy' OR behavior_type = 'pay'
		),
		agg AS (
		  SELECT d.dt,
		    COUNT(DISTINCT CASE WHEN d.segment = 'new' THEN d.user_id END) AS new_uv,
		    COUNT(DISTINCT CASE WHEN d.segment = 'old' THEN d.user_id END) AS old_uv,
		    COUNT(DISTINCT CASE WHEN d.segment = 'new' AND b.user_id IS NOT NULL THEN d.user_id END) AS new_buyers,
		    COUNT(DISTINCT CASE WHEN d.segment = 'old' AND b.user_id IS NOT NULL THEN d.user_id END) AS old_buyers
		  FROM day_users d
		  LEFT JOIN buyers b ON d.user_id = b.user_id AND d.dt = b.dt
		  GROUP BY d.dt
		)
		SELECT dt,
		  CASE WHEN new_uv > 0 THEN new_buyers::float / new_uv ELSE 0 END AS new_cvr,
		  CASE WHEN old_uv > 0 THEN old_buyers::float / old_uv ELSE 0 END AS old_cvr,
		  new_uv, old_uv, new_buyers, old_buyers
		FROM agg
		LIMIT 1`
	return e.query(ctx, q, dt)
}

// ==========================
// Dataset date range
// ==========================

// DatasetDates returns the (min, max) dates present in the data. The dataset
// is immutable, so the first successful read is cached for the process life.
func (e *Executor) DatasetDates(ctx context.Context) (string, string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dateRange != nil {
		return e.dateRange[0], e.dateRange[1], true
	}

	for _, src := range []string{"ub.daily_metrics", "ub.user_behavior"} {
		q := fmt.Sprintf("SELECT CAST(MIN(dt) AS text) AS min_dt, CAST(MAX(dt) AS text) AS max_dt FROM %s", src)
		var minDt, maxDt sql.NullString
		if err := e.db.QueryRowContext(ctx, q).Scan(&minDt, &maxDt); err != nil || !minDt.Valid {
			continue
		}
		r := [2]string{trimDate(minDt.String), trimDate(maxDt.String)}
		e.dateRange = &r
		return r[0], r[1], true
	}
	return "", "", false
}

// DefaultDt resolves the latest dataset date, falling back to a constant when
// the database is unreachable.
func (e *Executor) DefaultDt(ctx context.Context) string {
	if _, maxDt, ok := e.DatasetDates(ctx); ok {
		return maxDt
	}
	return FallbackDefaultDt
}

// ==========================
// Generic row scanning
// ==========================

func (e *Executor) query(ctx context.Context, q string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := e.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]interface{}
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			row[col] = normalizeValue(vals[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// normalizeValue converts driver types into plain JSON-friendly values.
// Dates collapse to YYYY-MM-DD to match the rest of the pipeline.
func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
			return t.Format("2006-01-02")
		}
		return t.Format(time.RFC3339)
	default:
		return v
	}
}

func trimDate(s string) string {
	if len(s) > 10 {
		return s[:10]
	}
	return s
}
