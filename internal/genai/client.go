// internal/genai/client.go
// Client for the optional language-model sidecar. Its output is treated as
// untrusted input: everything passes a structural schema gate before any
// caller sees it, and every failure collapses into ErrUnusable so callers
// degrade to their rule paths without caring why.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/xeipuuv/gojsonschema"

	commonhttp "analytics-agent/internal/common/http"
	"analytics-agent/internal/common/logger"
	"analytics-agent/internal/models"
)

// ErrUnusable marks any classifier/generator response that cannot be used:
// transport failure, non-200 status, bad JSON or schema violation.
var ErrUnusable = errors.New("genai response unusable")

const (
	classifyPath = "/api/ai/classify"
	planPath     = "/api/ai/plan"
)

type Client struct {
	baseURL       string
	referenceDate string
	maxRetries    int
	httpClient    *commonhttp.Client
	log           logger.Logger
}

func NewClient(baseURL, referenceDate string, timeout time.Duration, maxRetries int, log logger.Logger) *Client {
	return &Client{
		baseURL:       baseURL,
		referenceDate: referenceDate,
		maxRetries:    maxRetries,
		httpClient:    commonhttp.NewClient(timeout),
		log:           log,
	}
}

// Classify asks the sidecar for a slots proposal. The returned map has passed
// the structural gate only; field values still need coercion by the caller.
func (c *Client) Classify(ctx context.Context, question string) (map[string]interface{}, error) {
	payload := map[string]interface{}{
		"question":       question,
		"reference_date": c.referenceDate,
	}
	return c.post(ctx, classifyPath, payload, slotsSchema)
}

// GeneratePlan asks the sidecar for a plan proposal given the mapped slots.
func (c *Client) GeneratePlan(ctx context.Context, question string, slots models.Slots) (map[string]interface{}, error) {
	payload := map[string]interface{}{
		"question": question,
		"slots":    slots,
	}
	return c.post(ctx, planPath, payload, planSchema)
}

func (c *Client) post(ctx context.Context, path string, payload interface{}, schema *gojsonschema.Schema) (map[string]interface{}, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrUnusable, err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrUnusable, ctx.Err())
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
		}

		result, err := c.doOnce(ctx, path, body, schema)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
		if c.log != nil {
			c.log.WithError(err).WithFields(map[string]interface{}{
				"path":    path,
				"attempt": attempt + 1,
			}).Debug("genai request failed", nil)
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrUnusable, lastErr)
}

func (c *Client) doOnce(ctx context.Context, path string, body []byte, schema *gojsonschema.Schema) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("invalid json: %v", err)
	}

	check, err := schema.Validate(gojsonschema.NewGoLoader(parsed))
	if err != nil {
		return nil, fmt.Errorf("schema check: %v", err)
	}
	if !check.Valid() {
		return nil, fmt.Errorf("schema violation: %s", firstSchemaError(check))
	}
	return parsed, nil
}

func firstSchemaError(result *gojsonschema.Result) string {
	for _, e := range result.Errors() {
		return e.String()
	}
	return "unknown"
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
