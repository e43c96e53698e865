// internal/session/store.go
// Redis-backed per-session memory. Each session is one JSON document under a
// keyspace prefix; writes are read-merge-write patches that refresh the TTL,
// so an active conversation never expires mid-flight.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"analytics-agent/internal/common/logger"
	"analytics-agent/internal/models"
)

const keyPrefix = "session:"

// DefaultTTL is how long an idle session survives.
const DefaultTTL = 24 * time.Hour

type Store struct {
	rdb *redis.Client
	ttl time.Duration
	log logger.Logger
}

func NewStore(rdb *redis.Client, ttl time.Duration, log logger.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl, log: log}
}

// Read loads the session context. A missing key or an undecodable document
// both come back as empty context: stale garbage must never poison a turn.
func (s *Store) Read(ctx context.Context, sessionID string) (models.SessionContext, error) {
	raw, err := s.rdb.Get(ctx, keyPrefix+sessionID).Bytes()
	if err == redis.Nil {
		return models.SessionContext{}, nil
	}
	if err != nil {
		return models.SessionContext{}, fmt.Errorf("session read %s: %w", sessionID, err)
	}

	var sctx models.SessionContext
	if err := json.Unmarshal(raw, &sctx); err != nil {
		if s.log != nil {
			s.log.WithError(err).WithFields(map[string]interface{}{
				"session_id": sessionID,
			}).Warn("discarding undecodable session document", nil)
		}
		return models.SessionContext{}, nil
	}
	return sctx, nil
}

// Patch deep-merges the patch into the stored document and refreshes the TTL.
// Nested maps merge recursively; scalars and lists in the patch replace.
func (s *Store) Patch(ctx context.Context, sessionID string, patch map[string]interface{}) error {
	if len(patch) == 0 {
		return nil
	}
	key := keyPrefix + sessionID

	existing := map[string]interface{}{}
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("session patch read %s: %w", sessionID, err)
	}
	if err == nil {
		if uerr := json.Unmarshal(raw, &existing); uerr != nil {
			existing = map[string]interface{}{}
		}
	}

	merged := DeepMerge(existing, patch)
	doc, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("session patch marshal %s: %w", sessionID, err)
	}
	if err := s.rdb.Set(ctx, key, doc, s.ttl).Err(); err != nil {
		return fmt.Errorf("session patch write %s: %w", sessionID, err)
	}
	return nil
}

// DeepMerge returns base with patch folded in. Map values merge recursively,
// anything else in the patch wins. Neither input is mutated.
func DeepMerge(base, patch map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, pv := range patch {
		bm, baseIsMap := out[k].(map[string]interface{})
		pm, patchIsMap := pv.(map[string]interface{})
		if baseIsMap && patchIsMap {
			out[k] = DeepMerge(bm, pm)
			continue
		}
		out[k] = pv
	}
	return out
}
