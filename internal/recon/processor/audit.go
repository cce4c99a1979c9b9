// Package processor contains the per-entity decision procedures of the
// reconciliation engine: validation, the Efecte-side and iLOQ-side key
// processors, person creation and audit exception handling. Processors only
// decide; the mutations they propose are applied by the service layer.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/kv"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/pkg/errors"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/pkg/logging"
)

// Audit key namespaces. Records expire; guards do not — they are cleared
// either by a later successful run or by the reset command.
const (
	auditRecordPrefix = "audit:record:"
	auditGuardPrefix  = "audit:in-progress:"
)

// DefaultAuditTTL bounds how long a durable audit record is kept.
const DefaultAuditTTL = 30 * 24 * time.Hour

// AuditRecord is the durable report of a failure a human must act on.
type AuditRecord struct {
	From          string    `json:"from"`
	To            string    `json:"to"`
	EntityID      string    `json:"entityId"`
	ExternalID    string    `json:"externalId,omitempty"`
	CounterpartID string    `json:"counterpartId,omitempty"`
	Message       string    `json:"message"`
	Timestamp     time.Time `json:"timestamp"`
}

// AuditProcessor persists audit records and deduplicates them per failure
// scenario through an in-progress guard.
type AuditProcessor struct {
	kv  kv.Store
	ttl time.Duration
	now func() time.Time
}

// NewAuditProcessor creates an audit processor. A non-positive ttl falls
// back to DefaultAuditTTL.
func NewAuditProcessor(store kv.Store, ttl time.Duration) *AuditProcessor {
	if ttl <= 0 {
		ttl = DefaultAuditTTL
	}
	return &AuditProcessor{kv: store, ttl: ttl, now: time.Now}
}

// SetClock overrides the time source, for tests.
func (a *AuditProcessor) SetClock(now func() time.Time) {
	a.now = now
}

func guardKey(from, to, entityID string) string {
	return fmt.Sprintf("%s%s:%s:%s", auditGuardPrefix, from, to, entityID)
}

// Record writes a durable audit record unless the scenario's guard is
// already raised, then raises the guard. A guarded scenario produces one
// record, not one per run.
func (a *AuditProcessor) Record(ctx context.Context, rec *AuditRecord) error {
	guard := guardKey(rec.From, rec.To, rec.EntityID)
	raised, err := a.kv.Exists(ctx, guard)
	if err != nil {
		return err
	}
	if raised {
		logging.FromContext(ctx).Debug().
			Str("entity_id", rec.EntityID).
			Msg("Audit scenario already in progress, skipping duplicate record")
		return nil
	}

	rec.Timestamp = a.now().UTC()
	if err := a.write(ctx, rec); err != nil {
		return err
	}
	return a.kv.Set(ctx, guard, "1")
}

// Raise writes the audit record like Record, then returns a typed failure
// that aborts processing of the current entity only.
func (a *AuditProcessor) Raise(ctx context.Context, rec *AuditRecord, cause error) error {
	if err := a.Record(ctx, rec); err != nil {
		return err
	}
	return errors.NewAuditError(rec.From, rec.To, rec.EntityID, rec.Message, cause)
}

// Note stores a non-fatal audit message without touching the guard: the
// scenario stays eligible for retry on every run until it resolves itself.
func (a *AuditProcessor) Note(ctx context.Context, from, to, entityID, message string) error {
	return a.write(ctx, &AuditRecord{
		From:      from,
		To:        to,
		EntityID:  entityID,
		Message:   message,
		Timestamp: a.now().UTC(),
	})
}

func (a *AuditProcessor) write(ctx context.Context, rec *AuditRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return errors.WrapKV("set", auditRecordPrefix+rec.EntityID, err)
	}
	key := fmt.Sprintf("%s%d:%s", auditRecordPrefix, rec.Timestamp.Unix(), rec.EntityID)
	if err := a.kv.SetEx(ctx, key, string(raw), a.ttl); err != nil {
		return err
	}
	logging.FromContext(ctx).Warn().
		Str("from", rec.From).
		Str("to", rec.To).
		Str("entity_id", rec.EntityID).
		Str("message", rec.Message).
		Msg("Audit record written")
	return nil
}

// ClearGuard lowers the guard for one scenario. Called when an automated
// run succeeds for an entity that previously failed.
func (a *AuditProcessor) ClearGuard(ctx context.Context, from, to, entityID string) error {
	return a.kv.Del(ctx, guardKey(from, to, entityID))
}

// ResetGuards lowers every in-progress guard. This is the external
// remediation flow: the engine itself never clears guards in bulk.
func (a *AuditProcessor) ResetGuards(ctx context.Context) (int, error) {
	keys, err := a.kv.Keys(ctx, auditGuardPrefix)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := a.kv.Del(ctx, keys...); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Records loads all live audit records, newest first not guaranteed; the
// KV scan order is unspecified.
func (a *AuditProcessor) Records(ctx context.Context) ([]AuditRecord, error) {
	keys, err := a.kv.Keys(ctx, auditRecordPrefix)
	if err != nil {
		return nil, err
	}
	records := make([]AuditRecord, 0, len(keys))
	for _, key := range keys {
		raw, err := a.kv.Get(ctx, key)
		if err != nil {
			if errors.IsNotFound(err) {
				continue // expired between scan and read
			}
			return nil, err
		}
		var rec AuditRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, errors.WrapKV("get", key, err)
		}
		records = append(records, rec)
	}
	return records, nil
}
