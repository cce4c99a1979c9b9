package processor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/kv"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/pkg/errors"
)

func TestAuditProcessor_RecordDeduplicatesViaGuard(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemory()
	audit := NewAuditProcessor(mem, time.Hour)

	rec := &AuditRecord{From: "efecte", To: "iloq", EntityID: "KEY-1", Message: "cannot create key"}
	require.NoError(t, audit.Record(ctx, rec))
	require.NoError(t, audit.Record(ctx, rec))
	require.NoError(t, audit.Record(ctx, rec))

	records, err := audit.Records(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1, "a guarded scenario produces one record, not one per run")

	guarded, err := mem.Exists(ctx, "audit:in-progress:efecte:iloq:KEY-1")
	require.NoError(t, err)
	assert.True(t, guarded)
}

func TestAuditProcessor_ClearGuardAllowsNewRecord(t *testing.T) {
	ctx := context.Background()
	audit := NewAuditProcessor(kv.NewMemory(), time.Hour)
	// Separate timestamps, separate record keys.
	now := time.Unix(1_700_000_000, 0)
	audit.SetClock(func() time.Time { now = now.Add(time.Minute); return now })

	rec := &AuditRecord{From: "efecte", To: "iloq", EntityID: "KEY-1", Message: "cannot create key"}
	require.NoError(t, audit.Record(ctx, rec))
	require.NoError(t, audit.ClearGuard(ctx, "efecte", "iloq", "KEY-1"))
	require.NoError(t, audit.Record(ctx, rec))

	records, err := audit.Records(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestAuditProcessor_RaiseReturnsTypedFailure(t *testing.T) {
	ctx := context.Background()
	audit := NewAuditProcessor(kv.NewMemory(), time.Hour)

	err := audit.Raise(ctx, &AuditRecord{
		From:     "efecte",
		To:       "iloq",
		EntityID: "KEY-1",
		Message:  "mapping exists but previous state lost",
	}, errors.ErrStateLost)

	require.Error(t, err)
	assert.True(t, errors.IsAudit(err))
	assert.True(t, errors.IsStateLost(err))
	ae := errors.AsAudit(err)
	require.NotNil(t, ae)
	assert.Equal(t, "KEY-1", ae.EntityID)
}

func TestAuditProcessor_NoteDoesNotRaiseGuard(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemory()
	audit := NewAuditProcessor(mem, time.Hour)

	require.NoError(t, audit.Note(ctx, "iloq", "efecte", "ilp-1", "ambiguous name match"))

	guarded, err := mem.Exists(ctx, "audit:in-progress:iloq:efecte:ilp-1")
	require.NoError(t, err)
	assert.False(t, guarded, "notes must stay retryable on every run")

	records, err := audit.Records(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestAuditProcessor_ResetGuards(t *testing.T) {
	ctx := context.Background()
	audit := NewAuditProcessor(kv.NewMemory(), time.Hour)
	now := time.Unix(1_700_000_000, 0)
	audit.SetClock(func() time.Time { now = now.Add(time.Minute); return now })

	require.NoError(t, audit.Record(ctx, &AuditRecord{From: "efecte", To: "iloq", EntityID: "KEY-1", Message: "m"}))
	require.NoError(t, audit.Record(ctx, &AuditRecord{From: "iloq", To: "efecte", EntityID: "KEY-2", Message: "m"}))

	cleared, err := audit.ResetGuards(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, cleared)

	cleared, err = audit.ResetGuards(ctx)
	require.NoError(t, err)
	assert.Zero(t, cleared)
}

func TestAuditProcessor_RecordsExpire(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemory()
	audit := NewAuditProcessor(mem, time.Hour)

	base := time.Unix(1_700_000_000, 0)
	audit.SetClock(func() time.Time { return base })
	require.NoError(t, audit.Record(ctx, &AuditRecord{From: "efecte", To: "iloq", EntityID: "KEY-1", Message: "m"}))

	mem.SetClock(func() time.Time { return base.Add(2 * time.Hour) })
	records, err := audit.Records(ctx)
	require.NoError(t, err)
	assert.Empty(t, records, "records are TTL-bound")

	// The guard never expires on its own.
	guarded, err := mem.Exists(ctx, "audit:in-progress:efecte:iloq:KEY-1")
	require.NoError(t, err)
	assert.True(t, guarded)
}
