package processor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/efecte"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/iloq"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/kv"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/recon/resolver"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/recon/state"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/utils/sets"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/pkg/errors"
)

// fakeDirectory answers Efecte queries per template and counts them.
type fakeDirectory struct {
	byTemplate map[string][]efecte.EntityRecord
	queries    map[string]int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		byTemplate: make(map[string][]efecte.EntityRecord),
		queries:    make(map[string]int),
	}
}

func (f *fakeDirectory) Query(_ context.Context, templateCode, _ string) ([]efecte.EntityRecord, error) {
	f.queries[templateCode]++
	return f.byTemplate[templateCode], nil
}

func newEfecteProcessor(t *testing.T) (*EfecteKeyProcessor, *state.Store, *fakeDirectory, *RunCache, *AuditProcessor) {
	t.Helper()
	store := state.New(kv.NewMemory())
	directory := newFakeDirectory()
	audit := NewAuditProcessor(kv.NewMemory(), time.Hour)
	mappings := processorMappings(t)
	persons := resolver.NewEfectePersonResolver(store, directory, audit)
	keys := resolver.NewEfecteKeyResolver(mappings, persons)
	cache := NewRunCache()
	p := NewEfecteKeyProcessor(store, mappings, directory, keys, audit, cache)
	return p, store, directory, cache, audit
}

func enrichedKey(keyID, realEstateID, infoText string, accessIDs ...string) *iloq.EnrichedLockKey {
	accesses := make([]iloq.SecurityAccess, 0, len(accessIDs))
	for _, id := range accessIDs {
		accesses = append(accesses, iloq.SecurityAccess{SecurityAccessID: id})
	}
	return &iloq.EnrichedLockKey{
		Key: iloq.LockKey{
			KeyID:        keyID,
			RealEstateID: realEstateID,
			InfoText:     infoText,
		},
		SecurityAccesses: accesses,
		Person: &iloq.Person{
			PersonID:  "ilp-1",
			FirstName: "Matti",
			LastName:  "Meikäläinen",
			Email:     "matti@example.com",
		},
	}
}

func TestBuildEfecteKey_UnmappedNoMatchProposesCreate(t *testing.T) {
	ctx := context.Background()
	p, _, _, _, _ := newEfecteProcessor(t)

	expiry := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
	key := enrichedKey("il-key-1", "re-1", "", "il-sa-1", "il-sa-2")
	key.Key.ExpireDate = &expiry

	result, err := p.BuildEfecteKey(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, result.Create)
	assert.True(t, result.UpdateILoqKey, "the new identifier must be embedded in the iLOQ key")
	assert.NotEmpty(t, result.EfecteKeyID)

	card := result.Create
	assert.Equal(t, result.EfecteKeyID, card.KeyID())
	assert.Equal(t, efecte.KeyTypeILoq, card.Value(efecte.AttrKeyType))
	assert.Equal(t, "ADDR-1", card.FirstReferenceID(efecte.AttrStreetAddress))
	assert.ElementsMatch(t, []string{"SA-1", "SA-2"}, card.ReferenceIDs(efecte.AttrSecurityAccesses))
	assert.Equal(t, "Matti Meikäläinen", card.Value(efecte.AttrOutsiderName))
	assert.Equal(t, "31.12.2026", card.Value(efecte.AttrValidityDate))

	require.NotNil(t, result.Previous)
	assert.Equal(t, efecte.StateActive, result.Previous.State)
	assert.True(t, result.Previous.SecurityAccessEntityIDs.Equal(sets.New("SA-1", "SA-2")))
	assert.Equal(t, "31.12.2026", result.Previous.ValidityDate)
}

func TestBuildEfecteKey_UnmappedMatchLinksBothDirections(t *testing.T) {
	ctx := context.Background()
	p, store, directory, cache, _ := newEfecteProcessor(t)

	existing := efecte.EntityRecord{ID: "ent-1", TemplateCode: efecte.TemplateKey}
	existing.SetValue(efecte.AttrKeyID, "KEY-7")
	existing.SetValue(efecte.AttrOutsiderName, "Matti Meikäläinen")
	existing.SetValue(efecte.AttrOutsiderEmail, "matti@example.com")
	existing.SetReferences(efecte.AttrSecurityAccesses, efecte.Reference{ID: "SA-1"})
	directory.byTemplate[efecte.TemplateKey] = []efecte.EntityRecord{existing}

	result, err := p.BuildEfecteKey(ctx, enrichedKey("il-key-1", "re-1", "", "il-sa-1"))
	require.NoError(t, err)
	assert.Nil(t, result.Create)
	assert.True(t, result.UpdateILoqKey)
	assert.Equal(t, "KEY-7", result.EfecteKeyID)

	iloqID, err := store.KeyByEfecteID(ctx, "KEY-7")
	require.NoError(t, err)
	assert.Equal(t, "il-key-1", iloqID)
	efecteID, err := store.KeyByILoqID(ctx, "il-key-1")
	require.NoError(t, err)
	assert.Equal(t, "KEY-7", efecteID)

	// The matched card must not match a second foreign key this run.
	keys, ok := cache.UnmappedKeys("ADDR-1")
	require.True(t, ok)
	assert.Empty(t, keys)
}

func TestBuildEfecteKey_UnmappedListLoadedOncePerAddress(t *testing.T) {
	ctx := context.Background()
	p, _, directory, _, _ := newEfecteProcessor(t)

	_, err := p.BuildEfecteKey(ctx, enrichedKey("il-key-1", "re-1", "", "il-sa-1"))
	require.NoError(t, err)
	_, err = p.BuildEfecteKey(ctx, enrichedKey("il-key-2", "re-1", "", "il-sa-2"))
	require.NoError(t, err)

	assert.Equal(t, 1, directory.queries[efecte.TemplateKey], "unmapped list is cached per address per run")
}

func TestBuildEfecteKey_MappedUnchangedIsNoOp(t *testing.T) {
	ctx := context.Background()
	p, store, _, _, _ := newEfecteProcessor(t)

	require.NoError(t, store.SavePreviousKeyState(ctx, "KEY-7", &state.PreviousKeyState{
		State:                   efecte.StateActive,
		SecurityAccessEntityIDs: sets.New("SA-1"),
	}))

	result, err := p.BuildEfecteKey(ctx, enrichedKey("il-key-1", "re-1", "KEY-7", "il-sa-1"))
	require.NoError(t, err)
	assert.True(t, result.NoOp())
}

func TestBuildEfecteKey_MappedAccessDriftProposesUpdate(t *testing.T) {
	ctx := context.Background()
	p, store, _, _, _ := newEfecteProcessor(t)

	require.NoError(t, store.SavePreviousKeyState(ctx, "KEY-7", &state.PreviousKeyState{
		State:                   efecte.StateActive,
		SecurityAccessEntityIDs: sets.New("SA-1"),
	}))

	result, err := p.BuildEfecteKey(ctx, enrichedKey("il-key-1", "re-1", "KEY-7", "il-sa-1", "il-sa-2"))
	require.NoError(t, err)
	require.NotNil(t, result.Update)
	assert.Equal(t, "KEY-7", result.Update.KeyID())
	assert.ElementsMatch(t, []string{"SA-1", "SA-2"}, result.Update.ReferenceIDs(efecte.AttrSecurityAccesses))
	require.NotNil(t, result.Previous)
	assert.True(t, result.Previous.SecurityAccessEntityIDs.Equal(sets.New("SA-1", "SA-2")))
}

func TestBuildEfecteKey_StoredMappingBackfillsInfoText(t *testing.T) {
	ctx := context.Background()
	p, store, _, _, _ := newEfecteProcessor(t)

	require.NoError(t, store.LinkKeys(ctx, "KEY-7", "il-key-1"))
	require.NoError(t, store.SavePreviousKeyState(ctx, "KEY-7", &state.PreviousKeyState{
		State:                   efecte.StateActive,
		SecurityAccessEntityIDs: sets.New("SA-1"),
	}))

	// Foreign key lost its info text but the mapping still knows it.
	result, err := p.BuildEfecteKey(ctx, enrichedKey("il-key-1", "re-1", "", "il-sa-1"))
	require.NoError(t, err)
	assert.Equal(t, "KEY-7", result.EfecteKeyID)
	assert.True(t, result.UpdateILoqKey)
	assert.Nil(t, result.Update)
}

func TestBuildEfecteKey_LostPreviousStateRaisesAudit(t *testing.T) {
	ctx := context.Background()
	p, _, _, _, audit := newEfecteProcessor(t)

	_, err := p.BuildEfecteKey(ctx, enrichedKey("il-key-1", "re-1", "KEY-7", "il-sa-1"))
	require.Error(t, err)
	assert.True(t, errors.IsAudit(err))
	assert.True(t, errors.IsStateLost(err))

	records, recErr := audit.Records(ctx)
	require.NoError(t, recErr)
	require.Len(t, records, 1)
	assert.Equal(t, "mapping exists but previous state lost", records[0].Message)
}

func TestBuildEfecteKey_UnknownRealEstateRaisesAudit(t *testing.T) {
	ctx := context.Background()
	p, _, _, _, _ := newEfecteProcessor(t)

	_, err := p.BuildEfecteKey(ctx, enrichedKey("il-key-1", "re-unknown", "", "il-sa-1"))
	require.Error(t, err)
	assert.True(t, errors.IsAudit(err))
}
