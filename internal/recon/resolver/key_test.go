package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/config"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/efecte"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/iloq"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/kv"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/recon/state"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/utils/sets"
)

func testMappings(t *testing.T) *config.Mappings {
	t.Helper()
	m, err := config.Parse([]byte(`
addresses:
  - efecte_id: ADDR-1
    street: "Testikatu 1"
    real_estate_id: re-1
    customer_code: HEL01
security_accesses:
  - efecte_id: SA-1
    name: "Front door"
    iloq_id: il-sa-1
    zone_id: z-1
  - efecte_id: SA-2
    name: "Basement"
    iloq_id: il-sa-2
    zone_id: z-2
`))
	require.NoError(t, err)
	return m
}

func keyCard(id, holderID, outsiderName, outsiderEmail string, accessIDs ...string) efecte.EntityRecord {
	card := efecte.EntityRecord{ID: id, TemplateCode: efecte.TemplateKey}
	card.SetValue(efecte.AttrKeyID, id)
	if holderID != "" {
		card.SetReferences(efecte.AttrKeyHolder, efecte.Reference{ID: holderID})
	}
	if outsiderName != "" {
		card.SetValue(efecte.AttrOutsiderName, outsiderName)
	}
	if outsiderEmail != "" {
		card.SetValue(efecte.AttrOutsiderEmail, outsiderEmail)
	}
	refs := make([]efecte.Reference, 0, len(accessIDs))
	for _, id := range accessIDs {
		refs = append(refs, efecte.Reference{ID: id})
	}
	card.SetReferences(efecte.AttrSecurityAccesses, refs...)
	return card
}

func TestBuildCandidate_TranslatesAccessesAndResolvesHolder(t *testing.T) {
	ctx := context.Background()
	store := state.New(kv.NewMemory())
	require.NoError(t, store.LinkPersons(ctx, "PER-1", "ilp-1"))
	persons := NewEfectePersonResolver(store, &fakeEfecteDirectory{}, &fakeNoter{})
	r := NewEfecteKeyResolver(testMappings(t), persons)

	enriched := &iloq.EnrichedLockKey{
		Key: iloq.LockKey{KeyID: "il-key-1"},
		SecurityAccesses: []iloq.SecurityAccess{
			{SecurityAccessID: "il-sa-1"},
			{SecurityAccessID: "il-sa-2"},
		},
		Person: &iloq.Person{PersonID: "ilp-1"},
	}

	candidate, err := r.BuildCandidate(ctx, enriched, "ADDR-1")
	require.NoError(t, err)
	assert.Equal(t, "PER-1", candidate.PersonEntityID)
	assert.Equal(t, "ADDR-1", candidate.AddressEfecteID)
	assert.True(t, candidate.SecurityAccessEntityIDs.Equal(sets.New("SA-1", "SA-2")))
}

func TestBuildCandidate_UnresolvedHolderBecomesOutsider(t *testing.T) {
	ctx := context.Background()
	persons := NewEfectePersonResolver(state.New(kv.NewMemory()), &fakeEfecteDirectory{}, &fakeNoter{})
	r := NewEfecteKeyResolver(testMappings(t), persons)

	candidate, err := r.BuildCandidate(ctx, &iloq.EnrichedLockKey{
		Key: iloq.LockKey{KeyID: "il-key-1"},
		Person: &iloq.Person{
			PersonID:  "ilp-9",
			FirstName: "Matti",
			LastName:  "Meikäläinen",
			Email:     "matti@example.com",
		},
	}, "ADDR-1")
	require.NoError(t, err)
	assert.Empty(t, candidate.PersonEntityID)
	assert.Equal(t, "Matti Meikäläinen", candidate.OutsiderName)
	assert.Equal(t, "matti@example.com", candidate.OutsiderEmail)
}

func TestFindMatchingEfecteKey_PersonIdentity(t *testing.T) {
	r := NewEfecteKeyResolver(testMappings(t), nil)
	candidate := &Candidate{
		PersonEntityID:          "PER-1",
		SecurityAccessEntityIDs: sets.New("SA-1", "SA-2"),
	}
	unmapped := []efecte.EntityRecord{
		keyCard("KEY-1", "PER-2", "", "", "SA-1", "SA-2"),
		keyCard("KEY-2", "PER-1", "", "", "SA-1"),
		keyCard("KEY-3", "PER-1", "", "", "SA-2", "SA-1"),
	}

	match := r.FindMatchingEfecteKey(candidate, unmapped)
	require.NotNil(t, match)
	assert.Equal(t, "KEY-3", match.ID, "identity and access set must both match, order ignored")
}

func TestFindMatchingEfecteKey_OutsiderIdentity(t *testing.T) {
	r := NewEfecteKeyResolver(testMappings(t), nil)

	t.Run("name and email", func(t *testing.T) {
		candidate := &Candidate{
			OutsiderName:            "Matti Meikäläinen",
			OutsiderEmail:           "matti@example.com",
			SecurityAccessEntityIDs: sets.New("SA-1"),
		}
		unmapped := []efecte.EntityRecord{
			keyCard("KEY-1", "", "Matti Meikäläinen", "other@example.com", "SA-1"),
			keyCard("KEY-2", "", "MATTI  Meikäläinen", "matti@example.com", "SA-1"),
		}
		match := r.FindMatchingEfecteKey(candidate, unmapped)
		require.NotNil(t, match)
		assert.Equal(t, "KEY-2", match.ID)
	})

	t.Run("name alone when email absent", func(t *testing.T) {
		candidate := &Candidate{
			OutsiderName:            "Matti Meikäläinen",
			SecurityAccessEntityIDs: sets.New("SA-1"),
		}
		unmapped := []efecte.EntityRecord{
			keyCard("KEY-1", "", "Matti Meikäläinen", "whatever@example.com", "SA-1"),
		}
		match := r.FindMatchingEfecteKey(candidate, unmapped)
		require.NotNil(t, match)
		assert.Equal(t, "KEY-1", match.ID)
	})
}

func TestFindMatchingEfecteKey_FirstOfEqualMatchesWins(t *testing.T) {
	r := NewEfecteKeyResolver(testMappings(t), nil)
	candidate := &Candidate{
		PersonEntityID:          "PER-1",
		SecurityAccessEntityIDs: sets.New("SA-1"),
	}
	unmapped := []efecte.EntityRecord{
		keyCard("KEY-A", "PER-1", "", "", "SA-1"),
		keyCard("KEY-B", "PER-1", "", "", "SA-1"),
	}

	match := r.FindMatchingEfecteKey(candidate, unmapped)
	require.NotNil(t, match)
	assert.Equal(t, "KEY-A", match.ID)
}

func TestFindMatchingEfecteKey_NoMatch(t *testing.T) {
	r := NewEfecteKeyResolver(testMappings(t), nil)
	candidate := &Candidate{
		PersonEntityID:          "PER-1",
		SecurityAccessEntityIDs: sets.New("SA-1", "SA-2"),
	}
	unmapped := []efecte.EntityRecord{
		keyCard("KEY-1", "PER-1", "", "", "SA-1"),
		keyCard("KEY-2", "PER-9", "", "", "SA-1", "SA-2"),
	}

	assert.Nil(t, r.FindMatchingEfecteKey(candidate, unmapped))
	assert.Nil(t, r.FindMatchingEfecteKey(candidate, nil))
}
