package recon

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
)

type fakeEfecte struct {
	cards   map[string][]efecte.EntityRecord // by template
	created []efecte.EntityRecord
	updated []efecte.EntityRecord
}

func (f *fakeEfecte) Query(_ context.Context, templateCode, _ string) ([]efecte.EntityRecord, error) {
	return f.cards[templateCode], nil
}

func (f *fakeEfecte) CreateEntity(_ context.Context, e *efecte.EntityRecord) error {
	f.created = append(f.created, *e)
	return nil
}

func (f *fakeEfecte) UpdateEntity(_ context.Context, e *efecte.EntityRecord) error {
	f.updated = append(f.updated, *e)
	return nil
}

type fakeILoq struct {
	creds           []iloq.Credentials
	keys            []iloq.LockKey
	persons         []iloq.Person
	accessesByKeyID map[string][]iloq.SecurityAccess

	createdKeys    []iloq.LockKey
	updatedKeys    []iloq.LockKey
	grantedAccess  map[string][]string
	createdPersons []iloq.Person
	nextKeyID      string
}

func newFakeILoq() *fakeILoq {
	return &fakeILoq{
		accessesByKeyID: make(map[string][]iloq.SecurityAccess),
		grantedAccess:   make(map[string][]string),
		nextKeyID:       "il-key-new",
	}
}

func (f *fakeILoq) SetCredentials(creds iloq.Credentials) {
	f.creds = append(f.creds, creds)
}

func (f *fakeILoq) GetKey(_ context.Context, keyID string) (*iloq.LockKey, error) {
	for i := range f.keys {
		if f.keys[i].KeyID == keyID {
			k := f.keys[i]
			return &k, nil
		}
	}
	return &iloq.LockKey{KeyID: keyID}, nil
}

func (f *fakeILoq) ListKeys(context.Context) ([]iloq.LockKey, error) {
	return f.keys, nil
}

func (f *fakeILoq) CreateKey(_ context.Context, key *iloq.LockKey) (string, error) {
	created := *key
	created.KeyID = f.nextKeyID
	f.createdKeys = append(f.createdKeys, created)
	return f.nextKeyID, nil
}

func (f *fakeILoq) UpdateKey(_ context.Context, key *iloq.LockKey) error {
	f.updatedKeys = append(f.updatedKeys, *key)
	return nil
}

func (f *fakeILoq) UpdateSecurityAccesses(_ context.Context, keyID string, accessIDs []string) error {
	f.grantedAccess[keyID] = accessIDs
	return nil
}

func (f *fakeILoq) GetKeySecurityAccesses(_ context.Context, keyID string) ([]iloq.SecurityAccess, error) {
	return f.accessesByKeyID[keyID], nil
}

func (f *fakeILoq) CreatePerson(_ context.Context, person *iloq.Person) (string, error) {
	f.createdPersons = append(f.createdPersons, *person)
	return "ilp-new", nil
}

func (f *fakeILoq) GetPersonByExternalID(context.Context, string) ([]iloq.Person, error) {
	return nil, nil
}

func (f *fakeILoq) ListPersons(context.Context) ([]iloq.Person, error) {
	return f.persons, nil
}

func serviceMappings(t *testing.T) *config.Mappings {
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
	m.SetCredentials([]config.Credentials{{CustomerCode: "HEL01", Username: "u", Password: "p"}})
	return m
}

func awaitingCard(keyID string, accessIDs ...string) efecte.EntityRecord {
	card := efecte.EntityRecord{ID: "ent-" + keyID, TemplateCode: efecte.TemplateKey}
	card.SetValue(efecte.AttrKeyID, keyID)
	card.SetValue(efecte.AttrKeyType, efecte.KeyTypeILoq)
	card.SetValue(efecte.AttrKeyState, string(efecte.StateAwaitingActivation))
	card.SetValue(efecte.AttrOutsiderName, "Matti Meikäläinen")
	card.SetValue(efecte.AttrOutsiderEmail, "matti@example.com")
	card.SetReferences(efecte.AttrStreetAddress, efecte.Reference{ID: "ADDR-1"})
	refs := make([]efecte.Reference, 0, len(accessIDs))
	for _, id := range accessIDs {
		refs = append(refs, efecte.Reference{ID: id})
	}
	card.SetReferences(efecte.AttrSecurityAccesses, refs...)
	return card
}

func newTestService(t *testing.T) (*Service, *fakeEfecte, *fakeILoq, kv.Store) {
	t.Helper()
	mem := kv.NewMemory()
	efecteClient := &fakeEfecte{cards: make(map[string][]efecte.EntityRecord)}
	iloqClient := newFakeILoq()
	svc := NewService(mem, serviceMappings(t), efecteClient, iloqClient, Options{})
	return svc, efecteClient, iloqClient, mem
}

func TestSyncKeysToILoq_CreatesKeyAndBackfills(t *testing.T) {
	ctx := context.Background()
	svc, efecteClient, iloqClient, mem := newTestService(t)

	efecteClient.cards[efecte.TemplateKey] = []efecte.EntityRecord{awaitingCard("KEY-1", "SA-1", "SA-2")}

	result, err := svc.SyncKeysToILoq(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stats.Created)
	assert.Zero(t, result.Stats.Failed)

	// The tenant was selected before any mutation.
	require.NotEmpty(t, iloqClient.creds)
	assert.Equal(t, "HEL01", iloqClient.creds[0].CustomerCode)

	// Person and key were created, accesses granted.
	require.Len(t, iloqClient.createdPersons, 1)
	assert.Equal(t, "matti@example.com#MAME", iloqClient.createdPersons[0].ExternalID)
	require.Len(t, iloqClient.createdKeys, 1)
	assert.Equal(t, "KEY-1", iloqClient.createdKeys[0].InfoText)
	assert.ElementsMatch(t, []string{"il-sa-1", "il-sa-2"}, iloqClient.grantedAccess["il-key-new"])

	// The card got its counterpart id back.
	require.Len(t, efecteClient.updated, 1)
	assert.Equal(t, "il-key-new", efecteClient.updated[0].Value(efecte.AttrILoqKeyID))

	// Mapping and snapshot were persisted.
	st := state.New(mem)
	iloqID, err := st.KeyByEfecteID(ctx, "KEY-1")
	require.NoError(t, err)
	assert.Equal(t, "il-key-new", iloqID)
	prev, err := st.PreviousKeyState(ctx, "KEY-1")
	require.NoError(t, err)
	assert.Equal(t, efecte.StateActive, prev.State)
}

func TestSyncKeysToILoq_SecondRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, efecteClient, iloqClient, _ := newTestService(t)

	card := awaitingCard("KEY-1", "SA-1")
	efecteClient.cards[efecte.TemplateKey] = []efecte.EntityRecord{card}

	_, err := svc.SyncKeysToILoq(ctx)
	require.NoError(t, err)
	require.Len(t, iloqClient.createdKeys, 1)

	// The card is now active and unchanged; nothing new may be pushed.
	card.SetValue(efecte.AttrKeyState, string(efecte.StateActive))
	efecteClient.cards[efecte.TemplateKey] = []efecte.EntityRecord{card}

	result, err := svc.SyncKeysToILoq(ctx)
	require.NoError(t, err)
	assert.Len(t, iloqClient.createdKeys, 1)
	assert.Equal(t, 1, result.Stats.Skipped)
	assert.Zero(t, result.Stats.Created+result.Stats.Updated+result.Stats.Failed)
}

func TestSyncKeysToILoq_AuditFailureContinuesBatch(t *testing.T) {
	ctx := context.Background()
	svc, efecteClient, iloqClient, _ := newTestService(t)

	// First card is unmapped but already ACTIVE: audit exception. Second
	// card is fine and must still be processed.
	broken := awaitingCard("KEY-1", "SA-1")
	broken.SetValue(efecte.AttrKeyState, string(efecte.StateActive))
	fine := awaitingCard("KEY-2", "SA-2")
	efecteClient.cards[efecte.TemplateKey] = []efecte.EntityRecord{broken, fine}

	result, err := svc.SyncKeysToILoq(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stats.Failed)
	assert.Equal(t, 1, result.Stats.Created)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "KEY-1", result.Errors[0].EntityID)
	assert.True(t, result.Errors[0].Audit)
	require.Len(t, iloqClient.createdKeys, 1)
	assert.Equal(t, "KEY-2", iloqClient.createdKeys[0].InfoText)
}

func TestSyncKeysToEfecte_MatchesUnmappedKeyCard(t *testing.T) {
	ctx := context.Background()
	svc, efecteClient, iloqClient, mem := newTestService(t)

	iloqClient.keys = []iloq.LockKey{{
		KeyID:        "il-key-1",
		PersonID:     "ilp-1",
		RealEstateID: "re-1",
		State:        iloq.KeyStateActive,
	}}
	iloqClient.persons = []iloq.Person{{
		PersonID:  "ilp-1",
		FirstName: "Matti",
		LastName:  "Meikäläinen",
		Email:     "matti@example.com",
	}}
	iloqClient.accessesByKeyID["il-key-1"] = []iloq.SecurityAccess{{SecurityAccessID: "il-sa-1"}}

	// One unmapped card with the same outsider holder and access set.
	existing := awaitingCard("KEY-7", "SA-1")
	existing.SetValue(efecte.AttrKeyState, string(efecte.StateActive))
	efecteClient.cards[efecte.TemplateKey] = []efecte.EntityRecord{existing}

	result, err := svc.SyncKeysToEfecte(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Stats.Failed)
	assert.Empty(t, efecteClient.created, "a matched key must not be created again")

	// The mapping was persisted both directions and the identifier embedded
	// in the iLOQ key.
	st := state.New(mem)
	efecteID, err := st.KeyByILoqID(ctx, "il-key-1")
	require.NoError(t, err)
	assert.Equal(t, "KEY-7", efecteID)
	require.Len(t, iloqClient.updatedKeys, 1)
	assert.Equal(t, "KEY-7", iloqClient.updatedKeys[0].InfoText)

	prev, err := st.PreviousKeyState(ctx, "KEY-7")
	require.NoError(t, err)
	assert.Equal(t, efecte.StateActive, prev.State)
}

func TestSyncKeysToEfecte_CreatesCardWhenNothingMatches(t *testing.T) {
	ctx := context.Background()
	svc, efecteClient, iloqClient, mem := newTestService(t)

	iloqClient.keys = []iloq.LockKey{{
		KeyID:        "il-key-1",
		PersonID:     "ilp-1",
		RealEstateID: "re-1",
		State:        iloq.KeyStateActive,
	}}
	iloqClient.persons = []iloq.Person{{
		PersonID:  "ilp-1",
		FirstName: "Matti",
		LastName:  "Meikäläinen",
		Email:     "matti@example.com",
	}}
	iloqClient.accessesByKeyID["il-key-1"] = []iloq.SecurityAccess{{SecurityAccessID: "il-sa-1"}}

	result, err := svc.SyncKeysToEfecte(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stats.Created)

	require.Len(t, efecteClient.created, 1)
	card := efecteClient.created[0]
	assert.Equal(t, efecte.KeyTypeILoq, card.Value(efecte.AttrKeyType))
	assert.Equal(t, "ADDR-1", card.FirstReferenceID(efecte.AttrStreetAddress))
	assert.Equal(t, []string{"SA-1"}, card.ReferenceIDs(efecte.AttrSecurityAccesses))

	st := state.New(mem)
	iloqID, err := st.KeyByEfecteID(ctx, card.KeyID())
	require.NoError(t, err)
	assert.Equal(t, "il-key-1", iloqID)
}

func TestSyncKeysToEfecte_ReturnedKeysAreSkipped(t *testing.T) {
	ctx := context.Background()
	svc, efecteClient, iloqClient, _ := newTestService(t)

	iloqClient.keys = []iloq.LockKey{{
		KeyID:        "il-key-1",
		RealEstateID: "re-1",
		State:        iloq.KeyStateReturned,
	}}

	result, err := svc.SyncKeysToEfecte(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stats.Skipped)
	assert.Empty(t, efecteClient.created)
}

func TestStartRun_RepairsHalfMappings(t *testing.T) {
	ctx := context.Background()
	svc, _, _, mem := newTestService(t)

	require.NoError(t, mem.Set(ctx, "mapping:key:efecte:KEY-1", "il-key-1"))

	result, err := svc.SyncKeysToILoq(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Repaired)

	st := state.New(mem)
	efecteID, err := st.KeyByILoqID(ctx, "il-key-1")
	require.NoError(t, err)
	assert.Equal(t, "KEY-1", efecteID)
}
