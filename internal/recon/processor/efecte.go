package processor

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/config"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/efecte"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/iloq"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/recon/resolver"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/recon/state"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/utils/sets"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/pkg/errors"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/pkg/logging"
)

// EfecteSyncResult is the decision produced for one iLOQ key in the
// iLOQ-to-Efecte direction. At most one of Create and Update is set; a
// result with neither and UpdateILoqKey false is a no-op. Previous is the
// snapshot to persist once the proposed mutations have been applied.
type EfecteSyncResult struct {
	EfecteKeyID   string
	Create        *efecte.EntityRecord
	Update        *efecte.EntityRecord
	UpdateILoqKey bool
	Previous      *state.PreviousKeyState
}

// NoOp reports whether the result proposes no mutation at all.
func (r *EfecteSyncResult) NoOp() bool {
	return r.Create == nil && r.Update == nil && !r.UpdateILoqKey
}

// EfecteKeyProcessor decides, for each enriched iLOQ key, what (if
// anything) must change on the Efecte side.
type EfecteKeyProcessor struct {
	store    *state.Store
	mappings *config.Mappings
	efecte   resolver.EfecteDirectory
	keys     *resolver.EfecteKeyResolver
	audit    *AuditProcessor
	cache    *RunCache
}

// NewEfecteKeyProcessor creates the iLOQ-to-Efecte key processor.
func NewEfecteKeyProcessor(
	store *state.Store,
	mappings *config.Mappings,
	directory resolver.EfecteDirectory,
	keys *resolver.EfecteKeyResolver,
	audit *AuditProcessor,
	cache *RunCache,
) *EfecteKeyProcessor {
	return &EfecteKeyProcessor{
		store:    store,
		mappings: mappings,
		efecte:   directory,
		keys:     keys,
		audit:    audit,
		cache:    cache,
	}
}

// BuildEfecteKey runs the per-key decision procedure. An unmapped foreign
// key is matched against the unmapped local cards of its address, or a
// create is proposed; a mapped key is diffed against its previous snapshot
// and only the delta is proposed.
func (p *EfecteKeyProcessor) BuildEfecteKey(ctx context.Context, key *iloq.EnrichedLockKey) (*EfecteSyncResult, error) {
	address, err := p.mappings.AddressByRealEstateID(key.Key.RealEstateID)
	if err != nil {
		return nil, p.audit.Raise(ctx, &AuditRecord{
			From:          "iloq",
			To:            "efecte",
			EntityID:      key.Key.KeyID,
			CounterpartID: key.Key.RealEstateID,
			Message:       "real estate not configured",
		}, err)
	}
	p.cache.SetCurrentAddress(key.Key.RealEstateID, address)

	efecteKeyID := key.Key.EfecteID()
	if efecteKeyID == "" {
		mapped, err := p.store.KeyByILoqID(ctx, key.Key.KeyID)
		switch {
		case err == nil:
			// Mapped but the foreign key lost its self-description.
			return p.diffMapped(ctx, key, mapped, true)
		case errors.IsNotFound(err):
			return p.matchOrCreate(ctx, key, address)
		default:
			return nil, err
		}
	}

	return p.diffMapped(ctx, key, efecteKeyID, false)
}

// matchOrCreate handles a foreign key with no identity at all: match it
// against the unmapped local cards of its address, or propose a create.
func (p *EfecteKeyProcessor) matchOrCreate(ctx context.Context, key *iloq.EnrichedLockKey, address *config.Address) (*EfecteSyncResult, error) {
	unmapped, err := p.unmappedKeysForAddress(ctx, address.EfecteID)
	if err != nil {
		return nil, err
	}

	candidate, err := p.keys.BuildCandidate(ctx, key, address.EfecteID)
	if err != nil {
		return nil, err
	}

	if match := p.keys.FindMatchingEfecteKey(candidate, unmapped); match != nil {
		efecteKeyID := match.KeyID()
		if err := p.store.LinkKeys(ctx, efecteKeyID, key.Key.KeyID); err != nil {
			return nil, err
		}
		p.cache.RemoveUnmappedKey(address.EfecteID, match.ID)
		logging.FromContext(ctx).Info().
			Str("efecte_key_id", efecteKeyID).
			Str("iloq_key_id", key.Key.KeyID).
			Msg("Matched iLOQ key to existing key card")

		return &EfecteSyncResult{
			EfecteKeyID:   efecteKeyID,
			UpdateILoqKey: true,
			Previous: &state.PreviousKeyState{
				State:                   efecte.StateActive,
				SecurityAccessEntityIDs: candidate.SecurityAccessEntityIDs,
				ValidityDate:            formatExpiry(key),
			},
		}, nil
	}

	return p.proposeCreate(key, candidate, address)
}

// proposeCreate builds a new key card for a foreign key nothing matched.
// The engine mints the durable key identifier itself; Efecte assigns only
// the internal entity id on import.
func (p *EfecteKeyProcessor) proposeCreate(key *iloq.EnrichedLockKey, candidate *resolver.Candidate, address *config.Address) (*EfecteSyncResult, error) {
	efecteKeyID := newKeyID()

	card := &efecte.EntityRecord{TemplateCode: efecte.TemplateKey}
	card.SetValue(efecte.AttrKeyID, efecteKeyID)
	card.SetValue(efecte.AttrKeyType, efecte.KeyTypeILoq)
	card.SetValue(efecte.AttrKeyState, string(efecte.StateActive))
	card.SetValue(efecte.AttrILoqKeyID, key.Key.KeyID)
	card.SetReferences(efecte.AttrStreetAddress, efecte.Reference{ID: address.EfecteID})
	card.SetReferences(efecte.AttrSecurityAccesses, toReferences(candidate.SecurityAccessEntityIDs)...)

	if candidate.PersonEntityID != "" {
		card.SetReferences(efecte.AttrKeyHolder, efecte.Reference{ID: candidate.PersonEntityID})
	} else {
		card.SetValue(efecte.AttrOutsiderName, candidate.OutsiderName)
		if candidate.OutsiderEmail != "" {
			card.SetValue(efecte.AttrOutsiderEmail, candidate.OutsiderEmail)
		}
	}
	if validity := formatExpiry(key); validity != "" {
		card.SetValue(efecte.AttrValidityDate, validity)
	}

	return &EfecteSyncResult{
		EfecteKeyID:   efecteKeyID,
		Create:        card,
		UpdateILoqKey: true,
		Previous: &state.PreviousKeyState{
			State:                   efecte.StateActive,
			SecurityAccessEntityIDs: candidate.SecurityAccessEntityIDs,
			ValidityDate:            formatExpiry(key),
		},
	}, nil
}

// diffMapped handles a key with a known identity: compare the current
// access set against the previous snapshot and propose only the delta.
func (p *EfecteKeyProcessor) diffMapped(ctx context.Context, key *iloq.EnrichedLockKey, efecteKeyID string, backfillInfoText bool) (*EfecteSyncResult, error) {
	prev, err := p.store.PreviousKeyState(ctx, efecteKeyID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, p.audit.Raise(ctx, &AuditRecord{
				From:          "iloq",
				To:            "efecte",
				EntityID:      efecteKeyID,
				CounterpartID: key.Key.KeyID,
				Message:       "mapping exists but previous state lost",
			}, errors.ErrStateLost)
		}
		return nil, err
	}

	efecteIDs, err := p.mappings.TranslateAccessesToEfecte(key.AccessIDs())
	if err != nil {
		return nil, err
	}
	current := sets.FromSlice(efecteIDs)

	result := &EfecteSyncResult{EfecteKeyID: efecteKeyID, UpdateILoqKey: backfillInfoText}
	if current.Equal(prev.SecurityAccessEntityIDs) {
		return result, nil
	}

	update := &efecte.EntityRecord{TemplateCode: efecte.TemplateKey}
	update.SetValue(efecte.AttrKeyID, efecteKeyID)
	update.SetReferences(efecte.AttrSecurityAccesses, toReferences(current)...)

	result.Update = update
	result.Previous = &state.PreviousKeyState{
		State:                   prev.State,
		SecurityAccessEntityIDs: current,
		ValidityDate:            prev.ValidityDate,
	}
	return result, nil
}

// unmappedKeysForAddress lists the key cards of an address that have no
// iLOQ counterpart yet, loading them once per address per run.
func (p *EfecteKeyProcessor) unmappedKeysForAddress(ctx context.Context, addressEfecteID string) ([]efecte.EntityRecord, error) {
	if keys, ok := p.cache.UnmappedKeys(addressEfecteID); ok {
		return keys, nil
	}

	query := efecte.NewQuery().
		Equals(efecte.AttrKeyType, efecte.KeyTypeILoq).
		References(efecte.AttrStreetAddress, addressEfecteID).
		IsNull(efecte.AttrILoqKeyID).
		String()
	keys, err := p.efecte.Query(ctx, efecte.TemplateKey, query)
	if err != nil {
		return nil, err
	}

	p.cache.PutUnmappedKeys(addressEfecteID, keys)
	return keys, nil
}

// newKeyID mints a durable cross-system key identifier.
func newKeyID() string {
	return "KEY-" + strings.ToUpper(uuid.NewString()[:8])
}

// formatExpiry renders the foreign key's expire date in the Efecte date
// format, or the empty string when the key does not expire.
func formatExpiry(key *iloq.EnrichedLockKey) string {
	if key.Key.ExpireDate == nil {
		return ""
	}
	return key.Key.ExpireDate.Format(efecte.DateFormat)
}

// toReferences converts an id set to reference attributes in stable order.
func toReferences(ids sets.Set) []efecte.Reference {
	refs := make([]efecte.Reference, 0, ids.Len())
	for _, id := range ids.Sorted() {
		refs = append(refs, efecte.Reference{ID: id})
	}
	return refs
}
