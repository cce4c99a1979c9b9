package processor

import (
	"context"

	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/config"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/efecte"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/pkg/logging"
)

// Validator filters key cards before they enter a reconciliation run. An
// invalid card is dropped from the run without side effects; it is not an
// error.
type Validator struct {
	mappings *config.Mappings
}

// NewValidator creates a validator over the configured mapping tables.
func NewValidator(mappings *config.Mappings) *Validator {
	return &Validator{mappings: mappings}
}

// IsValidated reports whether a key card participates in reconciliation.
// Checks short-circuit in order: key type, state, street address, security
// accesses.
func (v *Validator) IsValidated(ctx context.Context, card *efecte.EntityRecord) bool {
	log := logging.FromContext(ctx).With().Str("entity_id", card.ID).Str("key_id", card.KeyID()).Logger()

	if card.Value(efecte.AttrKeyType) != efecte.KeyTypeILoq {
		log.Debug().Str("key_type", card.Value(efecte.AttrKeyType)).Msg("Skipping key, not an iLOQ key")
		return false
	}

	if !card.State().Synchronizable() {
		log.Debug().Str("state", string(card.State())).Msg("Skipping key, state not synchronizable")
		return false
	}

	addressID := card.FirstReferenceID(efecte.AttrStreetAddress)
	if !v.mappings.HasAddress(addressID) {
		log.Debug().Str("address_id", addressID).Msg("Skipping key, street address not configured")
		return false
	}

	for _, accessID := range card.ReferenceIDs(efecte.AttrSecurityAccesses) {
		if !v.mappings.HasAccess(accessID) {
			log.Debug().Str("access_id", accessID).Msg("Skipping key, security access not configured")
			return false
		}
	}

	return true
}
