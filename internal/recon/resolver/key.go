package resolver

import (
	"context"

	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/config"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/efecte"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/iloq"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/utils/sets"
)

// Candidate is a synthetic comparison record built from an iLOQ key: the
// resolved holder identity plus the Efecte-side access-id set. It carries
// just enough to run the matching scan against unmapped key cards.
type Candidate struct {
	PersonEntityID          string
	OutsiderName            string
	OutsiderEmail           string
	SecurityAccessEntityIDs sets.Set
	AddressEfecteID         string
}

// EfecteKeyResolver builds candidates from iLOQ keys and matches them
// against unmapped Efecte key cards.
type EfecteKeyResolver struct {
	mappings *config.Mappings
	persons  *EfectePersonResolver
}

// NewEfecteKeyResolver creates a key resolver.
func NewEfecteKeyResolver(mappings *config.Mappings, persons *EfectePersonResolver) *EfecteKeyResolver {
	return &EfecteKeyResolver{mappings: mappings, persons: persons}
}

// BuildCandidate constructs the comparison record for an enriched iLOQ key:
// the holder identity resolved to the Efecte side, and the key's security
// access ids translated to their Efecte counterparts.
func (r *EfecteKeyResolver) BuildCandidate(ctx context.Context, key *iloq.EnrichedLockKey, addressEfecteID string) (*Candidate, error) {
	identity, err := r.persons.ResolveLocalIdentity(ctx, key.Person)
	if err != nil {
		return nil, err
	}

	efecteIDs, err := r.mappings.TranslateAccessesToEfecte(key.AccessIDs())
	if err != nil {
		return nil, err
	}

	return &Candidate{
		PersonEntityID:          identity.EntityID,
		OutsiderName:            identity.OutsiderName,
		OutsiderEmail:           identity.OutsiderEmail,
		SecurityAccessEntityIDs: sets.FromSlice(efecteIDs),
		AddressEfecteID:         addressEfecteID,
	}, nil
}

// FindMatchingEfecteKey scans the unmapped key cards for the candidate's
// address and returns the first one whose holder identity and access-id set
// both match, or nil. Callers pre-filter by address; the scan itself is
// linear over the given slice.
func (r *EfecteKeyResolver) FindMatchingEfecteKey(candidate *Candidate, unmapped []efecte.EntityRecord) *efecte.EntityRecord {
	for i := range unmapped {
		card := &unmapped[i]
		if !matchesIdentity(candidate, card) {
			continue
		}
		accessIDs := sets.FromSlice(card.ReferenceIDs(efecte.AttrSecurityAccesses))
		if candidate.SecurityAccessEntityIDs.Equal(accessIDs) {
			return card
		}
	}
	return nil
}

// matchesIdentity compares key-holder identity: person reference when the
// candidate resolved to a person card, otherwise outsider name plus email,
// with a name-only comparison when neither side has an email.
func matchesIdentity(candidate *Candidate, card *efecte.EntityRecord) bool {
	if candidate.PersonEntityID != "" {
		return card.FirstReferenceID(efecte.AttrKeyHolder) == candidate.PersonEntityID
	}

	if NormalizeName(card.Value(efecte.AttrOutsiderName)) != NormalizeName(candidate.OutsiderName) {
		return false
	}
	// Without an email the name alone has to carry the comparison.
	if candidate.OutsiderEmail == "" {
		return true
	}
	return card.Value(efecte.AttrOutsiderEmail) == candidate.OutsiderEmail
}
