package resolver

import (
	"context"
	"strings"

	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/efecte"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/iloq"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/recon/state"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/pkg/errors"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/pkg/logging"
)

// EfecteDirectory is the slice of the Efecte client the person resolver
// needs.
type EfecteDirectory interface {
	Query(ctx context.Context, templateCode, query string) ([]efecte.EntityRecord, error)
}

// ILoqDirectory is the slice of the iLOQ client the person resolver needs.
type ILoqDirectory interface {
	GetPersonByExternalID(ctx context.Context, externalID string) ([]iloq.Person, error)
	ListPersons(ctx context.Context) ([]iloq.Person, error)
}

// Noter records non-fatal audit messages, such as ambiguous name matches.
type Noter interface {
	Note(ctx context.Context, from, to, entityID, message string) error
}

// LocalIdentity is the Efecte-side identity of a key holder: either a
// person entity id, or an outsider name/email pair for holders without a
// person card.
type LocalIdentity struct {
	EntityID      string
	OutsiderName  string
	OutsiderEmail string
}

// IsOutsider reports whether the identity has no person card.
func (id *LocalIdentity) IsOutsider() bool {
	return id.EntityID == ""
}

// isOutsiderIdentifier recognizes the surrogate identifiers produced by
// CreateIdentifier; real Efecte entity ids never contain "#".
func isOutsiderIdentifier(localID string) bool {
	return strings.Contains(localID, "#")
}

// EfectePersonResolver resolves an iLOQ person to its Efecte-side identity:
// cached mapping, then external-id lookup, then unique-name match.
type EfectePersonResolver struct {
	store     *state.Store
	directory EfecteDirectory
	audit     Noter
}

// NewEfectePersonResolver creates an Efecte person resolver.
func NewEfectePersonResolver(store *state.Store, directory EfecteDirectory, audit Noter) *EfectePersonResolver {
	return &EfectePersonResolver{store: store, directory: directory, audit: audit}
}

// ResolveLocalIdentity returns the Efecte identity of an iLOQ person.
// When no person card can be resolved the holder is treated as an
// outsider, identified by name and email from the iLOQ record.
func (r *EfectePersonResolver) ResolveLocalIdentity(ctx context.Context, person *iloq.Person) (*LocalIdentity, error) {
	if person == nil {
		return &LocalIdentity{}, nil
	}
	outsider := &LocalIdentity{
		OutsiderName:  person.FullName(),
		OutsiderEmail: strings.TrimSpace(person.Email),
	}

	// Tier 1: cached mapping.
	localID, err := r.store.PersonByILoqID(ctx, person.PersonID)
	if err == nil {
		if isOutsiderIdentifier(localID) {
			return outsider, nil
		}
		return &LocalIdentity{EntityID: localID}, nil
	}
	if !errors.IsNotFound(err) {
		return nil, err
	}

	// Tier 2: the counterpart id recorded on the person card.
	entityID, err := r.lookupByILoqID(ctx, person.PersonID)
	if err != nil {
		return nil, err
	}
	if entityID != "" {
		if err := r.store.LinkPersons(ctx, entityID, person.PersonID); err != nil {
			return nil, err
		}
		return &LocalIdentity{EntityID: entityID}, nil
	}

	// Tier 3: unique name match.
	entityID, err = r.lookupByName(ctx, person)
	if err != nil {
		return nil, err
	}
	if entityID != "" {
		if err := r.store.LinkPersons(ctx, entityID, person.PersonID); err != nil {
			return nil, err
		}
		return &LocalIdentity{EntityID: entityID}, nil
	}

	return outsider, nil
}

// lookupByILoqID finds the person card carrying the given iLOQ person id.
func (r *EfectePersonResolver) lookupByILoqID(ctx context.Context, iloqPersonID string) (string, error) {
	query := efecte.NewQuery().Equals(efecte.AttrPersonILoqID, iloqPersonID).String()
	cards, err := r.directory.Query(ctx, efecte.TemplatePerson, query)
	if err != nil {
		return "", err
	}
	if len(cards) == 1 {
		return cards[0].ID, nil
	}
	if len(cards) > 1 {
		if err := r.audit.Note(ctx, "iloq", "efecte", iloqPersonID,
			"multiple person cards carry the same iLOQ person id"); err != nil {
			return "", err
		}
	}
	return "", nil
}

// lookupByName finds the single person card whose name matches; zero or
// multiple candidates yield no result, and an ambiguity is noted for a
// human to untangle.
func (r *EfectePersonResolver) lookupByName(ctx context.Context, person *iloq.Person) (string, error) {
	first := strings.TrimSpace(person.FirstName)
	last := strings.TrimSpace(person.LastName)
	if first == "" && last == "" {
		return "", nil
	}

	query := efecte.NewQuery().
		Equals(efecte.AttrPersonFirstName, first).
		Equals(efecte.AttrPersonLastName, last).
		String()
	cards, err := r.directory.Query(ctx, efecte.TemplatePerson, query)
	if err != nil {
		return "", err
	}

	wanted := NormalizeName(first + " " + last)
	var matches []string
	for _, card := range cards {
		got := NormalizeName(card.Value(efecte.AttrPersonFirstName) + " " + card.Value(efecte.AttrPersonLastName))
		if got == wanted {
			matches = append(matches, card.ID)
		}
	}

	switch len(matches) {
	case 0:
		return "", nil
	case 1:
		return matches[0], nil
	default:
		logging.FromContext(ctx).Warn().
			Str("iloq_person_id", person.PersonID).
			Int("candidates", len(matches)).
			Msg("Ambiguous person name match, leaving unresolved")
		if err := r.audit.Note(ctx, "iloq", "efecte", person.PersonID,
			"multiple person cards match name "+person.FullName()); err != nil {
			return "", err
		}
		return "", nil
	}
}

// ILoqPersonResolver resolves an Efecte-side identity to an iLOQ person id:
// cached mapping, then external-id lookup, then unique-name match.
type ILoqPersonResolver struct {
	store     *state.Store
	directory ILoqDirectory
	audit     Noter
}

// NewILoqPersonResolver creates an iLOQ person resolver.
func NewILoqPersonResolver(store *state.Store, directory ILoqDirectory, audit Noter) *ILoqPersonResolver {
	return &ILoqPersonResolver{store: store, directory: directory, audit: audit}
}

// ResolveExternalPersonID returns the iLOQ person id for a local identity,
// or the empty string when nothing resolves and the caller may create the
// person. localID is an Efecte person entity id, or for outsiders the
// deterministic identifier from CreateIdentifier.
func (r *ILoqPersonResolver) ResolveExternalPersonID(ctx context.Context, localID, firstName, lastName string) (string, error) {
	// Tier 1: cached mapping.
	personID, err := r.store.PersonByLocalID(ctx, localID)
	if err == nil {
		return personID, nil
	}
	if !errors.IsNotFound(err) {
		return "", err
	}

	// Tier 2: external-id lookup in iLOQ.
	persons, err := r.directory.GetPersonByExternalID(ctx, localID)
	if err != nil {
		return "", err
	}
	if len(persons) == 1 {
		if err := r.store.LinkPersons(ctx, localID, persons[0].PersonID); err != nil {
			return "", err
		}
		return persons[0].PersonID, nil
	}
	if len(persons) > 1 {
		if err := r.audit.Note(ctx, "efecte", "iloq", localID,
			"multiple iLOQ persons carry the same external id"); err != nil {
			return "", err
		}
		return "", nil
	}

	// Tier 3: unique name match over the tenant's person list.
	wanted := NormalizeName(firstName + " " + lastName)
	if wanted == "" {
		return "", nil
	}
	persons, err = r.directory.ListPersons(ctx)
	if err != nil {
		return "", err
	}
	var matches []iloq.Person
	for _, p := range persons {
		if NormalizeName(p.FirstName+" "+p.LastName) == wanted {
			matches = append(matches, p)
		}
	}

	switch len(matches) {
	case 0:
		return "", nil
	case 1:
		if err := r.store.LinkPersons(ctx, localID, matches[0].PersonID); err != nil {
			return "", err
		}
		return matches[0].PersonID, nil
	default:
		logging.FromContext(ctx).Warn().
			Str("local_id", localID).
			Int("candidates", len(matches)).
			Msg("Ambiguous person name match, leaving unresolved")
		if err := r.audit.Note(ctx, "efecte", "iloq", localID,
			"multiple iLOQ persons match name "+strings.TrimSpace(firstName+" "+lastName)); err != nil {
			return "", err
		}
		return "", nil
	}
}
