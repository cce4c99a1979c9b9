package processor

import (
	"context"
	"strings"

	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/efecte"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/iloq"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/recon/resolver"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/recon/state"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/pkg/logging"
)

// PersonWriter is the slice of the iLOQ client the person processor needs
// beyond resolution.
type PersonWriter interface {
	CreatePerson(ctx context.Context, person *iloq.Person) (string, error)
}

// EfecteResolver looks up the person card a key card's holder reference
// points at.
type EfecteResolver interface {
	Query(ctx context.Context, templateCode, query string) ([]efecte.EntityRecord, error)
}

// ILoqPersonProcessor makes sure the holder of a key card exists in iLOQ,
// resolving first and creating only when nothing resolves.
type ILoqPersonProcessor struct {
	store    *state.Store
	resolver *resolver.ILoqPersonResolver
	efecte   EfecteResolver
	writer   PersonWriter
}

// NewILoqPersonProcessor creates the person processor.
func NewILoqPersonProcessor(store *state.Store, r *resolver.ILoqPersonResolver, directory EfecteResolver, writer PersonWriter) *ILoqPersonProcessor {
	return &ILoqPersonProcessor{store: store, resolver: r, efecte: directory, writer: writer}
}

// EnsureILoqPerson returns the iLOQ person id for the holder of a key card,
// creating the person when resolution finds nothing. Holders without a
// person card get a deterministic outsider identifier as their external id.
func (p *ILoqPersonProcessor) EnsureILoqPerson(ctx context.Context, card *efecte.EntityRecord) (string, error) {
	localID, first, last, email, err := p.holderIdentity(ctx, card)
	if err != nil {
		return "", err
	}

	personID, err := p.resolver.ResolveExternalPersonID(ctx, localID, first, last)
	if err != nil {
		return "", err
	}
	if personID != "" {
		return personID, nil
	}

	personID, err = p.writer.CreatePerson(ctx, &iloq.Person{
		ExternalID: localID,
		FirstName:  first,
		LastName:   last,
		Email:      email,
	})
	if err != nil {
		return "", err
	}
	if err := p.store.LinkPersons(ctx, localID, personID); err != nil {
		return "", err
	}

	logging.FromContext(ctx).Info().
		Str("local_id", localID).
		Str("iloq_person_id", personID).
		Msg("Created iLOQ person for key holder")
	return personID, nil
}

// holderIdentity extracts the holder of a key card: the referenced person
// card when one exists, otherwise the outsider name/email pair with a
// deterministic surrogate identifier.
func (p *ILoqPersonProcessor) holderIdentity(ctx context.Context, card *efecte.EntityRecord) (localID, first, last, email string, err error) {
	if personEntityID := card.FirstReferenceID(efecte.AttrKeyHolder); personEntityID != "" {
		persons, err := p.efecte.Query(ctx, efecte.TemplatePerson,
			efecte.NewQuery().ID(personEntityID).String())
		if err != nil {
			return "", "", "", "", err
		}
		if len(persons) == 1 {
			person := persons[0]
			return personEntityID,
				person.Value(efecte.AttrPersonFirstName),
				person.Value(efecte.AttrPersonLastName),
				person.Value(efecte.AttrPersonEmail),
				nil
		}
		// Reference points nowhere useful; fall through to outsider fields.
	}

	name := card.Value(efecte.AttrOutsiderName)
	email = card.Value(efecte.AttrOutsiderEmail)
	first, last = splitName(name)
	return resolver.CreateIdentifier(email, name), first, last, email, nil
}

// splitName splits "First Middle Last" into a first-name part and the last
// name part.
func splitName(name string) (first, last string) {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return "", ""
	}
	if len(parts) == 1 {
		return parts[0], ""
	}
	return strings.Join(parts[:len(parts)-1], " "), parts[len(parts)-1]
}
