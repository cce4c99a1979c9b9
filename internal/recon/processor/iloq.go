package processor

import (
	"context"
	"time"

	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/config"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/efecte"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/iloq"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/recon/state"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/utils/sets"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/pkg/errors"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/pkg/logging"
)

// ILoqSyncResult is the decision produced for one key card in the
// Efecte-to-iLOQ direction. UpdateAccesses distinguishes "no change" (nil)
// from "clear all accesses" (empty non-nil slice). Previous is the snapshot
// to persist once the proposed mutations have been applied; a nil Previous
// leaves the cached snapshot untouched.
type ILoqSyncResult struct {
	EfecteKeyID     string
	Transition      string
	CreateKey       *iloq.LockKey
	UpdateAccesses  []string
	UpdateExpiry    *time.Time
	UpdateEfecteKey *efecte.EntityRecord
	Previous        *state.PreviousKeyState
}

// NoOp reports whether the result proposes no mutation at all.
func (r *ILoqSyncResult) NoOp() bool {
	return r.CreateKey == nil && r.UpdateAccesses == nil && r.UpdateExpiry == nil &&
		r.UpdateEfecteKey == nil && r.Previous == nil
}

// keyEvent is the input row of the decision table: what the cached snapshot
// says against what the key card says now.
type keyEvent struct {
	mapped          bool
	previous        *state.PreviousKeyState
	current         efecte.KeyState
	accessChanged   bool
	validityChanged bool
}

// transition is one row of the decision table.
type transition struct {
	name    string
	matches func(keyEvent) bool
	apply   func(*ILoqKeyProcessor, context.Context, *efecte.EntityRecord, keyEvent, *ILoqSyncResult) error
}

// transitions is the Efecte-to-iLOQ state machine, evaluated top to bottom;
// the first matching row decides. Events matching no row are logged no-ops.
var transitions = []transition{
	{
		name: "create",
		matches: func(e keyEvent) bool {
			return !e.mapped && e.previous == nil && e.current == efecte.StateAwaitingActivation
		},
		apply: (*ILoqKeyProcessor).applyCreate,
	},
	{
		name: "reject-create-invalid-state",
		matches: func(e keyEvent) bool {
			return !e.mapped && e.previous == nil
		},
		apply: (*ILoqKeyProcessor).applyRejectCreate,
	},
	{
		name: "previous-state-lost",
		matches: func(e keyEvent) bool {
			return e.mapped && e.previous == nil
		},
		apply: (*ILoqKeyProcessor).applyStateLost,
	},
	{
		name: "update-accesses",
		matches: func(e keyEvent) bool {
			return e.previous != nil && e.previous.State == efecte.StateActive &&
				e.current == efecte.StateActive && e.accessChanged
		},
		apply: (*ILoqKeyProcessor).applyUpdateAccesses,
	},
	{
		name: "update-validity",
		matches: func(e keyEvent) bool {
			return e.previous != nil && e.previous.State == efecte.StateActive &&
				e.current == efecte.StateActive && e.validityChanged
		},
		apply: (*ILoqKeyProcessor).applyUpdateValidity,
	},
	{
		name: "disable",
		matches: func(e keyEvent) bool {
			return e.previous != nil && e.previous.State == efecte.StateActive &&
				e.current == efecte.StatePassive
		},
		apply: (*ILoqKeyProcessor).applyDisable,
	},
	{
		name: "manual-activation-recovery",
		matches: func(e keyEvent) bool {
			return e.previous != nil && e.previous.State == efecte.StateAwaitingActivation &&
				e.current == efecte.StateActive
		},
		apply: (*ILoqKeyProcessor).applyRecoverActivation,
	},
	{
		name: "passive-waits-for-removal",
		matches: func(e keyEvent) bool {
			return e.previous != nil && e.previous.State == efecte.StatePassive
		},
		apply: func(*ILoqKeyProcessor, context.Context, *efecte.EntityRecord, keyEvent, *ILoqSyncResult) error {
			return nil
		},
	},
}

// PersonCreator ensures a key holder exists in iLOQ before a key is created
// for them.
type PersonCreator interface {
	EnsureILoqPerson(ctx context.Context, card *efecte.EntityRecord) (string, error)
}

// ILoqKeyProcessor decides, for each validated key card, what (if anything)
// must change on the iLOQ side.
type ILoqKeyProcessor struct {
	store    *state.Store
	mappings *config.Mappings
	persons  PersonCreator
	audit    *AuditProcessor
}

// NewILoqKeyProcessor creates the Efecte-to-iLOQ key processor.
func NewILoqKeyProcessor(store *state.Store, mappings *config.Mappings, persons PersonCreator, audit *AuditProcessor) *ILoqKeyProcessor {
	return &ILoqKeyProcessor{store: store, mappings: mappings, persons: persons, audit: audit}
}

// ProcessKey runs the key card through the decision table and returns the
// proposed outcome.
func (p *ILoqKeyProcessor) ProcessKey(ctx context.Context, card *efecte.EntityRecord) (*ILoqSyncResult, error) {
	efecteKeyID := card.KeyID()
	result := &ILoqSyncResult{EfecteKeyID: efecteKeyID}

	event, err := p.buildEvent(ctx, card, efecteKeyID)
	if err != nil {
		return nil, err
	}

	for _, t := range transitions {
		if !t.matches(event) {
			continue
		}
		result.Transition = t.name
		logging.FromContext(ctx).Debug().
			Str("key_id", efecteKeyID).
			Str("transition", t.name).
			Msg("Key transition selected")
		if err := t.apply(p, ctx, card, event, result); err != nil {
			return nil, err
		}
		return result, nil
	}

	result.Transition = "no-op"
	logging.FromContext(ctx).Debug().
		Str("key_id", efecteKeyID).
		Str("state", string(event.current)).
		Msg("No transition row matched, skipping key")
	return result, nil
}

// buildEvent gathers the decision inputs: mapping presence, the previous
// snapshot, and whether the access set or validity date drifted from it.
func (p *ILoqKeyProcessor) buildEvent(ctx context.Context, card *efecte.EntityRecord, efecteKeyID string) (keyEvent, error) {
	event := keyEvent{current: card.State()}

	_, err := p.store.KeyByEfecteID(ctx, efecteKeyID)
	switch {
	case err == nil:
		event.mapped = true
	case errors.IsNotFound(err):
		// The card may still self-describe a counterpart set by hand.
		event.mapped = card.Value(efecte.AttrILoqKeyID) != ""
	default:
		return event, err
	}

	prev, err := p.store.PreviousKeyState(ctx, efecteKeyID)
	switch {
	case err == nil:
		event.previous = prev
	case errors.IsNotFound(err):
		return event, nil
	default:
		return event, err
	}

	current := sets.FromSlice(card.ReferenceIDs(efecte.AttrSecurityAccesses))
	event.accessChanged = !current.Equal(prev.SecurityAccessEntityIDs)
	event.validityChanged = card.Value(efecte.AttrValidityDate) != prev.ValidityDate
	return event, nil
}

func (p *ILoqKeyProcessor) applyCreate(ctx context.Context, card *efecte.EntityRecord, _ keyEvent, result *ILoqSyncResult) error {
	personID, err := p.persons.EnsureILoqPerson(ctx, card)
	if err != nil {
		return err
	}

	address, err := p.mappings.AddressByEfecteID(card.FirstReferenceID(efecte.AttrStreetAddress))
	if err != nil {
		return err
	}

	accessIDs := card.ReferenceIDs(efecte.AttrSecurityAccesses)
	iloqAccessIDs, err := p.mappings.TranslateAccessesToILoq(accessIDs)
	if err != nil {
		return err
	}

	expiry, err := parseValidity(card)
	if err != nil {
		return p.audit.Raise(ctx, &AuditRecord{
			From:     "efecte",
			To:       "iloq",
			EntityID: result.EfecteKeyID,
			Message:  "unparseable validity date " + card.Value(efecte.AttrValidityDate),
		}, err)
	}

	result.CreateKey = &iloq.LockKey{
		PersonID:          personID,
		RealEstateID:      address.RealEstateID,
		Description:       card.Name,
		InfoText:          result.EfecteKeyID,
		State:             iloq.KeyStateActive,
		ExpireDate:        expiry,
		SecurityAccessIDs: iloqAccessIDs,
	}
	result.Previous = &state.PreviousKeyState{
		State:                   efecte.StateActive,
		SecurityAccessEntityIDs: sets.FromSlice(accessIDs),
		ValidityDate:            card.Value(efecte.AttrValidityDate),
	}

	// Backfill the counterpart id on the card once the key exists; the
	// service fills in the created key id before applying this.
	backfill := &efecte.EntityRecord{ID: card.ID, TemplateCode: efecte.TemplateKey}
	backfill.SetValue(efecte.AttrKeyID, result.EfecteKeyID)
	backfill.SetValue(efecte.AttrKeyState, string(efecte.StateActive))
	result.UpdateEfecteKey = backfill
	return nil
}

func (p *ILoqKeyProcessor) applyRejectCreate(ctx context.Context, _ *efecte.EntityRecord, event keyEvent, result *ILoqSyncResult) error {
	return p.audit.Raise(ctx, &AuditRecord{
		From:     "efecte",
		To:       "iloq",
		EntityID: result.EfecteKeyID,
		Message:  "cannot create key, invalid state " + string(event.current),
	}, errors.ErrInvalidTransition)
}

func (p *ILoqKeyProcessor) applyStateLost(ctx context.Context, _ *efecte.EntityRecord, _ keyEvent, result *ILoqSyncResult) error {
	return p.audit.Raise(ctx, &AuditRecord{
		From:     "efecte",
		To:       "iloq",
		EntityID: result.EfecteKeyID,
		Message:  "mapping exists but previous state lost",
	}, errors.ErrStateLost)
}

func (p *ILoqKeyProcessor) applyUpdateAccesses(_ context.Context, card *efecte.EntityRecord, event keyEvent, result *ILoqSyncResult) error {
	accessIDs := card.ReferenceIDs(efecte.AttrSecurityAccesses)
	iloqAccessIDs, err := p.mappings.TranslateAccessesToILoq(accessIDs)
	if err != nil {
		return err
	}
	if iloqAccessIDs == nil {
		iloqAccessIDs = []string{}
	}
	result.UpdateAccesses = iloqAccessIDs
	result.Previous = &state.PreviousKeyState{
		State:                   efecte.StateActive,
		SecurityAccessEntityIDs: sets.FromSlice(accessIDs),
		ValidityDate:            card.Value(efecte.AttrValidityDate),
	}
	// A validity drift in the same run rides along instead of waiting for
	// the next pass.
	if event.validityChanged {
		expiry, err := parseValidity(card)
		if err != nil {
			return err
		}
		result.UpdateExpiry = expiry
	}
	return nil
}

func (p *ILoqKeyProcessor) applyUpdateValidity(_ context.Context, card *efecte.EntityRecord, event keyEvent, result *ILoqSyncResult) error {
	expiry, err := parseValidity(card)
	if err != nil {
		return err
	}
	result.UpdateExpiry = expiry
	result.Previous = &state.PreviousKeyState{
		State:                   efecte.StateActive,
		SecurityAccessEntityIDs: event.previous.SecurityAccessEntityIDs,
		ValidityDate:            card.Value(efecte.AttrValidityDate),
	}
	return nil
}

func (p *ILoqKeyProcessor) applyDisable(_ context.Context, card *efecte.EntityRecord, _ keyEvent, result *ILoqSyncResult) error {
	result.UpdateAccesses = []string{}
	result.Previous = &state.PreviousKeyState{
		State:                   efecte.StatePassive,
		SecurityAccessEntityIDs: sets.New(),
		ValidityDate:            card.Value(efecte.AttrValidityDate),
	}
	return nil
}

func (p *ILoqKeyProcessor) applyRecoverActivation(_ context.Context, card *efecte.EntityRecord, event keyEvent, result *ILoqSyncResult) error {
	// The key was activated by hand in Efecte; iLOQ already matches.
	result.Previous = &state.PreviousKeyState{
		State:                   efecte.StateActive,
		SecurityAccessEntityIDs: event.previous.SecurityAccessEntityIDs,
		ValidityDate:            card.Value(efecte.AttrValidityDate),
	}
	return nil
}

// SetCurrentILoqCredentials compares the customer code configured for the
// card's address against the cached current code; on mismatch it persists
// the new code and raises the changed marker consumed by session setup. It
// returns the credentials for the card's tenant.
func (p *ILoqKeyProcessor) SetCurrentILoqCredentials(ctx context.Context, card *efecte.EntityRecord) (config.Credentials, bool, error) {
	code, err := p.mappings.CustomerCodeForAddress(card.FirstReferenceID(efecte.AttrStreetAddress))
	if err != nil {
		return config.Credentials{}, false, err
	}

	creds, err := p.mappings.CredentialsFor(code)
	if err != nil {
		return config.Credentials{}, false, err
	}

	current, err := p.store.CurrentCustomerCode(ctx)
	if err != nil && !errors.IsNotFound(err) {
		return config.Credentials{}, false, err
	}
	if current == code {
		return creds, false, nil
	}

	if err := p.store.SetCurrentCustomerCode(ctx, code); err != nil {
		return config.Credentials{}, false, err
	}
	logging.FromContext(ctx).Info().
		Str("customer_code", code).
		Msg("iLOQ customer code changed")
	return creds, true, nil
}

// parseValidity parses the card's validity date into an iLOQ expiry, or nil
// when the card carries none.
func parseValidity(card *efecte.EntityRecord) (*time.Time, error) {
	raw := card.Value(efecte.AttrValidityDate)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(efecte.DateFormat, raw)
	if err != nil {
		return nil, errors.NewValidationError(efecte.AttrValidityDate, raw, "unparseable date")
	}
	return &t, nil
}
