// Package recon orchestrates reconciliation runs between Efecte and iLOQ.
// A run pulls a batch of entities from one system, passes each through
// validation and the per-entity decision procedures, and applies the
// proposed mutations. Failures abort only the entity they belong to; the
// batch loop continues.
package recon

import (
	"context"
	"time"

	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/config"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/efecte"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/iloq"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/kv"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/recon/processor"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/recon/resolver"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/recon/state"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/pkg/errors"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/pkg/logging"
)

// Sync directions as they appear in results, logs and audit records.
const (
	DirectionEfecteToILoq = "efecte-to-iloq"
	DirectionILoqToEfecte = "iloq-to-efecte"
)

// EfecteClient is the Efecte API surface the service consumes.
type EfecteClient interface {
	Query(ctx context.Context, templateCode, query string) ([]efecte.EntityRecord, error)
	CreateEntity(ctx context.Context, entity *efecte.EntityRecord) error
	UpdateEntity(ctx context.Context, entity *efecte.EntityRecord) error
}

// ILoqClient is the iLOQ API surface the service consumes.
type ILoqClient interface {
	SetCredentials(creds iloq.Credentials)
	GetKey(ctx context.Context, keyID string) (*iloq.LockKey, error)
	ListKeys(ctx context.Context) ([]iloq.LockKey, error)
	CreateKey(ctx context.Context, key *iloq.LockKey) (string, error)
	UpdateKey(ctx context.Context, key *iloq.LockKey) error
	UpdateSecurityAccesses(ctx context.Context, keyID string, accessIDs []string) error
	GetKeySecurityAccesses(ctx context.Context, keyID string) ([]iloq.SecurityAccess, error)
	CreatePerson(ctx context.Context, person *iloq.Person) (string, error)
	GetPersonByExternalID(ctx context.Context, externalID string) ([]iloq.Person, error)
	ListPersons(ctx context.Context) ([]iloq.Person, error)
}

// Service runs reconciliation in both directions.
type Service struct {
	store    *state.Store
	mappings *config.Mappings
	efecte   EfecteClient
	iloq     ILoqClient

	validator  *processor.Validator
	audit      *processor.AuditProcessor
	cache      *processor.RunCache
	efecteProc *processor.EfecteKeyProcessor
	iloqProc   *processor.ILoqKeyProcessor
}

// Options tunes service construction.
type Options struct {
	// AuditTTL bounds audit record lifetime; zero selects the default.
	AuditTTL time.Duration
}

// NewService wires the reconciliation engine on top of its collaborators.
func NewService(store kv.Store, mappings *config.Mappings, efecteClient EfecteClient, iloqClient ILoqClient, opts Options) *Service {
	st := state.New(store)
	audit := processor.NewAuditProcessor(store, opts.AuditTTL)
	cache := processor.NewRunCache()

	efectePersons := resolver.NewEfectePersonResolver(st, efecteClient, audit)
	iloqPersons := resolver.NewILoqPersonResolver(st, iloqClient, audit)
	keys := resolver.NewEfecteKeyResolver(mappings, efectePersons)
	personProc := processor.NewILoqPersonProcessor(st, iloqPersons, efecteClient, iloqClient)

	return &Service{
		store:      st,
		mappings:   mappings,
		efecte:     efecteClient,
		iloq:       iloqClient,
		validator:  processor.NewValidator(mappings),
		audit:      audit,
		cache:      cache,
		efecteProc: processor.NewEfecteKeyProcessor(st, mappings, efecteClient, keys, audit, cache),
		iloqProc:   processor.NewILoqKeyProcessor(st, mappings, personProc, audit),
	}
}

// Audit exposes the audit processor for the reset flow and the HTTP
// surface.
func (s *Service) Audit() *processor.AuditProcessor {
	return s.audit
}

// SyncKeysToILoq reconciles Efecte key cards into iLOQ.
func (s *Service) SyncKeysToILoq(ctx context.Context) (*Result, error) {
	result := newResult(DirectionEfecteToILoq)
	ctx = logging.WithDirection(logging.WithRunID(ctx, result.RunID), result.Direction)
	log := logging.FromContext(ctx)

	if err := s.startRun(ctx, result); err != nil {
		return nil, err
	}

	query := efecte.NewQuery().Equals(efecte.AttrKeyType, efecte.KeyTypeILoq).String()
	cards, err := s.efecte.Query(ctx, efecte.TemplateKey, query)
	if err != nil {
		return nil, errors.WrapSync(result.Direction, nil, err)
	}

	for i := range cards {
		card := &cards[i]
		result.Stats.Processed++

		if !s.validator.IsValidated(ctx, card) {
			result.Stats.Skipped++
			continue
		}

		entityCtx := logging.WithEntity(ctx, card.KeyID())
		if err := s.syncKeyToILoq(entityCtx, card, result); err != nil {
			result.addError(card.KeyID(), err, errors.IsAudit(err))
			logging.FromContext(entityCtx).Error().Err(err).Msg("Key sync failed, continuing with next entity")
		}
	}

	log.Info().Msg(result.finalize().Summary())
	return result, nil
}

// syncKeyToILoq processes one key card and applies the proposed mutations.
func (s *Service) syncKeyToILoq(ctx context.Context, card *efecte.EntityRecord, result *Result) error {
	if err := s.selectTenantFor(ctx, card); err != nil {
		return err
	}

	res, err := s.iloqProc.ProcessKey(ctx, card)
	if err != nil {
		return err
	}

	switch {
	case res.CreateKey != nil:
		if err := s.applyILoqCreate(ctx, res); err != nil {
			return err
		}
		result.Stats.Created++
	case res.UpdateAccesses != nil || res.UpdateExpiry != nil:
		if err := s.applyILoqUpdate(ctx, res); err != nil {
			return err
		}
		if res.Transition == "disable" {
			result.Stats.Disabled++
		} else {
			result.Stats.Updated++
		}
	case res.NoOp():
		result.Stats.Skipped++
	}

	if res.Previous != nil {
		if err := s.store.SavePreviousKeyState(ctx, res.EfecteKeyID, res.Previous); err != nil {
			return err
		}
	}
	return s.audit.ClearGuard(ctx, "efecte", "iloq", res.EfecteKeyID)
}

// applyILoqCreate creates the iLOQ key, links the mapping, grants the
// accesses and backfills the counterpart id on the Efecte card.
func (s *Service) applyILoqCreate(ctx context.Context, res *processor.ILoqSyncResult) error {
	iloqKeyID, err := s.iloq.CreateKey(ctx, res.CreateKey)
	if err != nil {
		return err
	}
	if err := s.store.LinkKeys(ctx, res.EfecteKeyID, iloqKeyID); err != nil {
		return err
	}
	if len(res.CreateKey.SecurityAccessIDs) > 0 {
		if err := s.iloq.UpdateSecurityAccesses(ctx, iloqKeyID, res.CreateKey.SecurityAccessIDs); err != nil {
			return err
		}
	}

	if res.UpdateEfecteKey != nil {
		res.UpdateEfecteKey.SetValue(efecte.AttrILoqKeyID, iloqKeyID)
		if err := s.efecte.UpdateEntity(ctx, res.UpdateEfecteKey); err != nil {
			return err
		}
	}

	logging.FromContext(ctx).Info().
		Str("iloq_key_id", iloqKeyID).
		Msg("Created iLOQ key")
	return nil
}

// applyILoqUpdate pushes access or expiry deltas to the mapped iLOQ key.
func (s *Service) applyILoqUpdate(ctx context.Context, res *processor.ILoqSyncResult) error {
	iloqKeyID, err := s.store.KeyByEfecteID(ctx, res.EfecteKeyID)
	if err != nil {
		return err
	}

	if res.UpdateAccesses != nil {
		if err := s.iloq.UpdateSecurityAccesses(ctx, iloqKeyID, res.UpdateAccesses); err != nil {
			return err
		}
	}
	if res.UpdateExpiry != nil {
		key, err := s.iloq.GetKey(ctx, iloqKeyID)
		if err != nil {
			return err
		}
		key.ExpireDate = res.UpdateExpiry
		if err := s.iloq.UpdateKey(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// selectTenantFor points the iLOQ client at the tenant owning the card's
// address. The changed marker survives a crash between the code switch and
// the session switch, so it is honored even when the code already matches.
func (s *Service) selectTenantFor(ctx context.Context, card *efecte.EntityRecord) error {
	creds, changed, err := s.iloqProc.SetCurrentILoqCredentials(ctx, card)
	if err != nil {
		return err
	}

	if !changed {
		pending, err := s.store.CustomerCodeChanged(ctx)
		if err != nil {
			return err
		}
		changed = pending
	}
	if changed {
		s.iloq.SetCredentials(iloq.Credentials{
			CustomerCode: creds.CustomerCode,
			Username:     creds.Username,
			Password:     creds.Password,
		})
		if err := s.store.ClearCustomerCodeChanged(ctx); err != nil {
			return err
		}
	}
	return nil
}

// SyncKeysToEfecte reconciles iLOQ keys into Efecte, tenant by tenant.
func (s *Service) SyncKeysToEfecte(ctx context.Context) (*Result, error) {
	result := newResult(DirectionILoqToEfecte)
	ctx = logging.WithDirection(logging.WithRunID(ctx, result.RunID), result.Direction)
	log := logging.FromContext(ctx)

	if err := s.startRun(ctx, result); err != nil {
		return nil, err
	}

	for _, code := range s.mappings.CustomerCodes() {
		creds, err := s.mappings.CredentialsFor(code)
		if err != nil {
			log.Warn().Str("customer_code", code).Msg("No credentials for tenant, skipping")
			continue
		}
		s.iloq.SetCredentials(iloq.Credentials{
			CustomerCode: creds.CustomerCode,
			Username:     creds.Username,
			Password:     creds.Password,
		})

		if err := s.syncTenantToEfecte(logging.WithField(ctx, "customer_code", code), result); err != nil {
			return nil, errors.WrapSync(result.Direction, nil, err)
		}
	}

	log.Info().Msg(result.finalize().Summary())
	return result, nil
}

// syncTenantToEfecte processes every key of the currently selected tenant.
func (s *Service) syncTenantToEfecte(ctx context.Context, result *Result) error {
	keys, err := s.iloq.ListKeys(ctx)
	if err != nil {
		return err
	}
	persons, err := s.iloq.ListPersons(ctx)
	if err != nil {
		return err
	}
	personsByID := make(map[string]iloq.Person, len(persons))
	for _, p := range persons {
		personsByID[p.PersonID] = p
	}

	for i := range keys {
		key := &keys[i]
		result.Stats.Processed++

		if key.State == iloq.KeyStateReturned {
			result.Stats.Skipped++
			continue
		}

		entityCtx := logging.WithEntity(ctx, key.KeyID)
		if err := s.syncKeyToEfecte(entityCtx, key, personsByID, result); err != nil {
			result.addError(key.KeyID, err, errors.IsAudit(err))
			logging.FromContext(entityCtx).Error().Err(err).Msg("Key sync failed, continuing with next entity")
		}
	}
	return nil
}

// syncKeyToEfecte enriches one iLOQ key, runs the decision procedure and
// applies the proposed mutations.
func (s *Service) syncKeyToEfecte(ctx context.Context, key *iloq.LockKey, personsByID map[string]iloq.Person, result *Result) error {
	enriched, err := s.enrich(ctx, key, personsByID)
	if err != nil {
		return err
	}

	res, err := s.efecteProc.BuildEfecteKey(ctx, enriched)
	if err != nil {
		return err
	}

	switch {
	case res.Create != nil:
		if err := s.efecte.CreateEntity(ctx, res.Create); err != nil {
			return err
		}
		if err := s.store.LinkKeys(ctx, res.EfecteKeyID, key.KeyID); err != nil {
			return err
		}
		result.Stats.Created++
	case res.Update != nil:
		if err := s.efecte.UpdateEntity(ctx, res.Update); err != nil {
			return err
		}
		result.Stats.Updated++
	case res.NoOp():
		result.Stats.Skipped++
	}

	if res.UpdateILoqKey {
		backfill := *key
		backfill.InfoText = res.EfecteKeyID
		if err := s.iloq.UpdateKey(ctx, &backfill); err != nil {
			return err
		}
	}

	if res.Previous != nil {
		if err := s.store.SavePreviousKeyState(ctx, res.EfecteKeyID, res.Previous); err != nil {
			return err
		}
	}
	return s.audit.ClearGuard(ctx, "iloq", "efecte", res.EfecteKeyID)
}

// enrich resolves the accesses and holder of one iLOQ key.
func (s *Service) enrich(ctx context.Context, key *iloq.LockKey, personsByID map[string]iloq.Person) (*iloq.EnrichedLockKey, error) {
	accesses, err := s.iloq.GetKeySecurityAccesses(ctx, key.KeyID)
	if err != nil {
		return nil, err
	}

	enriched := &iloq.EnrichedLockKey{Key: *key, SecurityAccesses: accesses}
	if key.PersonID != "" {
		if p, ok := personsByID[key.PersonID]; ok {
			enriched.Person = &p
		}
	}
	return enriched, nil
}

// startRun resets the per-run cache and repairs half-written mappings
// before any entity is touched.
func (s *Service) startRun(ctx context.Context, result *Result) error {
	s.cache.Reset()
	repaired, err := s.store.RepairHalfMappings(ctx)
	if err != nil {
		return errors.WrapSync(result.Direction, nil, err)
	}
	result.Repaired = len(repaired)
	return nil
}
