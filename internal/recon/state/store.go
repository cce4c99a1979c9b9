// Package state persists the reconciliation engine's durable memory: the
// last-synchronized snapshot of every key, the cross-system identity
// mappings, and the currently selected iLOQ customer code.
//
// All data lives in the KV store. The two halves of an identity mapping are
// written as two separate calls without a transaction, so a crash in
// between leaves a half mapping; RepairHalfMappings detects and completes
// such pairs on demand.
package state

import (
	"context"
	"encoding/json"

	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/efecte"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/kv"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/utils/sets"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/pkg/errors"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/pkg/logging"
)

// KV key namespaces. The plain value half of a previous key state lives
// under previousKeyPrefix directly; its access-id set lives in a KV set
// under the same key with the accessSuffix appended.
const (
	keyMappingEfectePrefix    = "mapping:key:efecte:"
	keyMappingILoqPrefix      = "mapping:key:iloq:"
	personMappingLocalPrefix  = "mapping:person:local:"
	personMappingILoqPrefix   = "mapping:person:iloq:"
	previousKeyPrefix         = "previous:key:"
	accessSuffix              = ":accesses"
	customerCodeKey           = "iloq:customer-code:current"
	customerCodeChangedKey    = "iloq:customer-code:changed"
)

// PreviousKeyState is the last-synchronized snapshot for one key, keyed by
// the Efecte key identifier. It is the diff baseline that makes each run
// idempotent: a run recomputes the current state, compares it to this
// snapshot and only pushes the delta outward. Written after every
// successful mutation, overwritten, never appended, never expires.
type PreviousKeyState struct {
	State                   efecte.KeyState `json:"state"`
	SecurityAccessEntityIDs sets.Set        `json:"-"`
	ValidityDate            string          `json:"validityDate,omitempty"`
}

// Store wraps the KV store with the engine's key naming scheme.
type Store struct {
	kv kv.Store
}

// New creates a state store on top of a KV store.
func New(store kv.Store) *Store {
	return &Store{kv: store}
}

// PreviousKeyState loads the snapshot for an Efecte key id, or
// errors.ErrStateLost wrapped in a NotFound when no snapshot exists.
func (s *Store) PreviousKeyState(ctx context.Context, efecteKeyID string) (*PreviousKeyState, error) {
	raw, err := s.kv.Get(ctx, previousKeyPrefix+efecteKeyID)
	if err != nil {
		return nil, err
	}

	var prev PreviousKeyState
	if err := json.Unmarshal([]byte(raw), &prev); err != nil {
		return nil, errors.WrapKV("get", previousKeyPrefix+efecteKeyID, err)
	}

	members, err := s.kv.GetSet(ctx, previousKeyPrefix+efecteKeyID+accessSuffix)
	if err != nil {
		return nil, err
	}
	prev.SecurityAccessEntityIDs = sets.FromSlice(members)

	return &prev, nil
}

// SavePreviousKeyState overwrites the snapshot for an Efecte key id.
func (s *Store) SavePreviousKeyState(ctx context.Context, efecteKeyID string, prev *PreviousKeyState) error {
	raw, err := json.Marshal(prev)
	if err != nil {
		return errors.WrapKV("set", previousKeyPrefix+efecteKeyID, err)
	}
	if err := s.kv.Set(ctx, previousKeyPrefix+efecteKeyID, string(raw)); err != nil {
		return err
	}

	// Replace, not merge: the set must mirror the snapshot exactly.
	accessKey := previousKeyPrefix + efecteKeyID + accessSuffix
	if err := s.kv.Del(ctx, accessKey); err != nil {
		return err
	}
	if prev.SecurityAccessEntityIDs.Len() > 0 {
		if err := s.kv.AddSet(ctx, accessKey, prev.SecurityAccessEntityIDs.Sorted()...); err != nil {
			return err
		}
	}
	return nil
}

// KeyByEfecteID returns the iLOQ key id mapped to an Efecte key id.
func (s *Store) KeyByEfecteID(ctx context.Context, efecteKeyID string) (string, error) {
	return s.kv.Get(ctx, keyMappingEfectePrefix+efecteKeyID)
}

// KeyByILoqID returns the Efecte key id mapped to an iLOQ key id.
func (s *Store) KeyByILoqID(ctx context.Context, iloqKeyID string) (string, error) {
	return s.kv.Get(ctx, keyMappingILoqPrefix+iloqKeyID)
}

// LinkKeys persists the key identity mapping in both directions. The two
// writes are not atomic; a half-written pair is repaired by
// RepairHalfMappings.
func (s *Store) LinkKeys(ctx context.Context, efecteKeyID, iloqKeyID string) error {
	if err := s.kv.Set(ctx, keyMappingEfectePrefix+efecteKeyID, iloqKeyID); err != nil {
		return err
	}
	return s.kv.Set(ctx, keyMappingILoqPrefix+iloqKeyID, efecteKeyID)
}

// PersonByLocalID returns the iLOQ person id mapped to an Efecte person
// entity id or outsider identifier.
func (s *Store) PersonByLocalID(ctx context.Context, localID string) (string, error) {
	return s.kv.Get(ctx, personMappingLocalPrefix+localID)
}

// PersonByILoqID returns the Efecte person entity id or outsider
// identifier mapped to an iLOQ person id.
func (s *Store) PersonByILoqID(ctx context.Context, iloqPersonID string) (string, error) {
	return s.kv.Get(ctx, personMappingILoqPrefix+iloqPersonID)
}

// LinkPersons persists the person identity mapping in both directions.
// The local id is either an Efecte person entity id or, for outsiders, the
// deterministic identifier built from name and email.
func (s *Store) LinkPersons(ctx context.Context, localID, iloqPersonID string) error {
	if err := s.kv.Set(ctx, personMappingLocalPrefix+localID, iloqPersonID); err != nil {
		return err
	}
	return s.kv.Set(ctx, personMappingILoqPrefix+iloqPersonID, localID)
}

// RepairedMapping describes one half mapping completed by a repair pass.
type RepairedMapping struct {
	Kind      string // "key" or "person"
	LocalID   string
	ForeignID string
}

// RepairHalfMappings scans both mapping namespaces and rewrites the missing
// half of any pair found in only one direction. It returns the repaired
// pairs so callers can log them.
func (s *Store) RepairHalfMappings(ctx context.Context) ([]RepairedMapping, error) {
	var repaired []RepairedMapping

	pairs := []struct {
		kind           string
		forwardPrefix  string
		backwardPrefix string
	}{
		{"key", keyMappingEfectePrefix, keyMappingILoqPrefix},
		{"key", keyMappingILoqPrefix, keyMappingEfectePrefix},
		{"person", personMappingLocalPrefix, personMappingILoqPrefix},
		{"person", personMappingILoqPrefix, personMappingLocalPrefix},
	}

	for _, p := range pairs {
		keys, err := s.kv.Keys(ctx, p.forwardPrefix)
		if err != nil {
			return repaired, err
		}
		for _, key := range keys {
			localID := key[len(p.forwardPrefix):]
			foreignID, err := s.kv.Get(ctx, key)
			if err != nil {
				return repaired, err
			}
			exists, err := s.kv.Exists(ctx, p.backwardPrefix+foreignID)
			if err != nil {
				return repaired, err
			}
			if exists {
				continue
			}
			if err := s.kv.Set(ctx, p.backwardPrefix+foreignID, localID); err != nil {
				return repaired, err
			}
			logging.FromContext(ctx).Warn().
				Str("kind", p.kind).
				Str("local_id", localID).
				Str("foreign_id", foreignID).
				Msg("Repaired half-written identity mapping")
			repaired = append(repaired, RepairedMapping{Kind: p.kind, LocalID: localID, ForeignID: foreignID})
		}
	}

	return repaired, nil
}

// CurrentCustomerCode returns the iLOQ customer code of the most recently
// used tenant, or errors.ErrNotFound before the first run.
func (s *Store) CurrentCustomerCode(ctx context.Context) (string, error) {
	return s.kv.Get(ctx, customerCodeKey)
}

// SetCurrentCustomerCode persists the customer code and raises the changed
// marker consumed by session setup.
func (s *Store) SetCurrentCustomerCode(ctx context.Context, customerCode string) error {
	if err := s.kv.Set(ctx, customerCodeKey, customerCode); err != nil {
		return err
	}
	return s.kv.Set(ctx, customerCodeChangedKey, "1")
}

// CustomerCodeChanged reports whether the changed marker is raised.
func (s *Store) CustomerCodeChanged(ctx context.Context) (bool, error) {
	return s.kv.Exists(ctx, customerCodeChangedKey)
}

// ClearCustomerCodeChanged lowers the changed marker.
func (s *Store) ClearCustomerCodeChanged(ctx context.Context) error {
	return s.kv.Del(ctx, customerCodeChangedKey)
}
