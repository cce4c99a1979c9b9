// Package iloq models iLOQ key and person resources and provides the
// session-based JSON client used to read and mutate them.
//
// iLOQ is the source of truth for its own resources; the engine holds them
// only transiently per reconciliation run.
package iloq

import (
	"strings"
	"time"
)

// Key states used by the iLOQ API.
const (
	KeyStateActive   = 1
	KeyStateReturned = 4
)

// LockKey is an iLOQ key resource. SecurityAccessIDs is not part of the key
// document itself; it is resolved separately and filled in during
// enrichment.
type LockKey struct {
	KeyID        string     `json:"keyId"`
	PersonID     string     `json:"personId,omitempty"`
	RealEstateID string     `json:"realEstateId,omitempty"`
	Description  string     `json:"description,omitempty"`
	InfoText     string     `json:"infoText,omitempty"`
	State        int        `json:"state,omitempty"`
	ExpireDate   *time.Time `json:"expireDate,omitempty"`

	// SecurityAccessIDs is derived via GetKeySecurityAccesses.
	SecurityAccessIDs []string `json:"-"`
}

// EfecteID returns the Efecte key identifier embedded in the key's info
// text once the key has been linked, or the empty string.
func (k *LockKey) EfecteID() string {
	return strings.TrimSpace(k.InfoText)
}

// SecurityAccess is a named access-rights grant attachable to a key.
type SecurityAccess struct {
	SecurityAccessID string `json:"securityAccessId"`
	Name             string `json:"name,omitempty"`
	ZoneID           string `json:"zoneId,omitempty"`
}

// Person is an iLOQ person resource. ExternalID carries the Efecte person
// entity id, or the deterministic outsider identifier for key holders
// without an Efecte person card.
type Person struct {
	PersonID   string `json:"personId"`
	ExternalID string `json:"externalId,omitempty"`
	FirstName  string `json:"firstName,omitempty"`
	LastName   string `json:"lastName,omitempty"`
	Email      string `json:"email,omitempty"`
}

// FullName returns "First Last" with surrounding whitespace removed.
func (p *Person) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(p.FirstName) + " " + strings.TrimSpace(p.LastName))
}

// EnrichedLockKey is a LockKey with its security accesses and holder
// resolved. It is an ephemeral aggregate built once per key under
// processing and never persisted.
type EnrichedLockKey struct {
	Key              LockKey
	SecurityAccesses []SecurityAccess
	Person           *Person
}

// SecurityAccessIDs returns the resolved access ids of the enriched key.
func (e *EnrichedLockKey) AccessIDs() []string {
	ids := make([]string, 0, len(e.SecurityAccesses))
	for _, sa := range e.SecurityAccesses {
		ids = append(ids, sa.SecurityAccessID)
	}
	return ids
}
