package processor

import (
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/config"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/internal/efecte"
)

// RunCache is the per-run scratch state of a reconciliation pass: the
// lazily-loaded unmapped key cards per address, and the address under
// processing. It belongs to exactly one run and must be reset before the
// next one; it is never shared across runs.
type RunCache struct {
	unmappedByAddress map[string][]efecte.EntityRecord

	currentRealEstateID string
	currentAddress      *config.Address
}

// NewRunCache creates an empty run cache.
func NewRunCache() *RunCache {
	return &RunCache{unmappedByAddress: make(map[string][]efecte.EntityRecord)}
}

// Reset clears all cached state. Called at the start of every run.
func (c *RunCache) Reset() {
	c.unmappedByAddress = make(map[string][]efecte.EntityRecord)
	c.currentRealEstateID = ""
	c.currentAddress = nil
}

// UnmappedKeys returns the cached unmapped key cards for an address and
// whether the address has been loaded this run.
func (c *RunCache) UnmappedKeys(addressEfecteID string) ([]efecte.EntityRecord, bool) {
	keys, ok := c.unmappedByAddress[addressEfecteID]
	return keys, ok
}

// PutUnmappedKeys caches the unmapped key cards for an address.
func (c *RunCache) PutUnmappedKeys(addressEfecteID string, keys []efecte.EntityRecord) {
	c.unmappedByAddress[addressEfecteID] = keys
}

// RemoveUnmappedKey drops one card from an address's cached list after it
// has been matched, so it cannot match a second foreign key in the same run.
func (c *RunCache) RemoveUnmappedKey(addressEfecteID, entityID string) {
	keys, ok := c.unmappedByAddress[addressEfecteID]
	if !ok {
		return
	}
	kept := keys[:0]
	for _, k := range keys {
		if k.ID != entityID {
			kept = append(kept, k)
		}
	}
	c.unmappedByAddress[addressEfecteID] = kept
}

// SetCurrentAddress records the address under processing.
func (c *RunCache) SetCurrentAddress(realEstateID string, address *config.Address) {
	c.currentRealEstateID = realEstateID
	c.currentAddress = address
}

// CurrentAddress returns the address under processing, or nil.
func (c *RunCache) CurrentAddress() *config.Address {
	return c.currentAddress
}

// CurrentRealEstateID returns the real estate under processing.
func (c *RunCache) CurrentRealEstateID() string {
	return c.currentRealEstateID
}
