// Package config provides the static mapping tables the reconciliation
// engine consults: street addresses with their iLOQ real-estate ids and
// customer codes, security accesses with their identifiers in both systems,
// and per-customer-code iLOQ credentials.
//
// The tables are maintained by hand in a YAML file deployed alongside the
// service. Credentials are never stored in the file; they are injected from
// the environment by the application wiring.
package config

import (
	"os"

	"github.com/goccy/go-yaml"

	"github.com/City-of-Helsinki/sotepe-efecte-iloq/pkg/errors"
)

// Address maps one Efecte street-address entity to its iLOQ real estate.
type Address struct {
	// EfecteID is the Efecte entity id of the street address card.
	EfecteID string `yaml:"efecte_id"`

	// Street is the human-readable street address, for logs only.
	Street string `yaml:"street"`

	// RealEstateID is the iLOQ real estate the address belongs to.
	RealEstateID string `yaml:"real_estate_id"`

	// CustomerCode selects the iLOQ tenant holding the real estate.
	CustomerCode string `yaml:"customer_code"`
}

// SecurityAccess maps one security-access grant between the two systems.
type SecurityAccess struct {
	// EfecteID is the Efecte entity id of the security access card.
	EfecteID string `yaml:"efecte_id"`

	// Name is the human-readable grant name, for logs only.
	Name string `yaml:"name"`

	// ILoqID is the iLOQ security access identifier.
	ILoqID string `yaml:"iloq_id"`

	// ZoneID is the iLOQ zone the access belongs to.
	ZoneID string `yaml:"zone_id"`
}

// Credentials holds the iLOQ login for one customer code.
type Credentials struct {
	CustomerCode string
	Username     string
	Password     string
}

// Mappings holds the full static mapping tables with indexes for
// bidirectional lookup.
type Mappings struct {
	Addresses        []Address        `yaml:"addresses"`
	SecurityAccesses []SecurityAccess `yaml:"security_accesses"`

	credentials map[string]Credentials

	addressByEfecteID    map[string]*Address
	addressByRealEstate  map[string]*Address
	accessByEfecteID     map[string]*SecurityAccess
	accessByILoqID       map[string]*SecurityAccess
}

// Load reads and indexes the mapping tables from a YAML file.
func Load(path string) (*Mappings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigError("mappings", "reading mapping file "+path, err)
	}
	return Parse(data)
}

// Parse parses and indexes mapping tables from YAML bytes.
func Parse(data []byte) (*Mappings, error) {
	var m Mappings
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.NewConfigError("mappings", "parsing mapping file", err)
	}
	if err := m.index(); err != nil {
		return nil, err
	}
	return &m, nil
}

// index builds the lookup maps and rejects duplicate identifiers.
func (m *Mappings) index() error {
	m.addressByEfecteID = make(map[string]*Address, len(m.Addresses))
	m.addressByRealEstate = make(map[string]*Address, len(m.Addresses))
	m.accessByEfecteID = make(map[string]*SecurityAccess, len(m.SecurityAccesses))
	m.accessByILoqID = make(map[string]*SecurityAccess, len(m.SecurityAccesses))
	m.credentials = make(map[string]Credentials)

	for i := range m.Addresses {
		a := &m.Addresses[i]
		if a.EfecteID == "" || a.RealEstateID == "" {
			return errors.NewConfigError("mappings", "address entry missing efecte_id or real_estate_id", nil)
		}
		if _, dup := m.addressByEfecteID[a.EfecteID]; dup {
			return errors.NewConfigError("mappings", "duplicate address efecte_id "+a.EfecteID, nil)
		}
		m.addressByEfecteID[a.EfecteID] = a
		m.addressByRealEstate[a.RealEstateID] = a
	}

	for i := range m.SecurityAccesses {
		sa := &m.SecurityAccesses[i]
		if sa.EfecteID == "" || sa.ILoqID == "" {
			return errors.NewConfigError("mappings", "security access entry missing efecte_id or iloq_id", nil)
		}
		if _, dup := m.accessByEfecteID[sa.EfecteID]; dup {
			return errors.NewConfigError("mappings", "duplicate security access efecte_id "+sa.EfecteID, nil)
		}
		if _, dup := m.accessByILoqID[sa.ILoqID]; dup {
			return errors.NewConfigError("mappings", "duplicate security access iloq_id "+sa.ILoqID, nil)
		}
		m.accessByEfecteID[sa.EfecteID] = sa
		m.accessByILoqID[sa.ILoqID] = sa
	}

	return nil
}

// SetCredentials installs the per-customer-code iLOQ credentials.
func (m *Mappings) SetCredentials(creds []Credentials) {
	m.credentials = make(map[string]Credentials, len(creds))
	for _, c := range creds {
		m.credentials[c.CustomerCode] = c
	}
}

// CredentialsFor returns the iLOQ credentials for a customer code.
func (m *Mappings) CredentialsFor(customerCode string) (Credentials, error) {
	c, ok := m.credentials[customerCode]
	if !ok {
		return Credentials{}, errors.NewConfigError("credentials", "no iLOQ credentials for customer code "+customerCode, nil)
	}
	return c, nil
}

// AddressByEfecteID returns the address entry for an Efecte street-address
// entity id, or errors.ErrNotFound.
func (m *Mappings) AddressByEfecteID(efecteID string) (*Address, error) {
	a, ok := m.addressByEfecteID[efecteID]
	if !ok {
		return nil, errors.NewNotFoundError("address mapping", efecteID)
	}
	return a, nil
}

// AddressByRealEstateID returns the address entry for an iLOQ real estate
// id, or errors.ErrNotFound.
func (m *Mappings) AddressByRealEstateID(realEstateID string) (*Address, error) {
	a, ok := m.addressByRealEstate[realEstateID]
	if !ok {
		return nil, errors.NewNotFoundError("address mapping", realEstateID)
	}
	return a, nil
}

// HasAddress reports whether an Efecte street-address id is configured.
func (m *Mappings) HasAddress(efecteID string) bool {
	_, ok := m.addressByEfecteID[efecteID]
	return ok
}

// AccessByEfecteID returns the security access entry for an Efecte entity
// id, or errors.ErrNotFound.
func (m *Mappings) AccessByEfecteID(efecteID string) (*SecurityAccess, error) {
	sa, ok := m.accessByEfecteID[efecteID]
	if !ok {
		return nil, errors.NewNotFoundError("security access mapping", efecteID)
	}
	return sa, nil
}

// AccessByILoqID returns the security access entry for an iLOQ access id,
// or errors.ErrNotFound.
func (m *Mappings) AccessByILoqID(iloqID string) (*SecurityAccess, error) {
	sa, ok := m.accessByILoqID[iloqID]
	if !ok {
		return nil, errors.NewNotFoundError("security access mapping", iloqID)
	}
	return sa, nil
}

// HasAccess reports whether an Efecte security-access id is configured.
func (m *Mappings) HasAccess(efecteID string) bool {
	_, ok := m.accessByEfecteID[efecteID]
	return ok
}

// CustomerCodeForAddress returns the iLOQ customer code configured for an
// Efecte street-address id.
func (m *Mappings) CustomerCodeForAddress(efecteID string) (string, error) {
	a, err := m.AddressByEfecteID(efecteID)
	if err != nil {
		return "", err
	}
	if a.CustomerCode == "" {
		return "", errors.NewConfigError("mappings", "address "+efecteID+" has no customer code", nil)
	}
	return a.CustomerCode, nil
}

// CustomerCodes returns the distinct iLOQ customer codes of all configured
// addresses, in configuration order.
func (m *Mappings) CustomerCodes() []string {
	seen := make(map[string]bool)
	var codes []string
	for _, a := range m.Addresses {
		if a.CustomerCode == "" || seen[a.CustomerCode] {
			continue
		}
		seen[a.CustomerCode] = true
		codes = append(codes, a.CustomerCode)
	}
	return codes
}

// TranslateAccessesToEfecte converts iLOQ security access ids to their
// Efecte entity ids. Unknown ids produce errors.ErrNotFound.
func (m *Mappings) TranslateAccessesToEfecte(iloqIDs []string) ([]string, error) {
	efecteIDs := make([]string, 0, len(iloqIDs))
	for _, id := range iloqIDs {
		sa, err := m.AccessByILoqID(id)
		if err != nil {
			return nil, err
		}
		efecteIDs = append(efecteIDs, sa.EfecteID)
	}
	return efecteIDs, nil
}

// TranslateAccessesToILoq converts Efecte security access entity ids to
// their iLOQ access ids. Unknown ids produce errors.ErrNotFound.
func (m *Mappings) TranslateAccessesToILoq(efecteIDs []string) ([]string, error) {
	iloqIDs := make([]string, 0, len(efecteIDs))
	for _, id := range efecteIDs {
		sa, err := m.AccessByEfecteID(id)
		if err != nil {
			return nil, err
		}
		iloqIDs = append(iloqIDs, sa.ILoqID)
	}
	return iloqIDs, nil
}
