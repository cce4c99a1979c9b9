// Package efecte models Efecte data cards as generic entity records and
// provides the XML-over-HTTP client used to query and mutate them.
//
// A record represents either a key card or a person; attribute codes are the
// only thing distinguishing the two. Records are created and destroyed by
// Efecte itself — the engine only reads them and proposes attribute deltas.
package efecte

import (
	"encoding/xml"
	"time"
)

// Template codes for the two entity kinds the engine handles.
const (
	TemplateKey    = "avain"
	TemplatePerson = "person"
)

// Attribute codes on the key card template.
const (
	AttrKeyID            = "key_id"            // durable cross-system identifier, e.g. "KEY-000123"
	AttrKeyType          = "key_type"          // lock system vendor; only "iLOQ" is handled
	AttrKeyState         = "key_state"         // KeyState value
	AttrStreetAddress    = "street_address"    // reference to a street address card
	AttrSecurityAccesses = "security_accesses" // references to security access cards
	AttrValidityDate     = "validity_date"     // end of validity, Efecte date format
	AttrKeyHolder        = "key_holder"        // reference to a person card
	AttrOutsiderName     = "outsider_name"     // key holder without a person card
	AttrOutsiderEmail    = "outsider_email"
	AttrILoqKeyID        = "iloq_key_id" // counterpart key in iLOQ, set once linked
)

// Attribute codes on the person template.
const (
	AttrPersonFirstName = "first_name"
	AttrPersonLastName  = "last_name"
	AttrPersonEmail     = "email"
	AttrPersonILoqID    = "iloq_person_id"
)

// KeyTypeILoq is the only key type this engine synchronizes.
const KeyTypeILoq = "iLOQ"

// DateFormat is the date layout Efecte uses in attribute values.
const DateFormat = "02.01.2006"

// KeyState enumerates the Efecte key card state machine. The engine only
// ever moves keys forward along AWAITING_ACTIVATION -> ACTIVE -> PASSIVE;
// DELETED and REJECTED are set by hand in Efecte and always rejected by
// validation.
type KeyState string

// Key card states.
const (
	StateAwaitingActivation KeyState = "AWAITING_ACTIVATION"
	StateActive             KeyState = "ACTIVE"
	StatePassive            KeyState = "PASSIVE"
	StateDeleted            KeyState = "DELETED"
	StateRejected           KeyState = "REJECTED"
)

// Synchronizable reports whether a key in this state participates in
// reconciliation at all.
func (s KeyState) Synchronizable() bool {
	switch s {
	case StateAwaitingActivation, StateActive, StatePassive:
		return true
	default:
		return false
	}
}

// EntityRecord is a generic Efecte data card: an id, a template code and an
// ordered list of attributes.
type EntityRecord struct {
	XMLName      xml.Name    `xml:"entity" json:"-"`
	ID           string      `xml:"id,attr" json:"id"`
	Name         string      `xml:"name,attr,omitempty" json:"name,omitempty"`
	TemplateCode string      `xml:"template,attr" json:"templateCode"`
	Attributes   []Attribute `xml:"attribute" json:"attributes"`
}

// Attribute is one attribute on a data card. Plain values and references to
// other cards are carried separately.
type Attribute struct {
	Code       string      `xml:"code,attr" json:"code"`
	Values     []string    `xml:"value,omitempty" json:"values,omitempty"`
	References []Reference `xml:"reference,omitempty" json:"references,omitempty"`
}

// Reference points at another Efecte data card.
type Reference struct {
	ID   string `xml:"id,attr" json:"id"`
	Name string `xml:",chardata" json:"name,omitempty"`
}

// Attribute returns the attribute with the given code, or nil.
func (e *EntityRecord) Attribute(code string) *Attribute {
	for i := range e.Attributes {
		if e.Attributes[i].Code == code {
			return &e.Attributes[i]
		}
	}
	return nil
}

// Value returns the first plain value of the attribute with the given code,
// or the empty string.
func (e *EntityRecord) Value(code string) string {
	if a := e.Attribute(code); a != nil && len(a.Values) > 0 {
		return a.Values[0]
	}
	return ""
}

// ReferenceIDs returns the ids of all cards referenced by the attribute with
// the given code.
func (e *EntityRecord) ReferenceIDs(code string) []string {
	a := e.Attribute(code)
	if a == nil {
		return nil
	}
	ids := make([]string, 0, len(a.References))
	for _, ref := range a.References {
		ids = append(ids, ref.ID)
	}
	return ids
}

// FirstReferenceID returns the id of the first card referenced by the
// attribute with the given code, or the empty string.
func (e *EntityRecord) FirstReferenceID(code string) string {
	if ids := e.ReferenceIDs(code); len(ids) > 0 {
		return ids[0]
	}
	return ""
}

// SetValue replaces the plain values of the attribute with the given code,
// appending the attribute if it does not exist yet.
func (e *EntityRecord) SetValue(code string, values ...string) {
	if a := e.Attribute(code); a != nil {
		a.Values = values
		return
	}
	e.Attributes = append(e.Attributes, Attribute{Code: code, Values: values})
}

// SetReferences replaces the references of the attribute with the given
// code, appending the attribute if it does not exist yet.
func (e *EntityRecord) SetReferences(code string, refs ...Reference) {
	if a := e.Attribute(code); a != nil {
		a.References = refs
		return
	}
	e.Attributes = append(e.Attributes, Attribute{Code: code, References: refs})
}

// KeyID returns the durable cross-system identifier of a key card.
func (e *EntityRecord) KeyID() string {
	return e.Value(AttrKeyID)
}

// State returns the key card state.
func (e *EntityRecord) State() KeyState {
	return KeyState(e.Value(AttrKeyState))
}

// ValidityDate parses the key card validity date. A missing attribute
// yields a zero time and no error.
func (e *EntityRecord) ValidityDate() (time.Time, error) {
	raw := e.Value(AttrValidityDate)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(DateFormat, raw)
}
