package efecte

import (
	"fmt"
	"strings"
)

// Query builds Efecte search expressions of the form
// $code$ = 'value' AND $other$ IS NULL. Only the operators the sync engine
// needs are provided.
type Query struct {
	terms []string
}

// NewQuery returns an empty query builder.
func NewQuery() *Query {
	return &Query{}
}

// Equals adds an equality term for an attribute value.
func (q *Query) Equals(code, value string) *Query {
	q.terms = append(q.terms, fmt.Sprintf("$%s$ = '%s'", code, escape(value)))
	return q
}

// In adds a membership term over attribute values.
func (q *Query) In(code string, values ...string) *Query {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + escape(v) + "'"
	}
	q.terms = append(q.terms, fmt.Sprintf("$%s$ IN (%s)", code, strings.Join(quoted, ", ")))
	return q
}

// ID adds an equality term on the entity id itself.
func (q *Query) ID(entityID string) *Query {
	q.terms = append(q.terms, fmt.Sprintf("$entityId$ = '%s'", escape(entityID)))
	return q
}

// References adds an equality term for a reference attribute.
func (q *Query) References(code, entityID string) *Query {
	q.terms = append(q.terms, fmt.Sprintf("$%s.id$ = '%s'", code, escape(entityID)))
	return q
}

// IsNull adds an emptiness term for an attribute.
func (q *Query) IsNull(code string) *Query {
	q.terms = append(q.terms, fmt.Sprintf("$%s$ IS NULL", code))
	return q
}

// String joins all terms with AND.
func (q *Query) String() string {
	return strings.Join(q.terms, " AND ")
}

// escape doubles single quotes so values cannot terminate the expression.
func escape(value string) string {
	return strings.ReplaceAll(value, "'", "''")
}
