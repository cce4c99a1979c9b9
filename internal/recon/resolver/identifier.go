// Package resolver contains the identity resolution half of the
// reconciliation engine: resolving persons across the two systems, building
// deterministic identifiers for key holders without a person card, and
// matching unmapped key cards against iLOQ keys.
package resolver

import (
	"strings"

	"golang.org/x/text/cases"
)

// MaxIdentifierLength bounds outsider identifiers. iLOQ truncates external
// ids beyond this, which would break deterministic lookups.
const MaxIdentifierLength = 50

// CreateIdentifier builds a deterministic surrogate identifier for a person
// without a record in one of the systems. The identifier is the email plus
// "#" plus uppercased initials of each name part; when that exceeds the
// length bound, initials shrink to one letter per part, and as a last
// resort the email is stripped to its local part.
func CreateIdentifier(email, name string) string {
	email = strings.TrimSpace(email)

	if id := email + "#" + initials(name, 2); length(id) <= MaxIdentifierLength {
		return id
	}
	if id := email + "#" + initials(name, 1); length(id) <= MaxIdentifierLength {
		return id
	}

	localPart := email
	if at := strings.Index(email, "@"); at >= 0 {
		localPart = email[:at]
	}
	id := localPart + "#" + initials(name, 1)
	if length(id) > MaxIdentifierLength {
		id = string([]rune(id)[:MaxIdentifierLength])
	}
	return id
}

// initials concatenates the first width runes of each whitespace-separated
// name part, uppercased. Extra internal and surrounding whitespace is
// ignored.
func initials(name string, width int) string {
	var b strings.Builder
	for _, part := range strings.Fields(name) {
		runes := []rune(part)
		if len(runes) > width {
			runes = runes[:width]
		}
		b.WriteString(strings.ToUpper(string(runes)))
	}
	return b.String()
}

// length counts characters, not bytes; names can carry multibyte runes.
func length(s string) int {
	return len([]rune(s))
}

var foldCaser = cases.Fold()

// NormalizeName prepares a person name for comparison: surrounding and
// internal whitespace collapsed, case folded.
func NormalizeName(name string) string {
	return foldCaser.String(strings.Join(strings.Fields(name), " "))
}
