// Package sets provides a small string-set type used wherever security
// access ids are compared as unordered sets.
package sets

import "sort"

// Set is an unordered collection of unique strings.
type Set map[string]struct{}

// New creates a set from the given members.
func New(members ...string) Set {
	s := make(Set, len(members))
	for _, m := range members {
		s[m] = struct{}{}
	}
	return s
}

// FromSlice creates a set from a slice, dropping duplicates.
func FromSlice(members []string) Set {
	return New(members...)
}

// Add inserts a member.
func (s Set) Add(member string) {
	s[member] = struct{}{}
}

// Contains reports whether member is in the set.
func (s Set) Contains(member string) bool {
	_, ok := s[member]
	return ok
}

// Len returns the number of members.
func (s Set) Len() int {
	return len(s)
}

// Equal reports whether both sets hold exactly the same members.
func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for m := range s {
		if _, ok := other[m]; !ok {
			return false
		}
	}
	return true
}

// Sorted returns the members in lexical order.
func (s Set) Sorted() []string {
	members := make([]string, 0, len(s))
	for m := range s {
		members = append(members, m)
	}
	sort.Strings(members)
	return members
}
