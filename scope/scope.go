// Package scope defines the closed vocabulary of permission scopes an
// application can request during authorization, with set semantics and the
// space-separated text form used on the wire.
package scope

import (
	"fmt"
	"slices"
	"strings"
)

// Scope is a single permission grantable to an application.
type Scope string

const (
	// Basic grants nothing special; supported for clients that ask for it.
	Basic Scope = "basic"

	// Email allows an application to read the user's email address.
	// Only honored for users that have an email on file.
	Email Scope = "email"

	// Dev allows the login form to authenticate as throwaway accounts
	// for testing purposes.
	Dev Scope = "dev"
)

// Parse maps a single token to a known scope.
func Parse(s string) (Scope, error) {
	switch Scope(s) {
	case Basic, Email, Dev:
		return Scope(s), nil
	default:
		return "", fmt.Errorf("unknown scope %q", s)
	}
}

// Set is an unordered collection of scopes.
type Set map[Scope]struct{}

// NewSet builds a set from the given scopes.
func NewSet(scopes ...Scope) Set {
	set := make(Set, len(scopes))
	for _, s := range scopes {
		set[s] = struct{}{}
	}
	return set
}

// ParseSet parses a space-separated scope list. The whole parse fails if any
// token is unrecognized; there is no partial success.
func ParseSet(s string) (Set, error) {
	set := Set{}
	for _, field := range strings.Fields(s) {
		parsed, err := Parse(field)
		if err != nil {
			return nil, err
		}
		set[parsed] = struct{}{}
	}
	return set, nil
}

// Contains reports whether the set includes the given scope.
func (s Set) Contains(scope Scope) bool {
	_, ok := s[scope]
	return ok
}

// Add inserts a scope into the set.
func (s Set) Add(scope Scope) {
	s[scope] = struct{}{}
}

// Remove deletes a scope from the set.
func (s Set) Remove(scope Scope) {
	delete(s, scope)
}

// Equal reports whether both sets hold exactly the same scopes.
func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for scope := range s {
		if !other.Contains(scope) {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of the set.
func (s Set) Clone() Set {
	clone := make(Set, len(s))
	for scope := range s {
		clone[scope] = struct{}{}
	}
	return clone
}

// Sorted returns the members in lexical order, for stable display.
func (s Set) Sorted() []Scope {
	sorted := make([]Scope, 0, len(s))
	for scope := range s {
		sorted = append(sorted, scope)
	}
	slices.Sort(sorted)
	return sorted
}

// String serializes the set as a space-separated list. Member order follows
// map iteration order and is not guaranteed stable; compare as sets.
func (s Set) String() string {
	parts := make([]string, 0, len(s))
	for scope := range s {
		parts = append(parts, string(scope))
	}
	return strings.Join(parts, " ")
}

// MarshalText implements encoding.TextMarshaler.
func (s Set) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Set) UnmarshalText(text []byte) error {
	parsed, err := ParseSet(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
