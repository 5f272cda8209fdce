// Package names implements display-name reconciliation. Display names for
// users and scopes are mutable and arrive attached to events; this package
// decides which of two candidate names to keep, and rejects names that
// carry no information (empty, filler-only, or just a restatement of the
// entity's own identifier).
package names

import (
	"strings"
	"time"
)

// fillerRunes are characters that carry no naming information. A candidate
// name consisting solely of these is rejected.
const fillerRunes = " \t\r\n-_.~*#@!?'\"`"

// Valid reports whether name is usable as a display name for the entity
// identified by entityID. A name is rejected if it is empty or whitespace,
// if it contains the entity's own identifier (a raw numeric or opaque ID is
// not a name), or if it consists solely of filler characters.
func Valid(name, entityID string) bool {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return false
	}
	if entityID != "" && strings.Contains(trimmed, entityID) {
		return false
	}
	if strings.Trim(trimmed, fillerRunes) == "" {
		return false
	}
	return true
}

// Reconcile resolves a conflict between a stored display name and an
// incoming one.
//
// Rules, in order:
//   - an invalid candidate (see Valid) is treated as absent
//   - if both are valid, the one attached to the more recent timestamp wins;
//     on equal timestamps the incoming name wins
//   - if only one is valid, it wins
//   - if neither is valid, the result is the empty string
func Reconcile(existing, incoming string, existingTime, incomingTime time.Time, entityID string) string {
	existingOK := Valid(existing, entityID)
	incomingOK := Valid(incoming, entityID)

	switch {
	case existingOK && incomingOK:
		if existingTime.After(incomingTime) {
			return strings.TrimSpace(existing)
		}
		return strings.TrimSpace(incoming)
	case existingOK:
		return strings.TrimSpace(existing)
	case incomingOK:
		return strings.TrimSpace(incoming)
	default:
		return ""
	}
}
