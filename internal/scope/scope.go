// Package scope evaluates capability strings of the form "resource:action",
// "resource:*", "resource:{id}:action", or the global "*". Matching is pure
// string work; it never touches persistence.
package scope

import "strings"

// Wildcard grants every scope. Delegated-session identities carry exactly
// this grant.
const Wildcard = "*"

// Match reports whether the granted scopes satisfy the required scope.
// Per granted entry, first match wins:
//
//  1. Exact string equality.
//  2. The literal "*" grants everything.
//  3. "prefix:*" grants any required scope under the same colon-delimited
//     prefix: "chat:*" grants "chat:read" but not "chatbot:read", because
//     the match includes the delimiter, not just the raw prefix text.
//
// A granted entry of exactly ":*" never matches anything. Key creation
// rejects it, but a row written before that check existed must still be
// inert here.
func Match(granted []string, required string) bool {
	for _, g := range granted {
		if g == required {
			return true
		}
		if g == Wildcard {
			return true
		}
		if prefix, ok := strings.CutSuffix(g, ":*"); ok {
			if prefix == "" {
				continue
			}
			if strings.HasPrefix(required, prefix+":") {
				return true
			}
		}
	}
	return false
}

// MatchResource reports whether the granted scopes allow an action on a
// specific resource instance. A collection-level grant ("resource:action"),
// a per-instance grant ("resource:{id}:action"), or any wildcard grant
// covering either form is accepted.
func MatchResource(granted []string, resource, id, action string) bool {
	if Match(granted, resource+":"+action) {
		return true
	}
	return Match(granted, resource+":"+id+":"+action)
}
