// Package match finds cached entries for an authentication context.
package match

import (
	"strings"

	"github.com/florianilch/credcache/internal/entry"
)

// Find returns every entry matching all fields of query. Fields are compared
// exactly except userId, which is compared case-insensitively. An empty
// query matches every entry.
func Find(query entry.Entry, entries entry.Set) entry.Set {
	userID, hasUserID := query[entry.FieldUserID]

	result := entry.Set{}
	for _, e := range entries {
		if !matchesRest(query, e) {
			continue
		}
		if hasUserID {
			got, ok := e[entry.FieldUserID]
			if !ok || !sameUserID(userID, got) {
				continue
			}
		}
		result = append(result, e)
	}
	return result
}

// Matches reports whether a single entry satisfies query.
func Matches(query entry.Entry, e entry.Entry) bool {
	return len(Find(query, entry.Set{e})) == 1
}

func matchesRest(query, e entry.Entry) bool {
	for key, want := range query {
		if key == entry.FieldUserID {
			continue
		}
		got, ok := e[key]
		if !ok || !got.Equal(want) {
			return false
		}
	}
	return true
}

func sameUserID(want, got entry.Value) bool {
	w, ok := want.AsString()
	if !ok {
		return want.Equal(got)
	}
	g, ok := got.AsString()
	return ok && strings.EqualFold(w, g)
}
