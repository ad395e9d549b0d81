package tokenstore

import (
	"context"
	"maps"
	"slices"

	"github.com/florianilch/credcache/internal/entry"
)

// mergeEntries computes the set persisted by AddEntries. Duplicates are
// checked against the pre-add set only, not among newEntries themselves.
func mergeEntries(existing, newEntries, removeFirst entry.Set) entry.Set {
	kept := without(without(existing, removeFirst), newEntries)
	merged := make(entry.Set, 0, len(kept)+len(newEntries))
	merged = append(merged, kept...)
	return append(merged, newEntries...)
}

// persistedEqual compares entries field for field in their stored text form.
// Textual backends hand back strings, so a typed entry written earlier must
// still equal its reloaded copy.
func persistedEqual(a, b entry.Entry) bool {
	return maps.Equal(a.Strings(), b.Strings())
}

func without(set, other entry.Set) entry.Set {
	out := make(entry.Set, 0, len(set))
	for _, e := range set {
		dup := slices.ContainsFunc(other, func(o entry.Entry) bool {
			return persistedEqual(e, o)
		})
		if !dup {
			out = append(out, e)
		}
	}
	return out
}

func addEntries(ctx context.Context, r rewriter, newEntries, removeFirst entry.Set) error {
	existing, err := r.LoadEntries(ctx)
	if err != nil {
		return err
	}
	return r.saveEntries(ctx, mergeEntries(existing, newEntries, removeFirst))
}

func removeEntries(ctx context.Context, r rewriter, toKeep entry.Set) error {
	if toKeep == nil {
		toKeep = entry.Set{}
	}
	return r.saveEntries(ctx, toKeep)
}
