// Package entry defines the record type persisted by the token cache.
//
// An Entry maps field names to a small closed set of primitive values
// (string, bool, timestamp). Entries are treated as immutable values: readers
// never modify an entry they got back from a store, writers build new ones.
package entry

import (
	"maps"
	"slices"
	"strconv"
	"time"
)

// Well-known field names written by the authentication layer.
const (
	FieldUserID       = "userId"
	FieldClientID     = "_clientId"
	FieldAuthority    = "_authority"
	FieldResource     = "resource"
	FieldTenantID     = "tenantId"
	FieldAccessToken  = "accessToken"
	FieldRefreshToken = "refreshToken"
	FieldExpiresOn    = "expiresOn"
	FieldIsMRRT       = "isMRRT"
	FieldTokenType    = "tokenType"
)

// TimeLayout is the fixed ISO-8601 form timestamps are stringified with.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Kind identifies the primitive type held by a Value.
type Kind uint8

const (
	KindUndefined Kind = iota
	KindString
	KindBool
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	default:
		return "undefined"
	}
}

// Value is a single field value. The zero Value is undefined: the key is
// present but carries no value.
type Value struct {
	kind Kind
	s    string
	b    bool
	t    time.Time
}

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Time returns a timestamp Value. The location is normalized to UTC.
func Time(t time.Time) Value { return Value{kind: KindTime, t: t.UTC()} }

// Kind reports the type held by v.
func (v Value) Kind() Kind { return v.kind }

// IsUndefined reports whether v carries no value.
func (v Value) IsUndefined() bool { return v.kind == KindUndefined }

// String stringifies v the way textual stores persist it.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindTime:
		return v.t.UTC().Format(TimeLayout)
	default:
		return ""
	}
}

func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

func (v Value) AsTime() (time.Time, bool) { return v.t, v.kind == KindTime }

// Equal reports whether both values have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.s == o.s
	case KindBool:
		return v.b == o.b
	case KindTime:
		return v.t.Equal(o.t)
	default:
		return true
	}
}

// Entry is one cached token record.
type Entry map[string]Value

// Get returns the value stored under key, or the undefined Value.
func (e Entry) Get(key string) Value { return e[key] }

// Keys returns the field names of e in ascending order.
func (e Entry) Keys() []string {
	return slices.Sorted(maps.Keys(e))
}

// Equal reports whether e and o hold the same fields with equal values.
func (e Entry) Equal(o Entry) bool {
	return maps.EqualFunc(e, o, Value.Equal)
}

// Clone returns a shallow copy of e; Values are immutable so this is a full copy.
func (e Entry) Clone() Entry {
	if e == nil {
		return nil
	}
	return maps.Clone(e)
}

// Strings returns every field stringified.
func (e Entry) Strings() map[string]string {
	out := make(map[string]string, len(e))
	for k, v := range e {
		out[k] = v.String()
	}
	return out
}

// FromStrings builds an Entry of string values.
func FromStrings(m map[string]string) Entry {
	e := make(Entry, len(m))
	for k, v := range m {
		e[k] = String(v)
	}
	return e
}

// Set is an ordered sequence of entries. Order is preserved but carries no
// meaning.
type Set []Entry

// Contains reports whether s holds an entry equal to e.
func (s Set) Contains(e Entry) bool {
	return slices.ContainsFunc(s, e.Equal)
}

// Without returns the entries of s that are not equal to any entry in other.
func (s Set) Without(other Set) Set {
	out := make(Set, 0, len(s))
	for _, e := range s {
		if !other.Contains(e) {
			out = append(out, e)
		}
	}
	return out
}

// Clone copies s and each of its entries.
func (s Set) Clone() Set {
	if s == nil {
		return nil
	}
	out := make(Set, len(s))
	for i, e := range s {
		out[i] = e.Clone()
	}
	return out
}
