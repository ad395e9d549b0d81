// Package codec serializes entries into flat text lines accepted by OS
// credential stores.
//
// An encoded line is the entry's fields sorted by key, each rendered as
// key:value with ':' and '\' backslash-escaped, joined by "::". Sorting makes
// the encoding deterministic, so equal entries always produce equal lines.
// Decoding is type-erasing: every value comes back as a string.
package codec

import (
	"errors"
	"fmt"
	"strings"

	"github.com/florianilch/credcache/internal/entry"
)

const (
	escapeChar     = '\\'
	valueSeparator = ':'

	// FieldSeparator joins the key:value pairs of one encoded entry.
	FieldSeparator = "::"
)

// ErrLineBreak is returned for entries whose keys or values span lines.
var ErrLineBreak = errors.New("contains a line break")

var escaper = strings.NewReplacer(`\`, `\\`, `:`, `\:`)

// Escape backslash-escapes '\' and ':' in raw.
func Escape(raw string) string {
	return escaper.Replace(raw)
}

// Unescape reverses Escape. A trailing lone backslash is kept as is.
func Unescape(escaped string) string {
	if strings.IndexByte(escaped, escapeChar) < 0 {
		return escaped
	}

	var sb strings.Builder
	sb.Grow(len(escaped))
	for i := 0; i < len(escaped); i++ {
		c := escaped[i]
		if c == escapeChar && i+1 < len(escaped) {
			i++
			c = escaped[i]
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

// EncodeEntry renders e as a single line. Undefined values encode as "key:".
func EncodeEntry(e entry.Entry) string {
	var sb strings.Builder
	for i, key := range e.Keys() {
		if i > 0 {
			sb.WriteString(FieldSeparator)
		}
		sb.WriteString(Escape(key))
		sb.WriteByte(valueSeparator)
		sb.WriteString(Escape(e[key].String()))
	}
	return sb.String()
}

// DecodeEntry parses a line produced by EncodeEntry.
func DecodeEntry(line string) (map[string]string, error) {
	fields := make(map[string]string)
	if line == "" {
		return fields, nil
	}

	for _, field := range splitFields(line) {
		sep := indexUnescaped(field, valueSeparator)
		if sep < 0 {
			return nil, fmt.Errorf("malformed field %q: missing key separator", field)
		}
		fields[Unescape(field[:sep])] = Unescape(field[sep+1:])
	}
	return fields, nil
}

// DecodeEntryValues is DecodeEntry with every value wrapped as a string Value.
func DecodeEntryValues(line string) (entry.Entry, error) {
	fields, err := DecodeEntry(line)
	if err != nil {
		return nil, err
	}
	return entry.FromStrings(fields), nil
}

// CheckSingleLine reports an error when a key or value of e contains a line
// break. Such entries cannot be carried by the line-oriented encodings.
func CheckSingleLine(e entry.Entry) error {
	for _, key := range e.Keys() {
		if strings.ContainsAny(key, "\r\n") {
			return fmt.Errorf("field %q: %w", key, ErrLineBreak)
		}
		if strings.ContainsAny(e[key].String(), "\r\n") {
			return fmt.Errorf("field %q: value %w", key, ErrLineBreak)
		}
	}
	return nil
}

// EncodeSet encodes one entry per line. Entries must pass CheckSingleLine.
func EncodeSet(set entry.Set) string {
	lines := make([]string, len(set))
	for i, e := range set {
		lines[i] = EncodeEntry(e)
	}
	return strings.Join(lines, "\n")
}

// DecodeSet decodes text produced by EncodeSet. Blank lines are skipped.
func DecodeSet(text string) (entry.Set, error) {
	set := entry.Set{}
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		e, err := DecodeEntryValues(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		set = append(set, e)
	}
	return set, nil
}

// splitFields splits line on unescaped "::". Every literal ':' inside keys
// and values is escaped, so the first unescaped ':' after a value starts a
// separator.
func splitFields(line string) []string {
	var fields []string
	start := 0
	seenKeySep := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case escapeChar:
			i++
		case valueSeparator:
			if !seenKeySep {
				seenKeySep = true
				continue
			}
			if i+1 < len(line) && line[i+1] == valueSeparator {
				fields = append(fields, line[start:i])
				i++
				start = i + 1
				seenKeySep = false
			}
		}
	}
	return append(fields, line[start:])
}

func indexUnescaped(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case escapeChar:
			i++
		case c:
			return i
		}
	}
	return -1
}
