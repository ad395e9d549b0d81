package entry

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MarshalJSON renders strings and timestamps as JSON strings, booleans as
// JSON booleans and undefined values as null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString, KindTime:
		return json.Marshal(v.String())
	case KindBool:
		return json.Marshal(v.b)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON is lenient: numbers are kept as their string literal.
// Timestamps come back as strings since JSON has no date type.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty JSON value")
	}

	switch data[0] {
	case 'n':
		*v = Value{}
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
		return nil
	case '{', '[':
		return fmt.Errorf("unsupported JSON value %s", data)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*v = String(n.String())
		return nil
	}
}
