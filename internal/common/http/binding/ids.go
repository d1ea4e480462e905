// Package binding holds request decoding helpers shared by controllers.
package binding

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

var ErrMalformedID = errors.New("malformed id")

// OptionalID accepts a JSON number, a numeric string, an empty string or null.
type OptionalID struct {
	raw     string
	present bool
}

// NewOptionalID builds an OptionalID from a query or path value.
func NewOptionalID(raw string) OptionalID {
	raw = strings.TrimSpace(raw)
	return OptionalID{raw: raw, present: raw != ""}
}

func (o *OptionalID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*o = OptionalID{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*o = NewOptionalID(s)
		return nil
	}
	*o = NewOptionalID(string(data))
	return nil
}

func (o OptionalID) MarshalJSON() ([]byte, error) {
	if !o.present {
		return []byte("null"), nil
	}
	return json.Marshal(o.raw)
}

// Present reports whether a non-empty value was supplied.
func (o OptionalID) Present() bool { return o.present }

// Int64 returns nil when absent and ErrMalformedID when the value is not a positive integer.
func (o OptionalID) Int64() (*int64, error) {
	if !o.present {
		return nil, nil
	}
	v, err := strconv.ParseInt(o.raw, 10, 64)
	if err != nil || v <= 0 {
		return nil, ErrMalformedID
	}
	return &v, nil
}
