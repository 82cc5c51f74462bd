// Package state models typed values held by local key/value stores such as
// the Windows registry.
package state

import (
	"fmt"
	"strconv"
	"strings"
)

// ValueKind is the storage type of a local state value.
type ValueKind string

const (
	ValueString ValueKind = "string"
	ValueDWord  ValueKind = "dword"
	ValueQWord  ValueKind = "qword"
)

// Value is a typed registry-like value.
type Value struct {
	Kind ValueKind
	Str  string
	Num  uint64
}

// StringValue builds a string value.
func StringValue(s string) Value { return Value{Kind: ValueString, Str: s} }

// DWordValue builds a 32-bit integer value.
func DWordValue(n uint32) Value { return Value{Kind: ValueDWord, Num: uint64(n)} }

// QWordValue builds a 64-bit integer value.
func QWordValue(n uint64) Value { return Value{Kind: ValueQWord, Num: n} }

// String renders the value the way targets express desired state: integers
// in decimal, strings verbatim.
func (v Value) String() string {
	switch v.Kind {
	case ValueDWord, ValueQWord:
		return strconv.FormatUint(v.Num, 10)
	default:
		return v.Str
	}
}

// Equal compares kind and content.
func (v Value) Equal(other Value) bool {
	return v.Kind == other.Kind && v.String() == other.String()
}

// ParseValue converts a desired-state string into a typed value. Integers
// accept decimal or 0x-prefixed hex.
func ParseValue(kind ValueKind, raw string) (Value, error) {
	switch ValueKind(strings.ToLower(string(kind))) {
	case "", ValueString:
		return StringValue(raw), nil
	case ValueDWord:
		n, err := strconv.ParseUint(strings.TrimSpace(raw), 0, 32)
		if err != nil {
			return Value{}, fmt.Errorf("parse dword %q: %w", raw, err)
		}
		return DWordValue(uint32(n)), nil
	case ValueQWord:
		n, err := strconv.ParseUint(strings.TrimSpace(raw), 0, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parse qword %q: %w", raw, err)
		}
		return QWordValue(n), nil
	}
	return Value{}, fmt.Errorf("unsupported value kind %q", kind)
}
