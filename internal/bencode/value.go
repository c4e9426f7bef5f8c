// Package bencode implements a stream-based, single-pass, non-recursive
// bencode parser and a canonical-form encoder, used for every on-wire RPC
// message and every on-disk routing/bootstrap file. The parser builds an
// intermediate tree representation before any schema binding happens,
// following the original C daemon's design (a flat node/literal
// representation walked after the fact) rather than fusing parsing with
// decoding.
package bencode

import "fmt"

// Kind identifies the dynamic type of a Value.
type Kind int

const (
	KindInt Kind = iota
	KindBytes
	KindList
	KindDict
)

// Entry is one key/value pair of a Dict. Key order on input is whatever the
// wire sent; order on output is always ascending byte-lexicographic (see
// Encode), matching bencode canonical form.
type Entry struct {
	Key   string
	Value Value
}

// Value is a parsed bencode object: either a literal (Int, Bytes) or a
// container (List, Dict). Exactly one of the typed fields is meaningful,
// selected by Kind.
type Value struct {
	Kind  Kind
	Int   int64
	Bytes []byte
	List  []Value
	Dict  []Entry
}

// AsInt returns v as an int64, or an error if v is not an integer.
func (v Value) AsInt() (int64, error) {
	if v.Kind != KindInt {
		return 0, fmt.Errorf("bencode: expected integer, got kind %d", v.Kind)
	}
	return v.Int, nil
}

// AsBytes returns v's byte string, or an error if v is not a byte string.
func (v Value) AsBytes() ([]byte, error) {
	if v.Kind != KindBytes {
		return nil, fmt.Errorf("bencode: expected byte string, got kind %d", v.Kind)
	}
	return v.Bytes, nil
}

// AsList returns v's list elements, or an error if v is not a list.
func (v Value) AsList() ([]Value, error) {
	if v.Kind != KindList {
		return nil, fmt.Errorf("bencode: expected list, got kind %d", v.Kind)
	}
	return v.List, nil
}

// AsDict returns v's dict entries, or an error if v is not a dict.
func (v Value) AsDict() ([]Entry, error) {
	if v.Kind != KindDict {
		return nil, fmt.Errorf("bencode: expected dict, got kind %d", v.Kind)
	}
	return v.Dict, nil
}

// Get returns the value associated with key in a dict Value, and whether it
// was present. Get on a non-dict Value always reports not-found.
func (v Value) Get(key string) (Value, bool) {
	if v.Kind != KindDict {
		return Value{}, false
	}
	for _, e := range v.Dict {
		if e.Key == key {
			return e.Value, true
		}
	}
	return Value{}, false
}

// NewInt wraps an int64 as a Value.
func NewInt(i int64) Value { return Value{Kind: KindInt, Int: i} }

// NewBytes wraps a byte string as a Value.
func NewBytes(b []byte) Value { return Value{Kind: KindBytes, Bytes: b} }

// NewString wraps a string as a byte-string Value.
func NewString(s string) Value { return Value{Kind: KindBytes, Bytes: []byte(s)} }

// NewList wraps a slice of Values as a list Value.
func NewList(vs []Value) Value { return Value{Kind: KindList, List: vs} }

// NewDict builds a dict Value from entries. Input order is irrelevant;
// Encode always sorts by key.
func NewDict(entries []Entry) Value { return Value{Kind: KindDict, Dict: entries} }
