// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
)

// Value is a node in a finite, acyclic tree of JSON-shaped data: Null,
// Bool, Number, String, Seq or Map. It is the sole input to [Marshal],
// the deterministic serialization that the derivation-modulo hash is
// built from.
type Value interface {
	sealedValue()
}

// Null represents a JSON null.
type Null struct{}

func (Null) sealedValue() {}

// Bool represents a JSON boolean.
type Bool bool

func (Bool) sealedValue() {}

// Number represents a JSON number. Marshal rejects NaN and Inf.
type Number float64

func (Number) sealedValue() {}

// String represents a JSON string.
type String string

func (String) sealedValue() {}

// Seq represents an ordered JSON array. Element order is preserved.
type Seq []Value

func (Seq) sealedValue() {}

// Map represents a JSON object. Keys absent from the map are elided
// from the output entirely rather than serialized as null — this is
// how the derivation hash's "src omitted when absent" rule is
// expressed.
type Map map[string]Value

func (Map) sealedValue() {}

// SerializationError reports a failure to deterministically serialize
// a [Value], such as a cycle or a non-finite number.
type SerializationError struct {
	Reason string
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialize value: %s", e.Reason)
}

// Marshal deterministically serializes v: mapping keys are sorted by
// ascending UTF-8 byte sequence, sequence order is preserved, and the
// result is stable across runs and platforms. It is used exclusively
// as SHA-256 input, never as an interchange format.
func Marshal(v Value) ([]byte, error) {
	buf := new(bytes.Buffer)
	var stack []uintptr
	if err := marshalValue(buf, v, stack); err != nil {
		if se, ok := err.(*SerializationError); ok {
			return nil, se
		}
		return nil, &SerializationError{Reason: err.Error()}
	}
	return buf.Bytes(), nil
}

// referenceID returns a stable identity for the underlying storage of
// a Seq or Map, used to detect cycles along the current recursion
// path. Two Go values that merely share structure (e.g. the same Map
// reachable from two branches) are not cycles — only a Map or Seq that
// is its own ancestor is.
func referenceID(v Value) uintptr {
	return reflect.ValueOf(v).Pointer()
}

func onStack(stack []uintptr, id uintptr) bool {
	for _, x := range stack {
		if x == id {
			return true
		}
	}
	return false
}

func marshalValue(buf *bytes.Buffer, v Value, stack []uintptr) error {
	switch x := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case Null:
		buf.WriteString("null")
		return nil
	case Bool:
		if x {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case Number:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return &SerializationError{Reason: "non-finite number"}
		}
		data, err := json.Marshal(f)
		if err != nil {
			return &SerializationError{Reason: err.Error()}
		}
		buf.Write(data)
		return nil
	case String:
		data, err := json.Marshal(string(x))
		if err != nil {
			return &SerializationError{Reason: err.Error()}
		}
		buf.Write(data)
		return nil
	case Seq:
		id := referenceID(x)
		if x != nil {
			if onStack(stack, id) {
				return &SerializationError{Reason: "cycle in sequence"}
			}
			stack = append(stack, id)
		}
		buf.WriteByte('[')
		for i, elem := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := marshalValue(buf, elem, stack); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case Map:
		id := referenceID(x)
		if x != nil {
			if onStack(stack, id) {
				return &SerializationError{Reason: "cycle in mapping"}
			}
			stack = append(stack, id)
		}
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kdata, err := json.Marshal(k)
			if err != nil {
				return &SerializationError{Reason: err.Error()}
			}
			buf.Write(kdata)
			buf.WriteByte(':')
			if err := marshalValue(buf, x[k], stack); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	default:
		return &SerializationError{Reason: fmt.Sprintf("unsupported value type %T", v)}
	}
}

// StringSeq is a convenience constructor for a Seq of String values,
// used when building the hashable record for an args list.
func StringSeq(ss []string) Seq {
	seq := make(Seq, len(ss))
	for i, s := range ss {
		seq[i] = String(s)
	}
	return seq
}

// StringMap is a convenience constructor for a Map of String values,
// used when building the hashable record for an env mapping.
func StringMap(m map[string]string) Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = String(v)
	}
	return out
}
