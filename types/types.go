// Package types implements the GPCP type registry: a fixed, ordered table of
// TypeDescriptors that (de)serialize command arguments and return values to
// and from JSON-encodable values, plus the stable wire ids for each.
//
// This generalizes a pluggable codec interface (encoding/json vs a
// hand-rolled binary layout, picked by a byte tag carried on the wire) into
// a per-value serialization strategy picked by a byte tag carried in command
// metadata instead of in the frame header.
package types

import (
	"encoding/base64"
	"fmt"

	"gpcp/gpcperr"
)

// Descriptor serializes a Go value to something JSON can encode, and
// deserializes it back. Every command argument and return value is declared
// against exactly one Descriptor.
type Descriptor interface {
	// Name identifies the descriptor for diagnostics and requestCommands.
	Name() string
	// Serialize converts value into a JSON-encodable representation.
	Serialize(value any) (any, error)
	// Deserialize converts a JSON-decoded entry back into a Go value.
	Deserialize(entry any) (any, error)
}

type noneType struct{}

func (noneType) Name() string               { return "None" }
func (noneType) Serialize(any) (any, error) { return nil, nil }
func (noneType) Deserialize(any) (any, error) { return nil, nil }

type jsonObjectType struct{}

func (jsonObjectType) Name() string { return "JsonObject" }
func (jsonObjectType) Serialize(v any) (any, error) {
	if _, ok := v.(map[string]any); !ok && v != nil {
		return nil, fmt.Errorf("JsonObject.Serialize: expected map[string]any, got %T", v)
	}
	return v, nil
}
func (jsonObjectType) Deserialize(entry any) (any, error) {
	if entry == nil {
		return map[string]any{}, nil
	}
	m, ok := entry.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("JsonObject.Deserialize: expected object, got %T", entry)
	}
	return m, nil
}

type jsonArrayType struct{}

func (jsonArrayType) Name() string { return "JsonArray" }
func (jsonArrayType) Serialize(v any) (any, error) {
	if _, ok := v.([]any); !ok && v != nil {
		return nil, fmt.Errorf("JsonArray.Serialize: expected []any, got %T", v)
	}
	return v, nil
}
func (jsonArrayType) Deserialize(entry any) (any, error) {
	if entry == nil {
		return []any{}, nil
	}
	a, ok := entry.([]any)
	if !ok {
		return nil, fmt.Errorf("JsonArray.Deserialize: expected array, got %T", entry)
	}
	return a, nil
}

type stringType struct{}

func (stringType) Name() string { return "String" }
func (stringType) Serialize(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("String.Serialize: expected string, got %T", v)
	}
	return s, nil
}
func (stringType) Deserialize(entry any) (any, error) {
	s, ok := entry.(string)
	if !ok {
		return nil, fmt.Errorf("String.Deserialize: expected string, got %T", entry)
	}
	return s, nil
}

type booleanType struct{}

func (booleanType) Name() string { return "Boolean" }
func (booleanType) Serialize(v any) (any, error) {
	b, ok := v.(bool)
	if !ok {
		return nil, fmt.Errorf("Boolean.Serialize: expected bool, got %T", v)
	}
	return b, nil
}
func (booleanType) Deserialize(entry any) (any, error) {
	b, ok := entry.(bool)
	if !ok {
		return nil, fmt.Errorf("Boolean.Deserialize: expected bool, got %T", entry)
	}
	return b, nil
}

// integerType serializes as a JSON number; deserialize accepts the float64
// that encoding/json produces for all JSON numbers and truncates to int64.
type integerType struct{}

func (integerType) Name() string { return "Integer" }
func (integerType) Serialize(v any) (any, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return n, nil
	case int64:
		return n, nil
	default:
		return nil, fmt.Errorf("Integer.Serialize: expected an integer, got %T", v)
	}
}
func (integerType) Deserialize(entry any) (any, error) {
	switch n := entry.(type) {
	case float64:
		return int64(n), nil
	case int64:
		return n, nil
	default:
		return nil, fmt.Errorf("Integer.Deserialize: expected a number, got %T", entry)
	}
}

type floatType struct{}

func (floatType) Name() string { return "Float" }
func (floatType) Serialize(v any) (any, error) {
	switch n := v.(type) {
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		return nil, fmt.Errorf("Float.Serialize: expected a float, got %T", v)
	}
}
func (floatType) Deserialize(entry any) (any, error) {
	f, ok := entry.(float64)
	if !ok {
		return nil, fmt.Errorf("Float.Deserialize: expected a number, got %T", entry)
	}
	return f, nil
}

// bytesType serializes arbitrary byte slices as base64 text, so the result
// survives any byte value — the source's 1-byte-per-character ASCII scheme
// breaks for bytes >= 0x80, and base64 is the straightforward fix.
type bytesType struct{}

func (bytesType) Name() string { return "Bytes" }
func (bytesType) Serialize(v any) (any, error) {
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("Bytes.Serialize: expected []byte, got %T", v)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
func (bytesType) Deserialize(entry any) (any, error) {
	s, ok := entry.(string)
	if !ok {
		return nil, fmt.Errorf("Bytes.Deserialize: expected base64 string, got %T", entry)
	}
	return base64.StdEncoding.DecodeString(s)
}

// None, JsonObject, JsonArray, String, Boolean, Integer, Float, Bytes are the
// process-wide built-in descriptors. Their declaration order is the wire-id
// order and must never change.
var (
	None       Descriptor = noneType{}
	JsonObject Descriptor = jsonObjectType{}
	JsonArray  Descriptor = jsonArrayType{}
	String     Descriptor = stringType{}
	Boolean    Descriptor = booleanType{}
	Integer    Descriptor = integerType{}
	Float      Descriptor = floatType{}
	Bytes      Descriptor = bytesType{}
)

var table = []Descriptor{None, JsonObject, JsonArray, String, Boolean, Integer, Float, Bytes}

// ToID returns the stable wire id for a built-in descriptor.
func ToID(d Descriptor) (int, error) {
	for id, candidate := range table {
		if candidate == d {
			return id, nil
		}
	}
	return 0, gpcperr.New(gpcperr.UnknownType, "types: ToID", fmt.Errorf("descriptor %v not registered", d))
}

// FromID returns the built-in descriptor for a wire id.
func FromID(id int) (Descriptor, error) {
	if id < 0 || id >= len(table) {
		return nil, gpcperr.New(gpcperr.UnknownType, "types: FromID", fmt.Errorf("id %d out of range", id))
	}
	return table[id], nil
}

// GetIfBuiltIn normalizes a convenience native Go value's type to the
// corresponding Descriptor, mirroring the source's getIfBuiltIn helper that
// maps str/int/float/bytes/list/dict onto the built-in types. It returns
// (nil, false) when value isn't one of the recognized native shapes.
func GetIfBuiltIn(value any) (Descriptor, bool) {
	switch value.(type) {
	case string:
		return String, true
	case bool:
		return Boolean, true
	case int, int32, int64:
		return Integer, true
	case float32, float64:
		return Float, true
	case []byte:
		return Bytes, true
	case []any:
		return JsonArray, true
	case map[string]any:
		return JsonObject, true
	case nil:
		return None, true
	default:
		return nil, false
	}
}
