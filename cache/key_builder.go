package cache

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// KeySeparator delimits key segments. Kept short and Redis-safe so that
// prefix scans (`prefix:entity:*`) line up with segment boundaries.
const KeySeparator = ":"

// KeyPattern identifies a cacheable operation result. Two patterns with the
// same entity, operation and parameter pairs derive the same key regardless
// of map insertion order.
type KeyPattern struct {
	Entity    string
	Operation string
	Params    map[string]any
}

// KeyBuilder derives a storage key from a prefix and a KeyPattern.
// Implementations must produce stable keys across runs and processes.
type KeyBuilder interface {
	BuildKey(prefix string, pattern KeyPattern) string
}

// defaultKeyBuilder serializes parameter values with reflection, sorting map
// keys lexicographically so keys are deterministic. Function values are
// formatted by pointer, complex values fall back to JSON.
type defaultKeyBuilder struct{}

// NewDefaultKeyBuilder creates the default reflection-based key builder.
func NewDefaultKeyBuilder() KeyBuilder {
	return &defaultKeyBuilder{}
}

// BuildKey joins prefix, entity, operation and the sorted parameter pairs.
func (b *defaultKeyBuilder) BuildKey(prefix string, pattern KeyPattern) string {
	parts := make([]string, 0, 3+len(pattern.Params))
	if prefix != "" {
		parts = append(parts, prefix)
	}
	parts = append(parts, pattern.Entity, pattern.Operation)

	if len(pattern.Params) > 0 {
		names := make([]string, 0, len(pattern.Params))
		for name := range pattern.Params {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			parts = append(parts, name+"="+b.serialize(pattern.Params[name]))
		}
	}

	return strings.Join(parts, KeySeparator)
}

// EntityPrefix builds the scan prefix covering every key cached for an
// entity, optionally narrowed to a single operation.
func EntityPrefix(prefix, entity string, operation ...string) string {
	parts := []string{prefix, entity}
	if prefix == "" {
		parts = parts[1:]
	}
	parts = append(parts, operation...)
	return strings.Join(parts, KeySeparator)
}

// serialize renders a single parameter value deterministically.
func (b *defaultKeyBuilder) serialize(v any) string {
	if v == nil {
		return "nil"
	}

	rv := reflect.ValueOf(v)

	switch rv.Kind() {
	case reflect.Func:
		// Pointer identity is the only stable property of a function value.
		return fmt.Sprintf("func(%p)", v)

	case reflect.Ptr:
		if rv.IsNil() {
			return "nil"
		}
		return b.serialize(rv.Elem().Interface())

	case reflect.Interface:
		if rv.IsNil() {
			return "nil"
		}
		return b.serialize(rv.Elem().Interface())

	case reflect.Slice:
		if rv.IsNil() {
			return "nil"
		}
		return b.serializeList(rv)

	case reflect.Array:
		return b.serializeList(rv)

	case reflect.Map:
		if rv.IsNil() {
			return "nil"
		}
		return b.serializeMap(rv)

	case reflect.Struct:
		return b.serializeStruct(rv)

	case reflect.Chan:
		return fmt.Sprintf("chan(%p)", v)

	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128,
		reflect.String:
		return fmt.Sprintf("%v", v)

	default:
		return b.jsonFallback(v)
	}
}

func (b *defaultKeyBuilder) serializeList(rv reflect.Value) string {
	parts := make([]string, rv.Len())
	for i := range parts {
		parts[i] = b.serialize(rv.Index(i).Interface())
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// serializeMap renders entries sorted by their serialized key so that map
// iteration order never leaks into the derived cache key.
func (b *defaultKeyBuilder) serializeMap(rv reflect.Value) string {
	type pair struct {
		key   string
		value string
	}

	pairs := make([]pair, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		pairs = append(pairs, pair{
			key:   b.serialize(iter.Key().Interface()),
			value: b.serialize(iter.Value().Interface()),
		})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })

	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.key + "=" + p.value
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func (b *defaultKeyBuilder) serializeStruct(rv reflect.Value) string {
	rt := rv.Type()
	parts := make([]string, 0, rv.NumField())

	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		parts = append(parts, field.Name+"="+b.serialize(rv.Field(i).Interface()))
	}

	return "(" + strings.Join(parts, ",") + ")"
}

func (b *defaultKeyBuilder) jsonFallback(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%T(%v)", v, v)
	}
	return string(data)
}
