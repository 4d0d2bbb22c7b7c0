package capture

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var ErrUnsupportedValue = errors.New("value cannot be snapshotted")

// Snapshot returns a copy of v that shares no storage with it. Numbers in
// the copy are json.Number values.
//
// The copy is made by a JSON round trip. When v cannot be encoded (cycles,
// NaN, channels nested in a field) Snapshot falls back to a one-level copy:
// top-level fields, entries or elements are copied individually and any
// member that still cannot be encoded is recorded as nil. lossy reports that
// the fallback was taken. The result is always JSON-encodable.
func Snapshot(v any) (copied any, lossy bool, err error) {
	if v == nil {
		return nil, false, nil
	}
	if out, err := roundTrip(v); err == nil {
		return out, false, nil
	}
	out, err := shallow(reflect.ValueOf(v))
	if err != nil {
		return nil, true, err
	}
	return out, true, nil
}

// roundTrip keeps numbers as json.Number so integers beyond 2^53 survive.
func roundTrip(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func shallow(rv reflect.Value) (any, error) {
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Struct:
		out := make(map[string]any, rv.NumField())
		rt := rv.Type()
		for i := 0; i < rt.NumField(); i++ {
			field := rt.Field(i)
			if !field.IsExported() {
				continue
			}
			name, skip := jsonFieldName(field)
			if skip {
				continue
			}
			out[name] = member(rv.Field(i))
		}
		return out, nil
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = member(iter.Value())
		}
		return out, nil
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, nil
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = member(rv.Index(i))
		}
		return out, nil
	case reflect.Func, reflect.Chan, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer, reflect.Invalid:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedValue, rv.Kind())
	default:
		// Scalars that failed the round trip, e.g. NaN.
		return member(rv), nil
	}
}

func member(rv reflect.Value) any {
	if !rv.IsValid() || !rv.CanInterface() {
		return nil
	}
	out, err := roundTrip(rv.Interface())
	if err != nil {
		return nil
	}
	return out
}

func jsonFieldName(field reflect.StructField) (string, bool) {
	tag := field.Tag.Get("json")
	if tag == "-" {
		return "", true
	}
	if name, _, _ := strings.Cut(tag, ","); name != "" {
		return name, false
	}
	return field.Name, false
}
