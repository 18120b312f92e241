package event

import (
	"encoding/json"
	"fmt"
	"reflect"
)

const maxDepth = 10

// Safe recursively converts v into a tree of only json-able Go values
// (map[string]any, []any, string, bool, Go numeric types, nil), exactly
// mirroring the original's duck-typed, cycle-safe serializer (spec
// §4.4 "Safe serialization"). It never panics.
func Safe(v any) any {
	seen := make(map[uintptr]bool)
	return safe(v, 0, seen)
}

func safe(v any, depth int, seen map[uintptr]bool) (result any) {
	defer func() {
		if r := recover(); r != nil {
			result = safeString(v)
		}
	}()

	if depth > maxDepth {
		return "[MAX_DEPTH_EXCEEDED]"
	}
	if v == nil {
		return nil
	}

	switch t := v.(type) {
	case string, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return t
	case error:
		return t.Error()
	case fmt.Stringer:
		if dm, ok := v.(modelDumper); ok {
			return safe(dm.ModelDump(), depth+1, seen)
		}
		return t.String()
	}

	if dm, ok := v.(modelDumper); ok {
		return safe(dm.ModelDump(), depth+1, seen)
	}
	if td, ok := v.(toDicter); ok {
		return safe(td.ToDict(), depth+1, seen)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		ptr := rv.Pointer()
		if seen[ptr] {
			return "[CIRCULAR]"
		}
		seen[ptr] = true
		defer delete(seen, ptr)
	}

	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		return safe(rv.Elem().Interface(), depth, seen)

	case reflect.Slice, reflect.Array:
		out := make([]any, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out = append(out, safe(rv.Index(i).Interface(), depth+1, seen))
		}
		return out

	case reflect.Map:
		out := make(map[string]any, rv.Len())
		for _, k := range rv.MapKeys() {
			out[fmt.Sprintf("%v", k.Interface())] = safe(rv.MapIndex(k).Interface(), depth+1, seen)
		}
		return out

	case reflect.Struct:
		return safeStruct(rv, depth, seen)

	default:
		return safeString(v)
	}
}

type modelDumper interface{ ModelDump() map[string]any }
type toDicter interface{ ToDict() map[string]any }

func safeStruct(rv reflect.Value, depth int, seen map[uintptr]bool) any {
	rt := rv.Type()
	out := map[string]any{"type": rt.Name()}
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		out[jsonFieldName(f)] = safe(rv.Field(i).Interface(), depth+1, seen)
	}
	return out
}

func jsonFieldName(f reflect.StructField) string {
	if tag, ok := f.Tag.Lookup("json"); ok && tag != "" && tag != "-" {
		name := tag
		for i, c := range tag {
			if c == ',' {
				name = tag[:i]
				break
			}
		}
		if name != "" {
			return name
		}
	}
	return f.Name
}

func safeString(v any) string {
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	s := fmt.Sprintf("%v", v)
	if s == "" {
		return "[UNSERIALIZABLE]"
	}
	return s
}

func fmtType(v any) string {
	rv := reflect.TypeOf(v)
	if rv == nil {
		return "unknown"
	}
	return rv.String()
}
