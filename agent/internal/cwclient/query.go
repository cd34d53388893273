package cwclient

import (
	"fmt"
	"net/url"
	"reflect"
	"strings"
)

// Params holds request parameters before serialization. Values may be
// strings, numbers, booleans, slices (comma-joined on the wire) or pointers
// to any of those. Nil values are dropped.
type Params map[string]any

// Default paging for every list request.
const (
	DefaultPage     = 1
	DefaultPageSize = 100
)

// BasicFields is the projection used when a resource has no field set of its own.
var BasicFields = []string{"id", "name"}

// BuildParams merges the base paging defaults, the resource defaults and the
// caller overrides, in increasing precedence, into the wire form.
//
// Nil values are dropped, including a nil override that removes a default.
// Neither input map is modified and the result is always a fresh map.
func BuildParams(defaults, overrides Params) map[string]string {
	merged := Params{
		"page":     DefaultPage,
		"pageSize": DefaultPageSize,
		"orderBy":  "name asc",
		"fields":   BasicFields,
	}
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}

	out := make(map[string]string, len(merged))
	for k, v := range merged {
		if s, ok := formatValue(v); ok {
			out[k] = s
		}
	}
	return out
}

// formatValue renders v for the query string. ok is false for nil values.
func formatValue(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case []string:
		if x == nil {
			return "", false
		}
		return strings.Join(x, ","), true
	case fmt.Stringer:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Pointer && rv.IsNil() {
			return "", false
		}
		return x.String(), true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return "", false
		}
		return formatValue(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return "", false
		}
		parts := make([]string, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			s, ok := formatValue(rv.Index(i).Interface())
			if !ok {
				continue
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ","), true
	case reflect.Map, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			return "", false
		}
	}
	return fmt.Sprint(v), true
}

// encode turns built params into a url.Values.
func encode(params map[string]string) url.Values {
	q := make(url.Values, len(params))
	for k, v := range params {
		q.Set(k, v)
	}
	return q
}
