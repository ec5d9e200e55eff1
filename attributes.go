package authcore

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/oarkflow/date"
)

// Attributes is the attribute document conditions are evaluated against.
type Attributes map[string]any

// Lookup resolves a dotted path. The second result distinguishes an absent
// path from one that is present with a nil value.
func (a Attributes) Lookup(path string) (any, bool) {
	return ResolvePath(map[string]any(a), path)
}

// Attributes builds the document conditions see for this request:
//
//	actorId, tenantId, resourceType, resourceId, action
//	resource.{type,id,<resource attributes>}
//	actor.{id,tenantId,<actor attributes>}
//	environment.{<environment attributes>}
func (ac *AuthorizationContext) Attributes() Attributes {
	resource := make(map[string]any, len(ac.ResourceAttributes)+2)
	for k, v := range ac.ResourceAttributes {
		resource[k] = v
	}
	resource["type"] = ac.Resource
	if ac.ResourceID != "" {
		resource["id"] = ac.ResourceID
	}

	actor := make(map[string]any, len(ac.ActorAttributes)+2)
	for k, v := range ac.ActorAttributes {
		actor[k] = v
	}
	actor["id"] = ac.ActorID
	actor["tenantId"] = ac.TenantID

	env := make(map[string]any, len(ac.Environment))
	for k, v := range ac.Environment {
		env[k] = v
	}

	attrs := Attributes{
		"actorId":      ac.ActorID,
		"tenantId":     ac.TenantID,
		"resourceType": ac.Resource,
		"action":       ac.Action,
		"resource":     resource,
		"actor":        actor,
		"environment":  env,
	}
	if ac.ResourceID != "" {
		attrs["resourceId"] = ac.ResourceID
	}
	return attrs
}

// ResolvePath walks a dotted path through nested maps and slices. Numeric
// segments index into slices. A segment that cannot be followed yields
// (nil, false).
func ResolvePath(root any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	cur := root
	for _, seg := range strings.Split(path, ".") {
		next, ok := step(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func step(cur any, seg string) (any, bool) {
	switch node := cur.(type) {
	case Attributes:
		v, ok := node[seg]
		return v, ok
	case map[string]any:
		v, ok := node[seg]
		return v, ok
	case map[string]string:
		v, ok := node[seg]
		return v, ok
	case []any:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(node) {
			return nil, false
		}
		return node[i], true
	case []string:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(node) {
			return nil, false
		}
		return node[i], true
	case nil:
		return nil, false
	}

	rv := reflect.ValueOf(cur)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		v := rv.MapIndex(reflect.ValueOf(seg).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil, false
		}
		return v.Interface(), true
	case reflect.Slice, reflect.Array:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= rv.Len() {
			return nil, false
		}
		return rv.Index(i).Interface(), true
	}
	return nil, false
}

// ============================================================================
// VALUE COERCION
// ============================================================================

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// toSlice returns the elements of any slice or array value. Strings are not
// treated as slices.
func toSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out, true
	case nil, string:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// asTime reports v as a time when it is a time.Time or a string that starts
// with an ISO calendar date.
func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		if !looksLikeDate(t) {
			return time.Time{}, false
		}
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed, true
		}
		if parsed, err := date.Parse(t); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// looksLikeDate matches a leading YYYY-MM-DD.
func looksLikeDate(s string) bool {
	if len(s) < 10 || s[4] != '-' || s[7] != '-' {
		return false
	}
	for _, i := range []int{0, 1, 2, 3, 5, 6, 8, 9} {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// strictEqual compares without string/number coercion. Numbers of any Go
// numeric type compare by value.
func strictEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

// compareOrdered returns -1, 0 or 1. Numbers compare numerically, date-like
// values chronologically and strings lexicographically. ok is false when the
// operands share none of these orderings.
func compareOrdered(a, b any) (cmp int, ok bool) {
	if fa, okA := toFloat(a); okA {
		fb, okB := toFloat(b)
		if !okB {
			return 0, false
		}
		return compareFloat(fa, fb), true
	}
	if ta, okA := asTime(a); okA {
		if tb, okB := asTime(b); okB {
			return ta.Compare(tb), true
		}
	}
	sa, okA := a.(string)
	sb, okB := b.(string)
	if okA && okB {
		return strings.Compare(sa, sb), true
	}
	return 0, false
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// containsValue is substring for strings and membership for slices.
func containsValue(haystack, needle any) bool {
	if s, ok := haystack.(string); ok {
		n, ok := needle.(string)
		return ok && strings.Contains(s, n)
	}
	items, ok := toSlice(haystack)
	if !ok {
		return false
	}
	for _, it := range items {
		if strictEqual(it, needle) {
			return true
		}
	}
	return false
}

// memberOf reports whether v is an element of set. When v is itself a slice
// any overlapping element counts.
func memberOf(v any, set []any) bool {
	if items, ok := toSlice(v); ok {
		for _, it := range items {
			for _, s := range set {
				if strictEqual(it, s) {
					return true
				}
			}
		}
		return false
	}
	for _, s := range set {
		if strictEqual(v, s) {
			return true
		}
	}
	return false
}
