// Package merge implements the deep merge used for query parameters, headers
// and configuration overrides.
//
// Records are map[string]any values. Within an income record a key may map to:
//
//   - Undefined: leave the original value alone
//   - Null (or a literal nil): delete the key from the result
//   - another record: merge recursively when the original is also a record
//   - anything else: replace the original value wholesale (slices included)
//
// Inputs are never mutated; the result shares no maps or slices with them.
package merge

import (
	"reflect"
	"sort"
)

// Record is a nested string-keyed document.
type Record = map[string]any

type sentinel string

const (
	// Null deletes the key it is assigned to.
	Null sentinel = "<null>"

	// Undefined keeps whatever value the key already has.
	Undefined sentinel = "<undefined>"
)

// IsMarker reports whether v is Null or Undefined.
func IsMarker(v any) bool {
	return v == Null || v == Undefined
}

// IsRecord reports whether v is a record the merge can recurse into.
func IsRecord(v any) bool {
	switch v.(type) {
	case map[string]any, map[string]string, map[string][]string:
		return true
	}
	return false
}

// Merge folds every income into a copy of original, left to right.
func Merge(original Record, incomes ...Record) Record {
	out := make(Record, len(original))
	into(out, original)
	for _, income := range incomes {
		into(out, income)
	}
	return out
}

func into(dst, income Record) {
	for k, v := range income {
		switch {
		case v == Undefined:
		case v == nil || v == Null:
			delete(dst, k)
		case IsRecord(v):
			rec := asRecord(v)
			if cur, ok := dst[k].(Record); ok {
				into(cur, rec)
				continue
			}
			fresh := make(Record, len(rec))
			into(fresh, rec)
			dst[k] = fresh
		default:
			dst[k] = Clone(v)
		}
	}
}

func asRecord(v any) Record {
	switch t := v.(type) {
	case map[string]any:
		return t
	case map[string]string:
		out := make(Record, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out
	case map[string][]string:
		out := make(Record, len(t))
		for k, s := range t {
			out[k] = Clone(s)
		}
		return out
	}
	return nil
}

// Diff returns the income record that turns before into after when merged
// over it: changed and added keys carry their new value, removed keys Null.
// Nested records are diffed recursively.
func Diff(before, after Record) Record {
	out := make(Record)
	for k, av := range after {
		bv, ok := before[k]
		if !ok {
			out[k] = Clone(av)
			continue
		}
		br, bok := bv.(Record)
		ar, aok := av.(Record)
		if bok && aok {
			if d := Diff(br, ar); len(d) > 0 {
				out[k] = d
			}
			continue
		}
		if !reflect.DeepEqual(bv, av) {
			out[k] = Clone(av)
		}
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			out[k] = Null
		}
	}
	return out
}

// Clone deep-copies records and slices. Markers inside cloned records are
// resolved against an empty record, so a clone never carries them.
func Clone(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]any, map[string]string, map[string][]string:
		out := make(Record)
		into(out, asRecord(t))
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Clone(e)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice {
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		reflect.Copy(out, rv)
		return out.Interface()
	}
	return v
}

// Normalize turns decoded documents (JSON, YAML) into records: nil leaves
// become Null and string-keyed maps of any flavour become Record.
func Normalize(v any) any {
	switch t := v.(type) {
	case nil:
		return Null
	case map[string]any:
		out := make(Record, len(t))
		for k, e := range t {
			out[k] = Normalize(e)
		}
		return out
	case map[any]any:
		out := make(Record, len(t))
		for k, e := range t {
			if ks, ok := k.(string); ok {
				out[ks] = Normalize(e)
			}
		}
		return out
	case map[string]string, map[string][]string:
		return asRecord(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Normalize(e)
		}
		return out
	}
	return v
}

// SortedKeys returns the keys of r in lexical order.
func SortedKeys[V any](r map[string]V) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
