// Package query converts between query strings, bracket-nested records and
// ordered multi-maps, and merges query parameters from several sources.
//
// Nested records flatten with bracket notation:
//
//	{"a": {"b": {"c": 3}}}  <->  a[b][c]=3
//
// A key that literally ends in "[]" is always an array, so "tags[]=x" comes
// back as {"tags[]": ["x"]} rather than {"tags[]": "x"}.
package query

import (
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"github.com/wesleyorama2/fetchx/internal/multimap"
	"github.com/wesleyorama2/fetchx/merge"
)

// Values is an ordered multi-map of query parameters.
type Values struct {
	m *multimap.Map
}

// New returns an empty Values.
func New() *Values {
	return &Values{m: multimap.New(nil)}
}

func (v *Values) Get(key string) string {
	s, _ := v.m.Get(key)
	return s
}

func (v *Values) Values(key string) []string { return v.m.Values(key) }
func (v *Values) Set(key, value string)      { v.m.Set(key, value) }
func (v *Values) Add(key, value string)      { v.m.Add(key, value) }
func (v *Values) Del(key string)             { v.m.Del(key) }
func (v *Values) Has(key string) bool        { return v.m.Has(key) }
func (v *Values) Keys() []string             { return v.m.Keys() }
func (v *Values) Len() int                   { return v.m.Len() }

// Range visits every key in order until fn returns false.
func (v *Values) Range(fn func(key string, values []string) bool) {
	v.m.Range(fn)
}

// Clone returns a deep copy.
func (v *Values) Clone() *Values {
	if v == nil || v.m == nil {
		return New()
	}
	return &Values{m: v.m.Clone()}
}

// Encode renders the values as a query string, keeping insertion order.
func (v *Values) Encode() string {
	var buf strings.Builder
	v.m.Range(func(key string, values []string) bool {
		for _, val := range values {
			if buf.Len() > 0 {
				buf.WriteByte('&')
			}
			buf.WriteString(url.QueryEscape(key))
			buf.WriteByte('=')
			buf.WriteString(url.QueryEscape(val))
		}
		return true
	})
	return buf.String()
}

func (v *Values) String() string { return v.Encode() }

// URLValues converts to the standard library representation.
func (v *Values) URLValues() url.Values {
	out := make(url.Values, v.m.Len())
	v.m.Range(func(key string, values []string) bool {
		out[key] = append([]string(nil), values...)
		return true
	})
	return out
}

// Parse reads a raw query string. A leading '?' is ignored.
func Parse(raw string) (*Values, error) {
	out := New()
	raw = strings.TrimPrefix(raw, "?")
	for raw != "" {
		var pair string
		pair, raw, _ = strings.Cut(raw, "&")
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		k, err := url.QueryUnescape(key)
		if err != nil {
			return nil, fmt.Errorf("invalid query key %q: %w", key, err)
		}
		val, err := url.QueryUnescape(value)
		if err != nil {
			return nil, fmt.Errorf("invalid query value for %q: %w", k, err)
		}
		out.Add(k, val)
	}
	return out, nil
}

// ToMultiMap normalizes any supported query source into Values. Supported
// sources are raw strings, *Values, url.Values, map[string]string,
// map[string][]string and nested map[string]any records.
func ToMultiMap(src any) (*Values, error) {
	switch s := src.(type) {
	case nil:
		return New(), nil
	case string:
		return Parse(s)
	case *Values:
		if s == nil {
			return New(), nil
		}
		return s.Clone(), nil
	case url.Values:
		out := New()
		for _, k := range merge.SortedKeys(s) {
			for _, val := range s[k] {
				out.Add(k, val)
			}
		}
		return out, nil
	case map[string]string, map[string][]string, map[string]any:
		out := New()
		flatten(out, "", merge.Normalize(s))
		return out, nil
	}
	return nil, fmt.Errorf("unsupported query source %T", src)
}

func flatten(out *Values, prefix string, v any) {
	switch t := v.(type) {
	case nil:
		return
	case merge.Record:
		for _, k := range merge.SortedKeys(t) {
			flatten(out, join(prefix, k), t[k])
		}
		return
	case string:
		out.Add(prefix, t)
		return
	case []byte:
		out.Add(prefix, string(t))
		return
	}
	if merge.IsMarker(v) {
		return
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
		for i := 0; i < rv.Len(); i++ {
			elem := rv.Index(i).Interface()
			if merge.IsRecord(elem) {
				flatten(out, fmt.Sprintf("%s[%d]", strings.TrimSuffix(prefix, "[]"), i), merge.Normalize(elem))
				continue
			}
			flatten(out, prefix, elem)
		}
		return
	}
	out.Add(prefix, fmt.Sprint(v))
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	if base, ok := strings.CutSuffix(key, "[]"); ok {
		return prefix + "[" + base + "][]"
	}
	return prefix + "[" + key + "]"
}

// splitKey breaks a bracket key into path segments. A trailing "[]" stays
// attached to the last segment. Keys that do not parse are returned whole.
func splitKey(key string) []string {
	open := strings.IndexByte(key, '[')
	if open <= 0 {
		return []string{key}
	}
	segs := []string{key[:open]}
	rest := key[open:]
	for rest != "" {
		if rest[0] != '[' {
			return []string{key}
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return []string{key}
		}
		seg := rest[1:end]
		rest = rest[end+1:]
		if seg == "" {
			if rest != "" {
				return []string{key}
			}
			segs[len(segs)-1] += "[]"
			break
		}
		segs = append(segs, seg)
	}
	return segs
}

// FromMultiMap rebuilds a nested record from bracket keys. Numbers and
// booleans come back as strings.
func FromMultiMap(v *Values) merge.Record {
	out := make(merge.Record)
	if v == nil {
		return out
	}
	v.Range(func(key string, values []string) bool {
		segs := splitKey(key)
		node := out
		for _, seg := range segs[:len(segs)-1] {
			child, ok := node[seg].(merge.Record)
			if !ok {
				child = make(merge.Record)
				node[seg] = child
			}
			node = child
		}
		last := segs[len(segs)-1]
		if strings.HasSuffix(last, "[]") || len(values) > 1 {
			arr := make([]any, len(values))
			for i, s := range values {
				arr[i] = s
			}
			node[last] = arr
		} else {
			node[last] = values[0]
		}
		return true
	})
	return out
}

// Merge combines query sources, lowest priority first. Records keep their
// Null/Undefined markers; every other source is normalized through
// ToMultiMap and FromMultiMap before merging.
func Merge(original any, incomes ...any) (*Values, error) {
	base, err := toRecord(original)
	if err != nil {
		return nil, err
	}
	records := make([]merge.Record, 0, len(incomes))
	for _, income := range incomes {
		rec, err := toRecord(income)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return ToMultiMap(merge.Merge(base, records...))
}

func toRecord(src any) (merge.Record, error) {
	if rec, ok := src.(map[string]any); ok {
		return merge.Normalize(rec).(merge.Record), nil
	}
	mm, err := ToMultiMap(src)
	if err != nil {
		return nil, err
	}
	return FromMultiMap(mm), nil
}
