// Package header provides an ordered, case-insensitive header multi-map and
// the merge used to layer default and per-request headers.
package header

import (
	"fmt"
	"net/http"
	"reflect"
	"slices"
	"strings"

	"github.com/wesleyorama2/fetchx/internal/multimap"
	"github.com/wesleyorama2/fetchx/merge"
)

// Header keeps the spelling a key was first set with, but every lookup
// ignores case.
type Header struct {
	m *multimap.Map
}

// New returns an empty Header.
func New() *Header {
	return &Header{m: multimap.New(strings.ToLower)}
}

// Get returns the first value for key, or "".
func (h *Header) Get(key string) string {
	v, _ := h.m.Get(key)
	return v
}

func (h *Header) Values(key string) []string { return h.m.Values(key) }
func (h *Header) Set(key, value string)      { h.m.Set(key, value) }
func (h *Header) Add(key, value string)      { h.m.Add(key, value) }
func (h *Header) Del(key string)             { h.m.Del(key) }
func (h *Header) Has(key string) bool        { return h.m.Has(key) }
func (h *Header) Keys() []string             { return h.m.Keys() }
func (h *Header) Len() int                   { return h.m.Len() }

// Range visits every key in order until fn returns false.
func (h *Header) Range(fn func(key string, values []string) bool) {
	h.m.Range(fn)
}

// Clone returns a deep copy.
func (h *Header) Clone() *Header {
	if h == nil || h.m == nil {
		return New()
	}
	return &Header{m: h.m.Clone()}
}

// ToHTTP converts to net/http form. Keys are canonicalized there.
func (h *Header) ToHTTP() http.Header {
	out := make(http.Header, h.m.Len())
	h.m.Range(func(key string, values []string) bool {
		for _, v := range values {
			out.Add(key, v)
		}
		return true
	})
	return out
}

// From builds a Header from *Header, http.Header, map[string]string,
// map[string][]string or map[string]any. Null and Undefined entries are
// ignored.
func From(src any) (*Header, error) {
	h := New()
	if err := apply(h, src); err != nil {
		return nil, err
	}
	return h, nil
}

// Merge layers incomes over original. Within a map[string]any income, Null
// (or nil) deletes a key, Undefined keeps it, a slice clears the key and then
// appends each element, and any other value replaces it.
func Merge(original any, incomes ...any) (*Header, error) {
	h, err := From(original)
	if err != nil {
		return nil, err
	}
	for _, income := range incomes {
		if err := apply(h, income); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func apply(h *Header, src any) error {
	switch s := src.(type) {
	case nil:
	case *Header:
		if s == nil {
			return nil
		}
		s.Range(func(key string, values []string) bool {
			reset(h, key, values)
			return true
		})
	case http.Header:
		for _, k := range merge.SortedKeys(s) {
			reset(h, k, s[k])
		}
	case map[string]string:
		for _, k := range merge.SortedKeys(s) {
			h.Set(k, s[k])
		}
	case map[string][]string:
		for _, k := range merge.SortedKeys(s) {
			reset(h, k, s[k])
		}
	case map[string]any:
		for _, k := range merge.SortedKeys(s) {
			applyValue(h, k, s[k])
		}
	default:
		return fmt.Errorf("unsupported header source %T", src)
	}
	return nil
}

func applyValue(h *Header, key string, v any) {
	switch t := v.(type) {
	case nil:
		h.Del(key)
		return
	case string:
		h.Set(key, t)
		return
	case []string:
		reset(h, key, t)
		return
	}
	switch v {
	case merge.Undefined:
		return
	case merge.Null:
		h.Del(key)
		return
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
		values := make([]string, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			values = append(values, fmt.Sprint(rv.Index(i).Interface()))
		}
		reset(h, key, values)
		return
	}
	h.Set(key, fmt.Sprint(v))
}

func reset(h *Header, key string, values []string) {
	h.m.Replace(key, values)
}

// Diff returns the income that turns before into after under Merge: keys
// whose values changed map to their new values, removed keys to Null.
func Diff(before, after *Header) map[string]any {
	if before == nil {
		before = New()
	}
	if after == nil {
		after = New()
	}
	out := make(map[string]any)
	after.Range(func(key string, values []string) bool {
		if !slices.Equal(before.Values(key), values) {
			out[key] = slices.Clone(values)
		}
		return true
	})
	before.Range(func(key string, _ []string) bool {
		if !after.Has(key) {
			out[key] = merge.Null
		}
		return true
	})
	return out
}
