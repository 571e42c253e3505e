// Package multimap implements the ordered one-key-to-many-values map shared by
// the query and header packages.
package multimap

// Map is an ordered multi-map. Keys are compared after folding through the
// fold function, so the header package can make them case-insensitive while
// the query package keeps them exact. The first spelling of a key is kept.
type Map struct {
	fold    func(string) string
	order   []string
	display map[string]string
	values  map[string][]string
}

// New creates an empty map. A nil fold keeps keys as given.
func New(fold func(string) string) *Map {
	if fold == nil {
		fold = func(s string) string { return s }
	}
	return &Map{
		fold:    fold,
		display: make(map[string]string),
		values:  make(map[string][]string),
	}
}

// Get returns the first value stored under key.
func (m *Map) Get(key string) (string, bool) {
	vs := m.values[m.fold(key)]
	if len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// Values returns a copy of every value stored under key.
func (m *Map) Values(key string) []string {
	vs := m.values[m.fold(key)]
	if len(vs) == 0 {
		return nil
	}
	out := make([]string, len(vs))
	copy(out, vs)
	return out
}

// Has reports whether key holds at least one value.
func (m *Map) Has(key string) bool {
	_, ok := m.values[m.fold(key)]
	return ok
}

// Set replaces every value under key with value. A key already present
// keeps its spelling and position.
func (m *Map) Set(key, value string) {
	m.Replace(key, []string{value})
}

// Replace swaps the values under key for values, in place. An empty
// values deletes the key.
func (m *Map) Replace(key string, values []string) {
	if len(values) == 0 {
		m.Del(key)
		return
	}
	k := m.fold(key)
	if _, ok := m.values[k]; !ok {
		m.order = append(m.order, k)
		m.display[k] = key
	}
	m.values[k] = append([]string(nil), values...)
}

// Add appends value under key.
func (m *Map) Add(key, value string) {
	k := m.fold(key)
	if _, ok := m.values[k]; !ok {
		m.order = append(m.order, k)
		m.display[k] = key
	}
	m.values[k] = append(m.values[k], value)
}

// Del removes key.
func (m *Map) Del(key string) {
	k := m.fold(key)
	if _, ok := m.values[k]; !ok {
		return
	}
	delete(m.values, k)
	delete(m.display, k)
	for i, o := range m.order {
		if o == k {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order, spelled as first set.
func (m *Map) Keys() []string {
	out := make([]string, 0, len(m.order))
	for _, k := range m.order {
		out = append(out, m.display[k])
	}
	return out
}

// Len is the number of distinct keys.
func (m *Map) Len() int {
	return len(m.order)
}

// Range calls fn for each key in order until fn returns false.
func (m *Map) Range(fn func(key string, values []string) bool) {
	for _, k := range m.order {
		if !fn(m.display[k], m.values[k]) {
			return
		}
	}
}

// Clone returns a deep copy.
func (m *Map) Clone() *Map {
	out := New(m.fold)
	for _, k := range m.order {
		out.order = append(out.order, k)
		out.display[k] = m.display[k]
		vs := make([]string, len(m.values[k]))
		copy(vs, m.values[k])
		out.values[k] = vs
	}
	return out
}
