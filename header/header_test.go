package header

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/fetchx/merge"
)

func TestHeader_CaseInsensitive(t *testing.T) {
	h := New()
	h.Set("x-a", "1")

	assert.Equal(t, "1", h.Get("X-A"))
	assert.True(t, h.Has("X-a"))

	h.Add("X-A", "2")
	assert.Equal(t, []string{"1", "2"}, h.Values("x-A"))
	assert.Equal(t, []string{"x-a"}, h.Keys())

	h.Del("X-A")
	assert.Equal(t, 0, h.Len())
}

func TestHeader_ToHTTP(t *testing.T) {
	h := New()
	h.Set("content-type", "application/json")
	h.Add("x-multi", "a")
	h.Add("X-Multi", "b")

	std := h.ToHTTP()
	assert.Equal(t, "application/json", std.Get("Content-Type"))
	assert.Equal(t, []string{"a", "b"}, std.Values("X-Multi"))
}

func TestMerge(t *testing.T) {
	defaults := map[string]string{
		"Accept":        "application/json",
		"Authorization": "Bearer default",
		"X-Tags":        "one",
	}
	got, err := Merge(defaults,
		http.Header{"X-Extra": {"1"}},
		map[string]any{
			"accept":        merge.Undefined,
			"authorization": merge.Null,
			"x-tags":        []string{"two", "three"},
			"X-Count":       3,
		},
	)
	require.NoError(t, err)

	assert.Equal(t, "application/json", got.Get("Accept"))
	assert.False(t, got.Has("Authorization"))
	assert.Equal(t, []string{"two", "three"}, got.Values("X-Tags"))
	assert.Equal(t, "1", got.Get("x-extra"))
	assert.Equal(t, "3", got.Get("x-count"))
}

func TestMerge_ArrayResetsExisting(t *testing.T) {
	base := New()
	base.Add("X-List", "a")
	base.Add("X-List", "b")

	got, err := Merge(base, map[string]any{"x-list": []any{"c"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, got.Values("X-List"))
	assert.Equal(t, []string{"a", "b"}, base.Values("X-List"))
}

func TestMerge_NilDeletes(t *testing.T) {
	got, err := Merge(map[string]string{"A": "1"}, map[string]any{"a": nil})
	require.NoError(t, err)
	assert.Equal(t, 0, got.Len())
}

func TestFrom_Unsupported(t *testing.T) {
	_, err := From(12)
	assert.Error(t, err)
}

func TestMerge_ResetKeepsFirstSpelling(t *testing.T) {
	got, err := Merge(map[string]string{"X-Trace-Id": "1", "Accept": "*/*"},
		map[string]any{"x-trace-id": []string{"a", "b"}, "accept": "text/plain"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Accept", "X-Trace-Id"}, got.Keys())
	assert.Equal(t, []string{"a", "b"}, got.Values("X-Trace-Id"))
	assert.Equal(t, "text/plain", got.Get("Accept"))
}

func TestDiff(t *testing.T) {
	before := New()
	before.Set("Accept", "*/*")
	before.Set("X-Gone", "1")
	before.Set("X-Same", "s")

	after := before.Clone()
	after.Set("accept", "application/json")
	after.Del("X-Gone")
	after.Add("X-New", "a")
	after.Add("X-New", "b")

	assert.Equal(t, map[string]any{
		"Accept": []string{"application/json"},
		"X-Gone": merge.Null,
		"X-New":  []string{"a", "b"},
	}, Diff(before, after))
	assert.Empty(t, Diff(before, before.Clone()))

	// applying the diff over the pre-edit state reproduces the edit
	got, err := Merge(before, Diff(before, after))
	require.NoError(t, err)
	assert.Equal(t, after.ToHTTP(), got.ToHTTP())
}
