package jsonpath

import (
	"context"
	nethttp "net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/fetchx/http"
)

const doc = `{
	"name": "John Doe",
	"age": 30,
	"address": {"city": "Anytown"},
	"phones": [{"type": "home"}, {"type": "work"}],
	"active": true,
	"metadata": null
}`

func TestExtract(t *testing.T) {
	tests := []struct {
		path    string
		want    string
		wantErr bool
	}{
		{path: "$.name", want: "John Doe"},
		{path: "$.age", want: "30"},
		{path: "$.active", want: "true"},
		{path: "$.address.city", want: "Anytown"},
		{path: "$['address']['city']", want: "Anytown"},
		{path: "$.phones[1].type", want: "work"},
		{path: "$.phones.#", want: "2"},
		{path: "$.metadata", want: "null"},
		{path: "$.missing", wantErr: true},
		{path: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := Extract(doc, tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Extract("", "$.name")
	assert.Error(t, err)
}

func TestExtractMultiple(t *testing.T) {
	got, err := ExtractMultiple(doc, map[string]string{"name": "$.name", "city": "$.address.city"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "John Doe", "city": "Anytown"}, got)

	got, err = ExtractMultiple(doc, map[string]string{"name": "$.name", "zip": "$.address.zip"})
	assert.ErrorContains(t, err, "zip: path not found")
	assert.Equal(t, map[string]string{"name": "John Doe"}, got)

	_, err = ExtractMultiple(doc, nil)
	assert.Error(t, err)
}

func TestToGjsonPath(t *testing.T) {
	tests := map[string]string{
		"$":                  "@this",
		"$.a.b":              "a.b",
		"$[0]":               "0",
		"$.a[2].b":           "a.2.b",
		`$["a"]["b"]`:        "a.b",
		"$['a'].b[0][1]":     "a.b.0.1",
		"users.0.name":       "users.0.name",
	}
	for in, want := range tests {
		assert.Equal(t, want, ToGjsonPath(in), in)
	}
}

func TestHook(t *testing.T) {
	client := http.NewClient(http.WithFetcher(func(*nethttp.Request) (*nethttp.Response, error) {
		return http.StubResponse(nethttp.StatusOK, "application/json", `{"token":"abc","user":{"id":7}}`), nil
	}))

	var got map[string]string
	_, err := client.On(http.AfterResponse, Hook(map[string]string{"token": "$.token", "id": "$.user.id"}, true), false)
	require.NoError(t, err)
	_, err = client.On(http.AfterResponse, func(ctx *http.Context) (http.Result, error) {
		got = Extracted(ctx)
		return http.Continue(ctx), nil
	}, false)
	require.NoError(t, err)

	_, err = client.Get(context.Background(), "https://api.example.com/login")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"token": "abc", "id": "7"}, got)

	strict := client.Extend()
	_, err = strict.On(http.AfterResponse, Hook(map[string]string{"missing": "$.nope"}, true), true)
	require.NoError(t, err)
	_, err = strict.Get(context.Background(), "https://api.example.com/login")
	assert.ErrorContains(t, err, "path not found")
}
