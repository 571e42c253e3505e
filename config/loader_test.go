package config

import (
	"context"
	"encoding/json"
	"io"
	nethttp "net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/fetchx/http"
)

const sampleYAML = `
environments:
  dev:
    baseUrl: https://{{host}}/v1
    timeout: 5s
    headers:
      Authorization: Bearer {{token}}
      Accept: application/json
    query:
      locale: en
    variables:
      host: dev.example.com
      token: abc
requests:
  listUsers:
    url: /users
    method: get
    query:
      page: 2
      locale: null
  createUser:
    url: /users
    method: POST
    headers:
      Authorization: null
    body:
      name: "{{name}}"
      tags: [a, b]
    expect: json
    schema: user
    extract:
      id: id
suites:
  smoke:
    requests: [listUsers, createUser]
    variables:
      name: ada
schemas:
  user:
    type: object
    required: [id]
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_YAML(t *testing.T) {
	cfg, err := LoadConfig(writeFile(t, "requests.yaml", sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"dev"}, GetEnvironmentNames(cfg))
	assert.Equal(t, []string{"createUser", "listUsers"}, GetRequestNames(cfg))
	assert.Equal(t, []string{"smoke"}, GetSuiteNames(cfg))

	env, err := cfg.Environment("")
	require.NoError(t, err)
	assert.Equal(t, "https://{{host}}/v1", env.BaseURL)
	assert.Equal(t, "abc", env.Vars["token"])

	req := cfg.Requests["listUsers"]
	assert.Nil(t, req.Query["locale"])
	assert.Equal(t, 2, req.Query["page"])
}

func TestLoadConfig_JSON(t *testing.T) {
	doc := map[string]any{
		"requests": map[string]any{
			"ping": map[string]any{"url": "https://example.com/ping"},
		},
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)

	cfg, err := LoadConfig(writeFile(t, "requests.json", string(data)))
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/ping", cfg.Requests["ping"].URL)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "config file not found")

	_, err = LoadConfig(writeFile(t, "bad.json", "{"))
	assert.ErrorContains(t, err, "failed to parse JSON config")

	_, err = LoadConfig(writeFile(t, "empty.yaml", "environments: {}\n"))
	assert.ErrorContains(t, err, "at least one request is required")
}

func TestConfig_Environment(t *testing.T) {
	cfg := &Config{Environments: map[string]Environment{
		"a": {BaseURL: "https://a"},
		"b": {BaseURL: "https://b"},
	}}

	env, err := cfg.Environment("b")
	require.NoError(t, err)
	assert.Equal(t, "https://b", env.BaseURL)

	_, err = cfg.Environment("")
	assert.ErrorContains(t, err, "choose one of: a, b")

	_, err = cfg.Environment("c")
	assert.ErrorContains(t, err, "environment not found")

	env, err = (&Config{}).Environment("")
	require.NoError(t, err)
	assert.Empty(t, env.BaseURL)
}

// TestConfig_EndToEnd drives a client built from a config file against a
// recording fetcher.
func TestConfig_EndToEnd(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleYAML), "requests.yml")
	require.NoError(t, err)

	env, err := cfg.Environment("dev")
	require.NoError(t, err)
	vars := MergeEnvironments(env.Vars, cfg.Suites["smoke"].Vars)

	var last *nethttp.Request
	var body string
	fetch := func(req *nethttp.Request) (*nethttp.Response, error) {
		last = req
		body = ""
		if req.Body != nil {
			data, _ := io.ReadAll(req.Body)
			body = string(data)
		}
		return http.StubResponse(nethttp.StatusOK, "application/json", `{"id":7}`), nil
	}

	opts, err := env.ClientOptions(vars)
	require.NoError(t, err)
	client := http.NewClient(append(opts, http.WithFetcher(fetch))...)
	assert.Equal(t, 5*time.Second, client.Config().Timeout)

	list := cfg.Requests["listUsers"]
	ropts, err := list.Options(vars)
	require.NoError(t, err)
	_, err = client.Request(context.Background(), list.Target(vars), ropts...)
	require.NoError(t, err)

	assert.Equal(t, "https://dev.example.com/v1/users?page=2", last.URL.String())
	assert.Equal(t, "Bearer abc", last.Header.Get("Authorization"))

	create := cfg.Requests["createUser"]
	ropts, err = create.Options(vars)
	require.NoError(t, err)
	resp, err := client.Request(context.Background(), create.Target(vars), ropts...)
	require.NoError(t, err)

	assert.Equal(t, nethttp.MethodPost, last.Method)
	assert.Equal(t, "locale=en", last.URL.RawQuery)
	assert.Empty(t, last.Header.Get("Authorization"))
	assert.JSONEq(t, `{"name":"ada","tags":["a","b"]}`, body)
	assert.Equal(t, int64(7), resp.Get("id").Int())
}

func TestParseDurationString(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		err  bool
	}{
		{"30s", 30 * time.Second, false},
		{"30", 30 * time.Second, false},
		{"5 minutes", 5 * time.Minute, false},
		{"1 hour", time.Hour, false},
		{"", 0, true},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDurationString(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProcessEnvironment(t *testing.T) {
	got := ProcessEnvironment("{{baseUrl}}/users/{{userId}}", map[string]string{
		"baseUrl": "https://api.example.com",
		"userId":  "123",
	})
	assert.Equal(t, "https://api.example.com/users/123", got)
	assert.Equal(t, "{{missing}}", ProcessEnvironment("{{missing}}", nil))
}
