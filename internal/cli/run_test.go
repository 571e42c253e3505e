package cli

import (
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const runConfig = `
environments:
  local:
    baseUrl: "{{server}}"
    headers:
      Accept: application/json
    variables:
      user: ada
requests:
  login:
    url: /login
    method: POST
    body:
      user: "{{user}}"
    extract:
      token: $.token
  profile:
    url: /profile
    headers:
      Authorization: Bearer {{token}}
    schema: profile
  broken:
    url: /profile
    headers:
      Authorization: Bearer {{token}}
    schema: strict
suites:
  session:
    requests: [login, profile]
    variables:
      user: grace
schemas:
  profile:
    type: object
    required: [name]
  strict:
    type: object
    required: [email]
`

// authServer hands out a token for the posted user and serves a profile to
// holders of it.
func authServer(t *testing.T, logins *atomic.Int32) *httptest.Server {
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/login":
			logins.Add(1)
			var body struct{ User string }
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				nethttp.Error(w, err.Error(), nethttp.StatusBadRequest)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok-" + body.User})
		case "/profile":
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer tok-") {
				w.WriteHeader(nethttp.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"name": strings.TrimPrefix(auth, "Bearer tok-")})
		default:
			nethttp.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fetchx.yaml")
	require.NoError(t, os.WriteFile(path, []byte(runConfig), 0o600))
	return path
}

func TestRun_ExtractionChain(t *testing.T) {
	var logins atomic.Int32
	srv := authServer(t, &logins)
	file := writeConfig(t)

	out, err := execute(t, "run", file, "login", "profile", "--var", "server="+srv.URL, "-o", "json")
	require.NoError(t, err)

	results, _ := decodeResults(t, out)
	require.Len(t, results, 2)
	assert.Equal(t, "login", results[0].Name)
	assert.Equal(t, map[string]string{"token": "tok-ada"}, results[0].Extracted)
	assert.Equal(t, "profile", results[1].Name)
	assert.Equal(t, 200, results[1].Status)
	assert.Equal(t, map[string]any{"name": "ada"}, results[1].Body)
	assert.EqualValues(t, 1, logins.Load())
}

func TestRun_Suite(t *testing.T) {
	var logins atomic.Int32
	srv := authServer(t, &logins)
	file := writeConfig(t)

	out, err := execute(t, "run", file, "-s", "session", "--var", "server="+srv.URL, "-n", "2", "--stats", "-o", "json")
	require.NoError(t, err)

	results, stats := decodeResults(t, out)
	require.Len(t, results, 4)
	assert.Equal(t, map[string]any{"name": "grace"}, results[1].Body)
	require.NotNil(t, stats)
	assert.EqualValues(t, 4, stats.TotalRequests)
	assert.EqualValues(t, 2, logins.Load())
}

func TestRun_Failures(t *testing.T) {
	var logins atomic.Int32
	srv := authServer(t, &logins)
	file := writeConfig(t)

	// no token yet, so profile is rejected
	out, err := execute(t, "run", file, "profile", "--var", "server="+srv.URL, "-o", "json")
	assert.EqualError(t, err, "1 of 1 requests failed")
	results, _ := decodeResults(t, out)
	require.Len(t, results, 1)
	assert.Equal(t, 401, results[0].Status)

	out, err = execute(t, "run", file, "login", "broken", "--var", "server="+srv.URL, "-o", "json")
	assert.EqualError(t, err, "1 of 2 requests failed")
	results, _ = decodeResults(t, out)
	require.Len(t, results, 2)
	assert.Contains(t, results[1].Error, "schema validation")
}

func TestRun_Errors(t *testing.T) {
	file := writeConfig(t)

	_, err := execute(t, "run", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "config file not found")

	_, err = execute(t, "run", file, "nope")
	assert.ErrorContains(t, err, "request not found: nope")

	_, err = execute(t, "run", file, "-s", "nope")
	assert.ErrorContains(t, err, "suite not found: nope")

	_, err = execute(t, "run", file, "-E", "prod")
	assert.ErrorContains(t, err, "environment not found: prod")

	_, err = execute(t, "run")
	assert.Error(t, err)
}

func TestRun_TextOutput(t *testing.T) {
	var logins atomic.Int32
	srv := authServer(t, &logins)
	file := writeConfig(t)

	out, err := execute(t, "run", file, "login", "--var", "server="+srv.URL, "--stats")
	require.NoError(t, err)
	assert.Contains(t, out, "● login")
	assert.Contains(t, out, "token = tok-ada")
	assert.Contains(t, out, "Summary")
	assert.Contains(t, out, "Requests: 1 total, 1 ok")
}
