package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/fetchx/http"
	"github.com/wesleyorama2/fetchx/merge"
)

// Config represents the top-level configuration file structure.
type Config struct {
	// Environments defines target environments with base URLs and defaults
	Environments map[string]Environment `json:"environments" yaml:"environments"`

	// Requests defines HTTP request templates
	Requests map[string]Request `json:"requests" yaml:"requests"`

	// Suites defines collections of requests to run together
	Suites map[string]Suite `json:"suites,omitempty" yaml:"suites,omitempty"`

	// Schemas defines JSON schemas for response validation
	Schemas map[string]any `json:"schemas,omitempty" yaml:"schemas,omitempty"`
}

// Environment holds client defaults for one target.
type Environment struct {
	// BaseURL is the base URL for all requests in this environment
	BaseURL string `json:"baseUrl" yaml:"baseUrl"`

	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Headers and Query are merged into every request. A null value
	// removes an inherited key.
	Headers map[string]any `json:"headers,omitempty" yaml:"headers,omitempty"`
	Query   map[string]any `json:"query,omitempty" yaml:"query,omitempty"`

	Credentials  string `json:"credentials,omitempty" yaml:"credentials,omitempty"`
	Cache        string `json:"cache,omitempty" yaml:"cache,omitempty"`
	Mode         string `json:"mode,omitempty" yaml:"mode,omitempty"`
	ResponseType string `json:"responseType,omitempty" yaml:"responseType,omitempty"`

	// Vars are variables that can be used in request templates
	Vars map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`
}

// Request represents an HTTP request template.
type Request struct {
	// URL is the request URL (can include {{variables}})
	URL string `json:"url" yaml:"url"`

	// Method is the HTTP method (GET, POST, PUT, DELETE, etc.)
	Method string `json:"method" yaml:"method"`

	Headers map[string]any `json:"headers,omitempty" yaml:"headers,omitempty"`
	Query   map[string]any `json:"query,omitempty" yaml:"query,omitempty"`

	// Body is the request body (can be any JSON value)
	Body any `json:"body,omitempty" yaml:"body,omitempty"`

	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Expect forces the response type (json, text, form, blob, arraybuffer)
	Expect string `json:"expect,omitempty" yaml:"expect,omitempty"`

	// Schema names an entry of Config.Schemas the response must satisfy
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty"`

	// Extract defines variables to extract from the response
	Extract map[string]string `json:"extract,omitempty" yaml:"extract,omitempty"`
}

// Suite represents a collection of requests to run together.
type Suite struct {
	// Requests is the list of request names to run in order
	Requests []string `json:"requests" yaml:"requests"`

	// Vars are variables available to all requests in the suite
	Vars map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`
}

// LoadConfig loads a configuration file from the given path.
// Supports JSON and YAML configuration files.
func LoadConfig(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return ParseConfig(data, path)
}

// ParseConfig decodes data according to the extension of path. Unknown
// extensions are tried as YAML.
func ParseConfig(data []byte, path string) (*Config, error) {
	var config Config

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config (unknown format %s): %w", ext, err)
		}
	}

	if errs := ValidateConfig(&config); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}
	return &config, nil
}

// Environment returns the named environment. An empty name selects the only
// environment when there is exactly one, or an empty environment when there
// are none.
func (c *Config) Environment(name string) (Environment, error) {
	if name == "" {
		switch len(c.Environments) {
		case 0:
			return Environment{}, nil
		case 1:
			for _, env := range c.Environments {
				return env, nil
			}
		}
		return Environment{}, fmt.Errorf("config defines %d environments, choose one of: %s",
			len(c.Environments), strings.Join(GetEnvironmentNames(c), ", "))
	}
	env, ok := c.Environments[name]
	if !ok {
		return Environment{}, fmt.Errorf("environment not found: %s", name)
	}
	return env, nil
}

// ClientOptions turns the environment into client options. Variables are
// substituted in the base URL, header and query values.
func (e Environment) ClientOptions(vars map[string]string) ([]http.ClientOption, error) {
	var opts []http.ClientOption
	if e.BaseURL != "" {
		opts = append(opts, http.WithBaseURL(ProcessEnvironment(e.BaseURL, vars)))
	}
	if e.Timeout != "" {
		d, err := ParseDurationString(e.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout %q: %w", e.Timeout, err)
		}
		opts = append(opts, http.WithTimeout(d))
	}
	if len(e.Headers) > 0 {
		opts = append(opts, http.WithHeaders(substitute(normalize(e.Headers), vars)))
	}
	if len(e.Query) > 0 {
		opts = append(opts, http.WithQuery(substitute(normalize(e.Query), vars)))
	}
	if e.Credentials != "" {
		opts = append(opts, http.WithCredentials(http.Credentials(e.Credentials)))
	}
	if e.Cache != "" {
		opts = append(opts, http.WithCache(http.CachePolicy(e.Cache)))
	}
	if e.Mode != "" {
		opts = append(opts, http.WithMode(http.Mode(e.Mode)))
	}
	if e.ResponseType != "" {
		opts = append(opts, http.WithResponseType(http.ResponseType(e.ResponseType)))
	}
	return opts, nil
}

// Options turns the request template into request options.
func (r Request) Options(vars map[string]string) ([]http.Option, error) {
	opts := []http.Option{http.WithMethod(strings.ToUpper(r.Method))}
	if len(r.Headers) > 0 {
		opts = append(opts, http.WithRequestHeaders(substitute(normalize(r.Headers), vars)))
	}
	if len(r.Query) > 0 {
		opts = append(opts, http.WithRequestQuery(substitute(normalize(r.Query), vars)))
	}
	if r.Body != nil {
		opts = append(opts, http.WithBody(substitute(plain(r.Body), vars)))
	}
	if r.Timeout != "" {
		d, err := ParseDurationString(r.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout %q: %w", r.Timeout, err)
		}
		opts = append(opts, http.WithRequestTimeout(d))
	}
	if r.Expect != "" {
		opts = append(opts, http.WithExpect(http.ResponseType(r.Expect)))
	}
	return opts, nil
}

// Target returns the request URL with variables substituted.
func (r Request) Target(vars map[string]string) string {
	return ProcessEnvironment(r.URL, vars)
}

// normalize converts decoded null values into merge.Null so they delete
// inherited keys.
func normalize(m map[string]any) merge.Record {
	return merge.Normalize(m).(merge.Record)
}

// plain converts YAML's map[any]any nodes so bodies marshal as JSON.
func plain(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = plain(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = plain(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plain(e)
		}
		return out
	}
	return v
}

// substitute replaces {{variables}} in every string inside v.
func substitute[T any](v T, vars map[string]string) T {
	if len(vars) == 0 {
		return v
	}
	out, _ := substituteValue(v, vars).(T)
	return out
}

func substituteValue(v any, vars map[string]string) any {
	switch t := v.(type) {
	case string:
		return ProcessEnvironment(t, vars)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = substituteValue(e, vars)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = substituteValue(e, vars)
		}
		return out
	}
	return v
}

// ParseDurationString parses duration strings like "30s", "5m", "1h".
// Supports Go duration format, bare seconds and common variants like
// "30 seconds".
func ParseDurationString(duration string) (time.Duration, error) {
	duration = strings.TrimSpace(duration)
	if duration == "" {
		return 0, fmt.Errorf("duration cannot be empty")
	}

	if d, err := time.ParseDuration(duration); err == nil {
		return d, nil
	}
	if d, err := time.ParseDuration(duration + "s"); err == nil {
		return d, nil
	}

	duration = strings.ToLower(duration)
	duration = strings.ReplaceAll(duration, " ", "")

	// longest words first so "seconds" is not rewritten as "ss"
	replacements := []struct{ word, abbrev string }{
		{"seconds", "s"},
		{"second", "s"},
		{"minutes", "m"},
		{"minute", "m"},
		{"hours", "h"},
		{"hour", "h"},
	}
	for _, r := range replacements {
		duration = strings.ReplaceAll(duration, r.word, r.abbrev)
	}

	return time.ParseDuration(duration)
}

// ProcessEnvironment processes variable substitution in a string.
// Variables are specified using the {{variableName}} syntax.
//
// Example:
//
//	url := config.ProcessEnvironment("{{baseUrl}}/users/{{userId}}", map[string]string{
//	    "baseUrl": "https://api.example.com",
//	    "userId":  "123",
//	})
//	// Result: "https://api.example.com/users/123"
func ProcessEnvironment(input string, env map[string]string) string {
	result := input
	for key, value := range env {
		result = strings.ReplaceAll(result, "{{"+key+"}}", value)
	}
	return result
}

// MergeEnvironments merges two variable sets, with the override taking precedence.
func MergeEnvironments(base, override map[string]string) map[string]string {
	result := make(map[string]string, len(base)+len(override))
	for key, value := range base {
		result[key] = value
	}
	for key, value := range override {
		result[key] = value
	}
	return result
}
