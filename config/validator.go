package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wesleyorama2/fetchx/http"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	// Path is the JSON path to the invalid field
	Path string

	// Message describes the validation error
	Message string
}

// Error returns the error message.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

var validMethods = []string{"GET", "HEAD", "OPTIONS", "TRACE", "POST", "PUT", "PATCH", "DELETE"}

var validExpect = []string{"json", "text", "form", "blob", "arraybuffer", "stream"}

var (
	validCredentials = []string{string(http.CredentialsInclude), string(http.CredentialsSameOrigin), string(http.CredentialsOmit)}
	validCache       = []string{
		string(http.CacheDefault), string(http.CacheNoStore), string(http.CacheReload),
		string(http.CacheNoCache), string(http.CacheForceCache), string(http.CacheOnlyIfCached),
	}
	validModes = []string{string(http.ModeCORS), string(http.ModeNoCORS), string(http.ModeSameOrigin)}
)

// ValidateConfig validates the configuration and returns a slice of validation errors.
// An empty slice indicates the configuration is valid. Errors are ordered by path.
//
// Example:
//
//	errors := config.ValidateConfig(cfg)
//	if len(errors) > 0 {
//	    for _, err := range errors {
//	        log.Printf("Validation error: %s", err)
//	    }
//	}
func ValidateConfig(config *Config) []ValidationError {
	var errors []ValidationError
	add := func(path, format string, args ...any) {
		errors = append(errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	for name, env := range config.Environments {
		path := "environments." + name
		if env.Timeout != "" {
			if _, err := ParseDurationString(env.Timeout); err != nil {
				add(path+".timeout", "invalid duration: %s", env.Timeout)
			}
		}
		checkEnum(add, path+".credentials", env.Credentials, validCredentials)
		checkEnum(add, path+".cache", env.Cache, validCache)
		checkEnum(add, path+".mode", env.Mode, validModes)
		checkEnum(add, path+".responseType", env.ResponseType, validExpect)
	}

	if len(config.Requests) == 0 {
		add("requests", "at least one request is required")
	}

	for name, req := range config.Requests {
		path := "requests." + name
		if req.URL == "" {
			add(path+".url", "url is required")
		}

		// method defaults to GET
		method := strings.ToUpper(req.Method)
		if method != "" && !stringInSlice(method, validMethods) {
			add(path+".method", "invalid method: %s", req.Method)
		}
		if req.Body != nil && (method == "" || method == "GET" || method == "HEAD" || method == "TRACE") {
			add(path+".body", "%s request cannot carry a body", orDefault(method, "GET"))
		}

		if req.Timeout != "" {
			if _, err := ParseDurationString(req.Timeout); err != nil {
				add(path+".timeout", "invalid duration: %s", req.Timeout)
			}
		}
		checkEnum(add, path+".expect", req.Expect, validExpect)

		if req.Schema != "" {
			if _, ok := config.Schemas[req.Schema]; !ok {
				add(path+".schema", "schema not found: %s", req.Schema)
			}
		}

		for varName, p := range req.Extract {
			if p == "" {
				add(fmt.Sprintf("%s.extract.%s", path, varName), "extract path cannot be empty")
			}
		}
	}

	for name, suite := range config.Suites {
		if len(suite.Requests) == 0 {
			add(fmt.Sprintf("suites.%s.requests", name), "at least one request is required")
		}
		for i, reqName := range suite.Requests {
			if _, ok := config.Requests[reqName]; !ok {
				add(fmt.Sprintf("suites.%s.requests[%d]", name, i), "request not found: %s", reqName)
			}
		}
	}

	sort.Slice(errors, func(i, j int) bool { return errors[i].Path < errors[j].Path })
	return errors
}

func checkEnum(add func(string, string, ...any), path, value string, allowed []string) {
	if value != "" && !stringInSlice(value, allowed) {
		add(path, "invalid value %q, must be one of: %s", value, strings.Join(allowed, ", "))
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// stringInSlice checks if a string is in a slice.
func stringInSlice(str string, slice []string) bool {
	for _, s := range slice {
		if s == str {
			return true
		}
	}
	return false
}

// ValidateRequest validates that a request exists in the configuration.
func ValidateRequest(config *Config, reqName string) error {
	if _, ok := config.Requests[reqName]; !ok {
		return fmt.Errorf("request not found: %s", reqName)
	}
	return nil
}

// ValidateSuite validates that a suite exists in the configuration.
func ValidateSuite(config *Config, suiteName string) error {
	if _, ok := config.Suites[suiteName]; !ok {
		return fmt.Errorf("suite not found: %s", suiteName)
	}
	return nil
}

// GetEnvironmentNames returns the sorted environment names in the configuration.
func GetEnvironmentNames(config *Config) []string {
	return sortedNames(config.Environments)
}

// GetRequestNames returns the sorted request names in the configuration.
func GetRequestNames(config *Config) []string {
	return sortedNames(config.Requests)
}

// GetSuiteNames returns the sorted suite names in the configuration.
func GetSuiteNames(config *Config) []string {
	return sortedNames(config.Suites)
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
