// Package jsonpath extracts values from JSON documents and response bodies
// with a JSONPath subset ($.users[0].name, $['key']) evaluated by gjson.
package jsonpath

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/fetchx/http"
)

// ValuesKey is the Context.Values key under which Hook stores extractions.
const ValuesKey = "jsonpath.extracted"

// Extract extracts a value from a JSON string using a JSONPath expression.
// Null values come back as "null".
func Extract(json string, path string) (string, error) {
	if json == "" {
		return "", fmt.Errorf("empty JSON string")
	}
	if path == "" {
		return "", fmt.Errorf("empty JSONPath expression")
	}

	result := gjson.Get(json, ToGjsonPath(path))
	if !result.Exists() {
		return "", fmt.Errorf("path not found: %s", path)
	}
	if result.Type == gjson.Null {
		return "null", nil
	}
	return result.String(), nil
}

// ExtractMultiple extracts every named path. Values that could be extracted
// are returned even when others fail.
func ExtractMultiple(json string, paths map[string]string) (map[string]string, error) {
	if json == "" {
		return nil, fmt.Errorf("empty JSON string")
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no JSONPath expressions provided")
	}

	names := make([]string, 0, len(paths))
	for name := range paths {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(map[string]string, len(paths))
	var failures []string
	for _, name := range names {
		value, err := Extract(json, paths[name])
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		results[name] = value
	}
	if len(failures) > 0 {
		return results, fmt.Errorf("extraction errors: %s", strings.Join(failures, "; "))
	}
	return results, nil
}

// FromResponse extracts paths from a resolved response body.
func FromResponse(resp *http.Response, paths map[string]string) (map[string]string, error) {
	if resp == nil || resp.Type == http.TypeStream {
		return nil, fmt.Errorf("response body is not buffered")
	}
	return ExtractMultiple(string(resp.Raw), paths)
}

// Hook returns an afterResponse hook that stores the extracted values in
// Context.Values[ValuesKey]. With strict set a failed extraction fails the
// invocation; otherwise the partial result is stored and a warning logged.
func Hook(paths map[string]string, strict bool) http.Hook {
	return func(ctx *http.Context) (http.Result, error) {
		values, err := FromResponse(ctx.Response(), paths)
		if err != nil {
			if strict {
				return http.Result{}, err
			}
			ctx.Logger().WithError(err).Warn("extraction incomplete")
		}
		ctx.Values[ValuesKey] = values
		return http.Continue(ctx), nil
	}
}

// Extracted returns the values stored by Hook.
func Extracted(ctx *http.Context) map[string]string {
	values, _ := ctx.Values[ValuesKey].(map[string]string)
	return values
}

// ToGjsonPath converts a JSONPath expression to gjson syntax:
//
//	$.users[0].name   -> users.0.name
//	$['key'].value    -> key.value
//	$                 -> @this
func ToGjsonPath(path string) string {
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}

	path = strings.NewReplacer("['", ".", "']", "", `["`, ".", `"]`, "").Replace(path)
	path = strings.ReplaceAll(path, "[", ".")
	path = strings.ReplaceAll(path, "]", "")
	return strings.TrimPrefix(path, ".")
}
