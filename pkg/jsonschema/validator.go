// Package jsonschema validates JSON documents and resolved responses
// against JSON Schema.
package jsonschema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/wesleyorama2/fetchx/http"
)

const resourceName = "schema.json"

// ValidationErrors collects every violation found in one document.
type ValidationErrors []error

// Error implements the error interface for ValidationErrors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, err := range ve {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// Validator is a compiled schema. It is safe for concurrent use.
type Validator struct {
	schema *jsonschema.Schema
}

// Compile compiles a schema given as JSON text.
func Compile(schema string) (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource(resourceName, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	compiled, err := compiler.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &Validator{schema: compiled}, nil
}

// CompileValue compiles a schema held as a decoded value, such as one read
// from a YAML config file.
func CompileValue(schema any) (*Validator, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return Compile(string(data))
}

// Validate checks a decoded JSON value. It returns nil or ValidationErrors.
func (v *Validator) Validate(doc any) error {
	err := v.schema.Validate(doc)
	if err == nil {
		return nil
	}
	if ve, ok := err.(*jsonschema.ValidationError); ok {
		return extractValidationErrors(ve)
	}
	return ValidationErrors{err}
}

// ValidateJSON decodes data and validates it.
func (v *Validator) ValidateJSON(data []byte) error {
	doc, err := decode(data)
	if err != nil {
		return err
	}
	return v.Validate(doc)
}

// ValidateResponse validates a resolved response. JSON bodies are checked as
// decoded; other buffered bodies are parsed from Raw.
func (v *Validator) ValidateResponse(resp *http.Response) error {
	if resp == nil {
		return fmt.Errorf("no response")
	}
	switch resp.Type {
	case http.TypeJSON:
		return v.Validate(resp.Data)
	case http.TypeStream:
		return fmt.Errorf("cannot validate a streamed body")
	}
	return v.ValidateJSON(resp.Raw)
}

// Hook returns an afterResponse hook that fails the invocation when the
// response body does not match the schema.
func (v *Validator) Hook() http.Hook {
	return func(ctx *http.Context) (http.Result, error) {
		if err := v.ValidateResponse(ctx.Response()); err != nil {
			return http.Result{}, fmt.Errorf("schema validation: %w", err)
		}
		return http.Continue(ctx), nil
	}
}

// Validate reports whether jsonStr matches schemaStr. The error is set only
// when the schema or the document cannot be parsed.
func Validate(jsonStr, schemaStr string) (bool, error) {
	v, err := Compile(schemaStr)
	if err != nil {
		return false, err
	}
	doc, err := decode([]byte(jsonStr))
	if err != nil {
		return false, err
	}
	return v.Validate(doc) == nil, nil
}

// ValidateWithErrors is Validate returning every violation. Schema and
// parse failures are reported as a single error.
func ValidateWithErrors(jsonStr, schemaStr string) (bool, ValidationErrors) {
	v, err := Compile(schemaStr)
	if err != nil {
		return false, ValidationErrors{err}
	}
	if err := v.ValidateJSON([]byte(jsonStr)); err != nil {
		if ve, ok := err.(ValidationErrors); ok {
			return false, ve
		}
		return false, ValidationErrors{err}
	}
	return true, nil
}

func decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return doc, nil
}

// extractValidationErrors flattens the leaf errors of a validation tree.
func extractValidationErrors(err *jsonschema.ValidationError) ValidationErrors {
	if len(err.Causes) == 0 {
		location := err.InstanceLocation
		if location == "" {
			location = "/"
		}
		return ValidationErrors{fmt.Errorf("validation error at %s: %s", location, err.Message)}
	}
	var errs ValidationErrors
	for _, cause := range err.Causes {
		errs = append(errs, extractValidationErrors(cause)...)
	}
	return errs
}
