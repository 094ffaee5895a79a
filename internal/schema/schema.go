// Package schema validates JSON documents against JSON Schema definitions.
package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalid marks a document that parsed but failed validation.
var ErrInvalid = errors.New("JSON validation failed")

// Validate checks the JSON document in data against schemaDef, a schema
// expressed as Go maps and slices.
func Validate(schemaDef map[string]any, data []byte) error {
	schemaLoader := gojsonschema.NewGoLoader(schemaDef)
	documentLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var errs []string
	for _, desc := range result.Errors() {
		errs = append(errs, desc.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(errs, "; "))
}

// Object is a shorthand for an object schema with the given properties and
// required keys. Unknown keys are rejected.
func Object(properties map[string]any, required ...string) map[string]any {
	def := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		def["required"] = required
	}
	return def
}

// String returns a string schema with a minimum length.
func String(minLength int) map[string]any {
	return map[string]any{"type": "string", "minLength": minLength}
}

// StringArray returns a schema for an array of strings.
func StringArray() map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
}
