package schema

import (
	"errors"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	def := Object(map[string]any{
		"query": String(1),
		"tags":  StringArray(),
	}, "query")

	if err := Validate(def, []byte(`{"query":"hello","tags":["a"]}`)); err != nil {
		t.Fatalf("expected valid document, got %v", err)
	}

	err := Validate(def, []byte(`{"tags":[1]}`))
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if !strings.Contains(err.Error(), "query") {
		t.Fatalf("expected error to mention missing field, got %v", err)
	}

	if err := Validate(def, []byte(`{"query":"x","extra":true}`)); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected unknown key to fail, got %v", err)
	}
}

func TestValidateMalformedJSON(t *testing.T) {
	err := Validate(Object(map[string]any{}), []byte(`{not json`))
	if err == nil || errors.Is(err, ErrInvalid) {
		t.Fatalf("expected a processing error, got %v", err)
	}
}
