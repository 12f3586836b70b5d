// Package schema validates document frontmatter against per-doc-type
// JSON Schema (draft 2020-12) definitions supplied by a project's
// configuration. Validation is aggregating, not fail-fast: every
// violation in a document is collected into one SchemaValidationFail
// so an author sees all of their mistakes in one pass instead of
// fixing them one at a time.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// FieldError is one violation found while validating a document
// against its doc type's schema.
type FieldError struct {
	Field   string // JSON pointer into the instance, e.g. "/status"
	Message string
}

func (f FieldError) String() string {
	if f.Field == "" || f.Field == "/" {
		return f.Message
	}
	return fmt.Sprintf("%s: %s", f.Field, f.Message)
}

// SchemaValidationFail aggregates every FieldError found for one
// document. DocType is the schema the document was checked against.
type SchemaValidationFail struct {
	DocType string
	Errors  []FieldError
}

func (e *SchemaValidationFail) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("schema validation failed for doc type %q: %s", e.DocType, e.Errors[0])
	}
	return fmt.Sprintf("schema validation failed for doc type %q: %d violations (first: %s)",
		e.DocType, len(e.Errors), e.Errors[0])
}

// ErrUnknownDocType is returned when Validate is called for a doc type
// that has no schema registered.
var ErrUnknownDocType = errors.New("schema: unknown doc type")

type compiledSchema struct {
	resolved *jsonschema.Resolved
}

// Validator holds one compiled JSON Schema per doc type and validates
// frontmatter instances against them. Safe for concurrent use: schemas
// are loaded once at startup or on config reload, then only read.
type Validator struct {
	mu      sync.RWMutex
	schemas map[string]*compiledSchema
}

// NewValidator returns an empty Validator. Load doc-type schemas with
// LoadSchema before calling Validate.
func NewValidator() *Validator {
	return &Validator{schemas: make(map[string]*compiledSchema)}
}

// LoadSchema compiles and registers rawSchema (JSON Schema draft
// 2020-12, as JSON bytes) under docType, replacing any schema
// previously registered for that doc type.
func (v *Validator) LoadSchema(docType string, rawSchema []byte) error {
	var s jsonschema.Schema
	if err := json.Unmarshal(rawSchema, &s); err != nil {
		return fmt.Errorf("schema: parse doc type %q: %w", docType, err)
	}

	resolved, err := s.Resolve(nil)
	if err != nil {
		return fmt.Errorf("schema: resolve doc type %q: %w", docType, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.schemas[docType] = &compiledSchema{resolved: resolved}
	return nil
}

// DocTypes returns the doc types currently registered, sorted for
// deterministic output (used by the doctor/status CLI commands).
func (v *Validator) DocTypes() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	types := make([]string, 0, len(v.schemas))
	for t := range v.schemas {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Has reports whether a schema is registered for docType.
func (v *Validator) Has(docType string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.schemas[docType]
	return ok
}

// Validate checks frontmatter (already YAML/JSON-decoded into a
// map[string]any or struct) against docType's schema. A nil error
// means the document is valid. All violations are aggregated into a
// single *SchemaValidationFail rather than returned one at a time.
func (v *Validator) Validate(docType string, frontmatter any) error {
	v.mu.RLock()
	sch, ok := v.schemas[docType]
	v.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDocType, docType)
	}

	if err := sch.resolved.Validate(frontmatter); err != nil {
		fieldErrs := flatten(err)
		if len(fieldErrs) == 0 {
			fieldErrs = []FieldError{{Message: err.Error()}}
		}
		return &SchemaValidationFail{DocType: docType, Errors: fieldErrs}
	}
	return nil
}

// flatten walks a validation error tree into a flat list of
// FieldErrors. jsonschema.Resolved.Validate reports multiple
// violations via a joined error (errors.Join-style, exposing
// Unwrap() []error); flatten recurses through that shape so every
// independent violation surfaces instead of just the first.
func flatten(err error) []FieldError {
	if err == nil {
		return nil
	}

	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []FieldError
		for _, sub := range joined.Unwrap() {
			out = append(out, flatten(sub)...)
		}
		return out
	}

	var ve *jsonschema.ValidationError
	if errors.As(err, &ve) {
		if len(ve.Causes) == 0 {
			return []FieldError{{Field: ve.InstanceLocation.String(), Message: ve.Err.Error()}}
		}
		var out []FieldError
		for _, cause := range ve.Causes {
			out = append(out, flatten(cause)...)
		}
		return out
	}

	return []FieldError{{Message: err.Error()}}
}
