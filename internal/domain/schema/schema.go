// Package schema validates raw JSON payloads against registered
// contracts. Validation is side-effect free and safe for concurrent use.
package schema

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	jsonschema "github.com/xeipuuv/gojsonschema"
)

// FieldError is a single field-level validation failure.
type FieldError struct {
	// Field is the offending payload path; empty for document-level
	// failures such as unparseable input.
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Outcome is the result of applying a contract to a payload. It is
// ephemeral, produced and consumed within one processing attempt.
type Outcome struct {
	Valid bool

	// Normalized holds the compacted payload when Valid.
	Normalized json.RawMessage

	// Errors holds field-level failures when not Valid.
	Errors []FieldError
}

// invalid builds a failed outcome.
func invalid(errs ...FieldError) Outcome {
	return Outcome{Valid: false, Errors: errs}
}

// Resolver resolves a schema version to a schema document. A remote
// schema registry collaborator plugs in here.
type Resolver interface {
	Resolve(ctx context.Context, version string) (string, error)
}

// Registry maps schema versions to compiled JSON Schema documents.
// Compiled schemas are cached; a Resolver, if configured, backs misses.
type Registry struct {
	mu       sync.RWMutex
	schemas  map[string]*jsonschema.Schema
	resolver Resolver
}

// RegistryOption applies a configuration option to the Registry.
type RegistryOption func(*Registry)

// WithResolver sets a remote resolver backing local misses.
func WithResolver(r Resolver) RegistryOption {
	return func(reg *Registry) {
		if r != nil {
			reg.resolver = r
		}
	}
}

// NewRegistry creates an empty schema registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	reg := &Registry{
		schemas: make(map[string]*jsonschema.Schema),
	}
	for _, opt := range opts {
		opt(reg)
	}
	return reg
}

// Register compiles and stores a schema document under a version.
func (r *Registry) Register(version, document string) error {
	compiled, err := jsonschema.NewSchema(jsonschema.NewStringLoader(document))
	if err != nil {
		return fmt.Errorf("compile schema %q: %w", version, err)
	}
	r.mu.Lock()
	r.schemas[version] = compiled
	r.mu.Unlock()
	return nil
}

// resolve returns the compiled schema for a version, consulting the
// resolver on a local miss and caching the result.
func (r *Registry) resolve(ctx context.Context, version string) (*jsonschema.Schema, error) {
	r.mu.RLock()
	compiled, ok := r.schemas[version]
	r.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	if r.resolver == nil {
		return nil, fmt.Errorf("%w: no schema registered for version %q", ErrUnknownVersion, version)
	}

	document, err := r.resolver.Resolve(ctx, version)
	if err != nil {
		return nil, fmt.Errorf("resolve schema %q: %w", version, err)
	}
	if err := r.Register(version, document); err != nil {
		return nil, err
	}

	r.mu.RLock()
	compiled = r.schemas[version]
	r.mu.RUnlock()
	return compiled, nil
}

// Validator applies registered contracts to raw payloads.
type Validator struct {
	registry *Registry
}

// NewValidator creates a validator backed by a registry.
func NewValidator(registry *Registry) *Validator {
	return &Validator{registry: registry}
}

// Validate checks a raw payload against the contract registered for
// schemaVersion. Malformed JSON is data, not control flow: it yields an
// invalid outcome with a single synthetic error rather than an error
// return. The error return is reserved for contract resolution
// failures (unknown or unresolvable versions).
func (v *Validator) Validate(ctx context.Context, raw []byte, schemaVersion string) (Outcome, error) {
	if !json.Valid(raw) {
		return invalid(FieldError{Message: "malformed JSON"}), nil
	}

	compiled, err := v.registry.resolve(ctx, schemaVersion)
	if err != nil {
		return Outcome{}, err
	}

	result, err := compiled.Validate(jsonschema.NewBytesLoader(raw))
	if err != nil {
		// gojsonschema only errors on unloadable documents, which the
		// json.Valid check above rules out; treat the remainder as data.
		return invalid(FieldError{Message: "malformed JSON"}), nil
	}

	if !result.Valid() {
		errs := make([]FieldError, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			errs = append(errs, FieldError{
				Field:   desc.Field(),
				Message: desc.Description(),
			})
		}
		return invalid(errs...), nil
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return invalid(FieldError{Message: "malformed JSON"}), nil
	}

	return Outcome{Valid: true, Normalized: json.RawMessage(buf.Bytes())}, nil
}
