package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/aloecraft/aloegraph/pkg/schema"
)

// VarsValidator validates run input payloads against JSON Schema Draft 2020-12.
// Graph authors may attach a schema to a compiled plan; when present, Invoke
// rejects initial vars that do not conform before any node runs.
// Safe for concurrent use.
type VarsValidator struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewVarsValidator creates an empty validator with a warm compilation cache.
func NewVarsValidator() *VarsValidator {
	return &VarsValidator{
		cache: make(map[string]*jsonschema.Schema),
	}
}

// ValidateVars validates a vars payload against a JSON Schema provided as raw
// bytes. The schema is compiled and cached for subsequent calls with the same
// schema. A nil or empty schema means no validation is performed.
func (v *VarsValidator) ValidateVars(vars map[string]any, varsSchema []byte) error {
	if len(varsSchema) == 0 {
		return nil
	}
	if vars == nil {
		vars = map[string]any{}
	}

	compiled, err := v.getOrCompile(varsSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid vars schema").WithCause(err)
	}

	doc, err := toJSONValue(vars)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize vars").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toAloeError(err)
	}

	return nil
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *VarsValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each schema gets a unique URL to avoid collisions in the compiler.
	url := fmt.Sprintf("aloegraph://vars-schema/%d", len(v.cache))

	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toAloeError converts a jsonschema.ValidationError into an AloeError with
// one message per leaf violation.
func toAloeError(err error) *schema.AloeError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("vars validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
