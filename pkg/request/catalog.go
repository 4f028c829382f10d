package request

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrSchemaViolation is returned when arguments fail the registered
// schema for an action.
var ErrSchemaViolation = errors.New("arguments violate action schema")

// Catalog holds optional per-action JSON Schemas for request
// arguments. Actions without a registered schema pass through
// unvalidated; registered actions get their argument list validated
// against the schema at send time.
type Catalog struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{schemas: make(map[string]*jsonschema.Schema)}
}

// Register compiles and stores a JSON Schema (2020-12) for the named
// action. The schema is applied to the argument list as a JSON array.
// Registering an empty schema removes any existing one.
func (c *Catalog) Register(name, schema string) error {
	if schema == "" {
		c.mu.Lock()
		delete(c.schemas, name)
		c.mu.Unlock()
		return nil
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://tally.schemas.local/actions/%s.schema.json", name)
	if err := compiler.AddResource(url, strings.NewReader(schema)); err != nil {
		return fmt.Errorf("catalog: load schema for %q: %w", name, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("catalog: compile schema for %q: %w", name, err)
	}

	c.mu.Lock()
	c.schemas[name] = compiled
	c.mu.Unlock()
	return nil
}

// Validate checks args against the schema registered for name, if any.
func (c *Catalog) Validate(name string, args []any) error {
	c.mu.RLock()
	schema := c.schemas[name]
	c.mu.RUnlock()
	if schema == nil {
		return nil
	}

	// Normalize through JSON so typed values become the generic
	// representation the validator expects.
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("catalog: serialize arguments for %q: %w", name, err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("catalog: normalize arguments for %q: %w", name, err)
	}
	if generic == nil {
		generic = []any{}
	}
	if err := schema.Validate(generic); err != nil {
		return fmt.Errorf("catalog: action %q: %w: %v", name, ErrSchemaViolation, err)
	}
	return nil
}
