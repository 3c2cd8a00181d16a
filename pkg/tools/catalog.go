package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Catalog is a registry of tool definitions available to a turn.
type Catalog struct {
	mu    sync.RWMutex
	tools map[string]Definition
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{tools: make(map[string]Definition)}
}

// Register adds or replaces a tool definition.
func (c *Catalog) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools[def.Name] = def
	return nil
}

// Get returns the definition for a tool name.
func (c *Catalog) Get(name string) (Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.tools[name]
	return def, ok
}

// List returns all registered definitions.
func (c *Catalog) List() []Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	defs := make([]Definition, 0, len(c.tools))
	for _, def := range c.tools {
		defs = append(defs, def)
	}
	return defs
}

// Len returns the number of registered tools.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tools)
}

// ValidateInput checks structured input against the tool's declared
// JSON schema. Tools without a schema accept any input.
func (c *Catalog) ValidateInput(name string, input map[string]interface{}) error {
	def, ok := c.Get(name)
	if !ok {
		return fmt.Errorf("tool not found: %s", name)
	}
	if len(def.InputSchema) == 0 {
		return nil
	}

	schemaLoader := gojsonschema.NewGoLoader(def.InputSchema)
	inputLoader := gojsonschema.NewGoLoader(input)

	result, err := gojsonschema.Validate(schemaLoader, inputLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		first := result.Errors()[0]
		return fmt.Errorf("invalid input for %s: %s", name, first.String())
	}
	return nil
}

// ProviderTools converts the catalog to the wire shape providers expect.
func (c *Catalog) ProviderTools() []map[string]interface{} {
	defs := c.List()
	out := make([]map[string]interface{}, 0, len(defs))
	for _, def := range defs {
		schema := def.InputSchema
		if schema == nil {
			schema = map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			}
		}
		out = append(out, map[string]interface{}{
			"name":         def.Name,
			"description":  def.Description,
			"input_schema": schema,
		})
	}
	return out
}

// maxRenderedResult bounds how much tool output is appended to history.
const maxRenderedResult = 4000

// RenderResult flattens a tool result into history-safe text. Structured
// output is pretty-printed JSON; anything over the cap is truncated.
func RenderResult(result ExecutionResult) string {
	var text string
	switch {
	case !result.Success:
		text = fmt.Sprintf("tool error: %s", result.Error)
	case result.Output == nil:
		text = "(no output)"
	default:
		switch v := result.Output.(type) {
		case string:
			text = v
		default:
			data, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				text = fmt.Sprintf("%v", v)
			} else {
				text = string(data)
			}
		}
	}

	if len(text) > maxRenderedResult {
		text = text[:maxRenderedResult] + "\n... (truncated)"
	}
	return text
}
