package repository

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const pagesSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "additionalProperties": false,
    "required": ["index", "outcome", "duration"],
    "properties": {
      "index":    {"type": "integer", "minimum": 0},
      "text":     {"type": "string"},
      "outcome":  {"enum": ["ok", "timeout", "extraction_error"]},
      "duration": {"type": "integer", "minimum": 0},
      "error":    {"type": "string"}
    }
  }
}`

var (
	pagesSchemaOnce     sync.Once
	pagesSchemaCompiled *jsonschema.Schema
	pagesSchemaErr      error
)

func compiledPagesSchema() (*jsonschema.Schema, error) {
	pagesSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("pages.json", strings.NewReader(pagesSchema)); err != nil {
			pagesSchemaErr = err
			return
		}
		pagesSchemaCompiled, pagesSchemaErr = c.Compile("pages.json")
	})
	return pagesSchemaCompiled, pagesSchemaErr
}

// validatePages checks a persisted pages document before it is decoded.
func validatePages(raw []byte) error {
	schema, err := compiledPagesSchema()
	if err != nil {
		return fmt.Errorf("compile pages schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("pages json: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("pages schema: %w", err)
	}
	return nil
}
