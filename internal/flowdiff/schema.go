package flowdiff

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentworkforce/sanitycheck/internal/apperr"
)

const definitionSchemaURL = "sanitycheck://flow-definition.json"

const definitionSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "flow"],
  "properties": {
    "name": {"type": "string", "minLength": 1, "pattern": "\\S"},
    "flow": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["type"],
        "properties": {
          "type": {"type": "string", "minLength": 1}
        }
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func definitionValidator() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(definitionSchema))
		if err != nil {
			schemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(definitionSchemaURL, doc); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = compiler.Compile(definitionSchemaURL)
	})
	return compiledSchema, schemaErr
}

// Validate checks that def is a writable flow definition: a non-blank name
// and a flow object whose steps each carry a type.
func Validate(def map[string]any) error {
	schema, err := definitionValidator()
	if err != nil {
		return fmt.Errorf("compile flow schema: %w", err)
	}
	if err := schema.Validate(def); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return apperr.Validation("definition", "%s", strings.ReplaceAll(verr.Error(), "\n", "; "))
		}
		return apperr.Validation("definition", "%v", err)
	}
	return nil
}
