package state

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schema.json
var schemaBytes []byte

// compiledSchema is built once at package init; the embedded document is
// under our control, so a compile failure is a programming error.
var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	var doc any
	if err := json.Unmarshal(schemaBytes, &doc); err != nil {
		panic(fmt.Sprintf("state: unmarshal embedded schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("state-schema.json", doc); err != nil {
		panic(fmt.Sprintf("state: add schema resource: %v", err))
	}
	schema, err := c.Compile("state-schema.json")
	if err != nil {
		panic(fmt.Sprintf("state: compile schema: %v", err))
	}
	return schema
}

// validateDocument checks a decoded JSON value against the state schema.
func validateDocument(doc any) error {
	return compiledSchema.Validate(doc)
}
