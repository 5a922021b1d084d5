package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	sjs "github.com/santhosh-tekuri/jsonschema/v5"
)

const actionSchemaURL = "action.schema.json"

// ActionSchema reflects the JSON schema of the Action envelope.
func ActionSchema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		Anonymous:      true,
	}
	schema := reflector.Reflect(&Action{})
	schema.Title = "Patrol Action"
	schema.Description = "Inbound action sent by a game client."
	return json.MarshalIndent(schema, "", "  ")
}

// Validator checks inbound action envelopes against ActionSchema.
type Validator struct {
	schema *sjs.Schema
}

// NewValidator compiles the reflected action schema.
func NewValidator() (*Validator, error) {
	raw, err := ActionSchema()
	if err != nil {
		return nil, fmt.Errorf("reflect action schema: %w", err)
	}

	c := sjs.NewCompiler()
	if err := c.AddResource(actionSchemaURL, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add action schema: %w", err)
	}
	s, err := c.Compile(actionSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile action schema: %w", err)
	}
	return &Validator{schema: s}, nil
}

// Validate checks a raw JSON action envelope.
func (v *Validator) Validate(data []byte) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	return v.schema.Validate(doc)
}
