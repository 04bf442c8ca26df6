package config

import (
	"github.com/invopop/jsonschema"
)

// Schema reflects Config into a JSON Schema document.
func Schema() *jsonschema.Schema {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            false,
		ExpandedStruct:            true,
		FieldNameTag:              "json",
	}

	schema := reflector.Reflect(&Config{})
	schema.Title = "CastMatch Conversation Service Configuration"
	schema.Description = "Environment backed configuration of the CastMatch conversation service"
	return schema
}
