package mcp

import (
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/gt"
	"google.golang.org/genai"
)

func TestConvertJSONSchemaToGenai(t *testing.T) {
	schema, err := convertJSONSchemaToGenai(&jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"query": {Type: "string", Description: "search words"},
			"tags":  {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
			"sort":  {Type: "string", Enum: []any{"recent", "popular"}},
			"limit": {Type: "integer"},
		},
		Required: []string{"query"},
	})
	gt.NoError(t, err)
	gt.Equal(t, schema.Type, genai.TypeObject)
	gt.Equal(t, schema.Properties["query"].Description, "search words")
	gt.Equal(t, schema.Properties["tags"].Items.Type, genai.TypeString)
	gt.A(t, schema.Properties["sort"].Enum).Length(2)
	gt.Equal(t, schema.Properties["limit"].Type, genai.TypeInteger)
	gt.A(t, schema.Required).Length(1)

	_, err = convertJSONSchemaToGenai(&jsonschema.Schema{Type: "null"})
	gt.Error(t, err)
}
