package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleSchema struct {
	A string `json:"a" description:"Field A"`
	B *int   `json:"b" description:"Optional pointer field"`
	C int    `json:"c,omitempty"`
	D bool   `json:"-"`
	e string
}

func TestCreateSchema(t *testing.T) {
	schema := CreateSchema(sampleSchema{})
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)

	assert.Len(t, props, 3)
	assert.Equal(t, map[string]any{"type": "string", "description": "Field A"}, props["a"])
	assert.Equal(t, "integer", props["b"].(map[string]any)["type"])
	assert.Equal(t, []string{"a"}, schema["required"])

	empty := CreateSchema("not a struct")
	assert.Empty(t, empty["properties"])
}

func TestValidateParameters(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"x":    map[string]any{"type": "integer"},
			"mode": map[string]any{"type": "string", "enum": []any{"fast", "slow"}},
			"tags": map[string]any{"type": "array"},
		},
		"required": []any{"x"},
	}

	require.NoError(t, ValidateParameters(map[string]any{"x": 5.0, "mode": "fast", "tags": []any{"a"}}, schema))

	err := ValidateParameters(map[string]any{}, schema)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "x", vErr.Field)

	err = ValidateParameters(map[string]any{"x": 1.5}, schema)
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Message, "expected type integer")

	err = ValidateParameters(map[string]any{"x": 1, "mode": "medium"}, schema)
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "mode", vErr.Field)

	// []string required lists come from Go literal schemas.
	err = ValidateParameters(map[string]any{}, map[string]any{"required": []string{"y"}})
	assert.Error(t, err)
}

func TestParseArguments(t *testing.T) {
	args, err := ParseArguments("")
	require.NoError(t, err)
	assert.Empty(t, args)

	args, err = ParseArguments("null")
	require.NoError(t, err)
	assert.NotNil(t, args)

	args, err = ParseArguments(`{"a": 1}`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, args["a"])

	_, err = ParseArguments(`{"a":`)
	assert.Error(t, err)
}

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate("plain {name}", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain {name}", out)

	out, err = RenderTemplate("Hello {{ .name | upper }}, tier {{ default \"basic\" .tier }}{{ .missing }}", map[string]any{"name": "ada"})
	require.NoError(t, err)
	assert.Equal(t, "Hello ADA, tier basic", out)

	_, err = RenderTemplate("{{ .name ", nil)
	assert.Error(t, err)
}
