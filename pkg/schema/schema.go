package schema

import (
	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go/v3"
)

// Step is the structured output expected from the model for one story step.
type Step struct {
	Paragraph string   `json:"paragraph" jsonschema_description:"The next paragraph of the story"`
	Choices   []string `json:"choices" jsonschema_description:"Two or three short options for what happens next, empty when the story ends"`
}

func generateSchema[T any]() any {
	r := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return r.Reflect(v)
}

var StoryStepSchema = generateSchema[Step]()

func StructuredOutputsResponseFormat() openai.ChatCompletionNewParamsResponseFormatUnion {
	p := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        "story_step",
		Description: openai.String("One paragraph of a choose-your-own-adventure story and the choices that follow it"),
		Schema:      StoryStepSchema,
		Strict:      openai.Bool(true),
	}
	return openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{JSONSchema: p},
	}
}
