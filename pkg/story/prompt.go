package story

import (
	"fmt"
	"strings"

	"talehopper/pkg/schema"
)

const SystemPrompt = "You are a children's storyteller."

// BuildPrompt writes the instructions for the next paragraph. History and
// choice are only included when continuing a story.
func BuildPrompt(p schema.Prompt, history []string, choice, guidance string) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	line("Write a fun, engaging Choose-your-own-adventure style story for a %d-year-old child in %s.", p.Age, p.Language)

	if len(p.Characters) > 0 {
		descs := make([]string, 0, len(p.Characters))
		for _, c := range p.Characters {
			d := fmt.Sprintf("%s who is a %s", c.Name, c.Type)
			if c.Gender != "" {
				d += fmt.Sprintf(" with a %s gender", c.Gender)
			}
			if c.Personality != "" {
				d += fmt.Sprintf(" and a %s personality", c.Personality)
			}
			descs = append(descs, d)
		}
		line("The story includes the following characters: %s.", strings.Join(descs, ", "))
	}
	if p.Environment != "" {
		line("The story takes place in the following environment: %s", p.Environment)
	}
	if p.Theme != "" {
		line("The theme of the story is: %s.", p.Theme)
	}
	if p.Prompt != "" {
		line("The story should also follow this prompt: '%s'", p.Prompt)
	}
	if p.Tone != "" {
		line("The story should have a %s tone.", p.Tone)
	}
	if p.EndingStyle != "" {
		line("The story ending style should be: %s style.", p.EndingStyle)
	}
	if p.ConflictType != "" {
		line("The story should include a conflict of type: %s.", strings.ReplaceAll(string(p.ConflictType), "_", " "))
	}
	line("")

	if len(history) > 0 && choice != "" {
		line("Here is the story so far:")
		for i, para := range history {
			line("Part %d: %s", i+1, para)
		}
		line("")
		line("The child chose the following option for the next part of the story: '%s'. Continue the story based on that choice.", choice)
	}

	line("Now write the next paragraph of the story, only write one paragraph at a time.")
	if guidance != "" {
		line("Current story stage: %s", guidance)
	}
	line("The story should have a total of %d paragraphs, so make sure to adjust the storyline and progression accordingly.", p.Length)

	remaining := p.Length - len(history)
	switch {
	case remaining > 2:
		line("Then offer 2 or 3 engaging choices for what could happen next.")
		line("Choices should be short descriptions and make sense with the story.")
	case remaining == 2:
		line("Then offer 2 or 3 engaging choices for what could happen next.")
		line("Choices should be short descriptions and make sense with the story.")
		line("The story is getting close to the end, so make sure to start wrapping it up.")
	default:
		line("The story has reached the desired length, so end it with a satisfying conclusion.")
		line("Do not generate choices.")
	}

	b.WriteString(`Format the response as a JSON object with a 'paragraph' field containing the generated story paragraph ` +
		`and a 'choices' field containing the list of choices for the next step.
Only return the JSON object, do not include any additional text or formatting.
Example: {"paragraph": "next paragraph", "choices": ["Choice 1", "Choice 2", "Choice 3"]}`)
	return b.String()
}
