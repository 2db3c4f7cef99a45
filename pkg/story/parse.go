package story

import (
	"encoding/json"
	"fmt"
	"strings"

	"talehopper/pkg/schema"
	"talehopper/pkg/utils"
)

// ParseStep extracts the paragraph and choices from raw model output. Models
// often wrap JSON in code fences or stray quotes, which are removed first.
func ParseStep(raw string) (schema.Step, error) {
	s := utils.CleanJSON(raw)
	s = strings.Trim(s, "`'\" \n\t")
	if i := strings.Index(s, "{"); i > 0 {
		s = s[i:]
	}
	if j := strings.LastIndex(s, "}"); j != -1 && j < len(s)-1 {
		s = s[:j+1]
	}

	var step schema.Step
	if err := json.Unmarshal([]byte(s), &step); err != nil {
		return schema.Step{}, fmt.Errorf("%w: invalid JSON from LLM: %v", ErrGeneration, err)
	}
	step.Paragraph = strings.TrimSpace(step.Paragraph)
	if step.Paragraph == "" {
		return schema.Step{}, fmt.Errorf("%w: LLM returned an empty paragraph", ErrGeneration)
	}

	choices := make([]string, 0, len(step.Choices))
	for _, c := range step.Choices {
		if c = strings.TrimSpace(c); c != "" {
			choices = append(choices, c)
		}
	}
	step.Choices = choices
	return step, nil
}
