package schema

import "slices"

// StoryRequest asks the generation service for the next step of a story. An
// empty History with no Choice starts a new story.
type StoryRequest struct {
	Prompt    Prompt         `json:"prompt"`
	History   []string       `json:"history"`
	Choice    string         `json:"choice,omitempty"`
	StagePlan map[string]int `json:"stage_plan,omitempty"`
}

// StoryResponse carries the complete updated history and the full set of
// choices offered after its last paragraph.
type StoryResponse struct {
	History   []string       `json:"history"`
	Choices   []string       `json:"choices"`
	StagePlan map[string]int `json:"stage_plan,omitempty"`
}

// Ended reports whether history has reached the requested story length.
func Ended(p Prompt, history []string) bool {
	return len(history) >= p.Length
}

// NewStoryRequest copies its arguments so the request can outlive the caller's
// state without aliasing it.
func NewStoryRequest(p Prompt, history []string, choice string, plan map[string]int) StoryRequest {
	h := slices.Clone(history)
	if h == nil {
		h = []string{}
	}
	var sp map[string]int
	if len(plan) > 0 {
		sp = make(map[string]int, len(plan))
		for k, v := range plan {
			sp[k] = v
		}
	}
	return StoryRequest{
		Prompt:    p.Clone(),
		History:   h,
		Choice:    choice,
		StagePlan: sp,
	}
}
