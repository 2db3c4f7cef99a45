package schema

import "strings"

const MaxFeedbackRunes = 5000

// Feedback is a free-form message from a reader. Email is optional and is not
// checked for format.
type Feedback struct {
	Message string `json:"message" validate:"required,max=5000"`
	Email   string `json:"email,omitempty"`
}

type FeedbackResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Validate trims the feedback and checks it. The trimmed copy is returned.
func (f Feedback) Validate() (Feedback, error) {
	f.Message = strings.TrimSpace(f.Message)
	f.Email = strings.TrimSpace(f.Email)
	if err := ValidateStruct(f); err != nil {
		return Feedback{}, err
	}
	return f, nil
}
