package schema

import (
	"slices"
	"strings"
)

type Language string

const (
	English Language = "english"
	French  Language = "french"
)

type Tone string

const (
	ToneFriendly    Tone = "friendly"
	ToneSilly       Tone = "silly"
	ToneAdventurous Tone = "adventurous"
	ToneMysterious  Tone = "mysterious"
	ToneWholesome   Tone = "wholesome"
)

type ConflictType string

const (
	ConflictQuest    ConflictType = "quest"
	ConflictProblem  ConflictType = "problem"
	ConflictVillain  ConflictType = "villain"
	ConflictLostItem ConflictType = "lost_item"
)

type EndingStyle string

const (
	EndingHappy EndingStyle = "happy"
	EndingTwist EndingStyle = "twist"
	EndingMoral EndingStyle = "moral"
	EndingOpen  EndingStyle = "open"
)

const (
	MinAge    = 1
	MaxAge    = 12
	MinLength = 1
	MaxLength = 60
)

// GenderOptions and PersonalityOptions are suggestions for the form. Any
// non-empty text is accepted for these character fields.
var (
	GenderOptions      = []string{"boy", "girl", "neutral"}
	PersonalityOptions = []string{"good", "bad", "neutral", "kind", "brave", "helpful", "mean", "selfish", "mischievous", "cruel", "evil", "heroic"}
)

var (
	Tones         = []Tone{ToneFriendly, ToneSilly, ToneAdventurous, ToneMysterious, ToneWholesome}
	ConflictTypes = []ConflictType{ConflictQuest, ConflictProblem, ConflictVillain, ConflictLostItem}
	EndingStyles  = []EndingStyle{EndingHappy, EndingTwist, EndingMoral, EndingOpen}
)

type Character struct {
	Name        string `json:"name" validate:"required"`
	Type        string `json:"type" validate:"required"`
	Gender      string `json:"gender,omitempty"`
	Personality string `json:"personality,omitempty"`
}

// Prompt describes one story configuration. Values are treated as immutable:
// every method returns a new Prompt instead of changing the receiver.
type Prompt struct {
	Age          int          `json:"age" validate:"min=1,max=12"`
	Language     Language     `json:"language" validate:"required,oneof=english french"`
	Length       int          `json:"length" validate:"min=1,max=60"`
	Prompt       string       `json:"prompt,omitempty"`
	Characters   []Character  `json:"characters,omitempty" validate:"omitempty,dive"`
	Environment  string       `json:"environment,omitempty"`
	Theme        string       `json:"theme,omitempty"`
	Tone         Tone         `json:"tone,omitempty" validate:"omitempty,oneof=friendly silly adventurous mysterious wholesome"`
	ConflictType ConflictType `json:"conflict_type,omitempty" validate:"omitempty,oneof=quest problem villain lost_item"`
	EndingStyle  EndingStyle  `json:"ending_style,omitempty" validate:"omitempty,oneof=happy twist moral open"`
}

// Clone returns a deep copy of p.
func (p Prompt) Clone() Prompt {
	p.Characters = slices.Clone(p.Characters)
	return p
}

// AddCharacter returns a copy of p with c appended. The character is only
// added when both its name and type are set.
func (p Prompt) AddCharacter(c Character) (Prompt, bool) {
	c = c.normalize()
	if c.Name == "" || c.Type == "" {
		return p, false
	}
	out := p.Clone()
	out.Characters = append(out.Characters, c)
	return out, true
}

// RemoveCharacter returns a copy of p without the character at index i.
func (p Prompt) RemoveCharacter(i int) Prompt {
	out := p.Clone()
	if i < 0 || i >= len(out.Characters) {
		return out
	}
	out.Characters = slices.Delete(out.Characters, i, i+1)
	if len(out.Characters) == 0 {
		out.Characters = nil
	}
	return out
}

// Normalize trims free-text fields, treating empty values as absent, and
// canonicalizes the enumerations.
func (p Prompt) Normalize() Prompt {
	out := p.Clone()
	out.Language = Language(strings.ToLower(strings.TrimSpace(string(p.Language))))
	out.Prompt = strings.TrimSpace(p.Prompt)
	out.Environment = strings.TrimSpace(p.Environment)
	out.Theme = strings.TrimSpace(p.Theme)
	out.Tone = Tone(strings.ToLower(strings.TrimSpace(string(p.Tone))))
	out.EndingStyle = EndingStyle(strings.ToLower(strings.TrimSpace(string(p.EndingStyle))))

	conflict := strings.ToLower(strings.TrimSpace(string(p.ConflictType)))
	out.ConflictType = ConflictType(strings.ReplaceAll(conflict, " ", "_"))

	for i := range out.Characters {
		out.Characters[i] = out.Characters[i].normalize()
	}
	if len(out.Characters) == 0 {
		out.Characters = nil
	}
	return out
}

// Validate checks p as is. Use ValidatePrompt to normalize first.
func (p Prompt) Validate() error {
	return ValidateStruct(p)
}

// ValidatePrompt normalizes p and validates the result.
func ValidatePrompt(p Prompt) (Prompt, error) {
	p = p.Normalize()
	if err := p.Validate(); err != nil {
		return Prompt{}, err
	}
	return p, nil
}

func (c Character) normalize() Character {
	return Character{
		Name:        strings.TrimSpace(c.Name),
		Type:        strings.TrimSpace(c.Type),
		Gender:      strings.TrimSpace(c.Gender),
		Personality: strings.TrimSpace(c.Personality),
	}
}
