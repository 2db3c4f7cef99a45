package utils

import (
	"cmp"

	"github.com/pkoukk/tiktoken-go"
)

const DefaultTokenModel = "gpt-4-0613"

// NumTokens counts the tokens of text using the encoding of model.
func NumTokens(model, text string) (int, error) {
	tkm, err := tiktoken.EncodingForModel(cmp.Or(model, DefaultTokenModel))
	if err != nil {
		return 0, err
	}
	return len(tkm.Encode(text, nil, nil)), nil
}

// TokenCounter binds NumTokens to a model.
func TokenCounter(model string) func(string) (int, error) {
	return func(text string) (int, error) {
		return NumTokens(model, text)
	}
}
