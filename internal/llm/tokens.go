package llm

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// fallbackEncoding is used for models tiktoken does not know (e.g. Gemini).
const fallbackEncoding = "cl100k_base"

// TokenEstimator approximates prompt sizes before a call is made.
type TokenEstimator struct {
	enc *tiktoken.Tiktoken
}

// NewTokenEstimator loads the BPE encoding for model. When no encoding
// can be loaded the estimator falls back to a characters/4 heuristic.
func NewTokenEstimator(model string) *TokenEstimator {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			enc = nil
		}
	}
	return &TokenEstimator{enc: enc}
}

// Count returns the estimated token count of text.
func (e *TokenEstimator) Count(text string) int {
	if text == "" {
		return 0
	}
	if e == nil || e.enc == nil {
		return heuristicTokens(text)
	}
	return len(e.enc.Encode(text, nil, nil))
}

func heuristicTokens(text string) int {
	n := utf8.RuneCountInString(text) / 4
	if n == 0 {
		return 1
	}
	return n
}
