package token

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TiktokenCounter counts tokens with the model's tiktoken encoding. The
// encoding is initialized lazily (first use may download data); when
// initialization fails, counting falls back to the estimator.
type TiktokenCounter struct {
	model    string
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
	fallback *Estimator
}

var modelEncodings = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4o-mini":   "o200k_base",
	"gpt-4-turbo":   "cl100k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
	"claude":        "cl100k_base",
}

// NewTiktokenCounter creates a counter for the given model. Unknown models
// fall back to cl100k_base.
func NewTiktokenCounter(model string) *TiktokenCounter {
	encoding, ok := modelEncodings[model]
	if !ok {
		for prefix, enc := range modelEncodings {
			if len(model) >= len(prefix) && model[:len(prefix)] == prefix {
				encoding = enc
				ok = true
				break
			}
		}
	}
	if !ok {
		encoding = "cl100k_base"
	}

	return &TiktokenCounter{
		model:    model,
		encoding: encoding,
		fallback: NewEstimator(),
	}
}

func (t *TiktokenCounter) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *TiktokenCounter) CountTokens(text string) (int, error) {
	if err := t.init(); err != nil {
		return t.fallback.CountTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

func (t *TiktokenCounter) Name() string {
	if t.initErr != nil {
		return t.fallback.Name()
	}
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}
