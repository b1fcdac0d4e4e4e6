package splitter

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

func init() {
	// embedded BPE ranks, no download on first use
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// embedding model families tiktoken-go may not list by exact name
var encodingPrefixes = map[string]string{
	"text-embedding-": "cl100k_base",
	"gpt-4":           "cl100k_base",
	"gpt-3.5":         "cl100k_base",
}

var encoders sync.Map // model name -> *TiktokenCounter

// TiktokenCounter counts tokens with a model's BPE encoding.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// CountTokens implements TokenCounter.
func (c *TiktokenCounter) CountTokens(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// CounterForModel returns the tokenizer of model. Resolved encodings are
// cached per model name.
func CounterForModel(model string) (*TiktokenCounter, error) {
	if c, ok := encoders.Load(model); ok {
		return c.(*TiktokenCounter), nil
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = encodingByPrefix(model)
		if err != nil {
			return nil, err
		}
	}
	c, _ := encoders.LoadOrStore(model, &TiktokenCounter{enc: enc})
	return c.(*TiktokenCounter), nil
}

func encodingByPrefix(model string) (*tiktoken.Tiktoken, error) {
	for prefix, name := range encodingPrefixes {
		if strings.HasPrefix(model, prefix) {
			return tiktoken.GetEncoding(name)
		}
	}
	return nil, fmt.Errorf("no tokenizer for model %q", model)
}
