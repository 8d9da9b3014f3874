package tokencount

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TiktokenCounter wraps github.com/pkoukk/tiktoken-go for callers that want
// exact BPE token counts instead of the character-based heuristic.
type TiktokenCounter struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the encoding registered under name (e.g.
// "cl100k_base"). If the encoding cannot be loaded it returns nil and the
// error; choosing a fallback counter such as Heuristic is left to the caller.
func NewTiktokenCounter(encodingName string) (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, err
	}
	return &TiktokenCounter{enc: enc}, nil
}

// Count implements Counter.
func (c *TiktokenCounter) Count(text string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.enc.Encode(text, nil, nil))
}
