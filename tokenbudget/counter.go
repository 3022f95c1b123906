package tokenbudget

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/jonwraymond/agentguard/catalog"
)

// Message is the token-relevant view of a conversation message.
type Message struct {
	Role    string
	Content string
}

// Counter estimates the prompt tokens of a message sequence for a model.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Errors: none; implementations degrade to an estimate.
type Counter interface {
	Count(model string, messages []Message) int
}

// Chat format overhead: <|start|>role|content<|end|> per message and a
// primed assistant reply.
const (
	tokensPerMessage = 3
	replyPriming     = 3
)

// HeuristicCounter approximates tokens as characters divided by CharsPerToken.
type HeuristicCounter struct {
	// CharsPerToken defaults to 4.
	CharsPerToken int
}

// Count implements Counter.
func (h HeuristicCounter) Count(_ string, messages []Message) int {
	per := h.CharsPerToken
	if per <= 0 {
		per = 4
	}
	total := replyPriming
	for _, m := range messages {
		total += tokensPerMessage + ceilDiv(len(m.Role), per) + ceilDiv(len(m.Content), per)
	}
	return total
}

func ceilDiv(n, d int) int {
	return (n + d - 1) / d
}

// TiktokenCounter counts tokens with the model's BPE encoding. Encodings are
// loaded lazily and shared. Models whose encoding cannot be loaded are
// counted by the fallback.
type TiktokenCounter struct {
	catalog  *catalog.Catalog
	fallback Counter

	mu        sync.RWMutex
	encodings map[string]*tiktoken.Tiktoken
	failed    map[string]bool
}

// NewTiktokenCounter creates a counter resolving encodings through cat.
// A nil fallback uses HeuristicCounter.
func NewTiktokenCounter(cat *catalog.Catalog, fallback Counter) *TiktokenCounter {
	if fallback == nil {
		fallback = HeuristicCounter{}
	}
	return &TiktokenCounter{
		catalog:   cat,
		fallback:  fallback,
		encodings: make(map[string]*tiktoken.Tiktoken),
		failed:    make(map[string]bool),
	}
}

// Count implements Counter.
func (c *TiktokenCounter) Count(model string, messages []Message) int {
	enc := c.encoding(c.encodingName(model))
	if enc == nil {
		return c.fallback.Count(model, messages)
	}
	total := replyPriming
	for _, m := range messages {
		total += tokensPerMessage
		total += len(enc.Encode(m.Role, nil, nil))
		total += len(enc.Encode(m.Content, nil, nil))
	}
	return total
}

func (c *TiktokenCounter) encodingName(model string) string {
	if m, ok := c.catalog.Lookup(model); ok && m.Encoding != "" {
		return m.Encoding
	}
	return catalog.DefaultEncoding
}

func (c *TiktokenCounter) encoding(name string) *tiktoken.Tiktoken {
	c.mu.RLock()
	enc, ok := c.encodings[name]
	failed := c.failed[name]
	c.mu.RUnlock()
	if ok {
		return enc
	}
	if failed {
		return nil
	}

	enc, err := tiktoken.GetEncoding(name)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.failed[name] = true
		return nil
	}
	c.encodings[name] = enc
	return enc
}

var (
	_ Counter = HeuristicCounter{}
	_ Counter = (*TiktokenCounter)(nil)
)
