package testutil

import (
	"fmt"
	"sync"
)

// SequenceTokens generates "<prefix>-1", "<prefix>-2", ... correlation tokens.
//
// Every token is distinct, so it can back concurrent RPC calls, while the
// sequence stays identical across test runs.
//
// Implements rpc.TokenGenerator.
type SequenceTokens struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceTokens creates a generator. An empty prefix defaults to "corr".
func NewSequenceTokens(prefix string) *SequenceTokens {
	if prefix == "" {
		prefix = "corr"
	}
	return &SequenceTokens{prefix: prefix}
}

// Generate returns the next token in the sequence.
func (g *SequenceTokens) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// FixedTokens returns predetermined tokens in order.
//
// Example:
//
//	gen := NewFixedTokens("a", "b")
//	gen.Generate() // "a"
//	gen.Generate() // "b"
//	gen.Generate() // panic: all tokens exhausted
type FixedTokens struct {
	mu     sync.Mutex
	tokens []string
	idx    int
}

// NewFixedTokens creates a generator over tokens.
func NewFixedTokens(tokens ...string) *FixedTokens {
	return &FixedTokens{tokens: tokens}
}

// Generate returns the next predetermined token.
//
// Panics if all tokens have been consumed, which flags a test that made more
// calls than it scripted.
func (g *FixedTokens) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.tokens) {
		panic("FixedTokens: all tokens exhausted")
	}
	token := g.tokens[g.idx]
	g.idx++
	return token
}
