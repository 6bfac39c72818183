package engine

import (
	"sync"

	"github.com/google/uuid"
)

// TokenGenerator mints the correlation token logged with a connection and
// its executions. Tokens tie log lines together across handle reuse; they
// are never accepted as handles.
type TokenGenerator interface {
	Generate() string
}

// UUIDv7Generator mints UUIDv7 tokens, which sort by connection open time.
type UUIDv7Generator struct{}

// Generate returns a fresh hyphenated UUIDv7.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator hands out a fixed list of tokens, one per connection, so
// that logs and traces are reproducible. It panics once the list runs out:
// a run opened more connections than it planned for.
type FixedGenerator struct {
	mu     sync.Mutex
	tokens []string
	next   int
}

// NewFixedGenerator returns a FixedGenerator over tokens.
func NewFixedGenerator(tokens ...string) *FixedGenerator {
	return &FixedGenerator{tokens: tokens}
}

// Generate returns the next token in the list.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.next == len(g.tokens) {
		panic("engine: FixedGenerator has no tokens left")
	}
	tok := g.tokens[g.next]
	g.next++
	return tok
}
