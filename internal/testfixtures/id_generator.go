package testfixtures

import (
	"fmt"
	"sync"
)

// IDGenerator yields "<prefix>-1", "<prefix>-2", ... so assertions can name the
// meetings, ledger rows and tasks a service created.
type IDGenerator struct {
	mu      sync.Mutex
	prefix  string
	counter uint64
}

func NewIDGenerator(prefix string) *IDGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &IDGenerator{prefix: prefix}
}

func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return fmt.Sprintf("%s-%d", g.prefix, g.counter)
}

// NextFunc exposes Next for injection.
func (g *IDGenerator) NextFunc() func() string {
	if g == nil {
		return func() string { return "" }
	}
	return g.Next
}
