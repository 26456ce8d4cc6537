package generation

import (
	"context"
	"fmt"
	"sync"
)

// MockGenerator returns canned responses and records every prompt it receives.
type MockGenerator struct {
	mu        sync.Mutex
	responses map[string]string
	prompts   []string
	err       error
}

// NewMockGenerator returns a generator that echoes prompts unless a response is set.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{responses: make(map[string]string)}
}

// Name returns the provider name.
func (g *MockGenerator) Name() string { return "mock" }

// Set makes Generate(prompt) return response.
func (g *MockGenerator) Set(prompt, response string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.responses[prompt] = response
}

// FailWith makes every subsequent call return err. A nil err restores normal behavior.
func (g *MockGenerator) FailWith(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

// Calls returns the number of Generate calls made.
func (g *MockGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

// Prompts returns a copy of the prompts received so far.
func (g *MockGenerator) Prompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}

// Generate returns the response set for prompt, or a deterministic echo.
func (g *MockGenerator) Generate(ctx context.Context, prompt string, _ Options) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if g.err != nil {
		return "", g.err
	}
	if resp, ok := g.responses[prompt]; ok {
		return resp, nil
	}
	return fmt.Sprintf("generated response for: %s", prompt), nil
}
