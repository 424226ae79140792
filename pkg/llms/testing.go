package llms

import (
	"context"
	"fmt"
	"sync"
)

// FakeProvider is a scripted Provider for tests. Completions are returned in
// the order they were queued; when the script runs out the last completion
// repeats. Every call is recorded.
type FakeProvider struct {
	mu          sync.Mutex
	script      []*Completion
	errs        []error
	calls       [][]Message
	callOptions []GenerateOptions
}

func NewFakeProvider(completions ...*Completion) *FakeProvider {
	return &FakeProvider{script: completions}
}

// Queue appends a completion to the script.
func (f *FakeProvider) Queue(c *Completion) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = append(f.script, c)
}

// QueueError makes the next call fail.
func (f *FakeProvider) QueueError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, err)
}

func (f *FakeProvider) Generate(ctx context.Context, messages []Message, tools []ToolDefinition, opts ...GenerateOption) (*Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	options := GenerateOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	f.calls = append(f.calls, messages)
	f.callOptions = append(f.callOptions, options)

	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	if len(f.script) == 0 {
		return nil, fmt.Errorf("fake provider: no completion scripted")
	}

	next := f.script[0]
	if len(f.script) > 1 {
		f.script = f.script[1:]
	}
	return next, nil
}

func (f *FakeProvider) ModelName() string {
	return "fake-model"
}

// Calls returns the message lists of every Generate invocation so far.
func (f *FakeProvider) Calls() [][]Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]Message, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns how many times Generate ran.
func (f *FakeProvider) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
