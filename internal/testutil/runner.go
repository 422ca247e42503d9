package testutil

import (
	"context"
	"sync"

	"github.com/emtools/susanbridge/internal/susanexec"
)

// FakeRunner records every command instead of spawning it. An optional
// OnRun hook lets a test fabricate the files a real SUSAN run would leave
// behind, or return an error to simulate a failing tool.
type FakeRunner struct {
	mu       sync.Mutex
	Commands []susanexec.Command
	OnRun    func(cmd susanexec.Command) error
}

// Run implements the susanexec.Runner interface.
func (f *FakeRunner) Run(_ context.Context, cmd susanexec.Command) error {
	f.mu.Lock()
	f.Commands = append(f.Commands, cmd)
	f.mu.Unlock()
	if f.OnRun != nil {
		return f.OnRun(cmd)
	}
	return nil
}

// Ran returns the recorded program names in invocation order.
func (f *FakeRunner) Ran() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.Commands))
	for i, c := range f.Commands {
		names[i] = c.Program
	}
	return names
}
