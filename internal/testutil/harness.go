// Package testutil holds the shared helpers of the test suite: a
// thread-safe log buffer, a fake process runner, and an integration harness
// that boots the full app against HCL files written to a temp directory.
package testutil

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emtools/susanbridge/internal/app"
	"github.com/emtools/susanbridge/internal/hcl"
	"github.com/emtools/susanbridge/internal/registry"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// HarnessResult holds the outcomes of an integration test run.
type HarnessResult struct {
	LogOutput string
	Err       error
	App       *app.App
	Runner    *FakeRunner
	Dir       string
}

// StartApp boots the application against the given HCL files, written into
// a fresh temp directory. The returned app uses a FakeRunner, so no external
// process is ever spawned. Startup panics are captured into Err.
func StartApp(t *testing.T, files map[string]string, modules ...registry.Module) *HarnessResult {
	t.Helper()

	tmpDir := t.TempDir()
	for name, content := range files {
		filePath := filepath.Join(tmpDir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(filePath), 0755))
		require.NoError(t, os.WriteFile(filePath, []byte(content), 0644))
	}

	appConfig := &app.AppConfig{
		PipelinePath: tmpDir,
		LogLevel:     "debug",
		LogFormat:    "text",
	}

	logBuffer := &SafeBuffer{}
	runner := &FakeRunner{}

	var testApp *app.App
	var panicErr any
	func() {
		defer func() {
			if r := recover(); r != nil {
				panicErr = r
			}
		}()
		testApp = app.NewApp(logBuffer, appConfig, hcl.NewLoader(), runner, modules...)
	}()

	result := &HarnessResult{
		LogOutput: logBuffer.String(),
		App:       testApp,
		Runner:    runner,
		Dir:       tmpDir,
	}
	if panicErr != nil {
		result.Err = fmt.Errorf("application startup panicked | %v", panicErr)
	}
	return result
}
