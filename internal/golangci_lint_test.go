package internal

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// TestGolangciLintClean runs golangci-lint over the whole module and fails
// on any reported issue. Skipped when the binary is not installed, so plain
// `go test ./...` still works on machines without it.
func TestGolangciLintClean(t *testing.T) {
	if _, err := exec.LookPath("golangci-lint"); err != nil {
		t.Skip("golangci-lint not found in PATH")
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}

	// Navigate to project root from internal/
	moduleRoot := filepath.Dir(wd)
	if filepath.Base(wd) != "internal" {
		moduleRoot = wd
	}

	cmd := exec.Command("golangci-lint", "run", "--allow-parallel-runners", "./...")
	cmd.Dir = moduleRoot
	// Sandboxed runners may not have a writable default build cache.
	cmd.Env = append(os.Environ(), "GOCACHE="+t.TempDir())
	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Errorf("golangci-lint reported issues:\n%s", output)
	}
}
