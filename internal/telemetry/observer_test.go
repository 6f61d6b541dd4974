package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestObserverAttributesWrites(t *testing.T) {
	c := NewCollector(CollectorOptions{})
	o, err := NewObserver(c, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	worktree := t.TempDir()
	if err := o.AddWorktree("parser", worktree); err != nil {
		t.Fatal(err)
	}
	o.Start()
	defer o.Stop()

	if err := os.WriteFile(filepath.Join(worktree, "out.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	ok := waitFor(t, 2*time.Second, func() bool {
		snap := c.Runtime("parser").Snapshot("t", false)
		for _, f := range snap.FilesWritten {
			if f == "out.txt" {
				return true
			}
		}
		return false
	})
	if !ok {
		t.Fatal("write to out.txt was never attributed to parser")
	}
}

func TestObserverIgnoresGitInternals(t *testing.T) {
	c := NewCollector(CollectorOptions{})
	o, err := NewObserver(c, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	worktree := t.TempDir()
	if err := os.MkdirAll(filepath.Join(worktree, ".git"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := o.AddWorktree("parser", worktree); err != nil {
		t.Fatal(err)
	}
	o.Start()
	defer o.Stop()

	if err := os.WriteFile(filepath.Join(worktree, ".git", "index"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(worktree, "real.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 2*time.Second, func() bool {
		snap := c.Runtime("parser").Snapshot("t", false)
		return len(snap.FilesWritten) > 0
	})

	snap := c.Runtime("parser").Snapshot("t", false)
	for _, f := range snap.FilesWritten {
		if strings.HasPrefix(f, ".git") {
			t.Errorf("git internal file attributed: %q", f)
		}
	}
}

func TestObserverUnknownPathIgnored(t *testing.T) {
	c := NewCollector(CollectorOptions{})
	o, err := NewObserver(c, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	agent, _ := o.attribute("/nowhere/special/file.txt")
	if agent != "" {
		t.Errorf("attributed to %q", agent)
	}
}
