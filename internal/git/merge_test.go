package git

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/srhall/gitcrew/internal/testutil"
)

// setupDiverged makes two branches off main that both edit shared.txt,
// so merging the second after the first conflicts.
func setupDiverged(t *testing.T) (repoDir string, repo *Repo) {
	t.Helper()
	repoDir = testutil.SetupTestRepo(t)
	var err error
	repo, err = Open(repoDir)
	if err != nil {
		t.Fatal(err)
	}

	testutil.CommitFile(t, repoDir, "shared.txt", "original line\n", "add shared file")

	testutil.CreateBranch(t, repoDir, "feat-a")
	testutil.CheckoutBranch(t, repoDir, "feat-a")
	testutil.CommitFile(t, repoDir, "shared.txt", "change from a\n", "a edits shared")
	testutil.CheckoutBranch(t, repoDir, "main")

	testutil.CreateBranch(t, repoDir, "feat-b")
	testutil.CheckoutBranch(t, repoDir, "feat-b")
	testutil.CommitFile(t, repoDir, "shared.txt", "change from b\n", "b edits shared")
	testutil.CheckoutBranch(t, repoDir, "main")

	return repoDir, repo
}

func TestMergeBranchClean(t *testing.T) {
	repoDir, repo := setupDiverged(t)
	ctx := context.Background()

	outcome, err := repo.MergeBranch(ctx, repoDir, "feat-a")
	if err != nil {
		t.Fatalf("MergeBranch: %v", err)
	}
	if outcome.Conflict {
		t.Fatalf("expected clean merge, got conflict in %v", outcome.Files)
	}
	if !testutil.IsBranchMerged(t, repoDir, "feat-a", "main") {
		t.Error("feat-a should be an ancestor of main after merge")
	}
}

func TestMergeBranchConflictIsAValue(t *testing.T) {
	repoDir, repo := setupDiverged(t)
	ctx := context.Background()

	if outcome, err := repo.MergeBranch(ctx, repoDir, "feat-a"); err != nil || outcome.Conflict {
		t.Fatalf("merging feat-a: outcome=%+v err=%v", outcome, err)
	}

	outcome, err := repo.MergeBranch(ctx, repoDir, "feat-b")
	if err != nil {
		t.Fatalf("a conflict must not surface as an error, got %v", err)
	}
	if !outcome.Conflict {
		t.Fatal("expected conflict merging feat-b")
	}
	if len(outcome.Files) != 1 || outcome.Files[0] != "shared.txt" {
		t.Errorf("conflicting files = %v, want [shared.txt]", outcome.Files)
	}
	if !repo.MergeInProgress(ctx, repoDir) {
		t.Error("MERGE_HEAD should exist while the conflict is unresolved")
	}
}

func TestConflictContentAndResolve(t *testing.T) {
	repoDir, repo := setupDiverged(t)
	ctx := context.Background()

	repo.MergeBranch(ctx, repoDir, "feat-a")
	outcome, err := repo.MergeBranch(ctx, repoDir, "feat-b")
	if err != nil || !outcome.Conflict {
		t.Fatalf("expected conflict, outcome=%+v err=%v", outcome, err)
	}

	content, err := repo.GetConflictContent(ctx, repoDir, "shared.txt")
	if err != nil {
		t.Fatalf("GetConflictContent: %v", err)
	}
	if !strings.Contains(content.Full, "<<<<<<<") {
		t.Error("full content should carry conflict markers")
	}
	if strings.TrimSpace(content.Ours) != "change from a" {
		t.Errorf("ours = %q", content.Ours)
	}
	if strings.TrimSpace(content.Theirs) != "change from b" {
		t.Errorf("theirs = %q", content.Theirs)
	}

	resolved := "change from a\nchange from b\n"
	if err := repo.ResolveConflict(ctx, repoDir, "shared.txt", resolved); err != nil {
		t.Fatalf("ResolveConflict: %v", err)
	}

	remaining, err := repo.ConflictingFiles(ctx, repoDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 0 {
		t.Fatalf("conflicts still listed after resolution: %v", remaining)
	}

	committed, err := repo.CompleteMerge(ctx, repoDir, "merge feat-b")
	if err != nil {
		t.Fatalf("CompleteMerge: %v", err)
	}
	if !committed {
		t.Fatal("CompleteMerge should commit once all conflicts are staged")
	}
	if repo.MergeInProgress(ctx, repoDir) {
		t.Error("merge should be finished")
	}

	data, err := os.ReadFile(filepath.Join(repoDir, "shared.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != resolved {
		t.Errorf("merged content = %q, want %q", data, resolved)
	}
}

func TestCompleteMergeWithUnresolvedConflicts(t *testing.T) {
	repoDir, repo := setupDiverged(t)
	ctx := context.Background()

	repo.MergeBranch(ctx, repoDir, "feat-a")
	repo.MergeBranch(ctx, repoDir, "feat-b")

	committed, err := repo.CompleteMerge(ctx, repoDir, "premature")
	if err != nil {
		t.Fatalf("CompleteMerge with open conflicts must not error, got %v", err)
	}
	if committed {
		t.Error("CompleteMerge must refuse while conflicts remain")
	}
}

func TestAbortMerge(t *testing.T) {
	repoDir, repo := setupDiverged(t)
	ctx := context.Background()

	repo.MergeBranch(ctx, repoDir, "feat-b")
	outcome, _ := repo.MergeBranch(ctx, repoDir, "feat-a")
	if !outcome.Conflict {
		t.Fatal("expected conflict")
	}

	if err := repo.AbortMerge(ctx, repoDir); err != nil {
		t.Fatalf("AbortMerge: %v", err)
	}
	if repo.MergeInProgress(ctx, repoDir) {
		t.Error("abort should clear MERGE_HEAD")
	}
	if clean, err := repo.HasUncommittedChanges(ctx, repoDir); err != nil || clean {
		t.Errorf("working tree should be clean after abort, dirty=%v err=%v", clean, err)
	}
}

func TestTestMergeConflictDoesNotTouchState(t *testing.T) {
	repoDir, repo := setupDiverged(t)
	ctx := context.Background()

	tests := []struct {
		branch       string
		wantConflict bool
	}{
		{"feat-a", false},
		{"feat-b", false},
	}
	for _, tt := range tests {
		before := testutil.StateFingerprint(t, repoDir)
		conflict, _, err := repo.TestMergeConflict(ctx, repoDir, tt.branch, "main")
		if err != nil {
			t.Fatalf("TestMergeConflict(%s): %v", tt.branch, err)
		}
		if conflict != tt.wantConflict {
			t.Errorf("TestMergeConflict(%s) = %v, want %v", tt.branch, conflict, tt.wantConflict)
		}
		after := testutil.StateFingerprint(t, repoDir)
		if before != after {
			t.Errorf("repository state changed during trial merge of %s:\nbefore: %s\nafter:  %s", tt.branch, before, after)
		}
	}
}

func TestTestMergeConflictReportsOnlyConflictedFiles(t *testing.T) {
	repoDir := testutil.SetupTestRepo(t)
	repo, err := Open(repoDir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	// notes.txt is long enough that edits at opposite ends merge cleanly.
	notes := "l1\nl2\nl3\nl4\nl5\nl6\nl7\nl8\nl9\nl10\n"
	testutil.CommitFile(t, repoDir, "shared.txt", "original\n", "add shared")
	testutil.CommitFile(t, repoDir, "notes.txt", notes, "add notes")

	testutil.CreateBranch(t, repoDir, "feat-x")
	testutil.CheckoutBranch(t, repoDir, "feat-x")
	testutil.CommitFile(t, repoDir, "shared.txt", "from x\n", "x edits shared")
	testutil.CommitFile(t, repoDir, "notes.txt", strings.Replace(notes, "l1\n", "x1\n", 1), "x edits notes top")
	testutil.CheckoutBranch(t, repoDir, "main")

	testutil.CommitFile(t, repoDir, "shared.txt", "from main\n", "main edits shared")
	testutil.CommitFile(t, repoDir, "notes.txt", strings.Replace(notes, "l10\n", "m10\n", 1), "main edits notes bottom")

	conflict, files, err := repo.TestMergeConflict(ctx, repoDir, "feat-x", "main")
	if err != nil {
		t.Fatalf("TestMergeConflict: %v", err)
	}
	if !conflict {
		t.Fatal("expected trial merge to report a conflict")
	}
	if len(files) != 1 || files[0] != "shared.txt" {
		t.Errorf("conflicting files = %v, want [shared.txt]: notes.txt merges cleanly", files)
	}
}

func TestParseMergeTreeConflicts(t *testing.T) {
	oid := "0123456789abcdef0123456789abcdef01234567"

	files, ok := parseMergeTreeConflicts(oid + "\nshared.txt\nshared.txt\nother.go\n\nAuto-merging shared.txt\nCONFLICT (content)\n")
	if !ok {
		t.Fatal("expected conflict output to parse")
	}
	if len(files) != 2 || files[0] != "shared.txt" || files[1] != "other.go" {
		t.Errorf("files = %v, want [shared.txt other.go]", files)
	}

	if _, ok := parseMergeTreeConflicts("fatal: not something merge-tree printed\n"); ok {
		t.Error("non-OID output must not parse as a conflict listing")
	}
}

func TestTestMergeConflictDetectsConflict(t *testing.T) {
	repoDir, repo := setupDiverged(t)
	ctx := context.Background()

	// After feat-a lands, feat-b conflicts with main.
	outcome, err := repo.MergeBranch(ctx, repoDir, "feat-a")
	if err != nil || outcome.Conflict {
		t.Fatalf("merging feat-a: outcome=%+v err=%v", outcome, err)
	}

	before := testutil.StateFingerprint(t, repoDir)
	conflict, files, err := repo.TestMergeConflict(ctx, repoDir, "feat-b", "main")
	if err != nil {
		t.Fatalf("TestMergeConflict: %v", err)
	}
	if !conflict {
		t.Fatal("expected trial merge to report a conflict")
	}
	if len(files) == 0 || files[0] != "shared.txt" {
		t.Errorf("conflicting files = %v, want [shared.txt]", files)
	}
	if after := testutil.StateFingerprint(t, repoDir); after != before {
		t.Error("trial merge must not mutate the repository")
	}
}
