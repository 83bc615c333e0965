package git

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/schaermu/gitsyncd/internal/testutil"
)

func TestIsRepository(t *testing.T) {
	ctx := context.Background()
	clone := testutil.Clone(t, testutil.NewRemote(t))

	if err := NewShellClient(clone, "", "").IsRepository(ctx); err != nil {
		t.Errorf("expected clone to be a repository: %v", err)
	}
	if err := NewShellClient(t.TempDir(), "", "").IsRepository(ctx); err == nil {
		t.Error("expected plain directory not to be a repository")
	}
}

func TestDiffWorkingTree_AndStageAndCommit(t *testing.T) {
	ctx := context.Background()
	remote := testutil.NewRemote(t)
	clone := testutil.Clone(t, remote)
	testutil.CommitFile(t, clone, "doomed.txt", "bye\n", "Add doomed")

	client := NewShellClient(clone, "origin", "")

	changes, err := client.DiffWorkingTree(ctx)
	if err != nil {
		t.Fatalf("DiffWorkingTree: %v", err)
	}
	if len(changes) != 0 {
		t.Fatalf("expected clean tree, got %v", changes)
	}

	testutil.WriteFile(t, clone, "hello.txt", "version2\n")
	if err := os.Remove(filepath.Join(clone, "doomed.txt")); err != nil {
		t.Fatal(err)
	}
	// untracked files are not part of a work tree vs index diff
	testutil.WriteFile(t, clone, "untracked.txt", "new\n")

	changes, err = client.DiffWorkingTree(ctx)
	if err != nil {
		t.Fatalf("DiffWorkingTree: %v", err)
	}
	want := map[string]ChangeType{"hello.txt": Modified, "doomed.txt": Deleted}
	if len(changes) != len(want) {
		t.Fatalf("expected %d changes, got %v", len(want), changes)
	}
	for _, c := range changes {
		if want[c.Path] != c.Type {
			t.Errorf("change %s: got type %s, want %s", c.Path, c.Type, want[c.Path])
		}
	}

	if err := client.StageAndCommit(ctx, []string{"hello.txt", "doomed.txt"}, "Update 2 files"); err != nil {
		t.Fatalf("StageAndCommit: %v", err)
	}

	changes, err = client.DiffWorkingTree(ctx)
	if err != nil {
		t.Fatalf("DiffWorkingTree: %v", err)
	}
	if len(changes) != 0 {
		t.Errorf("expected clean tree after commit, got %v", changes)
	}

	subject := strings.TrimSpace(testutil.Run(t, "git", "-C", clone, "log", "-1", "--format=%s"))
	if subject != "Update 2 files" {
		t.Errorf("unexpected commit subject %q", subject)
	}

	status := testutil.Run(t, "git", "-C", clone, "status", "--porcelain")
	if !strings.Contains(status, "?? untracked.txt") {
		t.Errorf("untracked file must not be staged, status:\n%s", status)
	}
}

func TestStageAndCommit_NoPaths(t *testing.T) {
	client := NewShellClient(t.TempDir(), "", "")
	if err := client.StageAndCommit(context.Background(), nil, "msg"); err == nil {
		t.Error("expected error when committing no paths")
	}
}

func TestPushAndPull(t *testing.T) {
	ctx := context.Background()
	remote := testutil.NewRemote(t)
	a := testutil.Clone(t, remote)
	b := testutil.Clone(t, remote)

	clientA := NewShellClient(a, "origin", "")
	clientB := NewShellClient(b, "origin", "")

	testutil.WriteFile(t, a, "hello.txt", "from a\n")
	if err := clientA.StageAndCommit(ctx, []string{"hello.txt"}, "Change from a"); err != nil {
		t.Fatal(err)
	}
	if err := clientA.Push(ctx, "main"); err != nil {
		t.Fatalf("Push: %v", err)
	}

	if err := clientB.Pull(ctx, "main"); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(b, "hello.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "from a\n" {
		t.Errorf("expected pulled content, got %q", got)
	}
}

func TestPull_Conflict(t *testing.T) {
	ctx := context.Background()
	remote := testutil.NewRemote(t)
	a := testutil.Clone(t, remote)
	b := testutil.Clone(t, remote)

	testutil.CommitFile(t, a, "hello.txt", "from a\n", "a edits")
	testutil.Run(t, "git", "-C", a, "push", "origin", "main")

	testutil.CommitFile(t, b, "hello.txt", "from b\n", "b edits")

	client := NewShellClient(b, "origin", "")
	err := client.Pull(ctx, "main")
	if err == nil {
		t.Fatal("expected conflict")
	}
	if !IsConflict(err) {
		t.Fatalf("expected ConflictError, got %T: %v", err, err)
	}

	if err := client.AbortMerge(ctx); err != nil {
		t.Fatalf("AbortMerge: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(b, "hello.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "from b\n" {
		t.Errorf("expected local content restored after abort, got %q", got)
	}
}

func TestPull_UncommittedEditConflict(t *testing.T) {
	ctx := context.Background()
	remote := testutil.NewRemote(t)
	a := testutil.Clone(t, remote)
	b := testutil.Clone(t, remote)

	testutil.CommitFile(t, a, "hello.txt", "upstream\n", "a edits")
	testutil.Run(t, "git", "-C", a, "push", "origin", "main")

	headBefore := strings.TrimSpace(testutil.Run(t, "git", "-C", b, "rev-parse", "HEAD"))
	testutil.WriteFile(t, b, "hello.txt", "local\n")

	client := NewShellClient(b, "origin", "")
	err := client.Pull(ctx, "main")
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %T: %v", err, err)
	}
	if len(conflict.Paths) != 1 || conflict.Paths[0] != "hello.txt" {
		t.Errorf("expected unmerged hello.txt, got %v", conflict.Paths)
	}

	// HEAD and the uncommitted edit are back, the stash entry is consumed
	headAfter := strings.TrimSpace(testutil.Run(t, "git", "-C", b, "rev-parse", "HEAD"))
	if headAfter != headBefore {
		t.Errorf("HEAD moved from %s to %s", headBefore, headAfter)
	}
	got, err := os.ReadFile(filepath.Join(b, "hello.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "local\n" {
		t.Errorf("expected local edit restored, got %q", got)
	}
	if stashes := strings.TrimSpace(testutil.Run(t, "git", "-C", b, "stash", "list")); stashes != "" {
		t.Errorf("expected no leftover stash, got %q", stashes)
	}

	changes, err := client.DiffWorkingTree(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 || changes[0] != (FileChange{Path: "hello.txt", Type: Modified}) {
		t.Errorf("expected only the local modification, got %v", changes)
	}

	if err := client.AbortMerge(ctx); err != nil {
		t.Errorf("AbortMerge without a merge in progress: %v", err)
	}
}

func TestPull_UncommittedEditOnOtherFile(t *testing.T) {
	ctx := context.Background()
	remote := testutil.NewRemote(t)
	a := testutil.Clone(t, remote)
	b := testutil.Clone(t, remote)

	testutil.CommitFile(t, a, "other.txt", "upstream\n", "a adds other")
	testutil.Run(t, "git", "-C", a, "push", "origin", "main")

	testutil.WriteFile(t, b, "hello.txt", "local\n")

	client := NewShellClient(b, "origin", "")
	if err := client.Pull(ctx, "main"); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if _, err := os.Stat(filepath.Join(b, "other.txt")); err != nil {
		t.Errorf("expected pulled file: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(b, "hello.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "local\n" {
		t.Errorf("expected local edit kept, got %q", got)
	}
}

func TestPull_UnknownBranchIsCommandError(t *testing.T) {
	ctx := context.Background()
	clone := testutil.Clone(t, testutil.NewRemote(t))

	err := NewShellClient(clone, "origin", "").Pull(ctx, "does-not-exist")
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected CommandError, got %T: %v", err, err)
	}
	if IsConflict(err) {
		t.Error("a missing branch is not a conflict")
	}
}

func TestBranchTracking(t *testing.T) {
	ctx := context.Background()
	remote := testutil.NewRemote(t)

	// Publish a second branch on the remote.
	seed := testutil.Clone(t, remote)
	testutil.Run(t, "git", "-C", seed, "checkout", "-b", "sync")
	testutil.CommitFile(t, seed, "sync.txt", "sync\n", "Sync branch")
	testutil.Run(t, "git", "-C", seed, "push", "origin", "sync")

	clone := testutil.Clone(t, remote)
	client := NewShellClient(clone, "origin", "")

	exists, err := client.HasLocalBranch(ctx, "sync")
	if err != nil {
		t.Fatalf("HasLocalBranch: %v", err)
	}
	if exists {
		t.Fatal("sync branch should not exist locally yet")
	}

	if err := client.Fetch(ctx, "sync"); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if err := client.CreateLocalBranch(ctx, "sync", "origin/sync"); err != nil {
		t.Fatalf("CreateLocalBranch: %v", err)
	}
	if err := client.SetTrackingBranch(ctx, "sync", "origin/sync"); err != nil {
		t.Fatalf("SetTrackingBranch: %v", err)
	}

	exists, err = client.HasLocalBranch(ctx, "sync")
	if err != nil || !exists {
		t.Fatalf("expected sync branch to exist, exists=%v err=%v", exists, err)
	}

	upstream := strings.TrimSpace(testutil.Run(t, "git", "-C", clone, "rev-parse", "--abbrev-ref", "sync@{upstream}"))
	if upstream != "origin/sync" {
		t.Errorf("expected upstream origin/sync, got %q", upstream)
	}

	if err := client.Checkout(ctx, "sync"); err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	branch, err := client.CurrentBranch(ctx)
	if err != nil {
		t.Fatalf("CurrentBranch: %v", err)
	}
	if branch != "sync" {
		t.Errorf("expected current branch sync, got %s", branch)
	}
}

func TestParseNameStatus(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []FileChange
		wantErr bool
	}{
		{name: "empty", input: "", want: nil},
		{
			name:  "modify and delete",
			input: "M\x00a.go\x00D\x00b.go\x00",
			want: []FileChange{
				{Path: "a.go", Type: Modified},
				{Path: "b.go", Type: Deleted},
			},
		},
		{
			name:  "rename with score",
			input: "R100\x00old.go\x00new.go\x00",
			want:  []FileChange{{Path: "new.go", Type: Renamed, OldPath: "old.go"}},
		},
		{
			name:  "path with spaces and tabs",
			input: "M\x00dir/my file\t.txt\x00",
			want:  []FileChange{{Path: "dir/my file\t.txt", Type: Modified}},
		},
		{
			name:  "type change is unknown",
			input: "T\x00link\x00",
			want:  []FileChange{{Path: "link", Type: Unknown}},
		},
		{
			name:  "unmerged path listed once",
			input: "U\x00hello.txt\x00M\x00hello.txt\x00M\x00other.txt\x00",
			want: []FileChange{
				{Path: "hello.txt", Type: Modified},
				{Path: "other.txt", Type: Modified},
			},
		},
		{
			name:  "unmerged path alone is unknown",
			input: "U\x00hello.txt\x00",
			want:  []FileChange{{Path: "hello.txt", Type: Unknown}},
		},
		{name: "status without path", input: "M\x00", wantErr: true},
		{name: "rename without destination", input: "R100\x00old.go\x00", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseNameStatus(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("change %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestFileChangePaths(t *testing.T) {
	rename := FileChange{Path: "new.go", OldPath: "old.go", Type: Renamed}
	if got := rename.Paths(); len(got) != 2 || got[0] != "old.go" || got[1] != "new.go" {
		t.Errorf("rename paths = %v", got)
	}
	mod := FileChange{Path: "a.go", Type: Modified}
	if got := mod.Paths(); len(got) != 1 || got[0] != "a.go" {
		t.Errorf("modify paths = %v", got)
	}
}

func TestCommandError(t *testing.T) {
	inner := errors.New("exit status 1")
	err := &CommandError{Args: []string{"push", "origin", "main"}, Output: "rejected\n", Err: inner}

	if !errors.Is(err, inner) {
		t.Error("CommandError must unwrap to its cause")
	}
	if !strings.Contains(err.Error(), "git push origin main") || !strings.Contains(err.Error(), "rejected") {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestConfigureAuth(t *testing.T) {
	client := NewShellClient("/repo", "origin", "s3cret")
	cmd := exec.Command("git", "-C", "/repo", "push", "origin", "main")
	cmd.Env = []string{}
	client.configureAuth(cmd)

	if cmd.Args[1] != "-c" || !strings.HasPrefix(cmd.Args[2], "credential.helper=") {
		t.Errorf("expected credential helper flags after git, got %v", cmd.Args)
	}
	if strings.Contains(strings.Join(cmd.Args, " "), "s3cret") {
		t.Error("token must not appear in command arguments")
	}
	found := false
	for _, kv := range cmd.Env {
		if kv == tokenEnvVar+"=s3cret" {
			found = true
		}
	}
	if !found {
		t.Error("token must be passed through the environment")
	}

	anon := NewShellClient("/repo", "origin", "")
	cmd = exec.Command("git", "push")
	anon.configureAuth(cmd)
	if len(cmd.Args) != 2 {
		t.Errorf("no auth flags expected without a token, got %v", cmd.Args)
	}
}

func TestInsertGitFlags(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		flags []string
		want  []string
	}{
		{
			name:  "insert before subcommand",
			args:  []string{"git", "-C", "/dir", "pull", "origin", "main"},
			flags: []string{"-c", "key=value"},
			want:  []string{"git", "-c", "key=value", "-C", "/dir", "pull", "origin", "main"},
		},
		{
			name:  "empty args",
			args:  []string{},
			flags: []string{"-c", "key=value"},
			want:  []string{"-c", "key=value"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := insertGitFlags(tt.args, tt.flags...)
			if len(got) != len(tt.want) {
				t.Fatalf("insertGitFlags() length = %d, want %d\ngot:  %v\nwant: %v", len(got), len(tt.want), got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("insertGitFlags()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
