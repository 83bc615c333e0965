// Package testutil provides git repository fixtures for tests that drive a
// real git binary.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// SetGitIdentity makes commits work on machines without a global git identity.
func SetGitIdentity(t *testing.T) {
	t.Helper()
	t.Setenv("GIT_AUTHOR_NAME", "Test")
	t.Setenv("GIT_AUTHOR_EMAIL", "test@test.com")
	t.Setenv("GIT_COMMITTER_NAME", "Test")
	t.Setenv("GIT_COMMITTER_EMAIL", "test@test.com")
}

// Run executes a command and fails the test on error. It returns the
// combined output.
func Run(t *testing.T, args ...string) string {
	t.Helper()
	out, err := exec.Command(args[0], args[1:]...).CombinedOutput()
	if err != nil {
		t.Fatalf("%v: %v: %s", args, err, out)
	}
	return string(out)
}

// WriteFile writes content to dir/name, creating parent directories.
func WriteFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// CommitFile creates or overwrites a file and commits it.
func CommitFile(t *testing.T, repoDir, name, content, msg string) {
	t.Helper()
	WriteFile(t, repoDir, name, content)
	Run(t, "git", "-C", repoDir, "add", name)
	Run(t, "git", "-C", repoDir, "commit", "-m", msg)
}

// NewRemote creates a bare repository seeded with one commit on main and
// returns its path.
func NewRemote(t *testing.T) string {
	t.Helper()
	SetGitIdentity(t)

	remote := filepath.Join(t.TempDir(), "remote.git")
	Run(t, "git", "init", "--bare", "-b", "main", remote)

	seed := filepath.Join(t.TempDir(), "seed")
	Run(t, "git", "clone", remote, seed)
	Run(t, "git", "-C", seed, "symbolic-ref", "HEAD", "refs/heads/main")
	CommitFile(t, seed, "hello.txt", "version1\n", "Initial commit")
	Run(t, "git", "-C", seed, "push", "origin", "main")
	return remote
}

// Clone clones the main branch of remote into a fresh temp directory.
func Clone(t *testing.T, remote string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "clone")
	Run(t, "git", "clone", "-b", "main", remote, dir)
	return dir
}
