package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// conflictMarker is what git prints when a merge stops on conflicting hunks
const conflictMarker = "CONFLICT"

// stashRef is where git stash, and so --autostash, records entries
const stashRef = "refs/stash"

// tokenEnvVar carries the remote token into the credential helper
const tokenEnvVar = "GITSYNCD_GIT_TOKEN"

// Client provides the git operations the sync engine depends on
type Client interface {
	// IsRepository checks that the configured directory is a git work tree
	IsRepository(ctx context.Context) error
	// Fetch updates the remote-tracking ref for branch
	Fetch(ctx context.Context, branch string) error
	// Pull fetches and merges branch into the current branch
	Pull(ctx context.Context, branch string) error
	// AbortMerge abandons an in-progress merge
	AbortMerge(ctx context.Context) error
	// CurrentBranch returns the checked-out branch name
	CurrentBranch(ctx context.Context) (string, error)
	// HasLocalBranch reports whether refs/heads/<name> exists
	HasLocalBranch(ctx context.Context, name string) (bool, error)
	// CreateLocalBranch creates name pointing at fromRef
	CreateLocalBranch(ctx context.Context, name, fromRef string) error
	// Checkout switches the work tree to branch
	Checkout(ctx context.Context, branch string) error
	// SetTrackingBranch makes local follow remoteRef for pull and push
	SetTrackingBranch(ctx context.Context, local, remoteRef string) error
	// DiffWorkingTree lists uncommitted changes between the work tree and the index
	DiffWorkingTree(ctx context.Context) ([]FileChange, error)
	// StageAndCommit stages exactly paths and commits them with message
	StageAndCommit(ctx context.Context, paths []string, message string) error
	// Push pushes branch to the remote
	Push(ctx context.Context, branch string) error
}

// CommandError is a git invocation that failed for a reason other than a merge conflict
type CommandError struct {
	Args   []string
	Output string
	Err    error
}

func (e *CommandError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	}
	return fmt.Sprintf("git %s: %v: %s", strings.Join(e.Args, " "), e.Err, out)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ConflictError is a pull whose merge stopped on conflicts
type ConflictError struct {
	Branch string
	Output string
	Paths  []string // unmerged paths, when known
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("merge conflict pulling %s: %s", e.Branch, strings.TrimSpace(e.Output))
}

// IsConflict reports whether err is, or wraps, a ConflictError
func IsConflict(err error) bool {
	var conflict *ConflictError
	return errors.As(err, &conflict)
}

// ShellClient implements Client by shelling out to the git command
type ShellClient struct {
	dir    string
	remote string
	token  string
}

// NewShellClient creates a git client for the work tree at dir.
// When token is set it is offered to HTTPS remotes through a credential helper.
func NewShellClient(dir, remote, token string) *ShellClient {
	if remote == "" {
		remote = "origin"
	}
	return &ShellClient{
		dir:    dir,
		remote: remote,
		token:  token,
	}
}

// Dir returns the work tree the client operates on
func (c *ShellClient) Dir() string {
	return c.dir
}

// IsRepository checks that dir is inside a git work tree
func (c *ShellClient) IsRepository(ctx context.Context) error {
	out, err := c.output(ctx, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return fmt.Errorf("not a git repository: %s: %w", c.dir, err)
	}
	if strings.TrimSpace(out) != "true" {
		return fmt.Errorf("not a git work tree: %s", c.dir)
	}
	return nil
}

// Fetch updates refs/remotes/<remote>/<branch>
func (c *ShellClient) Fetch(ctx context.Context, branch string) error {
	_, err := c.remoteCommand(ctx, "fetch", c.remote, branch)
	return err
}

// Pull fetches and merges branch. Local modifications are stashed around the
// merge so that uncommitted work does not block it.
//
// Reapplying the stash can conflict even though git exits 0. That case is
// reported as a ConflictError too, after HEAD and the local modifications
// are put back the way they were before the pull.
func (c *ShellClient) Pull(ctx context.Context, branch string) error {
	head, err := c.revParse(ctx, "HEAD")
	if err != nil {
		return fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	stash, _ := c.revParse(ctx, stashRef)

	out, err := c.remoteCommand(ctx, "pull", "--no-rebase", "--no-edit", "--autostash", c.remote, branch)
	if err != nil {
		if strings.Contains(out, conflictMarker) {
			return &ConflictError{Branch: branch, Output: out}
		}
		return err
	}

	unmerged, err := c.unmergedPaths(ctx)
	if err != nil {
		return err
	}
	if len(unmerged) == 0 {
		return nil
	}

	conflict := &ConflictError{Branch: branch, Output: out, Paths: unmerged}
	if err := c.restore(ctx, head, stash); err != nil {
		return errors.Join(conflict, fmt.Errorf("failed to restore pre-pull state: %w", err))
	}
	return conflict
}

// AbortMerge abandons an in-progress merge and restores the pre-merge state.
// Without a merge in progress there is nothing to do.
func (c *ShellClient) AbortMerge(ctx context.Context) error {
	if _, err := c.revParse(ctx, "MERGE_HEAD"); err != nil {
		return nil
	}
	_, err := c.output(ctx, "merge", "--abort")
	return err
}

// CurrentBranch returns the short name of HEAD
func (c *ShellClient) CurrentBranch(ctx context.Context) (string, error) {
	out, err := c.output(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// HasLocalBranch reports whether refs/heads/<name> exists
func (c *ShellClient) HasLocalBranch(ctx context.Context, name string) (bool, error) {
	_, err := c.output(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	if err == nil {
		return true, nil
	}

	// show-ref exits 1 when the ref is missing
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, err
}

// CreateLocalBranch creates name at fromRef without checking it out
func (c *ShellClient) CreateLocalBranch(ctx context.Context, name, fromRef string) error {
	_, err := c.output(ctx, "branch", name, fromRef)
	return err
}

// Checkout switches to branch
func (c *ShellClient) Checkout(ctx context.Context, branch string) error {
	_, err := c.output(ctx, "checkout", branch)
	return err
}

// SetTrackingBranch sets the upstream of local to remoteRef (e.g. origin/main)
func (c *ShellClient) SetTrackingBranch(ctx context.Context, local, remoteRef string) error {
	_, err := c.output(ctx, "branch", "--set-upstream-to="+remoteRef, local)
	return err
}

// DiffWorkingTree lists tracked files whose work tree content differs from the index
func (c *ShellClient) DiffWorkingTree(ctx context.Context) ([]FileChange, error) {
	out, err := c.output(ctx, "diff", "--name-status", "-z")
	if err != nil {
		return nil, err
	}
	return ParseNameStatus(out)
}

// StageAndCommit stages exactly paths and records the index in a new commit
func (c *ShellClient) StageAndCommit(ctx context.Context, paths []string, message string) error {
	if len(paths) == 0 {
		return fmt.Errorf("nothing to commit")
	}

	addArgs := append([]string{"add", "--all", "--"}, paths...)
	if _, err := c.output(ctx, addArgs...); err != nil {
		return err
	}

	if _, err := c.output(ctx, "commit", "--no-verify", "-m", message); err != nil {
		return err
	}
	return nil
}

// Push pushes branch to the remote
func (c *ShellClient) Push(ctx context.Context, branch string) error {
	_, err := c.remoteCommand(ctx, "push", c.remote, branch)
	return err
}

// revParse resolves ref to an object name
func (c *ShellClient) revParse(ctx context.Context, ref string) (string, error) {
	out, err := c.output(ctx, "rev-parse", "--quiet", "--verify", ref)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// unmergedPaths lists index entries left with conflict stages
func (c *ShellClient) unmergedPaths(ctx context.Context) ([]string, error) {
	out, err := c.output(ctx, "diff", "--name-only", "--diff-filter=U", "-z")
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, p := range strings.Split(out, "\x00") {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths, nil
}

// restore resets the work tree to head and pops the stash entry the pull
// left behind, if it created one. stashBefore is refs/stash before the pull.
func (c *ShellClient) restore(ctx context.Context, head, stashBefore string) error {
	if _, err := c.output(ctx, "reset", "--hard", "--quiet", head); err != nil {
		return err
	}
	stash, _ := c.revParse(ctx, stashRef)
	if stash == "" || stash == stashBefore {
		return nil
	}
	_, err := c.output(ctx, "stash", "pop", "--index", "--quiet")
	return err
}

// output runs a local git command in the work tree
func (c *ShellClient) output(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", c.dir}, args...)...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "LC_ALL=C")
	return c.runCommand(cmd, args)
}

// remoteCommand runs a git command that talks to the remote, with auth configured
func (c *ShellClient) remoteCommand(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", c.dir}, args...)...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "LC_ALL=C")
	c.configureAuth(cmd)
	return c.runCommand(cmd, args)
}

// configureAuth passes the token via environment variable and configures a git
// credential helper that reads it. This avoids embedding the token directly in
// a shell expression or in the remote URL.
func (c *ShellClient) configureAuth(cmd *exec.Cmd) {
	if c.token == "" {
		return
	}
	cmd.Env = append(cmd.Env, tokenEnvVar+"="+c.token)
	cmd.Args = insertGitFlags(cmd.Args,
		"-c", `credential.helper=!f() { echo "username=x-access-token"; echo "password=$`+tokenEnvVar+`"; }; f`,
	)
}

// insertGitFlags inserts flags immediately after the "git" command name,
// before the subcommand (e.g. "pull", "push").
func insertGitFlags(args []string, flags ...string) []string {
	if len(args) == 0 {
		return flags
	}
	result := make([]string, 0, len(args)+len(flags))
	result = append(result, args[0])
	result = append(result, flags...)
	result = append(result, args[1:]...)
	return result
}

// runCommand executes a command and returns its combined output.
// Failures are reported as *CommandError carrying that output.
func (c *ShellClient) runCommand(cmd *exec.Cmd, args []string) (string, error) {
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), &CommandError{Args: args, Output: string(output), Err: err}
	}
	return string(output), nil
}
