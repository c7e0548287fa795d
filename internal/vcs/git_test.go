package vcs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListBranchesParsesForEachRef(t *testing.T) {
	fake := &FakeRunner{}
	fake.Stub("git", []string{"for-each-ref"},
		"main\tabc123\t2026-08-20T10:00:00+00:00\n"+
			"feat/login\tdef456\t2026-08-21T12:30:00+00:00\n", nil)
	c := NewClient(fake)

	branches, err := c.ListBranches(context.Background(), "/repo")
	require.NoError(t, err)
	require.Len(t, branches, 2)
	assert.Equal(t, "main", branches[0].Name)
	assert.Equal(t, "abc123", branches[0].Commit)
	assert.Equal(t, "feat/login", branches[1].Name)
	assert.Equal(t, 2026, branches[1].LastCommitAt.Year())
}

func TestListBranchesRejectsMalformedLine(t *testing.T) {
	fake := &FakeRunner{}
	fake.Stub("git", []string{"for-each-ref"}, "missing-fields\n", nil)
	c := NewClient(fake)

	_, err := c.ListBranches(context.Background(), "/repo")
	assert.Error(t, err)
}

func TestListWorktreesParsesPorcelain(t *testing.T) {
	fake := &FakeRunner{}
	fake.Stub("git", []string{"worktree", "list", "--porcelain"},
		"worktree /repo\nHEAD abc\nbranch refs/heads/main\n\n"+
			"worktree /repo-worktrees/feat-login\nHEAD def\nbranch refs/heads/feat/login\n\n", nil)
	fake.Stub("git", []string{"status", "--porcelain"}, "", nil)
	c := NewClient(fake)

	worktrees, err := c.ListWorktrees(context.Background(), "/repo")
	require.NoError(t, err)
	require.Len(t, worktrees, 2)
	assert.Equal(t, "/repo", worktrees[0].Path)
	assert.Equal(t, "main", worktrees[0].Branch)
	assert.Equal(t, "feat/login", worktrees[1].Branch)
	assert.False(t, worktrees[0].Dirty)
}

func TestIsDirty(t *testing.T) {
	fake := &FakeRunner{}
	fake.Stub("git", []string{"status", "--porcelain"}, " M main.go\n?? new.go\n", nil)
	c := NewClient(fake)

	dirty, err := c.IsDirty(context.Background(), "/repo")
	require.NoError(t, err)
	assert.True(t, dirty)
}

func TestAheadBehind(t *testing.T) {
	fake := &FakeRunner{}
	fake.Stub("git", []string{"rev-list", "--left-right", "--count"}, "3\t7\n", nil)
	c := NewClient(fake)

	ab, err := c.AheadBehind(context.Background(), "/repo", "main", "feat")
	require.NoError(t, err)
	// left (base side) is behind, right (branch side) is ahead
	assert.Equal(t, 7, ab.Ahead)
	assert.Equal(t, 3, ab.Behind)
}

func TestCurrentBranchDetachedHead(t *testing.T) {
	fake := &FakeRunner{}
	fake.Stub("git", []string{"symbolic-ref", "--short", "HEAD"}, "",
		&ExecError{Cmd: "git symbolic-ref", ExitCode: 1, Stderr: "fatal: ref HEAD is not a symbolic ref"})
	c := NewClient(fake)

	branch, err := c.CurrentBranch(context.Background(), "/repo")
	require.NoError(t, err)
	assert.Empty(t, branch)
}

func TestDefaultBranchPrefersOriginHead(t *testing.T) {
	fake := &FakeRunner{}
	fake.Stub("git", []string{"symbolic-ref", "refs/remotes/origin/HEAD"},
		"refs/remotes/origin/develop\n", nil)
	c := NewClient(fake)

	assert.Equal(t, "develop", c.DefaultBranch(context.Background(), "/repo"))
}

func TestDefaultBranchNameHeuristic(t *testing.T) {
	fake := &FakeRunner{}
	fake.Stub("git", []string{"symbolic-ref"}, "",
		&ExecError{Cmd: "git symbolic-ref", ExitCode: 1})
	fake.Stub("gh", []string{"repo", "view"}, "",
		&ExecError{Cmd: "gh repo view", ExitCode: 1})
	fake.Stub("git", []string{"for-each-ref"},
		"feat/x\taaa\t2026-08-01T00:00:00+00:00\n"+
			"master\tbbb\t2026-08-02T00:00:00+00:00\n", nil)
	c := NewClient(fake)

	assert.Equal(t, "master", c.DefaultBranch(context.Background(), "/repo"))
}

func TestDefaultBranchFallsBackToFirst(t *testing.T) {
	fake := &FakeRunner{}
	fake.Stub("git", []string{"symbolic-ref"}, "",
		&ExecError{Cmd: "git symbolic-ref", ExitCode: 1})
	fake.Stub("gh", []string{"repo", "view"}, "",
		&ExecError{Cmd: "gh repo view", ExitCode: 1})
	fake.Stub("git", []string{"for-each-ref"},
		"trunk\taaa\t2026-08-01T00:00:00+00:00\n", nil)
	c := NewClient(fake)

	assert.Equal(t, "trunk", c.DefaultBranch(context.Background(), "/repo"))
}

func TestPushUsesForceWithLease(t *testing.T) {
	fake := &FakeRunner{}
	fake.Stub("git", []string{"push"}, "", nil)
	c := NewClient(fake)

	_, err := c.Push(context.Background(), "/repo", "feat", true)
	require.NoError(t, err)
	calls := fake.CallsFor("git")
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "--force-with-lease")
	assert.NotContains(t, calls[0], "--force")
}

func TestRebaseAbortsOnConflict(t *testing.T) {
	fake := &FakeRunner{}
	fake.Stub("git", []string{"rebase", "--abort"}, "", nil)
	fake.Stub("git", []string{"rebase", "origin/main"}, "",
		&ExecError{Cmd: "git rebase", ExitCode: 1, Stderr: "CONFLICT"})
	c := NewClient(fake)

	_, err := c.Rebase(context.Background(), "/wt", "origin/main")
	require.Error(t, err)
	calls := fake.CallsFor("git")
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"rebase", "--abort"}, calls[1])
}

func TestBranchNamePattern(t *testing.T) {
	assert.True(t, BranchNamePattern.MatchString("feat/login-42_v2"))
	assert.True(t, BranchNamePattern.MatchString("main"))
	assert.False(t, BranchNamePattern.MatchString("feat login"))
	assert.False(t, BranchNamePattern.MatchString("feat~1"))
	assert.False(t, BranchNamePattern.MatchString(""))
}

func TestRepoIDFromRemoteURL(t *testing.T) {
	for _, url := range []string{
		"git@github.com:acme/widget.git",
		"https://github.com/acme/widget.git",
		"https://github.com/acme/widget",
	} {
		fake := &FakeRunner{}
		fake.Stub("gh", []string{"repo", "view"}, "",
			&ExecError{Cmd: "gh repo view", ExitCode: 1})
		fake.Stub("git", []string{"remote", "get-url", "origin"}, url+"\n", nil)
		c := NewClient(fake)

		assert.Equal(t, "acme/widget", c.RepoID(context.Background(), "/repo"), url)
	}
}

func TestRepoIDLocalFallbackDisambiguates(t *testing.T) {
	newClient := func() *Client {
		fake := &FakeRunner{}
		fake.Stub("gh", []string{"repo", "view"}, "",
			&ExecError{Cmd: "gh repo view", ExitCode: 1})
		fake.Stub("git", []string{"remote", "get-url", "origin"}, "",
			&ExecError{Cmd: "git remote", ExitCode: 1})
		return NewClient(fake)
	}

	base := t.TempDir()
	first := filepath.Join(base, "a", "widget")
	second := filepath.Join(base, "b", "widget")

	id1 := newClient().RepoID(context.Background(), first)
	assert.Equal(t, "local/widget", id1)

	// Same id resolves stably for the same path.
	assert.Equal(t, id1, newClient().RepoID(context.Background(), first))

	// A different checkout with the same basename gets a suffixed id.
	id2 := newClient().RepoID(context.Background(), second)
	assert.NotEqual(t, id1, id2)
	assert.Contains(t, id2, "local/widget-")
}

func TestReadHeartbeat(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".vibetree"), 0o755))
	write := func(hb Heartbeat) {
		data, err := json.Marshal(hb)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".vibetree", "heartbeat.json"), data, 0o644))
	}

	fixed := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	now = func() time.Time { return fixed }
	defer func() { now = time.Now }()

	write(Heartbeat{UpdatedAt: fixed.Add(-10 * time.Second), Agent: "claude"})
	agent, active := ReadHeartbeat(dir)
	assert.True(t, active)
	assert.Equal(t, "claude", agent)

	write(Heartbeat{UpdatedAt: fixed.Add(-31 * time.Second), Agent: "claude"})
	_, active = ReadHeartbeat(dir)
	assert.False(t, active)

	_, active = ReadHeartbeat(t.TempDir())
	assert.False(t, active)
}
