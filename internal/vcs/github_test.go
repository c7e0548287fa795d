package vcs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibetree/vibetree/internal/models"
)

func TestListPRsParsesAndRollsUpChecks(t *testing.T) {
	fake := &FakeRunner{}
	fake.Stub("gh", []string{"pr", "list"}, `[
		{"number": 12, "title": "Add login", "state": "OPEN", "url": "https://github.com/acme/widget/pull/12",
		 "headRefName": "feat/login", "isDraft": true,
		 "labels": [{"name": "frontend"}], "assignees": [{"login": "sam"}],
		 "reviewDecision": "APPROVED",
		 "statusCheckRollup": [{"conclusion": "SUCCESS"}, {"conclusion": "SKIPPED"}],
		 "additions": 100, "deletions": 5, "changedFiles": 3},
		{"number": 13, "title": "Fix crash", "state": "OPEN", "url": "https://github.com/acme/widget/pull/13",
		 "headRefName": "fix/crash",
		 "statusCheckRollup": [{"conclusion": "SUCCESS"}, {"conclusion": "FAILURE"}]},
		{"number": 14, "title": "WIP", "state": "OPEN", "url": "https://github.com/acme/widget/pull/14",
		 "headRefName": "feat/wip",
		 "statusCheckRollup": [{"conclusion": ""}]}
	]`, nil)
	c := NewClient(fake)

	prs, err := c.ListPRs(context.Background(), "/repo")
	require.NoError(t, err)
	require.Len(t, prs, 3)

	assert.Equal(t, "feat/login", prs[0].Branch)
	assert.True(t, prs[0].Draft)
	assert.Equal(t, []string{"frontend"}, prs[0].Labels)
	assert.Equal(t, models.ChecksSuccess, prs[0].Checks)

	// Any failing check fails the rollup even when others pass.
	assert.Equal(t, models.ChecksFailure, prs[1].Checks)

	// An unfinished check leaves the rollup pending.
	assert.Equal(t, models.ChecksPending, prs[2].Checks)
}

func TestPRForBranchReturnsNilWhenNone(t *testing.T) {
	fake := &FakeRunner{}
	fake.Stub("gh", []string{"pr", "list"}, `[]`, nil)
	c := NewClient(fake)

	pr, err := c.PRForBranch(context.Background(), "/repo", "feat/none")
	require.NoError(t, err)
	assert.Nil(t, pr)
}

func TestCreatePRExtractsURL(t *testing.T) {
	fake := &FakeRunner{}
	fake.Stub("gh", []string{"pr", "create"},
		"Creating pull request for feat/login into main\nhttps://github.com/acme/widget/pull/15\n", nil)
	c := NewClient(fake)

	url, err := c.CreatePR(context.Background(), "/repo", "feat/login", "main", "Add login", "body")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/widget/pull/15", url)
}

func TestExecErrorMessageCarriesStderr(t *testing.T) {
	err := &ExecError{Cmd: "git push", ExitCode: 128, Stderr: "remote: denied"}
	assert.Contains(t, err.Error(), "git push")
	assert.Contains(t, err.Error(), "remote: denied")
}
