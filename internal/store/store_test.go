package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibetree/vibetree/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTreeSpecRoundTrip(t *testing.T) {
	s := newTestStore(t)

	spec := &models.TreeSpec{
		RepoID:     "acme/widget",
		BaseBranch: "main",
		Nodes: []models.TaskNode{
			{ID: "n1", Title: "Login", BranchName: "feat/login", Status: models.TaskTodo},
		},
		Edges: []models.PlanEdge{},
	}
	require.NoError(t, s.SaveTreeSpec(spec))
	assert.Equal(t, models.SpecDraft, spec.Status)

	got, err := s.GetTreeSpec("acme/widget")
	require.NoError(t, err)
	assert.Equal(t, "main", got.BaseBranch)
	require.Len(t, got.Nodes, 1)
	assert.Equal(t, "feat/login", got.Nodes[0].BranchName)

	require.NoError(t, s.SetTreeSpecStatus("acme/widget", models.SpecConfirmed))
	got, err = s.GetTreeSpec("acme/widget")
	require.NoError(t, err)
	assert.Equal(t, models.SpecConfirmed, got.Status)

	_, err = s.GetTreeSpec("acme/other")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReparentAfterBranchDeleteMovesChildrenToGrandparent(t *testing.T) {
	s := newTestStore(t)

	// root -> mid -> leaf
	spec := &models.TreeSpec{
		RepoID:     "acme/widget",
		BaseBranch: "main",
		Nodes: []models.TaskNode{
			{ID: "root", Title: "Root", BranchName: "feat/root"},
			{ID: "mid", Title: "Mid", BranchName: "feat/root-mid"},
			{ID: "leaf", Title: "Leaf", BranchName: "feat/root-mid-leaf"},
		},
		Edges: []models.PlanEdge{
			{From: "root", To: "mid"},
			{From: "mid", To: "leaf"},
		},
	}
	require.NoError(t, s.SaveTreeSpec(spec))

	require.NoError(t, s.ReparentAfterBranchDelete("acme/widget", "feat/root-mid"))

	got, err := s.GetTreeSpec("acme/widget")
	require.NoError(t, err)
	assert.Equal(t, []models.PlanEdge{{From: "root", To: "leaf"}}, got.Edges)
}

func TestReparentDeletedRootPromotesChildren(t *testing.T) {
	s := newTestStore(t)

	spec := &models.TreeSpec{
		RepoID:     "acme/widget",
		BaseBranch: "main",
		Nodes: []models.TaskNode{
			{ID: "root", Title: "Root", BranchName: "feat/root"},
			{ID: "child", Title: "Child", BranchName: "feat/root-child"},
		},
		Edges: []models.PlanEdge{{From: "root", To: "child"}},
	}
	require.NoError(t, s.SaveTreeSpec(spec))

	require.NoError(t, s.ReparentAfterBranchDelete("acme/widget", "feat/root"))

	got, err := s.GetTreeSpec("acme/widget")
	require.NoError(t, err)
	// The child becomes a root and sits directly on the base branch.
	assert.Empty(t, got.Edges)
	assert.Contains(t, got.Roots(), "child")
}

func TestReparentUnknownBranchIsNoop(t *testing.T) {
	s := newTestStore(t)

	spec := &models.TreeSpec{
		RepoID: "acme/widget",
		Nodes:  []models.TaskNode{{ID: "a", Title: "A", BranchName: "feat/a"}},
		Edges:  []models.PlanEdge{},
	}
	require.NoError(t, s.SaveTreeSpec(spec))
	require.NoError(t, s.ReparentAfterBranchDelete("acme/widget", "feat/never-existed"))

	got, err := s.GetTreeSpec("acme/widget")
	require.NoError(t, err)
	assert.Len(t, got.Nodes, 1)
}

func TestReparentRewritesPlanningSessions(t *testing.T) {
	s := newTestStore(t)

	ps := &models.PlanningSession{
		RepoID:     "acme/widget",
		Title:      "Q3 work",
		BaseBranch: "main",
		Nodes: []models.TaskNode{
			{ID: "a", Title: "A", BranchName: "feat/a"},
			{ID: "b", Title: "B", BranchName: "feat/a-b"},
			{ID: "c", Title: "C", BranchName: "feat/a-b-c"},
		},
		Edges: []models.PlanEdge{{From: "a", To: "b"}, {From: "b", To: "c"}},
	}
	require.NoError(t, s.SavePlanningSession(ps))

	require.NoError(t, s.ReparentAfterBranchDelete("acme/widget", "feat/a-b"))

	got, err := s.GetPlanningSession(ps.ID)
	require.NoError(t, err)
	assert.Equal(t, []models.PlanEdge{{From: "a", To: "c"}}, got.Edges)
}

func TestDeleteBranchDataCascades(t *testing.T) {
	s := newTestStore(t)

	cs, err := s.CreateChatSession("/wt/feat-login", "feat/login")
	require.NoError(t, err)
	_, err = s.AppendChatMessage(cs.ID, models.RoleUser, "start the login form")
	require.NoError(t, err)

	require.NoError(t, s.UpsertBranchLink(&models.BranchLink{
		RepoID:     "acme/widget",
		BranchName: "feat/login",
		LinkType:   models.BranchLinkPR,
		URL:        "https://github.com/acme/widget/pull/12",
	}))
	_, err = s.AddTaskInstruction("acme/widget", "feat/login", "use the shared form component")
	require.NoError(t, err)
	_, err = s.AppendInstructionsLog("acme/widget", "feat/login", "kickoff")
	require.NoError(t, err)

	// A sibling branch's rows must survive the cascade.
	other, err := s.CreateChatSession("/wt/feat-other", "feat/other")
	require.NoError(t, err)

	require.NoError(t, s.DeleteBranchData("acme/widget", "feat/login"))

	_, err = s.GetChatSession(cs.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	msgs, err := s.ListChatMessages(cs.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	links, err := s.ListBranchLinks("acme/widget", "feat/login")
	require.NoError(t, err)
	assert.Empty(t, links)
	instructions, err := s.ListTaskInstructions("acme/widget", "feat/login")
	require.NoError(t, err)
	assert.Empty(t, instructions)
	log, err := s.ListInstructionsLog("acme/widget")
	require.NoError(t, err)
	assert.Empty(t, log)

	_, err = s.GetChatSession(other.ID)
	assert.NoError(t, err)
}

func TestDeleteOrphanedBranchData(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreateChatSession("/wt/live", "feat/live")
	require.NoError(t, err)
	_, err = s.CreateChatSession("/wt/gone", "feat/gone")
	require.NoError(t, err)
	_, err = s.AddTaskInstruction("acme/widget", "feat/gone", "obsolete")
	require.NoError(t, err)

	n, err := s.DeleteOrphanedBranchData("acme/widget", []string{"feat/live", "main"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	live, err := s.ListChatSessionsForBranch("feat/live")
	require.NoError(t, err)
	assert.Len(t, live, 1)
	gone, err := s.ListChatSessionsForBranch("feat/gone")
	require.NoError(t, err)
	assert.Empty(t, gone)
}

func TestTerminalSessionLifecycle(t *testing.T) {
	s := newTestStore(t)

	ts, err := s.CreateOrGetTerminalSession("acme/widget", "/wt/feat-login")
	require.NoError(t, err)
	assert.Equal(t, models.TerminalStopped, ts.Status)
	assert.Nil(t, ts.PID)

	// Create-or-get is keyed by worktree path.
	again, err := s.CreateOrGetTerminalSession("acme/widget", "/wt/feat-login")
	require.NoError(t, err)
	assert.Equal(t, ts.ID, again.ID)

	require.NoError(t, s.MarkTerminalRunning(ts.ID, 4242))
	got, err := s.GetTerminalSession(ts.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TerminalRunning, got.Status)
	require.NotNil(t, got.PID)
	assert.Equal(t, 4242, *got.PID)

	require.NoError(t, s.MarkTerminalStopped(ts.ID, "$ make test\nok\n"))
	got, err = s.GetTerminalSession(ts.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TerminalStopped, got.Status)
	assert.Nil(t, got.PID)
	assert.Equal(t, "$ make test\nok\n", got.LastOutput)
}

func TestResetTerminalSessions(t *testing.T) {
	s := newTestStore(t)

	a, err := s.CreateOrGetTerminalSession("acme/widget", "/wt/a")
	require.NoError(t, err)
	require.NoError(t, s.MarkTerminalRunning(a.ID, 100))

	require.NoError(t, s.ResetTerminalSessions())

	got, err := s.GetTerminalSession(a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TerminalStopped, got.Status)
	assert.Nil(t, got.PID)
}

func TestUpsertBranchLinkKeyedByRepoBranchURL(t *testing.T) {
	s := newTestStore(t)

	link := &models.BranchLink{
		RepoID:     "acme/widget",
		BranchName: "feat/login",
		LinkType:   models.BranchLinkPR,
		URL:        "https://github.com/acme/widget/pull/12",
		Number:     12,
		Title:      "Add login",
	}
	require.NoError(t, s.UpsertBranchLink(link))
	firstID := link.ID

	update := &models.BranchLink{
		RepoID:     "acme/widget",
		BranchName: "feat/login",
		LinkType:   models.BranchLinkPR,
		URL:        "https://github.com/acme/widget/pull/12",
		Number:     12,
		Title:      "Add login v2",
		Status:     "MERGED",
	}
	require.NoError(t, s.UpsertBranchLink(update))
	assert.Equal(t, firstID, update.ID)

	links, err := s.ListBranchLinks("acme/widget", "feat/login")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "Add login v2", links[0].Title)
	assert.Equal(t, "MERGED", links[0].Status)
}

func TestExternalLinkContentLifecycle(t *testing.T) {
	s := newTestStore(t)

	link := &models.ExternalLink{
		PlanningSessionID: "ps-1",
		URL:               "https://www.notion.so/acme/spec",
	}
	require.NoError(t, s.CreateExternalLink(link))
	assert.Equal(t, models.ExternalNotion, link.LinkType)
	assert.Nil(t, link.ContentCache)

	content := "# Spec\nthe plan"
	require.NoError(t, s.SetExternalLinkContent(link.ID, &content, time.Now()))

	got, err := s.GetExternalLink(link.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ContentCache)
	assert.Equal(t, content, *got.ContentCache)
	assert.NotNil(t, got.LastFetchedAt)

	// A fetch that yields nothing records the attempt with a null cache.
	require.NoError(t, s.SetExternalLinkContent(link.ID, nil, time.Now()))
	got, err = s.GetExternalLink(link.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ContentCache)
}

func TestInferLinkType(t *testing.T) {
	cases := []struct {
		url  string
		want models.ExternalLinkType
	}{
		{"https://www.notion.so/acme/page", models.ExternalNotion},
		{"https://acme.notion.site/page", models.ExternalNotion},
		{"https://www.figma.com/file/xyz", models.ExternalFigma},
		{"https://github.com/acme/widget/issues/4", models.ExternalGitHubIssue},
		{"https://github.com/acme/widget/pull/12", models.ExternalGitHubPR},
		{"https://docs.example.com/design", models.ExternalURL},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, InferLinkType(tc.url), tc.url)
	}
}

func TestPlanningSessionStatusTransitions(t *testing.T) {
	s := newTestStore(t)

	ps := &models.PlanningSession{
		RepoID:     "acme/widget",
		Title:      "Login epic",
		BaseBranch: "main",
		Nodes:      []models.TaskNode{{ID: "a", Title: "A"}},
		Edges:      []models.PlanEdge{},
	}
	require.NoError(t, s.SavePlanningSession(ps))
	require.NotEmpty(t, ps.ID)
	assert.Equal(t, models.PlanDraft, ps.Status)

	require.NoError(t, s.SetPlanningStatus(ps.ID, models.PlanConfirmed))
	got, err := s.GetPlanningSession(ps.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanConfirmed, got.Status)

	// Confirmation is reversible and non-destructive.
	require.NoError(t, s.SetPlanningStatus(ps.ID, models.PlanDraft))
	got, err = s.GetPlanningSession(ps.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanDraft, got.Status)
	assert.Len(t, got.Nodes, 1)

	assert.ErrorIs(t, s.SetPlanningStatus("missing", models.PlanConfirmed), ErrNotFound)
}

func TestRepoPinRoundTrip(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SetRepoPin("acme/widget", "develop"))
	pin, err := s.GetRepoPin("acme/widget")
	require.NoError(t, err)
	assert.Equal(t, "develop", pin.BaseBranch)

	require.NoError(t, s.SetRepoPin("acme/widget", "main"))
	pin, err = s.GetRepoPin("acme/widget")
	require.NoError(t, err)
	assert.Equal(t, "main", pin.BaseBranch)

	require.NoError(t, s.DeleteRepoPin("acme/widget"))
	_, err = s.GetRepoPin("acme/widget")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBranchNamingRuleNilWhenUnset(t *testing.T) {
	s := newTestStore(t)

	rule, err := s.GetBranchNamingRule("acme/widget")
	require.NoError(t, err)
	assert.Nil(t, rule)

	require.NoError(t, s.SetBranchNamingRule("acme/widget", &models.BranchNamingRule{
		Pattern:     "task/{planId}-{taskSlug}",
		Description: "plan-scoped task branches",
		Examples:    []string{"task/12-login-form"},
	}))
	rule, err = s.GetBranchNamingRule("acme/widget")
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.Equal(t, "task/{planId}-{taskSlug}", rule.Pattern)
}
