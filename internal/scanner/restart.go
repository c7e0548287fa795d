package scanner

import (
	"fmt"
	"strings"

	"github.com/vibetree/vibetree/internal/models"
)

// maxRestartActions bounds the action-item list in a restart hint.
const maxRestartActions = 3

// restartHint synthesizes a markdown block for the first active worktree:
// a cd command, a state summary and up to three action items drawn from
// that branch's warnings. Empty when no worktree is active. The block is
// meant to be pasted into an AI coding agent after a restart.
func restartHint(snapshot *models.ScanSnapshot) string {
	var active *models.Worktree
	for i := range snapshot.Worktrees {
		if snapshot.Worktrees[i].Active {
			active = &snapshot.Worktrees[i]
			break
		}
	}
	if active == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Resume work\n\n")
	fmt.Fprintf(&b, "```sh\ncd %s\n```\n\n", active.Path)

	fmt.Fprintf(&b, "### Current state\n\n")
	fmt.Fprintf(&b, "- Branch: `%s`", active.Branch)
	if active.Agent != "" {
		fmt.Fprintf(&b, " (agent: %s)", active.Agent)
	}
	b.WriteString("\n")
	if active.Dirty {
		b.WriteString("- Working tree has uncommitted changes\n")
	} else {
		b.WriteString("- Working tree is clean\n")
	}
	for _, node := range snapshot.Nodes {
		if node.BranchName != active.Branch {
			continue
		}
		if ab := node.AheadBehind; ab != nil {
			fmt.Fprintf(&b, "- %d ahead / %d behind `%s`\n", ab.Ahead, ab.Behind, snapshot.DefaultBranch)
		}
		if node.PR != nil {
			fmt.Fprintf(&b, "- PR #%d (%s): %s\n", node.PR.Number, strings.ToLower(node.PR.State), node.PR.URL)
		}
	}

	var actions []string
	for _, w := range snapshot.Warnings {
		if branch, _ := w.Meta["branch"].(string); branch != active.Branch {
			continue
		}
		actions = append(actions, w.Message)
		if len(actions) == maxRestartActions {
			break
		}
	}
	if len(actions) > 0 {
		b.WriteString("\n### Action items\n\n")
		for _, a := range actions {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}

	return b.String()
}

// RestartPromptForWorktree builds the hint for one specific worktree path.
func (s *Scanner) RestartPromptForWorktree(snapshot *models.ScanSnapshot, worktreePath string) string {
	trimmed := *snapshot
	trimmed.Worktrees = nil
	for _, wt := range snapshot.Worktrees {
		if wt.Path == worktreePath {
			wt.Active = true
			trimmed.Worktrees = append(trimmed.Worktrees, wt)
		}
	}
	return restartHint(&trimmed)
}
