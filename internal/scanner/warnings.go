package scanner

import (
	"fmt"

	"github.com/vibetree/vibetree/internal/logger"
	"github.com/vibetree/vibetree/internal/models"
)

// behindErrorThreshold is where BEHIND_PARENT escalates from warn to error.
const behindErrorThreshold = 5

// collectWarnings derives the snapshot's warning list.
func collectWarnings(snapshot *models.ScanSnapshot, rule *models.BranchNamingRule) []models.Warning {
	var warnings []models.Warning

	for _, node := range snapshot.Nodes {
		if node.BranchName == snapshot.DefaultBranch {
			continue
		}
		if ab := node.AheadBehind; ab != nil && ab.Behind >= 1 {
			severity := models.SeverityWarn
			if ab.Behind >= behindErrorThreshold {
				severity = models.SeverityError
			}
			warnings = append(warnings, models.Warning{
				Severity: severity,
				Code:     models.WarnBehindParent,
				Message:  fmt.Sprintf("%s is %d commits behind %s", node.BranchName, ab.Behind, snapshot.DefaultBranch),
				Meta:     map[string]any{"branch": node.BranchName, "behind": ab.Behind},
			})
		}
	}

	for _, wt := range snapshot.Worktrees {
		if !wt.Dirty {
			continue
		}
		warnings = append(warnings, models.Warning{
			Severity: models.SeverityWarn,
			Code:     models.WarnDirty,
			Message:  fmt.Sprintf("worktree %s has uncommitted changes", wt.Path),
			Meta:     map[string]any{"branch": wt.Branch, "path": wt.Path},
		})
	}

	for _, node := range snapshot.Nodes {
		if node.PR != nil && node.PR.Checks == models.ChecksFailure {
			warnings = append(warnings, models.Warning{
				Severity: models.SeverityError,
				Code:     models.WarnCIFail,
				Message:  fmt.Sprintf("CI is failing on %s (PR #%d)", node.BranchName, node.PR.Number),
				Meta:     map[string]any{"branch": node.BranchName, "prNumber": node.PR.Number},
			})
		}
	}

	if rule != nil && rule.Pattern != "" {
		re, err := CompileNamingPattern(rule.Pattern)
		if err != nil {
			logger.Warnf("scanner: invalid branch naming pattern %q: %v", rule.Pattern, err)
		} else {
			for _, node := range snapshot.Nodes {
				if node.BranchName == snapshot.DefaultBranch || re.MatchString(node.BranchName) {
					continue
				}
				warnings = append(warnings, models.Warning{
					Severity: models.SeverityWarn,
					Code:     models.WarnBranchNamingViolation,
					Message:  fmt.Sprintf("%s does not match the naming rule %q", node.BranchName, rule.Pattern),
					Meta:     map[string]any{"branch": node.BranchName, "pattern": rule.Pattern},
				})
			}
		}
	}

	// A designed edge whose child git places under a different parent means
	// the plan and the repo have drifted apart.
	inferredParent := make(map[string]string, len(snapshot.Edges))
	for _, e := range snapshot.Edges {
		if !e.IsDesigned {
			inferredParent[e.Child] = e.Parent
		}
	}
	for _, e := range snapshot.Edges {
		if !e.IsDesigned {
			continue
		}
		if got, ok := inferredParent[e.Child]; ok && got == e.Parent {
			continue
		}
		// The designed edge replaced the inferred one in the snapshot, so
		// recompute what git alone would have said.
		names := make([]string, 0, len(snapshot.Branches))
		for _, b := range snapshot.Branches {
			names = append(names, b.Name)
		}
		gitParent := bestPrefixParent(e.Child, names)
		if gitParent == "" {
			gitParent = snapshot.DefaultBranch
		}
		if gitParent == e.Parent {
			continue
		}
		warnings = append(warnings, models.Warning{
			Severity: models.SeverityWarn,
			Code:     models.WarnTreeDivergence,
			Message:  fmt.Sprintf("designed edge %s → %s diverges from git (%s → %s)", e.Parent, e.Child, gitParent, e.Child),
			Meta:     map[string]any{"parent": e.Parent, "child": e.Child, "gitParent": gitParent},
		})
	}

	return warnings
}
