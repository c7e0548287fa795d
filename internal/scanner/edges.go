package scanner

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/vibetree/vibetree/internal/logger"
	"github.com/vibetree/vibetree/internal/models"
)

// inferEdges derives one parent edge per non-default branch. The best
// parent is the other branch whose name is the longest prefix of the child
// followed by '/' or '-'; the default branch is the low-confidence
// fallback. Designed edges from the tree spec override inferred ones.
func inferEdges(branches []models.Branch, defaultBranch string, spec *models.TreeSpec) []models.TreeEdge {
	names := make([]string, 0, len(branches))
	exists := make(map[string]bool, len(branches))
	for _, b := range branches {
		names = append(names, b.Name)
		exists[b.Name] = true
	}

	edges := make([]models.TreeEdge, 0, len(names))
	for _, child := range names {
		if child == defaultBranch {
			continue
		}
		parent := bestPrefixParent(child, names)
		if parent != "" {
			edges = append(edges, models.TreeEdge{
				Parent:     parent,
				Child:      child,
				Confidence: models.ConfidenceHigh,
			})
		} else {
			edges = append(edges, models.TreeEdge{
				Parent:     defaultBranch,
				Child:      child,
				Confidence: models.ConfidenceLow,
			})
		}
	}

	for _, designed := range designedEdges(spec) {
		if !exists[designed.Child] || !exists[designed.Parent] {
			continue
		}
		replaced := false
		for i := range edges {
			if edges[i].Child == designed.Child {
				edges[i] = designed
				replaced = true
				break
			}
		}
		if !replaced {
			edges = append(edges, designed)
		}
	}

	return edges
}

// bestPrefixParent returns the longest other branch that prefixes child at
// a '/' or '-' boundary, empty when none qualifies.
func bestPrefixParent(child string, names []string) string {
	best := ""
	for _, candidate := range names {
		if candidate == child || len(candidate) >= len(child) {
			continue
		}
		if !strings.HasPrefix(child, candidate) {
			continue
		}
		sep := child[len(candidate)]
		if sep != '/' && sep != '-' {
			continue
		}
		if len(candidate) > len(best) {
			best = candidate
		}
	}
	return best
}

// designedEdges maps a tree spec's node-id edges onto branch names.
func designedEdges(spec *models.TreeSpec) []models.TreeEdge {
	if spec == nil {
		return nil
	}
	branchOf := make(map[string]string, len(spec.Nodes))
	for _, n := range spec.Nodes {
		if n.BranchName != "" {
			branchOf[n.ID] = n.BranchName
		}
	}
	var edges []models.TreeEdge
	for _, e := range spec.Edges {
		parent, child := branchOf[e.From], branchOf[e.To]
		if parent == "" || child == "" {
			continue
		}
		edges = append(edges, models.TreeEdge{
			Parent:     parent,
			Child:      child,
			Confidence: models.ConfidenceHigh,
			IsDesigned: true,
		})
	}
	return edges
}

// assertAcyclic walks parent pointers from every node. Prefix-match parent
// selection cannot form a cycle (a parent's name is strictly shorter), so a
// cycle here is a scanner bug; it is logged, never fatal.
func assertAcyclic(edges []models.TreeEdge) {
	parentOf := make(map[string]string, len(edges))
	for _, e := range edges {
		parentOf[e.Child] = e.Parent
	}
	for start := range parentOf {
		seen := map[string]bool{start: true}
		for cur := parentOf[start]; cur != ""; cur = parentOf[cur] {
			if seen[cur] {
				logger.Errorf("scanner: cycle detected through branch %q", cur)
				return
			}
			seen[cur] = true
		}
	}
}

// namingPatternChars is the template alphabet: branch-name characters,
// dots, and the placeholder braces. Anything else is a broken pattern.
var namingPatternChars = regexp.MustCompile(`^[A-Za-z0-9/_.{}-]*$`)

// CompileNamingPattern turns a branch naming rule template into a regexp:
// {planId} matches digits, {taskSlug} matches a lowercase slug, everything
// else is literal. A pattern with characters outside the template alphabet
// fails instead of silently matching them literally.
func CompileNamingPattern(pattern string) (*regexp.Regexp, error) {
	if !namingPatternChars.MatchString(pattern) {
		return nil, fmt.Errorf("naming pattern %q contains characters outside the template alphabet", pattern)
	}
	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, regexp.QuoteMeta("{planId}"), `\d+`)
	escaped = strings.ReplaceAll(escaped, regexp.QuoteMeta("{taskSlug}"), `[a-z0-9-]+`)
	return regexp.Compile("^" + escaped + "$")
}
