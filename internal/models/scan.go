package models

import "time"

// Branch is a local branch as reported by the VCS adapter.
type Branch struct {
	Name         string    `json:"name"`
	Commit       string    `json:"commit"`
	LastCommitAt time.Time `json:"lastCommitAt"`
}

// Worktree is a checked-out working copy.
type Worktree struct {
	Path   string `json:"path"`
	Branch string `json:"branch,omitempty"`
	Commit string `json:"commit"`
	Dirty  bool   `json:"dirty"`
	// Active is set when the on-disk heartbeat was updated within 30s.
	Active bool   `json:"active,omitempty"`
	Agent  string `json:"agent,omitempty"`
}

// CheckConclusion is the reduced CI rollup state of a PR.
type CheckConclusion string

const (
	ChecksSuccess CheckConclusion = "success"
	ChecksFailure CheckConclusion = "failure"
	ChecksPending CheckConclusion = "pending"
)

// PullRequest is a hosting-CLI PR record.
type PullRequest struct {
	Number         int             `json:"number"`
	Title          string          `json:"title"`
	State          string          `json:"state"`
	URL            string          `json:"url"`
	Branch         string          `json:"branch"`
	Draft          bool            `json:"draft"`
	Labels         []string        `json:"labels,omitempty"`
	Assignees      []string        `json:"assignees,omitempty"`
	ReviewDecision string          `json:"reviewDecision,omitempty"`
	Checks         CheckConclusion `json:"checks,omitempty"`
	Additions      int             `json:"additions"`
	Deletions      int             `json:"deletions"`
	ChangedFiles   int             `json:"changedFiles"`
}

// Badge is a per-node marker rendered by the UI.
type Badge string

const (
	BadgeDirty            Badge = "dirty"
	BadgeActive           Badge = "active"
	BadgePR               Badge = "pr"
	BadgePRMerged         Badge = "pr-merged"
	BadgeDraft            Badge = "draft"
	BadgeCIFail           Badge = "ci-fail"
	BadgeCIPass           Badge = "ci-pass"
	BadgeApproved         Badge = "approved"
	BadgeChangesRequested Badge = "changes-requested"
)

// AheadBehind is a left-right rev-list count against the default branch.
type AheadBehind struct {
	Ahead  int `json:"ahead"`
	Behind int `json:"behind"`
}

// TreeNode is one branch in a scan snapshot.
type TreeNode struct {
	BranchName   string       `json:"branchName"`
	Badges       []Badge      `json:"badges"`
	LastCommitAt time.Time    `json:"lastCommitAt"`
	PR           *PullRequest `json:"pr,omitempty"`
	Worktree     *Worktree    `json:"worktree,omitempty"`
	AheadBehind  *AheadBehind `json:"aheadBehind,omitempty"`
}

// Confidence grades how an edge was derived.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// TreeEdge is a parent→child branch relation. For every non-root branch
// exactly one edge targets it.
type TreeEdge struct {
	Parent     string     `json:"parent"`
	Child      string     `json:"child"`
	Confidence Confidence `json:"confidence"`
	IsDesigned bool       `json:"isDesigned,omitempty"`
}

// WarningCode identifies a scanner warning class.
type WarningCode string

const (
	WarnBehindParent          WarningCode = "BEHIND_PARENT"
	WarnDirty                 WarningCode = "DIRTY"
	WarnCIFail                WarningCode = "CI_FAIL"
	WarnBranchNamingViolation WarningCode = "BRANCH_NAMING_VIOLATION"
	WarnTreeDivergence        WarningCode = "TREE_DIVERGENCE"
)

// Severity of a scanner warning.
type Severity string

const (
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Warning is one scanner finding.
type Warning struct {
	Severity Severity       `json:"severity"`
	Code     WarningCode    `json:"code"`
	Message  string         `json:"message"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// RepoRules groups per-repo rule documents.
type RepoRules struct {
	BranchNaming *BranchNamingRule `json:"branchNaming,omitempty"`
}

// BranchNamingRule constrains branch names. Pattern is a template with
// {taskSlug} and optional {planId} placeholders.
type BranchNamingRule struct {
	Pattern     string   `json:"pattern"`
	Description string   `json:"description,omitempty"`
	Examples    []string `json:"examples,omitempty"`
}

// ScanSnapshot is the computed, ephemeral view of one repository. It is
// recomputed per request and broadcast by value.
type ScanSnapshot struct {
	RepoID        string     `json:"repoId"`
	DefaultBranch string     `json:"defaultBranch"`
	Branches      []Branch   `json:"branches"`
	Nodes         []TreeNode `json:"nodes"`
	Edges         []TreeEdge `json:"edges"`
	Warnings      []Warning  `json:"warnings"`
	Worktrees     []Worktree `json:"worktrees"`
	Rules         *RepoRules `json:"rules,omitempty"`
	Restart       string     `json:"restart,omitempty"`
	TreeSpec      *TreeSpec  `json:"treeSpec,omitempty"`
}
