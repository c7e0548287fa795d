package models

import "time"

// BranchLinkType distinguishes issue and PR links.
type BranchLinkType string

const (
	BranchLinkIssue BranchLinkType = "issue"
	BranchLinkPR    BranchLinkType = "pr"
)

// BranchLink associates a branch with a hosting artifact. Cascade-deleted
// with its branch.
type BranchLink struct {
	ID         string          `json:"id"`
	RepoID     string          `json:"repoId"`
	BranchName string          `json:"branchName"`
	LinkType   BranchLinkType  `json:"linkType"`
	URL        string          `json:"url"`
	Number     int             `json:"number,omitempty"`
	Title      string          `json:"title,omitempty"`
	Status     string          `json:"status,omitempty"`
	Checks     CheckConclusion `json:"checks,omitempty"`
	Labels     []string        `json:"labels,omitempty"`
	Reviewers  []string        `json:"reviewers,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// ExternalLinkType is inferred from the URL host pattern.
type ExternalLinkType string

const (
	ExternalNotion      ExternalLinkType = "notion"
	ExternalFigma       ExternalLinkType = "figma"
	ExternalGitHubIssue ExternalLinkType = "github_issue"
	ExternalGitHubPR    ExternalLinkType = "github_pr"
	ExternalURL         ExternalLinkType = "url"
)

// ExternalLink attaches reference material to a planning session. Content
// cache is refreshed on explicit request only.
type ExternalLink struct {
	ID                string           `json:"id"`
	PlanningSessionID string           `json:"planningSessionId"`
	URL               string           `json:"url"`
	LinkType          ExternalLinkType `json:"linkType"`
	Title             string           `json:"title,omitempty"`
	ContentCache      *string          `json:"contentCache,omitempty"`
	LastFetchedAt     *time.Time       `json:"lastFetchedAt,omitempty"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

// RepoPin stores the user's preferred base branch for a repo.
type RepoPin struct {
	RepoID     string    `json:"repoId"`
	BaseBranch string    `json:"baseBranch"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// TaskInstruction is a stored instruction attached to a branch.
type TaskInstruction struct {
	ID         string    `json:"id"`
	RepoID     string    `json:"repoId"`
	BranchName string    `json:"branchName"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

// InstructionsLogEntry is one append-only row in the instructions log.
type InstructionsLogEntry struct {
	ID         string    `json:"id"`
	RepoID     string    `json:"repoId"`
	BranchName string    `json:"branchName"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}
