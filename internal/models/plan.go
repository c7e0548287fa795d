package models

import "time"

// PlanStatus is the lifecycle state of a planning session.
type PlanStatus string

const (
	PlanDraft     PlanStatus = "draft"
	PlanConfirmed PlanStatus = "confirmed"
	PlanDiscarded PlanStatus = "discarded"
)

// SpecStatus is the lifecycle state of a tree spec.
type SpecStatus string

const (
	SpecDraft     SpecStatus = "draft"
	SpecConfirmed SpecStatus = "confirmed"
	SpecGenerated SpecStatus = "generated"
)

// TaskStatus is the per-node work state.
type TaskStatus string

const (
	TaskTodo  TaskStatus = "todo"
	TaskDoing TaskStatus = "doing"
	TaskDone  TaskStatus = "done"
)

// TaskNode is one planned work item in a planning session or tree spec.
type TaskNode struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Status        TaskStatus `json:"status"`
	BranchName    string     `json:"branchName,omitempty"`
	WorktreePath  string     `json:"worktreePath,omitempty"`
	ChatSessionID string     `json:"chatSessionId,omitempty"`
	PRUrl         string     `json:"prUrl,omitempty"`
	PRNumber      int        `json:"prNumber,omitempty"`
}

// PlanEdge is a parent→child relation between task nodes.
type PlanEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// PlanningSession is an authored task tree, pre-materialization.
type PlanningSession struct {
	ID            string     `json:"id"`
	RepoID        string     `json:"repoId"`
	Title         string     `json:"title"`
	BaseBranch    string     `json:"baseBranch"`
	Status        PlanStatus `json:"status"`
	Nodes         []TaskNode `json:"nodes"`
	Edges         []PlanEdge `json:"edges"`
	ChatSessionID string     `json:"chatSessionId,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// TreeSpec is the legacy per-repo task tree, stored as one document.
type TreeSpec struct {
	RepoID     string     `json:"repoId"`
	BaseBranch string     `json:"baseBranch"`
	Status     SpecStatus `json:"status"`
	Nodes      []TaskNode `json:"nodes"`
	Edges      []PlanEdge `json:"edges"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Roots returns the node ids that no edge targets.
func (s *TreeSpec) Roots() []string {
	targeted := make(map[string]bool, len(s.Edges))
	for _, e := range s.Edges {
		targeted[e.To] = true
	}
	var roots []string
	for _, n := range s.Nodes {
		if !targeted[n.ID] {
			roots = append(roots, n.ID)
		}
	}
	return roots
}
