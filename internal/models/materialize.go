package models

// MaterializeTask is one task submitted to the tree materializer.
type MaterializeTask struct {
	ID           string `json:"id"`
	BranchName   string `json:"branchName"`
	ParentBranch string `json:"parentBranch"`
	WorktreeName string `json:"worktreeName,omitempty"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
}

// MaterializeResult records the outcome for one task. Failures are captured
// here; they never abort the batch.
type MaterializeResult struct {
	TaskID        string `json:"taskId"`
	BranchName    string `json:"branchName"`
	WorktreePath  string `json:"worktreePath,omitempty"`
	ChatSessionID string `json:"chatSessionId,omitempty"`
	Success       bool   `json:"success"`
	// PRSkipped is set when the task itself succeeded but the PR path
	// failed (existence check, push or create).
	PRSkipped bool   `json:"prSkipped,omitempty"`
	PRUrl     string `json:"prUrl,omitempty"`
	PRNumber  int    `json:"prNumber,omitempty"`
	Error     string `json:"error,omitempty"`
}

// MaterializeSummary is the batch outcome.
type MaterializeSummary struct {
	Results []MaterializeResult `json:"results"`
	Total   int                 `json:"total"`
	Success int                 `json:"success"`
	Failed  int                 `json:"failed"`
}
