package models

import "time"

// RequirementStatus tracks a requirement through its life.
type RequirementStatus string

const (
	RequirementOpen     RequirementStatus = "open"
	RequirementAccepted RequirementStatus = "accepted"
	RequirementDone     RequirementStatus = "done"
)

// Requirement is a free-form product requirement attached to a repo. The
// planning surface reads these when drafting task trees.
type Requirement struct {
	ID        string            `json:"id"`
	RepoID    string            `json:"repoId"`
	Title     string            `json:"title"`
	Content   string            `json:"content,omitempty"`
	Status    RequirementStatus `json:"status"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// AISettings is a repo's assistant configuration: which provider and model
// the chat surface talks to, plus an optional standing system prompt.
type AISettings struct {
	RepoID       string    `json:"repoId"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	SystemPrompt string    `json:"systemPrompt,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// SystemSetting is one server-wide key/value pair.
type SystemSetting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}
