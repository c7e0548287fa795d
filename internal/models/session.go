package models

import "time"

// TerminalStatus is the state of a terminal session row.
type TerminalStatus string

const (
	TerminalRunning TerminalStatus = "running"
	TerminalStopped TerminalStatus = "stopped"
)

// TerminalSession is a durable row backing one live PTY. At most one live
// PTY exists per worktree path; the row outlives the process, the PTY does
// not.
type TerminalSession struct {
	ID           string         `json:"id"`
	RepoID       string         `json:"repoId"`
	WorktreePath string         `json:"worktreePath"`
	PID          *int           `json:"pid,omitempty"`
	Status       TerminalStatus `json:"status"`
	// LastOutput holds the trailing ring buffer (≤64 KiB) after a stop.
	LastOutput string    `json:"lastOutput,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// ChatStatus is the state of a chat session.
type ChatStatus string

const (
	ChatActive   ChatStatus = "active"
	ChatArchived ChatStatus = "archived"
)

// ChatSession is lifecycle metadata for an agent conversation. Content is
// opaque to the coordination core.
type ChatSession struct {
	ID           string     `json:"id"`
	WorktreePath string     `json:"worktreePath"`
	BranchName   string     `json:"branchName"`
	Status       ChatStatus `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// ChatRole is the author of a chat message.
type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
	RoleSystem    ChatRole = "system"
)

// ChatMessage is one append-only message in a chat session.
type ChatMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      ChatRole  `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
