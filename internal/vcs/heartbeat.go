package vcs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// heartbeatWindow is how stale a heartbeat may be before the worktree is no
// longer considered active.
const heartbeatWindow = 30 * time.Second

// Heartbeat is the on-disk liveness file written by an agent inside a
// worktree.
type Heartbeat struct {
	UpdatedAt time.Time `json:"updatedAt"`
	Agent     string    `json:"agent"`
}

// ReadHeartbeat reads <worktreePath>/.vibetree/heartbeat.json. It returns
// (agent, true) when the file exists and was updated within the last 30
// seconds. A missing or unparseable file is simply inactive.
func ReadHeartbeat(worktreePath string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(worktreePath, ".vibetree", "heartbeat.json"))
	if err != nil {
		return "", false
	}
	var hb Heartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		return "", false
	}
	if now().Sub(hb.UpdatedAt) > heartbeatWindow {
		return "", false
	}
	return hb.Agent, true
}
