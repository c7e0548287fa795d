// Package pty owns the process-wide pool of pseudo-terminal sessions keyed
// by session id, with ring-buffered output and fan-out subscribers.
package pty

import (
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/creack/pty"

	"github.com/vibetree/vibetree/internal/logger"
)

// MaxBufferSize caps the replay buffer at 64 KiB; appending beyond the cap
// drops from the head.
const MaxBufferSize = 64 * 1024

// DataSink receives PTY output chunks. Sinks are invoked synchronously on
// the reader goroutine and must not block; bytes come from a process and
// cannot be paused.
type DataSink func(data []byte)

// ExitSink is notified once when the session's process exits.
type ExitSink func(code int)

// Session is one live PTY with its subscribers and replay buffer.
type Session struct {
	id           string
	worktreePath string
	ptmx         *os.File
	cmd          *exec.Cmd

	mu        sync.Mutex
	buffer    []byte
	dataSinks map[int]DataSink
	exitSinks map[int]ExitSink
	nextSub   int
	exited    bool
}

// Manager is the process-wide PTY pool. At most one live session exists per
// id; ids map one-to-one to worktree paths at the request surface.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	shell    string
}

// NewManager creates a pool spawning the given shell (login mode).
func NewManager(shell string) *Manager {
	if shell == "" {
		shell = "/bin/bash"
	}
	return &Manager{
		sessions: make(map[string]*Session),
		shell:    shell,
	}
}

// Create spawns a shell in worktreePath, or returns the existing live
// session unchanged when the id is already present. Idempotent.
func (m *Manager) Create(sessionID, worktreePath string, cols, rows uint16) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[sessionID]; ok {
		return existing, nil
	}

	cmd := exec.Command(m.shell, "-l")
	cmd.Dir = worktreePath
	cmd.Env = sanitizedEnv()

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:           sessionID,
		worktreePath: worktreePath,
		ptmx:         ptmx,
		cmd:          cmd,
		dataSinks:    make(map[int]DataSink),
		exitSinks:    make(map[int]ExitSink),
	}
	m.sessions[sessionID] = s

	go m.readLoop(s)

	logger.Infof("pty: started session %s in %s (pid %d)", sessionID, worktreePath, cmd.Process.Pid)
	return s, nil
}

// readLoop pumps PTY output into the ring buffer and to every subscriber,
// then handles process exit.
func (m *Manager) readLoop(s *Session) {
	buf := make([]byte, 4096)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.append(chunk)
		}
		if err != nil {
			break
		}
	}

	code := 0
	if err := s.cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	_ = s.ptmx.Close()

	s.mu.Lock()
	s.exited = true
	sinks := make([]ExitSink, 0, len(s.exitSinks))
	for _, sink := range s.exitSinks {
		sinks = append(sinks, sink)
	}
	s.mu.Unlock()

	for _, sink := range sinks {
		sink(code)
	}

	m.mu.Lock()
	delete(m.sessions, s.id)
	m.mu.Unlock()

	logger.Infof("pty: session %s exited with code %d", s.id, code)
}

// append adds a chunk to the ring buffer and fans it out. Each live chunk
// reaches every current subscriber exactly once.
func (s *Session) append(chunk []byte) {
	s.mu.Lock()
	s.buffer = append(s.buffer, chunk...)
	if overflow := len(s.buffer) - MaxBufferSize; overflow > 0 {
		s.buffer = s.buffer[overflow:]
	}
	sinks := make([]DataSink, 0, len(s.dataSinks))
	for _, sink := range s.dataSinks {
		sinks = append(sinks, sink)
	}
	s.mu.Unlock()

	for _, sink := range sinks {
		sink(chunk)
	}
}

func (m *Manager) get(sessionID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// Write sends bytes to the session's stdin. Returns false for unknown ids.
func (m *Manager) Write(sessionID string, data []byte) bool {
	s, ok := m.get(sessionID)
	if !ok {
		return false
	}
	_, err := s.ptmx.Write(data)
	return err == nil
}

// Resize updates the terminal dimensions. Returns false for unknown ids.
func (m *Manager) Resize(sessionID string, cols, rows uint16) bool {
	s, ok := m.get(sessionID)
	if !ok {
		return false
	}
	return pty.Setsize(s.ptmx, &pty.Winsize{Cols: cols, Rows: rows}) == nil
}

// Kill terminates the session's process. Returns false for unknown ids.
// The exit path removes the session from the pool.
func (m *Manager) Kill(sessionID string) bool {
	s, ok := m.get(sessionID)
	if !ok {
		return false
	}
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	return true
}

// OnData subscribes to output chunks. Replay of the existing buffer is the
// caller's responsibility (the request surface sends it on attach). The
// returned func unsubscribes.
func (m *Manager) OnData(sessionID string, sink DataSink) (func(), bool) {
	s, ok := m.get(sessionID)
	if !ok {
		return nil, false
	}
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.dataSinks[id] = sink
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.dataSinks, id)
		s.mu.Unlock()
	}, true
}

// OnDataWithReplay snapshots the buffer and subscribes in one critical
// section, so a chunk arriving between the two is neither lost from the
// replay nor delivered twice. The returned func unsubscribes.
func (m *Manager) OnDataWithReplay(sessionID string, sink DataSink) ([]byte, func(), bool) {
	s, ok := m.get(sessionID)
	if !ok {
		return nil, nil, false
	}
	s.mu.Lock()
	buf := make([]byte, len(s.buffer))
	copy(buf, s.buffer)
	id := s.nextSub
	s.nextSub++
	s.dataSinks[id] = sink
	s.mu.Unlock()

	return buf, func() {
		s.mu.Lock()
		delete(s.dataSinks, id)
		s.mu.Unlock()
	}, true
}

// OnExit subscribes to process exit. The returned func unsubscribes.
func (m *Manager) OnExit(sessionID string, sink ExitSink) (func(), bool) {
	s, ok := m.get(sessionID)
	if !ok {
		return nil, false
	}
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.exitSinks[id] = sink
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.exitSinks, id)
		s.mu.Unlock()
	}, true
}

// OutputBuffer returns a copy of the current ring-buffered tail.
func (m *Manager) OutputBuffer(sessionID string) ([]byte, bool) {
	s, ok := m.get(sessionID)
	if !ok {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.buffer))
	copy(out, s.buffer)
	return out, true
}

// IsRunning reports whether a live session exists for the id.
func (m *Manager) IsRunning(sessionID string) bool {
	_, ok := m.get(sessionID)
	return ok
}

// Pid returns the session's process id.
func (m *Manager) Pid(sessionID string) (int, bool) {
	s, ok := m.get(sessionID)
	if !ok || s.cmd.Process == nil {
		return 0, false
	}
	return s.cmd.Process.Pid, true
}

// Cleanup kills every live session. Called on server shutdown and before a
// restarted server accepts connections.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Kill(id)
	}
	if len(ids) > 0 {
		logger.Infof("pty: cleaned up %d sessions", len(ids))
	}
}

// sanitizedEnv passes through the parent environment minus variables that
// would leak server internals, plus fixed terminal settings.
func sanitizedEnv() []string {
	var env []string
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "TERM=") || strings.HasPrefix(kv, "COLORTERM=") ||
			strings.HasPrefix(kv, "VIBETREE_") {
			continue
		}
		env = append(env, kv)
	}
	return append(env, "TERM=xterm-256color", "COLORTERM=truecolor")
}
