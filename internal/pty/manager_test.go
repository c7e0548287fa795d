package pty

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBareSession() *Session {
	return &Session{
		dataSinks: make(map[int]DataSink),
		exitSinks: make(map[int]ExitSink),
	}
}

func TestAppendKeepsTailAtBufferCap(t *testing.T) {
	s := newBareSession()

	s.append(bytes.Repeat([]byte{'a'}, MaxBufferSize))
	s.append([]byte("tail"))

	assert.Len(t, s.buffer, MaxBufferSize)
	assert.True(t, bytes.HasSuffix(s.buffer, []byte("tail")))
	// The head was dropped, not the new data.
	assert.Equal(t, byte('a'), s.buffer[0])
}

func TestAppendOversizedChunkKeepsOnlyTail(t *testing.T) {
	s := newBareSession()

	chunk := bytes.Repeat([]byte{'x'}, MaxBufferSize+100)
	chunk[len(chunk)-1] = 'z'
	s.append(chunk)

	assert.Len(t, s.buffer, MaxBufferSize)
	assert.Equal(t, byte('z'), s.buffer[len(s.buffer)-1])
}

func TestAppendFansOutToEverySubscriber(t *testing.T) {
	s := newBareSession()

	var mu sync.Mutex
	var first, second [][]byte
	s.dataSinks[0] = func(data []byte) {
		mu.Lock()
		first = append(first, data)
		mu.Unlock()
	}
	s.dataSinks[1] = func(data []byte) {
		mu.Lock()
		second = append(second, data)
		mu.Unlock()
	}

	s.append([]byte("one"))
	s.append([]byte("two"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, first, 2)
	require.Len(t, second, 2)
	assert.Equal(t, "one", string(first[0]))
	assert.Equal(t, "two", string(second[1]))
}

func TestOnDataWithReplaySeesEveryChunkOnce(t *testing.T) {
	m := NewManager("/bin/sh")
	s := newBareSession()
	s.id = "s1"
	m.sessions["s1"] = s

	s.append([]byte("before-"))

	var mu sync.Mutex
	var live []byte
	buffer, unsub, ok := m.OnDataWithReplay("s1", func(chunk []byte) {
		mu.Lock()
		live = append(live, chunk...)
		mu.Unlock()
	})
	require.True(t, ok)
	t.Cleanup(unsub)

	s.append([]byte("after"))

	mu.Lock()
	defer mu.Unlock()
	// Pre-subscription bytes come back in the snapshot, later ones through
	// the sink; nothing is lost and nothing arrives twice.
	assert.Equal(t, "before-", string(buffer))
	assert.Equal(t, "after", string(live))
}

func TestUnknownSessionOperations(t *testing.T) {
	m := NewManager("/bin/sh")

	assert.False(t, m.Write("nope", []byte("x")))
	assert.False(t, m.Resize("nope", 80, 24))
	assert.False(t, m.Kill("nope"))
	assert.False(t, m.IsRunning("nope"))
	_, ok := m.OutputBuffer("nope")
	assert.False(t, ok)
	_, ok = m.OnData("nope", func([]byte) {})
	assert.False(t, ok)
	_, ok = m.OnExit("nope", func(int) {})
	assert.False(t, ok)
}

func TestSanitizedEnvStripsServerVariables(t *testing.T) {
	t.Setenv("VIBETREE_PORT", "9999")
	t.Setenv("HOME", "/home/dev")

	env := sanitizedEnv()

	joined := strings.Join(env, "\n")
	assert.NotContains(t, joined, "VIBETREE_PORT")
	assert.Contains(t, joined, "HOME=/home/dev")
	assert.Contains(t, env, "TERM=xterm-256color")
	assert.Contains(t, env, "COLORTERM=truecolor")
}

func TestCreateIsIdempotentPerID(t *testing.T) {
	m := NewManager("/bin/sh")
	dir := t.TempDir()

	s1, err := m.Create("sess-1", dir, 80, 24)
	require.NoError(t, err)
	defer m.Kill("sess-1")

	s2, err := m.Create("sess-1", dir, 120, 40)
	require.NoError(t, err)
	assert.Same(t, s1, s2)
	assert.True(t, m.IsRunning("sess-1"))

	pid, ok := m.Pid("sess-1")
	require.True(t, ok)
	assert.Greater(t, pid, 0)
}

func TestSessionOutputReplayAndExit(t *testing.T) {
	m := NewManager("/bin/sh")
	dir := t.TempDir()

	_, err := m.Create("sess-2", dir, 80, 24)
	require.NoError(t, err)

	exitCh := make(chan int, 1)
	_, ok := m.OnExit("sess-2", func(code int) { exitCh <- code })
	require.True(t, ok)

	require.True(t, m.Write("sess-2", []byte("echo vibetree-marker\n")))

	deadline := time.Now().Add(5 * time.Second)
	for {
		buf, ok := m.OutputBuffer("sess-2")
		require.True(t, ok)
		if bytes.Contains(buf, []byte("vibetree-marker")) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("marker never appeared in output buffer: %q", buf)
		}
		time.Sleep(20 * time.Millisecond)
	}

	require.True(t, m.Write("sess-2", []byte("exit 0\n")))
	select {
	case code := <-exitCh:
		assert.Equal(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("session never exited")
	}

	// The exited session leaves the pool.
	assert.Eventually(t, func() bool { return !m.IsRunning("sess-2") },
		2*time.Second, 20*time.Millisecond)
}

func TestCleanupKillsEverySession(t *testing.T) {
	m := NewManager("/bin/sh")
	dir := t.TempDir()

	_, err := m.Create("a", dir, 80, 24)
	require.NoError(t, err)
	_, err = m.Create("b", dir, 80, 24)
	require.NoError(t, err)

	m.Cleanup()

	assert.Eventually(t, func() bool {
		return !m.IsRunning("a") && !m.IsRunning("b")
	}, 5*time.Second, 20*time.Millisecond)
}
