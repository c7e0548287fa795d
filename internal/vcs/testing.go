package vcs

import (
	"context"
	"strings"
	"sync"
)

// FakeRunner is a scripted Runner for tests. Stubs match on command name
// plus a leading argv prefix; the longest matching prefix wins. Unmatched
// invocations fail with an ExecError so tests surface missing stubs.
type FakeRunner struct {
	mu    sync.Mutex
	stubs []fakeStub
	// Calls records every invocation in order.
	Calls []FakeCall
}

type fakeStub struct {
	prefix []string
	out    []byte
	err    error
}

// FakeCall is one recorded invocation.
type FakeCall struct {
	Dir  string
	Name string
	Args []string
}

// Stub registers output for invocations of name whose args start with
// prefix.
func (f *FakeRunner) Stub(name string, prefix []string, out string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stubs = append(f.stubs, fakeStub{
		prefix: append([]string{name}, prefix...),
		out:    []byte(out),
		err:    err,
	})
}

func (f *FakeRunner) Run(_ context.Context, dir string, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Calls = append(f.Calls, FakeCall{Dir: dir, Name: name, Args: args})

	full := append([]string{name}, args...)
	var best *fakeStub
	for i := range f.stubs {
		s := &f.stubs[i]
		if hasPrefix(full, s.prefix) && (best == nil || len(s.prefix) > len(best.prefix)) {
			best = s
		}
	}
	if best == nil {
		return nil, &ExecError{
			Cmd:      strings.Join(full, " "),
			ExitCode: 1,
			Stderr:   "no stub for: " + strings.Join(full, " "),
		}
	}
	return best.out, best.err
}

// CallsFor returns recorded argv lists for a command name.
func (f *FakeRunner) CallsFor(name string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]string
	for _, c := range f.Calls {
		if c.Name == name {
			out = append(out, c.Args)
		}
	}
	return out
}

func hasPrefix(full, prefix []string) bool {
	if len(prefix) > len(full) {
		return false
	}
	for i, p := range prefix {
		if full[i] != p {
			return false
		}
	}
	return true
}
