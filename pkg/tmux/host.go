// Package tmux implements the SessionHost capability: a terminal session
// running a configured CLI agent process, addressable by name, whose output
// can be captured and whose input can be driven by keystrokes (spec §4.5,
// §6: "terminal-multiplexer internals... treated as capability interfaces").
//
// Each session multiplexes a pseudo-terminal (via creack/pty) onto a named
// tmux-style window so Capture can return the trailing N lines the way an
// operator attached to a real tmux session would see them. ANSI escape
// sequences are stripped from persisted output (charmbracelet/x/ansi) so
// AgentLog rows and Guardian's prompt context stay plain text.
package tmux

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/creack/pty"
)

// Host manages named terminal sessions, one per Agent.
type Host struct {
	mu       sync.Mutex
	sessions map[string]*session
	command  []string // argv used to launch the CLI agent, e.g. ["claude", "--dangerously-skip-permissions"]
}

// NewHost builds a Host that launches command (argv0 + args) for every
// session it creates.
func NewHost(command []string) *Host {
	return &Host{
		sessions: make(map[string]*session),
		command:  command,
	}
}

type session struct {
	mu        sync.Mutex
	name      string
	dir       string
	cmd       *exec.Cmd
	pty       *os.File
	buf       *ringBuffer
	killed    bool
	createdAt time.Time
}

// ErrSessionNotFound is returned by Send/Capture for an unknown session
// name.
var ErrSessionNotFound = fmt.Errorf("tmux: session not found")

// Create starts a new session named name, launching the configured CLI
// inside workingDir.
func (h *Host) Create(ctx context.Context, name, workingDir string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.sessions[name]; exists {
		return fmt.Errorf("tmux: session %q already exists", name)
	}
	if len(h.command) == 0 {
		return fmt.Errorf("tmux: no agent command configured")
	}

	cmd := exec.CommandContext(ctx, h.command[0], h.command[1:]...)
	cmd.Dir = workingDir
	cmd.Env = os.Environ()

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("starting pty for session %q: %w", name, err)
	}

	s := &session{
		name:      name,
		dir:       workingDir,
		cmd:       cmd,
		pty:       ptmx,
		buf:       newRingBuffer(10_000),
		createdAt: time.Now(),
	}
	h.sessions[name] = s

	go s.drain()

	return nil
}

// Has reports whether a session with the given name is currently tracked.
func (h *Host) Has(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.sessions[name]
	return ok
}

// Send delivers text as keystrokes followed by a newline. Callers are
// responsible for the anti-spam invariant (spec §4.5) — Send here always
// delivers.
func (h *Host) Send(ctx context.Context, name, text string) error {
	s, err := h.get(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.killed {
		return fmt.Errorf("tmux: session %q already killed", name)
	}
	if _, err := s.pty.Write([]byte(text + "\n")); err != nil {
		return fmt.Errorf("writing to session %q: %w", name, err)
	}
	return nil
}

// Capture returns the trailing n plain-text (ANSI-stripped) lines of a
// session's output.
func (h *Host) Capture(name string, n int) (string, error) {
	s, err := h.get(name)
	if err != nil {
		return "", err
	}
	return s.buf.tail(n), nil
}

// Kill terminates a session's process and releases its pty. It is
// idempotent: killing an already-killed session is a no-op.
func (h *Host) Kill(name string) error {
	h.mu.Lock()
	s, ok := h.sessions[name]
	if ok {
		delete(h.sessions, name)
	}
	h.mu.Unlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.killed {
		return nil
	}
	s.killed = true
	_ = s.pty.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	return nil
}

// SessionInfo is a point-in-time snapshot of a tracked session, the input to
// the monitor loop's orphan-session sweep (spec §4.8 step 4).
type SessionInfo struct {
	Name      string
	CreatedAt time.Time
}

// Sessions returns a snapshot of every currently tracked session.
func (h *Host) Sessions() []SessionInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]SessionInfo, 0, len(h.sessions))
	for name, s := range h.sessions {
		out = append(out, SessionInfo{Name: name, CreatedAt: s.createdAt})
	}
	return out
}

func (h *Host) get(name string) (*session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[name]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// drain continuously reads pty output into the session's ring buffer until
// the pty closes (process exit or Kill).
func (s *session) drain() {
	buf := make([]byte, 4096)
	for {
		n, err := s.pty.Read(buf)
		if n > 0 {
			clean := ansi.Strip(string(buf[:n]))
			s.buf.write(clean)
		}
		if err != nil {
			return
		}
	}
}

// ringBuffer accumulates output lines up to a bounded count, discarding the
// oldest lines once the cap is exceeded — mirrors a real tmux scrollback.
type ringBuffer struct {
	mu       sync.Mutex
	lines    []string
	partial  strings.Builder
	maxLines int
}

func newRingBuffer(maxLines int) *ringBuffer {
	return &ringBuffer{maxLines: maxLines}
}

func (r *ringBuffer) write(chunk string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.partial.WriteString(chunk)
	data := r.partial.String()
	parts := strings.Split(data, "\n")
	// Keep the last (possibly incomplete) fragment pending for the next write.
	r.partial.Reset()
	r.partial.WriteString(parts[len(parts)-1])

	complete := parts[:len(parts)-1]
	r.lines = append(r.lines, complete...)
	if overflow := len(r.lines) - r.maxLines; overflow > 0 {
		r.lines = r.lines[overflow:]
	}
}

func (r *ringBuffer) tail(n int) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	lines := r.lines
	if r.partial.Len() > 0 {
		lines = append(append([]string{}, lines...), r.partial.String())
	}
	if n <= 0 || n >= len(lines) {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
