// Package agentproc supervises one child process running a CLI adapter in
// JSONL mode and turns its stdout into a normalized event stream.
package agentproc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/clawbridge/internal/adapters"
)

const (
	// maxLineBytes bounds a single JSONL line from the child. Agents can emit
	// very large tool results in one line.
	maxLineBytes = 1 << 20

	// killGrace is how long terminate waits after SIGTERM before SIGKILL.
	killGrace = 500 * time.Millisecond
)

// EventHandler receives translated events in the order the child emitted them.
type EventHandler func(ev adapters.BridgeEvent)

// ExitHandler receives the child's exit code once the process is done.
type ExitHandler func(code int)

// Process wraps one spawned CLI run. Create one per turn; a Process is not
// reusable after exit.
type Process struct {
	manifest   *adapters.Manifest
	translator adapters.Translator
	onEvent    EventHandler
	onExit     ExitHandler

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	running  bool
	killArm  *time.Timer
	exitedCh chan struct{}
}

// New builds a Process for one run of the given adapter. A fresh translator
// is created internally so no per-run state leaks between turns.
func New(m *adapters.Manifest, onEvent EventHandler, onExit ExitHandler) *Process {
	return &Process{
		manifest:   m,
		translator: adapters.NewTranslator(m.Name),
		onEvent:    onEvent,
		onExit:     onExit,
		exitedCh:   make(chan struct{}),
	}
}

// Translator exposes the per-run translator, mainly so callers can register
// an in-process tool executor before Run.
func (p *Process) Translator() adapters.Translator { return p.translator }

// LastText returns the accumulated assistant text for the current run.
func (p *Process) LastText() string { return p.translator.LastText() }

// Running reports whether the child is currently alive.
func (p *Process) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Done is closed after the child has exited and the exit handler has fired.
func (p *Process) Done() <-chan struct{} { return p.exitedCh }

// RunOpts carries the per-turn spawn parameters.
type RunOpts struct {
	Prompt        string
	ResumeSession string
	Model         string
	Workdir       string
	Env           []string // extra KEY=VALUE entries appended to the inherited env
}

// Run spawns the child. Idempotent: a second call while the child is alive
// logs and returns nil. Spawn failure emits an error event followed by
// exit(1) so callers observe the same terminal sequence either way.
func (p *Process) Run(opts RunOpts) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		slog.Info("agent process already running, ignoring run", "cli", p.manifest.Name)
		return nil
	}

	argv := p.manifest.BuildArgv(opts.Prompt, opts.ResumeSession, opts.Model, opts.Workdir)
	cmd := exec.Command(p.manifest.Command, argv...)
	cmd.Env = append(os.Environ(), opts.Env...)
	if opts.Workdir != "" && p.manifest.WorkingDirFlag == "" {
		cmd.Dir = opts.Workdir
	}
	// New process group so the chat transport's signals never reach the child
	// directly; terminate() owns shutdown.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		p.mu.Unlock()
		return p.failSpawn(fmt.Errorf("stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		p.mu.Unlock()
		return p.failSpawn(fmt.Errorf("stderr pipe: %w", err))
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		p.mu.Unlock()
		return p.failSpawn(fmt.Errorf("stdin pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		p.mu.Unlock()
		return p.failSpawn(fmt.Errorf("spawn %s: %w", p.manifest.Command, err))
	}

	p.cmd = cmd
	p.stdin = stdin
	p.running = true
	p.mu.Unlock()

	slog.Info("agent process started",
		"cli", p.manifest.Name, "pid", cmd.Process.Pid, "resume", opts.ResumeSession != "")

	if sa, ok := p.translator.(interface{ SetStdin(io.Writer) }); ok {
		sa.SetStdin(stdin)
	}

	if p.manifest.InputMode == adapters.InputModeJSONL && opts.Prompt != "" {
		if err := writePromptLine(stdin, opts.Prompt); err != nil {
			slog.Warn("write prompt to stdin failed", "cli", p.manifest.Name, "error", err)
		}
	}
	if !p.manifest.KeepStdinOpen {
		stdin.Close()
	}

	go p.drainStderr(stderr)
	go p.readLoop(stdout)

	return nil
}

func (p *Process) failSpawn(err error) error {
	slog.Error("agent spawn failed", "cli", p.manifest.Name, "error", err)
	p.onEvent(adapters.BridgeEvent{Type: adapters.EventError, Message: err.Error()})
	p.onExit(1)
	close(p.exitedCh)
	return err
}

// writePromptLine delivers the user prompt to a jsonl-mode child.
func writePromptLine(w io.Writer, prompt string) error {
	line, err := json.Marshal(map[string]string{"type": "prompt", "text": prompt})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", line)
	return err
}

// readLoop consumes stdout line by line, feeding the translator and emitting
// events in order. It owns the exit sequence.
func (p *Process) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		for _, ev := range p.translator.Translate(line) {
			p.onEvent(ev)
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("agent stdout read error", "cli", p.manifest.Name, "error", err)
	}

	err := p.cmd.Wait()

	p.mu.Lock()
	p.running = false
	if p.killArm != nil {
		p.killArm.Stop()
		p.killArm = nil
	}
	if p.stdin != nil {
		p.stdin.Close()
	}
	p.mu.Unlock()

	code := 0
	if err != nil {
		code = 1
		if ee, ok := err.(*exec.ExitError); ok {
			code = ee.ExitCode()
		}
		slog.Warn("agent process exited with error", "cli", p.manifest.Name, "code", code, "error", err)
	} else {
		slog.Debug("agent process exited", "cli", p.manifest.Name)
	}

	p.onExit(code)
	close(p.exitedCh)
}

// drainStderr forwards the child's stderr to the debug log, line by line.
func (p *Process) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		slog.Debug("agent stderr", "cli", p.manifest.Name, "line", scanner.Text())
	}
}

// Terminate asks the child to stop: SIGTERM now, SIGKILL after the grace
// window. A clean exit inside the window disarms the kill.
func (p *Process) Terminate() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running || p.cmd == nil || p.cmd.Process == nil {
		return
	}
	pid := p.cmd.Process.Pid
	slog.Info("terminating agent process", "cli", p.manifest.Name, "pid", pid)

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		// Process group may be gone; fall back to the single pid.
		_ = p.cmd.Process.Signal(syscall.SIGTERM)
	}
	if p.killArm == nil {
		p.killArm = time.AfterFunc(killGrace, func() {
			p.mu.Lock()
			alive := p.running
			p.mu.Unlock()
			if alive {
				slog.Warn("agent ignored SIGTERM, force killing", "cli", p.manifest.Name, "pid", pid)
				_ = syscall.Kill(-pid, syscall.SIGKILL)
			}
		})
	}
}
