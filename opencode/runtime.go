package opencode

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/codenomad/core/config"
	"github.com/codenomad/core/logger"
	"github.com/codenomad/core/proctree"
	"github.com/codenomad/core/registry"
)

// Default timings, overridable through Options (see config.Settings).
const (
	DefaultStopGracePeriod      = 2 * time.Second
	DefaultPortWaitWarnInterval = 10 * time.Second
)

// Options holds the runtime tunables.
type Options struct {
	// StopGracePeriod is how long Stop waits after the graceful signal
	// before escalating to a forced kill of the process tree.
	StopGracePeriod time.Duration

	// PortWaitWarnInterval is how often Launch logs a warning while the
	// server has not yet announced its port. It is a soft timeout: Launch
	// never gives up on its own while the process is still alive.
	PortWaitWarnInterval time.Duration
}

// Callbacks defines the hooks the Runtime invokes during operation.
//
// All callbacks are invoked from the Runtime's internal goroutines.
// Implementations should be thread-safe and avoid blocking operations that
// could delay process supervision.
type Callbacks struct {
	// OnLog is called for each line the server writes, with level "info"
	// for stdout and "error" for stderr. The line excludes the trailing
	// newline. Lines are opaque to the Runtime except for the readiness
	// announcement.
	OnLog func(level, line string)

	// OnExit is called when a server that successfully announced its port
	// later exits on its own. It is not called for exits requested through
	// Stop, nor for processes that died before becoming ready (those reject
	// the in-flight Launch instead).
	OnExit func(workspaceID string, err error)
}

// LaunchSpec describes a workspace server to launch.
type LaunchSpec struct {
	WorkspaceID string
	Folder      string
	BinaryPath  string
	Args        []string
	Env         map[string]string // merged over the inherited environment
}

// LaunchResult is returned once the server has announced its port.
type LaunchResult struct {
	PID  int
	Port int
}

// managedProcess tracks one live server between Launch and process exit.
type managedProcess struct {
	workspaceID string
	folder      string
	pid         int

	// Guarded by the Runtime mutex.
	ready         bool
	requestedStop bool

	// portCh carries the announced port from the stdout scanner to Launch.
	// Buffered so the scanner never blocks if Launch already returned.
	portCh chan int

	// exited is closed by the monitor goroutine after cmd.Wait() returns
	// and the registry entry is removed. exitErr and stderrTail are safe to
	// read once it is closed.
	exited     chan struct{}
	exitErr    error
	stderrTail string
}

// Runtime supervises one opencode server process per workspace folder. It
// discovers each server's port from its stdout, writes live PIDs through to
// the crash-recovery registry, and performs graceful-then-forced shutdown of
// whole process trees.
type Runtime struct {
	opts      Options
	callbacks Callbacks
	killer    proctree.Killer
	registry  *registry.Registry
	log       *slog.Logger

	mu    sync.Mutex
	procs map[string]*managedProcess
}

// OptionsFromSettings derives runtime Options from loaded settings.
func OptionsFromSettings(s config.Settings) Options {
	return Options{
		StopGracePeriod:      s.StopGracePeriod(),
		PortWaitWarnInterval: s.PortWaitWarnInterval(),
	}
}

// NewRuntime creates a Runtime backed by the given registry. Zero-valued
// Options fields fall back to the package defaults.
func NewRuntime(reg *registry.Registry, opts Options, callbacks Callbacks) *Runtime {
	if opts.StopGracePeriod <= 0 {
		opts.StopGracePeriod = DefaultStopGracePeriod
	}
	if opts.PortWaitWarnInterval <= 0 {
		opts.PortWaitWarnInterval = DefaultPortWaitWarnInterval
	}
	return &Runtime{
		opts:      opts,
		callbacks: callbacks,
		killer:    proctree.New(),
		registry:  reg,
		log:       logger.WithComponent("runtime"),
	}
}

// Launch spawns the workspace binary rooted at spec.Folder and blocks until
// the server announces its listening port on stdout, the process exits, or
// ctx is cancelled. On success the PID is registered for crash recovery and
// the discovered port returned.
//
// A process that exits before announcing a port rejects the launch with its
// captured stderr. A process that hangs without announcing only produces
// recurring warnings: there is no hard timeout here, callers bound the wait
// through ctx.
func (r *Runtime) Launch(ctx context.Context, spec LaunchSpec) (*LaunchResult, error) {
	info, err := os.Stat(spec.Folder)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("workspace folder %q does not exist: %w", spec.Folder, err)
		}
		return nil, fmt.Errorf("failed to stat workspace folder %q: %w", spec.Folder, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace folder %q is not a directory", spec.Folder)
	}

	cmd := buildCommand(spec.BinaryPath, spec.Args)
	cmd.Dir = spec.Folder
	cmd.Env = mergeEnviron(spec.Env)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdout.Close()
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	log := logger.WithWorkspace(spec.WorkspaceID)

	r.mu.Lock()
	if _, exists := r.procs[spec.WorkspaceID]; exists {
		r.mu.Unlock()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("workspace %s already has a managed process", spec.WorkspaceID)
	}

	log.Info("launching server", "binary", spec.BinaryPath, "folder", spec.Folder)
	if env := redactOverrides(spec.Env); env != "" {
		log.Debug("environment overrides", "env", env)
	}

	if err := cmd.Start(); err != nil {
		r.mu.Unlock()
		stdout.Close()
		stderr.Close()
		log.Error("failed to start server", "error", err)
		return nil, fmt.Errorf("failed to start %s: %w", spec.BinaryPath, err)
	}

	mp := &managedProcess{
		workspaceID: spec.WorkspaceID,
		folder:      spec.Folder,
		pid:         cmd.Process.Pid,
		portCh:      make(chan int, 1),
		exited:      make(chan struct{}),
	}
	if r.procs == nil {
		r.procs = make(map[string]*managedProcess)
	}
	r.procs[spec.WorkspaceID] = mp
	r.mu.Unlock()

	log.Info("server process started", "pid", mp.pid)

	// Readers must fully drain both pipes before cmd.Wait() closes them.
	var readers sync.WaitGroup
	readers.Add(2)

	var stderrMu sync.Mutex
	var stderrLines []string

	// Both pipes are read with bufio.Reader rather than a Scanner: servers
	// can emit arbitrarily long lines (minified bundles, giant JSON blobs)
	// and a Scanner's token limit would silently stop the read loop, losing
	// the readiness announcement and stalling the child on a full pipe.
	go func() {
		defer readers.Done()
		reader := bufio.NewReader(stdout)
		for {
			raw, err := reader.ReadString('\n')
			line := strings.TrimRight(raw, "\r\n")
			if err != nil && line == "" {
				return
			}
			if r.callbacks.OnLog != nil {
				r.callbacks.OnLog("info", line)
			}
			r.mu.Lock()
			ready := mp.ready
			r.mu.Unlock()
			if !ready {
				if port, ok := ParsePortLine(line); ok {
					// First match wins. Register before signaling Launch so
					// the crash-recovery entry exists by the time the caller
					// sees the port.
					r.mu.Lock()
					mp.ready = true
					r.mu.Unlock()
					r.registry.Register(spec.WorkspaceID, mp.pid, spec.Folder)
					log.Info("server ready", "pid", mp.pid, "port", port)
					mp.portCh <- port
				}
			}
			if err != nil {
				return
			}
		}
	}()

	go func() {
		defer readers.Done()
		reader := bufio.NewReader(stderr)
		for {
			raw, err := reader.ReadString('\n')
			line := strings.TrimRight(raw, "\r\n")
			if err != nil && line == "" {
				return
			}
			if r.callbacks.OnLog != nil {
				r.callbacks.OnLog("error", line)
			}
			stderrMu.Lock()
			stderrLines = append(stderrLines, line)
			stderrMu.Unlock()
			if err != nil {
				return
			}
		}
	}()

	go func() {
		readers.Wait()
		err := cmd.Wait()

		stderrMu.Lock()
		tail := strings.Join(stderrLines, "\n")
		stderrMu.Unlock()

		r.mu.Lock()
		mp.exitErr = err
		mp.stderrTail = tail
		ready := mp.ready
		requested := mp.requestedStop
		delete(r.procs, spec.WorkspaceID)
		r.mu.Unlock()

		if ready {
			r.registry.Unregister(spec.WorkspaceID)
		}
		log.Info("server exited", "pid", mp.pid, "error", err, "requestedStop", requested)
		close(mp.exited)

		if ready && !requested && r.callbacks.OnExit != nil {
			r.callbacks.OnExit(spec.WorkspaceID, err)
		}
	}()

	warn := time.NewTicker(r.opts.PortWaitWarnInterval)
	defer warn.Stop()
	started := time.Now()

	for {
		select {
		case port := <-mp.portCh:
			return &LaunchResult{PID: mp.pid, Port: port}, nil
		case <-mp.exited:
			// The port may have been announced in the same instant the
			// process died. A settled launch wins over the exit path.
			select {
			case port := <-mp.portCh:
				return &LaunchResult{PID: mp.pid, Port: port}, nil
			default:
			}
			return nil, launchFailure(mp)
		case <-warn.C:
			log.Warn("server has not announced a port yet",
				"pid", mp.pid,
				"elapsed", time.Since(started).Round(time.Second))
		case <-ctx.Done():
			log.Warn("launch cancelled, killing server", "pid", mp.pid)
			r.mu.Lock()
			mp.requestedStop = true
			r.mu.Unlock()
			r.killer.KillTree(mp.pid, proctree.Forced)
			<-mp.exited
			return nil, ctx.Err()
		}
	}
}

// launchFailure builds the error for a server that exited before announcing
// its port. Captured stderr is preferred, falling back to the exit status.
func launchFailure(mp *managedProcess) error {
	if mp.stderrTail != "" {
		return fmt.Errorf("server exited before announcing a port: %s", mp.stderrTail)
	}
	if mp.exitErr != nil {
		return fmt.Errorf("server exited before announcing a port: %v", mp.exitErr)
	}
	return fmt.Errorf("server exited before announcing a port")
}

// Stop terminates the managed process for a workspace and blocks until its
// exit is confirmed. The whole process tree receives a graceful signal first
// and a forced one if it is still alive after the grace period. Stopping a
// workspace with no managed process is a no-op, and concurrent Stop calls for
// the same workspace all return once the single exit event fires.
func (r *Runtime) Stop(workspaceID string) {
	r.mu.Lock()
	mp, ok := r.procs[workspaceID]
	if !ok {
		r.mu.Unlock()
		return
	}
	alreadyRequested := mp.requestedStop
	mp.requestedStop = true
	r.mu.Unlock()

	log := logger.WithWorkspace(workspaceID)

	if !alreadyRequested {
		log.Info("stopping server", "pid", mp.pid, "gracePeriod", r.opts.StopGracePeriod)
		if err := r.killer.KillTree(mp.pid, proctree.Graceful); err != nil {
			log.Debug("graceful kill failed", "pid", mp.pid, "error", err)
		}

		escalate := time.AfterFunc(r.opts.StopGracePeriod, func() {
			select {
			case <-mp.exited:
			default:
				log.Warn("server ignored graceful signal, force killing", "pid", mp.pid)
				if err := r.killer.KillTree(mp.pid, proctree.Forced); err != nil {
					log.Debug("forced kill failed", "pid", mp.pid, "error", err)
				}
			}
		})
		defer escalate.Stop()
	}

	// Termination is confirmed by the exit event, not by the signals.
	<-mp.exited
	log.Info("server stopped", "pid", mp.pid)
}

// StopAll stops every managed workspace concurrently and returns once all
// exits are confirmed. Used on supervisor shutdown.
func (r *Runtime) StopAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.procs))
	for id := range r.procs {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	if len(ids) == 0 {
		return
	}
	r.log.Info("stopping all servers", "count", len(ids))

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			r.Stop(id)
		}(id)
	}
	wg.Wait()
}

// IsRunning reports whether a workspace currently has a managed process.
func (r *Runtime) IsRunning(workspaceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.procs[workspaceID]
	return ok
}
