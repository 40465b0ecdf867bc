package fixture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/NeoGridBR/minicluster/internal/conf"
)

// ErrAlreadyStopped is returned by Start after the handle was stopped.
// Starting again after a stop signals a build-lifecycle ordering bug; only
// one start/stop cycle per process is supported.
var ErrAlreadyStopped = errors.New("backing cluster already stopped")

// StartupError reports that the backing service failed to launch or never
// reached readiness. The handle is left unusable; every further Start fails
// with the same error.
type StartupError struct {
	Cause error
}

func (e *StartupError) Error() string {
	return "backing cluster failed to start: " + e.Cause.Error()
}

func (e *StartupError) Unwrap() error {
	return e.Cause
}

// Service is a running backing service as seen by the handle.
type Service interface {
	Stop(ctx context.Context) error
}

// Launcher starts the backing service and blocks until it is ready. It
// returns the running service together with the effective configuration,
// fully populated with every dynamically bound address.
type Launcher interface {
	Launch(ctx context.Context, computeEnabled bool, overrides *conf.Map) (Service, *conf.Map, error)
}

// LaunchFunc adapts a function to the Launcher interface.
type LaunchFunc func(ctx context.Context, computeEnabled bool, overrides *conf.Map) (Service, *conf.Map, error)

func (f LaunchFunc) Launch(ctx context.Context, computeEnabled bool, overrides *conf.Map) (Service, *conf.Map, error) {
	return f(ctx, computeEnabled, overrides)
}

// State of a Handle. Ordered: transitions only ever move forward.
type State int

const (
	StateNotStarted State = iota
	StateStarting
	StateReady
	StateStopped
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateStopped:
		return "stopped"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

const stopTimeout = 30 * time.Second

// Handle is the lifecycle manager for one backing service instance. The
// zero value is not usable, construct with New. The process-wide shared
// instance is owned by the command package; tests build their own with a
// test-double launcher.
type Handle struct {
	launcher Launcher

	mu      sync.Mutex
	state   State
	settled chan struct{} // closed once the single launch succeeded or failed
	svc     Service
	cfg     *conf.Map
	err     error
}

func New(launcher Launcher) *Handle {
	return &Handle{launcher: launcher}
}

// Start launches the backing service exactly once and blocks until it is
// ready, then returns the effective configuration. Concurrent callers
// collapse into the single launch and share its result. Once Ready, further
// calls return the stored configuration immediately; their computeEnabled
// and overrides arguments are ignored — the first caller's configuration
// wins.
func (h *Handle) Start(ctx context.Context, computeEnabled bool, overrides *conf.Map) (*conf.Map, error) {
	h.mu.Lock()
	switch h.state {
	case StateReady:
		cfg := h.cfg
		h.mu.Unlock()
		slog.DebugContext(ctx, "backing cluster already running, arguments ignored",
			"compute", computeEnabled)
		return cfg, nil

	case StateFaulted:
		err := h.err
		h.mu.Unlock()
		return nil, err

	case StateStopped:
		h.mu.Unlock()
		return nil, ErrAlreadyStopped

	case StateStarting:
		settled := h.settled
		h.mu.Unlock()
		<-settled
		return h.result()

	default: // StateNotStarted
		h.state = StateStarting
		h.settled = make(chan struct{})
		settled := h.settled
		h.mu.Unlock()

		// The launch runs detached from the caller's context: the service
		// must keep running after Start returns and outlive this stack
		// frame. The calling goroutine only waits for the settle signal.
		go h.launch(computeEnabled, overrides)
		<-settled
		return h.result()
	}
}

func (h *Handle) launch(computeEnabled bool, overrides *conf.Map) {
	svc, cfg, err := h.launcher.Launch(context.Background(), computeEnabled, overrides)

	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		h.state = StateFaulted
		h.err = &StartupError{Cause: err}
	} else {
		h.state = StateReady
		h.svc = svc
		h.cfg = cfg
	}
	// closing under the lock publishes state/cfg/err before any waiter runs
	close(h.settled)
}

func (h *Handle) result() (*conf.Map, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return nil, h.err
	}
	if h.state == StateStopped {
		// settled concurrently with a Stop; the service is gone
		return nil, ErrAlreadyStopped
	}
	return h.cfg, nil
}

// Stop shuts the backing service down if it is running. Calling Stop on a
// never-started, already-stopped or faulted handle is a silent no-op: stop
// runs even when an earlier build phase skipped start. Stop never errors;
// shutdown failures are logged only.
func (h *Handle) Stop() {
	h.mu.Lock()
	if h.state == StateStarting {
		// let the in-flight start settle first, then tear down
		settled := h.settled
		h.mu.Unlock()
		<-settled
		h.mu.Lock()
	}

	if h.state != StateReady {
		h.mu.Unlock()
		return
	}
	svc := h.svc
	h.state = StateStopped
	h.svc = nil
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := svc.Stop(ctx); err != nil {
		slog.Error("stopping backing cluster", "error", err)
	}
}

// CurrentState reports the externally visible state. Starting is reported
// as NotStarted: a start in flight is not observable, callers block on it.
func (h *Handle) CurrentState() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateStarting {
		return StateNotStarted
	}
	return h.state
}
