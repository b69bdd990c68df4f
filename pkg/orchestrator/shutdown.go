package orchestrator

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// interruptedExitCode is the conventional exit code for a forced interrupt.
const interruptedExitCode = 130

// DefaultShutdownTimeout bounds the whole hook sequence.
const DefaultShutdownTimeout = 15 * time.Second

// ShutdownManager coalesces termination signals and runs registered hooks
// exactly once, in reverse registration order — components registered as
// they start up are torn down last-started first. A second signal while the
// sequence runs forces immediate exit with code 130.
type ShutdownManager struct {
	logger  *slog.Logger
	timeout time.Duration

	mu    sync.Mutex
	hooks []shutdownHook

	once sync.Once
	done chan struct{}

	// exit is swapped in tests.
	exit func(code int)
}

type shutdownHook struct {
	name string
	fn   func(ctx context.Context) error
}

// NewShutdownManager constructs the manager. timeout <= 0 means
// DefaultShutdownTimeout.
func NewShutdownManager(timeout time.Duration, logger *slog.Logger) *ShutdownManager {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	return &ShutdownManager{
		logger:  logger.With("component", "shutdown"),
		timeout: timeout,
		done:    make(chan struct{}),
		exit:    os.Exit,
	}
}

// OnShutdown registers a named hook. Hooks run in reverse registration
// order, so registering each component right after it starts yields a
// teardown that mirrors startup.
func (m *ShutdownManager) OnShutdown(name string, fn func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, shutdownHook{name: name, fn: fn})
}

// Listen installs the signal handler. The first SIGINT/SIGTERM cancels the
// workflow context and starts the shutdown sequence; the second exits
// immediately with code 130.
func (m *ShutdownManager) Listen(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		m.logger.Info("Shutdown signal received", "signal", sig)
		cancel()
		go m.Shutdown()

		sig = <-sigCh
		m.logger.Warn("Second signal, forcing exit", "signal", sig)
		m.exit(interruptedExitCode)
	}()
}

// Shutdown runs the hook sequence once. Later calls (a signal racing a
// normal exit) wait for the first to finish.
func (m *ShutdownManager) Shutdown() {
	m.once.Do(func() {
		defer close(m.done)

		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()

		m.mu.Lock()
		hooks := make([]shutdownHook, len(m.hooks))
		copy(hooks, m.hooks)
		m.mu.Unlock()

		for i := len(hooks) - 1; i >= 0; i-- {
			h := hooks[i]
			if err := h.fn(ctx); err != nil {
				m.logger.Warn("Shutdown hook failed", "hook", h.name, "error", err)
			} else {
				m.logger.Debug("Shutdown hook finished", "hook", h.name)
			}
		}
		m.logger.Info("Shutdown complete", "hooks", len(hooks))
	})
	<-m.done
}

// Done is closed after the hook sequence completes.
func (m *ShutdownManager) Done() <-chan struct{} {
	return m.done
}
