// Package server provides graceful shutdown for the CLI processes under
// cmd/: coordinating SIGTERM/SIGINT handling with closing a
// TableStreamingSupervisor (or other io.Closer) and draining any in-flight
// tick before the process exits. Grounded on internal/server/shutdown.go,
// trimmed of its http.Server-specific helpers (GracefulHTTPServer,
// ShutdownMiddleware) since this pipeline exposes no HTTP surface, only a
// gRPC health/control endpoint wired directly in each cmd/ main.
package server

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// ShutdownManager coordinates signal handling, in-flight work tracking, and
// resource cleanup for a long-running CLI process.
type ShutdownManager struct {
	shutdownTimeout time.Duration
	drainTimeout    time.Duration

	shutdownCh     chan struct{}
	shutdownOnce   sync.Once
	inFlight       int64
	isShuttingDown int32

	closers   []io.Closer
	closersMu sync.Mutex

	onShutdownStart []func()
	onShutdownEnd   []func()
	callbacksMu     sync.Mutex
}

// ShutdownConfig configures a ShutdownManager.
type ShutdownConfig struct {
	// ShutdownTimeout bounds the whole shutdown sequence. Default: 30s.
	ShutdownTimeout time.Duration
	// DrainTimeout bounds waiting for the in-flight tick to finish. Default: 15s.
	DrainTimeout time.Duration
}

// DefaultShutdownConfig returns the default shutdown configuration.
func DefaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{
		ShutdownTimeout: 30 * time.Second,
		DrainTimeout:    15 * time.Second,
	}
}

// NewShutdownManager creates a new shutdown manager with the given configuration.
func NewShutdownManager(config ShutdownConfig) *ShutdownManager {
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 30 * time.Second
	}
	if config.DrainTimeout == 0 {
		config.DrainTimeout = 15 * time.Second
	}

	return &ShutdownManager{
		shutdownTimeout: config.ShutdownTimeout,
		drainTimeout:    config.DrainTimeout,
		shutdownCh:      make(chan struct{}),
	}
}

// RegisterCloser adds a closer to be called during shutdown, in reverse
// order of registration (LIFO). A TableStreamingSupervisor's Stop method
// satisfies io.Closer by wrapping it in CloserFunc.
func (sm *ShutdownManager) RegisterCloser(closer io.Closer) {
	sm.closersMu.Lock()
	defer sm.closersMu.Unlock()
	sm.closers = append(sm.closers, closer)
}

// OnShutdownStart registers a callback to be called when shutdown begins.
func (sm *ShutdownManager) OnShutdownStart(fn func()) {
	sm.callbacksMu.Lock()
	defer sm.callbacksMu.Unlock()
	sm.onShutdownStart = append(sm.onShutdownStart, fn)
}

// OnShutdownEnd registers a callback to be called when shutdown completes.
func (sm *ShutdownManager) OnShutdownEnd(fn func()) {
	sm.callbacksMu.Lock()
	defer sm.callbacksMu.Unlock()
	sm.onShutdownEnd = append(sm.onShutdownEnd, fn)
}

// ListenForSignals blocks until SIGTERM, SIGINT, or ctx cancellation,
// then initiates graceful shutdown.
func (sm *ShutdownManager) ListenForSignals(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		return sm.Shutdown(ctx, fmt.Sprintf("received signal: %v", sig))
	case <-ctx.Done():
		return sm.Shutdown(ctx, "context cancelled")
	case <-sm.shutdownCh:
		return nil
	}
}

// Shutdown initiates graceful shutdown with the given reason. It waits for
// the in-flight tick to drain and closes all registered resources.
func (sm *ShutdownManager) Shutdown(ctx context.Context, reason string) error {
	var shutdownErr error

	sm.shutdownOnce.Do(func() {
		atomic.StoreInt32(&sm.isShuttingDown, 1)
		close(sm.shutdownCh)

		sm.callbacksMu.Lock()
		startCallbacks := sm.onShutdownStart
		sm.callbacksMu.Unlock()
		for _, fn := range startCallbacks {
			fn()
		}

		shutdownCtx, cancel := context.WithTimeout(ctx, sm.shutdownTimeout)
		defer cancel()

		if err := sm.drainInFlight(shutdownCtx); err != nil {
			shutdownErr = fmt.Errorf("drain failed: %w", err)
		}

		sm.closersMu.Lock()
		closers := sm.closers
		sm.closersMu.Unlock()

		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				if shutdownErr == nil {
					shutdownErr = fmt.Errorf("close failed: %w", err)
				}
			}
		}

		sm.callbacksMu.Lock()
		endCallbacks := sm.onShutdownEnd
		sm.callbacksMu.Unlock()
		for _, fn := range endCallbacks {
			fn()
		}
	})

	return shutdownErr
}

// drainInFlight waits for the in-flight tick counter to reach zero.
func (sm *ShutdownManager) drainInFlight(ctx context.Context) error {
	drainCtx, cancel := context.WithTimeout(ctx, sm.drainTimeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if atomic.LoadInt64(&sm.inFlight) == 0 {
			return nil
		}

		select {
		case <-drainCtx.Done():
			remaining := atomic.LoadInt64(&sm.inFlight)
			if remaining > 0 {
				return fmt.Errorf("timeout waiting for %d in-flight ticks", remaining)
			}
			return nil
		case <-ticker.C:
		}
	}
}

// TrackRequest increments the in-flight counter. Returns false if shutdown
// is in progress and the work should be skipped.
func (sm *ShutdownManager) TrackRequest() bool {
	if atomic.LoadInt32(&sm.isShuttingDown) == 1 {
		return false
	}
	atomic.AddInt64(&sm.inFlight, 1)
	return true
}

// UntrackRequest decrements the in-flight counter.
func (sm *ShutdownManager) UntrackRequest() {
	atomic.AddInt64(&sm.inFlight, -1)
}

// IsShuttingDown returns true if shutdown has been initiated.
func (sm *ShutdownManager) IsShuttingDown() bool {
	return atomic.LoadInt32(&sm.isShuttingDown) == 1
}

// InFlightCount returns the current number of in-flight ticks.
func (sm *ShutdownManager) InFlightCount() int64 {
	return atomic.LoadInt64(&sm.inFlight)
}

// ShutdownCh returns a channel that is closed when shutdown begins.
func (sm *ShutdownManager) ShutdownCh() <-chan struct{} {
	return sm.shutdownCh
}

// CloserFunc adapts an ordinary func() error to io.Closer, used to register
// a TableStreamingSupervisor's Stop method or a MaintenanceEngine run.
type CloserFunc func() error

// Close calls the underlying function.
func (f CloserFunc) Close() error {
	return f()
}

// MultiCloser combines multiple closers into one.
type MultiCloser struct {
	closers []io.Closer
}

// NewMultiCloser creates a new multi-closer.
func NewMultiCloser(closers ...io.Closer) *MultiCloser {
	return &MultiCloser{closers: closers}
}

// Close closes all underlying closers, returning the first error encountered.
func (mc *MultiCloser) Close() error {
	var firstErr error
	for _, c := range mc.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
