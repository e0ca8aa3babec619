// Package util carries small process-level helpers shared by the server
// binaries: panic-safe goroutine launching and ordered shutdown.
package util

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ShutdownResource is one component that needs a shutdown call. Lower
// priorities shut down first, so intake surfaces (priority 0) stop
// before the stores they write to.
type ShutdownResource struct {
	Name     string
	Priority int
	Shutdown func(context.Context) error
}

// GracefulShutdown runs registered shutdown hooks in priority order
// under one deadline.
type GracefulShutdown struct {
	mu        sync.Mutex
	resources []ShutdownResource
	logger    *logrus.Logger
	timeout   time.Duration
}

// NewGracefulShutdown creates a shutdown manager with the given overall
// deadline.
func NewGracefulShutdown(logger *logrus.Logger, timeout time.Duration) *GracefulShutdown {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GracefulShutdown{logger: logger, timeout: timeout}
}

// Register adds a resource to be shut down.
func (gs *GracefulShutdown) Register(resource ShutdownResource) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.resources = append(gs.resources, resource)

	gs.logger.WithFields(logrus.Fields{
		"resource": resource.Name,
		"priority": resource.Priority,
	}).Debug("Registered resource for graceful shutdown")
}

// RegisterCloser registers an io.Closer as a shutdown hook.
func (gs *GracefulShutdown) RegisterCloser(name string, closer io.Closer, priority int) {
	gs.Register(ShutdownResource{
		Name:     name,
		Priority: priority,
		Shutdown: func(context.Context) error {
			return closer.Close()
		},
	})
}

// Shutdown runs every registered hook, lowest priority first. Each hook
// gets the remaining slice of the shared deadline; a hook that panics
// or errors is logged and the rest still run. The returned error joins
// every hook failure.
func (gs *GracefulShutdown) Shutdown(ctx context.Context) error {
	gs.mu.Lock()
	resources := make([]ShutdownResource, len(gs.resources))
	copy(resources, gs.resources)
	gs.mu.Unlock()

	// Stable keeps registration order within a priority level.
	sort.SliceStable(resources, func(i, j int) bool {
		return resources[i].Priority < resources[j].Priority
	})

	shutdownCtx, cancel := context.WithTimeout(ctx, gs.timeout)
	defer cancel()

	gs.logger.WithField("resource_count", len(resources)).Info("Starting graceful shutdown")

	var failures []error
	for _, resource := range resources {
		if err := gs.shutdownOne(shutdownCtx, resource); err != nil {
			gs.logger.WithError(err).WithField("resource", resource.Name).Error("Error shutting down resource")
			failures = append(failures, fmt.Errorf("%s: %w", resource.Name, err))
		} else {
			gs.logger.WithField("resource", resource.Name).Debug("Resource shut down")
		}
	}

	if len(failures) > 0 {
		return &ShutdownError{Failures: failures}
	}
	gs.logger.Info("Graceful shutdown completed")
	return nil
}

// shutdownOne runs a single hook with panic containment and the shared
// deadline.
func (gs *GracefulShutdown) shutdownOne(ctx context.Context, resource ShutdownResource) (err error) {
	if ctx.Err() != nil {
		return fmt.Errorf("shutdown deadline already passed: %w", ctx.Err())
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during shutdown: %v", r)
		}
	}()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic during shutdown: %v", r)
			}
		}()
		done <- resource.Shutdown(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// ShutdownError aggregates the hooks that failed during Shutdown.
type ShutdownError struct {
	Failures []error
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("%d resources failed to shut down", len(e.Failures))
}
