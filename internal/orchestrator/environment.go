package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cruciblehq/cruxforge/internal/config"
	"github.com/cruciblehq/cruxforge/internal/runtime"
)

// A disposable build environment.
type Environment interface {

	// Returns the environment's name.
	ID() string

	// Copies a host file or directory into the environment at dest.
	Copy(ctx context.Context, hostPath, dest string) error

	// Runs a command to completion and returns its exit code.
	Run(ctx context.Context, args, env []string, stdout, stderr io.Writer) (int, error)

	// Releases the environment. Failures are logged, never returned.
	Destroy(ctx context.Context)
}

// Creates build environments.
type Runtime interface {

	// Starts a fresh environment, replacing any existing one with the same ID.
	Acquire(ctx context.Context, spec runtime.Spec) (Environment, error)

	// Releases the connection to the platform.
	Close() error
}

// Connects to a container platform.
type Dialer func(ctx context.Context, cfg config.ContainerdConfig) (Runtime, error)

// Connects to containerd.
//
// An absent or unresponsive daemon is reported as [ErrPlatformUnavailable].
func Containerd(ctx context.Context, cfg config.ContainerdConfig) (Runtime, error) {
	rt, err := runtime.New(ctx, runtime.Config{
		Address:     cfg.Address,
		Namespace:   cfg.Namespace,
		Snapshotter: cfg.Snapshotter,
	})
	if errors.Is(err, runtime.ErrUnavailable) {
		return nil, fmt.Errorf("%w: %w", ErrPlatformUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	return &containerdRuntime{rt: rt}, nil
}

// Adapts [runtime.Runtime] to [Runtime].
type containerdRuntime struct {
	rt *runtime.Runtime
}

func (c *containerdRuntime) Acquire(ctx context.Context, spec runtime.Spec) (Environment, error) {
	ctr, err := c.rt.Acquire(ctx, spec)
	if err != nil {
		return nil, err
	}
	return ctr, nil
}

func (c *containerdRuntime) Close() error {
	return c.rt.Close()
}
