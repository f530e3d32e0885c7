// Package runtime manages disposable build containers backed by containerd.
//
// A [Runtime] connects to a containerd daemon, reporting [ErrUnavailable]
// when no daemon is reachable. [Runtime.Acquire] makes the base image
// available, either by pulling a registry reference or by importing an OCI
// archive from the host, and starts a container from it. A container left
// over from an earlier run with the same ID is force-removed first. Host
// directories can be bind-mounted at identical paths inside the container.
//
// Each [Container] wraps a running containerd task. Commands run as
// additional execs attached to that task, and host files or directory trees
// are copied in as tar streams. When the container is no longer needed it
// must be destroyed to release its snapshot and task resources.
//
// Example usage:
//
//	rt, err := runtime.New(ctx, runtime.Config{
//	    Address:   "/run/containerd/containerd.sock",
//	    Namespace: "cruxforge",
//	})
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//
//	ctr, err := rt.Acquire(ctx, runtime.Spec{
//	    ID:       "cruxforge-git-0123456789ab",
//	    Image:    "docker.io/library/debian:bookworm",
//	    Platform: "linux/amd64",
//	    Mounts:   []string{"/opt/git"},
//	})
//	if err != nil {
//	    return err
//	}
//	defer ctr.Destroy(context.WithoutCancel(ctx))
//
//	code, err := ctr.Run(ctx, []string{"uname", "-a"}, nil, os.Stdout, os.Stderr)
package runtime
