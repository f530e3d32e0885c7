package runtime

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/core/images"
	"github.com/containerd/errdefs"
	"github.com/containerd/platforms"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const (

	// OCI runtime shim for running containers.
	ociRuntime = "io.containerd.runc.v2"

	// Snapshotter used when none is configured.
	defaultSnapshotter = "overlayfs"
)

// Connection settings for the containerd daemon.
type Config struct {
	Address     string // Path to the containerd socket.
	Namespace   string // Namespace scoping all images and containers.
	Snapshotter string // Snapshotter for container filesystems. Empty uses overlayfs.
}

// Describes a build environment to start.
type Spec struct {
	ID       string   // Container ID. An existing container with this ID is replaced.
	Image    string   // Registry reference, or path to an OCI archive on the host.
	Platform string   // OCI platform (e.g., "linux/amd64").
	Mounts   []string // Host directories bind-mounted read-write at the same path inside.
}

// Manages the containerd client and provides image and container operations.
type Runtime struct {
	client      *containerd.Client // Containerd client for managing containers and images.
	snapshotter string             // Snapshotter for container filesystems.
}

// Creates a runtime connected to the containerd socket.
//
// Returns [ErrUnavailable] when the socket does not exist or the daemon does
// not answer, so callers can tell a missing runtime apart from a failing one.
// The runtime must be closed when no longer needed.
func New(ctx context.Context, cfg Config) (*Runtime, error) {
	if _, err := os.Stat(cfg.Address); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	client, err := containerd.New(cfg.Address, containerd.WithDefaultNamespace(cfg.Namespace))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	version, err := client.Version(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	slog.Debug("connected to containerd", "address", cfg.Address, "version", version.Version)

	snapshotter := cfg.Snapshotter
	if snapshotter == "" {
		snapshotter = defaultSnapshotter
	}

	return &Runtime{client: client, snapshotter: snapshotter}, nil
}

// Closes the containerd client connection.
func (rt *Runtime) Close() error {
	return rt.client.Close()
}

// Makes the image available, then starts a fresh container from it.
//
// An image naming an existing host file is imported as an OCI archive and
// tagged with a deterministic name derived from the path. Any other image is
// pulled from its registry. In both cases the layers for the target platform
// are unpacked into the snapshotter. Any existing container with the same ID
// is force-removed first, which makes acquisition safe to repeat after a
// crashed run. The container runs a long-lived task (sleep infinity) so that
// subsequent Run calls have a process to attach to.
func (rt *Runtime) Acquire(ctx context.Context, spec Spec) (*Container, error) {
	tag, err := rt.ensureImage(ctx, spec.Image, spec.Platform)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	c := &Container{
		client:      rt.client,
		id:          spec.ID,
		platform:    spec.Platform,
		snapshotter: rt.snapshotter,
	}

	if c.remove(ctx) {
		slog.Info("removed stale environment", "id", spec.ID)
	}

	image, err := rt.resolveImage(ctx, tag, spec.Platform)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	ctr, err := c.create(ctx, image, spec.Mounts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	if err := c.startTask(ctx, ctr); err != nil {
		ctr.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	slog.Debug("container started", "id", spec.ID, "image", tag, "mounts", spec.Mounts)
	return c, nil
}

// Imports or pulls the image and returns the tag to start containers from.
func (rt *Runtime) ensureImage(ctx context.Context, image, platform string) (string, error) {
	if info, err := os.Stat(image); err == nil && info.Mode().IsRegular() {
		tag := imageTag(image)
		source, err := rt.importArchive(ctx, image)
		if err != nil {
			return "", err
		}
		if err := rt.tagImage(ctx, source, tag); err != nil {
			return "", err
		}
		if err := rt.unpackImage(ctx, tag, platform); err != nil {
			return "", err
		}
		slog.Debug("image imported", "archive", image, "tag", tag)
		return tag, nil
	}

	if err := rt.pullImage(ctx, image, platform); err != nil {
		return "", err
	}
	return image, nil
}

// Pulls an image from its registry and unpacks it for the target platform.
func (rt *Runtime) pullImage(ctx context.Context, ref, platform string) error {
	p, err := platforms.Parse(platform)
	if err != nil {
		return err
	}

	slog.Info("pulling image", "image", ref, "platform", platform)

	img, err := rt.client.Pull(ctx, ref,
		containerd.WithPlatformMatcher(platforms.Only(p)),
		containerd.WithPullUnpack,
		containerd.WithPullSnapshotter(rt.snapshotter),
	)
	if err != nil {
		return err
	}

	slog.Debug("image pulled", "image", ref, "target", describeTarget(img.Target()))
	return nil
}

// Imports an OCI archive into the content store.
//
// The archive must contain exactly one image. Multi-platform archives
// are supported (single OCI index with per-platform manifests).
func (rt *Runtime) importArchive(ctx context.Context, path string) (images.Image, error) {
	fh, err := os.Open(path)
	if err != nil {
		return images.Image{}, err
	}
	defer fh.Close()

	imported, err := rt.client.Import(ctx, fh)
	if err != nil {
		return images.Image{}, err
	}

	// One record per entry of the archive's index.json; a multi-platform
	// image is still a single entry.
	if len(imported) == 0 {
		return images.Image{}, ErrEmptyArchive
	} else if len(imported) > 1 {
		return images.Image{}, ErrMultipleImages
	}

	return imported[0], nil
}

// Tags an imported image under a deterministic name.
//
// Updates the tag if it already exists. Removes the source record when
// its name differs from the tag to avoid duplicates.
func (rt *Runtime) tagImage(ctx context.Context, source images.Image, tag string) error {
	is := rt.client.ImageService()

	img := images.Image{
		Name:   tag,
		Target: source.Target,
	}

	if _, err := is.Create(ctx, img); err != nil {
		if !errdefs.IsAlreadyExists(err) {
			return err
		}
		if _, err := is.Update(ctx, img, "target"); err != nil {
			return err
		}
	}

	if source.Name != tag {
		_ = is.Delete(ctx, source.Name)
	}

	return nil
}

// Unpacks the image layers for the target platform into the snapshotter.
func (rt *Runtime) unpackImage(ctx context.Context, tag, platform string) error {
	image, err := rt.resolveImage(ctx, tag, platform)
	if err != nil {
		return err
	}

	return image.Unpack(ctx, rt.snapshotter)
}

// Looks up a tagged image and selects the manifest for the given platform.
func (rt *Runtime) resolveImage(ctx context.Context, tag, platform string) (containerd.Image, error) {
	p, err := platforms.Parse(platform)
	if err != nil {
		return nil, err
	}

	img, err := rt.client.ImageService().Get(ctx, tag)
	if err != nil {
		return nil, err
	}

	return containerd.NewImageWithPlatform(rt.client, img, platforms.Only(p)), nil
}

// Produces a containerd image tag from an archive path.
//
// The path is hashed to produce a tag that is always valid for OCI references
// regardless of which characters the path contains.
func imageTag(path string) string {
	h := sha256.Sum256([]byte(path))
	return fmt.Sprintf("import/%s:latest", hex.EncodeToString(h[:]))
}

// Formats an image root descriptor for logging, e.g.
// "index sha256:0123456789ab (1234 bytes)".
func describeTarget(desc ocispec.Descriptor) string {
	kind := "manifest"
	if images.IsIndexType(desc.MediaType) {
		kind = "index"
	}
	d := desc.Digest.String()
	if len(d) > 19 {
		d = d[:19]
	}
	return fmt.Sprintf("%s %s (%d bytes)", kind, d, desc.Size)
}
