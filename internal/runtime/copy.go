package runtime

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
)

// Creates a directory inside the container, including parents.
func (c *Container) MkdirAll(ctx context.Context, dir string) error {
	return c.mustExec(ctx, "mkdir", nil, "mkdir", "-p", dir)
}

// Copies a tar stream into the container's filesystem.
//
// The contents of r are extracted into destDir by piping them to "tar xf - -C
// destDir" inside the container.
func (c *Container) CopyTo(ctx context.Context, r io.Reader, destDir string) error {
	return c.mustExec(ctx, "tar extract", r, "tar", "xf", "-", "-C", destDir)
}

// Copies a host file or directory tree into the container at dest.
//
// The parent directory of dest is created first. Permission bits are kept
// and everything is owned by root inside the container. Symlinks inside a
// directory tree are copied as links, not followed.
func (c *Container) Copy(ctx context.Context, hostPath, dest string) error {
	info, err := os.Stat(hostPath)
	if err != nil {
		return err
	}

	dir := path.Dir(dest)
	if err := c.MkdirAll(ctx, dir); err != nil {
		return err
	}

	slog.Debug("copy", "src", hostPath, "dest", dest, "dir", info.IsDir())

	return streamTar(func(tw *tar.Writer) error {
		if info.IsDir() {
			return writeDirToTar(tw, hostPath, path.Base(dest))
		}
		return writeFileToTar(tw, hostPath, path.Base(dest))
	}, func(r io.Reader) error {
		return c.CopyTo(ctx, r, dir)
	})
}

// Streams the archive produced by write into consume through a pipe.
//
// The read side is closed once consume returns, so the writer never blocks
// on a consumer that stopped reading. A consume error takes precedence over
// a write error.
func streamTar(write func(*tar.Writer) error, consume func(io.Reader) error) error {
	pr, pw := io.Pipe()
	done := make(chan error, 1)

	go func() {
		tw := tar.NewWriter(pw)
		err := write(tw)
		if cerr := tw.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
		done <- err
	}()

	err := consume(pr)
	pr.CloseWithError(err)
	werr := <-done

	if err != nil {
		return err
	}
	if werr != nil && !errors.Is(werr, io.ErrClosedPipe) {
		return werr
	}
	return nil
}

// Helper method that runs a command inside the container, returning an error
// that includes desc if the process exits with a non-zero code.
func (c *Container) mustExec(ctx context.Context, desc string, stdin io.Reader, args ...string) error {
	pspec, err := c.buildProcessSpec(ctx, nil, args...)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	var stderr bytes.Buffer
	exitCode, err := c.execProcess(ctx, pspec, stdin, nil, &stderr)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("%w: %s failed with exit code %d (%s)", ErrRuntime, desc, exitCode, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}

// Writes a single file to a tar writer with the given archive name.
func writeFileToTar(tw *tar.Writer, hostPath, name string) error {
	info, err := os.Stat(hostPath)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", hostPath)
	}
	return writeTarEntry(tw, hostPath, name, info)
}

// Writes a directory tree to a tar writer rooted at the given archive prefix.
func writeDirToTar(tw *tar.Writer, hostDir, prefix string) error {
	return filepath.WalkDir(hostDir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(hostDir, p)
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		return writeTarEntry(tw, p, filepath.ToSlash(filepath.Join(prefix, rel)), info)
	})
}

// Writes one root-owned entry. Regular files carry their contents, symlinks
// their target; other types carry only the header.
func writeTarEntry(tw *tar.Writer, hostPath, name string, info os.FileInfo) error {
	var link string
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(hostPath)
		if err != nil {
			return err
		}
		link = target
	}

	header, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	header.Name = name
	header.Uid, header.Gid = 0, 0
	header.Uname, header.Gname = "root", "root"

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	if !info.Mode().IsRegular() {
		return nil
	}

	f, err := os.Open(hostPath)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(tw, f)
	return err
}
