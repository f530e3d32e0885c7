package recipe

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
)

// Unpacks a tar archive into dir.
//
// Compression is chosen by file suffix. Every entry is resolved with
// securejoin, so neither ".." components nor symlinks inside the archive can
// place files outside dir. Existing files are replaced.
func extractArchive(path, dir string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r, closeFn, err := decompressor(path, f)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := extractEntry(tr, hdr, dir); err != nil {
			return fmt.Errorf("%s: %w", hdr.Name, err)
		}
	}
}

// Wraps r in the decompressor matching the archive's suffix.
func decompressor(name string, r io.Reader) (io.Reader, func() error, error) {
	noop := func() error { return nil }

	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return gz, gz.Close, nil
	case strings.HasSuffix(name, ".tar.xz"), strings.HasSuffix(name, ".txz"):
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return xr, noop, nil
	case strings.HasSuffix(name, ".tar"):
		return r, noop, nil
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedArchive, filepath.Base(name))
}

// Writes a single tar entry below root.
func extractEntry(tr *tar.Reader, hdr *tar.Header, root string) error {
	target, err := securejoin.SecureJoin(root, hdr.Name)
	if err != nil {
		return err
	}
	mode := os.FileMode(hdr.Mode).Perm()

	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, mode|0o700)

	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		// OpenFile applies the umask; restore the archived bits.
		return os.Chmod(target, mode)

	case tar.TypeSymlink:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		os.Remove(target)
		return os.Symlink(hdr.Linkname, target)

	case tar.TypeLink:
		source, err := securejoin.SecureJoin(root, hdr.Linkname)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		os.Remove(target)
		return os.Link(source, target)
	}

	// Pax global headers (present in git release tarballs), devices, and
	// fifos carry nothing a source build needs.
	return nil
}
