package recipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
)

// The external collaborators a recipe drives.
type Toolchain interface {

	// Runs a command to completion in dir (empty means the current
	// directory). A non-zero exit is an error.
	Run(ctx context.Context, dir string, args ...string) error

	// Downloads url to dest.
	Fetch(ctx context.Context, url, dest string) error

	// Unpacks the archive at path into dir.
	Extract(ctx context.Context, path, dir string) error
}

// Runs commands with os/exec and downloads over HTTP.
type System struct {
	Client *http.Client // HTTP client for downloads. Nil uses [http.DefaultClient].
	Env    []string     // Extra environment entries for commands, appended to the process environment.
	Stdout io.Writer    // Command output. Nil discards.
	Stderr io.Writer    // Command errors. Nil discards.
}

// Runs a command, streaming its output.
func (s *System) Run(ctx context.Context, dir string, args ...string) error {
	if len(args) == 0 {
		return errors.New("empty command")
	}

	slog.Debug("exec", "args", args, "dir", dir)

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Stdout = s.Stdout
	cmd.Stderr = s.Stderr
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	return nil
}

// Downloads url to dest.
//
// The body is written to a temporary file beside dest and renamed into place
// once complete, so an interrupted download never leaves a truncated archive
// under the final name.
func (s *System) Fetch(ctx context.Context, url, dest string) error {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{URL: url, Code: resp.StatusCode}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.part")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	slog.Debug("downloaded", "url", url, "bytes", n)
	return os.Rename(tmp.Name(), dest)
}

// Unpacks a tar archive, optionally gzip or xz compressed.
func (s *System) Extract(_ context.Context, path, dir string) error {
	return extractArchive(path, dir)
}
