package runtime

import "errors"

var (
	ErrRuntime        = errors.New("runtime error")
	ErrUnavailable    = errors.New("container runtime unavailable")
	ErrEmptyArchive   = errors.New("archive contains no image")
	ErrMultipleImages = errors.New("archive contains more than one image")
)
