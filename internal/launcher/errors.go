package launcher

import "errors"

var (
	ErrResolve        = errors.New("cannot resolve launcher location")
	ErrBinaryNotFound = errors.New("tool binary not found")
	ErrExec           = errors.New("cannot execute tool binary")
)
