package cli

import "errors"

var ErrUsage = errors.New("invalid command line")
