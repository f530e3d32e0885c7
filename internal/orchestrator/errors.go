package orchestrator

import (
	"errors"

	"github.com/cruciblehq/cruxforge/internal/config"
)

var (
	ErrConfiguration       = config.ErrConfiguration
	ErrDestination         = errors.New("cannot prepare destination")
	ErrPermission          = errors.New("destination is not writable")
	ErrDestinationExists   = errors.New("destination already holds an installation")
	ErrPlatformUnavailable = errors.New("container platform unavailable")
	ErrEnvironment         = errors.New("cannot acquire build environment")
	ErrProvisioning        = errors.New("provisioning failed")
	ErrBuildStep           = errors.New("build step failed")
	ErrVerification        = errors.New("verification failed")
)
