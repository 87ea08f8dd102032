package engine

import (
	"errors"
	"time"
)

// Config controls engine behavior.
type Config struct {
	// WaitDelay bounds how long Wait keeps draining pipes held open by orphaned grandchildren
	// after the process group was killed.
	WaitDelay time.Duration `yaml:"waitDelay"`
	// Env is appended to the parent environment for every child.
	Env []string `yaml:"env"`
}

const defaultWaitDelay = time.Second

var errUnsupported = errors.New("not supported on this platform")
