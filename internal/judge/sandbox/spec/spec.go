// Package spec describes what the sandbox runs and under which limits.
package spec

import (
	"strings"
	"time"

	pkgerrors "ojkit/pkg/errors"

	"github.com/google/shlex"
)

// Invocation is a solution command line as the user wrote it, e.g. "python3 main.py".
type Invocation struct {
	Command string `yaml:"command"`
	// Dir is the working directory of the child; empty means the current directory.
	Dir string   `yaml:"dir,omitempty"`
	Env []string `yaml:"env,omitempty"`
}

// Argv splits Command with shell quoting rules.
func (inv Invocation) Argv() ([]string, error) {
	argv, err := shlex.Split(inv.Command)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.InvalidParams, "invalid command %q: %v", inv.Command, err)
	}
	if len(argv) == 0 {
		return nil, pkgerrors.BadRequest("command is empty")
	}
	return argv, nil
}

func (inv Invocation) String() string {
	return strings.TrimSpace(inv.Command)
}

// Limits bound one execution.
type Limits struct {
	// TimeLimit is the wall clock deadline. Zero means no deadline.
	TimeLimit time.Duration
	// MemoryLimitBytes caps the address space where the platform supports it. Zero means none.
	MemoryLimitBytes int64
	// OutputLimitBytes caps stdout and stderr each. Zero means DefaultOutputLimit.
	OutputLimitBytes int64
}

// DefaultOutputLimit is used when Limits.OutputLimitBytes is zero.
const DefaultOutputLimit int64 = 16 << 20

// RunSpec is one child process execution.
type RunSpec struct {
	Argv   []string
	Dir    string
	Env    []string
	Stdin  []byte
	Limits Limits
}
