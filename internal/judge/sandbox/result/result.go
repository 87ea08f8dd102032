// Package result holds raw execution data before it is classified into an outcome.
package result

import "time"

// KillReason tells why the engine terminated the process group.
type KillReason int32

const (
	NotKilled KillReason = iota
	KilledTimeLimit
	KilledOutputLimit
	KilledCanceled
)

func (k KillReason) String() string {
	switch k {
	case KilledTimeLimit:
		return "time limit"
	case KilledOutputLimit:
		return "output limit"
	case KilledCanceled:
		return "canceled"
	default:
		return "none"
	}
}

// ExecResult captures one finished child process.
type ExecResult struct {
	ExitCode int
	// Signal is the name of the signal that ended the process, e.g. "killed".
	Signal  string
	Stdout  []byte
	Stderr  []byte
	Elapsed time.Duration
	Killed  KillReason
	// MemoryLimited is set when a memory cap was applied and the failure looks like an
	// allocation failure.
	MemoryLimited bool
}

// Failed reports whether the process ended abnormally.
func (r ExecResult) Failed() bool {
	return r.ExitCode != 0 || r.Signal != ""
}
