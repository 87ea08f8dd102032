package model

import "time"

// Verdict is the judge's classification of a submission.
type Verdict string

const (
	VerdictPending             Verdict = "Pending"
	VerdictAccepted            Verdict = "Accepted"
	VerdictWrongAnswer         Verdict = "WrongAnswer"
	VerdictTimeLimitExceeded   Verdict = "TimeLimitExceeded"
	VerdictMemoryLimitExceeded Verdict = "MemoryLimitExceeded"
	VerdictRuntimeError        Verdict = "RuntimeError"
	VerdictCompileError        Verdict = "CompileError"
	VerdictUnknown             Verdict = "Unknown"
)

// IsTerminal reports whether polling may stop.
func (v Verdict) IsTerminal() bool {
	return v != VerdictPending && v != ""
}

// Short returns the conventional two or three letter abbreviation.
func (v Verdict) Short() string {
	switch v {
	case VerdictPending:
		return "WJ"
	case VerdictAccepted:
		return "AC"
	case VerdictWrongAnswer:
		return "WA"
	case VerdictTimeLimitExceeded:
		return "TLE"
	case VerdictMemoryLimitExceeded:
		return "MLE"
	case VerdictRuntimeError:
		return "RE"
	case VerdictCompileError:
		return "CE"
	default:
		return "??"
	}
}

// Submission is mutated only by polling and is terminal once its verdict leaves Pending.
type Submission struct {
	Judge       Judge     `msgpack:"judge"`
	ContestID   string    `msgpack:"contest"`
	ProblemID   string    `msgpack:"problem"`
	ID          string    `msgpack:"id"`
	Language    string    `msgpack:"lang"`
	Code        string    `msgpack:"-"`
	SubmittedAt time.Time `msgpack:"submitted_at"`
	Verdict     Verdict   `msgpack:"verdict"`
	// Detail is the judge's raw status text, e.g. "Running on test 12" or "3/18".
	Detail string `msgpack:"detail"`
	URL    string `msgpack:"url"`
}
