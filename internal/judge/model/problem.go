package model

import (
	"path"
	"time"
)

// Contest is read-only once fetched.
type Contest struct {
	Judge    Judge
	ID       string
	Problems []Problem
}

// Problem holds the metadata a judge publishes for one task.
type Problem struct {
	Judge     Judge
	ContestID string
	// ID is the judge's own identifier, e.g. "abc300_a", "1900A" or a yukicoder problem id.
	ID string
	// Index is the short label shown in the contest, e.g. "A".
	Index            string
	Name             string
	URL              string
	TimeLimit        time.Duration
	MemoryLimitBytes int64
	TestCases        []TestCase
}

// Key returns the store key for this problem.
func (p Problem) Key() Key {
	return Key{Judge: p.Judge, Contest: p.ContestID, Problem: p.ID}
}

// Key addresses one problem in the test case store.
type Key struct {
	Judge   Judge
	Contest string
	Problem string
}

// Path returns the key as a slash separated relative path.
func (k Key) Path() string {
	contest := k.Contest
	if contest == "" {
		contest = "_"
	}
	return path.Join(string(k.Judge), contest, k.Problem)
}

func (k Key) String() string { return k.Path() }

// CompareMode selects how actual output is matched against expected output.
type CompareMode string

const (
	CompareExact      CompareMode = "exact"
	CompareWhitespace CompareMode = "whitespace"
	CompareFloat      CompareMode = "float"
)

// Valid reports whether m names a known mode.
func (m CompareMode) Valid() bool {
	switch m {
	case CompareExact, CompareWhitespace, CompareFloat:
		return true
	}
	return false
}

// CompareSpec overrides the runner's default comparison for one case or problem.
type CompareSpec struct {
	Mode   CompareMode `yaml:"mode"`
	AbsEps float64     `yaml:"absEps,omitempty"`
	RelEps float64     `yaml:"relEps,omitempty"`
}

// TestCase pairs one input with its expected output.
type TestCase struct {
	Name     string
	Input    []byte
	Expected []byte
	Compare  *CompareSpec
}
