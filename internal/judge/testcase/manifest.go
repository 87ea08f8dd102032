package testcase

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"ojkit/internal/judge/model"
)

const (
	manifestFileName = "manifest.yaml"
	manifestVersion  = 1

	inputExt  = ".in"
	outputExt = ".out"
)

// Source tells where stored cases came from.
type Source string

const (
	SourceSamples  Source = "samples"
	SourceFull     Source = "full"
	SourceArchive  Source = "archive"
	SourceSnapshot Source = "snapshot"
)

// manifest is written last into an entry directory; an entry without one does not exist.
type manifest struct {
	Version          int         `yaml:"version"`
	Judge            string      `yaml:"judge"`
	Contest          string      `yaml:"contest,omitempty"`
	Problem          string      `yaml:"problem"`
	Source           Source      `yaml:"source,omitempty"`
	TimeLimitMs      int64       `yaml:"timeLimitMs,omitempty"`
	MemoryLimitBytes int64       `yaml:"memoryLimitBytes,omitempty"`
	StoredAt         time.Time   `yaml:"storedAt"`
	Cases            []caseEntry `yaml:"cases"`
}

type caseEntry struct {
	Name         string             `yaml:"name"`
	InputSHA256  string             `yaml:"inputSha256"`
	OutputSHA256 string             `yaml:"outputSha256"`
	Compare      *model.CompareSpec `yaml:"compare,omitempty"`
}

// Meta describes a stored entry without its case data.
type Meta struct {
	Key              model.Key
	Source           Source
	TimeLimit        time.Duration
	MemoryLimitBytes int64
	StoredAt         time.Time
	CaseNames        []string
}

func (m *manifest) key() model.Key {
	return model.Key{Judge: model.Judge(m.Judge), Contest: m.Contest, Problem: m.Problem}
}

func (m *manifest) meta() Meta {
	names := make([]string, len(m.Cases))
	for i, c := range m.Cases {
		names[i] = c.Name
	}
	return Meta{
		Key:              m.key(),
		Source:           m.Source,
		TimeLimit:        time.Duration(m.TimeLimitMs) * time.Millisecond,
		MemoryLimitBytes: m.MemoryLimitBytes,
		StoredAt:         m.StoredAt,
		CaseNames:        names,
	}
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// PutOption adds metadata to a Put.
type PutOption func(m *manifest)

// WithSource records where the cases came from.
func WithSource(src Source) PutOption {
	return func(m *manifest) { m.Source = src }
}

// WithLimits records the problem's published limits next to its cases.
func WithLimits(timeLimit time.Duration, memoryLimitBytes int64) PutOption {
	return func(m *manifest) {
		m.TimeLimitMs = timeLimit.Milliseconds()
		m.MemoryLimitBytes = memoryLimitBytes
	}
}
