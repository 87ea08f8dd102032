// Package compare matches a solution's stdout against the expected output.
package compare

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"ojkit/internal/judge/model"
)

// DefaultEpsilon is the absolute and relative tolerance of float mode when none is configured.
const DefaultEpsilon = 1e-6

const excerptLimit = 80

// Result of one comparison. Diff is empty when Match is true.
type Result struct {
	Match bool
	Diff  string
}

// Comparator compares outputs under one mode.
type Comparator struct {
	Mode   model.CompareMode
	AbsEps float64
	RelEps float64
}

// New builds a comparator from spec, falling back to def for anything spec leaves unset.
func New(def model.CompareSpec, spec *model.CompareSpec) Comparator {
	c := Comparator{Mode: def.Mode, AbsEps: def.AbsEps, RelEps: def.RelEps}
	if spec != nil {
		if spec.Mode != "" {
			c.Mode = spec.Mode
		}
		if spec.AbsEps > 0 {
			c.AbsEps = spec.AbsEps
		}
		if spec.RelEps > 0 {
			c.RelEps = spec.RelEps
		}
	}
	if !c.Mode.Valid() {
		c.Mode = model.CompareWhitespace
	}
	if c.AbsEps <= 0 {
		c.AbsEps = DefaultEpsilon
	}
	if c.RelEps <= 0 {
		c.RelEps = DefaultEpsilon
	}
	return c
}

// Compare matches actual against expected.
func (c Comparator) Compare(expected, actual []byte) Result {
	switch c.Mode {
	case model.CompareExact:
		return exact(expected, actual)
	case model.CompareFloat:
		return tokens(expected, actual, c.floatEqual)
	default:
		return tokens(expected, actual, func(a, b string) bool { return a == b })
	}
}

func normalizeNewlines(b []byte) []byte {
	return bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n"))
}

func exact(expected, actual []byte) Result {
	want := normalizeNewlines(expected)
	got := normalizeNewlines(actual)
	if bytes.Equal(want, got) {
		return Result{Match: true}
	}
	wantLines := strings.Split(string(want), "\n")
	gotLines := strings.Split(string(got), "\n")
	for i := 0; i < len(wantLines) || i < len(gotLines); i++ {
		w, g := lineAt(wantLines, i), lineAt(gotLines, i)
		if w != g {
			return Result{Diff: fmt.Sprintf("line %d: expected %s, got %s", i+1, excerpt(w, i < len(wantLines)), excerpt(g, i < len(gotLines)))}
		}
	}
	return Result{Diff: "outputs differ"}
}

func lineAt(lines []string, i int) string {
	if i < len(lines) {
		return lines[i]
	}
	return ""
}

func tokens(expected, actual []byte, equal func(want, got string) bool) Result {
	want := strings.Fields(string(expected))
	got := strings.Fields(string(actual))
	n := min(len(want), len(got))
	for i := 0; i < n; i++ {
		if !equal(want[i], got[i]) {
			return Result{Diff: fmt.Sprintf("token %d: expected %s, got %s", i+1, excerpt(want[i], true), excerpt(got[i], true))}
		}
	}
	if len(want) != len(got) {
		if len(got) < len(want) {
			return Result{Diff: fmt.Sprintf("expected %d tokens, got %d (missing %s)", len(want), len(got), excerpt(want[n], true))}
		}
		return Result{Diff: fmt.Sprintf("expected %d tokens, got %d (extra %s)", len(want), len(got), excerpt(got[n], true))}
	}
	return Result{Match: true}
}

func (c Comparator) floatEqual(want, got string) bool {
	if want == got {
		return true
	}
	w, errW := strconv.ParseFloat(want, 64)
	g, errG := strconv.ParseFloat(got, 64)
	if errW != nil || errG != nil {
		return false
	}
	if math.IsNaN(w) || math.IsNaN(g) || math.IsInf(w, 0) || math.IsInf(g, 0) {
		return false
	}
	diff := math.Abs(w - g)
	return diff <= c.AbsEps || diff <= c.RelEps*math.Max(math.Abs(w), math.Abs(g))
}

func excerpt(s string, present bool) string {
	if !present {
		return "end of output"
	}
	if len(s) > excerptLimit {
		cut := excerptLimit
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	return strconv.Quote(s)
}

// Spec returns the comparator's settings as a CompareSpec.
func (c Comparator) Spec() model.CompareSpec {
	return model.CompareSpec{Mode: c.Mode, AbsEps: c.AbsEps, RelEps: c.RelEps}
}
