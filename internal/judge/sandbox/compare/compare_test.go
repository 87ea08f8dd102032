package compare

import (
	"strings"
	"testing"
	"unicode/utf8"

	"ojkit/internal/judge/model"
	"ojkit/internal/testutil"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		name     string
		mode     model.CompareMode
		expected string
		actual   string
		match    bool
		diff     string
	}{
		{name: "whitespace collapses spaces", mode: model.CompareWhitespace, expected: "1 2\n", actual: "1  2", match: true},
		{name: "whitespace token differs", mode: model.CompareWhitespace, expected: "1 2\n", actual: "1 3\n", diff: `token 2: expected "2", got "3"`},
		{name: "whitespace missing token", mode: model.CompareWhitespace, expected: "1 2\n", actual: "1\n", diff: `expected 2 tokens, got 1 (missing "2")`},
		{name: "whitespace extra token", mode: model.CompareWhitespace, expected: "1\n", actual: "1 9\n", diff: `expected 1 tokens, got 2 (extra "9")`},
		{name: "exact crlf", mode: model.CompareExact, expected: "a\nb\n", actual: "a\r\nb\r\n", match: true},
		{name: "exact trailing space", mode: model.CompareExact, expected: "a\n", actual: "a \n", diff: `line 1: expected "a", got "a "`},
		{name: "exact missing line", mode: model.CompareExact, expected: "a\nb", actual: "a", diff: `line 2: expected "b", got end of output`},
		{name: "float within tolerance", mode: model.CompareFloat, expected: "1.0000001\n", actual: "1.0000002\n", match: true},
		{name: "float outside tolerance", mode: model.CompareFloat, expected: "1.0\n", actual: "2.0\n", diff: `token 1: expected "1.0", got "2.0"`},
		{name: "float relative", mode: model.CompareFloat, expected: "1000000000", actual: "1000000100", match: true},
		{name: "float relative to the larger value", mode: model.CompareFloat, expected: "1000000", actual: "1000001.0000005", match: true},
		{name: "float relative symmetric", mode: model.CompareFloat, expected: "1000001.0000005", actual: "1000000", match: true},
		{name: "float word exact", mode: model.CompareFloat, expected: "Yes 0.5", actual: "yes 0.5", diff: `token 1: expected "Yes", got "yes"`},
		{name: "float nan never equal", mode: model.CompareFloat, expected: "1", actual: "NaN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(model.CompareSpec{Mode: tt.mode}, nil)
			res := c.Compare([]byte(tt.expected), []byte(tt.actual))
			testutil.AssertEqual(t, res.Match, tt.match)
			if tt.diff != "" {
				testutil.AssertEqual(t, res.Diff, tt.diff)
			}
			if tt.match {
				testutil.AssertEqual(t, res.Diff, "")
			}
		})
	}
}

func TestNewOverrides(t *testing.T) {
	c := New(model.CompareSpec{Mode: model.CompareExact}, &model.CompareSpec{Mode: model.CompareFloat, AbsEps: 0.5})
	testutil.AssertEqual(t, c.Mode, model.CompareFloat)
	testutil.AssertEqual(t, c.AbsEps, 0.5)
	testutil.AssertEqual(t, c.RelEps, DefaultEpsilon)
	testutil.AssertTrue(t, c.Compare([]byte("1"), []byte("1.4")).Match, "custom absolute tolerance")

	c = New(model.CompareSpec{}, nil)
	testutil.AssertEqual(t, c.Mode, model.CompareWhitespace)
}

func TestDiffExcerptTruncated(t *testing.T) {
	long := strings.Repeat("x", 200)
	res := New(model.CompareSpec{Mode: model.CompareWhitespace}, nil).Compare([]byte(long), []byte("y"))
	testutil.AssertFalse(t, res.Match, "differs")
	testutil.AssertTrue(t, strings.Contains(res.Diff, "...\""), "long tokens are cut")
	testutil.AssertTrue(t, len(res.Diff) < 150, "diff stays short")
}

func TestDiffExcerptKeepsRunesWhole(t *testing.T) {
	long := strings.Repeat("あ", 100)
	res := New(model.CompareSpec{Mode: model.CompareWhitespace}, nil).Compare([]byte(long), []byte("y"))
	testutil.AssertFalse(t, res.Match, "differs")
	testutil.AssertTrue(t, utf8.ValidString(res.Diff), res.Diff)
	testutil.AssertFalse(t, strings.Contains(res.Diff, `\x`), res.Diff)
	testutil.AssertTrue(t, strings.Contains(res.Diff, strings.Repeat("あ", 26)+`..."`), res.Diff)
}
