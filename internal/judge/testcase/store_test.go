package testcase

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ojkit/internal/judge/model"
	"ojkit/internal/testutil"
	pkgerrors "ojkit/pkg/errors"

	"github.com/klauspost/compress/zip"
)

var abcKey = model.Key{Judge: model.JudgeAtCoder, Contest: "abc300", Problem: "abc300_a"}

func sampleCases() []model.TestCase {
	return []model.TestCase{
		{Name: "sample-1", Input: []byte("1 2\n"), Expected: []byte("3\n")},
		{Name: "sample-2", Input: []byte("5 5\n"), Expected: []byte("10\n"),
			Compare: &model.CompareSpec{Mode: model.CompareFloat, AbsEps: 1e-9}},
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	testutil.MustNoError(t, err)
	return s
}

func TestGetMiss(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(abcKey)
	testutil.AssertCode(t, err, pkgerrors.CacheMiss)
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	testutil.MustNoError(t, s.Put(abcKey, sampleCases(), WithSource(SourceSamples), WithLimits(2*time.Second, 1<<30)))

	got, err := s.Get(abcKey)
	testutil.MustNoError(t, err)
	testutil.AssertDeepEqual(t, got, sampleCases())

	meta, err := s.Meta(abcKey)
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, meta.Source, SourceSamples)
	testutil.AssertEqual(t, meta.TimeLimit, 2*time.Second)
	testutil.AssertEqual(t, meta.MemoryLimitBytes, int64(1<<30))
	testutil.AssertDeepEqual(t, meta.CaseNames, []string{"sample-1", "sample-2"})

	_, err = os.Stat(filepath.Join(s.Root(), "atcoder", "abc300", "abc300_a", "sample-1.in"))
	testutil.MustNoError(t, err)
}

func TestPutReplacesWholeSet(t *testing.T) {
	s := newTestStore(t)
	testutil.MustNoError(t, s.Put(abcKey, sampleCases()))
	replacement := []model.TestCase{{Name: "only", Input: []byte("x\n"), Expected: []byte("y\n")}}
	testutil.MustNoError(t, s.Put(abcKey, replacement))

	got, err := s.Get(abcKey)
	testutil.MustNoError(t, err)
	testutil.AssertDeepEqual(t, got, replacement)

	_, err = os.Stat(filepath.Join(s.Root(), "atcoder", "abc300", "abc300_a", "sample-1.in"))
	testutil.AssertTrue(t, os.IsNotExist(err), "old case files must be gone")

	leftovers, _ := filepath.Glob(filepath.Join(s.Root(), "atcoder", "abc300", ".*"))
	testutil.AssertEqual(t, len(leftovers), 0)
}

func TestPutRejectsInvalidCases(t *testing.T) {
	s := newTestStore(t)
	tests := []struct {
		name  string
		cases []model.TestCase
	}{
		{"empty", nil},
		{"no name", []model.TestCase{{Input: []byte("1")}}},
		{"path name", []model.TestCase{{Name: "../x", Input: []byte("1")}}},
		{"duplicate", []model.TestCase{{Name: "a", Input: []byte("1")}, {Name: "a", Input: []byte("2")}}},
		{"no input", []model.TestCase{{Name: "a"}}},
		{"bad mode", []model.TestCase{{Name: "a", Input: []byte("1"), Compare: &model.CompareSpec{Mode: "fuzzy"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testutil.AssertCode(t, s.Put(abcKey, tt.cases), pkgerrors.TestCaseInvalid)
		})
	}
	_, err := s.Get(abcKey)
	testutil.AssertCode(t, err, pkgerrors.CacheMiss)
}

func TestInvalidate(t *testing.T) {
	s := newTestStore(t)
	testutil.MustNoError(t, s.Put(abcKey, sampleCases()))
	testutil.MustNoError(t, s.Invalidate(abcKey))
	_, err := s.Get(abcKey)
	testutil.AssertCode(t, err, pkgerrors.CacheMiss)
	testutil.MustNoError(t, s.Invalidate(abcKey))
}

func TestCorruptionIsDetected(t *testing.T) {
	s := newTestStore(t)
	testutil.MustNoError(t, s.Put(abcKey, sampleCases()))
	path := filepath.Join(s.Root(), "atcoder", "abc300", "abc300_a", "sample-2.out")
	testutil.MustNoError(t, os.WriteFile(path, []byte("11\n"), 0o644))

	_, err := s.Get(abcKey)
	testutil.AssertCode(t, err, pkgerrors.StoreCorrupted)
	testutil.AssertTrue(t, pkgerrors.IsCategory(err, pkgerrors.CategoryStore), "corruption is a store error")
}

func TestEntryWithoutManifestIsAMiss(t *testing.T) {
	s := newTestStore(t)
	dir := filepath.Join(s.Root(), "atcoder", "abc300", "abc300_a")
	testutil.MustNoError(t, os.MkdirAll(dir, 0o755))
	testutil.MustNoError(t, os.WriteFile(filepath.Join(dir, "sample-1.in"), []byte("1\n"), 0o644))

	_, err := s.Get(abcKey)
	testutil.AssertCode(t, err, pkgerrors.CacheMiss)
}

func TestKeys(t *testing.T) {
	s := newTestStore(t)
	yuki := model.Key{Judge: model.JudgeYukicoder, Problem: "1234"}
	testutil.MustNoError(t, s.Put(abcKey, sampleCases()))
	testutil.MustNoError(t, s.Put(yuki, sampleCases()))

	all, err := s.Keys("")
	testutil.MustNoError(t, err)
	testutil.AssertDeepEqual(t, all, []model.Key{abcKey, yuki})

	only, err := s.Keys(model.JudgeYukicoder)
	testutil.MustNoError(t, err)
	testutil.AssertDeepEqual(t, only, []model.Key{yuki})
}

func TestConcurrentPutAndGet(t *testing.T) {
	s := newTestStore(t)
	testutil.MustNoError(t, s.Put(abcKey, sampleCases()))
	other := []model.TestCase{{Name: "only", Input: []byte("x\n"), Expected: []byte("y\n")}}

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			cases := sampleCases()
			if i%2 == 0 {
				cases = other
			}
			errs <- s.Put(abcKey, cases)
		}(i)
		go func() {
			defer wg.Done()
			got, err := s.Get(abcKey)
			if err == nil && len(got) != 1 && len(got) != 2 {
				err = pkgerrors.New(pkgerrors.StoreCorrupted).WithMessage("mixed case set")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		testutil.MustNoError(t, err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	src := newTestStore(t)
	yuki := model.Key{Judge: model.JudgeYukicoder, Problem: "1234"}
	testutil.MustNoError(t, src.Put(abcKey, sampleCases(), WithLimits(2*time.Second, 1<<30)))
	testutil.MustNoError(t, src.Put(yuki, sampleCases(), WithSource(SourceFull)))

	var buf bytes.Buffer
	n, err := src.ExportSnapshot(&buf)
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, n, 2)

	dst := newTestStore(t)
	n, err = dst.ImportSnapshot(&buf)
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, n, 2)

	got, err := dst.Get(yuki)
	testutil.MustNoError(t, err)
	testutil.AssertDeepEqual(t, got, sampleCases())
	meta, err := dst.Meta(abcKey)
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, meta.TimeLimit, 2*time.Second)
	meta, err = dst.Meta(yuki)
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, meta.Source, SourceFull)
}

func TestImportSnapshotRejectsGarbage(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ImportSnapshot(bytes.NewReader([]byte("not zstd at all")))
	testutil.AssertCode(t, err, pkgerrors.ArchiveInvalid)
}

func buildZip(t *testing.T, files map[string]string) *bytes.Reader {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		testutil.MustNoError(t, err)
		_, err = w.Write([]byte(content))
		testutil.MustNoError(t, err)
	}
	testutil.MustNoError(t, zw.Close())
	return bytes.NewReader(buf.Bytes())
}

func TestParseArchiveDirectories(t *testing.T) {
	r := buildZip(t, map[string]string{
		"test_in/10.txt":  "ten\n",
		"test_in/2.txt":   "two\n",
		"test_out/10.txt": "TEN\n",
		"test_out/2.txt":  "TWO\n",
		"README.md":       "ignored",
	})
	cases, err := ParseArchive(r, r.Size())
	testutil.MustNoError(t, err)
	testutil.AssertDeepEqual(t, cases, []model.TestCase{
		{Name: "2", Input: []byte("two\n"), Expected: []byte("TWO\n")},
		{Name: "10", Input: []byte("ten\n"), Expected: []byte("TEN\n")},
	})
}

func TestParseArchiveExtensions(t *testing.T) {
	r := buildZip(t, map[string]string{
		"cases/a.in":  "1\n",
		"cases/a.ans": "2\n",
	})
	cases, err := ParseArchive(r, r.Size())
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, len(cases), 1)
	testutil.AssertEqual(t, cases[0].Name, "a")
}

func TestParseArchiveUnpaired(t *testing.T) {
	r := buildZip(t, map[string]string{"in/1.txt": "1\n"})
	_, err := ParseArchive(r, r.Size())
	testutil.AssertCode(t, err, pkgerrors.ArchiveInvalid)
}

func TestImportArchive(t *testing.T) {
	s := newTestStore(t)
	r := buildZip(t, map[string]string{"1.in": "1\n", "1.out": "1\n"})
	n, err := s.ImportArchive(abcKey, r, r.Size())
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, n, 1)
	meta, err := s.Meta(abcKey)
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, meta.Source, SourceArchive)
}

func TestNaturalLess(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"2", "10", true},
		{"10", "2", false},
		{"sample-2", "sample-10", true},
		{"a", "b", true},
		{"01", "1", false},
		{"1", "01", true},
		{"abc", "abc", false},
	}
	for _, tt := range tests {
		testutil.AssertEqual(t, naturalLess(tt.a, tt.b), tt.want)
	}
}
