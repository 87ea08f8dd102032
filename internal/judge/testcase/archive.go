package testcase

import (
	"io"
	"path"
	"sort"
	"strings"

	"ojkit/internal/judge/model"
	pkgerrors "ojkit/pkg/errors"

	"github.com/klauspost/compress/zip"
)

// MaxArchiveFileBytes caps a single uncompressed file read from an archive.
const MaxArchiveFileBytes = 256 << 20

var (
	inputDirs  = map[string]bool{"in": true, "input": true, "test_in": true, "inputs": true}
	outputDirs = map[string]bool{"out": true, "output": true, "test_out": true, "outputs": true}
)

// ParseArchive reads test cases from a zip archive. Inputs and outputs are paired by file stem,
// either as "name.in"/"name.out" (or ".ans") files or as same-named files below "in/" and "out/"
// directories. Cases are returned in natural name order.
func ParseArchive(r io.ReaderAt, size int64) ([]model.TestCase, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.ArchiveInvalid, "open zip archive failed: %v", err)
	}

	inputs := map[string][]byte{}
	outputs := map[string][]byte{}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasPrefix(f.Name, "__MACOSX/") {
			continue
		}
		name := path.Clean(strings.ReplaceAll(f.Name, `\`, "/"))
		base := path.Base(name)
		if strings.HasPrefix(base, ".") {
			continue
		}
		ext := path.Ext(base)
		stem := strings.TrimSuffix(base, ext)
		parent := strings.ToLower(path.Base(path.Dir(name)))

		var target map[string][]byte
		switch {
		case ext == ".in":
			target = inputs
		case ext == ".out" || ext == ".ans":
			target = outputs
		case inputDirs[parent]:
			target = inputs
		case outputDirs[parent]:
			target = outputs
		default:
			continue
		}
		if !validSegment(stem) {
			return nil, pkgerrors.Newf(pkgerrors.ArchiveInvalid, "archive entry %q has an unusable name", f.Name)
		}
		if _, dup := target[stem]; dup {
			return nil, pkgerrors.Newf(pkgerrors.ArchiveInvalid, "archive holds %q twice", stem)
		}
		data, err := readZipFile(f)
		if err != nil {
			return nil, err
		}
		target[stem] = data
	}

	if len(inputs) == 0 {
		return nil, pkgerrors.New(pkgerrors.ArchiveInvalid).WithMessage("archive holds no test inputs")
	}
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		if _, ok := outputs[name]; !ok {
			return nil, pkgerrors.Newf(pkgerrors.ArchiveInvalid, "input %q has no output", name)
		}
		names = append(names, name)
	}
	for name := range outputs {
		if _, ok := inputs[name]; !ok {
			return nil, pkgerrors.Newf(pkgerrors.ArchiveInvalid, "output %q has no input", name)
		}
	}
	sort.Slice(names, func(i, j int) bool { return naturalLess(names[i], names[j]) })

	cases := make([]model.TestCase, 0, len(names))
	for _, name := range names {
		cases = append(cases, model.TestCase{Name: name, Input: inputs[name], Expected: outputs[name]})
	}
	return cases, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > MaxArchiveFileBytes {
		return nil, pkgerrors.Newf(pkgerrors.ArchiveInvalid, "archive entry %q is too large", f.Name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.ArchiveInvalid, "open archive entry %q failed", f.Name)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, MaxArchiveFileBytes+1))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.ArchiveInvalid, "read archive entry %q failed", f.Name)
	}
	if len(data) > MaxArchiveFileBytes {
		return nil, pkgerrors.Newf(pkgerrors.ArchiveInvalid, "archive entry %q is too large", f.Name)
	}
	return data, nil
}

// ImportArchive parses a zip archive and stores its cases under key.
func (s *Store) ImportArchive(key model.Key, r io.ReaderAt, size int64, opts ...PutOption) (int, error) {
	cases, err := ParseArchive(r, size)
	if err != nil {
		return 0, pkgerrors.GetError(err).WithDetail(pkgerrors.DetailProblem, key.Problem)
	}
	opts = append([]PutOption{WithSource(SourceArchive)}, opts...)
	if err := s.Put(key, cases, opts...); err != nil {
		return 0, err
	}
	return len(cases), nil
}

// naturalLess orders "2" before "10" and "sample-2" before "sample-10".
func naturalLess(a, b string) bool {
	for a != "" && b != "" {
		ca, cb := a[0], b[0]
		if isDigit(ca) && isDigit(cb) {
			na, ra := splitDigits(a)
			nb, rb := splitDigits(b)
			ta, tb := strings.TrimLeft(na, "0"), strings.TrimLeft(nb, "0")
			if len(ta) != len(tb) {
				return len(ta) < len(tb)
			}
			if ta != tb {
				return ta < tb
			}
			if na != nb {
				return len(na) < len(nb)
			}
			a, b = ra, rb
			continue
		}
		if ca != cb {
			return ca < cb
		}
		a, b = a[1:], b[1:]
	}
	return len(a) < len(b)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func splitDigits(s string) (digits, rest string) {
	i := 0
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	return s[:i], s[i:]
}
