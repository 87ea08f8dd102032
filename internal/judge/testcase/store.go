// Package testcase stores fetched test cases on the local filesystem so that runs work offline
// and judges are not asked twice for the same problem.
package testcase

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"ojkit/internal/judge/model"
	pkgerrors "ojkit/pkg/errors"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	tempPrefix = ".tmp-"
	oldPrefix  = ".old-"
	emptyDir   = "_"
)

// Store keeps one directory per problem under root:
//
//	root/{judge}/{contest}/{problem}/manifest.yaml
//	root/{judge}/{contest}/{problem}/{name}.in
//	root/{judge}/{contest}/{problem}/{name}.out
//
// Reads of a key run concurrently, writes to a key are serialized and swapped in by rename.
type Store struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.RWMutex

	now func() time.Time
}

// New creates a store rooted at root, creating the directory if needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, pkgerrors.BadRequest("test case store root is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.StoreWriteError, "create store root failed")
	}
	return &Store{root: root, locks: make(map[string]*sync.RWMutex), now: time.Now}, nil
}

// Root returns the store directory.
func (s *Store) Root() string { return s.root }

func (s *Store) lock(key model.Key) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key.Path()
	l, ok := s.locks[k]
	if !ok {
		l = &sync.RWMutex{}
		s.locks[k] = l
	}
	return l
}

func validSegment(seg string) bool {
	return seg != "" && seg != "." && seg != ".." &&
		!strings.HasPrefix(seg, ".") && !strings.ContainsAny(seg, `/\`+"\x00")
}

func validateKey(key model.Key) error {
	if key.Judge == "" || !validSegment(string(key.Judge)) {
		return pkgerrors.ValidationError("judge", "invalid")
	}
	if key.Contest != "" && !validSegment(key.Contest) {
		return pkgerrors.ValidationError("contest", "invalid")
	}
	if !validSegment(key.Problem) {
		return pkgerrors.ValidationError("problem", "invalid")
	}
	return nil
}

func (s *Store) dir(key model.Key) string {
	return filepath.Join(s.root, filepath.FromSlash(key.Path()))
}

func storeError(code pkgerrors.ErrorCode, key model.Key, err error, msg string) *pkgerrors.Error {
	var e *pkgerrors.Error
	if err != nil {
		e = pkgerrors.Wrapf(err, code, "%s: %v", msg, err)
	} else {
		e = pkgerrors.Newf(code, "%s", msg)
	}
	return e.WithDetail(pkgerrors.DetailJudge, string(key.Judge)).
		WithDetail(pkgerrors.DetailContest, key.Contest).
		WithDetail(pkgerrors.DetailProblem, key.Problem)
}

// Get returns the stored cases in their original order. A key that was never stored, or was
// invalidated, yields CacheMiss; files that do not match the manifest yield StoreCorrupted.
func (s *Store) Get(key model.Key) ([]model.TestCase, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	l := s.lock(key)
	l.RLock()
	defer l.RUnlock()
	_, cases, err := readEntry(s.dir(key), key)
	return cases, err
}

// Meta returns the manifest data of a stored key.
func (s *Store) Meta(key model.Key) (Meta, error) {
	if err := validateKey(key); err != nil {
		return Meta{}, err
	}
	l := s.lock(key)
	l.RLock()
	defer l.RUnlock()
	m, err := readManifest(s.dir(key), key)
	if err != nil {
		return Meta{}, err
	}
	return m.meta(), nil
}

func readManifest(dir string, key model.Key) (*manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storeError(pkgerrors.CacheMiss, key, nil, "test cases are not stored")
	}
	if err != nil {
		return nil, storeError(pkgerrors.StoreCorrupted, key, err, "read manifest failed")
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, storeError(pkgerrors.StoreCorrupted, key, err, "parse manifest failed")
	}
	if m.Version != manifestVersion {
		return nil, storeError(pkgerrors.StoreCorrupted, key, nil, "unsupported manifest version")
	}
	return &m, nil
}

func readEntry(dir string, key model.Key) (*manifest, []model.TestCase, error) {
	m, err := readManifest(dir, key)
	if err != nil {
		return nil, nil, err
	}
	cases := make([]model.TestCase, 0, len(m.Cases))
	for _, c := range m.Cases {
		if !validSegment(c.Name) {
			return nil, nil, storeError(pkgerrors.StoreCorrupted, key, nil, "invalid case name "+c.Name)
		}
		in, err := readChecked(filepath.Join(dir, c.Name+inputExt), c.InputSHA256)
		if err != nil {
			return nil, nil, storeError(pkgerrors.StoreCorrupted, key, err, "case "+c.Name+" input")
		}
		out, err := readChecked(filepath.Join(dir, c.Name+outputExt), c.OutputSHA256)
		if err != nil {
			return nil, nil, storeError(pkgerrors.StoreCorrupted, key, err, "case "+c.Name+" output")
		}
		cases = append(cases, model.TestCase{Name: c.Name, Input: in, Expected: out, Compare: c.Compare})
	}
	return m, cases, nil
}

var errHashMismatch = errors.New("sha256 mismatch")

func readChecked(path, want string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(hashBytes(data), want) {
		return nil, errHashMismatch
	}
	return data, nil
}

func validateCases(cases []model.TestCase) error {
	if len(cases) == 0 {
		return pkgerrors.New(pkgerrors.TestCaseInvalid).WithMessage("no test cases to store")
	}
	seen := make(map[string]bool, len(cases))
	for i, c := range cases {
		if !validSegment(c.Name) {
			return pkgerrors.Newf(pkgerrors.TestCaseInvalid, "test case %d has invalid name %q", i, c.Name)
		}
		if seen[c.Name] {
			return pkgerrors.Newf(pkgerrors.TestCaseInvalid, "duplicate test case name %q", c.Name)
		}
		seen[c.Name] = true
		if c.Input == nil {
			return pkgerrors.Newf(pkgerrors.TestCaseInvalid, "test case %q has no input", c.Name)
		}
		if c.Compare != nil && !c.Compare.Mode.Valid() {
			return pkgerrors.Newf(pkgerrors.TestCaseInvalid, "test case %q has unknown compare mode %q", c.Name, c.Compare.Mode)
		}
	}
	return nil
}

// Put replaces everything stored under key with cases. Readers see either the old or the new
// set, never a mix.
func (s *Store) Put(key model.Key, cases []model.TestCase, opts ...PutOption) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := validateCases(cases); err != nil {
		return pkgerrors.GetError(err).WithDetail(pkgerrors.DetailProblem, key.Problem)
	}

	m := &manifest{
		Version:  manifestVersion,
		Judge:    string(key.Judge),
		Contest:  key.Contest,
		Problem:  key.Problem,
		StoredAt: s.now().UTC().Truncate(time.Second),
	}
	for _, opt := range opts {
		opt(m)
	}

	dir := s.dir(key)
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return storeError(pkgerrors.StoreWriteError, key, err, "create store directory failed")
	}
	tmp := filepath.Join(parent, tempPrefix+uuid.NewString())
	if err := writeEntry(tmp, m, cases); err != nil {
		_ = os.RemoveAll(tmp)
		return storeError(pkgerrors.StoreWriteError, key, err, "write test cases failed")
	}

	l := s.lock(key)
	l.Lock()
	defer l.Unlock()

	old := ""
	if _, err := os.Stat(dir); err == nil {
		old = filepath.Join(parent, oldPrefix+uuid.NewString())
		if err := os.Rename(dir, old); err != nil {
			_ = os.RemoveAll(tmp)
			return storeError(pkgerrors.StoreWriteError, key, err, "move old entry failed")
		}
	}
	if err := os.Rename(tmp, dir); err != nil {
		if old != "" {
			_ = os.Rename(old, dir)
		}
		_ = os.RemoveAll(tmp)
		return storeError(pkgerrors.StoreWriteError, key, err, "swap entry failed")
	}
	if old != "" {
		_ = os.RemoveAll(old)
	}
	return nil
}

func writeEntry(dir string, m *manifest, cases []model.TestCase) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	m.Cases = make([]caseEntry, 0, len(cases))
	for _, c := range cases {
		if err := os.WriteFile(filepath.Join(dir, c.Name+inputExt), c.Input, 0o644); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, c.Name+outputExt), c.Expected, 0o644); err != nil {
			return err
		}
		m.Cases = append(m.Cases, caseEntry{
			Name:         c.Name,
			InputSHA256:  hashBytes(c.Input),
			OutputSHA256: hashBytes(c.Expected),
			Compare:      c.Compare,
		})
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, manifestFileName), data, 0o644)
}

// Invalidate removes key. Removing a key that is not stored is not an error.
func (s *Store) Invalidate(key model.Key) error {
	if err := validateKey(key); err != nil {
		return err
	}
	l := s.lock(key)
	l.Lock()
	defer l.Unlock()
	if err := os.RemoveAll(s.dir(key)); err != nil {
		return storeError(pkgerrors.StoreWriteError, key, err, "remove entry failed")
	}
	return nil
}

// Keys lists the stored keys of judge, or of every judge when judge is empty.
func (s *Store) Keys(judge model.Judge) ([]model.Key, error) {
	pattern := filepath.Join(s.root, "*", "*", "*", manifestFileName)
	if judge != "" {
		pattern = filepath.Join(s.root, string(judge), "*", "*", manifestFileName)
	}
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.InternalError)
	}
	keys := make([]model.Key, 0, len(matches))
	for _, match := range matches {
		rel, err := filepath.Rel(s.root, filepath.Dir(match))
		if err != nil {
			continue
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) != 3 || strings.HasPrefix(parts[2], ".") {
			continue
		}
		key := model.Key{Judge: model.Judge(parts[0]), Contest: parts[1], Problem: parts[2]}
		if key.Contest == emptyDir {
			key.Contest = ""
		}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Path() < keys[j].Path() })
	return keys, nil
}
