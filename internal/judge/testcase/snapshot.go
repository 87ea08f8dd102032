package testcase

import (
	"archive/tar"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"ojkit/internal/judge/model"
	pkgerrors "ojkit/pkg/errors"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// ExportSnapshot writes every stored entry to w as a zstd compressed tar archive.
func (s *Store) ExportSnapshot(w io.Writer) (int, error) {
	keys, err := s.Keys("")
	if err != nil {
		return 0, err
	}
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return 0, pkgerrors.Wrapf(err, pkgerrors.InternalError, "create zstd writer failed")
	}
	tw := tar.NewWriter(zw)

	exported := 0
	for _, key := range keys {
		ok, err := s.exportEntry(tw, key)
		if err != nil {
			_ = tw.Close()
			_ = zw.Close()
			return exported, err
		}
		if ok {
			exported++
		}
	}
	if err := tw.Close(); err != nil {
		_ = zw.Close()
		return exported, pkgerrors.Wrapf(err, pkgerrors.StoreWriteError, "finish snapshot failed")
	}
	if err := zw.Close(); err != nil {
		return exported, pkgerrors.Wrapf(err, pkgerrors.StoreWriteError, "finish snapshot failed")
	}
	return exported, nil
}

func (s *Store) exportEntry(tw *tar.Writer, key model.Key) (bool, error) {
	l := s.lock(key)
	l.RLock()
	defer l.RUnlock()

	dir := s.dir(key)
	m, err := readManifest(dir, key)
	if pkgerrors.Is(err, pkgerrors.CacheMiss) {
		// Invalidated after listing.
		return false, nil
	}
	if err != nil {
		return false, err
	}

	files := []string{manifestFileName}
	for _, c := range m.Cases {
		files = append(files, c.Name+inputExt, c.Name+outputExt)
	}
	for _, name := range files {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return false, storeError(pkgerrors.StoreCorrupted, key, err, "read "+name+" failed")
		}
		hdr := &tar.Header{
			Name:     key.Path() + "/" + name,
			Mode:     0o644,
			Size:     int64(len(data)),
			ModTime:  m.StoredAt,
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return false, pkgerrors.Wrapf(err, pkgerrors.StoreWriteError, "write snapshot entry failed")
		}
		if _, err := tw.Write(data); err != nil {
			return false, pkgerrors.Wrapf(err, pkgerrors.StoreWriteError, "write snapshot entry failed")
		}
	}
	return true, nil
}

// ImportSnapshot restores entries written by ExportSnapshot. Every entry is verified against
// its manifest before it replaces what is stored under the same key.
func (s *Store) ImportSnapshot(r io.Reader) (int, error) {
	staging := filepath.Join(s.root, tempPrefix+"import-"+uuid.NewString())
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return 0, pkgerrors.Wrapf(err, pkgerrors.StoreWriteError, "create staging dir failed")
	}
	defer func() { _ = os.RemoveAll(staging) }()

	if err := extractSnapshot(r, staging); err != nil {
		return 0, err
	}

	matches, err := filepath.Glob(filepath.Join(staging, "*", "*", "*", manifestFileName))
	if err != nil {
		return 0, pkgerrors.Wrap(err, pkgerrors.InternalError)
	}
	imported := 0
	for _, match := range matches {
		dir := filepath.Dir(match)
		m, cases, err := readEntry(dir, model.Key{})
		if err != nil {
			return imported, pkgerrors.GetError(err).WithMessagef("snapshot entry %s is corrupted", filepath.Base(dir))
		}
		key := m.key()
		if err := validateKey(key); err != nil {
			return imported, err
		}
		opts := []PutOption{
			WithSource(m.Source),
			WithLimits(m.meta().TimeLimit, m.MemoryLimitBytes),
		}
		if m.Source == "" {
			opts[0] = WithSource(SourceSnapshot)
		}
		if err := s.Put(key, cases, opts...); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}

func extractSnapshot(r io.Reader, dstDir string) error {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.ArchiveInvalid, "create zstd reader failed")
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return pkgerrors.Wrapf(err, pkgerrors.ArchiveInvalid, "read snapshot entry failed")
		}
		if hdr.Typeflag != tar.TypeReg || hdr.Name == "" {
			continue
		}
		cleanName := filepath.Clean(filepath.FromSlash(hdr.Name))
		if strings.HasPrefix(cleanName, "..") || filepath.IsAbs(cleanName) {
			return pkgerrors.New(pkgerrors.ArchiveInvalid).WithMessage("invalid snapshot entry path")
		}
		target := filepath.Join(dstDir, cleanName)
		if !strings.HasPrefix(target, filepath.Clean(dstDir)+string(filepath.Separator)) {
			return pkgerrors.New(pkgerrors.ArchiveInvalid).WithMessage("snapshot entry escapes the store")
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return pkgerrors.Wrapf(err, pkgerrors.StoreWriteError, "create dir failed")
		}
		file, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			return pkgerrors.Wrapf(err, pkgerrors.StoreWriteError, "create file failed")
		}
		if _, err := io.Copy(file, tr); err != nil {
			_ = file.Close()
			return pkgerrors.Wrapf(err, pkgerrors.StoreWriteError, "write file failed")
		}
		_ = file.Close()
	}
}
