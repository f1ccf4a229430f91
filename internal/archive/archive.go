// Package archive packages a directory into a deflate-compressed zip and
// checks archives against the directory they were built from.
package archive

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/nvandessel/connectome/internal/pathutil"
)

// MaxDecompressedSize caps the bytes extracted from a single entry (200MB).
const MaxDecompressedSize = 200 * 1024 * 1024

// Info describes a written archive.
type Info struct {
	Path     string   `json:"path"`
	Size     int64    `json:"size_bytes"`
	Checksum string   `json:"checksum"`
	Files    []string `json:"files"`
}

// ArchivePath returns the archive name for dir: dir with any trailing path
// separator stripped, plus ".zip". A dir of "." or ".." is made absolute
// first so the archive lands beside the directory, not inside it.
func ArchivePath(dir string) string {
	cleaned := filepath.Clean(dir)
	if base := filepath.Base(cleaned); base == "." || base == ".." {
		if abs, err := filepath.Abs(cleaned); err == nil {
			cleaned = abs
		}
	}
	return cleaned + ".zip"
}

// ZipDir writes every regular file under dir into zipPath using deflate.
// Entry names are slash-separated paths relative to dir. zipPath itself is
// skipped when it lies under dir.
func ZipDir(dir, zipPath string) (*Info, error) {
	self, err := filepath.Abs(zipPath)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", zipPath, err)
	}
	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if abs, err := filepath.Abs(path); err == nil && abs == self {
			return nil
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", dir, err)
	}
	sort.Strings(files)

	if err := os.MkdirAll(filepath.Dir(zipPath), 0755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}
	f, err := os.Create(zipPath)
	if err != nil {
		return nil, fmt.Errorf("creating archive: %w", err)
	}

	hash := sha256.New()
	zw := zip.NewWriter(io.MultiWriter(f, hash))
	names := make([]string, 0, len(files))
	for _, path := range files {
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("relativizing %s: %w", path, err)
		}
		name := filepath.ToSlash(rel)
		if err := addFile(zw, path, name); err != nil {
			f.Close()
			return nil, err
		}
		names = append(names, name)
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return nil, fmt.Errorf("finalizing archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("closing archive: %w", err)
	}

	st, err := os.Stat(zipPath)
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	return &Info{
		Path:     zipPath,
		Size:     st.Size(),
		Checksum: "sha256:" + hex.EncodeToString(hash.Sum(nil)),
		Files:    names,
	}, nil
}

func addFile(zw *zip.Writer, path, name string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", name, err)
	}
	defer src.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return fmt.Errorf("adding %s: %w", name, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("compressing %s: %w", name, err)
	}
	return nil
}

// List returns the entry names of zipPath in archive order.
func List(zipPath string) ([]string, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer zr.Close()

	names := make([]string, 0, len(zr.File))
	for _, zf := range zr.File {
		names = append(names, zf.Name)
	}
	return names, nil
}

// Extract unpacks zipPath into dest. Entries resolving outside dest are
// rejected.
func Extract(zipPath, dest string) error {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer zr.Close()

	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	for _, zf := range zr.File {
		target := filepath.Join(dest, filepath.FromSlash(zf.Name))
		if err := pathutil.ValidatePath(target, []string{dest}); err != nil {
			return fmt.Errorf("entry %q: %w", zf.Name, err)
		}
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		data, err := readEntry(zf)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(target, data, 0644); err != nil {
			return fmt.Errorf("writing %s: %w", zf.Name, err)
		}
	}
	return nil
}

func readEntry(zf *zip.File) ([]byte, error) {
	rc, err := zf.Open()
	if err != nil {
		return nil, fmt.Errorf("opening entry %s: %w", zf.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, MaxDecompressedSize+1))
	if err != nil {
		return nil, fmt.Errorf("decompressing %s: %w", zf.Name, err)
	}
	if int64(len(data)) > MaxDecompressedSize {
		return nil, fmt.Errorf("entry %s exceeds maximum size of %d bytes", zf.Name, MaxDecompressedSize)
	}
	return data, nil
}

// Verify checks that zipPath holds exactly the regular files of dir with
// identical content.
func Verify(zipPath, dir string) error {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer zr.Close()

	want := make(map[string]bool)
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			want[filepath.ToSlash(rel)] = true
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walking %s: %w", dir, err)
	}

	for _, zf := range zr.File {
		if !want[zf.Name] {
			return fmt.Errorf("archive has unexpected entry %q", zf.Name)
		}
		delete(want, zf.Name)

		got, err := readEntry(zf)
		if err != nil {
			return err
		}
		onDisk, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(zf.Name)))
		if err != nil {
			return fmt.Errorf("reading %s: %w", zf.Name, err)
		}
		if !bytes.Equal(got, onDisk) {
			return fmt.Errorf("entry %q differs from %s", zf.Name, pathutil.RedactPath(dir))
		}
	}
	if len(want) > 0 {
		missing := make([]string, 0, len(want))
		for name := range want {
			missing = append(missing, name)
		}
		sort.Strings(missing)
		return fmt.Errorf("archive is missing %v", missing)
	}
	return nil
}
