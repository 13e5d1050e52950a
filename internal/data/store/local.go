package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
	"golang.org/x/exp/mmap"

	"github.com/atlasapprox/server/internal/data/zarr"
)

const (
	dirSuffix = ".zarr"
	zipSuffix = ".zarr.zip"
)

// LocalBackend serves containers from a directory holding <name>.zarr
// directories or legacy <name>.zarr.zip archives.
type LocalBackend struct {
	dir string
}

func NewLocalBackend(dir string) *LocalBackend {
	return &LocalBackend{dir: dir}
}

// Open resolves <dir>/<name>.zarr first, then <dir>/<name>.zarr.zip.
func (b *LocalBackend) Open(ctx context.Context, name string) (zarr.Store, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	dirPath := filepath.Join(b.dir, name+dirSuffix)
	if fi, err := os.Stat(dirPath); err == nil && fi.IsDir() {
		return OpenDir(dirPath)
	}

	zipPath := filepath.Join(b.dir, name+zipSuffix)
	if fi, err := os.Stat(zipPath); err == nil && !fi.IsDir() {
		return OpenZip(zipPath)
	}

	return nil, fmt.Errorf("container %q: %w", name, ErrNotFound)
}

func (b *LocalBackend) Names(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", b.dir, err)
	}
	seen := make(map[string]bool)
	var names []string
	for _, e := range entries {
		var name string
		switch {
		case e.IsDir() && strings.HasSuffix(e.Name(), dirSuffix):
			name = strings.TrimSuffix(e.Name(), dirSuffix)
		case !e.IsDir() && strings.HasSuffix(e.Name(), zipSuffix):
			name = strings.TrimSuffix(e.Name(), zipSuffix)
		default:
			continue
		}
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// DirStore reads a container laid out as a directory tree.
type DirStore struct {
	root string
}

func OpenDir(root string) (*DirStore, error) {
	fi, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}
	return &DirStore{root: root}, nil
}

func (s *DirStore) resolve(key string) (string, error) {
	clean := path.Clean("/" + key)
	if strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

func (s *DirStore) Get(ctx context.Context, key string) ([]byte, error) {
	p, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

func (s *DirStore) List(ctx context.Context, prefix string) ([]string, error) {
	p, err := s.resolve(prefix)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(p)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

func (s *DirStore) ID() string { return "dir:" + s.root }

func (s *DirStore) Close() error { return nil }

// ZipStore reads a container packed in a single uncompressed or deflated
// zip archive. The archive is memory mapped for its lifetime.
type ZipStore struct {
	path  string
	ra    *mmap.ReaderAt
	files map[string]*zip.File
}

// OpenZip maps the archive at p. Entries may sit at the archive root or
// under a single top-level directory.
func OpenZip(p string) (*ZipStore, error) {
	ra, err := mmap.Open(p)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", p, err)
	}
	zr, err := zip.NewReader(ra, int64(ra.Len()))
	if err != nil {
		ra.Close()
		return nil, fmt.Errorf("open zip %s: %w", p, err)
	}

	prefix := ""
	hasRoot := false
	for _, f := range zr.File {
		if f.Name == "zarr.json" {
			hasRoot = true
			break
		}
	}
	if !hasRoot {
		for _, f := range zr.File {
			dir, base := path.Split(f.Name)
			if base == "zarr.json" && (prefix == "" || len(dir) < len(prefix)) {
				prefix = dir
			}
		}
	}

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") || !strings.HasPrefix(f.Name, prefix) {
			continue
		}
		files[strings.TrimPrefix(f.Name, prefix)] = f
	}
	return &ZipStore{path: p, ra: ra, files: files}, nil
}

func (s *ZipStore) Get(ctx context.Context, key string) ([]byte, error) {
	f, ok := s.files[strings.TrimPrefix(key, "/")]
	if !ok {
		return nil, fmt.Errorf("%s in %s: %w", key, s.path, ErrNotFound)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (s *ZipStore) List(ctx context.Context, prefix string) ([]string, error) {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	seen := make(map[string]bool)
	var names []string
	for name := range s.files {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		child, _, _ := strings.Cut(strings.TrimPrefix(name, prefix), "/")
		if child != "" && !seen[child] {
			seen[child] = true
			names = append(names, child)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%s in %s: %w", prefix, s.path, ErrNotFound)
	}
	sort.Strings(names)
	return names, nil
}

func (s *ZipStore) ID() string { return "zip:" + s.path }

func (s *ZipStore) Close() error {
	if s.ra == nil {
		return nil
	}
	err := s.ra.Close()
	s.ra = nil
	if err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}
