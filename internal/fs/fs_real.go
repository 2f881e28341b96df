package fs

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"syscall"
)

type realFS struct {
	// Stores the file entries for directories we've listed before
	entriesMutex sync.RWMutex
	entries      map[string]entriesOrErr

	// For the current working directory
	cwd string
}

type entriesOrErr struct {
	entries map[string]Entry
	err     error
}

func RealFS() FS {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "/"
	} else if real, err := filepath.EvalSymlinks(cwd); err == nil {
		// Resolve symlinks in the current working directory. Input paths are
		// resolved to their real location so relative paths computed from the
		// working directory have to use the same view of the file system.
		cwd = real
	}
	return &realFS{
		entries: make(map[string]entriesOrErr),
		cwd:     cwd,
	}
}

func (fs *realFS) ReadDirectory(dir string) (map[string]Entry, error) {
	// First, check the cache
	cached, ok := func() (entriesOrErr, bool) {
		fs.entriesMutex.RLock()
		defer fs.entriesMutex.RUnlock()
		cached, ok := fs.entries[dir]
		return cached, ok
	}()

	// Cache hit: stop now
	if ok {
		return cached.entries, cached.err
	}

	// Cache miss: read the directory entries
	names, err := readdir(dir)
	var entries map[string]Entry
	if err == nil {
		entries = make(map[string]Entry, len(names))
		for _, name := range names {
			if entry, ok := kind(dir, name); ok {
				entries[name] = entry
			}
		}
	}

	// Update the cache unconditionally. Even if the read failed, we don't want to
	// retry again later. The directory is inaccessible so trying again is wasted.
	fs.entriesMutex.Lock()
	defer fs.entriesMutex.Unlock()
	fs.entries[dir] = entriesOrErr{entries: entries, err: err}
	return entries, err
}

func kind(dir string, name string) (Entry, bool) {
	entryPath := filepath.Join(dir, name)

	// Use "lstat" since we want information about symbolic links
	stat, err := os.Lstat(entryPath)
	if err != nil {
		return Entry{}, false
	}
	mode := stat.Mode()
	symlink := ""

	// Follow symlinks now so the cache contains the translation
	if (mode & os.ModeSymlink) != 0 {
		real, err := filepath.EvalSymlinks(entryPath)
		if err != nil {
			return Entry{}, false // Skip over dangling links and loops
		}
		stat2, err := os.Stat(real)
		if err != nil {
			return Entry{}, false
		}
		symlink = real
		mode = stat2.Mode()
	}

	// We consider the entry either a directory or a file
	if (mode & os.ModeDir) != 0 {
		return Entry{Kind: DirEntry, Symlink: symlink}, true
	}
	return Entry{Kind: FileEntry, Symlink: symlink}, true
}

func (fs *realFS) ReadFile(path string) (string, error) {
	buffer, err := os.ReadFile(path)

	// Unwrap to get the underlying error
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		err = pathErr.Unwrap()
	}

	// Windows returns ENOTDIR here even though nothing we've done yet has asked
	// for a directory. This really means ENOENT on Windows.
	if err == syscall.ENOTDIR {
		return "", syscall.ENOENT
	}

	return string(buffer), err
}

func (fs *realFS) WriteFile(path string, contents []byte) error {
	return os.WriteFile(path, contents, 0644)
}

func (fs *realFS) MkdirAll(path string) error {
	return os.MkdirAll(path, 0755)
}

func (fs *realFS) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

func (*realFS) IsAbs(p string) bool {
	return filepath.IsAbs(p)
}

func (*realFS) Abs(p string) (string, bool) {
	abs, err := filepath.Abs(p)
	return abs, err == nil
}

func (*realFS) Dir(p string) string {
	return filepath.Dir(p)
}

func (*realFS) Base(p string) string {
	return filepath.Base(p)
}

func (*realFS) Ext(p string) string {
	return filepath.Ext(p)
}

func (*realFS) Join(parts ...string) string {
	return filepath.Clean(filepath.Join(parts...))
}

func (fs *realFS) Cwd() string {
	return fs.cwd
}

func (*realFS) Rel(base string, target string) (string, bool) {
	if rel, err := filepath.Rel(base, target); err == nil {
		return rel, true
	}
	return "", false
}

func readdir(dirname string) ([]string, error) {
	f, err := os.Open(dirname)

	// Unwrap to get the underlying error
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		err = pathErr.Unwrap()
	}

	// Stop now if there was an error
	if err != nil {
		return nil, err
	}

	defer f.Close()
	return f.Readdirnames(-1)
}
