package fs

// Every build gets its own FS instance. Directory listings are cached on the
// instance, never globally, so two builds in the same process (for example a
// long-lived service) can't observe each other's stale entries.

import (
	"strings"
)

type EntryKind uint8

const (
	DirEntry  EntryKind = 1
	FileEntry EntryKind = 2
)

type Entry struct {
	Kind EntryKind

	// The absolute path of the real file if this entry is a symlink. This is
	// empty for regular entries. Symlinks are followed when the directory is
	// listed so the cache already contains the translation.
	Symlink string
}

type FS interface {
	// The returned map is immutable and is cached across invocations. Do not
	// mutate it.
	ReadDirectory(path string) (map[string]Entry, error)
	ReadFile(path string) (string, error)

	WriteFile(path string, contents []byte) error
	MkdirAll(path string) error
	RemoveAll(path string) error

	// This is part of the interface because the mock interface used for tests
	// should not depend on file system behavior (i.e. different slashes for
	// Windows) while the real interface should.
	IsAbs(path string) bool
	Abs(path string) (string, bool)
	Dir(path string) string
	Base(path string) string
	Ext(path string) string
	Join(parts ...string) string
	Cwd() string
	Rel(base string, target string) (string, bool)
}

// Returns the entry for "path" if it exists, using the cached listing of the
// parent directory.
func Lookup(fs FS, path string) (Entry, bool) {
	entry, _, ok := lookup(fs, path)
	return entry, ok
}

// Also returns the real path of the parent directory. Symlinks anywhere in
// the path are followed, not only in the last segment.
func lookup(fs FS, path string) (Entry, string, bool) {
	dir := fs.Dir(path)
	if dir == path {
		return Entry{Kind: DirEntry}, dir, true
	}
	realDir, ok := RealDir(fs, dir)
	if !ok {
		return Entry{}, "", false
	}
	entries, err := fs.ReadDirectory(realDir)
	if err != nil {
		return Entry{}, "", false
	}
	entry, ok := entries[fs.Base(path)]
	return entry, realDir, ok
}

// Returns the real path of a directory if it exists
func RealDir(fs FS, path string) (string, bool) {
	entry, realParent, ok := lookup(fs, path)
	if !ok || entry.Kind != DirEntry {
		return "", false
	}
	if entry.Symlink != "" {
		return entry.Symlink, true
	}
	if realParent == path {
		return path, true
	}
	return fs.Join(realParent, fs.Base(path)), true
}

// Returns the real path of a file if it exists. Symlinks are replaced by
// their target so that every physical file has exactly one key.
func RealFile(fs FS, path string) (string, bool) {
	entry, realDir, ok := lookup(fs, path)
	if !ok || entry.Kind != FileEntry {
		return "", false
	}
	if entry.Symlink != "" {
		return entry.Symlink, true
	}
	return fs.Join(realDir, fs.Base(path)), true
}

func IsDir(fs FS, path string) bool {
	entry, ok := Lookup(fs, path)
	return ok && entry.Kind == DirEntry
}

// Reports whether "path" is "dir" itself or somewhere underneath it. Both
// paths must be clean and absolute.
func IsDescendantOf(fs FS, path string, dir string) bool {
	rel, ok := fs.Rel(dir, path)
	if !ok {
		return false
	}
	rel = strings.ReplaceAll(rel, "\\", "/")
	return rel != ".." && !strings.HasPrefix(rel, "../") && !fs.IsAbs(rel)
}
