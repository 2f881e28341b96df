package fs

// This is a mock implementation of the "fs" module for use with tests. It does
// not actually read from the file system. Instead, it reads from a pre-specified
// map of file paths to files. Writes are kept in memory.

import (
	"path"
	"strings"
	"sync"
	"syscall"
)

type mockFS struct {
	mutex         sync.RWMutex
	dirs          map[string]map[string]Entry
	files         map[string]string
	absWorkingDir string
}

func MockFS(input map[string]string, absWorkingDir string) FS {
	return MockFSWithSymlinks(input, nil, absWorkingDir)
}

// Each key of "symlinks" is the absolute path of a link and each value is the
// absolute path of the file or directory it points to.
func MockFSWithSymlinks(input map[string]string, symlinks map[string]string, absWorkingDir string) FS {
	fs := &mockFS{
		dirs:          make(map[string]map[string]Entry),
		files:         make(map[string]string),
		absWorkingDir: absWorkingDir,
	}
	fs.dirs["/"] = make(map[string]Entry)

	for k, v := range input {
		fs.addFile(k, v)
	}

	for link, target := range symlinks {
		kind := FileEntry
		if _, ok := fs.dirs[target]; ok {
			kind = DirEntry
		}
		fs.addParents(link)
		fs.dirs[path.Dir(link)][path.Base(link)] = Entry{Kind: kind, Symlink: target}
	}

	return fs
}

// Build the directory map
func (fs *mockFS) addParents(k string) {
	dir := path.Dir(k)
	if _, ok := fs.dirs[dir]; !ok {
		fs.dirs[dir] = make(map[string]Entry)
	}
	for dir != "/" {
		parent := path.Dir(dir)
		entries, ok := fs.dirs[parent]
		if !ok {
			entries = make(map[string]Entry)
			fs.dirs[parent] = entries
		}
		entries[path.Base(dir)] = Entry{Kind: DirEntry}
		dir = parent
	}
}

func (fs *mockFS) addFile(k string, contents string) {
	fs.files[k] = contents
	fs.addParents(k)
	fs.dirs[path.Dir(k)][path.Base(k)] = Entry{Kind: FileEntry}
}

func (fs *mockFS) ReadDirectory(p string) (map[string]Entry, error) {
	fs.mutex.RLock()
	defer fs.mutex.RUnlock()

	// Trim trailing slashes before lookup
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}

	if dir, ok := fs.dirs[p]; ok {
		return dir, nil
	}
	return nil, syscall.ENOENT
}

func (fs *mockFS) ReadFile(p string) (string, error) {
	fs.mutex.RLock()
	defer fs.mutex.RUnlock()
	if contents, ok := fs.files[p]; ok {
		return contents, nil
	}
	return "", syscall.ENOENT
}

func (fs *mockFS) WriteFile(p string, contents []byte) error {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()
	if _, ok := fs.dirs[path.Dir(p)]; !ok {
		return syscall.ENOENT
	}
	fs.copyOnWrite(path.Dir(p))
	fs.files[p] = string(contents)
	fs.dirs[path.Dir(p)][path.Base(p)] = Entry{Kind: FileEntry}
	return nil
}

func (fs *mockFS) MkdirAll(p string) error {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()
	for dir := p; ; dir = path.Dir(dir) {
		if _, ok := fs.files[dir]; ok {
			return syscall.ENOTDIR
		}
		if _, ok := fs.dirs[dir]; !ok {
			fs.dirs[dir] = make(map[string]Entry)
		}
		if dir == "/" {
			break
		}
		parent := path.Dir(dir)
		if _, ok := fs.dirs[parent]; ok {
			fs.copyOnWrite(parent)
		} else {
			fs.dirs[parent] = make(map[string]Entry)
		}
		fs.dirs[parent][path.Base(dir)] = Entry{Kind: DirEntry}
	}
	return nil
}

func (fs *mockFS) RemoveAll(p string) error {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()
	prefix := strings.TrimRight(p, "/") + "/"
	for k := range fs.files {
		if k == p || strings.HasPrefix(k, prefix) {
			delete(fs.files, k)
		}
	}
	for k := range fs.dirs {
		if k == p || strings.HasPrefix(k, prefix) {
			delete(fs.dirs, k)
		}
	}
	if parent := path.Dir(p); parent != p {
		if _, ok := fs.dirs[parent]; ok {
			fs.copyOnWrite(parent)
			delete(fs.dirs[parent], path.Base(p))
		}
	}
	return nil
}

// Listings handed out by "ReadDirectory" must never change underneath the
// caller, so writes replace the map instead of mutating it.
func (fs *mockFS) copyOnWrite(dir string) {
	old := fs.dirs[dir]
	clone := make(map[string]Entry, len(old)+1)
	for k, v := range old {
		clone[k] = v
	}
	fs.dirs[dir] = clone
}

func (*mockFS) IsAbs(p string) bool {
	return path.IsAbs(p)
}

func (fs *mockFS) Abs(p string) (string, bool) {
	if !path.IsAbs(p) {
		p = path.Join(fs.absWorkingDir, p)
	}
	return path.Clean(p), true
}

func (*mockFS) Dir(p string) string {
	return path.Dir(p)
}

func (*mockFS) Base(p string) string {
	return path.Base(p)
}

func (*mockFS) Ext(p string) string {
	return path.Ext(p)
}

func (*mockFS) Join(parts ...string) string {
	return path.Clean(path.Join(parts...))
}

func (fs *mockFS) Cwd() string {
	return fs.absWorkingDir
}

func splitOnSlash(path string) (string, string) {
	if slash := strings.IndexByte(path, '/'); slash != -1 {
		return path[:slash], path[slash+1:]
	}
	return path, ""
}

func (*mockFS) Rel(base string, target string) (string, bool) {
	base = path.Clean(base)
	target = path.Clean(target)

	// Go's implementation does these checks
	if base == target {
		return ".", true
	}
	if base == "." {
		base = ""
	}

	// Go's implementation fails when this condition is false. I believe this is
	// because of this part of the contract, from Go's documentation: "An error
	// is returned if targpath can't be made relative to basepath or if knowing
	// the current working directory would be necessary to compute it."
	if (len(base) > 0 && base[0] == '/') != (len(target) > 0 && target[0] == '/') {
		return "", false
	}

	// Find the common parent directory
	for {
		bHead, bTail := splitOnSlash(base)
		tHead, tTail := splitOnSlash(target)
		if bHead != tHead {
			break
		}
		base = bTail
		target = tTail
	}

	// Stop now if base is a subpath of target
	if base == "" {
		return target, true
	}

	// Traverse up to the common parent
	commonParent := strings.Repeat("../", strings.Count(base, "/")+1)

	// Stop now if target is a subpath of base
	if target == "" {
		return commonParent[:len(commonParent)-1], true
	}

	// Otherwise, down to the parent
	return commonParent + target, true
}
