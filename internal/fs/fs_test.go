package fs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockFSBasic(t *testing.T) {
	fs := MockFS(map[string]string{
		"/README.md":    "// README.md",
		"/package.json": "// package.json",
		"/src/index.js": "// src/index.js",
		"/src/util.js":  "// src/util.js",
	}, "/")

	// Test a missing file
	_, err := fs.ReadFile("/missing.txt")
	require.Error(t, err)

	// Test an existing nested file
	index, err := fs.ReadFile("/src/index.js")
	require.NoError(t, err)
	assert.Equal(t, "// src/index.js", index)

	// Test a missing directory
	_, err = fs.ReadDirectory("/missing")
	require.Error(t, err)

	// Test a nested directory
	src, err := fs.ReadDirectory("/src")
	require.NoError(t, err)
	assert.Equal(t, map[string]Entry{
		"index.js": {Kind: FileEntry},
		"util.js":  {Kind: FileEntry},
	}, src)

	// Test the top-level directory
	slash, err := fs.ReadDirectory("/")
	require.NoError(t, err)
	assert.Equal(t, map[string]Entry{
		"README.md":    {Kind: FileEntry},
		"package.json": {Kind: FileEntry},
		"src":          {Kind: DirEntry},
	}, slash)
}

func TestMockFSDeepDirectories(t *testing.T) {
	fs := MockFS(map[string]string{
		"/a/b/c/d.ts": "",
	}, "/")

	assert.True(t, IsDir(fs, "/a"))
	assert.True(t, IsDir(fs, "/a/b"))
	assert.True(t, IsDir(fs, "/a/b/c"))
	assert.False(t, IsDir(fs, "/a/b/c/d.ts"))

	real, ok := RealFile(fs, "/a/b/c/d.ts")
	assert.True(t, ok)
	assert.Equal(t, "/a/b/c/d.ts", real)
}

func TestMockFSSymlinks(t *testing.T) {
	fs := MockFSWithSymlinks(map[string]string{
		"/real/a.ts": "",
	}, map[string]string{
		"/linked/a.ts": "/real/a.ts",
	}, "/")

	real, ok := RealFile(fs, "/linked/a.ts")
	require.True(t, ok)
	assert.Equal(t, "/real/a.ts", real)
}

func TestRealPathThroughSymlinkedDirectory(t *testing.T) {
	fs := MockFSWithSymlinks(map[string]string{
		"/real/nested/a.ts": "",
	}, map[string]string{
		"/linked": "/real",
	}, "/")

	real, ok := RealFile(fs, "/linked/nested/a.ts")
	require.True(t, ok)
	assert.Equal(t, "/real/nested/a.ts", real)

	dir, ok := RealDir(fs, "/linked/nested")
	require.True(t, ok)
	assert.Equal(t, "/real/nested", dir)

	assert.True(t, IsDir(fs, "/linked/nested"))
	_, ok = RealFile(fs, "/linked/missing.ts")
	assert.False(t, ok)
	_, ok = RealDir(fs, "/real/nested/a.ts")
	assert.False(t, ok)
}

func TestMockFSWrites(t *testing.T) {
	fs := MockFS(map[string]string{"/src/a.ts": ""}, "/")

	before, err := fs.ReadDirectory("/src")
	require.NoError(t, err)

	require.NoError(t, fs.MkdirAll("/out/nested"))
	require.NoError(t, fs.WriteFile("/out/nested/a.mjs", []byte("x")))
	require.NoError(t, fs.WriteFile("/src/b.mjs", []byte("y")))

	contents, err := fs.ReadFile("/out/nested/a.mjs")
	require.NoError(t, err)
	assert.Equal(t, "x", contents)
	assert.True(t, IsDir(fs, "/out"))

	// Listings that were already handed out never change
	assert.Len(t, before, 1)

	require.NoError(t, fs.RemoveAll("/out"))
	assert.False(t, IsDir(fs, "/out"))
	_, err = fs.ReadFile("/out/nested/a.mjs")
	assert.Error(t, err)
}

func TestMockFSRel(t *testing.T) {
	fs := MockFS(nil, "/")

	cases := []struct {
		base, target, expected string
	}{
		{"/a/b", "/a/b", "."},
		{"/a/b", "/a/b/c.js", "c.js"},
		{"/a/b", "/a/c.js", "../c.js"},
		{"/", "/a/b", "a/b"},
		{"/a/b/c", "/a", "../.."},
	}
	for _, c := range cases {
		rel, ok := fs.Rel(c.base, c.target)
		require.True(t, ok)
		assert.Equal(t, c.expected, rel, "%s -> %s", c.base, c.target)
	}
}

func TestIsDescendantOf(t *testing.T) {
	fs := MockFS(nil, "/")

	assert.True(t, IsDescendantOf(fs, "/a/b/c.ts", "/a"))
	assert.True(t, IsDescendantOf(fs, "/a", "/a"))
	assert.True(t, IsDescendantOf(fs, "/a/b", "/"))
	assert.False(t, IsDescendantOf(fs, "/ab/c.ts", "/a"))
	assert.False(t, IsDescendantOf(fs, "/c.ts", "/a"))
}
