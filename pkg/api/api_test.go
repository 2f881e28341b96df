package api

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbjgolden/xnr-sub000/internal/fs"
	"github.com/tbjgolden/xnr-sub000/internal/helpers"
	"github.com/tbjgolden/xnr-sub000/internal/logger"
	"github.com/tbjgolden/xnr-sub000/internal/transform"
)

var keepCode = transform.StripperFunc(func(code string, path string) (string, error) {
	return code, nil
})

func TestBuildStripsTypesAndRewrites(t *testing.T) {
	mockFS := fs.MockFS(map[string]string{
		"/proj/src/main.ts": `
			import { helper } from "./lib/helper.js";
			import data from "./data.json" with { type: "json" };
			const n: number = helper(data.value);
			console.log(n);
		`,
		"/proj/src/lib/helper.ts": "export function helper(x: number): number { return x * 2 }",
		"/proj/src/data.json":     `{"value": 21}`,
	}, "/proj")

	result, err := buildWithFS(logger.NewDeferLog(), mockFS, transform.Default, BuildOptions{
		EntryPoint: "src/main.ts",
		Outdir:     "out",
	})
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)

	assert.Equal(t, "/proj/src", result.CommonRoot)
	assert.Equal(t, "/proj/out", result.Outdir)
	assert.Equal(t, "/proj/out/main.mjs", result.EntryOutputPath)

	var paths []string
	for _, file := range result.OutputFiles {
		paths = append(paths, file.Path)
	}
	assert.Equal(t, []string{"/proj/out/lib/helper.mjs", "/proj/out/data.cjs", "/proj/out/main.mjs"}, paths)

	main, err := mockFS.ReadFile("/proj/out/main.mjs")
	require.NoError(t, err)
	assert.Contains(t, main, `from "./lib/helper.mjs"`)
	assert.Contains(t, main, `import data from "./data.cjs"`)
	assert.NotContains(t, main, "type:")
	assert.NotContains(t, main, ": number")

	data, err := mockFS.ReadFile("/proj/out/data.cjs")
	require.NoError(t, err)
	assert.Equal(t, `module.exports = {"value": 21}`, data)
}

func TestBuildLogsSummary(t *testing.T) {
	mockFS := fs.MockFS(map[string]string{"/proj/main.js": "console.log(1)"}, "/proj")
	var out bytes.Buffer
	log := logger.NewWriterLog(&out, logger.StderrOptions{LogLevel: logger.LevelInfo})

	_, err := buildWithFS(log, mockFS, keepCode, BuildOptions{EntryPoint: "/proj/main.js", Outdir: "/proj/out"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "1 file written to out")
}

func TestBuildCouldNotResolve(t *testing.T) {
	mockFS := fs.MockFS(map[string]string{
		"/proj/main.ts": "import './missing';",
	}, "/proj")

	result, err := buildWithFS(logger.NewDeferLog(), mockFS, keepCode, BuildOptions{EntryPoint: "main.ts", Outdir: "out"})
	var resolveErr *CouldNotResolveError
	require.ErrorAs(t, err, &resolveErr)
	assert.Equal(t, "./missing", resolveErr.Specifier)

	require.Len(t, result.Errors, 1)
	require.NotNil(t, result.Errors[0].Location)
	assert.Equal(t, 1, result.Errors[0].Location.Line)
	assert.Equal(t, "main.ts", result.Errors[0].Location.File)

	// Nothing is written when the build fails
	_, ok := fs.Lookup(mockFS, "/proj/out")
	assert.False(t, ok)
}

func TestBuildTransformError(t *testing.T) {
	mockFS := fs.MockFS(map[string]string{
		"/proj/main.ts": "const x: = 1",
	}, "/proj")

	result, err := buildWithFS(logger.NewDeferLog(), mockFS, transform.Default, BuildOptions{EntryPoint: "main.ts", Outdir: "out"})
	var transformErr *TransformError
	require.ErrorAs(t, err, &transformErr)
	assert.Len(t, result.Errors, 1)
}

func TestBuildRegExpAfterStatementHead(t *testing.T) {
	mockFS := fs.MockFS(map[string]string{
		"/proj/a.js": "if (s.length) /'/.test(s) && console.log('quote')\nwhile (x) /require(\"y\")/.exec(s)\n",
	}, "/proj")

	result, err := buildWithFS(logger.NewDeferLog(), mockFS, transform.Default, BuildOptions{EntryPoint: "a.js", Outdir: "out"})
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
	require.Len(t, result.OutputFiles, 1)
	assert.Contains(t, string(result.OutputFiles[0].Contents), "/'/.test(s)")
}

func TestBuildValidation(t *testing.T) {
	mockFS := fs.MockFS(map[string]string{"/proj/main.ts": ""}, "/proj")
	cases := []struct {
		options  BuildOptions
		expected string
	}{
		{BuildOptions{Outdir: "out"}, "Missing entry point"},
		{BuildOptions{EntryPoint: "main.ts"}, "Missing output directory"},
		{BuildOptions{EntryPoint: "main.ts", Outdir: "out", AbsWorkingDir: "proj"}, `The working directory "proj" is not an absolute path`},
		{BuildOptions{EntryPoint: "main.ts", Outdir: "out", WriteConcurrency: -1}, "Invalid write concurrency: -1"},
	}
	for _, c := range cases {
		_, err := buildWithFS(logger.NewDeferLog(), mockFS, keepCode, c.options)
		var xnrErr *Error
		require.ErrorAs(t, err, &xnrErr)
		assert.Equal(t, c.expected, xnrErr.Text)
	}
}

func TestBuildInternalError(t *testing.T) {
	mockFS := fs.MockFS(map[string]string{"/proj/main.ts": ""}, "/proj")
	panicking := transform.StripperFunc(func(code string, path string) (string, error) {
		panic("boom")
	})

	result, err := buildWithFS(logger.NewDeferLog(), mockFS, panicking, BuildOptions{EntryPoint: "main.ts", Outdir: "out"})
	var internalErr *InternalError
	require.ErrorAs(t, err, &internalErr)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Text, "please report this as a bug")
}

func TestTransform(t *testing.T) {
	code, err := Transform("const x: number = 1", TransformOptions{})
	require.NoError(t, err)
	assert.Equal(t, "const x = 1;\n", code)

	code, err = Transform("export const a = <div />", TransformOptions{Sourcefile: "a.tsx"})
	require.NoError(t, err)
	assert.Contains(t, code, "React.createElement")

	_, err = Transform("const x: = 1", TransformOptions{Sourcefile: "broken.ts"})
	var transformErr *TransformError
	require.ErrorAs(t, err, &transformErr)
	assert.Equal(t, "broken.ts", transformErr.Path)
}

// Stands in for node when the tests below run the test binary itself
func TestHelperProcess(t *testing.T) {
	if os.Getenv("XNR_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	entryOutputPath, programArgs := args[1], args[2:]
	fmt.Fprintf(os.Stdout, "args: %s\n", strings.Join(programArgs, " "))
	fmt.Fprintf(os.Stderr, "Error: boom\n    at main (%s:1:7)\n    at node:internal/main/run_main_module:28:49\n",
		helpers.FileURLFromFilePath(entryOutputPath))
	os.Exit(3)
}

func fakeNode(t *testing.T, options RunOptions) RunOptions {
	t.Helper()
	t.Setenv("XNR_WANT_HELPER_PROCESS", "1")
	options.NodePath = os.Args[0]
	options.NodeArgs = []string{"-test.run=^TestHelperProcess$", "--"}
	return options
}

func TestRun(t *testing.T) {
	mockFS := fs.MockFS(map[string]string{
		"/proj/main.js": "require('./lib')",
		"/proj/lib.js":  "module.exports = 1",
	}, "/proj")
	var stdout, stderr bytes.Buffer

	code, err := runWithFS(logger.NewDeferLog(), mockFS, keepCode, fakeNode(t, RunOptions{
		EntryPoint: "main.js",
		Args:       []string{"a", "b"},
		Stdout:     &stdout,
		Stderr:     &stderr,
	}))
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Equal(t, "args: a b\n", stdout.String())
	assert.Equal(t, "Error: boom\n    at main (/proj/main.js:1:7)\n", stderr.String())

	// The output directory is removed after the program exits
	entries, err := mockFS.ReadDirectory("/proj")
	require.NoError(t, err)
	for name := range entries {
		assert.False(t, strings.HasPrefix(name, ".xnr-"), name)
	}
}

func TestRunKeepsExistingOutdir(t *testing.T) {
	mockFS := fs.MockFS(map[string]string{
		"/proj/main.js":       "console.log(1)",
		"/proj/cache/keep.txt": "keep",
	}, "/proj")

	_, err := runWithFS(logger.NewDeferLog(), mockFS, keepCode, fakeNode(t, RunOptions{
		EntryPoint: "main.js",
		Outdir:     "cache",
		Stdout:     &bytes.Buffer{},
		Stderr:     &bytes.Buffer{},
	}))
	require.NoError(t, err)

	_, ok := fs.Lookup(mockFS, "/proj/cache/main.cjs")
	assert.False(t, ok)
	contents, err := mockFS.ReadFile("/proj/cache/keep.txt")
	require.NoError(t, err)
	assert.Equal(t, "keep", contents)
}

func TestRunBuildFailure(t *testing.T) {
	mockFS := fs.MockFS(map[string]string{"/proj/main.js": "require('./missing')"}, "/proj")

	code, err := runWithFS(logger.NewDeferLog(), mockFS, keepCode, RunOptions{EntryPoint: "main.js"})
	assert.Equal(t, 1, code)
	var resolveErr *CouldNotResolveError
	assert.ErrorAs(t, err, &resolveErr)
}

func TestRunMissingNode(t *testing.T) {
	mockFS := fs.MockFS(map[string]string{"/proj/main.js": ""}, "/proj")

	code, err := runWithFS(logger.NewDeferLog(), mockFS, keepCode, RunOptions{
		EntryPoint: "main.js",
		NodePath:   "/definitely/not/node",
		Stdout:     &bytes.Buffer{},
		Stderr:     &bytes.Buffer{},
	})
	assert.Equal(t, 1, code)
	var xnrErr *Error
	require.ErrorAs(t, err, &xnrErr)
	assert.Contains(t, xnrErr.Text, "Failed to start")
}

func TestNodePath(t *testing.T) {
	t.Setenv("XNR_NODE", "")
	assert.Equal(t, "node", validateNodePath(""))
	assert.Equal(t, "/opt/node", validateNodePath("/opt/node"))

	t.Setenv("XNR_NODE", "/usr/local/bin/node18")
	assert.Equal(t, "/usr/local/bin/node18", validateNodePath(""))
	assert.Equal(t, "/opt/node", validateNodePath("/opt/node"))
}
