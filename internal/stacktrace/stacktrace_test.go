package stacktrace

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbjgolden/xnr-sub000/internal/graph"
	"github.com/tbjgolden/xnr-sub000/internal/js_printer"
	"github.com/tbjgolden/xnr-sub000/internal/sourcemap"
	"github.com/tbjgolden/xnr-sub000/internal/transform"
)

var files = []graph.OutputFile{
	{AbsPath: "/proj/.xnr/main.mjs", SourcePath: "/proj/main.ts"},
	{AbsPath: "/proj/.xnr/lib/a.cjs", SourcePath: "/proj/lib/a.cts"},
	{AbsPath: "/proj/.xnr/lib/a.cjs.d/b.mjs", SourcePath: "/proj/lib/a.cjs.d/b.ts"},
}

func TestTranslateLine(t *testing.T) {
	tr := NewTranslator(files)
	cases := []struct {
		input    string
		expected string
	}{
		{"    at main (/proj/.xnr/main.mjs:3:9)", "    at main (/proj/main.ts:3:9)"},
		{"    at file:///proj/.xnr/main.mjs:3:9", "    at /proj/main.ts:3:9"},
		{"/proj/.xnr/lib/a.cjs:10", "/proj/lib/a.cts:10"},
		{"at /proj/.xnr/lib/a.cjs.d/b.mjs:1:1", "at /proj/lib/a.cjs.d/b.ts:1:1"},
		{"Error: nothing to see here", "Error: nothing to see here"},
		{"/proj/.xnr/other.mjs", "/proj/.xnr/other.mjs"},
	}
	for _, c := range cases {
		assert.Equal(t, c.expected, tr.TranslateLine(c.input), c.input)
	}
}

func TestTranslateTrimsLoaderFrames(t *testing.T) {
	tr := NewTranslator(files)
	trace := strings.Join([]string{
		"file:///proj/.xnr/main.mjs:2",
		"throw new Error('boom')",
		"^",
		"",
		"Error: boom",
		"    at inner (file:///proj/.xnr/main.mjs:2:7)",
		"    at Array.map (<anonymous>)",
		"    at node:internal/util:100:10",
		"    at outer (/proj/.xnr/lib/a.cjs:5:3)",
		"    at ModuleJob.run (node:internal/modules/esm/module_job:234:25)",
		"    at async ModuleLoader.import (node:internal/modules/esm/loader:473:24)",
		"    at async asyncRunEntryPointWithESMLoader (node:internal/modules/run_main:123:5)",
		"",
		"Node.js v20.11.0",
		"",
	}, "\n")

	assert.Equal(t, strings.Join([]string{
		"/proj/main.ts:2",
		"throw new Error('boom')",
		"^",
		"",
		"Error: boom",
		"    at inner (/proj/main.ts:2:7)",
		"    at Array.map (<anonymous>)",
		"    at node:internal/util:100:10",
		"    at outer (/proj/lib/a.cts:5:3)",
		"",
		"Node.js v20.11.0",
		"",
	}, "\n"), tr.Translate(trace))
}

func TestTranslateTrimsLoaderFramesAtEnd(t *testing.T) {
	tr := NewTranslator(files)
	trace := "Error: boom\n    at Object.<anonymous> (/proj/.xnr/lib/a.cjs:1:7)\n" +
		"    at Module._compile (node:internal/modules/cjs/loader:1376:14)\n" +
		"    at node:internal/main/run_main_module:28:49"
	assert.Equal(t, "Error: boom\n    at Object.<anonymous> (/proj/lib/a.cts:1:7)\n", tr.Translate(trace))
}

func TestWriterHandlesSplitWrites(t *testing.T) {
	tr := NewTranslator(files)
	sb := strings.Builder{}
	w := tr.NewWriter(&sb)

	for _, chunk := range []string{"hello from /proj/.xn", "r/main.mjs\npartial", " line"} {
		n, err := w.Write([]byte(chunk))
		require.NoError(t, err)
		assert.Equal(t, len(chunk), n)
	}
	assert.Equal(t, "hello from /proj/main.ts\n", sb.String())

	require.NoError(t, w.Close())
	assert.Equal(t, "hello from /proj/main.ts\npartial line", sb.String())
}

func TestTranslatorWithoutFiles(t *testing.T) {
	tr := NewTranslator(nil)
	assert.Equal(t, "at /a/b.mjs:1:1", tr.TranslateLine("at /a/b.mjs:1:1"))
}

// Returns the 1-based line and column of the first "text" in "contents"
func positionOf(t *testing.T, contents string, text string) (int, int) {
	t.Helper()
	for i, line := range strings.Split(contents, "\n") {
		if column := strings.Index(line, text); column != -1 {
			return i + 1, column + 1
		}
	}
	t.Fatalf("No %q in %q", text, contents)
	return 0, 0
}

func TestTranslatePositionsToTypeScriptSource(t *testing.T) {
	source := strings.Join([]string{
		"// Comments and type declarations are removed by type stripping,",
		"// which moves code to other lines and columns",
		"/**",
		" * @param verbose Whether to say more",
		" */",
		"if (typeof process === \"object\")   throw new Error(\"boom\")",
		"",
		"interface Options {",
		"  verbose: boolean",
		"}",
		"",
	}, "\n")
	stripped, err := transform.Default.StripTypes(source, "/proj/main.ts")
	require.NoError(t, err)

	// A declaration injected before the first statement moves the rest of
	// that line to the right
	contents, shifts := js_printer.PrintWithShifts(stripped.Code, []js_printer.Patch{{Text: "const __dirname = \"/proj\";"}})
	line, column := positionOf(t, contents, "throw")
	require.Equal(t, 1, line)

	tr := NewTranslator([]graph.OutputFile{{
		AbsPath:    "/proj/.xnr/main.mjs",
		SourcePath: "/proj/main.ts",
		Contents:   []byte(contents),
		Shifts:     shifts,
		SourceMap:  stripped.SourceMap,
	}})
	trace := strings.Join([]string{
		"file:///proj/.xnr/main.mjs:1",
		"Error: boom",
		"    at file:///proj/.xnr/main.mjs:1:" + strconv.Itoa(column),
		"",
	}, "\n")
	assert.Equal(t, strings.Join([]string{
		"/proj/main.ts:6",
		"Error: boom",
		"    at /proj/main.ts:6:36",
		"",
	}, "\n"), tr.Translate(trace))
}

func TestTranslatePositionsThroughPatchesOnly(t *testing.T) {
	// JSON files have no source map
	tr := NewTranslator([]graph.OutputFile{{
		AbsPath:    "/proj/.xnr/data.cjs",
		SourcePath: "/proj/data.json",
		Shifts: sourcemap.Shifts{
			{Generated: sourcemap.LineColumnOffset{Lines: 0, Columns: 30}, Original: sourcemap.LineColumnOffset{Lines: 0, Columns: 10}},
		},
	}})
	assert.Equal(t, "at /proj/data.json:1:13", tr.TranslateLine("at /proj/.xnr/data.cjs:1:33"))
	assert.Equal(t, "at /proj/data.json:2:4", tr.TranslateLine("at /proj/.xnr/data.cjs:2:4"))
	assert.Equal(t, "at /proj/data.json:1:5", tr.TranslateLine("at /proj/.xnr/data.cjs:1:5"))
}
