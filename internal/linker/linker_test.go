package linker

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbjgolden/xnr-sub000/internal/bundler"
	"github.com/tbjgolden/xnr-sub000/internal/config"
	"github.com/tbjgolden/xnr-sub000/internal/fs"
	"github.com/tbjgolden/xnr-sub000/internal/graph"
	"github.com/tbjgolden/xnr-sub000/internal/logger"
	"github.com/tbjgolden/xnr-sub000/internal/resolver"
	"github.com/tbjgolden/xnr-sub000/internal/sourcemap"
	"github.com/tbjgolden/xnr-sub000/internal/transform"
	"github.com/tbjgolden/xnr-sub000/internal/xnr_errors"
)

var keepCode = transform.StripperFunc(func(code string, path string) (string, error) {
	return code, nil
})

type stripperWithMap struct {
	sourceMap []byte
}

func (s stripperWithMap) StripTypes(code string, path string) (transform.Result, error) {
	return transform.Result{Code: code, SourceMap: s.sourceMap}, nil
}

type linkTest struct {
	result Result
	log    logger.Log
}

func (lt linkTest) output(t *testing.T, outputPath string) string {
	t.Helper()
	for _, file := range lt.result.Files {
		if file.OutputPath == outputPath {
			return string(file.Contents)
		}
	}
	require.Fail(t, "missing output file", outputPath)
	return ""
}

func tryLink(t *testing.T, files map[string]string, entryPath string) (linkTest, error) {
	t.Helper()
	mockFS := fs.MockFS(files, "/proj")
	log := logger.NewDeferLog()
	res := resolver.NewResolver(mockFS, log)
	g, err := bundler.ScanGraph(mockFS, res, keepCode, entryPath)
	require.NoError(t, err)
	result, err := Link(log, mockFS, res, &g, config.Options{
		AbsEntryPath:        entryPath,
		OutputDirInsideRoot: ".xnr",
	})
	return linkTest{result: result, log: log}, err
}

func link(t *testing.T, files map[string]string, entryPath string) linkTest {
	t.Helper()
	lt, err := tryLink(t, files, entryPath)
	require.NoError(t, err)
	return lt
}

func TestCommonRootIsDeepest(t *testing.T) {
	cases := []struct {
		name     string
		files    map[string]string
		entry    string
		expected string
	}{
		{
			name:     "single file",
			files:    map[string]string{"/proj/src/main.ts": "console.log(1)"},
			entry:    "/proj/src/main.ts",
			expected: "/proj/src",
		},
		{
			name: "dependencies below the entry",
			files: map[string]string{
				"/proj/src/main.ts":      "require('./a/b/c')",
				"/proj/src/a/b/c.ts":     "require('../d')",
				"/proj/src/a/d/index.ts": "",
			},
			entry:    "/proj/src/main.ts",
			expected: "/proj/src",
		},
		{
			name: "dependencies in sibling directories",
			files: map[string]string{
				"/proj/src/app/main.ts":     "import '../lib/util'; import './deep/x/y'",
				"/proj/src/lib/util.ts":     "export const a = 1",
				"/proj/src/app/deep/x/y.ts": "export {}",
			},
			entry:    "/proj/src/app/main.ts",
			expected: "/proj/src",
		},
		{
			name: "similar prefix is not an ancestor",
			files: map[string]string{
				"/proj/src/main.ts": "require('../src2/a')",
				"/proj/src2/a.ts":   "",
			},
			entry:    "/proj/src/main.ts",
			expected: "/proj",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			lt := link(t, c.files, c.entry)
			assert.Equal(t, c.expected, lt.result.CommonRoot)
			assert.Equal(t, c.expected+"/.xnr", lt.result.OutputDir)
			for _, file := range lt.result.Files {
				assert.True(t, strings.HasPrefix(file.AbsPath, lt.result.OutputDir+"/"), file.AbsPath)
				assert.Equal(t, lt.result.OutputDir+"/"+file.OutputPath, file.AbsPath)
			}
		})
	}
}

func TestOutputPathsAndOrder(t *testing.T) {
	lt := link(t, map[string]string{
		"/proj/src/app/main.ts":     "import { a } from '../lib/util.js'; const b = require('./b')",
		"/proj/src/lib/util.ts":     "export const a = 1",
		"/proj/src/app/b.js":        "module.exports = 2",
		"/proj/src/app/config.json": "{}",
	}, "/proj/src/app/main.ts")

	var paths []string
	for _, file := range lt.result.Files {
		paths = append(paths, file.OutputPath)
	}
	assert.Equal(t, []string{"lib/util.mjs", "app/b.cjs", "app/main.mjs"}, paths)
	assert.Equal(t, "/proj/src/.xnr/app/main.mjs", lt.result.EntryOutputPath)
	assert.Equal(t, "/proj/src/app/main.ts", lt.result.Files[2].SourcePath)
}

func TestRewriteLocalSpecifiers(t *testing.T) {
	lt := link(t, map[string]string{
		"/proj/main.ts":                       "import { a } from './lib/util.js';\nimport b from './lib/b';\nexport * from \"./lib\";\nconst c = import(`./lib/c`);\nimport fs from 'fs';\nimport x from 'pkg';",
		"/proj/lib/util.ts":                   "export const a = 1",
		"/proj/lib/b.ts":                      "export default 2",
		"/proj/lib/index.ts":                  "export const i = 3",
		"/proj/lib/c.cts":                     "module.exports = 4",
		"/proj/node_modules/pkg/package.json": `{"type": "module", "main": "index.js"}`,
		"/proj/node_modules/pkg/index.js":     "export default 5",
	}, "/proj/main.ts")

	assert.Equal(t, "import { a } from './lib/util.mjs';\n"+
		"import b from './lib/b.mjs';\n"+
		"export * from \"./lib/index.mjs\";\n"+
		"const c = import(\"./lib/c.cjs\");\n"+
		"import fs from 'fs';\n"+
		"import x from 'pkg';", lt.output(t, "main.mjs"))
}

func TestRewriteParentSpecifier(t *testing.T) {
	lt := link(t, map[string]string{
		"/proj/src/main.js":   "require('./a/b')",
		"/proj/src/a/b.js":    "module.exports = require('../shared.js')",
		"/proj/src/shared.js": "module.exports = 1",
	}, "/proj/src/main.js")

	assert.Equal(t, "require('./a/b.cjs')", lt.output(t, "main.cjs"))
	assert.Equal(t, "module.exports = require('../shared.cjs')", lt.output(t, "a/b.cjs"))
}

func TestRewriteRequireMainRequire(t *testing.T) {
	lt := link(t, map[string]string{
		"/proj/main.js":  "require('./lib/x')",
		"/proj/lib/x.js": "module.exports = require.main.require('./util')",
		"/proj/util.js":  "module.exports = 1",
	}, "/proj/main.js")

	assert.Equal(t, "module.exports = require.main.require('./util.cjs')", lt.output(t, "lib/x.cjs"))
}

func TestJSONImportDropsAttributes(t *testing.T) {
	lt := link(t, map[string]string{
		"/proj/main.ts":   "import data from './data.json' with { type: 'json' };\nconst more = await import('./data.json', { with: { type: 'json' } });",
		"/proj/data.json": `{"a": 1}`,
	}, "/proj/main.ts")

	assert.Equal(t, "import data from './data.cjs' ;\nconst more = await import('./data.cjs');", lt.output(t, "main.mjs"))
	assert.Equal(t, `module.exports = {"a": 1}`, lt.output(t, "data.cjs"))
}

func TestImportMetaBecomesSourceLocation(t *testing.T) {
	lt := link(t, map[string]string{
		"/proj/src/main.ts": "console.log(import.meta.url, import.meta.dirname, import.meta.filename)",
	}, "/proj/src/main.ts")

	assert.Equal(t, `console.log("file:///proj/src/main.ts", "/proj/src", "/proj/src/main.ts")`, lt.output(t, "main.mjs"))
}

func TestOutputKeepsPositionInfo(t *testing.T) {
	mockFS := fs.MockFS(map[string]string{
		"/proj/main.ts": "f(import.meta.dirname, 1)\ng()\n",
	}, "/proj")
	log := logger.NewDeferLog()
	res := resolver.NewResolver(mockFS, log)
	withMap := stripperWithMap{sourceMap: []byte(`{"version":3,"sources":["/proj/main.ts"],"mappings":"AAAA"}`)}
	g, err := bundler.ScanGraph(mockFS, res, withMap, "/proj/main.ts")
	require.NoError(t, err)
	result, err := Link(log, mockFS, res, &g, config.Options{AbsEntryPath: "/proj/main.ts", OutputDirInsideRoot: ".xnr"})
	require.NoError(t, err)

	require.Len(t, result.Files, 1)
	file := result.Files[0]
	assert.Equal(t, "f(\"/proj\", 1)\ng()\n", string(file.Contents))
	assert.Equal(t, withMap.sourceMap, file.SourceMap)

	// The "1" moved from column 23 to column 11
	assert.Equal(t, sourcemap.LineColumnOffset{Lines: 0, Columns: 23}, file.Shifts.Original(sourcemap.LineColumnOffset{Lines: 0, Columns: 11}))
	assert.Equal(t, sourcemap.LineColumnOffset{Lines: 1, Columns: 0}, file.Shifts.Original(sourcemap.LineColumnOffset{Lines: 1, Columns: 0}))
}

func TestInjectedFreeNames(t *testing.T) {
	t.Run("CommonJS", func(t *testing.T) {
		lt := link(t, map[string]string{
			"/proj/main.js": "console.log(__dirname, __filename)",
		}, "/proj/main.js")
		assert.Equal(t, `var __dirname = "/proj"; var __filename = "/proj/main.js"; console.log(__dirname, __filename)`,
			lt.output(t, "main.cjs"))
	})

	t.Run("ES module", func(t *testing.T) {
		lt := link(t, map[string]string{
			"/proj/main.mjs": "#!/usr/bin/env node\n'use strict'\nconsole.log(__dirname, require('./a.cjs'))",
			"/proj/a.cjs":    "module.exports = 1",
		}, "/proj/main.mjs")
		assert.Equal(t, "#!/usr/bin/env node\n'use strict';"+
			`import { createRequire as __xnr_createRequire } from "module"; `+
			`const require = __xnr_createRequire(import.meta.url); `+
			`const __dirname = "/proj"; `+
			"\nconsole.log(__dirname, require('./a.cjs'))", lt.output(t, "main.mjs"))
	})

	t.Run("declared", func(t *testing.T) {
		lt := link(t, map[string]string{
			"/proj/main.js": "const __dirname = '/elsewhere'; console.log(__dirname)",
		}, "/proj/main.js")
		assert.Equal(t, "const __dirname = '/elsewhere'; console.log(__dirname)", lt.output(t, "main.cjs"))
	})

	t.Run("declared in a list", func(t *testing.T) {
		lt := link(t, map[string]string{
			"/proj/main.mjs": "import path from 'path';\nimport { fileURLToPath } from 'url';\n" +
				"const __filename = fileURLToPath(import.meta.url), __dirname = path.dirname(__filename);",
		}, "/proj/main.mjs")
		assert.Equal(t, "import path from 'path';\nimport { fileURLToPath } from 'url';\n"+
			`const __filename = fileURLToPath("file:///proj/main.mjs"), __dirname = path.dirname(__filename);`,
			lt.output(t, "main.mjs"))
	})

	t.Run("declared by destructuring", func(t *testing.T) {
		lt := link(t, map[string]string{
			"/proj/main.mjs": "import mod from 'module';\nconst { require } = { require: mod.createRequire };\nrequire;",
		}, "/proj/main.mjs")
		assert.NotContains(t, lt.output(t, "main.mjs"), "__xnr_createRequire")
	})
}

func TestCreateRequireTakesImportMetaURL(t *testing.T) {
	lt := link(t, map[string]string{
		"/proj/main.mjs": "import { createRequire } from 'module';\nconst r = createRequire(someOtherPath);",
	}, "/proj/main.mjs")

	assert.Equal(t, "import { createRequire } from 'module';\nconst r = createRequire(import.meta.url);", lt.output(t, "main.mjs"))
}

func TestCreateRequireOnOtherReceivers(t *testing.T) {
	lt := link(t, map[string]string{
		"/proj/main.mjs": "import m from 'node:module';\nm.createRequire(a);\nloader.createRequire(b);",
	}, "/proj/main.mjs")

	assert.Equal(t, "import m from 'node:module';\nm.createRequire(import.meta.url);\nloader.createRequire(b);", lt.output(t, "main.mjs"))
}

var cjsPackage = map[string]string{
	"/proj/node_modules/cjs-pkg/package.json": `{"main": "lib/index.js"}`,
	"/proj/node_modules/cjs-pkg/lib/index.js": "exports.a = 1; exports.b = 2",
	"/proj/node_modules/esm-pkg/package.json": `{"type": "module", "exports": {".": {"import": "./index.js"}}}`,
	"/proj/node_modules/esm-pkg/index.js":     "export const a = 1",
}

func withFiles(base map[string]string, extra map[string]string) map[string]string {
	files := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		files[k] = v
	}
	for k, v := range extra {
		files[k] = v
	}
	return files
}

var shimRegexp = regexp.MustCompile(`^import (__xnr_[0-9a-f]{32}) from "cjs-pkg"; const \{ a, b: c \} = (__xnr_[0-9a-f]{32});\nconsole\.log\(a, c\)$`)

func TestInteropShimForExternalCommonJS(t *testing.T) {
	lt := link(t, withFiles(cjsPackage, map[string]string{
		"/proj/main.ts": "import { a, b as c } from \"cjs-pkg\";\nconsole.log(a, c)",
	}), "/proj/main.ts")

	code := lt.output(t, "main.mjs")
	match := shimRegexp.FindStringSubmatch(code)
	require.NotNil(t, match, code)
	assert.Equal(t, match[1], match[2])
	assert.Equal(t, 1, strings.Count(code, "import "))
	assert.Equal(t, 1, strings.Count(code, "const {"))
}

func TestInteropShimReusesDefaultName(t *testing.T) {
	lt := link(t, withFiles(cjsPackage, map[string]string{
		"/proj/main.ts": "import pkg, { a } from 'cjs-pkg';\nimport { default as other, b } from 'cjs-pkg/lib/index.js';",
	}), "/proj/main.ts")

	assert.Equal(t, "import pkg from 'cjs-pkg'; const { a } = pkg;\n"+
		"import other from 'cjs-pkg/lib/index.js'; const { b } = other;", lt.output(t, "main.mjs"))
}

func TestNoInteropShim(t *testing.T) {
	cases := []string{
		"import pkg from 'cjs-pkg';",
		"import * as ns from 'cjs-pkg';",
		"import 'cjs-pkg';",
		"import { a } from 'esm-pkg';",
		"import { readFile } from 'fs';",
		"import { readFile } from 'node:fs/promises';",
	}
	for _, code := range cases {
		lt := link(t, withFiles(cjsPackage, map[string]string{"/proj/main.ts": code}), "/proj/main.ts")
		assert.Equal(t, code, lt.output(t, "main.mjs"))
	}
}

func TestInteropShimForLocalCommonJS(t *testing.T) {
	lt := link(t, map[string]string{
		"/proj/main.ts":   "import { x, 'odd name' as y } from './lib/c.cjs';",
		"/proj/lib/c.cjs": "exports.x = 1",
	}, "/proj/main.ts")

	code := lt.output(t, "main.mjs")
	assert.Regexp(t, `^import __xnr_[0-9a-f]{32} from './lib/c\.cjs'; const \{ x, "odd name": y \} = __xnr_[0-9a-f]{32};$`, code)
}

func TestInteropShimWithJSON(t *testing.T) {
	lt := link(t, map[string]string{
		"/proj/main.ts":   "import config, { name } from './data.json' with { type: 'json' };",
		"/proj/data.json": `{"name": "proj"}`,
	}, "/proj/main.ts")

	assert.Equal(t, "import config from './data.cjs'; const { name } = config;", lt.output(t, "main.mjs"))
}

func TestInteropMissingPackageIsFatal(t *testing.T) {
	_, err := tryLink(t, map[string]string{
		"/proj/main.ts": "import { a } from 'not-installed';",
	}, "/proj/main.ts")

	var xnrErr *xnr_errors.Error
	require.ErrorAs(t, err, &xnrErr)
	assert.Contains(t, xnrErr.Text, `"not-installed"`)
	assert.Contains(t, xnrErr.Text, "main.ts")
	require.NotNil(t, xnrErr.Location)
	assert.Equal(t, 1, xnrErr.Location.Line)
}

func TestReExportOfMissingPackageWarns(t *testing.T) {
	lt := link(t, map[string]string{
		"/proj/main.ts": "export * from 'not-installed';",
	}, "/proj/main.ts")

	assert.Equal(t, "export * from 'not-installed';", lt.output(t, "main.mjs"))
	msgs := lt.log.Done()
	require.Len(t, msgs, 1)
	assert.Equal(t, logger.Warning, msgs[0].Kind)
	assert.Contains(t, msgs[0].Text, `"not-installed"`)
}

func TestOutputPathCollision(t *testing.T) {
	_, err := tryLink(t, map[string]string{
		"/proj/main.ts": "import './a.ts'; import './a.mts'",
		"/proj/a.ts":    "export {}",
		"/proj/a.mts":   "export {}",
	}, "/proj/main.ts")

	var xnrErr *xnr_errors.Error
	require.ErrorAs(t, err, &xnrErr)
	assert.Contains(t, xnrErr.Text, `"a.mjs"`)
}

func TestPathBetweenFiles(t *testing.T) {
	ctx := &linkerContext{
		fs: fs.MockFS(nil, "/"),
		absOutputPaths: []string{
			"/out/main.mjs",
			"/out/a/b.mjs",
			"/out/a/c/d.cjs",
			"/out/e.cjs",
		},
	}
	cases := []struct {
		from, to uint32
		expected string
	}{
		{0, 1, "./a/b.mjs"},
		{1, 2, "./c/d.cjs"},
		{2, 1, "../b.mjs"},
		{2, 3, "../../e.cjs"},
		{0, 3, "./e.cjs"},
	}
	for _, c := range cases {
		assert.Equal(t, c.expected, ctx.pathBetweenFiles(c.from, c.to))
	}
}

func TestWriteOutputFiles(t *testing.T) {
	mockFS := fs.MockFS(map[string]string{"/proj/main.ts": ""}, "/proj")
	files := []graph.OutputFile{
		{OutputPath: "a/b.cjs", AbsPath: "/proj/.xnr/a/b.cjs", Contents: []byte("b")},
		{OutputPath: "main.mjs", AbsPath: "/proj/.xnr/main.mjs", Contents: []byte("main")},
	}
	require.NoError(t, WriteOutputFiles(mockFS, "/proj/.xnr", files, 0))

	contents, err := mockFS.ReadFile("/proj/.xnr/a/b.cjs")
	require.NoError(t, err)
	assert.Equal(t, "b", contents)
	contents, err = mockFS.ReadFile("/proj/.xnr/main.mjs")
	require.NoError(t, err)
	assert.Equal(t, "main", contents)
}

func TestWriteOutputFilesCleansUp(t *testing.T) {
	// The second file needs a directory where the first file is
	files := []graph.OutputFile{
		{AbsPath: "/out/a.mjs", Contents: []byte("a")},
		{AbsPath: "/out/a.mjs/b.mjs", Contents: []byte("b")},
	}

	t.Run("new output directory", func(t *testing.T) {
		mockFS := fs.MockFS(map[string]string{"/proj/main.ts": ""}, "/proj")
		require.Error(t, WriteOutputFiles(mockFS, "/out", files, 1))
		_, ok := fs.Lookup(mockFS, "/out")
		assert.False(t, ok)
	})

	t.Run("existing output directory", func(t *testing.T) {
		mockFS := fs.MockFS(map[string]string{"/out/keep.txt": "keep"}, "/proj")
		require.Error(t, WriteOutputFiles(mockFS, "/out", files, 1))
		_, ok := fs.Lookup(mockFS, "/out/a.mjs")
		assert.False(t, ok)
		contents, err := mockFS.ReadFile("/out/keep.txt")
		require.NoError(t, err)
		assert.Equal(t, "keep", contents)
	})
}
