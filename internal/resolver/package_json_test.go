package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbjgolden/xnr-sub000/internal/config"
)

func expectPackageEntry(t *testing.T, r *Resolver, importerDir string, specifier string, path string, format config.Format) {
	t.Helper()
	entry, err := r.PackageEntry(importerDir, specifier)
	require.NoError(t, err, specifier)
	assert.Equal(t, path, entry.AbsPath, specifier)
	assert.Equal(t, format, entry.Format, specifier)
}

func TestPackageEntryMainField(t *testing.T) {
	r, _ := newTestResolver(map[string]string{
		"/proj/node_modules/cjs-main/package.json":   `{ "main": "lib/index" }`,
		"/proj/node_modules/cjs-main/lib/index.js":   "",
		"/proj/node_modules/no-main/package.json":    `{ "name": "no-main" }`,
		"/proj/node_modules/no-main/index.js":        "",
		"/proj/node_modules/esm-type/package.json":   `{ "type": "module", "main": "./main.js" }`,
		"/proj/node_modules/esm-type/main.js":        "",
		"/proj/node_modules/mjs-main/package.json":   `{ "main": "./dist/x.mjs" }`,
		"/proj/node_modules/mjs-main/dist/x.mjs":     "",
		"/proj/node_modules/cjs-main/lib/sub.js":     "",
		"/proj/node_modules/@scope/pkg/package.json": `{ "main": "index.cjs" }`,
		"/proj/node_modules/@scope/pkg/index.cjs":    "",
	})

	expectPackageEntry(t, r, "/proj/src", "cjs-main", "/proj/node_modules/cjs-main/lib/index.js", config.FormatCommonJS)
	expectPackageEntry(t, r, "/proj/src", "no-main", "/proj/node_modules/no-main/index.js", config.FormatCommonJS)
	expectPackageEntry(t, r, "/proj/src", "esm-type", "/proj/node_modules/esm-type/main.js", config.FormatESModule)
	expectPackageEntry(t, r, "/proj/src", "mjs-main", "/proj/node_modules/mjs-main/dist/x.mjs", config.FormatESModule)
	expectPackageEntry(t, r, "/proj", "cjs-main/lib/sub", "/proj/node_modules/cjs-main/lib/sub.js", config.FormatCommonJS)
	expectPackageEntry(t, r, "/proj/a/b/c", "@scope/pkg", "/proj/node_modules/@scope/pkg/index.cjs", config.FormatCommonJS)

	_, err := r.PackageEntry("/proj/src", "missing")
	assert.EqualError(t, err, "Cannot find package \"missing\"")
}

func TestPackageEntryExports(t *testing.T) {
	r, _ := newTestResolver(map[string]string{
		"/proj/node_modules/dual/package.json": `{
			"main": "./ignored.js",
			"exports": {
				".": { "types": "./index.d.ts", "require": "./index.cjs", "import": "./index.mjs" },
				"./feature": [{ "browser": "./browser.js" }, "./feature.cjs"],
				"./utils/*": { "default": "./dist/utils/*.js" },
				"./utils/internal/*": null,
				"./package.json": "./package.json"
			}
		}`,
		"/proj/node_modules/dual/index.cjs":          "",
		"/proj/node_modules/dual/index.mjs":          "",
		"/proj/node_modules/dual/feature.cjs":        "",
		"/proj/node_modules/dual/dist/utils/math.js": "",
		"/proj/node_modules/sugar/package.json":      `{ "type": "module", "exports": "./main.js" }`,
		"/proj/node_modules/sugar/main.js":           "",
		"/proj/node_modules/conds/package.json":      `{ "exports": { "default": "./d.js", "node": "./n.js" } }`,
		"/proj/node_modules/conds/d.js":              "",
		"/proj/node_modules/conds/n.js":              "",
	})

	expectPackageEntry(t, r, "/proj", "dual", "/proj/node_modules/dual/index.mjs", config.FormatESModule)
	expectPackageEntry(t, r, "/proj", "dual/feature", "/proj/node_modules/dual/feature.cjs", config.FormatCommonJS)
	expectPackageEntry(t, r, "/proj", "dual/utils/math", "/proj/node_modules/dual/dist/utils/math.js", config.FormatCommonJS)
	expectPackageEntry(t, r, "/proj", "sugar", "/proj/node_modules/sugar/main.js", config.FormatESModule)

	// Conditions are checked in the order they are written
	expectPackageEntry(t, r, "/proj", "conds", "/proj/node_modules/conds/d.js", config.FormatCommonJS)

	_, err := r.PackageEntry("/proj", "dual/utils/internal/x")
	assert.Error(t, err)
	_, err = r.PackageEntry("/proj", "dual/missing")
	assert.Error(t, err)
	_, err = r.PackageEntry("/proj", "sugar/sub")
	assert.Error(t, err)
}
