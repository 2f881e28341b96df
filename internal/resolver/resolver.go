package resolver

import (
	"strings"
	"sync"

	"github.com/tbjgolden/xnr-sub000/internal/ast"
	"github.com/tbjgolden/xnr-sub000/internal/fs"
	"github.com/tbjgolden/xnr-sub000/internal/logger"
)

// The extensions to probe for a path without a recognized extension, keyed by
// the extension that decides the order. When the specifier has an extension
// it is the key (after remapping for TypeScript importers). Otherwise the
// extension of the importing file is the key.
//
// Sibling files are always probed before directory indexes. For example, with
// "z.ts" and "z/index.ts" both present, "./z" resolves to "z.ts".
var importExtensionOrder = map[string][]string{
	".js":  {".js", ".ts", ".jsx", ".tsx", ".mjs", ".mts", ".cjs", ".cts"},
	".jsx": {".jsx", ".tsx", ".js", ".ts", ".mjs", ".mts", ".cjs", ".cts"},
	".ts":  {".ts", ".tsx", ".js", ".jsx", ".mts", ".mjs", ".cts", ".cjs"},
	".tsx": {".tsx", ".ts", ".jsx", ".js", ".mts", ".mjs", ".cts", ".cjs"},
	".mjs": {".mjs", ".mts", ".js", ".ts", ".jsx", ".tsx", ".cjs", ".cts"},
	".mts": {".mts", ".mjs", ".ts", ".tsx", ".js", ".jsx", ".cts", ".cjs"},
	".cjs": {".cjs", ".cts", ".js", ".ts", ".jsx", ".tsx", ".mjs", ".mts"},
	".cts": {".cts", ".cjs", ".ts", ".tsx", ".js", ".jsx", ".mts", ".mjs"},
}

// The same as above except that "require()" from an ambiguous file prefers
// CommonJS extensions over ES module extensions
var requireExtensionOrder = map[string][]string{
	".js":  {".js", ".ts", ".jsx", ".tsx", ".cjs", ".cts", ".mjs", ".mts"},
	".jsx": {".jsx", ".tsx", ".js", ".ts", ".cjs", ".cts", ".mjs", ".mts"},
	".ts":  {".ts", ".tsx", ".js", ".jsx", ".cts", ".cjs", ".mts", ".mjs"},
	".tsx": {".tsx", ".ts", ".jsx", ".js", ".cts", ".cjs", ".mts", ".mjs"},
	".mjs": {".mjs", ".mts", ".js", ".ts", ".jsx", ".tsx", ".cjs", ".cts"},
	".mts": {".mts", ".mjs", ".ts", ".tsx", ".js", ".jsx", ".cts", ".cjs"},
	".cjs": {".cjs", ".cts", ".js", ".ts", ".jsx", ".tsx", ".mjs", ".mts"},
	".cts": {".cts", ".cjs", ".ts", ".tsx", ".js", ".jsx", ".mts", ".mjs"},
}

// TypeScript code imports other TypeScript code using the extension of the
// compiled output, so "./foo.js" means "./foo.ts" when written in a ".ts" file
var typeScriptCounterpart = map[string]string{
	".js":  ".ts",
	".jsx": ".tsx",
	".mjs": ".mts",
	".cjs": ".cts",
}

func ExtensionOrder(key string, method ast.Method) []string {
	if method == ast.MethodRequire {
		return requireExtensionOrder[key]
	}
	return importExtensionOrder[key]
}

func IsSourceExtension(ext string) bool {
	_, ok := importExtensionOrder[ext]
	return ok
}

func IsTypeScriptExtension(ext string) bool {
	switch ext {
	case ".ts", ".tsx", ".mts", ".cts":
		return true
	}
	return false
}

type Resolver struct {
	fs  fs.FS
	log logger.Log

	// The nearest "tsconfig.json" or "jsconfig.json" for each directory that
	// has been asked about. A nil entry means there is none.
	tsConfigMutex sync.Mutex
	tsConfigs     map[string]*TSConfigJSON

	packageJSONMutex sync.Mutex
	packageJSONs     map[string]*packageJSON
}

func NewResolver(fs fs.FS, log logger.Log) *Resolver {
	return &Resolver{
		fs:           fs,
		log:          log,
		tsConfigs:    make(map[string]*TSConfigJSON),
		packageJSONs: make(map[string]*packageJSON),
	}
}

func (r *Resolver) FS() fs.FS {
	return r.fs
}

type SpecifierKind uint8

const (
	// Provided by the runtime, such as "fs" or "node:fs"
	SpecifierBuiltin SpecifierKind = iota

	// A "data:", "http:" or "https:" URL, which is left alone
	SpecifierURL

	// A package in a "node_modules" folder. These are never scanned.
	SpecifierExternal

	// A file that is part of the module graph
	SpecifierLocal
)

type ResolveResult struct {
	Kind SpecifierKind

	// Only for "SpecifierLocal". This is the real path, with symlinks resolved.
	AbsPath string

	// Only for "SpecifierExternal"
	PackageName string
}

// Classifies a specifier and resolves local specifiers to a file. Returns
// false if the specifier looks local (or is remapped by "paths") but no file
// matches.
func (r *Resolver) Resolve(importerPath string, specifier string, method ast.Method) (ResolveResult, bool) {
	if IsBuiltin(specifier) {
		return ResolveResult{Kind: SpecifierBuiltin}, true
	}
	if IsURL(specifier) {
		return ResolveResult{Kind: SpecifierURL}, true
	}

	importerDir := r.fs.Dir(importerPath)
	importerExt := r.fs.Ext(importerPath)

	// "./foo", "../foo" or "/foo"
	if !IsPackagePath(specifier) || r.fs.IsAbs(specifier) {
		absPath := specifier
		if !r.fs.IsAbs(specifier) {
			absPath = r.fs.Join(importerDir, specifier)
		}
		if path, ok := r.LoadAsFileOrDirectory(absPath, hasTrailingSlash(specifier), importerExt, method); ok {
			return ResolveResult{Kind: SpecifierLocal, AbsPath: path}, true
		}
		return ResolveResult{}, false
	}

	// Bare specifiers may be remapped to local files by "paths" or "baseUrl"
	for _, candidate := range r.MapSpecifier(specifier, importerDir) {
		if path, ok := r.LoadAsFileOrDirectory(candidate, hasTrailingSlash(specifier), importerExt, method); ok {
			return ResolveResult{Kind: SpecifierLocal, AbsPath: path}, true
		}
	}

	if name, ok := PackageName(specifier); ok {
		return ResolveResult{Kind: SpecifierExternal, PackageName: name}, true
	}
	return ResolveResult{}, false
}

// Resolves the path of the entry point given by the user
func (r *Resolver) ResolveEntryPoint(path string) (string, bool) {
	absPath, ok := r.fs.Abs(path)
	if !ok {
		return "", false
	}
	return r.LoadAsFileOrDirectory(absPath, hasTrailingSlash(path), "", ast.MethodImport)
}

func hasTrailingSlash(path string) bool {
	return strings.HasSuffix(path, "/") || strings.HasSuffix(path, "\\")
}

// Finds the first file matching "path" in the fixed priority order. The exact
// path comes first, then sibling files with each extension, then index files
// inside a directory of that name. When "indexOnly" is true only the index
// files are considered.
func (r *Resolver) LoadAsFileOrDirectory(path string, indexOnly bool, importerExt string, method ast.Method) (string, bool) {
	key := importerExt
	if !IsSourceExtension(key) {
		key = ".ts"
	}

	if !indexOnly {
		// Check for an exact match first
		if real, ok := fs.RealFile(r.fs, path); ok {
			return real, true
		}

		stem := path
		if ext := r.fs.Ext(path); IsSourceExtension(ext) {
			key = ext
			if IsTypeScriptExtension(importerExt) {
				if remapped, ok := typeScriptCounterpart[ext]; ok {
					key = remapped
				}
			}
			stem = path[:len(path)-len(ext)]
		}

		for _, ext := range ExtensionOrder(key, method) {
			if real, ok := fs.RealFile(r.fs, stem+ext); ok {
				return real, true
			}
		}
	}

	for _, ext := range ExtensionOrder(key, method) {
		if real, ok := fs.RealFile(r.fs, r.fs.Join(path, "index"+ext)); ok {
			return real, true
		}
	}

	return "", false
}

func IsPackagePath(path string) bool {
	return !strings.HasPrefix(path, "/") && !strings.HasPrefix(path, "./") &&
		!strings.HasPrefix(path, "../") && path != "." && path != ".."
}

func IsURL(specifier string) bool {
	return strings.HasPrefix(specifier, "data:") || strings.HasPrefix(specifier, "http:") ||
		strings.HasPrefix(specifier, "https:")
}

func IsBuiltin(specifier string) bool {
	return strings.HasPrefix(specifier, "node:") || BuiltInNodeModules[specifier]
}

// Returns the package name of a bare specifier, which is the first path
// segment or the first two for scoped packages. The name must follow the npm
// naming rules, although uppercase letters are allowed since older packages
// use them.
func PackageName(specifier string) (string, bool) {
	name, _ := splitPackageSubpath(specifier)
	return name, IsValidPackageName(name)
}

// Splits "@scope/name/sub/path" into "@scope/name" and "./sub/path"
func splitPackageSubpath(specifier string) (string, string) {
	slash := strings.IndexByte(specifier, '/')
	if strings.HasPrefix(specifier, "@") && slash != -1 {
		if next := strings.IndexByte(specifier[slash+1:], '/'); next != -1 {
			slash += next + 1
		} else {
			slash = -1
		}
	}
	if slash == -1 {
		return specifier, "."
	}
	return specifier[:slash], "." + specifier[slash:]
}

func IsValidPackageName(name string) bool {
	if name == "" || len(name) > 214 || name[0] == '.' || name[0] == '_' {
		return false
	}
	if strings.TrimSpace(name) != name {
		return false
	}
	switch strings.ToLower(name) {
	case "node_modules", "favicon.ico":
		return false
	}

	if strings.HasPrefix(name, "@") {
		scope, pkg, ok := strings.Cut(name[1:], "/")
		if !ok || scope == "" || pkg == "" || pkg[0] == '.' || pkg[0] == '_' {
			return false
		}
		return isURLSafe(scope) && isURLSafe(pkg)
	}
	return isURLSafe(name)
}

// Reports whether "encodeURIComponent" would leave the text unchanged
func isURLSafe(text string) bool {
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case strings.IndexByte("-_.!~*'()", c) != -1:
		default:
			return false
		}
	}
	return true
}

// This list can be obtained with the following command:
//
//	node --experimental-wasi-unstable-preview1 -p "[...require('module').builtinModules].join('\n')"
//
// Be sure to use the *LATEST* version of node when updating this list!
var BuiltInNodeModules = map[string]bool{
	"_http_agent":         true,
	"_http_client":        true,
	"_http_common":        true,
	"_http_incoming":      true,
	"_http_outgoing":      true,
	"_http_server":        true,
	"_stream_duplex":      true,
	"_stream_passthrough": true,
	"_stream_readable":    true,
	"_stream_transform":   true,
	"_stream_wrap":        true,
	"_stream_writable":    true,
	"_tls_common":         true,
	"_tls_wrap":           true,
	"assert":              true,
	"assert/strict":       true,
	"async_hooks":         true,
	"buffer":              true,
	"child_process":       true,
	"cluster":             true,
	"console":             true,
	"constants":           true,
	"crypto":              true,
	"dgram":               true,
	"diagnostics_channel": true,
	"dns":                 true,
	"dns/promises":        true,
	"domain":              true,
	"events":              true,
	"fs":                  true,
	"fs/promises":         true,
	"http":                true,
	"http2":               true,
	"https":               true,
	"inspector":           true,
	"inspector/promises":  true,
	"module":              true,
	"net":                 true,
	"os":                  true,
	"path":                true,
	"path/posix":          true,
	"path/win32":          true,
	"perf_hooks":          true,
	"process":             true,
	"punycode":            true,
	"querystring":         true,
	"readline":            true,
	"readline/promises":   true,
	"repl":                true,
	"stream":              true,
	"stream/consumers":    true,
	"stream/promises":     true,
	"stream/web":          true,
	"string_decoder":      true,
	"sys":                 true,
	"timers":              true,
	"timers/promises":     true,
	"tls":                 true,
	"trace_events":        true,
	"tty":                 true,
	"url":                 true,
	"util":                true,
	"util/types":          true,
	"v8":                  true,
	"vm":                  true,
	"wasi":                true,
	"worker_threads":      true,
	"zlib":                true,
}
