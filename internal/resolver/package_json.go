package resolver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/tbjgolden/xnr-sub000/internal/ast"
	"github.com/tbjgolden/xnr-sub000/internal/config"
	"github.com/tbjgolden/xnr-sub000/internal/fs"
	"github.com/tbjgolden/xnr-sub000/internal/logger"
)

type packageJSON struct {
	absDir string

	// "type": "module" makes ".js" files ES modules
	isModuleType bool

	main string

	// The "exports" field, or nil if it's missing
	exports *pjEntry
}

type pjKind uint8

const (
	pjNull pjKind = iota
	pjString
	pjArray
	pjObject
	pjInvalid
)

// A JSON value from the "exports" field. Object keys are kept in order since
// the first matching condition wins.
type pjEntry struct {
	kind    pjKind
	str     string
	array   []pjEntry
	keys    []string
	values  []pjEntry
	hasDots bool
}

func (entry pjEntry) valueForKey(key string) (pjEntry, bool) {
	for i, k := range entry.keys {
		if k == key {
			return entry.values[i], true
		}
	}
	return pjEntry{}, false
}

// The conditions that apply when an ES module imports a package on node
var importConditions = map[string]bool{
	"node":    true,
	"import":  true,
	"default": true,
}

type PackageEntry struct {
	AbsPath string
	Format  config.Format
}

// Finds the file that a bare specifier refers to when it's imported from a
// file in "importerDir", and whether that file is an ES module or CommonJS.
// This only looks at the "node_modules" folders above "importerDir".
func (r *Resolver) PackageEntry(importerDir string, specifier string) (PackageEntry, error) {
	name, subpath := splitPackageSubpath(specifier)

	var pkg *packageJSON
	for dir := importerDir; ; {
		if pkgDir := r.fs.Join(dir, "node_modules", name); fs.IsDir(r.fs, pkgDir) {
			pkg = r.packageJSONForDir(pkgDir)
			if pkg != nil {
				break
			}
		}
		parent := r.fs.Dir(dir)
		if parent == dir {
			return PackageEntry{}, fmt.Errorf("Cannot find package %q", name)
		}
		dir = parent
	}

	var absPath string
	if pkg.exports != nil {
		target, ok := esmPackageExportsResolve(subpath, *pkg.exports)
		if !ok {
			return PackageEntry{}, fmt.Errorf("Package subpath %q is not defined by \"exports\" in %q",
				subpath, r.fs.Join(pkg.absDir, "package.json"))
		}
		absPath = r.fs.Join(pkg.absDir, target)
		if real, ok := fs.RealFile(r.fs, absPath); ok {
			absPath = real
		} else {
			return PackageEntry{}, fmt.Errorf("Cannot find file %q", absPath)
		}
	} else {
		var ok bool
		if subpath == "." {
			absPath, ok = r.loadAsMainField(pkg)
		} else {
			absPath, ok = r.LoadAsFileOrDirectory(r.fs.Join(pkg.absDir, subpath), false, ".js", ast.MethodRequire)
		}
		if !ok {
			return PackageEntry{}, fmt.Errorf("Cannot find the entry point of package %q", specifier)
		}
	}

	return PackageEntry{AbsPath: absPath, Format: pkg.formatOf(absPath)}, nil
}

func (r *Resolver) loadAsMainField(pkg *packageJSON) (string, bool) {
	if pkg.main != "" {
		if absPath, ok := r.LoadAsFileOrDirectory(r.fs.Join(pkg.absDir, pkg.main), false, ".js", ast.MethodRequire); ok {
			return absPath, true
		}
	}
	return fs.RealFile(r.fs, r.fs.Join(pkg.absDir, "index.js"))
}

func (pkg *packageJSON) formatOf(path string) config.Format {
	switch {
	case strings.HasSuffix(path, ".mjs"):
		return config.FormatESModule
	case strings.HasSuffix(path, ".js") && pkg.isModuleType:
		return config.FormatESModule
	default:
		return config.FormatCommonJS
	}
}

func (r *Resolver) packageJSONForDir(dir string) *packageJSON {
	r.packageJSONMutex.Lock()
	defer r.packageJSONMutex.Unlock()

	if pkg, ok := r.packageJSONs[dir]; ok {
		return pkg
	}
	pkg := r.parsePackageJSON(dir)
	r.packageJSONs[dir] = pkg
	return pkg
}

func (r *Resolver) parsePackageJSON(dir string) *packageJSON {
	path := r.fs.Join(dir, "package.json")
	contents, err := r.fs.ReadFile(path)
	if err != nil {
		return nil
	}
	source := logger.Source{KeyPath: path, PrettyPath: path, Contents: contents}
	data := jsonc.ToJSON([]byte(contents))

	var fields struct {
		Type    string          `json:"type"`
		Main    json.RawMessage `json:"main"`
		Exports json.RawMessage `json:"exports"`
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		r.log.AddWarning(&source, logger.Range{}, fmt.Sprintf("Cannot parse package.json: %s", err.Error()))
		return nil
	}

	pkg := &packageJSON{absDir: dir, isModuleType: fields.Type == "module"}

	// A "main" field that isn't a string is ignored
	var main string
	if json.Unmarshal(fields.Main, &main) == nil {
		pkg.main = main
	}

	if len(fields.Exports) > 0 {
		exports, err := parseExportsEntry(json.NewDecoder(bytes.NewReader(fields.Exports)))
		if err != nil {
			r.log.AddWarning(&source, logger.Range{}, fmt.Sprintf("Invalid \"exports\" field: %s", err.Error()))
		} else if exports.kind != pjNull {
			pkg.exports = &exports
		}
	}

	return pkg
}

func parseExportsEntry(decoder *json.Decoder) (pjEntry, error) {
	token, err := decoder.Token()
	if err != nil {
		return pjEntry{}, err
	}

	switch t := token.(type) {
	case nil:
		return pjEntry{kind: pjNull}, nil

	case string:
		return pjEntry{kind: pjString, str: t}, nil

	case json.Delim:
		switch t {
		case '[':
			entry := pjEntry{kind: pjArray}
			for decoder.More() {
				item, err := parseExportsEntry(decoder)
				if err != nil {
					return pjEntry{}, err
				}
				entry.array = append(entry.array, item)
			}
			_, err := decoder.Token()
			return entry, err

		case '{':
			entry := pjEntry{kind: pjObject}
			for decoder.More() {
				keyToken, err := decoder.Token()
				if err != nil {
					return pjEntry{}, err
				}
				key, _ := keyToken.(string)
				value, err := parseExportsEntry(decoder)
				if err != nil {
					return pjEntry{}, err
				}
				if strings.HasPrefix(key, ".") {
					entry.hasDots = true
				}
				entry.keys = append(entry.keys, key)
				entry.values = append(entry.values, value)
			}
			_, err := decoder.Token()
			return entry, err
		}
	}

	// Numbers and booleans can't be targets
	return pjEntry{kind: pjInvalid}, nil
}

// This follows the "PACKAGE_EXPORTS_RESOLVE" algorithm from node. The result
// is relative to the package directory.
func esmPackageExportsResolve(subpath string, exports pjEntry) (string, bool) {
	// "exports": "./index.js" and "exports": { "import": "./index.mjs" } are
	// shorthand for the "." subpath
	if exports.kind != pjObject || !exports.hasDots {
		if subpath != "." {
			return "", false
		}
		return esmPackageTargetResolve(exports, "")
	}

	// Check for an exact match first
	if target, ok := exports.valueForKey(subpath); ok && !strings.Contains(subpath, "*") {
		return esmPackageTargetResolve(target, "")
	}

	// Then find the pattern with the longest prefix
	bestKey := ""
	bestMatch := ""
	for _, key := range exports.keys {
		star := strings.IndexByte(key, '*')
		if star == -1 || strings.IndexByte(key[star+1:], '*') != -1 {
			continue
		}
		prefix, suffix := key[:star], key[star+1:]
		if len(subpath) >= len(key)-1 && strings.HasPrefix(subpath, prefix) && strings.HasSuffix(subpath, suffix) && len(prefix) > strings.IndexByte(bestKey, '*') {
			bestKey = key
			bestMatch = subpath[len(prefix) : len(subpath)-len(suffix)]
		}
	}
	if bestKey != "" {
		target, _ := exports.valueForKey(bestKey)
		return esmPackageTargetResolve(target, bestMatch)
	}

	return "", false
}

func esmPackageTargetResolve(target pjEntry, patternMatch string) (string, bool) {
	switch target.kind {
	case pjString:
		if !strings.HasPrefix(target.str, "./") {
			return "", false
		}
		return strings.ReplaceAll(target.str, "*", patternMatch), true

	case pjObject:
		// The first key that matches one of the conditions wins
		for i, key := range target.keys {
			if importConditions[key] {
				if result, ok := esmPackageTargetResolve(target.values[i], patternMatch); ok {
					return result, true
				}
			}
		}

	case pjArray:
		for _, item := range target.array {
			if result, ok := esmPackageTargetResolve(item, patternMatch); ok {
				return result, true
			}
		}
	}

	return "", false
}
