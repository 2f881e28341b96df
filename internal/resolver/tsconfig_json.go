package resolver

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/tbjgolden/xnr-sub000/internal/fs"
	"github.com/tbjgolden/xnr-sub000/internal/logger"
)

type TSConfigJSON struct {
	AbsPath string

	// The absolute path of "compilerOptions.baseUrl"
	BaseURL *string

	// Relative "paths" entries are relative to this directory when "baseUrl"
	// is missing. This is the directory of the file that declared "paths".
	BaseURLForPaths string

	// The verbatim values of "compilerOptions.paths". The keys are patterns to
	// match and the values are arrays of fallback paths to search. Each key and
	// each fallback path can optionally have a single "*" wildcard character.
	// If both the key and the value have a wildcard, the substring matched by
	// the wildcard is substituted into the fallback path.
	Paths map[string][]string
}

type tsConfigFile struct {
	Extends         json.RawMessage `json:"extends"`
	CompilerOptions struct {
		BaseURL *string                    `json:"baseUrl"`
		Paths   map[string]json.RawMessage `json:"paths"`
	} `json:"compilerOptions"`
}

// Returns the absolute paths that a bare specifier is remapped to by the
// nearest "tsconfig.json" or "jsconfig.json", in the order they should be
// tried. This is empty if there is no config file or nothing matches.
func (r *Resolver) MapSpecifier(specifier string, dir string) []string {
	tsConfigJSON := r.tsConfigForDir(dir)
	if tsConfigJSON == nil {
		return nil
	}

	var candidates []string
	if tsConfigJSON.Paths != nil {
		candidates = r.matchTSConfigPaths(tsConfigJSON, specifier)
	}

	// "baseUrl" also applies to specifiers that "paths" doesn't mention
	if tsConfigJSON.BaseURL != nil {
		candidates = append(candidates, r.fs.Join(*tsConfigJSON.BaseURL, specifier))
	}
	return candidates
}

func (r *Resolver) tsConfigForDir(dir string) *TSConfigJSON {
	r.tsConfigMutex.Lock()
	defer r.tsConfigMutex.Unlock()
	return r.tsConfigForDirLocked(dir)
}

func (r *Resolver) tsConfigForDirLocked(dir string) *TSConfigJSON {
	if result, ok := r.tsConfigs[dir]; ok {
		return result
	}

	var result *TSConfigJSON
	found := false
	for _, name := range []string{"tsconfig.json", "jsconfig.json"} {
		path := r.fs.Join(dir, name)
		if _, ok := fs.RealFile(r.fs, path); ok {
			result = r.parseTSConfig(path, make(map[string]bool))
			found = true
			break
		}
	}

	// Keep searching in the parent directory
	if !found {
		if parent := r.fs.Dir(dir); parent != dir {
			result = r.tsConfigForDirLocked(parent)
		}
	}

	r.tsConfigs[dir] = result
	return result
}

func (r *Resolver) parseTSConfig(path string, visited map[string]bool) *TSConfigJSON {
	// Don't infinite loop if a series of "extends" links forms a cycle
	if visited[path] {
		r.log.AddWarning(nil, logger.Range{}, fmt.Sprintf("Base config file %q forms a cycle", path))
		return nil
	}
	visited[path] = true
	defer func() { visited[path] = false }()

	contents, err := r.fs.ReadFile(path)
	if err != nil {
		r.log.AddWarning(nil, logger.Range{}, fmt.Sprintf("Cannot read file %q: %s", path, err.Error()))
		return nil
	}
	source := logger.Source{KeyPath: path, PrettyPath: path, Contents: contents}

	// Unfortunately "tsconfig.json" isn't actually JSON. It allows comments
	// and trailing commas.
	var file tsConfigFile
	if err := json.Unmarshal(jsonc.ToJSON([]byte(contents)), &file); err != nil {
		r.log.AddWarning(&source, logger.Range{}, fmt.Sprintf("Cannot parse config file: %s", err.Error()))
		return nil
	}

	dir := r.fs.Dir(path)
	result := TSConfigJSON{AbsPath: path}

	// Parse "extends", which is either a string or an array of strings. Later
	// entries override earlier ones.
	var extends []string
	var single string
	if json.Unmarshal(file.Extends, &single) == nil {
		extends = []string{single}
	} else if err := json.Unmarshal(file.Extends, &extends); err != nil && len(file.Extends) > 0 {
		r.log.AddWarning(&source, logger.Range{}, "Expected \"extends\" to be a string or an array of strings")
	}
	for _, extend := range extends {
		if extend == "" {
			continue
		}
		basePath, ok := r.resolveExtends(extend, dir)
		if !ok {
			r.log.AddWarning(&source, logger.Range{}, fmt.Sprintf("Cannot find base config file %q", extend))
			continue
		}
		if base := r.parseTSConfig(basePath, visited); base != nil {
			if base.BaseURL != nil {
				result.BaseURL = base.BaseURL
			}
			if base.Paths != nil {
				result.Paths = base.Paths
				result.BaseURLForPaths = base.BaseURLForPaths
			}
		}
	}

	// Parse "baseUrl"
	if file.CompilerOptions.BaseURL != nil {
		baseURL := *file.CompilerOptions.BaseURL
		if !r.fs.IsAbs(baseURL) {
			baseURL = r.fs.Join(dir, baseURL)
		}
		result.BaseURL = &baseURL
	}

	// Parse "paths"
	if file.CompilerOptions.Paths != nil {
		result.Paths = make(map[string][]string)
		result.BaseURLForPaths = dir
		for key, value := range file.CompilerOptions.Paths {
			if !isValidTSConfigPathPattern(key) {
				r.log.AddWarning(&source, logger.Range{}, fmt.Sprintf(
					"Invalid pattern %q, must have at most one \"*\" character", key))
				continue
			}
			var substitutions []string
			if err := json.Unmarshal(value, &substitutions); err != nil {
				r.log.AddWarning(&source, logger.Range{}, fmt.Sprintf(
					"Substitutions for pattern %q should be an array", key))
				continue
			}
			for _, substitution := range substitutions {
				if isValidTSConfigPathPattern(substitution) {
					result.Paths[key] = append(result.Paths[key], substitution)
				}
			}
		}
	}

	return &result
}

// Relative base configs are files. Anything else is looked up inside the
// "node_modules" folders above the config file.
func (r *Resolver) resolveExtends(extends string, dir string) (string, bool) {
	if !IsPackagePath(extends) || r.fs.IsAbs(extends) {
		path := extends
		if !r.fs.IsAbs(path) {
			path = r.fs.Join(dir, path)
		}
		if real, ok := fs.RealFile(r.fs, path); ok {
			return real, true
		}
		if !strings.HasSuffix(path, ".json") {
			return fs.RealFile(r.fs, path+".json")
		}
		return "", false
	}

	for current := dir; ; {
		base := r.fs.Join(current, "node_modules", extends)
		for _, path := range []string{base, base + ".json", r.fs.Join(base, "tsconfig.json")} {
			if real, ok := fs.RealFile(r.fs, path); ok {
				return real, true
			}
		}
		parent := r.fs.Dir(current)
		if parent == current {
			return "", false
		}
		current = parent
	}
}

func isValidTSConfigPathPattern(text string) bool {
	return strings.Count(text, "*") <= 1
}

func hasCaseInsensitiveSuffix(s string, suffix string) bool {
	return len(s) >= len(suffix) && strings.EqualFold(s[len(s)-len(suffix):], suffix)
}

func (r *Resolver) matchTSConfigPaths(tsConfigJSON *TSConfigJSON, path string) []string {
	absBaseURL := tsConfigJSON.BaseURLForPaths

	// The explicit base URL should take precedence over the implicit base URL
	// if present. This matters when a tsconfig.json file overrides "baseUrl"
	// from another extended tsconfig.json file but doesn't override "paths".
	if tsConfigJSON.BaseURL != nil {
		absBaseURL = *tsConfigJSON.BaseURL
	}

	var candidates []string
	addCandidate := func(originalPath string) {
		// Ignore ".d.ts" files because this rule is obviously only here for type checking
		if hasCaseInsensitiveSuffix(originalPath, ".d.ts") {
			return
		}

		// Load the original path relative to the "baseUrl" from tsconfig.json
		if !r.fs.IsAbs(originalPath) {
			originalPath = r.fs.Join(absBaseURL, originalPath)
		}
		candidates = append(candidates, originalPath)
	}

	// Check for exact matches first
	if originalPaths, ok := tsConfigJSON.Paths[path]; ok {
		for _, originalPath := range originalPaths {
			addCandidate(originalPath)
		}
		return candidates
	}

	type match struct {
		prefix        string
		suffix        string
		originalPaths []string
	}

	// Check for pattern matches next
	longestMatchPrefixLength := -1
	longestMatchSuffixLength := -1
	var longestMatch match
	for key, originalPaths := range tsConfigJSON.Paths {
		if starIndex := strings.IndexByte(key, '*'); starIndex != -1 {
			prefix, suffix := key[:starIndex], key[starIndex+1:]

			// Find the match with the longest prefix. If two matches have the same
			// prefix length, pick the one with the longest suffix. This second edge
			// case isn't handled by the TypeScript compiler, but we handle it
			// because we want the output to always be deterministic and Go map
			// iteration order is deliberately non-deterministic.
			if len(path) >= len(prefix)+len(suffix) && strings.HasPrefix(path, prefix) && strings.HasSuffix(path, suffix) &&
				(len(prefix) > longestMatchPrefixLength || (len(prefix) == longestMatchPrefixLength && len(suffix) > longestMatchSuffixLength)) {
				longestMatchPrefixLength = len(prefix)
				longestMatchSuffixLength = len(suffix)
				longestMatch = match{
					prefix:        prefix,
					suffix:        suffix,
					originalPaths: originalPaths,
				}
			}
		}
	}

	// If there is at least one match, only consider the one with the longest
	// prefix. This matches the behavior of the TypeScript compiler.
	if longestMatchPrefixLength != -1 {
		matchedText := path[len(longestMatch.prefix) : len(path)-len(longestMatch.suffix)]
		for _, originalPath := range longestMatch.originalPaths {
			// Swap out the "*" in the original path for whatever the "*" matched
			addCandidate(strings.Replace(originalPath, "*", matchedText, 1))
		}
	}

	return candidates
}
