package linker

// The link phase runs after every file has been scanned. It decides where each
// file goes, then rewrites each file by patching its source text: local
// specifiers point at the output location of their target, the CommonJS and
// "import.meta" variables keep describing the original source, and named
// imports from CommonJS modules go through an interop shim. Nothing is written
// to disk here. See "WriteOutputFiles" for that.

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/tbjgolden/xnr-sub000/internal/ast"
	"github.com/tbjgolden/xnr-sub000/internal/config"
	"github.com/tbjgolden/xnr-sub000/internal/fs"
	"github.com/tbjgolden/xnr-sub000/internal/graph"
	"github.com/tbjgolden/xnr-sub000/internal/helpers"
	"github.com/tbjgolden/xnr-sub000/internal/js_ast"
	"github.com/tbjgolden/xnr-sub000/internal/js_lexer"
	"github.com/tbjgolden/xnr-sub000/internal/js_printer"
	"github.com/tbjgolden/xnr-sub000/internal/logger"
	"github.com/tbjgolden/xnr-sub000/internal/resolver"
	"github.com/tbjgolden/xnr-sub000/internal/sourcemap"
	"github.com/tbjgolden/xnr-sub000/internal/xnr_errors"
)

type linkerContext struct {
	log     logger.Log
	fs      fs.FS
	res     *resolver.Resolver
	graph   *graph.Graph
	options *config.Options

	commonRoot string
	outputDir  string

	// Indexed by source index. Output paths are relative to the common root
	// and use forward slashes.
	outputPaths    []string
	absOutputPaths []string

	// Generates the suffix of identifiers that bind a CommonJS module
	newIdentifierSuffix func() string
}

type Result struct {
	CommonRoot string
	OutputDir  string

	// The absolute path of the output file for the entry point
	EntryOutputPath string

	// Dependencies come before the files that import them
	Files []graph.OutputFile
}

func Link(log logger.Log, fs fs.FS, res *resolver.Resolver, g *graph.Graph, options config.Options) (Result, error) {
	c := &linkerContext{
		log:     log,
		fs:      fs,
		res:     res,
		graph:   g,
		options: &options,
		newIdentifierSuffix: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")
		},
	}
	return c.link()
}

func (c *linkerContext) link() (Result, error) {
	if err := c.computeCommonRoot(); err != nil {
		return Result{}, err
	}
	c.outputDir = c.options.AbsOutputDir
	if c.outputDir == "" {
		c.outputDir = c.fs.Join(c.commonRoot, c.options.OutputDirInsideRoot)
	}
	if err := c.computeOutputPaths(); err != nil {
		return Result{}, err
	}

	order := c.graph.PostOrder()
	files := make([]graph.OutputFile, 0, len(order))
	for _, sourceIndex := range order {
		contents, shifts, err := c.generateFile(sourceIndex)
		if err != nil {
			return Result{}, err
		}
		files = append(files, graph.OutputFile{
			OutputPath: c.outputPaths[sourceIndex],
			AbsPath:    c.absOutputPaths[sourceIndex],
			SourcePath: c.graph.Files[sourceIndex].Source.KeyPath,
			Contents:   []byte(contents),
			Shifts:     shifts,
			SourceMap:  c.graph.Files[sourceIndex].SourceMap,
		})
	}

	return Result{
		CommonRoot:      c.commonRoot,
		OutputDir:       c.outputDir,
		EntryOutputPath: c.absOutputPaths[graph.EntryPointIndex],
		Files:           files,
	}, nil
}

// The common root is the deepest directory that contains every file in the
// graph. Start at the directory of the entry point and walk upward.
func (c *linkerContext) computeCommonRoot() error {
	dir := c.fs.Dir(c.graph.EntryPoint().Source.KeyPath)
	for {
		containsAll := true
		for _, file := range c.graph.Files {
			if !fs.IsDescendantOf(c.fs, file.Source.KeyPath, dir) {
				containsAll = false
				break
			}
		}
		if containsAll {
			c.commonRoot = dir
			return nil
		}

		parent := c.fs.Dir(dir)
		if parent == dir {
			return xnr_errors.Errorf("Could not find a common root directory for the files imported by %q",
				c.graph.EntryPoint().Source.PrettyPath)
		}
		dir = parent
	}
}

func (c *linkerContext) computeOutputPaths() error {
	c.outputPaths = make([]string, len(c.graph.Files))
	c.absOutputPaths = make([]string, len(c.graph.Files))
	owners := make(map[string]uint32, len(c.graph.Files))

	for i := range c.graph.Files {
		file := &c.graph.Files[i]
		rel, ok := c.fs.Rel(c.commonRoot, file.Source.KeyPath)
		if !ok {
			return xnr_errors.Errorf("Cannot compute the path of %q relative to %q", file.Source.KeyPath, c.commonRoot)
		}
		rel = helpers.ToSlash(rel)
		outputPath := strings.TrimSuffix(rel, c.fs.Ext(rel)) + file.Format.OutputExtension()

		// Both "a.ts" and "a.mts" can end up as "a.mjs"
		if other, ok := owners[outputPath]; ok {
			return xnr_errors.Errorf("Files %q and %q would both be written to %q",
				c.graph.Files[other].Source.PrettyPath, file.Source.PrettyPath, outputPath)
		}
		owners[outputPath] = uint32(i)

		c.outputPaths[i] = outputPath
		c.absOutputPaths[i] = c.fs.Join(c.outputDir, outputPath)
	}
	return nil
}

// Returns the specifier that "fromIndex" uses to import "toIndex". This is
// always a relative path with forward slashes.
func (c *linkerContext) pathBetweenFiles(fromIndex uint32, toIndex uint32) string {
	relPath, ok := c.fs.Rel(c.fs.Dir(c.absOutputPaths[fromIndex]), c.absOutputPaths[toIndex])
	if !ok {
		panic("Internal error")
	}

	// Make sure to always use forward slashes, even on Windows
	relPath = helpers.ToSlash(relPath)

	// Make sure the relative path doesn't start with a name, since that could
	// be interpreted as a package path instead of a relative path
	if !strings.HasPrefix(relPath, "./") && !strings.HasPrefix(relPath, "../") {
		relPath = "./" + relPath
	}
	return relPath
}

func (c *linkerContext) generateFile(sourceIndex uint32) (string, sourcemap.Shifts, error) {
	file := &c.graph.Files[sourceIndex]
	source := &file.Source
	tree := &file.AST
	isESM := file.Format == config.FormatESModule
	var patches []js_printer.Patch

	// Injected declarations must come first since other patches may start at
	// the same offset
	if text := c.injectedPrologue(file); text != "" {
		patches = append(patches, js_printer.Patch{
			Range: logger.Range{Loc: logger.Loc{Start: tree.InjectionOffset}},
			Text:  text,
		})
	}

	targets := make(map[uint32]uint32, len(file.LocalDependencies))
	for _, dep := range file.LocalDependencies {
		targets[dep.ImportRecordIndex] = dep.TargetIndex
	}
	externals := make(map[uint32]bool, len(file.ExternalDependencies))
	for _, dep := range file.ExternalDependencies {
		externals[dep.ImportRecordIndex] = true
	}

	// Import statements that are replaced by an interop shim
	shimmed := make(map[uint32]bool)
	if isESM {
		for _, clause := range tree.ImportClauses {
			patch, ok, err := c.interopShim(sourceIndex, clause, targets, externals)
			if err != nil {
				return "", nil, err
			}
			if ok {
				patches = append(patches, patch)
				shimmed[clause.ImportRecordIndex] = true
			}
		}
	}

	for i, record := range tree.ImportRecords {
		recordIndex := uint32(i)
		if shimmed[recordIndex] {
			continue
		}
		targetIndex, ok := targets[recordIndex]
		if !ok {
			if externals[recordIndex] {
				c.warnAboutReExport(file, record)
			}
			continue
		}
		patches = append(patches, js_printer.Patch{
			Range: record.Range,
			Text:  js_printer.QuoteSpecifier(c.specifierFor(sourceIndex, record, targetIndex), source.Contents[record.Range.Loc.Start]),
		})

		// Node rejects "with { type: 'json' }" for a CommonJS module
		if record.AttributesRange.Len > 0 && c.graph.Files[targetIndex].Loader == config.LoaderJSON {
			patches = append(patches, js_printer.Patch{Range: record.AttributesRange})
		}
	}

	if isESM {
		for _, arg := range tree.CreateRequireArgs {
			patches = append(patches, js_printer.Patch{Range: arg, Text: "import.meta.url"})
		}
	}

	for _, ref := range tree.MetaRefs {
		var text string
		switch ref.Kind {
		case js_ast.MetaURL:
			text = helpers.QuoteForJSON(helpers.FileURLFromFilePath(source.KeyPath).String())
		case js_ast.MetaDirname:
			text = helpers.QuoteForJSON(c.fs.Dir(source.KeyPath))
		case js_ast.MetaFilename:
			text = helpers.QuoteForJSON(source.KeyPath)
		}
		patches = append(patches, js_printer.Patch{Range: ref.Range, Text: text})
	}

	sort.SliceStable(patches, func(i int, j int) bool {
		return patches[i].Range.Loc.Start < patches[j].Range.Loc.Start
	})
	js, shifts := js_printer.PrintWithShifts(source.Contents, patches)
	return js, shifts, nil
}

func (c *linkerContext) specifierFor(sourceIndex uint32, record ast.ImportRecord, targetIndex uint32) string {
	// "require.main.require()" is evaluated relative to the entry point
	if record.Kind == ast.ImportRequireMain {
		return c.pathBetweenFiles(graph.EntryPointIndex, targetIndex)
	}
	return c.pathBetweenFiles(sourceIndex, targetIndex)
}

// The CommonJS module variables are rewritten to describe the original source
// file instead of the output file. This is placed on the same line as the
// first statement so that line numbers don't change.
func (c *linkerContext) injectedPrologue(file *graph.InputFile) string {
	tree := &file.AST
	keyword := "var"
	if file.Format == config.FormatESModule {
		keyword = "const"
	}
	sb := strings.Builder{}

	if file.Format == config.FormatESModule && tree.UsesFreeNames.Has(js_ast.NameRequire) && !tree.DeclaresFreeNames.Has(js_ast.NameRequire) {
		sb.WriteString("import { createRequire as __xnr_createRequire } from \"module\"; ")
		sb.WriteString("const require = __xnr_createRequire(import.meta.url); ")
	}
	if tree.UsesFreeNames.Has(js_ast.NameDirname) && !tree.DeclaresFreeNames.Has(js_ast.NameDirname) {
		sb.WriteString(keyword + " __dirname = " + helpers.QuoteForJSON(c.fs.Dir(file.Source.KeyPath)) + "; ")
	}
	if tree.UsesFreeNames.Has(js_ast.NameFilename) && !tree.DeclaresFreeNames.Has(js_ast.NameFilename) {
		sb.WriteString(keyword + " __filename = " + helpers.QuoteForJSON(file.Source.KeyPath) + "; ")
	}

	if sb.Len() == 0 {
		return ""
	}

	// A directive without a semicolon would otherwise run into the injected code
	if offset := tree.InjectionOffset; offset > 0 {
		if prev := file.Source.Contents[offset-1]; prev != '\n' && prev != ';' {
			return ";" + sb.String()
		}
	}
	return sb.String()
}

// Node can't bind named imports from a CommonJS module in an ES module, so
//
//	import def, { a, b as c } from "pkg";
//
// is replaced by
//
//	import def from "pkg"; const { a, b: c } = def;
//
// which only relies on the default import that Node always provides.
func (c *linkerContext) interopShim(sourceIndex uint32, clause js_ast.ImportClause, targets map[uint32]uint32, externals map[uint32]bool) (js_printer.Patch, bool, error) {
	file := &c.graph.Files[sourceIndex]
	record := file.AST.ImportRecords[clause.ImportRecordIndex]

	var named []js_ast.ClauseItem
	defaultName := clause.DefaultName
	for _, item := range clause.Items {
		if item.Alias == "default" && defaultName == "" {
			defaultName = item.Name
			continue
		}
		named = append(named, item)
	}
	if len(named) == 0 {
		return js_printer.Patch{}, false, nil
	}

	var specifier string
	targetIndex, isLocal := targets[clause.ImportRecordIndex]
	if isLocal {
		if c.graph.Files[targetIndex].Format != config.FormatCommonJS {
			return js_printer.Patch{}, false, nil
		}
		specifier = c.pathBetweenFiles(sourceIndex, targetIndex)
	} else if externals[clause.ImportRecordIndex] {
		entry, err := c.res.PackageEntry(c.fs.Dir(file.Source.KeyPath), record.Path)
		if err != nil {
			return js_printer.Patch{}, false, &xnr_errors.Error{
				Text: fmt.Sprintf("Cannot find the entry point of package %q imported by %q: %s",
					record.Path, file.Source.PrettyPath, err.Error()),
				Location: file.Source.LocationOrNil(record.Range),
			}
		}
		if entry.Format != config.FormatCommonJS {
			return js_printer.Patch{}, false, nil
		}
		specifier = record.Path
	} else {
		// Builtins and URLs
		return js_printer.Patch{}, false, nil
	}

	if defaultName == "" {
		defaultName = "__xnr_" + c.newIdentifierSuffix()
	}

	sb := strings.Builder{}
	sb.WriteString("import ")
	sb.WriteString(defaultName)
	sb.WriteString(" from ")
	sb.WriteString(js_printer.QuoteSpecifier(specifier, file.Source.Contents[record.Range.Loc.Start]))
	if record.AttributesRange.Len > 0 && !(isLocal && c.graph.Files[targetIndex].Loader == config.LoaderJSON) {
		sb.WriteByte(' ')
		sb.WriteString(file.Source.TextForRange(record.AttributesRange))
	}
	sb.WriteString("; const { ")
	for i, item := range named {
		if i > 0 {
			sb.WriteString(", ")
		}
		if item.Alias == item.Name {
			sb.WriteString(item.Name)
			continue
		}
		if js_lexer.IsIdentifier(item.Alias) {
			sb.WriteString(item.Alias)
		} else {
			sb.WriteString(helpers.QuoteForJSON(item.Alias))
		}
		sb.WriteString(": ")
		sb.WriteString(item.Name)
	}
	sb.WriteString(" } = ")
	sb.WriteString(defaultName)
	sb.WriteString(";")

	return js_printer.Patch{Range: clause.StmtRange, Text: sb.String()}, true, nil
}

// Re-exports from a package can't be shimmed. They are left as written, but
// if the package can't even be found the user should hear about it.
func (c *linkerContext) warnAboutReExport(file *graph.InputFile, record ast.ImportRecord) {
	if file.Format != config.FormatESModule || !record.Flags.Has(ast.IsReExport) {
		return
	}
	if _, err := c.res.PackageEntry(c.fs.Dir(file.Source.KeyPath), record.Path); err != nil {
		c.log.AddWarning(&file.Source, record.Range,
			fmt.Sprintf("Cannot find the entry point of package %q, so its re-exports are left as written", record.Path))
	}
}
