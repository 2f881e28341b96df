package bundler

// The scan phase discovers every file reachable from the entry point. Each
// file is read, stripped of types, parsed and has its import records resolved
// on its own goroutine. The main goroutine owns the map of visited paths, so
// each physical file is parsed exactly once even when the graph has cycles.

import (
	"strings"

	"github.com/tbjgolden/xnr-sub000/internal/ast"
	"github.com/tbjgolden/xnr-sub000/internal/config"
	"github.com/tbjgolden/xnr-sub000/internal/fs"
	"github.com/tbjgolden/xnr-sub000/internal/graph"
	"github.com/tbjgolden/xnr-sub000/internal/helpers"
	"github.com/tbjgolden/xnr-sub000/internal/js_ast"
	"github.com/tbjgolden/xnr-sub000/internal/js_parser"
	"github.com/tbjgolden/xnr-sub000/internal/logger"
	"github.com/tbjgolden/xnr-sub000/internal/resolver"
	"github.com/tbjgolden/xnr-sub000/internal/transform"
	"github.com/tbjgolden/xnr-sub000/internal/xnr_errors"
)

type parseArgs struct {
	fs          fs.FS
	res         *resolver.Resolver
	stripper    transform.Stripper
	keyPath     string
	sourceIndex uint32
	results     chan parseResult

	// "require.main.require()" resolves relative to the entry point
	entryPath string
}

type parseResult struct {
	sourceIndex uint32
	file        graph.InputFile
	err         error

	// One for each import record, in the same order
	resolveResults []resolver.ResolveResult
}

func parseFile(args parseArgs) {
	result := parseResult{sourceIndex: args.sourceIndex}
	defer func() {
		// A panic on this goroutine would otherwise take down the whole process
		if r := recover(); r != nil {
			result.err = &xnr_errors.InternalError{Value: r, Stack: helpers.PrettyPrintedStack()}
		}
		args.results <- result
	}()

	source := logger.Source{
		KeyPath:    args.keyPath,
		PrettyPath: PrettyPath(args.fs, args.keyPath),
	}
	loader := config.LoaderFromExt(args.fs.Ext(args.keyPath))
	var sourceMap []byte

	contents, err := args.fs.ReadFile(args.keyPath)
	if err != nil {
		result.err = xnr_errors.Errorf("Cannot read file %q: %s", source.PrettyPath, err.Error())
		return
	}

	if loader == config.LoaderJSON {
		// JSON files become CommonJS modules that export their contents
		source.Contents = "module.exports = " + strings.TrimPrefix(contents, "\uFEFF")
	} else {
		stripped, err := args.stripper.StripTypes(contents, args.keyPath)
		if err != nil {
			result.err = err
			return
		}
		source.Contents = stripped.Code
		sourceMap = stripped.SourceMap
	}

	log := logger.NewDeferLog()
	tree, ok := js_parser.Parse(log, source)
	if !ok {
		result.err = parseError(source, log.Done())
		return
	}

	result.file = graph.InputFile{
		Source:    source,
		Loader:    loader,
		AST:       tree,
		SourceMap: sourceMap,
	}

	// Resolve every import record. This happens here instead of on the main
	// goroutine so that the file system probes run in parallel.
	result.resolveResults = make([]resolver.ResolveResult, len(tree.ImportRecords))
	for i, record := range tree.ImportRecords {
		importer := args.keyPath
		if record.Kind == ast.ImportRequireMain {
			importer = args.entryPath
		}

		resolved, ok := args.res.Resolve(importer, record.Path, record.Kind.Method())
		if !ok {
			result.err = &xnr_errors.CouldNotResolveError{
				Specifier: record.Path,
				Importer:  args.keyPath,
				Location:  source.LocationOrNil(record.Range),
			}
			return
		}
		result.resolveResults[i] = resolved
	}
}

func parseError(source logger.Source, msgs []logger.Msg) error {
	for _, msg := range msgs {
		if msg.Kind == logger.Error {
			return &xnr_errors.TransformError{Path: source.KeyPath, Text: msg.Text, Location: msg.Location}
		}
	}
	return &xnr_errors.TransformError{Path: source.KeyPath, Text: "Failed to parse the output of the type stripper"}
}

// Returns a path for messages, relative to the working directory when the
// file is inside it
func PrettyPath(fs fs.FS, absPath string) string {
	if rel, ok := fs.Rel(fs.Cwd(), absPath); ok && !strings.HasPrefix(rel, "..") && !fs.IsAbs(rel) {
		return helpers.ToSlash(rel)
	}
	return helpers.ToSlash(absPath)
}

// Builds the module graph for the entry point. The entry point is resolved
// like an import from the working directory. The first error aborts the scan.
func ScanGraph(fs fs.FS, res *resolver.Resolver, stripper transform.Stripper, entryPath string) (graph.Graph, error) {
	absEntryPath, ok := res.ResolveEntryPoint(entryPath)
	if !ok {
		return graph.Graph{}, &xnr_errors.CouldNotResolveError{Specifier: entryPath, Importer: fs.Cwd()}
	}

	results := make([]parseResult, 0, 16)
	visited := make(map[string]uint32)
	resultChannel := make(chan parseResult)
	remaining := 0
	var firstErr error

	maybeParseFile := func(keyPath string) uint32 {
		sourceIndex, ok := visited[keyPath]
		if !ok {
			sourceIndex = uint32(len(results))
			visited[keyPath] = sourceIndex
			results = append(results, parseResult{})
			remaining++
			go parseFile(parseArgs{
				fs:          fs,
				res:         res,
				stripper:    stripper,
				keyPath:     keyPath,
				sourceIndex: sourceIndex,
				results:     resultChannel,
				entryPath:   absEntryPath,
			})
		}
		return sourceIndex
	}

	maybeParseFile(absEntryPath)

	// Continue scanning until all dependencies have been discovered
	for remaining > 0 {
		result := <-resultChannel
		remaining--

		// Keep draining the channel after a failure but stop starting new work
		if firstErr != nil {
			continue
		}
		if result.err != nil {
			firstErr = result.err
			continue
		}

		file := &result.file
		for importRecordIndex, resolved := range result.resolveResults {
			record := &file.AST.ImportRecords[importRecordIndex]
			switch resolved.Kind {
			case resolver.SpecifierLocal:
				file.LocalDependencies = append(file.LocalDependencies, graph.LocalDependency{
					ImportRecordIndex: uint32(importRecordIndex),
					Method:            record.Kind.Method(),
					Specifier:         record.Path,
					TargetIndex:       maybeParseFile(resolved.AbsPath),
				})

			case resolver.SpecifierExternal:
				file.ExternalDependencies = append(file.ExternalDependencies, graph.ExternalDependency{
					ImportRecordIndex: uint32(importRecordIndex),
					Method:            record.Kind.Method(),
					Specifier:         record.Path,
					PackageName:       resolved.PackageName,
				})
			}
		}

		results[result.sourceIndex] = result
	}

	if firstErr != nil {
		return graph.Graph{}, firstErr
	}

	g := graph.Graph{Files: make([]graph.InputFile, len(results))}
	for i, result := range results {
		file := result.file
		file.Format = ClassifyFormat(file.Source.KeyPath, &file.AST)
		g.Files[i] = file
	}
	return g, nil
}

// Decides whether a file must be emitted as an ES module or as CommonJS. The
// extension decides when it's unambiguous. Otherwise any import or export
// statement, import attribute or use of "import.meta" makes it an ES module.
// A dynamic "import()" alone doesn't, since that also works in CommonJS.
func ClassifyFormat(path string, tree *js_ast.AST) config.Format {
	switch strings.ToLower(extOf(path)) {
	case ".mjs", ".mts":
		return config.FormatESModule
	case ".cjs", ".cts", ".json":
		return config.FormatCommonJS
	}
	if tree.HasESMSyntax || tree.HasImportMeta {
		return config.FormatESModule
	}
	return config.FormatCommonJS
}

func extOf(path string) string {
	if dot := strings.LastIndexByte(path, '.'); dot != -1 && strings.IndexAny(path[dot:], "/\\") == -1 {
		return path[dot:]
	}
	return ""
}
