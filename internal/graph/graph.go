package graph

// The code in this file represents data that passes from the scan phase to
// the link phase. Files are stored in an array and refer to each other by
// index, so a module graph with cycles never needs shared ownership.

import (
	"github.com/tbjgolden/xnr-sub000/internal/ast"
	"github.com/tbjgolden/xnr-sub000/internal/config"
	"github.com/tbjgolden/xnr-sub000/internal/js_ast"
	"github.com/tbjgolden/xnr-sub000/internal/logger"
	"github.com/tbjgolden/xnr-sub000/internal/sourcemap"
)

// The entry point is always the first file
const EntryPointIndex uint32 = 0

type InputFile struct {
	// "KeyPath" is the real absolute path of the file. "Contents" is the code
	// after type stripping, which is what "AST" refers to.
	Source logger.Source
	Loader config.Loader
	AST    js_ast.AST

	// From "Contents" back to the file on disk, if the type stripper made one
	SourceMap []byte

	// Decided once after scanning. This is never "FormatPreserve" once the
	// graph has been built.
	Format config.Format

	LocalDependencies    []LocalDependency
	ExternalDependencies []ExternalDependency
}

type LocalDependency struct {
	ImportRecordIndex uint32
	Method            ast.Method
	Specifier         string

	// The index of the file this specifier resolved to
	TargetIndex uint32
}

type ExternalDependency struct {
	ImportRecordIndex uint32
	Method            ast.Method
	Specifier         string
	PackageName       string
}

type Graph struct {
	Files []InputFile
}

func (g *Graph) EntryPoint() *InputFile {
	return &g.Files[EntryPointIndex]
}

// Returns every file reachable from the entry point with dependencies before
// the files that import them. Back edges of cycles are skipped, so in a cycle
// the file reached first comes last.
func (g *Graph) PostOrder() []uint32 {
	order := make([]uint32, 0, len(g.Files))
	visited := make([]bool, len(g.Files))

	var visit func(sourceIndex uint32)
	visit = func(sourceIndex uint32) {
		if visited[sourceIndex] {
			return
		}
		visited[sourceIndex] = true
		for _, dep := range g.Files[sourceIndex].LocalDependencies {
			visit(dep.TargetIndex)
		}
		order = append(order, sourceIndex)
	}

	if len(g.Files) > 0 {
		visit(EntryPointIndex)
	}
	return order
}

type OutputFile struct {
	// Relative to the common root of the sources, which is also where it goes
	// relative to the output directory. This always uses forward slashes.
	OutputPath string

	AbsPath    string
	SourcePath string
	Contents   []byte

	// A position in "Contents" is moved back through "Shifts" to get a
	// position in the stripped code. "SourceMap" then leads from there to
	// "SourcePath". Either may be empty.
	Shifts    sourcemap.Shifts
	SourceMap []byte
}
