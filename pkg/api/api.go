// This package is the public interface to xnr. Build writes the rewritten
// module graph of an entry point to an output directory, Run builds and then
// executes the result with node, and Transform strips the types of a single
// piece of code.
package api

import (
	"io"

	"github.com/tbjgolden/xnr-sub000/internal/xnr_errors"
)

type StderrColor uint8

const (
	ColorIfTerminal StderrColor = iota
	ColorNever
	ColorAlways
)

type LogLevel uint8

const (
	LogLevelSilent LogLevel = iota
	LogLevelInfo
	LogLevelWarning
	LogLevelError
)

type Location struct {
	File     string
	Line     int // 1-based
	Column   int // 0-based, in bytes
	Length   int // in bytes
	LineText string
}

type Message struct {
	Text     string
	Location *Location
}

// Every error returned by this package is one of these
type (
	CouldNotResolveError = xnr_errors.CouldNotResolveError
	TransformError       = xnr_errors.TransformError
	Error                = xnr_errors.Error
	InternalError        = xnr_errors.InternalError
)

////////////////////////////////////////////////////////////////////////////////
// Build API

type BuildOptions struct {
	Color    StderrColor
	LogLevel LogLevel

	// Relative paths are relative to this directory. The current working
	// directory is used when this is empty.
	AbsWorkingDir string

	EntryPoint string
	Outdir     string

	// The maximum number of output files written at the same time. Zero
	// means no limit.
	WriteConcurrency int
}

type BuildResult struct {
	Errors   []Message
	Warnings []Message

	// The deepest directory containing every file reachable from the entry
	// point. The output directory mirrors the tree below it.
	CommonRoot string
	Outdir     string

	EntryOutputPath string

	// Dependencies come before the files that import them
	OutputFiles []OutputFile
}

type OutputFile struct {
	Path       string
	SourcePath string
	Contents   []byte
}

func Build(options BuildOptions) (BuildResult, error) {
	return buildImpl(options)
}

////////////////////////////////////////////////////////////////////////////////
// Run API

type RunOptions struct {
	Color    StderrColor
	LogLevel LogLevel

	AbsWorkingDir string

	EntryPoint string

	// Passed to the program after the entry point
	Args []string

	// Passed to node before the entry point
	NodeArgs []string

	// Defaults to the "XNR_NODE" environment variable, then to "node"
	NodePath string

	// The output is written here and deleted after the program exits. By
	// default this is a new directory inside the common root of the sources so
	// that packages resolve from the same "node_modules" directories.
	Outdir string

	// These default to the streams of the current process
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Returns the exit code of the program. If the program couldn't be built or
// started, the exit code is 1 and the error says why.
func Run(options RunOptions) (int, error) {
	return runImpl(options)
}

////////////////////////////////////////////////////////////////////////////////
// Transform API

type TransformOptions struct {
	// Only used to pick the loader and for error messages. Code without a
	// file name is treated as TypeScript.
	Sourcefile string
}

func Transform(code string, options TransformOptions) (string, error) {
	return transformImpl(code, options)
}
