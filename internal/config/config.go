package config

import "strings"

type Loader int

const (
	LoaderNone Loader = iota
	LoaderJS
	LoaderJSX
	LoaderTS
	LoaderTSX
	LoaderJSON
)

func (loader Loader) IsTypeScript() bool {
	return loader == LoaderTS || loader == LoaderTSX
}

// Source extensions that can appear in the module graph. JSON is included
// since a JSON file imported by a source file is emitted as a CommonJS module.
var DefaultExtensionToLoader = map[string]Loader{
	".js":   LoaderJSX,
	".mjs":  LoaderJSX,
	".cjs":  LoaderJSX,
	".jsx":  LoaderJSX,
	".ts":   LoaderTS,
	".mts":  LoaderTS,
	".cts":  LoaderTS,
	".tsx":  LoaderTSX,
	".json": LoaderJSON,
}

func LoaderFromExt(ext string) Loader {
	return DefaultExtensionToLoader[strings.ToLower(ext)]
}

type Format uint8

const (
	// This is used when a file hasn't been classified yet, and by the type
	// stripper when the module syntax should be kept exactly as written
	FormatPreserve Format = iota

	// The CommonJS format looks like this:
	//
	//   const a = require("./a.cjs");
	//   module.exports = { a };
	//
	FormatCommonJS

	// The ES module format looks like this:
	//
	//   import a from "./a.mjs";
	//   export { a };
	//
	FormatESModule
)

func (f Format) String() string {
	switch f {
	case FormatCommonJS:
		return "cjs"
	case FormatESModule:
		return "esm"
	default:
		return "preserve"
	}
}

// The file extension used for output files in this format
func (f Format) OutputExtension() string {
	switch f {
	case FormatCommonJS:
		return ".cjs"
	case FormatESModule:
		return ".mjs"
	default:
		panic("Internal error")
	}
}

type Options struct {
	AbsEntryPath string

	// Generated files are written here, mirroring the source tree below the
	// common root of every reachable file. When this is empty the directory
	// is chosen after the graph has been built (see "OutputDirInsideRoot").
	AbsOutputDir string

	// Place the output directory inside the common root under this name. Used
	// by "run" so that packages resolve from the same "node_modules" folders
	// as the original sources.
	OutputDirInsideRoot string

	// The maximum number of files written concurrently. Zero means no limit.
	WriteConcurrency int
}
