package ast

// This file contains the data structures shared by the parser, the graph
// scanner and the linker to describe references from one module to another.

import (
	"github.com/tbjgolden/xnr-sub000/internal/logger"
)

type ImportKind uint8

const (
	// An entry point provided by the user
	ImportEntryPoint ImportKind = iota

	// An ES6 import statement or a re-export statement with a source
	ImportStmt

	// A call to "require()"
	ImportRequire

	// An "import()" expression with a string argument
	ImportDynamic

	// A call to "require.main.require()". This resolves relative to the entry
	// point instead of the file containing the call.
	ImportRequireMain
)

func (kind ImportKind) String() string {
	switch kind {
	case ImportStmt:
		return "import-statement"
	case ImportRequire:
		return "require-call"
	case ImportDynamic:
		return "dynamic-import"
	case ImportRequireMain:
		return "require-main-call"
	case ImportEntryPoint:
		return "entry-point"
	default:
		panic("Internal error")
	}
}

type Method uint8

const (
	MethodImport Method = iota
	MethodRequire
)

// Resolution uses a different extension order for "require" than for
// "import". Calls through "require.main" are still calls to "require".
func (kind ImportKind) Method() Method {
	switch kind {
	case ImportRequire, ImportRequireMain:
		return MethodRequire
	default:
		return MethodImport
	}
}

type ImportRecordFlags uint8

const (
	// This is a re-export such as "export * from 'path'" rather than an import
	IsReExport ImportRecordFlags = 1 << iota

	// The specifier was written as a template literal without substitutions
	IsTemplateLiteral

	// This import statement has an "import x from" or "import {default as x}"
	ContainsDefaultAlias

	// This import statement has an "import * as ns from" clause
	ContainsImportStar
)

func (flags ImportRecordFlags) Has(flag ImportRecordFlags) bool {
	return (flags & flag) != 0
}

type ImportRecord struct {
	Kind ImportKind

	// The specifier exactly as it appears after decoding escapes
	Path string

	// The range of the string literal, including the quotes
	Range logger.Range

	// The range of the "with { ... }" or "assert { ... }" clause, including the
	// keyword, if there is one. This is empty for everything else.
	AttributesRange logger.Range

	Flags ImportRecordFlags
}
