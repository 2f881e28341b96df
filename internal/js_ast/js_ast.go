package js_ast

// The parser only extracts the parts of a module that the rest of the system
// needs to reason about: references to other modules, the syntax that decides
// the module format, and uses of the CommonJS and "import.meta" variables that
// have to be rewritten. Everything else is kept as source text. The AST is
// never mutated after parsing. Rewrites are expressed as a separate list of
// patches that the printer applies to the source text.

import (
	"github.com/tbjgolden/xnr-sub000/internal/ast"
	"github.com/tbjgolden/xnr-sub000/internal/logger"
)

type AST struct {
	ImportRecords []ast.ImportRecord

	// Import statements with bindings, for the interop shim. Each clause
	// points into "ImportRecords".
	ImportClauses []ImportClause

	MetaRefs []MetaRef

	// The argument ranges of calls to "createRequire()", excluding the parens
	CreateRequireArgs []logger.Range

	// Set by any import or export statement or import attribute. This does not
	// include dynamic "import()", which is also allowed in CommonJS.
	HasESMSyntax bool

	// Set by any use of "import.meta", including properties other than those
	// in "MetaRefs"
	HasImportMeta bool

	// References to the CommonJS module variables that aren't member accesses,
	// and top-level declarations of the same names
	UsesFreeNames     FreeName
	DeclaresFreeNames FreeName

	// Code injected at the top of the module must go here, after any hashbang
	// line and the directive prologue, to keep those working
	InjectionOffset int32
}

type FreeName uint8

const (
	NameRequire FreeName = 1 << iota
	NameDirname
	NameFilename
)

func (names FreeName) Has(name FreeName) bool {
	return (names & name) != 0
}

var FreeNameText = map[FreeName]string{
	NameRequire:  "require",
	NameDirname:  "__dirname",
	NameFilename: "__filename",
}

type ImportClause struct {
	ImportRecordIndex uint32

	// The whole statement from "import" up to and including the semicolon
	StmtRange logger.Range

	// "import def from"
	DefaultName string

	// "import * as ns from"
	NamespaceName string

	// "import { a, b as c, default as d } from"
	Items []ClauseItem
}

type ClauseItem struct {
	// The exported name, which may be any string when quoted
	Alias string

	// The local binding
	Name string
}

type MetaKind uint8

const (
	MetaURL MetaKind = iota
	MetaDirname
	MetaFilename
)

// A reference to "import.meta.url", "import.meta.dirname" or
// "import.meta.filename". The range covers the whole member expression.
type MetaRef struct {
	Kind  MetaKind
	Range logger.Range
}
