package js_parser

// This parser finds module syntax in JavaScript that has already had its types
// stripped. It runs the lexer to completion and then pattern-matches on the
// token stream, so it never needs to understand expressions or statements in
// general. Anything that isn't recognized is skipped.

import (
	"github.com/tbjgolden/xnr-sub000/internal/ast"
	"github.com/tbjgolden/xnr-sub000/internal/js_ast"
	"github.com/tbjgolden/xnr-sub000/internal/js_lexer"
	"github.com/tbjgolden/xnr-sub000/internal/logger"
)

type token struct {
	t             js_lexer.T
	r             logger.Range
	newlineBefore bool

	// The name of an identifier or keyword, or the decoded value of a string
	// or template literal
	text string
}

type parser struct {
	source     logger.Source
	tokens     []token
	braceDepth int
	result     js_ast.AST

	// Local names of default and namespace imports of the "module" package,
	// and the index of every "createRequire(" identifier
	moduleBindings     map[string]bool
	createRequireCalls []int

	// Indices of identifier tokens that are bound by a top-level "var", "let"
	// or "const" statement, including destructuring patterns
	declared map[int]bool
}

func Parse(log logger.Log, source logger.Source) (result js_ast.AST, ok bool) {
	ok = true
	defer func() {
		r := recover()
		if _, isLexerPanic := r.(js_lexer.LexerPanic); isLexerPanic {
			ok = false
		} else if r != nil {
			panic(r)
		}
	}()

	p := &parser{
		source:         source,
		declared:       make(map[int]bool),
		moduleBindings: make(map[string]bool),
	}
	p.tokenize(log)
	p.parseDirectivePrologue()
	p.scan()
	p.parseCreateRequireCalls()
	p.dropMetaRefsInsideCreateRequire()
	result = p.result
	return
}

func (p *parser) tokenize(log logger.Log) {
	lexer := js_lexer.NewLexer(log, p.source)
	for {
		tok := token{t: lexer.Token, r: lexer.Range(), newlineBefore: lexer.HasNewlineBefore}
		switch {
		case lexer.Token == js_lexer.TStringLiteral || lexer.Token == js_lexer.TNoSubstitutionTemplateLiteral:
			tok.text = lexer.StringValue
		case lexer.Token.IsIdentifierOrKeyword():
			tok.text = lexer.Identifier
		}
		p.tokens = append(p.tokens, tok)
		if lexer.Token == js_lexer.TEndOfFile {
			break
		}
		lexer.Next()
	}
}

// Returns the token at index "i", or the end-of-file token past the end
func (p *parser) at(i int) token {
	if i < len(p.tokens) {
		return p.tokens[i]
	}
	return p.tokens[len(p.tokens)-1]
}

func (p *parser) isIdentifier(i int, text string) bool {
	tok := p.at(i)
	return tok.t == js_lexer.TIdentifier && tok.text == text
}

func (p *parser) isMemberAccess(i int) bool {
	if i == 0 {
		return false
	}
	prev := p.tokens[i-1].t
	return prev == js_lexer.TDot || prev == js_lexer.TQuestionDot
}

func (p *parser) isStaticString(i int) bool {
	t := p.at(i).t
	return t == js_lexer.TStringLiteral || t == js_lexer.TNoSubstitutionTemplateLiteral
}

// Returns the index of the token that closes the bracket at index "open", or
// the index of the end-of-file token if the bracket is never closed
func (p *parser) findClose(open int) int {
	openKind := p.tokens[open].t
	var closeKind js_lexer.T
	switch openKind {
	case js_lexer.TOpenParen:
		closeKind = js_lexer.TCloseParen
	case js_lexer.TOpenBrace:
		closeKind = js_lexer.TCloseBrace
	case js_lexer.TOpenBracket:
		closeKind = js_lexer.TCloseBracket
	default:
		panic("Internal error")
	}

	depth := 0
	for i := open; i < len(p.tokens); i++ {
		switch p.tokens[i].t {
		case openKind:
			depth++
		case closeKind:
			depth--
			if depth == 0 {
				return i
			}
		case js_lexer.TEndOfFile:
			return i
		}
	}
	return len(p.tokens) - 1
}

func (p *parser) parseDirectivePrologue() {
	i := 0
	offset := int32(0)

	if p.tokens[0].t == js_lexer.THashbang {
		// Injected code goes on the line after the hashbang
		offset = p.tokens[0].r.End()
		contents := p.source.Contents
		if int(offset) < len(contents) && contents[offset] == '\r' {
			offset++
		}
		if int(offset) < len(contents) && contents[offset] == '\n' {
			offset++
		}
		i++
	}

	for p.at(i).t == js_lexer.TStringLiteral {
		next := p.at(i + 1)
		if next.t == js_lexer.TSemicolon {
			offset = next.r.End()
			i += 2
			continue
		}

		// A directive can also end at a newline through automatic semicolon
		// insertion, but not if the expression continues on the next line
		if next.newlineBefore && (next.t == js_lexer.TEndOfFile || next.t == js_lexer.TStringLiteral || next.t.IsIdentifierOrKeyword()) {
			offset = p.tokens[i].r.End()
			i++
			continue
		}
		break
	}

	p.result.InjectionOffset = offset
}

func (p *parser) scan() {
	for i := 0; i < len(p.tokens); i++ {
		tok := p.tokens[i]

		switch tok.t {
		case js_lexer.TOpenBrace:
			p.braceDepth++

		case js_lexer.TCloseBrace:
			p.braceDepth--

		case js_lexer.TVar, js_lexer.TConst:
			if p.braceDepth == 0 && !p.isMemberAccess(i) {
				p.markDeclarations(i)
			}

		case js_lexer.TImport:
			if !p.isMemberAccess(i) && p.at(i+1).t != js_lexer.TColon {
				i = p.parseImport(i)
			}

		case js_lexer.TExport:
			if !p.isMemberAccess(i) && p.at(i+1).t != js_lexer.TColon {
				p.result.HasESMSyntax = true
				i = p.parseExport(i)
			}

		case js_lexer.TIdentifier:
			if p.isMemberAccess(i) {
				continue
			}
			switch tok.text {
			case "let":
				if next := p.at(i + 1).t; p.braceDepth == 0 &&
					(next == js_lexer.TIdentifier || next == js_lexer.TOpenBrace || next == js_lexer.TOpenBracket) {
					p.markDeclarations(i)
				}
			case "require":
				p.recordFreeName(i, js_ast.NameRequire)
				p.parseRequire(i)
			case "__dirname":
				p.recordFreeName(i, js_ast.NameDirname)
			case "__filename":
				p.recordFreeName(i, js_ast.NameFilename)
			}
		}

		if tok.t == js_lexer.TIdentifier && tok.text == "createRequire" && p.at(i+1).t == js_lexer.TOpenParen {
			p.createRequireCalls = append(p.createRequireCalls, i)
		}
	}
}

// Only calls to "createRequire" from the "module" package have their argument
// replaced: either a bare call or a member of a default or namespace import
// of that package. This runs after "scan" since imports are hoisted.
func (p *parser) parseCreateRequireCalls() {
	for _, i := range p.createRequireCalls {
		if i > 0 {
			switch prev := p.tokens[i-1].t; {
			case prev == js_lexer.TFunction:
				continue
			case prev == js_lexer.TDot || prev == js_lexer.TQuestionDot:
				if i < 2 {
					continue
				}
				receiver := p.tokens[i-2]
				if receiver.t != js_lexer.TIdentifier || p.isMemberAccess(i-2) || !p.moduleBindings[receiver.text] {
					continue
				}
			}
		}

		open := i + 1
		close := p.findClose(open)
		if close > open+1 {
			start := p.tokens[open].r.End()
			p.result.CreateRequireArgs = append(p.result.CreateRequireArgs, logger.Range{
				Loc: logger.Loc{Start: start},
				Len: p.tokens[close].r.Loc.Start - start,
			})
		}
	}
}

func (p *parser) recordFreeName(i int, name js_ast.FreeName) {
	if p.declared[i] {
		p.result.DeclaresFreeNames |= name
		return
	}
	if i > 0 && p.braceDepth == 0 {
		prev := p.tokens[i-1]
		switch prev.t {
		case js_lexer.TVar, js_lexer.TConst, js_lexer.TFunction, js_lexer.TClass:
			p.result.DeclaresFreeNames |= name
			return
		case js_lexer.TIdentifier:
			if prev.text == "let" {
				p.result.DeclaresFreeNames |= name
				return
			}
		}
	}
	p.result.UsesFreeNames |= name
}

// Marks the names bound by the declaration list after the "var", "let" or
// "const" keyword at index "i"
func (p *parser) markDeclarations(i int) {
	i++
	for {
		switch p.at(i).t {
		case js_lexer.TIdentifier:
			p.declared[i] = true
			i++

		case js_lexer.TOpenBrace, js_lexer.TOpenBracket:
			close := p.findClose(i)
			p.markPattern(i+1, close)
			i = close + 1

		default:
			return
		}

		if p.at(i).t == js_lexer.TEquals {
			i = p.skipInitializer(i + 1)
		}
		if p.at(i).t != js_lexer.TComma {
			return
		}
		i++
	}
}

// Marks the names bound by the destructuring pattern between "start" and
// "end". Property keys and default values are not bindings.
func (p *parser) markPattern(start int, end int) {
	for i := start; i < end; i++ {
		switch p.tokens[i].t {
		case js_lexer.TIdentifier:
			if p.at(i+1).t != js_lexer.TColon {
				p.declared[i] = true
			}

		case js_lexer.TOpenBracket:
			// "{ [key]: name }"
			if close := p.findClose(i); p.at(close+1).t == js_lexer.TColon {
				i = close
			}

		case js_lexer.TEquals:
			i = p.skipInitializer(i+1) - 1
		}
	}
}

// Returns the index of the token after the initializer starting at index
// "start", which is a "," if another declarator follows
func (p *parser) skipInitializer(start int) int {
	for i := start; i < len(p.tokens); i++ {
		tok := p.tokens[i]
		switch tok.t {
		case js_lexer.TOpenParen, js_lexer.TOpenBrace, js_lexer.TOpenBracket:
			i = p.findClose(i)

		case js_lexer.TComma, js_lexer.TSemicolon, js_lexer.TEndOfFile,
			js_lexer.TCloseParen, js_lexer.TCloseBrace, js_lexer.TCloseBracket:
			return i

		default:
			// Automatic semicolon insertion
			if i > start && tok.newlineBefore && p.tokens[i-1].t.EndsExpression() && startsStatement(tok) {
				return i
			}
		}
	}
	return len(p.tokens) - 1
}

func startsStatement(tok token) bool {
	switch tok.t {
	case js_lexer.TVar, js_lexer.TConst, js_lexer.TIf, js_lexer.TFor, js_lexer.TWhile, js_lexer.TDo,
		js_lexer.TReturn, js_lexer.TThrow, js_lexer.TTry, js_lexer.TSwitch, js_lexer.TFunction,
		js_lexer.TClass, js_lexer.TImport, js_lexer.TExport, js_lexer.TBreak, js_lexer.TContinue,
		js_lexer.TDebugger, js_lexer.TWith:
		return true
	case js_lexer.TIdentifier:
		return tok.text == "let"
	}
	return false
}

func (p *parser) addImportRecord(kind ast.ImportKind, source int, flags ast.ImportRecordFlags) uint32 {
	tok := p.tokens[source]
	if tok.t == js_lexer.TNoSubstitutionTemplateLiteral {
		flags |= ast.IsTemplateLiteral
	}
	index := uint32(len(p.result.ImportRecords))
	p.result.ImportRecords = append(p.result.ImportRecords, ast.ImportRecord{
		Kind:  kind,
		Path:  tok.text,
		Range: tok.r,
		Flags: flags,
	})
	return index
}

// Parses "with { ... }" or "assert { ... }" after the source of an import or
// re-export. Returns the index of the first token after the clause.
func (p *parser) parseImportAttributes(i int, record uint32) int {
	tok := p.at(i)
	isKeyword := tok.t == js_lexer.TWith || (tok.t == js_lexer.TIdentifier && tok.text == "assert" && !tok.newlineBefore)
	if !isKeyword || p.at(i+1).t != js_lexer.TOpenBrace {
		return i
	}
	close := p.findClose(i + 1)
	start := tok.r.Loc.Start
	p.result.ImportRecords[record].AttributesRange = logger.Range{
		Loc: logger.Loc{Start: start},
		Len: p.tokens[close].r.End() - start,
	}
	p.result.HasESMSyntax = true
	return close + 1
}

// Returns the index of the last token that was consumed
func (p *parser) parseImport(i int) int {
	next := p.at(i + 1)

	switch next.t {
	case js_lexer.TDot:
		// "import.meta"
		if !p.isIdentifier(i+2, "meta") {
			return i
		}
		p.result.HasImportMeta = true
		if p.at(i+3).t == js_lexer.TDot {
			prop := p.at(i + 4)
			kind, ok := js_ast.MetaURL, true
			switch {
			case prop.t != js_lexer.TIdentifier:
				ok = false
			case prop.text == "url":
				kind = js_ast.MetaURL
			case prop.text == "dirname":
				kind = js_ast.MetaDirname
			case prop.text == "filename":
				kind = js_ast.MetaFilename
			default:
				ok = false
			}
			if ok {
				start := p.tokens[i].r.Loc.Start
				p.result.MetaRefs = append(p.result.MetaRefs, js_ast.MetaRef{
					Kind:  kind,
					Range: logger.Range{Loc: logger.Loc{Start: start}, Len: prop.r.End() - start},
				})
				return i + 4
			}
		}
		return i + 2

	case js_lexer.TOpenParen:
		// "import('path')"
		if !p.isStaticString(i + 2) {
			return i
		}
		switch p.at(i + 3).t {
		case js_lexer.TCloseParen:
			p.addImportRecord(ast.ImportDynamic, i+2, 0)
			return i + 3

		case js_lexer.TComma:
			// "import('path', { with: { type: 'json' } })"
			record := p.addImportRecord(ast.ImportDynamic, i+2, 0)
			close := p.findClose(i + 1)
			start := p.tokens[i+3].r.Loc.Start
			p.result.ImportRecords[record].AttributesRange = logger.Range{
				Loc: logger.Loc{Start: start},
				Len: p.tokens[close].r.Loc.Start - start,
			}
			return i + 3
		}
		return i
	}

	return p.parseImportStatement(i)
}

func (p *parser) parseImportStatement(start int) int {
	clause := js_ast.ImportClause{}
	var flags ast.ImportRecordFlags
	i := start + 1

	if p.at(i).t != js_lexer.TStringLiteral {
		// "import def from" or "import def, ..."
		if tok := p.at(i); tok.t == js_lexer.TIdentifier {
			clause.DefaultName = tok.text
			flags |= ast.ContainsDefaultAlias
			i++
			if p.at(i).t == js_lexer.TComma {
				i++
			}
		}

		switch p.at(i).t {
		case js_lexer.TAsterisk:
			// "import * as ns from"
			if !p.isIdentifier(i+1, "as") || p.at(i+2).t != js_lexer.TIdentifier {
				return start
			}
			clause.NamespaceName = p.at(i + 2).text
			flags |= ast.ContainsImportStar
			i += 3

		case js_lexer.TOpenBrace:
			// "import { a, b as c, 'd' as e } from"
			i++
			for p.at(i).t != js_lexer.TCloseBrace {
				alias := p.at(i)
				if !alias.t.IsIdentifierOrKeyword() && alias.t != js_lexer.TStringLiteral {
					return start
				}
				item := js_ast.ClauseItem{Alias: alias.text, Name: alias.text}
				i++
				if p.isIdentifier(i, "as") {
					item.Name = p.at(i + 1).text
					i += 2
				}
				if item.Alias == "default" {
					flags |= ast.ContainsDefaultAlias
				}
				clause.Items = append(clause.Items, item)
				if p.at(i).t == js_lexer.TComma {
					i++
				} else if p.at(i).t != js_lexer.TCloseBrace {
					return start
				}
			}
			i++
		}

		if !p.isIdentifier(i, "from") {
			return start
		}
		i++
	}

	if p.at(i).t != js_lexer.TStringLiteral {
		return start
	}
	p.result.HasESMSyntax = true
	record := p.addImportRecord(ast.ImportStmt, i, flags)
	if path := p.tokens[i].text; path == "module" || path == "node:module" {
		for _, name := range []string{clause.DefaultName, clause.NamespaceName} {
			if name != "" {
				p.moduleBindings[name] = true
			}
		}
	}
	for _, name := range []string{clause.DefaultName, clause.NamespaceName} {
		p.recordImportBinding(name)
	}
	for _, item := range clause.Items {
		p.recordImportBinding(item.Name)
	}

	i = p.parseImportAttributes(i+1, record)
	end := p.tokens[i-1].r.End()
	if p.at(i).t == js_lexer.TSemicolon {
		end = p.tokens[i].r.End()
	} else {
		i--
	}

	if clause.DefaultName != "" || clause.NamespaceName != "" || len(clause.Items) > 0 {
		stmtStart := p.tokens[start].r.Loc.Start
		clause.ImportRecordIndex = record
		clause.StmtRange = logger.Range{Loc: logger.Loc{Start: stmtStart}, Len: end - stmtStart}
		p.result.ImportClauses = append(p.result.ImportClauses, clause)
	}
	return i
}

func (p *parser) recordImportBinding(name string) {
	for flag, text := range js_ast.FreeNameText {
		if name == text {
			p.result.DeclaresFreeNames |= flag
		}
	}
}

// Returns the index of the last token that was consumed
func (p *parser) parseExport(start int) int {
	i := start + 1

	switch p.at(i).t {
	case js_lexer.TAsterisk:
		// "export * from 'path'" or "export * as ns from 'path'"
		i++
		if p.isIdentifier(i, "as") {
			i += 2
		}

	case js_lexer.TOpenBrace:
		// "export { a, b as c } from 'path'"
		i = p.findClose(i) + 1

	default:
		return start
	}

	if !p.isIdentifier(i, "from") || p.at(i+1).t != js_lexer.TStringLiteral {
		return i - 1
	}
	record := p.addImportRecord(ast.ImportStmt, i+1, ast.IsReExport)
	return p.parseImportAttributes(i+2, record) - 1
}

// Handles "require('path')" and "require.main.require('path')"
func (p *parser) parseRequire(i int) {
	if i > 0 && p.tokens[i-1].t == js_lexer.TFunction {
		return
	}

	if p.at(i+1).t == js_lexer.TOpenParen && p.isStaticString(i+2) && p.at(i+3).t == js_lexer.TCloseParen {
		p.addImportRecord(ast.ImportRequire, i+2, 0)
		return
	}

	if p.at(i+1).t == js_lexer.TDot && p.isIdentifier(i+2, "main") &&
		p.at(i+3).t == js_lexer.TDot && p.isIdentifier(i+4, "require") &&
		p.at(i+5).t == js_lexer.TOpenParen && p.isStaticString(i+6) && p.at(i+7).t == js_lexer.TCloseParen {
		p.addImportRecord(ast.ImportRequireMain, i+6, 0)
	}
}

// The arguments of "createRequire()" are replaced wholesale, so they can't
// also be patched individually
func (p *parser) dropMetaRefsInsideCreateRequire() {
	if len(p.result.CreateRequireArgs) == 0 {
		return
	}
	refs := p.result.MetaRefs[:0]
	for _, ref := range p.result.MetaRefs {
		inside := false
		for _, arg := range p.result.CreateRequireArgs {
			if ref.Range.Loc.Start >= arg.Loc.Start && ref.Range.End() <= arg.End() {
				inside = true
				break
			}
		}
		if !inside {
			refs = append(refs, ref)
		}
	}
	p.result.MetaRefs = refs
}
