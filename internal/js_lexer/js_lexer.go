package js_lexer

// The lexer converts the output of the type stripper to a stream of tokens.
// Only module syntax is extracted from the tokens, so the lexer doesn't need
// feedback from a full expression parser. The two context-sensitive tokens are
// handled here instead:
//
//   - A "/" starts a regular expression unless the previous token ends an
//     expression. A ")" that closes the head of "if", "while", "for" or
//     "with" doesn't end an expression, so open parens are kept on a stack.
//     If a regular expression can't be terminated on the same line, the "/"
//     is treated as division after all.
//   - A "}" continues a template literal when it closes a "${" substitution.
//     The lexer tracks brace depth for every open substitution to tell.

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tbjgolden/xnr-sub000/internal/logger"
)

type T uint8

const (
	TEndOfFile T = iota
	TSyntaxError

	// "#!/usr/bin/env node"
	THashbang

	// Literals
	TNoSubstitutionTemplateLiteral // Contents are in lexer.StringValue
	TNumericLiteral
	TStringLiteral // Contents are in lexer.StringValue
	TBigIntegerLiteral
	TRegExp

	// Pseudo-literals
	TTemplateHead
	TTemplateMiddle
	TTemplateTail

	// Punctuation that module syntax cares about
	TCloseBrace
	TCloseBracket
	TCloseParen
	TColon
	TComma
	TDot
	TDotDotDot
	TEquals
	TAsterisk
	TMinusMinus
	TOpenBrace
	TOpenBracket
	TOpenParen
	TPlusPlus
	TQuestionDot
	TSemicolon
	TSlash

	// Every other operator
	TPunctuator

	// Class-private fields and methods
	TPrivateIdentifier

	// Identifiers
	TIdentifier // Contents are in lexer.Identifier
	TEscapedKeyword

	// Reserved words
	TBreak
	TCase
	TCatch
	TClass
	TConst
	TContinue
	TDebugger
	TDefault
	TDelete
	TDo
	TElse
	TEnum
	TExport
	TExtends
	TFalse
	TFinally
	TFor
	TFunction
	TIf
	TImport
	TIn
	TInstanceof
	TNew
	TNull
	TReturn
	TSuper
	TSwitch
	TThis
	TThrow
	TTrue
	TTry
	TTypeof
	TVar
	TVoid
	TWhile
	TWith
)

var Keywords = map[string]T{
	"break":      TBreak,
	"case":       TCase,
	"catch":      TCatch,
	"class":      TClass,
	"const":      TConst,
	"continue":   TContinue,
	"debugger":   TDebugger,
	"default":    TDefault,
	"delete":     TDelete,
	"do":         TDo,
	"else":       TElse,
	"enum":       TEnum,
	"export":     TExport,
	"extends":    TExtends,
	"false":      TFalse,
	"finally":    TFinally,
	"for":        TFor,
	"function":   TFunction,
	"if":         TIf,
	"import":     TImport,
	"in":         TIn,
	"instanceof": TInstanceof,
	"new":        TNew,
	"null":       TNull,
	"return":     TReturn,
	"super":      TSuper,
	"switch":     TSwitch,
	"this":       TThis,
	"throw":      TThrow,
	"true":       TTrue,
	"try":        TTry,
	"typeof":     TTypeof,
	"var":        TVar,
	"void":       TVoid,
	"while":      TWhile,
	"with":       TWith,
}

func (t T) IsIdentifierOrKeyword() bool {
	return t >= TIdentifier
}

// Reports whether a "/" after this token is a division operator rather than
// the start of a regular expression. Keywords that are values end an
// expression. All other keywords expect an expression to follow.
func (t T) EndsExpression() bool {
	switch t {
	case TIdentifier, TEscapedKeyword, TPrivateIdentifier,
		TNumericLiteral, TBigIntegerLiteral, TStringLiteral, TRegExp,
		TNoSubstitutionTemplateLiteral, TTemplateTail,
		TCloseParen, TCloseBracket, TPlusPlus, TMinusMinus,
		TThis, TSuper, TNull, TTrue, TFalse:
		return true
	}
	return false
}

type LexerPanic struct{}

type Lexer struct {
	log              logger.Log
	source           logger.Source
	current          int
	start            int
	end              int
	codePoint        rune
	Token            T
	HasNewlineBefore bool
	Identifier       string
	StringValue      string

	// The token before the current one, ignoring comments and whitespace
	prevToken T

	// The two tokens before "prevToken", for "for await ("
	prevPrevToken   T
	prevIdentifier  string
	prevIsStmtClose bool

	// One entry per open "(", true if it starts a statement head such as
	// "if (". Set on the current token when it is a ")" closing one of those.
	parenStack      []bool
	closesStmtHead  bool

	// Brace depth at which each open "${" substitution was started
	braceDepth     int
	templateDepths []int
}

func NewLexer(log logger.Log, source logger.Source) Lexer {
	lexer := Lexer{
		log:       log,
		source:    source,
		prevToken: TSemicolon,
	}
	lexer.step()
	lexer.Next()
	return lexer
}

func (lexer *Lexer) Loc() logger.Loc {
	return logger.Loc{Start: int32(lexer.start)}
}

func (lexer *Lexer) Range() logger.Range {
	return logger.Range{Loc: logger.Loc{Start: int32(lexer.start)}, Len: int32(lexer.end - lexer.start)}
}

func (lexer *Lexer) Raw() string {
	return lexer.source.Contents[lexer.start:lexer.end]
}

func (lexer *Lexer) SyntaxError() {
	loc := logger.Loc{Start: int32(lexer.end)}
	message := "Unexpected end of file"
	if lexer.end < len(lexer.source.Contents) {
		c, _ := utf8.DecodeRuneInString(lexer.source.Contents[lexer.end:])
		if c < 0x20 {
			message = fmt.Sprintf("Syntax error \"\\x%02X\"", c)
		} else if c >= 0x80 {
			message = fmt.Sprintf("Syntax error \"\\u{%x}\"", c)
		} else if c != '"' {
			message = fmt.Sprintf("Syntax error \"%c\"", c)
		} else {
			message = "Syntax error '\"'"
		}
	}
	lexer.addError(logger.Range{Loc: loc}, message)
	panic(LexerPanic{})
}

func (lexer *Lexer) Next() {
	lexer.prevIsStmtClose = lexer.Token == TCloseParen && lexer.closesStmtHead
	lexer.closesStmtHead = false
	lexer.prevPrevToken = lexer.prevToken
	if lexer.Token == TIdentifier {
		lexer.prevIdentifier = lexer.Identifier
	}
	switch {
	case lexer.Token == THashbang:
	case lexer.Token.IsIdentifierOrKeyword() && (lexer.prevToken == TDot || lexer.prevToken == TQuestionDot):
		// Keywords are property names after a "."
		lexer.prevToken = TIdentifier
	default:
		lexer.prevToken = lexer.Token
	}
	lexer.HasNewlineBefore = lexer.end == 0

	for {
		lexer.start = lexer.end
		lexer.Token = 0

		switch lexer.codePoint {
		case -1: // This indicates the end of the file
			lexer.Token = TEndOfFile

		case '#':
			if lexer.start == 0 && strings.HasPrefix(lexer.source.Contents, "#!") {
				// "#!/usr/bin/env node"
				lexer.Token = THashbang
				lexer.skipToEndOfLine()
				lexer.Identifier = lexer.Raw()
			} else {
				// "#foo"
				lexer.step()
				if !IsIdentifierStart(lexer.codePoint) && lexer.codePoint != '\\' {
					lexer.SyntaxError()
				}
				lexer.scanIdentifierTail()
				lexer.Identifier = lexer.Raw()
				lexer.Token = TPrivateIdentifier
			}

		case '\r', '\n', '\u2028', '\u2029':
			lexer.step()
			lexer.HasNewlineBefore = true
			continue

		case '\t', ' ':
			lexer.step()
			continue

		case '(':
			lexer.step()
			lexer.parenStack = append(lexer.parenStack, lexer.opensStmtHead())
			lexer.Token = TOpenParen

		case ')':
			lexer.step()
			if n := len(lexer.parenStack); n > 0 {
				lexer.closesStmtHead = lexer.parenStack[n-1]
				lexer.parenStack = lexer.parenStack[:n-1]
			}
			lexer.Token = TCloseParen

		case '[':
			lexer.step()
			lexer.Token = TOpenBracket

		case ']':
			lexer.step()
			lexer.Token = TCloseBracket

		case '{':
			lexer.step()
			lexer.braceDepth++
			lexer.Token = TOpenBrace

		case '}':
			if n := len(lexer.templateDepths); n > 0 && lexer.templateDepths[n-1] == lexer.braceDepth {
				// "}x${" or "}x`"
				lexer.templateDepths = lexer.templateDepths[:n-1]
				lexer.step()
				lexer.scanTemplateChunk(TTemplateMiddle, TTemplateTail)
				break
			}
			lexer.step()
			lexer.braceDepth--
			lexer.Token = TCloseBrace

		case ',':
			lexer.step()
			lexer.Token = TComma

		case ':':
			lexer.step()
			lexer.Token = TColon

		case ';':
			lexer.step()
			lexer.Token = TSemicolon

		case '?':
			// '?' or '?.' or '??' or '??='
			lexer.step()
			lexer.Token = TPunctuator
			if lexer.codePoint == '.' {
				// Lookahead to disambiguate with 'a?.1:b'
				if next := lexer.peek(); next < '0' || next > '9' {
					lexer.step()
					lexer.Token = TQuestionDot
				}
			} else {
				lexer.stepWhile("?=")
			}

		case '=':
			// '=' or '=>' or '==' or '==='
			lexer.step()
			lexer.Token = TEquals
			if lexer.codePoint == '>' {
				lexer.step()
				lexer.Token = TPunctuator
			} else if lexer.codePoint == '=' {
				lexer.stepWhile("=")
				lexer.Token = TPunctuator
			}

		case '*':
			// '*' or '*=' or '**' or '**='
			lexer.step()
			lexer.Token = TAsterisk
			if lexer.codePoint == '*' || lexer.codePoint == '=' {
				lexer.stepWhile("*=")
				lexer.Token = TPunctuator
			}

		case '+', '-':
			// '+' or '+=' or '++', and the same for '-'
			first := lexer.codePoint
			lexer.step()
			switch lexer.codePoint {
			case first:
				lexer.step()
				if first == '+' {
					lexer.Token = TPlusPlus
				} else {
					lexer.Token = TMinusMinus
				}
			case '=':
				lexer.step()
				lexer.Token = TPunctuator
			default:
				lexer.Token = TPunctuator
			}

		case '%', '&', '|', '^', '!', '~', '<', '>', '@':
			// All other operators are only ever skipped over
			lexer.step()
			lexer.stepWhile("&|<>=")
			lexer.Token = TPunctuator

		case '/':
			// '/' or '/=' or '//' or '/* ... */' or a regular expression
			lexer.step()
			switch lexer.codePoint {
			case '/':
				lexer.skipToEndOfLine()
				continue

			case '*':
				lexer.step()
			multiLineComment:
				for {
					switch lexer.codePoint {
					case '*':
						lexer.step()
						if lexer.codePoint == '/' {
							lexer.step()
							break multiLineComment
						}

					case '\r', '\n', '\u2028', '\u2029':
						lexer.step()
						lexer.HasNewlineBefore = true

					case -1: // This indicates the end of the file
						lexer.start = lexer.end
						lexer.addError(logger.Range{Loc: lexer.Loc()}, "Expected \"*/\" to terminate multi-line comment")
						panic(LexerPanic{})

					default:
						lexer.step()
					}
				}
				continue

			default:
				if !lexer.prevEndsExpression() && lexer.scanRegExp() {
					lexer.Token = TRegExp
					break
				}
				if lexer.codePoint == '=' {
					lexer.step()
				}
				lexer.Token = TSlash
			}

		case '\'', '"':
			lexer.scanString()

		case '`':
			lexer.step()
			lexer.scanTemplateChunk(TTemplateHead, TNoSubstitutionTemplateLiteral)

		case '.', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
			lexer.parseNumericLiteralOrDot()

		default:
			// Check for unusual whitespace characters
			if IsWhitespace(lexer.codePoint) {
				lexer.step()
				continue
			}

			if IsIdentifierStart(lexer.codePoint) || lexer.codePoint == '\\' {
				hasEscapes := lexer.scanIdentifierTail()
				lexer.Identifier = lexer.Raw()
				lexer.Token = TIdentifier
				if keyword, ok := Keywords[lexer.Identifier]; ok {
					lexer.Token = keyword
				} else if hasEscapes {
					lexer.Identifier = decodeIdentifierEscapes(lexer.Identifier)
					if _, ok := Keywords[lexer.Identifier]; ok {
						lexer.Token = TEscapedKeyword
					}
				}
				break
			}

			lexer.Token = TSyntaxError
			lexer.SyntaxError()
		}

		return
	}
}

func (lexer *Lexer) prevEndsExpression() bool {
	if lexer.prevToken == TCloseParen && lexer.prevIsStmtClose {
		return false
	}
	return lexer.prevToken.EndsExpression()
}

// Called for a "(" once "prevToken" holds the token before it
func (lexer *Lexer) opensStmtHead() bool {
	switch lexer.prevToken {
	case TIf, TWhile, TFor, TWith:
		return true
	case TIdentifier:
		// "for await ("
		return lexer.prevPrevToken == TFor && lexer.prevIdentifier == "await"
	}
	return false
}

func (lexer *Lexer) peek() byte {
	if lexer.current < len(lexer.source.Contents) {
		return lexer.source.Contents[lexer.current]
	}
	return 0
}

func (lexer *Lexer) stepWhile(chars string) {
	for lexer.codePoint >= 0 && lexer.codePoint < 0x80 && strings.IndexByte(chars, byte(lexer.codePoint)) != -1 {
		lexer.step()
	}
}

func (lexer *Lexer) skipToEndOfLine() {
	for {
		switch lexer.codePoint {
		case '\r', '\n', '\u2028', '\u2029', -1:
			return
		}
		lexer.step()
	}
}

// Returns true if the identifier contained unicode escape sequences
func (lexer *Lexer) scanIdentifierTail() (hasEscapes bool) {
	for {
		if lexer.codePoint == '\\' {
			hasEscapes = true
			lexer.step()
			if lexer.codePoint != 'u' {
				lexer.SyntaxError()
			}
			lexer.step()
			if lexer.codePoint == '{' {
				for lexer.codePoint != '}' {
					if lexer.codePoint == -1 {
						lexer.SyntaxError()
					}
					lexer.step()
				}
				lexer.step()
			} else {
				for i := 0; i < 4; i++ {
					if !isHexDigit(lexer.codePoint) {
						lexer.SyntaxError()
					}
					lexer.step()
				}
			}
			continue
		}
		if lexer.end > lexer.start && !IsIdentifierContinue(lexer.codePoint) {
			return
		}
		lexer.step()
	}
}

func (lexer *Lexer) scanString() {
	quote := lexer.codePoint
	needsSlowPath := false
	lexer.Token = TStringLiteral
	lexer.step()

	for {
		switch lexer.codePoint {
		case '\\':
			needsSlowPath = true
			lexer.step()

			// Handle Windows CRLF
			if lexer.codePoint == '\r' {
				lexer.step()
				if lexer.codePoint == '\n' {
					lexer.step()
				}
				continue
			}

		case -1: // This indicates the end of the file
			lexer.SyntaxError()

		case '\r', '\n':
			lexer.addError(logger.Range{Loc: logger.Loc{Start: int32(lexer.end)}}, "Unterminated string literal")
			panic(LexerPanic{})

		case quote:
			lexer.step()
			text := lexer.source.Contents[lexer.start+1 : lexer.end-1]
			if needsSlowPath {
				lexer.StringValue = decodeEscapeSequences(text)
			} else {
				lexer.StringValue = text
			}
			return
		}
		lexer.step()
	}
}

// The opening "`" or "}" has already been consumed
func (lexer *Lexer) scanTemplateChunk(withSubstitution T, withoutSubstitution T) {
	contentStart := lexer.end

	for {
		switch lexer.codePoint {
		case '\\':
			lexer.step()

		case -1: // This indicates the end of the file
			lexer.SyntaxError()

		case '$':
			lexer.step()
			if lexer.codePoint == '{' {
				lexer.StringValue = decodeEscapeSequences(lexer.source.Contents[contentStart:lexer.end-1])
				lexer.step()
				lexer.templateDepths = append(lexer.templateDepths, lexer.braceDepth)
				lexer.Token = withSubstitution
				return
			}
			continue

		case '`':
			lexer.StringValue = decodeEscapeSequences(lexer.source.Contents[contentStart:lexer.end])
			lexer.step()
			lexer.Token = withoutSubstitution
			return
		}
		lexer.step()
	}
}

// The opening "/" has already been consumed. Returns false without changing
// anything if there's no closing "/" on the same line.
func (lexer *Lexer) scanRegExp() bool {
	saved := *lexer
	isInsideClass := false

	for {
		switch lexer.codePoint {
		case '\\':
			lexer.step()

		case '[':
			isInsideClass = true

		case ']':
			isInsideClass = false

		case '/':
			if !isInsideClass {
				lexer.step()
				for IsIdentifierContinue(lexer.codePoint) {
					lexer.step()
				}
				return true
			}
		}

		switch lexer.codePoint {
		case '\r', '\n', '\u2028', '\u2029', -1:
			*lexer = saved
			return false
		}
		lexer.step()
	}
}

func (lexer *Lexer) parseNumericLiteralOrDot() {
	first := lexer.codePoint
	lexer.step()

	// Dot without a digit after it
	if first == '.' && (lexer.codePoint < '0' || lexer.codePoint > '9') {
		// "..."
		if lexer.codePoint == '.' && lexer.peek() == '.' {
			lexer.step()
			lexer.step()
			lexer.Token = TDotDotDot
			return
		}

		// "."
		lexer.Token = TDot
		return
	}

	// The exact value of a number never matters here, so this only finds the
	// end of the literal. Exponents can have a sign: "1e+5".
	isHex := first == '0' && (lexer.codePoint == 'x' || lexer.codePoint == 'X')
	for IsIdentifierContinue(lexer.codePoint) || lexer.codePoint == '.' {
		c := lexer.codePoint
		lexer.step()
		if !isHex && (c == 'e' || c == 'E') && (lexer.codePoint == '+' || lexer.codePoint == '-') {
			lexer.step()
		}
	}

	if strings.HasSuffix(lexer.Raw(), "n") && !isHex {
		lexer.Token = TBigIntegerLiteral
	} else {
		lexer.Token = TNumericLiteral
	}
}

func (lexer *Lexer) step() {
	codePoint, width := utf8.DecodeRuneInString(lexer.source.Contents[lexer.current:])

	// Use -1 to indicate the end of the file
	if width == 0 {
		codePoint = -1
	}

	lexer.codePoint = codePoint
	lexer.end = lexer.current
	lexer.current += width
}

func (lexer *Lexer) addError(r logger.Range, text string) {
	lexer.log.AddError(&lexer.source, r, text)
}

func isHexDigit(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func IsIdentifierStart(codePoint rune) bool {
	switch codePoint {
	case '_', '$',
		'a', 'b', 'c', 'd', 'e', 'f', 'g', 'h', 'i', 'j', 'k', 'l', 'm',
		'n', 'o', 'p', 'q', 'r', 's', 't', 'u', 'v', 'w', 'x', 'y', 'z',
		'A', 'B', 'C', 'D', 'E', 'F', 'G', 'H', 'I', 'J', 'K', 'L', 'M',
		'N', 'O', 'P', 'Q', 'R', 'S', 'T', 'U', 'V', 'W', 'X', 'Y', 'Z':
		return true
	}

	// All ASCII identifier start code points are listed above
	if codePoint < 0x7F {
		return false
	}

	return unicode.In(codePoint, unicode.L, unicode.Nl, unicode.Other_ID_Start)
}

func IsIdentifierContinue(codePoint rune) bool {
	switch codePoint {
	case '_', '$', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9',
		'a', 'b', 'c', 'd', 'e', 'f', 'g', 'h', 'i', 'j', 'k', 'l', 'm',
		'n', 'o', 'p', 'q', 'r', 's', 't', 'u', 'v', 'w', 'x', 'y', 'z',
		'A', 'B', 'C', 'D', 'E', 'F', 'G', 'H', 'I', 'J', 'K', 'L', 'M',
		'N', 'O', 'P', 'Q', 'R', 'S', 'T', 'U', 'V', 'W', 'X', 'Y', 'Z':
		return true
	}

	// All ASCII identifier continue code points are listed above
	if codePoint < 0x7F {
		return false
	}

	// ZWNJ and ZWJ are allowed in identifiers
	if codePoint == 0x200C || codePoint == 0x200D {
		return true
	}

	return unicode.In(codePoint, unicode.L, unicode.Nl, unicode.Other_ID_Start,
		unicode.Mn, unicode.Mc, unicode.Nd, unicode.Pc, unicode.Other_ID_Continue)
}

// See the "White Space Code Points" table in the ECMAScript standard
func IsWhitespace(codePoint rune) bool {
	switch codePoint {
	case '\u000B', '\u000C', '\u00A0', '\uFEFF':
		return true
	}
	return codePoint > 0x7F && unicode.Is(unicode.Zs, codePoint)
}

func IsIdentifier(text string) bool {
	if text == "" {
		return false
	}
	for i, c := range text {
		if i == 0 && !IsIdentifierStart(c) {
			return false
		}
		if !IsIdentifierContinue(c) {
			return false
		}
	}
	_, isKeyword := Keywords[text]
	return !isKeyword
}

func decodeIdentifierEscapes(text string) string {
	sb := strings.Builder{}
	for i := 0; i < len(text); {
		if text[i] != '\\' {
			sb.WriteByte(text[i])
			i++
			continue
		}
		var hex string
		if text[i+2] == '{' {
			end := strings.IndexByte(text[i:], '}')
			hex = text[i+3 : i+end]
			i += end + 1
		} else {
			hex = text[i+2 : i+6]
			i += 6
		}
		if value, err := strconv.ParseUint(hex, 16, 32); err == nil {
			sb.WriteRune(rune(value))
		}
	}
	return sb.String()
}

// Returns the cooked value of the contents of a string or template literal
func decodeEscapeSequences(text string) string {
	if strings.IndexByte(text, '\\') == -1 && strings.IndexByte(text, '\r') == -1 {
		return text
	}

	sb := strings.Builder{}
	for i := 0; i < len(text); {
		c := text[i]
		i++

		if c == '\r' {
			// Convert '\r\n' and '\r' into '\n'
			if i < len(text) && text[i] == '\n' {
				i++
			}
			sb.WriteByte('\n')
			continue
		}

		if c != '\\' || i == len(text) {
			sb.WriteByte(c)
			continue
		}

		c = text[i]
		i++
		switch c {
		case 'b':
			sb.WriteByte('\b')
		case 'f':
			sb.WriteByte('\f')
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case 'v':
			sb.WriteByte('\v')
		case '0':
			sb.WriteByte(0)

		case '\r':
			// Line continuation
			if i < len(text) && text[i] == '\n' {
				i++
			}

		case '\n':
			// Line continuation

		case 'x', 'u':
			var hex string
			switch {
			case c == 'x' && i+2 <= len(text):
				hex, i = text[i:i+2], i+2
			case c == 'u' && i < len(text) && text[i] == '{':
				if end := strings.IndexByte(text[i:], '}'); end != -1 {
					hex, i = text[i+1:i+end], i+end+1
				}
			case c == 'u' && i+4 <= len(text):
				hex, i = text[i:i+4], i+4
			}
			value, err := strconv.ParseUint(hex, 16, 32)
			if err != nil {
				sb.WriteByte(c)
				continue
			}
			r := rune(value)

			// Join a "\uD83D\uDE00" surrogate pair into one code point
			if r >= 0xD800 && r <= 0xDBFF && strings.HasPrefix(text[i:], "\\u") && i+6 <= len(text) {
				if lo, err := strconv.ParseUint(text[i+2:i+6], 16, 32); err == nil && lo >= 0xDC00 && lo <= 0xDFFF {
					r = (r-0xD800)<<10 + (rune(lo) - 0xDC00) + 0x10000
					i += 6
				}
			}
			sb.WriteRune(r)

		default:
			// "\'" and '\"' and '\\' and any other escaped character
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
