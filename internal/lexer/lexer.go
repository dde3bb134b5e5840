// Package lexer tokenizes QQL source text.
//
// QQL is newline-sensitive: newlines and commas are significant tokens,
// other whitespace is skipped. Keywords are case-insensitive. `--` starts
// a line comment.
package lexer

import (
	"fmt"
	"strings"
)

// Keyword is a reserved QQL word.
type Keyword int

const (
	KwNone Keyword = iota
	KwLive
	KwHistorical
	KwFundamental
	KwTicker
	KwFrom
	KwTo
	KwTick
	KwFor
	KwPull
	KwCalc
	KwCalled
	KwShowTable
	KwDifference
	KwSum
	KwMultiply
	KwDivide
	KwSma
	KwVolatility
	KwDoubleVolatility
	KwConstant
	KwLinearRegression
	KwGraph
	KwXaxis
	KwLine
	KwCandle
	KwBar
	KwTrade
	KwOptionCall
	KwOptionPut
	KwStock
	KwOverFrame
	KwEntry
	KwExit
	KwLimit
	KwHold
	KwFrame
)

var keywords = map[string]Keyword{
	"LIVE":              KwLive,
	"HISTORICAL":        KwHistorical,
	"FUNDAMENTAL":       KwFundamental,
	"TICKER":            KwTicker,
	"FROM":              KwFrom,
	"TO":                KwTo,
	"TICK":              KwTick,
	"FOR":               KwFor,
	"PULL":              KwPull,
	"CALC":              KwCalc,
	"CALLED":            KwCalled,
	"SHOWTABLE":         KwShowTable,
	"DIFFERENCE":        KwDifference,
	"SUM":               KwSum,
	"MULTIPLY":          KwMultiply,
	"DIVIDE":            KwDivide,
	"SMA":               KwSma,
	"VOLATILITY":        KwVolatility,
	"DOUBLE_VOLATILITY": KwDoubleVolatility,
	"CONSTANT":          KwConstant,
	"LINEAR_REGRESSION": KwLinearRegression,
	"GRAPH":             KwGraph,
	"XAXIS":             KwXaxis,
	"LINE":              KwLine,
	"CANDLE":            KwCandle,
	"BAR":               KwBar,
	"TRADE":             KwTrade,
	"OPTIONCALL":        KwOptionCall,
	"OPTIONPUT":         KwOptionPut,
	"STOCK":             KwStock,
	"OVER_FRAME":        KwOverFrame,
	"ENTRY":             KwEntry,
	"EXIT":              KwExit,
	"LIMIT":             KwLimit,
	"HOLD":              KwHold,
	"FRAME":             KwFrame,
}

var keywordNames = func() map[Keyword]string {
	m := make(map[Keyword]string, len(keywords))
	for s, k := range keywords {
		m[k] = s
	}
	return m
}()

// KeywordFromString resolves an uppercase word to its keyword, if any.
func KeywordFromString(s string) (Keyword, bool) {
	k, ok := keywords[s]
	return k, ok
}

func (k Keyword) String() string {
	if s, ok := keywordNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Keyword(%d)", int(k))
}

// TokenKind discriminates Token.
type TokenKind int

const (
	KindKeyword TokenKind = iota
	KindIdentifier
	KindLiteral
	KindComma
	KindNewline
	KindComment
	KindEOF
)

func (k TokenKind) String() string {
	switch k {
	case KindKeyword:
		return "keyword"
	case KindIdentifier:
		return "identifier"
	case KindLiteral:
		return "literal"
	case KindComma:
		return "comma"
	case KindNewline:
		return "newline"
	case KindComment:
		return "comment"
	case KindEOF:
		return "EOF"
	}
	return fmt.Sprintf("TokenKind(%d)", int(k))
}

// Token is one lexical unit with its source position (1-based line and column).
type Token struct {
	Kind    TokenKind
	Keyword Keyword // set when Kind == KindKeyword
	Text    string  // identifier/literal/comment text
	Line    int
	Column  int
}

func (t Token) describe() string {
	switch t.Kind {
	case KindKeyword:
		return fmt.Sprintf("keyword %s", t.Keyword)
	case KindIdentifier:
		return fmt.Sprintf("identifier %q", t.Text)
	case KindLiteral:
		return fmt.Sprintf("literal %q", t.Text)
	default:
		return t.Kind.String()
	}
}

// Describe renders the token for error messages.
func (t Token) Describe() string { return t.describe() }

// LexError reports an unexpected character with its position.
type LexError struct {
	Message string
	Line    int
	Column  int
}

func (e *LexError) Error() string {
	return fmt.Sprintf("%s at line %d, column %d", e.Message, e.Line, e.Column)
}

// Lexer produces tokens one at a time. Once the input is exhausted it
// returns EOF tokens forever.
type Lexer struct {
	src  string
	pos  int
	line int
	col  int
}

func New(source string) *Lexer {
	return &Lexer{src: source, line: 1, col: 0}
}

func (l *Lexer) peek() (byte, bool) {
	if l.pos >= len(l.src) {
		return 0, false
	}
	return l.src[l.pos], true
}

func (l *Lexer) advance() (byte, bool) {
	c, ok := l.peek()
	if !ok {
		return 0, false
	}
	l.pos++
	if c == '\n' {
		l.line++
		l.col = 0
	} else {
		l.col++
	}
	return c, true
}

func (l *Lexer) skipWhitespace() {
	for {
		c, ok := l.peek()
		if !ok || (c != ' ' && c != '\t' && c != '\r') {
			return
		}
		l.advance()
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' || c == '.' || c == '_'
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return len(s) > 0
}

// lexWordLike classifies a maximal run of [a-zA-Z0-9._]. Order matters:
// eight digits form a date literal, digits plus a unit suffix form an
// interval literal, then keywords, then identifiers.
func (l *Lexer) lexWordLike(first byte) Token {
	var b strings.Builder
	b.WriteByte(first)
	for {
		c, ok := l.peek()
		if !ok || !isWordChar(c) {
			break
		}
		b.WriteByte(c)
		l.advance()
	}
	word := b.String()

	if len(word) == 8 && allDigits(word) {
		return Token{Kind: KindLiteral, Text: word}
	}
	last := word[len(word)-1]
	if len(word) >= 2 && allDigits(word[:len(word)-1]) &&
		(last == 's' || last == 'm' || last == 'h' || last == 'd') {
		return Token{Kind: KindLiteral, Text: word}
	}
	if kw, ok := keywords[strings.ToUpper(word)]; ok {
		return Token{Kind: KindKeyword, Keyword: kw, Text: word}
	}
	return Token{Kind: KindIdentifier, Text: word}
}

// Next returns the next token or a LexError. After the end of input it
// keeps returning EOF.
func (l *Lexer) Next() (Token, error) {
	l.skipWhitespace()

	line := l.line
	column := l.col + 1

	if c, ok := l.peek(); ok && c == '-' {
		l.advance()
		if c2, ok := l.peek(); ok && c2 == '-' {
			l.advance()
			var b strings.Builder
			for {
				c, ok := l.peek()
				if !ok || c == '\n' {
					break
				}
				b.WriteByte(c)
				l.advance()
			}
			return Token{
				Kind:   KindComment,
				Text:   strings.TrimRight(b.String(), " \t\r"),
				Line:   line,
				Column: column,
			}, nil
		}
		return Token{}, &LexError{Message: "unexpected single '-'", Line: line, Column: column}
	}

	c, ok := l.advance()
	if !ok {
		return Token{Kind: KindEOF, Line: line, Column: column}, nil
	}
	switch {
	case c == ',':
		return Token{Kind: KindComma, Line: line, Column: column}, nil
	case c == '\n':
		return Token{Kind: KindNewline, Line: line, Column: column}, nil
	case c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || isDigit(c):
		tok := l.lexWordLike(c)
		tok.Line = line
		tok.Column = column
		return tok, nil
	default:
		return Token{}, &LexError{
			Message: fmt.Sprintf("unexpected character %q", string(c)),
			Line:    line,
			Column:  column,
		}
	}
}
