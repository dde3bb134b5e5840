package lexer

import (
	"strings"
	"testing"
)

func mustNext(t *testing.T, l *Lexer) Token {
	t.Helper()
	tok, err := l.Next()
	if err != nil {
		t.Fatalf("unexpected lex error: %v", err)
	}
	return tok
}

func TestKeywordsAndIdentifiers(t *testing.T) {
	l := New("LIVE HISTORICAL FUNDAMENTAL TICKER aapl")

	want := []Keyword{KwLive, KwHistorical, KwFundamental, KwTicker}
	for _, kw := range want {
		tok := mustNext(t, l)
		if tok.Kind != KindKeyword || tok.Keyword != kw {
			t.Fatalf("expected keyword %v, got %v (%q)", kw, tok.Kind, tok.Text)
		}
	}
	tok := mustNext(t, l)
	if tok.Kind != KindIdentifier || tok.Text != "aapl" {
		t.Fatalf("expected identifier aapl, got %v %q", tok.Kind, tok.Text)
	}
	if tok := mustNext(t, l); tok.Kind != KindEOF {
		t.Fatalf("expected EOF, got %v", tok.Kind)
	}
}

func TestKeywordsAreCaseInsensitive(t *testing.T) {
	l := New("frame Pull calc double_volatility over_frame")
	want := []Keyword{KwFrame, KwPull, KwCalc, KwDoubleVolatility, KwOverFrame}
	for _, kw := range want {
		tok := mustNext(t, l)
		if tok.Kind != KindKeyword || tok.Keyword != kw {
			t.Fatalf("expected keyword %v, got %v (%q)", kw, tok.Kind, tok.Text)
		}
	}
}

func TestDateAndIntervalLiterals(t *testing.T) {
	tests := []struct {
		input string
		kind  TokenKind
		text  string
	}{
		{"20240101", KindLiteral, "20240101"},
		{"30s", KindLiteral, "30s"},
		{"5m", KindLiteral, "5m"},
		{"12h", KindLiteral, "12h"},
		{"7d", KindLiteral, "7d"},
		// seven digits is not a date, just an identifier
		{"2024010", KindIdentifier, "2024010"},
		// nine digits likewise
		{"202401011", KindIdentifier, "202401011"},
		// decimal numbers stay identifiers (parsed later where numeric)
		{"0.5", KindIdentifier, "0.5"},
		{"close", KindIdentifier, "close"},
	}
	for _, tt := range tests {
		l := New(tt.input)
		tok := mustNext(t, l)
		if tok.Kind != tt.kind || tok.Text != tt.text {
			t.Errorf("lex(%q) = %v %q, want %v %q", tt.input, tok.Kind, tok.Text, tt.kind, tt.text)
		}
	}
}

func TestCommentLexing(t *testing.T) {
	l := New("-- this is a comment\nTICKER AAPL")

	tok := mustNext(t, l)
	if tok.Kind != KindComment || tok.Text != " this is a comment" {
		t.Fatalf("expected comment, got %v %q", tok.Kind, tok.Text)
	}
	if tok := mustNext(t, l); tok.Kind != KindNewline {
		t.Fatalf("expected newline, got %v", tok.Kind)
	}
	if tok := mustNext(t, l); tok.Kind != KindKeyword || tok.Keyword != KwTicker {
		t.Fatalf("expected TICKER, got %v %q", tok.Kind, tok.Text)
	}
}

func TestSingleDashIsError(t *testing.T) {
	l := New("close - open")
	mustNext(t, l) // close
	_, err := l.Next()
	if err == nil {
		t.Fatal("expected lex error for single '-'")
	}
	le, ok := err.(*LexError)
	if !ok {
		t.Fatalf("expected *LexError, got %T", err)
	}
	if le.Line != 1 || le.Column != 7 {
		t.Errorf("error position = (%d,%d), want (1,7)", le.Line, le.Column)
	}
}

func TestUnexpectedCharacter(t *testing.T) {
	l := New("PULL open; close")
	mustNext(t, l)
	mustNext(t, l)
	_, err := l.Next()
	if err == nil {
		t.Fatal("expected lex error for ';'")
	}
}

func TestLineColumnTracking(t *testing.T) {
	l := New("FRAME prices\nPULL open, close")

	tok := mustNext(t, l)
	if tok.Line != 1 || tok.Column != 1 {
		t.Errorf("FRAME at (%d,%d), want (1,1)", tok.Line, tok.Column)
	}
	tok = mustNext(t, l) // prices
	if tok.Line != 1 || tok.Column != 7 {
		t.Errorf("prices at (%d,%d), want (1,7)", tok.Line, tok.Column)
	}
	mustNext(t, l) // newline
	tok = mustNext(t, l)
	if tok.Line != 2 || tok.Column != 1 {
		t.Errorf("PULL at (%d,%d), want (2,1)", tok.Line, tok.Column)
	}
	tok = mustNext(t, l) // open
	if tok.Line != 2 || tok.Column != 6 {
		t.Errorf("open at (%d,%d), want (2,6)", tok.Line, tok.Column)
	}
	tok = mustNext(t, l) // comma
	if tok.Kind != KindComma || tok.Column != 10 {
		t.Errorf("comma at column %d, want 10", tok.Column)
	}
}

func TestEOFIsSticky(t *testing.T) {
	l := New("close")
	mustNext(t, l)
	for i := 0; i < 3; i++ {
		tok := mustNext(t, l)
		if tok.Kind != KindEOF {
			t.Fatalf("call %d after end: got %v, want EOF", i, tok.Kind)
		}
	}
}

// Re-serializing a token stream with canonical whitespace and lexing it
// again must reproduce the same token kinds in order.
func TestRoundTrip(t *testing.T) {
	src := "FRAME prices\nHISTORICAL\nTICKER msft\nFROM 20240101 TO 20240601\nPULL open, close\nCALC close, open DIFFERENCE CALLED spread\n"

	lexAll := func(s string) []Token {
		var toks []Token
		l := New(s)
		for {
			tok, err := l.Next()
			if err != nil {
				t.Fatalf("lex error: %v", err)
			}
			if tok.Kind == KindEOF {
				return toks
			}
			toks = append(toks, tok)
		}
	}

	first := lexAll(src)

	var b strings.Builder
	for _, tok := range first {
		switch tok.Kind {
		case KindKeyword:
			b.WriteString(tok.Keyword.String())
			b.WriteByte(' ')
		case KindIdentifier, KindLiteral:
			b.WriteString(tok.Text)
			b.WriteByte(' ')
		case KindComma:
			b.WriteString(", ")
		case KindNewline:
			b.WriteByte('\n')
		case KindComment:
			b.WriteString("--")
			b.WriteString(tok.Text)
		}
	}

	second := lexAll(b.String())
	if len(first) != len(second) {
		t.Fatalf("token count changed: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Kind != second[i].Kind {
			t.Errorf("token %d kind %v != %v", i, first[i].Kind, second[i].Kind)
		}
		if first[i].Kind == KindKeyword && first[i].Keyword != second[i].Keyword {
			t.Errorf("token %d keyword %v != %v", i, first[i].Keyword, second[i].Keyword)
		}
	}
}
