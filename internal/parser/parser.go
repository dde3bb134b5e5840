// Package parser builds the Query AST from QQL source text with a
// recursive-descent parser over the lexer's token stream, one token of
// lookahead.
package parser

import (
	"fmt"

	"qql-engine/internal/lexer"
)

// ParseError reports an expected-token mismatch or premature EOF with
// the offending token's source position. Line 0 marks errors with no
// usable position (EOF, list-level validation).
type ParseError struct {
	Message string
	Line    int
	Column  int
}

func (e *ParseError) Error() string {
	if e.Line == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s at line %d, column %d", e.Message, e.Line, e.Column)
}

func errEOF(msg string) *ParseError {
	return &ParseError{Message: msg}
}

func errExpected(found lexer.Token, expected string) *ParseError {
	return &ParseError{
		Message: fmt.Sprintf("expected %s but found %s", expected, found.Describe()),
		Line:    found.Line,
		Column:  found.Column,
	}
}

// Parser consumes tokens lazily from the lexer.
type Parser struct {
	lx      *lexer.Lexer
	peeked  *lexer.Token
	peekErr *ParseError
	lastPos [2]int
}

func New(src string) *Parser {
	return &Parser{lx: lexer.New(src)}
}

// Parse runs the parser over src and returns the Query AST.
func Parse(src string) (*Query, error) {
	return New(src).Parse()
}

func (p *Parser) Parse() (*Query, error) {
	frames, err := p.parseFrames()
	if err != nil {
		return nil, err
	}
	q := &Query{Frames: frames}
	q.GraphResult = p.parseGraphResult()
	q.TradeResult = p.parseTradeResult()
	return q, nil
}

/* --------------------------- token helpers --------------------------- */

func (p *Parser) fill() {
	if p.peeked != nil || p.peekErr != nil {
		return
	}
	tok, err := p.lx.Next()
	if err != nil {
		le := err.(*lexer.LexError)
		p.peekErr = &ParseError{Message: le.Message, Line: le.Line, Column: le.Column}
		return
	}
	p.peeked = &tok
}

func (p *Parser) peek() (*lexer.Token, *ParseError) {
	p.fill()
	return p.peeked, p.peekErr
}

func (p *Parser) next() (lexer.Token, *ParseError) {
	p.fill()
	if p.peekErr != nil {
		err := p.peekErr
		p.peekErr = nil
		return lexer.Token{}, err
	}
	tok := *p.peeked
	p.peeked = nil
	p.lastPos = [2]int{tok.Line, tok.Column}
	return tok, nil
}

// consumeNewlines skips newline and comment tokens.
func (p *Parser) consumeNewlines() *ParseError {
	for {
		tok, err := p.peek()
		if err != nil {
			return err
		}
		if tok.Kind != lexer.KindNewline && tok.Kind != lexer.KindComment {
			return nil
		}
		if _, err := p.next(); err != nil {
			return err
		}
	}
}

func (p *Parser) expectKeyword(kw lexer.Keyword) *ParseError {
	tok, err := p.next()
	if err != nil {
		return err
	}
	if tok.Kind != lexer.KindKeyword || tok.Keyword != kw {
		return errExpected(tok, fmt.Sprintf("keyword %s", kw))
	}
	return nil
}

func (p *Parser) expectIdentifier() (string, *ParseError) {
	tok, err := p.next()
	if err != nil {
		return "", err
	}
	if tok.Kind != lexer.KindIdentifier {
		return "", errExpected(tok, "identifier")
	}
	return tok.Text, nil
}

func (p *Parser) expectLiteral() (string, *ParseError) {
	tok, err := p.next()
	if err != nil {
		return "", err
	}
	if tok.Kind != lexer.KindLiteral {
		return "", errExpected(tok, "literal")
	}
	return tok.Text, nil
}

func (p *Parser) expectCommaOrNewline() *ParseError {
	tok, err := p.next()
	if err != nil {
		return err
	}
	if tok.Kind != lexer.KindComma && tok.Kind != lexer.KindNewline {
		return errExpected(tok, ", or newline")
	}
	return nil
}

func (p *Parser) peekKeyword(kw lexer.Keyword) bool {
	tok, err := p.peek()
	if err != nil {
		return false
	}
	return tok.Kind == lexer.KindKeyword && tok.Keyword == kw
}

/* ----------------------------- FRAMES ------------------------------- */

func (p *Parser) parseFrames() (map[string]*Frame, *ParseError) {
	frames := make(map[string]*Frame)
	for {
		if err := p.consumeNewlines(); err != nil {
			return nil, err
		}
		if !p.peekKeyword(lexer.KwFrame) {
			return frames, nil
		}
		p.next() // FRAME
		name, err := p.expectIdentifier()
		if err != nil {
			return nil, err
		}
		if _, dup := frames[name]; dup {
			return nil, &ParseError{
				Message: fmt.Sprintf("frame %q is already defined", name),
				Line:    p.lastPos[0],
				Column:  p.lastPos[1],
			}
		}
		if err := p.consumeNewlines(); err != nil {
			return nil, err
		}
		model, err := p.parseModelSection()
		if err != nil {
			return nil, err
		}
		actions, err := p.parseActionSection()
		if err != nil {
			return nil, err
		}
		frames[name] = &Frame{Model: *model, Actions: *actions}
	}
}

func (p *Parser) parseModelSection() (*ModelSection, *ParseError) {
	tok, err := p.next()
	if err != nil {
		return nil, err
	}
	var mt ModelType
	switch {
	case tok.Kind == lexer.KindKeyword && tok.Keyword == lexer.KwLive:
		mt = ModelLive
	case tok.Kind == lexer.KindKeyword && tok.Keyword == lexer.KwHistorical:
		mt = ModelHistorical
	case tok.Kind == lexer.KindKeyword && tok.Keyword == lexer.KwFundamental:
		mt = ModelFundamental
	default:
		return nil, errExpected(tok, "model type (LIVE|HISTORICAL|FUNDAMENTAL)")
	}
	if err := p.consumeNewlines(); err != nil {
		return nil, err
	}

	if err := p.expectKeyword(lexer.KwTicker); err != nil {
		return nil, err
	}
	ticker, err := p.expectIdentifier()
	if err != nil {
		return nil, err
	}
	if err := p.consumeNewlines(); err != nil {
		return nil, err
	}

	var ts TimeSpec
	if mt == ModelLive {
		if err := p.expectKeyword(lexer.KwTick); err != nil {
			return nil, err
		}
		interval, err := p.expectLiteral()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword(lexer.KwFor); err != nil {
			return nil, err
		}
		duration, err := p.expectLiteral()
		if err != nil {
			return nil, err
		}
		ts = TimeSpec{Kind: TimeLive, Interval: interval, Duration: duration}
	} else {
		if err := p.expectKeyword(lexer.KwFrom); err != nil {
			return nil, err
		}
		from, err := p.expectLiteral()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword(lexer.KwTo); err != nil {
			return nil, err
		}
		to, err := p.expectLiteral()
		if err != nil {
			return nil, err
		}
		ts = TimeSpec{Kind: TimeDateRange, From: from, To: to}
	}
	if err := p.consumeNewlines(); err != nil {
		return nil, err
	}

	return &ModelSection{Type: mt, Ticker: ticker, Time: ts}, nil
}

/* ---------------------- Action-section parsing ---------------------- */

func (p *Parser) parseActionSection() (*ActionSection, *ParseError) {
	if err := p.expectKeyword(lexer.KwPull); err != nil {
		return nil, err
	}
	fields, err := p.parseFieldList()
	if err != nil {
		return nil, err
	}
	if err := p.consumeNewlines(); err != nil {
		return nil, err
	}

	var calcs []Calc
	for p.peekKeyword(lexer.KwCalc) {
		c, err := p.parseCalc()
		if err != nil {
			return nil, err
		}
		calcs = append(calcs, *c)
		if err := p.consumeNewlines(); err != nil {
			return nil, err
		}
	}

	if len(calcs) > 0 {
		calcs, err = orderCalcsFlat(fields, calcs)
		if err != nil {
			return nil, err
		}
	}
	if err := p.consumeNewlines(); err != nil {
		return nil, err
	}
	return &ActionSection{Fields: fields, Calcs: calcs}, nil
}

func (p *Parser) parseFieldList() ([]string, *ParseError) {
	var fields []string
	for {
		id, err := p.expectIdentifier()
		if err != nil {
			return nil, err
		}
		fields = append(fields, id)
		tok, perr := p.peek()
		if perr != nil || tok.Kind != lexer.KindComma {
			return fields, nil
		}
		p.next()
	}
}

var calcOps = map[lexer.Keyword]bool{
	lexer.KwDifference:       true,
	lexer.KwSum:              true,
	lexer.KwMultiply:         true,
	lexer.KwDivide:           true,
	lexer.KwSma:              true,
	lexer.KwVolatility:       true,
	lexer.KwDoubleVolatility: true,
	lexer.KwConstant:         true,
	lexer.KwLinearRegression: true,
}

func (p *Parser) parseCalc() (*Calc, *ParseError) {
	if err := p.expectKeyword(lexer.KwCalc); err != nil {
		return nil, err
	}
	inputs, err := p.parseFieldList()
	if err != nil {
		return nil, err
	}

	tok, err := p.next()
	if err != nil {
		return nil, err
	}
	if tok.Kind != lexer.KindKeyword || !calcOps[tok.Keyword] {
		return nil, errExpected(tok,
			"CALC op (DIFFERENCE|SUM|MULTIPLY|DIVIDE|SMA|VOLATILITY|DOUBLE_VOLATILITY|CONSTANT|LINEAR_REGRESSION)")
	}

	if err := p.expectKeyword(lexer.KwCalled); err != nil {
		return nil, err
	}
	alias, err := p.expectIdentifier()
	if err != nil {
		return nil, err
	}
	return &Calc{Inputs: inputs, Operation: tok.Keyword, Alias: alias}, nil
}

/* ----------------------------- GRAPH -------------------------------- */

func (p *Parser) parseGraphResult() SectionResult[*GraphSection] {
	if err := p.consumeNewlines(); err != nil {
		return SectionResult[*GraphSection]{State: SectionInvalid, Err: err}
	}
	if !p.peekKeyword(lexer.KwGraph) {
		return SectionResult[*GraphSection]{State: SectionAbsent}
	}
	gs, err := p.parseGraphSection()
	if err != nil {
		// Leave the stream positioned at the trade section so a bad
		// graph block does not also swallow a well-formed TRADE.
		p.skipToKeyword(lexer.KwTrade)
		return SectionResult[*GraphSection]{State: SectionInvalid, Err: err}
	}
	return SectionResult[*GraphSection]{State: SectionPresent, Value: gs}
}

func (p *Parser) parseGraphSection() (*GraphSection, *ParseError) {
	p.next() // GRAPH
	if err := p.consumeNewlines(); err != nil {
		return nil, err
	}

	if err := p.expectKeyword(lexer.KwXaxis); err != nil {
		return nil, err
	}
	xaxis, err := p.expectIdentifier()
	if err != nil {
		return nil, err
	}
	if err := p.consumeNewlines(); err != nil {
		return nil, err
	}

	var commands []DrawCommand
	for {
		tok, perr := p.peek()
		if perr != nil {
			return nil, perr
		}
		if tok.Kind == lexer.KindNewline || tok.Kind == lexer.KindComment {
			p.next()
			continue
		}
		if tok.Kind != lexer.KindKeyword {
			break
		}
		switch tok.Keyword {
		case lexer.KwLine:
			p.next()
			fields, err := p.parseFieldList()
			if err != nil {
				return nil, err
			}
			if err := p.expectKeyword(lexer.KwFor); err != nil {
				return nil, err
			}
			frame, err := p.expectIdentifier()
			if err != nil {
				return nil, err
			}
			commands = append(commands, DrawCommand{
				Kind:   DrawLine,
				Name:   fields[0],
				Series: fields,
				Frame:  frame,
			})
		case lexer.KwBar:
			p.next()
			y, err := p.expectIdentifier()
			if err != nil {
				return nil, err
			}
			if err := p.expectKeyword(lexer.KwFor); err != nil {
				return nil, err
			}
			frame, err := p.expectIdentifier()
			if err != nil {
				return nil, err
			}
			commands = append(commands, DrawCommand{Kind: DrawBar, Name: y, Y: y, Frame: frame})
		case lexer.KwCandle:
			p.next()
			var ohlc [4]string
			for i := 0; i < 4; i++ {
				id, err := p.expectIdentifier()
				if err != nil {
					return nil, err
				}
				ohlc[i] = id
				if i < 3 {
					if err := p.expectCommaOrNewline(); err != nil {
						return nil, err
					}
				}
			}
			if err := p.expectKeyword(lexer.KwFor); err != nil {
				return nil, err
			}
			frame, err := p.expectIdentifier()
			if err != nil {
				return nil, err
			}
			commands = append(commands, DrawCommand{
				Kind: DrawCandle, Name: "Candle",
				Open: ohlc[0], High: ohlc[1], Low: ohlc[2], Close: ohlc[3],
				Frame: frame,
			})
		default:
			return &GraphSection{XAxis: xaxis, Commands: commands}, nil
		}
	}
	return &GraphSection{XAxis: xaxis, Commands: commands}, nil
}

// skipToKeyword discards tokens until kw or EOF, for error recovery.
func (p *Parser) skipToKeyword(kw lexer.Keyword) {
	for {
		tok, err := p.peek()
		if err != nil {
			p.next()
			continue
		}
		if tok.Kind == lexer.KindEOF {
			return
		}
		if tok.Kind == lexer.KindKeyword && tok.Keyword == kw {
			return
		}
		p.next()
	}
}

/* ------------------------------ TRADE ------------------------------- */

func (p *Parser) parseTradeResult() SectionResult[*TradeSection] {
	if err := p.consumeNewlines(); err != nil {
		return SectionResult[*TradeSection]{State: SectionInvalid, Err: err}
	}
	if !p.peekKeyword(lexer.KwTrade) {
		return SectionResult[*TradeSection]{State: SectionAbsent}
	}
	ts, err := p.parseTradeSection()
	if err != nil {
		return SectionResult[*TradeSection]{State: SectionInvalid, Err: err}
	}
	return SectionResult[*TradeSection]{State: SectionPresent, Value: ts}
}

// parseRefList collects identifiers and literals up to the first token of
// another kind. The trailing element doubles as the numeric threshold.
func (p *Parser) parseRefList() []string {
	var refs []string
	for {
		tok, err := p.peek()
		if err != nil {
			return refs
		}
		switch tok.Kind {
		case lexer.KindIdentifier, lexer.KindLiteral:
			p.next()
			refs = append(refs, tok.Text)
		case lexer.KindComma:
			p.next()
		default:
			return refs
		}
	}
}

func (p *Parser) parseNumber(what string) (float64, *ParseError) {
	tok, err := p.next()
	if err != nil {
		return 0, err
	}
	if tok.Kind != lexer.KindLiteral && tok.Kind != lexer.KindIdentifier {
		return 0, errExpected(tok, what+" value")
	}
	v, perr := parseFloat(tok.Text)
	if perr != nil {
		return 0, errEOF("invalid " + what)
	}
	return v, nil
}

func (p *Parser) parseTradeSection() (*TradeSection, *ParseError) {
	p.next() // TRADE
	if err := p.consumeNewlines(); err != nil {
		return nil, err
	}

	tok, err := p.next()
	if err != nil {
		return nil, err
	}
	var tt TradeType
	switch {
	case tok.Kind == lexer.KindKeyword && tok.Keyword == lexer.KwOptionCall:
		tt = TradeOptionCall
	case tok.Kind == lexer.KindKeyword && tok.Keyword == lexer.KwOptionPut:
		tt = TradeOptionPut
	case tok.Kind == lexer.KindKeyword && tok.Keyword == lexer.KwStock:
		tt = TradeStock
	default:
		return nil, errExpected(tok, "trade type (OPTIONCALL|OPTIONPUT|STOCK)")
	}
	if err := p.consumeNewlines(); err != nil {
		return nil, err
	}

	if err := p.expectKeyword(lexer.KwOverFrame); err != nil {
		return nil, err
	}
	overFrame, perr := p.expectIdentifier()
	if perr != nil {
		return nil, perr
	}
	if err := p.consumeNewlines(); err != nil {
		return nil, err
	}

	if err := p.expectKeyword(lexer.KwEntry); err != nil {
		return nil, err
	}
	entry := p.parseRefList()
	if len(entry) == 0 {
		return nil, errEOF("missing within_entry")
	}
	withinEntry, ferr := parseFloat(entry[len(entry)-1])
	if ferr != nil {
		return nil, errEOF("invalid within_entry")
	}
	entry = entry[:len(entry)-1]
	if err := p.consumeNewlines(); err != nil {
		return nil, err
	}

	if err := p.expectKeyword(lexer.KwExit); err != nil {
		return nil, err
	}
	exit := p.parseRefList()
	if len(exit) == 0 {
		return nil, errEOF("missing within_exit")
	}
	withinExit, ferr := parseFloat(exit[len(exit)-1])
	if ferr != nil {
		return nil, errEOF("invalid within_exit")
	}
	exit = exit[:len(exit)-1]
	if err := p.consumeNewlines(); err != nil {
		return nil, err
	}

	if err := p.expectKeyword(lexer.KwLimit); err != nil {
		return nil, err
	}
	stopLoss, perr2 := p.parseNumber("stop_loss")
	if perr2 != nil {
		return nil, perr2
	}
	if err := p.consumeNewlines(); err != nil {
		return nil, err
	}

	if err := p.expectKeyword(lexer.KwHold); err != nil {
		return nil, err
	}
	holdF, perr2 := p.parseNumber("hold")
	if perr2 != nil {
		return nil, perr2
	}
	hold := int(holdF)
	if float64(hold) != holdF {
		return nil, errEOF("invalid hold")
	}
	if err := p.consumeNewlines(); err != nil {
		return nil, err
	}

	return &TradeSection{
		Type:        tt,
		OverFrame:   overFrame,
		Entry:       entry,
		WithinEntry: withinEntry,
		Exit:        exit,
		WithinExit:  withinExit,
		StopLoss:    stopLoss,
		Hold:        hold,
	}, nil
}
