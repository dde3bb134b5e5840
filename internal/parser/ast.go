package parser

import (
	"qql-engine/internal/lexer"
)

// ModelType selects the data model a frame pulls from.
type ModelType int

const (
	ModelLive ModelType = iota
	ModelHistorical
	ModelFundamental
)

func (m ModelType) String() string {
	switch m {
	case ModelLive:
		return "LIVE"
	case ModelHistorical:
		return "HISTORICAL"
	case ModelFundamental:
		return "FUNDAMENTAL"
	}
	return "UNKNOWN"
}

// TimeSpecKind discriminates TimeSpec.
type TimeSpecKind int

const (
	TimeDateRange TimeSpecKind = iota
	TimeLive
)

// TimeSpec is either a FROM/TO date range (dates as yyyymmdd literals) or
// a live TICK interval with a FOR duration (interval literals like "30s").
type TimeSpec struct {
	Kind     TimeSpecKind
	From     string
	To       string
	Interval string
	Duration string
}

// ModelSection names the data source of a frame.
type ModelSection struct {
	Type   ModelType
	Ticker string
	Time   TimeSpec
}

// Calc is one derived-column computation. Inputs are column names or
// numeric literals; Operation is one of the calc keywords.
type Calc struct {
	Inputs    []string
	Operation lexer.Keyword
	Alias     string
}

// ActionSection lists the fields to pull and the calcs to run over them.
// Calcs are dependency-ordered by the parser (see orderCalcsFlat).
type ActionSection struct {
	Fields []string
	Calcs  []Calc
}

// Frame is a named data pull plus its derived-column pipeline.
type Frame struct {
	Model   ModelSection
	Actions ActionSection
}

// DrawKind discriminates DrawCommand.
type DrawKind int

const (
	DrawLine DrawKind = iota
	DrawBar
	DrawCandle
)

// DrawCommand is one chart directive inside a GRAPH section.
type DrawCommand struct {
	Kind   DrawKind
	Name   string
	Series []string // Line: one drawn series per element
	Y      string   // Bar
	Open   string   // Candle
	High   string
	Low    string
	Close  string
	Frame  string
}

// GraphSection is the parsed GRAPH block.
type GraphSection struct {
	XAxis    string
	Commands []DrawCommand
}

// TradeType is the instrument being simulated.
type TradeType int

const (
	TradeOptionCall TradeType = iota
	TradeOptionPut
	TradeStock
)

func (t TradeType) String() string {
	switch t {
	case TradeOptionCall:
		return "OPTIONCALL"
	case TradeOptionPut:
		return "OPTIONPUT"
	case TradeStock:
		return "STOCK"
	}
	return "UNKNOWN"
}

// TradeSection is the parsed TRADE block. Entry and Exit hold qualified
// "frame.column" references; the trailing numeric element of each list is
// popped into WithinEntry/WithinExit during parsing.
type TradeSection struct {
	Type        TradeType
	OverFrame   string
	Entry       []string
	WithinEntry float64
	Exit        []string
	WithinExit  float64
	StopLoss    float64
	Hold        int
}

// SectionState tags the parse outcome of an optional trailing section.
type SectionState int

const (
	// SectionAbsent means the section keyword never appeared.
	SectionAbsent SectionState = iota
	// SectionPresent means the section parsed cleanly.
	SectionPresent
	// SectionInvalid means the section keyword appeared but its body
	// failed to parse; Err holds the failure.
	SectionInvalid
)

// SectionResult distinguishes an absent optional section from a present
// but malformed one, so callers can choose strict or lenient handling.
type SectionResult[T any] struct {
	State SectionState
	Value T
	Err   *ParseError
}

// Query is the root AST node, rebuilt wholesale on every parse.
type Query struct {
	Frames      map[string]*Frame
	GraphResult SectionResult[*GraphSection]
	TradeResult SectionResult[*TradeSection]
}

// Graph returns the graph section under the lenient policy: nil when the
// section is absent or invalid. Strict callers inspect GraphResult.
func (q *Query) Graph() *GraphSection {
	if q.GraphResult.State == SectionPresent {
		return q.GraphResult.Value
	}
	return nil
}

// Trade returns the trade section under the lenient policy: nil when the
// section is absent or invalid. Strict callers inspect TradeResult.
func (q *Query) Trade() *TradeSection {
	if q.TradeResult.State == SectionPresent {
		return q.TradeResult.Value
	}
	return nil
}
