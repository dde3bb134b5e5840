// Package graph flattens GRAPH sections into plain draw lists a
// frontend can render without knowing anything about frames.
package graph

import (
	"context"
	"fmt"
	"math"

	"qql-engine/internal/frame"
	"qql-engine/internal/logger"
	"qql-engine/internal/parser"
)

// Kind is a draw primitive.
type Kind int

const (
	KindLine Kind = iota
	KindBar
	KindCandle
	KindGreenRect
	KindRedRect
)

func (k Kind) String() string {
	switch k {
	case KindLine:
		return "line"
	case KindBar:
		return "bar"
	case KindCandle:
		return "candle"
	case KindGreenRect:
		return "green_rect"
	case KindRedRect:
		return "red_rect"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Candle holds open, high, low, close.
type Candle [4]float64

// Span is a horizontal trade band from entry to close at one price.
type Span struct {
	XStart float64 `json:"x_start"`
	XEnd   float64 `json:"x_end"`
	Strike float64 `json:"strike"`
}

// DrawType is one renderable element. Exactly one of Y, Candles, or
// Spans is populated, depending on Kind.
type DrawType struct {
	Kind    Kind      `json:"kind"`
	Name    string    `json:"name"`
	X       []float64 `json:"x"`
	Y       []float64 `json:"y,omitempty"`
	Candles []Candle  `json:"candles,omitempty"`
	Spans   []Span    `json:"spans,omitempty"`
}

func (d *DrawType) Len() int {
	switch d.Kind {
	case KindCandle:
		return len(d.Candles)
	case KindGreenRect, KindRedRect:
		return len(d.Spans)
	default:
		return len(d.Y)
	}
}

// Graph is the full draw list for one query.
type Graph struct {
	Title      string      `json:"title"`
	AxisLabels []float64   `json:"axis_labels"`
	Data       []*DrawType `json:"data"`
}

// Max returns the largest y value across all elements, or NaN when the
// graph is empty.
func (g *Graph) Max() float64 {
	max := math.Inf(-1)
	found := false
	g.eachY(func(v float64) {
		found = true
		if v > max {
			max = v
		}
	})
	if !found {
		return math.NaN()
	}
	return max
}

// Min returns the smallest y value across all elements, or NaN when the
// graph is empty.
func (g *Graph) Min() float64 {
	min := math.Inf(1)
	found := false
	g.eachY(func(v float64) {
		found = true
		if v < min {
			min = v
		}
	})
	if !found {
		return math.NaN()
	}
	return min
}

func (g *Graph) eachY(fn func(float64)) {
	for _, d := range g.Data {
		switch d.Kind {
		case KindCandle:
			for _, c := range d.Candles {
				fn(c[1])
				fn(c[2])
			}
		case KindGreenRect, KindRedRect:
			for _, s := range d.Spans {
				fn(s.Strike)
			}
		default:
			for _, v := range d.Y {
				fn(v)
			}
		}
	}
}

// Build flattens a graph section against the computed frames. Every
// command must name a known frame. The x axis comes from the section's
// axis column when the frame has it, otherwise from the row index; the
// first command's x doubles as the shared axis labels.
func Build(ctx context.Context, sec *parser.GraphSection, frames map[string]*frame.DataFrame) (*Graph, error) {
	ctx, span := logger.StartSpan(ctx, "graph.build")
	defer span.End()

	g := &Graph{Title: "QQL Plot"}
	for _, cmd := range sec.Commands {
		df, ok := frames[cmd.Frame]
		if !ok {
			return nil, fmt.Errorf("unknown frame %q in graph command", cmd.Frame)
		}
		x := axisValues(df, sec.XAxis)
		if g.AxisLabels == nil {
			g.AxisLabels = x
		}

		switch cmd.Kind {
		case parser.DrawLine:
			for _, field := range cmd.Series {
				y, err := columnValues(df, field)
				if err != nil {
					return nil, err
				}
				g.Data = append(g.Data, &DrawType{
					Kind: KindLine,
					Name: fmt.Sprintf("%s - %s", cmd.Frame, field),
					X:    x,
					Y:    y,
				})
			}
		case parser.DrawBar:
			y, err := columnValues(df, cmd.Y)
			if err != nil {
				return nil, err
			}
			g.Data = append(g.Data, &DrawType{
				Kind: KindBar,
				Name: fmt.Sprintf("%s - %s", cmd.Frame, cmd.Y),
				X:    x,
				Y:    y,
			})
		case parser.DrawCandle:
			candles, err := candleValues(df, cmd)
			if err != nil {
				return nil, err
			}
			g.Data = append(g.Data, &DrawType{
				Kind:    KindCandle,
				Name:    fmt.Sprintf("%s - %s", cmd.Frame, cmd.Name),
				X:       x,
				Candles: candles,
			})
		}
	}
	logger.Debug(ctx, "graph built", "elements", len(g.Data))
	return g, nil
}

// axisValues reads the axis column as floats, falling back to the row
// index when the frame has no such column.
func axisValues(df *frame.DataFrame, axis string) []float64 {
	if s, err := df.Column(axis); err == nil {
		if vals, valid, err := s.AsF64Opt(); err == nil {
			for i := range vals {
				if !valid[i] {
					vals[i] = 0
				}
			}
			return vals
		}
	}
	vals := make([]float64, df.Height())
	for i := range vals {
		vals[i] = float64(i)
	}
	return vals
}

func columnValues(df *frame.DataFrame, name string) ([]float64, error) {
	s, err := df.Column(name)
	if err != nil {
		return nil, err
	}
	vals, valid, err := s.AsF64Opt()
	if err != nil {
		return nil, fmt.Errorf("column %q: %w", name, err)
	}
	for i := range vals {
		if !valid[i] || math.IsNaN(vals[i]) {
			vals[i] = 0
		}
	}
	return vals, nil
}

func candleValues(df *frame.DataFrame, cmd parser.DrawCommand) ([]Candle, error) {
	o, err := columnValues(df, cmd.Open)
	if err != nil {
		return nil, err
	}
	h, err := columnValues(df, cmd.High)
	if err != nil {
		return nil, err
	}
	l, err := columnValues(df, cmd.Low)
	if err != nil {
		return nil, err
	}
	c, err := columnValues(df, cmd.Close)
	if err != nil {
		return nil, err
	}
	candles := make([]Candle, len(o))
	for i := range candles {
		candles[i] = Candle{o[i], h[i], l[i], c[i]}
	}
	return candles, nil
}

// AddTradeRects appends trade bands from a frame carrying entry, exit,
// and limit marker columns. Exits draw green, stops draw red; each band
// runs from the entry x to the close x at the entry close price.
func (g *Graph) AddTradeRects(df *frame.DataFrame, axis string) error {
	for _, name := range []string{"entry", "exit", "limit"} {
		if !df.Has(name) {
			return nil
		}
	}
	close, err := columnValues(df, "close")
	if err != nil {
		return err
	}
	x := axisValues(df, axis)

	entry, _ := df.Column("entry")
	exit, _ := df.Column("exit")
	limit, _ := df.Column("limit")

	entryAt := make(map[string]int)
	for i := 0; i < df.Height(); i++ {
		if entry.IsValidAt(i) {
			entryAt[entry.Strs[i]] = i
		}
	}

	var exits, stops []Span
	collect := func(s *frame.Series, out *[]Span) {
		for i := 0; i < df.Height(); i++ {
			if !s.IsValidAt(i) {
				continue
			}
			from, ok := entryAt[s.Strs[i]]
			if !ok {
				continue
			}
			*out = append(*out, Span{XStart: x[from], XEnd: x[i], Strike: close[from]})
		}
	}
	collect(exit, &exits)
	collect(limit, &stops)

	if len(exits) > 0 {
		g.Data = append(g.Data, &DrawType{Kind: KindGreenRect, Name: "Trades - Exits", Spans: exits})
	}
	if len(stops) > 0 {
		g.Data = append(g.Data, &DrawType{Kind: KindRedRect, Name: "Trades - Stops", Spans: stops})
	}
	return nil
}
