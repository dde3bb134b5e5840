package graph

import (
	"context"
	"math"
	"testing"

	"qql-engine/internal/frame"
	"qql-engine/internal/parser"
)

func ohlcFrame(t *testing.T) *frame.DataFrame {
	t.Helper()
	df, err := frame.New(
		frame.NewI64("timestamp", []int64{10, 20, 30}),
		frame.NewF64("open", []float64{1, 2, 3}),
		frame.NewF64("high", []float64{2, 3, 4}),
		frame.NewF64("low", []float64{0.5, 1.5, 2.5}),
		frame.NewF64("close", []float64{1.5, 2.5, 3.5}),
	)
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	return df
}

func TestBuildLineExpandsSeries(t *testing.T) {
	sec := &parser.GraphSection{
		XAxis: "timestamp",
		Commands: []parser.DrawCommand{
			{Kind: parser.DrawLine, Name: "close", Series: []string{"close", "open"}, Frame: "prices"},
		},
	}
	g, err := Build(context.Background(), sec, map[string]*frame.DataFrame{"prices": ohlcFrame(t)})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if g.Title != "QQL Plot" {
		t.Errorf("title = %q", g.Title)
	}
	if len(g.Data) != 2 {
		t.Fatalf("elements = %d, want one line per series", len(g.Data))
	}
	if g.Data[0].Name != "prices - close" || g.Data[1].Name != "prices - open" {
		t.Errorf("names = %q, %q", g.Data[0].Name, g.Data[1].Name)
	}
	if g.Data[0].Y[2] != 3.5 {
		t.Errorf("line y = %v", g.Data[0].Y)
	}
	for i, want := range []float64{10, 20, 30} {
		if g.AxisLabels[i] != want {
			t.Errorf("axis labels = %v", g.AxisLabels)
			break
		}
	}
}

func TestBuildBarUsesYColumn(t *testing.T) {
	sec := &parser.GraphSection{
		XAxis: "timestamp",
		Commands: []parser.DrawCommand{
			{Kind: parser.DrawBar, Y: "open", Frame: "prices"},
		},
	}
	g, err := Build(context.Background(), sec, map[string]*frame.DataFrame{"prices": ohlcFrame(t)})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	d := g.Data[0]
	if d.Kind != KindBar {
		t.Errorf("kind = %v", d.Kind)
	}
	for i, want := range []float64{1, 2, 3} {
		if d.Y[i] != want {
			t.Errorf("bar y = %v, want open values", d.Y)
			break
		}
	}
}

func TestBuildCandleZipsOHLC(t *testing.T) {
	sec := &parser.GraphSection{
		XAxis: "timestamp",
		Commands: []parser.DrawCommand{
			{Kind: parser.DrawCandle, Name: "Candle", Open: "open", High: "high", Low: "low", Close: "close", Frame: "prices"},
		},
	}
	g, err := Build(context.Background(), sec, map[string]*frame.DataFrame{"prices": ohlcFrame(t)})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	d := g.Data[0]
	if d.Len() != 3 {
		t.Fatalf("len = %d", d.Len())
	}
	if d.Candles[1] != (Candle{2, 3, 1.5, 2.5}) {
		t.Errorf("candle[1] = %v", d.Candles[1])
	}
}

func TestBuildUnknownFrameIsError(t *testing.T) {
	sec := &parser.GraphSection{
		XAxis: "timestamp",
		Commands: []parser.DrawCommand{
			{Kind: parser.DrawBar, Y: "open", Frame: "nope"},
		},
	}
	if _, err := Build(context.Background(), sec, map[string]*frame.DataFrame{"prices": ohlcFrame(t)}); err == nil {
		t.Error("expected unknown-frame error")
	}
}

func TestAxisFallsBackToRowIndex(t *testing.T) {
	sec := &parser.GraphSection{
		XAxis: "no_such_axis",
		Commands: []parser.DrawCommand{
			{Kind: parser.DrawBar, Y: "open", Frame: "prices"},
		},
	}
	g, err := Build(context.Background(), sec, map[string]*frame.DataFrame{"prices": ohlcFrame(t)})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for i, want := range []float64{0, 1, 2} {
		if g.Data[0].X[i] != want {
			t.Errorf("x = %v, want row indexes", g.Data[0].X)
			break
		}
	}
}

func TestNullsRenderAsZero(t *testing.T) {
	df, _ := frame.New(
		frame.NewI64("timestamp", []int64{1, 2}),
		frame.NewF64Opt("close", []float64{1.5, 0}, []bool{true, false}),
	)
	sec := &parser.GraphSection{
		XAxis: "timestamp",
		Commands: []parser.DrawCommand{
			{Kind: parser.DrawLine, Series: []string{"close"}, Frame: "prices"},
		},
	}
	g, err := Build(context.Background(), sec, map[string]*frame.DataFrame{"prices": df})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if g.Data[0].Y[1] != 0 {
		t.Errorf("null y = %v, want 0", g.Data[0].Y[1])
	}
}

func TestMaxMin(t *testing.T) {
	g := &Graph{Data: []*DrawType{
		{Kind: KindLine, Y: []float64{1, 5, 3}},
		{Kind: KindCandle, Candles: []Candle{{2, 9, 0.5, 3}}},
	}}
	if g.Max() != 9 {
		t.Errorf("max = %v, want 9", g.Max())
	}
	if g.Min() != 0.5 {
		t.Errorf("min = %v, want 0.5", g.Min())
	}
	empty := &Graph{}
	if !math.IsNaN(empty.Max()) || !math.IsNaN(empty.Min()) {
		t.Error("empty graph extrema should be NaN")
	}
}

func TestAddTradeRects(t *testing.T) {
	df, _ := frame.New(
		frame.NewI64("timestamp", []int64{10, 20, 30, 40}),
		frame.NewF64("close", []float64{100, 101, 102, 103}),
		frame.NewStrOpt("entry", []string{"a", "", "b", ""}, []bool{true, false, true, false}),
		frame.NewStrOpt("exit", []string{"", "a", "", ""}, []bool{false, true, false, false}),
		frame.NewStrOpt("limit", []string{"", "", "", "b"}, []bool{false, false, false, true}),
	)
	g := &Graph{}
	if err := g.AddTradeRects(df, "timestamp"); err != nil {
		t.Fatalf("rects: %v", err)
	}
	if len(g.Data) != 2 {
		t.Fatalf("elements = %d, want exits and stops", len(g.Data))
	}
	exits := g.Data[0]
	if exits.Kind != KindGreenRect || exits.Name != "Trades - Exits" {
		t.Errorf("exits = %v %q", exits.Kind, exits.Name)
	}
	if exits.Spans[0] != (Span{XStart: 10, XEnd: 20, Strike: 100}) {
		t.Errorf("exit span = %v", exits.Spans[0])
	}
	stops := g.Data[1]
	if stops.Kind != KindRedRect {
		t.Errorf("stops kind = %v", stops.Kind)
	}
	if stops.Spans[0] != (Span{XStart: 30, XEnd: 40, Strike: 102}) {
		t.Errorf("stop span = %v", stops.Spans[0])
	}
}

func TestAddTradeRectsNoMarkersIsNoop(t *testing.T) {
	g := &Graph{}
	if err := g.AddTradeRects(ohlcFrame(t), "timestamp"); err != nil {
		t.Fatalf("rects: %v", err)
	}
	if len(g.Data) != 0 {
		t.Errorf("elements = %d, want 0", len(g.Data))
	}
}
