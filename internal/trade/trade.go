// Package trade simulates TRADE sections over computed frames. The
// simulator scans the reference frame row by row, stamps marker columns
// with trade ids, and derives a ledger, a performance summary, and plot
// geometry from them.
package trade

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"qql-engine/internal/frame"
	"qql-engine/internal/logger"
	"qql-engine/internal/parser"
)

// Result carries the simulation output: the reference frame with marker
// columns stamped, and the trade ledger.
type Result struct {
	Frame  *frame.DataFrame
	Ledger *frame.DataFrame
}

// Summary aggregates ledger outcomes. Averages are NaN when no trades
// closed; WinRate is 0 when no trade moved in either direction.
type Summary struct {
	AvgWin      float64   `json:"avg_win"`
	AvgLoss     float64   `json:"avg_loss"`
	WinRate     float64   `json:"win_rate"`
	TotalTrades int       `json:"total_trades"`
	BarChart    []float64 `json:"bar_chart_data"`
}

// Rect is a plot quad, four corners of [x, y].
type Rect [4][2]float64

// idAllocator hands out ids that sort in open order. The uuid suffix
// keeps ids unique across runs that land in the same ledger.
type idAllocator struct {
	seq int
}

func (a *idAllocator) next() string {
	a.seq++
	return fmt.Sprintf("%04d-%s", a.seq, uuid.NewString()[:8])
}

// Run simulates a trade section against the computed frames. Entry and
// exit references are frame.column pairs; every referenced column must
// match the reference frame's height. Degenerate sections (too few
// references, mismatched heights, empty frames) yield an empty ledger
// rather than an error.
func Run(ctx context.Context, sec *parser.TradeSection, frames map[string]*frame.DataFrame) (*Result, error) {
	ctx, span := logger.StartSpan(ctx, "trade.run")
	defer span.End()

	over, ok := frames[sec.OverFrame]
	if !ok {
		return nil, fmt.Errorf("unknown frame %q in OVER_FRAME", sec.OverFrame)
	}
	out := over.Clone()

	entryCols, err := resolveRefs(sec.Entry, frames)
	if err != nil {
		return nil, err
	}
	exitCols, err := resolveRefs(sec.Exit, frames)
	if err != nil {
		return nil, err
	}

	n := out.Height()
	if n == 0 || len(entryCols) < 2 || len(exitCols) < 1 || !heightsMatch(n, entryCols, exitCols) {
		logger.Debug(ctx, "degenerate trade section, emitting empty ledger",
			"frame", sec.OverFrame, "rows", n,
			"entry_refs", len(entryCols), "exit_refs", len(exitCols))
		return &Result{Frame: out, Ledger: emptyLedger()}, nil
	}

	entryMark := newMarker(n)
	exitMark := newMarker(n)
	limitMark := newMarker(n)
	alloc := &idAllocator{}

	hold := sec.Hold
	if hold < 1 {
		hold = 1
	}

	row := 0
	opened := 0
	for row < n {
		if !rowWithin(entryCols, row, sec.WithinEntry) {
			row++
			continue
		}

		id := alloc.next()
		entryMark.stamp(row, id)
		opened++
		entryVal, _ := entryCols[0].at(row)
		limitVal := entryVal * (1 - sec.StopLoss)

		closed := false
		for step := 1; step <= hold; step++ {
			idx := row + step
			if idx >= n {
				break
			}
			if rowWithin(exitCols, idx, sec.WithinExit) {
				exitMark.stamp(idx, id)
				closed = true
				break
			}
			if v, ok := exitCols[0].at(idx); ok && v < limitVal {
				limitMark.stamp(idx, id)
				closed = true
				break
			}
		}
		if !closed {
			last := row + hold
			if last > n-1 {
				last = n - 1
			}
			exitMark.stamp(last, id)
		}
		row += hold
	}
	logger.Debug(ctx, "trade scan complete", "frame", sec.OverFrame, "opened", opened)

	if err := out.WithColumn(entryMark.series("entry")); err != nil {
		return nil, err
	}
	if err := out.WithColumn(exitMark.series("exit")); err != nil {
		return nil, err
	}
	if err := out.WithColumn(limitMark.series("limit")); err != nil {
		return nil, err
	}

	ledger, err := buildLedger(out)
	if err != nil {
		return nil, err
	}
	return &Result{Frame: out, Ledger: ledger}, nil
}

// refColumn is one resolved reference: values plus their validity mask.
type refColumn struct {
	vals  []float64
	valid []bool
}

func (c refColumn) at(row int) (float64, bool) {
	return c.vals[row], c.valid[row]
}

// resolveRefs reads frame.column references into columns.
func resolveRefs(refs []string, frames map[string]*frame.DataFrame) ([]refColumn, error) {
	cols := make([]refColumn, 0, len(refs))
	for _, ref := range refs {
		fname, cname, ok := strings.Cut(ref, ".")
		if !ok {
			return nil, fmt.Errorf("reference %q must name frame.column", ref)
		}
		df, found := frames[fname]
		if !found {
			return nil, fmt.Errorf("unknown frame %q in reference %q", fname, ref)
		}
		s, err := df.Column(cname)
		if err != nil {
			return nil, fmt.Errorf("reference %q: %w", ref, err)
		}
		vals, valid, err := s.AsF64Opt()
		if err != nil {
			return nil, fmt.Errorf("reference %q: %w", ref, err)
		}
		cols = append(cols, refColumn{vals: vals, valid: valid})
	}
	return cols, nil
}

func heightsMatch(n int, groups ...[]refColumn) bool {
	for _, cols := range groups {
		for _, c := range cols {
			if len(c.vals) != n {
				return false
			}
		}
	}
	return true
}

// rowWithin reports whether every adjacent pair of columns agrees at
// row to within thr. Fewer than two columns never match, and a missing
// value fails the whole row.
func rowWithin(cols []refColumn, row int, thr float64) bool {
	if len(cols) < 2 {
		return false
	}
	for i := 0; i+1 < len(cols); i++ {
		a, okA := cols[i].at(row)
		b, okB := cols[i+1].at(row)
		if !okA || !okB || math.Abs(a-b) > thr {
			return false
		}
	}
	return true
}

type marker struct {
	ids   []string
	valid []bool
}

func newMarker(n int) *marker {
	return &marker{ids: make([]string, n), valid: make([]bool, n)}
}

func (m *marker) stamp(row int, id string) {
	m.ids[row] = id
	m.valid[row] = true
}

func (m *marker) series(name string) *frame.Series {
	return frame.NewStrOpt(name, m.ids, m.valid)
}

// buildLedger derives the trade ledger from a frame carrying marker
// columns. Each row joins a trade id with its entry timestamp and, when
// present, its exit and stop timestamps. Trades that never closed are
// dropped.
func buildLedger(df *frame.DataFrame) (*frame.DataFrame, error) {
	for _, name := range []string{"timestamp", "entry", "exit", "limit"} {
		if !df.Has(name) {
			return emptyLedger(), nil
		}
	}
	ts, _ := df.Column("timestamp")
	entry, _ := df.Column("entry")
	exit, _ := df.Column("exit")
	limit, _ := df.Column("limit")

	type row struct {
		entryTs           int64
		exitTs, limitTs   int64
		hasExit, hasLimit bool
	}
	order := make([]string, 0)
	byID := make(map[string]*row)
	get := func(id string) *row {
		r, ok := byID[id]
		if !ok {
			r = &row{}
			byID[id] = r
			order = append(order, id)
		}
		return r
	}
	for i := 0; i < df.Height(); i++ {
		if entry.IsValidAt(i) {
			get(entry.Strs[i]).entryTs = ts.Int[i]
		}
		if exit.IsValidAt(i) {
			r := get(exit.Strs[i])
			r.exitTs = ts.Int[i]
			r.hasExit = true
		}
		if limit.IsValidAt(i) {
			r := get(limit.Strs[i])
			r.limitTs = ts.Int[i]
			r.hasLimit = true
		}
	}

	var (
		ids                  []string
		entries, exits, lims []int64
		exitValid, limValid  []bool
	)
	for _, id := range order {
		r := byID[id]
		if !r.hasExit && !r.hasLimit {
			continue
		}
		ids = append(ids, id)
		entries = append(entries, r.entryTs)
		exits = append(exits, r.exitTs)
		exitValid = append(exitValid, r.hasExit)
		lims = append(lims, r.limitTs)
		limValid = append(limValid, r.hasLimit)
	}
	if len(ids) == 0 {
		return emptyLedger(), nil
	}
	return frame.New(
		frame.NewStrOpt("id", ids, nil),
		frame.NewI64("Entry", entries),
		&frame.Series{Name: "Exit", DType: frame.I64, Int: exits, Valid: exitValid},
		&frame.Series{Name: "Limit", DType: frame.I64, Int: lims, Valid: limValid},
	)
}

func emptyLedger() *frame.DataFrame {
	df, _ := frame.New(
		frame.NewStrOpt("id", nil, nil),
		frame.NewI64("Entry", nil),
		frame.NewI64("Exit", nil),
		frame.NewI64("Limit", nil),
	)
	return df
}

// openLookup maps timestamps to the frame's open price.
func openLookup(df *frame.DataFrame) (map[int64]float64, error) {
	ts, err := df.Column("timestamp")
	if err != nil {
		return nil, err
	}
	open, err := df.Column("open")
	if err != nil {
		return nil, fmt.Errorf("summary needs an open column: %w", err)
	}
	vals, _, err := open.AsF64Opt()
	if err != nil {
		return nil, err
	}
	m := make(map[int64]float64, len(vals))
	for i, t := range ts.Int {
		m[t] = vals[i]
	}
	return m, nil
}

// Summarize computes aggregate performance from a ledger. The bar chart
// holds each closed trade's raw price delta; the averages scale that
// delta by the entry open over 1000 units.
func Summarize(ledger, over *frame.DataFrame) (*Summary, error) {
	s := &Summary{BarChart: []float64{}}
	if ledger.Height() == 0 {
		s.AvgWin = math.NaN()
		s.AvgLoss = math.NaN()
		return s, nil
	}
	openAt, err := openLookup(over)
	if err != nil {
		return nil, err
	}
	entry, _ := ledger.Column("Entry")
	exit, _ := ledger.Column("Exit")
	limit, _ := ledger.Column("Limit")

	var winSum, lossSum float64
	var positives, negatives int
	for i := 0; i < ledger.Height(); i++ {
		entryOpen, ok := openAt[entry.Int[i]]
		if !ok {
			continue
		}
		record := func(closeTs int64, isWin bool) {
			closeOpen, found := openAt[closeTs]
			if !found {
				return
			}
			delta := closeOpen - entryOpen
			s.BarChart = append(s.BarChart, delta)
			if isWin {
				winSum += entryOpen / 1000 * delta
			} else {
				lossSum += entryOpen / 1000 * delta
			}
			if delta > 0 {
				positives++
			} else if delta < 0 {
				negatives++
			}
		}
		if limit != nil && limit.IsValidAt(i) {
			record(limit.Int[i], false)
		}
		if exit != nil && exit.IsValidAt(i) {
			record(exit.Int[i], true)
		}
	}

	s.TotalTrades = len(s.BarChart)
	if s.TotalTrades == 0 {
		s.AvgWin = math.NaN()
		s.AvgLoss = math.NaN()
		return s, nil
	}
	s.AvgWin = winSum / float64(s.TotalTrades)
	s.AvgLoss = lossSum / float64(s.TotalTrades)
	if positives+negatives > 0 {
		s.WinRate = float64(positives) / float64(positives+negatives) * 100
	}
	return s, nil
}

// GraphingRects builds plot quads for each ledger row: a quad from the
// entry open to the close open, and a quad from the entry open down to
// the stop level.
func GraphingRects(ledger, over *frame.DataFrame, stopLoss float64) (buy, stop []Rect, err error) {
	if ledger.Height() == 0 {
		return nil, nil, nil
	}
	openAt, err := openLookup(over)
	if err != nil {
		return nil, nil, err
	}
	entry, _ := ledger.Column("Entry")
	exit, _ := ledger.Column("Exit")
	limit, _ := ledger.Column("Limit")

	for i := 0; i < ledger.Height(); i++ {
		leftTs := entry.Int[i]
		rightTs := leftTs + 1
		switch {
		case exit != nil && exit.IsValidAt(i):
			rightTs = exit.Int[i]
		case limit != nil && limit.IsValidAt(i):
			rightTs = limit.Int[i]
		}
		// Missing lookups read as 0 so every ledger row yields a quad.
		entryOpen := openAt[leftTs]
		rightOpen := openAt[rightTs]
		limitDown := entryOpen * (1 - stopLoss)

		left, right := float64(leftTs), float64(rightTs)
		buy = append(buy, Rect{
			{left, rightOpen},
			{right, rightOpen},
			{right, entryOpen},
			{left, entryOpen},
		})
		stop = append(stop, Rect{
			{left, entryOpen},
			{right, entryOpen},
			{right, limitDown},
			{left, limitDown},
		})
	}
	return buy, stop, nil
}
