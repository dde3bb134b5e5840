// Package engine orchestrates a query run: parse, fetch, compute,
// simulate, plot. It owns the current code, the latest output, and a
// changed flag so callers can poll without re-rendering.
package engine

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"qql-engine/internal/calc"
	"qql-engine/internal/compute"
	"qql-engine/internal/frame"
	"qql-engine/internal/graph"
	"qql-engine/internal/interfaces"
	"qql-engine/internal/logger"
	"qql-engine/internal/parser"
	"qql-engine/internal/provider"
	"qql-engine/internal/runlog"
	"qql-engine/internal/store"
	"qql-engine/internal/trade"
)

// Status tracks where the engine is in its lifecycle.
type Status int

const (
	StatusEmpty Status = iota
	StatusReady
	StatusRunning
	StatusComplete
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusEmpty:
		return "empty"
	case StatusReady:
		return "ready"
	case StatusRunning:
		return "running"
	case StatusComplete:
		return "complete"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// OutputKind tags what an Output carries.
type OutputKind int

const (
	OutputNone OutputKind = iota
	OutputPending
	OutputData
	OutputError
)

func (k OutputKind) String() string {
	switch k {
	case OutputNone:
		return "none"
	case OutputPending:
		return "pending"
	case OutputData:
		return "data"
	case OutputError:
		return "error"
	}
	return "unknown"
}

// Trades bundles everything a trade section produced.
type Trades struct {
	TradesTable  *frame.DataFrame `json:"trades_table"`
	BuyRects     []trade.Rect     `json:"buy_rects"`
	StopRects    []trade.Rect     `json:"stop_rects"`
	TradeSummary *trade.Summary   `json:"trade_summary"`
	OverFrame    string           `json:"over_frame"`
}

// Output is one run's result. Kind says which fields are meaningful:
// Data fills Frames and the optional Graph and Trades, Error fills Err.
type Output struct {
	Kind   OutputKind
	RunID  string
	Frames map[string]*frame.DataFrame
	Graph  *graph.Graph
	Trades *Trades
	Err    error
}

type Engine struct {
	provider interfaces.Provider
	disp     *calc.Dispatcher
	runs     *runlog.Writer

	code    string
	query   *parser.Query
	output  *Output
	changed bool
	status  Status
}

func New(cfg *store.Config, p interfaces.Provider, runs *runlog.Writer) *Engine {
	return &Engine{
		provider: p,
		disp: calc.NewDispatcher(compute.NewRuntime(), calc.Options{
			DefaultPeriod:      cfg.Calc.DefaultPeriod,
			WorkgroupSize:      cfg.Compute.WorkgroupSize,
			ElemsPerInvocation: cfg.Compute.ElemsPerInvocation,
		}),
		runs:   runs,
		output: &Output{Kind: OutputNone},
	}
}

// Analyze parses code without adopting it, reporting the first error.
func (e *Engine) Analyze(code string) error {
	_, err := parser.Parse(code)
	return err
}

// UpdateCode adopts new query code. On a parse error the previous query
// is discarded and the error becomes the pending output.
func (e *Engine) UpdateCode(code string) error {
	e.code = code
	q, err := parser.Parse(code)
	if err != nil {
		e.query = nil
		e.status = StatusFailed
		e.setOutput(&Output{Kind: OutputError, Err: err})
		return err
	}
	e.query = q
	e.status = StatusReady
	e.setOutput(&Output{Kind: OutputPending})
	return nil
}

// Run executes the current query and replaces the output.
func (e *Engine) Run(ctx context.Context) error {
	if e.query == nil {
		return errors.New("no query loaded")
	}
	runID := uuid.NewString()
	ctx, span := logger.StartSpan(ctx, "engine.run")
	defer span.End()
	start := time.Now()
	e.status = StatusRunning
	logger.Info(ctx, "Starting query run", "run_id", runID, "frames", len(e.query.Frames))

	out, err := e.execute(ctx, runID)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		logger.ErrorWithErr(ctx, "Query run failed", err, "run_id", runID)
		e.status = StatusFailed
		e.setOutput(&Output{Kind: OutputError, RunID: runID, Err: err})
		e.appendRunLog(ctx, runlog.Entry{RunID: runID, Status: "error", Error: err.Error(), DurationMs: duration})
		return err
	}

	e.status = StatusComplete
	e.setOutput(out)
	names := make([]string, 0, len(out.Frames))
	for name := range out.Frames {
		names = append(names, name)
	}
	sort.Strings(names)
	entry := runlog.Entry{RunID: runID, Status: "ok", Frames: names, DurationMs: duration}
	if out.Trades != nil {
		entry.TradeFrames = out.Trades.TradesTable.Height()
	}
	e.appendRunLog(ctx, entry)
	logger.Run(ctx, runID, "ok", "frames", len(out.Frames), "duration_ms", duration)
	return nil
}

func (e *Engine) execute(ctx context.Context, runID string) (*Output, error) {
	reqs, err := provider.BuildRequests(e.query)
	if err != nil {
		return nil, err
	}
	data, err := e.provider.GetData(ctx, reqs)
	if err != nil {
		return nil, err
	}

	frames := make(map[string]*frame.DataFrame, len(e.query.Frames))
	for _, req := range reqs {
		f := e.query.Frames[req.Frame]
		raw, err := provider.ToFrame(data[req.Frame])
		if err != nil {
			return nil, err
		}
		computed, err := e.disp.ActionOverData(ctx, &f.Actions, raw)
		if err != nil {
			return nil, err
		}
		frames[req.Frame] = computed
		logger.Debug(ctx, "Frame computed", "run_id", runID,
			"frame", req.Frame, "rows", computed.Height(), "columns", computed.Width())
	}

	out := &Output{Kind: OutputData, RunID: runID, Frames: frames}

	if e.query.TradeResult.State == parser.SectionInvalid {
		logger.Warn(ctx, "Skipping invalid trade section", "run_id", runID,
			"parse_error", e.query.TradeResult.Err.Error())
	}
	if ts := e.query.Trade(); ts != nil {
		res, err := trade.Run(ctx, ts, frames)
		if err != nil {
			return nil, err
		}
		frames[ts.OverFrame] = res.Frame
		summary, err := trade.Summarize(res.Ledger, res.Frame)
		if err != nil {
			return nil, err
		}
		buy, stop, err := trade.GraphingRects(res.Ledger, res.Frame, ts.StopLoss)
		if err != nil {
			return nil, err
		}
		out.Trades = &Trades{
			TradesTable:  res.Ledger,
			BuyRects:     buy,
			StopRects:    stop,
			TradeSummary: summary,
			OverFrame:    ts.OverFrame,
		}
	}

	if e.query.GraphResult.State == parser.SectionInvalid {
		logger.Warn(ctx, "Skipping invalid graph section", "run_id", runID,
			"parse_error", e.query.GraphResult.Err.Error())
	}
	if gs := e.query.Graph(); gs != nil {
		g, err := graph.Build(ctx, gs, frames)
		if err != nil {
			return nil, err
		}
		if out.Trades != nil {
			if err := g.AddTradeRects(frames[out.Trades.OverFrame], gs.XAxis); err != nil {
				return nil, err
			}
		}
		out.Graph = g
	}
	return out, nil
}

func (e *Engine) setOutput(out *Output) {
	e.output = out
	e.changed = true
}

func (e *Engine) appendRunLog(ctx context.Context, entry runlog.Entry) {
	if e.runs == nil {
		return
	}
	if err := e.runs.Append(entry); err != nil {
		logger.Warn(ctx, "Failed to append run log", "error", err)
	}
}

// Output returns the latest output and clears the changed flag.
func (e *Engine) Output() *Output {
	e.changed = false
	return e.output
}

// OutputChanged reports whether a new output is waiting since the last
// Output call.
func (e *Engine) OutputChanged() bool { return e.changed }

func (e *Engine) Status() Status { return e.status }

// Code returns the engine's current query source.
func (e *Engine) Code() string { return e.code }
