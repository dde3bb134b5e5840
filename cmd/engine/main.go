package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qql-engine/internal/engine"
	"qql-engine/internal/frame"
	"qql-engine/internal/graph"
	"qql-engine/internal/logger"
	"qql-engine/internal/trace"
)

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [-config config.yaml] <query.qql>\n", os.Args[0])
		os.Exit(2)
	}
	queryPath := flag.Arg(0)

	must(initializeSystem())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer logger.Shutdown(context.Background())
	defer trace.Shutdown(context.Background())

	cfg, err := loadConfig(ctx, *configPath)
	must(err)

	runs := initializeRunLog(ctx, cfg)
	p, err := initializeProvider(ctx, cfg)
	must(err)
	eng := initializeEngine(cfg, p, runs)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	runFile(ctx, eng, queryPath)

	if !cfg.Watch.Enabled {
		if eng.Status() == engine.StatusFailed {
			os.Exit(1)
		}
		return
	}

	logger.Info(ctx, "Watching query file", "path", queryPath, "poll_seconds", cfg.Watch.PollSeconds)
	tick := time.NewTicker(time.Duration(cfg.Watch.PollSeconds) * time.Second)
	defer tick.Stop()

	lastMod := fileModTime(queryPath)
	for {
		select {
		case <-tick.C:
			mod := fileModTime(queryPath)
			if mod.After(lastMod) {
				lastMod = mod
				runFile(ctx, eng, queryPath)
			}
		case <-sigc:
			logger.Info(ctx, "Shutting down")
			return
		case <-ctx.Done():
			return
		}
	}
}

// runFile loads the query source, runs it, and prints the output as JSON.
// Failures end up in the engine output rather than aborting the process so
// watch mode survives a bad edit.
func runFile(ctx context.Context, eng *engine.Engine, path string) {
	src, err := os.ReadFile(path)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to read query file", err, "path", path)
		return
	}
	if err := eng.UpdateCode(string(src)); err == nil {
		_ = eng.Run(ctx)
	}
	printOutput(eng.Output())
}

type renderedOutput struct {
	Kind   string                      `json:"kind"`
	RunID  string                      `json:"run_id,omitempty"`
	Frames map[string]*frame.DataFrame `json:"frames,omitempty"`
	Graph  *graph.Graph                `json:"graph,omitempty"`
	Trades *engine.Trades              `json:"trades,omitempty"`
	Error  string                      `json:"error,omitempty"`
}

func printOutput(out *engine.Output) {
	r := renderedOutput{
		Kind:   out.Kind.String(),
		RunID:  out.RunID,
		Frames: out.Frames,
		Graph:  out.Graph,
		Trades: out.Trades,
	}
	if out.Err != nil {
		r.Error = out.Err.Error()
	}
	b, err := json.Marshal(r)
	if err != nil {
		log.Printf("render output: %v", err)
		return
	}
	fmt.Println(string(b))
}

func fileModTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
