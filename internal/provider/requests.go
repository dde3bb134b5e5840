// Package provider turns parsed frames into candle data. The static
// provider synthesizes deterministic series for offline runs; the HTTP
// provider fetches real bars from a candle API. Both sit behind the
// interfaces.Provider contract so the engine never knows which one it
// is talking to.
package provider

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"qql-engine/internal/parser"
	"qql-engine/internal/types"
)

const dateLayout = "20060102"

// BuildRequests flattens a query's frames into provider requests,
// validating dates and intervals up front so fetch errors surface
// before any network work happens. Requests come out in frame-name
// order for deterministic fetching.
func BuildRequests(q *parser.Query) ([]types.Request, error) {
	names := make([]string, 0, len(q.Frames))
	for name := range q.Frames {
		names = append(names, name)
	}
	sort.Strings(names)

	reqs := make([]types.Request, 0, len(names))
	for _, name := range names {
		f := q.Frames[name]
		req := types.Request{Frame: name, Ticker: f.Model.Ticker}
		switch f.Model.Time.Kind {
		case parser.TimeLive:
			req.Live = true
			req.Tick = f.Model.Time.Interval
			req.For = f.Model.Time.Duration
			tick, err := ParseInterval(req.Tick)
			if err != nil {
				return nil, fmt.Errorf("frame %q: TICK %w", name, err)
			}
			span, err := ParseInterval(req.For)
			if err != nil {
				return nil, fmt.Errorf("frame %q: FOR %w", name, err)
			}
			if span < tick {
				return nil, fmt.Errorf("frame %q: FOR %s is shorter than TICK %s", name, req.For, req.Tick)
			}
		default:
			req.From = f.Model.Time.From
			req.To = f.Model.Time.To
			from, err := time.Parse(dateLayout, req.From)
			if err != nil {
				return nil, fmt.Errorf("frame %q: FROM date %q is not yyyymmdd", name, req.From)
			}
			to, err := time.Parse(dateLayout, req.To)
			if err != nil {
				return nil, fmt.Errorf("frame %q: TO date %q is not yyyymmdd", name, req.To)
			}
			if to.Before(from) {
				return nil, fmt.Errorf("frame %q: TO %s precedes FROM %s", name, req.To, req.From)
			}
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// ParseInterval reads an interval literal like "30s", "5m", "2h", or
// "3d" into a duration.
func ParseInterval(raw string) (time.Duration, error) {
	if len(raw) < 2 {
		return 0, fmt.Errorf("interval %q is too short", raw)
	}
	n, err := strconv.Atoi(raw[:len(raw)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("interval %q needs a positive count", raw)
	}
	var unit time.Duration
	switch raw[len(raw)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	default:
		return 0, fmt.Errorf("interval %q has unknown unit %q", raw, string(raw[len(raw)-1]))
	}
	return time.Duration(n) * unit, nil
}
