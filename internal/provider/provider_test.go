package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"qql-engine/internal/parser"
	"qql-engine/internal/types"
)

func queryFor(t *testing.T, src string) *parser.Query {
	t.Helper()
	q, err := parser.Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return q
}

func TestBuildRequests(t *testing.T) {
	q := queryFor(t, `
FRAME prices
HISTORICAL
TICKER msft
FROM 20240101 TO 20240301
PULL close

FRAME live_feed
LIVE
TICKER btc
TICK 30s FOR 2h
PULL close
`)
	reqs, err := BuildRequests(q)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(reqs) != 2 {
		t.Fatalf("requests = %d, want 2", len(reqs))
	}
	// Sorted by frame name.
	if reqs[0].Frame != "live_feed" || reqs[1].Frame != "prices" {
		t.Errorf("order = %q, %q", reqs[0].Frame, reqs[1].Frame)
	}
	if !reqs[0].Live || reqs[0].Tick != "30s" || reqs[0].For != "2h" {
		t.Errorf("live request = %+v", reqs[0])
	}
	if reqs[1].Live || reqs[1].From != "20240101" || reqs[1].To != "20240301" {
		t.Errorf("historical request = %+v", reqs[1])
	}
}

func TestBuildRequestsRejectsBadDates(t *testing.T) {
	cases := map[string]string{
		"not yyyymmdd": "FROM 20241301 TO 20240301",
		"reversed":     "FROM 20240301 TO 20240101",
	}
	for name, timeSpec := range cases {
		q := queryFor(t, "FRAME f\nHISTORICAL\nTICKER x\n"+timeSpec+"\nPULL close\n")
		if _, err := BuildRequests(q); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestBuildRequestsRejectsForShorterThanTick(t *testing.T) {
	q := queryFor(t, "FRAME f\nLIVE\nTICKER x\nTICK 2h FOR 30s\nPULL close\n")
	if _, err := BuildRequests(q); err == nil {
		t.Error("expected FOR < TICK error")
	}
}

func TestParseInterval(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"30s", 30 * time.Second},
		{"5m", 5 * time.Minute},
		{"2h", 2 * time.Hour},
		{"3d", 72 * time.Hour},
	}
	for _, tc := range cases {
		got, err := ParseInterval(tc.in)
		if err != nil {
			t.Errorf("%q: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%q = %v, want %v", tc.in, got, tc.want)
		}
	}
	for _, bad := range []string{"", "s", "30", "5w", "-2h", "0m"} {
		if _, err := ParseInterval(bad); err == nil {
			t.Errorf("%q should not parse", bad)
		}
	}
}

func TestStaticIsDeterministic(t *testing.T) {
	req := types.Request{Frame: "prices", Ticker: "msft", From: "20240101", To: "20240110"}
	p := NewStatic()
	a, err := p.GetData(context.Background(), []types.Request{req})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := p.GetData(context.Background(), []types.Request{req})
	if !reflect.DeepEqual(a, b) {
		t.Error("same request should generate identical candles")
	}
	candles := a["prices"]
	if len(candles) != 10 {
		t.Fatalf("candles = %d, want 10 daily bars", len(candles))
	}
	for i, c := range candles {
		if c.High < c.Open || c.High < c.Close || c.Low > c.Open || c.Low > c.Close {
			t.Errorf("candle %d not ordered: %+v", i, c)
		}
		if i > 0 && c.Ts-candles[i-1].Ts != 86400 {
			t.Errorf("candle %d not daily spaced", i)
		}
		if i > 0 && c.Open != candles[i-1].Close {
			t.Errorf("candle %d does not chain from previous close", i)
		}
	}

	other := req
	other.Ticker = "aapl"
	c, _ := p.GetData(context.Background(), []types.Request{other})
	if reflect.DeepEqual(a["prices"], c["prices"]) {
		t.Error("different tickers should generate different series")
	}
}

func TestStaticLiveShape(t *testing.T) {
	req := types.Request{Frame: "f", Ticker: "btc", Tick: "30s", For: "2h", Live: true}
	got, err := NewStatic().GetData(context.Background(), []types.Request{req})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	candles := got["f"]
	if len(candles) != 240 {
		t.Errorf("candles = %d, want 240 ticks over two hours", len(candles))
	}
}

type countingProvider struct {
	calls int
	data  map[string][]types.Candle
}

func (p *countingProvider) Name() string { return "counting" }

func (p *countingProvider) GetData(_ context.Context, reqs []types.Request) (map[string][]types.Candle, error) {
	p.calls++
	out := map[string][]types.Candle{}
	for _, r := range reqs {
		out[r.Frame] = p.data[r.Frame]
	}
	return out, nil
}

func TestCacheAvoidsRepeatFetches(t *testing.T) {
	inner := &countingProvider{data: map[string][]types.Candle{
		"prices": {{Ts: 1, Close: 10}},
	}}
	p := WithCache(inner, time.Minute)
	req := types.Request{Frame: "prices", Ticker: "msft", From: "20240101", To: "20240105"}

	first, err := p.GetData(context.Background(), []types.Request{req})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	second, err := p.GetData(context.Background(), []types.Request{req})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("cached result differs from original")
	}

	// A request with a different identity misses.
	other := req
	other.Ticker = "aapl"
	if _, err := p.GetData(context.Background(), []types.Request{other}); err != nil {
		t.Fatalf("get: %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("inner calls = %d, want 2 after distinct request", inner.calls)
	}
}

func TestHTTPProvider(t *testing.T) {
	want := []types.Candle{
		{Ts: 100, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 300},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/candles" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("ticker") != "msft" {
			http.Error(w, "wrong ticker", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(want)
	}))
	defer srv.Close()

	p := NewHTTP(srv.URL, time.Second)
	got, err := p.GetData(context.Background(), []types.Request{
		{Frame: "prices", Ticker: "msft", From: "20240101", To: "20240102"},
	})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reflect.DeepEqual(got["prices"], want) {
		t.Errorf("candles = %+v, want %+v", got["prices"], want)
	}
}

func TestHTTPProviderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewHTTP(srv.URL, time.Second)
	_, err := p.GetData(context.Background(), []types.Request{{Frame: "prices", Ticker: "msft"}})
	if err == nil {
		t.Error("expected error for non-200 response")
	}
}

func TestToFrame(t *testing.T) {
	df, err := ToFrame([]types.Candle{
		{Ts: 1, Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100},
		{Ts: 2, Open: 10.5, High: 12, Low: 10, Close: 11, Volume: 200},
	})
	if err != nil {
		t.Fatalf("to frame: %v", err)
	}
	if df.Height() != 2 || df.Width() != 6 {
		t.Fatalf("shape = %dx%d", df.Height(), df.Width())
	}
	close, _ := df.Column("close")
	if close.Float[1] != 11 {
		t.Errorf("close = %v", close.Float)
	}
	vol, _ := df.Column("volume")
	if vol.Int[1] != 200 {
		t.Errorf("volume = %v", vol.Int)
	}
}
