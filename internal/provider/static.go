package provider

import (
	"context"
	"hash/fnv"
	"math/rand"
	"time"

	"qql-engine/internal/types"
)

// StaticProvider synthesizes candle data. The generator is seeded from
// the request identity, so the same query always sees the same series.
type StaticProvider struct{}

func NewStatic() *StaticProvider {
	return &StaticProvider{}
}

func (p *StaticProvider) Name() string { return "static" }

func (p *StaticProvider) GetData(ctx context.Context, reqs []types.Request) (map[string][]types.Candle, error) {
	out := make(map[string][]types.Candle, len(reqs))
	for _, req := range reqs {
		start, step, count, err := barShape(req)
		if err != nil {
			return nil, err
		}
		out[req.Frame] = generate(req, start, step, count)
	}
	return out, nil
}

func barShape(req types.Request) (start time.Time, step time.Duration, count int, err error) {
	if req.Live {
		step, err = ParseInterval(req.Tick)
		if err != nil {
			return
		}
		var span time.Duration
		span, err = ParseInterval(req.For)
		if err != nil {
			return
		}
		count = int(span / step)
		if count < 1 {
			count = 1
		}
		start = time.Now().UTC().Truncate(step).Add(-time.Duration(count) * step)
		return
	}
	start, err = time.Parse(dateLayout, req.From)
	if err != nil {
		return
	}
	var end time.Time
	end, err = time.Parse(dateLayout, req.To)
	if err != nil {
		return
	}
	step = 24 * time.Hour
	count = int(end.Sub(start)/step) + 1
	return
}

// generate walks a seeded random price path. Bars chain open to close
// so the series looks like a market rather than noise.
func generate(req types.Request, start time.Time, step time.Duration, count int) []types.Candle {
	h := fnv.New64a()
	h.Write([]byte(req.Key()))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	price := 50 + rng.Float64()*100
	candles := make([]types.Candle, count)
	for i := 0; i < count; i++ {
		open := price
		change := (rng.Float64() - 0.49) * 0.02
		close := open * (1 + change)
		hi := open
		if close > hi {
			hi = close
		}
		hi *= 1 + rng.Float64()*0.005
		lo := open
		if close < lo {
			lo = close
		}
		lo *= 1 - rng.Float64()*0.005
		candles[i] = types.Candle{
			Ts:     start.Add(time.Duration(i) * step).Unix(),
			Open:   open,
			High:   hi,
			Low:    lo,
			Close:  close,
			Volume: 1000 + uint64(rng.Intn(9000)),
		}
		price = close
	}
	return candles
}
