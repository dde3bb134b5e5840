package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"qql-engine/internal/types"
)

// HTTPProvider fetches candles from a JSON candle API. The expected
// endpoint is GET {base}/candles returning an array of bars.
type HTTPProvider struct {
	client  *http.Client
	baseURL string
}

func NewHTTP(baseURL string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

func (p *HTTPProvider) Name() string { return "http" }

func (p *HTTPProvider) GetData(ctx context.Context, reqs []types.Request) (map[string][]types.Candle, error) {
	out := make(map[string][]types.Candle, len(reqs))
	for _, req := range reqs {
		candles, err := p.fetch(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("frame %q: %w", req.Frame, err)
		}
		out[req.Frame] = candles
	}
	return out, nil
}

func (p *HTTPProvider) fetch(ctx context.Context, req types.Request) ([]types.Candle, error) {
	q := url.Values{}
	q.Set("ticker", req.Ticker)
	if req.Live {
		q.Set("tick", req.Tick)
		q.Set("for", req.For)
	} else {
		q.Set("from", req.From)
		q.Set("to", req.To)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/candles?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("candle fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("candle API returned %d: %s", resp.StatusCode, string(body))
	}

	var candles []types.Candle
	if err := json.NewDecoder(resp.Body).Decode(&candles); err != nil {
		return nil, fmt.Errorf("decoding candle response: %w", err)
	}
	return candles, nil
}
