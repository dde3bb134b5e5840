package providerobs

import (
	"context"

	"qql-engine/internal/interfaces"
	"qql-engine/internal/logger"
	"qql-engine/internal/trace"
	"qql-engine/internal/types"
)

// observableProvider wraps a Provider with observability (logging & tracing)
type observableProvider struct {
	provider interfaces.Provider
}

// Compile-time interface check
var _ interfaces.Provider = (*observableProvider)(nil)

// Wrap wraps a provider with observability middleware
func Wrap(provider interfaces.Provider) interfaces.Provider {
	return &observableProvider{
		provider: provider,
	}
}

func (op *observableProvider) Name() string {
	return op.provider.Name()
}

// GetData fetches candle data with observability
func (op *observableProvider) GetData(ctx context.Context, reqs []types.Request) (map[string][]types.Candle, error) {
	ctx, span := trace.StartSpan(ctx, "provider.GetData")
	defer span.End()

	logger.Debug(ctx, "Fetching candle data", "provider", op.provider.Name(), "requests", len(reqs))

	data, err := op.provider.GetData(ctx, reqs)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to fetch candle data", err, "provider", op.provider.Name())
		return nil, err
	}

	total := 0
	for _, candles := range data {
		total += len(candles)
	}
	logger.Debug(ctx, "Candle data fetched successfully",
		"provider", op.provider.Name(), "frames", len(data), "candles", total)
	return data, nil
}
