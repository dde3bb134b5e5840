package interfaces

import (
	"context"

	"qql-engine/internal/types"
)

// Provider fetches candle data for frame requests, keyed by frame name
// in the result.
type Provider interface {
	GetData(ctx context.Context, reqs []types.Request) (map[string][]types.Candle, error)
	Name() string
}
