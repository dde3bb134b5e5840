package provider

import (
	"fmt"

	"qql-engine/internal/frame"
	"qql-engine/internal/types"
)

// ToFrame lays candles out as a columnar frame with timestamp, open,
// high, low, close, and volume columns.
func ToFrame(candles []types.Candle) (*frame.DataFrame, error) {
	n := len(candles)
	ts := make([]int64, n)
	open := make([]float64, n)
	high := make([]float64, n)
	low := make([]float64, n)
	close := make([]float64, n)
	volume := make([]int64, n)
	for i, c := range candles {
		ts[i] = c.Ts
		open[i] = c.Open
		high[i] = c.High
		low[i] = c.Low
		close[i] = c.Close
		volume[i] = int64(c.Volume)
	}
	df, err := frame.New(
		frame.NewI64("timestamp", ts),
		frame.NewF64("open", open),
		frame.NewF64("high", high),
		frame.NewF64("low", low),
		frame.NewF64("close", close),
		frame.NewI64("volume", volume),
	)
	if err != nil {
		return nil, fmt.Errorf("building candle frame: %w", err)
	}
	return df, nil
}
