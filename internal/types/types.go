package types

// Candle is one OHLCV bar. Ts is a unix timestamp in seconds.
type Candle struct {
	Ts     int64   `json:"ts"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume uint64  `json:"volume"`
}

// Request asks a provider for the candles backing one frame. Historical
// requests carry From/To as yyyymmdd dates; live requests carry Tick
// and For as interval literals like "30s" or "2h".
type Request struct {
	Frame  string `json:"frame"`
	Ticker string `json:"ticker"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	Tick   string `json:"tick,omitempty"`
	For    string `json:"for,omitempty"`
	Live   bool   `json:"live"`
}

// Key gives a stable identity for caching a request's result. The frame
// name is excluded so identical pulls share a cache entry.
func (r Request) Key() string {
	return r.Ticker + "|" + r.From + "|" + r.To + "|" + r.Tick + "|" + r.For
}
