package types

import "time"

// Bar is one closed OHLCV candle for an instrument. Bars arrive in
// chronological order within one instrument.
type Bar struct {
	Symbol string    `json:"symbol" yaml:"symbol"`
	Time   time.Time `json:"time" yaml:"time"`
	Open   float64   `json:"open" yaml:"open"`
	High   float64   `json:"high" yaml:"high"`
	Low    float64   `json:"low" yaml:"low"`
	Close  float64   `json:"close" yaml:"close"`
	Volume float64   `json:"volume" yaml:"volume"`
}
