package market

import (
	"fmt"
	"time"
)

// Tick 是归一化后的一条 bid/ask 报价记录，创建后不可修改。
type Tick struct {
	Timestamp  time.Time
	BidVolume  float64
	BidPrice   float64
	AskVolume  float64
	AskPrice   float64
	Instrument string
	Period     string
}

// Mid returns (bid+ask)/2.
func (t Tick) Mid() float64 {
	return (t.BidPrice + t.AskPrice) / 2
}

// Spread returns ask-bid. Crossed books give a negative spread; nothing enforces bid <= ask.
func (t Tick) Spread() float64 {
	return t.AskPrice - t.BidPrice
}

// Key returns the (period, instrument) group the tick belongs to.
func (t Tick) Key() GroupKey {
	return GroupKey{Period: t.Period, Instrument: t.Instrument}
}

// GroupKey identifies one independent time series.
type GroupKey struct {
	Period     string
	Instrument string
}

func (k GroupKey) String() string {
	return fmt.Sprintf("%s/%s", k.Period, k.Instrument)
}
