package market

import "time"

// Kline 是一个时间桶内的 mid OHLC 与各字段均值。
type Kline struct {
	Instrument string
	Period     string
	Ts         time.Time // bucket start

	Open  float64
	High  float64
	Low   float64
	Close float64

	MeanMid       float64
	MeanBid       float64
	MeanAsk       float64
	MeanBidVolume float64
	MeanAskVolume float64
	Count         int
}
