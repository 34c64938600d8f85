package market

import "time"

// KlineAggregator 将 tick 流按固定周期聚合为 Kline（空桶不产生 Kline）。
type KlineAggregator struct {
	Interval time.Duration
	current  *Kline
	sums     [5]float64
}

func NewKlineAggregator(interval time.Duration) *KlineAggregator {
	if interval <= 0 {
		interval = time.Minute
	}
	return &KlineAggregator{Interval: interval}
}

// OnTick 更新当前桶；当 tick 落入新桶时返回已闭合的 Kline，否则返回 nil。
func (a *KlineAggregator) OnTick(t Tick) *Kline {
	bucket := t.Timestamp.Truncate(a.Interval)
	var closed *Kline
	if a.current != nil && !bucket.Equal(a.current.Ts) {
		closed = a.close()
	}
	if a.current == nil {
		mid := t.Mid()
		a.current = &Kline{
			Instrument: t.Instrument,
			Period:     t.Period,
			Ts:         bucket,
			Open:       mid,
			High:       mid,
			Low:        mid,
		}
		a.sums = [5]float64{}
	}
	a.add(t)
	return closed
}

// Flush 闭合并返回当前未完成的桶。
func (a *KlineAggregator) Flush() *Kline {
	if a.current == nil {
		return nil
	}
	return a.close()
}

func (a *KlineAggregator) add(t Tick) {
	mid := t.Mid()
	k := a.current
	if mid > k.High {
		k.High = mid
	}
	if mid < k.Low {
		k.Low = mid
	}
	k.Close = mid
	k.Count++
	a.sums[0] += mid
	a.sums[1] += t.BidPrice
	a.sums[2] += t.AskPrice
	a.sums[3] += t.BidVolume
	a.sums[4] += t.AskVolume
}

func (a *KlineAggregator) close() *Kline {
	k := a.current
	n := float64(k.Count)
	k.MeanMid = a.sums[0] / n
	k.MeanBid = a.sums[1] / n
	k.MeanAsk = a.sums[2] / n
	k.MeanBidVolume = a.sums[3] / n
	k.MeanAskVolume = a.sums[4] / n
	a.current = nil
	return k
}

// Resample 将一组按时间排序的 tick 聚合为固定周期的 Kline 序列。
func Resample(ticks []Tick, interval time.Duration) []Kline {
	agg := NewKlineAggregator(interval)
	var out []Kline
	for _, t := range ticks {
		if k := agg.OnTick(t); k != nil {
			out = append(out, *k)
		}
	}
	if k := agg.Flush(); k != nil {
		out = append(out, *k)
	}
	return out
}
