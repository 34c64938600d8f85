package market

import (
	"testing"
	"time"
)

func tickAt(ts time.Time, bid, ask float64) Tick {
	return Tick{Timestamp: ts, BidPrice: bid, AskPrice: ask, BidVolume: 10, AskVolume: 20, Instrument: "A", Period: "Period1"}
}

func TestKlineAggregator(t *testing.T) {
	agg := NewKlineAggregator(time.Minute)
	ts := time.Unix(0, 0).UTC()
	if closed := agg.OnTick(tickAt(ts, 99, 101)); closed != nil {
		t.Fatalf("should not close on first tick")
	}
	agg.OnTick(tickAt(ts.Add(10*time.Second), 101, 103))
	agg.OnTick(tickAt(ts.Add(20*time.Second), 98, 100))
	closed := agg.OnTick(tickAt(ts.Add(70*time.Second), 100, 102))
	if closed == nil {
		t.Fatalf("expected kline close")
	}
	if closed.Open != 100 || closed.High != 102 || closed.Low != 99 || closed.Close != 99 {
		t.Fatalf("unexpected kline %+v", closed)
	}
	if closed.Count != 3 || closed.MeanMid != (100.0+102+99)/3 {
		t.Fatalf("unexpected means %+v", closed)
	}
	last := agg.Flush()
	if last == nil || last.Count != 1 || !last.Ts.Equal(ts.Add(time.Minute)) {
		t.Fatalf("unexpected flushed kline %+v", last)
	}
}

func TestResample_SkipsEmptyBuckets(t *testing.T) {
	ts := time.Unix(0, 0).UTC()
	ticks := []Tick{
		tickAt(ts, 99, 101),
		tickAt(ts.Add(5*time.Minute), 99, 101),
	}
	bars := Resample(ticks, time.Minute)
	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}
	if bars[1].Ts.Sub(bars[0].Ts) != 5*time.Minute {
		t.Fatalf("unexpected bar spacing")
	}
}
