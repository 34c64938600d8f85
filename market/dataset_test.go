package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataset_GroupsKeepFirstAppearanceOrder(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d := Dataset{Ticks: []Tick{
		{Timestamp: base, Instrument: "B", Period: "P1"},
		{Timestamp: base, Instrument: "A", Period: "P1"},
		{Timestamp: base.Add(time.Second), Instrument: "B", Period: "P1"},
		{Timestamp: base, Instrument: "A", Period: "P2"},
	}}

	groups := d.Groups()
	require.Len(t, groups, 3)
	assert.Equal(t, GroupKey{Period: "P1", Instrument: "B"}, groups[0].Key)
	assert.Len(t, groups[0].Ticks, 2)
	assert.Equal(t, "P1/A", groups[1].Key.String())
	assert.Equal(t, "P2/A", groups[2].Key.String())
	assert.Equal(t, []string{"B", "A"}, d.Instruments())
}

func TestDataset_Validate(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ok := Dataset{Ticks: []Tick{
		{Timestamp: base, Instrument: "A", Period: "P1"},
		{Timestamp: base.Add(-time.Hour), Instrument: "B", Period: "P1"},
		{Timestamp: base.Add(time.Second), Instrument: "A", Period: "P1"},
	}}
	require.NoError(t, ok.Validate())

	unsorted := Dataset{Ticks: []Tick{
		{Timestamp: base, Instrument: "A", Period: "P1"},
		{Timestamp: base.Add(-time.Second), Instrument: "A", Period: "P1"},
	}}
	assert.ErrorIs(t, unsorted.Validate(), ErrUnsorted)

	zero := Dataset{Ticks: []Tick{{Instrument: "A", Period: "P1"}}}
	assert.Error(t, zero.Validate())
}

func TestDataset_EmptyIsZeroValue(t *testing.T) {
	var d Dataset
	assert.True(t, d.Empty())
	assert.Nil(t, d.Groups())
}

func TestFeatureRow_Vector(t *testing.T) {
	r := FeatureRow{
		Windows: []WindowStat{
			{Size: "30", Mean: 1, Std: 3},
			{Size: "60", Mean: 2, Std: 4},
		},
		Momentum: 5,
	}
	assert.Equal(t, []float64{1, 2, 3, 4, 5}, r.Vector())
	assert.Equal(t,
		[]string{"rolling_avg_30", "rolling_avg_60", "rolling_std_30", "rolling_std_60", "momentum"},
		FeatureNames([]string{"30", "60"}))
}
