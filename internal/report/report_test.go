package report

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"microstructure-lab/internal/evaluate"
	"microstructure-lab/internal/pipeline"
	"microstructure-lab/market"
)

func sampleReport() *pipeline.Report {
	ts := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	tk := market.Tick{Timestamp: ts, BidPrice: 9.5, AskPrice: 10.5, BidVolume: 5, AskVolume: 6, Instrument: "A", Period: "Period1"}
	rows := []market.LabeledRow{
		{FeatureRow: market.FeatureRow{Tick: tk, MidPrice: 10, Momentum: 0.00001,
			Windows: []market.WindowStat{{Size: "30", Mean: 10, Std: 0.5}}}},
		{FeatureRow: market.FeatureRow{Tick: tk, MidPrice: 10.6, Momentum: 0.06,
			Windows: []market.WindowStat{{Size: "30", Mean: 10, Std: 0.5}}}, SharpChange: 1},
	}
	return &pipeline.Report{
		RunID:       "run-1",
		Status:      pipeline.StatusOK,
		Periods:     []string{"Period1"},
		TickRows:    1,
		Windows:     []string{"30"},
		LabelMode:   "absolute",
		FeatureRows: 2,
		Positives:   1,
		Evaluation: evaluate.Result{
			Folds:        []evaluate.FoldScore{{Fold: 0, Train: 3, Test: 1, Accuracy: 1}, {Fold: 1, Train: 3, Test: 1, Accuracy: 0.5}},
			MeanAccuracy: 0.75,
			Predictions:  []int{0, 1},
			Baseline:     0.5,
		},
		Ticks: market.Dataset{Ticks: []market.Tick{tk}},
		Rows:  rows,
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return recs
}

func TestWrite_AllArtifacts(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	files, err := New(dir, WithWorkbook(true)).Write(sampleReport())
	require.NoError(t, err)
	assert.Len(t, files, 5)

	var summary map[string]interface{}
	raw, err := os.ReadFile(filepath.Join(dir, SummaryFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &summary))
	assert.Equal(t, "run-1", summary["runId"])
	assert.NotContains(t, summary, "Rows")

	ticks := readCSV(t, filepath.Join(dir, TicksFile))
	require.Len(t, ticks, 2)
	assert.Equal(t, tickHeader, ticks[0])
	assert.Equal(t, []string{"2024-01-01 09:00:00", "Period1", "A", "5", "9.5", "6", "10.5", "10"}, ticks[1])

	feats := readCSV(t, filepath.Join(dir, FeaturesFile))
	require.Len(t, feats, 3)
	assert.Equal(t, []string{"timestamp", "period", "instrument", "midPrice",
		"rolling_avg_30", "rolling_std_30", "momentum", "sharp_change", "predicted_sharp_change"}, feats[0])
	assert.Equal(t, "0.00001", feats[1][6])
	assert.Equal(t, []string{"1", "1"}, feats[2][7:])

	folds := readCSV(t, filepath.Join(dir, FoldsFile))
	assert.Equal(t, [][]string{foldHeader, {"0", "3", "1", "1"}, {"1", "3", "1", "0.5"}}, folds)

	wb, err := excelize.OpenFile(filepath.Join(dir, WorkbookFile))
	require.NoError(t, err)
	defer wb.Close()
	assert.Equal(t, []string{SheetSummary, SheetFolds, SheetFeatures}, wb.GetSheetList())
	v, err := wb.GetCellValue(SheetSummary, "B1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", v)
	frows, err := wb.GetRows(SheetFeatures)
	require.NoError(t, err)
	assert.Equal(t, feats, frows)
}

func TestWrite_NoDataOnlySummary(t *testing.T) {
	dir := t.TempDir()
	rep := &pipeline.Report{RunID: "empty", Status: pipeline.StatusNoData}
	files, err := New(dir).Write(rep)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, SummaryFile)}, files)
}

func TestFeatureTable_ZScoreAndNoPredictions(t *testing.T) {
	rep := sampleReport()
	rep.LabelMode = "zscore"
	rep.Rows[1].ZScore = -2.5
	rep.Evaluation.Predictions = nil

	header, recs := featureTable(rep)
	assert.Equal(t, "z_score", header[len(header)-1])
	assert.NotContains(t, header, "predicted_sharp_change")
	assert.Equal(t, "-2.5", recs[1][len(recs[1])-1])
}

func TestRowCell(t *testing.T) {
	cell, err := rowCell(2)
	require.NoError(t, err)
	assert.Equal(t, "A2", cell)

	_, err = rowCell(excelize.TotalRows + 1)
	assert.ErrorIs(t, err, excelize.ErrMaxRows)
	_, err = rowCell(0)
	assert.Error(t, err)
}
