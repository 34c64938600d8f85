package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"microstructure-lab/config"
	"microstructure-lab/infrastructure/alert"
	"microstructure-lab/infrastructure/logger"
	"microstructure-lab/internal/balance"
	"microstructure-lab/internal/features"
	"microstructure-lab/internal/ingest"
	"microstructure-lab/monitor/logschema"
)

var (
	periods     = []string{"Period1", "Period2"}
	instruments = []string{"A", "B", "C"}
	spikes      = []int{65, 80, 95}
)

const rowsPerGroup = 100

// writeGroup writes one (period, instrument) series whose mid price steps up
// 6% at every spike index and otherwise wobbles by at most 0.1%.
func writeGroup(t *testing.T, root, period, instrument string, n int, spikeAt []int) {
	t.Helper()
	day := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	if period == "Period2" {
		day = day.AddDate(0, 0, 1)
	}
	isSpike := map[int]bool{}
	for _, i := range spikeAt {
		isSpike[i] = true
	}

	var b strings.Builder
	headerless := instrument == "A" && period == "Period1"
	name := fmt.Sprintf("market_data_%s_2.csv", instrument)
	if headerless {
		name = fmt.Sprintf("market_data_%s_1.csv", instrument)
	} else {
		b.WriteString("timestamp,bidPrice,askPrice,bidVolume,askVolume\n")
	}
	level := 100.0
	for i := 0; i < n; i++ {
		if isSpike[i] {
			level *= 1.06
		}
		mid := level * (1 + 0.001*math.Sin(float64(i)))
		ts := day.Add(time.Duration(i) * time.Second).Format("2006-01-02 15:04:05")
		vol := 10 + i%7
		if headerless {
			fmt.Fprintf(&b, "%d,%.6f,%d,%.6f,%s\n", vol, mid-0.01, vol+1, mid+0.01, ts)
		} else {
			fmt.Fprintf(&b, "%s,%.6f,%.6f,%d,%d\n", ts, mid-0.01, mid+0.01, vol, vol+1)
		}
	}
	dir := filepath.Join(root, period, instrument)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(b.String()), 0o644))
}

func plantedTree(t *testing.T, n int, spikeAt []int) string {
	root := t.TempDir()
	for _, p := range periods {
		for _, i := range instruments {
			writeGroup(t, root, p, i, n, spikeAt)
		}
	}
	return root
}

func testConfig(root string) config.AppConfig {
	cfg := config.Default()
	cfg.Data.Root = root
	cfg.Data.Instruments = instruments
	return cfg
}

func TestRun_PlantedSpikes(t *testing.T) {
	root := plantedTree(t, rowsPerGroup, spikes)
	core, logs := observer.New(zap.DebugLevel)
	p, err := New(testConfig(root), WithLogger(logger.NewWithCore(core)))
	require.NoError(t, err)

	rep, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusOK, rep.Status)
	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, periods, rep.Periods)
	assert.Equal(t, 600, rep.TickRows)
	assert.Empty(t, rep.Issues)
	require.NoError(t, rep.Ticks.Validate())

	// 每组 100 行，最大窗口 60，保留 40 行
	assert.Equal(t, 6*(rowsPerGroup-60), rep.FeatureRows)
	assert.Equal(t, []string{"30", "60"}, rep.Windows)

	flagged := map[string][]int{}
	for _, r := range rep.Rows {
		if r.SharpChange == 1 {
			// 行号即距 09:00:00 的秒数
			ts := r.Timestamp
			idx := (ts.Hour()-9)*3600 + ts.Minute()*60 + ts.Second()
			flagged[r.Key().String()] = append(flagged[r.Key().String()], idx)
		}
	}
	require.Len(t, flagged, 6)
	for key, idx := range flagged {
		sort.Ints(idx)
		assert.Equal(t, spikes, idx, key)
	}
	assert.Equal(t, 18, rep.Positives)

	assert.Equal(t, 2*(rep.FeatureRows-18), rep.BalancedRows)
	assert.Equal(t, rep.FeatureRows-36, rep.Synthetic)

	ev := rep.Evaluation
	require.Len(t, ev.Folds, 5)
	assert.Greater(t, ev.MeanAccuracy, 0.5, "balanced majority baseline")
	require.Len(t, ev.Predictions, rep.FeatureRows)
	assert.Greater(t, ev.OriginalAccuracy, ev.Baseline)

	for _, e := range logs.All() {
		fields := e.ContextMap()
		event, _ := fields["event"].(string)
		assert.NoError(t, logschema.Validate(event, fields))
	}
	assert.NotZero(t, logs.FilterField(zap.String("event", "run_done")).Len())

	n, err := testutil.GatherAndCount(p.Monitor().Registry(), "lab_pipeline_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRun_Deterministic(t *testing.T) {
	root := plantedTree(t, rowsPerGroup, spikes)
	a, err := mustPipeline(t, testConfig(root)).Run(context.Background())
	require.NoError(t, err)
	b, err := mustPipeline(t, testConfig(root)).Run(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, a.RunID, b.RunID)
	assert.Equal(t, a.Evaluation.Folds, b.Evaluation.Folds)
	assert.Equal(t, a.Evaluation.MeanAccuracy, b.Evaluation.MeanAccuracy)
	assert.Equal(t, a.Evaluation.Predictions, b.Evaluation.Predictions)
}

func mustPipeline(t *testing.T, cfg config.AppConfig) *Pipeline {
	t.Helper()
	p, err := New(cfg)
	require.NoError(t, err)
	return p
}

func TestRun_NoData(t *testing.T) {
	for _, root := range []string{t.TempDir(), filepath.Join(t.TempDir(), "missing")} {
		rep, err := mustPipeline(t, testConfig(root)).Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, StatusNoData, rep.Status)
		assert.True(t, rep.Ticks.Empty())
		assert.Zero(t, rep.FeatureRows)
	}
}

func TestRun_InsufficientHistory(t *testing.T) {
	root := plantedTree(t, 50, nil)
	rep, err := mustPipeline(t, testConfig(root)).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StatusFailed, rep.Status)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageFeatures, se.Stage)
	assert.Equal(t, "Period1/A", se.Group)
	assert.ErrorIs(t, err, features.ErrInsufficientData)
	assert.Len(t, rep.ShortGroups, 6)
}

func TestRun_SingleClass(t *testing.T) {
	root := plantedTree(t, rowsPerGroup, nil)
	_, err := mustPipeline(t, testConfig(root)).Run(context.Background())
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageBalance, se.Stage)
	assert.ErrorIs(t, err, balance.ErrSingleClass)
}

func TestRun_TooFewPositives(t *testing.T) {
	root := t.TempDir()
	writeGroup(t, root, "Period1", "B", rowsPerGroup, []int{70, 90})
	cfg := testConfig(root)
	_, err := mustPipeline(t, cfg).Run(context.Background())
	assert.ErrorIs(t, err, balance.ErrInsufficientMinority)
}

func TestRun_StrictSchema(t *testing.T) {
	root := plantedTree(t, rowsPerGroup, spikes)
	bad := filepath.Join(root, "Period2", "C", "market_data_C_9.csv")
	require.NoError(t, os.WriteFile(bad, []byte("bid,ask\n1,2\n"), 0o644))

	rep, err := mustPipeline(t, testConfig(root)).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.Issues, 1)
	assert.Equal(t, bad, rep.Issues[0].Path)

	cfg := testConfig(root)
	cfg.Data.StrictSchema = true
	_, err = mustPipeline(t, cfg).Run(context.Background())
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageLoad, se.Stage)
	assert.ErrorIs(t, err, ingest.ErrSchema)
}

func TestReport_Outcome(t *testing.T) {
	root := plantedTree(t, rowsPerGroup, spikes)
	bad := filepath.Join(root, "Period2", "C", "market_data_C_9.csv")
	require.NoError(t, os.WriteFile(bad, []byte("bid,ask\n1,2\n"), 0o644))

	rep, err := mustPipeline(t, testConfig(root)).Run(context.Background())
	require.NoError(t, err)
	o := rep.Outcome()
	assert.Equal(t, rep.RunID, o.RunID)
	assert.Equal(t, "ok", o.Status)
	assert.Equal(t, 1, o.SkippedFiles)
	assert.Equal(t, 18, o.Positives)
	assert.Equal(t, rep.FeatureRows, o.FeatureRows)
	assert.Equal(t, rep.Evaluation.Baseline, o.Baseline)

	alerts := testConfig(root).Alert.Rules.Evaluate(o)
	require.Len(t, alerts, 1)
	assert.Equal(t, alert.RuleFilesSkipped, alerts[0].Rule)
}

func TestRun_Cancelled(t *testing.T) {
	root := plantedTree(t, rowsPerGroup, spikes)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := mustPipeline(t, testConfig(root)).Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig("")
	_, err := New(cfg)
	var inv config.ErrInvalid
	assert.ErrorAs(t, err, &inv)
}
