package monitor

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_Records(t *testing.T) {
	m := New(DefaultConfig())
	m.RecordFiles(3, 1)
	m.RecordRows(250)
	m.RecordDropped("timestamp", 2)
	m.RecordDropped("numeric", 0)
	m.UpdateFeatureRows(120, 7)
	m.UpdateSynthetic(106)
	m.RecordFold(0, 0.9)
	m.RecordFold(1, 0.8)
	m.UpdateAccuracy(0.85, 0.6)
	m.ObserveStage("features", 20*time.Millisecond)
	m.RecordRun("ok", time.Second)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.filesLoaded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.filesSkipped))
	assert.Equal(t, 250.0, testutil.ToFloat64(m.rowsLoaded))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.rowsDropped.WithLabelValues("timestamp")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.rowsDropped), "zero drops are not recorded")
	assert.Equal(t, 7.0, testutil.ToFloat64(m.positiveLabels))
	assert.Equal(t, 0.8, testutil.ToFloat64(m.foldAccuracy.WithLabelValues("1")))
	assert.Equal(t, 0.85, testutil.ToFloat64(m.meanAccuracy))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("ok")))

	err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(`
# HELP lab_pipeline_synthetic_rows SMOTE 生成的合成行数
# TYPE lab_pipeline_synthetic_rows gauge
lab_pipeline_synthetic_rows 106
`), "lab_pipeline_synthetic_rows")
	assert.NoError(t, err)
}

func TestMonitor_HandlerAndTextfile(t *testing.T) {
	m := New(DefaultConfig())
	m.UpdateAccuracy(0.75, 0.5)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "lab_pipeline_mean_accuracy 0.75")

	path := filepath.Join(t.TempDir(), "lab.prom")
	require.NoError(t, m.WriteTextfile(path))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "lab_pipeline_baseline_accuracy 0.5")
}
