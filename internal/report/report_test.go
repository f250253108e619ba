package report

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hwlab/siliflow/internal/metrics"
)

func sampleRecords() []Record {
	mk := func(area float64) metrics.Values {
		v := metrics.NewValues()
		v.GDSArea = area
		v.WNS = -0.1
		return v
	}
	return []Record{
		{Experiment: "exp", Design: "p32_add", PDK: "sky130hd", ClockNS: 4, Density: 0.55, RunTag: "d55_c4.00", Metrics: mk(160)},
		{Experiment: "exp", Design: "p32_add", PDK: "sky130hd", ClockNS: 2, Density: 0.55, RunTag: "d55_c2.00", Metrics: mk(120)},
		{Experiment: "exp", Design: "p32_add", PDK: "sky130hd", ClockNS: 3, Density: 0.55, RunTag: "d55_c3.00", Metrics: mk(135)},
	}
}

func TestWriteAndReadJSONL(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "metrics.jsonl")
	records := sampleRecords()
	require.NoError(t, WriteJSONL(path, records))

	got, err := ReadJSONL(path)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, records[0].RunTag, got[0].RunTag)
	assert.InDelta(t, 160, got[0].Metrics.GDSArea, 1e-9)
	assert.True(t, math.IsNaN(got[0].Metrics.Wirelength), "NaN survives the round trip as null-free NaN")
}

func TestRenderTable(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, RenderTable(&buf, sampleRecords()))

	out := buf.String()
	assert.Contains(t, out, "design")
	assert.Contains(t, out, "p32_add")
	assert.Contains(t, out, "n/a", "missing metrics are flagged")
}

func TestLatexTable(t *testing.T) {
	t.Parallel()

	tex := LatexTable(sampleRecords())
	assert.Contains(t, tex, "\\begin{tabular}")
	assert.Contains(t, tex, "\\toprule")
	assert.Contains(t, tex, "p32\\_add")
	assert.Contains(t, tex, " & --", "missing metrics render as dashes")
}

func TestGenerate_AllOutputs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, Generate(context.Background(), dir, sampleRecords(), Outputs{JSONL: true, Latex: true, Plots: true}))

	for _, name := range []string{
		"metrics.jsonl",
		"metrics_table.tex",
		filepath.Join("plots", "p32_add_sky130hd_gds_area.dat"),
		filepath.Join("plots", "p32_add_sky130hd_gds_area.tex"),
	} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	// Metrics that never resolved get no plot.
	_, err := os.Stat(filepath.Join(dir, "plots", "p32_add_sky130hd_wirelength.dat"))
	assert.True(t, os.IsNotExist(err))
}

func TestWritePlots_DatSortedByClock(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, WritePlots(dir, sampleRecords()))

	data, err := os.ReadFile(filepath.Join(dir, "p32_add_sky130hd_gds_area.dat"))
	require.NoError(t, err)
	assert.Equal(t, "x y\n2 120\n3 135\n4 160\n", string(data))
}
