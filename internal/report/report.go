// Package report aggregates sweep results into the experiment's outputs:
// a metrics.jsonl archive, a terminal summary table, a LaTeX table, and
// pgfplots figures with quadratic trend fits.
package report

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"github.com/hwlab/siliflow/internal/metrics"
)

// Record is one sweep point's identity plus its extracted metrics.
type Record struct {
	Experiment string  `json:"experiment"`
	Design     string  `json:"design"`
	PDK        string  `json:"pdk"`
	ClockNS    float64 `json:"clock_ns"`
	Density    float64 `json:"density"`
	RunTag     string  `json:"run_tag"`

	Metrics metrics.Values `json:"metrics"`
}

// metricColumns fixes the column order for tables and plots.
var metricColumns = []struct {
	Name string
	Get  func(metrics.Values) float64
}{
	{"gds_area", func(v metrics.Values) float64 { return v.GDSArea }},
	{"synth_area", func(v metrics.Values) float64 { return v.SynthArea }},
	{"wirelength", func(v metrics.Values) float64 { return v.Wirelength }},
	{"wns", func(v metrics.Values) float64 { return v.WNS }},
	{"tns", func(v metrics.Values) float64 { return v.TNS }},
	{"synth_cell_count", func(v metrics.Values) float64 { return v.SynthCellCount }},
	{"buffer_count", func(v metrics.Values) float64 { return v.BufferCount }},
}

// WriteJSONL appends nothing and overwrites: the archive reflects the
// latest complete aggregation, one JSON object per line.
func WriteJSONL(path string, records []Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encoding record %s: %w", r.RunTag, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// ReadJSONL loads a previously written archive.
func ReadJSONL(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var out []Record
	dec := json.NewDecoder(f)
	for {
		var r Record
		if err := dec.Decode(&r); err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// RenderTable writes a per-case summary. Missing metrics render as a
// highlighted "n/a" so holes in a sweep stand out.
func RenderTable(w io.Writer, records []Record) error {
	sorted := sortedRecords(records)

	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprint(tw, "design\tpdk\tclock_ns\tdensity")
	for _, col := range metricColumns {
		fmt.Fprintf(tw, "\t%s", col.Name)
	}
	fmt.Fprintln(tw)

	missing := color.New(color.FgYellow).SprintFunc()
	for _, r := range sorted {
		fmt.Fprintf(tw, "%s\t%s\t%g\t%g", r.Design, r.PDK, r.ClockNS, r.Density)
		for _, col := range metricColumns {
			v := col.Get(r.Metrics)
			if math.IsNaN(v) {
				fmt.Fprintf(tw, "\t%s", missing("n/a"))
			} else {
				fmt.Fprintf(tw, "\t%.4g", v)
			}
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}

// Outputs selects which artifacts Generate emits.
type Outputs struct {
	JSONL bool
	Latex bool
	Plots bool
}

// Generate writes the selected artifacts under outDir. Emitters are
// independent, so they run concurrently.
func Generate(ctx context.Context, outDir string, records []Record, outs Outputs) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	g, _ := errgroup.WithContext(ctx)
	if outs.JSONL {
		g.Go(func() error {
			return WriteJSONL(filepath.Join(outDir, "metrics.jsonl"), records)
		})
	}
	if outs.Latex {
		g.Go(func() error {
			text := LatexTable(records)
			return os.WriteFile(filepath.Join(outDir, "metrics_table.tex"), []byte(text), 0o644)
		})
	}
	if outs.Plots {
		g.Go(func() error {
			return WritePlots(filepath.Join(outDir, "plots"), records)
		})
	}
	return g.Wait()
}

// sortedRecords orders by design, pdk, clock, density for stable output.
func sortedRecords(records []Record) []Record {
	out := make([]Record, len(records))
	copy(out, records)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Design != out[j].Design {
			return out[i].Design < out[j].Design
		}
		if out[i].PDK != out[j].PDK {
			return out[i].PDK < out[j].PDK
		}
		if out[i].ClockNS != out[j].ClockNS {
			return out[i].ClockNS < out[j].ClockNS
		}
		return out[i].Density < out[j].Density
	})
	return out
}
