package report

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// WritePlots emits one pgfplots figure per (design, pdk, metric): a .dat
// file with clock-period/metric pairs and a .tex axis that plots the data
// alongside the quadratic trend fit when one can be computed.
func WritePlots(dir string, records []Record) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating plots dir: %w", err)
	}

	for _, group := range groupByDesignPDK(records) {
		for _, col := range metricColumns {
			xs := make([]float64, 0, len(group.records))
			ys := make([]float64, 0, len(group.records))
			for _, r := range group.records {
				y := col.Get(r.Metrics)
				if math.IsNaN(y) {
					continue
				}
				xs = append(xs, r.ClockNS)
				ys = append(ys, y)
			}
			if len(xs) == 0 {
				continue
			}

			base := fmt.Sprintf("%s_%s_%s", group.design, group.pdk, col.Name)
			if err := writeDat(filepath.Join(dir, base+".dat"), xs, ys); err != nil {
				return err
			}

			var fit *Fit
			if f, err := FitQuadratic(xs, ys); err == nil {
				fit = &f
			}
			tex := plotTex(group.design, group.pdk, col.Name, base+".dat", fit)
			if err := os.WriteFile(filepath.Join(dir, base+".tex"), []byte(tex), 0o644); err != nil {
				return fmt.Errorf("writing plot %s: %w", base, err)
			}
		}
	}
	return nil
}

type designGroup struct {
	design, pdk string
	records     []Record
}

func groupByDesignPDK(records []Record) []designGroup {
	byKey := map[string]*designGroup{}
	for _, r := range records {
		key := r.Design + "\x00" + r.PDK
		g, ok := byKey[key]
		if !ok {
			g = &designGroup{design: r.Design, pdk: r.PDK}
			byKey[key] = g
		}
		g.records = append(g.records, r)
	}

	out := make([]designGroup, 0, len(byKey))
	for _, g := range byKey {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].design != out[j].design {
			return out[i].design < out[j].design
		}
		return out[i].pdk < out[j].pdk
	})
	return out
}

func writeDat(path string, xs, ys []float64) error {
	var b strings.Builder
	b.WriteString("x y\n")

	idx := make([]int, len(xs))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool { return xs[idx[i]] < xs[idx[j]] })
	for _, i := range idx {
		fmt.Fprintf(&b, "%g %g\n", xs[i], ys[i])
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func plotTex(design, pdk, metric, datFile string, fit *Fit) string {
	var b strings.Builder
	b.WriteString("\\begin{tikzpicture}\n\\begin{axis}[\n")
	fmt.Fprintf(&b, "  title={%s on %s},\n", latexEscape(design), latexEscape(pdk))
	b.WriteString("  xlabel={clock period (ns)},\n")
	fmt.Fprintf(&b, "  ylabel={%s},\n", latexEscape(metric))
	b.WriteString("  grid=major,\n]\n")
	fmt.Fprintf(&b, "\\addplot+[only marks] table {%s};\n", datFile)
	if fit != nil {
		fmt.Fprintf(&b, "\\addplot+[no marks, domain=\\pgfkeysvalueof{/pgfplots/xmin}:\\pgfkeysvalueof{/pgfplots/xmax}] {%.6g*x + %.6g*x^2 + %.6g};\n",
			fit.Alpha, fit.Beta, fit.C)
		fmt.Fprintf(&b, "%% fit: %s\n", fit)
	}
	b.WriteString("\\end{axis}\n\\end{tikzpicture}\n")
	return b.String()
}
