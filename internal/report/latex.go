package report

import (
	"fmt"
	"math"
	"strings"
)

// LatexTable renders the records as a booktabs tabular ready for \input.
func LatexTable(records []Record) string {
	var b strings.Builder

	cols := "llrr" + strings.Repeat("r", len(metricColumns))
	fmt.Fprintf(&b, "\\begin{tabular}{%s}\n\\toprule\n", cols)

	b.WriteString("design & pdk & clock (ns) & density")
	for _, col := range metricColumns {
		fmt.Fprintf(&b, " & %s", latexEscape(col.Name))
	}
	b.WriteString(" \\\\\n\\midrule\n")

	for _, r := range sortedRecords(records) {
		fmt.Fprintf(&b, "%s & %s & %g & %g",
			latexEscape(r.Design), latexEscape(r.PDK), r.ClockNS, r.Density)
		for _, col := range metricColumns {
			v := col.Get(r.Metrics)
			if math.IsNaN(v) {
				b.WriteString(" & --")
			} else {
				fmt.Fprintf(&b, " & %.4g", v)
			}
		}
		b.WriteString(" \\\\\n")
	}

	b.WriteString("\\bottomrule\n\\end{tabular}\n")
	return b.String()
}

func latexEscape(s string) string {
	r := strings.NewReplacer("_", "\\_", "&", "\\&", "%", "\\%", "#", "\\#")
	return r.Replace(s)
}
