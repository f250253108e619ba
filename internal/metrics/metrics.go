// Package metrics pulls physical-design results out of a finished flow run.
// The primary source is the flow's 6_report.json; keys that moved between
// flow versions are looked up through candidate lists, missing values are
// backfilled from earlier stage reports, and a final pass scrapes the flow
// log with regexes. Anything still unresolved stays NaN so downstream
// aggregation can tell "absent" from zero.
package metrics

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Values holds the extracted metrics for one flow run. Unresolved metrics
// are NaN in memory and null on the wire (encoding/json cannot represent
// NaN directly).
type Values struct {
	GDSArea        float64
	SynthArea      float64
	Wirelength     float64
	WNS            float64
	TNS            float64
	SynthCellCount float64
	BufferCount    float64
}

type valuesJSON struct {
	GDSArea        *float64 `json:"gds_area"`
	SynthArea      *float64 `json:"synth_area"`
	Wirelength     *float64 `json:"wirelength"`
	WNS            *float64 `json:"wns"`
	TNS            *float64 `json:"tns"`
	SynthCellCount *float64 `json:"synth_cell_count"`
	BufferCount    *float64 `json:"buffer_count"`
}

func (v Values) MarshalJSON() ([]byte, error) {
	opt := func(f float64) *float64 {
		if math.IsNaN(f) {
			return nil
		}
		return &f
	}
	return json.Marshal(valuesJSON{
		GDSArea:        opt(v.GDSArea),
		SynthArea:      opt(v.SynthArea),
		Wirelength:     opt(v.Wirelength),
		WNS:            opt(v.WNS),
		TNS:            opt(v.TNS),
		SynthCellCount: opt(v.SynthCellCount),
		BufferCount:    opt(v.BufferCount),
	})
}

func (v *Values) UnmarshalJSON(data []byte) error {
	var aux valuesJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	get := func(p *float64) float64 {
		if p == nil {
			return math.NaN()
		}
		return *p
	}
	v.GDSArea = get(aux.GDSArea)
	v.SynthArea = get(aux.SynthArea)
	v.Wirelength = get(aux.Wirelength)
	v.WNS = get(aux.WNS)
	v.TNS = get(aux.TNS)
	v.SynthCellCount = get(aux.SynthCellCount)
	v.BufferCount = get(aux.BufferCount)
	return nil
}

// NewValues returns a Values with every metric set to NaN.
func NewValues() Values {
	n := math.NaN()
	return Values{GDSArea: n, SynthArea: n, Wirelength: n, WNS: n, TNS: n, SynthCellCount: n, BufferCount: n}
}

// Missing lists the metrics still NaN.
func (v Values) Missing() []string {
	var out []string
	for _, m := range []struct {
		name string
		val  float64
	}{
		{"gds_area", v.GDSArea},
		{"synth_area", v.SynthArea},
		{"wirelength", v.Wirelength},
		{"wns", v.WNS},
		{"tns", v.TNS},
		{"synth_cell_count", v.SynthCellCount},
		{"buffer_count", v.BufferCount},
	} {
		if math.IsNaN(m.val) {
			out = append(out, m.name)
		}
	}
	return out
}

// Key candidates per metric, in preference order. Flow releases renamed
// several of these, so each metric accepts any of its aliases.
var keyCandidates = map[string][]string{
	"gds_area":         {"finish__design__die__area", "finish__design__core__area", "detailedroute__design__area"},
	"synth_area":       {"synth__design__instance__area__stdcell", "synth__design__instance__area"},
	"wirelength":       {"detailedroute__route__wirelength", "globalroute__route__wirelength"},
	"wns":              {"finish__timing__setup__ws", "detailedroute__timing__setup__ws", "cts__timing__setup__ws"},
	"tns":              {"finish__timing__setup__tns", "detailedroute__timing__setup__tns", "cts__timing__setup__tns"},
	"synth_cell_count": {"synth__design__instance__count__stdcell", "synth__design__instance__count"},
}

// Buffer insertions are reported per repair pass; the total is their sum.
var bufferKeys = []string{
	"repair_design__inserted__buffer_count",
	"repair_timing__inserted__buffer_count",
	"cts__inserted__buffer_count",
}

// Stage reports consulted, newest first, when 6_report.json lacks a key.
var stageReports = []string{
	"5_2_route.json",
	"4_1_cts.json",
	"3_4_place_resized.json",
}

// Extract reads the metrics for one run from logsDir, the directory holding
// the flow's per-stage JSON reports (logs/<platform>/<design>/<tag>).
func Extract(logsDir string) (Values, error) {
	v := NewValues()

	reports := make([]map[string]any, 0, 1+len(stageReports))
	primary, err := readReport(filepath.Join(logsDir, "6_report.json"))
	if err != nil {
		return v, err
	}
	if primary != nil {
		reports = append(reports, primary)
	}
	for _, name := range stageReports {
		r, err := readReport(filepath.Join(logsDir, name))
		if err != nil {
			return v, err
		}
		if r != nil {
			reports = append(reports, r)
		}
	}
	if len(reports) == 0 {
		return v, fmt.Errorf("no flow reports found under %s", logsDir)
	}

	v.GDSArea = lookup(reports, keyCandidates["gds_area"])
	v.SynthArea = lookup(reports, keyCandidates["synth_area"])
	v.Wirelength = lookup(reports, keyCandidates["wirelength"])
	v.WNS = lookup(reports, keyCandidates["wns"])
	v.TNS = lookup(reports, keyCandidates["tns"])
	v.SynthCellCount = lookup(reports, keyCandidates["synth_cell_count"])
	v.BufferCount = sumBuffers(reports)
	return v, nil
}

var (
	wirelengthRe = regexp.MustCompile(`Total wire length\s*=\s*([0-9.]+)`)
	areaRe       = regexp.MustCompile(`Design area\s*([0-9.]+)`)
	bufferRe     = regexp.MustCompile(`Timing Repair Buffer\s+([0-9]+)`)
)

// ScrapeLog fills metrics still missing after Extract from the flow's make
// log. Values already resolved from reports are left alone.
func ScrapeLog(v Values, logPath string) (Values, error) {
	f, err := os.Open(logPath)
	if err != nil {
		return v, fmt.Errorf("opening flow log: %w", err)
	}
	defer f.Close()

	var buffers float64
	sawBuffers := false

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if m := wirelengthRe.FindStringSubmatch(line); m != nil && math.IsNaN(v.Wirelength) {
			if f, err := strconv.ParseFloat(m[1], 64); err == nil {
				v.Wirelength = f
			}
		}
		if m := areaRe.FindStringSubmatch(line); m != nil {
			if f, err := strconv.ParseFloat(m[1], 64); err == nil && math.IsNaN(v.GDSArea) {
				v.GDSArea = f
			}
		}
		if m := bufferRe.FindStringSubmatch(line); m != nil {
			if f, err := strconv.ParseFloat(m[1], 64); err == nil {
				buffers += f
				sawBuffers = true
			}
		}
	}
	if err := sc.Err(); err != nil {
		return v, fmt.Errorf("scanning flow log: %w", err)
	}
	if sawBuffers && math.IsNaN(v.BufferCount) {
		v.BufferCount = buffers
	}
	return v, nil
}

func readReport(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return m, nil
}

// lookup tries each candidate key against each report in order and returns
// the first numeric hit, or NaN.
func lookup(reports []map[string]any, candidates []string) float64 {
	for _, key := range candidates {
		for _, r := range reports {
			if raw, ok := r[key]; ok {
				if f, ok := toFloat(raw); ok {
					return f
				}
			}
		}
	}
	return math.NaN()
}

func sumBuffers(reports []map[string]any) float64 {
	total := 0.0
	found := false
	for _, key := range bufferKeys {
		for _, r := range reports {
			if raw, ok := r[key]; ok {
				if f, ok := toFloat(raw); ok {
					total += f
					found = true
					break
				}
			}
		}
	}
	if !found {
		return math.NaN()
	}
	return total
}

// toFloat coerces the JSON value shapes the flow emits: numbers, numeric
// strings, and the occasional "N/A" placeholder.
func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case string:
		s := strings.TrimSpace(v)
		if s == "" || strings.EqualFold(s, "n/a") {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
