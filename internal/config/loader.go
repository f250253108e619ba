package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/hwlab/siliflow/internal/ctxlog"
)

const (
	defaultDensity     = 0.60
	defaultConcurrency = 2
	defaultMaxAttempts = 3
)

// rootSchema mirrors the HCL file layout before translation into the model.
type rootSchema struct {
	Experiments []*experimentSchema `hcl:"experiment,block"`
	Tools       *toolsSchema        `hcl:"tools,block"`
	Output      *outputSchema       `hcl:"output,block"`
}

type experimentSchema struct {
	Name        string          `hcl:"name,label"`
	PDKs        []string        `hcl:"pdks"`
	ClocksNS    []float64       `hcl:"clocks_ns"`
	Densities   []float64       `hcl:"densities,optional"`
	Concurrency *int            `hcl:"concurrency,optional"`
	MaxAttempts *int            `hcl:"max_attempts,optional"`
	Designs     []*designSchema `hcl:"design,block"`
}

type designSchema struct {
	Name      string         `hcl:"name,label"`
	Operator  string         `hcl:"operator,optional"`
	Params    hcl.Expression `hcl:"params,optional"`
	Args      []string       `hcl:"args,optional"`
	SourceDir string         `hcl:"source_dir,optional"`
}

type toolsSchema struct {
	FloPoCo  string `hcl:"flopoco,optional"`
	Vh2v     string `hcl:"vh2v,optional"`
	FlowRoot string `hcl:"flow_root"`
	OpenROAD string `hcl:"openroad,optional"`
	Yosys    string `hcl:"yosys,optional"`
	Make     string `hcl:"make,optional"`
}

type outputSchema struct {
	Root     string `hcl:"root,optional"`
	LogFlows *bool  `hcl:"log_flows,optional"`
	Plots    *bool  `hcl:"plots,optional"`
	Latex    *bool  `hcl:"latex,optional"`
}

// Load parses the given path (a single .hcl file or a directory of them),
// merges all files, and returns the validated model.
func Load(ctx context.Context, path string) (*Model, error) {
	logger := ctxlog.FromContext(ctx)

	files, baseDir, err := findFiles(path)
	if err != nil {
		return nil, err
	}
	logger.Debug("loading configuration", "files", len(files), "base_dir", baseDir)

	parser := hclparse.NewParser()
	var bodies []hcl.Body
	for _, f := range files {
		hclFile, diags := parser.ParseHCLFile(f)
		if diags.HasErrors() {
			return nil, fmt.Errorf("parsing %s: %w", f, diags)
		}
		bodies = append(bodies, hclFile.Body)
	}

	var root rootSchema
	if diags := gohcl.DecodeBody(hcl.MergeBodies(bodies), nil, &root); diags.HasErrors() {
		return nil, fmt.Errorf("decoding configuration: %w", diags)
	}

	model, err := translate(&root, baseDir)
	if err != nil {
		return nil, err
	}
	logger.Debug("configuration loaded", "experiments", len(model.Experiments))
	return model, nil
}

// findFiles returns the .hcl files to parse in a stable order plus the
// directory paths resolve against.
func findFiles(path string) ([]string, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, "", fmt.Errorf("configuration path: %w", err)
	}
	if !info.IsDir() {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, "", err
		}
		return []string{abs}, filepath.Dir(abs), nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, "", err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".hcl") {
			continue
		}
		abs, err := filepath.Abs(filepath.Join(path, e.Name()))
		if err != nil {
			return nil, "", err
		}
		files = append(files, abs)
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, "", fmt.Errorf("no .hcl files found in %s", path)
	}
	absDir, err := filepath.Abs(path)
	if err != nil {
		return nil, "", err
	}
	return files, absDir, nil
}

func translate(root *rootSchema, baseDir string) (*Model, error) {
	model := &Model{
		BaseDir: baseDir,
		Tools:   Tools{Make: "make"},
		Output:  Output{Root: filepath.Join(baseDir, "outputs"), LogFlows: true, Plots: true, Latex: true},
	}

	if root.Tools == nil {
		return nil, fmt.Errorf("configuration is missing the tools block")
	}
	model.Tools = Tools{
		FloPoCo:  resolvePath(baseDir, root.Tools.FloPoCo),
		Vh2v:     resolvePath(baseDir, root.Tools.Vh2v),
		FlowRoot: resolvePath(baseDir, root.Tools.FlowRoot),
		OpenROAD: root.Tools.OpenROAD,
		Yosys:    root.Tools.Yosys,
		Make:     root.Tools.Make,
	}
	if model.Tools.Make == "" {
		model.Tools.Make = "make"
	}
	if model.Tools.FlowRoot == "" {
		return nil, fmt.Errorf("tools.flow_root must be set")
	}

	if root.Output != nil {
		if root.Output.Root != "" {
			model.Output.Root = resolvePath(baseDir, root.Output.Root)
		}
		if root.Output.LogFlows != nil {
			model.Output.LogFlows = *root.Output.LogFlows
		}
		if root.Output.Plots != nil {
			model.Output.Plots = *root.Output.Plots
		}
		if root.Output.Latex != nil {
			model.Output.Latex = *root.Output.Latex
		}
	}

	if len(root.Experiments) == 0 {
		return nil, fmt.Errorf("configuration defines no experiment blocks")
	}
	seen := make(map[string]bool)
	for _, exp := range root.Experiments {
		if seen[exp.Name] {
			return nil, fmt.Errorf("duplicate experiment %q", exp.Name)
		}
		seen[exp.Name] = true
		translated, err := translateExperiment(exp, baseDir)
		if err != nil {
			return nil, err
		}
		model.Experiments = append(model.Experiments, translated)
	}
	return model, nil
}

func translateExperiment(exp *experimentSchema, baseDir string) (*Experiment, error) {
	out := &Experiment{
		Name:        exp.Name,
		PDKs:        exp.PDKs,
		ClocksNS:    exp.ClocksNS,
		Densities:   exp.Densities,
		Concurrency: defaultConcurrency,
		MaxAttempts: defaultMaxAttempts,
	}
	if len(out.PDKs) == 0 {
		return nil, fmt.Errorf("experiment %q: pdks must not be empty", exp.Name)
	}
	if len(out.ClocksNS) == 0 {
		return nil, fmt.Errorf("experiment %q: clocks_ns must not be empty", exp.Name)
	}
	if len(out.Densities) == 0 {
		out.Densities = []float64{defaultDensity}
	}
	if exp.Concurrency != nil {
		if *exp.Concurrency < 1 {
			return nil, fmt.Errorf("experiment %q: concurrency must be at least 1", exp.Name)
		}
		out.Concurrency = *exp.Concurrency
	}
	if exp.MaxAttempts != nil {
		if *exp.MaxAttempts < 1 {
			return nil, fmt.Errorf("experiment %q: max_attempts must be at least 1", exp.Name)
		}
		out.MaxAttempts = *exp.MaxAttempts
	}

	if len(exp.Designs) == 0 {
		return nil, fmt.Errorf("experiment %q defines no design blocks", exp.Name)
	}
	seen := make(map[string]bool)
	for _, d := range exp.Designs {
		if seen[d.Name] {
			return nil, fmt.Errorf("experiment %q: duplicate design %q", exp.Name, d.Name)
		}
		seen[d.Name] = true

		design := &Design{
			Name:      d.Name,
			Operator:  d.Operator,
			Args:      d.Args,
			SourceDir: resolvePath(baseDir, d.SourceDir),
		}
		if (design.Operator == "") == (design.SourceDir == "") {
			return nil, fmt.Errorf("design %q: exactly one of operator or source_dir must be set", d.Name)
		}
		params, err := decodeParams(d.Params)
		if err != nil {
			return nil, fmt.Errorf("design %q: %w", d.Name, err)
		}
		design.Params = params
		out.Designs = append(out.Designs, design)
	}
	return out, nil
}

// decodeParams evaluates the params object expression into plain Go values
// (string, float64, bool) for command assembly.
func decodeParams(expr hcl.Expression) (map[string]any, error) {
	if expr == nil {
		return nil, nil
	}
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, fmt.Errorf("evaluating params: %w", diags)
	}
	if val.IsNull() || !val.IsKnown() {
		return nil, nil
	}
	if !val.Type().IsObjectType() && !val.Type().IsMapType() {
		return nil, fmt.Errorf("params must be an object, got %s", val.Type().FriendlyName())
	}
	params := make(map[string]any)
	for it := val.ElementIterator(); it.Next(); {
		k, v := it.Element()
		converted, err := ctyToGo(v)
		if err != nil {
			return nil, fmt.Errorf("param %s: %w", k.AsString(), err)
		}
		params[k.AsString()] = converted
	}
	return params, nil
}

func ctyToGo(val cty.Value) (any, error) {
	if val.IsNull() || !val.IsKnown() {
		return nil, fmt.Errorf("value must be known and non-null")
	}
	switch val.Type() {
	case cty.String:
		return val.AsString(), nil
	case cty.Number:
		f, _ := val.AsBigFloat().Float64()
		return f, nil
	case cty.Bool:
		return val.True(), nil
	default:
		return nil, fmt.Errorf("unsupported type %s", val.Type().FriendlyName())
	}
}

func resolvePath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
