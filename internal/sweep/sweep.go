// Package sweep turns an experiment definition into the concrete task graph
// that runs it: one RTL-generation chain per design, fanned out into one
// render/flow/metrics chain per sweep point, joined by a final report task.
package sweep

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hwlab/siliflow/internal/config"
	"github.com/hwlab/siliflow/internal/ctxlog"
	"github.com/hwlab/siliflow/internal/flow"
	"github.com/hwlab/siliflow/internal/fsutil"
	"github.com/hwlab/siliflow/internal/generator"
	"github.com/hwlab/siliflow/internal/metrics"
	"github.com/hwlab/siliflow/internal/render"
	"github.com/hwlab/siliflow/internal/report"
	"github.com/hwlab/siliflow/internal/scenario"
)

// Case is one sweep point: a design on a PDK at one clock and density.
type Case struct {
	Design  *config.Design
	PDK     string
	ClockNS float64
	Density float64
}

// RunTag names the flow variant for this case, e.g. d55_c2.50. Sibling
// cases never share a tag, which keeps their flow results partitioned.
func (c Case) RunTag() string {
	util, _ := render.NormalizeDensity(c.Density)
	return fmt.Sprintf("d%02.0f_c%.2f", util, c.ClockNS)
}

// Plan is the materialized sweep for one experiment.
type Plan struct {
	Experiment *config.Experiment
	Cases      []Case
}

// NewPlan expands designs × pdks × clocks × densities in declaration order.
func NewPlan(exp *config.Experiment) *Plan {
	p := &Plan{Experiment: exp}
	for _, d := range exp.Designs {
		for _, pdk := range exp.PDKs {
			for _, clock := range exp.ClocksNS {
				for _, density := range exp.Densities {
					p.Cases = append(p.Cases, Case{Design: d, PDK: pdk, ClockNS: clock, Density: density})
				}
			}
		}
	}
	return p
}

// Ledger is the completion memory consulted for skip-if-succeeded. A nil
// Ledger disables skipping.
type Ledger interface {
	TaskSucceeded(ctx context.Context, experiment, task string) (bool, error)
}

// Env carries the runners and paths the assembled actions close over.
type Env struct {
	Tools  config.Tools
	Out    config.Output
	Gen    *generator.Runner
	Flow   *flow.Runner
	Ledger Ledger
}

// Results collects per-case records as metrics tasks finish.
type Results struct {
	mu      sync.Mutex
	records []report.Record
}

func (r *Results) add(rec report.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

// Records returns a copy of everything collected so far.
func (r *Results) Records() []report.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]report.Record, len(r.records))
	copy(out, r.records)
	return out
}

// Assemble builds the task graph for the plan. Per design d:
//
//	mkdir_src_d -> generate_d -> translate_d        (FloPoCo designs)
//	mkdir_src_d -> import_src_d                     (pre-existing RTL)
//
// then per case: render -> flow -> metrics, and a single report task
// depending on every metrics task.
func (p *Plan) Assemble(env Env) (*scenario.Builder, *Results, error) {
	b := scenario.NewBuilder()
	results := &Results{}
	exp := p.Experiment

	var metricTasks []string
	for _, d := range exp.Designs {
		rtlTask, err := p.addDesignChain(b, env, d)
		if err != nil {
			return nil, nil, err
		}

		for _, c := range p.Cases {
			if c.Design.Name != d.Name {
				continue
			}
			c := c
			tag := c.RunTag()
			suffix := fmt.Sprintf("%s_%s_%s", d.Name, c.PDK, tag)

			renderTask := "render_" + suffix
			if err := b.Add(renderTask, p.renderAction(env, c), rtlTask); err != nil {
				return nil, nil, err
			}

			flowTask := "flow_" + suffix
			if err := b.Add(flowTask, p.skipWrapped(env, flowTask, p.flowAction(env, c)), renderTask); err != nil {
				return nil, nil, err
			}

			metricsTask := "metrics_" + suffix
			if err := b.Add(metricsTask, p.metricsAction(env, c, results), flowTask); err != nil {
				return nil, nil, err
			}
			metricTasks = append(metricTasks, metricsTask)
		}
	}

	if err := b.Add("report", p.reportAction(env, results), metricTasks...); err != nil {
		return nil, nil, err
	}
	return b, results, nil
}

// addDesignChain registers the RTL-producing tasks for one design and
// returns the name of the task the per-case chains depend on.
func (p *Plan) addDesignChain(b *scenario.Builder, env Env, d *config.Design) (string, error) {
	srcDir := p.srcDir(env, d)

	mkdirTask := "mkdir_src_" + d.Name
	if err := b.Add(mkdirTask, func(ctx context.Context) error {
		return os.MkdirAll(srcDir, 0o755)
	}); err != nil {
		return "", err
	}

	if !d.Generated() {
		importTask := "import_src_" + d.Name
		if err := b.Add(importTask, p.importAction(d, srcDir), mkdirTask); err != nil {
			return "", err
		}
		return importTask, nil
	}

	vhdlPath := filepath.Join(srcDir, d.Name+".vhdl")
	spec := generator.Spec{Name: d.Name, Operator: d.Operator, Params: d.Params, Args: d.Args}

	genTask := "generate_" + d.Name
	genAction := func(ctx context.Context) error {
		return env.Gen.Generate(ctx, spec, vhdlPath)
	}
	if err := b.Add(genTask, p.skipWrapped(env, genTask, genAction), mkdirTask); err != nil {
		return "", err
	}

	translateTask := "translate_" + d.Name
	translateAction := func(ctx context.Context) error {
		return env.Gen.Translate(ctx, vhdlPath, srcDir)
	}
	if err := b.Add(translateTask, p.skipWrapped(env, translateTask, translateAction), genTask); err != nil {
		return "", err
	}
	return translateTask, nil
}

// skipWrapped consults the ledger before running the action. A recorded
// success from a prior attempt short-circuits the task.
func (p *Plan) skipWrapped(env Env, taskName string, action scenario.Action) scenario.Action {
	if env.Ledger == nil {
		return action
	}
	expName := p.Experiment.Name
	return func(ctx context.Context) error {
		done, err := env.Ledger.TaskSucceeded(ctx, expName, taskName)
		if err != nil {
			return fmt.Errorf("ledger lookup for %s: %w", taskName, err)
		}
		if done {
			ctxlog.FromContext(ctx).Info("skipping completed task", "task", taskName)
			return nil
		}
		return action(ctx)
	}
}

func (p *Plan) importAction(d *config.Design, srcDir string) scenario.Action {
	return func(ctx context.Context) error {
		matches, err := fsutil.CollectByExtension(d.SourceDir, ".v")
		if err != nil {
			return fmt.Errorf("listing %s: %w", d.SourceDir, err)
		}
		if len(matches) == 0 {
			return fmt.Errorf("no verilog sources in %s", d.SourceDir)
		}
		for _, src := range matches {
			if err := fsutil.CopyFile(src, filepath.Join(srcDir, filepath.Base(src))); err != nil {
				return err
			}
		}
		return nil
	}
}

func (p *Plan) renderAction(env Env, c Case) scenario.Action {
	exp := p.Experiment
	return func(ctx context.Context) error {
		util, place := render.NormalizeDensity(c.Density)

		cfgText, err := render.FlowConfigText(render.FlowConfig{
			DesignName:      c.Design.Name,
			Platform:        c.PDK,
			VerilogGlob:     "./" + filepath.ToSlash(filepath.Join("designs", "src", exp.Name, c.Design.Name, "*.v")),
			SDCPath:         "./" + filepath.ToSlash(filepath.Join("designs", c.PDK, exp.Name, c.Design.Name, c.RunTag(), "constraint.sdc")),
			CoreUtilization: int(util),
			PlaceDensity:    place,
		})
		if err != nil {
			return err
		}
		sdcText, err := render.ConstraintsText(render.Constraints{
			DesignName:    c.Design.Name,
			ClockPeriodNS: c.ClockNS,
		})
		if err != nil {
			return err
		}

		dir := p.configDir(env, c)
		if err := render.WriteFile(filepath.Join(dir, "config.mk"), cfgText); err != nil {
			return err
		}
		return render.WriteFile(filepath.Join(dir, "constraint.sdc"), sdcText)
	}
}

func (p *Plan) flowAction(env Env, c Case) scenario.Action {
	exp := p.Experiment
	return func(ctx context.Context) error {
		inv := flow.Invocation{
			FlowRoot: env.Tools.FlowRoot,
			DesignConfig: "./" + filepath.ToSlash(
				filepath.Join("designs", c.PDK, exp.Name, c.Design.Name, c.RunTag(), "config.mk")),
			RunTag:      c.RunTag(),
			OpenROADExe: env.Tools.OpenROAD,
			YosysCmd:    env.Tools.Yosys,
		}
		if env.Out.LogFlows {
			inv.LogPath = p.flowLogPath(env, c)
		}
		return env.Flow.Run(ctx, inv)
	}
}

func (p *Plan) metricsAction(env Env, c Case, results *Results) scenario.Action {
	exp := p.Experiment
	return func(ctx context.Context) error {
		logsDir := p.flowResultsDir(env, c)
		vals, err := metrics.Extract(logsDir)
		if err != nil {
			return fmt.Errorf("extracting metrics for %s: %w", c.RunTag(), err)
		}
		if len(vals.Missing()) > 0 && env.Out.LogFlows {
			if scraped, err := metrics.ScrapeLog(vals, p.flowLogPath(env, c)); err == nil {
				vals = scraped
			}
		}
		if missing := vals.Missing(); len(missing) > 0 {
			ctxlog.FromContext(ctx).Warn("metrics unresolved",
				"design", c.Design.Name, "run_tag", c.RunTag(), "missing", strings.Join(missing, ","))
		}

		results.add(report.Record{
			Experiment: exp.Name,
			Design:     c.Design.Name,
			PDK:        c.PDK,
			ClockNS:    c.ClockNS,
			Density:    c.Density,
			RunTag:     c.RunTag(),
			Metrics:    vals,
		})
		return nil
	}
}

func (p *Plan) reportAction(env Env, results *Results) scenario.Action {
	expName := p.Experiment.Name
	return func(ctx context.Context) error {
		records := results.Records()
		if len(records) == 0 {
			return fmt.Errorf("no metrics collected, nothing to report")
		}
		outDir := filepath.Join(env.Out.Root, expName)
		return report.Generate(ctx, outDir, records, report.Outputs{
			JSONL: true,
			Latex: env.Out.Latex,
			Plots: env.Out.Plots,
		})
	}
}

// TaskNames lists the graph's task names in registration order without
// executing anything, for `plan` output.
func (p *Plan) TaskNames(env Env) ([]string, error) {
	b, _, err := p.Assemble(env)
	if err != nil {
		return nil, err
	}
	return b.Names(), nil
}

func (p *Plan) srcDir(env Env, d *config.Design) string {
	return filepath.Join(env.Tools.FlowRoot, "designs", "src", p.Experiment.Name, d.Name)
}

// configDir is partitioned by run tag: sibling cases of one design must not
// overwrite each other's rendered flow inputs.
func (p *Plan) configDir(env Env, c Case) string {
	return filepath.Join(env.Tools.FlowRoot, "designs", c.PDK, p.Experiment.Name, c.Design.Name, c.RunTag())
}

// flowResultsDir is where the flow drops its per-stage JSON reports for
// this case's variant.
func (p *Plan) flowResultsDir(env Env, c Case) string {
	return filepath.Join(env.Tools.FlowRoot, "logs", c.PDK, c.Design.Name, c.RunTag())
}

func (p *Plan) flowLogPath(env Env, c Case) string {
	return filepath.Join(env.Out.Root, p.Experiment.Name, "logs",
		fmt.Sprintf("%s_%s_%s.log", c.Design.Name, c.PDK, c.RunTag()))
}

// SortedCaseTags is a convenience for logs and tests.
func (p *Plan) SortedCaseTags() []string {
	tags := make([]string, 0, len(p.Cases))
	for _, c := range p.Cases {
		tags = append(tags, c.Design.Name+"/"+c.PDK+"/"+c.RunTag())
	}
	sort.Strings(tags)
	return tags
}
