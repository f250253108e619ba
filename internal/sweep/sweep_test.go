package sweep

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hwlab/siliflow/internal/config"
	"github.com/hwlab/siliflow/internal/flow"
	"github.com/hwlab/siliflow/internal/generator"
	"github.com/hwlab/siliflow/internal/scenario"
)

func testExperiment() *config.Experiment {
	return &config.Experiment{
		Name:      "posit_sweep",
		PDKs:      []string{"sky130hd"},
		ClocksNS:  []float64{2.5, 5.0},
		Densities: []float64{0.55},
		Designs: []*config.Design{
			{Name: "p32_add", Operator: "PositAdder", Params: map[string]any{"wE": 8.0}},
		},
	}
}

func testEnv(t *testing.T) Env {
	t.Helper()
	return Env{
		Tools: config.Tools{
			FloPoCo:  "/opt/flopoco",
			Vh2v:     "/opt/vh2v",
			FlowRoot: filepath.Join(t.TempDir(), "flow"),
		},
		Out:  config.Output{Root: filepath.Join(t.TempDir(), "outputs"), Plots: true, Latex: true},
		Gen:  &generator.Runner{FloPoCoBin: "/opt/flopoco", Vh2vBin: "/opt/vh2v", DryRun: true},
		Flow: &flow.Runner{DryRun: true},
	}
}

func seedFlowReport(t *testing.T, env Env, c Case) {
	t.Helper()
	dir := filepath.Join(env.Tools.FlowRoot, "logs", c.PDK, c.Design.Name, c.RunTag())
	require.NoError(t, os.MkdirAll(dir, 0o755))
	raw, err := json.Marshal(map[string]any{
		"finish__design__die__area":              150.0,
		"synth__design__instance__area__stdcell": 120.0,
		"detailedroute__route__wirelength":       900.0,
		"finish__timing__setup__ws":              -0.05,
		"finish__timing__setup__tns":             -0.4,
		"synth__design__instance__count__stdcell": 300.0,
		"repair_design__inserted__buffer_count":  4.0,
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "6_report.json"), raw, 0o644))
}

func TestNewPlan_Cardinality(t *testing.T) {
	t.Parallel()

	plan := NewPlan(testExperiment())
	require.Len(t, plan.Cases, 2, "1 design x 1 pdk x 2 clocks x 1 density")
	assert.Equal(t, "d55_c2.50", plan.Cases[0].RunTag())
	assert.Equal(t, "d55_c5.00", plan.Cases[1].RunTag())
}

func TestRunTag_PercentDensity(t *testing.T) {
	t.Parallel()

	c := Case{Design: &config.Design{Name: "d"}, ClockNS: 1.25, Density: 62}
	assert.Equal(t, "d62_c1.25", c.RunTag())
}

func TestAssemble_GraphShape(t *testing.T) {
	t.Parallel()

	plan := NewPlan(testExperiment())
	b, _, err := plan.Assemble(testEnv(t))
	require.NoError(t, err)

	names := b.Names()
	// 3 design-chain tasks + 2 cases x 3 tasks + report.
	assert.Len(t, names, 10)
	assert.Contains(t, names, "mkdir_src_p32_add")
	assert.Contains(t, names, "generate_p32_add")
	assert.Contains(t, names, "translate_p32_add")
	assert.Contains(t, names, "flow_p32_add_sky130hd_d55_c2.50")
	assert.Contains(t, names, "metrics_p32_add_sky130hd_d55_c5.00")

	assert.Equal(t, []string{"generate_p32_add"}, b.Deps("translate_p32_add"))
	assert.Equal(t, []string{"translate_p32_add"}, b.Deps("render_p32_add_sky130hd_d55_c2.50"))
	assert.Equal(t, []string{"flow_p32_add_sky130hd_d55_c2.50"}, b.Deps("metrics_p32_add_sky130hd_d55_c2.50"))
	assert.ElementsMatch(t, []string{
		"metrics_p32_add_sky130hd_d55_c2.50",
		"metrics_p32_add_sky130hd_d55_c5.00",
	}, b.Deps("report"))
}

func TestAssemble_SourceDesignSkipsGeneration(t *testing.T) {
	t.Parallel()

	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "top.v"), []byte("module top; endmodule\n"), 0o644))

	exp := testExperiment()
	exp.Designs = []*config.Design{{Name: "legacy", SourceDir: srcDir}}
	plan := NewPlan(exp)

	b, _, err := plan.Assemble(testEnv(t))
	require.NoError(t, err)

	names := b.Names()
	assert.Contains(t, names, "import_src_legacy")
	assert.NotContains(t, names, "generate_legacy")
	assert.Equal(t, []string{"import_src_legacy"}, b.Deps("render_legacy_sky130hd_d55_c2.50"))
}

func TestPlan_EndToEndDryRun(t *testing.T) {
	t.Parallel()

	plan := NewPlan(testExperiment())
	env := testEnv(t)
	for _, c := range plan.Cases {
		seedFlowReport(t, env, c)
	}

	b, results, err := plan.Assemble(env)
	require.NoError(t, err)
	s, err := b.Build()
	require.NoError(t, err)

	rep, err := s.Run(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, scenario.StateSuccess, rep.FinalState)

	records := results.Records()
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, "posit_sweep", r.Experiment)
		assert.InDelta(t, 150.0, r.Metrics.GDSArea, 1e-9)
	}

	_, err = os.Stat(filepath.Join(env.Out.Root, "posit_sweep", "metrics.jsonl"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(env.Out.Root, "posit_sweep", "metrics_table.tex"))
	assert.NoError(t, err)

	// Rendered flow inputs landed in the flow tree.
	cfg, err := os.ReadFile(filepath.Join(env.Tools.FlowRoot, "designs", "sky130hd", "posit_sweep", "p32_add", "d55_c2.50", "config.mk"))
	require.NoError(t, err)
	assert.Contains(t, string(cfg), "DESIGN_NAME      = p32_add")
}

type fakeLedger struct {
	succeeded map[string]bool
}

func (f *fakeLedger) TaskSucceeded(_ context.Context, _, task string) (bool, error) {
	return f.succeeded[task], nil
}

func TestPlan_LedgerSkipsCompletedFlow(t *testing.T) {
	t.Parallel()

	plan := NewPlan(testExperiment())
	env := testEnv(t)
	// Not a dry run: executing any flow task would fail against this binary.
	env.Flow = &flow.Runner{MakeBin: "/nonexistent/make"}
	env.Ledger = &fakeLedger{succeeded: map[string]bool{}}
	for _, c := range plan.Cases {
		seedFlowReport(t, env, c)
	}
	for _, name := range mustNames(t, plan, env) {
		if strings.HasPrefix(name, "flow_") {
			env.Ledger.(*fakeLedger).succeeded[name] = true
		}
	}

	b, results, err := plan.Assemble(env)
	require.NoError(t, err)
	s, err := b.Build()
	require.NoError(t, err)

	rep, err := s.Run(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, scenario.StateSuccess, rep.FinalState, "flow tasks skip instead of executing")
	assert.Len(t, results.Records(), 2)
}

func mustNames(t *testing.T, plan *Plan, env Env) []string {
	t.Helper()
	names, err := plan.TaskNames(env)
	require.NoError(t, err)
	return names
}
