// Package app wires configuration, the run ledger, sweep planning and the
// scheduler into the commands the CLI exposes.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hwlab/siliflow/internal/config"
	"github.com/hwlab/siliflow/internal/ctxlog"
	"github.com/hwlab/siliflow/internal/flow"
	"github.com/hwlab/siliflow/internal/generator"
	"github.com/hwlab/siliflow/internal/ledger"
	"github.com/hwlab/siliflow/internal/metrics"
	"github.com/hwlab/siliflow/internal/report"
	"github.com/hwlab/siliflow/internal/scenario"
	"github.com/hwlab/siliflow/internal/sweep"
)

// Options configures an App instance.
type Options struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
	// DryRun logs tool invocations without executing them.
	DryRun bool
	// Stdout receives human-readable summaries; defaults to os.Stdout.
	Stdout io.Writer
}

// App is one loaded configuration plus its ledger.
type App struct {
	Model  *config.Model
	Logger *slog.Logger

	store  *ledger.Store
	stdout io.Writer
	dryRun bool
}

// New loads configuration and opens the run ledger under the output root.
func New(ctx context.Context, opts Options) (*App, error) {
	logger, err := NewLogger(opts.LogLevel, opts.LogFormat)
	if err != nil {
		return nil, err
	}

	model, err := config.Load(ctx, opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(model.Output.Root, 0o755); err != nil {
		return nil, fmt.Errorf("creating output root: %w", err)
	}
	store, err := ledger.Open(filepath.Join(model.Output.Root, "ledger.db"))
	if err != nil {
		return nil, err
	}

	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	return &App{
		Model:  model,
		Logger: logger,
		store:  store,
		stdout: stdout,
		dryRun: opts.DryRun,
	}, nil
}

// Close releases the ledger.
func (a *App) Close() error {
	return a.store.Close()
}

// NewLogger builds the process logger. Format is "text" or "json"; level is
// one of debug, info, warn, error.
func NewLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "", "info":
		lvl = slog.LevelInfo
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	ho := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "", "text":
		return slog.New(slog.NewTextHandler(os.Stderr, ho)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, ho)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// experiments resolves the experiment selection: a name picks one, empty
// selects all.
func (a *App) experiments(name string) ([]*config.Experiment, error) {
	if name == "" {
		return a.Model.Experiments, nil
	}
	exp := a.Model.Experiment(name)
	if exp == nil {
		return nil, fmt.Errorf("unknown experiment %q", name)
	}
	return []*config.Experiment{exp}, nil
}

func (a *App) env(ledgerStore sweep.Ledger) sweep.Env {
	tools := a.Model.Tools
	return sweep.Env{
		Tools:  tools,
		Out:    a.Model.Output,
		Gen:    &generator.Runner{FloPoCoBin: tools.FloPoCo, Vh2vBin: tools.Vh2v, DryRun: a.dryRun},
		Flow:   &flow.Runner{MakeBin: tools.Make, DryRun: a.dryRun},
		Ledger: ledgerStore,
	}
}

// Run executes the named experiment (or all of them) with a bounded retry
// loop. Each attempt rebuilds a fresh task graph; completed tasks are
// skipped via the ledger, so retries only redo the failed tail of the
// sweep. The loop stops early when an attempt records no new success.
func (a *App) Run(ctx context.Context, experimentName string) error {
	ctx = ctxlog.WithLogger(ctx, a.Logger)

	exps, err := a.experiments(experimentName)
	if err != nil {
		return err
	}
	for _, exp := range exps {
		if err := a.runExperiment(ctx, exp); err != nil {
			return fmt.Errorf("experiment %s: %w", exp.Name, err)
		}
	}
	return nil
}

func (a *App) runExperiment(ctx context.Context, exp *config.Experiment) error {
	log := a.Logger.With("experiment", exp.Name)
	plan := sweep.NewPlan(exp)
	log.Info("planned sweep", "cases", len(plan.Cases), "designs", len(exp.Designs))

	var lastErr error
	for attempt := 1; attempt <= exp.MaxAttempts; attempt++ {
		rep, newSuccesses, err := a.runAttempt(ctx, exp, plan)
		if rep == nil {
			// Graph construction or ledger failure; retrying cannot help.
			return err
		}
		lastErr = err

		if rep.FinalState == scenario.StateSuccess {
			if attempt > 1 {
				log.Info("experiment recovered", "attempt", attempt)
			}
			return nil
		}

		log.Warn("attempt stalled",
			"attempt", attempt,
			"failed", len(rep.Failed),
			"unreachable", len(rep.Unreachable),
			"new_successes", newSuccesses)
		if newSuccesses == 0 {
			log.Error("no progress, giving up", "attempt", attempt)
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	return lastErr
}

// runAttempt runs one full scheduler pass, persists its outcomes, and
// reports how many tasks succeeded for the first time. Ledger-skipped tasks
// finish as succeeded too, so raw success counts overstate progress; only a
// success with no prior succeeded outcome counts as new.
func (a *App) runAttempt(ctx context.Context, exp *config.Experiment, plan *sweep.Plan) (*scenario.Report, int, error) {
	builder, _, err := plan.Assemble(a.env(a.store))
	if err != nil {
		return nil, 0, err
	}
	s, err := builder.Build(scenario.WithLogging(true))
	if err != nil {
		return nil, 0, err
	}

	if !a.dryRun {
		unlock, err := flow.LockRoot(ctx, a.Model.Tools.FlowRoot)
		if err != nil {
			return nil, 0, err
		}
		defer unlock()
	}

	runID, err := a.store.BeginRun(ctx, exp.Name)
	if err != nil {
		return nil, 0, err
	}

	rep, runErr := s.Run(ctx, exp.Concurrency)
	if rep == nil {
		return nil, 0, runErr
	}

	// Check prior outcomes before recording this attempt's.
	newSuccesses := 0
	for name, res := range rep.Tasks {
		if res.Status != scenario.StatusSucceeded {
			continue
		}
		prior, err := a.store.TaskSucceeded(ctx, exp.Name, name)
		if err != nil {
			a.Logger.Error("checking prior outcome", "task", name, "error", err)
			continue
		}
		if !prior {
			newSuccesses++
		}
	}

	for name, res := range rep.Tasks {
		errMsg := ""
		if res.Err != nil {
			errMsg = res.Err.Error()
		}
		if err := a.store.RecordTask(ctx, runID, exp.Name, name, res.Status.String(), errMsg); err != nil {
			a.Logger.Error("recording task outcome", "task", name, "error", err)
		}
	}
	if err := a.store.FinishRun(ctx, runID, rep.FinalState.String()); err != nil {
		a.Logger.Error("recording run finish", "run_id", runID, "error", err)
	}
	return rep, newSuccesses, runErr
}

// Plan prints the expanded cases and task graph without executing anything.
func (a *App) Plan(ctx context.Context, experimentName string) error {
	exps, err := a.experiments(experimentName)
	if err != nil {
		return err
	}
	for _, exp := range exps {
		plan := sweep.NewPlan(exp)
		fmt.Fprintf(a.stdout, "experiment %s: %d cases\n", exp.Name, len(plan.Cases))
		for _, tag := range plan.SortedCaseTags() {
			fmt.Fprintf(a.stdout, "  case %s\n", tag)
		}

		names, err := plan.TaskNames(a.env(nil))
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "  %d tasks:\n", len(names))
		for _, name := range names {
			fmt.Fprintf(a.stdout, "    %s\n", name)
		}
	}
	return nil
}

// Report re-extracts metrics from existing flow results and regenerates the
// output artifacts without running any flows.
func (a *App) Report(ctx context.Context, experimentName string) error {
	ctx = ctxlog.WithLogger(ctx, a.Logger)

	exps, err := a.experiments(experimentName)
	if err != nil {
		return err
	}
	for _, exp := range exps {
		plan := sweep.NewPlan(exp)
		records := make([]report.Record, 0, len(plan.Cases))
		for _, c := range plan.Cases {
			logsDir := filepath.Join(a.Model.Tools.FlowRoot, "logs", c.PDK, c.Design.Name, c.RunTag())
			vals, err := metrics.Extract(logsDir)
			if err != nil {
				a.Logger.Warn("no flow results for case", "run_tag", c.RunTag(), "error", err)
				continue
			}
			records = append(records, report.Record{
				Experiment: exp.Name,
				Design:     c.Design.Name,
				PDK:        c.PDK,
				ClockNS:    c.ClockNS,
				Density:    c.Density,
				RunTag:     c.RunTag(),
				Metrics:    vals,
			})
		}
		if len(records) == 0 {
			return fmt.Errorf("experiment %s: no flow results to report on", exp.Name)
		}

		outDir := filepath.Join(a.Model.Output.Root, exp.Name)
		if err := report.Generate(ctx, outDir, records, report.Outputs{
			JSONL: true,
			Latex: a.Model.Output.Latex,
			Plots: a.Model.Output.Plots,
		}); err != nil {
			return err
		}
		if err := report.RenderTable(a.stdout, records); err != nil {
			return err
		}
	}
	return nil
}

// Clean removes an experiment's rendered flow inputs, its outputs and its
// ledger history. Flow results under the flow tree are left alone.
func (a *App) Clean(ctx context.Context, experimentName string) error {
	exps, err := a.experiments(experimentName)
	if err != nil {
		return err
	}
	for _, exp := range exps {
		for _, pdk := range exp.PDKs {
			dir := filepath.Join(a.Model.Tools.FlowRoot, "designs", pdk, exp.Name)
			if err := os.RemoveAll(dir); err != nil {
				return fmt.Errorf("removing %s: %w", dir, err)
			}
		}
		outDir := filepath.Join(a.Model.Output.Root, exp.Name)
		if err := os.RemoveAll(outDir); err != nil {
			return fmt.Errorf("removing %s: %w", outDir, err)
		}
		if err := a.store.Reset(ctx, exp.Name); err != nil {
			return err
		}
		a.Logger.Info("cleaned experiment", "experiment", exp.Name)
	}
	return nil
}

// IsStall reports whether err is the scheduler's partial-failure outcome.
func IsStall(err error) bool {
	var stall *scenario.StalledError
	return errors.As(err, &stall)
}
