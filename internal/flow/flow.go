// Package flow drives the OpenROAD-flow-scripts Makefile for a single
// design configuration. Concurrent cases within one run share the flow tree
// safely because their inputs and results are partitioned by run tag;
// LockRoot guards the tree against other siliflow processes.
package flow

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/hwlab/siliflow/internal/ctxlog"
)

// Invocation describes one make run against the flow tree.
type Invocation struct {
	// FlowRoot is the OpenROAD-flow-scripts flow/ directory.
	FlowRoot string
	// DesignConfig is the config.mk path relative to FlowRoot
	// (e.g. ./designs/sky130hd/exp/design/config.mk).
	DesignConfig string
	// RunTag names the results directory for this case.
	RunTag string
	// Target is the make target; empty runs the full flow.
	Target string
	// OpenROADExe and YosysCmd override the flow's tool discovery when set.
	OpenROADExe string
	YosysCmd    string
	// LogPath captures combined make output when set.
	LogPath string
}

// Runner executes flow invocations.
type Runner struct {
	MakeBin string
	// DryRun logs the command without executing it.
	DryRun bool
}

// Run executes make for the invocation. Sibling invocations may run
// concurrently: their configs, variants and logs never share paths. Callers
// guarding the tree against other processes hold LockRoot around the whole
// run, not around single invocations.
func (r *Runner) Run(ctx context.Context, inv Invocation) error {
	if inv.FlowRoot == "" {
		return fmt.Errorf("flow root not configured (set tools.flow_root)")
	}
	makeBin := r.MakeBin
	if makeBin == "" {
		makeBin = "make"
	}

	argv := []string{makeBin, "-C", inv.FlowRoot, "DESIGN_CONFIG=" + inv.DesignConfig}
	if inv.Target != "" {
		argv = append(argv, inv.Target)
	}

	env := os.Environ()
	if inv.RunTag != "" {
		env = append(env, "FLOW_VARIANT="+inv.RunTag)
	}
	if inv.OpenROADExe != "" {
		env = append(env, "OPENROAD_EXE="+inv.OpenROADExe)
	}
	if inv.YosysCmd != "" {
		env = append(env, "YOSYS_CMD="+inv.YosysCmd)
	}

	logger := ctxlog.FromContext(ctx)
	logger.Info("invoking flow", "command", strings.Join(argv, " "), "run_tag", inv.RunTag)
	if r.DryRun {
		return nil
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = env

	if inv.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(inv.LogPath), 0o755); err != nil {
			return fmt.Errorf("creating log dir: %w", err)
		}
		logFile, err := os.Create(inv.LogPath)
		if err != nil {
			return fmt.Errorf("creating flow log %s: %w", inv.LogPath, err)
		}
		defer logFile.Close()
		cmd.Stdout = logFile
		cmd.Stderr = logFile
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("flow make failed (log: %s): %w", inv.LogPath, err)
		}
		return nil
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("flow make failed: %w (output: %s)", err, tailStr(string(out), 2000))
	}
	return nil
}

// LockRoot takes an advisory lock guarding the shared flow tree for the
// duration of a whole experiment run, so two siliflow processes never
// contend on the same tree. TryLockContext polls so a canceled context
// abandons the wait.
func LockRoot(ctx context.Context, flowRoot string) (func(), error) {
	lockPath := filepath.Join(flowRoot, ".siliflow.lock")
	fl := flock.New(lockPath)
	locked, err := fl.TryLockContext(ctx, 250*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("acquiring flow lock %s: %w", lockPath, err)
	}
	if !locked {
		return nil, fmt.Errorf("flow lock %s not acquired", lockPath)
	}
	return func() { _ = fl.Unlock() }, nil
}

func tailStr(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
