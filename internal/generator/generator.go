// Package generator produces design RTL: it drives FloPoCo to emit VHDL for
// a parameterized arithmetic operator, then the vh2v tool to translate the
// result to Verilog for the physical-design flow. Each sweep point gets its
// own Spec value; there is no shared mutable state between invocations.
package generator

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/hwlab/siliflow/internal/ctxlog"
)

// Spec describes one FloPoCo-generated design.
type Spec struct {
	Name     string
	Operator string
	Params   map[string]any
	Args     []string
}

// Command assembles the FloPoCo argv for this spec. Parameters are emitted
// in sorted order so repeated runs build identical command lines; boolean
// true parameters become bare flags, matching FloPoCo's CLI convention.
// name= and outputFile= are appended unless the caller already supplied
// them via Args.
func (s Spec) Command(bin, vhdlOut string) []string {
	cmd := []string{bin, s.Operator}

	keys := make([]string, 0, len(s.Params))
	for k := range s.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := s.Params[k].(type) {
		case bool:
			if v {
				cmd = append(cmd, k)
			}
		default:
			cmd = append(cmd, fmt.Sprintf("%s=%s", k, formatParam(v)))
		}
	}
	cmd = append(cmd, s.Args...)

	if !hasPrefixArg(cmd, "name=") {
		cmd = append(cmd, "name="+s.Name)
	}
	if !hasPrefixArg(cmd, "outputFile=") {
		cmd = append(cmd, "outputFile="+vhdlOut)
	}
	return cmd
}

// Runner executes the generation tools.
type Runner struct {
	FloPoCoBin string
	Vh2vBin    string
	// DryRun logs the command without executing it.
	DryRun bool
}

// Generate runs FloPoCo for the given Spec, writing VHDL to vhdlOut.
func (r *Runner) Generate(ctx context.Context, spec Spec, vhdlOut string) error {
	if r.FloPoCoBin == "" {
		return fmt.Errorf("flopoco binary not configured (set tools.flopoco)")
	}
	argv := spec.Command(r.FloPoCoBin, vhdlOut)
	if err := r.exec(ctx, "flopoco", argv); err != nil {
		return fmt.Errorf("flopoco failed for %s: %w", spec.Name, err)
	}
	return nil
}

// Translate runs vh2v on a generated VHDL file, emitting Verilog into outDir.
func (r *Runner) Translate(ctx context.Context, vhdlPath, outDir string) error {
	if r.Vh2vBin == "" {
		return fmt.Errorf("vh2v binary not configured (set tools.vh2v)")
	}
	argv := []string{r.Vh2vBin, "--input_file", vhdlPath, "--output_dir", outDir}
	if err := r.exec(ctx, "vh2v", argv); err != nil {
		return fmt.Errorf("vh2v failed for %s: %w", vhdlPath, err)
	}
	return nil
}

func (r *Runner) exec(ctx context.Context, tool string, argv []string) error {
	logger := ctxlog.FromContext(ctx)
	logger.Info("invoking "+tool, "command", strings.Join(argv, " "))
	if r.DryRun {
		return nil
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w (output: %s)", tool, err, tail(string(out), 2000))
	}
	logger.Debug(tool+" finished", "output_bytes", len(out))
	return nil
}

func formatParam(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func hasPrefixArg(argv []string, prefix string) bool {
	for _, a := range argv {
		if strings.HasPrefix(a, prefix) {
			return true
		}
	}
	return false
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
