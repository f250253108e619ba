// Package cli defines the siliflow command tree.
package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hwlab/siliflow/internal/app"
)

type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

// New builds the root command.
func New(version string) *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "siliflow",
		Short:         "Run hardware generation experiment sweeps through the OpenROAD flow",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "siliflow.hcl", "configuration file or directory")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "text", "log format (text, json)")

	root.AddCommand(
		newRunCmd(flags),
		newPlanCmd(flags),
		newReportCmd(flags),
		newCleanCmd(flags),
	)
	return root
}

func (f *globalFlags) open(cmd *cobra.Command, dryRun bool) (*app.App, error) {
	return app.New(cmd.Context(), app.Options{
		ConfigPath: f.configPath,
		LogLevel:   f.logLevel,
		LogFormat:  f.logFormat,
		DryRun:     dryRun,
		Stdout:     cmd.OutOrStdout(),
	})
}

func experimentArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "run [experiment]",
		Short: "Execute an experiment sweep (all experiments when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := flags.open(cmd, dryRun)
			if err != nil {
				return err
			}
			defer a.Close()

			err = a.Run(cmd.Context(), experimentArg(args))
			if err == nil {
				fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("sweep complete"))
				return nil
			}
			if app.IsStall(err) {
				fmt.Fprintln(cmd.OutOrStdout(), color.RedString("sweep incomplete: %v", err))
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log tool invocations without executing them")
	return cmd
}

func newPlanCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "plan [experiment]",
		Short: "Print the expanded cases and task graph without running anything",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := flags.open(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Plan(cmd.Context(), experimentArg(args))
		},
	}
}

func newReportCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "report [experiment]",
		Short: "Re-extract metrics from existing flow results and regenerate outputs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := flags.open(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Report(cmd.Context(), experimentArg(args))
		},
	}
}

func newCleanCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clean [experiment]",
		Short: "Remove rendered flow inputs, outputs and ledger history",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := flags.open(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Clean(cmd.Context(), experimentArg(args))
		},
	}
}
