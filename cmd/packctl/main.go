// Command packctl compiles package manifests into build plans, drives the
// external build tool and writes publish manifests.
package main

import (
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/thediveo/enumflag/v2"

	"github.com/packbuild/packctl/internal/bins"
	"github.com/packbuild/packctl/internal/logging"
	"github.com/packbuild/packctl/internal/service"
)

// version is injected at link time.
var version = "dev"

type formatMode enumflag.Flag

const (
	formatESM formatMode = iota
	formatCJS
	formatDual
)

var formatModeIds = map[formatMode][]string{
	formatESM:  {"esm"},
	formatCJS:  {"cjs"},
	formatDual: {"dual"},
}

var logLevelIds = map[logging.Level][]string{
	logging.LevelDebug: {"debug"},
	logging.LevelInfo:  {"info"},
	logging.LevelWarn:  {"warn"},
	logging.LevelError: {"error"},
}

var opts = struct {
	format     formatMode
	logLevel   logging.Level
	bundler    string
	conditions []string
	workers    int
	dryRun     bool
	quiet      bool
}{
	format:   formatESM,
	logLevel: logging.LevelInfo,
	bundler:  "esbuild",
}

func main() {
	root := &cobra.Command{
		Use:           "packctl",
		Short:         "Manifest-driven build configuration for packages",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	registerGlobalFlags(root.PersistentFlags())
	root.AddCommand(buildCommand(), planCommand(), versionCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func registerGlobalFlags(fs *pflag.FlagSet) {
	fs.Var(
		enumflag.New(&opts.logLevel, "level", logLevelIds, enumflag.EnumCaseInsensitive),
		"log-level", "log level {debug|info|warn|error}")
	fs.Var(
		enumflag.New(&opts.format, "format", formatModeIds, enumflag.EnumCaseInsensitive),
		"format", "module format for entry points {esm|cjs|dual}")
	fs.StringSliceVar(&opts.conditions, "conditions", nil,
		"export condition preference order (highest first)")
	fs.StringVar(&opts.bundler, "bundler", opts.bundler,
		"external build tool binary")
}

func buildCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build [dir]",
		Short: "Build the package (or every workspace package) rooted at dir",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService(args)
			if err != nil {
				return err
			}
			return svc.Run(cmd.Context())
		},
	}
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "concurrent package builds (0 = one per CPU)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "compute plans without building or writing")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "suppress the progress bar")
	return cmd
}

func planCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "plan [dir]",
		Short: "Print the build targets without executing them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService(args)
			if err != nil {
				return err
			}
			results, err := svc.Plan(cmd.Context())
			if err != nil {
				return err
			}
			return renderPlan(cmd.OutOrStdout(), results)
		},
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the packctl version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func newService(args []string) (*service.Service, error) {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	if info, err := os.Stat(dir); err != nil {
		return nil, err
	} else if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	return service.New(service.Options{
		Dir:        dir,
		Bundler:    opts.bundler,
		Formats:    formats(opts.format),
		Conditions: opts.conditions,
		Workers:    opts.workers,
		DryRun:     opts.dryRun,
		Quiet:      opts.quiet,
		Logger:     logging.NewConsoleLogger(opts.logLevel),
	}), nil
}

func formats(mode formatMode) []bins.Format {
	switch mode {
	case formatCJS:
		return []bins.Format{bins.FormatCJS}
	case formatDual:
		return []bins.Format{bins.FormatESM, bins.FormatCJS}
	default:
		return []bins.Format{bins.FormatESM}
	}
}

func renderPlan(w io.Writer, results []*service.Result) error {
	table := tablewriter.NewTable(w)
	table.Header("Package", "Mode", "Format", "Outdir", "Inputs")

	for _, result := range results {
		for _, target := range result.Targets {
			names := slices.Sorted(maps.Keys(target.Inputs))
			if err := table.Append([]string{
				result.Manifest.Name,
				string(target.Mode),
				string(target.Format),
				target.OutDir,
				strings.Join(names, ", "),
			}); err != nil {
				return err
			}
		}
	}
	return table.Render()
}
