package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/lasprep/internal/backup"
	"github.com/ajitpratap0/lasprep/internal/batch"
	"github.com/ajitpratap0/lasprep/internal/cleaning"
	"github.com/ajitpratap0/lasprep/internal/mirror"
	"github.com/ajitpratap0/lasprep/pkg/config"
	"github.com/ajitpratap0/lasprep/pkg/errors"
	"github.com/ajitpratap0/lasprep/pkg/json"
	"github.com/ajitpratap0/lasprep/pkg/las"
)

func (a *app) rootCommand() *cobra.Command {
	var clean bool
	root := &cobra.Command{
		Use:   "lasprep <input-path> <output-directory>",
		Short: "lasprep - clean point clouds and build octree visualizations",
		Long: `lasprep removes invalid point records from LAS/LAZ files, rewrites them with a
canonical LAS 1.4 header that preserves coordinate precision, and runs the octree
converter on every file, mirroring an input directory tree into the output directory.

An input path that matches a subcommand name (clean, inspect, restore, config,
version) runs that subcommand. Put flags first and end them with -- to pass
such a path as the input.

Examples:
  lasprep surveys/2024 /srv/pointclouds --clean
  lasprep --clean -- clean /srv/pointclouds`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("requires <input-path> and <output-directory>, received %d argument(s)", len(args))
			}
			return cobra.MaximumNArgs(2)(cmd, args)
		},
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runConvert(cmd, args[0], args[1], clean)
		},
	}
	root.Flags().BoolVar(&clean, "clean", false, "Clean each file in place before converting it")

	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfgFile, "config", "c", "", "Path to YAML configuration file")
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")
	pf.String("log-format", "console", "Log encoding (console, json)")
	pf.Int("workers", 0, "Number of files cleaned in parallel (0 = number of CPUs)")
	pf.String("converter", "", "Path to the octree converter executable")
	pf.String("laszip", "", "Path to the laszip executable used for LAZ files")
	pf.String("metrics-file", "", "Write prometheus metrics to this textfile on exit")
	pf.String("report-file", "", "Write the JSON run report to this file")
	pf.Bool("trace", false, "Export OpenTelemetry spans")
	a.bindFlags(root, flagBindings, true)

	root.AddCommand(
		a.cleanCommand(),
		a.inspectCommand(),
		a.restoreCommand(),
		a.configCommand(),
		a.versionCommand(),
	)
	return root
}

// runConvert converts a single file or mirrors a directory tree.
func (a *app) runConvert(cmd *cobra.Command, input, output string, clean bool) error {
	if err := a.setup(cmd); err != nil {
		return err
	}
	ctx := cmd.Context()
	defer a.finish(ctx)

	info, err := os.Stat(input)
	if os.IsNotExist(err) {
		return errors.Wrap(err, errors.ErrorTypePathNotFound,
			fmt.Sprintf("file or directory %s does not exist", input))
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "reading input path").WithDetail("path", input)
	}

	opts := []mirror.InvokerOption{mirror.WithMetrics(a.metrics), mirror.WithOutput(a.stderr)}
	if clean {
		c, err := a.cleaner()
		if err != nil {
			return err
		}
		opts = append(opts, mirror.WithCleaner(c))
	}
	inv := mirror.NewInvoker(a.log, mirror.InvokerConfig{
		ConverterPath: a.cfg.Converter.Path,
		MinFreeBytes:  a.cfg.Disk.MinFreeBytes,
	}, opts...)

	var report *batch.Report
	if info.IsDir() {
		report, err = mirror.New(a.log, inv).Run(ctx, input, output, clean)
		if err != nil {
			return err
		}
	} else {
		report = batch.NewReport(input, 1)
		if err := inv.Convert(ctx, input, output, clean); err != nil {
			report.AddFailure(batch.FailureFor(input, string(cleaning.StageConvert), err))
		} else {
			report.AddSuccess()
		}
		report.Finish()
	}
	a.report = report

	fmt.Fprintln(a.stdout, report.Summary())
	fmt.Fprintf(a.stdout, "Access your page at: %s\n", a.cfg.Converter.ViewerURL(filepath.Base(filepath.Clean(input))))
	return nil
}

var cleanBindings = map[string]string{
	"sort":                 "cleaning.sort",
	"debug-dimensions":     "cleaning.add_debug_dimensions",
	"override-point-count": "cleaning.override_point_count",
	"backup":               "backup.enabled",
	"backup-dir":           "backup.dir",
}

func (a *app) cleanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean <path>",
		Short: "Clean a LAS/LAZ file or every file under a directory in place",
		Long: `Clean removes point records with missing values and rewrites each file as LAS 1.4
point format 6, keeping the original scale, offset and variable length records.
Files are processed in parallel; a failure in one file never stops the others.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			ctx := cmd.Context()
			defer a.finish(ctx)

			c, err := a.cleaner()
			if err != nil {
				return err
			}
			runner := batch.NewRunner(a.log, c, batch.Config{
				Workers:          a.cfg.Cleaning.GetWorkers(),
				ProgressInterval: a.cfg.Cleaning.ProgressInterval,
				Options:          a.cleaningOptions(),
			}, batch.WithMetrics(a.metrics))

			report, err := runner.Run(ctx, args[0])
			if err != nil {
				return err
			}
			a.report = report
			fmt.Fprintln(a.stdout, report.Summary())
			if !report.OK() {
				return fmt.Errorf("%d of %d files failed", report.Failed, report.Total)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.Bool("sort", false, "Sort records by x, y, z, intensity, return_number, number_of_returns")
	f.Bool("debug-dimensions", false, "Add unclassified and manually_labelled extra dimensions")
	f.Bool("override-point-count", false, "Write the remaining record count into the header")
	f.Bool("backup", false, "Keep a compressed copy of each original")
	f.String("backup-dir", "", "Directory for backups (default: next to each file)")
	a.bindFlags(cmd, cleanBindings, false)
	return cmd
}

// inspection is the JSON document printed by inspect.
type inspection struct {
	Path    string      `json:"path"`
	Size    int64       `json:"size"`
	Header  *las.Header `json:"header"`
	Columns []string    `json:"columns,omitempty"`
}

func (a *app) inspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file>",
		Short: "Print the header of a LAS file as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			path := args[0]
			info, err := os.Stat(path)
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypePathNotFound, "file does not exist").WithDetail("path", path)
			}
			r, err := las.Open(path)
			if err != nil {
				return err
			}
			defer r.Close()

			out := inspection{Path: path, Size: info.Size(), Header: r.Header()}
			if !out.Header.Compressed {
				out.Columns = r.Columns()
			}
			return json.Encode(a.stdout, out)
		},
	}
}

func (a *app) restoreCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <backup> <destination>",
		Short: "Decompress a backup written by clean --backup",
		Long: `Restore decompresses a backup file. When destination is a directory the original
file name is used.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			restored, err := backup.Restore(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Restored %s\n", restored)
			return nil
		},
	}
}

func (a *app) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration files",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init <file>",
		Short: "Write the default configuration as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			path := args[0]
			if _, err := os.Stat(path); err == nil && !force {
				return errors.New(errors.ErrorTypeConfig, "file already exists, use --force to overwrite").
					WithDetail("path", path)
			}
			if err := config.Save(path, config.Default()); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Wrote default configuration to %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			cfg, err := config.LoadWith(a.v, a.cfgFile)
			if err != nil {
				return err
			}
			return json.Encode(a.stdout, cfg)
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}
