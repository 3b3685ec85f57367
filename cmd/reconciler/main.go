package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mmdatafocus/eventrecon/config"
	"github.com/mmdatafocus/eventrecon/models/reports"
	"github.com/mmdatafocus/eventrecon/ops"
	"github.com/mmdatafocus/eventrecon/recon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(newApp).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "reconciler: "+err.Error())
		stop()
		os.Exit(1)
	}
}

type appLoader func(ctx context.Context) (*app, error)

func newRootCommand(load appLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "reconciler",
		Short:         "Reconcile failed business events across branch logs, tracking and the authority",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newServeCommand(load))
	cmd.AddCommand(newRunOnceCommand(load))
	cmd.AddCommand(newValidateCommand(load))
	cmd.AddCommand(newCleanupCommand(load))
	cmd.AddCommand(newExportCommand(load))
	return cmd
}

// withApp loads the app for the duration of fn.
func withApp(cmd *cobra.Command, load appLoader, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := load(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

func newServeCommand(load appLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ops API with the recurring cycle and cleanup jobs until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, runServe)
		},
	}
}

func runServe(ctx context.Context, a *app) error {
	cycles := a.cycleScheduler()
	cleanup := a.cleanupScheduler()

	srv := &ops.Server{
		Windows:        a.windows(),
		Board:          a.board,
		Cycles:         cycles,
		Cleanup:        cleanup,
		Upload:         a.uploader(),
		JWTSecret:      a.settings.OpsJWTSecret,
		AllowedOrigins: a.settings.CORSAllowedOrigins,
		Logger:         a.logger,
	}
	tracking, err := a.openTracking(ctx)
	if err != nil {
		config.LogError(a.logger, "reconciler", "runServe", "openTracking", nil, err)
	} else {
		defer tracking.Close()
		srv.Outstanding = tracking
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx, ":"+a.settings.OpsPort) })
	g.Go(func() error { return ignoreCancel(cycles.Run(gctx)) })
	if cleanup != nil {
		g.Go(func() error { return ignoreCancel(cleanup.Run(gctx)) })
	}

	a.logger.WithFields(logrus.Fields{
		"field":            "reconciler",
		"cycle_interval":   a.settings.CycleInterval.String(),
		"cleanup_enabled":  cleanup != nil,
		"cleanup_interval": a.settings.CleanupInterval.String(),
	}).Info("reconciler started")

	err = g.Wait()
	a.logger.WithFields(logrus.Fields{"field": "reconciler"}).Info("reconciler stopped")
	return err
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newRunOnceCommand(load appLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "run-once",
		Short: "Run one full reconciliation cycle and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app) error {
				report, err := a.cycle().Run(ctx)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}

func newValidateCommand(load appLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the open tracking rows against the event logs and the authority",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app) error {
				report, err := a.cycle().Validate(ctx)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}

func newCleanupCommand(load appLoader) *cobra.Command {
	var branches []int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete event-log error rows made redundant by a successful sibling",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app) error {
				results, err := a.cleanupJob().Run(ctx, branches)
				if err != nil {
					return err
				}
				printCleanup(cmd.OutOrStdout(), results)
				if _, failed := recon.TotalRemoved(results); failed > 0 {
					return fmt.Errorf("cleanup failed on %d branch(es)", failed)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntSliceVar(&branches, "branch", nil, "branch to sweep (repeatable); defaults to every active branch")
	return cmd
}

func printCleanup(w io.Writer, results []recon.CleanupResult) {
	for _, r := range results {
		if r.Error != "" {
			fmt.Fprintf(w, "branch %d: failed after %s: %s\n", r.Branch, r.Elapsed.Round(time.Millisecond), r.Error)
			continue
		}
		fmt.Fprintf(w, "branch %d: removed %d in %s\n", r.Branch, r.Removed, r.Elapsed.Round(time.Millisecond))
	}
	removed, failed := recon.TotalRemoved(results)
	fmt.Fprintf(w, "total: removed %d, failed branches %d\n", removed, failed)
}

func newExportCommand(load appLoader) *cobra.Command {
	var (
		out    string
		upload bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the unresolved tracking rows to an xlsx workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app) error {
				return runExport(ctx, a, cmd.OutOrStdout(), out, upload)
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "outstanding.xlsx", "output file")
	cmd.Flags().BoolVar(&upload, "upload", false, "also upload the workbook to GCS_BUCKET")
	return cmd
}

func runExport(ctx context.Context, a *app, w io.Writer, out string, upload bool) error {
	var uploader ops.Uploader
	if upload {
		uploader = a.uploader()
		if uploader == nil {
			return errors.New("--upload needs GCS_BUCKET")
		}
	}

	tracking, err := a.openTracking(ctx)
	if err != nil {
		return err
	}
	defer tracking.Close()

	now := time.Now()
	since, until := a.windows().Unresolved(now)
	rows, err := tracking.SelectUnresolved(ctx, since, until)
	if err != nil {
		return err
	}
	data, err := reports.ExportOutstandingBytes(rows)
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(w, "wrote %d rows to %s\n", len(rows), out)

	if uploader != nil {
		url, err := uploader(ctx, reports.ObjectName(now), data)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "uploaded to "+url)
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
