package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"hospitaletl/internal/api"
	"hospitaletl/internal/housekeeping"
	"hospitaletl/internal/jobs"
	"hospitaletl/internal/logging"
	"hospitaletl/internal/pipeline"

	// register all backends with the storage factory.
	// config specifies which to use but we need to build in support for all of them.
	_ "hospitaletl/internal/storage/all"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:          "etl",
		Short:        "Hospital data ETL: extract uploads, map fields, load core tables",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (YAML, JSON or TOML); HETL_* env vars override")

	// withApp opens the application for one command and closes it after.
	withApp := func(fn func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, cfgPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			return fn(ctx, cmd, a, args)
		}
	}

	root.AddCommand(
		migrateCmd(withApp),
		uploadCmd(withApp),
		mappingsCmd(withApp),
		runCmd(withApp),
		stageCmd(withApp),
		retryCmd(withApp),
		cancelCmd(withApp),
		statusCmd(withApp),
		estimateCmd(withApp),
		cleanupCmd(withApp),
		serveCmd(withApp),
	)
	return root
}

type appRunner func(fn func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error

func migrateCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the metadata tables",
		Args:  cobra.NoArgs,
		RunE: withApp(func(_ context.Context, cmd *cobra.Command, a *app, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "metadata tables ready (%s)\n", a.repo.Dialect().Name())
			return nil
		}),
	}
}

func uploadCmd(withApp appRunner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Manage uploads",
	}
	var in uploadInput
	register := &cobra.Command{
		Use:   "register <file>",
		Short: "Record a file on disk as a completed upload",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			if in.HospitalID <= 0 {
				return errors.New("--hospital is required")
			}
			u, err := registerUpload(ctx, a.deps.Store, args[0], in)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), u)
		}),
	}
	register.Flags().Int64Var(&in.HospitalID, "hospital", 0, "hospital id")
	register.Flags().StringVar(&in.Category, "category", "general", "data category (financial, operational, quality, patient, general)")
	register.Flags().StringVar(&in.UserID, "user", "", "uploading user id")
	register.Flags().StringVar(&in.ContentType, "type", "", "content type; guessed from the extension when empty")
	cmd.AddCommand(register)
	return cmd
}

func mappingsCmd(withApp appRunner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mappings",
		Short: "Manage field mappings",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <upload-id> <mappings.json>",
		Short: "Replace an upload's field mappings with a JSON array",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			ms, err := importMappings(ctx, a.deps.Store, args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), ms)
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list <upload-id>",
		Short: "Show an upload's field mappings",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			ms, err := a.deps.Store.Mappings(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), ms)
		}),
	})
	return cmd
}

func runCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "run <upload-id>",
		Short: "Run extract, transform and load for an upload",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			res := a.orch.Run(ctx, args[0])
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Success {
				return errors.New(res.Message)
			}
			return nil
		}),
	}
}

func stageCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:       "stage <upload-id> <extract|transform|load>",
		Short:     "Run one stage as a new job",
		Args:      cobra.ExactArgs(2),
		ValidArgs: jobs.JobTypes,
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			j, err := a.orch.RunStage(ctx, args[0], args[1])
			return printJob(cmd, j, err)
		}),
	}
}

func retryCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Re-run a failed or cancelled job",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			j, err := a.orch.Retry(ctx, args[0])
			return printJob(cmd, j, err)
		}),
	}
}

// printJob prints the job when one exists, then returns err.
func printJob(cmd *cobra.Command, j jobs.Job, err error) error {
	if j.ID != "" {
		if perr := printJSON(cmd.OutOrStdout(), j.Summarize(time.Now().UTC())); perr != nil {
			return perr
		}
	}
	return err
}

func cancelCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <upload-id>",
		Short: "Cancel the pending and running jobs of an upload",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			n, err := a.orch.Cancel(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancelled %d job(s)\n", n)
			return nil
		}),
	}
}

func statusCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "status <upload-id>",
		Short: "Show the pipeline status of an upload",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			st, err := a.orch.Status(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		}),
	}
}

func estimateCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "estimate <upload-id>",
		Short: "Forecast the processing time of an upload",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			est, err := a.orch.Estimate(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), est)
		}),
	}
}

func cleanupCmd(withApp appRunner) *cobra.Command {
	var (
		uploadID string
		keepDays int
	)
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete aged raw and staging rows",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			keep := keepDays
			if !cmd.Flags().Changed("keep-days") {
				keep = a.cfg.Retention.KeepDays
			}
			var (
				res pipeline.CleanupResult
				err error
			)
			if uploadID != "" {
				res, err = a.orch.CleanupIntermediateData(ctx, uploadID, keep)
			} else {
				res, err = a.orch.CleanupAll(ctx, keep)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		}),
	}
	cmd.Flags().StringVar(&uploadID, "upload", "", "limit to the tables of this upload's hospital and category")
	cmd.Flags().IntVar(&keepDays, "keep-days", pipeline.DefaultKeepDays, "keep rows newer than this many days (default retention.keep_days)")
	return cmd
}

func serveCmd(withApp appRunner) *cobra.Command {
	var noCron bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP control API and run scheduled cleanup",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, _ *cobra.Command, a *app, _ []string) error {
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if !noCron {
				sched, err := housekeeping.New(a.cfg.Retention.Schedule, a.cfg.Retention.KeepDays, a.orch,
					logging.Component(a.log, "housekeeping"))
				if err != nil {
					return err
				}
				sched.Start()
				defer sched.Stop(15 * time.Second)
			}

			e := api.NewServer(a.orch, a.deps.Store, logging.Component(a.log, "http"))
			errc := make(chan error, 1)
			go func() {
				a.log.Info().Str("addr", a.cfg.HTTP.Addr).Msg("http server listening")
				if err := e.Start(a.cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
				close(errc)
			}()

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}
			a.log.Info().Msg("shutting down")
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
			defer cancel()
			return e.Shutdown(sctx)
		}),
	}
	cmd.Flags().BoolVar(&noCron, "no-cron", false, "do not schedule the retention cleanup")
	return cmd
}
