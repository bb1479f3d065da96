package main

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/findataops/internal/api"
	"github.com/dvloznov/findataops/internal/api/handlers"
	"github.com/dvloznov/findataops/internal/extract"
	"github.com/dvloznov/findataops/internal/jobs"
	"github.com/dvloznov/findataops/internal/jobs/inmemory"
	"github.com/dvloznov/findataops/internal/logger"
	"github.com/dvloznov/findataops/internal/pipeline"
	"github.com/dvloznov/findataops/internal/source"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read and acknowledge API and process ingest jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			ctx := cmd.Context()

			s, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			files := source.NewFiles()
			defer files.Close()

			in, err := a.newIngester(s, files)
			if err != nil {
				return err
			}

			jobStore := inmemory.NewStore()
			queue := inmemory.NewQueue(a.cfg.Server.QueueSize, a.cfg.Server.JobWorkers, jobStore)
			if err := queue.Start(ctx, a.ingestJobHandler(in, queue)); err != nil {
				return err
			}

			gin.SetMode(gin.ReleaseMode)
			h := handlers.New(s,
				handlers.WithJobs(queue, jobStore),
				handlers.WithRegistry(in.Registry),
				handlers.WithMetrics(a.metrics),
			)
			router := api.NewRouter(h, api.RouterConfig{
				Log:       a.log,
				Metrics:   a.metrics,
				AuthToken: a.cfg.Server.AuthToken,
			})

			serveErr := api.Serve(ctx, addr, router, a.log)

			stopCtx, cancel := context.WithTimeout(context.Background(), api.ShutdownTimeout)
			defer cancel()
			if err := queue.Stop(stopCtx); err != nil {
				a.log.Error().Err(err).Msg("Error stopping job queue")
			}
			return serveErr
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	return cmd
}

// ingestJobHandler runs one queued file through the ingest pipeline. Files that
// cannot be mapped or name an unknown institution are not retried.
func (a *app) ingestJobHandler(in *pipeline.Ingester, queue *inmemory.Queue) jobs.JobHandler {
	return func(ctx context.Context, job *jobs.IngestJob) error {
		a.metrics.SetQueueDepth(queue.Depth())

		start := time.Now()
		run, err := in.IngestFile(ctx, job.URI, job.Institution)
		if run != nil {
			job.RunID = run.RunID
		}

		log := logger.FromContext(ctx)
		if err != nil {
			var structural *extract.StructuralError
			if errors.As(err, &structural) || (run != nil && run.Institution == "") {
				return jobs.Permanent(err)
			}
			return err
		}
		log.Info().
			Str("run_id", job.RunID).
			Int("rows_loaded", run.RowsLoaded).
			Dur("elapsed", time.Since(start)).
			Msg("Ingest job finished")
		return nil
	}
}
