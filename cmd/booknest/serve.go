package main

import (
	"net/http"

	"github.com/booknest/booknest/pkg/indexer"
	"github.com/booknest/booknest/pkg/server"
	"github.com/booknest/booknest/pkg/version"
	"github.com/booknest/booknest/pkg/worker"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/signals"
	"github.com/urfave/cli/v2"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP API and the indexing schedule",
		Action: func(c *cli.Context) error {
			ctx := commandContext(c)
			log := logger.FromContext(ctx)

			log.Info("starting booknest", logger.Data{"version": version.Version})

			cfg, db, err := setup(ctx, true)
			if err != nil {
				return err
			}

			orchestrator, err := indexer.NewFromConfig(cfg, db)
			if err != nil {
				return err
			}

			wrkr := worker.New(cfg, orchestrator)

			srv, err := server.New(cfg, orchestrator)
			if err != nil {
				return err
			}

			graceful := signals.Setup()

			go func() {
				log.Info("server started", logger.Data{"addr": srv.Addr})
				err := srv.ListenAndServe()
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Err(err).Fatal("server stopped")
				}
				log.Info("server stopped")
			}()

			wrkr.Start()
			log.Info("worker started", logger.Data{"index_interval_minutes": cfg.IndexIntervalMinutes})

			<-graceful
			log.Info("starting graceful shutdown")

			if err := srv.Shutdown(ctx); err != nil {
				log.Err(err).Error("server shutdown error")
			}
			log.Info("server shutdown")

			wrkr.Shutdown()
			log.Info("worker shutdown")

			if err := db.Close(); err != nil {
				log.Err(err).Error("database close error")
			}
			log.Info("database closed")
			return nil
		},
	}
}
