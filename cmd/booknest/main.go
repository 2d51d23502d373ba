package main

import (
	"context"
	"os"

	"github.com/booknest/booknest/pkg/config"
	"github.com/booknest/booknest/pkg/database"
	"github.com/booknest/booknest/pkg/migrations"
	"github.com/booknest/booknest/pkg/version"
	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
	"github.com/uptrace/bun"
	"github.com/urfave/cli/v2"
)

func main() {
	log := logger.New()

	app := &cli.App{
		Name:    "booknest",
		Usage:   "index an ebook source directory into an organized library",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug-sql",
				Usage: "log every SQL query the command runs",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			indexCommand(),
			statusCommand(),
			historyCommand(),
			cancelCommand(),
			migrateCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Err(err).Fatal("app run error")
	}
}

// commandContext returns the command's context carrying a logger, with query
// logging switched on by --debug-sql.
func commandContext(c *cli.Context) context.Context {
	ctx := logger.New().WithContext(c.Context)
	if c.Bool("debug-sql") {
		ctx = database.WithLogging(ctx)
	}
	return ctx
}

// setup loads the configuration and opens the database, migrating it unless
// migrate is false.
func setup(ctx context.Context, migrate bool) (*config.Config, *bun.DB, error) {
	log := logger.FromContext(ctx)

	cfg, err := config.New()
	if err != nil {
		return nil, nil, err
	}

	db, err := database.New(cfg)
	if err != nil {
		return nil, nil, err
	}

	if !migrate {
		return cfg, db, nil
	}

	group, err := migrations.BringUpToDate(ctx, db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	if group.ID == 0 {
		log.Debug("no new migrations to run")
	} else {
		log.Info("migrated to new group", logger.Data{"group_id": group.ID, "migration_names": group.Migrations.String()})
	}

	return cfg, db, nil
}

func printJSON(c *cli.Context, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = c.App.Writer.Write(append(out, '\n'))
	return err
}
