package main

import (
	"fmt"
	"strings"

	"github.com/booknest/booknest/pkg/migrations"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
	"github.com/urfave/cli/v2"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "interact with database migrations",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "create migration tables",
				Action: withMigrator(func(c *cli.Context, migrator *migrate.Migrator) error {
					return migrator.Init(c.Context)
				}),
			},
			{
				Name:  "up",
				Usage: "apply every pending migration",
				Action: withMigrator(func(c *cli.Context, migrator *migrate.Migrator) error {
					if err := migrator.Init(c.Context); err != nil {
						return err
					}
					group, err := migrator.Migrate(c.Context)
					if err != nil {
						return err
					}
					if group.ID == 0 {
						fmt.Fprintln(c.App.Writer, "There are no new migrations to run")
						return nil
					}
					fmt.Fprintf(c.App.Writer, "Migrated to %s\n", group)
					return nil
				}),
			},
			{
				Name:  "rollback",
				Usage: "roll back the last migration group",
				Action: withMigrator(func(c *cli.Context, migrator *migrate.Migrator) error {
					group, err := migrator.Rollback(c.Context)
					if err != nil {
						return err
					}
					if group.ID == 0 {
						fmt.Fprintln(c.App.Writer, "There are no groups to roll back")
						return nil
					}
					fmt.Fprintf(c.App.Writer, "Rolled back %s\n", group)
					return nil
				}),
			},
			{
				Name:      "create",
				Usage:     "create a Go migration in pkg/migrations",
				ArgsUsage: "<name words>",
				Action: withMigrator(func(c *cli.Context, migrator *migrate.Migrator) error {
					name := strings.Join(c.Args().Slice(), "_")
					if name == "" {
						return cli.Exit("a migration name is required", 2)
					}
					mf, err := migrator.CreateGoMigration(c.Context, name, migrate.WithGoTemplate(migrationTemplate))
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "Created migration %s (%s)\n", mf.Name, mf.Path)
					return nil
				}),
			},
			{
				Name:  "status",
				Usage: "print migrations status",
				Action: withMigrator(func(c *cli.Context, migrator *migrate.Migrator) error {
					ms, err := migrator.MigrationsWithStatus(c.Context)
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "Migrations: %s\n", ms)
					fmt.Fprintf(c.App.Writer, "Unapplied migrations: %s\n", ms.Unapplied())
					fmt.Fprintf(c.App.Writer, "Last migration group: %s\n", ms.LastGroup())
					return nil
				}),
			},
		},
	}
}

func withMigrator(fn func(c *cli.Context, migrator *migrate.Migrator) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		ctx := commandContext(c)
		_, db, err := setup(ctx, false)
		if err != nil {
			return err
		}
		defer func(db *bun.DB) { db.Close() }(db)

		c.Context = ctx
		return fn(c, migrations.NewMigrator(db))
	}
}

const migrationTemplate = `package %s

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec("")
		return errors.WithStack(err)
	}

	down := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec("")
		return errors.WithStack(err)
	}

	Migrations.MustRegister(up, down)
}
`
