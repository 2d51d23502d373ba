package main

import (
	"context"
	"fmt"

	"github.com/booknest/booknest/pkg/batches"
	"github.com/booknest/booknest/pkg/errcodes"
	"github.com/booknest/booknest/pkg/indexer"
	"github.com/booknest/booknest/pkg/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"github.com/urfave/cli/v2"
)

// withOrchestrator runs fn against an orchestrator on the configured
// database and closes the database afterwards.
func withOrchestrator(c *cli.Context, fn func(ctx context.Context, o *indexer.Orchestrator, db *bun.DB) error) error {
	ctx := commandContext(c)

	cfg, db, err := setup(ctx, true)
	if err != nil {
		return err
	}
	defer db.Close()

	o, err := indexer.NewFromConfig(cfg, db)
	if err != nil {
		return err
	}
	return fn(ctx, o, db)
}

func indexCommand() *cli.Command {
	return &cli.Command{
		Name:  "index",
		Usage: "index new files now, or resume the last failed batch",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "recover",
				Usage: "first mark batches left processing by a crashed run as failed",
			},
		},
		Action: func(c *cli.Context) error {
			return withOrchestrator(c, func(ctx context.Context, o *indexer.Orchestrator, _ *bun.DB) error {
				if c.Bool("recover") {
					if _, err := o.RecoverInterrupted(ctx); err != nil {
						return err
					}
				}

				running, err := o.IsRunning(ctx)
				if err != nil {
					return err
				}
				if running {
					return errcodes.IndexingInProgress()
				}

				result, err := o.StartIndexing(ctx)
				if err != nil {
					return err
				}
				if err := printJSON(c, result); err != nil {
					return err
				}
				if result.Status == models.BatchStatusFailed {
					return cli.Exit("indexing batch failed; run index again to resume it", 1)
				}
				return nil
			})
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "show the current indexing status, or one batch's progress",
		ArgsUsage: "[batch id]",
		Action: func(c *cli.Context) error {
			return withOrchestrator(c, func(ctx context.Context, o *indexer.Orchestrator, _ *bun.DB) error {
				if id := c.Args().First(); id != "" {
					progress, err := o.GetStatus(ctx, id)
					if err != nil {
						return err
					}
					return printJSON(c, progress)
				}

				status, err := o.CurrentStatus(ctx)
				if err != nil {
					return err
				}
				return printJSON(c, status)
			})
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "list indexing batches, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 20},
			&cli.IntFlag{Name: "offset"},
			&cli.StringFlag{Name: "status", Usage: "only batches in this status"},
			&cli.TimestampFlag{Name: "since", Layout: "2006-01-02", Usage: "only batches created on or after this day"},
			&cli.BoolFlag{Name: "items", Usage: "include each batch's items"},
		},
		Action: func(c *cli.Context) error {
			opts := indexer.HistoryOptions{
				Limit:  c.Int("limit"),
				Offset: c.Int("offset"),
				Status: models.BatchStatus(c.String("status")),
				Since:  c.Timestamp("since"),
			}
			if opts.Limit < 1 || opts.Limit > 100 || opts.Offset < 0 {
				return cli.Exit("limit must be between 1 and 100 and offset can't be negative", 2)
			}
			if opts.Status != "" && !opts.Status.Valid() {
				return cli.Exit(fmt.Sprintf("unknown batch status %q", opts.Status), 2)
			}

			return withOrchestrator(c, func(ctx context.Context, o *indexer.Orchestrator, db *bun.DB) error {
				list, total, err := o.History(ctx, opts)
				if err != nil {
					return err
				}

				if c.Bool("items") {
					svc := batches.NewService(db)
					for _, b := range list {
						id := b.ID
						if b.Items, err = svc.ListItems(ctx, batches.ListItemsOptions{BatchID: &id}); err != nil {
							return err
						}
					}
				}

				return printJSON(c, struct {
					Batches []*models.Batch `json:"batches"`
					Total   int             `json:"total"`
				}{list, total})
			})
		},
	}
}

func cancelCommand() *cli.Command {
	return &cli.Command{
		Name:      "cancel",
		Usage:     "mark a pending or processing batch rolled back",
		ArgsUsage: "<batch id>",
		Action: func(c *cli.Context) error {
			id := c.Args().First()
			if id == "" {
				return cli.Exit("a batch id is required", 2)
			}

			return withOrchestrator(c, func(ctx context.Context, o *indexer.Orchestrator, _ *bun.DB) error {
				batch, err := o.Rollback(ctx, id)
				if err != nil {
					var e *errcodes.Error
					if errors.As(err, &e) {
						return cli.Exit(e.Message, 1)
					}
					return err
				}
				return printJSON(c, batch)
			})
		},
	}
}
