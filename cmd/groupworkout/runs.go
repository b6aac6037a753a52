package main

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/myrjola/groupworkout/internal/allocation"
	"github.com/myrjola/groupworkout/internal/errors"
	"github.com/myrjola/groupworkout/internal/refine"
	"github.com/spf13/cobra"
)

const defaultListLimit = 20

type storedRun struct {
	ID         int64                `json:"id"`
	CreatedAt  time.Time            `json:"created_at"`
	Seed       uint64               `json:"seed"`
	Warnings   []string             `json:"warnings"`
	Blueprint  allocation.Blueprint `json:"blueprint"`
	Selections []refine.Selection   `json:"selections"`
}

func (app *application) runsListCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			if limit <= 0 {
				return errors.New("limit must be positive", slog.Int("limit", limit))
			}
			ctx := cmd.Context()
			store, closeStore, err := app.openStore(ctx)
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, closeStore())
			}()
			summaries, err := store.List(ctx, limit)
			if err != nil {
				return errors.Wrap(err, "list runs")
			}
			return writeJSON(cmd.OutOrStdout(), summaries)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", defaultListLimit, "maximum number of runs to list")
	return cmd
}

func (app *application) runsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a stored run with its warnings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return errors.Wrap(err, "parse run id", slog.String("id", args[0]))
			}
			ctx := cmd.Context()
			store, closeStore, err := app.openStore(ctx)
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, closeStore())
			}()
			run, err := store.Get(ctx, id)
			if err != nil {
				return errors.Wrap(err, "get run")
			}
			warnings, err := store.Warnings(ctx, id)
			if err != nil {
				return errors.Wrap(err, "get warnings")
			}
			return writeJSON(cmd.OutOrStdout(), storedRun{
				ID:         run.ID,
				CreatedAt:  run.CreatedAt,
				Seed:       run.Seed,
				Warnings:   warnings,
				Blueprint:  run.Blueprint,
				Selections: run.Selections,
			})
		},
	}
}
