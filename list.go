/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Seednode/valentines/valentine"
	"github.com/Seednode/valentines/valentine/postgres"
)

func newListCmd(cfg *Config, v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the most recent valentines, newest first.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.requireDatabase(); err != nil {
				return err
			}
			if cfg.listLimit < 0 {
				return fmt.Errorf("invalid limit (must be non-negative): %d", cfg.listLimit)
			}

			db, err := postgres.Open(cmd.Context(), cfg.databaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			svc := valentine.NewService(postgres.New(db), valentine.NewBroker(1), valentine.WithLogger(cfg.log))

			return listValentines(cmd.Context(), cmd.OutOrStdout(), svc, cfg.listLimit, time.Now())
		},
	}

	fs := cmd.Flags()
	fs.IntVarP(&cfg.listLimit, "limit", "n", 50, "maximum number of valentines to print, 0 for all (env: VALENTINES_LIMIT)")

	bindEnv(v, fs)

	return cmd
}

func newMigrateCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.requireDatabase(); err != nil {
				return err
			}

			db, err := postgres.Open(cmd.Context(), cfg.databaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := postgres.Migrate(cmd.Context(), db); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")

			return nil
		},
	}
}

func listValentines(ctx context.Context, out io.Writer, svc *valentine.Service, limit int, now time.Time) error {
	recs, err := svc.List(ctx, limit)
	if err != nil {
		return err
	}

	total, err := svc.Count(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFROM\tTO\tCHARACTER\tSTATUS\tANSWER\tCREATED")

	for _, rec := range recs {
		answer := "-"
		if rec.ReceiverChoice != nil {
			answer = string(*rec.ReceiverChoice)
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.ID,
			rec.SenderName,
			rec.ReceiverName,
			rec.CharacterType,
			rec.Status,
			answer,
			humanize.RelTime(rec.CreatedAt, now, "ago", "from now"),
		)
	}

	if err := tw.Flush(); err != nil {
		return err
	}

	_, err = fmt.Fprintf(out, "\nshowing %s of %s valentines\n", humanize.Comma(int64(len(recs))), humanize.Comma(total))

	return err
}
