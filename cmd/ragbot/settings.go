package main

import (
	"context"
	"fmt"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/ragbot/internal/storage/sqlite"
	"github.com/kailas-cloud/ragbot/internal/usecase/account"
)

func newSettingsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change admin settings",
		Long: `Show the effective admin settings, or change one with "settings set".

  kb_delete_policy   admin_only | all_users | uploader_only
  kb_reindex_policy  admin_only | all_users`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAccounts(cmd, a, func(ctx context.Context, svc *account.Service, _ *sqlite.Store) error {
				settings, err := svc.Settings(ctx)
				if err != nil {
					return err
				}
				keys := make([]string, 0, len(settings))
				for k := range settings {
					keys = append(keys, k)
				}
				slices.Sort(keys)
				for _, k := range keys {
					cmd.Printf("%s = %s\n", k, settings[k])
				}
				return nil
			})
		},
	}

	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change a setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAccounts(cmd, a, func(ctx context.Context, svc *account.Service, _ *sqlite.Store) error {
				if err := svc.SetSetting(ctx, operator, args[0], args[1]); err != nil {
					return err
				}
				cmd.Printf("%s = %s\n", args[0], args[1])
				return nil
			})
		},
	}
	cmd.AddCommand(set)
	return cmd
}

func newAuditCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the most recent audit events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAccounts(cmd, a, func(ctx context.Context, _ *account.Service, store *sqlite.Store) error {
				events, err := store.ListAudit(ctx, limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TIME\tUSER\tACTION\tTARGET\tDETAILS")
				for _, e := range events {
					user := "-"
					if e.UserID != nil {
						user = fmt.Sprint(*e.UserID)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
						e.CreatedAt.Format(time.DateTime), user, e.Action, e.Target, e.Details)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", sqlite.DefaultAuditLimit, "number of events")
	return cmd
}
