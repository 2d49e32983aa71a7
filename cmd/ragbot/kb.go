package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/ragbot/internal/domain"
	"github.com/kailas-cloud/ragbot/internal/knowledge"
	"github.com/kailas-cloud/ragbot/internal/storage/sqlite"
	"github.com/kailas-cloud/ragbot/internal/usecase/account"
)

// operator is the principal recorded for changes made from the command line.
var operator = domain.User{Username: account.ServiceUsername, IsAdmin: true}

func newKBCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Manage the files of the knowledge directory",
		Long: `List, add and remove files under knowledge.data_dir. Changes reach the
vector store on the next ingest (or immediately with serve --watch).`,
	}

	withBase := func(cmd *cobra.Command, fn func(ctx context.Context, kb *knowledge.Base, svc *account.Service) error) error {
		return withAccounts(cmd, a, func(ctx context.Context, svc *account.Service, store *sqlite.Store) error {
			kb := knowledge.NewBase(a.cfg.Knowledge.DataDir, store, a.cfg.Knowledge.MaxUploadBytes, a.logger)
			return fn(ctx, kb, svc)
		})
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List knowledge files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBase(cmd, func(ctx context.Context, kb *knowledge.Base, _ *account.Service) error {
				files, err := kb.List(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tBYTES\tMODIFIED\tUPLOADER")
				for _, f := range files {
					uploader := "-"
					if f.UploaderUserID != nil {
						uploader = strconv.FormatInt(*f.UploaderUserID, 10)
					}
					fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", f.Name, f.SizeBytes, f.ModifiedAt.Format(time.DateTime), uploader)
				}
				return tw.Flush()
			})
		},
	}

	var name string
	add := &cobra.Command{
		Use:   "add <file>",
		Short: "Copy a .md, .mdx or .txt file into the knowledge directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(filepath.Clean(args[0]))
			if err != nil {
				return err
			}
			defer f.Close()
			target := name
			if target == "" {
				target = filepath.Base(args[0])
			}
			return withBase(cmd, func(ctx context.Context, kb *knowledge.Base, svc *account.Service) error {
				saved, err := kb.Save(ctx, target, f, nil)
				if err != nil {
					return err
				}
				svc.Audit(ctx, operator, domain.AuditKBUpload, saved.Name, fmt.Sprintf("bytes=%d", saved.SizeBytes))
				cmd.Printf("Added %s (%d bytes)\n", saved.Name, saved.SizeBytes)
				return nil
			})
		},
	}
	add.Flags().StringVar(&name, "name", "", "store under this file name")

	rm := &cobra.Command{
		Use:     "rm <name>",
		Aliases: []string{"delete"},
		Short:   "Remove a file from the knowledge directory",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBase(cmd, func(ctx context.Context, kb *knowledge.Base, svc *account.Service) error {
				if err := kb.Delete(ctx, args[0]); err != nil {
					return err
				}
				svc.Audit(ctx, operator, domain.AuditKBDelete, args[0], "")
				cmd.Printf("Removed %s\n", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(list, add, rm)
	return cmd
}
