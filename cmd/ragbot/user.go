package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/kailas-cloud/ragbot/internal/storage/sqlite"
	"github.com/kailas-cloud/ragbot/internal/usecase/account"
)

// withAccounts runs fn with the account service over the configured database.
func withAccounts(cmd *cobra.Command, a *app, fn func(ctx context.Context, svc *account.Service, store *sqlite.Store) error) error {
	if err := a.setup(true); err != nil {
		return err
	}
	defer a.sync()
	ctx := a.context(cmd)

	store, err := openStore(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	return fn(ctx, account.New(store, a.cfg.Auth.APIKeys, a.logger), store)
}

func newUserCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users, their memory and API tokens",
	}
	cmd.AddCommand(
		newUserCreateCmd(a),
		newUserListCmd(a),
		newUserDepartmentsCmd(a),
		newUserMemoryCmd(a),
		newUserTokenCmd(a),
	)
	return cmd
}

func newUserCreateCmd(a *app) *cobra.Command {
	var (
		admin         bool
		department    string
		passwordStdin bool
	)
	cmd := &cobra.Command{
		Use:   "create <username>",
		Short: "Create a user",
		Long: `Create a user who can log in through /auth/login. The password is prompted
for, or read from the first line of stdin with --password-stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd, passwordStdin)
			if err != nil {
				return err
			}
			return withAccounts(cmd, a, func(ctx context.Context, svc *account.Service, _ *sqlite.Store) error {
				u, err := svc.CreateUser(ctx, args[0], password, department, admin)
				if err != nil {
					return err
				}
				role := "user"
				if u.IsAdmin {
					role = "admin"
				}
				cmd.Printf("Created %s %s (id %d, department %q)\n", role, u.Username, u.ID, u.Department)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&admin, "admin", false, "grant admin rights")
	cmd.Flags().StringVar(&department, "department", "", "department name, created when missing")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

func newUserListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAccounts(cmd, a, func(ctx context.Context, svc *account.Service, _ *sqlite.Store) error {
				users, err := svc.ListUsers(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tUSERNAME\tADMIN\tDEPARTMENT\tCREATED")
				for _, u := range users {
					fmt.Fprintf(tw, "%d\t%s\t%t\t%s\t%s\n",
						u.ID, u.Username, u.IsAdmin, u.Department, u.CreatedAt.Format(time.DateTime))
				}
				return tw.Flush()
			})
		},
	}
}

func newUserDepartmentsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "departments",
		Short: "List departments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAccounts(cmd, a, func(ctx context.Context, _ *account.Service, store *sqlite.Store) error {
				depts, err := store.ListDepartments(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tCREATED")
				for _, d := range depts {
					fmt.Fprintf(tw, "%d\t%s\t%s\n", d.ID, d.Name, d.CreatedAt.Format(time.DateTime))
				}
				return tw.Flush()
			})
		},
	}
}

func newUserMemoryCmd(a *app) *cobra.Command {
	var (
		set   string
		reset bool
	)
	cmd := &cobra.Command{
		Use:   "memory <username>",
		Short: "Show or replace what the assistant remembers about a user",
		Long: `Print the user's memory, or replace it with --set. The memory is added to
the system prompt of every question the user asks.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAccounts(cmd, a, func(ctx context.Context, svc *account.Service, _ *sqlite.Store) error {
				u, err := svc.UserByUsername(ctx, args[0])
				if err != nil {
					return fmt.Errorf("user %q: %w", args[0], err)
				}
				if reset || cmd.Flags().Changed("set") {
					if reset {
						set = ""
					}
					if err := svc.SetMemory(ctx, u.ID, set); err != nil {
						return err
					}
					cmd.Printf("Updated memory of %s\n", u.Username)
					return nil
				}
				memory, err := svc.Memory(ctx, u)
				if err != nil {
					return err
				}
				if memory == "" {
					cmd.Println("(empty)")
					return nil
				}
				cmd.Println(memory)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&set, "set", "", "replace the memory with this text")
	cmd.Flags().BoolVar(&reset, "clear", false, "erase the memory")
	return cmd
}

func newUserTokenCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue, list and revoke API tokens",
	}

	var name string
	create := &cobra.Command{
		Use:   "create <username>",
		Short: "Issue an API token; it is printed once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAccounts(cmd, a, func(ctx context.Context, svc *account.Service, _ *sqlite.Store) error {
				u, err := svc.UserByUsername(ctx, args[0])
				if err != nil {
					return fmt.Errorf("user %q: %w", args[0], err)
				}
				plain, tok, err := svc.IssueToken(ctx, u, name)
				if err != nil {
					return err
				}
				cmd.Printf("Token %d (%s) for %s:\n%s\n", tok.ID, tok.Name, u.Username, plain)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "cli", "token name")

	list := &cobra.Command{
		Use:   "list <username>",
		Short: "List a user's API tokens",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAccounts(cmd, a, func(ctx context.Context, svc *account.Service, _ *sqlite.Store) error {
				u, err := svc.UserByUsername(ctx, args[0])
				if err != nil {
					return fmt.Errorf("user %q: %w", args[0], err)
				}
				tokens, err := svc.ListTokens(ctx, u)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tPREFIX\tCREATED\tLAST USED\tREVOKED")
				for _, t := range tokens {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
						t.ID, t.Name, t.Prefix, t.CreatedAt.Format(time.DateTime),
						formatOptionalTime(t.LastUsedAt), formatOptionalTime(t.RevokedAt))
				}
				return tw.Flush()
			})
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke <username> <token-id>",
		Short: "Revoke an API token",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("token id %q: %w", args[1], err)
			}
			return withAccounts(cmd, a, func(ctx context.Context, svc *account.Service, _ *sqlite.Store) error {
				u, err := svc.UserByUsername(ctx, args[0])
				if err != nil {
					return fmt.Errorf("user %q: %w", args[0], err)
				}
				if err := svc.RevokeToken(ctx, u, id); err != nil {
					return err
				}
				cmd.Printf("Revoked token %d of %s\n", id, u.Username)
				return nil
			})
		},
	}

	cmd.AddCommand(create, list, revoke)
	return cmd
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.DateTime)
}

// readPassword prompts twice without echo on a terminal, or reads one line from stdin.
func readPassword(cmd *cobra.Command, fromStdin bool) (string, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && !fromStdin && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		first, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		fmt.Fprint(cmd.ErrOrStderr(), "Repeat password: ")
		second, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		if string(first) != string(second) {
			return "", errors.New("passwords do not match")
		}
		return string(first), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
