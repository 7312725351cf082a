package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/PoiScript/sagiri/internal/db"
	"github.com/PoiScript/sagiri/internal/registry"
	"github.com/PoiScript/sagiri/internal/worker"
)

func (a *app) usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage the Telegram to Kitsu user registry",
	}

	var replace bool
	importCmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Load users from a YAML file",
		Long: `Loads users from a YAML file of the form

  users:
    - telegram_id: 12345
      kitsu_id: 678
      kitsu_token: "..."

Existing users are updated; with --replace the file becomes the whole table.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRegistry(func(reg *registry.Registry, events *worker.EventLog) error {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()

				n, err := reg.Import(cmd.Context(), f, replace)
				if err != nil {
					return err
				}
				events.Log(nil, db.EventRegistryImported, map[string]any{"users": n, "replace": replace, "file": args[0]})
				fmt.Fprintf(a.out, "imported %d users\n", n)
				return nil
			})
		},
	}
	importCmd.Flags().BoolVar(&replace, "replace", false, "replace the whole table with the file")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Print registered users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRegistry(func(reg *registry.Registry, _ *worker.EventLog) error {
				users, err := reg.List(cmd.Context())
				if err != nil {
					return err
				}
				return printUsers(a, users)
			})
		},
	}

	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Reload users from SAGIRI_REGISTRY_URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRegistry(func(reg *registry.Registry, events *worker.EventLog) error {
				n, err := reg.Refresh(cmd.Context())
				if err != nil {
					return err
				}
				events.Log(nil, db.EventRegistryRefreshed, map[string]any{"users": n, "trigger": "cli"})
				fmt.Fprintf(a.out, "Successful update: %d users\n", n)
				return nil
			})
		},
	}

	cmd.AddCommand(importCmd, listCmd, refreshCmd)
	return cmd
}

func (a *app) withRegistry(fn func(*registry.Registry, *worker.EventLog) error) error {
	cfg, err := a.setup(false)
	if err != nil {
		return err
	}
	database, err := openStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	reg := registry.New(database,
		registry.WithRemote(cfg.RegistryURL, cfg.RegistryToken),
		registry.WithLogger(a.logger.Named("registry")),
	)
	return fn(reg, worker.NewEventLog(database, a.logger.Named("events")))
}

func printUsers(a *app, users []db.User) error {
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TELEGRAM_ID\tKITSU_ID\tTOKEN\tUPDATED")
	for _, u := range users {
		token := "-"
		if u.KitsuToken != "" {
			token = "set"
		}
		updated := time.Unix(u.UpdatedAt, 0).UTC().Format("2006-01-02 15:04:05")
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\n", u.TelegramID, u.KitsuID, token, updated)
	}
	return w.Flush()
}
