package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"teamulate/api/internal/auth"
	"teamulate/api/internal/config"
	"teamulate/api/internal/store"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "api",
	Short: "Teamulate API server",
	Long: `Teamulate serves project workspaces: projects, members, tasks, files,
and a live activity feed over websockets.

Run without a command to start the server. Configuration comes from the
environment (DATABASE_URL, JWT_SECRET, BACKPLANE, BLOB_DRIVER, ...) and an
optional config file; environment variables win. DATABASE_URL=memory runs
against an in-process store.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (yaml, toml or json)")
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(usersCmd())
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	return config.LoadFile(configPath)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

// withDB opens the configured Postgres database for one-shot commands.
func withDB(ctx context.Context, fn func(ctx context.Context, db *sql.DB) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if isMemoryDatabase(cfg.DatabaseURL) {
		return errors.New("this command needs a Postgres DATABASE_URL")
	}
	db, err := store.Open(ctx, cfg.DatabaseURL, store.DefaultPool)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()
	return fn(ctx, db)
}

func isMemoryDatabase(url string) bool {
	return strings.EqualFold(strings.TrimSpace(url), "memory")
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "migrate", Short: "Apply or roll back database migrations"}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), func(ctx context.Context, db *sql.DB) error {
				if err := store.ApplyMigrations(db); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps <= 0 {
				return fmt.Errorf("--steps must be positive")
			}
			return withDB(cmd.Context(), func(ctx context.Context, db *sql.DB) error {
				if err := store.RollbackMigrations(db, steps); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", steps)
				return nil
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	cmd.AddCommand(down)
	return cmd
}

func usersCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "users", Short: "Manage user accounts"}

	var role string
	promote := &cobra.Command{
		Use:   "promote <email>",
		Short: "Set a user's system role (admin by default)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role = strings.ToLower(strings.TrimSpace(role))
			if !auth.ValidRole(role) {
				return fmt.Errorf("role must be %s or %s", auth.RoleUser, auth.RoleAdmin)
			}
			return withDB(cmd.Context(), func(ctx context.Context, db *sql.DB) error {
				users := store.NewPostgresStore(db)
				user, err := users.GetUserByEmail(ctx, args[0])
				if err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return fmt.Errorf("no user with email %s", args[0])
					}
					return err
				}
				if _, err := users.UpdateUserRole(ctx, user.ID, role); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", user.Email, role)
				return nil
			})
		},
	}
	promote.Flags().StringVar(&role, "role", auth.RoleAdmin, "role to set (user or admin)")
	cmd.AddCommand(promote)
	return cmd
}
