package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"relgit/internal/config"
	verr "relgit/internal/errors"
	"relgit/internal/logging"
	"relgit/internal/repo"
	"relgit/internal/storage"
	"relgit/internal/storage/factory"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// env holds what every command needs once flags are parsed.
type env struct {
	cfg     *config.Config
	logger  *logging.Logger
	store   *repo.Store
	backend storage.Backend

	org, repo, branch string
}

var (
	v   = viper.New()
	cur env
)

var rootCmd = &cobra.Command{
	Use:   "relgit",
	Short: "relgit keeps versioned file trees in a database",
	Long: `relgit stores repositories of files as git-compatible commits inside
badger or sqlite, merges branches line by line and syncs branches between
replicas by exchanging changesets.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadEnv(cmd)
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if cur.backend == nil {
			return nil
		}
		err := cur.backend.Close()
		cur.store, cur.backend = nil, nil
		return err
	},
}

func init() {
	config.SetDefaults(v)
	v.SetEnvPrefix("RELGIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	f := rootCmd.PersistentFlags()
	f.String("config", "", "config file (json, yaml or toml)")
	f.String("db", "", "database path")
	f.String("driver", "", "database driver: badger or sqlite")
	f.String("hash", "", "hash provider: native or gogit")
	f.String("log-level", "", "log level")
	f.String("org", "local", "organization")
	f.StringP("repo", "r", "default", "repository")
	f.StringP("branch", "b", "main", "branch")

	for key, flag := range map[string]string{
		"database.path":   "db",
		"database.driver": "driver",
		"hash":            "hash",
		"log_level":       "log-level",
		"sync.org":        "org",
		"sync.repo":       "repo",
	} {
		_ = v.BindPFlag(key, f.Lookup(flag))
	}
	// The CLI is quiet unless asked otherwise.
	v.SetDefault("log_level", "warn")
}

func loadEnv(cmd *cobra.Command) error {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}
	logger, err := logging.NewDevelopment(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	cur.cfg, cur.logger = cfg, logger
	cur.org, _ = cmd.Flags().GetString("org")
	cur.repo, _ = cmd.Flags().GetString("repo")
	cur.branch, _ = cmd.Flags().GetString("branch")
	return nil
}

// openStore opens the database on first use.
func openStore(ctx context.Context) (*repo.Store, error) {
	if cur.store != nil {
		return cur.store, nil
	}
	store, backend, err := factory.OpenStore(ctx, cur.cfg, cur.logger, nil)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	cur.store, cur.backend = store, backend
	return store, nil
}

// openBranch opens the store and the branch named by --org/--repo/--branch.
func openBranch(ctx context.Context) (*repo.Branch, error) {
	s, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	return s.GetBranch(ctx, cur.org, cur.repo, cur.branch)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		printError(err)
		if cur.backend != nil {
			cur.backend.Close()
		}
		os.Exit(1)
	}
}

func printError(err error) {
	red := color.New(color.FgRed).SprintFunc()
	fmt.Fprintln(os.Stderr, red("error:"), err)

	var e *verr.Error
	if errors.As(err, &e) {
		if d, ok := e.Details.(verr.ConflictDetails); ok {
			fmt.Fprintln(os.Stderr)
			printConflict(d.Text)
		}
	}
}
