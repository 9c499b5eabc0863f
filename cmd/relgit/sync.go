package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"relgit/client"
	"relgit/internal/poller"
	"relgit/internal/storage"
	"relgit/internal/watch"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func init() {
	var syncBranches []string
	var syncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Sync branches with a remote replica once",
		Long: `Sync compares each branch with the same branch on the remote server,
pushes local commits when ahead and replays remote commits when behind.
Diverged branches fail unless --reconcile is set, in which case they are
merged and the merge is pushed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if cur.cfg.Sync.Remote == "" {
				return errors.New("no remote: pass --remote or set sync.remote")
			}
			s, err := openStore(ctx)
			if err != nil {
				return err
			}
			if len(syncBranches) == 0 {
				syncBranches = []string{cur.branch}
			}
			p, err := poller.New(s, client.New(cur.cfg.Sync.Remote, client.WithLogger(cur.logger)), poller.Options{
				Org:       cur.org,
				Repo:      cur.repo,
				Branches:  syncBranches,
				Reconcile: cur.cfg.Sync.Reconcile,
				Logger:    cur.logger,
			})
			if err != nil {
				return err
			}

			failed := 0
			for _, o := range p.Round(ctx) {
				if o.Err != nil {
					failed++
					fmt.Printf("%s %s: %v\n", color.RedString("✗"), o.Branch, o.Err)
					continue
				}
				fmt.Printf("%s %s %s %s\n", color.GreenString("✓"), o.Branch, o.Action, color.YellowString(short(o.Head)))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d branches failed to sync", failed, len(syncBranches))
			}
			return nil
		},
	}
	syncCmd.Flags().String("remote", "", "remote server URL")
	syncCmd.Flags().Bool("reconcile", false, "merge diverged branches")
	syncCmd.Flags().StringSliceVar(&syncBranches, "branches", nil, "branches to sync (default: --branch)")
	_ = v.BindPFlag("sync.remote", syncCmd.Flags().Lookup("remote"))
	_ = v.BindPFlag("sync.reconcile", syncCmd.Flags().Lookup("reconcile"))

	var cloneCmd = &cobra.Command{
		Use:   "clone <remote-url>",
		Short: "Copy every repository of a remote server into the local database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := client.New(args[0], client.WithLogger(cur.logger)).Dump(cmd.Context())
			if err != nil {
				return err
			}
			s, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			if err := s.Restore(cmd.Context(), d); err != nil {
				return err
			}
			fmt.Printf("Cloned %d repositories, %d branches and %d commits\n", len(d.Repos), len(d.Branches), len(d.Commits))
			return nil
		},
	}

	var watchCmd = &cobra.Command{
		Use:   "watch [dir]",
		Short: "Commit every change under a directory to --branch",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			b, err := openBranch(ctx)
			if err != nil {
				return err
			}
			w, err := watch.New(dir, b, watch.Options{
				Logger: cur.logger,
				OnCommit: func(path string, deleted bool, oid string) {
					mark := color.GreenString("M")
					if deleted {
						mark = color.RedString("D")
					}
					fmt.Printf("%s %s %s\n", color.YellowString(short(oid)), mark, path)
				},
			})
			if err != nil {
				return err
			}
			if oid, err := w.Scan(ctx); err != nil {
				return err
			} else if oid != "" {
				fmt.Printf("%s scanned %s\n", color.YellowString(short(oid)), dir)
			}
			fmt.Printf("Watching %s into %s (ctrl-c to stop)\n", dir, color.GreenString(b.String()))
			return w.Watch(ctx)
		},
	}

	var dumpCmd = &cobra.Command{
		Use:   "dump [file]",
		Short: "Write the whole database as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			d, err := s.Dump(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				f, err := os.Create(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(d)
		},
	}

	var restoreCmd = &cobra.Command{
		Use:   "restore <file>",
		Short: "Load a JSON dump into the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var d storage.Dump
			if err := json.Unmarshal(data, &d); err != nil {
				return fmt.Errorf("decoding dump: %w", err)
			}
			s, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			return s.Restore(cmd.Context(), &d)
		},
	}

	rootCmd.AddCommand(syncCmd, cloneCmd, watchCmd, dumpCmd, restoreCmd)
}
