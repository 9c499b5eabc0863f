package main

import (
	"fmt"
	"strings"

	"relgit/internal/importer"
	"relgit/internal/repo"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func init() {
	var initCmd = &cobra.Command{
		Use:   "init",
		Short: "Create a repository with an empty branch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			b, err := s.InitRepo(cmd.Context(), cur.org, cur.repo, cur.branch)
			if err != nil {
				return err
			}
			fmt.Printf("Initialized %s at %s\n", color.GreenString(b.String()), short(b.CommitOID))
			return nil
		},
	}

	var importRef string
	var importCmd = &cobra.Command{
		Use:   "import <git-dir>",
		Short: "Import a commit of a git repository as a new branch",
		Long: `Import reads one commit of a local git repository, keeps its commit id,
and stores its files as the head of a new branch.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := importer.OpenGit(args[0])
			if err != nil {
				return err
			}
			s, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			b, err := s.Import(cmd.Context(), cur.org, cur.repo, cur.branch, src, importRef)
			if err != nil {
				return err
			}
			fmt.Printf("Imported %s into %s at %s\n", importRef, color.GreenString(b.String()), short(b.CommitOID))
			return nil
		},
	}
	importCmd.Flags().StringVar(&importRef, "ref", "HEAD", "revision to import")

	var reposCmd = &cobra.Command{
		Use:   "repos",
		Short: "List repositories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			repos, err := s.ListRepos(cmd.Context())
			if err != nil {
				return err
			}
			for _, r := range repos {
				line := r.Org + "/" + r.Name
				if r.Remote != "" {
					line += color.New(color.Faint).Sprintf("  (%s)", r.Remote)
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	var branchCmd = &cobra.Command{
		Use:   "branch [new-branch]",
		Short: "List branches, or create one at the head of --branch",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if len(args) == 1 {
				b, err := openBranch(ctx)
				if err != nil {
					return err
				}
				nb, err := b.CheckoutNewBranch(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("Created %s at %s\n", color.GreenString(nb.Name), short(nb.CommitOID))
				return nil
			}

			s, err := openStore(ctx)
			if err != nil {
				return err
			}
			branches, err := s.ListBranches(ctx, cur.org, cur.repo)
			if err != nil {
				return err
			}
			for _, b := range branches {
				mark := " "
				name := b.Name
				if b.Name == cur.branch {
					mark, name = "*", color.GreenString(b.Name)
				}
				fmt.Printf("%s %s %s\n", mark, name, color.YellowString(short(b.CommitOID)))
			}
			return nil
		},
	}

	var logLimit int
	var logCmd = &cobra.Command{
		Use:   "log",
		Short: "Show the first-parent history of --branch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := openBranch(cmd.Context())
			if err != nil {
				return err
			}
			commits, err := b.Log(cmd.Context(), logLimit)
			if err != nil {
				return err
			}
			for _, c := range commits {
				fmt.Printf("%s %s\n", color.YellowString(short(c.OID)), firstLine(c.Message))
				if c.IsMerge() {
					fmt.Printf("        merge of %s\n", strings.Join(shortAll(c.Parents), " "))
				}
			}
			return nil
		},
	}
	logCmd.Flags().IntVarP(&logLimit, "limit", "n", 0, "show at most n commits")

	var mergeCmd = &cobra.Command{
		Use:   "merge <source-branch>",
		Short: "Merge another branch into --branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := openBranch(ctx)
			if err != nil {
				return err
			}
			src, err := cur.store.GetBranch(ctx, cur.org, cur.repo, args[0])
			if err != nil {
				return err
			}
			res, err := b.Merge(ctx, src)
			if err != nil {
				return err
			}
			switch res.Kind {
			case repo.UpToDate:
				fmt.Println("Already up to date.")
			case repo.FastForward:
				fmt.Printf("Fast-forward to %s\n", color.YellowString(short(res.Commit.OID)))
			default:
				fmt.Printf("Merged %s into %s: %s\n", src.Name, b.Name, color.YellowString(short(res.Commit.OID)))
			}
			if res.Diff != nil {
				printTreeDiff(res.Diff)
			}
			return nil
		},
	}

	rootCmd.AddCommand(initCmd, importCmd, reposCmd, branchCmd, logCmd, mergeCmd)
}

func short(oid string) string {
	if len(oid) > 10 {
		return oid[:10]
	}
	return oid
}

func shortAll(oids []string) []string {
	out := make([]string, len(oids))
	for i, o := range oids {
		out[i] = short(o)
	}
	return out
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
