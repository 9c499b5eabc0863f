package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"relgit/internal/diff"
	"relgit/internal/merge"
	"relgit/internal/repo"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/xlab/treeprint"
)

func init() {
	var putMessage string
	var putCmd = &cobra.Command{
		Use:   "put <path> [file]",
		Short: "Write a file into --branch",
		Long:  `Put commits the content of file, or stdin when file is omitted or "-", at path.`,
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				content []byte
				err     error
			)
			if len(args) == 1 || args[1] == "-" {
				content, err = io.ReadAll(cmd.InOrStdin())
			} else {
				content, err = os.ReadFile(args[1])
			}
			if err != nil {
				return fmt.Errorf("reading content: %w", err)
			}
			b, err := openBranch(cmd.Context())
			if err != nil {
				return err
			}
			c, err := b.Upsert(cmd.Context(), args[0], content, messageOpts(putMessage)...)
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n", color.YellowString(short(c.OID)), c.Message)
			return nil
		},
	}
	putCmd.Flags().StringVarP(&putMessage, "message", "m", "", "commit message")

	var rmMessage string
	var rmCmd = &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file or directory from --branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := openBranch(cmd.Context())
			if err != nil {
				return err
			}
			c, err := b.Delete(cmd.Context(), args[0], messageOpts(rmMessage)...)
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n", color.YellowString(short(c.OID)), c.Message)
			return nil
		},
	}
	rmCmd.Flags().StringVarP(&rmMessage, "message", "m", "", "commit message")

	var catCmd = &cobra.Command{
		Use:   "cat <path>",
		Short: "Print a file of --branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := openBranch(cmd.Context())
			if err != nil {
				return err
			}
			blob, err := b.Find(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(blob.Content)
			return err
		},
	}

	var lsOpts repo.ListOptions
	var lsTree bool
	var lsCmd = &cobra.Command{
		Use:   "ls [dir]",
		Short: "List files of --branch",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				lsOpts.Dir = args[0]
			}
			if lsTree {
				lsOpts.Recursive = true
			}
			b, err := openBranch(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := b.List(cmd.Context(), lsOpts)
			if err != nil {
				return err
			}
			if lsTree {
				return printTree(os.Stdout, b.String(), lsOpts.Dir, entries)
			}
			for _, e := range entries {
				fmt.Printf("%s  %s\n", color.New(color.Faint).Sprint(short(e.BlobOID)), e.Path)
			}
			return nil
		},
	}
	lsCmd.Flags().BoolVarP(&lsOpts.Recursive, "recursive", "R", false, "include subdirectories")
	lsCmd.Flags().IntVar(&lsOpts.Limit, "limit", 0, "show at most this many entries")
	lsCmd.Flags().IntVar(&lsOpts.Offset, "offset", 0, "skip this many entries")
	lsCmd.Flags().BoolVar(&lsTree, "tree", false, "print the listing as a tree (implies -R)")

	var diffContext int
	var diffCmd = &cobra.Command{
		Use:   "diff <other-branch>",
		Short: "Show what another branch changed since it forked from --branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(cmd.Context(), args[0], diffContext)
		},
	}
	diffCmd.Flags().IntVarP(&diffContext, "context", "U", 3, "lines of context")

	rootCmd.AddCommand(putCmd, rmCmd, catCmd, lsCmd, diffCmd)
}

// printTree renders index entries, which arrive ordered by directory, as a
// tree rooted at dir.
func printTree(w io.Writer, title, dir string, entries []repo.IndexEntry) error {
	root := treeprint.NewWithRoot(title)
	dirs := map[string]treeprint.Tree{strings.Trim(dir, "/"): root}

	var branchFor func(d string) treeprint.Tree
	branchFor = func(d string) treeprint.Tree {
		if t, ok := dirs[d]; ok {
			return t
		}
		if d == "" {
			return root
		}
		parent, name := "", d
		if i := strings.LastIndex(d, "/"); i >= 0 {
			parent, name = d[:i], d[i+1:]
		}
		t := branchFor(parent).AddBranch(name)
		dirs[d] = t
		return t
	}

	for _, e := range entries {
		name := e.Path
		if i := strings.LastIndex(name, "/"); i >= 0 {
			name = name[i+1:]
		}
		branchFor(e.Dir).AddMetaNode(short(e.BlobOID), name)
	}
	_, err := io.WriteString(w, root.String())
	return err
}

func messageOpts(msg string) []repo.WriteOption {
	if msg == "" {
		return nil
	}
	return []repo.WriteOption{repo.WithMessage(msg)}
}

// runDiff prints the tree and line changes of other relative to the merge
// base of the two branches.
func runDiff(ctx context.Context, other string, contextLines int) error {
	b, err := openBranch(ctx)
	if err != nil {
		return err
	}
	s := cur.store
	src, err := s.GetBranch(ctx, cur.org, cur.repo, other)
	if err != nil {
		return err
	}
	base, err := merge.FindBase(ctx, s.Parents, b.CommitOID, src.CommitOID)
	if err != nil {
		return err
	}
	baseCommit, err := s.Commit(ctx, base)
	if err != nil {
		return err
	}
	ours, err := b.CurrentCommit(ctx)
	if err != nil {
		return err
	}
	theirs, err := src.CurrentCommit(ctx)
	if err != nil {
		return err
	}

	d := diff.FindDiffs(ours.Tree, theirs.Tree, baseCommit.Tree)
	if d.Empty() {
		fmt.Println("No changes.")
		return nil
	}
	printTreeDiff(d)

	engine := diff.NewEngine(contextLines)
	show := func(path, oldOID, newOID string) error {
		var old, next []byte
		if oldOID != "" {
			blob, err := s.Blob(ctx, oldOID)
			if err != nil {
				return err
			}
			old = blob.Content
		}
		if newOID != "" {
			blob, err := s.Blob(ctx, newOID)
			if err != nil {
				return err
			}
			next = blob.Content
		}
		res, err := engine.Diff(old, next)
		if err != nil {
			return err
		}
		fmt.Println()
		color.New(color.Bold).Printf("--- %s\n", path)
		printColoredDiff(res.Format())
		return nil
	}
	for _, a := range d.Added {
		if err := show(a.Path, "", a.OID); err != nil {
			return err
		}
	}
	for _, m := range d.Modified {
		if err := show(m.Path, m.BaseOID, m.TheirOID); err != nil {
			return err
		}
	}
	for _, del := range d.Deleted {
		if err := show(del.Path, del.BaseOID, ""); err != nil {
			return err
		}
	}
	return nil
}

func printTreeDiff(d *diff.TreeDiff) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	for _, a := range d.Added {
		fmt.Printf("\t%s %s\n", green("A"), a.Path)
	}
	for _, m := range d.Modified {
		fmt.Printf("\t%s %s\n", yellow("M"), m.Path)
	}
	for _, del := range d.Deleted {
		fmt.Printf("\t%s %s\n", red("D"), del.Path)
	}
}

func printColoredDiff(text string) {
	added := color.New(color.FgGreen)
	removed := color.New(color.FgRed)
	header := color.New(color.FgCyan)

	for _, line := range strings.Split(strings.TrimSuffix(text, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "@@"):
			header.Println(line)
		case strings.HasPrefix(line, "+"):
			added.Println(line)
		case strings.HasPrefix(line, "-"):
			removed.Println(line)
		default:
			fmt.Println(line)
		}
	}
}

// printConflict colors the two sides of a line conflict.
func printConflict(text string) {
	ours := color.New(color.FgGreen)
	theirs := color.New(color.FgRed)
	marker := color.New(color.FgCyan, color.Bold)

	side := 0
	for _, line := range strings.Split(strings.TrimSuffix(text, "\n"), "\n") {
		switch line {
		case merge.MarkerOurs:
			side = 1
			marker.Println(line)
			continue
		case merge.MarkerSep:
			side = 2
			marker.Println(line)
			continue
		case merge.MarkerTheirs:
			side = 0
			marker.Println(line)
			continue
		}
		switch side {
		case 1:
			ours.Println(line)
		case 2:
			theirs.Println(line)
		default:
			fmt.Println(line)
		}
	}
}
