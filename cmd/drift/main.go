// cmd/drift/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"drift/internal/blob"
	"drift/internal/config"
	"drift/internal/diff"
	"drift/internal/driver"
	"drift/internal/editor"
	"drift/internal/logging"
	"drift/internal/printer"
	"drift/internal/repos"
	"drift/internal/tree"
	"drift/internal/watch"
	"drift/internal/workspace"
)

var rootCmd = &cobra.Command{
	Use:   "drift",
	Short: "Drift is a snapshot-based version control system",
	Long: `Drift records whole-tree snapshots and moves between them with
content deltas. Every command works against the .drift directory found in
the current directory or one of its parents.`,
	SilenceUsage: true,
}

// env bundles everything an open workspace command needs.
type env struct {
	ws     *workspace.Workspace
	repo   *repos.Repository
	cfg    *config.Config
	logger *zap.Logger

	db    *badger.DB
	blobs *blob.Store
}

func openEnv() (*env, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting current directory: %w", err)
	}
	root, err := workspace.FindRoot(cwd)
	if err != nil {
		return nil, err
	}

	metaDir := filepath.Join(root, workspace.MetaDirName)
	cfg, err := config.Load(metaDir)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.LogLevel, true)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	db, err := badger.Open(badger.DefaultOptions(filepath.Join(metaDir, "db")).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	blobs, err := blob.New(db, blob.Options{
		Root:        filepath.Join(metaDir, "blobs"),
		CacheSize:   cfg.Store.CacheSize,
		MinCompress: cfg.Store.MinCompress,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &env{
		ws:     workspace.Open(root, logger),
		repo:   repos.Open(db, blobs, logger),
		cfg:    cfg,
		logger: logger,
		db:     db,
		blobs:  blobs,
	}, nil
}

func (e *env) close() {
	e.blobs.Close()
	if err := e.db.Close(); err != nil {
		e.logger.Warn("closing database", zap.Error(err))
	}
	e.logger.Sync()
}

// headTree returns the committed tree at HEAD, or an empty tree for a fresh
// repository.
func (e *env) headTree() (*tree.Tree, editor.Revision, error) {
	head, err := e.repo.Head()
	if err != nil {
		return nil, editor.None, err
	}
	if head.IsNone() {
		return tree.New(), head, nil
	}
	t, err := e.repo.TreeAt(head)
	return t, head, err
}

// commitSnapshot commits the current working directory state; it reports
// whether anything actually changed.
func (e *env) commitSnapshot(ctx context.Context, message, author string) (repos.Commit, bool, error) {
	snap, err := e.ws.Snapshot()
	if err != nil {
		return repos.Commit{}, false, err
	}

	txn, err := e.repo.Begin(message, author)
	if err != nil {
		return repos.Commit{}, false, err
	}

	base := txn.BaseTree()
	if base != nil && tree.Equal(base, snap) {
		txn.Abort()
		return repos.Commit{}, false, nil
	}

	if err := driver.Drive(ctx, base, snap, txn, driver.Options{}); err != nil {
		return repos.Commit{}, false, err
	}
	return txn.Commit(), true, nil
}

func init() {
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new drift workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("getting current directory: %w", err)
			}
			if _, err := workspace.Init(dir, nil); err != nil {
				return err
			}
			if err := config.Default().Save(filepath.Join(dir, workspace.MetaDirName)); err != nil {
				return err
			}
			fmt.Println("Initialized empty drift workspace in", dir)
			return nil
		},
	}

	var commitMsg string
	var commitAuthor string
	commitCmd := &cobra.Command{
		Use:   "commit",
		Short: "Record the working directory as a new revision",
		RunE: func(cmd *cobra.Command, args []string) error {
			if commitMsg == "" {
				return fmt.Errorf("a commit message is required (-m)")
			}
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			author := commitAuthor
			if author == "" {
				author = e.cfg.Author
			}

			c, changed, err := e.commitSnapshot(cmd.Context(), commitMsg, author)
			if err != nil {
				return fmt.Errorf("committing: %w", err)
			}
			if !changed {
				fmt.Println("Nothing to commit")
				return nil
			}
			fmt.Printf("Committed %s (%s)\n", c.Revision, c.ID[:8])
			return nil
		},
	}
	commitCmd.Flags().StringVarP(&commitMsg, "message", "m", "", "commit message")
	commitCmd.Flags().StringVar(&commitAuthor, "author", "", "override the configured author")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show changes since the last commit",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			if e.ws.Incomplete() {
				color.Red("warning: a previous checkout was interrupted; the working directory may be inconsistent")
			}

			base, _, err := e.headTree()
			if err != nil {
				return err
			}
			snap, err := e.ws.Snapshot()
			if err != nil {
				return err
			}

			p := printer.New(cmd.OutOrStdout())
			if err := driver.Drive(cmd.Context(), base, snap, editor.Guard(p), driver.Options{}); err != nil {
				return fmt.Errorf("computing status: %w", err)
			}
			if p.Touched() == 0 {
				fmt.Println("Working directory clean")
			}
			return nil
		},
	}

	var diffContext int
	diffCmd := &cobra.Command{
		Use:   "diff [path]",
		Short: "Show line-level changes since the last commit",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			base, _, err := e.headTree()
			if err != nil {
				return err
			}
			snap, err := e.ws.Snapshot()
			if err != nil {
				return err
			}

			engine := diff.NewEngine(diffContext)
			printed := false
			err = snap.Walk(func(path string, n *tree.Node) error {
				if n.Kind != tree.KindFile || n.Absent {
					return nil
				}
				if len(args) == 1 && path != args[0] {
					return nil
				}
				var oldContent []byte
				if old, err := base.Lookup(path); err == nil && old.Kind == tree.KindFile {
					oldContent = old.Content
				}
				res := engine.Diff(oldContent, n.Content)
				if len(res.Hunks) == 0 {
					return nil
				}
				printed = true
				color.New(color.Bold).Printf("--- %s\n+++ %s\n", path, path)
				fmt.Print(res.Unified())
				return nil
			})
			if err != nil {
				return err
			}
			if !printed {
				fmt.Println("No changes")
			}
			return nil
		},
	}
	diffCmd.Flags().IntVarP(&diffContext, "context", "C", 3, "context lines around changes")

	logCmd := &cobra.Command{
		Use:   "log",
		Short: "List revisions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			commits, err := e.repo.Log()
			if err != nil {
				return err
			}
			if len(commits) == 0 {
				fmt.Println("No commits yet")
				return nil
			}
			for _, c := range commits {
				color.New(color.FgYellow).Printf("%s  %s\n", c.Revision, c.ID[:8])
				fmt.Printf("Author: %s\nDate:   %s\n\n    %s\n\n",
					c.Author, c.Time.Local().Format(time.RFC1123), c.Message)
			}
			return nil
		},
	}

	var catRev int64
	catCmd := &cobra.Command{
		Use:   "cat <path>",
		Short: "Print a file's content at a revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			rev := editor.Revision(catRev)
			if catRev == 0 {
				if rev, err = e.repo.Head(); err != nil {
					return err
				}
			}
			content, err := e.repo.Cat(rev, args[0])
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(content)
			return err
		},
	}
	catCmd.Flags().Int64VarP(&catRev, "revision", "r", 0, "revision to read from (default HEAD)")

	var checkoutRev int64
	checkoutCmd := &cobra.Command{
		Use:   "checkout",
		Short: "Update the working directory to a revision",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			rev := editor.Revision(checkoutRev)
			if checkoutRev == 0 {
				if rev, err = e.repo.Head(); err != nil {
					return err
				}
				if rev.IsNone() {
					return fmt.Errorf("nothing committed yet")
				}
			}

			target, err := e.repo.TreeAt(rev)
			if err != nil {
				return err
			}
			snap, err := e.ws.Snapshot()
			if err != nil {
				return err
			}

			err = driver.Drive(cmd.Context(), snap, target, e.ws.Apply(), driver.Options{Target: rev})
			if err != nil {
				return fmt.Errorf("checking out %s: %w", rev, err)
			}
			fmt.Printf("Checked out %s\n", rev)
			return nil
		},
	}
	checkoutCmd.Flags().Int64VarP(&checkoutRev, "revision", "r", 0, "revision to check out (default HEAD)")

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Auto-commit whenever the working directory settles",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			w, err := watch.New(e.ws.Root,
				time.Duration(e.cfg.Watch.DebounceMs)*time.Millisecond, e.logger)
			if err != nil {
				return err
			}
			defer w.Close()

			w.OnSettle = func() error {
				c, changed, err := e.commitSnapshot(cmd.Context(), "auto-commit", e.cfg.Author)
				if err != nil {
					return err
				}
				if changed {
					fmt.Printf("Committed %s (%s)\n", c.Revision, c.ID[:8])
				}
				return nil
			}

			fmt.Println("Watching", e.ws.Root)
			err = w.Run(cmd.Context())
			if err == context.Canceled {
				return nil
			}
			return err
		},
	}

	rootCmd.AddCommand(initCmd, commitCmd, statusCmd, diffCmd, logCmd, catCmd, checkoutCmd, watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
