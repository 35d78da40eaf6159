package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/lmandrelli/grape-coder/internal/persistence"
	"github.com/lmandrelli/grape-coder/internal/snapshot"
)

var (
	historyLimit    int
	snapshotRun     string
	restoreRevision int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent runs in the work directory",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List the git snapshots of a run",
	Args:  cobra.NoArgs,
	RunE:  runSnapshots,
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Check out a revision of a run into the work directory",
	Long: `Check out a committed revision of a run. Uncommitted changes in the
work directory are overwritten.

Examples:
  grape-coder restore --run 6f1c... --revision 2`,
	Args: cobra.NoArgs,
	RunE: runRestore,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "number of runs to show")

	snapshotsCmd.Flags().StringVar(&snapshotRun, "run", "", "run ID")
	_ = snapshotsCmd.MarkFlagRequired("run")

	restoreCmd.Flags().StringVar(&snapshotRun, "run", "", "run ID")
	restoreCmd.Flags().IntVar(&restoreRevision, "revision", 0, "revision to restore")
	_ = restoreCmd.MarkFlagRequired("run")
	_ = restoreCmd.MarkFlagRequired("revision")
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), appOptions{storage: true})
	if err != nil {
		return err
	}
	defer a.Close()
	if a.store == nil {
		return errors.New("run history is disabled (storage.database is empty)")
	}

	runs, err := a.store.ListRuns(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	return writeRuns(cmd.OutOrStdout(), runs)
}

// writeRuns renders runs as a table, newest first.
func writeRuns(w io.Writer, runs []persistence.Run) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No runs yet.")
		return err
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("RUN", "STARTED", "STATUS", "ITER", "REV", "TOTAL", "GOAL")
	for _, r := range runs {
		t.Row(
			r.ID,
			r.StartedAt.Local().Format(time.DateTime),
			r.Status,
			strconv.Itoa(r.Iterations),
			strconv.Itoa(r.FinalRevision),
			strconv.Itoa(r.FinalTotal),
			truncate(r.Brief.Goal, 40),
		)
	}
	_, err := fmt.Fprintln(w, t.String())
	return err
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func openSnapshots(ctx context.Context) (*app, error) {
	a, err := newApp(ctx, appOptions{storage: true})
	if err != nil {
		return nil, err
	}
	if a.snaps == nil {
		a.Close()
		return nil, errors.New("git snapshots are disabled (storage.git_snapshots is false)")
	}
	return a, nil
}

func runSnapshots(cmd *cobra.Command, args []string) error {
	a, err := openSnapshots(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	infos, err := a.snaps.List(snapshotRun)
	if err != nil {
		return err
	}
	return writeSnapshots(cmd.OutOrStdout(), infos)
}

func writeSnapshots(w io.Writer, infos []snapshot.Info) error {
	if len(infos) == 0 {
		_, err := fmt.Fprintln(w, "No snapshots for this run.")
		return err
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("REVISION", "COMMIT", "WHEN", "TAG")
	for _, info := range infos {
		rev := strconv.Itoa(info.Revision)
		if info.Revision == 0 {
			rev = "final"
		}
		t.Row(rev, info.Hash[:min(len(info.Hash), 10)], info.When.Local().Format(time.DateTime), info.Tag)
	}
	_, err := fmt.Fprintln(w, t.String())
	return err
}

func runRestore(cmd *cobra.Command, args []string) error {
	a, err := openSnapshots(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.snaps.Restore(snapshotRun, restoreRevision); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Restored revision %d of %s into %s\n", restoreRevision, snapshotRun, a.dir)
	return nil
}
