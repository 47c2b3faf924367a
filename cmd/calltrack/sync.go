package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/miniclick/calltrack/internal/tracker/db"
	"github.com/miniclick/calltrack/internal/tracker/recording"
	syncpass "github.com/miniclick/calltrack/internal/tracker/sync"
	"github.com/miniclick/calltrack/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Import new calls and attach recordings",
	Long: `Run one sync pass.

A pass:
  1. Releases calls left in the matching state by an interrupted pass
  2. Imports call log entries newer than the stored ones
  3. Refreshes the per-number person records
  4. Looks up recordings for calls still waiting for one

Only one pass runs at a time. A second invocation while a daemon is
syncing returns immediately.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		orch, err := a.Orchestrator(a.reporter())
		if err != nil {
			return err
		}

		recordingsOnly, _ := cmd.Flags().GetBool("recordings-only")
		var res syncpass.Result
		if recordingsOnly {
			res, err = orch.SyncRecordings(ctx, "cli")
		} else {
			res, err = orch.Sync(ctx, "cli")
		}
		if err != nil {
			return err
		}

		if jsonOutput {
			printJSON(res)
			return nil
		}
		printSyncResult(res)
		return nil
	},
}

func printSyncResult(res syncpass.Result) {
	if res.AlreadyRunning {
		fmt.Printf("%s Another sync is already running\n", ui.RenderWarn("⚠"))
		return
	}
	imp := res.Import
	switch {
	case imp.Skipped != "":
		fmt.Printf("%s Import skipped: %s\n", ui.RenderWarn("⚠"), imp.Skipped)
	case imp.SmartSkipped:
		fmt.Printf("%s Call log unchanged since last import\n", ui.RenderPass("✓"))
	default:
		fmt.Printf("%s Imported %s new calls %s\n", ui.RenderPass("✓"), ui.Count(imp.Inserted),
			ui.RenderMuted(fmt.Sprintf("(%d fetched, %d duplicates, %d excluded, %d other SIM)",
				imp.Fetched, imp.Duplicates, imp.Excluded, imp.SimFiltered)))
	}
	if p := imp.Persons; p.Created+p.Updated > 0 {
		fmt.Printf("   Persons: %d new, %d updated\n", p.Created, p.Updated)
	}
	if imp.Trimmed > 0 {
		fmt.Printf("   Trimmed calls for %d numbers before the tracking start date\n", imp.Trimmed)
	}

	rec := res.Recordings
	if rec.Scanned > 0 {
		fmt.Printf("%s Recordings: %d found, %d not found, %d not applicable %s\n",
			ui.RenderPass("✓"), rec.Found, rec.NotFound, rec.NotApplicable, ui.RenderMuted(string(rec.Mode)))
	}
	if res.Swept > 0 {
		fmt.Printf("   Released %d calls stuck in matching\n", res.Swept)
	}

	warnings := append(append([]string{}, imp.Warnings...), rec.Warnings...)
	for _, w := range warnings {
		fmt.Printf("%s %s\n", ui.RenderWarn("⚠"), w)
	}
	fmt.Printf("   %s\n", ui.RenderMuted(fmt.Sprintf("run %s in %v", res.RunID, res.Duration.Round(time.Millisecond))))
}

// statusReport is the JSON form of 'calltrack status'.
type statusReport struct {
	Database   string              `json:"database"`
	SizeBytes  int64               `json:"size_bytes"`
	Counts     *db.StatusCounts    `json:"counts"`
	Recordings *recording.PathInfo `json:"recordings,omitempty"`
	LastRun    *db.SyncRun         `json:"last_run,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show store and sync status",
	Long: `Display the current state of the local store.

Shows:
  - Database location and size
  - Call counts per sync axis (creation, metadata, recording)
  - The effective recording directory
  - The most recent sync pass`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		report := statusReport{Database: a.store.Path(), SizeBytes: -1}
		if info, err := os.Stat(report.Database); err == nil {
			report.SizeBytes = info.Size()
		}
		if report.Counts, err = a.store.GetStatusCounts(ctx); err != nil {
			return err
		}
		if a.settings.RecordingEnabled() {
			info, err := a.Resolver().Info(ctx)
			if err != nil {
				a.logger.Warn().Err(err).Msg("failed to resolve recording directory")
			} else {
				report.Recordings = &info
			}
		}
		runs, err := a.store.ListRuns(ctx, 1)
		if err != nil {
			return err
		}
		if len(runs) > 0 {
			report.LastRun = &runs[0]
		}

		if jsonOutput {
			printJSON(report)
			return nil
		}

		fmt.Printf("\n%s calltrack status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("Location: %s\n", report.Database)
		fmt.Printf("Size: %s\n", ui.Bytes(report.SizeBytes))
		fmt.Printf("Calls: %s\n", ui.Count(report.Counts.Calls))
		fmt.Printf("Persons: %s\n", ui.Count(report.Counts.Persons))
		if !a.settings.TrackingEnabled() {
			fmt.Printf("%s Call tracking is off (sim_selection=off)\n", ui.RenderWarn("⚠"))
		}

		tbl := ui.NewTable("AXIS", "STATUS", "CALLS")
		addCounts(tbl, "sync", report.Counts.Sync)
		addCounts(tbl, "metadata", report.Counts.Metadata)
		addCounts(tbl, "recording", report.Counts.Recording)
		if tbl.Len() > 0 {
			fmt.Println()
			tbl.Render(os.Stdout)
		}

		if r := report.Recordings; r != nil {
			fmt.Printf("\nRecordings: %s", r.EffectivePath)
			switch {
			case r.IsCustom:
				fmt.Print(ui.RenderMuted(" (custom)"))
			case r.IsVerified:
				fmt.Print(ui.RenderMuted(" (verified)"))
			}
			fmt.Printf("\n   %s audio files\n", ui.Count(r.RecordingCount))
		}
		if r := report.LastRun; r != nil {
			fmt.Printf("\nLast sync: %s %s, %d imported, %d recordings found\n",
				ui.RenderStatus(r.Status), ui.Ago(r.StartedAt), r.Imported, r.RecordingsFound)
			if r.Error != "" {
				fmt.Printf("   %s\n", ui.RenderFail(r.Error))
			}
		}
		fmt.Println()
		return nil
	},
}

func addCounts[K ~string](tbl *ui.Table, axis string, counts map[K]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	for _, k := range keys {
		tbl.Row(axis, ui.RenderStatus(k), ui.Count(counts[K(k)]))
	}
}

var runsCmd = &cobra.Command{
	Use:     "runs",
	GroupID: "sync",
	Short:   "List recent sync passes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := a.store.ListRuns(ctx, limit)
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(runs)
			return nil
		}
		if len(runs) == 0 {
			fmt.Println("No sync runs recorded")
			return nil
		}

		tbl := ui.NewTable("STARTED", "SOURCE", "STATUS", "PHASE", "IMPORTED", "FOUND", "NOT FOUND", "DURATION")
		for _, r := range runs {
			dur := "-"
			if r.FinishedAt != nil {
				dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
			}
			tbl.Row(r.StartedAt.Format("2006-01-02 15:04:05"), r.Source, ui.RenderStatus(r.Status), r.Phase,
				ui.Count(r.Imported), ui.Count(r.RecordingsFound), ui.Count(r.RecordingsNotFound), dur)
		}
		tbl.Render(os.Stdout)
		return nil
	},
}

func init() {
	syncCmd.Flags().Bool("recordings-only", false, "Skip the import and only look up pending recordings")
	runsCmd.Flags().IntP("limit", "n", 20, "Number of runs to show")

	rootCmd.AddCommand(syncCmd, statusCmd, runsCmd)
}
