package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/miniclick/calltrack/internal/tracker/reconcile"
	"github.com/miniclick/calltrack/internal/ui"
)

var pendingCmd = &cobra.Command{
	Use:       "pending <new|metadata|recording|persons>",
	GroupID:   "sync",
	Short:     "List rows waiting to be pushed",
	ValidArgs: []string{"new", "metadata", "recording", "persons"},
	Args:      cobra.ExactArgs(1),
	Long: `List rows waiting on one sync axis.

  new        Calls not yet created on the server
  metadata   Calls whose note or review flag changed since the last push
  recording  Calls still waiting for a recording lookup
  persons    Persons with unpushed edits`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		r := a.Reconciler()

		if args[0] == "persons" {
			persons, err := r.PendingPersons(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				printJSON(persons)
				return nil
			}
			tbl := ui.NewTable("NUMBER", "NAME", "LABEL", "NOTE", "EXCLUSION")
			for _, p := range persons {
				tbl.Row(p.PhoneNumber, p.ContactName, p.Label, p.PersonNote, p.Exclusion.String())
			}
			renderPending(tbl, "persons")
			return nil
		}

		axis, err := reconcile.ParseAxis(args[0])
		if err != nil {
			return err
		}
		calls, err := r.PendingCalls(ctx, axis)
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(calls)
			return nil
		}
		tbl := ui.NewTable("COMPOSITE ID", "DATE", "NUMBER", "DURATION", "STATUS")
		for _, c := range calls {
			status := string(c.SyncStatus)
			switch axis {
			case reconcile.AxisMetadata:
				status = string(c.MetadataSyncStatus)
			case reconcile.AxisRecording:
				status = string(c.RecordingSyncStatus)
			}
			tbl.Row(c.CompositeID, time.UnixMilli(c.CallDate).Format("2006-01-02 15:04"), c.PhoneNumber,
				ui.Duration(c.Duration), ui.RenderStatus(status))
		}
		renderPending(tbl, string(axis)+" calls")
		return nil
	},
}

func renderPending(tbl *ui.Table, what string) {
	if tbl.Len() == 0 {
		fmt.Printf("%s No pending %s\n", ui.RenderPass("✓"), what)
		return
	}
	tbl.Render(os.Stdout)
	fmt.Printf("\n%s pending %s\n", ui.Count(tbl.Len()), what)
}

var ackCmd = &cobra.Command{
	Use:     "ack <calls|persons> <id>...",
	GroupID: "sync",
	Short:   "Acknowledge pushed rows",
	Long: `Record that the server accepted a push.

  calls    Marks call metadata synced (by composite id)
  persons  Clears the needs-sync flag (by phone number)

--server-time sets the server's updated-at (epoch ms or RFC3339,
default now) used for later last-writer-wins comparisons.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, _ := cmd.Flags().GetString("server-time")
		serverTime, err := parseServerTime(st)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		r := a.Reconciler()

		ids := args[1:]
		switch args[0] {
		case "calls":
			err = r.AckCallMetadata(ctx, ids, serverTime)
		case "persons":
			err = r.AckPersons(ctx, ids, serverTime)
		default:
			return fmt.Errorf("unknown ack target %q (want calls or persons)", args[0])
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s Acknowledged %d %s\n", ui.RenderPass("✓"), len(ids), args[0])
		return nil
	},
}

// reconcileReport is the JSON form of 'calltrack reconcile'.
type reconcileReport struct {
	Persons reconcile.Result `json:"persons"`
	Calls   reconcile.Result `json:"calls"`
}

var reconcileCmd = &cobra.Command{
	Use:     "reconcile <file|->",
	GroupID: "sync",
	Short:   "Apply server-side changes from a JSONL batch",
	Long: `Apply a batch of server updates.

Each line is one update:
  {"kind":"call","composite_id":"...","server_updated_at":1700000000000,"note":"..."}
  {"kind":"person","phone":"+15551234567","server_updated_at":1700000000000,"label":"client"}

An update is applied only when its server_updated_at is newer than the
stored one. Notes and review flags edited locally and not yet pushed
are kept; those updates are reported as deferred.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var in io.Reader = os.Stdin
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open batch: %w", err)
			}
			defer f.Close()
			in = f
		}
		batch, err := reconcile.ReadBatch(in)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		persons, calls, err := a.Reconciler().Apply(ctx, batch)
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(reconcileReport{Persons: persons, Calls: calls})
			return nil
		}

		fmt.Printf("%s Applied %d updates\n", ui.RenderPass("✓"), batch.Len())
		tbl := ui.NewTable("", "APPLIED", "CREATED", "STALE", "DEFERRED", "MISSING")
		for _, row := range []struct {
			name string
			r    reconcile.Result
		}{{"persons", persons}, {"calls", calls}} {
			tbl.Row(row.name, ui.Count(row.r.Applied), ui.Count(row.r.Created), ui.Count(row.r.Stale),
				ui.Count(row.r.Deferred), ui.Count(row.r.Missing))
		}
		tbl.Render(os.Stdout)
		return nil
	},
}

func init() {
	ackCmd.Flags().String("server-time", "", "Server updated-at (epoch ms or RFC3339, default now)")

	rootCmd.AddCommand(pendingCmd, ackCmd, reconcileCmd)
}
