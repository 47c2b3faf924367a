package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/miniclick/calltrack/internal/config"
	"github.com/miniclick/calltrack/internal/tracker/db"
	"github.com/miniclick/calltrack/internal/tracker/schema"
	"github.com/miniclick/calltrack/internal/ui"
)

var callsCmd = &cobra.Command{
	Use:     "calls",
	GroupID: "data",
	Short:   "List stored calls",
	Long: `List stored calls, newest first.

Examples:
  calltrack calls                          # Last 50 calls
  calltrack calls --number 5551234567      # Calls with one number
  calltrack calls --recording not_found    # Calls without a recording
  calltrack calls --since "7 days ago"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		f := db.CallFilter{}
		f.Number, _ = cmd.Flags().GetString("number")
		f.Limit, _ = cmd.Flags().GetInt("limit")
		if s, _ := cmd.Flags().GetString("recording"); s != "" {
			f.RecordingStatus = schema.RecordingSyncStatus(s)
		}
		if s, _ := cmd.Flags().GetString("since"); s != "" {
			loc, err := a.settings.Location()
			if err != nil {
				return err
			}
			since, err := config.ParseStartDate(s, time.Now(), loc)
			if err != nil {
				return err
			}
			f.Since = since.UnixMilli()
		}

		calls, err := a.store.ListCalls(ctx, f)
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(calls)
			return nil
		}
		if len(calls) == 0 {
			fmt.Println("No calls found")
			return nil
		}

		tbl := ui.NewTable("DATE", "TYPE", "NUMBER", "NAME", "DURATION", "SYNC", "METADATA", "RECORDING")
		for _, c := range calls {
			tbl.Row(time.UnixMilli(c.CallDate).Format("2006-01-02 15:04"), string(c.CallType), c.PhoneNumber,
				c.ContactName, ui.Duration(c.Duration), ui.RenderStatus(string(c.SyncStatus)),
				ui.RenderStatus(string(c.MetadataSyncStatus)), ui.RenderStatus(string(c.RecordingSyncStatus)))
		}
		tbl.Render(os.Stdout)
		return nil
	},
}

var personsCmd = &cobra.Command{
	Use:     "persons",
	GroupID: "data",
	Short:   "List persons by most recent call",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		f := db.PersonFilter{}
		f.IncludeHidden, _ = cmd.Flags().GetBool("all")
		f.NeedsSync, _ = cmd.Flags().GetBool("needs-sync")
		f.Limit, _ = cmd.Flags().GetInt("limit")
		persons, err := a.store.ListPersons(ctx, f)
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(persons)
			return nil
		}
		if len(persons) == 0 {
			fmt.Println("No persons found")
			return nil
		}

		tbl := ui.NewTable("NUMBER", "NAME", "LABEL", "CALLS", "IN", "OUT", "MISSED", "TALK TIME", "LAST CALL", "EXCLUSION")
		for _, p := range persons {
			name := p.ContactName
			if p.NeedsSync {
				name += ui.RenderWarn(" *")
			}
			tbl.Row(p.PhoneNumber, name, p.Label, ui.Count(p.TotalCalls), ui.Count(p.TotalIncoming),
				ui.Count(p.TotalOutgoing), ui.Count(p.TotalMissed), ui.Duration(p.TotalDuration),
				ui.Millis(p.LastCallDate), p.Exclusion.String())
		}
		tbl.Render(os.Stdout)
		return nil
	},
}

var noteCmd = &cobra.Command{
	Use:     "note <composite-id> <text>",
	GroupID: "data",
	Short:   "Set the note on a call",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.store.UpdateCallNote(ctx, args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("%s Note saved on %s\n", ui.RenderPass("✓"), args[0])
		return nil
	},
}

var reviewCmd = &cobra.Command{
	Use:     "review [composite-id]",
	GroupID: "data",
	Short:   "Mark calls reviewed",
	Long: `Mark one call reviewed, or every call with --all.

Use --undo to clear the flag on a single call.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		undo, _ := cmd.Flags().GetBool("undo")
		if all == (len(args) == 1) {
			return fmt.Errorf("pass a composite id or --all")
		}

		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if all {
			n, err := a.store.MarkAllReviewed(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%s Marked %d calls reviewed\n", ui.RenderPass("✓"), n)
			return nil
		}
		if err := a.store.UpdateReviewed(ctx, args[0], !undo); err != nil {
			return err
		}
		fmt.Printf("%s Updated %s\n", ui.RenderPass("✓"), args[0])
		return nil
	},
}

var personCmd = &cobra.Command{
	Use:     "person <phone>",
	GroupID: "data",
	Short:   "Edit a person's note, label, name or exclusion",
	Long: `Edit the user-authored fields of a person. Edited persons are
flagged for the next push.

Exclusion is one of: tracked, list_only, full.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := a.store.FindPersonRobust(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to find person %s: %w", args[0], err)
		}
		number := p.PhoneNumber
		changed := 0

		if cmd.Flags().Changed("note") {
			v, _ := cmd.Flags().GetString("note")
			if err := a.store.UpdatePersonNote(ctx, number, v); err != nil {
				return err
			}
			changed++
		}
		if cmd.Flags().Changed("label") {
			v, _ := cmd.Flags().GetString("label")
			if err := a.store.UpdatePersonLabel(ctx, number, v); err != nil {
				return err
			}
			changed++
		}
		if cmd.Flags().Changed("name") {
			v, _ := cmd.Flags().GetString("name")
			if err := a.store.UpdatePersonName(ctx, number, v); err != nil {
				return err
			}
			changed++
		}
		if cmd.Flags().Changed("exclusion") {
			v, _ := cmd.Flags().GetString("exclusion")
			e, err := schema.ParseExclusion(v)
			if err != nil {
				return err
			}
			if err := a.store.UpdatePersonExclusion(ctx, number, e); err != nil {
				return err
			}
			changed++
		}

		if changed == 0 {
			if jsonOutput {
				printJSON(p)
				return nil
			}
			fmt.Printf("%s %s\n", ui.RenderBold(number), p.ContactName)
			fmt.Printf("   Calls: %d (%d in, %d out, %d missed), talk time %s\n",
				p.TotalCalls, p.TotalIncoming, p.TotalOutgoing, p.TotalMissed, ui.Duration(p.TotalDuration))
			fmt.Printf("   Last call: %s\n", ui.Millis(p.LastCallDate))
			if p.Label != "" {
				fmt.Printf("   Label: %s\n", p.Label)
			}
			if p.PersonNote != "" {
				fmt.Printf("   Note: %s\n", p.PersonNote)
			}
			fmt.Printf("   Exclusion: %s\n", p.Exclusion)
			return nil
		}
		fmt.Printf("%s Updated %d field(s) on %s\n", ui.RenderPass("✓"), changed, number)
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:     "reset",
	GroupID: "data",
	Short:   "Reset sync state so everything is pushed or matched again",
	Long: `Reset sync state.

  --sync        Reset all three sync axes so every call is pushed again
  --recordings  Retry recording lookup for calls marked not found or not
                applicable that have a non-zero duration`,
	RunE: func(cmd *cobra.Command, args []string) error {
		syncAxes, _ := cmd.Flags().GetBool("sync")
		recordings, _ := cmd.Flags().GetBool("recordings")
		if !syncAxes && !recordings {
			return fmt.Errorf("pass --sync, --recordings or both")
		}

		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if syncAxes {
			if err := a.store.ClearSyncStatus(ctx); err != nil {
				return err
			}
			fmt.Printf("%s Sync status cleared\n", ui.RenderPass("✓"))
		}
		if recordings {
			n, err := a.store.ResetSkippedRecordings(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%s %d calls queued for recording lookup\n", ui.RenderPass("✓"), n)
		}
		return nil
	},
}

// parseServerTime accepts epoch milliseconds or RFC3339.
func parseServerTime(s string) (int64, error) {
	if s == "" {
		return time.Now().UnixMilli(), nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid server time %q (want epoch ms or RFC3339)", s)
	}
	return t.UnixMilli(), nil
}

func init() {
	callsCmd.Flags().String("number", "", "Only calls with this number")
	callsCmd.Flags().String("recording", "", "Only calls with this recording status")
	callsCmd.Flags().String("since", "", "Only calls on or after this date")
	callsCmd.Flags().IntP("limit", "n", 50, "Maximum number of calls (0 = all)")

	personsCmd.Flags().BoolP("all", "a", false, "Include persons hidden from lists")
	personsCmd.Flags().Bool("needs-sync", false, "Only persons with unpushed edits")
	personsCmd.Flags().IntP("limit", "n", 50, "Maximum number of persons (0 = all)")

	reviewCmd.Flags().Bool("all", false, "Mark every call reviewed")
	reviewCmd.Flags().Bool("undo", false, "Clear the reviewed flag")

	personCmd.Flags().String("note", "", "Person note")
	personCmd.Flags().String("label", "", "Label")
	personCmd.Flags().String("name", "", "Contact name")
	personCmd.Flags().String("exclusion", "", "tracked, list_only or full")

	resetCmd.Flags().Bool("sync", false, "Reset all sync axes")
	resetCmd.Flags().Bool("recordings", false, "Retry skipped recording lookups")

	rootCmd.AddCommand(callsCmd, personsCmd, noteCmd, reviewCmd, personCmd, resetCmd)
}
