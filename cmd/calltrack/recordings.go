package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/miniclick/calltrack/internal/tracker/recording"
	"github.com/miniclick/calltrack/internal/ui"
)

var recordingsCmd = &cobra.Command{
	Use:     "recordings",
	GroupID: "data",
	Short:   "Inspect and configure the recording directory",
	Long: `Inspect the directory call recordings are read from.

The effective directory is the custom path when one is configured,
otherwise the last detected directory (re-checked on every use),
otherwise the first vendor or recorder-app directory that holds audio.`,
}

var recordingsInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the effective recording directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		r := a.Resolver()
		info, err := r.Info(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(info)
			return nil
		}
		printPathInfo(info)

		if verbose, _ := cmd.Flags().GetBool("candidates"); verbose {
			fmt.Printf("\nScan order:\n")
			for _, dir := range r.Candidates() {
				mark := ui.RenderMuted("·")
				if r.HasRecordings(dir) {
					mark = ui.RenderPass("✓")
				}
				fmt.Printf("  %s %s\n", mark, dir)
			}
		}
		return nil
	},
}

func printPathInfo(info recording.PathInfo) {
	fmt.Printf("Directory: %s\n", ui.RenderBold(info.EffectivePath))
	switch {
	case info.IsCustom:
		fmt.Printf("Source: custom path\n")
	case info.DetectedPath != "":
		fmt.Printf("Source: detected\n")
	default:
		fmt.Printf("Source: default\n")
	}
	verified := ui.RenderWarn("no")
	if info.IsVerified {
		verified = ui.RenderPass("yes")
	}
	fmt.Printf("Verified: %s\n", verified)
	fmt.Printf("Recordings: %s\n", ui.Count(info.RecordingCount))
}

var recordingsRescanCmd = &cobra.Command{
	Use:   "rescan",
	Short: "Forget the detected directory and scan again",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		dir, err := a.Resolver().Rescan(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(map[string]string{"effective_path": dir})
			return nil
		}
		fmt.Printf("%s Recording directory: %s\n", ui.RenderPass("✓"), dir)
		return nil
	},
}

var recordingsVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Confirm the effective directory is correct",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		undo, _ := cmd.Flags().GetBool("undo")
		if err := a.Resolver().Verify(ctx, !undo); err != nil {
			return err
		}
		if undo {
			fmt.Printf("%s Verification cleared\n", ui.RenderPass("✓"))
		} else {
			fmt.Printf("%s Recording directory verified\n", ui.RenderPass("✓"))
		}
		return nil
	},
}

var recordingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audio files in the recording directories",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		files, err := a.Resolver().ListRecordings(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(files)
			return nil
		}
		loc, err := a.settings.Location()
		if err != nil {
			return err
		}
		tbl := ui.NewTable("FILE", "MODIFIED", "NAME DATE", "SIZE")
		for _, f := range files {
			nameDate := "-"
			if t, ok := recording.ParseFilenameDate(f.Name, loc); ok {
				nameDate = t.Format("2006-01-02 15:04:05")
			}
			tbl.Row(f.Name, f.ModTime.Format("2006-01-02 15:04:05"), nameDate, ui.Bytes(f.Size))
		}
		tbl.Render(os.Stdout)
		fmt.Printf("\n%s files\n", ui.Count(len(files)))
		return nil
	},
}

var recordingsMatchCmd = &cobra.Command{
	Use:   "match <composite-id>",
	Short: "Show which recording a call would match, without saving",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		call, err := a.store.GetCall(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to load call %s: %w", args[0], err)
		}
		matcher, err := a.Matcher()
		if err != nil {
			return err
		}
		idx, err := a.Resolver().BuildIndex(ctx)
		if err != nil {
			return err
		}

		m, ok := matcher.Find(ctx, recording.Call{
			Date:        time.UnixMilli(call.CallDate),
			Duration:    time.Duration(call.Duration) * time.Second,
			Phone:       call.PhoneNumber,
			ContactName: call.ContactName,
		}, idx.Files())

		if jsonOutput {
			printJSON(map[string]interface{}{"found": ok, "match": m, "candidates": idx.Len()})
			return nil
		}
		if !ok {
			fmt.Printf("%s No recording matches %s (%d candidates)\n", ui.RenderWarn("⚠"), args[0], idx.Len())
			return nil
		}
		fmt.Printf("%s %s\n", ui.RenderPass("✓"), m.File.Path)
		fmt.Printf("   Score: %d, offset from call: %v\n", m.Score, m.Delta.Round(time.Second))
		return nil
	},
}

func init() {
	recordingsInfoCmd.Flags().Bool("candidates", false, "Also list every directory scanned, in order")
	recordingsVerifyCmd.Flags().Bool("undo", false, "Clear the verification")

	recordingsCmd.AddCommand(recordingsInfoCmd, recordingsRescanCmd, recordingsVerifyCmd, recordingsListCmd, recordingsMatchCmd)
	rootCmd.AddCommand(recordingsCmd)
}
