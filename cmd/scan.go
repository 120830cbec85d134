package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/andresmejia3/headpose/internal/logging"
	"github.com/andresmejia3/headpose/internal/report"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var scanOpts Options

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Estimate head pose over a whole video without a preview",
	Long:  "Processes every frame headlessly with a progress bar, optionally writes the annotated video and records the run when a database is configured.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd, scanOpts)
		if err != nil {
			return err
		}

		// Record by default whenever a database is available.
		if !cmd.Flags().Changed("record") {
			cfg.Record = DB != nil
		} else if cfg.Record {
			if err := requireDB(); err != nil {
				return err
			}
		}
		if !cfg.Record {
			logging.Debug(nil, "recording disabled")
		}

		res, err := execute(cmd.Context(), cfg, modeScan)
		if err != nil {
			return err
		}
		printScanSummary(os.Stderr, res)
		return nil
	},
}

func init() {
	addRunFlags(scanCmd, &scanOpts)
	scanCmd.Flags().BoolVar(&scanOpts.Record, "record", true, "Persist samples and direction intervals (requires a database)")
	rootCmd.AddCommand(scanCmd)
}

func printScanSummary(w io.Writer, res runResult) {
	fmt.Fprintf(w, "\n---------------------------------------------------------\n")
	fmt.Fprintf(w, "📊 SCAN SUMMARY\n")
	fmt.Fprintf(w, "---------------------------------------------------------\n")

	if len(res.Intervals) == 0 {
		fmt.Fprintf(w, "\nNo direction intervals found.\n")
	} else {
		fmt.Fprintf(w, "\n🧭 Time per direction:\n")
		report.WriteTotals(w, res.Intervals)
		fmt.Fprintf(w, "\n")
		report.WriteIntervals(w, res.Intervals)
	}

	fmt.Fprintf(w, "\n---------------------------------------------------------\n")
	fmt.Fprintf(w, "🎞️  Frames Processed:        %d\n", res.Stats.Frames)
	fmt.Fprintf(w, "👤 Frames With Head Pose:   %d\n", res.Stats.FacesFound)
	if d := res.Info.Duration(); d > 0 {
		fmt.Fprintf(w, "⏳ Video Length:            %s\n", d.Round(time.Second))
	}
	fmt.Fprintf(w, "⏱️  Processing Time:         %s\n", res.Stats.Duration.Round(time.Millisecond))
	if res.Stats.Stopped {
		fmt.Fprintf(w, "⏹️  Stopped early\n")
	}
	if res.SessionID != uuid.Nil {
		fmt.Fprintf(w, "💾 Session:                 %s\n", res.SessionID)
		fmt.Fprintf(w, "🗂️  Samples Recorded:        %d\n", res.Samples)
	}
	fmt.Fprintf(w, "---------------------------------------------------------\n")
}
