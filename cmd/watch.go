package cmd

import (
	"fmt"
	"os"

	"github.com/andresmejia3/headpose/internal/report"
	"github.com/spf13/cobra"
)

var watchOpts Options

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Estimate head pose with a live preview window",
	Long:  "Plays a video (or camera) with the head pose overlay drawn on every frame. Press 's' or ESC to stop.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd, watchOpts)
		if err != nil {
			return err
		}
		if cfg.Record {
			if err := requireDB(); err != nil {
				return err
			}
		}

		res, err := execute(cmd.Context(), cfg, modeWatch)
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stderr, "\n🏁 Watched %d frames, head pose found in %d.\n", res.Stats.Frames, res.Stats.FacesFound)
		if len(res.Intervals) > 0 {
			report.WriteTotals(os.Stderr, res.Intervals)
		}
		return nil
	},
}

func init() {
	addRunFlags(watchCmd, &watchOpts)
	watchCmd.Flags().BoolVar(&watchOpts.Record, "record", false, "Persist samples and direction intervals to the database")
	rootCmd.AddCommand(watchCmd)
}
