package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/andresmejia3/headpose/internal/report"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var plotPath string

var reportCmd = &cobra.Command{
	Use:   "report [session-id]",
	Short: "List recorded sessions or show one session's direction breakdown",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireDB(); err != nil {
			return err
		}
		ctx := cmd.Context()

		if len(args) == 0 {
			sessions, err := DB.ListSessions(ctx)
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}
			if len(sessions) == 0 {
				fmt.Println("No sessions recorded in database.")
				return nil
			}
			report.WriteSessions(os.Stdout, sessions)
			return nil
		}

		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid session id %q: %w", args[0], err)
		}
		sess, err := DB.GetSession(ctx, id)
		if err != nil {
			return err
		}
		counts, err := DB.DirectionSummary(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to summarise session: %w", err)
		}
		intervals, err := DB.SessionIntervals(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load intervals: %w", err)
		}

		fmt.Printf("Session %s\nSource  %s (%.2f fps)\n", sess.ID, sess.Source, sess.FPS)
		if !sess.StartedAt.IsZero() {
			fmt.Printf("Started %s\n", sess.StartedAt.Local().Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("Thresholds yaw [%.1f, %.1f] pitch [%.1f, %.1f]\n\n",
			sess.Thresholds.YawMin, sess.Thresholds.YawMax, sess.Thresholds.PitchMin, sess.Thresholds.PitchMax)
		report.WriteBreakdown(os.Stdout, counts)
		if len(intervals) > 0 {
			fmt.Println()
			report.WriteIntervals(os.Stdout, intervals)
		}

		if plotPath != "" {
			samples, err := DB.SessionSamples(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to load samples: %w", err)
			}
			title := fmt.Sprintf("Head pose - %s", filepath.Base(sess.Source))
			if err := report.PlotSeries(samples, sess.Thresholds, title, plotPath); err != nil {
				return err
			}
			fmt.Printf("\n📈 Plot written to %s\n", plotPath)
		}
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVarP(&plotPath, "plot", "p", "", "Write a pitch/yaw chart (png, svg, pdf) for the session")
	rootCmd.AddCommand(reportCmd)
}
