package report

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/andresmejia3/headpose/internal/store"
	"github.com/andresmejia3/headpose/internal/timeline"
	"github.com/andresmejia3/headpose/internal/types"
)

// FmtTime formats stream seconds as HH:MM:SS.
func FmtTime(seconds float64) string {
	duration := time.Duration(seconds * float64(time.Second))
	h := int(duration.Hours())
	m := int(duration.Minutes()) % 60
	s := int(duration.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// WriteSessions prints the session list.
func WriteSessions(out io.Writer, sessions []store.SessionInfo) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "SESSION\tSOURCE\tFPS\tSAMPLES\tINTERVALS\tRECORDED")
	fmt.Fprintln(w, "-------\t------\t---\t-------\t---------\t--------")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%d\t%d\t%s\n",
			s.ID, s.Source, s.FPS, s.Samples, s.Intervals, s.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}

// WriteBreakdown prints per-direction sample counts with their share of posed frames.
func WriteBreakdown(out io.Writer, counts []store.DirectionCount) {
	total := 0
	for _, c := range counts {
		total += c.Samples
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "DIRECTION\tFRAMES\tSHARE\tMEAN PITCH\tMEAN YAW")
	fmt.Fprintln(w, "---------\t------\t-----\t----------\t--------")
	for _, c := range counts {
		share := 0.0
		if total > 0 {
			share = 100 * float64(c.Samples) / float64(total)
		}
		fmt.Fprintf(w, "%s\t%d\t%.1f%%\t%.2f\t%.2f\n", c.Direction, c.Samples, share, c.MeanPitch, c.MeanYaw)
	}
	w.Flush()
}

// WriteIntervals prints intervals as time ranges.
func WriteIntervals(out io.Writer, intervals []timeline.Interval) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "DIRECTION\tFROM\tTO\tFRAMES")
	fmt.Fprintln(w, "---------\t----\t--\t------")
	for _, iv := range intervals {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", iv.Direction, FmtTime(iv.Start), FmtTime(iv.End), iv.Frames)
	}
	w.Flush()
}

// WriteTotals prints the time spent per direction, in a fixed direction order.
func WriteTotals(out io.Writer, intervals []timeline.Interval) {
	totals := timeline.Totals(intervals)
	for _, d := range []types.Direction{
		types.DirectionForward, types.DirectionLeft, types.DirectionRight, types.DirectionUp, types.DirectionDown,
	} {
		if secs, ok := totals[d]; ok {
			fmt.Fprintf(out, "   %-14s %s\n", d, FmtTime(secs))
		}
	}
}
