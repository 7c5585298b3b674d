package report

import (
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/docker/go-units"
	"github.com/fatih/color"
)

var countSuffixes = []string{"", "k", "M", "G", "T"}

// HumanCount renders a row count with a decimal suffix, e.g. 12.5k.
func HumanCount(n int64) string {
	return units.CustomSize("%.4g%s", float64(n), 1000.0, countSuffixes)
}

// HumanMS renders a millisecond figure.
func HumanMS(ms float64) string {
	if ms >= 1000 {
		return fmt.Sprintf("%.2fs", ms/1000)
	}

	return fmt.Sprintf("%.1fms", ms)
}

// RatioLabel describes an entry's ratio for humans.
func RatioLabel(e Entry) string {
	switch e.Classification {
	case ClassBaseline:
		return "baseline"
	case ClassAbsolute:
		return "no baseline"
	case ClassRegression:
		if e.Ratio != nil && *e.Ratio > 0 {
			return fmt.Sprintf("%.1fx slower", 1 / *e.Ratio)
		}

		return "slower"
	case ClassNeutral:
		return fmt.Sprintf("%.2fx (neutral)", *e.Ratio)
	default:
		if e.Band == BandDramatic {
			return fmt.Sprintf("%.0fx faster (%s)", *e.Ratio, e.Band)
		}

		return fmt.Sprintf("%.1fx faster (%s)", *e.Ratio, e.Band)
	}
}

// Console writes a colored, human-readable report.
type Console struct {
	w io.Writer

	header  *color.Color
	good    *color.Color
	bad     *color.Color
	neutral *color.Color
	muted   *color.Color
}

// NewConsole creates a console renderer writing to w. Colors follow the
// fatih/color defaults, which disable them when w is not a terminal.
func NewConsole(w io.Writer) *Console {
	return &Console{
		w:       w,
		header:  color.New(color.FgCyan, color.Bold),
		good:    color.New(color.FgGreen),
		bad:     color.New(color.FgRed),
		neutral: color.New(color.FgYellow),
		muted:   color.New(color.FgHiBlack),
	}
}

// Render writes rep.
func (c *Console) Render(rep *Report) {
	c.header.Fprintf(c.w, "Session %s (%s)\n", rep.SessionID, rep.Status)
	fmt.Fprintf(c.w, "Duration: %s  Cells: %d  Measured: %d  Unmeasured: %d  Failed: %d  Warnings: %d\n",
		humanDuration(rep.Duration),
		rep.Totals.Cells,
		rep.Totals.Measured,
		rep.Totals.Unmeasured,
		rep.Totals.Failed,
		rep.Warnings,
	)

	for _, q := range rep.Queries {
		fmt.Fprintln(c.w)
		c.header.Fprintf(c.w, "%s", q.QueryID)

		if q.QueryLabel != "" {
			fmt.Fprintf(c.w, " - %s", q.QueryLabel)
		}

		fmt.Fprintln(c.w)
		fmt.Fprintln(c.w, strings.Repeat("-", 72))

		if len(q.Ranked) == 0 {
			c.muted.Fprintln(c.w, "  no measured results")
		}

		for _, e := range q.Ranked {
			rows := "n/a"
			if e.RowsExamined != nil {
				rows = HumanCount(*e.RowsExamined)
			}

			line := fmt.Sprintf("  %-32s %10s  rows %-8s  ", truncate(e.StrategyID, 32), HumanMS(e.ElapsedMS), rows)
			fmt.Fprint(c.w, line)
			c.colorFor(e).Fprintln(c.w, RatioLabel(e))
		}

		for _, i := range q.Unmeasured {
			c.neutral.Fprintf(c.w, "  %-32s unmeasured: %s\n", truncate(i.StrategyID, 32), i.Error)
		}

		for _, i := range q.Failed {
			c.bad.Fprintf(c.w, "  %-32s failed: %s\n", truncate(i.StrategyID, 32), i.Error)
		}
	}
}

func (c *Console) colorFor(e Entry) *color.Color {
	switch e.Classification {
	case ClassImprovement:
		return c.good
	case ClassRegression:
		return c.bad
	case ClassNeutral:
		return c.neutral
	default:
		return c.muted
	}
}

func humanDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}

	return units.HumanDuration(d)
}

// truncate shortens s to at most n runes, marking the cut with a tilde.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}

	r := []rune(s)

	return string(r[:n-1]) + "~"
}
