package framework

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Truncate(time.Millisecond).String()
}

// PrintResults writes a summary table of a run, followed by a list of failures and of any
// sessions that may have been left allocated at the provider.
func PrintResults(w io.Writer, results Results, colored bool) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Environment", "Session", "Duration", "Result", "Detail"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Environment", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Detail", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, p := range results.Pipelines {
		result := "PASS"
		if !p.Succeeded() {
			result = fmt.Sprintf("FAIL (%s)", p.FailedAt)
		}
		session := p.SessionID
		if session == "" {
			session = "-"
		}
		t.AppendRow(table.Row{p.Environment.ID(), session, formatDuration(p.Duration), result, p.Detail()})
	}
	for _, env := range results.Skipped {
		t.AppendRow(table.Row{env.ID(), "-", "-", "SKIP", ""})
	}

	overall := "PASS"
	switch {
	case !results.OK():
		overall = "FAIL"
	case len(results.Skipped) > 0:
		overall = "SKIP"
	}
	t.AppendFooter(table.Row{
		"TOTAL",
		"",
		"",
		overall,
		fmt.Sprintf("%d passed, %d failed, %d skipped",
			len(results.Pipelines)-len(results.Failures), len(results.Failures), len(results.Skipped)),
	})

	switch {
	case !colored:
		t.SetStyle(table.StyleLight)
	case !results.OK():
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	case len(results.Skipped) > 0:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	}
	t.Render()
	fmt.Fprintln(w)

	if results.OK() {
		fmt.Fprintln(w, "All pipelines passed")
	} else {
		fmt.Fprintf(w, "FAILED PIPELINES (%d):\n", len(results.Failures))
		for _, f := range results.Failures {
			if f.Label != "" {
				fmt.Fprintf(w, "  * %s (%s)\n", f.Environment.ID(), f.Label)
			} else {
				fmt.Fprintf(w, "  * %s\n", f.Environment.ID())
			}
			for _, line := range strings.Split(f.Detail(), "\n") {
				fmt.Fprintf(w, "      %s\n", line)
			}
		}
	}

	if leaked := results.LeakedSessions(); len(leaked) > 0 {
		fmt.Fprintf(w, "\nWARNING: %d session(s) could not be released and may still be running at the provider:\n", len(leaked))
		for _, id := range leaked {
			fmt.Fprintf(w, "  * %s\n", id)
		}
	}
}
