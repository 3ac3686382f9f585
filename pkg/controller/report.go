package controller

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/term"
)

// report renders the per-project summary table.
func (c *Controller) report(outcomes []*outcome) {
	if c.opts.Output == nil || len(outcomes) == 0 {
		return
	}
	renderSummary(c.opts.Output, outcomes)
}

func renderSummary(w io.Writer, outcomes []*outcome) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	if isTerminal(w) {
		tw.SetStyle(table.StyleRounded)
	} else {
		tw.SetStyle(table.StyleLight)
	}
	tw.Style().Format.Footer = text.FormatDefault
	tw.AppendHeader(table.Row{"ID", "Project", "Status", "Duration", "Detail"})

	counts := map[string]int{}
	for _, out := range outcomes {
		status := out.status()
		counts[status]++
		tw.AppendRow(table.Row{
			out.project.ID,
			out.project.Slug,
			status,
			out.finished.Sub(out.started).Round(time.Millisecond),
			out.detail(),
		})
	}
	tw.AppendFooter(table.Row{"", "Total", len(outcomes), "",
		summaryLine(counts["succeeded"], counts["skipped"], counts["failed"])})
	tw.Render()
}

func summaryLine(succeeded, skipped, failed int) string {
	return fmt.Sprintf("%d succeeded, %d skipped, %d failed", succeeded, skipped, failed)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
