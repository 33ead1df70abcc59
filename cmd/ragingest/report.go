package main

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dgallion1/ragingest/internal/pipeline"
	"github.com/dgallion1/ragingest/internal/stats"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("39")).
			Padding(0, 1)
)

// maxReportErrors caps the error lines printed under the summary box.
const maxReportErrors = 10

// FormatReport renders the run summary box followed by any recorded errors.
func FormatReport(w io.Writer, sourceDir, sinkKind string, r pipeline.Report, s stats.Snapshot, runErr error) {
	var status string
	switch {
	case runErr != nil:
		status = errorStyle.Render("FAILED")
	case r.Failed():
		status = errorStyle.Render("PARTIAL")
	default:
		status = successStyle.Render("OK")
	}

	line1 := fmt.Sprintf("%s %s  %s %s",
		dimStyle.Render("Source:"), sourceDir,
		dimStyle.Render("Sink:"), sinkKind,
	)
	line2 := fmt.Sprintf("%s %d listed, %d parsed, %s",
		dimStyle.Render("Files:"), r.FilesListed, r.FilesParsed, failCount(r.FilesFailed),
	)
	line3 := fmt.Sprintf("%s %d parsed %s %d emitted, %d delivered  %s %d",
		dimStyle.Render("Fragments:"), r.FragmentsParsed, dimStyle.Render("->"),
		r.FragmentsEmitted, r.FragmentsDelivered,
		dimStyle.Render("Missing parents:"), r.MissingParents,
	)
	line4 := fmt.Sprintf("%s %d produced, %d delivered, %s, %d dropped",
		dimStyle.Render("Batches:"), r.BatchesProduced, r.BatchesDelivered, failCount(r.BatchesFailed),
		r.BatchesDropped,
	)
	line5 := fmt.Sprintf("%s %s  %s p50 %.0fms p95 %.0fms  %s",
		dimStyle.Render("Duration:"), r.Duration.Round(time.Millisecond),
		dimStyle.Render("Insert:"), s.P50Ms, s.P95Ms,
		status,
	)

	content := titleStyle.Render("Ingest Complete") + "\n" +
		line1 + "\n" + line2 + "\n" + line3 + "\n" + line4 + "\n" + line5
	fmt.Fprintln(w, boxStyle.Render(content))

	if runErr != nil {
		fmt.Fprintln(w, errorStyle.Render("error: ")+runErr.Error())
	}
	for i, e := range r.Errors {
		if i == maxReportErrors {
			fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("... %d more", len(r.Errors)-maxReportErrors)))
			break
		}
		fmt.Fprintln(w, errorStyle.Render("• ")+e)
	}
}

func failCount(n int) string {
	s := fmt.Sprintf("%d failed", n)
	if n > 0 {
		return errorStyle.Render(s)
	}
	return s
}
