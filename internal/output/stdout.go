package output

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/mpreach/mpreach/internal/config"
	"github.com/mpreach/mpreach/internal/types"
	"github.com/mpreach/mpreach/internal/utils"
	"github.com/olekukonko/tablewriter"
)

// StdoutWriter prints a table of the listing outcomes and the summary.
type StdoutWriter struct {
	out    io.Writer
	logger *slog.Logger
}

// NewStdoutWriter returns a new StdoutWriter
func NewStdoutWriter(wc *config.WriterConfig) *StdoutWriter {
	return &StdoutWriter{
		out:    os.Stdout,
		logger: slog.With(slog.String("writer", string(STDOUT_WRITER_TYPE))),
	}
}

func (w *StdoutWriter) Write(report *types.RunReport) error {
	w.logger.Info(fmt.Sprintf("printing summary of run %s", report.RunID))
	if report.Discovery != "" {
		fmt.Fprintf(w.out, "%s\n", report.Discovery)
	}

	table := tablewriter.NewWriter(w.out)
	table.SetHeader([]string{"#", "Listing", "Title", "Result", "Reason"})
	table.SetAutoWrapText(false)
	for _, o := range report.Outcomes {
		row := []string{
			strconv.Itoa(o.Index),
			o.URL,
			utils.ShortenString(o.Title, 40),
			string(o.Result),
			utils.ShortenString(o.Reason, 60),
		}
		switch o.Result {
		case types.ResultFailed:
			table.Rich(row, rowColors(len(row), tablewriter.FgRedColor))
		case types.ResultSent, types.ResultMatched:
			table.Rich(row, rowColors(len(row), tablewriter.FgGreenColor))
		default:
			table.Append(row)
		}
	}
	s := report.Summary
	table.SetFooter([]string{
		"",
		fmt.Sprintf("attempted %d", s.Attempted),
		fmt.Sprintf("matched %d", s.Matched),
		fmt.Sprintf("sent %d", s.Sent),
		fmt.Sprintf("skipped %d, failed %d", s.Skipped, s.Failed),
	})
	table.SetColumnAlignment([]int{tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT})
	table.SetBorder(false)
	table.Render()
	return nil
}

func rowColors(n int, color int) []tablewriter.Colors {
	colors := make([]tablewriter.Colors, n)
	for i := range colors {
		colors[i] = tablewriter.Colors{tablewriter.Normal, color}
	}
	return colors
}
