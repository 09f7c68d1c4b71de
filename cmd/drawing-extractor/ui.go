package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/spherical/drawing-extractor/internal/domain"
	"github.com/spherical/drawing-extractor/internal/record"
)

// UI provides user-facing output for the CLI.
type UI struct {
	out      io.Writer
	jsonMode bool
}

// NewUI creates a UI writing to out.
func NewUI(out io.Writer, jsonMode, disableColor bool) *UI {
	if disableColor || !isTerminal() {
		color.NoColor = true
	}
	return &UI{out: out, jsonMode: jsonMode}
}

// Success prints a success message.
func (ui *UI) Success(format string, args ...interface{}) {
	if ui.jsonMode {
		return
	}
	color.New(color.FgGreen).Fprintf(ui.out, "✓ %s\n", fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (ui *UI) Warning(format string, args ...interface{}) {
	if ui.jsonMode {
		return
	}
	color.New(color.FgYellow).Fprintf(os.Stderr, "⚠ %s\n", fmt.Sprintf(format, args...))
}

// Info prints an informational message.
func (ui *UI) Info(format string, args ...interface{}) {
	if ui.jsonMode {
		return
	}
	fmt.Fprintf(ui.out, "%s\n", fmt.Sprintf(format, args...))
}

// NewProgress returns a bar counting finished units, or nil in JSON mode.
func (ui *UI) NewProgress(total int) *progressbar.ProgressBar {
	if ui.jsonMode || total == 0 {
		return nil
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Processing drawings"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Table prints the processing history.
func (ui *UI) Table(rows []record.Row, summary domain.BatchSummary) error {
	if ui.jsonMode {
		enc := json.NewEncoder(ui.out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"summary": summary, "units": rows})
	}

	tw := tabwriter.NewWriter(ui.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "UNIT\tSOURCE\tPAGE\tTYPE\tDRAWING NO.\tSTATUS\tFIELDS\tCONFIDENCE")
	for _, r := range rows {
		page := "-"
		if r.Page > 0 {
			page = fmt.Sprint(r.Page)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.UnitID, r.Source, page, r.DrawingType, orDash(r.DrawingNumber),
			statusColor(r.Status).Sprint(r.Status), r.ExtractedFields, r.Confidence)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(ui.out, strings.Repeat("─", 60))
	fmt.Fprintf(ui.out, "%d units: %s, %s, %s, %s (%s)\n",
		summary.Total,
		color.GreenString("%d completed", summary.Completed),
		color.YellowString("%d need review", summary.NeedsReview),
		color.RedString("%d failed", summary.Failed),
		color.HiBlackString("%d not supported", summary.NotSupported),
		summary.Duration.Round(time.Millisecond))

	for _, r := range rows {
		if r.Diagnostic != "" {
			ui.Warning("unit %d (%s): %s", r.UnitID, r.Source, r.Diagnostic)
		}
	}
	return nil
}

func statusColor(status string) *color.Color {
	switch domain.Status(status) {
	case domain.StatusCompleted:
		return color.New(color.FgGreen)
	case domain.StatusNeedsReview:
		return color.New(color.FgYellow)
	case domain.StatusFailed:
		return color.New(color.FgRed)
	case domain.StatusNotSupported:
		return color.New(color.FgHiBlack)
	default:
		return color.New(color.Reset)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// isTerminal checks if stdout is a terminal.
func isTerminal() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}
