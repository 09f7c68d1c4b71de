package main

import (
	"bytes"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spherical/drawing-extractor/internal/domain"
	"github.com/spherical/drawing-extractor/internal/export"
	"github.com/spherical/drawing-extractor/internal/ingest"
)

var (
	outputDir    string
	exportFormat string
	workers      int
)

var extractCmd = &cobra.Command{
	Use:   "extract [files...]",
	Short: "Classify and extract parameters from drawing files",
	Long: `Extract processes PDF and image files. Every PDF page becomes its own unit.
Units are classified, extracted with the matching field schema and scored.

The processing history and one parameter sheet per extracted unit are
written to the output directory.`,
	Example: `  drawing-extractor extract drawings/*.pdf -o out
  drawing-extractor extract valve.png --format xlsx --workers 2`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringVarP(&outputDir, "output", "o", "", "directory for exported sheets (default: no export)")
	extractCmd.Flags().StringVar(&exportFormat, "format", "csv", "export format: csv or xlsx")
	extractCmd.Flags().IntVarP(&workers, "workers", "w", 0, "concurrent units (default from config)")
}

func runExtract(cmd *cobra.Command, args []string) error {
	format, err := export.ParseFormat(exportFormat)
	if err != nil {
		return err
	}

	// Keep logs out of the progress bar unless asked for.
	a, err := buildApp(appOptions{LogLevel: "warn", Workers: workers})
	if err != nil {
		return err
	}
	defer a.shutdown()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ui := NewUI(cmd.OutOrStdout(), jsonMode, noColor)

	uploads := readUploads(ui, args)
	units, ingestErrs := a.session.Ingest(ctx, uploads)
	for _, e := range ingestErrs {
		ui.Warning("%s", e.Error())
	}
	if len(units) == 0 {
		return fmt.Errorf("no drawings to process")
	}
	ui.Info("Processing %d units from %d files", len(units), len(uploads))

	bar := ui.NewProgress(len(units))
	events := make(chan domain.StreamEvent, 100)
	done := make(chan domain.BatchSummary, 1)
	go func() {
		done <- a.session.Process(ctx, units, events)
		close(events)
	}()

	for ev := range events {
		switch ev.Type {
		case domain.EventUnitComplete:
			if bar != nil {
				_ = bar.Add(1)
			}
		case domain.EventError:
			if verbose {
				ui.Warning("unit %d: %v", ev.UnitID, ev.Payload)
			}
		}
	}
	summary := <-done
	if bar != nil {
		_ = bar.Finish()
	}

	if ctx.Err() != nil {
		ui.Warning("Interrupted: units not yet dispatched were marked failed")
	}

	rows := a.session.Table().Rows()
	if err := ui.Table(rows, summary); err != nil {
		return err
	}

	if outputDir != "" {
		if err := writeExports(ui, a, outputDir, format); err != nil {
			return err
		}
	}
	return nil
}

// readUploads loads every path, skipping unreadable or unrecognized files.
func readUploads(ui *UI, paths []string) []ingest.Upload {
	uploads := make([]ingest.Upload, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			ui.Warning("skipping %s: %v", p, err)
			continue
		}
		kind, err := ingest.DetectKind(p, data)
		if err != nil {
			ui.Warning("skipping %s: %v", p, err)
			continue
		}
		uploads = append(uploads, ingest.Upload{Name: filepath.Base(p), Kind: kind, Data: data})
	}
	return uploads
}

// writeExports writes the history table and one sheet per unit that has fields.
func writeExports(ui *UI, a *app, dir string, format export.Format) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.IOError("create output directory", err)
	}

	var buf bytes.Buffer
	if err := export.Table(&buf, a.session.Table().Rows(), format); err != nil {
		return err
	}
	historyPath := filepath.Join(dir, "processing-history."+string(format))
	if err := os.WriteFile(historyPath, buf.Bytes(), 0o644); err != nil {
		return domain.IOError("write history", err)
	}
	ui.Success("Wrote %s", historyPath)

	for _, rec := range a.session.Table().Snapshot() {
		if rec.Extraction == nil {
			continue
		}
		buf.Reset()
		if err := export.Unit(&buf, rec, format); err != nil {
			return err
		}
		base := "unit"
		if rec.Unit != nil {
			base = strings.TrimSuffix(rec.Unit.SourceName, filepath.Ext(rec.Unit.SourceName))
		}
		name := fmt.Sprintf("%03d-%s-%s.%s", rec.UnitID, base, strings.ToLower(string(rec.ComponentType)), format)
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			return domain.IOError("write unit sheet", err)
		}
		a.logger.Debug().Int("unit_id", rec.UnitID).Str("path", path).Msg("Unit exported")
	}
	ui.Success("Wrote parameter sheets to %s", dir)
	return nil
}
