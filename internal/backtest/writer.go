package backtest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"

	"github.com/sawpanic/changecast/internal/evaluation"
)

// Artifact file names inside a run directory.
const (
	ResultsFile  = "results.jsonl"
	ReportFile   = "report.md"
	SummaryFile  = "summary.json"
	WorkbookFile = "report.xlsx"
)

// Writer handles writing backtest artifacts to disk
type Writer struct {
	outputDir string
}

// NewWriter creates a writer for <outputDir>/<date>/<runID>.
func NewWriter(outputDir, runID string, date time.Time) *Writer {
	return &Writer{
		outputDir: filepath.Join(outputDir, date.Format("2006-01-02"), runID),
	}
}

// GetOutputDir returns the full output directory path
func (w *Writer) GetOutputDir() string {
	return w.outputDir
}

// GetArtifactPaths returns the paths of all generated artifacts
func (w *Writer) GetArtifactPaths() *ArtifactPaths {
	return &ArtifactPaths{
		ResultsJSONL: filepath.Join(w.outputDir, ResultsFile),
		ReportMD:     filepath.Join(w.outputDir, ReportFile),
		SummaryJSON:  filepath.Join(w.outputDir, SummaryFile),
		Workbook:     filepath.Join(w.outputDir, WorkbookFile),
		OutputDir:    w.outputDir,
	}
}

// WriteAll writes every artifact. Results and report are required; summary
// and workbook failures are logged and skipped.
func (w *Writer) WriteAll(results *Results) (*ArtifactPaths, error) {
	if err := w.WriteResults(results); err != nil {
		return nil, fmt.Errorf("failed to write results: %w", err)
	}
	if err := w.WriteReport(results); err != nil {
		return nil, fmt.Errorf("failed to write report: %w", err)
	}
	if err := w.WriteSummaryJSON(results); err != nil {
		log.Warn().Err(err).Msg("Failed to write summary")
	}
	if err := w.WriteWorkbook(results); err != nil {
		log.Warn().Err(err).Msg("Failed to write workbook")
	}
	return w.GetArtifactPaths(), nil
}

// resultLine is one record of results.jsonl.
type resultLine struct {
	Type     string                   `json:"type"`
	Horizon  *evaluation.HorizonStats `json:"horizon,omitempty"`
	Bucket   *evaluation.BucketStats  `json:"bucket,omitempty"`
	Series   *evaluation.Series       `json:"series,omitempty"`
	Estimate *Estimate                `json:"estimate,omitempty"`
	Summary  *Results                 `json:"summary,omitempty"`
}

// WriteResults writes the results to JSONL format
func (w *Writer) WriteResults(results *Results) error {
	if err := os.MkdirAll(w.outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	file, err := os.Create(filepath.Join(w.outputDir, ResultsFile))
	if err != nil {
		return fmt.Errorf("failed to create results file: %w", err)
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	var lines []resultLine
	for i := range results.Horizons {
		lines = append(lines, resultLine{Type: "horizon", Horizon: &results.Horizons[i]})
	}
	for i := range results.Buckets {
		lines = append(lines, resultLine{Type: "bucket", Bucket: &results.Buckets[i]})
	}
	for i := range results.OverTime {
		lines = append(lines, resultLine{Type: "over_time", Series: &results.OverTime[i]})
	}
	for i := range results.Estimates {
		lines = append(lines, resultLine{Type: "estimate", Estimate: &results.Estimates[i]})
	}
	// summary as final line
	lines = append(lines, resultLine{Type: "summary", Summary: results})

	for _, line := range lines {
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("failed to write %s line: %w", line.Type, err)
		}
	}
	return nil
}

// WriteReport writes a markdown report
func (w *Writer) WriteReport(results *Results) error {
	if err := os.MkdirAll(w.outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	report := w.generateMarkdownReport(results)
	if err := os.WriteFile(filepath.Join(w.outputDir, ReportFile), []byte(report), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func (w *Writer) generateMarkdownReport(results *Results) string {
	var report strings.Builder
	cfg := results.Config

	report.WriteString("# Change Prediction Backtest Report\n\n")
	report.WriteString(fmt.Sprintf("**Run**: `%s`\n", results.RunID))
	report.WriteString(fmt.Sprintf("**Predictor**: %s\n", results.Predictor))
	report.WriteString(fmt.Sprintf("**Test window**: %s to %s (%d days)\n",
		cfg.TestStartDay().Format("2006-01-02"), cfg.TestEnd().AddDate(0, 0, -1).Format("2006-01-02"), cfg.TestDuration))
	report.WriteString(fmt.Sprintf("**Group key**: %s\n", strings.Join(cfg.KeyColumns, ", ")))
	report.WriteString(fmt.Sprintf("**Runtime**: %v\n\n", results.Duration().Round(time.Millisecond)))

	report.WriteString("## Summary\n\n")
	report.WriteString(fmt.Sprintf("- **Keys**: %d replayed of %d\n", results.ReplayedKeys, results.TotalKeys))
	report.WriteString(fmt.Sprintf("- **Training events**: %d\n", results.TrainEvents))
	report.WriteString(fmt.Sprintf("- **Test window events**: %d\n\n", results.TestEvents))

	report.WriteString("## Horizons\n\n")
	report.WriteString("| Horizon | Precision | Recall | F1 | Support | Precision (no change) | Recall (no change) | Changes of Data | Changes of Pred |\n")
	report.WriteString("|---------|----------:|-------:|---:|--------:|----------------------:|-------------------:|----------------:|----------------:|\n")
	for _, h := range results.Horizons {
		report.WriteString(fmt.Sprintf("| %s | %.4f | %.4f | %.4f | %d | %.4f | %.4f | %.4f%% | %.4f%% |\n",
			h.Horizon.Label, h.Positive.Precision, h.Positive.Recall, h.Positive.F1, h.Positive.Support,
			h.Negative.Precision, h.Negative.Recall, h.PercentChanges*100, h.PercentPredicted*100))
	}
	report.WriteString("\n")

	if len(results.Buckets) > 0 {
		report.WriteString("## By Training Activity\n\n")
		report.WriteString("| Activity | Keys | Horizon | Precision | Recall |\n")
		report.WriteString("|----------|-----:|---------|----------:|-------:|\n")
		for _, b := range results.Buckets {
			for _, h := range b.Horizons {
				report.WriteString(fmt.Sprintf("| %d-%d | %d | %s | %.4f | %.4f |\n",
					b.Low, b.High, b.Keys, h.Horizon.Label, h.Positive.Precision, h.Positive.Recall))
			}
		}
		report.WriteString("\n")
	}

	if len(results.Estimates) > 0 {
		report.WriteString("## Running Estimates\n\n")
		for _, est := range results.Estimates {
			report.WriteString(fmt.Sprintf("- %d/%d keys:", est.Completed, est.Total))
			for _, h := range est.Horizons {
				report.WriteString(fmt.Sprintf(" %s p=%.3f r=%.3f;", h.Horizon.Label, h.Positive.Precision, h.Positive.Recall))
			}
			report.WriteString("\n")
		}
		report.WriteString("\n")
	}

	paths := w.GetArtifactPaths()
	report.WriteString("## Artifact Paths\n\n")
	report.WriteString(fmt.Sprintf("- **Results JSONL**: `%s`\n", paths.ResultsJSONL))
	report.WriteString(fmt.Sprintf("- **Report Markdown**: `%s`\n", paths.ReportMD))
	report.WriteString(fmt.Sprintf("- **Workbook**: `%s`\n", paths.Workbook))
	report.WriteString(fmt.Sprintf("- **Output Directory**: `%s`\n", paths.OutputDir))

	return report.String()
}

// Summary is the compact content of summary.json.
type Summary struct {
	RunID     string                    `json:"run_id"`
	Predictor string                    `json:"predictor"`
	Timestamp time.Time                 `json:"timestamp"`
	Period    string                    `json:"period"`
	Keys      int                       `json:"keys"`
	Horizons  []evaluation.HorizonStats `json:"horizons"`
	Artifacts *ArtifactPaths            `json:"artifacts"`
}

// NewSummary builds the compact summary of results.
func (w *Writer) NewSummary(results *Results) *Summary {
	return &Summary{
		RunID:     results.RunID,
		Predictor: results.Predictor,
		Timestamp: results.EndTime,
		Period: fmt.Sprintf("%s to %s",
			results.Config.TestStartDay().Format("2006-01-02"), results.Config.TestEnd().Format("2006-01-02")),
		Keys:      results.ReplayedKeys,
		Horizons:  results.Horizons,
		Artifacts: w.GetArtifactPaths(),
	}
}

// WriteSummaryJSON writes a compact summary JSON file
func (w *Writer) WriteSummaryJSON(results *Results) error {
	file, err := os.Create(filepath.Join(w.outputDir, SummaryFile))
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(w.NewSummary(results)); err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	return nil
}

// ReadSummary loads a summary.json written by WriteSummaryJSON.
func ReadSummary(path string) (*Summary, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read summary: %w", err)
	}
	var s Summary
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("failed to decode summary %s: %w", path, err)
	}
	return &s, nil
}

// FindLatestSummary returns the most recently written summary.json below
// outputDir, following the <date>/<run> layout of NewWriter.
func FindLatestSummary(outputDir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(outputDir, "*", "*", SummaryFile))
	if err != nil {
		return "", err
	}
	var latest string
	var latestMod time.Time
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if latest == "" || info.ModTime().After(latestMod) {
			latest, latestMod = m, info.ModTime()
		}
	}
	if latest == "" {
		return "", fmt.Errorf("no %s found under %s", SummaryFile, outputDir)
	}
	return latest, nil
}

// Workbook sheet names.
const (
	SheetHorizons = "Horizons"
	SheetBuckets  = "Activity"
	SheetOverTime = "OverTime"
)

// WriteWorkbook writes the horizon, activity and over-time tables to report.xlsx.
func (w *Writer) WriteWorkbook(results *Results) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetHorizons); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	rows := [][]interface{}{{"horizon", "days", "precision", "recall", "f1", "support",
		"precision_no_change", "recall_no_change", "percent_changes", "percent_predicted"}}
	for _, h := range results.Horizons {
		rows = append(rows, []interface{}{h.Horizon.Label, h.Horizon.Days, h.Positive.Precision,
			h.Positive.Recall, h.Positive.F1, h.Positive.Support, h.Negative.Precision,
			h.Negative.Recall, h.PercentChanges, h.PercentPredicted})
	}
	if err := writeRows(f, SheetHorizons, rows); err != nil {
		return err
	}

	rows = [][]interface{}{{"low", "high", "keys", "horizon", "precision", "recall", "f1"}}
	for _, b := range results.Buckets {
		for _, h := range b.Horizons {
			rows = append(rows, []interface{}{b.Low, b.High, b.Keys, h.Horizon.Label,
				h.Positive.Precision, h.Positive.Recall, h.Positive.F1})
		}
	}
	if err := writeSheet(f, SheetBuckets, rows); err != nil {
		return err
	}

	rows = [][]interface{}{{"horizon", "bucket", "precision", "recall"}}
	for _, s := range results.OverTime {
		for i := range s.Precision {
			rows = append(rows, []interface{}{s.Horizon.Label, i, s.Precision[i], s.Recall[i]})
		}
	}
	if err := writeSheet(f, SheetOverTime, rows); err != nil {
		return err
	}

	if err := os.MkdirAll(w.outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := f.SaveAs(filepath.Join(w.outputDir, WorkbookFile)); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, rows [][]interface{}) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("failed to create sheet %s: %w", sheet, err)
	}
	return writeRows(f, sheet, rows)
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		row := row
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
