package main

import (
	"encoding/csv"
	"fmt"
	"html/template"
	"os"
	"sort"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"
)

var reportOpen bool

var reportCmd = &cobra.Command{
	Use:   "report <trace.csv>",
	Short: "Render a static HTML summary of a finished CSV trace.",
	Args:  cobra.ExactArgs(1),
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().BoolVar(&reportOpen, "open", true, "open the rendered report in a browser")
}

// traceRow mirrors one row tracing.CSVTracer writes: id, parent_id,
// kind, what, where, start, end.
type traceRow struct {
	ID, ParentID, Kind, What, Where, Start, End string
}

// modelSummary is one row of the report's per-model breakdown.
type modelSummary struct {
	Where string
	Count int
}

func runReport(cmd *cobra.Command, args []string) error {
	rows, err := readTraceCSV(args[0])
	if err != nil {
		return err
	}

	summaries := summarizeByModel(rows)

	out, err := os.CreateTemp("", "quantactl-report-*.html")
	if err != nil {
		return fmt.Errorf("quantactl: create report file: %w", err)
	}
	defer out.Close()

	if err := reportTemplate.Execute(out, struct {
		Source    string
		TaskCount int
		ByModel   []modelSummary
		Rows      []traceRow
	}{
		Source:    args[0],
		TaskCount: len(rows),
		ByModel:   summaries,
		Rows:      rows,
	}); err != nil {
		return fmt.Errorf("quantactl: render report: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "report written to %s\n", out.Name())

	if reportOpen {
		if err := browser.OpenFile(out.Name()); err != nil {
			return fmt.Errorf("quantactl: open report: %w", err)
		}
	}

	return nil
}

func readTraceCSV(path string) ([]traceRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("quantactl: open trace: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("quantactl: parse trace: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	rows := make([]traceRow, 0, len(records)-1)
	for _, rec := range records[1:] { // skip header
		if len(rec) != 7 {
			continue
		}
		rows = append(rows, traceRow{
			ID: rec[0], ParentID: rec[1], Kind: rec[2], What: rec[3],
			Where: rec[4], Start: rec[5], End: rec[6],
		})
	}

	return rows, nil
}

func summarizeByModel(rows []traceRow) []modelSummary {
	counts := make(map[string]int)
	for _, row := range rows {
		counts[row.Where]++
	}

	summaries := make([]modelSummary, 0, len(counts))
	for where, count := range counts {
		summaries = append(summaries, modelSummary{Where: where, Count: count})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Where < summaries[j].Where })

	return summaries
}

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>quantactl trace report</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #ccc; padding: 4px 8px; text-align: left; }
th { background: #eee; }
</style>
</head>
<body>
<h1>Trace report</h1>
<p>Source: {{.Source}} &mdash; {{.TaskCount}} task(s)</p>

<h2>By model</h2>
<table>
<tr><th>Model</th><th>Dispatch count</th></tr>
{{range .ByModel}}<tr><td>{{.Where}}</td><td>{{.Count}}</td></tr>
{{end}}
</table>

<h2>Tasks</h2>
<table>
<tr><th>ID</th><th>Parent</th><th>Kind</th><th>What</th><th>Where</th><th>Start</th><th>End</th></tr>
{{range .Rows}}<tr><td>{{.ID}}</td><td>{{.ParentID}}</td><td>{{.Kind}}</td><td>{{.What}}</td><td>{{.Where}}</td><td>{{.Start}}</td><td>{{.End}}</td></tr>
{{end}}
</table>
</body>
</html>
`))
