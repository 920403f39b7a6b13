package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/bridgecrew-perf6/tdp-lib/pkg/engine"
)

// printJSON renders v as indented JSON on w.
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTable returns a writer producing aligned columns on w. Callers
// must Flush it.
func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	return d.Round(10 * time.Millisecond).String()
}

// oneLine flattens s for table cells: newlines become spaces and long
// text is cut with an ellipsis.
func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > max {
		s = s[:max-3] + "..."
	}
	return s
}

// describeSelection renders a plan's origin for run headers.
func describeSelection(p *engine.Plan) string {
	return fmt.Sprintf("%s (%s over %s)", p.Action, p.Mode, p.Selection)
}

// summarizeCounts renders per-status step counts, omitting zero
// buckets, e.g. "8 succeeded, 2 skipped, 1 failed of 12".
func summarizeCounts(s engine.RunSummary) string {
	var parts []string
	add := func(n int, label string) {
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, label))
		}
	}
	add(s.Succeeded, "succeeded")
	add(s.Skipped, "skipped")
	add(s.Failed, "failed")
	add(s.Running, "running")
	add(s.Pending, "pending")
	if len(parts) == 0 {
		return fmt.Sprintf("0 of %d", s.Total)
	}
	return fmt.Sprintf("%s of %d", strings.Join(parts, ", "), s.Total)
}

// printRunHeader writes the run's identity block.
func printRunHeader(w io.Writer, run *engine.Run) {
	fmt.Fprintf(w, "run:      %s\n", run.ID)
	fmt.Fprintf(w, "created:  %s\n", formatTime(run.CreatedAt))
	fmt.Fprintf(w, "status:   %s\n", run.Status)
	fmt.Fprintf(w, "action:   %s\n", describeSelection(run.Plan))
	if run.ParentRunID != "" {
		fmt.Fprintf(w, "parent:   %s\n", run.ParentRunID)
	}
	fmt.Fprintf(w, "steps:    %s\n", summarizeCounts(run.Summary()))
}

// printRunSteps writes the per-step outcome table in plan order.
func printRunSteps(w io.Writer, run *engine.Run) {
	table := newTable(w)
	fmt.Fprintln(table, "NODE\tOPERATION\tSTATUS\tATTEMPTS\tDURATION\tDETAIL")
	for _, step := range run.Plan.Steps {
		rec := run.Record(step.NodeID)
		if rec == nil {
			fmt.Fprintf(table, "%s\t%s\t%s\t%s\t%s\t%s\n",
				step.NodeID, step.Operation, "pending", "-", "-", "")
			continue
		}
		status := string(rec.Status)
		if rec.Skipped() {
			status = "skipped"
		}
		fmt.Fprintf(table, "%s\t%s\t%s\t%d\t%s\t%s\n",
			step.NodeID, rec.Operation, status, rec.Attempts,
			formatDuration(rec.Duration()), oneLine(rec.Detail, 60))
	}
	table.Flush()
}

// printRunOutcome is the deploy/resume closing report: the summary on
// success, plus the first failure and the resume hint when the run did
// not finish clean.
func printRunOutcome(w io.Writer, run *engine.Run) {
	fmt.Fprintf(w, "run %s finished: %s (%s)\n", run.ID, run.Status, summarizeCounts(run.Summary()))
	if fail := run.FirstFailure(); fail != nil {
		fmt.Fprintf(w, "failed: %s after %d attempt(s): %s\n",
			fail.NodeID, fail.Attempts, oneLine(fail.Detail, 200))
	}
	if run.Status.IsResumable() {
		fmt.Fprintf(w, "resume with: tdp resume %s\n", run.ID)
	}
}
