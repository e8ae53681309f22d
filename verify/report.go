package verify

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/sarchlab/cascadegen/agent"
	"github.com/sarchlab/cascadegen/stream"
)

// VerificationReport represents a complete verification report
type VerificationReport struct {
	Cascade       *stream.Cascade
	LintIssues    []Issue
	StructIssues  []Issue
	TimingIssues  []Issue
	SimulationErr error
	SimulationOK  bool
	Steps         int
	Counters      [agent.NumCounters]uint32
}

// GenerateReport runs both lint and functional simulation, returns a report
func GenerateReport(c *stream.Cascade, maxSimSteps int) *VerificationReport {
	report := &VerificationReport{Cascade: c}

	report.LintIssues = RunLint(c)

	for _, issue := range report.LintIssues {
		if issue.Type == IssueStruct {
			report.StructIssues = append(report.StructIssues, issue)
		} else {
			report.TimingIssues = append(report.TimingIssues, issue)
		}
	}

	// The simulator indexes agents by command, so a cascade with broken
	// structure is only linted.
	if len(report.StructIssues) > 0 {
		report.SimulationErr = fmt.Errorf("%w: %d structural issues",
			ErrMalformed, len(report.StructIssues))
		return report
	}

	fs := NewFunctionalSimulator(c)
	report.SimulationErr = fs.Run(maxSimSteps)
	report.SimulationOK = report.SimulationErr == nil
	report.Steps = fs.Steps()
	report.Counters = fs.Counters()

	return report
}

// OK returns true if the cascade has no issues and simulates cleanly.
func (r *VerificationReport) OK() bool {
	return len(r.LintIssues) == 0 && r.SimulationOK
}

// WriteReport writes a formatted report to a writer
func (r *VerificationReport) WriteReport(w io.Writer) {
	separator := strings.Repeat("=", 60)

	fmt.Fprintln(w, separator)
	fmt.Fprintln(w, "CASCADE VERIFICATION REPORT")
	fmt.Fprintln(w, separator)

	fmt.Fprintf(w, "\n%d agents, %d commands\n\n",
		len(r.Cascade.Agents), r.Cascade.Commands.Len())
	fmt.Fprintln(w, agent.Table(r.Cascade.Agents))

	// STAGE 1: LINT
	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintln(w, "STAGE 1: STATIC LINT CHECKS")
	fmt.Fprintln(w, separator)

	if len(r.LintIssues) == 0 {
		fmt.Fprintln(w, "No lint issues found")
	} else {
		fmt.Fprintln(w, issueTable(r.LintIssues))
	}

	// STAGE 2: FUNCTIONAL SIMULATION
	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintln(w, "STAGE 2: FUNCTIONAL SIMULATION")
	fmt.Fprintln(w, separator)

	if r.SimulationOK {
		fmt.Fprintf(w, "Simulation completed in %d steps\n", r.Steps)
		fmt.Fprintln(w, counterTable(r.Counters))
	} else {
		fmt.Fprintf(w, "Simulation error: %v\n", r.SimulationErr)
	}

	// SUMMARY
	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintln(w, "VERIFICATION SUMMARY")
	fmt.Fprintln(w, separator)

	fmt.Fprintf(w, "Lint Result: %d issues detected (%d STRUCT, %d TIMING)\n",
		len(r.LintIssues), len(r.StructIssues), len(r.TimingIssues))

	simStatus := "SUCCESS"
	if !r.SimulationOK {
		simStatus = "FAILED: " + r.SimulationErr.Error()
	}

	fmt.Fprintf(w, "Simulation Result: %s\n", simStatus)
	fmt.Fprintln(w)
}

func issueTable(issues []Issue) string {
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("Issues (%d)", len(issues)))
	t.AppendHeader(table.Row{"Type", "Location", "Message", "Details"})

	for _, issue := range issues {
		t.AppendRow(table.Row{
			issue.Type,
			issue.Location(),
			issue.Message,
			formatDetails(issue.Details),
		})
	}

	return t.Render()
}

func formatDetails(details map[string]interface{}) string {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, details[k]))
	}

	return strings.Join(parts, " ")
}

func counterTable(counters [agent.NumCounters]uint32) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Counter", "Value"})

	for c := agent.CounterName(0); c < agent.NumCounters; c++ {
		t.AppendRow(table.Row{c, counters[c]})
	}

	return t.Render()
}

// SaveReportToFile saves the report to a file
func (r *VerificationReport) SaveReportToFile(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	r.WriteReport(file)

	return nil
}
