// Package errfmt renders domain.Error and domain.PlacementError values in
// the two display modes of spec §4.8: a one-line "simple" form and a
// multi-line "full" box form, in the teacher's box-and-arrow style.
package errfmt

import (
	"fmt"
	"strconv"
	"strings"

	"go.sykli.dev/core/internal/core/domain"
	"go.sykli.dev/core/internal/mesh"
)

const maxOutputLines = 20

// Simple renders err as a single line: "✗ <task> <kind> (<context>)".
func Simple(err *domain.Error) string {
	context := err.Message
	if len(err.Hints) > 0 {
		context = err.Hints[0]
	}
	task := err.Task
	if task == "" {
		task = "-"
	}
	return fmt.Sprintf("✗ %s %s (%s)", task, err.Code, context)
}

// Full renders err as a multi-line box: code, kind, exit code, the last
// maxOutputLines lines of output, parsed source locations, and hints.
func Full(err *domain.Error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✗ %s\n", err.Message)
	fmt.Fprintf(&b, "  code: %s\n", err.Code)
	fmt.Fprintf(&b, "  kind: %s\n", err.Type)
	if err.Task != "" {
		fmt.Fprintf(&b, "  task: %s\n", err.Task)
	}
	if err.ExitCode != nil {
		fmt.Fprintf(&b, "  exit_code: %d\n", *err.ExitCode)
	}

	if err.Output != "" {
		b.WriteString("\n  output:\n")
		for _, line := range tail(strings.Split(strings.TrimRight(err.Output, "\n"), "\n"), maxOutputLines) {
			b.WriteString("    " + line + "\n")
		}
	}

	for _, loc := range err.Locations {
		b.WriteString("\n  --> " + formatLocation(loc) + "\n")
		if loc.Message != "" {
			b.WriteString("      " + loc.Message + "\n")
		}
	}

	if len(err.Hints) > 0 {
		b.WriteString("\n  hints:\n")
		for _, h := range err.Hints {
			b.WriteString("    - " + h + "\n")
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func formatLocation(loc domain.Location) string {
	if loc.Column > 0 {
		return loc.File + ":" + strconv.Itoa(loc.Line) + ":" + strconv.Itoa(loc.Column)
	}
	return loc.File + ":" + strconv.Itoa(loc.Line)
}

func tail(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}

// SimplePlacement renders a PlacementError as a single line.
func SimplePlacement(err *domain.PlacementError) string {
	if err.NoMatchingNodes {
		return fmt.Sprintf("✗ %s no_matching_nodes (requires: %s)", err.TaskName, strings.Join(err.RequiredLabels, ","))
	}
	return fmt.Sprintf("✗ %s all_nodes_rejected (%d candidates)", err.TaskName, len(err.Failures))
}

// FullPlacement renders a PlacementError as a multi-line box including
// every node's rejection reason and the spec §4.7 actionable hints.
func FullPlacement(err *domain.PlacementError) string {
	var b strings.Builder
	if err.NoMatchingNodes {
		fmt.Fprintf(&b, "✗ no nodes match required labels for %s\n", err.TaskName)
		fmt.Fprintf(&b, "  required: %s\n", strings.Join(err.RequiredLabels, ", "))
		fmt.Fprintf(&b, "  available nodes: %s\n", strings.Join(err.AvailableNodes, ", "))
	} else {
		fmt.Fprintf(&b, "✗ all candidate nodes rejected %s\n", err.TaskName)
		for _, f := range err.Failures {
			fmt.Fprintf(&b, "  - %s: %s\n", f.Node, f.Reason)
		}
	}

	b.WriteString("\n  hints:\n")
	for _, h := range mesh.Hints(err) {
		b.WriteString("    - " + h + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
