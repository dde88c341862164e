// cmd/vitalsd/print.go
package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/tamzrod/vitals-relay/internal/status"
	"github.com/tamzrod/vitals-relay/internal/vitals"
)

var (
	gray   = color.New(color.FgHiBlack).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
)

func printUpdate(w io.Writer, u vitals.VitalsUpdate) {
	source := cyan(u.Source.String())
	if u.Source == vitals.ModePolling {
		source = yellow(u.Source.String())
	}
	fmt.Fprintf(w, "%s %-20s %10.2f %-6s %s\n",
		gray(u.ObservedAt.Format("15:04:05.000")),
		u.DataType,
		u.Value,
		u.Unit,
		source,
	)
}

func printState(w io.Writer, s status.Snapshot) {
	var label string
	switch s.Kind {
	case status.KindActive:
		label = green(s.String())
	case status.KindFailed:
		label = red(s.String())
	default:
		label = yellow(s.String())
	}

	if s.Reason != "" && s.Kind != status.KindFailed {
		fmt.Fprintf(w, "%s state %s (%s)\n", gray(s.Since.Format("15:04:05.000")), label, s.Reason)
		return
	}
	fmt.Fprintf(w, "%s state %s\n", gray(s.Since.Format("15:04:05.000")), label)
}

func printGrant(w io.Writer, t vitals.PermissionType, granted bool) {
	mark := red("✗ denied")
	if granted {
		mark = green("✓ granted")
	}
	fmt.Fprintf(w, "  %-20s %s\n", t, mark)
}
