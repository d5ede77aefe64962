package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/sameehj/fence/pkg/lang"
	"github.com/sameehj/fence/pkg/policy"
	"github.com/sameehj/fence/pkg/sandbox"
)

var (
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	kindStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func renderValue(v any) string {
	return valueStyle.Render(lang.FormatValue(v))
}

// renderError shows the outcome kind first so a user can tell a policy
// rejection from a crash at a glance.
func renderError(err error) string {
	var serr *sandbox.Error
	if !errors.As(err, &serr) {
		return errorStyle.Render(err.Error())
	}
	line := kindStyle.Render(serr.Kind.String()) + " " + errorStyle.Render(serr.Error())
	if serr.ID != "" {
		line += " " + dimStyle.Render("("+serr.ID+")")
	}
	return line
}

func renderReport(r policy.Report) string {
	var b strings.Builder
	if r.Passed {
		b.WriteString(valueStyle.Render("ok"))
	} else {
		b.WriteString(kindStyle.Render(fmt.Sprintf("%d violation(s)", len(r.Violations))))
	}
	b.WriteString(" " + dimStyle.Render("policy "+r.Fingerprint))
	for _, v := range r.Violations {
		fmt.Fprintf(&b, "\n  %s %s %s",
			dimStyle.Render(fmt.Sprintf("%d:%d", v.Line, v.Col)),
			errorStyle.Render(v.Reason),
			v.Code)
	}
	return b.String()
}
