package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/odavlstudio/insight/internal/errstore"
)

var (
	styleHeader   = lipgloss.NewStyle().Bold(true)
	styleOK       = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleCritical = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	styleHigh     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	styleMedium   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	styleLow      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleDim      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func severityStyle(sev errstore.Severity) lipgloss.Style {
	switch sev {
	case errstore.SeverityCritical:
		return styleCritical
	case errstore.SeverityHigh:
		return styleHigh
	case errstore.SeverityMedium:
		return styleMedium
	default:
		return styleLow
	}
}

// renderResults produces the human-readable run report: one line per
// detector followed by the failure details, if any.
func renderResults(results []detectorResult, store *errstore.Store, plain bool) string {
	if plain {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	var b strings.Builder
	b.WriteString(styleHeader.Render("Analysis results"))
	b.WriteString("\n")

	totalIssues := 0
	failed := 0
	for _, r := range results {
		if r.Failed {
			failed++
			sev := errstore.SeverityForCode(r.Code)
			b.WriteString(fmt.Sprintf("  %s  %s %s\n",
				severityStyle(sev).Render("FAIL"),
				r.Detector,
				styleDim.Render(fmt.Sprintf("[%s]", r.Code))))
			continue
		}
		totalIssues += r.Issues
		b.WriteString(fmt.Sprintf("  %s    %s %s\n",
			styleOK.Render("OK"),
			r.Detector,
			styleDim.Render(fmt.Sprintf("%d issue(s) in %dms", r.Issues, r.DurationMs))))
	}

	if errs := store.Errors(); len(errs) > 0 {
		b.WriteString("\n")
		b.WriteString(styleHeader.Render("Detector failures"))
		b.WriteString("\n")
		for _, e := range errs {
			b.WriteString(fmt.Sprintf("  %s %s: %s\n",
				severityStyle(e.Severity).Render(string(e.Severity)),
				e.Detector,
				e.Message))
		}
	}

	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("%d detector(s), %d issue(s), %d failure(s)\n",
		len(results), totalIssues, failed))
	return b.String()
}
