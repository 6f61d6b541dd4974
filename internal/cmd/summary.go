package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/srhall/gitcrew/internal/session"
	"github.com/srhall/gitcrew/internal/util"
	"github.com/srhall/gitcrew/internal/worker"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// renderSummary prints the end-of-session report. Styling is dropped
// when stdout is not a terminal so piped output stays plain.
func renderSummary(w io.Writer, result *session.Result) {
	styled := term.IsTerminal(int(os.Stdout.Fd()))

	render := func(style lipgloss.Style, s string) string {
		if !styled {
			return s
		}
		return style.Render(s)
	}

	var b strings.Builder
	b.WriteString(render(headerStyle, fmt.Sprintf("session %s", result.SessionID)))
	b.WriteString("\n\n")

	nameWidth := len("task")
	for _, o := range result.Outcomes {
		if len(o.Task.Name) > nameWidth {
			nameWidth = len(o.Task.Name)
		}
	}

	fmt.Fprintf(&b, "  %-*s  %-10s  %s\n", nameWidth, "task", "status", "branch")
	for _, o := range result.Outcomes {
		status := string(o.Status)
		style := okStyle
		switch {
		case o.Skipped:
			status = "skipped"
			style = mutedStyle
		case o.Status != worker.StatusCompleted:
			style = failStyle
		}
		fmt.Fprintf(&b, "  %-*s  %s  %s\n",
			nameWidth, o.Task.Name,
			render(style, fmt.Sprintf("%-10s", status)),
			render(mutedStyle, o.Branch))
	}
	b.WriteString("\n")

	if result.Merge.Success {
		fmt.Fprintf(&b, "  merge: %s into %s (%d branches)\n",
			render(okStyle, "ok"),
			result.IntegrationBranch, len(result.Merge.MergedBranches))
	} else {
		fmt.Fprintf(&b, "  merge: %s at %s\n",
			render(failStyle, "halted"), result.Merge.FailedBranch)
		if result.Merge.FailureReason != "" {
			reason := util.TruncateANSI(util.FirstLine(result.Merge.FailureReason), 100)
			fmt.Fprintf(&b, "         %s\n", render(mutedStyle, reason))
		}
		for _, f := range result.Merge.ConflictFiles {
			fmt.Fprintf(&b, "         conflict: %s\n", f)
		}
	}

	fmt.Fprintf(&b, "  tokens: %d  cost: $%.4f\n",
		result.Summary.TotalTokens, result.Summary.TotalCostUSD)

	fmt.Fprint(w, b.String())
}
