package main

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/smallnest/chatpipe/engine"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	outputStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("12")).Padding(0, 1)
	abortedStyle = outputStyle.BorderForeground(lipgloss.Color("11"))
)

func statusStyle(s engine.Status) lipgloss.Style {
	switch s {
	case engine.StatusSuccess:
		return okStyle
	case engine.StatusAborted:
		return warnStyle
	default:
		return errorStyle
	}
}

// printResult writes a human readable run summary.
func printResult(w io.Writer, res *engine.Result) {
	fmt.Fprintf(w, "%s %s  %s %s\n",
		labelStyle.Render("pipeline"), titleStyle.Render(res.PipelineID),
		labelStyle.Render("status"), statusStyle(res.Status).Render(string(res.Status)))

	if len(res.Routes) > 0 {
		nodes := make([]string, 0, len(res.Routes))
		for id := range res.Routes {
			nodes = append(nodes, id)
		}
		slices.Sort(nodes)
		routes := make([]string, len(nodes))
		for i, id := range nodes {
			routes[i] = id + " → " + res.Routes[id]
		}
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render("routes"), strings.Join(routes, ", "))
	}
	if tags := res.TagsApplied.SessionTags; len(tags) > 0 {
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render("session tags"), strings.Join(tags, ", "))
	}
	if tags := res.TagsApplied.MessageTags; len(tags) > 0 {
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render("message tags"), strings.Join(tags, ", "))
	}

	switch {
	case res.Interrupt != nil:
		fmt.Fprintln(w, abortedStyle.Render(res.Interrupt.Message))
	case res.Status == engine.StatusError:
		fmt.Fprintln(w, errorStyle.Render(res.Error))
	default:
		for _, out := range res.Outputs {
			fmt.Fprintln(w, outputStyle.Render(out.Text))
		}
	}
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("took"), res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
}
