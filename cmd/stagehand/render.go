package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"stagehand/internal/core"
	"stagehand/internal/history"
)

var (
	headStyle = lipgloss.NewStyle().Bold(true)
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func statusStyle(s string) lipgloss.Style {
	switch s {
	case string(core.StatusSucceeded), string(core.StageOK):
		return okStyle
	case string(core.StatusFailed):
		return failStyle
	default:
		return dimStyle
	}
}

func renderResult(res *core.RunResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s in %s %s\n",
		headStyle.Render(res.Pipeline),
		statusStyle(string(res.Status)).Render(string(res.Status)),
		res.Duration().Round(time.Millisecond),
		dimStyle.Render("(run "+shortID(res.ID)+")"),
	)
	for _, st := range res.Stages {
		b.WriteString(renderStageLine(st))
	}
	for _, ps := range res.Post {
		outcome := string(core.StageOK)
		if ps.ExitCode != 0 {
			outcome = string(core.StageFailed)
		}
		fmt.Fprintf(&b, "  %s  post: %s\n", statusStyle(outcome).Width(7).Render(outcome), ps.Name)
	}
	if len(res.Captured) > 0 {
		b.WriteString("captured:\n")
		for _, name := range sortedNames(res.Captured) {
			fmt.Fprintf(&b, "  %s = %s\n", name, res.Captured[name])
		}
	}
	if res.LogDir != "" {
		fmt.Fprintln(&b, dimStyle.Render("logs: "+res.LogDir))
	}
	if res.Workspace != "" {
		fmt.Fprintln(&b, dimStyle.Render("workspace kept: "+res.Workspace))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderStageLine(st core.StageResult) string {
	mark := statusStyle(string(st.Outcome)).Width(7).Render(string(st.Outcome))
	detail := st.Duration.Round(time.Millisecond).String()
	if st.Reason != "" {
		detail = dimStyle.Render(st.Reason)
	}
	return fmt.Sprintf("  %s  %-20s %s\n", mark, st.Name, detail)
}

func renderValid(p *core.Pipeline) string {
	steps := 0
	for _, st := range p.Stages {
		steps += len(st.Steps)
	}
	return fmt.Sprintf("%s %s (%d stages, %d steps)", okStyle.Render("valid"), p.Name, len(p.Stages), steps)
}

func renderHistory(recs []history.Record) string {
	if len(recs) == 0 {
		return "no runs recorded\n"
	}
	var b strings.Builder
	for _, rec := range recs {
		fmt.Fprintf(&b, "%s  %s  %s  %-24s %s\n",
			shortID(rec.ID),
			rec.Started.Format("2006-01-02 15:04"),
			statusStyle(rec.Status).Width(9).Render(rec.Status),
			rec.Pipeline,
			rec.Finished.Sub(rec.Started).Round(time.Second),
		)
	}
	return b.String()
}

func renderRecord(rec history.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", headStyle.Render(rec.Pipeline), statusStyle(rec.Status).Render(rec.Status))
	fmt.Fprintf(&b, "run:      %s\n", rec.ID)
	fmt.Fprintf(&b, "started:  %s\n", rec.Started.Format(time.RFC3339))
	fmt.Fprintf(&b, "finished: %s\n", rec.Finished.Format(time.RFC3339))
	if rec.Error != "" {
		fmt.Fprintf(&b, "error:    %s\n", rec.Error)
	}

	var stages []core.StageResult
	if err := json.Unmarshal([]byte(rec.Stages), &stages); err == nil {
		for _, st := range stages {
			b.WriteString(renderStageLine(st))
		}
	}
	if rec.Captured != "" {
		var captured map[string]string
		if err := json.Unmarshal([]byte(rec.Captured), &captured); err == nil && len(captured) > 0 {
			b.WriteString("captured:\n")
			for _, name := range sortedNames(captured) {
				fmt.Fprintf(&b, "  %s = %s\n", name, captured[name])
			}
		}
	}
	fmt.Fprintln(&b, dimStyle.Render("hash: "+rec.Hash))
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func sortedNames(m map[string]string) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
