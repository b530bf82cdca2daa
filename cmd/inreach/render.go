package main

import (
	"fmt"
	"strings"
	"time"

	"inreach/internal/campaign"
	"inreach/internal/queue"
	"inreach/internal/types"
	"inreach/internal/workflow"

	"github.com/charmbracelet/lipgloss"
)

type palette struct {
	Title   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Muted   lipgloss.Style
	Box     lipgloss.Style
}

var styles = palette{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
	Success: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
	Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
	Error:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
	Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("12")).
		Padding(0, 1),
}

func outcomeStyle(o types.Outcome) lipgloss.Style {
	switch {
	case o.Kind == types.OutcomeSent, o.Kind == types.OutcomeMessaged:
		return styles.Success
	case o.IsSkip():
		return styles.Muted
	default:
		return styles.Warning
	}
}

func reasonStyle(r campaign.StopReason) lipgloss.Style {
	switch {
	case r.Fatal():
		return styles.Error
	case r == campaign.StopCancelled:
		return styles.Warning
	default:
		return styles.Success
	}
}

// renderSummary formats the end-of-run report.
func renderSummary(s campaign.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", styles.Title.Render("Run"), styles.Muted.Render(s.RunID))
	fmt.Fprintf(&b, "stopped:   %s\n", reasonStyle(s.Reason).Render(string(s.Reason)))
	fmt.Fprintf(&b, "queued:    %d\n", s.Queued)
	fmt.Fprintf(&b, "sent:      %s\n", styles.Success.Render(fmt.Sprint(s.Sent)))
	fmt.Fprintf(&b, "messaged:  %s\n", styles.Success.Render(fmt.Sprint(s.Messaged)))

	fmt.Fprintf(&b, "skipped:   %d\n", s.SkippedTotal())
	for _, k := range s.SkipKinds() {
		fmt.Fprintf(&b, "  %-18s %d\n", k, s.Skipped[k])
	}
	failed := fmt.Sprint(s.FailedTotal())
	if s.FailedTotal() > 0 {
		failed = styles.Warning.Render(failed)
	}
	fmt.Fprintf(&b, "failed:    %s\n", failed)
	for _, r := range s.FailureReasons() {
		fmt.Fprintf(&b, "  %-18s %d\n", r, s.Failed[r])
	}
	fmt.Fprintf(&b, "quota:     %d left today\n", s.Remaining)
	fmt.Fprintf(&b, "elapsed:   %s", s.Elapsed.Round(time.Second))
	return styles.Box.Render(b.String())
}

func renderProgress(p campaign.Progress) string {
	return fmt.Sprintf("[%d/%d] %-32s %s %s",
		p.Index, p.Queued, p.Profile,
		outcomeStyle(p.Outcome).Render(p.Outcome.String()),
		styles.Muted.Render(fmt.Sprintf("(%d left today)", p.Remaining)))
}

func renderQuota(action types.Action, rec types.QuotaRecord) string {
	left := fmt.Sprint(rec.Remaining())
	if rec.Remaining() == 0 {
		left = styles.Warning.Render(left)
	} else {
		left = styles.Success.Render(left)
	}
	body := fmt.Sprintf("%s\ndate:      %s\nsent:      %d\nlimit:     %d\nremaining: %s",
		styles.Title.Render("Daily quota: "+string(action)), rec.Date, rec.SentCount, rec.DailyLimit, left)
	return styles.Box.Render(body)
}

// renderQueue lists the first profiles of a queue holding total entries.
func renderQueue(stats queue.Stats, shown []types.Profile, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", styles.Title.Render("Profiles"))
	fmt.Fprintf(&b, "rows:           %d\n", stats.Total)
	fmt.Fprintf(&b, "settled:        %d\n", stats.Settled)
	fmt.Fprintf(&b, "duplicates:     %d\n", stats.Duplicate)
	fmt.Fprintf(&b, "no identifier:  %d\n", stats.NoHandle)
	fmt.Fprintf(&b, "pending:        %s", styles.Success.Render(fmt.Sprint(total)))
	for _, p := range shown {
		status := p.StoredStatus
		if status == "" {
			status = "-"
		}
		fmt.Fprintf(&b, "\n  %-28s %-24s %s", p.Identifier, truncate(p.Organization, 24), styles.Muted.Render(status))
	}
	if rest := total - len(shown); rest > 0 {
		fmt.Fprintf(&b, "\n  %s", styles.Muted.Render(fmt.Sprintf("... %d more", rest)))
	}
	return styles.Box.Render(b.String())
}

func renderReport(rep *workflow.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", styles.Title.Render("Page"), rep.URL)
	fmt.Fprintf(&b, "title:         %s\n", rep.Title)
	fmt.Fprintf(&b, "relationship:  %s\n", rep.Relationship)
	fmt.Fprintf(&b, "dialog open:   %v\n\n", rep.Dialog)

	fmt.Fprintf(&b, "%s\n", styles.Title.Render("Targets"))
	for _, r := range rep.Resolutions {
		if r.Found {
			fmt.Fprintf(&b, "  %-18s %s %s\n", r.Target, styles.Success.Render(r.Strategy), r.Element)
		} else {
			fmt.Fprintf(&b, "  %-18s %s\n", r.Target, styles.Muted.Render("not found"))
		}
	}

	fmt.Fprintf(&b, "\n%s (%d)\n", styles.Title.Render("Interactive candidates"), len(rep.Candidates))
	for _, el := range rep.Candidates {
		label := el.Attr("aria-label")
		if label != "" {
			label = styles.Muted.Render(" aria-label=" + fmt.Sprintf("%q", label))
		}
		fmt.Fprintf(&b, "  %s%s\n", el, label)
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
