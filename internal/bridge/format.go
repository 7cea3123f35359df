package bridge

import (
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/clawbridge/internal/subagents"
)

// resultBudget caps a subagent result inside an announcement.
const resultBudget = 2000

// formatSpawnAck builds the immediate "🚀 Spawned" acknowledgment.
// fallbackFrom names the originally requested CLI when the run was rerouted.
func formatSpawnAck(label, cli, fallbackFrom, task string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚀 Spawned: %s\n", label)
	if fallbackFrom != "" {
		fmt.Fprintf(&b, "   CLI: %s (fallback from %s)\n", cli, fallbackFrom)
	} else {
		fmt.Fprintf(&b, "   CLI: %s\n", cli)
	}
	if len(task) > 100 {
		fmt.Fprintf(&b, "   Task: %s…", task[:100])
	} else {
		fmt.Fprintf(&b, "   Task: %s", task)
	}
	return b.String()
}

// formatStarted builds the "🔄 Started" notification.
func formatStarted(label string) string {
	return "🔄 Started: " + label
}

// statusIcon maps a terminal subagent status to its announcement icon.
func statusIcon(status string) string {
	switch status {
	case subagents.StatusCompleted:
		return "✅"
	case subagents.StatusError:
		return "❌"
	case subagents.StatusStopped:
		return "🛑"
	}
	return "•"
}

// formatCompletion builds the terminal announcement for a subagent run.
func formatCompletion(rec *subagents.Record) string {
	label := rec.Label
	if label == "" {
		label = rec.RunID[:8]
	}

	header := statusIcon(rec.Status) + " " + label
	if rec.StartedAt != nil && rec.EndedAt != nil {
		header += fmt.Sprintf(" (%s)", formatDuration(rec.EndedAt.Sub(*rec.StartedAt)))
	}

	var body string
	switch {
	case rec.Status == subagents.StatusError:
		body = "Error: " + rec.Error
	case rec.Result != "":
		body = TruncateMiddle(rec.Result, resultBudget)
	default:
		body = "(no output)"
	}
	return header + "\n\n" + body
}

func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Minute:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
}

// formatPendingResults builds the injection block prepended to the parent's
// next prompt.
func formatPendingResults(recs []*subagents.Record) string {
	if len(recs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("[Subagent Results]\n")
	for _, rec := range recs {
		label := rec.Label
		if label == "" {
			label = rec.RunID[:8]
		}
		icon := "✅"
		output := rec.Result
		if rec.Status == subagents.StatusError {
			icon = "❌"
			output = rec.Error
		}
		fmt.Fprintf(&b, "%s %s: %s\n", icon, label, output)
	}
	b.WriteString("[/Subagent Results]")
	return b.String()
}
