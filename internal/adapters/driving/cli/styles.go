package cli

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/custodia-labs/nestsync/internal/core/domain"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086")).Width(12)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E3A1"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F9E2AF"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F38BA8"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086"))
)

func field(label, value string) string {
	return labelStyle.Render(label) + " " + value
}

// describeOutcome renders a one-line summary of an attempt.
func describeOutcome(o *domain.SyncOutcome) string {
	if !o.Success {
		msg := fmt.Sprintf("%s failed (%s): %s", o.Trigger, o.ErrorKind, o.Error)
		return errorStyle.Render(msg)
	}

	switch o.Direction {
	case domain.DirectionPulled, domain.DirectionPushed:
		msg := fmt.Sprintf("%s %s %s", o.Trigger, o.Direction, formatBytes(o.BytesTransferred))
		if o.ConflictResolvedLocal {
			msg += ", both sides changed, local copy kept"
		}
		return successStyle.Render(msg)
	default:
		msg := fmt.Sprintf("%s skipped", o.Trigger)
		if o.Note != "" {
			msg += " (" + o.Note + ")"
		}
		return mutedStyle.Render(msg)
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func maskSecret(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}
