package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the sync status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	if syncEngine == nil {
		return errors.New("sync engine not configured")
	}

	ctx := cmd.Context()
	status, err := syncEngine.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	// A fresh process has no outcome of its own yet.
	last := status.LastOutcome
	if last == nil {
		if recent, err := syncEngine.History(ctx, 1); err == nil && len(recent) > 0 {
			last = &recent[0]
		}
	}

	cmd.Println(titleStyle.Render("Sync Status"))
	cmd.Println(field("Provider:", status.Provider.Description()))
	cmd.Println(field("Enabled:", yesNo(status.Enabled)))
	cmd.Println(field("Phase:", string(status.Phase)))
	if status.PendingManual != "" {
		cmd.Println(field("Queued:", string(status.PendingManual)))
	}

	state := status.State
	if state.HasBaseline() {
		cmd.Println(field("Last sync:", fmt.Sprintf("%s (%s)", formatTime(state.LastSyncedAt), state.LastDirection)))
	} else {
		cmd.Println(field("Last sync:", "never"))
	}
	if !state.LastRemote.IsZero() {
		cmd.Println(field("Remote:", formatBytes(state.LastRemote.Size)+", modified "+formatTime(state.LastRemote.ModTime)))
	}
	if state.LastError != "" {
		cmd.Println(field("Last error:", errorStyle.Render(fmt.Sprintf("[%s] %s", state.LastErrorKind, state.LastError))))
		cmd.Println(field("", mutedStyle.Render("at "+formatTime(state.LastAttemptAt))))
	}
	if last != nil {
		cmd.Println(field("Last run:", describeOutcome(last)))
	}
	return nil
}
