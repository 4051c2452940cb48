package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent sync attempts",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of attempts to show")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	if syncEngine == nil {
		return errors.New("sync engine not configured")
	}

	outcomes, err := syncEngine.History(cmd.Context(), historyLimit)
	if err != nil {
		return fmt.Errorf("failed to get history: %w", err)
	}
	if len(outcomes) == 0 {
		cmd.Println("No sync attempts recorded yet.")
		return nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers("STARTED", "TRIGGER", "RESULT", "DIRECTION", "SIZE", "TRIES", "DETAIL")

	for i := range outcomes {
		o := &outcomes[i]
		result := "ok"
		detail := o.Note
		if !o.Success {
			result = string(o.ErrorKind)
			detail = o.Error
		}
		if o.ConflictResolvedLocal {
			detail = "both changed, local kept"
		}
		t.Row(
			formatTime(o.StartedAt),
			string(o.Trigger),
			result,
			string(o.Direction),
			formatBytes(o.BytesTransferred),
			strconv.Itoa(o.Attempts),
			detail,
		)
	}

	cmd.Println(t.String())
	return nil
}
