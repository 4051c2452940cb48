package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/nestsync/internal/core/domain"
)

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Download the remote copy now",
	Long: `Replaces the local database with the remote copy if the two differ.
The current local file is checkpointed and swapped atomically, so an
interrupted pull leaves it untouched.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runManual(cmd, "pull", func(ctx context.Context) (*domain.SyncOutcome, error) {
			return syncEngine.PullLatest(ctx)
		})
	},
}

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload the local database now",
	Long: `Uploads a consistent snapshot of the local database, replacing the
remote copy if the two differ.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runManual(cmd, "push", func(ctx context.Context) (*domain.SyncOutcome, error) {
			return syncEngine.UploadNow(ctx)
		})
	},
}

func init() {
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(pushCmd)
}

func runManual(
	cmd *cobra.Command,
	name string,
	fn func(ctx context.Context) (*domain.SyncOutcome, error),
) error {
	if syncEngine == nil {
		return errors.New("sync engine not configured")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	outcome, err := fn(ctx)
	if err != nil {
		return fmt.Errorf("%s failed: %w", name, err)
	}

	cmd.Println(describeOutcome(outcome))
	if !outcome.Success {
		if outcome.ErrorKind == domain.ErrorKindAuthExpired {
			cmd.Println("Run 'nestsync auth' or 'nestsync credentials' to sign in again.")
		}
		return fmt.Errorf("%s failed: %s", name, outcome.Error)
	}
	return nil
}
