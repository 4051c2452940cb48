package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/nestsync/internal/adapters/driven/release"
)

var versionCheck bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cmd.Printf("nestsync version %s\n", version)
		if !versionCheck {
			return nil
		}
		return checkForUpdate(cmd)
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionCheck, "check", false, "check for a newer release")
	rootCmd.AddCommand(versionCmd)
}

func checkForUpdate(cmd *cobra.Command) error {
	if releaseChecker == nil {
		return fmt.Errorf("release check not configured")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	latest, err := releaseChecker.Latest(ctx)
	if err != nil {
		return fmt.Errorf("failed to check for updates: %w", err)
	}
	if release.IsNewer(version, latest.Version) {
		cmd.Println(warningStyle.Render(fmt.Sprintf("A newer version is available: %s", latest.Version)))
		cmd.Println(latest.URL)
		return nil
	}
	cmd.Println("You are running the latest version.")
	return nil
}
