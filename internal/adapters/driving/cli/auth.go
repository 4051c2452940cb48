package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/nestsync/internal/core/domain"
)

//nolint:gosec // G101: config key names, not credentials.
const (
	keyDriveClientID     = "drive.client_id"
	keyDriveClientSecret = "drive.client_secret"
)

var (
	authClientID     string
	authClientSecret string
	authTimeout      time.Duration
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Sign in to Google Drive",
	Long: `Runs the one-time browser sign-in for the drive_oauth provider. A local
callback server receives the consent result; the tokens are stored as
credentials and refreshed automatically afterwards.

The OAuth application comes from drive.client_id and drive.client_secret,
or from the flags below, which are saved to the config first.

Examples:
  nestsync auth
  nestsync auth --client-id "xxx.apps.googleusercontent.com" --client-secret "yyy"`,
	Args: cobra.NoArgs,
	RunE: runAuth,
}

func init() {
	authCmd.Flags().StringVar(&authClientID, "client-id", "", "OAuth client ID")
	authCmd.Flags().StringVar(&authClientSecret, "client-secret", "", "OAuth client secret")
	authCmd.Flags().DurationVar(&authTimeout, "timeout", 5*time.Minute, "how long to wait for consent")
	rootCmd.AddCommand(authCmd)
}

func runAuth(cmd *cobra.Command, _ []string) error {
	if authorizer == nil || settingsService == nil {
		return errors.New("authorization not configured")
	}

	changes := map[string]string{}
	if authClientID != "" {
		changes[keyDriveClientID] = authClientID
	}
	if authClientSecret != "" {
		changes[keyDriveClientSecret] = authClientSecret
	}
	if len(changes) > 0 {
		if err := settingsService.Apply(changes); err != nil {
			return fmt.Errorf("failed to save OAuth app: %w", err)
		}
	}

	cfg, err := settingsService.Get()
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}
	switched := cfg.Provider != domain.ProviderDriveOAuth
	if switched {
		// Sign-in may happen before the provider is switched over.
		cfg.Provider = domain.ProviderDriveOAuth
		cfg.CredentialsRef = ""
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	cmd.Println("Opening your browser to sign in to Google Drive...")
	creds, err := authorizer.Authorize(ctx, *cfg)
	if err != nil {
		return fmt.Errorf("sign-in failed: %w", err)
	}

	cmd.Println(successStyle.Render(fmt.Sprintf("Signed in. Credentials stored as %s.", creds.Ref)))
	if switched || !cfg.Enabled {
		cmd.Println("Enable sync with: nestsync config set sync.provider=drive_oauth sync.enabled=true")
	}
	return nil
}
