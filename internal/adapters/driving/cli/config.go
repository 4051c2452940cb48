package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/nestsync/internal/core/domain"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change the sync configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set key=value [key=value...]",
	Short: "Change configuration values",
	Long: `Sets one or more configuration keys. All changes are validated together
and saved only if the result is valid, so switching provider and filling in
its settings can happen in one call.

Examples:
  nestsync config set sync.provider=local_folder local_folder.path=/mnt/nas/nest
  nestsync config set sync.enabled=true sync.interval=10m`,
	Args: cobra.MinimumNArgs(1),
	RunE: runConfigSet,
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List every configuration key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if settingsService == nil {
			return errors.New("settings service not configured")
		}
		for _, key := range settingsService.Keys() {
			cmd.Println(key)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configKeysCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	cfg, err := settingsService.Get()
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}

	cmd.Println(titleStyle.Render("[sync]"))
	cmd.Println(field("provider", string(cfg.Provider)+mutedStyle.Render("  "+cfg.Provider.Description())))
	cmd.Println(field("enabled", strconv.FormatBool(cfg.Enabled)))
	cmd.Println(field("interval", cfg.EffectiveInterval().String()))
	cmd.Println(field("database", orUnset(cfg.DatabasePath)))
	cmd.Println(field("remote", cfg.RemoteName))
	cmd.Println(field("staging", cfg.EffectiveStagingDir()))
	cmd.Println(field("verify", strconv.FormatBool(cfg.VerifyDownload)))
	cmd.Println(field("attempts", strconv.Itoa(cfg.MaxAttempts)))
	cmd.Println(field("credentials", cfg.EffectiveCredentialsRef()))
	cmd.Println()

	cmd.Println(titleStyle.Render("[watch]"))
	cmd.Println(field("enabled", strconv.FormatBool(cfg.Watch.Enabled)))
	cmd.Println(field("debounce", cfg.Watch.Debounce.String()))

	if section := providerSection(cfg); len(section) > 0 {
		cmd.Println()
		cmd.Println(titleStyle.Render("[" + string(cfg.Provider) + "]"))
		for _, line := range section {
			cmd.Println(line)
		}
	}

	cmd.Println()
	if err := settingsService.Validate(cfg); err != nil {
		cmd.Println(warningStyle.Render(fmt.Sprintf("Warning: %v", err)))
	} else {
		cmd.Println(successStyle.Render("Configuration is valid."))
	}
	return nil
}

func providerSection(cfg *domain.SyncConfig) []string {
	switch cfg.Provider {
	case domain.ProviderLocalFolder:
		return []string{field("path", orUnset(cfg.LocalFolder.Path))}
	case domain.ProviderDriveOAuth:
		secret := "(not set)"
		if cfg.Drive.ClientSecret != "" {
			secret = maskSecret(cfg.Drive.ClientSecret)
		}
		return []string{
			field("client_id", orUnset(cfg.Drive.ClientID)),
			field("secret", secret),
			field("folder_id", orUnset(cfg.Drive.FolderID)),
		}
	case domain.ProviderTokenCloud:
		return []string{field("path", orUnset(cfg.TokenCloud.Path))}
	case domain.ProviderSFTP:
		hostKey := orUnset(cfg.SFTP.KnownHostsPath)
		if cfg.SFTP.InsecureIgnoreHostKey {
			hostKey = warningStyle.Render("not verified")
		}
		return []string{
			field("host", fmt.Sprintf("%s@%s:%d", cfg.SFTP.User, cfg.SFTP.Host, cfg.SFTP.Port)),
			field("path", orUnset(cfg.SFTP.Path)),
			field("host key", hostKey),
		}
	case domain.ProviderObjectStore:
		return []string{
			field("endpoint", orUnset(cfg.ObjectStore.Endpoint)),
			field("bucket", orUnset(cfg.ObjectStore.Bucket)),
			field("key", cfg.RemotePath()),
			field("region", orUnset(cfg.ObjectStore.Region)),
			field("tls", strconv.FormatBool(cfg.ObjectStore.Secure)),
		}
	default:
		return nil
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	changes, err := parseAssignments(args)
	if err != nil {
		return err
	}
	if err := settingsService.Apply(changes); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}

	cmd.Printf("Saved %d setting(s).\n", len(changes))
	if syncEngine != nil {
		if cfg, err := settingsService.Get(); err == nil {
			_ = syncEngine.Reconfigure(*cfg)
		}
	}
	return nil
}

func parseAssignments(args []string) (map[string]string, error) {
	changes := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid assignment %q, expected key=value", arg)
		}
		changes[key] = strings.TrimSpace(value)
	}
	return changes, nil
}

func orUnset(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}
