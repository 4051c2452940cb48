package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/nestsync/internal/core/domain"
)

var (
	credRef          string
	credAccount      string
	credToken        string
	credAccessKeyID  string
	credSecretKey    string
	credSessionToken string
	credKeyPath      string
	credAskPassword  bool
	credPassphrase   bool
)

var credentialsCmd = &cobra.Command{
	Use:     "credentials",
	Aliases: []string{"creds"},
	Short:   "Manage stored provider secrets",
	Long: `Stores the secrets each provider needs in nestsync's own state
database. Secrets are never written to config.toml or to the synced file.

By default credentials are stored under the provider name; set
credentials.ref in the config to use a different name.`,
}

var credentialsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored credentials",
	Args:  cobra.NoArgs,
	RunE:  runCredentialsList,
}

var credentialsSetTokenCmd = &cobra.Command{
	Use:   "set-token",
	Short: "Store a Dropbox access token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		token, err := flagOrSecret(cmd, credToken, "Access token: ")
		if err != nil {
			return err
		}
		return saveCredentials(cmd, domain.Credentials{
			Provider: domain.ProviderTokenCloud,
			Token:    &domain.TokenCredentials{Token: token},
		})
	},
}

var credentialsSetKeysCmd = &cobra.Command{
	Use:   "set-keys",
	Short: "Store an object store access key pair",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if credAccessKeyID == "" {
			return errors.New("--access-key-id is required")
		}
		secret, err := flagOrSecret(cmd, credSecretKey, "Secret access key: ")
		if err != nil {
			return err
		}
		return saveCredentials(cmd, domain.Credentials{
			Provider: domain.ProviderObjectStore,
			AccessKey: &domain.AccessKeyCredentials{
				AccessKeyID:     credAccessKeyID,
				SecretAccessKey: secret,
				SessionToken:    credSessionToken,
			},
		})
	},
}

var credentialsSetSSHCmd = &cobra.Command{
	Use:   "set-ssh",
	Short: "Store an SFTP password or private key",
	Long: `Stores SFTP authentication. Use --key to point at a private key file, or
--password to be prompted for a password.

Examples:
  nestsync credentials set-ssh --key ~/.ssh/id_ed25519
  nestsync credentials set-ssh --key ~/.ssh/id_ed25519 --passphrase
  nestsync credentials set-ssh --password`,
	Args: cobra.NoArgs,
	RunE: runCredentialsSetSSH,
}

var credentialsRemoveCmd = &cobra.Command{
	Use:   "remove <ref>",
	Short: "Delete stored credentials",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if credentialsService == nil {
			return errors.New("credentials service not configured")
		}
		if err := credentialsService.Delete(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to remove credentials: %w", err)
		}
		cmd.Printf("Removed credentials %s.\n", args[0])
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{credentialsSetTokenCmd, credentialsSetKeysCmd, credentialsSetSSHCmd} {
		c.Flags().StringVar(&credRef, "ref", "", "name to store the credentials under")
		c.Flags().StringVar(&credAccount, "account", "", "account email or username, for display")
	}
	credentialsSetTokenCmd.Flags().StringVar(&credToken, "token", "", "access token (prompted if omitted)")
	credentialsSetKeysCmd.Flags().StringVar(&credAccessKeyID, "access-key-id", "", "access key ID")
	credentialsSetKeysCmd.Flags().StringVar(&credSecretKey, "secret-access-key", "", "secret access key (prompted if omitted)")
	credentialsSetKeysCmd.Flags().StringVar(&credSessionToken, "session-token", "", "temporary session token")
	credentialsSetSSHCmd.Flags().StringVar(&credKeyPath, "key", "", "path to a private key file")
	credentialsSetSSHCmd.Flags().BoolVar(&credPassphrase, "passphrase", false, "prompt for the key's passphrase")
	credentialsSetSSHCmd.Flags().BoolVar(&credAskPassword, "password", false, "prompt for a password")

	credentialsCmd.AddCommand(credentialsListCmd)
	credentialsCmd.AddCommand(credentialsSetTokenCmd)
	credentialsCmd.AddCommand(credentialsSetKeysCmd)
	credentialsCmd.AddCommand(credentialsSetSSHCmd)
	credentialsCmd.AddCommand(credentialsRemoveCmd)
	rootCmd.AddCommand(credentialsCmd)
}

func runCredentialsList(cmd *cobra.Command, _ []string) error {
	if credentialsService == nil {
		return errors.New("credentials service not configured")
	}

	list, err := credentialsService.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list credentials: %w", err)
	}
	if len(list) == 0 {
		cmd.Println("No credentials stored.")
		return nil
	}

	for i := range list {
		c := &list[i]
		cmd.Printf("%s  %s\n", titleStyle.Render(c.Ref), c.Provider.Description())
		if c.AccountIdentifier != "" {
			cmd.Println(field("  account", c.AccountIdentifier))
		}
		cmd.Println(field("  secret", describeSecret(c)))
		cmd.Println(field("  updated", formatTime(c.UpdatedAt)))
	}
	return nil
}

func describeSecret(c *domain.Credentials) string {
	switch {
	case c.OAuth != nil:
		if c.OAuth.IsExpired() && c.HasRefreshToken() {
			return "oauth tokens (access token expired, will refresh)"
		}
		if c.OAuth.IsExpired() {
			return warningStyle.Render("oauth tokens (expired, run 'nestsync auth')")
		}
		return "oauth tokens"
	case c.Token != nil:
		return "token " + maskSecret(c.Token.Token)
	case c.AccessKey != nil:
		return "access key " + c.AccessKey.AccessKeyID
	case c.SSH != nil && c.SSH.PrivateKeyPath != "":
		return "private key " + c.SSH.PrivateKeyPath
	case c.SSH != nil:
		return "password"
	default:
		return "(empty)"
	}
}

func runCredentialsSetSSH(cmd *cobra.Command, _ []string) error {
	ssh := &domain.SSHCredentials{PrivateKeyPath: credKeyPath}
	switch {
	case credKeyPath != "" && credPassphrase:
		pass, err := readSecret(cmd, "Key passphrase: ")
		if err != nil {
			return err
		}
		ssh.Passphrase = pass
	case credKeyPath == "" && credAskPassword:
		pass, err := readSecret(cmd, "Password: ")
		if err != nil {
			return err
		}
		ssh.Password = pass
	case credKeyPath == "":
		return errors.New("either --key or --password is required")
	}
	return saveCredentials(cmd, domain.Credentials{Provider: domain.ProviderSFTP, SSH: ssh})
}

func saveCredentials(cmd *cobra.Command, creds domain.Credentials) error {
	if credentialsService == nil {
		return errors.New("credentials service not configured")
	}
	creds.Ref = resolveRef(creds.Provider)
	creds.AccountIdentifier = credAccount

	if err := credentialsService.Save(cmd.Context(), creds); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	cmd.Printf("Saved %s credentials as %s.\n", creds.Provider.Description(), creds.Ref)
	return nil
}

// resolveRef picks the --ref flag, then the configured ref when the
// provider matches, then the provider name.
func resolveRef(kind domain.ProviderKind) string {
	if credRef != "" {
		return credRef
	}
	if settingsService != nil {
		if cfg, err := settingsService.Get(); err == nil && cfg.Provider == kind {
			return cfg.EffectiveCredentialsRef()
		}
	}
	return string(kind)
}

func flagOrSecret(cmd *cobra.Command, value, prompt string) (string, error) {
	if value != "" {
		return value, nil
	}
	return readSecret(cmd, prompt)
}

// readSecret reads a line without echo from a terminal, or a plain line
// from piped input.
var readSecret = func(cmd *cobra.Command, prompt string) (string, error) {
	cmd.Print(prompt)
	var (
		line string
		err  error
	)
	if in, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(in.Fd())) {
		var b []byte
		b, err = term.ReadPassword(int(in.Fd()))
		cmd.Println()
		line = string(b)
	} else {
		line, err = bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line != "" {
			err = nil
		}
	}
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("no value entered")
	}
	return line, nil
}
