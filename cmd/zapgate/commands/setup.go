package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/jholhewres/zapgate/pkg/zapgate/config"
)

// newSetupCmd creates the `zapgate setup` command for interactive
// configuration.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard to create your initial config.yaml.
Asks for the control API address, the host webhook URL and the session
store path. The auth token is stored in the OS keyring — never in
plaintext config.

Examples:
  zapgate setup`,
		RunE: runSetup,
	}
}

func runSetup(_ *cobra.Command, _ []string) error {
	cfg := config.Default()
	var authToken string

	if config.IsTerminal() {
		if err := runSetupForm(cfg, &authToken); err != nil {
			return err
		}
	} else {
		runSetupPlain(cfg, &authToken)
	}

	// The token lives in the keyring (or env); config.yaml only carries
	// a reference.
	if authToken != "" {
		if err := config.StoreKeyring(config.KeyringAuthToken, authToken); err != nil {
			fmt.Println("  [!] OS keyring unavailable; export ZAPGATE_AUTH_TOKEN instead.")
		} else {
			fmt.Println("  Auth token stored in the OS keyring.")
		}
		cfg.Gateway.AuthToken = "${ZAPGATE_AUTH_TOKEN}"
	}

	path := "config.yaml"
	if err := config.SaveFile(cfg, path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	fmt.Println()
	fmt.Printf("Configuration written to %s\n", path)
	fmt.Println("Start the gateway with: zapgate serve")
	fmt.Println("Then open /status to pair via QR code.")
	return nil
}

// runSetupForm drives the interactive terminal form.
func runSetupForm(cfg *config.Config, authToken *string) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Control API listen address").
				Description("Host:port the back-office will call, e.g. :8077").
				Placeholder(cfg.Gateway.Address).
				Value(&cfg.Gateway.Address),
			huh.NewInput().
				Title("Host webhook base URL").
				Description("Messages are relayed to {base}/api/messaging/incoming").
				Placeholder(cfg.Webhook.BaseURL).
				Value(&cfg.Webhook.BaseURL),
			huh.NewInput().
				Title("Session store path").
				Description("SQLite file holding the WhatsApp credentials").
				Placeholder(cfg.Session.StorePath).
				Value(&cfg.Session.StorePath),
			huh.NewInput().
				Title("Control API auth token").
				Description("Leave empty to disable auth (loopback only!)").
				EchoMode(huh.EchoModePassword).
				Value(authToken),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("setup form: %w", err)
	}
	applySetupDefaults(cfg)
	return nil
}

// runSetupPlain is the non-TTY fallback (piped stdin, CI).
func runSetupPlain(cfg *config.Config, authToken *string) {
	reader := bufio.NewReader(os.Stdin)

	fmt.Printf("1. Control API listen address [%s]: ", cfg.Gateway.Address)
	if v := readLine(reader); v != "" {
		cfg.Gateway.Address = v
	}

	fmt.Printf("2. Host webhook base URL [%s]: ", cfg.Webhook.BaseURL)
	if v := readLine(reader); v != "" {
		cfg.Webhook.BaseURL = v
	}

	fmt.Printf("3. Session store path [%s]: ", cfg.Session.StorePath)
	if v := readLine(reader); v != "" {
		cfg.Session.StorePath = v
	}

	if v, err := config.ReadPassword("4. Control API auth token (hidden, empty = no auth): "); err == nil {
		*authToken = v
	} else {
		fmt.Print("4. Control API auth token (empty = no auth): ")
		*authToken = readLine(reader)
	}

	applySetupDefaults(cfg)
}

// applySetupDefaults restores defaults the form may have blanked out.
func applySetupDefaults(cfg *config.Config) {
	defaults := config.Default()
	if cfg.Gateway.Address == "" {
		cfg.Gateway.Address = defaults.Gateway.Address
	}
	if cfg.Webhook.BaseURL == "" {
		cfg.Webhook.BaseURL = defaults.Webhook.BaseURL
	}
	if cfg.Session.StorePath == "" {
		cfg.Session.StorePath = defaults.Session.StorePath
	}
}

func readLine(reader *bufio.Reader) string {
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}
