package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"vkharvest/pkg/auth"
	"vkharvest/pkg/ui"
)

var logoutAll bool

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage VK access tokens",
	Long: `Manage stored VK access tokens.

Tokens are stored in:
  - the system keychain, when available
  - an encrypted file with a PBKDF2 derived key otherwise

A token in TOKEN or VKHARVEST_ACCESS_TOKEN is used before any stored one.
Never share your tokens or config files!`,
}

var loginCmd = &cobra.Command{
	Use:   "login [name]",
	Short: "Store an access token",
	Long: `Store an access token under a name (default "main").

You can paste either the bare token or the whole address of the page VK
redirects to after authorization. Type 'help' at the prompt for instructions.`,
	Example: `  vkharvest auth login
  vkharvest auth login second`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout [name]",
	Short: "Remove stored tokens",
	Example: `  vkharvest auth logout main
  vkharvest auth logout --all`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogout,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored accounts",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(listCmd)

	logoutCmd.Flags().BoolVar(&logoutAll, "all", false, "remove every stored account")
}

func runLogin(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	name := "main"
	if len(args) > 0 {
		name = strings.TrimSpace(args[0])
	}

	reader := bufio.NewReader(os.Stdin)

	if existing, _ := manager.Retrieve(name); existing != nil {
		fmt.Fprintf(ui.Output, "Account '%s' already exists. Replace its token? (y/N): ", name)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return nil
		}
	}

	token, err := promptToken(reader, ui.Output)
	if err != nil {
		return err
	}

	account := &auth.Account{Name: name, AccessToken: token}
	if err := manager.Store(account); err != nil {
		return err
	}

	ui.PrintSuccess("Account saved: " + name)
	ui.PrintInfo("Token", auth.SanitizeAccount(account).AccessToken)
	fmt.Fprintf(ui.Output, "\nUse it with: vkharvest --account %s --wall <name>\n", name)
	return nil
}

// promptToken reads a token, offering the guide when asked for help
func promptToken(reader *bufio.Reader, out io.Writer) (string, error) {
	for {
		fmt.Fprint(out, "Access token (or 'help'): ")
		input, err := readSecret(reader)
		if err != nil {
			return "", fmt.Errorf("failed to read token: %w", err)
		}

		switch strings.ToLower(input) {
		case "":
			return "", errors.New("no token entered")
		case "help", "?":
			auth.ShowTokenGuide(out)
			continue
		}

		if token := auth.ExtractToken(input); token != "" {
			return token, nil
		}
		fmt.Fprintln(out, "That does not contain a token, try again.")
	}
}

// readSecret reads a line without echo when stdin is a terminal
func readSecret(reader *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		fmt.Fprintln(ui.Output)
		if err == nil {
			return strings.TrimSpace(string(secret)), nil
		}
	}

	input, err := reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && input != "") {
		return "", err
	}
	return strings.TrimSpace(input), nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	switch {
	case logoutAll:
		if err := manager.DeleteAll(); err != nil {
			return err
		}
		ui.PrintSuccess("All accounts removed")
	case len(args) == 1:
		if err := manager.Delete(args[0]); err != nil {
			return err
		}
		ui.PrintSuccess("Account removed: " + args[0])
	default:
		return errors.New("name an account or pass --all")
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	accounts, err := manager.List()
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		ui.PrintWarning("No stored accounts. Run 'vkharvest auth login' to add one.")
		return nil
	}

	printAccounts(ui.Output, accounts)
	return nil
}

func printAccounts(out io.Writer, accounts []*auth.Account) {
	for i, account := range accounts {
		sanitized := auth.SanitizeAccount(account)
		fmt.Fprintf(out, "%d. %s\n", i+1, ui.Cyan(sanitized.Name))
		fmt.Fprintf(out, "   Token: %s\n", sanitized.AccessToken)
		fmt.Fprintf(out, "   Last Modified: %s\n", sanitized.LastModified.Format("2006-01-02 15:04:05"))
	}
}
