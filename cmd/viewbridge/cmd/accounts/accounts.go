package accounts

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	usernameFlag string
	fullNameFlag string
	emailFlag    string
	passwordFlag string
	stdinFlag    bool
)

// AccountsCmd is the parent command for host account management
var AccountsCmd = &cobra.Command{
	Use:     "account",
	Aliases: []string{"accounts"},
	Short:   "Manage host accounts",
	Long:    `Commands for managing the host accounts that sign in to the viewer.`,
}

func init() {
	createCmd.Flags().StringVar(&usernameFlag, "username", "", "Login name of the account (omit for an unnamed account)")
	createCmd.Flags().StringVar(&fullNameFlag, "full-name", "", "Display name of the account")
	createCmd.Flags().StringVar(&emailFlag, "email", "", "Preferred email address")
	createCmd.Flags().StringVar(&passwordFlag, "password", "", "Password (use --stdin to avoid shell history)")
	createCmd.Flags().BoolVar(&stdinFlag, "stdin", false, "Read password from stdin instead of --password flag")

	passwdCmd.Flags().StringVar(&passwordFlag, "password", "", "New password (use --stdin to avoid shell history)")
	passwdCmd.Flags().BoolVar(&stdinFlag, "stdin", false, "Read password from stdin instead of --password flag")

	AccountsCmd.AddCommand(createCmd)
	AccountsCmd.AddCommand(passwdCmd)
	AccountsCmd.AddCommand(disableCmd)
	AccountsCmd.AddCommand(enableCmd)
	AccountsCmd.AddCommand(listCmd)
}

func readPassword() (string, error) {
	if !stdinFlag {
		return passwordFlag, nil
	}
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("Enter password: ")
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return "", nil
}
