package accounts

import (
	"fmt"
	"net/mail"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/terraconstructs/viewbridge/cmd/viewbridge/cmd/cmdutil"
	"github.com/terraconstructs/viewbridge/internal/db/models"
	"github.com/terraconstructs/viewbridge/internal/host"
	"golang.org/x/crypto/bcrypt"
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a host account",
	RunE: func(cmd *cobra.Command, args []string) error {
		if usernameFlag == "" && fullNameFlag == "" && emailFlag == "" {
			return fmt.Errorf("an account needs at least one of --username, --full-name or --email")
		}
		if emailFlag != "" {
			if _, err := mail.ParseAddress(emailFlag); err != nil {
				return fmt.Errorf("invalid email format: %w", err)
			}
		}

		password, err := readPassword()
		if err != nil {
			return err
		}
		if password != "" && usernameFlag == "" {
			return fmt.Errorf("a password requires --username")
		}

		account := &models.Account{
			FullName:       fullNameFlag,
			PreferredEmail: emailFlag,
		}
		if usernameFlag != "" {
			username := usernameFlag
			account.Username = &username
		}
		if password != "" {
			hash, err := host.HashPassword(password, bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("failed to hash password: %w", err)
			}
			account.PasswordHash = &hash
		}

		store, err := cmdutil.Load(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Accounts.Create(cmd.Context(), account); err != nil {
			return fmt.Errorf("failed to create account: %w", err)
		}

		pterm.Success.Printf("Created account %d (%s)\n", account.ID, label(account))
		if account.PasswordHash == nil {
			pterm.Warning.Println("No password set; the account cannot use HTTP Basic or the login form")
		}
		return nil
	},
}

func label(a *models.Account) string {
	if name := a.DisplayUsername(); name != "" {
		return name
	}
	if a.FullName != "" {
		return a.FullName
	}
	return a.PreferredEmail
}
