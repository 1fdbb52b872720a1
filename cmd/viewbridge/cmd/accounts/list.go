package accounts

import (
	"fmt"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/terraconstructs/viewbridge/cmd/viewbridge/cmd/cmdutil"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List host accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := cmdutil.Load(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		accounts, err := store.Accounts.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list accounts: %w", err)
		}
		if len(accounts) == 0 {
			pterm.Info.Println("No accounts")
			return nil
		}

		data := pterm.TableData{{"ID", "USERNAME", "FULL NAME", "EMAIL", "PASSWORD", "LAST LOGIN", "DISABLED"}}
		for _, a := range accounts {
			lastLogin := "never"
			if a.LastLoginAt != nil {
				lastLogin = a.LastLoginAt.Format("2006-01-02 15:04")
			}
			data = append(data, []string{
				strconv.FormatInt(a.ID, 10),
				a.DisplayUsername(),
				a.FullName,
				a.PreferredEmail,
				strconv.FormatBool(a.PasswordHash != nil),
				lastLogin,
				strconv.FormatBool(a.DisabledAt != nil),
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}
