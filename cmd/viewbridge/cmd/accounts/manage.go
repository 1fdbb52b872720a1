package accounts

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/terraconstructs/viewbridge/cmd/viewbridge/cmd/cmdutil"
	"github.com/terraconstructs/viewbridge/internal/db/models"
	"github.com/terraconstructs/viewbridge/internal/host"
	"golang.org/x/crypto/bcrypt"
)

var passwdCmd = &cobra.Command{
	Use:   "passwd [username]",
	Short: "Set the password of an account and sign out its sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword()
		if err != nil {
			return err
		}
		if password == "" {
			return fmt.Errorf("password is required (use --password or --stdin)")
		}
		hash, err := host.HashPassword(password, bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}

		return withAccount(cmd.Context(), args[0], func(ctx context.Context, store *cmdutil.HostStore, a *models.Account) error {
			if err := store.Accounts.SetPassword(ctx, a.ID, hash); err != nil {
				return fmt.Errorf("failed to set password: %w", err)
			}
			if err := store.Sessions.RevokeByAccountID(ctx, a.ID); err != nil {
				return fmt.Errorf("failed to revoke sessions: %w", err)
			}
			pterm.Success.Printf("Password updated for %s\n", args[0])
			return nil
		})
	},
}

var disableCmd = &cobra.Command{
	Use:   "disable [username]",
	Short: "Disable an account and sign out its sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAccount(cmd.Context(), args[0], func(ctx context.Context, store *cmdutil.HostStore, a *models.Account) error {
			if err := store.Accounts.SetDisabled(ctx, a.ID, true); err != nil {
				return fmt.Errorf("failed to disable account: %w", err)
			}
			if err := store.Sessions.RevokeByAccountID(ctx, a.ID); err != nil {
				return fmt.Errorf("failed to revoke sessions: %w", err)
			}
			pterm.Success.Printf("Disabled %s\n", args[0])
			return nil
		})
	},
}

var enableCmd = &cobra.Command{
	Use:   "enable [username]",
	Short: "Re-enable a disabled account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAccount(cmd.Context(), args[0], func(ctx context.Context, store *cmdutil.HostStore, a *models.Account) error {
			if err := store.Accounts.SetDisabled(ctx, a.ID, false); err != nil {
				return fmt.Errorf("failed to enable account: %w", err)
			}
			pterm.Success.Printf("Enabled %s\n", args[0])
			return nil
		})
	},
}

func withAccount(ctx context.Context, username string, fn func(context.Context, *cmdutil.HostStore, *models.Account) error) error {
	store, err := cmdutil.Load(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	account, err := store.Accounts.GetByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("account %q: %w", username, err)
	}
	return fn(ctx, store, account)
}
