package policy

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/hashicorp/go-bexpr"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/terraconstructs/viewbridge/cmd/viewbridge/cmd/cmdutil"
	"github.com/terraconstructs/viewbridge/internal/host"
)

var whenFlag string

// PolicyCmd is the parent command for host access rules
var PolicyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage host access rules",
	Long: `Commands for editing the access rules the host evaluates for every viewer check.

Subjects are account usernames, user:<id>, "anonymous", "registered" or group:<name>.
Objects are project names, project:<pattern> or ref:<project>:<ref pattern>.
Actions are read, upload-pack, receive-pack or *.

A running server picks up changes within host.policy_refresh.`,
}

var grantCmd = &cobra.Command{
	Use:   "grant [subject] [object] [action]",
	Short: "Allow subject to perform action on object",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return addRule(cmd.Context(), args, false)
	},
}

var denyCmd = &cobra.Command{
	Use:   "deny [subject] [object] [action]",
	Short: "Deny subject action on object; denials win over grants",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return addRule(cmd.Context(), args, true)
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke [subject] [object]",
	Short: "Remove every rule of subject on object",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := cmdutil.Load(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		subject, err := resolveSubject(cmd.Context(), store, args[0])
		if err != nil {
			return err
		}
		removed, err := store.Authorizer.Revoke(subject, object(args[1]))
		if err != nil {
			return fmt.Errorf("failed to revoke: %w", err)
		}
		if !removed {
			pterm.Warning.Printf("No rules for %s on %s\n", subject, object(args[1]))
			return nil
		}
		pterm.Success.Printf("Revoked %s on %s\n", subject, object(args[1]))
		return nil
	},
}

var memberCmd = &cobra.Command{
	Use:   "member",
	Short: "Manage group membership",
}

var memberAddCmd = &cobra.Command{
	Use:   "add [account] [group]",
	Short: "Add an account to a group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return membership(cmd.Context(), args, true)
	},
}

var memberRemoveCmd = &cobra.Command{
	Use:   "remove [account] [group]",
	Short: "Remove an account from a group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return membership(cmd.Context(), args, false)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List access rules and group memberships",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := cmdutil.Load(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		rules, err := store.Authorizer.Rules(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list rules: %w", err)
		}

		perms := pterm.TableData{{"SUBJECT", "OBJECT", "ACTION", "EFFECT", "CONDITION"}}
		members := pterm.TableData{{"MEMBER", "GROUP"}}
		for _, r := range rules {
			switch r.Ptype {
			case "p":
				perms = append(perms, []string{r.V0, r.V1, r.V2, r.V4, r.V3})
			case "g":
				members = append(members, []string{r.V0, r.V1})
			}
		}

		pterm.DefaultSection.Println("Access rules")
		if err := pterm.DefaultTable.WithHasHeader().WithData(perms).Render(); err != nil {
			return err
		}
		if len(members) > 1 {
			pterm.DefaultSection.Println("Group members")
			return pterm.DefaultTable.WithHasHeader().WithData(members).Render()
		}
		return nil
	},
}

func init() {
	grantCmd.Flags().StringVar(&whenFlag, "when", "", `Condition over project, ref, kind and action, e.g. 'ref matches "refs/heads/.*"'`)
	denyCmd.Flags().StringVar(&whenFlag, "when", "", "Condition over project, ref, kind and action")

	memberCmd.AddCommand(memberAddCmd)
	memberCmd.AddCommand(memberRemoveCmd)

	PolicyCmd.AddCommand(grantCmd)
	PolicyCmd.AddCommand(denyCmd)
	PolicyCmd.AddCommand(revokeCmd)
	PolicyCmd.AddCommand(memberCmd)
	PolicyCmd.AddCommand(listCmd)
}

func addRule(ctx context.Context, args []string, deny bool) error {
	action := host.Action(args[2])
	switch action {
	case host.ActionRead, host.ActionUploadPack, host.ActionReceivePack, "*":
	default:
		return fmt.Errorf("unknown action %q", args[2])
	}
	if whenFlag != "" {
		if _, err := bexpr.CreateEvaluator(whenFlag); err != nil {
			return fmt.Errorf("invalid --when condition: %w", err)
		}
	}

	store, err := cmdutil.Load(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	subject, err := resolveSubject(ctx, store, args[0])
	if err != nil {
		return err
	}
	obj := object(args[1])

	var added bool
	if deny {
		added, err = store.Authorizer.Deny(subject, obj, action, whenFlag)
	} else {
		added, err = store.Authorizer.Grant(subject, obj, action, whenFlag)
	}
	if err != nil {
		return fmt.Errorf("failed to store rule: %w", err)
	}
	if !added {
		pterm.Info.Println("Rule already present")
		return nil
	}

	effect := "Granted"
	if deny {
		effect = "Denied"
	}
	pterm.Success.Printf("%s %s %s on %s\n", effect, subject, action, obj)
	return nil
}

func membership(ctx context.Context, args []string, add bool) error {
	store, err := cmdutil.Load(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	member, err := resolveSubject(ctx, store, args[0])
	if err != nil {
		return err
	}
	if !strings.HasPrefix(member, "user:") {
		return fmt.Errorf("only accounts can join groups, got %s", member)
	}
	group := args[1]
	if !strings.HasPrefix(group, "group:") {
		group = "group:" + group
	}

	var changed bool
	if add {
		changed, err = store.Authorizer.AddMember(member, group)
	} else {
		changed, err = store.Authorizer.RemoveMember(member, group)
	}
	if err != nil {
		return fmt.Errorf("failed to update membership: %w", err)
	}
	if !changed {
		pterm.Info.Println("Membership unchanged")
		return nil
	}
	pterm.Success.Printf("Updated %s in %s\n", member, group)
	return nil
}

// resolveSubject turns a CLI subject into a casbin subject. Usernames map to
// the account's user:<id> subject.
func resolveSubject(ctx context.Context, store *cmdutil.HostStore, arg string) (string, error) {
	switch arg {
	case "anonymous":
		return host.GroupAnonymousUsers, nil
	case "registered":
		return host.GroupRegisteredUsers, nil
	}
	if strings.HasPrefix(arg, "group:") {
		return arg, nil
	}

	name := strings.TrimPrefix(arg, "user:")
	if _, err := strconv.ParseInt(name, 10, 64); err == nil && name != arg {
		return arg, nil
	}
	account, err := store.Accounts.GetByUsername(ctx, name)
	if err != nil {
		return "", fmt.Errorf("account %q: %w", name, err)
	}
	return (&host.Principal{AccountID: account.ID, Identified: true}).Subject(), nil
}

func object(arg string) string {
	if strings.HasPrefix(arg, "project:") || strings.HasPrefix(arg, "ref:") {
		return arg
	}
	return "project:" + arg
}
