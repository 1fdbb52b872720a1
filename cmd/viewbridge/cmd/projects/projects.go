package projects

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/terraconstructs/viewbridge/cmd/viewbridge/cmd/cmdutil"
	"github.com/terraconstructs/viewbridge/internal/auth"
	"github.com/terraconstructs/viewbridge/internal/db/models"
	"github.com/terraconstructs/viewbridge/internal/repository"
)

var descriptionFlag string

// ProjectsCmd is the parent command for the host's repository registry
var ProjectsCmd = &cobra.Command{
	Use:     "project",
	Aliases: []string{"projects"},
	Short:   "Manage the repositories known to the host",
}

var addCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Register a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := auth.StripDotGit(args[0])
		if name == "" {
			return fmt.Errorf("project name must not be empty")
		}

		store, err := cmdutil.Load(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Projects.Create(cmd.Context(), &models.Project{Name: name, Description: descriptionFlag}); err != nil {
			return fmt.Errorf("failed to add project: %w", err)
		}
		pterm.Success.Printf("Registered %s\n", name)
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove [name]",
	Short: "Unregister a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := auth.StripDotGit(args[0])

		store, err := cmdutil.Load(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Projects.Delete(cmd.Context(), name); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("project %q is not registered", name)
			}
			return fmt.Errorf("failed to remove project: %w", err)
		}
		pterm.Success.Printf("Removed %s\n", name)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered repositories",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := cmdutil.Load(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		projects, err := store.Projects.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list projects: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tDESCRIPTION\tCREATED_AT")
		for _, p := range projects {
			fmt.Fprintf(w, "%s\t%s\t%s\n", p.Name, p.Description, p.CreatedAt.Format("2006-01-02"))
		}
		return w.Flush()
	},
}

func init() {
	addCmd.Flags().StringVar(&descriptionFlag, "description", "", "Short description shown in the viewer")

	ProjectsCmd.AddCommand(addCmd)
	ProjectsCmd.AddCommand(removeCmd)
	ProjectsCmd.AddCommand(listCmd)
}
