package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/warpcall/internal/identity"
	"github.com/BioHazard786/warpcall/internal/store"
	"github.com/BioHazard786/warpcall/internal/ui"
)

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "Manage the names shown for callers",
}

var contactsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List contacts",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		contacts, err := db.Contacts(cmd.Context())
		if err != nil {
			return err
		}
		ui.RenderContacts(contacts)
		return nil
	},
}

var contactsAddCmd = &cobra.Command{
	Use:   "add <identity> <name...>",
	Short: "Add or rename a contact",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := identity.Normalize(args[0])
		name := strings.Join(args[1:], " ")

		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.PutContact(cmd.Context(), store.Contact{ID: id, DisplayName: name}); err != nil {
			return err
		}
		ui.PrintSuccessf("Saved %s as %q", id, name)
		return nil
	},
}

var contactsRemoveCmd = &cobra.Command{
	Use:     "remove <identity>",
	Aliases: []string{"rm"},
	Short:   "Remove a contact",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := identity.Normalize(args[0])

		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.RemoveContact(cmd.Context(), id); err != nil {
			return fmt.Errorf("remove %s: %w", id, err)
		}
		ui.PrintSuccessf("Removed %s", id)
		return nil
	},
}

func init() {
	contactsCmd.AddCommand(contactsListCmd, contactsAddCmd, contactsRemoveCmd)
	rootCmd.AddCommand(contactsCmd)
}
