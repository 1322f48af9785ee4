package cmd

import (
	"github.com/spf13/cobra"

	"github.com/BioHazard786/warpcall/internal/ui"
)

var flagLimit int

var historyCmd = &cobra.Command{
	Use:     "history",
	Aliases: []string{"h"},
	Short:   "Show recent calls",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		records, err := db.History(cmd.Context(), flagLimit)
		if err != nil {
			return err
		}
		ui.RenderHistory(records)
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&flagLimit, "limit", "n", 20, "Number of calls to show")
	rootCmd.AddCommand(historyCmd)
}
