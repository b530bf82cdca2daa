package main

import (
	"fmt"

	"inreach/internal/logging"
	"inreach/internal/store"

	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import <csv> <db>",
	Short: "Seed a SQLite profile store from a CSV export",
	Long: `Copies every row with a recognisable profile URL from the CSV into the SQLite
store, keeping existing rows. Stored statuses are carried over, so profiles
already contacted stay settled.

Example:
  inreach import linkedin-data.csv .inreach/profiles.db`,
	Args: cobra.ExactArgs(2),
	RunE: importProfiles,
}

func importProfiles(cmd *cobra.Command, args []string) error {
	src, err := store.OpenCSV(args[0])
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := store.OpenSQLite(args[1])
	if err != nil {
		return err
	}
	defer dst.Close()

	n, err := dst.Import(cmd.Context(), src)
	if err != nil {
		return fmt.Errorf("import %s: %w", args[0], err)
	}
	logging.Store("imported %d profiles from %s into %s", n, args[0], args[1])
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d profiles into %s\n", styles.Success.Render("imported"), n, args[1])
	return nil
}
