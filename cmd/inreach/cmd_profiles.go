package main

import (
	"fmt"

	"inreach/internal/queue"
	"inreach/internal/store"

	"github.com/spf13/cobra"
)

var profilesShown int

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Summarise the profile store and list the pending queue",
	Args:  cobra.NoArgs,
	RunE:  listProfiles,
}

func init() {
	profilesCmd.Flags().IntVarP(&profilesShown, "show", "n", 20, "Pending profiles to list (0 = all)")
}

func listProfiles(cmd *cobra.Command, args []string) error {
	profiles, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer profiles.Close()

	q, stats, err := queue.Load(cmd.Context(), profiles, cfg.Store.SettledStatuses)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderQueue(stats, q.Take(profilesShown), q.Len()))
	return nil
}
