package main

import (
	"fmt"

	"inreach/internal/quota"
	"inreach/internal/store"
	"inreach/internal/types"

	"github.com/spf13/cobra"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show today's invitation and message counts and remaining quota",
	Args:  cobra.NoArgs,
	RunE:  showQuota,
}

func showQuota(cmd *cobra.Command, args []string) error {
	var profiles store.ProfileStore
	if cfg.Quota.Backend == "store" {
		p, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer p.Close()
		profiles = p
	}

	limits := []struct {
		action types.Action
		limit  int
	}{
		{types.ActionConnect, cfg.Quota.DailyLimit},
		{types.ActionMessage, cfg.Quota.MessageLimit},
	}
	for _, l := range limits {
		rec, err := quota.NewTracker(quotaStoreFor(cfg, profiles, l.action), l.limit).Status(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderQuota(l.action, rec))
	}
	return nil
}
