package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"


	"github.com/spf13/cobra"
)

var inspectHeadless bool

var inspectCmd = &cobra.Command{
	Use:   "inspect <profile-url>",
	Short: "Show how every control resolves on a profile page without clicking",
	Long: `Opens an authenticated session, loads the page and reports the relationship
classification, which strategy found each control, and every interactive
candidate. Use it when sends start failing after a site update.`,
	Args: cobra.ExactArgs(1),
	RunE: inspectProfile,
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectHeadless, "headless", true, "Run the browser headless")
}

func inspectProfile(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("headless") {
		cfg.Browser.Headless = inspectHeadless
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := newSessionManager(cfg).Establish(ctx, cfg.Account.Cookie)
	if err != nil {
		return err
	}
	defer sess.Close()

	wf, err := newWorkflow(cfg, newLocator(cfg))
	if err != nil {
		return err
	}

	rep, err := wf.Inspect(ctx, sess.Driver, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderReport(rep))
	return nil
}
