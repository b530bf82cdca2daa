package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"inreach/internal/browser"
	"inreach/internal/campaign"
	"inreach/internal/config"
	"inreach/internal/locator"
	"inreach/internal/logging"
	"inreach/internal/message"
	"inreach/internal/pacer"
	"inreach/internal/quota"
	"inreach/internal/session"
	"inreach/internal/store"
	"inreach/internal/types"
	"inreach/internal/workflow"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// runFlags are the invocation-surface overrides for a run.
type runFlags struct {
	cookie   string
	store    string
	limit    int
	message  string
	mode     string
	resume   string
	email    string
	headless bool
	debug    bool
}

var runOpts runFlags

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Send connection requests or direct messages to pending profiles",
	Long: `Establishes an authenticated session with the credential cookie, falling
back to email and password sign-in when LINKEDIN_EMAIL and LINKEDIN_PASSWORD
are set, and walks the profile store in order.

--mode connect invites profiles that offer Connect. --mode message sends the
direct message to existing connections only. --mode both messages
connections and invites everyone else. Invitations and messages have
separate daily quotas.

Stops when the queue is drained, a daily quota or --limit is reached, on
Ctrl+C (after the current profile), or on an authentication or store failure.

Examples:
  inreach run --limit 10
  inreach run --store prospects.db --message "Hi {{.FirstName}}!"
  inreach run --mode both --resume https://example.com/resume.pdf`,
	RunE: runCampaign,
}

func init() {
	bindRunFlags(runCmd, &runOpts)
}

func bindRunFlags(cmd *cobra.Command, f *runFlags) {
	cmd.Flags().StringVar(&f.cookie, "cookie", "", "Session cookie (or set LINKEDIN_COOKIE)")
	cmd.Flags().StringVar(&f.store, "store", "", "Profile store (.csv, .db, .sqlite)")
	cmd.Flags().IntVarP(&f.limit, "limit", "n", 0, "Max profiles to attempt this run (0 = until quota)")
	cmd.Flags().StringVarP(&f.message, "message", "m", "", "Note template; {{.FirstName}}, {{.Name}}, {{.Organization}}")
	cmd.Flags().StringVar(&f.mode, "mode", "", "connect, message or both (default from config)")
	cmd.Flags().StringVar(&f.resume, "resume", "", "Resume link rendered as {{.Resume}} in the direct message")
	cmd.Flags().StringVar(&f.email, "email", "", "Sign-in email for the password fallback (or set LINKEDIN_EMAIL)")
	cmd.Flags().BoolVar(&f.headless, "headless", true, "Run the browser headless")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "Log every interactive candidate on each profile page")
}

// applyRunFlags overlays explicitly set flags on the loaded config.
func applyRunFlags(cmd *cobra.Command, c *config.Config, f runFlags) {
	if cmd.Flags().Changed("cookie") {
		c.Account.Cookie = f.cookie
	}
	if cmd.Flags().Changed("store") {
		c.Store.Path = f.store
	}
	if cmd.Flags().Changed("message") {
		c.Workflow.Message = f.message
	}
	if cmd.Flags().Changed("mode") {
		c.Workflow.Mode = f.mode
	}
	if cmd.Flags().Changed("resume") {
		c.Workflow.Resume = f.resume
	}
	if cmd.Flags().Changed("email") {
		c.Account.Email = f.email
	}
	if cmd.Flags().Changed("headless") {
		c.Browser.Headless = f.headless
	}
}

func runCampaign(cmd *cobra.Command, args []string) error {
	applyRunFlags(cmd, cfg, runOpts)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	auditPath := filepath.Join(filepath.Dir(configPath), "audit.jsonl")
	if err := logging.InitAudit(auditPath); err != nil {
		logging.Get(logging.CategoryBoot).Warn("audit trail disabled: %v", err)
	}

	profiles, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer profiles.Close()

	loc := newLocator(cfg)
	wf, err := newWorkflow(cfg, loc)
	if err != nil {
		return err
	}
	connects, messages := newTrackers(cfg, profiles)

	progress := make(chan campaign.Progress, 16)
	runner := campaign.NewRunner(campaign.RunnerConfig{
		Store:     profiles,
		Quota:     connects,
		Messages:  messages,
		Sessions:  newSessionManager(cfg),
		Workflow:  wf,
		Pacer:     pacer.NewRandom(cfg.GetPacingMin(), cfg.GetPacingMax()),
		Telemetry: loc,
		Progress:  progress,
		Settled:   cfg.Store.SettledStatuses,
		Token:     cfg.Account.Cookie,
		Limit:     runOpts.limit,
	})

	logger.Info("starting run",
		zap.String("store", cfg.Store.Path),
		zap.String("mode", cfg.GetMode()),
		zap.Int("daily_limit", cfg.Quota.DailyLimit),
		zap.Int("message_limit", cfg.Quota.MessageLimit),
		zap.Int("limit", runOpts.limit),
		zap.Bool("headless", cfg.Browser.Headless))

	var summary campaign.Summary
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(progress)
		var err error
		summary, err = runner.Run(gctx)
		return err
	})
	g.Go(func() error {
		for p := range progress {
			fmt.Fprintln(cmd.OutOrStdout(), renderProgress(p))
		}
		return nil
	})
	runErr := g.Wait()

	fmt.Fprintln(cmd.OutOrStdout(), renderSummary(summary))
	if runErr != nil {
		return fmt.Errorf("run stopped (%s): %w", summary.Reason, runErr)
	}
	return nil
}

func newLocator(c *config.Config) *locator.Locator {
	return locator.New(locator.Options{
		ConfidenceFloor: c.Locator.ConfidenceFloor,
		ScrollStep:      c.Locator.ScrollStep,
		RetrySettle:     c.GetRetrySettle(),
	})
}

// newWorkflow builds the workflow with both templates parsed up front so a
// bad template fails before the browser opens.
func newWorkflow(c *config.Config, loc *locator.Locator) (*workflow.Workflow, error) {
	note, err := message.NewComposer(c.Workflow.Message, c.Workflow.NoteLimit)
	if err != nil {
		return nil, err
	}
	direct, err := message.NewMessageComposer(c.Workflow.DirectMessage, 0)
	if err != nil {
		return nil, err
	}
	return workflow.New(loc, note, workflow.Options{
		SettleDelay:    c.GetSettleDelay(),
		ElementWait:    c.GetElementWait(),
		ConfirmTimeout: c.GetConfirmTimeout(),
		PollInterval:   c.GetPollInterval(),
		ScrollStep:     c.Locator.ScrollStep / 2,
		DumpCandidates: runOpts.debug,
		Mode:           workflow.Mode(c.GetMode()),
	}).WithDirectMessage(direct.WithResume(c.Workflow.Resume)), nil
}

// newTrackers returns a tracker for each action the configured mode uses.
func newTrackers(c *config.Config, profiles store.ProfileStore) (connects, messages *quota.Tracker) {
	mode := c.GetMode()
	if mode != config.ModeMessage {
		connects = quota.NewTracker(quotaStoreFor(c, profiles, types.ActionConnect), c.Quota.DailyLimit)
	}
	if mode != config.ModeConnect {
		messages = quota.NewTracker(quotaStoreFor(c, profiles, types.ActionMessage), c.Quota.MessageLimit)
	}
	return connects, messages
}

func newSessionManager(c *config.Config) *session.Manager {
	return session.NewManager(session.Options{
		BaseURL:       c.Account.BaseURL,
		AuthCheckURL:  c.AuthCheckURL(),
		CookieName:    c.Account.CookieName,
		CookieDomain:  c.Account.CookieDomain,
		LoginURL:      c.LoginURL(),
		Email:         c.Account.Email,
		Password:      c.Account.Password,
		MarkerTimeout: c.GetElementWait(),
		PollInterval:  c.GetPollInterval(),
	}, rodFactory(c))
}

func rodFactory(c *config.Config) session.DriverFactory {
	return func(ctx context.Context) (browser.Driver, error) {
		d, err := browser.NewRodDriver(ctx, browser.RodConfig{
			Bin:               c.Browser.Bin,
			Headless:          c.Browser.Headless,
			ViewportWidth:     c.Browser.ViewportWidth,
			ViewportHeight:    c.Browser.ViewportHeight,
			NavigationTimeout: c.GetNavigationTimeout(),
			UserAgent:         c.Browser.UserAgent,
			ExtraFlags:        c.Browser.ExtraFlags,
		})
		if err != nil {
			return nil, err
		}
		return d, nil
	}
}

// quotaStoreFor picks where an action's daily counter lives. The "store"
// backend keeps it next to the profiles when they are in SQLite.
func quotaStoreFor(c *config.Config, profiles store.ProfileStore, action types.Action) quota.Store {
	path := c.Quota.Path
	if action == types.ActionMessage {
		path = c.Quota.MessagePath
	}
	if c.Quota.Backend == "store" {
		if db, ok := profiles.(*store.SQLiteStore); ok {
			return db.QuotaStore(action)
		}
		logging.QuotaWarn("quota.backend=store needs a SQLite profile store; using %s", path)
	}
	return quota.NewFileStore(path)
}
