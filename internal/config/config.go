package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks for configuration.
const DefaultPath = ".inreach/config.yaml"

// NoteCeiling is the platform's hard limit for an invitation note.
const NoteCeiling = 300

// DefaultMessage is the invitation note used when none is configured.
const DefaultMessage = `Hi {{.FirstName}}! I'm a software engineer working across full stack and applied ML.

I'm exploring SDE roles{{if .Organization}} and would love to connect with folks at {{.Organization}}{{end}}. Happy to share my resume if helpful.

Thanks!`

// DefaultDirectMessage is the direct message sent to existing connections.
const DefaultDirectMessage = `Hi {{.FirstName}}! I'm an engineer actively looking for SDE, full stack and AI engineer roles.

I'd really appreciate it if you could refer me or share any openings{{if .Organization}} at {{.Organization}}{{end}}.
{{if .Resume}}
Resume: {{.Resume}}
{{end}}
Thank you for your time!`

// Workflow modes.
const (
	ModeConnect = "connect"
	ModeMessage = "message"
	ModeBoth    = "both"
)

// Config holds all inreach configuration.
type Config struct {
	Account  AccountConfig  `yaml:"account"`
	Browser  BrowserConfig  `yaml:"browser"`
	Quota    QuotaConfig    `yaml:"quota"`
	Store    StoreConfig    `yaml:"store"`
	Pacing   PacingConfig   `yaml:"pacing"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Locator  LocatorConfig  `yaml:"locator"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// AccountConfig describes the target site and the credential cookie.
type AccountConfig struct {
	BaseURL       string `yaml:"base_url"`
	AuthCheckPath string `yaml:"auth_check_path"`
	CookieName    string `yaml:"cookie_name"`
	CookieDomain  string `yaml:"cookie_domain"`
	Cookie        string `yaml:"cookie,omitempty"`
	LoginPath     string `yaml:"login_path"`
	Email         string `yaml:"email,omitempty"`
	Password      string `yaml:"password,omitempty"`
}

// BrowserConfig configures the Chrome instance.
type BrowserConfig struct {
	Headless          bool     `yaml:"headless"`
	Bin               string   `yaml:"bin,omitempty"`
	ViewportWidth     int      `yaml:"viewport_width"`
	ViewportHeight    int      `yaml:"viewport_height"`
	NavigationTimeout string   `yaml:"navigation_timeout"`
	UserAgent         string   `yaml:"user_agent,omitempty"`
	ExtraFlags        []string `yaml:"extra_flags,omitempty"`
}

// QuotaConfig configures the daily limits. Invitations and direct messages
// are counted separately.
type QuotaConfig struct {
	DailyLimit   int    `yaml:"daily_limit"`
	Path         string `yaml:"path"`
	MessageLimit int    `yaml:"message_limit"`
	MessagePath  string `yaml:"message_path"`
	Backend      string `yaml:"backend"` // file, store
}

// StoreConfig locates the profile store.
type StoreConfig struct {
	Path            string   `yaml:"path"` // .csv or .db/.sqlite
	SettledStatuses []string `yaml:"settled_statuses"`
}

// PacingConfig bounds the randomized delay between attempts.
type PacingConfig struct {
	Min string `yaml:"min"`
	Max string `yaml:"max"`
}

// WorkflowConfig tunes the per-profile state machine.
type WorkflowConfig struct {
	SettleDelay    string `yaml:"settle_delay"`
	ElementWait    string `yaml:"element_wait"`
	ConfirmTimeout string `yaml:"confirm_timeout"`
	PollInterval   string `yaml:"poll_interval"`
	NoteLimit      int    `yaml:"note_limit"`
	Message        string `yaml:"message"`
	Mode           string `yaml:"mode"` // connect, message, both
	DirectMessage  string `yaml:"direct_message"`
	Resume         string `yaml:"resume,omitempty"`
}

// LocatorConfig tunes the fallback chain.
type LocatorConfig struct {
	ConfidenceFloor float64 `yaml:"confidence_floor"`
	ScrollStep      int     `yaml:"scroll_step"`
	RetrySettle     string  `yaml:"retry_settle"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Account: AccountConfig{
			BaseURL:       "https://www.linkedin.com",
			AuthCheckPath: "/feed/",
			CookieName:    "li_at",
			CookieDomain:  ".linkedin.com",
			LoginPath:     "/login",
		},
		Browser: BrowserConfig{
			Headless:          true,
			ViewportWidth:     1920,
			ViewportHeight:    1080,
			NavigationTimeout: "60s",
		},
		Quota: QuotaConfig{
			DailyLimit:   25,
			Path:         ".inreach/quota.json",
			MessageLimit: 25,
			MessagePath:  ".inreach/quota-messages.json",
			Backend:      "file",
		},
		Store: StoreConfig{
			Path:            "linkedin-data.csv",
			SettledStatuses: []string{"sent", "connect_sent", "dm_sent", "messaged", "message_sent"},
		},
		Pacing: PacingConfig{
			Min: "5s",
			Max: "12s",
		},
		Workflow: WorkflowConfig{
			SettleDelay:    "2s",
			ElementWait:    "10s",
			ConfirmTimeout: "8s",
			PollInterval:   "250ms",
			NoteLimit:      NoteCeiling,
			Message:        DefaultMessage,
			Mode:           ModeConnect,
			DirectMessage:  DefaultDirectMessage,
		},
		Locator: LocatorConfig{
			ConfidenceFloor: 0.5,
			ScrollStep:      600,
			RetrySettle:     "1500ms",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file. The cookie and password are never
// written.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	out := *c
	out.Account.Cookie = ""
	out.Account.Password = ""
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("LINKEDIN_COOKIE"); v != "" {
		c.Account.Cookie = strings.TrimSpace(v)
	}
	if v := os.Getenv("LINKEDIN_EMAIL"); v != "" {
		c.Account.Email = strings.TrimSpace(v)
	}
	if v := os.Getenv("LINKEDIN_PASSWORD"); v != "" {
		c.Account.Password = v
	}
	if v := os.Getenv("INREACH_STORE"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("INREACH_QUOTA_FILE"); v != "" {
		c.Quota.Path = v
	}
	if v := os.Getenv("INREACH_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Browser.Headless = b
		}
	}
	if v := os.Getenv("INREACH_DAILY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Quota.DailyLimit = n
		}
	}
	if v := os.Getenv("INREACH_MESSAGE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Quota.MessageLimit = n
		}
	}
	if v := os.Getenv("INREACH_MESSAGE"); v != "" {
		c.Workflow.Message = v
	}
	if v := os.Getenv("INREACH_MODE"); v != "" {
		c.Workflow.Mode = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("INREACH_RESUME"); v != "" {
		c.Workflow.Resume = strings.TrimSpace(v)
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Account.BaseURL == "" {
		return fmt.Errorf("account.base_url must be set")
	}
	if c.Account.CookieName == "" {
		return fmt.Errorf("account.cookie_name must be set")
	}
	if c.Quota.DailyLimit < 1 {
		return fmt.Errorf("quota.daily_limit must be >= 1")
	}
	if c.Quota.MessageLimit < 1 {
		return fmt.Errorf("quota.message_limit must be >= 1")
	}
	switch c.Quota.Backend {
	case "", "file", "store":
	default:
		return fmt.Errorf("invalid quota.backend: %s (valid: file, store)", c.Quota.Backend)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must be set")
	}
	if c.Workflow.NoteLimit < 1 || c.Workflow.NoteLimit > NoteCeiling {
		return fmt.Errorf("workflow.note_limit must be between 1 and %d", NoteCeiling)
	}
	switch c.Workflow.Mode {
	case "", ModeConnect, ModeMessage, ModeBoth:
	default:
		return fmt.Errorf("invalid workflow.mode: %s (valid: connect, message, both)", c.Workflow.Mode)
	}
	if c.Locator.ConfidenceFloor <= 0 || c.Locator.ConfidenceFloor > 1 {
		return fmt.Errorf("locator.confidence_floor must be in (0, 1]")
	}
	if min, max := c.GetPacingMin(), c.GetPacingMax(); max < min {
		return fmt.Errorf("pacing.max (%s) must not be below pacing.min (%s)", max, min)
	}
	return nil
}

// AuthCheckURL is the authenticated-only page used to validate a session.
func (c *Config) AuthCheckURL() string {
	return strings.TrimRight(c.Account.BaseURL, "/") + "/" + strings.TrimLeft(c.Account.AuthCheckPath, "/")
}

// LoginURL is the email and password sign-in page.
func (c *Config) LoginURL() string {
	return strings.TrimRight(c.Account.BaseURL, "/") + "/" + strings.TrimLeft(c.Account.LoginPath, "/")
}

// HasPassword reports whether email and password sign-in is configured.
func (c *Config) HasPassword() bool {
	return c.Account.Email != "" && c.Account.Password != ""
}

// GetMode returns the workflow mode, defaulting to connect.
func (c *Config) GetMode() string {
	if c.Workflow.Mode == "" {
		return ModeConnect
	}
	return c.Workflow.Mode
}

// GetNavigationTimeout returns the page navigation timeout.
func (c *Config) GetNavigationTimeout() time.Duration {
	return parseDuration(c.Browser.NavigationTimeout, 60*time.Second)
}

// GetPacingMin returns the lower pacing bound.
func (c *Config) GetPacingMin() time.Duration {
	return parseDuration(c.Pacing.Min, 5*time.Second)
}

// GetPacingMax returns the upper pacing bound.
func (c *Config) GetPacingMax() time.Duration {
	return parseDuration(c.Pacing.Max, 12*time.Second)
}

// GetSettleDelay returns the post-navigation settle delay.
func (c *Config) GetSettleDelay() time.Duration {
	return parseDuration(c.Workflow.SettleDelay, 2*time.Second)
}

// GetElementWait returns how long to wait for a dialog or control to appear.
func (c *Config) GetElementWait() time.Duration {
	return parseDuration(c.Workflow.ElementWait, 10*time.Second)
}

// GetConfirmTimeout returns the bounded wait for a post-submit confirmation.
func (c *Config) GetConfirmTimeout() time.Duration {
	return parseDuration(c.Workflow.ConfirmTimeout, 8*time.Second)
}

// GetPollInterval returns the page polling interval used by waits.
func (c *Config) GetPollInterval() time.Duration {
	return parseDuration(c.Workflow.PollInterval, 250*time.Millisecond)
}

// GetRetrySettle returns the delay after the locator's scroll retry.
func (c *Config) GetRetrySettle() time.Duration {
	return parseDuration(c.Locator.RetrySettle, 1500*time.Millisecond)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}
