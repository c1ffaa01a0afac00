// Package cfg holds the warden service configuration.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"strings"

	"github.com/linnemanlabs/warden/internal/sweep"
)

// Backend modes selected by Config.BackendMode.
const (
	BackendREST     = "rest"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config adds service-specific fields to the common cfg.Registerable and
// cfg.Validatable interfaces.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string

	BackendURL            string
	BackendTimeoutSeconds int
	DatabaseURL           string
	DatabaseApplySchema   bool

	ClaudeAPIKey      string
	ClaudeModel       string
	ClaudeBaseURL     string
	LLMTimeoutSeconds int

	SlackWebhookURL string
	NotifyURLs      string

	MonitorSchedule string
	MonitorHours    int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on /api/v1 routes (empty = no auth)")

	fs.StringVar(&c.BackendURL, "backend-url", "", "event backend REST base URL")
	fs.IntVar(&c.BackendTimeoutSeconds, "backend-timeout-seconds", 30, "timeout for each backend call (1..600)")
	fs.BoolVar(&c.DatabaseApplySchema, "database-apply-schema", false, "create the event tables if missing (local development databases only)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL URL of the event backend database (empty with no backend-url = in-memory backend)")

	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-5", "Claude model to use")
	fs.StringVar(&c.ClaudeBaseURL, "claude-base-url", "", "override the Claude API base URL (proxies, tests)")
	fs.IntVar(&c.LLMTimeoutSeconds, "llm-timeout-seconds", 60, "timeout for each model call (1..600)")

	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for critical notifications")
	fs.StringVar(&c.NotifyURLs, "notify-urls", "", "comma-separated shoutrrr service URLs for critical notifications")

	fs.StringVar(&c.MonitorSchedule, "monitor-schedule", "", "cron schedule for the monitor sweep, e.g. \"0 6 * * *\" (empty = disabled)")
	fs.IntVar(&c.MonitorHours, "monitor-hours", 24, "lookback window in hours for scheduled sweeps (1..720)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// At most one backend
	if c.BackendURL != "" && c.DatabaseURL != "" {
		errs = append(errs, errors.New("BACKEND_URL and DATABASE_URL are mutually exclusive"))
	}
	if c.BackendURL != "" {
		if err := checkHTTPURL(c.BackendURL); err != nil {
			errs = append(errs, fmt.Errorf("invalid BACKEND_URL: %w", err))
		}
	}
	if c.DatabaseURL != "" && !strings.HasPrefix(c.DatabaseURL, "postgres://") && !strings.HasPrefix(c.DatabaseURL, "postgresql://") {
		errs = append(errs, errors.New("invalid DATABASE_URL (must start with postgres:// or postgresql://)"))
	}
	if c.DatabaseApplySchema && c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_APPLY_SCHEMA requires DATABASE_URL"))
	}
	if c.BackendTimeoutSeconds <= 0 || c.BackendTimeoutSeconds > 600 {
		errs = append(errs, fmt.Errorf("invalid BACKEND_TIMEOUT_SECONDS %d (must be 1..600)", c.BackendTimeoutSeconds))
	}

	// Claude API key is required for LLM access
	if c.ClaudeAPIKey == "" {
		errs = append(errs, errors.New("CLAUDE_API_KEY is required"))
	}

	// Claude model is required for LLM access
	if c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required"))
	}
	if c.ClaudeBaseURL != "" {
		if err := checkHTTPURL(c.ClaudeBaseURL); err != nil {
			errs = append(errs, fmt.Errorf("invalid CLAUDE_BASE_URL: %w", err))
		}
	}
	if c.LLMTimeoutSeconds <= 0 || c.LLMTimeoutSeconds > 600 {
		errs = append(errs, fmt.Errorf("invalid LLM_TIMEOUT_SECONDS %d (must be 1..600)", c.LLMTimeoutSeconds))
	}

	if c.SlackWebhookURL != "" {
		if err := checkHTTPURL(c.SlackWebhookURL); err != nil {
			errs = append(errs, fmt.Errorf("invalid SLACK_WEBHOOK_URL: %w", err))
		}
	}

	// Scheduled sweep
	if c.MonitorSchedule != "" {
		if err := sweep.ValidateSchedule(c.MonitorSchedule); err != nil {
			errs = append(errs, fmt.Errorf("invalid MONITOR_SCHEDULE: %w", err))
		}
	}
	if c.MonitorHours <= 0 || c.MonitorHours > 720 {
		errs = append(errs, fmt.Errorf("invalid MONITOR_HOURS %d (must be 1..720)", c.MonitorHours))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// BackendMode reports which event backend the configuration selects.
func (c *Config) BackendMode() string {
	switch {
	case c.BackendURL != "":
		return BackendREST
	case c.DatabaseURL != "":
		return BackendPostgres
	default:
		return BackendMemory
	}
}

// NotifyURLList splits NotifyURLs on commas, dropping empty entries.
func (c *Config) NotifyURLList() []string {
	var out []string
	for _, u := range strings.Split(c.NotifyURLs, ",") {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

func checkHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
