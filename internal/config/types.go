package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config is the top-level shepherd configuration.
type Config struct {
	Server   ServerConfig   `json:"server"`
	GitHub   GitHubConfig   `json:"github"`
	Agent    AgentConfig    `json:"agent"`
	Review   ReviewConfig   `json:"review"`
	CI       CIConfig       `json:"ci"`
	Checkout CheckoutConfig `json:"checkout"`
	Gate     GateConfig     `json:"gate"`
	Bot      BotConfig      `json:"bot"`
}

// ServerConfig holds daemon settings.
type ServerConfig struct {
	PollInterval string `json:"poll_interval"`
	Port         int    `json:"port"`
	LogDir       string `json:"log_dir"`
}

// ParsePollInterval returns the poll interval as a time.Duration.
func (s ServerConfig) ParsePollInterval() time.Duration {
	return parseDuration(s.PollInterval, 2*time.Minute)
}

// GitHubConfig identifies the hosting account and watched repositories.
type GitHubConfig struct {
	Token string `json:"token"`
	Owner string `json:"owner"`
	// Repos is the list of repository names under Owner to poll.
	Repos []string `json:"repos"`
}

// AgentConfig controls the external analysis/fix agent invocation.
type AgentConfig struct {
	// Bin is the agent executable; Args are prepended to every invocation.
	Bin             string   `json:"bin"`
	Args            []string `json:"args"`
	ReviewTimeout   string   `json:"review_timeout"`
	FixTimeout      string   `json:"fix_timeout"`
	ConflictTimeout string   `json:"conflict_timeout"`
}

// ParseReviewTimeout returns the per-review-pass agent timeout.
func (a AgentConfig) ParseReviewTimeout() time.Duration {
	return parseDuration(a.ReviewTimeout, 10*time.Minute)
}

// ParseFixTimeout returns the fix-pass agent timeout.
func (a AgentConfig) ParseFixTimeout() time.Duration {
	return parseDuration(a.FixTimeout, 15*time.Minute)
}

// ParseConflictTimeout returns the conflict-resolution-pass agent timeout.
func (a AgentConfig) ParseConflictTimeout() time.Duration {
	return parseDuration(a.ConflictTimeout, 10*time.Minute)
}

// ReviewConfig bounds the fix/review loop.
type ReviewConfig struct {
	MaxCycles int `json:"max_cycles"`
}

// CIConfig holds CI-wait settings.
type CIConfig struct {
	// Timeout is measured from the head commit's own timestamp, not from
	// when the daemon started watching.
	Timeout string `json:"timeout"`
}

// ParseTimeout returns the CI wait timeout.
func (c CIConfig) ParseTimeout() time.Duration {
	return parseDuration(c.Timeout, 45*time.Minute)
}

// CheckoutConfig controls the working-checkout tree.
type CheckoutConfig struct {
	Root   string `json:"root"`
	Retain int    `json:"retain"`
}

// GateConfig controls the build/test gate.
type GateConfig struct {
	CommandTimeout string `json:"command_timeout"`
	// MaxOutput caps how much gate output is surfaced in a PR comment.
	MaxOutput int `json:"max_output"`
}

// ParseCommandTimeout returns the per-command gate timeout.
func (g GateConfig) ParseCommandTimeout() time.Duration {
	return parseDuration(g.CommandTimeout, 10*time.Minute)
}

// BotConfig is the commit identity used when pushing fixes.
type BotConfig struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			PollInterval: "2m",
			Port:         7433,
			LogDir:       "~/.local/share/shepherd/logs",
		},
		Agent: AgentConfig{
			Bin:             "opencode",
			Args:            []string{"run"},
			ReviewTimeout:   "10m",
			FixTimeout:      "15m",
			ConflictTimeout: "10m",
		},
		Review: ReviewConfig{
			MaxCycles: 5,
		},
		CI: CIConfig{
			Timeout: "45m",
		},
		Checkout: CheckoutConfig{
			Root:   defaultCheckoutRoot(),
			Retain: 5,
		},
		Gate: GateConfig{
			CommandTimeout: "10m",
			MaxOutput:      8000,
		},
		Bot: BotConfig{
			Name:  "shepherd[bot]",
			Email: "shepherd-bot@users.noreply.github.com",
		},
	}
}

func defaultCheckoutRoot() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			return filepath.Join(os.TempDir(), "shepherd", "checkouts")
		}
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "shepherd", "checkouts")
}
