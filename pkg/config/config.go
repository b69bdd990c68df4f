// Package config resolves the immutable runtime configuration.
//
// Sources are layered in precedence order: built-in defaults, an optional
// autopilot.yaml in the project's .planning/ directory, environment
// variables (including a best-effort .env), and finally CLI flags. The
// resolved Config is validated once at startup and never mutated after.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	// ProjectDir is the repository the workflow operates on.
	ProjectDir string `yaml:"project_dir"`

	// PRDPath points at the product brief. Required unless resuming.
	PRDPath string `yaml:"prd"`

	// Port for the loopback response surface. Zero means derive a stable
	// per-repository default.
	Port int `yaml:"port"`

	// TunnelURL is an optional externally reachable base URL used in
	// notification respond links instead of the loopback address.
	TunnelURL string `yaml:"tunnel_url"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	SkipDiscuss bool         `yaml:"skip_discuss"`
	SkipVerify  bool         `yaml:"skip_verify"`
	Resume      bool         `yaml:"resume"`
	AutoAnswer  bool         `yaml:"auto_answer"`
	Phases      PhaseRange   `yaml:"phases"`
	Depth       Depth        `yaml:"depth"`
	Model       ModelProfile `yaml:"model"`

	Agent  AgentConfig  `yaml:"agent"`
	Notify NotifyConfig `yaml:"notify"`
	IPC    IPCConfig    `yaml:"ipc"`
	Log    LogConfig    `yaml:"log"`
}

// AgentConfig controls how workflow commands run against the agent runtime.
type AgentConfig struct {
	// Command is the agent CLI binary.
	Command string `yaml:"command"`

	// CommandTimeout bounds one workflow command.
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// MaxGapIterations bounds the verify gap loop before promoting to a
	// human decision.
	MaxGapIterations int `yaml:"max_gap_iterations"`
}

// NotifyConfig controls outbound notification channels.
type NotifyConfig struct {
	// Channels lists the adapters to register.
	Channels []Channel `yaml:"channels"`

	// WebhookURL receives the generic JSON payload (webhook channel) or the
	// Slack message (slack channel).
	WebhookURL string `yaml:"webhook_url"`

	// ReminderInterval is the one-shot reminder delay for unanswered
	// questions.
	ReminderInterval time.Duration `yaml:"reminder_interval"`

	// VAPID keys enable the webpush channel.
	VAPIDPublicKey  string `yaml:"vapid_public_key"`
	VAPIDPrivateKey string `yaml:"vapid_private_key"`
	VAPIDSubject    string `yaml:"vapid_subject"`
}

// IPCConfig controls the file-based channel to the dashboard process.
type IPCConfig struct {
	// HeartbeatInterval is how often the liveness stamp is rewritten.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// HeartbeatStale is the age past which a reader treats the core as dead.
	HeartbeatStale time.Duration `yaml:"heartbeat_stale"`

	// AnswerPollInterval is the answers directory scan cadence.
	AnswerPollInterval time.Duration `yaml:"answer_poll_interval"`
}

// LogConfig controls the ring-buffered event log.
type LogConfig struct {
	// RingCapacity is the in-memory recent-entry buffer size.
	RingCapacity int `yaml:"ring_capacity"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Depth:    DepthStandard,
		Model:    ModelBalanced,
		Phases:   PhaseRange{},
		Agent:    DefaultAgentConfig(),
		Notify:   DefaultNotifyConfig(),
		IPC:      DefaultIPCConfig(),
		Log:      DefaultLogConfig(),
	}
}

// DefaultAgentConfig returns the built-in agent defaults.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Command:          "claude",
		CommandTimeout:   10 * time.Minute,
		MaxGapIterations: 3,
	}
}

// DefaultNotifyConfig returns the built-in notification defaults.
func DefaultNotifyConfig() NotifyConfig {
	return NotifyConfig{
		ReminderInterval: 5 * time.Minute,
	}
}

// DefaultIPCConfig returns the built-in IPC defaults.
func DefaultIPCConfig() IPCConfig {
	return IPCConfig{
		HeartbeatInterval:  2 * time.Second,
		HeartbeatStale:     10 * time.Second,
		AnswerPollInterval: 500 * time.Millisecond,
	}
}

// DefaultLogConfig returns the built-in log defaults.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		RingCapacity: 1000,
	}
}

// Overrides carries CLI flag values. Nil pointers mean the flag was not set,
// so lower-precedence sources stay in effect.
type Overrides struct {
	ProjectDir  *string
	PRDPath     *string
	Port        *int
	TunnelURL   *string
	LogLevel    *string
	SkipDiscuss *bool
	SkipVerify  *bool
	Resume      *bool
	AutoAnswer  *bool
	Phases      *string
	Depth       *string
	Model       *string
	Notify      *string
	WebhookURL  *string
}

// Resolve layers defaults, the optional YAML file, environment variables,
// and flag overrides into a validated Config.
//
// Steps performed:
//  1. Start from built-in defaults
//  2. Merge the YAML file (env vars expanded) when present
//  3. Apply environment variables
//  4. Apply CLI flag overrides
//  5. Derive the port when none was set
//  6. Validate
func Resolve(configPath string, overrides Overrides) (*Config, error) {
	cfg := DefaultConfig()

	// 2. YAML layer. The file is optional unless explicitly named.
	if overrides.ProjectDir != nil && configPath == "" {
		candidate := filepath.Join(*overrides.ProjectDir, ".planning", "autopilot.yaml")
		if _, err := os.Stat(candidate); err == nil {
			configPath = candidate
		}
	}
	if configPath != "" {
		fileCfg, err := loadYAML(configPath)
		if err != nil {
			return nil, err
		}
		if err := mergo.Merge(cfg, fileCfg, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging %s: %w", configPath, err)
		}
	}

	// 3. Environment layer.
	applyEnv(cfg)

	// 4. Flag layer.
	if err := applyOverrides(cfg, overrides); err != nil {
		return nil, err
	}

	// 5. Stable per-repository default port.
	if cfg.Port == 0 && cfg.ProjectDir != "" {
		cfg.Port = DerivePort(cfg.ProjectDir)
	}

	// 6. Validate.
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewLoadError(path, err)
	}
	data = ExpandEnv(data)

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}
	return &fileCfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("GSD_NOTIFY_CHANNEL"); v != "" {
		cfg.Notify.Channels = parseChannels(v)
	}
	if v := os.Getenv("GSD_WEBHOOK_URL"); v != "" {
		cfg.Notify.WebhookURL = v
	}
	if v := os.Getenv("GSD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("VAPID_PUBLIC_KEY"); v != "" {
		cfg.Notify.VAPIDPublicKey = v
	}
	if v := os.Getenv("VAPID_PRIVATE_KEY"); v != "" {
		cfg.Notify.VAPIDPrivateKey = v
	}
	if v := os.Getenv("VAPID_SUBJECT"); v != "" {
		cfg.Notify.VAPIDSubject = v
	}
}

func applyOverrides(cfg *Config, o Overrides) error {
	if o.ProjectDir != nil {
		abs, err := filepath.Abs(*o.ProjectDir)
		if err != nil {
			return NewValidationError("project-dir", fmt.Errorf("%w: %v", ErrInvalidValue, err))
		}
		cfg.ProjectDir = abs
	}
	if o.PRDPath != nil {
		cfg.PRDPath = *o.PRDPath
	}
	if o.Port != nil {
		cfg.Port = *o.Port
	}
	if o.TunnelURL != nil {
		cfg.TunnelURL = *o.TunnelURL
	}
	if o.LogLevel != nil {
		cfg.LogLevel = *o.LogLevel
	}
	if o.SkipDiscuss != nil {
		cfg.SkipDiscuss = *o.SkipDiscuss
	}
	if o.SkipVerify != nil {
		cfg.SkipVerify = *o.SkipVerify
	}
	if o.Resume != nil {
		cfg.Resume = *o.Resume
	}
	if o.AutoAnswer != nil {
		cfg.AutoAnswer = *o.AutoAnswer
	}
	if o.Phases != nil {
		r, err := ParsePhaseRange(*o.Phases)
		if err != nil {
			return NewValidationError("phases", err)
		}
		cfg.Phases = r
	}
	if o.Depth != nil {
		cfg.Depth = Depth(*o.Depth)
	}
	if o.Model != nil {
		cfg.Model = ModelProfile(*o.Model)
	}
	if o.Notify != nil {
		cfg.Notify.Channels = parseChannels(*o.Notify)
	}
	if o.WebhookURL != nil {
		cfg.Notify.WebhookURL = *o.WebhookURL
	}
	return nil
}

func parseChannels(csv string) []Channel {
	var out []Channel
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, Channel(part))
		}
	}
	return out
}

// Validate checks the resolved configuration. Failures are fatal at startup.
func (c *Config) Validate() error {
	if c.ProjectDir == "" {
		return NewValidationError("project-dir", ErrMissingRequiredField)
	}
	info, err := os.Stat(c.ProjectDir)
	if err != nil || !info.IsDir() {
		return NewValidationError("project-dir", fmt.Errorf("%w: not a directory: %s", ErrInvalidValue, c.ProjectDir))
	}

	if !c.Resume {
		if c.PRDPath == "" {
			return NewValidationError("prd", ErrMissingRequiredField)
		}
		if _, err := os.Stat(c.PRDPath); err != nil {
			return NewValidationError("prd", fmt.Errorf("%w: %v", ErrUnreadableBrief, err))
		}
	}

	if c.Port < 1024 || c.Port > 65535 {
		return NewValidationError("port", fmt.Errorf("%w: %d (want 1024-65535)", ErrInvalidValue, c.Port))
	}
	if !c.Depth.IsValid() {
		return NewValidationError("depth", fmt.Errorf("%w: %q", ErrInvalidValue, c.Depth))
	}
	if !c.Model.IsValid() {
		return NewValidationError("model", fmt.Errorf("%w: %q", ErrInvalidValue, c.Model))
	}
	for _, ch := range c.Notify.Channels {
		if !ch.IsValid() {
			return NewValidationError("notify", fmt.Errorf("%w: unknown channel %q", ErrInvalidValue, ch))
		}
		if (ch == ChannelWebhook || ch == ChannelSlack) && c.Notify.WebhookURL == "" {
			return NewValidationError("webhook-url", fmt.Errorf("%w: channel %q needs a webhook URL", ErrMissingRequiredField, ch))
		}
		if ch == ChannelWebPush && (c.Notify.VAPIDPublicKey == "" || c.Notify.VAPIDPrivateKey == "") {
			return NewValidationError("notify", fmt.Errorf("%w: channel webpush needs VAPID keys", ErrMissingRequiredField))
		}
	}
	if c.Phases.From < 0 || (c.Phases.To != 0 && c.Phases.To < c.Phases.From) {
		return NewValidationError("phases", fmt.Errorf("%w: %s", ErrInvalidValue, c.Phases))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return NewValidationError("log-level", fmt.Errorf("%w: %q", ErrInvalidValue, c.LogLevel))
	}
	if c.Agent.CommandTimeout <= 0 {
		return NewValidationError("agent.command_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if c.Agent.MaxGapIterations < 1 {
		return NewValidationError("agent.max_gap_iterations", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	return nil
}
