package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	EnvConfigFile           = "SESSIONGATE_CONFIG_FILE"
	EnvPort                 = "PORT"
	EnvHTTPAddr             = "SESSIONGATE_HTTP_ADDR"
	EnvMaxSessions          = "SESSIONGATE_MAX_SESSIONS"
	EnvIdleTimeoutMS        = "SESSIONGATE_IDLE_TIMEOUT_MS"
	EnvSweepInterval        = "SESSIONGATE_SWEEP_INTERVAL"
	EnvSendTimeout          = "SESSIONGATE_SEND_TIMEOUT"
	EnvShutdownTimeout      = "SESSIONGATE_SHUTDOWN_TIMEOUT"
	EnvDBDriver             = "SESSIONGATE_DB_DRIVER"
	EnvDBDSN                = "SESSIONGATE_DB_DSN"
	EnvBridgeURL            = "SESSIONGATE_BRIDGE_URL"
	EnvWebhookURLs          = "SESSIONGATE_WEBHOOK_URLS"
	EnvLogLevel             = "SESSIONGATE_LOG_LEVEL"
	EnvLogFormat            = "SESSIONGATE_LOG_FORMAT"
	EnvResumeInitialBackoff = "SESSIONGATE_RESUME_INITIAL_BACKOFF"
	EnvResumeMaxBackoff     = "SESSIONGATE_RESUME_MAX_BACKOFF"
	EnvNotifyQueueSize      = "SESSIONGATE_NOTIFY_QUEUE_SIZE"
)

const (
	DefaultHTTPAddr             = ":3000"
	DefaultMaxSessions          = 50
	DefaultIdleTimeout          = 300000 * time.Millisecond
	DefaultSweepInterval        = 60 * time.Second
	DefaultSendTimeout          = 30 * time.Second
	DefaultShutdownTimeout      = 10 * time.Second
	DefaultDBDriver             = "sqlite"
	DefaultDBDSN                = "sessiongate.db"
	DefaultBridgeURL            = "ws://127.0.0.1:8090/v1/clients"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "json"
	DefaultResumeInitialBackoff = 5 * time.Second
	DefaultResumeMaxBackoff     = 5 * time.Minute
	DefaultNotifyQueueSize      = 64
)

type Config struct {
	HTTPAddr             string
	MaxSessions          int
	IdleTimeout          time.Duration
	SweepInterval        time.Duration
	SendTimeout          time.Duration
	ShutdownTimeout      time.Duration
	DBDriver             string
	DBDSN                string
	BridgeURL            string
	WebhookURLs          []string
	LogLevel             string
	LogFormat            string
	ResumeInitialBackoff time.Duration
	ResumeMaxBackoff     time.Duration
	NotifyQueueSize      int
}

func Default() Config {
	return Config{
		HTTPAddr:             DefaultHTTPAddr,
		MaxSessions:          DefaultMaxSessions,
		IdleTimeout:          DefaultIdleTimeout,
		SweepInterval:        DefaultSweepInterval,
		SendTimeout:          DefaultSendTimeout,
		ShutdownTimeout:      DefaultShutdownTimeout,
		DBDriver:             DefaultDBDriver,
		DBDSN:                DefaultDBDSN,
		BridgeURL:            DefaultBridgeURL,
		LogLevel:             DefaultLogLevel,
		LogFormat:            DefaultLogFormat,
		ResumeInitialBackoff: DefaultResumeInitialBackoff,
		ResumeMaxBackoff:     DefaultResumeMaxBackoff,
		NotifyQueueSize:      DefaultNotifyQueueSize,
	}
}

// Load resolves defaults, then the optional YAML file, then environment overrides.
func Load() (Config, error) {
	cfg := Default()

	fileCfg, err := loadFileConfig()
	if err != nil {
		return Config{}, err
	}
	if err := applyYAML(&cfg, fileCfg); err != nil {
		return Config{}, err
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyYAML(cfg *Config, source fileConfig) error {
	if value := strings.TrimSpace(source.HTTPAddr); value != "" {
		cfg.HTTPAddr = value
	}
	if source.Port > 0 {
		cfg.HTTPAddr = ":" + strconv.Itoa(source.Port)
	}
	if source.MaxSessions != nil {
		cfg.MaxSessions = *source.MaxSessions
	}
	if source.IdleTimeoutMS != nil {
		cfg.IdleTimeout = time.Duration(*source.IdleTimeoutMS) * time.Millisecond
	}
	var err error
	if cfg.SweepInterval, err = parseOptionalDuration(source.SweepInterval, cfg.SweepInterval, "sweep_interval"); err != nil {
		return err
	}
	if cfg.SendTimeout, err = parseOptionalDuration(source.SendTimeout, cfg.SendTimeout, "send_timeout"); err != nil {
		return err
	}
	if cfg.ShutdownTimeout, err = parseOptionalDuration(source.ShutdownTimeout, cfg.ShutdownTimeout, "shutdown_timeout"); err != nil {
		return err
	}
	if value := strings.TrimSpace(source.DB.Driver); value != "" {
		cfg.DBDriver = strings.ToLower(value)
	}
	if value := strings.TrimSpace(source.DB.DSN); value != "" {
		cfg.DBDSN = value
	}
	if value := strings.TrimSpace(source.BridgeURL); value != "" {
		cfg.BridgeURL = value
	}
	if len(source.WebhookURLs) > 0 {
		cfg.WebhookURLs = cleanList(source.WebhookURLs)
	}
	if value := strings.TrimSpace(source.Log.Level); value != "" {
		cfg.LogLevel = value
	}
	if value := strings.TrimSpace(source.Log.Format); value != "" {
		cfg.LogFormat = value
	}
	if cfg.ResumeInitialBackoff, err = parseOptionalDuration(source.Resume.InitialBackoff, cfg.ResumeInitialBackoff, "resume.initial_backoff"); err != nil {
		return err
	}
	if cfg.ResumeMaxBackoff, err = parseOptionalDuration(source.Resume.MaxBackoff, cfg.ResumeMaxBackoff, "resume.max_backoff"); err != nil {
		return err
	}
	if source.NotifyQueueSize != nil {
		cfg.NotifyQueueSize = *source.NotifyQueueSize
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if port := EnvString(EnvPort); port != "" {
		cfg.HTTPAddr = ":" + port
	}
	cfg.HTTPAddr = EnvOrDefault(EnvHTTPAddr, cfg.HTTPAddr)

	var err error
	if cfg.MaxSessions, err = parseIntEnv(EnvMaxSessions, cfg.MaxSessions); err != nil {
		return err
	}
	idleMS, err := parseIntEnv(EnvIdleTimeoutMS, int(cfg.IdleTimeout/time.Millisecond))
	if err != nil {
		return err
	}
	cfg.IdleTimeout = time.Duration(idleMS) * time.Millisecond

	if cfg.SweepInterval, err = parseOptionalDuration(EnvString(EnvSweepInterval), cfg.SweepInterval, EnvSweepInterval); err != nil {
		return err
	}
	if cfg.SendTimeout, err = parseOptionalDuration(EnvString(EnvSendTimeout), cfg.SendTimeout, EnvSendTimeout); err != nil {
		return err
	}
	if cfg.ShutdownTimeout, err = parseOptionalDuration(EnvString(EnvShutdownTimeout), cfg.ShutdownTimeout, EnvShutdownTimeout); err != nil {
		return err
	}
	cfg.DBDriver = strings.ToLower(EnvOrDefault(EnvDBDriver, cfg.DBDriver))
	cfg.DBDSN = EnvOrDefault(EnvDBDSN, cfg.DBDSN)
	cfg.BridgeURL = EnvOrDefault(EnvBridgeURL, cfg.BridgeURL)
	if raw := EnvString(EnvWebhookURLs); raw != "" {
		cfg.WebhookURLs = cleanList(strings.Split(raw, ","))
	}
	cfg.LogLevel = EnvOrDefault(EnvLogLevel, cfg.LogLevel)
	cfg.LogFormat = EnvOrDefault(EnvLogFormat, cfg.LogFormat)
	if cfg.ResumeInitialBackoff, err = parseOptionalDuration(EnvString(EnvResumeInitialBackoff), cfg.ResumeInitialBackoff, EnvResumeInitialBackoff); err != nil {
		return err
	}
	if cfg.ResumeMaxBackoff, err = parseOptionalDuration(EnvString(EnvResumeMaxBackoff), cfg.ResumeMaxBackoff, EnvResumeMaxBackoff); err != nil {
		return err
	}
	if cfg.NotifyQueueSize, err = parseIntEnv(EnvNotifyQueueSize, cfg.NotifyQueueSize); err != nil {
		return err
	}
	return nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("%s must not be empty", EnvHTTPAddr)
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("%s must be > 0", EnvMaxSessions)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("%s must be > 0", EnvIdleTimeoutMS)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("%s must be > 0", EnvSweepInterval)
	}
	if c.SendTimeout <= 0 {
		return fmt.Errorf("%s must be > 0", EnvSendTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%s must be > 0", EnvShutdownTimeout)
	}
	switch strings.ToLower(strings.TrimSpace(c.DBDriver)) {
	case "sqlite", "postgres":
		if strings.TrimSpace(c.DBDSN) == "" {
			return fmt.Errorf("%s must not be empty", EnvDBDSN)
		}
	case "memory":
	default:
		return fmt.Errorf("%s must be sqlite, postgres or memory", EnvDBDriver)
	}
	if strings.TrimSpace(c.BridgeURL) == "" {
		return fmt.Errorf("%s must not be empty", EnvBridgeURL)
	}
	if !strings.HasPrefix(c.BridgeURL, "ws://") && !strings.HasPrefix(c.BridgeURL, "wss://") {
		return fmt.Errorf("%s must use ws:// or wss://", EnvBridgeURL)
	}
	for _, raw := range c.WebhookURLs {
		if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
			return fmt.Errorf("%s entry %q must use http:// or https://", EnvWebhookURLs, raw)
		}
	}
	if c.ResumeInitialBackoff <= 0 {
		return fmt.Errorf("%s must be > 0", EnvResumeInitialBackoff)
	}
	if c.ResumeMaxBackoff < c.ResumeInitialBackoff {
		return fmt.Errorf("%s must be >= %s", EnvResumeMaxBackoff, EnvResumeInitialBackoff)
	}
	if c.NotifyQueueSize <= 0 {
		return fmt.Errorf("%s must be > 0", EnvNotifyQueueSize)
	}
	return nil
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
