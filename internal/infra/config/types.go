package config

import (
	"strconv"
	"time"
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	if c.Host == "" {
		return ":" + formatPort(c.Port)
	}
	return c.Host + ":" + formatPort(c.Port)
}

// SetDefaults applies default values for ServerConfig.
func (c *ServerConfig) SetDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxConnections  int           `yaml:"max_connections"`
	MaxIdleConns    int           `yaml:"max_idle_connections"`
	ConnMaxLifetime time.Duration `yaml:"connection_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return "host=" + c.Host +
		" port=" + formatPort(c.Port) +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.Database +
		" sslmode=" + c.SSLMode
}

// SetDefaults applies default values for DatabaseConfig.
func (c *DatabaseConfig) SetDefaults() {
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
}

// RedisConfig holds Redis configuration. When QueueProvider is "broker",
// this also addresses the priority queue and lease store.
type RedisConfig struct {
	URL      string `env:"REDIS_URL" yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SetDefaults applies default values for RedisConfig.
func (c *RedisConfig) SetDefaults() {
	if c.URL == "" {
		c.URL = "localhost:6379"
	}
}

// CloudTasksConfig holds configuration for the dispatcher-backed Queue
// Provider. Only consulted when QueueProvider is "dispatcher".
type CloudTasksConfig struct {
	ProjectID      string `env:"CLOUD_TASKS_PROJECT_ID"      yaml:"project_id"`
	LocationID     string `env:"CLOUD_TASKS_LOCATION_ID"     yaml:"location_id"`
	QueueID        string `env:"CLOUD_TASKS_QUEUE_ID"        yaml:"queue_id"`
	ServiceAccount string `env:"CLOUD_TASKS_SERVICE_ACCOUNT" yaml:"service_account"`
	TargetURL      string `env:"CLOUD_TASKS_TARGET_URL"      yaml:"target_url"`
}

// SetDefaults applies default values for CloudTasksConfig.
func (c *CloudTasksConfig) SetDefaults() {
	if c.LocationID == "" {
		c.LocationID = "us-central1"
	}
	if c.QueueID == "" {
		c.QueueID = "scrape-queue"
	}
}

// BrowserConfig addresses the headless-browser scraping microservice that
// the Scrape Orchestrator delegates page fetches to.
type BrowserConfig struct {
	URL              string        `env:"BROWSER_SERVICE_URL" yaml:"url"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxRetries       int           `yaml:"max_retries"`
	UseIdentityToken bool          `env:"BROWSER_USE_IDENTITY_TOKEN" yaml:"use_identity_token"`
	// RequestsPerSecond caps how often this process calls the browser
	// microservice, independent of the distributed per-tenant rate limiter;
	// it smooths bursts of concurrent worker handlers against one shared
	// downstream dependency.
	RequestsPerSecond float64 `env:"BROWSER_REQUESTS_PER_SECOND" yaml:"requests_per_second"`
}

// SetDefaults applies default values for BrowserConfig.
func (c *BrowserConfig) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 90 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = 10
	}
}

// WorkerConfig tunes the Worker Loop's polling, lease-extension, and
// resource-backpressure behavior.
type WorkerConfig struct {
	QueueProvider                string        `env:"QUEUE_PROVIDER"                    yaml:"queue_provider"`
	Concurrency                  int           `env:"WORKER_CONCURRENCY"                yaml:"concurrency"`
	GotJobInterval               time.Duration `env:"GOT_JOB_INTERVAL"                  yaml:"got_job_interval"`
	CantAcceptConnectionInterval time.Duration `env:"CANT_ACCEPT_CONNECTION_INTERVAL"   yaml:"cant_accept_connection_interval"`
	ConnectionMonitorInterval    time.Duration `env:"CONNECTION_MONITOR_INTERVAL"       yaml:"connection_monitor_interval"`
	JobLockExtendInterval        time.Duration `env:"JOB_LOCK_EXTEND_INTERVAL"          yaml:"job_lock_extend_interval"`
	JobLockExtensionTime         time.Duration `env:"JOB_LOCK_EXTENSION_TIME"           yaml:"job_lock_extension_time"`
	// MaxCPUFraction and MaxRAMFraction are ceilings in [0,1]; the outer
	// loop stops admitting jobs once a sample meets or exceeds either.
	MaxCPUFraction float64  `env:"MAX_CPU"       yaml:"max_cpu"`
	MaxRAMFraction float64  `env:"MAX_RAM"       yaml:"max_ram"`
	BlockedHosts   []string `env:"BLOCKED_HOSTS" yaml:"blocked_hosts"`
}

// SetDefaults applies default values for WorkerConfig.
func (c *WorkerConfig) SetDefaults() {
	if c.QueueProvider == "" {
		c.QueueProvider = "broker"
	}
	if c.Concurrency == 0 {
		c.Concurrency = 1
	}
	if c.GotJobInterval == 0 {
		c.GotJobInterval = 2 * time.Second
	}
	if c.CantAcceptConnectionInterval == 0 {
		c.CantAcceptConnectionInterval = 5 * time.Second
	}
	if c.ConnectionMonitorInterval == 0 {
		c.ConnectionMonitorInterval = 30 * time.Second
	}
	if c.JobLockExtendInterval == 0 {
		c.JobLockExtendInterval = 30 * time.Second
	}
	if c.JobLockExtensionTime == 0 {
		c.JobLockExtensionTime = 2 * time.Minute
	}
	if c.MaxCPUFraction == 0 {
		c.MaxCPUFraction = 0.95
	}
	if c.MaxRAMFraction == 0 {
		c.MaxRAMFraction = 0.95
	}
}

// RateLimitConfig carries overrides for the multi-tier rate limiter on top
// of its built-in (mode, plan) table.
type RateLimitConfig struct {
	// ManualTeams lists team IDs granted the "manual" unlimited tier
	// regardless of plan, e.g. for internal tooling or support escalations.
	ManualTeams []string `env:"RATE_LIMIT_MANUAL_TEAMS" yaml:"manual_teams"`
	// TestSuiteToken, when presented by a request, bypasses rate limiting
	// entirely. Used by the integration test harness.
	TestSuiteToken string `env:"RATE_LIMIT_TEST_SUITE_TOKEN" yaml:"test_suite_token"`
}

// SweepConfig tunes the periodic terminal-job cleanup sweep.
type SweepConfig struct {
	// Schedule is a standard 5-field cron expression (minute hour dom
	// month dow).
	Schedule string `env:"SWEEP_SCHEDULE" yaml:"schedule"`
	// OlderThan is the retention window passed to the cleanup query.
	OlderThan time.Duration `env:"SWEEP_OLDER_THAN" yaml:"older_than"`
}

// SetDefaults applies default values for SweepConfig.
func (c *SweepConfig) SetDefaults() {
	if c.Schedule == "" {
		c.Schedule = "0 * * * *"
	}
	if c.OlderThan == 0 {
		c.OlderThan = 24 * time.Hour
	}
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL"  yaml:"level"`
	Format string `env:"LOG_FORMAT" yaml:"format"`
}

// SetDefaults applies default values for LoggingConfig.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "json"
	}
}

// formatPort converts a port number to string.
func formatPort(port int) string {
	return strconv.Itoa(port)
}
