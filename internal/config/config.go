package config

import "time"

// Job names recognised by the scheduler.
const (
	JobSyncCharacter         = "sync_character"
	JobRefreshTrends         = "refresh_trends"
	JobSnapshotOrders        = "snapshot_orders"
	JobRefreshTypeValuations = "refresh_type_valuations"
	JobRecommenderScan       = "recommender_scan"
)

// Config is the top-level configuration for the ingestion service.
type Config struct {
	Instance    InstanceConfig    `yaml:"instance"`
	ESI         ESIConfig         `yaml:"esi"`
	Market      MarketConfig      `yaml:"market"`
	Database    DatabaseConfig    `yaml:"database"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Tick        TickConfig        `yaml:"tick"`
	Tiers       TiersConfig       `yaml:"tiers"`
	Throttle    ThrottleConfig    `yaml:"throttle"`
	Trends      TrendsConfig      `yaml:"trends"`
	Recommender RecommenderConfig `yaml:"recommender"`
	Snipes      SnipesConfig      `yaml:"snipes"`
	Character   CharacterConfig   `yaml:"character"`
	Events      EventsConfig      `yaml:"events"`
	Server      ServerConfig      `yaml:"server"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// InstanceConfig identifies this process in logs and /health.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ESIConfig configures the remote market API client.
type ESIConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Datasource string        `yaml:"datasource"`
	UserAgent  string        `yaml:"user_agent"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	ErrorDelay time.Duration `yaml:"error_delay"` // Minimum sleep after an error response
	RateLimit  float64       `yaml:"rate_limit"`  // Requests per second, local pacing
	Burst      int           `yaml:"burst"`
}

// MarketConfig selects the region and venue being tracked.
type MarketConfig struct {
	RegionID  int64 `yaml:"region_id"`
	StationID int64 `yaml:"station_id"`
}

// DatabaseConfig selects and configures the store backend.
type DatabaseConfig struct {
	Driver   string   `yaml:"driver"` // postgres | memory
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds connection settings for a single database.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
	AppName  string `yaml:"application_name"`

	// ConnectAttempts bounds the startup ping loop.
	ConnectAttempts int `yaml:"connect_attempts"`
}

// SchedulerConfig configures the interval-driven job scheduler.
type SchedulerConfig struct {
	PollInterval time.Duration        `yaml:"poll_interval"`
	Jobs         map[string]JobConfig `yaml:"jobs"`
}

// JobConfig configures one scheduled job.
type JobConfig struct {
	Enabled         *bool  `yaml:"enabled"`
	IntervalMinutes int    `yaml:"interval_minutes"`
	Cron            string `yaml:"cron"`     // Optional; overrides interval_minutes
	Priority        string `yaml:"priority"` // P0..P3
}

// IsEnabled reports the enabled flag, treating unset as disabled.
func (j JobConfig) IsEnabled() bool {
	return j.Enabled != nil && *j.Enabled
}

// TickConfig configures one refresh scheduler tick.
type TickConfig struct {
	MaxBatch    int           `yaml:"max_batch"`    // Cap on entities selected per tick
	Workers     int           `yaml:"workers"`      // Worker target handed to the controller
	TaskTimeout time.Duration `yaml:"task_timeout"` // Deadline for one entity refresh
}

// TiersConfig maps tiers to refresh intervals and volume breakpoints.
// Keys are tier names A..D. The slowest tier has no breakpoint.
type TiersConfig struct {
	IntervalsMinutes map[string]int     `yaml:"intervals_minutes"`
	Breakpoints      map[string]float64 `yaml:"breakpoints"`
	Default          string             `yaml:"default"` // Tier for newly seeded entities
}

// ThrottleConfig tunes the concurrency controller and the queue limiter.
type ThrottleConfig struct {
	Baseline     int           `yaml:"baseline"`
	LowWater     int           `yaml:"low_water"`
	HighWater    int           `yaml:"high_water"`
	LowRemaining int           `yaml:"low_remaining"`
	ShortDelay   time.Duration `yaml:"short_delay"`
	MaxBackoff   time.Duration `yaml:"max_backoff"`
}

// TrendsConfig configures the refresh_trends job.
type TrendsConfig struct {
	MaxTypes    int  `yaml:"max_types"`
	Concurrency int  `yaml:"concurrency"`
	SeedCatalog bool `yaml:"seed_catalog"`
}

// RecommenderConfig configures the recommender_scan job.
type RecommenderConfig struct {
	Mode         string        `yaml:"mode"` // gated | profit_only
	MinVolume    float64       `yaml:"min_volume"`
	MinMomentum  float64       `yaml:"min_momentum"`
	MaxStaleness time.Duration `yaml:"max_staleness"`
	MinSpread    float64       `yaml:"min_spread"`
	Limit        int           `yaml:"limit"`
}

// SnipesConfig tunes underpriced-ask detection.
type SnipesConfig struct {
	Window     int     `yaml:"window"`      // Recent snapshots in the ask history
	Epsilon    float64 `yaml:"epsilon"`     // Ask within this fraction above the bid is near the bid
	Delta      float64 `yaml:"delta"`       // Min drop below the median ask for an anomaly
	ZThreshold float64 `yaml:"z_threshold"` // Anomaly z-score must be below -z_threshold
	MinSpread  float64 `yaml:"min_spread"`  // Min (bid - ask) / ask
	Limit      int     `yaml:"limit"`
}

// CharacterConfig names the character checked by sync_character. Zero
// disables the sync.
type CharacterConfig struct {
	ID int64 `yaml:"id"`
}

// EventsConfig configures the event bus and status snapshot.
type EventsConfig struct {
	BufferSize int           `yaml:"buffer_size"`
	History    int           `yaml:"history"`
	Hydrate    int           `yaml:"hydrate"`
	LastRuns   int           `yaml:"last_runs"`
	Logs       int           `yaml:"logs"`
	Heartbeat  time.Duration `yaml:"heartbeat"`
	LogBurst   int           `yaml:"log_burst"` // job_log messages per second per run
	SendQueue  int           `yaml:"send_queue"` // Per-websocket backlog before events are dropped
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level      string `yaml:"level"`  // debug | info | warn | error
	Format     string `yaml:"format"` // text | json
	Output     string `yaml:"output"` // stdout | stderr | file path
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}
