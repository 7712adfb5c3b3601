package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInstanceID      = "ingestd"
	DefaultESIBaseURL      = "https://esi.evetech.net/latest"
	DefaultDatasource      = "tranquility"
	DefaultUserAgent       = "eve-market-ingestd"
	DefaultESITimeout      = 30 * time.Second
	DefaultMaxRetries      = 2
	DefaultErrorDelay      = 2 * time.Second
	DefaultRateLimit       = 20.0
	DefaultBurst           = 20
	DefaultRegionID        = 10000002 // The Forge
	DefaultStationID       = 60003760 // Jita IV - Moon 4
	DefaultDriver          = "postgres"
	DefaultDBPort          = 5432
	DefaultDBSSLMode       = "prefer"
	DefaultMaxConns        = 10
	DefaultMinConns        = 2
	DefaultConnectAttempts = 5
	DefaultPollInterval    = time.Second
	DefaultMaxBatch        = 150
	DefaultTickWorkers     = 6
	DefaultTaskTimeout     = 2 * time.Minute
	DefaultTier            = "C"
	DefaultBaseline        = 6
	DefaultLowWater        = 5
	DefaultHighWater       = 80
	DefaultLowRemaining    = 20
	DefaultShortDelay      = time.Second
	DefaultMaxBackoff      = 5 * time.Minute
	DefaultTrendsMaxTypes  = 500
	DefaultTrendsWorkers   = 4
	DefaultRecommendMode   = "profit_only"
	DefaultMinVolume       = 100
	DefaultMinMomentum     = 0.0
	DefaultMaxStaleness    = 3 * time.Hour
	DefaultMinSpread       = 0.02
	DefaultRecommendLimit  = 50
	DefaultSnipeWindow     = 20
	DefaultSnipeEpsilon    = 0.002
	DefaultSnipeDelta      = 0.05
	DefaultSnipeZ          = 2.0
	DefaultSnipeLimit      = 20
	DefaultEventBuffer     = 1024
	DefaultEventHistory    = 200
	DefaultEventHydrate    = 40
	DefaultLastRuns        = 20
	DefaultStatusLogs      = 50
	DefaultHeartbeat       = 5 * time.Second
	DefaultLogBurst        = 5
	DefaultSendQueue       = 64
	DefaultServerAddr      = ":8000"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultMetricsPath     = "/metrics"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultLogOutput       = "stdout"
	DefaultLogMaxSizeMB    = 100
	DefaultLogMaxBackups   = 5
	DefaultLogMaxAgeDays   = 14
	DefaultJobPriority     = "P2"
	DefaultTickJobPriority = "P1"
)

// DefaultTierIntervals maps tiers to refresh intervals in minutes.
var DefaultTierIntervals = map[string]int{"A": 45, "B": 240, "C": 360, "D": 1440}

// DefaultTierBreakpoints maps tiers to the minimum 30-day average volume.
var DefaultTierBreakpoints = map[string]float64{"A": 5000, "B": 1000, "C": 100}

type jobDefault struct {
	enabled  bool
	interval int
	priority string
}

var jobDefaults = map[string]jobDefault{
	JobSyncCharacter:         {false, 60, DefaultJobPriority},
	JobRefreshTrends:         {true, 1440, DefaultJobPriority},
	JobSnapshotOrders:        {true, 60, DefaultTickJobPriority},
	JobRefreshTypeValuations: {true, 360, DefaultJobPriority},
	JobRecommenderScan:       {true, 60, DefaultJobPriority},
}

// JobNames returns the scheduled job names in dispatch order.
func JobNames() []string {
	return []string{
		JobSyncCharacter,
		JobRefreshTrends,
		JobSnapshotOrders,
		JobRefreshTypeValuations,
		JobRecommenderScan,
	}
}

func (c *Config) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// ESI defaults
	if c.ESI.BaseURL == "" {
		c.ESI.BaseURL = DefaultESIBaseURL
	}
	if c.ESI.Datasource == "" {
		c.ESI.Datasource = DefaultDatasource
	}
	if c.ESI.UserAgent == "" {
		c.ESI.UserAgent = DefaultUserAgent
	}
	if c.ESI.Timeout == 0 {
		c.ESI.Timeout = DefaultESITimeout
	}
	if c.ESI.MaxRetries == 0 {
		c.ESI.MaxRetries = DefaultMaxRetries
	}
	if c.ESI.ErrorDelay == 0 {
		c.ESI.ErrorDelay = DefaultErrorDelay
	}
	if c.ESI.RateLimit == 0 {
		c.ESI.RateLimit = DefaultRateLimit
	}
	if c.ESI.Burst == 0 {
		c.ESI.Burst = DefaultBurst
	}

	if c.Market.RegionID == 0 {
		c.Market.RegionID = DefaultRegionID
	}
	if c.Market.StationID == 0 {
		c.Market.StationID = DefaultStationID
	}

	// Database defaults
	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDriver
	}
	applyDBDefaults(&c.Database.Postgres)

	// Scheduler defaults
	if c.Scheduler.PollInterval == 0 {
		c.Scheduler.PollInterval = DefaultPollInterval
	}
	if c.Scheduler.Jobs == nil {
		c.Scheduler.Jobs = make(map[string]JobConfig, len(jobDefaults))
	}
	for name, def := range jobDefaults {
		job := c.Scheduler.Jobs[name]
		if job.Enabled == nil {
			enabled := def.enabled
			job.Enabled = &enabled
		}
		if job.IntervalMinutes == 0 {
			job.IntervalMinutes = def.interval
		}
		if job.Priority == "" {
			job.Priority = def.priority
		}
		c.Scheduler.Jobs[name] = job
	}

	// Tick defaults
	if c.Tick.MaxBatch == 0 {
		c.Tick.MaxBatch = DefaultMaxBatch
	}
	if c.Tick.Workers == 0 {
		c.Tick.Workers = DefaultTickWorkers
	}
	if c.Tick.TaskTimeout == 0 {
		c.Tick.TaskTimeout = DefaultTaskTimeout
	}

	// Tier defaults
	if c.Tiers.IntervalsMinutes == nil {
		c.Tiers.IntervalsMinutes = make(map[string]int, len(DefaultTierIntervals))
	}
	for tier, minutes := range DefaultTierIntervals {
		if _, ok := c.Tiers.IntervalsMinutes[tier]; !ok {
			c.Tiers.IntervalsMinutes[tier] = minutes
		}
	}
	if c.Tiers.Breakpoints == nil {
		c.Tiers.Breakpoints = make(map[string]float64, len(DefaultTierBreakpoints))
	}
	for tier, vol := range DefaultTierBreakpoints {
		if _, ok := c.Tiers.Breakpoints[tier]; !ok {
			c.Tiers.Breakpoints[tier] = vol
		}
	}
	if c.Tiers.Default == "" {
		c.Tiers.Default = DefaultTier
	}

	// Throttle defaults
	if c.Throttle.Baseline == 0 {
		c.Throttle.Baseline = DefaultBaseline
	}
	if c.Throttle.LowWater == 0 {
		c.Throttle.LowWater = DefaultLowWater
	}
	if c.Throttle.HighWater == 0 {
		c.Throttle.HighWater = DefaultHighWater
	}
	if c.Throttle.LowRemaining == 0 {
		c.Throttle.LowRemaining = DefaultLowRemaining
	}
	if c.Throttle.ShortDelay == 0 {
		c.Throttle.ShortDelay = DefaultShortDelay
	}
	if c.Throttle.MaxBackoff == 0 {
		c.Throttle.MaxBackoff = DefaultMaxBackoff
	}

	// Trends defaults
	if c.Trends.MaxTypes == 0 {
		c.Trends.MaxTypes = DefaultTrendsMaxTypes
	}
	if c.Trends.Concurrency == 0 {
		c.Trends.Concurrency = DefaultTrendsWorkers
	}

	// Recommender defaults
	if c.Recommender.Mode == "" {
		c.Recommender.Mode = DefaultRecommendMode
	}
	if c.Recommender.MinVolume == 0 {
		c.Recommender.MinVolume = DefaultMinVolume
	}
	if c.Recommender.MaxStaleness == 0 {
		c.Recommender.MaxStaleness = DefaultMaxStaleness
	}
	if c.Recommender.MinSpread == 0 {
		c.Recommender.MinSpread = DefaultMinSpread
	}
	if c.Recommender.Limit == 0 {
		c.Recommender.Limit = DefaultRecommendLimit
	}

	// Snipes defaults
	if c.Snipes.Window == 0 {
		c.Snipes.Window = DefaultSnipeWindow
	}
	if c.Snipes.Epsilon == 0 {
		c.Snipes.Epsilon = DefaultSnipeEpsilon
	}
	if c.Snipes.Delta == 0 {
		c.Snipes.Delta = DefaultSnipeDelta
	}
	if c.Snipes.ZThreshold == 0 {
		c.Snipes.ZThreshold = DefaultSnipeZ
	}
	if c.Snipes.MinSpread == 0 {
		c.Snipes.MinSpread = DefaultMinSpread
	}
	if c.Snipes.Limit == 0 {
		c.Snipes.Limit = DefaultSnipeLimit
	}

	// Events defaults
	if c.Events.BufferSize == 0 {
		c.Events.BufferSize = DefaultEventBuffer
	}
	if c.Events.History == 0 {
		c.Events.History = DefaultEventHistory
	}
	if c.Events.Hydrate == 0 {
		c.Events.Hydrate = DefaultEventHydrate
	}
	if c.Events.LastRuns == 0 {
		c.Events.LastRuns = DefaultLastRuns
	}
	if c.Events.Logs == 0 {
		c.Events.Logs = DefaultStatusLogs
	}
	if c.Events.Heartbeat == 0 {
		c.Events.Heartbeat = DefaultHeartbeat
	}
	if c.Events.LogBurst == 0 {
		c.Events.LogBurst = DefaultLogBurst
	}
	if c.Events.SendQueue == 0 {
		c.Events.SendQueue = DefaultSendQueue
	}

	// Server defaults
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Logging.Output == "" {
		c.Logging.Output = DefaultLogOutput
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = DefaultLogMaxBackups
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = DefaultLogMaxAgeDays
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
	if db.ConnectAttempts == 0 {
		db.ConnectAttempts = DefaultConnectAttempts
	}
}
