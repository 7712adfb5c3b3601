package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: jita-1
esi:
  base_url: http://localhost:9999
  error_delay: 3s
market:
  region_id: 10000043
  station_id: 60008494
database:
  driver: postgres
  postgres:
    host: localhost
    name: market
    user: eve
    password: pw
tick:
  max_batch: 10
  task_timeout: 45s
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "jita-1", cfg.Instance.ID)
	assert.Equal(t, "http://localhost:9999", cfg.ESI.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.ESI.ErrorDelay)
	assert.Equal(t, int64(10000043), cfg.Market.RegionID)
	assert.Equal(t, int64(60008494), cfg.Market.StationID)
	assert.Equal(t, 10, cfg.Tick.MaxBatch)
	assert.Equal(t, 45*time.Second, cfg.Tick.TaskTimeout)
	assert.Zero(t, cfg.Tick.Workers, "Load does not apply defaults")
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "secret123")

	yaml := `
database:
  postgres:
    host: localhost
    name: market
    user: eve
    password: ${TEST_DB_PASSWORD}
`
	cfg, err := Load(writeTempFile(t, yaml))
	require.NoError(t, err)
	assert.Equal(t, "secret123", cfg.Database.Postgres.Password)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeTempFile(t, "tick: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config yaml")
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
scheduler:
  jobs:
    snapshot_orders:
      interval_minutes: 15
    sync_character:
      enabled: true
    refresh_trends:
      enabled: false
tiers:
  intervals_minutes:
    A: 30
`
	cfg, err := LoadWithDefaults(writeTempFile(t, yaml))
	require.NoError(t, err)

	assert.Equal(t, DefaultInstanceID, cfg.Instance.ID)
	assert.Equal(t, DefaultESIBaseURL, cfg.ESI.BaseURL)
	assert.Equal(t, int64(DefaultRegionID), cfg.Market.RegionID)
	assert.Equal(t, int64(DefaultStationID), cfg.Market.StationID)
	assert.Equal(t, DefaultDBPort, cfg.Database.Postgres.Port)
	assert.Equal(t, DefaultMaxBatch, cfg.Tick.MaxBatch)
	assert.Equal(t, DefaultTaskTimeout, cfg.Tick.TaskTimeout)
	assert.Equal(t, DefaultEventHydrate, cfg.Events.Hydrate)
	assert.Equal(t, DefaultPollInterval, cfg.Scheduler.PollInterval)

	snap := cfg.Scheduler.Jobs[JobSnapshotOrders]
	assert.Equal(t, 15, snap.IntervalMinutes)
	assert.True(t, snap.IsEnabled())
	assert.Equal(t, "P1", snap.Priority)

	assert.True(t, cfg.Scheduler.Jobs[JobSyncCharacter].IsEnabled())
	assert.False(t, cfg.Scheduler.Jobs[JobRefreshTrends].IsEnabled())
	assert.Equal(t, 1440, cfg.Scheduler.Jobs[JobRefreshTrends].IntervalMinutes)
	assert.Len(t, cfg.Scheduler.Jobs, len(JobNames()))

	assert.Equal(t, 30, cfg.Tiers.IntervalsMinutes["A"])
	assert.Equal(t, 1440, cfg.Tiers.IntervalsMinutes["D"])
	assert.Equal(t, 5000.0, cfg.Tiers.Breakpoints["A"])
}

func TestDefaultJobSchedule(t *testing.T) {
	cfg := Default()

	want := map[string]struct {
		enabled  bool
		interval int
	}{
		JobSyncCharacter:         {false, 60},
		JobRefreshTrends:         {true, 1440},
		JobSnapshotOrders:        {true, 60},
		JobRefreshTypeValuations: {true, 360},
		JobRecommenderScan:       {true, 60},
	}
	for name, w := range want {
		job := cfg.Scheduler.Jobs[name]
		assert.Equal(t, w.enabled, job.IsEnabled(), name)
		assert.Equal(t, w.interval, job.IntervalMinutes, name)
	}
}

func validConfig() *Config {
	cfg := Default()
	cfg.Database.Postgres.Host = "localhost"
	cfg.Database.Postgres.Name = "market"
	cfg.Database.Postgres.User = "eve"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			modify: func(c *Config) {},
		},
		{
			name: "memory driver needs no postgres",
			modify: func(c *Config) {
				c.Database.Driver = "memory"
				c.Database.Postgres = DBConfig{}
			},
		},
		{
			name:    "missing postgres host",
			modify:  func(c *Config) { c.Database.Postgres.Host = "" },
			wantErr: "database.postgres.host is required",
		},
		{
			name:    "unknown driver",
			modify:  func(c *Config) { c.Database.Driver = "sqlite" },
			wantErr: "database.driver must be one of",
		},
		{
			name:    "min conns above max",
			modify:  func(c *Config) { c.Database.Postgres.MinConns = 20 },
			wantErr: "min_conns (20) cannot exceed max_conns (10)",
		},
		{
			name:    "zero batch",
			modify:  func(c *Config) { c.Tick.MaxBatch = 0 },
			wantErr: "tick.max_batch must be >= 1",
		},
		{
			name:    "unknown job",
			modify:  func(c *Config) { c.Scheduler.Jobs["reprice"] = JobConfig{IntervalMinutes: 5, Priority: "P2"} },
			wantErr: "scheduler.jobs.reprice is not a known job",
		},
		{
			name: "bad cron",
			modify: func(c *Config) {
				j := c.Scheduler.Jobs[JobRefreshTrends]
				j.Cron = "not a cron"
				c.Scheduler.Jobs[JobRefreshTrends] = j
			},
			wantErr: "scheduler.jobs.refresh_trends.cron",
		},
		{
			name: "bad priority",
			modify: func(c *Config) {
				j := c.Scheduler.Jobs[JobRecommenderScan]
				j.Priority = "P9"
				c.Scheduler.Jobs[JobRecommenderScan] = j
			},
			wantErr: "scheduler.jobs.recommender_scan.priority",
		},
		{
			name:    "tier intervals out of order",
			modify:  func(c *Config) { c.Tiers.IntervalsMinutes["B"] = 10 },
			wantErr: "tiers.intervals_minutes.B (10) must be >= A (45)",
		},
		{
			name:    "tier breakpoints out of order",
			modify:  func(c *Config) { c.Tiers.Breakpoints["C"] = 9000 },
			wantErr: "tiers.breakpoints.C",
		},
		{
			name:    "unknown default tier",
			modify:  func(c *Config) { c.Tiers.Default = "Z" },
			wantErr: "tiers.default must be one of",
		},
		{
			name:    "water marks inverted",
			modify:  func(c *Config) { c.Throttle.LowWater = 90 },
			wantErr: "throttle.low_water (90) cannot exceed high_water (80)",
		},
		{
			name:    "unknown recommender mode",
			modify:  func(c *Config) { c.Recommender.Mode = "yolo" },
			wantErr: "recommender.mode must be one of",
		},
		{
			name:    "hydrate above history",
			modify:  func(c *Config) { c.Events.Hydrate = 500 },
			wantErr: "events.hydrate (500) cannot exceed history (200)",
		},
		{
			name:    "negative send queue",
			modify:  func(c *Config) { c.Events.SendQueue = -1 },
			wantErr: "events.send_queue must be >= 1",
		},
		{
			name:    "bad log level",
			modify:  func(c *Config) { c.Logging.Level = "trace" },
			wantErr: "logging.level must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), "error %q should contain %q", err, tt.wantErr)
		})
	}
}

func TestLoadAndValidate(t *testing.T) {
	yaml := `
database:
  driver: memory
`
	cfg, err := LoadAndValidate(writeTempFile(t, yaml))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Database.Driver)

	_, err = LoadAndValidate(writeTempFile(t, "tick:\n  workers: -1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate config")
}

func TestExampleConfig(t *testing.T) {
	t.Setenv("PGHOST", "db.internal")
	t.Setenv("PGUSER", "ingest")
	t.Setenv("PGPASSWORD", "secret")

	cfg, err := LoadAndValidate(filepath.Join("..", "..", "configs", "ingestd.example.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Postgres.Host)
	assert.Equal(t, "15 */6 * * *", cfg.Scheduler.Jobs[JobRefreshTypeValuations].Cron)
	assert.Equal(t, "P1", cfg.Scheduler.Jobs[JobSnapshotOrders].Priority)
	assert.False(t, cfg.Scheduler.Jobs[JobSyncCharacter].IsEnabled())
	assert.Equal(t, 2*time.Minute, cfg.Tick.TaskTimeout)
	assert.True(t, cfg.Metrics.Enabled)
}
