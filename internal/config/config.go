// Package config loads and layers process configuration for the relayer,
// indexer, and backfill binaries.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// =============================================================================
// Escrow Chain Indexer - Configuration with Environment Overrides
// =============================================================================

// Config is the root configuration shared by all three processes. Each
// process only reads the sections it needs.
type Config struct {
	Chain      ChainConfig      `yaml:"chain"`
	Database   DatabaseConfig   `yaml:"database"`
	PubSub     PubSubConfig     `yaml:"pubsub"`
	CloudTasks CloudTasksConfig `yaml:"cloud_tasks"`
	Redis      RedisConfig      `yaml:"redis"`
	Server     ServerConfig     `yaml:"server"`
	Subscriber SubscriberConfig `yaml:"subscriber"`
	Tailer     TailerConfig     `yaml:"tailer"`
}

// ChainConfig describes the chain this process tails/backfills.
type ChainConfig struct {
	ChainID           int64             `yaml:"chain_id"`
	RPCURL            string            `yaml:"rpc_url"`
	ContractAddresses []string          `yaml:"contract_addresses"`
	EventSignatures   map[string]string `yaml:"event_signatures"` // topic0 hex -> event type
	ConfirmationDepth uint64            `yaml:"confirmation_depth"`
	StandbyNoPublish  bool              `yaml:"standby_no_publish"`
}

// DatabaseConfig holds the Postgres projection DB connection string.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	ConnMaxLifeMins int    `yaml:"conn_max_life_minutes"`
}

// PubSubConfig holds the Google Cloud Pub/Sub resource names.
type PubSubConfig struct {
	ProjectID      string `yaml:"project_id"`
	Topic          string `yaml:"topic"`
	Subscription   string `yaml:"subscription"`
	MaxInFlight    int    `yaml:"max_in_flight"`
	MaxDeliveries  int    `yaml:"max_delivery_attempts"`
	AckDeadlineSec int    `yaml:"ack_deadline_sec"`
}

// CloudTasksConfig is only used by the backfill runner's --schedule mode.
type CloudTasksConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ProjectID  string `yaml:"project_id"`
	LocationID string `yaml:"location_id"`
	QueueID    string `yaml:"queue_id"`
	TargetURL  string `yaml:"target_url"`
}

// RedisConfig backs the Query API's read-through cache. The rate limiter
// keeps its counters in process memory and does not use Redis.
type RedisConfig struct {
	Addr           string `yaml:"addr"`
	Password       string `yaml:"password"`
	DB             int    `yaml:"db"`
	CacheTTLMillis int    `yaml:"cache_ttl_millis"`
	Enabled        bool   `yaml:"enabled"`
}

// ServerConfig controls the Query API HTTP server.
type ServerConfig struct {
	Port               string `yaml:"port"`
	MetricsPort        string `yaml:"metrics_port"`
	Env                string `yaml:"env"`
	ReadTimeoutSec     int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec    int    `yaml:"write_timeout_sec"`
	IdleTimeoutSec     int    `yaml:"idle_timeout_sec"`
	ShutdownTimeoutSec int    `yaml:"shutdown_timeout_sec"`
	StaleThresholdSec  int    `yaml:"stale_threshold_sec"`
}

// SubscriberConfig controls the indexer's Pub/Sub consumer pool.
type SubscriberConfig struct {
	Workers                int `yaml:"workers"`
	SubscriberBacklogAlert int `yaml:"subscriber_backlog_alert"`
}

// TailerConfig controls the relayer's chain-tailing loop.
type TailerConfig struct {
	PollIntervalMillis int `yaml:"poll_interval_ms"`
	MaxWindowBlocks    int `yaml:"max_window_blocks"`
	RPCTimeoutSec      int `yaml:"rpc_timeout_sec"`
}

// Load reads a YAML config file (if path is non-empty and exists) and then
// applies environment variable overrides, matching the YAML-defaults-then-env
// precedence the rest of this codebase's lineage uses.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		if err := decodeYAMLFile(path, cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := getEnvInt64("CHAIN_ID", 0); v != 0 {
		c.Chain.ChainID = v
	}
	c.Chain.RPCURL = getEnv("RPC_URL", c.Chain.RPCURL)
	if addrs := getEnv("CONTRACT_ADDRESSES", ""); addrs != "" {
		c.Chain.ContractAddresses = splitCSV(addrs)
	}
	if v := getEnvUint("CONFIRMATION_DEPTH", 0); v != 0 {
		c.Chain.ConfirmationDepth = v
	}
	c.Chain.StandbyNoPublish = getEnvBool("RELAYER_STANDBY", c.Chain.StandbyNoPublish)

	c.Database.URL = getEnv("DB_URL", c.Database.URL)

	c.PubSub.ProjectID = getEnv("PUBSUB_PROJECT_ID", c.PubSub.ProjectID)
	c.PubSub.Topic = getEnv("BUS_TOPIC", c.PubSub.Topic)
	c.PubSub.Subscription = getEnv("BUS_SUBSCRIPTION", c.PubSub.Subscription)
	if v := getEnvInt("MAX_IN_FLIGHT", 0); v > 0 {
		c.PubSub.MaxInFlight = v
	}

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Enabled = getEnvBool("REDIS_ENABLED", c.Redis.Enabled)

	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.MetricsPort = getEnv("METRICS_PORT", c.Server.MetricsPort)
	c.Server.Env = getEnv("APP_ENV", c.Server.Env)
	if v := getEnvInt("STALE_THRESHOLD_S", 0); v > 0 {
		c.Server.StaleThresholdSec = v
	}

	if v := getEnvInt("SUBSCRIBER_WORKERS", 0); v > 0 {
		c.Subscriber.Workers = v
	}

	if v := getEnvInt("POLL_INTERVAL_MS", 0); v > 0 {
		c.Tailer.PollIntervalMillis = v
	}
	if v := getEnvInt("MAX_WINDOW_BLOCKS", 0); v > 0 {
		c.Tailer.MaxWindowBlocks = v
	}

	c.CloudTasks.Enabled = getEnvBool("CLOUD_TASKS_ENABLED", c.CloudTasks.Enabled)
	c.CloudTasks.ProjectID = getEnv("CLOUD_TASKS_PROJECT_ID", c.CloudTasks.ProjectID)
}

func (c *Config) applyDefaults() {
	if c.Chain.ConfirmationDepth == 0 {
		c.Chain.ConfirmationDepth = 12
	}
	if c.Tailer.PollIntervalMillis == 0 {
		c.Tailer.PollIntervalMillis = 3000
	}
	if c.Tailer.MaxWindowBlocks == 0 {
		c.Tailer.MaxWindowBlocks = 2000
	}
	if c.Tailer.RPCTimeoutSec == 0 {
		c.Tailer.RPCTimeoutSec = 30
	}
	if c.PubSub.MaxInFlight == 0 {
		c.PubSub.MaxInFlight = 1000
	}
	if c.PubSub.MaxDeliveries == 0 {
		c.PubSub.MaxDeliveries = 5
	}
	if c.PubSub.AckDeadlineSec == 0 {
		c.PubSub.AckDeadlineSec = 60
	}
	if c.PubSub.Topic == "" {
		c.PubSub.Topic = "escrow-events"
	}
	if c.PubSub.Subscription == "" {
		c.PubSub.Subscription = "escrow-events-indexer"
	}
	if c.Subscriber.Workers == 0 {
		c.Subscriber.Workers = 4
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = maxInt(4, 2*c.Subscriber.Workers+2)
	}
	if c.Subscriber.SubscriberBacklogAlert == 0 {
		c.Subscriber.SubscriberBacklogAlert = 10000
	}
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.MetricsPort == "" {
		c.Server.MetricsPort = "9090"
	}
	if c.Server.ReadTimeoutSec == 0 {
		c.Server.ReadTimeoutSec = 15
	}
	if c.Server.WriteTimeoutSec == 0 {
		c.Server.WriteTimeoutSec = 15
	}
	if c.Server.IdleTimeoutSec == 0 {
		c.Server.IdleTimeoutSec = 60
	}
	if c.Server.ShutdownTimeoutSec == 0 {
		c.Server.ShutdownTimeoutSec = 60
	}
	if c.Server.StaleThresholdSec == 0 {
		c.Server.StaleThresholdSec = 300
	}
	if c.Redis.CacheTTLMillis == 0 {
		c.Redis.CacheTTLMillis = 2000
	}
	if c.CloudTasks.LocationID == "" {
		c.CloudTasks.LocationID = "us-central1"
	}
	if c.CloudTasks.QueueID == "" {
		c.CloudTasks.QueueID = "escrow-backfill"
	}
}

// Validate checks the fields required for the pipeline to come up at all.
// Component-specific requirements (e.g. RPC_URL for the relayer) are
// checked by each cmd/ entrypoint, since the backfill and indexer
// processes don't need every field.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("config: DB_URL is required")
	}
	return nil
}

func (c *Config) IsProduction() bool { return c.Server.Env == "production" }

// =============================================================================
// Helper Functions
// =============================================================================

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvUint(key string, defaultVal uint64) uint64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseUint(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(strings.ToLower(p))
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
