// Package config loads the service's layered configuration: built-in
// defaults, an optional YAML file, then SAFEIDX_-prefixed environment
// variables, in that precedence order.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration recognized by this service (spec.md
// section 6).
type Config struct {
	RPC       RPCConfig       `mapstructure:"rpc"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Indexer   IndexerConfig   `mapstructure:"indexer"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Reorg     ReorgConfig     `mapstructure:"reorg"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// RPCConfig configures the EVM JSON-RPC adapter.
type RPCConfig struct {
	URL            string `mapstructure:"url"`
	TracingURL     string `mapstructure:"tracing_url"`
	RequestTimeout int    `mapstructure:"request_timeout_seconds"`
	// ChainID is the EIP-155 chain id of the indexed network. Multisig
	// Reconciliation needs it to recompute safeTxHash's EIP-712 domain
	// separator; it's configured rather than read per-call from
	// eth_chainId since it never changes for a running deployment.
	ChainID uint64 `mapstructure:"chain_id"`
}

// DatabaseConfig configures the database/sql (lib/pq) connection pool.
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	Database        string `mapstructure:"name"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime_seconds"`
}

// DSN returns the libpq connection string passed to database/sql's
// "postgres" (lib/pq) driver.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig configures the distributed lock manager.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Address returns the host:port Redis address.
func (c RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig configures the webhook dispatcher's Kafka producer.
type KafkaConfig struct {
	Brokers      []string `mapstructure:"brokers"`
	TopicPrefix  string   `mapstructure:"topic_prefix"`
	RequiredAcks string   `mapstructure:"required_acks"`
}

// MasterCopy describes one recognized Safe singleton implementation.
type MasterCopy struct {
	Address      string `mapstructure:"address"`
	InitialBlock uint64 `mapstructure:"initial_block"`
	Version      string `mapstructure:"version"`
	L2           bool   `mapstructure:"l2"`
}

// IndexerMode selects between trace-based and event-based Safe indexing.
type IndexerMode string

const (
	IndexerModeEvents IndexerMode = "events"
	IndexerModeTraces IndexerMode = "traces"
	IndexerModeAuto   IndexerMode = "auto"
)

// IndexerConfig configures the indexer pipeline.
type IndexerConfig struct {
	FactoryAddresses     []string     `mapstructure:"factory_addresses"`
	MasterCopies         []MasterCopy `mapstructure:"master_copies"`
	Mode                 IndexerMode  `mapstructure:"mode"`
	BlockProcessLimit    uint64       `mapstructure:"block_process_limit"`
	BlockProcessLimitMax uint64       `mapstructure:"block_process_limit_max"`
	ERC20721StartBlock   uint64       `mapstructure:"erc20_721_start_block"`
}

// SchedulerConfig configures per-task cadence and timeouts.
type SchedulerConfig struct {
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
	SoftTimeoutSeconds  int `mapstructure:"soft_timeout_seconds"`
	HardTimeoutSeconds  int `mapstructure:"hard_timeout_seconds"`
	LockTTLSeconds      int `mapstructure:"lock_ttl_seconds"`
}

// PollInterval is the scheduler's poll cadence as a time.Duration.
func (c SchedulerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// SoftTimeout is the scheduler's soft task deadline as a time.Duration.
func (c SchedulerConfig) SoftTimeout() time.Duration {
	return time.Duration(c.SoftTimeoutSeconds) * time.Second
}

// HardTimeout is the scheduler's hard task deadline as a time.Duration.
func (c SchedulerConfig) HardTimeout() time.Duration {
	return time.Duration(c.HardTimeoutSeconds) * time.Second
}

// LockTTL is the scheduler's named-lock time-to-live.
func (c SchedulerConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// ReorgConfig configures the reorg controller's depth and rewind window.
type ReorgConfig struct {
	Depth               uint64 `mapstructure:"depth"`
	RewindBlocks        uint64 `mapstructure:"rewind_blocks"`
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"`
}

// PollInterval converts PollIntervalSeconds to a time.Duration. The
// scheduler runs the reorg controller at SchedulerConfig's poll interval,
// like every other task; nothing reads this value.
func (c ReorgConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// MetricsConfig configures the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// Load reads configuration from an optional YAML file and environment
// variables, falling back to the defaults below when neither is set.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/safe-indexer/")

	v.SetEnvPrefix("SAFEIDX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("rpc.request_timeout_seconds", 15)
	v.SetDefault("rpc.chain_id", 1)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.username", "safeindexer")
	v.SetDefault("database.password", "safeindexer")
	v.SetDefault("database.name", "safe_transaction_indexer")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime_seconds", 300)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "safe-indexer")
	v.SetDefault("kafka.required_acks", "all")

	v.SetDefault("indexer.mode", string(IndexerModeAuto))
	v.SetDefault("indexer.block_process_limit", 1000)
	v.SetDefault("indexer.block_process_limit_max", 10000)
	v.SetDefault("indexer.erc20_721_start_block", 0)

	v.SetDefault("scheduler.poll_interval_seconds", 15)
	v.SetDefault("scheduler.soft_timeout_seconds", 60)
	v.SetDefault("scheduler.hard_timeout_seconds", 120)
	v.SetDefault("scheduler.lock_ttl_seconds", 150)

	v.SetDefault("reorg.depth", 10)
	v.SetDefault("reorg.rewind_blocks", 10)
	v.SetDefault("reorg.poll_interval_seconds", 30)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.address", ":9090")
}
