// Package config loads gatewayd process configuration from a YAML file and
// GATEWAY_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	gateway "github.com/chaoschain/gateway"
	audithook "github.com/chaoschain/gateway/audit_hook"
	"github.com/chaoschain/gateway/internal/logging"
	"github.com/chaoschain/gateway/queue"
	"github.com/chaoschain/gateway/workflow"
)

// EnvPrefix is prepended to every environment override, e.g.
// GATEWAY_STORE_DSN overrides store.dsn.
const EnvPrefix = "GATEWAY"

// Config is the full process configuration.
type Config struct {
	HTTP       HTTP           `mapstructure:"http"`
	Log        logging.Config `mapstructure:"log"`
	Store      Store          `mapstructure:"store"`
	Redis      Redis          `mapstructure:"redis"`
	Chain      Chain          `mapstructure:"chain"`
	Archive    Archive        `mapstructure:"archive"`
	Engine     Engine         `mapstructure:"engine"`
	TxQueue    TxQueue        `mapstructure:"txqueue"`
	Worker     Worker         `mapstructure:"worker"`
	Admission  []Admission    `mapstructure:"admission"`
	Classifier struct {
		RulesFile string `mapstructure:"rules_file"`
	} `mapstructure:"classifier"`
	Audit  Audit  `mapstructure:"audit"`
	Stream Stream `mapstructure:"stream"`
}

type HTTP struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// Store selects the persistence backend. Driver is one of postgres, bun,
// redis, mongo or memory.
type Store struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	Database string `mapstructure:"database"`
	Migrate  bool   `mapstructure:"migrate"`
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Chain struct {
	RPCURL        string        `mapstructure:"rpc_url"`
	Rewards       string        `mapstructure:"rewards_address"`
	Confirmations uint64        `mapstructure:"confirmations"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	GasLimit      uint64        `mapstructure:"gas_limit"`
	StudioABI     string        `mapstructure:"studio_abi"`
	RewardsABI    string        `mapstructure:"rewards_abi"`
}

// Archive selects the evidence archive. Driver is irys or memory.
type Archive struct {
	Driver  string        `mapstructure:"driver"`
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Engine mirrors gateway.Config.
type Engine struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialDelay    time.Duration `mapstructure:"initial_delay"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxDelay        time.Duration `mapstructure:"max_delay"`
	Jitter          bool          `mapstructure:"jitter"`
	ActionTimeout   time.Duration `mapstructure:"action_timeout"`
	ConfirmTimeout  time.Duration `mapstructure:"confirm_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	Concurrency     int           `mapstructure:"concurrency"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// TxQueue configures signer serialization. Locker is memory or redis.
type TxQueue struct {
	Locker  string        `mapstructure:"locker"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
	Rate    float64       `mapstructure:"rate"`
	Burst   int           `mapstructure:"burst"`
}

type Worker struct {
	BufferSize   int           `mapstructure:"buffer_size"`
	RequeueDelay time.Duration `mapstructure:"requeue_delay"`
}

// Admission limits one workflow type, or one studio within a type when
// Studio is set.
type Admission struct {
	Type           string  `mapstructure:"type"`
	Studio         string  `mapstructure:"studio"`
	MaxConcurrency int     `mapstructure:"max_concurrency"`
	Rate           float64 `mapstructure:"rate"`
	Burst          int     `mapstructure:"burst"`
}

// Audit enables the audit extension. An empty Actions list records every
// action.
type Audit struct {
	Enabled bool     `mapstructure:"enabled"`
	Actions []string `mapstructure:"actions"`
}

// Stream enables the GET /events WebSocket feed.
type Stream struct {
	Enabled    bool `mapstructure:"enabled"`
	BufferSize int  `mapstructure:"buffer_size"`
}

func setDefaults(v *viper.Viper) {
	def := gateway.DefaultConfig()

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.database", "gateway")
	v.SetDefault("store.migrate", true)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("chain.rpc_url", "http://localhost:8545")
	v.SetDefault("chain.rewards_address", "")
	v.SetDefault("chain.confirmations", 1)
	v.SetDefault("chain.poll_interval", 2*time.Second)
	v.SetDefault("chain.gas_limit", 0)
	v.SetDefault("chain.studio_abi", "")
	v.SetDefault("chain.rewards_abi", "")

	v.SetDefault("archive.driver", "irys")
	v.SetDefault("archive.url", "https://node1.irys.xyz")
	v.SetDefault("archive.timeout", 30*time.Second)

	v.SetDefault("engine.max_attempts", def.MaxAttempts)
	v.SetDefault("engine.initial_delay", def.InitialDelay)
	v.SetDefault("engine.multiplier", def.Multiplier)
	v.SetDefault("engine.max_delay", def.MaxDelay)
	v.SetDefault("engine.jitter", def.Jitter)
	v.SetDefault("engine.action_timeout", def.ActionTimeout)
	v.SetDefault("engine.confirm_timeout", def.ConfirmTimeout)
	v.SetDefault("engine.poll_interval", def.PollInterval)
	v.SetDefault("engine.concurrency", def.Concurrency)
	v.SetDefault("engine.sweep_interval", def.SweepInterval)
	v.SetDefault("engine.shutdown_timeout", def.ShutdownTimeout)

	v.SetDefault("txqueue.locker", "memory")
	v.SetDefault("txqueue.lock_ttl", 30*time.Second)
	v.SetDefault("txqueue.rate", 0)
	v.SetDefault("txqueue.burst", 1)

	v.SetDefault("worker.buffer_size", 1024)
	v.SetDefault("worker.requeue_delay", 2*time.Second)

	v.SetDefault("classifier.rules_file", "")

	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.actions", []string{})

	v.SetDefault("stream.enabled", true)
	v.SetDefault("stream.buffer_size", 256)
}

// Load reads configuration. An empty path loads defaults and environment
// overrides only; a non-empty path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerations, addresses and engine bounds.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case "memory", "redis":
	case "postgres", "bun", "mongo":
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of postgres, bun, redis, mongo, memory", c.Store.Driver))
	}

	switch c.Archive.Driver {
	case "memory":
	case "irys":
		if c.Archive.URL == "" {
			errs = append(errs, errors.New("archive.url is required for driver irys"))
		}
	default:
		errs = append(errs, fmt.Errorf("archive.driver %q is not one of irys, memory", c.Archive.Driver))
	}

	switch c.TxQueue.Locker {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("txqueue.locker %q is not one of memory, redis", c.TxQueue.Locker))
	}

	if c.Chain.Rewards != "" && !common.IsHexAddress(c.Chain.Rewards) {
		errs = append(errs, fmt.Errorf("chain.rewards_address %q is not an address", c.Chain.Rewards))
	}
	for i, a := range c.Admission {
		switch workflow.Type(a.Type) {
		case workflow.TypeWorkSubmission, workflow.TypeScoreSubmission, workflow.TypeCloseEpoch:
		case "":
			errs = append(errs, fmt.Errorf("admission[%d].type is required", i))
		default:
			errs = append(errs, fmt.Errorf("admission[%d].type %q is not a workflow type", i, a.Type))
		}
		if a.Studio != "" && !common.IsHexAddress(a.Studio) {
			errs = append(errs, fmt.Errorf("admission[%d].studio %q is not an address", i, a.Studio))
		}
	}

	for _, a := range c.Audit.Actions {
		if !audithook.ValidAction(a) {
			errs = append(errs, fmt.Errorf("audit.actions: unknown action %q", a))
		}
	}

	if c.Engine.MaxAttempts < 1 {
		errs = append(errs, errors.New("engine.max_attempts must be at least 1"))
	}
	if c.Engine.Concurrency < 1 {
		errs = append(errs, errors.New("engine.concurrency must be at least 1"))
	}
	if c.Engine.Multiplier < 1 {
		errs = append(errs, errors.New("engine.multiplier must be at least 1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// EngineConfig converts the engine section to a gateway.Config.
func (c *Config) EngineConfig() gateway.Config {
	e := c.Engine
	return gateway.Config{
		MaxAttempts:     e.MaxAttempts,
		InitialDelay:    e.InitialDelay,
		Multiplier:      e.Multiplier,
		MaxDelay:        e.MaxDelay,
		Jitter:          e.Jitter,
		ActionTimeout:   e.ActionTimeout,
		ConfirmTimeout:  e.ConfirmTimeout,
		PollInterval:    e.PollInterval,
		Concurrency:     e.Concurrency,
		SweepInterval:   e.SweepInterval,
		ShutdownTimeout: e.ShutdownTimeout,
	}
}

// AdmissionConfigs splits the admission list into per-type and per-studio
// limits.
func (c *Config) AdmissionConfigs() ([]queue.Config, []queue.StudioConfig) {
	var types []queue.Config
	var studios []queue.StudioConfig
	for _, a := range c.Admission {
		if a.Studio == "" {
			types = append(types, queue.Config{Type: a.Type, MaxConcurrency: a.MaxConcurrency, RateLimit: a.Rate, RateBurst: a.Burst})
			continue
		}
		studios = append(studios, queue.StudioConfig{Type: a.Type, Studio: a.Studio, MaxConcurrency: a.MaxConcurrency, RateLimit: a.Rate, RateBurst: a.Burst})
	}
	return types, studios
}

// RewardsAddress returns the parsed rewards distributor address.
func (c *Config) RewardsAddress() common.Address {
	return common.HexToAddress(c.Chain.Rewards)
}
