package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL                  string
	ContractAddress         string
	PollInterval            time.Duration
	ChunkSize               int
	StartBlock              uint64
	MaxBlockRange           uint64
	Confirmations           uint64
	PGDSN                   string
	CursorName              string
	CursorFile              string
	MaxRetries              int
	RetryBackoff            time.Duration
	RPCTimeout              time.Duration
	RPCRateLimit            float64
	RedisURL                string
	LockTTL                 time.Duration
	DeadLetter              string
	PendingCompletionPasses int
	MetricsAddr             string
	InitSchema              bool
	LogLevel                string
}

// envAliases maps deployment-style variable names onto config keys.
var envAliases = map[string]string{
	"rpc":              "STARKNET_RPC_URL",
	"contract-address": "PAYMENT_GATEWAY_ADDRESS",
	"pg-dsn":           "DATABASE_URL",
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("POLLER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for key, env := range envAliases {
		if err := v.BindEnv(key, "POLLER_"+strings.ToUpper(strings.ReplaceAll(key, "-", "_")), env); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	v.SetDefault("poll-interval", 10*time.Second)
	v.SetDefault("chunk-size", 10)
	v.SetDefault("start-block", uint64(0))
	v.SetDefault("max-block-range", uint64(0))
	v.SetDefault("confirmations", uint64(0))
	v.SetDefault("cursor-name", "payment-gateway")
	v.SetDefault("max-retries", 3)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("rpc-timeout", 30*time.Second)
	v.SetDefault("rpc-rate-limit", 0.0)
	v.SetDefault("lock-ttl", time.Minute)
	v.SetDefault("pending-completion-passes", 0)
	v.SetDefault("init-schema", false)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:                  strings.TrimSpace(v.GetString("rpc")),
		ContractAddress:         strings.TrimSpace(v.GetString("contract-address")),
		PollInterval:            v.GetDuration("poll-interval"),
		ChunkSize:               v.GetInt("chunk-size"),
		StartBlock:              v.GetUint64("start-block"),
		MaxBlockRange:           v.GetUint64("max-block-range"),
		Confirmations:           v.GetUint64("confirmations"),
		PGDSN:                   strings.TrimSpace(v.GetString("pg-dsn")),
		CursorName:              v.GetString("cursor-name"),
		CursorFile:              v.GetString("cursor-file"),
		MaxRetries:              v.GetInt("max-retries"),
		RetryBackoff:            v.GetDuration("retry-backoff"),
		RPCTimeout:              v.GetDuration("rpc-timeout"),
		RPCRateLimit:            v.GetFloat64("rpc-rate-limit"),
		RedisURL:                v.GetString("redis-url"),
		LockTTL:                 v.GetDuration("lock-ttl"),
		DeadLetter:              v.GetString("dead-letter"),
		PendingCompletionPasses: v.GetInt("pending-completion-passes"),
		MetricsAddr:             v.GetString("metrics-addr"),
		InitSchema:              v.GetBool("init-schema"),
		LogLevel:                v.GetString("log-level"),
	}

	return cfg, nil
}

// Validate reports settings that make the poller unable to start. A missing
// contract address is not one of them: passes are skipped with a warning.
func (c Config) Validate() error {
	var errs []error
	if c.RPCURL == "" {
		errs = append(errs, errors.New("rpc url is required"))
	}
	if c.PGDSN == "" {
		errs = append(errs, errors.New("pg dsn is required"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive, got %s", c.PollInterval))
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max retries must not be negative, got %d", c.MaxRetries))
	}
	if c.PendingCompletionPasses < 0 {
		errs = append(errs, fmt.Errorf("pending completion passes must not be negative, got %d", c.PendingCompletionPasses))
	}
	if c.CursorName == "" {
		errs = append(errs, errors.New("cursor name is required"))
	}
	return errors.Join(errs...)
}
