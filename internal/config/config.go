package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/streamweaver-io/streamweaver/internal/backpressure"
	"github.com/streamweaver-io/streamweaver/internal/service"
)

// File is the on-disk configuration shape (streamweaver.yaml). Durations are
// plain numbers: seconds except where the name says otherwise. Booleans are
// pointers so an absent key falls back to the default instead of false.
type File struct {
	SessionTimeout       int    `mapstructure:"session_timeout"`
	MaxConcurrentStreams int    `mapstructure:"max_concurrent_streams"`
	EnableHeartbeat      *bool  `mapstructure:"enable_heartbeat"`
	HeartbeatInterval    int    `mapstructure:"heartbeat_interval"`
	QueueSize            int    `mapstructure:"queue_size"`
	BackpressurePolicy   string `mapstructure:"backpressure_policy"`
	EnableReplay         *bool  `mapstructure:"enable_replay"`
	EventBufferSize      int    `mapstructure:"event_buffer_size"`
	EnableBatching       *bool  `mapstructure:"enable_batching"`
	BatchSize            int    `mapstructure:"batch_size"`
	BatchDelayMs         int    `mapstructure:"batch_delay_ms"`
	EnableMetrics        *bool  `mapstructure:"enable_metrics"`
	EnableCompression    *bool  `mapstructure:"enable_compression"`
	CompressionThreshold int    `mapstructure:"compression_threshold"`
	SweepInterval        int    `mapstructure:"sweep_interval"`
	Port                 int    `mapstructure:"port"`
}

// Load reads streamweaver.yaml from CONFIG_PATH (default
// /app/config/streamweaver.yaml). A missing file is not an error: an empty
// File is returned and every option takes its default.
func Load() (*File, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "/app/config/streamweaver.yaml"
	}

	var f File
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return &f, nil
	}

	v := viper.New()
	v.SetConfigFile(cfgPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &f, nil
}

// Service merges the file values over service.DefaultConfig and applies
// environment overrides on top (env wins over file, file wins over default).
func (f *File) Service() service.Config {
	cfg := service.DefaultConfig()

	if f.SessionTimeout > 0 {
		cfg.SessionTimeout = time.Duration(f.SessionTimeout) * time.Second
	}
	if f.MaxConcurrentStreams > 0 {
		cfg.MaxConcurrentStreams = f.MaxConcurrentStreams
	}
	if f.EnableHeartbeat != nil {
		cfg.EnableHeartbeat = *f.EnableHeartbeat
	}
	if f.HeartbeatInterval > 0 {
		cfg.HeartbeatInterval = time.Duration(f.HeartbeatInterval) * time.Second
	}
	if f.QueueSize > 0 {
		cfg.QueueSize = f.QueueSize
	}
	if p := parsePolicy(f.BackpressurePolicy); p != "" {
		cfg.BackpressurePolicy = p
	}
	if f.EnableReplay != nil {
		cfg.EnableReplay = *f.EnableReplay
	}
	if f.EventBufferSize > 0 {
		cfg.EventBufferSize = f.EventBufferSize
	}
	if f.EnableBatching != nil {
		cfg.EnableBatching = *f.EnableBatching
	}
	if f.BatchSize > 0 {
		cfg.BatchSize = f.BatchSize
	}
	if f.BatchDelayMs > 0 {
		cfg.BatchDelay = time.Duration(f.BatchDelayMs) * time.Millisecond
	}
	if f.EnableMetrics != nil {
		cfg.EnableMetrics = *f.EnableMetrics
	}
	if f.EnableCompression != nil {
		cfg.EnableCompression = *f.EnableCompression
	}
	if f.CompressionThreshold > 0 {
		cfg.CompressionThreshold = f.CompressionThreshold
	}
	if f.SweepInterval > 0 {
		cfg.SweepInterval = time.Duration(f.SweepInterval) * time.Second
	}

	applyEnv(&cfg)
	return cfg
}

func applyEnv(cfg *service.Config) {
	if n := envInt("SESSION_TIMEOUT"); n > 0 {
		cfg.SessionTimeout = time.Duration(n) * time.Second
	}
	if n := envInt("MAX_CONCURRENT_STREAMS"); n > 0 {
		cfg.MaxConcurrentStreams = n
	}
	if n := envInt("HEARTBEAT_INTERVAL"); n > 0 {
		cfg.HeartbeatInterval = time.Duration(n) * time.Second
	}
	if n := envInt("QUEUE_SIZE"); n > 0 {
		cfg.QueueSize = n
	}
	if p := parsePolicy(os.Getenv("BACKPRESSURE_POLICY")); p != "" {
		cfg.BackpressurePolicy = p
	}
	if n := envInt("EVENT_BUFFER_SIZE"); n > 0 {
		cfg.EventBufferSize = n
	}
	if v := os.Getenv("ENABLE_BATCHING"); v != "" {
		cfg.EnableBatching = v == "1" || v == "true"
	}
	if v := os.Getenv("ENABLE_METRICS"); v != "" {
		cfg.EnableMetrics = v == "1" || v == "true"
	}
}

func envInt(name string) int {
	v := os.Getenv(name)
	if v == "" {
		return 0
	}
	var n int
	_, _ = fmt.Sscanf(v, "%d", &n)
	return n
}

func parsePolicy(s string) backpressure.Policy {
	switch backpressure.Policy(s) {
	case backpressure.Block, backpressure.DropOldest, backpressure.DropNewest:
		return backpressure.Policy(s)
	}
	return ""
}

// HTTPPort returns the listen port: PORT env, then the config file, then the
// given default.
func (f *File) HTTPPort(defaultPort int) int {
	if n := envInt("PORT"); n > 0 {
		return n
	}
	if f.Port > 0 {
		return f.Port
	}
	return defaultPort
}
