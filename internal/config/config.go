package config

// Config holds all application configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Detectors DetectorsConfig `mapstructure:"detectors"`
	Export    ExportConfig    `mapstructure:"export"`
	Server    ServerConfig    `mapstructure:"server"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// PoolConfig configures the worker pool. Durations are strings so config
// files can say "2m" or "30s".
type PoolConfig struct {
	Size           int    `mapstructure:"size"`
	TaskTimeout    string `mapstructure:"task_timeout"`
	ShutdownGrace  string `mapstructure:"shutdown_grace"`
	MemoryLimitMB  int    `mapstructure:"memory_limit_mb"`
	MinAvailableMB int    `mapstructure:"min_available_mb"`
}

// DetectorsConfig selects detectors and carries their open option maps.
type DetectorsConfig struct {
	Enabled []string                  `mapstructure:"enabled"`
	Options map[string]map[string]any `mapstructure:"options"`
}

// ExportConfig configures error-report export.
type ExportConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	EnableCORS  bool     `mapstructure:"enable_cors"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}
