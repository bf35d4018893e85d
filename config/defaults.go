// =============================================================================
// 📦 ScoreFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Models:    DefaultModelsConfig(),
		Archive:   DefaultArchiveConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
		MaxBodyBytes:    32 << 20,
	}
}

// DefaultModelsConfig 返回默认模型配置
func DefaultModelsConfig() ModelsConfig {
	return ModelsConfig{
		Parallelism:        4,
		WatchDebounce:      200 * time.Millisecond,
		RestoreParallelism: 4,
	}
}

// DefaultArchiveConfig 默认不启用存档
func DefaultArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		Driver: ArchiveDriverNone,
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			Key:          "scoreflow:models",
			PoolSize:     10,
			MinIdleConns: 2,
			MaxRetries:   3,
		},
		MaxOpenConns:        10,
		MaxIdleConns:        2,
		ConnMaxLifetime:     30 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "scoreflow",
		SampleRate:   0.1,
	}
}
