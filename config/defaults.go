// =============================================================================
// 📦 docqa 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:         DefaultServerConfig(),
		Backends:       []BackendConfig{DefaultBackendConfig("primary")},
		Fallbacks:      map[string]string{},
		DefaultBackend: "primary",
		Embedding:      DefaultEmbeddingConfig(),
		RAG:            DefaultRAGConfig(),
		Log:            DefaultLogConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultBackendConfig 返回指定注册名的默认后端配置
func DefaultBackendConfig(name string) BackendConfig {
	return BackendConfig{
		Name:                name,
		Model:               "gpt-4o-mini",
		Timeout:             30 * time.Second,
		TokensPerMinute:     90000,
		TokenSafetyMargin:   2000,
		RequestsPerSecond:   5,
		MaxRetries:          2,
		RetryBackoff:        2 * time.Second,
		CircuitThreshold:    5,
		CircuitResetTimeout: 60 * time.Second,
	}
}

// DefaultEmbeddingConfig 返回默认嵌入配置
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Model:      "text-embedding-3-small",
		Dimensions: 1536,
		MaxBatch:   100,
		Timeout:    30 * time.Second,
	}
}

// DefaultRAGConfig 返回默认检索配置
func DefaultRAGConfig() RAGConfig {
	return RAGConfig{
		SimilarityThreshold: 0.72,
		MinScore:            0.7,
		TopK:                8,
		EvidenceCharBudget:  12000,
		MaxCachedIndexes:    256,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
}

// BackendByName 按注册名查找后端配置；未找到时返回 false。
func (c *Config) BackendByName(name string) (BackendConfig, bool) {
	for _, b := range c.Backends {
		if b.Name == name {
			return b, true
		}
	}
	return BackendConfig{}, false
}
