package config

import (
	"os"
	"time"

	"github.com/spf13/viper"
)

// Mode selects where assistant responses come from.
type Mode string

const (
	// ModeSimulation answers locally from the canned-response table.
	ModeSimulation Mode = "simulation"
	// ModeMCP forwards messages to the remote MCP endpoint.
	ModeMCP Mode = "mcp"
	// ModeLLM calls an OpenAI-compatible chat endpoint directly.
	ModeLLM Mode = "llm"
)

// Config holds the application configuration
type Config struct {
	LogLevel string        `mapstructure:"log_level"`
	Mode     Mode          `mapstructure:"mode"`
	Server   ServerConfig  `mapstructure:"server"`
	MCP      MCPConfig     `mapstructure:"mcp"`
	LLM      LLMConfig     `mapstructure:"llm"`
	Chat     ChatConfig    `mapstructure:"chat"`
	Queue    QueueConfig   `mapstructure:"queue"`
	History  HistoryConfig `mapstructure:"history"`
}

// ServerConfig holds the local HTTP control server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

// MCPConfig holds the remote endpoint connection configuration.
type MCPConfig struct {
	URL                  string  `mapstructure:"url"`
	Credential           string  `mapstructure:"credential"`
	ClientID             string  `mapstructure:"client_id"`
	MaxReconnectAttempts int     `mapstructure:"max_reconnect_attempts"`
	ReconnectBaseMS      int     `mapstructure:"reconnect_base_ms"`
	ReconnectGrowth      float64 `mapstructure:"reconnect_growth"`
	ReconnectCapMS       int     `mapstructure:"reconnect_cap_ms"`
}

// LLMConfig holds the direct-LLM mode configuration
type LLMConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	APIKey       string `mapstructure:"api_key"`
	Model        string `mapstructure:"model"`
	SystemPrompt string `mapstructure:"system_prompt"`
}

// ChatConfig holds chat session limits and simulator pacing.
type ChatConfig struct {
	HistoryLimit  int `mapstructure:"history_limit"`
	PersistLimit  int `mapstructure:"persist_limit"`
	MinResponseMS int `mapstructure:"min_response_ms"`
	MaxResponseMS int `mapstructure:"max_response_ms"`
}

// QueueConfig holds command queue pacing.
type QueueConfig struct {
	CommandGapMS int `mapstructure:"command_gap_ms"`
}

// HistoryConfig holds persisted history storage settings.
type HistoryConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// ReconnectBase returns the configured backoff base as a duration.
func (m MCPConfig) ReconnectBase() time.Duration {
	return time.Duration(m.ReconnectBaseMS) * time.Millisecond
}

// ReconnectCap returns the configured backoff cap as a duration.
func (m MCPConfig) ReconnectCap() time.Duration {
	return time.Duration(m.ReconnectCapMS) * time.Millisecond
}

// Load loads the configuration from config.yaml (or the file named by
// CONFIG_PATH), applying defaults first so a partial file is fine.
func Load() (*Config, error) {
	v := viper.New()
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetDefault("log_level", "info")
	v.SetDefault("mode", string(ModeSimulation))
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", "8090")
	v.SetDefault("mcp.client_id", "organix-bridge")
	v.SetDefault("mcp.max_reconnect_attempts", 5)
	v.SetDefault("mcp.reconnect_base_ms", 1500)
	v.SetDefault("mcp.reconnect_growth", 1.5)
	v.SetDefault("mcp.reconnect_cap_ms", 30000)
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("chat.history_limit", 100)
	v.SetDefault("chat.persist_limit", 50)
	v.SetDefault("chat.min_response_ms", 600)
	v.SetDefault("chat.max_response_ms", 2500)
	v.SetDefault("queue.command_gap_ms", 300)
	v.SetDefault("history.db_path", "history.db")

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; defaults apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		config.LLM.APIKey = key
	}
	if cred := os.Getenv("ORGANIX_MCP_CREDENTIAL"); cred != "" {
		config.MCP.Credential = cred
	}

	return &config, nil
}
