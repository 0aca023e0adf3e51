// Package config holds the system-wide settings: database location,
// HTTP listener, websocket heartbeat, the completion backend, and the
// turn engine knobs. Precedence is file > environment > defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Database   *DatabaseConfig   `json:"database"`
	HTTP       *HTTPConfig       `json:"http"`
	WebSocket  *WebSocketConfig  `json:"websocket"`
	Completion *CompletionConfig `json:"completion"`
	Turn       *TurnConfig       `json:"turn"`
}

type DatabaseConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

// CompletionConfig points at the chat-completions backend. The API key
// is env-only on purpose: it never belongs in a config file.
type CompletionConfig struct {
	BaseURL     string        `json:"base_url"`
	APIKey      string        `json:"-"`
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Timeout     time.Duration `json:"timeout"`
}

// TurnConfig tunes the conversation engine: how long a single turn may
// run, how long an idle controller is retained after its student
// disconnects, and the per-student message rate cap.
type TurnConfig struct {
	TurnTimeout        time.Duration `json:"turn_timeout"`
	IdleTTL            time.Duration `json:"idle_ttl"`
	RateLimitPerMinute int           `json:"rate_limit_per_minute"`
}

func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:    "./data/tutorhub.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		Completion: &CompletionConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			MaxTokens:   500,
			Temperature: 0.7,
			Timeout:     30 * time.Second,
		},
		Turn: &TurnConfig{
			TurnTimeout:        45 * time.Second,
			IdleTTL:            10 * time.Minute,
			RateLimitPerMinute: 30,
		},
	}
}

func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}

	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}

	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}

	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}

	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}

	if c.WebSocket.ReadTimeout <= 0 {
		return fmt.Errorf("WebSocket read timeout must be positive")
	}

	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}

	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Completion == nil {
		return fmt.Errorf("completion configuration is required")
	}

	if c.Completion.BaseURL == "" {
		return fmt.Errorf("completion base URL cannot be empty")
	}

	if c.Completion.Model == "" {
		return fmt.Errorf("completion model cannot be empty")
	}

	if c.Completion.MaxTokens <= 0 {
		return fmt.Errorf("completion max tokens must be positive")
	}

	if c.Completion.Temperature < 0 || c.Completion.Temperature > 2 {
		return fmt.Errorf("completion temperature must be between 0 and 2")
	}

	if c.Completion.Timeout <= 0 {
		return fmt.Errorf("completion timeout must be positive")
	}

	if c.Turn == nil {
		return fmt.Errorf("turn configuration is required")
	}

	if c.Turn.TurnTimeout <= 0 {
		return fmt.Errorf("turn timeout must be positive")
	}

	if c.Turn.IdleTTL <= 0 {
		return fmt.Errorf("turn idle TTL must be positive")
	}

	if c.Turn.RateLimitPerMinute <= 0 {
		return fmt.Errorf("rate limit per minute must be positive")
	}

	return nil
}

// LoadFromEnv applies TUTORHUB_* environment overrides on top of the
// defaults. Unparseable values fall back silently.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if port := os.Getenv("TUTORHUB_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = p
		}
	}

	if host := os.Getenv("TUTORHUB_HTTP_HOST"); host != "" {
		config.HTTP.Host = host
	}

	if dbPath := os.Getenv("TUTORHUB_DATABASE_PATH"); dbPath != "" {
		config.Database.Path = dbPath
	}

	if dbTimeout := os.Getenv("TUTORHUB_DATABASE_TIMEOUT"); dbTimeout != "" {
		if timeout, err := time.ParseDuration(dbTimeout); err == nil {
			config.Database.Timeout = timeout
		}
	}

	if readTimeout := os.Getenv("TUTORHUB_HTTP_READ_TIMEOUT"); readTimeout != "" {
		if timeout, err := time.ParseDuration(readTimeout); err == nil {
			config.HTTP.ReadTimeout = timeout
		}
	}

	if writeTimeout := os.Getenv("TUTORHUB_HTTP_WRITE_TIMEOUT"); writeTimeout != "" {
		if timeout, err := time.ParseDuration(writeTimeout); err == nil {
			config.HTTP.WriteTimeout = timeout
		}
	}

	if pingInterval := os.Getenv("TUTORHUB_WEBSOCKET_PING_INTERVAL"); pingInterval != "" {
		if interval, err := time.ParseDuration(pingInterval); err == nil {
			config.WebSocket.PingInterval = interval
		}
	}

	if wsReadTimeout := os.Getenv("TUTORHUB_WEBSOCKET_READ_TIMEOUT"); wsReadTimeout != "" {
		if timeout, err := time.ParseDuration(wsReadTimeout); err == nil {
			config.WebSocket.ReadTimeout = timeout
		}
	}

	if wsWriteTimeout := os.Getenv("TUTORHUB_WEBSOCKET_WRITE_TIMEOUT"); wsWriteTimeout != "" {
		if timeout, err := time.ParseDuration(wsWriteTimeout); err == nil {
			config.WebSocket.WriteTimeout = timeout
		}
	}

	if bufferSize := os.Getenv("TUTORHUB_WEBSOCKET_BUFFER_SIZE"); bufferSize != "" {
		if size, err := strconv.Atoi(bufferSize); err == nil {
			config.WebSocket.BufferSize = size
		}
	}

	if baseURL := os.Getenv("TUTORHUB_COMPLETION_BASE_URL"); baseURL != "" {
		config.Completion.BaseURL = baseURL
	}

	if apiKey := os.Getenv("TUTORHUB_COMPLETION_API_KEY"); apiKey != "" {
		config.Completion.APIKey = apiKey
	}

	if model := os.Getenv("TUTORHUB_COMPLETION_MODEL"); model != "" {
		config.Completion.Model = model
	}

	if maxTokens := os.Getenv("TUTORHUB_COMPLETION_MAX_TOKENS"); maxTokens != "" {
		if tokens, err := strconv.Atoi(maxTokens); err == nil {
			config.Completion.MaxTokens = tokens
		}
	}

	if temperature := os.Getenv("TUTORHUB_COMPLETION_TEMPERATURE"); temperature != "" {
		if temp, err := strconv.ParseFloat(temperature, 64); err == nil {
			config.Completion.Temperature = temp
		}
	}

	if completionTimeout := os.Getenv("TUTORHUB_COMPLETION_TIMEOUT"); completionTimeout != "" {
		if timeout, err := time.ParseDuration(completionTimeout); err == nil {
			config.Completion.Timeout = timeout
		}
	}

	if turnTimeout := os.Getenv("TUTORHUB_TURN_TIMEOUT"); turnTimeout != "" {
		if timeout, err := time.ParseDuration(turnTimeout); err == nil {
			config.Turn.TurnTimeout = timeout
		}
	}

	if idleTTL := os.Getenv("TUTORHUB_TURN_IDLE_TTL"); idleTTL != "" {
		if ttl, err := time.ParseDuration(idleTTL); err == nil {
			config.Turn.IdleTTL = ttl
		}
	}

	if rateLimit := os.Getenv("TUTORHUB_TURN_RATE_LIMIT"); rateLimit != "" {
		if limit, err := strconv.Atoi(rateLimit); err == nil {
			config.Turn.RateLimitPerMinute = limit
		}
	}

	return config
}

// ConfigFile mirrors Config for JSON parsing, with durations as strings.
type ConfigFile struct {
	Database   *DatabaseConfigFile   `json:"database"`
	HTTP       *HTTPConfigFile       `json:"http"`
	WebSocket  *WebSocketConfigFile  `json:"websocket"`
	Completion *CompletionConfigFile `json:"completion"`
	Turn       *TurnConfigFile       `json:"turn"`
}

type DatabaseConfigFile struct {
	Path    string `json:"path"`
	Timeout string `json:"timeout"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	Host         string `json:"host"`
}

type WebSocketConfigFile struct {
	PingInterval string `json:"ping_interval"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	BufferSize   int    `json:"buffer_size"`
}

type CompletionConfigFile struct {
	BaseURL     string  `json:"base_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Timeout     string  `json:"timeout"`
}

type TurnConfigFile struct {
	TurnTimeout        string `json:"turn_timeout"`
	IdleTTL            string `json:"idle_ttl"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute"`
}

// LoadFromFile reads a JSON config on top of the env-derived config, so
// the API key can still come from the environment.
func LoadFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := LoadFromEnv()

	if configFile.Database != nil {
		if configFile.Database.Path != "" {
			config.Database.Path = configFile.Database.Path
		}
		if configFile.Database.Timeout != "" {
			if timeout, err := time.ParseDuration(configFile.Database.Timeout); err == nil {
				config.Database.Timeout = timeout
			}
		}
	}

	if configFile.HTTP != nil {
		if configFile.HTTP.Port > 0 {
			config.HTTP.Port = configFile.HTTP.Port
		}
		if configFile.HTTP.Host != "" {
			config.HTTP.Host = configFile.HTTP.Host
		}
		if configFile.HTTP.ReadTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.HTTP.ReadTimeout); err == nil {
				config.HTTP.ReadTimeout = timeout
			}
		}
		if configFile.HTTP.WriteTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.HTTP.WriteTimeout); err == nil {
				config.HTTP.WriteTimeout = timeout
			}
		}
	}

	if configFile.WebSocket != nil {
		if configFile.WebSocket.BufferSize > 0 {
			config.WebSocket.BufferSize = configFile.WebSocket.BufferSize
		}
		if configFile.WebSocket.PingInterval != "" {
			if interval, err := time.ParseDuration(configFile.WebSocket.PingInterval); err == nil {
				config.WebSocket.PingInterval = interval
			}
		}
		if configFile.WebSocket.ReadTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.WebSocket.ReadTimeout); err == nil {
				config.WebSocket.ReadTimeout = timeout
			}
		}
		if configFile.WebSocket.WriteTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.WebSocket.WriteTimeout); err == nil {
				config.WebSocket.WriteTimeout = timeout
			}
		}
	}

	if configFile.Completion != nil {
		if configFile.Completion.BaseURL != "" {
			config.Completion.BaseURL = configFile.Completion.BaseURL
		}
		if configFile.Completion.Model != "" {
			config.Completion.Model = configFile.Completion.Model
		}
		if configFile.Completion.MaxTokens > 0 {
			config.Completion.MaxTokens = configFile.Completion.MaxTokens
		}
		if configFile.Completion.Temperature > 0 {
			config.Completion.Temperature = configFile.Completion.Temperature
		}
		if configFile.Completion.Timeout != "" {
			if timeout, err := time.ParseDuration(configFile.Completion.Timeout); err == nil {
				config.Completion.Timeout = timeout
			}
		}
	}

	if configFile.Turn != nil {
		if configFile.Turn.RateLimitPerMinute > 0 {
			config.Turn.RateLimitPerMinute = configFile.Turn.RateLimitPerMinute
		}
		if configFile.Turn.TurnTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.Turn.TurnTimeout); err == nil {
				config.Turn.TurnTimeout = timeout
			}
		}
		if configFile.Turn.IdleTTL != "" {
			if ttl, err := time.ParseDuration(configFile.Turn.IdleTTL); err == nil {
				config.Turn.IdleTTL = ttl
			}
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return config, nil
}

// LoadConfigWithPrecedence resolves the effective config: file over
// environment over defaults. A missing or broken file is not fatal.
func LoadConfigWithPrecedence(filepath string) *Config {
	config := LoadFromEnv()

	if filepath != "" {
		if fileConfig, err := LoadFromFile(filepath); err == nil {
			config = fileConfig
		}
	}

	return config
}
