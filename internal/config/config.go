package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries all runtime settings for the broker.
type Config struct {
	HTTP     *HTTPConfig
	Database *DatabaseConfig
	SMTP     *SMTPConfig
	Gemini   *GeminiConfig
	Log      *LogConfig
}

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig controls the archive store. An empty path disables
// archive persistence; transcripts are then only emailed.
type DatabaseConfig struct {
	Path string
}

// SMTPConfig controls the transcript digest delivery. Host or Password left
// empty disables sending.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

type LogConfig struct {
	Level string
	Env   string
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: &DatabaseConfig{
			Path: "./classrelay.db",
		},
		SMTP: &SMTPConfig{
			Port: 587,
			From: "classrelay@localhost",
		},
		Gemini: &GeminiConfig{
			Model: "gemini-2.5-flash",
		},
		Log: &LogConfig{
			Level: "info",
			Env:   "development",
		},
	}
}

// LoadFromEnv overlays environment variables onto the defaults.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()

	if host := os.Getenv("CLASSRELAY_HTTP_HOST"); host != "" {
		cfg.HTTP.Host = host
	}
	if port := os.Getenv("CLASSRELAY_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.HTTP.Port = p
		}
	}
	if readTimeout := os.Getenv("CLASSRELAY_HTTP_READ_TIMEOUT"); readTimeout != "" {
		if d, err := time.ParseDuration(readTimeout); err == nil {
			cfg.HTTP.ReadTimeout = d
		}
	}
	if writeTimeout := os.Getenv("CLASSRELAY_HTTP_WRITE_TIMEOUT"); writeTimeout != "" {
		if d, err := time.ParseDuration(writeTimeout); err == nil {
			cfg.HTTP.WriteTimeout = d
		}
	}

	if dbPath, ok := os.LookupEnv("CLASSRELAY_DATABASE_PATH"); ok {
		cfg.Database.Path = dbPath
	}

	if host := os.Getenv("CLASSRELAY_SMTP_HOST"); host != "" {
		cfg.SMTP.Host = host
	}
	if port := os.Getenv("CLASSRELAY_SMTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.SMTP.Port = p
		}
	}
	if username := os.Getenv("CLASSRELAY_SMTP_USERNAME"); username != "" {
		cfg.SMTP.Username = username
	}
	if password := os.Getenv("CLASSRELAY_SMTP_PASSWORD"); password != "" {
		cfg.SMTP.Password = password
	}
	if from := os.Getenv("CLASSRELAY_SMTP_FROM"); from != "" {
		cfg.SMTP.From = from
	}

	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		cfg.Gemini.APIKey = apiKey
	}
	if model := os.Getenv("CLASSRELAY_GEMINI_MODEL"); model != "" {
		cfg.Gemini.Model = model
	}

	if level := os.Getenv("CLASSRELAY_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if env := os.Getenv("CLASSRELAY_ENV"); env != "" {
		cfg.Log.Env = env
	}

	return cfg
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
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

	if c.SMTP == nil {
		return fmt.Errorf("SMTP configuration is required")
	}
	if c.SMTP.Host != "" {
		if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
			return fmt.Errorf("SMTP port must be between 1 and 65535")
		}
		if c.SMTP.From == "" {
			return fmt.Errorf("SMTP from address cannot be empty")
		}
	}

	if c.Gemini == nil {
		return fmt.Errorf("gemini configuration is required")
	}
	if c.Log == nil {
		return fmt.Errorf("log configuration is required")
	}

	return nil
}

// Addr returns the HTTP listen address.
func (c *HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
