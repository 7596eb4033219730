package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

type Mail struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	// InsecureSkipVerify disables TLS certificate verification for the SMTP
	// connection. Only intended for test setups.
	InsecureSkipVerify bool `yaml:"insecureSkipVerify"`

	SenderAddress string `yaml:"senderAddress"`
	SenderName    string `yaml:"senderName"`

	// RetryCount and RetryBackoffMs tune the synchronous send retry loop.
	RetryCount     int `yaml:"retryCount"`
	RetryBackoffMs int `yaml:"retryBackoffMs"`

	// QueueSize bounds the asynchronous send queue.
	QueueSize int `yaml:"queueSize"`
}

type Templates struct {
	// Dir is the directory mail templates are loaded from.
	Dir string `yaml:"dir"`
}

type Server struct {
	ListenAddress string `yaml:"listenAddress"`
	Debug         bool   `yaml:"debug"`
	// AllowOrigins is the CORS allow-list applied in debug mode.
	AllowOrigins []string `yaml:"allowOrigins"`
}

type Outbox struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"groupID"`

	TLS  OutboxTLS  `yaml:"tls"`
	SASL OutboxSASL `yaml:"sasl"`
}

type OutboxTLS struct {
	Enabled            bool `yaml:"enabled"`
	InsecureSkipVerify bool `yaml:"insecureSkipVerify"`
}

type OutboxSASL struct {
	// Mechanism is one of "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512".
	Mechanism string `yaml:"mechanism"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

type Config struct {
	Mail      Mail      `yaml:"mail"`
	Templates Templates `yaml:"templates"`
	Server    Server    `yaml:"server"`
	Outbox    Outbox    `yaml:"outbox"`
}

// Load loads the mailtmpl configuration from a file path.
// If configPath is empty, defaults to "./mailtmpl.yaml".
// The config file path can also be overridden via the MAILTMPL_CONFIG_PATH
// environment variable.
func Load(configPath ...string) (Config, error) {
	var path string

	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	} else if env := os.Getenv("MAILTMPL_CONFIG_PATH"); env != "" {
		path = env
	} else {
		path = "./mailtmpl.yaml"
	}

	var config Config

	content, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("trying to open mailtmpl config file %s: %v", path, err)
	}

	err = yaml.Unmarshal(content, &config)
	if err != nil {
		return config, fmt.Errorf("error unmarshaling YAML %s: %v", path, err)
	}
	config.applyDefaults()
	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Templates.Dir == "" {
		c.Templates.Dir = "./templates"
	}
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = ":8080"
	}
	if c.Mail.Port == 0 {
		c.Mail.Port = 25
	}
}
