package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Airtable  AirtableConfig  `yaml:"airtable"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Export    ExportConfig    `yaml:"export"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Mail      MailConfig      `yaml:"mail"`
	Mailer    MailerConfig    `yaml:"mailer"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RedisConfig holds the result cache connection configuration
type RedisConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int  `yaml:"prefetch_count"`
	AutoAck       bool `yaml:"auto_ack"`
	Exclusive     bool `yaml:"exclusive"`
}

// AirtableConfig holds the upstream record API configuration
type AirtableConfig struct {
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	RequestsPerSecond int           `yaml:"requests_per_second"`
	Timeout           time.Duration `yaml:"timeout"`
}

// WorkspaceConfig holds the directory service credentials. The private
// key is the PEM-encoded service account key; AdminEmail is the
// directory administrator the service account impersonates.
type WorkspaceConfig struct {
	ClientEmail   string        `yaml:"client_email"`
	PrivateKeyID  string        `yaml:"private_key_id"`
	PrivateKeyPEM string        `yaml:"private_key_pem"`
	TokenURI      string        `yaml:"token_uri"`
	DirectoryURL  string        `yaml:"directory_url"`
	AdminEmail    string        `yaml:"admin_email"`
	Timeout       time.Duration `yaml:"timeout"`
}

// ExportConfig holds export reconciler settings
type ExportConfig struct {
	EmailDomain   string        `yaml:"email_domain"`
	ThrottleEvery int           `yaml:"throttle_every"`
	ThrottlePause time.Duration `yaml:"throttle_pause"`
}

// JobsConfig holds job runner settings
type JobsConfig struct {
	RunTimeout time.Duration `yaml:"run_timeout"`
}

// MailConfig holds the outbound mail provider settings
type MailConfig struct {
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	FromEmail string        `yaml:"from_email"`
	FromName  string        `yaml:"from_name"`
	Timeout   time.Duration `yaml:"timeout"`
}

// MailerConfig holds mailer worker settings
type MailerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	SendTimeout     time.Duration `yaml:"send_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// Load reads and parses the configuration file. Secrets can be left out
// of the file and supplied through the environment instead.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnvOverrides()

	return &config, nil
}

func (c *Config) applyEnvOverrides() {
	overrides := []struct {
		env  string
		dest *string
	}{
		{"DATABASE_PASSWORD", &c.Database.Password},
		{"REDIS_PASSWORD", &c.Redis.Password},
		{"RABBITMQ_PASSWORD", &c.RabbitMQ.Password},
		{"AIRTABLE_API_KEY", &c.Airtable.APIKey},
		{"WORKSPACE_CLIENT_EMAIL", &c.Workspace.ClientEmail},
		{"WORKSPACE_PRIVATE_KEY_ID", &c.Workspace.PrivateKeyID},
		{"WORKSPACE_PRIVATE_KEY_PEM", &c.Workspace.PrivateKeyPEM},
		{"MAIL_API_KEY", &c.Mail.APIKey},
	}

	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dest = v
		}
	}
}

// ValidateAPIConfig checks the configuration the API service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.Redis.Host == "" {
		return fmt.Errorf("redis host is required")
	}

	if c.Redis.Port < MinPort || c.Redis.Port > MaxPort {
		return fmt.Errorf("invalid redis port: %d (must be between %d and %d)", c.Redis.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	if c.Airtable.APIKey == "" {
		return fmt.Errorf("airtable api key is required")
	}

	if c.Workspace.ClientEmail == "" {
		return fmt.Errorf("workspace client email is required")
	}

	if c.Workspace.PrivateKeyPEM == "" {
		return fmt.Errorf("workspace private key is required")
	}

	if c.Workspace.AdminEmail == "" {
		return fmt.Errorf("workspace admin email is required")
	}

	if c.Export.EmailDomain == "" {
		return fmt.Errorf("export email domain is required")
	}

	return nil
}

// ValidateMailerConfig checks the configuration the mailer service needs
func (c *Config) ValidateMailerConfig() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	if c.Mail.APIKey == "" {
		return fmt.Errorf("mail api key is required")
	}

	if c.Mail.FromEmail == "" {
		return fmt.Errorf("mail from address is required")
	}

	if c.Mailer.Concurrency <= 0 {
		return fmt.Errorf("mailer concurrency must be greater than 0")
	}

	if c.Mailer.SendTimeout <= 0 {
		return fmt.Errorf("mailer send_timeout must be greater than 0")
	}

	if c.Mailer.ShutdownTimeout <= 0 {
		return fmt.Errorf("mailer shutdown_timeout must be greater than 0")
	}

	return nil
}
