package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/infofiscal/wsfe-harvester/internal/models"
	"github.com/infofiscal/wsfe-harvester/internal/wsaa"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// AFIP environments
const (
	EnvProduction   = "prod"
	EnvHomologation = "homo"
)

// Signer kinds
const (
	SignerOpenSSL = "openssl"
	SignerPKCS7   = "pkcs7"
)

var defaultEndpoints = map[string]struct{ wsaa, wsfe string }{
	EnvProduction: {
		wsaa: "https://wsaa.afip.gov.ar/ws/services/LoginCms",
		wsfe: "https://servicios1.afip.gov.ar/wsfev1/service.asmx",
	},
	EnvHomologation: {
		wsaa: "https://wsaahomo.afip.gov.ar/ws/services/LoginCms",
		wsfe: "https://wswhomo.afip.gov.ar/wsfev1/service.asmx",
	},
}

// Config holds all application configuration
type Config struct {
	AFIP     AFIPConfig     `mapstructure:"afip"`
	Harvest  HarvestConfig  `mapstructure:"harvest"`
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Export   ExportConfig   `mapstructure:"export"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// AFIPConfig holds WSAA/WSFE connection settings
type AFIPConfig struct {
	Environment  string        `mapstructure:"environment"`
	CUIT         string        `mapstructure:"cuit"`
	CertPath     string        `mapstructure:"cert_path"`
	KeyPath      string        `mapstructure:"key_path"`
	Signer       string        `mapstructure:"signer"`
	OpenSSLPath  string        `mapstructure:"openssl_path"`
	Service      string        `mapstructure:"service"`
	WSAAEndpoint string        `mapstructure:"wsaa_endpoint"`
	WSFEEndpoint string        `mapstructure:"wsfe_endpoint"`
	TicketTTL    time.Duration `mapstructure:"ticket_ttl"`
	ClockSkew    time.Duration `mapstructure:"clock_skew"`
	ExpiryMargin time.Duration `mapstructure:"expiry_margin"`
	HTTPTimeout  time.Duration `mapstructure:"http_timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

// HarvestConfig holds traversal defaults; CLI flags and API requests override them
type HarvestConfig struct {
	MaxConsecutiveMisses    int           `mapstructure:"max_consecutive_misses"`
	RequestPacing           time.Duration `mapstructure:"request_pacing"`
	Workers                 int           `mapstructure:"workers"`
	TransportErrorsAsMisses bool          `mapstructure:"transport_errors_as_misses"`
	SkipInactiveSalePoints  bool          `mapstructure:"skip_inactive_sale_points"`
	PollInterval            time.Duration `mapstructure:"poll_interval"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// ExportConfig holds artifact output settings
type ExportConfig struct {
	OutputDir string `mapstructure:"output_dir"`
	BaseName  string `mapstructure:"base_name"`

	// Attempts and RetryDelay bound export retries; afterwards the records
	// are dumped as JSON into SalvageDir (the system temp dir when empty)
	Attempts   int           `mapstructure:"attempts"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	SalvageDir string        `mapstructure:"salvage_dir"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load reads .env (if present), the optional YAML file at configPath and the
// environment, in increasing order of precedence
func Load(configPath string) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	bindEnvVars(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.applyEnvironment()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// AFIP defaults
	v.SetDefault("afip.environment", EnvProduction)
	v.SetDefault("afip.signer", SignerOpenSSL)
	v.SetDefault("afip.openssl_path", "openssl")
	v.SetDefault("afip.service", "wsfe")
	v.SetDefault("afip.ticket_ttl", wsaa.DefaultTicketTTL)
	v.SetDefault("afip.clock_skew", wsaa.DefaultClockSkew)
	v.SetDefault("afip.expiry_margin", models.DefaultExpiryMargin)
	v.SetDefault("afip.http_timeout", 30*time.Second)
	v.SetDefault("afip.max_attempts", 3)

	// Harvest defaults
	v.SetDefault("harvest.max_consecutive_misses", models.DefaultMaxConsecutiveMisses)
	v.SetDefault("harvest.request_pacing", models.DefaultRequestPacing)
	v.SetDefault("harvest.workers", models.DefaultWorkers)
	v.SetDefault("harvest.transport_errors_as_misses", true)
	v.SetDefault("harvest.skip_inactive_sale_points", false)
	v.SetDefault("harvest.poll_interval", 5*time.Second)

	// Database defaults
	v.SetDefault("database.path", "data/harvester.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", 0)

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	// Export defaults
	v.SetDefault("export.output_dir", "runs")
	v.SetDefault("export.base_name", "afip_extract")
	v.SetDefault("export.attempts", 3)
	v.SetDefault("export.retry_delay", "500ms")
	v.SetDefault("export.salvage_dir", "")

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "console")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars(v *viper.Viper) {
	v.BindEnv("afip.environment", "AFIP_ENV")
	v.BindEnv("afip.cuit", "AFIP_CUIT")
	v.BindEnv("afip.cert_path", "AFIP_CERT_PATH")
	v.BindEnv("afip.key_path", "AFIP_KEY_PATH")
	v.BindEnv("afip.signer", "AFIP_SIGNER")
	v.BindEnv("afip.openssl_path", "OPENSSL_PATH")
	v.BindEnv("afip.wsaa_endpoint", "AFIP_WSAA_URL")
	v.BindEnv("afip.wsfe_endpoint", "AFIP_WSFE_URL")
	v.BindEnv("database.path", "HARVEST_DB_PATH")
	v.BindEnv("export.output_dir", "HARVEST_OUTPUT_DIR")
	v.BindEnv("server.port", "HARVEST_PORT")
	v.BindEnv("logger.level", "LOG_LEVEL")
	v.BindEnv("logger.format", "LOG_FORMAT")
}

// applyEnvironment fills endpoints that were not set explicitly
func (c *Config) applyEnvironment() {
	c.AFIP.Environment = strings.ToLower(strings.TrimSpace(c.AFIP.Environment))
	c.AFIP.Signer = strings.ToLower(strings.TrimSpace(c.AFIP.Signer))
	endpoints, ok := defaultEndpoints[c.AFIP.Environment]
	if !ok {
		return
	}
	if c.AFIP.WSAAEndpoint == "" {
		c.AFIP.WSAAEndpoint = endpoints.wsaa
	}
	if c.AFIP.WSFEEndpoint == "" {
		c.AFIP.WSFEEndpoint = endpoints.wsfe
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if _, ok := defaultEndpoints[c.AFIP.Environment]; !ok {
		return fmt.Errorf("afip.environment must be %q or %q, got %q",
			EnvProduction, EnvHomologation, c.AFIP.Environment)
	}
	if _, err := c.Cuit(); err != nil {
		return fmt.Errorf("afip.cuit: %w", err)
	}
	if c.AFIP.CertPath == "" {
		return fmt.Errorf("afip.cert_path is required")
	}
	if c.AFIP.KeyPath == "" {
		return fmt.Errorf("afip.key_path is required")
	}
	if c.AFIP.Signer != SignerOpenSSL && c.AFIP.Signer != SignerPKCS7 {
		return fmt.Errorf("afip.signer must be %q or %q, got %q", SignerOpenSSL, SignerPKCS7, c.AFIP.Signer)
	}
	if c.AFIP.MaxAttempts < 1 {
		return fmt.Errorf("afip.max_attempts must be at least 1")
	}
	if c.Harvest.MaxConsecutiveMisses < 1 {
		return fmt.Errorf("harvest.max_consecutive_misses must be at least 1")
	}
	if c.Harvest.Workers < 1 {
		return fmt.Errorf("harvest.workers must be at least 1")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	return nil
}

// Cuit returns the validated taxpayer id
func (c *Config) Cuit() (int64, error) {
	if c.AFIP.CUIT == "" {
		return 0, errors.New("is required")
	}
	return models.ParseCUIT(c.AFIP.CUIT)
}

// HarvestDefaults builds a harvest config for [from, to] from the configured defaults
func (c *Config) HarvestDefaults(from, to time.Time) models.HarvestConfig {
	hc := models.NewHarvestConfig(from, to)
	hc.MaxConsecutiveMisses = c.Harvest.MaxConsecutiveMisses
	hc.RequestPacing = c.Harvest.RequestPacing
	hc.Workers = c.Harvest.Workers
	hc.TransportErrorsAsMisses = c.Harvest.TransportErrorsAsMisses
	hc.SkipInactiveSalePoints = c.Harvest.SkipInactiveSalePoints
	return hc
}
