package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// OutputFormat represents different output formats
type OutputFormat string

const (
	FormatPretty OutputFormat = "pretty"
	FormatJSON   OutputFormat = "json"
	FormatCSV    OutputFormat = "csv"
)

// LogLevel represents system logging verbosity
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Defaults shared by the CLI and MergeWithFileConfig.
const (
	DefaultTargetURL         = "https://example.com"
	DefaultOutputFile        = "traffic.log"
	DefaultDomain            = "rapid-cloud.co"
	DefaultMaxBodySize       = 1000
	DefaultNavigationTimeout = 30 * time.Second
	DefaultCommandTimeout    = 10 * time.Second
	DefaultProbeExpression   = "document.documentElement.outerHTML"
	DefaultSourcesPath       = "/getSources?id="
	DefaultSourcesField      = "sources"
)

// Config holds the application configuration
type Config struct {
	// Navigation
	TargetURL         string        `validate:"required,url"`
	NavigationTimeout time.Duration `validate:"gt=0"`

	// Browser
	CommandTimeout time.Duration `validate:"gt=0"` // bound on each DevTools command
	Headless       bool
	ChromePath     string
	UserAgent      string

	// Traffic filtering
	Domain       string `validate:"required_if=DomainFilter true"`
	DomainFilter bool   // false logs every URL
	MaxBodySize  int    `validate:"gte=0"` // 0 = unlimited

	// Secret tracking
	SourcesPath  string `validate:"required"`
	SourcesField string `validate:"required"`

	// Evaluation probe
	ProbeExpression string
	ProbeInterval   time.Duration `validate:"gte=0"`

	// DNS preflight
	Preflight bool
	DNSServer string `validate:"omitempty,hostname_port"`

	// Traffic logging and output
	OutputFile   string       `validate:"required"`
	OutputFormat OutputFormat `validate:"oneof=pretty json csv"`
	LogLevel     LogLevel     `validate:"oneof=debug info warn error"`
	LogFile      string       // System log file (rotated), separate from traffic
	Quiet        bool         // Suppress console output
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		TargetURL:         DefaultTargetURL,
		NavigationTimeout: DefaultNavigationTimeout,
		CommandTimeout:    DefaultCommandTimeout,
		Domain:            DefaultDomain,
		DomainFilter:      true,
		MaxBodySize:       DefaultMaxBodySize,
		SourcesPath:       DefaultSourcesPath,
		SourcesField:      DefaultSourcesField,
		ProbeExpression:   DefaultProbeExpression,
		Preflight:         true,
		OutputFile:        DefaultOutputFile,
		OutputFormat:      FormatPretty,
		LogLevel:          LogLevelInfo,
	}
}

// FileConfig represents the configuration file structure. Pointer fields
// distinguish "unset" from zero values. The same struct receives
// SOURCEWATCH_* environment overrides.
type FileConfig struct {
	// Navigation
	TargetURL         *string `json:"target_url,omitempty" yaml:"target_url,omitempty" env:"SOURCEWATCH_TARGET_URL"`
	NavigationTimeout *string `json:"navigation_timeout,omitempty" yaml:"navigation_timeout,omitempty" env:"SOURCEWATCH_NAVIGATION_TIMEOUT"`

	// Browser
	CommandTimeout *string `json:"command_timeout,omitempty" yaml:"command_timeout,omitempty" env:"SOURCEWATCH_COMMAND_TIMEOUT"`
	Headless       *bool   `json:"headless,omitempty" yaml:"headless,omitempty" env:"SOURCEWATCH_HEADLESS"`
	ChromePath     *string `json:"chrome_path,omitempty" yaml:"chrome_path,omitempty" env:"SOURCEWATCH_CHROME_PATH"`
	UserAgent      *string `json:"user_agent,omitempty" yaml:"user_agent,omitempty" env:"SOURCEWATCH_USER_AGENT"`

	// Traffic filtering
	Domain       *string `json:"domain,omitempty" yaml:"domain,omitempty" env:"SOURCEWATCH_DOMAIN"`
	DomainFilter *bool   `json:"domain_filter,omitempty" yaml:"domain_filter,omitempty" env:"SOURCEWATCH_DOMAIN_FILTER"`
	MaxBodySize  *int    `json:"max_body_size,omitempty" yaml:"max_body_size,omitempty" env:"SOURCEWATCH_MAX_BODY_SIZE"`

	// Secret tracking
	SourcesPath  *string `json:"sources_path,omitempty" yaml:"sources_path,omitempty" env:"SOURCEWATCH_SOURCES_PATH"`
	SourcesField *string `json:"sources_field,omitempty" yaml:"sources_field,omitempty" env:"SOURCEWATCH_SOURCES_FIELD"`

	// Evaluation probe
	ProbeExpression *string `json:"probe_expression,omitempty" yaml:"probe_expression,omitempty" env:"SOURCEWATCH_PROBE_EXPRESSION"`
	ProbeInterval   *string `json:"probe_interval,omitempty" yaml:"probe_interval,omitempty" env:"SOURCEWATCH_PROBE_INTERVAL"`

	// DNS preflight
	Preflight *bool   `json:"preflight,omitempty" yaml:"preflight,omitempty" env:"SOURCEWATCH_PREFLIGHT"`
	DNSServer *string `json:"dns_server,omitempty" yaml:"dns_server,omitempty" env:"SOURCEWATCH_DNS_SERVER"`

	// Traffic logging and output
	OutputFile   *string `json:"output_file,omitempty" yaml:"output_file,omitempty" env:"SOURCEWATCH_OUTPUT_FILE"`
	OutputFormat *string `json:"output_format,omitempty" yaml:"output_format,omitempty" env:"SOURCEWATCH_OUTPUT_FORMAT"`
	LogLevel     *string `json:"log_level,omitempty" yaml:"log_level,omitempty" env:"SOURCEWATCH_LOG_LEVEL"`
	LogFile      *string `json:"log_file,omitempty" yaml:"log_file,omitempty" env:"SOURCEWATCH_LOG_FILE"`
	Quiet        *bool   `json:"quiet,omitempty" yaml:"quiet,omitempty" env:"SOURCEWATCH_QUIET"`
}

// GetConfigDir returns the configuration directory following the XDG base directory layout
func GetConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "sourcewatch")
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".config", "sourcewatch")
	}

	return ".sourcewatch"
}

// GetDefaultConfigPath returns the default configuration file path
func GetDefaultConfigPath() string {
	return filepath.Join(GetConfigDir(), "config.json")
}

// LoadConfigFile loads configuration from a JSON or YAML file. A missing
// file yields an empty configuration.
func LoadConfigFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &FileConfig{}, nil
		}
		return nil, err
	}

	var fc FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	default:
		err = json.Unmarshal(data, &fc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return &fc, nil
}

// ApplyEnv overlays SOURCEWATCH_* environment variables onto the file
// configuration. Variables that are not set leave the field untouched.
func (fc *FileConfig) ApplyEnv() error {
	// env descends into non-nil pointers, so parse into an empty value.
	var fromEnv FileConfig
	if err := env.Parse(&fromEnv); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	fc.overlay(&fromEnv)
	return nil
}

// overlay copies every field set in o over fc.
func (fc *FileConfig) overlay(o *FileConfig) {
	override(&fc.TargetURL, o.TargetURL)
	override(&fc.NavigationTimeout, o.NavigationTimeout)
	override(&fc.CommandTimeout, o.CommandTimeout)
	override(&fc.Headless, o.Headless)
	override(&fc.ChromePath, o.ChromePath)
	override(&fc.UserAgent, o.UserAgent)
	override(&fc.Domain, o.Domain)
	override(&fc.DomainFilter, o.DomainFilter)
	override(&fc.MaxBodySize, o.MaxBodySize)
	override(&fc.SourcesPath, o.SourcesPath)
	override(&fc.SourcesField, o.SourcesField)
	override(&fc.ProbeExpression, o.ProbeExpression)
	override(&fc.ProbeInterval, o.ProbeInterval)
	override(&fc.Preflight, o.Preflight)
	override(&fc.DNSServer, o.DNSServer)
	override(&fc.OutputFile, o.OutputFile)
	override(&fc.OutputFormat, o.OutputFormat)
	override(&fc.LogLevel, o.LogLevel)
	override(&fc.LogFile, o.LogFile)
	override(&fc.Quiet, o.Quiet)
}

func override[T any](dst **T, src *T) {
	if src != nil {
		*dst = src
	}
}

// MergeWithFileConfig merges file configuration into c. Fields named in
// explicit were set on the command line and take precedence.
func (c *Config) MergeWithFileConfig(fc *FileConfig, explicit map[string]bool) error {
	setString := func(name string, dst *string, src *string) {
		if src != nil && !explicit[name] {
			*dst = *src
		}
	}
	setBool := func(name string, dst *bool, src *bool) {
		if src != nil && !explicit[name] {
			*dst = *src
		}
	}
	setDuration := func(name string, dst *time.Duration, src *string) error {
		if src == nil || explicit[name] {
			return nil
		}
		d, err := time.ParseDuration(*src)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, *src, err)
		}
		*dst = d
		return nil
	}

	setString("url", &c.TargetURL, fc.TargetURL)
	if err := setDuration("navigation-timeout", &c.NavigationTimeout, fc.NavigationTimeout); err != nil {
		return err
	}

	if err := setDuration("command-timeout", &c.CommandTimeout, fc.CommandTimeout); err != nil {
		return err
	}
	setBool("headless", &c.Headless, fc.Headless)
	setString("chrome-path", &c.ChromePath, fc.ChromePath)
	setString("user-agent", &c.UserAgent, fc.UserAgent)

	setString("domain", &c.Domain, fc.Domain)
	if fc.DomainFilter != nil && !explicit["all"] {
		c.DomainFilter = *fc.DomainFilter
	}
	if fc.MaxBodySize != nil && !explicit["max-body-size"] {
		c.MaxBodySize = *fc.MaxBodySize
	}

	setString("sources-path", &c.SourcesPath, fc.SourcesPath)
	setString("sources-field", &c.SourcesField, fc.SourcesField)

	setString("probe-expression", &c.ProbeExpression, fc.ProbeExpression)
	if err := setDuration("probe-interval", &c.ProbeInterval, fc.ProbeInterval); err != nil {
		return err
	}

	if fc.Preflight != nil && !explicit["no-preflight"] {
		c.Preflight = *fc.Preflight
	}
	setString("dns-server", &c.DNSServer, fc.DNSServer)

	setString("output", &c.OutputFile, fc.OutputFile)
	if fc.OutputFormat != nil && !explicit["format"] {
		c.OutputFormat = OutputFormat(*fc.OutputFormat)
	}
	if fc.LogLevel != nil && !explicit["log-level"] && !explicit["verbose"] {
		c.LogLevel = LogLevel(*fc.LogLevel)
	}
	setString("log-file", &c.LogFile, fc.LogFile)
	setBool("quiet", &c.Quiet, fc.Quiet)

	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
