// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local runs against a demo model.
	Development Environment = "development"
	// Production is for evaluation runs.
	Production Environment = "production"
)

// EnvConfigPath names the environment variable Load reads.
const EnvConfigPath = "AVC_CONFIG"

// Config is the configuration shared by the AVC binaries.
type Config struct {
	Environment Environment `yaml:"environment" json:"environment"`

	Model     ModelConfig     `yaml:"model" json:"model"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Quota     QuotaConfig     `yaml:"quota" json:"quota"`
	Liveness  LivenessConfig  `yaml:"liveness" json:"liveness"`
	Client    ClientConfig    `yaml:"client" json:"client"`
	Evaluator EvaluatorConfig `yaml:"evaluator" json:"evaluator"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Input     InputConfig     `yaml:"input" json:"input"`
	Output    OutputConfig    `yaml:"output" json:"output"`
	Notify    NotifyConfig    `yaml:"notify" json:"notify"`
}

// ModelConfig locates the model server.
type ModelConfig struct {
	// Server is the host clients connect to. MODEL_SERVER.
	Server string `yaml:"server" json:"server"`

	// Port is both the port the model server listens on and the
	// port clients dial. MODEL_PORT.
	Port int `yaml:"port" json:"port"`

	// NumClasses is the number of classes predictions range over.
	NumClasses int `yaml:"num_classes" json:"num_classes"`
}

// ServerConfig configures the HTTP listener of the model server.
type ServerConfig struct {
	// Host is the interface to listen on. Empty means all.
	Host string `yaml:"host" json:"host"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// QuotaConfig sizes the prediction budget.
type QuotaConfig struct {
	// NumImages is the number of images in the evaluation run.
	// NUM_IMAGES.
	NumImages int64 `yaml:"num_images" json:"num_images"`

	// RequestsPerImage is the budget granted per image.
	RequestsPerImage int64 `yaml:"requests_per_image" json:"requests_per_image"`
}

// LivenessConfig configures client-silence detection.
type LivenessConfig struct {
	// Timeout is CS_INTERACTION_TIMEOUT.
	Timeout Duration `yaml:"timeout" json:"timeout"`

	// CheckInterval is CS_INTERACTION_CHECK_INTERVAL.
	CheckInterval Duration `yaml:"check_interval" json:"check_interval"`
}

// ClientConfig configures remote calls.
type ClientConfig struct {
	MaxRetries     int      `yaml:"max_retries" json:"max_retries"`
	BaseDelay      Duration `yaml:"base_delay" json:"base_delay"`
	AttemptTimeout Duration `yaml:"attempt_timeout" json:"attempt_timeout"`

	// AttackURL is the attack server probed by avc-probe. Optional.
	AttackURL string `yaml:"attack_url" json:"attack_url"`
}

// EvaluatorConfig holds the shared secret that exempts the
// evaluator's requests from the quota.
type EvaluatorConfig struct {
	// Secret is EVALUATOR_SECRET. Empty disables the exemption.
	Secret string `yaml:"secret" json:"secret"`
}

// LoggingConfig configures the log file.
type LoggingConfig struct {
	// File is LOG_FILE. Empty logs to stderr only.
	File string `yaml:"file" json:"file"`

	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" json:"level"`

	MaxSizeMB  int `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int `yaml:"max_backups" json:"max_backups"`
}

// InputConfig locates the evaluation images.
type InputConfig struct {
	// ImagePath is INPUT_IMG_PATH, the directory holding images.
	ImagePath string `yaml:"image_path" json:"image_path"`

	// CSVPath is INPUT_CSV_PATH, rows of "file name,label".
	CSVPath string `yaml:"csv_path" json:"csv_path"`
}

// OutputConfig configures adversarial storage.
type OutputConfig struct {
	// AdversarialPath is OUTPUT_ADVERSARIAL_PATH.
	AdversarialPath string `yaml:"adversarial_path" json:"adversarial_path"`

	// Compression is zstd, lz4, or none.
	Compression string `yaml:"compression" json:"compression"`
}

// NotifyConfig configures the notification webhook.
type NotifyConfig struct {
	// URL is NOTIFY_URL. Empty disables the webhook.
	URL string `yaml:"url" json:"url"`

	QueueSize int `yaml:"queue_size" json:"queue_size"`
}

// URL returns the model server root clients should use.
func (m ModelConfig) URL() string {
	return "http://" + net.JoinHostPort(m.Server, strconv.Itoa(m.Port))
}

// ListenAddress returns the address the model server binds.
func (c *Config) ListenAddress() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Model.Port))
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Environment: Development,
		Model: ModelConfig{
			Server:     "localhost",
			Port:       8989,
			NumClasses: 200,
		},
		Server: ServerConfig{
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Quota: QuotaConfig{
			NumImages:        100,
			RequestsPerImage: 1000,
		},
		Liveness: LivenessConfig{
			Timeout:       Duration(180 * time.Second),
			CheckInterval: Duration(5 * time.Second),
		},
		Client: ClientConfig{
			MaxRetries:     3,
			BaseDelay:      Duration(3 * time.Second),
			AttemptTimeout: Duration(30 * time.Second),
		},
		Logging: LoggingConfig{
			File:       "/tmp/avc_log.txt",
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
		Output: OutputConfig{
			AdversarialPath: "${HOME}/.cache/avc/adversarial",
			Compression:     "zstd",
		},
		Notify: NotifyConfig{
			QueueSize: 64,
		},
	}
}

// Load loads the file named by AVC_CONFIG, or the defaults when it is
// unset, then applies the process environment.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(EnvConfigPath))
}

// LoadFile loads configuration from path (defaults when path is
// empty), applies the environment-specific section, the process
// environment, and variable expansion, and validates the result.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnvironment(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.expandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadFile merges one configuration file into c. The base document
// is decoded first, then the section named by the resulting
// Environment is decoded on top of it.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch extension := strings.ToLower(filepath.Ext(path)); extension {
	case ".yaml", ".yml":
		var sections struct {
			Development yaml.Node `yaml:"development"`
			Production  yaml.Node `yaml:"production"`
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return err
		}
		if err := yaml.Unmarshal(data, &sections); err != nil {
			return err
		}
		section := &sections.Development
		if c.Environment == Production {
			section = &sections.Production
		}
		if section.Kind == 0 {
			return nil
		}
		if err := section.Decode(c); err != nil {
			return fmt.Errorf("%s section: %w", c.Environment, err)
		}
		return nil

	case ".json", ".jsonc":
		stripped := jsonc.ToJSON(data)
		var sections struct {
			Development json.RawMessage `json:"development"`
			Production  json.RawMessage `json:"production"`
		}
		if err := json.Unmarshal(stripped, c); err != nil {
			return err
		}
		if err := json.Unmarshal(stripped, &sections); err != nil {
			return err
		}
		section := sections.Development
		if c.Environment == Production {
			section = sections.Production
		}
		if len(section) == 0 {
			return nil
		}
		if err := json.Unmarshal(section, c); err != nil {
			return fmt.Errorf("%s section: %w", c.Environment, err)
		}
		return nil

	default:
		return fmt.Errorf("unsupported config file extension %q (want .yaml, .yml, .json, or .jsonc)", extension)
	}
}

// ApplyEnvironment overrides fields from environment variables. lookup
// is os.LookupEnv outside tests. A variable that is set but does not
// parse is an error naming the variable.
func (c *Config) ApplyEnvironment(lookup func(string) (string, bool)) error {
	var errs []error

	text := func(name string, target *string) {
		if value, ok := lookup(name); ok {
			*target = value
		}
	}
	integer := func(name string, target *int64) {
		value, ok := lookup(name)
		if !ok {
			return
		}
		// NUM_IMAGES has historically been written as a float.
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil || parsed != float64(int64(parsed)) {
			errs = append(errs, fmt.Errorf("%s=%q is not an integer", name, value))
			return
		}
		*target = int64(parsed)
	}
	duration := func(name string, target *Duration) {
		value, ok := lookup(name)
		if !ok {
			return
		}
		parsed, err := ParseDuration(strings.TrimSpace(value))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*target = parsed
	}

	port := int64(c.Model.Port)
	integer("MODEL_PORT", &port)
	c.Model.Port = int(port)
	text("MODEL_SERVER", &c.Model.Server)
	integer("NUM_IMAGES", &c.Quota.NumImages)
	duration("CS_INTERACTION_TIMEOUT", &c.Liveness.Timeout)
	duration("CS_INTERACTION_CHECK_INTERVAL", &c.Liveness.CheckInterval)
	text("EVALUATOR_SECRET", &c.Evaluator.Secret)
	text("LOG_FILE", &c.Logging.File)
	text("INPUT_IMG_PATH", &c.Input.ImagePath)
	text("INPUT_CSV_PATH", &c.Input.CSVPath)
	text("OUTPUT_ADVERSARIAL_PATH", &c.Output.AdversarialPath)
	text("NOTIFY_URL", &c.Notify.URL)

	return errors.Join(errs...)
}

// expandVariables expands ${VAR} and ${VAR:-default} in path fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Logging.File = expandVars(c.Logging.File, vars)
	c.Input.ImagePath = expandVars(c.Input.ImagePath, vars)
	c.Input.CSVPath = expandVars(c.Input.CSVPath, vars)
	c.Output.AdversarialPath = expandVars(c.Output.AdversarialPath, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Provided vars first, then the environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors, reporting all of them.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}
	if c.Model.Server == "" {
		errs = append(errs, fmt.Errorf("model.server is required"))
	}
	if c.Model.Port <= 0 || c.Model.Port > 65535 {
		errs = append(errs, fmt.Errorf("model.port must be in 1-65535, got %d", c.Model.Port))
	}
	if c.Model.NumClasses <= 0 {
		errs = append(errs, fmt.Errorf("model.num_classes must be positive"))
	}
	if c.Quota.NumImages <= 0 {
		errs = append(errs, fmt.Errorf("quota.num_images must be positive"))
	}
	if c.Quota.RequestsPerImage <= 0 {
		errs = append(errs, fmt.Errorf("quota.requests_per_image must be positive"))
	} else if c.Quota.NumImages > math.MaxInt64/c.Quota.RequestsPerImage {
		errs = append(errs, fmt.Errorf("quota.num_images × quota.requests_per_image overflows: %d × %d",
			c.Quota.NumImages, c.Quota.RequestsPerImage))
	}
	if c.Liveness.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("liveness.timeout must be positive"))
	}
	if c.Liveness.CheckInterval <= 0 {
		errs = append(errs, fmt.Errorf("liveness.check_interval must be positive"))
	}
	if c.Client.MaxRetries <= 0 {
		errs = append(errs, fmt.Errorf("client.max_retries must be positive"))
	}
	if c.Client.BaseDelay <= 0 {
		errs = append(errs, fmt.Errorf("client.base_delay must be positive"))
	}
	if c.Client.AttemptTimeout <= 0 {
		errs = append(errs, fmt.Errorf("client.attempt_timeout must be positive"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must be positive"))
	}

	levels := []string{"debug", "info", "warn", "error"}
	if !contains(levels, c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level must be one of: %v", levels))
	}
	compressions := []string{"zstd", "lz4", "none"}
	if !contains(compressions, c.Output.Compression) {
		errs = append(errs, fmt.Errorf("output.compression must be one of: %v", compressions))
	}
	if c.Notify.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("notify.queue_size must be positive"))
	}

	return errors.Join(errs...)
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
